package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"cmdgate.io/internal/ids"
)

// UserStore resolves caller identities. The gateway is handed a pre-existing
// API key to user mapping; key issuance mechanics live elsewhere.
type UserStore interface {
	FindByAPIKey(ctx context.Context, apiKey string) (*User, error)
	Find(ctx context.Context, id string) (*User, error)
}

// InMemory is a UserStore backed by process memory, used when no database is
// configured and in tests.
type InMemory struct {
	mu    sync.RWMutex
	byKey map[string]*User
	byID  map[string]*User
}

// NewInMemory creates an empty user store.
func NewInMemory() *InMemory {
	return &InMemory{
		byKey: make(map[string]*User),
		byID:  make(map[string]*User),
	}
}

// Provision registers a user under the given API key and returns it. The id
// is assigned here; callers supply identity attributes only.
func (s *InMemory) Provision(username, apiKey, role string) *User {
	u := &User{
		ID:        ids.New(),
		Username:  strings.TrimSpace(username),
		Role:      role,
		APIKey:    strings.TrimSpace(apiKey),
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.byKey[u.APIKey] = u
	s.byID[u.ID] = u
	s.mu.Unlock()
	return u
}

func (s *InMemory) FindByAPIKey(ctx context.Context, apiKey string) (*User, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrUnauthorized
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byKey[apiKey]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}
