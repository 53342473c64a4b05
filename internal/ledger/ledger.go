// Package ledger owns per-user credit balances and gates command execution
// on available credit.
package ledger

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotFound            = errors.New("ledger: account not found")
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	ErrInvalidAmount       = errors.New("ledger: amount must be > 0")
)

// Service defines credit ledger operations. Debit is the only mutation the
// authorization pipeline performs; Credit is the administrative top-up that
// keeps the ledger usable over time.
type Service interface {
	Debit(ctx context.Context, userID string, amount int64) (int64, error)
	Credit(ctx context.Context, userID string, amount int64) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
}

type account struct {
	mu      sync.Mutex
	balance int64
}

// InMemory implements Service with per-user locking: the outer lock only
// guards the account map, so debits for different users never contend while
// check-and-decrement for one user stays a single critical section.
type InMemory struct {
	mu    sync.RWMutex
	accts map[string]*account
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{accts: make(map[string]*account)}
}

// Provision creates an account with an initial balance. Existing balances are
// left untouched so repeated bootstrap runs are harmless.
func (s *InMemory) Provision(userID string, initial int64) {
	if initial < 0 {
		initial = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accts[userID]; !ok {
		s.accts[userID] = &account{balance: initial}
	}
}

func (s *InMemory) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	acc, err := s.lookup(userID)
	if err != nil {
		return 0, err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	if acc.balance < amount {
		return acc.balance, ErrInsufficientCredits
	}
	acc.balance -= amount
	return acc.balance, nil
}

func (s *InMemory) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	acc, err := s.lookup(userID)
	if err != nil {
		return 0, err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.balance += amount
	return acc.balance, nil
}

func (s *InMemory) Balance(ctx context.Context, userID string) (int64, error) {
	acc, err := s.lookup(userID)
	if err != nil {
		return 0, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.balance, nil
}

func (s *InMemory) lookup(userID string) (*account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return acc, nil
}
