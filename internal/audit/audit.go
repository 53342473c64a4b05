// Package audit keeps the append-only record of authorization decisions.
// Entries are the gateway's compliance trail: written exactly once per
// terminal pipeline outcome and never edited or deleted afterwards.
package audit

import (
	"context"
	"sync"
	"time"

	"cmdgate.io/internal/ids"
)

// Status is a terminal authorization outcome.
type Status string

const (
	StatusExecuted          Status = "EXECUTED"
	StatusRejected          Status = "REJECTED"
	StatusRejectedNoCredits Status = "REJECTED_NO_CREDITS"
)

// Entry is one immutable decision record.
type Entry struct {
	ID          string    `json:"id"`
	Sequence    uint64    `json:"sequence"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
	CommandText string    `json:"command_text"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"timestamp"`
	// ResultingBalance is set only when a debit occurred.
	ResultingBalance *int64 `json:"resulting_balance,omitempty"`
}

// Filter selects entries by outcome class.
type Filter string

const (
	FilterAll      Filter = "ALL"
	FilterExecuted Filter = "EXECUTED"
	// FilterRejectedAny matches both REJECTED and REJECTED_NO_CREDITS.
	FilterRejectedAny Filter = "REJECTED_ANY"
)

// Order selects the scan direction.
type Order string

const (
	OrderNewestFirst Order = "desc"
	OrderOldestFirst Order = "asc"
)

// Query bounds a scan over the log.
type Query struct {
	Filter Filter
	Order  Order
	Limit  int
}

func (f Filter) matches(s Status) bool {
	switch f {
	case FilterExecuted:
		return s == StatusExecuted
	case FilterRejectedAny:
		return s == StatusRejected || s == StatusRejectedNoCredits
	default:
		return true
	}
}

// Log is the append-only decision store.
type Log interface {
	// Append assigns the entry id, sequence and timestamp, then stores it.
	Append(ctx context.Context, e *Entry) error
	// List scans entries matching the query; append order defines the
	// underlying sequence.
	List(ctx context.Context, q Query) ([]Entry, error)
}

// InMemory implements Log over a process-local slice. Append is the only
// mutation; it is O(1) amortized under a single mutex.
type InMemory struct {
	mu      sync.Mutex
	entries []Entry
	seq     uint64
}

// NewInMemory creates an empty audit log.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (l *InMemory) Append(ctx context.Context, e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	e.ID = ids.New()
	e.Sequence = l.seq
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	l.entries = append(l.entries, *e)
	return nil
}

func (l *InMemory) List(ctx context.Context, q Query) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	if q.Order == OrderOldestFirst {
		for _, e := range l.entries {
			if !q.Filter.matches(e.Status) {
				continue
			}
			out = append(out, e)
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
		return out, nil
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if !q.Filter.matches(e.Status) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}
