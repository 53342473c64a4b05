package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestDebitAndBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	s.Provision("alice", 100)

	bal, err := s.Debit(ctx, "alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if bal != 99 {
		t.Fatalf("expected balance 99, got %d", bal)
	}

	got, err := s.Balance(ctx, "alice")
	if err != nil || got != 99 {
		t.Fatalf("unexpected balance: %d, %v", got, err)
	}
}

func TestDebitInsufficientCredits(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	s.Provision("bob", 0)

	if _, err := s.Debit(ctx, "bob", 1); err != ErrInsufficientCredits {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if bal, _ := s.Balance(ctx, "bob"); bal != 0 {
		t.Fatalf("failed debit must not change balance, got %d", bal)
	}
}

func TestDebitUnknownUser(t *testing.T) {
	s := NewInMemory()
	if _, err := s.Debit(context.Background(), "ghost", 1); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreditTopUp(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	s.Provision("alice", 1)

	bal, err := s.Credit(ctx, "alice", 10)
	if err != nil || bal != 11 {
		t.Fatalf("unexpected top-up result: %d, %v", bal, err)
	}
	if _, err := s.Credit(ctx, "alice", 0); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestProvisionDoesNotResetBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	s.Provision("alice", 10)
	if _, err := s.Debit(ctx, "alice", 4); err != nil {
		t.Fatal(err)
	}
	s.Provision("alice", 10)
	if bal, _ := s.Balance(ctx, "alice"); bal != 6 {
		t.Fatalf("re-provision must not reset balance, got %d", bal)
	}
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	const initial = 25
	s.Provision("alice", initial)

	var successes atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Debit(ctx, "alice", 1); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != initial {
		t.Fatalf("expected exactly %d successful debits, got %d", initial, successes.Load())
	}
	if bal, _ := s.Balance(ctx, "alice"); bal != 0 {
		t.Fatalf("expected balance 0, got %d", bal)
	}
}

func TestConcurrentDebitBalanceOfOne(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	s.Provision("alice", 1)

	var successes atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Debit(ctx, "alice", 1); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	// Two concurrent commands must not both pass a check against balance 1.
	if successes.Load() != 1 {
		t.Fatalf("expected exactly one successful debit, got %d", successes.Load())
	}
	if bal, _ := s.Balance(ctx, "alice"); bal != 0 {
		t.Fatalf("balance must never go negative, got %d", bal)
	}
}
