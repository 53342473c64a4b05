package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cmdgate.io/internal/audit"
	"cmdgate.io/internal/auth"
	"cmdgate.io/internal/ledger"
	"cmdgate.io/internal/rules"
	"cmdgate.io/internal/stream"
)

type captureExecutor struct {
	mu   sync.Mutex
	runs []string
	done chan struct{}
}

func (e *captureExecutor) Execute(ctx context.Context, user *auth.User, commandText string) {
	e.mu.Lock()
	e.runs = append(e.runs, user.Username+":"+commandText)
	e.mu.Unlock()
	select {
	case e.done <- struct{}{}:
	default:
	}
}

type fixture struct {
	pipeline *Pipeline
	users    *auth.InMemory
	rules    *rules.InMemory
	credits  *ledger.InMemory
	log      *audit.InMemory
	exec     *captureExecutor
	alice    *auth.User
}

func newFixture(t *testing.T, credits int64, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		users:   auth.NewInMemory(),
		rules:   rules.NewInMemory(),
		credits: ledger.NewInMemory(),
		log:     audit.NewInMemory(),
		exec:    &captureExecutor{done: make(chan struct{}, 8)},
	}
	f.alice = f.users.Provision("alice", "alice-key", auth.RoleMember)
	f.credits.Provision(f.alice.ID, credits)
	opts = append([]Option{WithExecutor(f.exec)}, opts...)
	f.pipeline = New(f.users, f.rules, f.credits, f.log, opts...)
	return f
}

func (f *fixture) entries(t *testing.T) []audit.Entry {
	t.Helper()
	out, err := f.log.List(context.Background(), audit.Query{Order: audit.OrderOldestFirst})
	if err != nil {
		t.Fatalf("list audit log: %v", err)
	}
	return out
}

func TestSubmitUnknownKey(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.pipeline.Submit(context.Background(), "no-such-key", "ls")
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	// Failed identification never reaches the audit log.
	if got := f.entries(t); len(got) != 0 {
		t.Fatalf("expected empty audit log, got %d entries", len(got))
	}
	if bal, _ := f.credits.Balance(context.Background(), f.alice.ID); bal != 10 {
		t.Fatalf("balance changed: %d", bal)
	}
}

func TestRejectRuleShortCircuits(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	if _, err := f.rules.Add(ctx, "rm -rf", rules.ActionReject, ""); err != nil {
		t.Fatal(err)
	}

	d, err := f.pipeline.Submit(ctx, "alice-key", "rm -rf /")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != audit.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", d.Status)
	}
	if d.NewBalance != nil {
		t.Fatalf("rejection must not report a balance, got %d", *d.NewBalance)
	}
	if d.MatchedRule != "rm -rf" {
		t.Fatalf("matched rule = %q", d.MatchedRule)
	}
	if bal, _ := f.credits.Balance(ctx, f.alice.ID); bal != 10 {
		t.Fatalf("rejected command debited credits: balance %d", bal)
	}

	entries := f.entries(t)
	if len(entries) != 1 || entries[0].Status != audit.StatusRejected {
		t.Fatalf("expected one REJECTED entry, got %+v", entries)
	}
	if entries[0].ResultingBalance != nil {
		t.Fatalf("rejected entry carries a balance")
	}
}

func TestExecutedDebitsAndRunsExecutor(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	if _, err := f.rules.Add(ctx, `^ls -la$`, rules.ActionAllow, ""); err != nil {
		t.Fatal(err)
	}

	d, err := f.pipeline.Submit(ctx, "alice-key", "ls -la")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != audit.StatusExecuted {
		t.Fatalf("status = %s, want EXECUTED", d.Status)
	}
	if d.NewBalance == nil || *d.NewBalance != 2 {
		t.Fatalf("new balance = %v, want 2", d.NewBalance)
	}
	if d.MatchedRule != `^ls -la$` {
		t.Fatalf("matched rule = %q", d.MatchedRule)
	}

	select {
	case <-f.exec.done:
	case <-time.After(time.Second):
		t.Fatal("executor was not invoked")
	}
	f.exec.mu.Lock()
	defer f.exec.mu.Unlock()
	if len(f.exec.runs) != 1 || f.exec.runs[0] != "alice:ls -la" {
		t.Fatalf("executor runs = %v", f.exec.runs)
	}
}

func TestUnmatchedDefaultAllow(t *testing.T) {
	f := newFixture(t, 5)

	d, err := f.pipeline.Submit(context.Background(), "alice-key", "whoami")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != audit.StatusExecuted {
		t.Fatalf("status = %s, want EXECUTED under default-allow", d.Status)
	}
	if d.MatchedRule != "" {
		t.Fatalf("no rule should be reported, got %q", d.MatchedRule)
	}
}

func TestUnmatchedDefaultDeny(t *testing.T) {
	f := newFixture(t, 5, WithDefaultPolicy(PolicyDeny))
	ctx := context.Background()
	if _, err := f.rules.Add(ctx, `^git status`, rules.ActionAllow, ""); err != nil {
		t.Fatal(err)
	}

	d, err := f.pipeline.Submit(ctx, "alice-key", "whoami")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != audit.StatusRejected {
		t.Fatalf("status = %s, want REJECTED under default-deny", d.Status)
	}
	if bal, _ := f.credits.Balance(ctx, f.alice.ID); bal != 5 {
		t.Fatalf("balance changed: %d", bal)
	}

	// Allowed commands still pass.
	d, err = f.pipeline.Submit(ctx, "alice-key", "git status")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != audit.StatusExecuted {
		t.Fatalf("allowed command rejected: %s", d.Status)
	}
}

func TestInsufficientCredits(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	d, err := f.pipeline.Submit(ctx, "alice-key", "ls")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != audit.StatusExecuted || d.NewBalance == nil || *d.NewBalance != 0 {
		t.Fatalf("first submit: %+v", d)
	}

	d, err = f.pipeline.Submit(ctx, "alice-key", "ls")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != audit.StatusRejectedNoCredits {
		t.Fatalf("status = %s, want REJECTED_NO_CREDITS", d.Status)
	}
	if d.NewBalance != nil {
		t.Fatalf("credit rejection must not report a balance")
	}
	if bal, _ := f.credits.Balance(ctx, f.alice.ID); bal != 0 {
		t.Fatalf("balance = %d, want 0", bal)
	}

	entries := f.entries(t)
	if len(entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(entries))
	}
	if entries[0].Status != audit.StatusExecuted || entries[1].Status != audit.StatusRejectedNoCredits {
		t.Fatalf("audit statuses = %s, %s", entries[0].Status, entries[1].Status)
	}
	if entries[0].ResultingBalance == nil || *entries[0].ResultingBalance != 0 {
		t.Fatalf("executed entry should record the resulting balance")
	}
}

func TestAuditCompleteness(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	if _, err := f.rules.Add(ctx, "rm -rf", rules.ActionReject, ""); err != nil {
		t.Fatal(err)
	}

	submissions := []string{"ls", "rm -rf /", "pwd", "date"}
	for _, cmd := range submissions {
		if _, err := f.pipeline.Submit(ctx, "alice-key", cmd); err != nil {
			t.Fatalf("submit %q: %v", cmd, err)
		}
	}
	// One failed identification on top, which must not be logged.
	if _, err := f.pipeline.Submit(ctx, "bogus", "ls"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	entries := f.entries(t)
	if len(entries) != len(submissions) {
		t.Fatalf("audit entries = %d, want %d", len(entries), len(submissions))
	}
	want := []audit.Status{
		audit.StatusExecuted,
		audit.StatusRejected,
		audit.StatusExecuted,
		audit.StatusRejectedNoCredits,
	}
	for i, e := range entries {
		if e.Status != want[i] {
			t.Fatalf("entry %d status = %s, want %s", i, e.Status, want[i])
		}
		if e.CommandText != submissions[i] {
			t.Fatalf("entry %d command = %q, want %q", i, e.CommandText, submissions[i])
		}
		if e.Username != "alice" || e.UserID != f.alice.ID {
			t.Fatalf("entry %d attribution: %+v", i, e)
		}
	}
}

func TestDecisionsPublishedToStream(t *testing.T) {
	events := stream.New()
	f := newFixture(t, 5, WithStream(events))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := events.Subscribe(ctx)
	if _, err := f.pipeline.Submit(ctx, "alice-key", "uptime"); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Username != "alice" || evt.CommandText != "uptime" || evt.Status != audit.StatusExecuted {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}
