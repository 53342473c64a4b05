package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"cmdgate.io/internal/obs"
)

func appendEntry(t *testing.T, l *InMemory, status Status) Entry {
	t.Helper()
	e := Entry{
		UserID:      "user-1",
		Username:    "alice",
		Role:        "member",
		CommandText: "ls -la",
		Status:      status,
	}
	if err := l.Append(context.Background(), &e); err != nil {
		t.Fatalf("append: %v", err)
	}
	return e
}

func TestAppendAssignsSequenceAndID(t *testing.T) {
	l := NewInMemory()
	e1 := appendEntry(t, l, StatusExecuted)
	e2 := appendEntry(t, l, StatusRejected)

	if e1.ID == "" || e2.ID == "" || e1.ID == e2.ID {
		t.Fatalf("expected distinct ids, got %q and %q", e1.ID, e2.ID)
	}
	if e2.Sequence != e1.Sequence+1 {
		t.Fatalf("sequence not monotonic: %d then %d", e1.Sequence, e2.Sequence)
	}
	if e1.CreatedAt.IsZero() {
		t.Fatal("timestamp not assigned")
	}
}

func TestListFilters(t *testing.T) {
	l := NewInMemory()
	appendEntry(t, l, StatusExecuted)
	appendEntry(t, l, StatusRejected)
	appendEntry(t, l, StatusRejectedNoCredits)
	appendEntry(t, l, StatusExecuted)

	ctx := context.Background()

	all, err := l.List(ctx, Query{Filter: FilterAll})
	if err != nil || len(all) != 4 {
		t.Fatalf("expected 4 entries, got %d (%v)", len(all), err)
	}

	executed, _ := l.List(ctx, Query{Filter: FilterExecuted})
	if len(executed) != 2 {
		t.Fatalf("expected 2 executed, got %d", len(executed))
	}

	rejected, _ := l.List(ctx, Query{Filter: FilterRejectedAny})
	if len(rejected) != 2 {
		t.Fatalf("REJECTED_ANY should match both rejection statuses, got %d", len(rejected))
	}
	for _, e := range rejected {
		if e.Status != StatusRejected && e.Status != StatusRejectedNoCredits {
			t.Fatalf("unexpected status in rejected scan: %s", e.Status)
		}
	}
}

func TestListOrderAndLimit(t *testing.T) {
	l := NewInMemory()
	for i := 0; i < 5; i++ {
		appendEntry(t, l, StatusExecuted)
	}
	ctx := context.Background()

	newest, _ := l.List(ctx, Query{Order: OrderNewestFirst})
	if newest[0].Sequence != 5 || newest[4].Sequence != 1 {
		t.Fatalf("newest-first order wrong: %d..%d", newest[0].Sequence, newest[4].Sequence)
	}

	oldest, _ := l.List(ctx, Query{Order: OrderOldestFirst, Limit: 2})
	if len(oldest) != 2 || oldest[0].Sequence != 1 || oldest[1].Sequence != 2 {
		t.Fatalf("oldest-first limited scan wrong: %+v", oldest)
	}
}

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := WithRequestID(context.Background(), "req-123")
	if err := LogEvent(ctx, "gateway.decision", map[string]any{"status": "EXECUTED"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != "gateway.decision" {
		t.Fatalf("unexpected envelope: %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["status"] != "EXECUTED" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}
