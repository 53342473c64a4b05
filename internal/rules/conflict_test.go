package rules

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestShadowConflictOppositeAction(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	a := mustAdd(t, s, "^ls", ActionAllow)

	_, err := s.Add(ctx, "^ls -la$", ActionReject, "ls -la")
	var conflict *ShadowConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ShadowConflictError, got %v", err)
	}
	if conflict.RuleID != a.ID || conflict.Pattern != "^ls" || conflict.Action != ActionAllow {
		t.Fatalf("conflict should name the shadowing rule: %+v", conflict)
	}
	if !strings.Contains(conflict.Error(), "#1") {
		t.Fatalf("message should identify the rule: %s", conflict.Error())
	}

	// Nothing may be half-inserted on conflict.
	list, _ := s.List(ctx)
	if len(list) != 1 {
		t.Fatalf("conflicting rule must not be inserted, got %d rules", len(list))
	}
}

func TestSameActionOverlapIsNotAConflict(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	mustAdd(t, s, "^git", ActionAllow)
	if _, err := s.Add(ctx, "^git push$", ActionAllow, "git push"); err != nil {
		t.Fatalf("same-action refinement should install: %v", err)
	}
}

func TestConflictCheckIsOptIn(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	mustAdd(t, s, "^ls", ActionAllow)
	// Without a test string the shadow check is skipped entirely.
	if _, err := s.Add(ctx, "^ls -la$", ActionReject, ""); err != nil {
		t.Fatalf("add without test string must skip conflict check: %v", err)
	}
}

func TestInvalidTestExample(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Add(ctx, "^git push$", ActionAllow, "docker ps"); !errors.Is(err, ErrInvalidTestExample) {
		t.Fatalf("expected ErrInvalidTestExample, got %v", err)
	}
}

func TestNoConflictWhenNoExistingMatch(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	mustAdd(t, s, "rm -rf", ActionReject)
	r, err := s.Add(ctx, "^git push$", ActionAllow, "git push")
	if err != nil {
		t.Fatalf("expected clean add, got %v", err)
	}
	if r.ID != 2 {
		t.Fatalf("expected next sequential id 2, got %d", r.ID)
	}
}

func TestCheckConflictStandalone(t *testing.T) {
	existing := []Rule{
		{ID: 7, Pattern: "^kubectl delete", Action: ActionReject},
	}
	err := CheckConflict(existing, "^kubectl delete pod [a-z-]+$", ActionAllow, "kubectl delete pod web-1")
	var conflict *ShadowConflictError
	if !errors.As(err, &conflict) || conflict.RuleID != 7 {
		t.Fatalf("expected conflict with rule #7, got %v", err)
	}

	if err := CheckConflict(existing, "^kubectl get", ActionAllow, "kubectl get pods"); err != nil {
		t.Fatalf("expected no conflict, got %v", err)
	}
}
