// Package rules holds the ordered set of authorization rules and decides
// which rule, if any, governs a command.
package rules

import (
	"context"
	"regexp"
	"sync"
	"time"
)

// Action is the outcome a rule mandates for commands it matches.
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionReject Action = "REJECT"
)

// ParseAction validates a wire-level action string.
func ParseAction(raw string) (Action, bool) {
	switch Action(raw) {
	case ActionAllow, ActionReject:
		return Action(raw), true
	}
	return "", false
}

// Rule is one immutable policy clause. The id doubles as the evaluation
// priority: lower ids are consulted first. There is no edit operation;
// changing a rule means delete and recreate.
type Rule struct {
	ID        int64     `json:"id"`
	Pattern   string    `json:"pattern"`
	Action    Action    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is the result of evaluating a command against the rule set.
type Outcome struct {
	Matched bool
	Action  Action
	Rule    Rule
}

// Store provides ordered rule evaluation and CRUD. Implementations must give
// Evaluate a consistent snapshot of the full ordered rule set, never a
// partially updated one.
type Store interface {
	// Add validates the pattern, runs conflict detection when testString is
	// non-empty, assigns the next id and appends the rule.
	Add(ctx context.Context, pattern string, action Action, testString string) (Rule, error)
	// List returns all rules in ascending id order, which is the load-bearing
	// evaluation order.
	List(ctx context.Context) ([]Rule, error)
	// Delete removes the rule with the given id. Deleting an absent id is a
	// no-op, not an error.
	Delete(ctx context.Context, id int64) error
	// Evaluate returns the first rule whose pattern matches the command text.
	Evaluate(ctx context.Context, commandText string) (Outcome, error)
}

// Compile validates and compiles a rule pattern. Patterns use search
// semantics: they match anywhere in the command unless anchored with ^/$.
func Compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &InvalidPatternError{Pattern: pattern, Err: err}
	}
	return re, nil
}

// Match evaluates commandText against rules in the order given, first match
// wins. Rules are expected to be sorted by ascending id and to have been
// validated at creation time.
func Match(rs []Rule, commandText string) (Outcome, error) {
	for _, r := range rs {
		re, err := Compile(r.Pattern)
		if err != nil {
			return Outcome{}, err
		}
		if re.MatchString(commandText) {
			return Outcome{Matched: true, Action: r.Action, Rule: r}, nil
		}
	}
	return Outcome{}, nil
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// InMemory implements Store with in-process concurrency safety. Reads vastly
// outnumber writes: Evaluate and List take a read lock so concurrent
// evaluations never block each other, while Add and Delete take the write
// lock for the whole validate-check-insert sequence.
type InMemory struct {
	mu     sync.RWMutex
	rules  []compiledRule
	nextID int64
}

// NewInMemory creates an empty rule store.
func NewInMemory() *InMemory {
	return &InMemory{nextID: 1}
}

func (s *InMemory) Add(ctx context.Context, pattern string, action Action, testString string) (Rule, error) {
	re, err := Compile(pattern)
	if err != nil {
		return Rule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rules {
		if existing.Pattern == pattern {
			return Rule{}, &DuplicateRuleError{RuleID: existing.ID, Action: existing.Action}
		}
	}
	if testString != "" {
		if err := checkConflict(s.snapshotLocked(), re, action, testString); err != nil {
			return Rule{}, err
		}
	}

	r := Rule{
		ID:        s.nextID,
		Pattern:   pattern,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
	s.nextID++
	s.rules = append(s.rules, compiledRule{Rule: r, re: re})
	return r, nil
}

func (s *InMemory) List(ctx context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

func (s *InMemory) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *InMemory) Evaluate(ctx context.Context, commandText string) (Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.re.MatchString(commandText) {
			return Outcome{Matched: true, Action: r.Action, Rule: r.Rule}, nil
		}
	}
	return Outcome{}, nil
}

// snapshotLocked copies the rule list; callers hold at least the read lock.
func (s *InMemory) snapshotLocked() []Rule {
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Rule)
	}
	return out
}
