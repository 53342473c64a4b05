package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPattern rejects rules with no pattern at the store boundary.
	ErrEmptyPattern = errors.New("rules: pattern is empty")

	// ErrInvalidTestExample reports a usage error: the caller supplied a test
	// string as a motivating example, but the candidate pattern itself does
	// not match it.
	ErrInvalidTestExample = errors.New("rules: test string does not match the candidate pattern")
)

// InvalidPatternError reports a pattern that failed to compile.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// DuplicateRuleError reports that the exact pattern is already installed.
type DuplicateRuleError struct {
	RuleID int64
	Action Action
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("rule already exists: rule #%d is set to %s", e.RuleID, e.Action)
}

// ShadowConflictError reports that an existing rule already resolves the test
// example to the opposite action, so the candidate could never take effect
// for it.
type ShadowConflictError struct {
	RuleID     int64
	Pattern    string
	Action     Action
	TestString string
}

func (e *ShadowConflictError) Error() string {
	return fmt.Sprintf("shadow conflict: %q is already captured by rule #%d (%q), which is set to %s",
		e.TestString, e.RuleID, e.Pattern, e.Action)
}
