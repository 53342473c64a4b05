package rules

import "regexp"

// CheckConflict decides whether installing candidatePattern with
// candidateAction would silently contradict existing policy for testString.
// It is example-driven by design: regex containment is undecidable in
// general, so the check proves safety only for the one concrete example the
// caller supplies. Callers skip it entirely when no test string is given.
func CheckConflict(existing []Rule, candidatePattern string, candidateAction Action, testString string) error {
	re, err := Compile(candidatePattern)
	if err != nil {
		return err
	}
	return checkConflict(existing, re, candidateAction, testString)
}

func checkConflict(existing []Rule, candidate *regexp.Regexp, candidateAction Action, testString string) error {
	// The test string has to exercise the candidate; otherwise the caller is
	// checking the wrong example and any verdict would be meaningless.
	if !candidate.MatchString(testString) {
		return ErrInvalidTestExample
	}

	outcome, err := Match(existing, testString)
	if err != nil {
		return err
	}
	if outcome.Matched && outcome.Action != candidateAction {
		return &ShadowConflictError{
			RuleID:     outcome.Rule.ID,
			Pattern:    outcome.Rule.Pattern,
			Action:     outcome.Action,
			TestString: testString,
		}
	}
	// A same-action match is redundancy, not contradiction; it is allowed so
	// that narrower refinements of an existing rule can still be installed.
	return nil
}
