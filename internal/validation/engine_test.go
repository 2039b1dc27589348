package validation

import (
	"errors"
	"strings"
	"testing"
)

func positiveRule() Rule[int] {
	return NewRule("POSITIVE", func(n int) Result {
		if n <= 0 {
			return Invalid("value must be positive")
		}

		return Valid()
	})
}

func evenRule() Rule[int] {
	return NewRule("EVEN", func(n int) Result {
		if n%2 != 0 {
			return Invalid("value must be even")
		}

		return Valid()
	})
}

func belowRule(limit int) Rule[int] {
	return NewRule("BELOW_LIMIT", func(n int) Result {
		if n >= limit {
			return Invalid("value must be below limit")
		}

		return Valid()
	})
}

func TestRuleCombinators(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		rule      Rule[int]
		input     int
		wantValid bool
		wantMsgs  int
	}{
		{
			name:      "and passes when both pass",
			rule:      And(positiveRule(), evenRule()),
			input:     4,
			wantValid: true,
		},
		{
			name:      "and fails on first failure",
			rule:      And(positiveRule(), evenRule()),
			input:     -2,
			wantValid: false,
			wantMsgs:  1,
		},
		{
			name:      "and fails on second failure",
			rule:      And(positiveRule(), evenRule()),
			input:     3,
			wantValid: false,
			wantMsgs:  1,
		},
		{
			name:      "or passes when first passes",
			rule:      Or(positiveRule(), evenRule()),
			input:     3,
			wantValid: true,
		},
		{
			name:      "or passes when second passes",
			rule:      Or(positiveRule(), evenRule()),
			input:     -2,
			wantValid: true,
		},
		{
			name:      "or merges messages when both fail",
			rule:      Or(positiveRule(), evenRule()),
			input:     -3,
			wantValid: false,
			wantMsgs:  2,
		},
		{
			name:      "not inverts a failing rule",
			rule:      Not(positiveRule()),
			input:     -1,
			wantValid: true,
		},
		{
			name:      "not inverts a passing rule",
			rule:      Not(positiveRule()),
			input:     1,
			wantValid: false,
			wantMsgs:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.rule.Apply(tt.input)

			if result.IsValid() != tt.wantValid {
				t.Errorf("Apply(%d) valid = %v, want %v (errors: %v)", tt.input, result.IsValid(), tt.wantValid, result.Errors)
			}

			if !tt.wantValid && len(result.Errors) != tt.wantMsgs {
				t.Errorf("Apply(%d) returned %d messages, want %d: %v", tt.input, len(result.Errors), tt.wantMsgs, result.Errors)
			}
		})
	}
}

func TestCombinatorNames(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if got := And(positiveRule(), evenRule()).Name(); got != "(POSITIVE AND EVEN)" {
		t.Errorf("And name = %q", got)
	}

	if got := Or(positiveRule(), evenRule()).Name(); got != "(POSITIVE OR EVEN)" {
		t.Errorf("Or name = %q", got)
	}

	if got := Not(evenRule()).Name(); got != "(NOT EVEN)" {
		t.Errorf("Not name = %q", got)
	}
}

func TestEngineValidateAggregates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine := NewEngine(false, positiveRule(), evenRule(), belowRule(100))

	err := engine.Validate(-3)
	if err == nil {
		t.Fatal("Validate(-3) = nil, want error")
	}

	if !errors.Is(err, ErrValidationFailed) {
		t.Errorf("Validate(-3) error = %v, want ErrValidationFailed", err)
	}

	var ruleErr *RuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("Validate(-3) error type = %T, want *RuleError", err)
	}

	if len(ruleErr.Failures) != 2 {
		t.Fatalf("Failures = %d, want 2: %+v", len(ruleErr.Failures), ruleErr.Failures)
	}

	if ruleErr.Failures[0].Rule != "POSITIVE" || ruleErr.Failures[1].Rule != "EVEN" {
		t.Errorf("failure order = %s, %s; want POSITIVE, EVEN", ruleErr.Failures[0].Rule, ruleErr.Failures[1].Rule)
	}

	if msgs := ruleErr.Messages(); len(msgs) != 2 {
		t.Errorf("Messages() = %v, want 2 entries", msgs)
	}
}

func TestEngineValidateStopsOnFirstFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine := NewEngine(true, positiveRule(), evenRule(), belowRule(100))

	err := engine.Validate(-3)

	var ruleErr *RuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("Validate(-3) error type = %T, want *RuleError", err)
	}

	if len(ruleErr.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1: %+v", len(ruleErr.Failures), ruleErr.Failures)
	}

	if ruleErr.Failures[0].Rule != "POSITIVE" {
		t.Errorf("failed rule = %s, want POSITIVE", ruleErr.Failures[0].Rule)
	}
}

func TestEngineValidatePasses(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine := NewEngine(false, positiveRule(), evenRule(), belowRule(100))

	if err := engine.Validate(42); err != nil {
		t.Errorf("Validate(42) = %v, want nil", err)
	}

	empty := NewEngine[int](false)
	if err := empty.Validate(-3); err != nil {
		t.Errorf("empty engine Validate(-3) = %v, want nil", err)
	}
}

func TestRuleErrorMessage(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	err := &RuleError{Failures: []RuleFailure{
		{Rule: "POSITIVE", Errors: []string{"value must be positive"}},
		{Rule: "EVEN", Errors: []string{"value must be even"}},
	}}

	msg := err.Error()
	for _, want := range []string{"validation failed", "POSITIVE: value must be positive", "EVEN: value must be even"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want substring %q", msg, want)
		}
	}
}
