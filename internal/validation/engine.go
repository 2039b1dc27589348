// Package validation provides the composable predicate rule engine used on
// the command write path.
//
// A Rule is a pure function from a value to a Result. Rules compose with And
// (short-circuit), Or and Not, and an Engine runs an ordered rule list either
// stopping at the first failure or aggregating every failure into one error.
// Rule catalogs are built once at startup and are read-only afterwards.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidationFailed is the sentinel every rule failure wraps.
var ErrValidationFailed = errors.New("validation failed")

type (
	// Result is the outcome of applying a single rule: valid, or a list of
	// error messages.
	Result struct {
		Errors []string
	}

	// Rule is a pure predicate over T.
	Rule[T any] interface {
		// Name identifies the rule in failures and logs.
		Name() string

		// Apply evaluates the rule. It must not mutate its input.
		Apply(t T) Result
	}

	// RuleFailure records one failed rule inside a RuleError.
	RuleFailure struct {
		Rule   string
		Errors []string
	}

	// RuleError aggregates every rule failure from one Validate call.
	// It wraps ErrValidationFailed for errors.Is checks.
	RuleError struct {
		Failures []RuleFailure
	}

	// Engine holds an ordered rule list. Immutable after construction.
	Engine[T any] struct {
		rules              []Rule[T]
		stopOnFirstFailure bool
	}

	rule[T any] struct {
		name string
		fn   func(T) Result
	}
)

// Valid returns a passing Result.
func Valid() Result {
	return Result{}
}

// Invalid returns a failing Result with the given messages.
func Invalid(messages ...string) Result {
	return Result{Errors: messages}
}

// IsValid reports whether the rule passed.
func (r Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	if len(e.Failures) == 0 {
		return ErrValidationFailed.Error()
	}

	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Rule, strings.Join(f.Errors, "; ")))
	}

	return fmt.Sprintf("%v: %s", ErrValidationFailed, strings.Join(parts, " | "))
}

// Unwrap returns ErrValidationFailed.
func (e *RuleError) Unwrap() error {
	return ErrValidationFailed
}

// Messages flattens every failure message, in rule order.
func (e *RuleError) Messages() []string {
	var messages []string
	for _, f := range e.Failures {
		messages = append(messages, f.Errors...)
	}

	return messages
}

// NewRule builds a Rule from a name and a predicate function.
func NewRule[T any](name string, fn func(T) Result) Rule[T] {
	return rule[T]{name: name, fn: fn}
}

func (r rule[T]) Name() string {
	return r.name
}

func (r rule[T]) Apply(t T) Result {
	return r.fn(t)
}

// And combines two rules, short-circuiting on the first failure.
func And[T any](a, b Rule[T]) Rule[T] {
	name := fmt.Sprintf("(%s AND %s)", a.Name(), b.Name())

	return NewRule(name, func(t T) Result {
		if result := a.Apply(t); !result.IsValid() {
			return result
		}

		return b.Apply(t)
	})
}

// Or combines two rules, passing when either passes. When both fail, the
// messages of both are joined so the caller sees every way out.
func Or[T any](a, b Rule[T]) Rule[T] {
	name := fmt.Sprintf("(%s OR %s)", a.Name(), b.Name())

	return NewRule(name, func(t T) Result {
		first := a.Apply(t)
		if first.IsValid() {
			return Valid()
		}

		second := b.Apply(t)
		if second.IsValid() {
			return Valid()
		}

		return Invalid(append(first.Errors, second.Errors...)...)
	})
}

// Not inverts a rule. A passing inner rule fails with a synthesized message;
// a failing inner rule passes.
func Not[T any](r Rule[T]) Rule[T] {
	name := fmt.Sprintf("(NOT %s)", r.Name())

	return NewRule(name, func(t T) Result {
		if result := r.Apply(t); result.IsValid() {
			return Invalid(fmt.Sprintf("%s passed but must not", r.Name()))
		}

		return Valid()
	})
}

// NewEngine builds an Engine over an ordered rule list. With
// stopOnFirstFailure the first failing rule ends the run; otherwise every
// rule runs and all failures aggregate into one RuleError.
func NewEngine[T any](stopOnFirstFailure bool, rules ...Rule[T]) *Engine[T] {
	return &Engine[T]{
		rules:              rules,
		stopOnFirstFailure: stopOnFirstFailure,
	}
}

// Validate runs the rule list against t. Returns nil when every rule passes,
// otherwise a *RuleError wrapping ErrValidationFailed.
func (e *Engine[T]) Validate(t T) error {
	var failures []RuleFailure

	for _, r := range e.rules {
		result := r.Apply(t)
		if result.IsValid() {
			continue
		}

		failures = append(failures, RuleFailure{Rule: r.Name(), Errors: result.Errors})

		if e.stopOnFirstFailure {
			break
		}
	}

	if len(failures) == 0 {
		return nil
	}

	return &RuleError{Failures: failures}
}

// Rules returns the engine's rule list for introspection and logging.
func (e *Engine[T]) Rules() []Rule[T] {
	rules := make([]Rule[T], len(e.rules))
	copy(rules, e.rules)

	return rules
}
