// Package statemachine provides a generic, immutable state transition validator.
//
// A Machine is built once at startup via a Builder and is thereafter read-only,
// so a single instance is safely shared by every worker. The machine knows three
// things about a lifecycle: the allowed edges, the initial states an entity may
// be created in, and the terminal states from which no further transition is
// ever valid.
package statemachine

import (
	"errors"
	"fmt"
)

// Sentinel errors for transition validation.
// These can be used with errors.Is() for error checking.
var (
	// ErrInvalidTransition indicates a transition with no configured edge.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalState indicates a transition attempted from a terminal state.
	ErrTerminalState = errors.New("terminal state is immutable")

	// ErrNotInitialState indicates entity creation into a non-initial state.
	ErrNotInitialState = errors.New("target is not an initial state")

	// ErrEmptySequence indicates a sequence validation with no steps.
	ErrEmptySequence = errors.New("empty transition sequence")
)

type (
	// TransitionError describes a rejected transition. It wraps one of the
	// package sentinels so callers can branch with errors.Is while still
	// reading the offending edge off the error value.
	TransitionError[S comparable] struct {
		From   S
		To     S
		Reason string
		err    error
	}

	// Machine validates transitions for one lifecycle. Immutable after Build.
	Machine[S comparable] struct {
		transitions map[S]map[S]struct{}
		initial     map[S]struct{}
		terminal    map[S]struct{}
	}

	// Builder accumulates the edges and state sets for a Machine.
	Builder[S comparable] struct {
		transitions map[S]map[S]struct{}
		initial     map[S]struct{}
		terminal    map[S]struct{}
	}

	// SequenceResult reports the outcome of walking a transition sequence.
	// Path holds every state actually reached, starting with the start state.
	// On failure, From/To identify the rejected edge and Err carries the
	// diagnostic; Err is nil when Valid.
	SequenceResult[S comparable] struct {
		Valid bool
		Path  []S
		From  S
		To    S
		Err   error
	}
)

// Error implements the error interface.
func (e *TransitionError[S]) Error() string {
	return fmt.Sprintf("%v: %v → %v (%s)", e.err, e.From, e.To, e.Reason)
}

// Unwrap returns the sentinel this error was built from.
func (e *TransitionError[S]) Unwrap() error {
	return e.err
}

// NewBuilder creates an empty Builder.
func NewBuilder[S comparable]() *Builder[S] {
	return &Builder[S]{
		transitions: make(map[S]map[S]struct{}),
		initial:     make(map[S]struct{}),
		terminal:    make(map[S]struct{}),
	}
}

// AddTransition declares a valid edge from one state to another.
func (b *Builder[S]) AddTransition(from, to S) *Builder[S] {
	targets, ok := b.transitions[from]
	if !ok {
		targets = make(map[S]struct{})
		b.transitions[from] = targets
	}

	targets[to] = struct{}{}

	return b
}

// AddInitialState declares a state an entity may be created in.
func (b *Builder[S]) AddInitialState(s S) *Builder[S] {
	b.initial[s] = struct{}{}

	return b
}

// AddTerminalState declares a state with no valid outgoing transitions.
// Edges declared from a terminal state are ignored at validation time.
func (b *Builder[S]) AddTerminalState(s S) *Builder[S] {
	b.terminal[s] = struct{}{}

	return b
}

// Build snapshots the builder into an immutable Machine. The builder can be
// reused afterwards without affecting machines already built.
func (b *Builder[S]) Build() *Machine[S] {
	transitions := make(map[S]map[S]struct{}, len(b.transitions))

	for from, targets := range b.transitions {
		copied := make(map[S]struct{}, len(targets))
		for to := range targets {
			copied[to] = struct{}{}
		}

		transitions[from] = copied
	}

	initial := make(map[S]struct{}, len(b.initial))
	for s := range b.initial {
		initial[s] = struct{}{}
	}

	terminal := make(map[S]struct{}, len(b.terminal))
	for s := range b.terminal {
		terminal[s] = struct{}{}
	}

	return &Machine[S]{
		transitions: transitions,
		initial:     initial,
		terminal:    terminal,
	}
}

// IsValidTransition reports whether the edge from → to is allowed.
//
// Rules applied in order:
//   - a terminal source state rejects every transition
//   - an unconfigured source state has an empty target set
//   - otherwise the configured adjacency decides
func (m *Machine[S]) IsValidTransition(from, to S) bool {
	if m.IsTerminal(from) {
		return false
	}

	targets, ok := m.transitions[from]
	if !ok {
		return false
	}

	_, ok = targets[to]

	return ok
}

// Transition returns the target state when the edge is valid, or the zero
// state and a *TransitionError otherwise.
func (m *Machine[S]) Transition(from, to S) (S, error) {
	if m.IsTerminal(from) {
		var zero S

		return zero, &TransitionError[S]{
			From:   from,
			To:     to,
			Reason: "no transitions leave a terminal state",
			err:    ErrTerminalState,
		}
	}

	if !m.IsValidTransition(from, to) {
		var zero S

		return zero, &TransitionError[S]{
			From:   from,
			To:     to,
			Reason: "edge not configured",
			err:    ErrInvalidTransition,
		}
	}

	return to, nil
}

// InitialTransition validates entity creation: an absent current state may
// only move into a registered initial state.
func (m *Machine[S]) InitialTransition(to S) (S, error) {
	if _, ok := m.initial[to]; !ok {
		var zero S

		return zero, &TransitionError[S]{
			From:   zero,
			To:     to,
			Reason: "creation must target an initial state",
			err:    ErrNotInitialState,
		}
	}

	return to, nil
}

// TransitionSequence folds Transition over steps, short-circuiting on the
// first invalid edge. It returns the final state reached on success.
func (m *Machine[S]) TransitionSequence(start S, steps ...S) (S, error) {
	current := start

	for _, next := range steps {
		state, err := m.Transition(current, next)
		if err != nil {
			var zero S

			return zero, err
		}

		current = state
	}

	return current, nil
}

// ValidateSequence walks the sequence like TransitionSequence but never
// short-circuits the caller with an error return: it reports the full path
// walked, the failed edge if any, and the diagnostic.
func (m *Machine[S]) ValidateSequence(start S, steps ...S) SequenceResult[S] {
	result := SequenceResult[S]{
		Path: append(make([]S, 0, len(steps)+1), start),
	}

	if len(steps) == 0 {
		result.Err = ErrEmptySequence

		return result
	}

	current := start

	for _, next := range steps {
		state, err := m.Transition(current, next)
		if err != nil {
			result.From = current
			result.To = next
			result.Err = fmt.Errorf("sequence halted after %d step(s): %w", len(result.Path)-1, err)

			return result
		}

		current = state
		result.Path = append(result.Path, current)
	}

	result.Valid = true

	return result
}

// IsTerminal reports whether s is a terminal state.
func (m *Machine[S]) IsTerminal(s S) bool {
	_, ok := m.terminal[s]

	return ok
}

// IsInitial reports whether s is a registered initial state.
func (m *Machine[S]) IsInitial(s S) bool {
	_, ok := m.initial[s]

	return ok
}

// TerminalStates returns the terminal state set. Order is not defined.
func (m *Machine[S]) TerminalStates() []S {
	states := make([]S, 0, len(m.terminal))
	for s := range m.terminal {
		states = append(states, s)
	}

	return states
}

// InitialStates returns the initial state set. Order is not defined.
func (m *Machine[S]) InitialStates() []S {
	states := make([]S, 0, len(m.initial))
	for s := range m.initial {
		states = append(states, s)
	}

	return states
}

// States returns every state the machine knows about, gathered from edges and
// the initial/terminal sets. Order is not defined.
func (m *Machine[S]) States() []S {
	seen := make(map[S]struct{})

	for from, targets := range m.transitions {
		seen[from] = struct{}{}
		for to := range targets {
			seen[to] = struct{}{}
		}
	}

	for s := range m.initial {
		seen[s] = struct{}{}
	}

	for s := range m.terminal {
		seen[s] = struct{}{}
	}

	states := make([]S, 0, len(seen))
	for s := range seen {
		states = append(states, s)
	}

	return states
}
