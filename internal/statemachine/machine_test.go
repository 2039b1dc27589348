package statemachine

import (
	"errors"
	"testing"
)

// phase is a small lifecycle used across the tests:
// DRAFT → OPEN → {SETTLED, VOID}; SETTLED and VOID are terminal.
type phase string

const (
	phaseDraft   phase = "DRAFT"
	phaseOpen    phase = "OPEN"
	phaseSettled phase = "SETTLED"
	phaseVoid    phase = "VOID"
	phaseUnknown phase = "UNKNOWN"
)

func testMachine() *Machine[phase] {
	return NewBuilder[phase]().
		AddTransition(phaseDraft, phaseOpen).
		AddTransition(phaseOpen, phaseSettled).
		AddTransition(phaseOpen, phaseVoid).
		AddInitialState(phaseDraft).
		AddTerminalState(phaseSettled).
		AddTerminalState(phaseVoid).
		Build()
}

func TestIsValidTransition(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	m := testMachine()

	tests := []struct {
		name string
		from phase
		to   phase
		want bool
	}{
		{"DRAFT to OPEN", phaseDraft, phaseOpen, true},
		{"OPEN to SETTLED", phaseOpen, phaseSettled, true},
		{"OPEN to VOID", phaseOpen, phaseVoid, true},

		// No configured edge
		{"DRAFT to SETTLED", phaseDraft, phaseSettled, false},
		{"OPEN to DRAFT", phaseOpen, phaseDraft, false},

		// Terminal states reject everything, even self-loops
		{"SETTLED to OPEN", phaseSettled, phaseOpen, false},
		{"SETTLED to SETTLED", phaseSettled, phaseSettled, false},
		{"VOID to DRAFT", phaseVoid, phaseDraft, false},

		// Unconfigured source state has an empty target set
		{"UNKNOWN to OPEN", phaseUnknown, phaseOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.IsValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("IsValidTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransition(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	m := testMachine()

	t.Run("valid edge returns target", func(t *testing.T) {
		got, err := m.Transition(phaseDraft, phaseOpen)
		if err != nil {
			t.Fatalf("Transition() error = %v, want nil", err)
		}

		if got != phaseOpen {
			t.Errorf("Transition() = %v, want %v", got, phaseOpen)
		}
	})

	t.Run("missing edge wraps ErrInvalidTransition", func(t *testing.T) {
		_, err := m.Transition(phaseDraft, phaseVoid)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Transition() error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("terminal source wraps ErrTerminalState", func(t *testing.T) {
		_, err := m.Transition(phaseSettled, phaseOpen)
		if !errors.Is(err, ErrTerminalState) {
			t.Errorf("Transition() error = %v, want ErrTerminalState", err)
		}
	})

	t.Run("failure exposes the edge via errors.As", func(t *testing.T) {
		_, err := m.Transition(phaseOpen, phaseDraft)

		var te *TransitionError[phase]
		if !errors.As(err, &te) {
			t.Fatalf("Transition() error = %T, want *TransitionError", err)
		}

		if te.From != phaseOpen || te.To != phaseDraft {
			t.Errorf("TransitionError edge = %v → %v, want %v → %v", te.From, te.To, phaseOpen, phaseDraft)
		}
	})
}

func TestInitialTransition(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	m := testMachine()

	t.Run("creation into initial state succeeds", func(t *testing.T) {
		got, err := m.InitialTransition(phaseDraft)
		if err != nil {
			t.Fatalf("InitialTransition() error = %v, want nil", err)
		}

		if got != phaseDraft {
			t.Errorf("InitialTransition() = %v, want %v", got, phaseDraft)
		}
	})

	t.Run("creation into non-initial state fails", func(t *testing.T) {
		_, err := m.InitialTransition(phaseOpen)
		if !errors.Is(err, ErrNotInitialState) {
			t.Errorf("InitialTransition() error = %v, want ErrNotInitialState", err)
		}
	})
}

func TestTransitionSequence(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	m := testMachine()

	tests := []struct {
		name    string
		start   phase
		steps   []phase
		want    phase
		wantErr error
	}{
		{"full lifecycle", phaseDraft, []phase{phaseOpen, phaseSettled}, phaseSettled, nil},
		{"single step", phaseOpen, []phase{phaseVoid}, phaseVoid, nil},
		{"no steps returns start", phaseDraft, nil, phaseDraft, nil},
		{"short-circuits on first invalid edge", phaseDraft, []phase{phaseSettled, phaseOpen}, "", ErrInvalidTransition},
		{"halts at terminal state", phaseDraft, []phase{phaseOpen, phaseVoid, phaseOpen}, "", ErrTerminalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.TransitionSequence(tt.start, tt.steps...)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("TransitionSequence() error = %v, want %v", err, tt.wantErr)
				}

				return
			}

			if err != nil {
				t.Fatalf("TransitionSequence() error = %v, want nil", err)
			}

			if got != tt.want {
				t.Errorf("TransitionSequence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateSequence(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	m := testMachine()

	t.Run("valid sequence returns full path", func(t *testing.T) {
		result := m.ValidateSequence(phaseDraft, phaseOpen, phaseSettled)

		if !result.Valid {
			t.Fatalf("ValidateSequence() not valid: %v", result.Err)
		}

		wantPath := []phase{phaseDraft, phaseOpen, phaseSettled}
		if len(result.Path) != len(wantPath) {
			t.Fatalf("Path length = %d, want %d", len(result.Path), len(wantPath))
		}

		for i, s := range wantPath {
			if result.Path[i] != s {
				t.Errorf("Path[%d] = %v, want %v", i, result.Path[i], s)
			}
		}
	})

	t.Run("failure reports the rejected edge and partial path", func(t *testing.T) {
		result := m.ValidateSequence(phaseDraft, phaseOpen, phaseDraft)

		if result.Valid {
			t.Fatal("ValidateSequence() valid, want failure")
		}

		if result.From != phaseOpen || result.To != phaseDraft {
			t.Errorf("failed edge = %v → %v, want %v → %v", result.From, result.To, phaseOpen, phaseDraft)
		}

		if len(result.Path) != 2 {
			t.Errorf("Path length = %d, want 2 (states reached before failure)", len(result.Path))
		}

		if !errors.Is(result.Err, ErrInvalidTransition) {
			t.Errorf("Err = %v, want ErrInvalidTransition", result.Err)
		}
	})

	t.Run("empty sequence is rejected", func(t *testing.T) {
		result := m.ValidateSequence(phaseDraft)

		if result.Valid {
			t.Fatal("ValidateSequence() valid, want failure")
		}

		if !errors.Is(result.Err, ErrEmptySequence) {
			t.Errorf("Err = %v, want ErrEmptySequence", result.Err)
		}
	})
}

func TestBuilderIsolation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	b := NewBuilder[phase]().
		AddTransition(phaseDraft, phaseOpen).
		AddInitialState(phaseDraft)

	first := b.Build()

	// Mutating the builder after Build must not leak into built machines.
	b.AddTransition(phaseDraft, phaseVoid)
	second := b.Build()

	if first.IsValidTransition(phaseDraft, phaseVoid) {
		t.Error("first machine sees edge added after its Build()")
	}

	if !second.IsValidTransition(phaseDraft, phaseVoid) {
		t.Error("second machine missing edge added before its Build()")
	}
}

func TestStateSets(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	m := testMachine()

	if !m.IsTerminal(phaseSettled) || !m.IsTerminal(phaseVoid) {
		t.Error("terminal states not reported by IsTerminal")
	}

	if m.IsTerminal(phaseOpen) {
		t.Error("OPEN reported terminal")
	}

	if !m.IsInitial(phaseDraft) || m.IsInitial(phaseOpen) {
		t.Error("initial state set wrong")
	}

	if got := len(m.TerminalStates()); got != 2 {
		t.Errorf("TerminalStates() length = %d, want 2", got)
	}

	if got := len(m.InitialStates()); got != 1 {
		t.Errorf("InitialStates() length = %d, want 1", got)
	}

	if got := len(m.States()); got != 4 {
		t.Errorf("States() length = %d, want 4", got)
	}
}
