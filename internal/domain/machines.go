package domain

import (
	"errors"
	"fmt"

	"github.com/ordercore-io/ordercore/internal/statemachine"
)

// ErrUnknownVariant indicates an unrecognized state machine variant name.
var ErrUnknownVariant = errors.New("unknown state machine variant")

// State machine variants. The standard machine routes orders through UNACK
// between creation and acknowledgement; the simplified machine accepts
// directly from NEW, for venues that ack synchronously.
const (
	VariantStandard   = "standard"
	VariantSimplified = "simplified"
)

// StandardOrderMachine builds the full order lifecycle:
//
//	NEW → UNACK → LIVE → {PARTIALLY_FILLED, FILLED, CANCELED, REJECTED, EXPIRED}
//	PARTIALLY_FILLED → {PARTIALLY_FILLED, FILLED, CANCELED, EXPIRED}
//	FILLED/CANCELED/REJECTED → CLOSED
//
// NEW is the only creation state. CLOSED and EXPIRED are terminal. The
// PARTIALLY_FILLED self-loop admits consecutive partial executions.
func StandardOrderMachine() *statemachine.Machine[State] {
	return statemachine.NewBuilder[State]().
		AddTransition(StateNew, StateUnack).
		AddTransition(StateNew, StateRejected).
		AddTransition(StateUnack, StateLive).
		AddTransition(StateUnack, StateRejected).
		AddTransition(StateUnack, StateCanceled).
		AddTransition(StateLive, StatePartiallyFilled).
		AddTransition(StateLive, StateFilled).
		AddTransition(StateLive, StateCanceled).
		AddTransition(StateLive, StateRejected).
		AddTransition(StateLive, StateExpired).
		AddTransition(StatePartiallyFilled, StatePartiallyFilled).
		AddTransition(StatePartiallyFilled, StateFilled).
		AddTransition(StatePartiallyFilled, StateCanceled).
		AddTransition(StatePartiallyFilled, StateExpired).
		AddTransition(StateFilled, StateClosed).
		AddTransition(StateCanceled, StateClosed).
		AddTransition(StateRejected, StateClosed).
		AddInitialState(StateNew).
		AddTerminalState(StateClosed).
		AddTerminalState(StateExpired).
		Build()
}

// SimplifiedOrderMachine builds the lifecycle without the UNACK hop:
// NEW → LIVE directly. Everything downstream matches the standard machine.
func SimplifiedOrderMachine() *statemachine.Machine[State] {
	return statemachine.NewBuilder[State]().
		AddTransition(StateNew, StateLive).
		AddTransition(StateNew, StateRejected).
		AddTransition(StateNew, StateCanceled).
		AddTransition(StateLive, StatePartiallyFilled).
		AddTransition(StateLive, StateFilled).
		AddTransition(StateLive, StateCanceled).
		AddTransition(StateLive, StateRejected).
		AddTransition(StateLive, StateExpired).
		AddTransition(StatePartiallyFilled, StatePartiallyFilled).
		AddTransition(StatePartiallyFilled, StateFilled).
		AddTransition(StatePartiallyFilled, StateCanceled).
		AddTransition(StatePartiallyFilled, StateExpired).
		AddTransition(StateFilled, StateClosed).
		AddTransition(StateCanceled, StateClosed).
		AddTransition(StateRejected, StateClosed).
		AddInitialState(StateNew).
		AddTerminalState(StateClosed).
		AddTerminalState(StateExpired).
		Build()
}

// CancelIntentMachine governs the cancelState lifecycle, independent of the
// primary order state. An intent is raised from NONE and always resolves back
// to NONE; raising a second intent while one is pending is invalid, which is
// how overlapping cancel/replace requests are fenced.
func CancelIntentMachine() *statemachine.Machine[CancelState] {
	return statemachine.NewBuilder[CancelState]().
		AddTransition(CancelStateNone, CancelStatePCXL).
		AddTransition(CancelStateNone, CancelStatePMOD).
		AddTransition(CancelStatePCXL, CancelStateNone).
		AddTransition(CancelStatePMOD, CancelStateNone).
		AddInitialState(CancelStateNone).
		Build()
}

// OrderMachineForVariant returns the order machine for a configured variant.
func OrderMachineForVariant(variant string) (*statemachine.Machine[State], error) {
	switch variant {
	case VariantStandard:
		return StandardOrderMachine(), nil
	case VariantSimplified:
		return SimplifiedOrderMachine(), nil
	default:
		return nil, fmt.Errorf("%w: %q (want %q or %q)",
			ErrUnknownVariant, variant, VariantStandard, VariantSimplified)
	}
}

// AcceptPath returns the state steps an ACCEPT command walks for the variant:
// through UNACK on the standard machine, straight to LIVE on the simplified.
func AcceptPath(variant string) ([]State, error) {
	switch variant {
	case VariantStandard:
		return []State{StateUnack, StateLive}, nil
	case VariantSimplified:
		return []State{StateLive}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
}
