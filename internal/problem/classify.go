package problem

import (
	"context"
	"errors"

	"github.com/ordercore-io/ordercore/internal/domain"
	"github.com/ordercore-io/ordercore/internal/statemachine"
	"github.com/ordercore-io/ordercore/internal/storage"
	"github.com/ordercore-io/ordercore/internal/validation"
)

// Classify maps a typed error onto its Kind. Errors no mapping recognizes
// are Internal, which keeps their detail out of external responses.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, validation.ErrValidationFailed),
		errors.Is(err, domain.ErrInvalidCommand),
		errors.Is(err, domain.ErrInvalidExecution),
		errors.Is(err, domain.ErrOverfill),
		errors.Is(err, domain.ErrExecutionOrderMismatch):
		return KindValidationFailure

	// Pending-intent errors also wrap the intent machine's transition error,
	// so the Conflict branch must run before the state-transition branch.
	case errors.Is(err, domain.ErrPendingIntent),
		errors.Is(err, storage.ErrConcurrentModification):
		return KindConflict

	case errors.Is(err, statemachine.ErrInvalidTransition),
		errors.Is(err, statemachine.ErrTerminalState),
		errors.Is(err, statemachine.ErrNotInitialState):
		return KindInvalidStateTransition

	case errors.Is(err, storage.ErrOrderNotFound),
		errors.Is(err, storage.ErrExecutionNotFound):
		return KindNotFound

	case errors.Is(err, storage.ErrDuplicateOrder),
		errors.Is(err, storage.ErrDuplicateExecution):
		return KindDuplicate

	case errors.Is(err, domain.ErrInvariantViolated),
		errors.Is(err, storage.ErrDataIntegrity):
		return KindDataIntegrity

	case errors.Is(err, storage.ErrConnection),
		errors.Is(err, context.DeadlineExceeded):
		return KindExternal

	default:
		return KindInternal
	}
}

// FromError renders err as a problem envelope with kind-specific extension
// fields. Internal errors get an opaque detail message; everything else
// surfaces its own message.
func FromError(err error, correlationID string) *Problem {
	if err == nil {
		return nil
	}

	kind := Classify(err)

	detail := err.Error()
	if kind == KindInternal {
		detail = "An unexpected internal error occurred"
	}

	p := New(kind, detail).WithCorrelationID(correlationID)

	var ruleErr *validation.RuleError
	if errors.As(err, &ruleErr) {
		p.WithExtension("errors", ruleErr.Messages())
	}

	var transitionErr *statemachine.TransitionError[domain.State]
	if errors.As(err, &transitionErr) {
		p.WithExtension("fromState", string(transitionErr.From)).
			WithExtension("toState", string(transitionErr.To))
	}

	var intentErr *statemachine.TransitionError[domain.CancelState]
	if errors.As(err, &intentErr) {
		p.WithExtension("fromState", string(intentErr.From)).
			WithExtension("toState", string(intentErr.To))
	}

	var lockErr *storage.ConcurrentModificationError
	if errors.As(err, &lockErr) {
		p.WithExtension("orderId", lockErr.OrderID).
			WithExtension("expectedTxNr", lockErr.ExpectedTxNr).
			WithExtension("actualTxNr", lockErr.ActualTxNr)
	}

	return p
}
