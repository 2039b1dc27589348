package problem

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ordercore-io/ordercore/internal/domain"
	"github.com/ordercore-io/ordercore/internal/storage"
	"github.com/ordercore-io/ordercore/internal/validation"
)

func TestClassify(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "validation failure",
			err:  &validation.RuleError{Failures: []validation.RuleFailure{{Rule: "PRICE", Errors: []string{"price required"}}}},
			want: KindValidationFailure,
		},
		{
			name: "invalid command",
			err:  fmt.Errorf("%w: clOrdId is required", domain.ErrInvalidCommand),
			want: KindValidationFailure,
		},
		{
			name: "overfill",
			err:  fmt.Errorf("%w: lastQty 70 exceeds leavesQty 60", domain.ErrOverfill),
			want: KindValidationFailure,
		},
		{
			name: "invalid state transition",
			err:  invalidTransitionErr(t),
			want: KindInvalidStateTransition,
		},
		{
			name: "order not found",
			err:  fmt.Errorf("find order: %w", storage.ErrOrderNotFound),
			want: KindNotFound,
		},
		{
			name: "execution not found",
			err:  storage.ErrExecutionNotFound,
			want: KindNotFound,
		},
		{
			name: "duplicate order",
			err:  storage.ErrDuplicateOrder,
			want: KindDuplicate,
		},
		{
			name: "duplicate execution",
			err:  storage.ErrDuplicateExecution,
			want: KindDuplicate,
		},
		{
			name: "optimistic lock conflict",
			err:  &storage.ConcurrentModificationError{OrderID: "order-1", ExpectedTxNr: 5, ActualTxNr: 6},
			want: KindConflict,
		},
		{
			name: "pending intent wins over the wrapped transition error",
			err:  pendingIntentErr(t),
			want: KindConflict,
		},
		{
			name: "domain invariant breach",
			err:  fmt.Errorf("%w: leavesQty mismatch", domain.ErrInvariantViolated),
			want: KindDataIntegrity,
		},
		{
			name: "schema constraint breach",
			err:  storage.ErrDataIntegrity,
			want: KindDataIntegrity,
		},
		{
			name: "connection failure",
			err:  fmt.Errorf("%w: dial tcp refused", storage.ErrConnection),
			want: KindExternal,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: KindExternal,
		},
		{
			name: "unknown error",
			err:  errors.New("something odd"),
			want: KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func invalidTransitionErr(t *testing.T) error {
	t.Helper()

	machine := domain.StandardOrderMachine()

	_, err := machine.Transition(domain.StateFilled, domain.StateLive)
	if err == nil {
		t.Fatal("Transition(FILLED, LIVE) = nil, want error")
	}

	return err
}

func pendingIntentErr(t *testing.T) error {
	t.Helper()

	intents := domain.CancelIntentMachine()

	_, err := intents.Transition(domain.CancelStatePCXL, domain.CancelStatePMOD)
	if err == nil {
		t.Fatal("Transition(PCXL, PMOD) = nil, want error")
	}

	return fmt.Errorf("%w: %w", domain.ErrPendingIntent, err)
}

func TestFromErrorStateTransitionExtensions(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	p := FromError(invalidTransitionErr(t), "corr-7")

	if p.Kind != KindInvalidStateTransition {
		t.Fatalf("Kind = %s, want InvalidStateTransition", p.Kind)
	}

	if p.CorrelationID != "corr-7" {
		t.Errorf("CorrelationID = %s", p.CorrelationID)
	}

	from, _ := p.Extension("fromState")
	to, _ := p.Extension("toState")

	if from != "FILLED" || to != "LIVE" {
		t.Errorf("fromState=%v toState=%v, want FILLED/LIVE", from, to)
	}
}

func TestFromErrorValidationExtensions(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	err := &validation.RuleError{Failures: []validation.RuleFailure{
		{Rule: "REQUIRED_FIELDS", Errors: []string{"clOrdId is required", "symbol is required"}},
	}}

	p := FromError(err, "corr-8")

	if p.Kind != KindValidationFailure {
		t.Fatalf("Kind = %s, want ValidationFailure", p.Kind)
	}

	messages, ok := p.Extension("errors")
	if !ok {
		t.Fatal("errors extension missing")
	}

	if msgs, ok := messages.([]string); !ok || len(msgs) != 2 {
		t.Errorf("errors extension = %v", messages)
	}
}

func TestFromErrorConflictExtensions(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	err := &storage.ConcurrentModificationError{OrderID: "order-1", ExpectedTxNr: 5, ActualTxNr: 6}

	p := FromError(err, "")

	if p.Kind != KindConflict {
		t.Fatalf("Kind = %s, want Conflict", p.Kind)
	}

	orderID, _ := p.Extension("orderId")
	expected, _ := p.Extension("expectedTxNr")
	actual, _ := p.Extension("actualTxNr")

	if orderID != "order-1" || expected != int64(5) || actual != int64(6) {
		t.Errorf("extensions = %v/%v/%v", orderID, expected, actual)
	}
}

func TestFromErrorHidesInternalDetail(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	p := FromError(errors.New("pq: column orders.secret does not exist"), "corr-9")

	if p.Kind != KindInternal {
		t.Fatalf("Kind = %s, want Internal", p.Kind)
	}

	if p.Detail != "An unexpected internal error occurred" {
		t.Errorf("Detail = %q, internal detail must not leak", p.Detail)
	}
}

func TestFromErrorNil(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if p := FromError(nil, "corr"); p != nil {
		t.Errorf("FromError(nil) = %+v, want nil", p)
	}
}
