package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidExecution indicates an execution that fails shape validation.
var ErrInvalidExecution = errors.New("invalid execution")

// Execution records a single fill reported by the market. ExecID is the
// exchange-assigned identity and the idempotency key: the same ExecID applied
// twice results in exactly one order mutation. LastQty and LastPx are the
// increment; CumQty and AvgPx snapshot the order after this execution.
type Execution struct {
	ExecID       string
	OrderID      string
	LastQty      decimal.Decimal
	LastPx       decimal.Decimal
	CumQty       decimal.Decimal
	AvgPx        decimal.Decimal
	TransactTime time.Time
}

// Validate checks the execution shape. Violations wrap ErrInvalidExecution.
func (e Execution) Validate() error {
	switch {
	case e.ExecID == "":
		return fmt.Errorf("%w: empty execID", ErrInvalidExecution)
	case e.OrderID == "":
		return fmt.Errorf("%w: empty orderId on execID %s", ErrInvalidExecution, e.ExecID)
	case !e.LastQty.IsPositive():
		return fmt.Errorf("%w: lastQty %s must be positive on execID %s",
			ErrInvalidExecution, e.LastQty, e.ExecID)
	case !e.LastPx.IsPositive():
		return fmt.Errorf("%w: lastPx %s must be positive on execID %s",
			ErrInvalidExecution, e.LastPx, e.ExecID)
	case e.CumQty.IsNegative():
		return fmt.Errorf("%w: negative cumQty on execID %s", ErrInvalidExecution, e.ExecID)
	}

	return nil
}

// WithOrderState returns a copy carrying the post-execution order snapshot
// quantities. Called after ApplyExecution so the stored execution row reflects
// the order state it produced.
func (e Execution) WithOrderState(o Order) Execution {
	updated := e
	updated.CumQty = o.CumQty
	updated.AvgPx = o.AvgPx

	return updated
}
