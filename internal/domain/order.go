// Package domain provides the order management domain model: orders,
// executions, commands, events, and the lifecycle machines that govern them.
//
// Entities are plain value types without serialization tags; mutation helpers
// return new values and never modify the receiver. Wire contracts (Command,
// Event) carry JSON tags because transports and the outbox serialize them
// directly. All quantity fields use fixed-precision decimals at scale 4 and
// all price fields at scale 6, rounded half-even.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors for domain invariant checks.
var (
	// ErrInvariantViolated indicates an order that breaks a shape invariant.
	ErrInvariantViolated = errors.New("order invariant violated")

	// ErrOverfill indicates an execution that would push cumQty past orderQty.
	ErrOverfill = errors.New("execution exceeds order quantity")

	// ErrExecutionOrderMismatch indicates an execution applied to the wrong order.
	ErrExecutionOrderMismatch = errors.New("execution does not reference this order")

	// ErrPendingIntent indicates a cancel or replace arriving while another
	// cancel intent is still pending on the order.
	ErrPendingIntent = errors.New("conflicting cancel intent pending")
)

type (
	// State is the primary order lifecycle state.
	State string

	// CancelState tracks an in-flight cancel or replace intent, independent
	// of the primary lifecycle.
	CancelState string

	// Side is the order side.
	Side string

	// OrdType is the order price type.
	OrdType string

	// AssetClass discriminates instrument families for validation rules.
	AssetClass string

	// Order is the aggregate the write path mutates. Identity is the
	// business-unique OrderID; (SessionID, ClOrdID) is the natural key used
	// for idempotent creation. ParentOrderID and RootOrderID form a tree;
	// RootOrderID equals OrderID for roots.
	//
	// OrderQty is immutable after creation. CumQty only grows. LeavesQty is
	// recomputed as OrderQty − CumQty after every mutation. PlaceQty,
	// AllocQty and CashOrderQty are informational and take no part in the
	// lifecycle. TxNr increments on each mutation and backs optimistic
	// concurrency in the store.
	Order struct {
		OrderID       string
		SessionID     string
		ClOrdID       string
		ParentOrderID string
		RootOrderID   string

		Symbol     string
		Side       Side
		OrdType    OrdType
		AssetClass AssetClass
		Account    string

		OrderQty     decimal.Decimal
		CumQty       decimal.Decimal
		LeavesQty    decimal.Decimal
		PlaceQty     decimal.Decimal
		AllocQty     decimal.Decimal
		CashOrderQty decimal.Decimal

		// Price is required for LIMIT and STOP_LIMIT; StopPx for STOP and
		// STOP_LIMIT. A zero decimal means absent.
		Price  decimal.Decimal
		StopPx decimal.Decimal
		AvgPx  decimal.Decimal

		State       State
		CancelState CancelState
		TxNr        int64

		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

// Primary lifecycle states.
const (
	// StateNew is the only creation state: the order exists but has not been
	// routed anywhere.
	StateNew State = "NEW"

	// StateUnack means the order was sent to the market and awaits the ack.
	StateUnack State = "UNACK"

	// StateLive means the market acknowledged the order; it is working.
	StateLive State = "LIVE"

	// StatePartiallyFilled means some but not all quantity has executed.
	StatePartiallyFilled State = "PARTIALLY_FILLED"

	// StateFilled means the full order quantity has executed.
	StateFilled State = "FILLED"

	// StateCanceled means the order was canceled before completion.
	StateCanceled State = "CANCELED"

	// StateRejected means the market or the engine refused the order.
	StateRejected State = "REJECTED"

	// StateExpired means the order lapsed. Terminal.
	StateExpired State = "EXPIRED"

	// StateClosed means end-of-day close archived the order. Terminal.
	StateClosed State = "CLOSED"
)

// Cancel intent states.
const (
	CancelStateNone CancelState = "NONE"
	CancelStatePCXL CancelState = "PCXL" // pending cancel
	CancelStatePMOD CancelState = "PMOD" // pending replace
)

// Order sides.
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order price types.
const (
	OrdTypeMarket    OrdType = "MARKET"
	OrdTypeLimit     OrdType = "LIMIT"
	OrdTypeStop      OrdType = "STOP"
	OrdTypeStopLimit OrdType = "STOP_LIMIT"
)

// Asset classes.
const (
	AssetClassEquity AssetClass = "EQUITY"
	AssetClassFX     AssetClass = "FX"
	AssetClassFuture AssetClass = "FUTURE"
	AssetClassOption AssetClass = "OPTION"
)

// ValidStates returns all order lifecycle states.
func ValidStates() []State {
	return []State{
		StateNew,
		StateUnack,
		StateLive,
		StatePartiallyFilled,
		StateFilled,
		StateCanceled,
		StateRejected,
		StateExpired,
		StateClosed,
	}
}

// IsValid checks if the State is a known lifecycle state.
func (s State) IsValid() bool {
	for _, valid := range ValidStates() {
		if s == valid {
			return true
		}
	}

	return false
}

// IsTerminal returns true for states with no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateExpired
}

// IsExecutable returns true for states that accept executions.
func (s State) IsExecutable() bool {
	return s == StateLive || s == StatePartiallyFilled
}

// IsValid checks if the CancelState is known.
func (cs CancelState) IsValid() bool {
	return cs == CancelStateNone || cs == CancelStatePCXL || cs == CancelStatePMOD
}

// IsValid checks if the Side is known.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// IsValid checks if the OrdType is known.
func (ot OrdType) IsValid() bool {
	switch ot {
	case OrdTypeMarket, OrdTypeLimit, OrdTypeStop, OrdTypeStopLimit:
		return true
	default:
		return false
	}
}

// RequiresPrice returns true when the type carries a limit price.
func (ot OrdType) RequiresPrice() bool {
	return ot == OrdTypeLimit || ot == OrdTypeStopLimit
}

// RequiresStopPx returns true when the type carries a stop trigger price.
func (ot OrdType) RequiresStopPx() bool {
	return ot == OrdTypeStop || ot == OrdTypeStopLimit
}

// IsValid checks if the AssetClass is known.
func (ac AssetClass) IsValid() bool {
	switch ac {
	case AssetClassEquity, AssetClassFX, AssetClassFuture, AssetClassOption:
		return true
	default:
		return false
	}
}

// IsRoot reports whether the order is the root of its order tree.
func (o Order) IsRoot() bool {
	return o.RootOrderID == o.OrderID
}

// Validate checks the shape invariants that must hold after every mutation.
// Violations wrap ErrInvariantViolated.
func (o Order) Validate() error {
	switch {
	case o.OrderID == "":
		return fmt.Errorf("%w: empty orderId", ErrInvariantViolated)
	case o.SessionID == "" || o.ClOrdID == "":
		return fmt.Errorf("%w: empty natural key (sessionId=%q, clOrdId=%q)",
			ErrInvariantViolated, o.SessionID, o.ClOrdID)
	case o.RootOrderID == "":
		return fmt.Errorf("%w: empty rootOrderId on %s", ErrInvariantViolated, o.OrderID)
	case !o.State.IsValid():
		return fmt.Errorf("%w: unknown state %q on %s", ErrInvariantViolated, o.State, o.OrderID)
	case !o.CancelState.IsValid():
		return fmt.Errorf("%w: unknown cancelState %q on %s", ErrInvariantViolated, o.CancelState, o.OrderID)
	case o.CumQty.IsNegative():
		return fmt.Errorf("%w: negative cumQty %s on %s", ErrInvariantViolated, o.CumQty, o.OrderID)
	case o.CumQty.GreaterThan(o.OrderQty):
		return fmt.Errorf("%w: cumQty %s exceeds orderQty %s on %s",
			ErrInvariantViolated, o.CumQty, o.OrderQty, o.OrderID)
	case !o.LeavesQty.Equal(o.OrderQty.Sub(o.CumQty)):
		return fmt.Errorf("%w: leavesQty %s != orderQty %s - cumQty %s on %s",
			ErrInvariantViolated, o.LeavesQty, o.OrderQty, o.CumQty, o.OrderID)
	case o.PlaceQty.IsNegative() || o.AllocQty.IsNegative() || o.CashOrderQty.IsNegative():
		return fmt.Errorf("%w: negative informational quantity on %s", ErrInvariantViolated, o.OrderID)
	}

	return nil
}

// ApplyExecution returns a copy of the order with the execution increment
// applied: CumQty grows by LastQty, LeavesQty is recomputed, AvgPx becomes the
// volume-weighted average rounded half-even at price scale, and State moves to
// PARTIALLY_FILLED or FILLED. TxNr is bumped.
func (o Order) ApplyExecution(exec Execution) (Order, error) {
	if exec.OrderID != o.OrderID {
		return Order{}, fmt.Errorf("%w: execution %s references %s, order is %s",
			ErrExecutionOrderMismatch, exec.ExecID, exec.OrderID, o.OrderID)
	}

	newCum := o.CumQty.Add(exec.LastQty)
	if newCum.GreaterThan(o.OrderQty) {
		return Order{}, fmt.Errorf("%w: execID %s lastQty %s would take cumQty to %s against orderQty %s",
			ErrOverfill, exec.ExecID, exec.LastQty, newCum, o.OrderQty)
	}

	// Volume-weighted average: (avgPx*cumQty + lastPx*lastQty) / newCum.
	notional := o.AvgPx.Mul(o.CumQty).Add(exec.LastPx.Mul(exec.LastQty))

	updated := o
	updated.CumQty = RoundQty(newCum)
	updated.LeavesQty = RoundQty(o.OrderQty.Sub(newCum))
	updated.AvgPx = RoundPx(notional.Div(newCum))

	if updated.LeavesQty.IsZero() {
		updated.State = StateFilled
	} else {
		updated.State = StatePartiallyFilled
	}

	updated.TxNr = o.TxNr + 1

	return updated, nil
}

// WithState returns a copy in the given state with TxNr bumped. The caller is
// responsible for validating the transition against the active machine first.
func (o Order) WithState(s State) Order {
	updated := o
	updated.State = s
	updated.LeavesQty = RoundQty(o.OrderQty.Sub(o.CumQty))
	updated.TxNr = o.TxNr + 1

	return updated
}

// MarkAccepted returns a copy in LIVE state.
func (o Order) MarkAccepted() Order {
	return o.WithState(StateLive)
}

// MarkCanceled returns a copy in CANCELED state with the cancel intent cleared.
func (o Order) MarkCanceled() Order {
	updated := o.WithState(StateCanceled)
	updated.CancelState = CancelStateNone

	return updated
}

// MarkRejected returns a copy in REJECTED state.
func (o Order) MarkRejected() Order {
	return o.WithState(StateRejected)
}

// MarkExpired returns a copy in EXPIRED state.
func (o Order) MarkExpired() Order {
	return o.WithState(StateExpired)
}

// MarkClosed returns a copy in CLOSED state.
func (o Order) MarkClosed() Order {
	return o.WithState(StateClosed)
}

// WithCancelIntent returns a copy carrying the given cancel intent.
// TxNr is not bumped: the intent always resolves within the same persisted
// mutation as the primary transition it guards.
func (o Order) WithCancelIntent(cs CancelState) Order {
	updated := o
	updated.CancelState = cs

	return updated
}
