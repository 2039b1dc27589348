package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	// EventKind names a state change recorded in the event log and published
	// on the bus.
	EventKind string

	// Event is the outbound wire envelope, serialized into the outbox and
	// published as-is. EventID is the event-log sequence assigned at append
	// time, so consumers can deduplicate and totally order events per order.
	// Schema evolution is by compatible addition only.
	Event struct {
		EventID       int64           `json:"eventId"`
		Kind          EventKind       `json:"eventKind"`
		OrderID       string          `json:"orderId"`
		SessionID     string          `json:"sessionId"`
		ClOrdID       string          `json:"clOrdId"`
		CorrelationID string          `json:"correlationId,omitempty"`
		OccurredAt    time.Time       `json:"occurredAt"`
		Order         OrderState      `json:"order"`
		Execution     *ExecutionState `json:"execution,omitempty"`
	}

	// OrderState is the full updated order snapshot carried by every event.
	OrderState struct {
		OrderID       string          `json:"orderId"`
		SessionID     string          `json:"sessionId"`
		ClOrdID       string          `json:"clOrdId"`
		ParentOrderID string          `json:"parentOrderId,omitempty"`
		RootOrderID   string          `json:"rootOrderId"`
		Symbol        string          `json:"symbol"`
		Side          Side            `json:"side"`
		OrdType       OrdType         `json:"ordType"`
		AssetClass    AssetClass      `json:"assetClass"`
		Account       string          `json:"account"`
		OrderQty      decimal.Decimal `json:"orderQty"`
		CumQty        decimal.Decimal `json:"cumQty"`
		LeavesQty     decimal.Decimal `json:"leavesQty"`
		Price         decimal.Decimal `json:"price,omitempty"`
		StopPx        decimal.Decimal `json:"stopPx,omitempty"`
		AvgPx         decimal.Decimal `json:"avgPx,omitempty"`
		State         State           `json:"state"`
		CancelState   CancelState     `json:"cancelState"`
		TxNr          int64           `json:"txNr"`
	}

	// ExecutionState is the execution snapshot carried by fill events.
	ExecutionState struct {
		ExecID       string          `json:"execId"`
		OrderID      string          `json:"orderId"`
		LastQty      decimal.Decimal `json:"lastQty"`
		LastPx       decimal.Decimal `json:"lastPx"`
		CumQty       decimal.Decimal `json:"cumQty"`
		AvgPx        decimal.Decimal `json:"avgPx"`
		TransactTime time.Time       `json:"transactTime"`
	}

	// EventPayload is the event-log entry body: the triggering command plus
	// the resulting state, stored as JSONB alongside the entity mutation.
	EventPayload struct {
		Command Command `json:"command"`
		Event   Event   `json:"event"`
	}
)

// Event kinds.
const (
	EventNewOrder             EventKind = "NEW_ORDER"
	EventOrderAccepted        EventKind = "ORDER_ACCEPTED"
	EventOrderFilled          EventKind = "ORDER_FILLED"
	EventOrderPartiallyFilled EventKind = "ORDER_PARTIALLY_FILLED"
	EventOrderCanceled        EventKind = "ORDER_CANCELED"
	EventOrderReplaced        EventKind = "ORDER_REPLACED"
	EventOrderRejected        EventKind = "ORDER_REJECTED"
	EventOrderExpired         EventKind = "ORDER_EXPIRED"
	EventExecutionCreated     EventKind = "EXECUTION_CREATED"
)

// ValidEventKinds returns all event kinds the core emits.
func ValidEventKinds() []EventKind {
	return []EventKind{
		EventNewOrder,
		EventOrderAccepted,
		EventOrderFilled,
		EventOrderPartiallyFilled,
		EventOrderCanceled,
		EventOrderReplaced,
		EventOrderRejected,
		EventOrderExpired,
		EventExecutionCreated,
	}
}

// IsValid checks if the EventKind is known.
func (k EventKind) IsValid() bool {
	for _, valid := range ValidEventKinds() {
		if k == valid {
			return true
		}
	}

	return false
}

// SnapshotOrder captures the order into its wire representation.
func SnapshotOrder(o Order) OrderState {
	return OrderState{
		OrderID:       o.OrderID,
		SessionID:     o.SessionID,
		ClOrdID:       o.ClOrdID,
		ParentOrderID: o.ParentOrderID,
		RootOrderID:   o.RootOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		OrdType:       o.OrdType,
		AssetClass:    o.AssetClass,
		Account:       o.Account,
		OrderQty:      o.OrderQty,
		CumQty:        o.CumQty,
		LeavesQty:     o.LeavesQty,
		Price:         o.Price,
		StopPx:        o.StopPx,
		AvgPx:         o.AvgPx,
		State:         o.State,
		CancelState:   o.CancelState,
		TxNr:          o.TxNr,
	}
}

// SnapshotExecution captures the execution into its wire representation.
func SnapshotExecution(e Execution) *ExecutionState {
	return &ExecutionState{
		ExecID:       e.ExecID,
		OrderID:      e.OrderID,
		LastQty:      e.LastQty,
		LastPx:       e.LastPx,
		CumQty:       e.CumQty,
		AvgPx:        e.AvgPx,
		TransactTime: e.TransactTime,
	}
}

// NewEvent assembles the wire event for a state change. EventID stays zero
// until the store appends the log entry and assigns the sequence.
func NewEvent(kind EventKind, order Order, correlationID string, occurredAt time.Time) Event {
	return Event{
		Kind:          kind,
		OrderID:       order.OrderID,
		SessionID:     order.SessionID,
		ClOrdID:       order.ClOrdID,
		CorrelationID: correlationID,
		OccurredAt:    occurredAt,
		Order:         SnapshotOrder(order),
	}
}

// FillEventKind selects the event kind an execution produces: FILLED when the
// order is complete, PARTIALLY_FILLED otherwise.
func FillEventKind(order Order) EventKind {
	if order.State == StateFilled {
		return EventOrderFilled
	}

	return EventOrderPartiallyFilled
}
