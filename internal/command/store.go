package command

import (
	"context"

	"github.com/ordercore-io/ordercore/internal/domain"
	"github.com/ordercore-io/ordercore/internal/storage"
)

// Store defines what the command processors need from persistence.
//
// The command package defines this interface to specify what the write path
// needs, without depending on a concrete backend. The Postgres implementation
// lives in internal/storage.
//
// Every mutating method encapsulates one transaction writing the full triple:
// entity row, event-log entry and outbox row. Replay-capable methods return a
// replayed flag instead of an error when an idempotency key has already been
// stored, so redelivered commands are success, not failure.
type Store interface {
	// CreateOrder persists a new order with its creation event. A reused
	// (sessionId, clOrdId) returns the previously stored order and
	// replayed=true.
	CreateOrder(ctx context.Context, order domain.Order, event domain.EventPayload) (domain.Order, bool, error)

	// UpdateOrder persists a lifecycle mutation with its event, version
	// checked against expectedTxNr. A stale version fails with
	// ErrConcurrentModification carrying the winning tx_nr.
	UpdateOrder(ctx context.Context, order domain.Order, expectedTxNr int64, event domain.EventPayload) (domain.Order, error)

	// UpdateOrderWithExecution persists a fill: order mutation plus execution
	// row plus both event families. A redelivered exec_id returns the stored
	// outcome and replayed=true, regardless of expectedTxNr.
	UpdateOrderWithExecution(
		ctx context.Context,
		order domain.Order,
		expectedTxNr int64,
		exec domain.Execution,
		orderEvent domain.EventPayload,
		execEvent domain.EventPayload,
	) (domain.Order, domain.Execution, bool, error)

	// ReplaceOrder persists a cancel/replace pair: the original's
	// version-checked transition to CANCELED and the replacement's insertion,
	// atomically. A redelivered replacement key returns the stored pair and
	// replayed=true.
	ReplaceOrder(
		ctx context.Context,
		orig domain.Order,
		expectedTxNr int64,
		replacement domain.Order,
		origEvent domain.EventPayload,
		newEvent domain.EventPayload,
	) (domain.Order, domain.Order, bool, error)

	// FindByOrderID loads one order by its business identity.
	FindByOrderID(ctx context.Context, orderID string) (domain.Order, error)

	// FindBySessionIDAndClOrdID loads one order by its natural key.
	FindBySessionIDAndClOrdID(ctx context.Context, sessionID, clOrdID string) (domain.Order, error)

	// ExistsBySessionIDAndClOrdID probes the natural key without loading.
	ExistsBySessionIDAndClOrdID(ctx context.Context, sessionID, clOrdID string) (bool, error)
}

// The Postgres store must satisfy the processors' needs.
var _ Store = (*storage.OrderStore)(nil)
