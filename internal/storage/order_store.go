package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ordercore-io/ordercore/internal/config"
	"github.com/ordercore-io/ordercore/internal/domain"
)

// ErrOrderStoreFailed is returned when a write-store operation fails for a
// reason that is not one of the classified outcome sentinels.
var ErrOrderStoreFailed = errors.New("order store operation failed")

// Unique constraint names the store inspects to decide between idempotent
// replay and genuine duplicate semantics. They must match migration DDL.
const (
	constraintOrderNaturalKey = "orders_session_id_cl_ord_id_key"
	constraintExecID          = "executions_exec_id_key"
)

type (
	// OrderStore implements the write path for the order aggregate with a
	// PostgreSQL backend. Every mutation persists the entity row, an
	// append-only event-log entry, and an outbox row in one transaction, so
	// a command either fully happened or did not happen at all.
	//
	// Concurrency control is optimistic: mutations carry the tx_nr the
	// caller loaded, and a version-checked UPDATE that matches zero rows is
	// reported as *ConcurrentModificationError. Idempotency rides on the
	// (session_id, cl_ord_id) natural key for order creation and on exec_id
	// for executions; unique-constraint races collapse into replays of the
	// previously stored outcome.
	OrderStore struct {
		conn   *Connection
		logger *slog.Logger
	}

	// eventTables names the event-log and outbox tables for one event
	// family. Table names only ever come from the two package-level values
	// below; they are never caller input.
	eventTables struct {
		log    string
		outbox string
	}

	// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
	rowScanner interface {
		Scan(dest ...any) error
	}
)

var (
	orderEventTables     = eventTables{log: "order_events", outbox: "order_outbox"}
	executionEventTables = eventTables{log: "execution_events", outbox: "execution_outbox"}
)

// orderColumns is the canonical SELECT list for scanOrder. Column order must
// match the Scan call exactly.
const orderColumns = `
	order_id, session_id, cl_ord_id, parent_order_id, root_order_id,
	symbol, side, ord_type, asset_class, account,
	order_qty, cum_qty, leaves_qty, place_qty, alloc_qty, cash_order_qty,
	price, stop_px, avg_px,
	state, cancel_state, tx_nr,
	created_at, updated_at`

// NewOrderStore creates a PostgreSQL-backed order write store.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewOrderStore(conn *Connection) (*OrderStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &OrderStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck verifies the underlying database connection is healthy.
func (s *OrderStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// CreateOrder persists a brand-new order together with its creation event and
// outbox row in one transaction.
//
// Returns three values: (stored, replayed, error)
//   - (order, false, nil) → the order was newly stored
//   - (existing, true, nil) → the (session_id, cl_ord_id) natural key already
//     existed; the previously stored order is returned and nothing is written
//   - (zero, false, err) → the operation failed
//
// The replay path makes redelivered CREATE commands idempotent under
// concurrency: when two commands race on the same natural key, exactly one
// insert wins and the loser observes the winner's row.
func (s *OrderStore) CreateOrder(
	ctx context.Context,
	order domain.Order,
	event domain.EventPayload,
) (domain.Order, bool, error) {
	if err := order.Validate(); err != nil {
		return domain.Order{}, false, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("%w: begin transaction: %w", ErrOrderStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	err = s.insertOrder(ctx, tx, order)
	if isUniqueViolation(err, constraintOrderNaturalKey) {
		// The aborted transaction must be released before reading the
		// winner's row.
		_ = tx.Rollback()

		existing, findErr := s.FindBySessionIDAndClOrdID(ctx, order.SessionID, order.ClOrdID)
		if findErr != nil {
			return domain.Order{}, false, fmt.Errorf("%w: load replayed order: %w", ErrOrderStoreFailed, findErr)
		}

		s.logger.Debug("create replayed on natural key",
			slog.String("session_id", order.SessionID),
			slog.String("cl_ord_id", order.ClOrdID),
			slog.String("order_id", existing.OrderID),
		)

		return existing, true, nil
	}

	if err != nil {
		return domain.Order{}, false, fmt.Errorf("%w: insert order %s: %w", ErrOrderStoreFailed, order.OrderID, err)
	}

	if _, err := s.recordEvent(ctx, tx, orderEventTables, event); err != nil {
		return domain.Order{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, false, fmt.Errorf("%w: commit: %w", ErrOrderStoreFailed, classifyError(err))
	}

	s.logger.Info("order created",
		slog.String("order_id", order.OrderID),
		slog.String("session_id", order.SessionID),
		slog.String("cl_ord_id", order.ClOrdID),
		slog.String("state", string(order.State)),
	)

	return order, false, nil
}

// UpdateOrder persists a mutated order under optimistic concurrency control,
// appending the event and its outbox row in the same transaction.
//
// expectedTxNr is the version the caller loaded. When the row no longer
// carries it, the error distinguishes a vanished order (ErrOrderNotFound)
// from a lost race (*ConcurrentModificationError with the winning version).
func (s *OrderStore) UpdateOrder(
	ctx context.Context,
	order domain.Order,
	expectedTxNr int64,
	event domain.EventPayload,
) (domain.Order, error) {
	if err := order.Validate(); err != nil {
		return domain.Order{}, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: begin transaction: %w", ErrOrderStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if err := s.updateOrderVersioned(ctx, tx, order, expectedTxNr); err != nil {
		return domain.Order{}, err
	}

	if _, err := s.recordEvent(ctx, tx, orderEventTables, event); err != nil {
		return domain.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("%w: commit: %w", ErrOrderStoreFailed, classifyError(err))
	}

	s.logger.Info("order updated",
		slog.String("order_id", order.OrderID),
		slog.String("state", string(order.State)),
		slog.Int64("tx_nr", order.TxNr),
		slog.String("event", string(event.Event.Kind)),
	)

	return order, nil
}

// UpdateOrderWithExecution persists an execution and the order mutation it
// caused in one transaction: version-checked order UPDATE, execution INSERT,
// order event + outbox, execution event + outbox.
//
// exec_id is the idempotency key. A redelivered execution returns the
// previously stored execution and the current order with replayed=true, and
// mutates nothing; a concurrent duplicate loses the unique-constraint race
// and resolves the same way.
func (s *OrderStore) UpdateOrderWithExecution(
	ctx context.Context,
	order domain.Order,
	expectedTxNr int64,
	exec domain.Execution,
	orderEvent domain.EventPayload,
	execEvent domain.EventPayload,
) (domain.Order, domain.Execution, bool, error) {
	if err := order.Validate(); err != nil {
		return domain.Order{}, domain.Execution{}, false, err
	}

	if err := exec.Validate(); err != nil {
		return domain.Order{}, domain.Execution{}, false, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, domain.Execution{}, false,
			fmt.Errorf("%w: begin transaction: %w", ErrOrderStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	// Cheap replay probe before mutating anything. The unique constraint
	// below still catches two live commands racing on the same exec_id.
	replayed, err := s.executionExists(ctx, tx, exec.ExecID)
	if err != nil {
		return domain.Order{}, domain.Execution{}, false, err
	}

	if replayed {
		_ = tx.Rollback()

		return s.loadReplayedExecution(ctx, order.OrderID, exec.ExecID)
	}

	if err := s.updateOrderVersioned(ctx, tx, order, expectedTxNr); err != nil {
		return domain.Order{}, domain.Execution{}, false, err
	}

	err = s.insertExecution(ctx, tx, exec)
	if isUniqueViolation(err, constraintExecID) {
		// Lost the race: the competing transaction owns this exec_id. The
		// aborted transaction must be released before reading its outcome.
		_ = tx.Rollback()

		return s.loadReplayedExecution(ctx, order.OrderID, exec.ExecID)
	}

	if err != nil {
		return domain.Order{}, domain.Execution{}, false,
			fmt.Errorf("%w: insert execution %s: %w", ErrOrderStoreFailed, exec.ExecID, err)
	}

	if _, err := s.recordEvent(ctx, tx, orderEventTables, orderEvent); err != nil {
		return domain.Order{}, domain.Execution{}, false, err
	}

	if _, err := s.recordEvent(ctx, tx, executionEventTables, execEvent); err != nil {
		return domain.Order{}, domain.Execution{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, domain.Execution{}, false,
			fmt.Errorf("%w: commit: %w", ErrOrderStoreFailed, classifyError(err))
	}

	s.logger.Info("execution applied",
		slog.String("order_id", order.OrderID),
		slog.String("exec_id", exec.ExecID),
		slog.String("state", string(order.State)),
		slog.Int64("tx_nr", order.TxNr),
	)

	return order, exec, false, nil
}

// ReplaceOrder persists a cancel/replace as one transaction: version-checked
// update of the original order, insert of the replacement, and both event +
// outbox pairs. The replacement's (session_id, cl_ord_id) natural key fences
// redelivery: when it already exists the previously stored pair is returned
// with replayed=true and nothing is written.
func (s *OrderStore) ReplaceOrder(
	ctx context.Context,
	orig domain.Order,
	expectedTxNr int64,
	replacement domain.Order,
	origEvent domain.EventPayload,
	newEvent domain.EventPayload,
) (domain.Order, domain.Order, bool, error) {
	if err := orig.Validate(); err != nil {
		return domain.Order{}, domain.Order{}, false, err
	}

	if err := replacement.Validate(); err != nil {
		return domain.Order{}, domain.Order{}, false, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, domain.Order{}, false,
			fmt.Errorf("%w: begin transaction: %w", ErrOrderStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if err := s.updateOrderVersioned(ctx, tx, orig, expectedTxNr); err != nil {
		return domain.Order{}, domain.Order{}, false, err
	}

	err = s.insertOrder(ctx, tx, replacement)
	if isUniqueViolation(err, constraintOrderNaturalKey) {
		_ = tx.Rollback()

		return s.loadReplayedReplacement(ctx, orig.OrderID, replacement.SessionID, replacement.ClOrdID)
	}

	if err != nil {
		return domain.Order{}, domain.Order{}, false,
			fmt.Errorf("%w: insert replacement %s: %w", ErrOrderStoreFailed, replacement.OrderID, err)
	}

	if _, err := s.recordEvent(ctx, tx, orderEventTables, origEvent); err != nil {
		return domain.Order{}, domain.Order{}, false, err
	}

	if _, err := s.recordEvent(ctx, tx, orderEventTables, newEvent); err != nil {
		return domain.Order{}, domain.Order{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, domain.Order{}, false,
			fmt.Errorf("%w: commit: %w", ErrOrderStoreFailed, classifyError(err))
	}

	s.logger.Info("order replaced",
		slog.String("order_id", orig.OrderID),
		slog.String("replacement_order_id", replacement.OrderID),
		slog.String("replacement_cl_ord_id", replacement.ClOrdID),
	)

	return orig, replacement, false, nil
}

// FindByOrderID loads one order by its business identity.
// Returns ErrOrderNotFound if no row matches.
func (s *OrderStore) FindByOrderID(ctx context.Context, orderID string) (domain.Order, error) {
	query := `SELECT` + orderColumns + `
		FROM orders
		WHERE order_id = $1`

	order, err := scanOrder(s.conn.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: order_id %s", ErrOrderNotFound, orderID)
	}

	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: find order %s: %w", ErrOrderStoreFailed, orderID, classifyError(err))
	}

	return order, nil
}

// FindBySessionIDAndClOrdID loads one order by its natural key.
// Returns ErrOrderNotFound if no row matches.
func (s *OrderStore) FindBySessionIDAndClOrdID(ctx context.Context, sessionID, clOrdID string) (domain.Order, error) {
	query := `SELECT` + orderColumns + `
		FROM orders
		WHERE session_id = $1 AND cl_ord_id = $2`

	order, err := scanOrder(s.conn.QueryRowContext(ctx, query, sessionID, clOrdID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: session_id %s, cl_ord_id %s", ErrOrderNotFound, sessionID, clOrdID)
	}

	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: find order by natural key: %w", ErrOrderStoreFailed, classifyError(err))
	}

	return order, nil
}

// ExistsBySessionIDAndClOrdID reports whether the natural key is taken.
// Creation probes it to short-circuit redelivered commands before opening a
// write transaction.
func (s *OrderStore) ExistsBySessionIDAndClOrdID(ctx context.Context, sessionID, clOrdID string) (bool, error) {
	query := `
		SELECT 1 FROM orders
		WHERE session_id = $1 AND cl_ord_id = $2
		LIMIT 1
	`

	var exists int

	err := s.conn.QueryRowContext(ctx, query, sessionID, clOrdID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("%w: natural key probe: %w", ErrOrderStoreFailed, classifyError(err))
	}

	return true, nil
}

// FindChildren loads the direct children of an order, oldest first.
func (s *OrderStore) FindChildren(ctx context.Context, parentOrderID string) ([]domain.Order, error) {
	query := `SELECT` + orderColumns + `
		FROM orders
		WHERE parent_order_id = $1
		ORDER BY id ASC`

	rows, err := s.conn.QueryContext(ctx, query, parentOrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: find children of %s: %w", ErrOrderStoreFailed, parentOrderID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return collectOrders(rows)
}

// FindTree loads an order and all of its descendants by walking
// parent_order_id links, oldest first. The starting order may sit anywhere
// in its tree; only the subtree below it is returned.
// Returns ErrOrderNotFound if the starting order does not exist.
func (s *OrderStore) FindTree(ctx context.Context, orderID string) ([]domain.Order, error) {
	query := `
		WITH RECURSIVE tree AS (
			SELECT * FROM orders WHERE order_id = $1
			UNION ALL
			SELECT o.* FROM orders o
			JOIN tree t ON o.parent_order_id = t.order_id
		)
		SELECT` + orderColumns + `
		FROM tree
		ORDER BY id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: find tree of %s: %w", ErrOrderStoreFailed, orderID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: order_id %s", ErrOrderNotFound, orderID)
	}

	return orders, nil
}

// FindExecutionByExecID loads one execution by its exchange-assigned identity.
// Returns ErrExecutionNotFound if no row matches.
func (s *OrderStore) FindExecutionByExecID(ctx context.Context, execID string) (domain.Execution, error) {
	query := `
		SELECT exec_id, order_id, last_qty, last_px, cum_qty, avg_px, transact_time
		FROM executions
		WHERE exec_id = $1
	`

	var exec domain.Execution

	err := s.conn.QueryRowContext(ctx, query, execID).Scan(
		&exec.ExecID, &exec.OrderID,
		&exec.LastQty, &exec.LastPx, &exec.CumQty, &exec.AvgPx,
		&exec.TransactTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Execution{}, fmt.Errorf("%w: exec_id %s", ErrExecutionNotFound, execID)
	}

	if err != nil {
		return domain.Execution{}, fmt.Errorf("%w: find execution %s: %w", ErrOrderStoreFailed, execID, classifyError(err))
	}

	return exec, nil
}

// FindExecutionsByOrderID loads all executions for an order, oldest first.
func (s *OrderStore) FindExecutionsByOrderID(ctx context.Context, orderID string) ([]domain.Execution, error) {
	query := `
		SELECT exec_id, order_id, last_qty, last_px, cum_qty, avg_px, transact_time
		FROM executions
		WHERE order_id = $1
		ORDER BY id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: find executions of %s: %w", ErrOrderStoreFailed, orderID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var execs []domain.Execution

	for rows.Next() {
		var exec domain.Execution

		err := rows.Scan(
			&exec.ExecID, &exec.OrderID,
			&exec.LastQty, &exec.LastPx, &exec.CumQty, &exec.AvgPx,
			&exec.TransactTime,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan execution: %w", ErrOrderStoreFailed, err)
		}

		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate executions: %w", ErrOrderStoreFailed, classifyError(err))
	}

	return execs, nil
}

// insertOrder writes the entity row. Unique-constraint errors pass through
// raw so callers can inspect the constraint name.
func (s *OrderStore) insertOrder(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	query := `
		INSERT INTO orders (
			order_id, session_id, cl_ord_id, parent_order_id, root_order_id,
			symbol, side, ord_type, asset_class, account,
			order_qty, cum_qty, leaves_qty, place_qty, alloc_qty, cash_order_qty,
			price, stop_px, avg_px,
			state, cancel_state, tx_nr,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19,
			$20, $21, $22,
			$23, $24
		)
	`

	_, err := tx.ExecContext(
		ctx,
		query,
		order.OrderID, order.SessionID, order.ClOrdID, nullIfEmpty(order.ParentOrderID), order.RootOrderID,
		order.Symbol, string(order.Side), string(order.OrdType), string(order.AssetClass), order.Account,
		order.OrderQty, order.CumQty, order.LeavesQty, order.PlaceQty, order.AllocQty, order.CashOrderQty,
		order.Price, order.StopPx, order.AvgPx,
		string(order.State), string(order.CancelState), order.TxNr,
		order.CreatedAt, order.UpdatedAt,
	)

	return err
}

// updateOrderVersioned performs the optimistic-concurrency UPDATE. Only the
// lifecycle fields may change after creation; orderQty, prices, and key
// fields are immutable by schema intent.
//
// A zero-row match is resolved inside the same transaction: a missing row is
// ErrOrderNotFound, a row carrying a different tx_nr is a lost race reported
// as *ConcurrentModificationError with the winning version.
func (s *OrderStore) updateOrderVersioned(
	ctx context.Context,
	tx *sql.Tx,
	order domain.Order,
	expectedTxNr int64,
) error {
	query := `
		UPDATE orders
		SET cum_qty = $1,
			leaves_qty = $2,
			avg_px = $3,
			state = $4,
			cancel_state = $5,
			tx_nr = $6,
			updated_at = $7
		WHERE order_id = $8 AND tx_nr = $9
	`

	result, err := tx.ExecContext(
		ctx,
		query,
		order.CumQty, order.LeavesQty, order.AvgPx,
		string(order.State), string(order.CancelState), order.TxNr,
		order.UpdatedAt,
		order.OrderID, expectedTxNr,
	)
	if err != nil {
		return fmt.Errorf("%w: update order %s: %w", ErrOrderStoreFailed, order.OrderID, classifyError(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for %s: %w", ErrOrderStoreFailed, order.OrderID, err)
	}

	if affected == 1 {
		return nil
	}

	// Zero rows: the order vanished or someone else won the version race.
	var actualTxNr int64

	err = tx.QueryRowContext(ctx, `SELECT tx_nr FROM orders WHERE order_id = $1`, order.OrderID).Scan(&actualTxNr)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: order_id %s", ErrOrderNotFound, order.OrderID)
	}

	if err != nil {
		return fmt.Errorf("%w: probe tx_nr for %s: %w", ErrOrderStoreFailed, order.OrderID, classifyError(err))
	}

	return &ConcurrentModificationError{
		OrderID:      order.OrderID,
		ExpectedTxNr: expectedTxNr,
		ActualTxNr:   actualTxNr,
	}
}

// insertExecution writes the execution row. Unique-constraint errors pass
// through raw so callers can inspect the constraint name.
func (s *OrderStore) insertExecution(ctx context.Context, tx *sql.Tx, exec domain.Execution) error {
	query := `
		INSERT INTO executions (
			exec_id, order_id, last_qty, last_px, cum_qty, avg_px, transact_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := tx.ExecContext(
		ctx,
		query,
		exec.ExecID, exec.OrderID,
		exec.LastQty, exec.LastPx, exec.CumQty, exec.AvgPx,
		exec.TransactTime,
	)

	return err
}

// executionExists probes the exec_id idempotency key inside the transaction.
func (s *OrderStore) executionExists(ctx context.Context, tx *sql.Tx, execID string) (bool, error) {
	var exists int

	err := tx.QueryRowContext(ctx, `SELECT 1 FROM executions WHERE exec_id = $1 LIMIT 1`, execID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("%w: exec_id probe %s: %w", ErrOrderStoreFailed, execID, classifyError(err))
	}

	return true, nil
}

// recordEvent appends the event-log entry and the matching outbox row. The
// log row id is the event sequence: it is stamped into the stored payload
// and into the outbox envelope, so consumers see the same eventId the log
// carries.
func (s *OrderStore) recordEvent(
	ctx context.Context,
	tx *sql.Tx,
	tables eventTables,
	payload domain.EventPayload,
) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal event payload: %w", ErrOrderStoreFailed, err)
	}

	// Allocate the log id up front so it can be stamped into the JSONB
	// payload within the same INSERT.
	query := `
		WITH next_id AS (
			SELECT nextval(pg_get_serial_sequence('` + tables.log + `', 'id')) AS id
		)
		INSERT INTO ` + tables.log + ` (id, order_id, event, payload)
		SELECT next_id.id, $1, $2, jsonb_set($3::jsonb, '{event,eventId}', to_jsonb(next_id.id))
		FROM next_id
		RETURNING id
	`

	var eventID int64

	err = tx.QueryRowContext(ctx, query, payload.Event.OrderID, string(payload.Event.Kind), string(body)).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("%w: append %s: %w", ErrOrderStoreFailed, tables.log, classifyError(err))
	}

	envelope := payload.Event
	envelope.EventID = eventID

	wire, err := json.Marshal(envelope)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal outbox envelope: %w", ErrOrderStoreFailed, err)
	}

	outboxQuery := `INSERT INTO ` + tables.outbox + ` (order_id, payload) VALUES ($1, $2)`

	_, err = tx.ExecContext(ctx, outboxQuery, envelope.OrderID, string(wire))
	if err != nil {
		return 0, fmt.Errorf("%w: insert %s: %w", ErrOrderStoreFailed, tables.outbox, classifyError(err))
	}

	return eventID, nil
}

// loadReplayedExecution reads the committed outcome of a duplicate exec_id:
// the execution that won and the order state it produced. An exec_id owned by
// a different order is not a replay but a genuine collision.
func (s *OrderStore) loadReplayedExecution(
	ctx context.Context,
	orderID, execID string,
) (domain.Order, domain.Execution, bool, error) {
	exec, err := s.FindExecutionByExecID(ctx, execID)
	if err != nil {
		return domain.Order{}, domain.Execution{}, false,
			fmt.Errorf("%w: load replayed execution: %w", ErrOrderStoreFailed, err)
	}

	if exec.OrderID != orderID {
		return domain.Order{}, domain.Execution{}, false,
			fmt.Errorf("%w: exec_id %s belongs to order %s, not %s",
				ErrDuplicateExecution, execID, exec.OrderID, orderID)
	}

	order, err := s.FindByOrderID(ctx, orderID)
	if err != nil {
		return domain.Order{}, domain.Execution{}, false,
			fmt.Errorf("%w: load order after replayed execution: %w", ErrOrderStoreFailed, err)
	}

	s.logger.Debug("execution replayed",
		slog.String("order_id", orderID),
		slog.String("exec_id", execID),
	)

	return order, exec, true, nil
}

// loadReplayedReplacement reads the committed outcome of a redelivered
// replace: the current original order and the replacement that already owns
// the natural key. A key owned by an order outside the chain is not a replay
// but a genuine collision.
func (s *OrderStore) loadReplayedReplacement(
	ctx context.Context,
	origOrderID, sessionID, clOrdID string,
) (domain.Order, domain.Order, bool, error) {
	replacement, err := s.FindBySessionIDAndClOrdID(ctx, sessionID, clOrdID)
	if err != nil {
		return domain.Order{}, domain.Order{}, false,
			fmt.Errorf("%w: load replayed replacement: %w", ErrOrderStoreFailed, err)
	}

	if replacement.ParentOrderID != origOrderID {
		return domain.Order{}, domain.Order{}, false,
			fmt.Errorf("%w: session_id %s, cl_ord_id %s taken outside the order chain",
				ErrDuplicateOrder, sessionID, clOrdID)
	}

	orig, err := s.FindByOrderID(ctx, origOrderID)
	if err != nil {
		return domain.Order{}, domain.Order{}, false,
			fmt.Errorf("%w: load original after replayed replace: %w", ErrOrderStoreFailed, err)
	}

	s.logger.Debug("replace replayed on natural key",
		slog.String("order_id", origOrderID),
		slog.String("replacement_cl_ord_id", clOrdID),
	)

	return orig, replacement, true, nil
}

// collectOrders drains rows into a slice using the shared scan order.
func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	var orders []domain.Order

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan order: %w", ErrOrderStoreFailed, err)
		}

		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate orders: %w", ErrOrderStoreFailed, classifyError(err))
	}

	return orders, nil
}

// scanOrder reads one row laid out as orderColumns.
func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                         domain.Order
		parentOrderID                                 sql.NullString
		side, ordType, assetClass, state, cancelState string
	)

	err := row.Scan(
		&order.OrderID, &order.SessionID, &order.ClOrdID, &parentOrderID, &order.RootOrderID,
		&order.Symbol, &side, &ordType, &assetClass, &order.Account,
		&order.OrderQty, &order.CumQty, &order.LeavesQty,
		&order.PlaceQty, &order.AllocQty, &order.CashOrderQty,
		&order.Price, &order.StopPx, &order.AvgPx,
		&state, &cancelState, &order.TxNr,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	order.ParentOrderID = parentOrderID.String
	order.Side = domain.Side(side)
	order.OrdType = domain.OrdType(ordType)
	order.AssetClass = domain.AssetClass(assetClass)
	order.State = domain.State(state)
	order.CancelState = domain.CancelState(cancelState)

	return order, nil
}

// nullIfEmpty maps the empty string to NULL for nullable text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}
