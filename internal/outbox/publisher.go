// Package outbox drains the transactional outbox tables to Kafka. Each
// publisher worker owns one hash slot of order ids and claims rows with
// FOR UPDATE SKIP LOCKED, so workers never contend on the same rows and
// events for one order are always shipped by the same worker in insertion
// order.
package outbox

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"github.com/segmentio/kafka-go"

	"github.com/ordercore-io/ordercore/internal/config"
	"github.com/ordercore-io/ordercore/internal/storage"
)

var (
	// ErrNoWriter is returned when a publisher is constructed without a
	// Kafka writer.
	ErrNoWriter = errors.New("no message writer")

	// ErrSlotOutOfRange is returned when a publisher slot does not fit
	// the configured publisher count.
	ErrSlotOutOfRange = errors.New("publisher slot out of range")

	// ErrUnknownFamily is returned when a publisher is constructed with a
	// family that names no outbox tables.
	ErrUnknownFamily = errors.New("unknown outbox family")
)

const (
	// shutdownTimeout bounds how long Stop waits for the drain loop.
	shutdownTimeout = 5 * time.Second

	// writerBatchTimeout keeps the synchronous writer from sitting on a
	// partial accumulation window before flushing.
	writerBatchTimeout = 50 * time.Millisecond
)

type (
	// Family names the outbox tables and destination topic for one event
	// stream.
	Family struct {
		Name       string
		Table      string
		Quarantine string
		Topic      string
	}

	// messageWriter is the broker-facing surface of a publisher.
	// *kafka.Writer satisfies it; unit tests substitute a scripted writer.
	messageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	}

	// Publisher is one worker draining one hash slot of one event family.
	//
	// Delivery is at-least-once: a batch whose broker write fails rolls
	// back and is re-published in full, so consumers must deduplicate by
	// eventId. Rows the broker rejects for reasons retrying cannot fix
	// accumulate attempts and are parked in the quarantine table once
	// they exhaust the configured budget.
	Publisher struct {
		conn   *storage.Connection
		writer messageWriter
		family Family
		slot   int
		cfg    *Config
		logger *slog.Logger

		stop      chan struct{} // Signal to stop the drain loop
		done      chan struct{} // Signal the drain loop has stopped
		started   chan struct{} // Closed once the drain loop is launched
		startOnce sync.Once
		stopOnce  sync.Once
	}

	// claimedRow is one outbox row locked by the claim transaction.
	claimedRow struct {
		id       int64
		orderID  string
		payload  []byte
		attempts int
	}

	// rejection pairs a row with the non-transient error the broker
	// answered with.
	rejection struct {
		row claimedRow
		err error
	}
)

// OrderEvents is the order lifecycle family backed by the order_outbox
// table.
func OrderEvents(topic string) Family {
	return Family{
		Name:       "order_events",
		Table:      "order_outbox",
		Quarantine: "order_outbox_quarantine",
		Topic:      topic,
	}
}

// ExecutionEvents is the fill family backed by the execution_outbox table.
func ExecutionEvents(topic string) Family {
	return Family{
		Name:       "execution_events",
		Table:      "execution_outbox",
		Quarantine: "execution_outbox_quarantine",
		Topic:      topic,
	}
}

// NewWriter builds the writer a publisher ships with. Writes block until the
// full ISR acknowledges, and the Hash balancer pins each order id to one
// partition so per-order ordering survives partitioning.
func NewWriter(brokers []string, topic string, autoCreateTopics bool) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           writerBatchTimeout,
		AllowAutoTopicCreation: autoCreateTopics,
	}
}

// NewPublisher creates a publisher for one (family, slot) pair. A nil config
// loads from the environment; a nil logger gets the standard JSON logger.
func NewPublisher(
	conn *storage.Connection,
	writer messageWriter,
	family Family,
	slot int,
	cfg *Config,
	logger *slog.Logger,
) (*Publisher, error) {
	if conn == nil {
		return nil, storage.ErrNoDatabaseConnection
	}

	if writer == nil {
		return nil, ErrNoWriter
	}

	if family.Table == "" || family.Quarantine == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family.Name)
	}

	if cfg == nil {
		cfg = LoadConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("outbox config: %w", err)
	}

	if slot < 0 || slot >= cfg.Publishers {
		return nil, fmt.Errorf("%w: slot %d with %d publishers", ErrSlotOutOfRange, slot, cfg.Publishers)
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		}))
	}

	return &Publisher{
		conn:    conn,
		writer:  writer,
		family:  family,
		slot:    slot,
		cfg:     cfg,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}, nil
}

// Start launches the drain loop. Safe to call multiple times.
func (p *Publisher) Start() {
	p.startOnce.Do(func() {
		close(p.started)
		go p.run()

		p.logger.Info("Outbox publisher started",
			slog.String("family", p.family.Name),
			slog.Int("slot", p.slot),
			slog.String("topic", p.family.Topic),
			slog.Duration("poll_interval", p.cfg.PollInterval),
		)
	})
}

// Stop signals the drain loop and waits for it to finish. A publisher that
// never started has no loop to wait for. Safe to call multiple times.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)

		select {
		case <-p.started:
		default:
			return
		}

		select {
		case <-p.done:
			p.logger.Info("Outbox publisher stopped",
				slog.String("family", p.family.Name),
				slog.Int("slot", p.slot),
			)
		case <-time.After(shutdownTimeout):
			p.logger.Warn("Outbox publisher did not stop within timeout",
				slog.String("family", p.family.Name),
				slog.Int("slot", p.slot),
			)
		}
	})
}

// run polls the slot on a ticker until Stop closes the stop channel. The
// context it hands down is canceled on stop, so in-flight claims and broker
// writes abort instead of holding shutdown hostage.
func (p *Publisher) run() {
	defer close(p.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-p.stop
		cancel()
	}()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// drain empties the publisher's slot, claiming and publishing batches until
// a claim comes back short. A transient failure backs off and retries in
// place so rows are never skipped; only shutdown interrupts the loop.
func (p *Publisher) drain(ctx context.Context) {
	bo := p.newBackOff()

	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := p.publishBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			wait := bo.NextBackOff()
			p.logger.Warn("Outbox publish failed; backing off",
				slog.String("family", p.family.Name),
				slog.Int("slot", p.slot),
				slog.Duration("retry_in", wait),
				slog.String("error", err.Error()),
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			continue
		}

		bo.Reset()

		if claimed < p.cfg.BatchSize {
			return
		}
	}
}

// newBackOff builds the retry schedule for broker outages. MaxElapsedTime
// zero keeps NextBackOff from ever returning Stop; a row waits in the outbox
// for as long as the broker is down.
func (p *Publisher) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.BackoffInitial
	bo.MaxInterval = p.cfg.BackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

// publishBatch runs one claim transaction: lock a batch of rows, write them
// to the broker, delete what was acknowledged, and settle what was rejected.
// Returns how many rows were claimed so the caller can tell a full slot from
// a drained one.
//
// Any transient failure rolls the whole batch back. Rows already written to
// the broker in that batch are re-published on the next attempt, which is
// the at-least-once contract; deleting only the acknowledged subset could
// reorder events within an order across retries.
func (p *Publisher) publishBatch(ctx context.Context) (int, error) {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin claim transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	rows, err := p.claim(ctx, tx)
	if err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		return 0, nil
	}

	acked, rejected, err := p.publish(ctx, rows)
	if err != nil {
		return len(rows), err
	}

	if err := p.ack(ctx, tx, acked); err != nil {
		return len(rows), err
	}

	parked, err := p.reject(ctx, tx, rejected)
	if err != nil {
		return len(rows), err
	}

	if err := tx.Commit(); err != nil {
		return len(rows), fmt.Errorf("commit claim transaction: %w", err)
	}

	for _, rej := range parked {
		p.logger.Error("Outbox row quarantined",
			slog.String("family", p.family.Name),
			slog.Int("slot", p.slot),
			slog.Int64("outbox_id", rej.row.id),
			slog.String("order_id", rej.row.orderID),
			slog.Int("attempts", rej.row.attempts+1),
			slog.String("error", rej.err.Error()),
		)
	}

	if len(acked) > 0 {
		p.logger.Debug("outbox batch published",
			slog.String("family", p.family.Name),
			slog.Int("slot", p.slot),
			slog.Int("published", len(acked)),
			slog.String("topic", p.family.Topic),
		)
	}

	return len(rows), nil
}

// claim locks the next batch of rows in this publisher's slot. SKIP LOCKED
// lets concurrent slots proceed without waiting on each other, and the id
// ordering preserves insertion order within every order id.
func (p *Publisher) claim(ctx context.Context, tx *sql.Tx) ([]claimedRow, error) {
	query := `
		SELECT id, order_id, payload, attempt_count
		FROM ` + p.family.Table + `
		WHERE abs(hashtext(order_id)) % $1 = $2
		ORDER BY id ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.QueryContext(ctx, query, p.cfg.Publishers, p.slot, p.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("claim %s rows: %w", p.family.Table, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var claimed []claimedRow

	for rows.Next() {
		var row claimedRow
		if err := rows.Scan(&row.id, &row.orderID, &row.payload, &row.attempts); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", p.family.Table, err)
		}

		claimed = append(claimed, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", p.family.Table, err)
	}

	return claimed, nil
}

// publish writes the claimed rows to the broker and partitions them into
// acknowledged rows and non-transient rejections. A non-nil error means the
// batch hit a transient condition and must be retried whole.
func (p *Publisher) publish(ctx context.Context, rows []claimedRow) ([]claimedRow, []rejection, error) {
	msgs := buildMessages(rows)

	wctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	err := p.writer.WriteMessages(wctx, msgs...)
	if err == nil {
		return rows, nil, nil
	}

	var tooLarge kafka.MessageTooLargeError
	if errors.As(err, &tooLarge) {
		// Client-side size rejection: nothing was sent. Settle the
		// offending row and leave the rest for the next round.
		idx := indexOfPayload(rows, tooLarge.Message.Value)
		if idx < 0 {
			return nil, nil, fmt.Errorf("oversize message matches no claimed row: %w", err)
		}

		return nil, []rejection{{row: rows[idx], err: err}}, nil
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) && len(writeErrs) == len(rows) {
		acked := make([]claimedRow, 0, len(rows))
		rejected := make([]rejection, 0)

		for i, werr := range writeErrs {
			switch {
			case werr == nil:
				acked = append(acked, rows[i])
			case retryable(werr):
				// One transient failure retries the whole batch so
				// redelivery keeps per-order insertion order.
				return nil, nil, fmt.Errorf("write %s: %w", p.family.Topic, werr)
			default:
				rejected = append(rejected, rejection{row: rows[i], err: werr})
			}
		}

		return acked, rejected, nil
	}

	if !retryable(err) {
		// The broker refused the whole write for a reason retrying cannot
		// fix. Settle every claimed row against its attempt budget.
		rejected := make([]rejection, len(rows))
		for i, row := range rows {
			rejected[i] = rejection{row: row, err: err}
		}

		return nil, rejected, nil
	}

	return nil, nil, fmt.Errorf("write %s: %w", p.family.Topic, err)
}

// ack deletes rows the broker acknowledged.
func (p *Publisher) ack(ctx context.Context, tx *sql.Tx, acked []claimedRow) error {
	if len(acked) == 0 {
		return nil
	}

	ids := make([]int64, len(acked))
	for i, row := range acked {
		ids[i] = row.id
	}

	query := `DELETE FROM ` + p.family.Table + ` WHERE id = ANY($1)`

	if _, err := tx.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete published %s rows: %w", p.family.Table, err)
	}

	return nil
}

// reject settles non-transient rejections: rows under the quarantine budget
// get their attempt count bumped and stay claimable, rows that exhausted it
// move to the quarantine table. Returns the rows it parked.
func (p *Publisher) reject(ctx context.Context, tx *sql.Tx, rejected []rejection) ([]rejection, error) {
	var parked []rejection

	for _, rej := range rejected {
		if rej.row.attempts+1 < p.cfg.QuarantineAttempts {
			query := `UPDATE ` + p.family.Table + ` SET attempt_count = attempt_count + 1 WHERE id = $1`

			if _, err := tx.ExecContext(ctx, query, rej.row.id); err != nil {
				return nil, fmt.Errorf("bump %s attempt count: %w", p.family.Table, err)
			}

			continue
		}

		if err := p.park(ctx, tx, rej); err != nil {
			return nil, err
		}

		parked = append(parked, rej)
	}

	return parked, nil
}

// park moves one row to the quarantine table, keeping its outbox id for
// traceability.
func (p *Publisher) park(ctx context.Context, tx *sql.Tx, rej rejection) error {
	insert := `
		INSERT INTO ` + p.family.Quarantine + ` (id, order_id, payload, attempt_count, last_error, created_at)
		SELECT id, order_id, payload, attempt_count + 1, $2, created_at
		FROM ` + p.family.Table + `
		WHERE id = $1
	`

	if _, err := tx.ExecContext(ctx, insert, rej.row.id, rej.err.Error()); err != nil {
		return fmt.Errorf("quarantine %s row %d: %w", p.family.Table, rej.row.id, err)
	}

	remove := `DELETE FROM ` + p.family.Table + ` WHERE id = $1`

	if _, err := tx.ExecContext(ctx, remove, rej.row.id); err != nil {
		return fmt.Errorf("remove quarantined %s row %d: %w", p.family.Table, rej.row.id, err)
	}

	return nil
}

// buildMessages converts claimed rows to messages in claim order. The key is
// the order id, which the Hash balancer maps to a stable partition.
func buildMessages(rows []claimedRow) []kafka.Message {
	msgs := make([]kafka.Message, len(rows))
	for i, row := range rows {
		msgs[i] = kafka.Message{
			Key:   []byte(row.orderID),
			Value: row.payload,
		}
	}

	return msgs
}

// indexOfPayload finds the claimed row carrying the given wire payload.
// Payloads are unique because every one carries its own eventId.
func indexOfPayload(rows []claimedRow, payload []byte) int {
	for i, row := range rows {
		if bytes.Equal(row.payload, payload) {
			return i
		}
	}

	return -1
}

// retryable reports whether a publish failure can heal on its own. Kafka
// protocol errors answer for themselves; anything unclassified is treated
// as transient so a row is never parked on guesswork.
func retryable(err error) bool {
	var tooLarge kafka.MessageTooLargeError
	if errors.As(err, &tooLarge) {
		return false
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}

	return true
}
