package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ordercore-io/ordercore/internal/domain"
)

// ErrDispatcherStopped rejects submissions after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Dispatcher fans commands out to a fixed worker pool. Submit blocks the
// caller until a worker returns the outcome, so transports get synchronous
// semantics over an asynchronous pool. An optional token-bucket limiter
// throttles intake before a command ever reaches a worker.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	limiter  *rate.Limiter
	deadline time.Duration
	workers  int

	commands chan dispatchItem
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// dispatchItem is one queued command. The context is the submitter's and
// travels with the command so deadlines and cancellation survive the hop
// between goroutines.
type dispatchItem struct {
	ctx    context.Context
	cmd    domain.Command
	result chan ProcessingResult
}

// NewDispatcher builds a stopped dispatcher; call Start to spin the pool up.
func NewDispatcher(registry *Registry, cfg *Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}

	deadline := cfg.DeadlineDefault
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	d := &Dispatcher{
		registry: registry,
		logger:   logger,
		deadline: deadline,
		workers:  workers,
		commands: make(chan dispatchItem),
		done:     make(chan struct{}),
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = cfg.RateLimit
		}

		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return d
}

// Start spins up the worker pool. Start once; Stop is idempotent.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)

		go d.worker()
	}

	d.logger.Info("Dispatcher started",
		slog.Int("workers", d.workers),
		slog.Bool("rate_limited", d.limiter != nil),
		slog.Duration("default_deadline", d.deadline),
	)
}

// Submit queues the command and waits for its outcome. The limiter, the
// queue hop and the wait all respect ctx; a caller that gives up gets a
// FAILED result, but a command already picked up by a worker still runs to
// its own deadline, so the store may commit it anyway.
func (d *Dispatcher) Submit(ctx context.Context, cmd domain.Command) ProcessingResult {
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = NewCorrelationID()
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return d.failed(cmd, fmt.Errorf("command intake throttled: %w", err), "intake throttled")
		}
	}

	item := dispatchItem{
		ctx:    ctx,
		cmd:    cmd,
		result: make(chan ProcessingResult, 1),
	}

	select {
	case d.commands <- item:
	case <-d.done:
		return d.failed(cmd, ErrDispatcherStopped, "dispatcher stopped")
	case <-ctx.Done():
		return d.failed(cmd, ctx.Err(), "abandoned before dispatch")
	}

	select {
	case result := <-item.result:
		return result
	case <-ctx.Done():
		// The worker finishes into the buffered channel; the mutation may
		// still commit even though this caller stopped waiting.
		return d.failed(cmd, ctx.Err(), "abandoned while processing; outcome may still commit")
	}
}

// Stop drains the pool: no new submissions are accepted and Stop returns
// once in-flight commands have finished.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
		d.logger.Info("Dispatcher stopped")
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case item := <-d.commands:
			item.result <- d.process(item.ctx, item.cmd)
		}
	}
}

// process bounds every command by a deadline: the command's own when it
// carries one, the configured default otherwise.
func (d *Dispatcher) process(ctx context.Context, cmd domain.Command) ProcessingResult {
	var cancel context.CancelFunc

	if cmd.Deadline != nil {
		ctx, cancel = context.WithDeadline(ctx, *cmd.Deadline)
	} else {
		ctx, cancel = context.WithTimeout(ctx, d.deadline)
	}
	defer cancel()

	return d.registry.Process(ctx, cmd)
}

func (d *Dispatcher) failed(cmd domain.Command, err error, message string) ProcessingResult {
	return ProcessingResult{
		Status:        StatusFailed,
		CorrelationID: cmd.CorrelationID,
		Err:           err,
		Message:       message,
	}
}
