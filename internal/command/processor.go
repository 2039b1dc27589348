// Package command turns transport-agnostic commands into persisted order
// state. Each command kind runs a fixed task pipeline: validate the envelope,
// load or build the order, run the rule catalog, move the state machine, and
// persist the entity with its event and outbox row in one transaction.
//
// Processors are safe for concurrent use. Optimistic-concurrency conflicts
// retry with exponential backoff on a fresh pipeline context so the reload
// sees the winning version; every other failure is returned as-is for the
// transport to classify into a problem envelope.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/ordercore-io/ordercore/internal/domain"
	"github.com/ordercore-io/ordercore/internal/pipeline"
	"github.com/ordercore-io/ordercore/internal/problem"
	"github.com/ordercore-io/ordercore/internal/storage"
	"github.com/ordercore-io/ordercore/internal/validation"
)

// Status classifies the outcome of processing one command.
type Status string

// Processing outcomes.
const (
	// StatusCompleted means the command mutated state and emitted an event.
	StatusCompleted Status = "COMPLETED"

	// StatusReplayed means an idempotency key matched and the previously
	// stored outcome was returned without a new mutation.
	StatusReplayed Status = "REPLAYED"

	// StatusFailed means the command was rejected; Err carries the cause.
	StatusFailed Status = "FAILED"
)

// Conflict retry pacing. The first retry fires almost immediately; the cap
// keeps a long losing streak from stalling a worker.
const (
	conflictRetryInitialInterval = 25 * time.Millisecond
	conflictRetryMaxInterval     = 500 * time.Millisecond
)

// ProcessingResult is what a processor hands back to the transport.
type ProcessingResult struct {
	Status        Status
	CorrelationID string

	// Order is the persisted outcome: the created, mutated or replacement
	// order. Zero when Status is FAILED.
	Order domain.Order

	// Replaced is the canceled original of a cancel/replace, nil otherwise.
	Replaced *domain.Order

	// Execution is the persisted fill of an EXECUTE command, nil otherwise.
	Execution *domain.Execution

	// Err is the rejection cause when Status is FAILED, nil otherwise.
	Err error

	Message  string
	Attempts int
	Duration time.Duration
}

// Success reports whether the command landed, first try or replay.
func (r ProcessingResult) Success() bool {
	return r.Status != StatusFailed
}

// Replayed reports whether an idempotency key short-circuited the command.
func (r ProcessingResult) Replayed() bool {
	return r.Status == StatusReplayed
}

// Problem renders the failure as an RFC 7807 envelope, or nil on success.
func (r ProcessingResult) Problem() *problem.Problem {
	if r.Err == nil {
		return nil
	}

	return problem.FromError(r.Err, r.CorrelationID)
}

// Processor executes one command kind end to end.
type Processor interface {
	// Kind names the command kind this processor accepts.
	Kind() domain.CommandKind

	// Process runs the command to a terminal outcome. It never panics on bad
	// input; rejections come back inside the ProcessingResult.
	Process(ctx context.Context, cmd domain.Command) ProcessingResult
}

// Dependencies carries everything NewRegistry needs. Store and Logger come
// from the caller; zero values for the rest select the standard variant,
// the built-in rulebook and no conflict retries.
type Dependencies struct {
	Store Store

	// Variant selects the order state machine, standard when empty.
	Variant string

	// Rulebook parameterizes the per-asset-class validation rules.
	Rulebook *validation.Rulebook

	// MaxOrderQty caps order quantity in the rule catalog.
	MaxOrderQty decimal.Decimal

	// ConflictRetryMax bounds optimistic-concurrency retries per command.
	// Zero disables retrying.
	ConflictRetryMax int

	Logger *slog.Logger
	Sink   pipeline.Sink
}

// DefaultMaxOrderQty caps order quantity when the caller configures none.
const DefaultMaxOrderQty int64 = 1_000_000

// Registry routes commands to the processor for their kind.
type Registry struct {
	processors map[domain.CommandKind]Processor
	logger     *slog.Logger
}

// NewRegistry wires one processor per command kind against the given store
// and state machine variant.
func NewRegistry(deps Dependencies) (*Registry, error) {
	if deps.Store == nil {
		return nil, errors.New("command registry requires a store")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rulebook := deps.Rulebook
	if rulebook == nil {
		rulebook = validation.DefaultRulebook()
	}

	maxQty := deps.MaxOrderQty
	if maxQty.IsZero() {
		maxQty = decimal.NewFromInt(DefaultMaxOrderQty)
	}

	variant := deps.Variant
	if variant == "" {
		variant = domain.VariantStandard
	}

	machine, err := domain.OrderMachineForVariant(variant)
	if err != nil {
		return nil, err
	}

	acceptPath, err := domain.AcceptPath(variant)
	if err != nil {
		return nil, err
	}

	retryMax := deps.ConflictRetryMax
	if retryMax < 0 {
		retryMax = 0
	}

	intents := domain.CancelIntentMachine()
	validators := buildValidators(maxQty, rulebook)
	fallback := validation.NewEngine(false, validation.OrderRules(maxQty)...)
	orchestrator := pipeline.NewOrchestrator[*TaskContext](logger, deps.Sink)

	newProc := func(kind domain.CommandKind, p *pipeline.Pipeline[*TaskContext]) Processor {
		return &processor{
			kind:         kind,
			pipeline:     p,
			orchestrator: orchestrator,
			store:        deps.Store,
			logger:       logger,
			retryMax:     retryMax,
			probeCreate:  kind == domain.CommandCreate,
		}
	}

	processors := map[domain.CommandKind]Processor{
		domain.CommandCreate: newProc(domain.CommandCreate, pipeline.New[*TaskContext](
			"create_order", true, true,
			validateCommandTask{},
			buildOrderTask{store: deps.Store},
			validateOrderTask{validators: validators, fallback: fallback, target: updatedOrder},
			checkInitialStateTask{machine: machine, target: updatedOrder},
			persistCreationTask{store: deps.Store},
		)),

		domain.CommandAccept: newProc(domain.CommandAccept, pipeline.New[*TaskContext](
			"accept_order", true, true,
			validateCommandTask{},
			loadOrderTask{store: deps.Store},
			acceptOrderTask{machine: machine, path: acceptPath},
			persistUpdateTask{store: deps.Store, kind: staticEventKind(domain.EventOrderAccepted)},
		)),

		domain.CommandCancel: newProc(domain.CommandCancel, pipeline.New[*TaskContext](
			"cancel_order", true, true,
			validateCommandTask{},
			loadOrderTask{store: deps.Store, verifyClOrdID: true},
			raiseIntentTask{intents: intents, intent: domain.CancelStatePCXL},
			transitionStateTask{machine: machine, to: domain.StateCanceled},
			persistUpdateTask{store: deps.Store, kind: staticEventKind(domain.EventOrderCanceled)},
		)),

		domain.CommandReplace: newProc(domain.CommandReplace, pipeline.New[*TaskContext](
			"replace_order", true, true,
			validateCommandTask{},
			loadOrderTask{store: deps.Store, verifyClOrdID: true},
			raiseIntentTask{intents: intents, intent: domain.CancelStatePMOD},
			buildReplacementTask{},
			validateOrderTask{validators: validators, fallback: fallback, target: replacementOrder},
			checkInitialStateTask{machine: machine, target: replacementOrder},
			transitionStateTask{machine: machine, to: domain.StateCanceled},
			persistReplaceTask{store: deps.Store},
		)),

		domain.CommandExecute: newProc(domain.CommandExecute, pipeline.New[*TaskContext](
			"execute_order", true, true,
			validateCommandTask{},
			loadOrderTask{store: deps.Store},
			newValidateExecutionTask(),
			applyExecutionTask{machine: machine},
			persistExecutionTask{store: deps.Store},
		)),

		domain.CommandReject: newProc(domain.CommandReject, pipeline.New[*TaskContext](
			"reject_order", true, true,
			validateCommandTask{},
			loadOrderTask{store: deps.Store},
			transitionStateTask{machine: machine, to: domain.StateRejected},
			persistUpdateTask{store: deps.Store, kind: staticEventKind(domain.EventOrderRejected)},
		)),

		domain.CommandExpire: newProc(domain.CommandExpire, pipeline.New[*TaskContext](
			"expire_order", true, true,
			validateCommandTask{},
			loadOrderTask{store: deps.Store},
			transitionStateTask{machine: machine, to: domain.StateExpired},
			persistUpdateTask{store: deps.Store, kind: staticEventKind(domain.EventOrderExpired)},
		)),
	}

	logger.Info("Command processors registered",
		slog.Int("processors", len(processors)),
		slog.String("variant", variant),
		slog.Int("conflict_retry_max", retryMax),
	)

	return &Registry{processors: processors, logger: logger}, nil
}

// buildValidators assembles one rule engine per asset class: the shared
// order rules plus the class extensions from the rulebook.
func buildValidators(
	maxQty decimal.Decimal,
	rulebook *validation.Rulebook,
) map[domain.AssetClass]*validation.Engine[domain.Order] {
	classes := []domain.AssetClass{
		domain.AssetClassEquity,
		domain.AssetClassFX,
		domain.AssetClassFuture,
		domain.AssetClassOption,
	}

	validators := make(map[domain.AssetClass]*validation.Engine[domain.Order], len(classes))

	for _, class := range classes {
		rules := validation.OrderRules(maxQty)
		rules = append(rules, rulebook.ForAssetClass(class)...)
		validators[class] = validation.NewEngine(false, rules...)
	}

	return validators
}

// Process routes the command to its kind's processor.
func (r *Registry) Process(ctx context.Context, cmd domain.Command) ProcessingResult {
	p, ok := r.processors[cmd.Kind]
	if !ok {
		err := fmt.Errorf("%w: no processor for kind %q", domain.ErrInvalidCommand, cmd.Kind)

		return ProcessingResult{
			Status:        StatusFailed,
			CorrelationID: cmd.CorrelationID,
			Err:           err,
			Message:       "unknown command kind",
		}
	}

	return p.Process(ctx, cmd)
}

// Processor returns the processor registered for kind.
func (r *Registry) Processor(kind domain.CommandKind) (Processor, bool) {
	p, ok := r.processors[kind]

	return p, ok
}

// processor runs one command kind's pipeline with bounded conflict retry.
type processor struct {
	kind         domain.CommandKind
	pipeline     *pipeline.Pipeline[*TaskContext]
	orchestrator *pipeline.Orchestrator[*TaskContext]
	store        Store
	logger       *slog.Logger
	retryMax     int
	probeCreate  bool
}

// Kind names the command kind this processor accepts.
func (p *processor) Kind() domain.CommandKind {
	return p.kind
}

// Process runs the pipeline, retrying only on optimistic-concurrency
// conflicts. Each attempt gets a fresh TaskContext so the load task re-reads
// the winning version instead of replaying a stale snapshot.
func (p *processor) Process(ctx context.Context, cmd domain.Command) ProcessingResult {
	start := time.Now()

	if cmd.CorrelationID == "" {
		cmd.CorrelationID = NewCorrelationID()
	}

	if p.probeCreate {
		if result, ok := p.replayExisting(ctx, cmd); ok {
			result.Attempts = 1
			result.Duration = time.Since(start)

			return result
		}
	}

	var final *TaskContext

	attempts := 0

	operation := func() error {
		attempts++

		tc := NewTaskContext(cmd, cmd.CorrelationID)

		result := p.orchestrator.Execute(ctx, p.pipeline, tc)
		if result.Success {
			final = tc

			return nil
		}

		err := result.Err()
		if errors.Is(err, storage.ErrConcurrentModification) {
			return err
		}

		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, p.newBackOff(ctx)); err != nil {
		p.logger.Warn("Command rejected",
			slog.String("kind", string(p.kind)),
			slog.String("correlation_id", cmd.CorrelationID),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)

		return ProcessingResult{
			Status:        StatusFailed,
			CorrelationID: cmd.CorrelationID,
			Err:           err,
			Message:       "command rejected",
			Attempts:      attempts,
			Duration:      time.Since(start),
		}
	}

	return p.successResult(final, cmd.CorrelationID, attempts, start)
}

// replayExisting probes the natural key before running the CREATE pipeline.
// A hit returns the stored winner without building anything. Probe errors
// fall through to the pipeline, where the store's unique constraint is the
// authoritative fence.
func (p *processor) replayExisting(ctx context.Context, cmd domain.Command) (ProcessingResult, bool) {
	exists, err := p.store.ExistsBySessionIDAndClOrdID(ctx, cmd.SessionID, cmd.ClOrdID)
	if err != nil || !exists {
		return ProcessingResult{}, false
	}

	existing, err := p.store.FindBySessionIDAndClOrdID(ctx, cmd.SessionID, cmd.ClOrdID)
	if err != nil {
		return ProcessingResult{}, false
	}

	p.logger.Info("Command replayed",
		slog.String("kind", string(p.kind)),
		slog.String("correlation_id", cmd.CorrelationID),
		slog.String("order_id", existing.OrderID),
	)

	return ProcessingResult{
		Status:        StatusReplayed,
		CorrelationID: cmd.CorrelationID,
		Order:         existing,
		Message:       "order already stored for this client key",
	}, true
}

func (p *processor) successResult(
	tc *TaskContext,
	correlationID string,
	attempts int,
	start time.Time,
) ProcessingResult {
	result := ProcessingResult{
		Status:        StatusCompleted,
		CorrelationID: correlationID,
		Order:         tc.Stored,
		Attempts:      attempts,
		Duration:      time.Since(start),
		Message:       "command completed",
	}

	if tc.Replayed {
		result.Status = StatusReplayed
		result.Message = "command replayed from stored outcome"
	}

	if p.kind == domain.CommandExecute {
		exec := tc.StoredExec
		result.Execution = &exec
	}

	if p.kind == domain.CommandReplace {
		orig := tc.StoredOrig
		result.Replaced = &orig
	}

	return result
}

func (p *processor) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = conflictRetryInitialInterval
	bo.MaxInterval = conflictRetryMaxInterval

	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.retryMax)), ctx)
}
