package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ordercore-io/ordercore/internal/domain"
	"github.com/ordercore-io/ordercore/internal/pipeline"
	"github.com/ordercore-io/ordercore/internal/statemachine"
	"github.com/ordercore-io/ordercore/internal/validation"
)

// AttrValidationErrors is the TaskContext attribute under which the
// validation task stores the flattened rule failure messages.
const AttrValidationErrors = "validation_errors"

// Task ordering inside a command pipeline. Gaps leave room for insertions.
const (
	orderValidateCommand = 10
	orderLoadOrder       = 20
	orderRaiseIntent     = 30
	orderBuildOrder      = 30
	orderBuildReplace    = 40
	orderValidateOrder   = 50
	orderCheckInitial    = 60
	orderApplyExecution  = 60
	orderTransition      = 70
	orderPersist         = 90
)

// updatedOrder and replacementOrder select which order a shared task reads.
func updatedOrder(c *TaskContext) domain.Order     { return c.Updated }
func replacementOrder(c *TaskContext) domain.Order { return c.Replacement }

// validateCommandTask rejects malformed command envelopes before any I/O.
type validateCommandTask struct{}

func (validateCommandTask) Name() string { return "validate_command" }
func (validateCommandTask) Order() int   { return orderValidateCommand }

func (validateCommandTask) Execute(_ context.Context, c *TaskContext) pipeline.TaskResult {
	if err := c.Command.Validate(); err != nil {
		return pipeline.Failed("command envelope rejected", err)
	}

	return pipeline.Success("command envelope valid")
}

// loadOrderTask reads the target order into Current and seeds Updated with
// it. CANCEL and REPLACE additionally assert that the command's origClOrdId
// names the order's current client id, so a stale chain reference cannot
// mutate the wrong generation.
type loadOrderTask struct {
	store         Store
	verifyClOrdID bool
}

func (loadOrderTask) Name() string { return "load_order" }
func (loadOrderTask) Order() int   { return orderLoadOrder }

func (t loadOrderTask) Execute(ctx context.Context, c *TaskContext) pipeline.TaskResult {
	order, err := t.store.FindByOrderID(ctx, c.Command.OrderID)
	if err != nil {
		return pipeline.Failed("order not loaded", err)
	}

	if t.verifyClOrdID && order.ClOrdID != c.Command.OrigClOrdID {
		return pipeline.Failed("client id mismatch", fmt.Errorf(
			"%w: origClOrdId %q does not match order %s (current clOrdId %q)",
			domain.ErrInvalidCommand, c.Command.OrigClOrdID, order.OrderID, order.ClOrdID))
	}

	c.Current = order
	c.Updated = order

	return pipeline.Success("order loaded at tx_nr " + fmt.Sprint(order.TxNr))
}

// buildOrderTask assembles a new order from a CREATE command. The engine
// assigns the OrderID; clients only ever supply the (sessionId, clOrdId)
// natural key. A parentOrderId links the order into an existing tree and
// inherits that tree's root.
type buildOrderTask struct {
	store Store
}

func (buildOrderTask) Name() string { return "build_order" }
func (buildOrderTask) Order() int   { return orderBuildOrder }

func (t buildOrderTask) Execute(ctx context.Context, c *TaskContext) pipeline.TaskResult {
	cmd := c.Command
	now := time.Now().UTC()

	order := domain.Order{
		OrderID:      uuid.NewString(),
		SessionID:    cmd.SessionID,
		ClOrdID:      cmd.ClOrdID,
		Symbol:       cmd.Symbol,
		Side:         cmd.Side,
		OrdType:      cmd.OrdType,
		AssetClass:   cmd.AssetClass,
		Account:      cmd.Account,
		OrderQty:     domain.RoundQty(cmd.OrderQty),
		PlaceQty:     domain.RoundQty(cmd.PlaceQty),
		AllocQty:     domain.RoundQty(cmd.AllocQty),
		CashOrderQty: domain.RoundQty(cmd.CashOrderQty),
		Price:        domain.RoundPx(cmd.Price),
		StopPx:       domain.RoundPx(cmd.StopPx),
		State:        domain.StateNew,
		CancelState:  domain.CancelStateNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	order.RootOrderID = order.OrderID
	order.LeavesQty = order.OrderQty

	if cmd.ParentOrder != "" {
		parent, err := t.store.FindByOrderID(ctx, cmd.ParentOrder)
		if err != nil {
			return pipeline.Failed("parent order not loaded", err)
		}

		order.ParentOrderID = parent.OrderID
		order.RootOrderID = parent.RootOrderID
	}

	c.Updated = order

	return pipeline.Success("order " + order.OrderID + " assembled")
}

// buildReplacementTask assembles the replacement order of a cancel/replace.
// The replacement is a new generation in the chain: parent is the original,
// root is inherited, and executed quantity carries over so fills survive the
// swap. Order terms (quantity, prices, type) come from the command; the
// instrument identity is locked to the original.
type buildReplacementTask struct{}

func (buildReplacementTask) Name() string { return "build_replacement" }
func (buildReplacementTask) Order() int   { return orderBuildReplace }

func (buildReplacementTask) Execute(_ context.Context, c *TaskContext) pipeline.TaskResult {
	orig := c.Current
	cmd := c.Command

	if cmd.Symbol != "" && cmd.Symbol != orig.Symbol {
		return pipeline.Failed("instrument change rejected", fmt.Errorf(
			"%w: replace cannot change symbol (%q to %q)", domain.ErrInvalidCommand, orig.Symbol, cmd.Symbol))
	}

	if cmd.Side != "" && cmd.Side != orig.Side {
		return pipeline.Failed("side change rejected", fmt.Errorf(
			"%w: replace cannot change side (%q to %q)", domain.ErrInvalidCommand, orig.Side, cmd.Side))
	}

	now := time.Now().UTC()

	repl := domain.Order{
		OrderID:       uuid.NewString(),
		SessionID:     cmd.SessionID,
		ClOrdID:       cmd.ClOrdID,
		ParentOrderID: orig.OrderID,
		RootOrderID:   orig.RootOrderID,
		Symbol:        orig.Symbol,
		Side:          orig.Side,
		OrdType:       orig.OrdType,
		AssetClass:    orig.AssetClass,
		Account:       orig.Account,
		OrderQty:      domain.RoundQty(cmd.OrderQty),
		CumQty:        orig.CumQty,
		AvgPx:         orig.AvgPx,
		Price:         domain.RoundPx(cmd.Price),
		StopPx:        domain.RoundPx(cmd.StopPx),
		PlaceQty:      orig.PlaceQty,
		AllocQty:      orig.AllocQty,
		CashOrderQty:  orig.CashOrderQty,
		State:         domain.StateNew,
		CancelState:   domain.CancelStateNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if cmd.OrdType != "" {
		repl.OrdType = cmd.OrdType
	}

	if cmd.Account != "" {
		repl.Account = cmd.Account
	}

	repl.LeavesQty = domain.RoundQty(repl.OrderQty.Sub(repl.CumQty))

	c.Replacement = repl

	return pipeline.Success("replacement " + repl.OrderID + " assembled")
}

// validateOrderTask runs the asset-class rule catalog against the order
// selected by target. Failure messages land in the context attributes so the
// transport can render them into the problem envelope.
type validateOrderTask struct {
	validators map[domain.AssetClass]*validation.Engine[domain.Order]
	fallback   *validation.Engine[domain.Order]
	target     func(*TaskContext) domain.Order
}

func (validateOrderTask) Name() string { return "validate_order" }
func (validateOrderTask) Order() int   { return orderValidateOrder }

func (t validateOrderTask) Execute(_ context.Context, c *TaskContext) pipeline.TaskResult {
	order := t.target(c)

	engine, ok := t.validators[order.AssetClass]
	if !ok {
		engine = t.fallback
	}

	if err := engine.Validate(order); err != nil {
		var ruleErr *validation.RuleError
		if errors.As(err, &ruleErr) {
			c.SetAttribute(AttrValidationErrors, ruleErr.Messages())
		}

		return pipeline.Failed("order rejected by rule catalog", err)
	}

	return pipeline.Success("order passed rule catalog")
}

// validateExecutionTask builds the execution from the command, checks its
// shape, and rejects fills against orders that are not in a working state.
type validateExecutionTask struct {
	executable validation.Rule[domain.Order]
}

func newValidateExecutionTask() validateExecutionTask {
	return validateExecutionTask{executable: validation.ExecutableStateRule()}
}

func (validateExecutionTask) Name() string { return "validate_execution" }
func (validateExecutionTask) Order() int   { return orderValidateOrder }

func (t validateExecutionTask) Execute(_ context.Context, c *TaskContext) pipeline.TaskResult {
	if result := t.executable.Apply(c.Current); !result.IsValid() {
		err := &validation.RuleError{
			Failures: []validation.RuleFailure{{Rule: t.executable.Name(), Errors: result.Errors}},
		}
		c.SetAttribute(AttrValidationErrors, err.Messages())

		return pipeline.Failed("order not executable", err)
	}

	exec := c.Command.Execution()
	if err := exec.Validate(); err != nil {
		return pipeline.Failed("execution rejected", err)
	}

	c.Execution = exec

	return pipeline.Success("execution " + exec.ExecID + " valid")
}

// checkInitialStateTask asserts that a freshly built order enters the
// lifecycle through an initial state of the configured machine.
type checkInitialStateTask struct {
	machine *statemachine.Machine[domain.State]
	target  func(*TaskContext) domain.Order
}

func (checkInitialStateTask) Name() string { return "check_initial_state" }
func (checkInitialStateTask) Order() int   { return orderCheckInitial }

func (t checkInitialStateTask) Execute(_ context.Context, c *TaskContext) pipeline.TaskResult {
	order := t.target(c)

	if _, err := t.machine.InitialTransition(order.State); err != nil {
		return pipeline.Failed("creation state rejected", err)
	}

	return pipeline.Success("creation enters lifecycle at " + string(order.State))
}

// raiseIntentTask moves the cancel-intent machine. A second cancel or
// replace while one is pending fails as a conflict; the caller retries once
// the first intent resolves.
type raiseIntentTask struct {
	intents *statemachine.Machine[domain.CancelState]
	intent  domain.CancelState
}

func (t raiseIntentTask) Name() string {
	if t.intent == domain.CancelStatePMOD {
		return "raise_replace_intent"
	}

	return "raise_cancel_intent"
}

func (raiseIntentTask) Order() int { return orderRaiseIntent }

func (t raiseIntentTask) Execute(_ context.Context, c *TaskContext) pipeline.TaskResult {
	next, err := t.intents.Transition(c.Current.CancelState, t.intent)
	if err != nil {
		return pipeline.Failed("cancel intent refused",
			fmt.Errorf("%w: %w", domain.ErrPendingIntent, err))
	}

	c.Updated = c.Updated.WithCancelIntent(next)

	return pipeline.Success("intent " + string(next) + " raised")
}

// acceptOrderTask walks the variant's acceptance path from the current state
// and marks the order accepted. The standard variant walks UNACK then LIVE;
// the simplified variant goes straight to LIVE.
type acceptOrderTask struct {
	machine *statemachine.Machine[domain.State]
	path    []domain.State
}

func (acceptOrderTask) Name() string { return "transition_state" }
func (acceptOrderTask) Order() int   { return orderTransition }

func (t acceptOrderTask) Execute(_ context.Context, c *TaskContext) pipeline.TaskResult {
	seq := t.machine.ValidateSequence(c.Current.State, t.path...)
	if !seq.Valid {
		return pipeline.Failed("acceptance path rejected", seq.Err)
	}

	c.Updated = c.Updated.MarkAccepted()

	return pipeline.Success(fmt.Sprintf("%s accepted as %s", c.Current.State, c.Updated.State))
}

// transitionStateTask moves the order to a fixed target state, applying the
// matching domain mark so intent and bookkeeping fields stay consistent.
type transitionStateTask struct {
	machine *statemachine.Machine[domain.State]
	to      domain.State
}

func (transitionStateTask) Name() string { return "transition_state" }
func (transitionStateTask) Order() int   { return orderTransition }

func (t transitionStateTask) Execute(_ context.Context, c *TaskContext) pipeline.TaskResult {
	next, err := t.machine.Transition(c.Current.State, t.to)
	if err != nil {
		return pipeline.Failed("transition rejected", err)
	}

	switch next {
	case domain.StateCanceled:
		c.Updated = c.Updated.MarkCanceled()
	case domain.StateRejected:
		c.Updated = c.Updated.MarkRejected()
	case domain.StateExpired:
		c.Updated = c.Updated.MarkExpired()
	case domain.StateClosed:
		c.Updated = c.Updated.MarkClosed()
	default:
		c.Updated = c.Updated.WithState(next)
	}

	return pipeline.Success(fmt.Sprintf("%s transitioned to %s", c.Current.State, next))
}

// applyExecutionTask folds the fill into the order and double-checks the
// implied state change against the machine. ApplyExecution computes the new
// cumulative quantity and volume-weighted average price.
type applyExecutionTask struct {
	machine *statemachine.Machine[domain.State]
}

func (applyExecutionTask) Name() string { return "apply_execution" }
func (applyExecutionTask) Order() int   { return orderApplyExecution }

func (t applyExecutionTask) Execute(_ context.Context, c *TaskContext) pipeline.TaskResult {
	applied, err := c.Current.ApplyExecution(c.Execution)
	if err != nil {
		return pipeline.Failed("execution not applicable", err)
	}

	if applied.State != c.Current.State {
		if _, err := t.machine.Transition(c.Current.State, applied.State); err != nil {
			return pipeline.Failed("fill transition rejected", err)
		}
	}

	c.Updated = applied
	c.Execution = c.Execution.WithOrderState(applied)

	return pipeline.Success(fmt.Sprintf("fill applied: cumQty %s, state %s",
		applied.CumQty, applied.State))
}

// persistCreationTask writes the creation triple. A natural-key replay is a
// success that surfaces the stored winner.
type persistCreationTask struct {
	store Store
}

func (persistCreationTask) Name() string { return "persist_creation" }
func (persistCreationTask) Order() int   { return orderPersist }

func (t persistCreationTask) Execute(ctx context.Context, c *TaskContext) pipeline.TaskResult {
	payload := domain.EventPayload{
		Command: c.Command,
		Event:   domain.NewEvent(domain.EventNewOrder, c.Updated, c.correlationID, time.Now().UTC()),
	}

	stored, replayed, err := t.store.CreateOrder(ctx, c.Updated, payload)
	if err != nil {
		return pipeline.Failed("creation not persisted", err)
	}

	c.Stored = stored
	c.Replayed = replayed

	if replayed {
		return pipeline.Success("creation replayed: key already stored as " + stored.OrderID)
	}

	return pipeline.Success("order persisted with creation event and outbox row")
}

// persistUpdateTask writes a lifecycle mutation triple under the version
// fence. The event kind is computed from the persisted order so callers can
// share this task across lifecycle pipelines.
type persistUpdateTask struct {
	store Store
	kind  func(domain.Order) domain.EventKind
}

func staticEventKind(kind domain.EventKind) func(domain.Order) domain.EventKind {
	return func(domain.Order) domain.EventKind { return kind }
}

func (persistUpdateTask) Name() string { return "persist_update" }
func (persistUpdateTask) Order() int   { return orderPersist }

func (t persistUpdateTask) Execute(ctx context.Context, c *TaskContext) pipeline.TaskResult {
	kind := t.kind(c.Updated)
	payload := domain.EventPayload{
		Command: c.Command,
		Event:   domain.NewEvent(kind, c.Updated, c.correlationID, time.Now().UTC()),
	}

	stored, err := t.store.UpdateOrder(ctx, c.Updated, c.Current.TxNr, payload)
	if err != nil {
		return pipeline.Failed("update not persisted", err)
	}

	c.Stored = stored

	return pipeline.Success("order persisted with " + string(kind) + " event and outbox row")
}

// persistExecutionTask writes the fill triple: order mutation, execution row
// and both event families. A redelivered exec_id is a success that surfaces
// the stored outcome.
type persistExecutionTask struct {
	store Store
}

func (persistExecutionTask) Name() string { return "persist_execution" }
func (persistExecutionTask) Order() int   { return orderPersist }

func (t persistExecutionTask) Execute(ctx context.Context, c *TaskContext) pipeline.TaskResult {
	now := time.Now().UTC()

	orderEvent := domain.EventPayload{
		Command: c.Command,
		Event:   domain.NewEvent(domain.FillEventKind(c.Updated), c.Updated, c.correlationID, now),
	}

	execEvent := domain.EventPayload{
		Command: c.Command,
		Event:   domain.NewEvent(domain.EventExecutionCreated, c.Updated, c.correlationID, now),
	}
	execEvent.Event.Execution = domain.SnapshotExecution(c.Execution)

	stored, storedExec, replayed, err := t.store.UpdateOrderWithExecution(
		ctx, c.Updated, c.Current.TxNr, c.Execution, orderEvent, execEvent)
	if err != nil {
		return pipeline.Failed("execution not persisted", err)
	}

	c.Stored = stored
	c.StoredExec = storedExec
	c.Replayed = replayed

	if replayed {
		return pipeline.Success("execution replayed: exec " + storedExec.ExecID + " already stored")
	}

	return pipeline.Success("order and execution persisted with events and outbox rows")
}

// persistReplaceTask writes the cancel/replace pair atomically: the original
// moves to CANCELED under the version fence and the replacement is created,
// with one event and outbox row each. A redelivered replacement key is a
// success that surfaces the stored pair.
type persistReplaceTask struct {
	store Store
}

func (persistReplaceTask) Name() string { return "persist_replace" }
func (persistReplaceTask) Order() int   { return orderPersist }

func (t persistReplaceTask) Execute(ctx context.Context, c *TaskContext) pipeline.TaskResult {
	now := time.Now().UTC()

	origEvent := domain.EventPayload{
		Command: c.Command,
		Event:   domain.NewEvent(domain.EventOrderReplaced, c.Updated, c.correlationID, now),
	}
	newEvent := domain.EventPayload{
		Command: c.Command,
		Event:   domain.NewEvent(domain.EventNewOrder, c.Replacement, c.correlationID, now),
	}

	orig, repl, replayed, err := t.store.ReplaceOrder(
		ctx, c.Updated, c.Current.TxNr, c.Replacement, origEvent, newEvent)
	if err != nil {
		return pipeline.Failed("replace not persisted", err)
	}

	c.StoredOrig = orig
	c.Stored = repl
	c.Replayed = replayed

	if replayed {
		return pipeline.Success("replace replayed: replacement already stored as " + repl.OrderID)
	}

	return pipeline.Success("original canceled and replacement persisted")
}
