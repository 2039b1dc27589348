package command

import (
	"github.com/ordercore-io/ordercore/internal/domain"
)

// TaskContext carries one command through its pipeline. Tasks read what
// earlier tasks produced and write what later tasks consume; the processor
// reads the final fields to build the ProcessingResult.
//
// A TaskContext lives for exactly one pipeline attempt. Conflict retries
// build a fresh one so the load task re-reads the current version instead of
// replaying a stale snapshot.
type TaskContext struct {
	// Command is the triggering command, correlation id already stamped.
	Command domain.Command

	// Current is the order as loaded from the store. Zero for CREATE.
	Current domain.Order

	// Updated is the order as mutated by the pipeline, not yet persisted.
	Updated domain.Order

	// Replacement is the new order built by a cancel/replace. Zero otherwise.
	Replacement domain.Order

	// Execution is the fill built from an EXECUTE command. Zero otherwise.
	Execution domain.Execution

	// Stored is the persisted outcome: the created, updated or replacement
	// order as the store returned it.
	Stored domain.Order

	// StoredOrig is the canceled original of a cancel/replace as persisted.
	StoredOrig domain.Order

	// StoredExec is the persisted execution of an EXECUTE command.
	StoredExec domain.Execution

	// Replayed reports that the store recognized an idempotency key and
	// returned the previously stored outcome.
	Replayed bool

	correlationID string
	attributes    map[string]any
}

// NewTaskContext builds the carrier for one pipeline attempt.
func NewTaskContext(cmd domain.Command, correlationID string) *TaskContext {
	return &TaskContext{
		Command:       cmd,
		correlationID: correlationID,
		attributes:    make(map[string]any),
	}
}

// CorrelationID implements pipeline.Correlated so every task log line carries
// the command's correlation id.
func (c *TaskContext) CorrelationID() string {
	return c.correlationID
}

// SetAttribute stores an auxiliary value for later tasks or the caller.
func (c *TaskContext) SetAttribute(key string, value any) {
	c.attributes[key] = value
}

// Attribute returns an auxiliary value stored by an earlier task.
func (c *TaskContext) Attribute(key string) (any, bool) {
	v, ok := c.attributes[key]
	return v, ok
}
