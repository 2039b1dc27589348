// Package pipeline executes ordered task sequences against a mutable
// per-command context.
//
// A Pipeline is an immutable, named list of tasks built once at startup.
// The Orchestrator runs a pipeline inside whatever transaction the caller
// has open: tasks run sequentially in the calling goroutine, results are
// collected per task, and a FAILED result aborts the run when the pipeline
// is built with stopOnFailure. Deadlines are cooperative and checked at
// task boundaries.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Status classifies the outcome of one task invocation.
type Status string

// Valid task statuses.
const (
	StatusSuccess Status = "SUCCESS"
	StatusSkipped Status = "SKIPPED"
	StatusFailed  Status = "FAILED"
	StatusWarning Status = "WARNING"
)

type (
	// Task is one step of a pipeline. Execute runs in the calling goroutine
	// and transaction; it may mutate the pipeline context C.
	Task[C any] interface {
		// Name identifies the task in results and logs.
		Name() string

		// Order is the sort key when the pipeline sorts tasks; lower runs first.
		Order() int

		// Execute runs the task against the pipeline context.
		Execute(ctx context.Context, c C) TaskResult
	}

	// Conditional is implemented by tasks with a precondition. When
	// ShouldExecute returns false the task is recorded as SKIPPED.
	Conditional[C any] interface {
		ShouldExecute(c C) bool
	}

	// Correlated is implemented by pipeline contexts that carry a
	// correlation id for log lines.
	Correlated interface {
		CorrelationID() string
	}

	// TaskResult is the outcome of one task invocation. Task and Duration
	// are filled in by the Orchestrator.
	TaskResult struct {
		Task     string
		Status   Status
		Message  string
		Err      error
		Warnings []string
		Duration time.Duration
	}

	// Result is the outcome of one pipeline run. Success means no task FAILED.
	Result struct {
		PipelineName  string
		TaskResults   []TaskResult
		Success       bool
		ExecutionTime time.Duration
	}

	// Pipeline is an immutable named task list.
	Pipeline[C any] struct {
		name          string
		tasks         []Task[C]
		stopOnFailure bool
		sortByOrder   bool
	}
)

// Success returns a SUCCESS result with an optional message.
func Success(message string) TaskResult {
	return TaskResult{Status: StatusSuccess, Message: message}
}

// Skipped returns a SKIPPED result with the reason the task did not run.
func Skipped(message string) TaskResult {
	return TaskResult{Status: StatusSkipped, Message: message}
}

// Failed returns a FAILED result carrying the causing error.
func Failed(message string, err error) TaskResult {
	return TaskResult{Status: StatusFailed, Message: message, Err: err}
}

// Warn returns a WARNING result. The task completed but flagged conditions
// the caller may want to surface.
func Warn(message string, warnings ...string) TaskResult {
	return TaskResult{Status: StatusWarning, Message: message, Warnings: warnings}
}

// New builds an immutable pipeline over the given tasks. With stopOnFailure
// a FAILED task aborts the run; with sortByOrder tasks are stable-sorted by
// their Order key before execution.
func New[C any](name string, stopOnFailure, sortByOrder bool, tasks ...Task[C]) *Pipeline[C] {
	owned := make([]Task[C], len(tasks))
	copy(owned, tasks)

	if sortByOrder {
		sort.SliceStable(owned, func(i, j int) bool {
			return owned[i].Order() < owned[j].Order()
		})
	}

	return &Pipeline[C]{
		name:          name,
		tasks:         owned,
		stopOnFailure: stopOnFailure,
		sortByOrder:   sortByOrder,
	}
}

// Name returns the pipeline name used in results and logs.
func (p *Pipeline[C]) Name() string {
	return p.name
}

// Tasks returns the task list in execution order.
func (p *Pipeline[C]) Tasks() []Task[C] {
	tasks := make([]Task[C], len(p.tasks))
	copy(tasks, p.tasks)

	return tasks
}

// Failed returns the results of every task that FAILED.
func (r Result) Failed() []TaskResult {
	var failed []TaskResult

	for _, tr := range r.TaskResults {
		if tr.Status == StatusFailed {
			failed = append(failed, tr)
		}
	}

	return failed
}

// Err returns the error of the first FAILED task, or nil when the run
// succeeded.
func (r Result) Err() error {
	for _, tr := range r.TaskResults {
		if tr.Status != StatusFailed {
			continue
		}

		if tr.Err != nil {
			return tr.Err
		}

		return fmt.Errorf("task %s failed: %s", tr.Task, tr.Message)
	}

	return nil
}

// Warnings flattens the warnings collected by every task, in task order.
func (r Result) Warnings() []string {
	var warnings []string

	for _, tr := range r.TaskResults {
		warnings = append(warnings, tr.Warnings...)
	}

	return warnings
}
