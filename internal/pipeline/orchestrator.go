package pipeline

import (
	"context"
	"log/slog"
	"time"
)

type (
	// Sink receives task and pipeline timings. Implementations must be safe
	// for concurrent use; runs on the command hot path.
	Sink interface {
		// TaskObserved reports one task invocation.
		TaskObserved(pipeline, task string, status Status, duration time.Duration)

		// PipelineObserved reports one completed pipeline run.
		PipelineObserved(pipeline string, success bool, duration time.Duration)
	}

	// NopSink discards all observations.
	NopSink struct{}

	// Orchestrator executes pipelines and reports timings to a Sink.
	Orchestrator[C any] struct {
		logger *slog.Logger
		sink   Sink
	}
)

// TaskObserved implements Sink.
func (NopSink) TaskObserved(string, string, Status, time.Duration) {}

// PipelineObserved implements Sink.
func (NopSink) PipelineObserved(string, bool, time.Duration) {}

// NewOrchestrator creates an orchestrator. A nil sink disables metrics.
func NewOrchestrator[C any](logger *slog.Logger, sink Sink) *Orchestrator[C] {
	if logger == nil {
		logger = slog.Default()
	}

	if sink == nil {
		sink = NopSink{}
	}

	return &Orchestrator[C]{logger: logger, sink: sink}
}

// Execute runs every task of the pipeline against c, in order, within the
// caller's goroutine and transaction.
//
// Semantics:
//  1. The context deadline is checked before each task; expiry aborts the
//     run with a FAILED result carrying the context error.
//  2. A Conditional task whose precondition rejects c is recorded SKIPPED.
//  3. A FAILED result aborts the run when the pipeline stops on failure.
//  4. Result.Success is true when no task FAILED.
func (o *Orchestrator[C]) Execute(ctx context.Context, p *Pipeline[C], c C) Result {
	start := time.Now()
	correlationID := correlationID(c)

	results := make([]TaskResult, 0, len(p.tasks))
	success := true

	for _, task := range p.tasks {
		if err := ctx.Err(); err != nil {
			tr := TaskResult{
				Task:    task.Name(),
				Status:  StatusFailed,
				Message: "aborted at task boundary: " + err.Error(),
				Err:     err,
			}
			results = append(results, tr)
			success = false

			o.observeTask(p.name, correlationID, tr)

			break
		}

		if cond, ok := any(task).(Conditional[C]); ok && !cond.ShouldExecute(c) {
			tr := Skipped("precondition not met")
			tr.Task = task.Name()
			results = append(results, tr)

			o.observeTask(p.name, correlationID, tr)

			continue
		}

		taskStart := time.Now()
		tr := task.Execute(ctx, c)
		tr.Task = task.Name()
		tr.Duration = time.Since(taskStart)
		results = append(results, tr)

		o.observeTask(p.name, correlationID, tr)

		if tr.Status == StatusFailed {
			success = false

			if p.stopOnFailure {
				break
			}
		}
	}

	executionTime := time.Since(start)
	o.sink.PipelineObserved(p.name, success, executionTime)

	o.logger.Debug("Pipeline completed",
		slog.String("pipeline", p.name),
		slog.Bool("success", success),
		slog.Int("tasks", len(results)),
		slog.Duration("duration", executionTime),
		slog.String("correlation_id", correlationID),
	)

	return Result{
		PipelineName:  p.name,
		TaskResults:   results,
		Success:       success,
		ExecutionTime: executionTime,
	}
}

func (o *Orchestrator[C]) observeTask(pipeline, correlationID string, tr TaskResult) {
	o.sink.TaskObserved(pipeline, tr.Task, tr.Status, tr.Duration)

	level := slog.LevelDebug
	if tr.Status == StatusFailed {
		level = slog.LevelWarn
	}

	o.logger.Log(context.Background(), level, "Task completed",
		slog.String("pipeline", pipeline),
		slog.String("task", tr.Task),
		slog.String("status", string(tr.Status)),
		slog.Duration("duration", tr.Duration),
		slog.String("correlation_id", correlationID),
	)
}

func correlationID[C any](c C) string {
	if correlated, ok := any(c).(Correlated); ok {
		return correlated.CorrelationID()
	}

	return ""
}
