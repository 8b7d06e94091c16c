// Package worker provides the task execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines claiming tasks from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medscribe/conductor/backoff"
	"github.com/medscribe/conductor/dlq"
	"github.com/medscribe/conductor/hook"
	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/middleware"
	"github.com/medscribe/conductor/queue"
	"github.com/medscribe/conductor/task"
)

// errLeaseExpired is recorded when a task's visibility lease lapsed
// with no attempt budget left, typically after a worker crash.
var errLeaseExpired = errors.New("worker: lease expired before completion")

// Executor runs a single claimed task through middleware and the
// registered handler, then handles retry scheduling, dead-lettering,
// state updates, and lifecycle events.
//
// Execution is at-least-once: the attempt is charged when the task is
// claimed, so a crash mid-handler costs the attempt and the reaper
// requeues the task for the next worker.
type Executor struct {
	registry *task.Registry
	hooks    *hook.Registry
	store    task.Store
	dlq      *dlq.Service
	gate     *queue.Gate
	backoff  backoff.Strategy
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. gate may
// be nil when the queue is unbounded.
func NewExecutor(
	registry *task.Registry,
	hooks *hook.Registry,
	store task.Store,
	dlqService *dlq.Service,
	gate *queue.Gate,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		hooks:    hooks,
		store:    store,
		dlq:      dlqService,
		gate:     gate,
		backoff:  bo,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a task through the middleware chain and handler.
// On success: marks completed with the handler result, emits TaskCompleted.
// On instance cancellation: marks cancelled, emits TaskCancelled. A
// context cancelled by pool shutdown instead leaves the task running so
// its lapsed lease requeues it on another worker.
// On failure with attempts remaining: records the failed attempt, marks
// retrying with backoff, emits TaskRetrying.
// On failure with attempts exhausted: records the failed attempt, marks
// dead, pushes to the DLQ, emits TaskFailed + TaskDLQ.
func (e *Executor) Execute(ctx context.Context, t *task.Task) error {
	handler, ok := e.registry.Get(t.Name)
	if !ok {
		// No handler can ever serve this task; retrying is pointless.
		return e.sendToDLQ(ctx, t, fmt.Errorf("no handler registered for task %q", t.Name))
	}

	start := time.Now()

	// The terminal handler invokes the registered task handler and
	// captures its result for persistence.
	var result []byte
	terminal := func(ctx context.Context) error {
		res, err := handler(ctx, t.Payload)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	err := e.mw(ctx, t, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	t.UpdatedAt = now

	if err != nil {
		// A cancelled instance cancels its in-flight tasks cooperatively.
		// Handler timeouts (DeadlineExceeded) still count against the
		// attempt budget and go through normal retry handling.
		if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
			return e.handleInterrupt(t, now)
		}
		return e.handleFailure(ctx, t, err, now)
	}

	return e.handleSuccess(ctx, t, result, now, elapsed)
}

// handleSuccess marks the task completed, persists the handler result,
// and releases the queue slot.
func (e *Executor) handleSuccess(ctx context.Context, t *task.Task, result []byte, now time.Time, elapsed time.Duration) error {
	t.State = task.StateCompleted
	t.Result = result
	t.CompletedAt = &now

	if updateErr := e.store.UpdateTask(ctx, t); updateErr != nil {
		e.logger.Error("failed to update task after success",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.releaseSlot()
	e.hooks.EmitTaskCompleted(ctx, t, elapsed)
	return nil
}

// handleFailure records the failed attempt and either schedules a retry
// or dead-letters the task. The attempt was already charged at claim.
// The failed state is persisted before the follow-up transition so the
// status chain stays observable; the lease is kept across the two
// writes, so a crash between them is recovered by the reaper like any
// other lost attempt.
func (e *Executor) handleFailure(ctx context.Context, t *task.Task, handlerErr error, now time.Time) error {
	t.State = task.StateFailed
	t.LastError = handlerErr.Error()

	if updateErr := e.store.UpdateTask(ctx, t); updateErr != nil {
		e.logger.Error("failed to update task after failure",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if t.Attempts < t.MaxAttempts {
		return e.scheduleRetry(ctx, t, now, handlerErr)
	}

	return e.sendToDLQ(ctx, t, handlerErr)
}

// scheduleRetry sets the task to StateRetrying with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, t *task.Task, now time.Time, handlerErr error) error {
	delay := e.backoff.Delay(t.Attempts)
	nextRunAt := now.Add(delay)
	t.RunAt = nextRunAt
	t.State = task.StateRetrying
	t.WorkerID = id.Nil
	t.LeaseExpiresAt = nil

	if updateErr := e.store.UpdateTask(ctx, t); updateErr != nil {
		e.logger.Error("failed to update task for retry",
			slog.String("task_id", t.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitTaskRetrying(ctx, t, t.Attempts, nextRunAt)

	e.logger.Info("task scheduled for retry",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.Int("attempt", t.Attempts),
		slog.Int("max_attempts", t.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("task %s attempt %d/%d: %w", t.Name, t.Attempts, t.MaxAttempts, handlerErr)
}

// sendToDLQ marks the task dead, pushes it to the DLQ, releases the
// queue slot, and emits events.
func (e *Executor) sendToDLQ(ctx context.Context, t *task.Task, handlerErr error) error {
	t.State = task.StateDead

	if updateErr := e.store.UpdateTask(ctx, t); updateErr != nil {
		e.logger.Error("failed to update task as dead",
			slog.String("task_id", t.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.deadLetter(ctx, t, handlerErr)
	return handlerErr
}

// deadLetter pushes an already-dead task to the DLQ, releases its
// queue slot, and emits events. Used both after in-process exhaustion
// and by the reaper for lease-expired tasks with no budget left.
func (e *Executor) deadLetter(ctx context.Context, t *task.Task, handlerErr error) {
	if e.dlq != nil {
		if dlqErr := e.dlq.Push(ctx, t, handlerErr); dlqErr != nil {
			e.logger.Error("failed to push task to DLQ",
				slog.String("task_id", t.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.releaseSlot()
	e.hooks.EmitTaskFailed(ctx, t, handlerErr)
	e.hooks.EmitTaskDLQ(ctx, t, handlerErr)

	e.logger.Warn("task moved to DLQ after exhausting attempts",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.Int("attempts", t.Attempts),
		slog.String("error", handlerErr.Error()),
	)
}

// handleInterrupt resolves a handler that stopped because its context
// was cancelled. Instance cancellation writes StateCancelled to the
// store before the context is cancelled, so the stored state decides:
// cancelled means terminal, anything else means the pool is shutting
// down and the task keeps its lease — it lapses and another claim
// retries the work.
func (e *Executor) handleInterrupt(t *task.Task, now time.Time) error {
	bg := context.Background()
	stored, err := e.store.GetTask(bg, t.ID)
	if err != nil {
		e.logger.Error("failed to read task after interrupt",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	if stored.State == task.StateCancelled {
		return e.markCancelled(t, now)
	}

	e.logger.Info("task interrupted by shutdown, lease left to lapse",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
	)
	return nil
}

// markCancelled records a cooperatively cancelled task. The state
// update uses a fresh context because the execution context is gone.
func (e *Executor) markCancelled(t *task.Task, now time.Time) error {
	t.State = task.StateCancelled
	t.CompletedAt = &now

	bg := context.Background()
	if updateErr := e.store.UpdateTask(bg, t); updateErr != nil {
		e.logger.Error("failed to update task as cancelled",
			slog.String("task_id", t.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.releaseSlot()
	e.hooks.EmitTaskCancelled(bg, t)

	e.logger.Info("task cancelled",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
	)
	return nil
}

// releaseSlot frees the backpressure slot a task has held since enqueue.
func (e *Executor) releaseSlot() {
	if e.gate != nil {
		e.gate.Release()
	}
}
