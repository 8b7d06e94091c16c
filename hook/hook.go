// Package hook defines the extension system for Conductor. Extensions
// are notified of lifecycle events (task enqueued, step completed,
// instance suspended, etc.) and can react to them — logging, metrics,
// streaming, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/medscribe/conductor/task"
	"github.com/medscribe/conductor/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskEnqueued is called after a task is successfully enqueued.
type TaskEnqueued interface {
	OnTaskEnqueued(ctx context.Context, t *task.Task) error
}

// TaskStarted is called when a worker begins executing a task.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t *task.Task) error
}

// TaskCompleted is called after a task finishes successfully.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskFailed is called when a task fails terminally (no more attempts).
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t *task.Task, err error) error
}

// TaskRetrying is called when a task fails but is scheduled for retry.
type TaskRetrying interface {
	OnTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) error
}

// TaskDLQ is called when a task is moved to the dead letter queue.
type TaskDLQ interface {
	OnTaskDLQ(ctx context.Context, t *task.Task, err error) error
}

// TaskCancelled is called when a task is cancelled with its instance.
type TaskCancelled interface {
	OnTaskCancelled(ctx context.Context, t *task.Task) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepStarted is called when the executor enters a step.
type StepStarted interface {
	OnStepStarted(ctx context.Context, inst *workflow.Instance, step workflow.StepID) error
}

// StepCompleted is called after a step's transition is applied.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, inst *workflow.Instance, step workflow.StepID, transition string, elapsed time.Duration) error
}

// StepFailed is called when a step fails or returns an invalid transition.
type StepFailed interface {
	OnStepFailed(ctx context.Context, inst *workflow.Instance, step workflow.StepID, err error) error
}

// ──────────────────────────────────────────────────
// Instance lifecycle hooks
// ──────────────────────────────────────────────────

// InstanceStarted is called when a workflow instance begins.
type InstanceStarted interface {
	OnInstanceStarted(ctx context.Context, inst *workflow.Instance) error
}

// InstanceSuspended is called when an instance checkpoints at a Suspend.
type InstanceSuspended interface {
	OnInstanceSuspended(ctx context.Context, inst *workflow.Instance, reason string) error
}

// InstanceResumed is called when a suspended instance resumes.
type InstanceResumed interface {
	OnInstanceResumed(ctx context.Context, inst *workflow.Instance, decision string) error
}

// InstanceCompleted is called when an instance reaches a terminal step.
type InstanceCompleted interface {
	OnInstanceCompleted(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error
}

// InstanceHalted is called when an instance halts on Fail or Halt.
type InstanceHalted interface {
	OnInstanceHalted(ctx context.Context, inst *workflow.Instance, reason string, err error) error
}

// InstanceCancelled is called when an instance is cancelled.
type InstanceCancelled interface {
	OnInstanceCancelled(ctx context.Context, inst *workflow.Instance) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
