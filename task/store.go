package task

import (
	"context"
	"time"

	"github.com/medscribe/conductor/id"
)

// ListOpts controls pagination and filtering for task list queries.
type ListOpts struct {
	// Limit is the maximum number of tasks to return. Zero means no limit.
	Limit int
	// Offset is the number of tasks to skip.
	Offset int
	// InstanceID filters by owning workflow instance. Nil means all.
	InstanceID id.InstanceID
}

// CountOpts controls filtering for task count queries.
type CountOpts struct {
	// State filters by task state. Empty means all states.
	State State
	// InstanceID filters by owning workflow instance. Nil means all.
	InstanceID id.InstanceID
}

// Stats holds per-state task counts plus queue depth and age, computed
// in a single store round trip.
type Stats struct {
	// ByState maps each state to the number of tasks currently in it.
	ByState map[State]int64

	// Depth is the number of tasks waiting to be claimed (pending or
	// retrying with RunAt due).
	Depth int64

	// OldestPendingAge is how long the oldest claimable task has waited.
	// Zero when the queue is empty.
	OldestPendingAge time.Duration
}

// StateUpdate describes one task's transition in a bulk update.
type StateUpdate struct {
	TaskID id.TaskID
	State  State
	// Result is persisted when transitioning to completed. Nil leaves
	// the stored result untouched.
	Result []byte
	// LastError is persisted when transitioning to failed or retrying.
	LastError string
}

// Store defines the persistence contract for tasks. All multi-row
// operations are atomic with respect to concurrent callers: two workers
// claiming simultaneously never receive the same task.
type Store interface {
	// EnqueueTask persists a new task in pending state. If the task
	// carries an idempotency key that matches a live (non-terminal)
	// task, it returns conductor.ErrDuplicateTask and persists nothing.
	EnqueueTask(ctx context.Context, t *Task) error

	// ClaimTasks atomically claims up to limit due tasks for the given
	// worker: sets them to running, stamps the worker id, charges one
	// attempt, and extends LeaseExpiresAt by lease. Tasks are ordered by
	// priority descending, then enqueue order ascending (strict priority,
	// FIFO within equal priority). Never returns a task already leased
	// to another worker.
	ClaimTasks(ctx context.Context, workerID id.WorkerID, limit int, lease time.Duration) ([]*Task, error)

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// UpdateTask persists changes to an existing task.
	UpdateTask(ctx context.Context, t *Task) error

	// UpdateTaskStates applies a batch of state transitions in a single
	// round trip. Updates targeting unknown tasks are skipped; the
	// returned count is the number applied.
	UpdateTaskStates(ctx context.Context, updates []StateUpdate) (int64, error)

	// DeleteTask removes a task by ID.
	DeleteTask(ctx context.Context, taskID id.TaskID) error

	// ListTasksByState returns tasks matching the given state.
	ListTasksByState(ctx context.Context, state State, opts ListOpts) ([]*Task, error)

	// HeartbeatTask extends the lease on a running task, indicating the
	// worker is still alive. Fails if the task is no longer leased to
	// the given worker.
	HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID, lease time.Duration) error

	// ReapExpiredLeases returns running tasks whose lease has expired,
	// after atomically returning each to pending (or dead, when the
	// attempt charged at claim already exhausted its budget).
	ReapExpiredLeases(ctx context.Context, now time.Time) ([]*Task, error)

	// CancelInstanceTasks moves all non-terminal tasks owned by the
	// given instance to cancelled and returns how many were affected.
	// Running tasks keep executing until their handler observes
	// cancellation; their terminal state stays cancelled.
	CancelInstanceTasks(ctx context.Context, instanceID id.InstanceID) (int64, error)

	// CountTasks returns the number of tasks matching the given options.
	CountTasks(ctx context.Context, opts CountOpts) (int64, error)

	// TaskStats computes per-state counts, claimable depth, and oldest
	// pending age in one round trip.
	TaskStats(ctx context.Context) (*Stats, error)
}
