package task

import (
	"time"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/id"
)

// State represents the lifecycle state of a task. Transitions are
// monotonic along pending → running → completed | failed → retrying →
// running → … → dead; they never skip or reverse. Cancelled is reachable
// from any non-terminal state via instance cancellation.
type State string

const (
	// StatePending means the task is waiting to be claimed by a worker.
	StatePending State = "pending"
	// StateRunning means a worker holds a lease and is executing the task.
	StateRunning State = "running"
	// StateCompleted means the task finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the most recent attempt failed. It is transient:
	// the executor follows it with retrying or dead, and the lease reaper
	// recovers tasks stranded here by a worker crash.
	StateFailed State = "failed"
	// StateRetrying means the task failed but is scheduled for another
	// attempt after a backoff delay.
	StateRetrying State = "retrying"
	// StateDead means the task exhausted its attempt budget and was
	// moved to the dead letter queue.
	StateDead State = "dead"
	// StateCancelled means the task's owning instance was cancelled.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateDead, StateCancelled:
		return true
	default:
		return false
	}
}

// Priority orders dequeue strictly ahead of age: a higher priority task
// always dequeues before a lower priority one regardless of how long the
// lower priority task has waited. Equal priorities dequeue FIFO.
type Priority int

const (
	// PriorityLow is for deferrable work (bulk PDF discovery, cache warmups).
	PriorityLow Priority = 0
	// PriorityNormal is the default for search and scoring tasks.
	PriorityNormal Priority = 50
	// PriorityHigh is for work blocking an interactive step.
	PriorityHigh Priority = 100
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "custom"
	}
}

// Task represents a unit of dispatchable work processed by the worker
// pool: a literature search, a relevance-scoring call, a citation
// extraction. Tasks are distinct from workflow steps — a step handler
// enqueues tasks and folds their results back into its Context.
type Task struct {
	conductor.Entity

	ID   id.TaskID `json:"id"`
	Name string    `json:"name"`

	// InstanceID links the task to the workflow instance that
	// dispatched it, for per-instance bulk cancellation.
	InstanceID id.InstanceID `json:"instance_id,omitempty"`

	// IdempotencyKey, when set, rejects duplicate enqueues of logically
	// identical tasks.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	Payload  []byte   `json:"payload"`
	Result   []byte   `json:"result,omitempty"`
	State    State    `json:"state"`
	Priority Priority `json:"priority"`

	// MaxAttempts is the total attempt budget; Attempts counts
	// executions so far, including ones lost to lease expiry.
	MaxAttempts int    `json:"max_attempts"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`

	WorkerID id.WorkerID `json:"worker_id,omitempty"`

	// RunAt defers execution; retries set it to now + backoff delay.
	RunAt time.Time `json:"run_at"`

	// LeaseExpiresAt is the visibility deadline for a running task.
	// Past it, the task is presumed lost and eligible for requeue.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}
