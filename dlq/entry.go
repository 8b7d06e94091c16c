package dlq

import (
	"time"

	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/task"
)

// Entry represents a task that has exhausted its attempt budget and been
// moved to the dead letter queue for inspection or replay.
type Entry struct {
	ID          id.DLQID      `json:"id"`
	TaskID      id.TaskID     `json:"task_id"`
	TaskName    string        `json:"task_name"`
	InstanceID  id.InstanceID `json:"instance_id,omitempty"`
	Payload     []byte        `json:"payload"`
	Error       string        `json:"error"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Priority    task.Priority `json:"priority"`
	FailedAt    time.Time     `json:"failed_at"`
	ReplayedAt  *time.Time    `json:"replayed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
