package dlq

import (
	"context"
	"time"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/task"
)

// Replay re-enqueues a DLQ entry as a new pending task and marks the
// entry as replayed. The new task gets a fresh ID, zero attempts, and
// runs immediately. No idempotency key is carried over: the original
// key, if any, belongs to the dead task.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*task.Task, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &task.Task{
		Entity:      conductor.NewEntity(),
		ID:          id.NewTaskID(),
		Name:        entry.TaskName,
		InstanceID:  entry.InstanceID,
		Payload:     entry.Payload,
		State:       task.StatePending,
		Priority:    entry.Priority,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       now,
	}

	if err := s.taskStore.EnqueueTask(ctx, t); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The task is already enqueued. Surface but keep the task.
		return t, err
	}

	return t, nil
}
