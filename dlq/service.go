package dlq

import (
	"context"
	"time"

	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/task"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store     Store
	taskStore task.Store
}

// NewService creates a DLQ service.
func NewService(store Store, taskStore task.Store) *Service {
	return &Service{store: store, taskStore: taskStore}
}

// Push builds a DLQ Entry from a dead task and persists it.
// The error string is captured from the final handler error.
func (s *Service) Push(ctx context.Context, t *task.Task, taskErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		TaskID:      t.ID,
		TaskName:    t.Name,
		InstanceID:  t.InstanceID,
		Payload:     t.Payload,
		Error:       taskErr.Error(),
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		Priority:    t.Priority,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
