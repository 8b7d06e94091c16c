package store

import (
	"context"

	"github.com/medscribe/conductor/dlq"
	"github.com/medscribe/conductor/task"
	"github.com/medscribe/conductor/workflow"
)

// Store is the aggregate persistence interface. A single backend
// implements all subsystem contracts plus lifecycle management.
type Store interface {
	task.Store
	workflow.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
