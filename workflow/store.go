package workflow

import (
	"context"

	"github.com/medscribe/conductor/id"
)

// ListOpts controls pagination for instance list queries.
type ListOpts struct {
	// Limit is the maximum number of instances to return. Zero means no limit.
	Limit int
	// Offset is the number of instances to skip.
	Offset int
	// Status filters by instance status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for workflow instances and
// their checkpoints.
type Store interface {
	// CreateInstance persists a new workflow instance.
	CreateInstance(ctx context.Context, inst *Instance) error

	// GetInstance retrieves an instance by ID. The returned instance's
	// Context is nil; callers restore it from the latest checkpoint.
	GetInstance(ctx context.Context, instanceID id.InstanceID) (*Instance, error)

	// UpdateInstance persists changes to an existing instance.
	UpdateInstance(ctx context.Context, inst *Instance) error

	// ListInstances returns instances matching the given options.
	ListInstances(ctx context.Context, opts ListOpts) ([]*Instance, error)

	// SaveCheckpoint persists a checkpoint as one atomic unit: a reader
	// never observes a partially-written checkpoint.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// LatestCheckpoint returns the most recent checkpoint for an
	// instance, or conductor.ErrCheckpointNotFound.
	LatestCheckpoint(ctx context.Context, instanceID id.InstanceID) (*Checkpoint, error)

	// ListCheckpoints returns all checkpoints for an instance, oldest
	// first.
	ListCheckpoints(ctx context.Context, instanceID id.InstanceID) ([]*Checkpoint, error)
}
