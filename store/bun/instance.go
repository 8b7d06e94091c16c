package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/workflow"
)

// CreateInstance persists a new workflow instance.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	m, err := toInstanceModel(inst)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrInvalidState
		}
		return fmt.Errorf("conductor/bun: create instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID. Context is nil; callers
// restore it from the latest checkpoint.
func (s *Store) GetInstance(ctx context.Context, instanceID id.InstanceID) (*workflow.Instance, error) {
	m := new(instanceModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", instanceID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("conductor/bun: get instance: %w", err)
	}
	return fromInstanceModel(m)
}

// UpdateInstance persists changes to an existing instance.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	m, err := toInstanceModel(inst)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("conductor/bun: update instance: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conductor.ErrInstanceNotFound
	}
	return nil
}

// ListInstances returns instances matching the given options, oldest
// first.
func (s *Store) ListInstances(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	var models []instanceModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}

	q = q.Order("created_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conductor/bun: list instances: %w", err)
	}

	instances := make([]*workflow.Instance, 0, len(models))
	for i := range models {
		inst, convErr := fromInstanceModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("conductor/bun: list instances convert: %w", convErr)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// SaveCheckpoint persists a checkpoint. A single-row insert is atomic:
// readers never observe a partially-written checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *workflow.Checkpoint) error {
	m := toCheckpointModel(cp)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("conductor/bun: save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for an instance.
// Checkpoint ids are K-sortable, so the highest id is the newest write.
func (s *Store) LatestCheckpoint(ctx context.Context, instanceID id.InstanceID) (*workflow.Checkpoint, error) {
	m := new(checkpointModel)
	err := s.db.NewSelect().Model(m).
		Where("instance_id = ?", instanceID.String()).
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("conductor/bun: latest checkpoint: %w", err)
	}
	return fromCheckpointModel(m)
}

// ListCheckpoints returns all checkpoints for an instance, oldest first.
func (s *Store) ListCheckpoints(ctx context.Context, instanceID id.InstanceID) ([]*workflow.Checkpoint, error) {
	var models []checkpointModel
	err := s.db.NewSelect().Model(&models).
		Where("instance_id = ?", instanceID.String()).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: list checkpoints: %w", err)
	}

	checkpoints := make([]*workflow.Checkpoint, 0, len(models))
	for i := range models {
		cp, convErr := fromCheckpointModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("conductor/bun: list checkpoints convert: %w", convErr)
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}
