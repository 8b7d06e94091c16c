package bunstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/task"
)

// idempotencyConstraint is the partial unique index guarding live
// idempotency keys. Its name distinguishes a duplicate-key enqueue from
// a duplicate primary key.
const idempotencyConstraint = "conductor_tasks_idempotency_live"

// EnqueueTask persists a new task in pending state. A live task with
// the same idempotency key makes the enqueue a no-op returning
// conductor.ErrDuplicateTask.
func (s *Store) EnqueueTask(ctx context.Context, t *task.Task) error {
	m := toTaskModel(t)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			if constraintName(err) == idempotencyConstraint {
				return conductor.ErrDuplicateTask
			}
			return conductor.ErrTaskAlreadyExists
		}
		return fmt.Errorf("conductor/bun: enqueue task: %w", err)
	}
	return nil
}

// ClaimTasks atomically claims up to limit due tasks for the worker.
// Uses SELECT FOR UPDATE SKIP LOCKED so concurrent claimers never
// receive the same task. Ordering is strict priority, then enqueue
// order (ids are K-sortable). Each claim charges one attempt and
// places a visibility lease.
func (s *Store) ClaimTasks(ctx context.Context, workerID id.WorkerID, limit int, lease time.Duration) ([]*task.Task, error) {
	var models []taskModel
	_, err := s.db.NewRaw(`
		WITH claimed AS (
			UPDATE conductor_tasks
			SET state = 'running',
			    worker_id = ?0,
			    attempts = attempts + 1,
			    lease_expires_at = NOW() + ?1::interval,
			    started_at = COALESCE(started_at, NOW()),
			    updated_at = NOW()
			WHERE id IN (
				SELECT id FROM conductor_tasks
				WHERE state IN ('pending', 'retrying')
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT ?2
			)
			RETURNING *
		)
		SELECT * FROM claimed ORDER BY priority DESC, run_at ASC, id ASC`,
		workerID.String(), lease.String(), limit,
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: claim tasks: %w", err)
	}

	tasks := make([]*task.Task, 0, len(models))
	for i := range models {
		t, convErr := fromTaskModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("conductor/bun: claim convert: %w", convErr)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	m := new(taskModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", taskID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrTaskNotFound
		}
		return nil, fmt.Errorf("conductor/bun: get task: %w", err)
	}
	return fromTaskModel(m)
}

// UpdateTask persists changes to an existing task. A cancelled task
// never leaves cancelled: late success from an already-cancelled
// handler is discarded.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	m := toTaskModel(t)
	m.UpdatedAt = time.Now().UTC()

	q := s.db.NewUpdate().Model(m).WherePK()
	if t.State != task.StateCancelled {
		q = q.Where("state != 'cancelled'")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("conductor/bun: update task: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		exists, countErr := s.db.NewSelect().
			TableExpr("conductor_tasks").
			Where("id = ?", t.ID.String()).
			Exists(ctx)
		if countErr != nil {
			return fmt.Errorf("conductor/bun: update task: %w", countErr)
		}
		if !exists {
			return conductor.ErrTaskNotFound
		}
		// Row exists but is cancelled; the update is discarded by design
		// of the sticky-cancel guard.
	}
	return nil
}

// UpdateTaskStates applies a batch of state transitions in one SQL
// statement — a single store round trip regardless of batch size.
// Unknown task ids are skipped; the returned count is rows applied.
func (s *Store) UpdateTaskStates(ctx context.Context, updates []task.StateUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	var values strings.Builder
	args := make([]any, 0, len(updates)*4)
	for i, u := range updates {
		if i > 0 {
			values.WriteString(", ")
		}
		values.WriteString("(?, ?, ?::bytea, ?)")
		args = append(args, u.TaskID.String(), string(u.State), u.Result, u.LastError)
	}

	query := fmt.Sprintf(`
		UPDATE conductor_tasks AS t
		SET state = v.state,
		    result = COALESCE(v.result, t.result),
		    last_error = CASE WHEN v.last_error <> '' THEN v.last_error ELSE t.last_error END,
		    completed_at = CASE WHEN v.state IN ('completed', 'cancelled') THEN NOW() ELSE t.completed_at END,
		    updated_at = NOW()
		FROM (VALUES %s) AS v(id, state, result, last_error)
		WHERE t.id = v.id
		  AND NOT (t.state = 'cancelled' AND v.state <> 'cancelled')`,
		values.String(),
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("conductor/bun: bulk update task states: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// DeleteTask removes a task by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	res, err := s.db.NewDelete().
		TableExpr("conductor_tasks").
		Where("id = ?", taskID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conductor/bun: delete task: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conductor.ErrTaskNotFound
	}
	return nil
}

// ListTasksByState returns tasks matching the given state in enqueue
// order.
func (s *Store) ListTasksByState(ctx context.Context, state task.State, opts task.ListOpts) ([]*task.Task, error) {
	var models []taskModel
	q := s.db.NewSelect().Model(&models).
		Where("state = ?", string(state))

	if !opts.InstanceID.IsNil() {
		q = q.Where("instance_id = ?", opts.InstanceID.String())
	}

	q = q.Order("id ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conductor/bun: list tasks by state: %w", err)
	}

	tasks := make([]*task.Task, 0, len(models))
	for i := range models {
		t, convErr := fromTaskModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("conductor/bun: list tasks convert: %w", convErr)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// HeartbeatTask extends the lease on a running task held by the given
// worker.
func (s *Store) HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID, lease time.Duration) error {
	res, err := s.db.NewUpdate().
		TableExpr("conductor_tasks").
		Set("lease_expires_at = NOW() + ?::interval", lease.String()).
		Set("updated_at = NOW()").
		Where("id = ?", taskID.String()).
		Where("worker_id = ?", workerID.String()).
		Where("state = 'running'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conductor/bun: heartbeat task: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		exists, countErr := s.db.NewSelect().
			TableExpr("conductor_tasks").
			Where("id = ?", taskID.String()).
			Exists(ctx)
		if countErr != nil {
			return fmt.Errorf("conductor/bun: heartbeat task: %w", countErr)
		}
		if !exists {
			return conductor.ErrTaskNotFound
		}
		return conductor.ErrInvalidState
	}
	return nil
}

// ReapExpiredLeases atomically requeues leased tasks whose lease has
// expired, dead-lettering any whose claim-charged attempt exhausted
// the budget, and returns the affected tasks. Failed tasks are reaped
// alongside running ones: a worker crash between recording a failed
// attempt and scheduling its retry leaves the task failed with a
// live lease.
func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time) ([]*task.Task, error) {
	var models []taskModel
	_, err := s.db.NewRaw(`
		WITH reaped AS (
			UPDATE conductor_tasks
			SET state = CASE WHEN attempts >= max_attempts THEN 'dead' ELSE 'pending' END,
			    last_error = CASE WHEN attempts >= max_attempts THEN 'lease expired before completion' ELSE last_error END,
			    run_at = CASE WHEN attempts >= max_attempts THEN run_at ELSE ?0 END,
			    worker_id = '',
			    lease_expires_at = NULL,
			    updated_at = NOW()
			WHERE state IN ('running', 'failed')
			  AND lease_expires_at IS NOT NULL
			  AND lease_expires_at <= ?0
			RETURNING *
		)
		SELECT * FROM reaped`,
		now,
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: reap expired leases: %w", err)
	}

	tasks := make([]*task.Task, 0, len(models))
	for i := range models {
		t, convErr := fromTaskModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("conductor/bun: reap convert: %w", convErr)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// CancelInstanceTasks moves all non-terminal tasks owned by the given
// instance to cancelled.
func (s *Store) CancelInstanceTasks(ctx context.Context, instanceID id.InstanceID) (int64, error) {
	res, err := s.db.NewUpdate().
		TableExpr("conductor_tasks").
		Set("state = 'cancelled'").
		Set("completed_at = NOW()").
		Set("updated_at = NOW()").
		Where("instance_id = ?", instanceID.String()).
		Where("state IN ('pending', 'retrying', 'running', 'failed')").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("conductor/bun: cancel instance tasks: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountTasks returns the number of tasks matching the given options.
func (s *Store) CountTasks(ctx context.Context, opts task.CountOpts) (int64, error) {
	q := s.db.NewSelect().TableExpr("conductor_tasks")

	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if !opts.InstanceID.IsNil() {
		q = q.Where("instance_id = ?", opts.InstanceID.String())
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conductor/bun: count tasks: %w", err)
	}
	return int64(count), nil
}

// statsRow is the scan target for the aggregated stats query.
type statsRow struct {
	State     string     `bun:"state"`
	Total     int64      `bun:"total"`
	Due       int64      `bun:"due"`
	OldestDue *time.Time `bun:"oldest_due"`
}

// TaskStats computes per-state counts, claimable depth, and oldest
// pending age in a single aggregated query — one round trip no matter
// how large the queue is.
func (s *Store) TaskStats(ctx context.Context) (*task.Stats, error) {
	var rows []statsRow
	err := s.db.NewRaw(`
		SELECT state,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE run_at <= NOW()) AS due,
		       MIN(created_at) FILTER (WHERE run_at <= NOW()) AS oldest_due
		FROM conductor_tasks
		GROUP BY state`,
	).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: task stats: %w", err)
	}

	now := time.Now().UTC()
	stats := &task.Stats{ByState: make(map[task.State]int64, len(rows))}

	var oldest time.Time
	for _, row := range rows {
		state := task.State(row.State)
		stats.ByState[state] = row.Total

		if state != task.StatePending && state != task.StateRetrying {
			continue
		}
		stats.Depth += row.Due
		if row.OldestDue != nil && (oldest.IsZero() || row.OldestDue.Before(oldest)) {
			oldest = *row.OldestDue
		}
	}
	if !oldest.IsZero() {
		stats.OldestPendingAge = now.Sub(oldest)
	}
	return stats, nil
}
