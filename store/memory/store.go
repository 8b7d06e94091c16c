package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/dlq"
	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/task"
	"github.com/medscribe/conductor/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ task.Store     = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	tasks       map[string]*task.Task
	instances   map[string]*workflow.Instance
	checkpoints map[string][]*workflow.Checkpoint // key: instance ID, ordered oldest first
	dlqs        map[string]*dlq.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		tasks:       make(map[string]*task.Task),
		instances:   make(map[string]*workflow.Instance),
		checkpoints: make(map[string][]*workflow.Checkpoint),
		dlqs:        make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Task Store
// ──────────────────────────────────────────────────

// EnqueueTask persists a new task in pending state. A live task with the
// same idempotency key makes the enqueue a no-op returning
// conductor.ErrDuplicateTask.
func (m *Store) EnqueueTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, exists := m.tasks[key]; exists {
		return conductor.ErrTaskAlreadyExists
	}

	if t.IdempotencyKey != "" {
		for _, existing := range m.tasks {
			if existing.IdempotencyKey == t.IdempotencyKey && !existing.State.Terminal() {
				return conductor.ErrDuplicateTask
			}
		}
	}

	cp := *t
	m.tasks[key] = &cp
	return nil
}

// ClaimTasks atomically claims up to limit due tasks: strict priority
// order, FIFO within equal priority (task ids are K-sortable, so id
// order is enqueue order). Each claim charges one attempt and places a
// visibility lease.
func (m *Store) ClaimTasks(_ context.Context, workerID id.WorkerID, limit int, lease time.Duration) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	candidates := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.State != task.StatePending && t.State != task.StateRetrying {
			continue
		}
		if !t.RunAt.IsZero() && t.RunAt.After(now) {
			continue
		}
		candidates = append(candidates, t)
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		if !candidates[i].RunAt.Equal(candidates[k].RunAt) {
			return candidates[i].RunAt.Before(candidates[k].RunAt)
		}
		return candidates[i].ID.String() < candidates[k].ID.String()
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*task.Task, len(candidates))
	for i, t := range candidates {
		t.State = task.StateRunning
		t.WorkerID = workerID
		t.Attempts++
		expires := now.Add(lease)
		t.LeaseExpiresAt = &expires
		if t.StartedAt == nil {
			n := now
			t.StartedAt = &n
		}
		t.UpdatedAt = now
		// Return a copy so callers can mutate without racing with the store.
		cp := *t
		result[i] = &cp
	}

	return result, nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, conductor.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// UpdateTask persists changes to an existing task. A cancelled task
// never leaves cancelled: late success from an already-cancelled
// handler is discarded.
func (m *Store) UpdateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	existing, ok := m.tasks[key]
	if !ok {
		return conductor.ErrTaskNotFound
	}
	if existing.State == task.StateCancelled && t.State != task.StateCancelled {
		return nil
	}
	cp := *t
	cp.UpdatedAt = time.Now().UTC()
	m.tasks[key] = &cp
	return nil
}

// UpdateTaskStates applies a batch of state transitions. Unknown task
// ids are skipped; the returned count is the number applied.
func (m *Store) UpdateTaskStates(_ context.Context, updates []task.StateUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var applied int64
	for _, u := range updates {
		t, ok := m.tasks[u.TaskID.String()]
		if !ok {
			continue
		}
		if t.State == task.StateCancelled && u.State != task.StateCancelled {
			continue
		}
		t.State = u.State
		if u.Result != nil {
			t.Result = u.Result
		}
		if u.LastError != "" {
			t.LastError = u.LastError
		}
		if u.State == task.StateCompleted || u.State == task.StateCancelled {
			n := now
			t.CompletedAt = &n
		}
		t.UpdatedAt = now
		applied++
	}
	return applied, nil
}

// DeleteTask removes a task by ID.
func (m *Store) DeleteTask(_ context.Context, taskID id.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := taskID.String()
	if _, ok := m.tasks[key]; !ok {
		return conductor.ErrTaskNotFound
	}
	delete(m.tasks, key)
	return nil
}

// ListTasksByState returns tasks matching the given state.
func (m *Store) ListTasksByState(_ context.Context, state task.State, opts task.ListOpts) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.State != state {
			continue
		}
		if !opts.InstanceID.IsNil() && t.InstanceID != opts.InstanceID {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}

	// Sort by id for deterministic enqueue-ordered output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// HeartbeatTask extends the lease on a running task.
func (m *Store) HeartbeatTask(_ context.Context, taskID id.TaskID, workerID id.WorkerID, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return conductor.ErrTaskNotFound
	}
	if t.State != task.StateRunning || t.WorkerID != workerID {
		return conductor.ErrInvalidState
	}
	expires := time.Now().UTC().Add(lease)
	t.LeaseExpiresAt = &expires
	return nil
}

// ReapExpiredLeases returns leased tasks whose lease has expired after
// atomically requeueing each (or dead-lettering it when the attempt
// charged at claim exhausted the budget). Both running and failed tasks
// are covered: a worker crash between recording a failed attempt and
// scheduling its retry leaves the task failed with a live lease.
func (m *Store) ReapExpiredLeases(_ context.Context, now time.Time) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []*task.Task
	for _, t := range m.tasks {
		if t.State != task.StateRunning && t.State != task.StateFailed {
			continue
		}
		if t.LeaseExpiresAt == nil || t.LeaseExpiresAt.After(now) {
			continue
		}

		if t.Attempts >= t.MaxAttempts {
			t.State = task.StateDead
			t.LastError = "lease expired before completion"
		} else {
			t.State = task.StatePending
			t.RunAt = now
		}
		t.WorkerID = id.Nil
		t.LeaseExpiresAt = nil
		t.UpdatedAt = now

		cp := *t
		reaped = append(reaped, &cp)
	}
	return reaped, nil
}

// CancelInstanceTasks moves all non-terminal tasks owned by the given
// instance to cancelled.
func (m *Store) CancelInstanceTasks(_ context.Context, instanceID id.InstanceID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var count int64
	for _, t := range m.tasks {
		if t.InstanceID != instanceID || t.State.Terminal() {
			continue
		}
		t.State = task.StateCancelled
		n := now
		t.CompletedAt = &n
		t.UpdatedAt = now
		count++
	}
	return count, nil
}

// CountTasks returns the number of tasks matching the given options.
func (m *Store) CountTasks(_ context.Context, opts task.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, t := range m.tasks {
		if opts.State != "" && t.State != opts.State {
			continue
		}
		if !opts.InstanceID.IsNil() && t.InstanceID != opts.InstanceID {
			continue
		}
		count++
	}
	return count, nil
}

// TaskStats computes per-state counts, claimable depth, and oldest
// pending age in one pass.
func (m *Store) TaskStats(_ context.Context) (*task.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	stats := &task.Stats{ByState: make(map[task.State]int64)}

	var oldest time.Time
	for _, t := range m.tasks {
		stats.ByState[t.State]++

		claimable := (t.State == task.StatePending || t.State == task.StateRetrying) &&
			(t.RunAt.IsZero() || !t.RunAt.After(now))
		if !claimable {
			continue
		}
		stats.Depth++
		if oldest.IsZero() || t.CreatedAt.Before(oldest) {
			oldest = t.CreatedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestPendingAge = now.Sub(oldest)
	}
	return stats, nil
}

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateInstance persists a new workflow instance.
func (m *Store) CreateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inst.ID.String()
	if _, exists := m.instances[key]; exists {
		return conductor.ErrInvalidState
	}
	cp := *inst
	cp.Context = nil
	m.instances[key] = &cp
	return nil
}

// GetInstance retrieves an instance by ID. Context is nil; callers
// restore it from the latest checkpoint.
func (m *Store) GetInstance(_ context.Context, instanceID id.InstanceID) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return nil, conductor.ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

// UpdateInstance persists changes to an existing instance.
func (m *Store) UpdateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inst.ID.String()
	if _, ok := m.instances[key]; !ok {
		return conductor.ErrInstanceNotFound
	}
	cp := *inst
	cp.Context = nil
	cp.UpdatedAt = time.Now().UTC()
	m.instances[key] = &cp
	return nil
}

// ListInstances returns instances matching the given options, oldest
// first.
func (m *Store) ListInstances(_ context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if opts.Status != "" && inst.Status != opts.Status {
			continue
		}
		cp := *inst
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// SaveCheckpoint persists a checkpoint. The single write under the
// store lock makes it atomic: readers never observe a partial write.
func (m *Store) SaveCheckpoint(_ context.Context, cp *workflow.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *cp
	key := cp.InstanceID.String()
	m.checkpoints[key] = append(m.checkpoints[key], &c)
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for an instance.
func (m *Store) LatestCheckpoint(_ context.Context, instanceID id.InstanceID) (*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.checkpoints[instanceID.String()]
	if len(cps) == 0 {
		return nil, conductor.ErrCheckpointNotFound
	}
	cp := *cps[len(cps)-1]
	return &cp, nil
}

// ListCheckpoints returns all checkpoints for an instance, oldest first.
func (m *Store) ListCheckpoints(_ context.Context, instanceID id.InstanceID) ([]*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.checkpoints[instanceID.String()]
	result := make([]*workflow.Checkpoint, len(cps))
	for i, cp := range cps {
		c := *cp
		result[i] = &c
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a dead task entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries matching the given options.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if !opts.InstanceID.IsNil() && e.InstanceID != opts.InstanceID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, conductor.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return conductor.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}
