package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/queue"
	"github.com/medscribe/conductor/task"
)

// TaskEmitter emits task enqueue events. Satisfied by hook.Registry and
// wired in by the engine package.
type TaskEmitter interface {
	EmitTaskEnqueued(ctx context.Context, t *task.Task)
}

// Dispatcher lets step handlers fan long-running work out to the task
// queue and fold results back into Context. It is shared across all
// instances; the worker pool drains tasks from many instances at once.
type Dispatcher struct {
	store   task.Store
	gate    *queue.Gate
	emitter TaskEmitter
	logger  *slog.Logger

	// pollInterval is how often Await re-reads a task's state.
	pollInterval time.Duration

	// pendingMu guards instance pending-task sets. Gather awaits tasks
	// concurrently, so the clears racing each other must serialize; the
	// set feeds the checkpoint that resume re-subscribes from.
	pendingMu sync.Mutex
}

// NewDispatcher creates a task dispatcher. gate may be nil for an
// unbounded queue.
func NewDispatcher(store task.Store, gate *queue.Gate, emitter TaskEmitter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:        store,
		gate:         gate,
		emitter:      emitter,
		logger:       logger,
		pollInterval: 250 * time.Millisecond,
	}
}

// Dispatch enqueues a task owned by the given instance. The payload is
// JSON-marshaled; opts configure priority, attempts, timeout, and the
// idempotency key. The task id is appended to the instance's pending
// set so a resumed instance re-subscribes to it.
//
// Under a full queue the configured backpressure policy applies: reject
// surfaces conductor.ErrQueueFull, block waits on ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, inst *Instance, name string, payload any, opts ...task.Option) (id.TaskID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return id.Nil, fmt.Errorf("workflow: marshal payload for task %q: %w", name, err)
	}

	o := task.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if d.gate != nil {
		if err := d.gate.Admit(ctx); err != nil {
			return id.Nil, err
		}
	}

	now := time.Now().UTC()
	runAt := o.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	t := &task.Task{
		Entity:         conductor.NewEntity(),
		ID:             id.NewTaskID(),
		Name:           name,
		InstanceID:     inst.ID,
		IdempotencyKey: o.IdempotencyKey,
		Payload:        data,
		State:          task.StatePending,
		Priority:       o.Priority,
		MaxAttempts:    o.MaxAttempts,
		Timeout:        o.Timeout,
		RunAt:          runAt,
	}

	if err := d.store.EnqueueTask(ctx, t); err != nil {
		if d.gate != nil {
			d.gate.Release()
		}
		return id.Nil, err
	}

	d.pendingMu.Lock()
	inst.PendingTasks = append(inst.PendingTasks, t.ID)
	d.pendingMu.Unlock()

	if d.emitter != nil {
		d.emitter.EmitTaskEnqueued(ctx, t)
	}
	return t.ID, nil
}

// Await blocks until the task reaches a terminal state and returns its
// result. A dead task surfaces its final handler error to the
// dispatching step; a cancelled task surfaces cancellation. The task id
// is removed from the instance's pending set on return.
func (d *Dispatcher) Await(ctx context.Context, inst *Instance, taskID id.TaskID) ([]byte, error) {
	defer d.clearPending(inst, taskID)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		t, err := d.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch t.State {
		case task.StateCompleted:
			return t.Result, nil
		case task.StateDead:
			return nil, fmt.Errorf("workflow: task %s (%s) dead-lettered after %d attempts: %s",
				t.ID, t.Name, t.Attempts, t.LastError)
		case task.StateCancelled:
			return nil, fmt.Errorf("workflow: task %s (%s) cancelled", t.ID, t.Name)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Gather awaits several tasks concurrently and returns their results in
// argument order. The first failure cancels the remaining waits.
func (d *Dispatcher) Gather(ctx context.Context, inst *Instance, taskIDs []id.TaskID) ([][]byte, error) {
	results := make([][]byte, len(taskIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, tid := range taskIDs {
		g.Go(func() error {
			res, err := d.Await(gctx, inst, tid)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// clearPending drops a task id from the instance's pending set.
func (d *Dispatcher) clearPending(inst *Instance, taskID id.TaskID) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	for i, tid := range inst.PendingTasks {
		if tid == taskID {
			inst.PendingTasks = append(inst.PendingTasks[:i], inst.PendingTasks[i+1:]...)
			return
		}
	}
}
