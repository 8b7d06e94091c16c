package worker_test

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medscribe/conductor/dlq"
	"github.com/medscribe/conductor/hook"
	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/store/memory"
	"github.com/medscribe/conductor/task"
	"github.com/medscribe/conductor/worker"
)

func newTestPool(env *execEnv, opts ...worker.PoolOption) *worker.Pool {
	hooks := hook.NewRegistry(slog.Default())
	base := []worker.PoolOption{
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(5 * time.Millisecond),
		worker.WithLeaseDuration(time.Minute),
		worker.WithHeartbeatInterval(0),
	}
	return worker.NewPool(env.store, env.exec, hooks, slog.Default(), append(base, opts...)...)
}

func waitForState(t *testing.T, store *memory.Store, taskID id.TaskID, want task.State) *task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tk, err := store.GetTask(context.Background(), taskID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if tk.State == want {
			return tk
		}
		time.Sleep(5 * time.Millisecond)
	}
	tk, _ := store.GetTask(context.Background(), taskID)
	t.Fatalf("task %s never reached %s, last state %s", taskID, want, tk.State)
	return nil
}

func TestPool_ProcessesEnqueuedTasks(t *testing.T) {
	env := newExecEnv(nil, nil)
	var handled atomic.Int32
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, p abstractPayload) ([]byte, error) {
			handled.Add(1)
			return []byte("abstract for " + p.PMID), nil
		}))

	pool := newTestPool(env)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop(context.Background())

	instanceID := id.NewInstanceID()
	ids := make([]id.TaskID, 3)
	for i := range ids {
		ids[i] = enqueueTask(t, env.store, "fetch-abstract", instanceID, 3, 0).ID
	}

	for _, tid := range ids {
		tk := waitForState(t, env.store, tid, task.StateCompleted)
		if tk.Attempts != 1 {
			t.Errorf("task %s attempts = %d, want 1", tid, tk.Attempts)
		}
	}
	if handled.Load() != 3 {
		t.Errorf("handler ran %d times, want 3", handled.Load())
	}
}

func TestPool_CancelInstanceStopsInFlightTask(t *testing.T) {
	env := newExecEnv(nil, nil)
	started := make(chan struct{})
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(ctx context.Context, _ abstractPayload) ([]byte, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	pool := newTestPool(env, worker.WithPoolConcurrency(1))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop(context.Background())

	instanceID := id.NewInstanceID()
	tid := enqueueTask(t, env.store, "fetch-abstract", instanceID, 3, 0).ID

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	// Store first, contexts second, mirroring the engine's cancel order:
	// the woken handler must read StateCancelled to record it.
	if _, err := env.store.CancelInstanceTasks(context.Background(), instanceID); err != nil {
		t.Fatalf("cancel tasks: %v", err)
	}
	if n := pool.CancelInstance(instanceID); n != 1 {
		t.Fatalf("cancelled %d in-flight tasks, want 1", n)
	}
	waitForState(t, env.store, tid, task.StateCancelled)

	// No other instance was touched.
	if n := pool.CancelInstance(id.NewInstanceID()); n != 0 {
		t.Errorf("cancelled %d tasks of an unrelated instance, want 0", n)
	}
}

func TestPool_ReaperRequeuesExpiredLease(t *testing.T) {
	env := newExecEnv(nil, nil)
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, p abstractPayload) ([]byte, error) {
			return []byte("abstract for " + p.PMID), nil
		}))

	// A worker that crashed mid-execution: claimed with a short lease,
	// never finished.
	tid := enqueueTask(t, env.store, "fetch-abstract", id.NewInstanceID(), 3, 0).ID
	if _, err := env.store.ClaimTasks(context.Background(), id.NewWorkerID(), 1, 10*time.Millisecond); err != nil {
		t.Fatalf("claim: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	reaped, err := env.store.ReapExpiredLeases(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != tid {
		t.Fatalf("reaped = %v, want the expired task", reaped)
	}
	if reaped[0].State != task.StatePending {
		t.Fatalf("reaped state = %s, want pending", reaped[0].State)
	}

	// The next claim retries the task; the lost attempt still counts.
	claimed := claimOne(t, env.store)
	if claimed.ID != tid || claimed.Attempts != 2 {
		t.Fatalf("reclaimed %s attempts = %d, want task %s at attempt 2", claimed.ID, claimed.Attempts, tid)
	}
	if err := env.exec.Execute(context.Background(), claimed); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	tk, err := env.store.GetTask(context.Background(), tid)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.State != task.StateCompleted || tk.Attempts != 2 {
		t.Errorf("state/attempts = %s/%d, want completed/2", tk.State, tk.Attempts)
	}
}

func TestPool_ReaperDeadLettersExhaustedLease(t *testing.T) {
	env := newExecEnv(nil, nil)

	// Last-attempt task whose worker crashed: no budget left to requeue.
	tid := enqueueTask(t, env.store, "fetch-abstract", id.NewInstanceID(), 1, 0).ID
	if _, err := env.store.ClaimTasks(context.Background(), id.NewWorkerID(), 1, 10*time.Millisecond); err != nil {
		t.Fatalf("claim: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	pool := newTestPool(env, worker.WithLeaseDuration(15*time.Millisecond))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop(context.Background())

	waitForState(t, env.store, tid, task.StateDead)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := env.store.ListDLQ(context.Background(), dlq.ListOpts{Limit: 10})
		if err != nil {
			t.Fatalf("list dlq: %v", err)
		}
		if len(entries) == 1 {
			if entries[0].TaskID != tid {
				t.Errorf("dlq entry task = %s, want %s", entries[0].TaskID, tid)
			}
			if !strings.Contains(entries[0].Error, "lease expired") {
				t.Errorf("dlq entry error = %q", entries[0].Error)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("dead task never reached the DLQ")
}

func TestPool_HeartbeatKeepsLeaseAlive(t *testing.T) {
	env := newExecEnv(nil, nil)
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, _ abstractPayload) ([]byte, error) {
			time.Sleep(80 * time.Millisecond) // outlives the lease
			return []byte("slow abstract"), nil
		}))

	tid := enqueueTask(t, env.store, "fetch-abstract", id.NewInstanceID(), 3, 0).ID

	pool := newTestPool(env,
		worker.WithPoolConcurrency(1),
		worker.WithLeaseDuration(25*time.Millisecond),
		worker.WithHeartbeatInterval(5*time.Millisecond),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop(context.Background())

	tk := waitForState(t, env.store, tid, task.StateCompleted)
	if tk.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (heartbeats prevent the reaper from requeueing)", tk.Attempts)
	}
}

func TestPool_StopWaitsForInFlightTask(t *testing.T) {
	env := newExecEnv(nil, nil)
	started := make(chan struct{})
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, _ abstractPayload) ([]byte, error) {
			close(started)
			time.Sleep(30 * time.Millisecond)
			return []byte("done"), nil
		}))

	pool := newTestPool(env, worker.WithPoolConcurrency(1))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	tid := enqueueTask(t, env.store, "fetch-abstract", id.NewInstanceID(), 3, 0).ID
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	tk, err := env.store.GetTask(context.Background(), tid)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.State != task.StateCompleted {
		t.Errorf("state = %s, want completed (graceful stop drains in-flight work)", tk.State)
	}

	// Stop is idempotent.
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestPool_StopTimeoutPreservesInterruptedTask(t *testing.T) {
	env := newExecEnv(nil, nil)
	started := make(chan struct{})
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(ctx context.Context, _ abstractPayload) ([]byte, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	pool := newTestPool(env, worker.WithPoolConcurrency(1))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	tid := enqueueTask(t, env.store, "fetch-abstract", id.NewInstanceID(), 3, 0).ID
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	// A shutdown deadline that has already passed forces Stop to cancel
	// the in-flight handler instead of draining it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// The interrupted task is not terminal: it keeps its lease and no
	// attempt is consumed beyond the one charged at claim.
	tk, err := env.store.GetTask(context.Background(), tid)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.State != task.StateRunning {
		t.Fatalf("state = %s, want running after shutdown interrupt", tk.State)
	}
	if tk.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", tk.Attempts)
	}

	// Once the lease lapses the task is claimable again on a new pool.
	reaped, reapErr := env.store.ReapExpiredLeases(context.Background(), time.Now().UTC().Add(2*time.Minute))
	if reapErr != nil {
		t.Fatalf("reap: %v", reapErr)
	}
	if len(reaped) != 1 || reaped[0].ID != tid || reaped[0].State != task.StatePending {
		t.Fatalf("reaped = %+v, want the interrupted task back in pending", reaped)
	}
}
