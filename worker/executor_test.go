package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/backoff"
	"github.com/medscribe/conductor/dlq"
	"github.com/medscribe/conductor/hook"
	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/middleware"
	"github.com/medscribe/conductor/queue"
	"github.com/medscribe/conductor/store/memory"
	"github.com/medscribe/conductor/task"
	"github.com/medscribe/conductor/worker"
)

type abstractPayload struct {
	PMID string `json:"pmid"`
}

type execEnv struct {
	store *memory.Store
	tasks *task.Registry
	gate  *queue.Gate
	exec  *worker.Executor
}

func newExecEnv(gate *queue.Gate, bo backoff.Strategy, mws ...middleware.Middleware) *execEnv {
	if bo == nil {
		bo = backoff.NewConstant(time.Millisecond)
	}
	env := &execEnv{
		store: memory.New(),
		tasks: task.NewRegistry(),
		gate:  gate,
	}
	hooks := hook.NewRegistry(slog.Default())
	dlqService := dlq.NewService(env.store, env.store)
	env.exec = worker.NewExecutor(env.tasks, hooks, env.store, dlqService, gate, bo, slog.Default(), mws...)
	return env
}

func enqueueTask(t *testing.T, store *memory.Store, name string, instanceID id.InstanceID, maxAttempts int, timeout time.Duration) *task.Task {
	t.Helper()
	tk := &task.Task{
		Entity:      conductor.NewEntity(),
		ID:          id.NewTaskID(),
		Name:        name,
		InstanceID:  instanceID,
		Payload:     []byte(`{"pmid":"38412345"}`),
		State:       task.StatePending,
		Priority:    task.PriorityNormal,
		MaxAttempts: maxAttempts,
		Timeout:     timeout,
		RunAt:       time.Now().UTC(),
	}
	if err := store.EnqueueTask(context.Background(), tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return tk
}

func claimOne(t *testing.T, store *memory.Store) *task.Task {
	t.Helper()
	claimed, err := store.ClaimTasks(context.Background(), id.NewWorkerID(), 1, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d tasks, want 1", len(claimed))
	}
	return claimed[0]
}

func TestExecute_SuccessPersistsResult(t *testing.T) {
	gate := queue.NewGate(queue.Config{MaxDepth: 4})
	env := newExecEnv(gate, nil)
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, p abstractPayload) ([]byte, error) {
			return []byte("abstract for " + p.PMID), nil
		}))

	enqueueTask(t, env.store, "fetch-abstract", id.NewInstanceID(), 3, 0)
	gate.Prime(1) // slot held since enqueue
	claimed := claimOne(t, env.store)

	if err := env.exec.Execute(context.Background(), claimed); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	tk, err := env.store.GetTask(context.Background(), claimed.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.State != task.StateCompleted {
		t.Errorf("state = %s, want completed", tk.State)
	}
	if string(tk.Result) != "abstract for 38412345" {
		t.Errorf("result = %s", tk.Result)
	}
	if tk.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if gate.Depth() != 0 {
		t.Errorf("gate depth = %d, want 0 after terminal state", gate.Depth())
	}
}

func TestExecute_FailureSchedulesRetry(t *testing.T) {
	env := newExecEnv(nil, backoff.NewConstant(time.Second))
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, _ abstractPayload) ([]byte, error) {
			return nil, errors.New("pubmed: 429 too many requests")
		}))

	enqueueTask(t, env.store, "fetch-abstract", id.NewInstanceID(), 3, 0)
	claimed := claimOne(t, env.store)

	before := time.Now().UTC()
	err := env.exec.Execute(context.Background(), claimed)
	if err == nil || !strings.Contains(err.Error(), "attempt 1/3") {
		t.Fatalf("err = %v, want attempt 1/3", err)
	}

	tk, getErr := env.store.GetTask(context.Background(), claimed.ID)
	if getErr != nil {
		t.Fatalf("get task: %v", getErr)
	}
	if tk.State != task.StateRetrying {
		t.Errorf("state = %s, want retrying", tk.State)
	}
	if tk.RunAt.Before(before.Add(500 * time.Millisecond)) {
		t.Errorf("run_at = %s, want backoff delay applied", tk.RunAt)
	}
	if !tk.WorkerID.IsNil() || tk.LeaseExpiresAt != nil {
		t.Error("claim ownership not released for retry")
	}
	if tk.LastError != "pubmed: 429 too many requests" {
		t.Errorf("last_error = %q", tk.LastError)
	}

	// Still backing off: not claimable yet.
	claimable, claimErr := env.store.ClaimTasks(context.Background(), id.NewWorkerID(), 1, time.Minute)
	if claimErr != nil {
		t.Fatalf("claim: %v", claimErr)
	}
	if len(claimable) != 0 {
		t.Errorf("claimed %d tasks during backoff window, want 0", len(claimable))
	}
}

func TestExecute_ExhaustedAttemptsDeadLetter(t *testing.T) {
	gate := queue.NewGate(queue.Config{MaxDepth: 4})
	env := newExecEnv(gate, nil)
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, _ abstractPayload) ([]byte, error) {
			return nil, errors.New("pubmed: 404 not found")
		}))

	instanceID := id.NewInstanceID()
	enqueueTask(t, env.store, "fetch-abstract", instanceID, 1, 0)
	gate.Prime(1)
	claimed := claimOne(t, env.store)

	err := env.exec.Execute(context.Background(), claimed)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want final handler error", err)
	}

	tk, getErr := env.store.GetTask(context.Background(), claimed.ID)
	if getErr != nil {
		t.Fatalf("get task: %v", getErr)
	}
	if tk.State != task.StateDead {
		t.Errorf("state = %s, want dead", tk.State)
	}
	if gate.Depth() != 0 {
		t.Errorf("gate depth = %d, want 0", gate.Depth())
	}

	entries, listErr := env.store.ListDLQ(context.Background(), dlq.ListOpts{Limit: 10})
	if listErr != nil {
		t.Fatalf("list dlq: %v", listErr)
	}
	if len(entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.TaskID != claimed.ID || e.InstanceID != instanceID {
		t.Errorf("entry identity = %s/%s", e.TaskID, e.InstanceID)
	}
	if e.Attempts != 1 || e.MaxAttempts != 1 {
		t.Errorf("entry attempts = %d/%d", e.Attempts, e.MaxAttempts)
	}
	if !strings.Contains(e.Error, "404") {
		t.Errorf("entry error = %q", e.Error)
	}
}

func TestExecute_MissingHandlerDeadLettersImmediately(t *testing.T) {
	env := newExecEnv(nil, nil)

	enqueueTask(t, env.store, "score-abstract", id.NewInstanceID(), 4, 0)
	claimed := claimOne(t, env.store)

	err := env.exec.Execute(context.Background(), claimed)
	if err == nil || !strings.Contains(err.Error(), "no handler registered") {
		t.Fatalf("err = %v, want missing-handler error", err)
	}

	tk, getErr := env.store.GetTask(context.Background(), claimed.ID)
	if getErr != nil {
		t.Fatalf("get task: %v", getErr)
	}
	if tk.State != task.StateDead {
		t.Errorf("state = %s, want dead (retry is pointless without a handler)", tk.State)
	}

	entries, listErr := env.store.ListDLQ(context.Background(), dlq.ListOpts{Limit: 10})
	if listErr != nil || len(entries) != 1 {
		t.Fatalf("dlq entries = %d (%v), want 1", len(entries), listErr)
	}
}

func TestExecute_CancelledContextMarksCancelled(t *testing.T) {
	gate := queue.NewGate(queue.Config{MaxDepth: 4})
	env := newExecEnv(gate, nil)
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(ctx context.Context, _ abstractPayload) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	instanceID := id.NewInstanceID()
	enqueueTask(t, env.store, "fetch-abstract", instanceID, 3, 0)
	gate.Prime(1)
	claimed := claimOne(t, env.store)

	// Instance cancellation marks the store first, then interrupts the
	// handler, mirroring the engine's cancel order.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		if _, err := env.store.CancelInstanceTasks(context.Background(), instanceID); err != nil {
			t.Errorf("cancel tasks: %v", err)
		}
		cancel()
	}()

	if err := env.exec.Execute(ctx, claimed); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	tk, getErr := env.store.GetTask(context.Background(), claimed.ID)
	if getErr != nil {
		t.Fatalf("get task: %v", getErr)
	}
	if tk.State != task.StateCancelled {
		t.Errorf("state = %s, want cancelled", tk.State)
	}
	if tk.CompletedAt == nil {
		t.Error("completed_at not set on cancellation")
	}
	if gate.Depth() != 0 {
		t.Errorf("gate depth = %d, want 0", gate.Depth())
	}

	entries, _ := env.store.ListDLQ(context.Background(), dlq.ListOpts{Limit: 10})
	if len(entries) != 0 {
		t.Errorf("cancelled task must not be dead-lettered, got %d entries", len(entries))
	}
}

func TestExecute_ShutdownInterruptLeavesTaskRunning(t *testing.T) {
	gate := queue.NewGate(queue.Config{MaxDepth: 4})
	env := newExecEnv(gate, nil)
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(ctx context.Context, _ abstractPayload) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	enqueueTask(t, env.store, "fetch-abstract", id.NewInstanceID(), 3, 0)
	gate.Prime(1)
	claimed := claimOne(t, env.store)

	// The context is cancelled without the store being touched: this is
	// a pool shutdown, not an instance cancellation. The work is not
	// lost — the task keeps its lease and another claim retries it.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := env.exec.Execute(ctx, claimed); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	tk, getErr := env.store.GetTask(context.Background(), claimed.ID)
	if getErr != nil {
		t.Fatalf("get task: %v", getErr)
	}
	if tk.State != task.StateRunning {
		t.Fatalf("state = %s, want running (lease left to lapse)", tk.State)
	}
	if tk.LeaseExpiresAt == nil || tk.WorkerID.IsNil() {
		t.Error("claim ownership dropped; the reaper needs the lease to recover the task")
	}
	if gate.Depth() != 1 {
		t.Errorf("gate depth = %d, want 1 (task is still live)", gate.Depth())
	}
	entries, _ := env.store.ListDLQ(context.Background(), dlq.ListOpts{Limit: 10})
	if len(entries) != 0 {
		t.Errorf("interrupted task must not be dead-lettered, got %d entries", len(entries))
	}

	// Once the lease lapses the reaper requeues the task for another worker.
	reaped, reapErr := env.store.ReapExpiredLeases(context.Background(), time.Now().UTC().Add(2*time.Minute))
	if reapErr != nil {
		t.Fatalf("reap: %v", reapErr)
	}
	if len(reaped) != 1 || reaped[0].State != task.StatePending {
		t.Fatalf("reaped = %+v, want the interrupted task back in pending", reaped)
	}
}

// stateRecorder captures every state written through UpdateTask so tests
// can assert the order of lifecycle transitions.
type stateRecorder struct {
	*memory.Store
	mu     sync.Mutex
	states []task.State
}

func (r *stateRecorder) UpdateTask(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	r.states = append(r.states, t.State)
	r.mu.Unlock()
	return r.Store.UpdateTask(ctx, t)
}

func newRecordedExecutor(rec *stateRecorder, tasks *task.Registry) *worker.Executor {
	hooks := hook.NewRegistry(slog.Default())
	dlqService := dlq.NewService(rec.Store, rec.Store)
	return worker.NewExecutor(tasks, hooks, rec, dlqService, nil,
		backoff.NewConstant(time.Millisecond), slog.Default())
}

func TestExecute_FailureRecordsFailedBeforeRetry(t *testing.T) {
	rec := &stateRecorder{Store: memory.New()}
	tasks := task.NewRegistry()
	task.RegisterDefinition(tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, _ abstractPayload) ([]byte, error) {
			return nil, errors.New("pubmed: 429 too many requests")
		}))
	exec := newRecordedExecutor(rec, tasks)

	enqueueTask(t, rec.Store, "fetch-abstract", id.NewInstanceID(), 3, 0)
	claimed := claimOne(t, rec.Store)

	if err := exec.Execute(context.Background(), claimed); err == nil {
		t.Fatal("Execute: want retry error")
	}

	want := []task.State{task.StateFailed, task.StateRetrying}
	if len(rec.states) != len(want) || rec.states[0] != want[0] || rec.states[1] != want[1] {
		t.Fatalf("state writes = %v, want %v", rec.states, want)
	}
}

func TestExecute_ExhaustionRecordsFailedBeforeDead(t *testing.T) {
	rec := &stateRecorder{Store: memory.New()}
	tasks := task.NewRegistry()
	task.RegisterDefinition(tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, _ abstractPayload) ([]byte, error) {
			return nil, errors.New("pubmed: 404 not found")
		}))
	exec := newRecordedExecutor(rec, tasks)

	enqueueTask(t, rec.Store, "fetch-abstract", id.NewInstanceID(), 1, 0)
	claimed := claimOne(t, rec.Store)

	if err := exec.Execute(context.Background(), claimed); err == nil {
		t.Fatal("Execute: want final handler error")
	}

	want := []task.State{task.StateFailed, task.StateDead}
	if len(rec.states) != len(want) || rec.states[0] != want[0] || rec.states[1] != want[1] {
		t.Fatalf("state writes = %v, want %v", rec.states, want)
	}
}

func TestExecute_TimeoutCountsAgainstBudget(t *testing.T) {
	env := newExecEnv(nil, nil, middleware.Timeout(slog.Default()))
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(ctx context.Context, _ abstractPayload) ([]byte, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return []byte("too late"), nil
			}
		}))

	enqueueTask(t, env.store, "fetch-abstract", id.NewInstanceID(), 3, 20*time.Millisecond)
	claimed := claimOne(t, env.store)

	err := env.exec.Execute(context.Background(), claimed)
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}

	// A per-task deadline is an ordinary failure: retry, not cancel.
	tk, getErr := env.store.GetTask(context.Background(), claimed.ID)
	if getErr != nil {
		t.Fatalf("get task: %v", getErr)
	}
	if tk.State != task.StateRetrying {
		t.Errorf("state = %s, want retrying", tk.State)
	}
}

func TestExecute_RetryThenSucceedOnThirdAttempt(t *testing.T) {
	env := newExecEnv(nil, backoff.NewConstant(time.Millisecond))
	calls := 0
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, p abstractPayload) ([]byte, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("pubmed: 503 service unavailable")
			}
			return []byte("abstract for " + p.PMID), nil
		}))

	enqueueTask(t, env.store, "fetch-abstract", id.NewInstanceID(), 3, 0)

	var last *task.Task
	for range 3 {
		time.Sleep(5 * time.Millisecond) // let the backoff window lapse
		claimed := claimOne(t, env.store)
		_ = env.exec.Execute(context.Background(), claimed)
		last = claimed
	}

	tk, err := env.store.GetTask(context.Background(), last.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.State != task.StateCompleted {
		t.Fatalf("state = %s, want completed", tk.State)
	}
	if tk.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", tk.Attempts)
	}
	if string(tk.Result) != "abstract for 38412345" {
		t.Errorf("result = %s", tk.Result)
	}
}

func TestExecute_LateSuccessAfterCancelIsDiscarded(t *testing.T) {
	env := newExecEnv(nil, nil)
	task.RegisterDefinition(env.tasks, task.NewDefinition("fetch-abstract",
		func(_ context.Context, _ abstractPayload) ([]byte, error) {
			return []byte("done"), nil
		}))

	instanceID := id.NewInstanceID()
	enqueueTask(t, env.store, "fetch-abstract", instanceID, 3, 0)
	claimed := claimOne(t, env.store)

	// The instance is cancelled while the handler runs.
	if _, err := env.store.CancelInstanceTasks(context.Background(), instanceID); err != nil {
		t.Fatalf("cancel tasks: %v", err)
	}

	if err := env.exec.Execute(context.Background(), claimed); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Cancelled is sticky: the late success never resurrects the task.
	tk, err := env.store.GetTask(context.Background(), claimed.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.State != task.StateCancelled {
		t.Errorf("state = %s, want cancelled to stick", tk.State)
	}
}
