package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medscribe/conductor/hook"
	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/queue"
	"github.com/medscribe/conductor/task"
)

// Pool manages a set of concurrent worker goroutines that claim due
// tasks from the store and execute them through the Executor. It also
// runs the lease heartbeat and the expired-lease reaper, and supports
// cooperative cancellation of in-flight tasks by owning instance.
type Pool struct {
	store    task.Store
	executor *Executor
	hooks    *hook.Registry
	gate     *queue.Gate
	workerID id.WorkerID
	logger   *slog.Logger

	concurrency       int
	pollInterval      time.Duration
	leaseDuration     time.Duration
	heartbeatInterval time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// active tracks in-flight tasks so the heartbeat loop can renew
	// their leases and CancelInstance can cancel their contexts.
	active   map[id.TaskID]activeTask
	activeMu sync.Mutex
}

type activeTask struct {
	instanceID id.InstanceID
	cancel     context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle workers poll for due tasks.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseDuration sets the visibility lease placed on claimed tasks.
func WithLeaseDuration(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseDuration = d }
}

// WithHeartbeatInterval sets how often the pool renews leases for
// active tasks. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithClaimGate sets the backpressure gate consulted before claims.
func WithClaimGate(g *queue.Gate) PoolOption {
	return func(p *Pool) { p.gate = g }
}

// NewPool creates a worker pool.
func NewPool(
	store task.Store,
	executor *Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:             store,
		executor:          executor,
		hooks:             hooks,
		concurrency:       8,
		pollInterval:      500 * time.Millisecond,
		leaseDuration:     2 * time.Minute,
		heartbeatInterval: 15 * time.Second,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		stopCh:            make(chan struct{}),
		active:            make(map[id.TaskID]activeTask),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.leaseDuration > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for in-flight tasks to
// finish. If the context deadline expires first, active tasks are
// cancelled; their leases will lapse and another claim retries them.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
		p.cancelAll()
		p.wg.Wait()
	}

	return nil
}

// CancelInstance cancels the execution contexts of all in-flight tasks
// owned by the given instance. Their handlers observe cancellation at
// the next blocking call; queued tasks are cancelled separately through
// the store.
func (p *Pool) CancelInstance(instanceID id.InstanceID) int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()

	var n int
	for taskID, at := range p.active {
		if at.instanceID == instanceID {
			p.logger.Info("cancelling in-flight task",
				slog.String("task_id", taskID.String()),
				slog.String("instance_id", instanceID.String()),
			)
			at.cancel()
			n++
		}
	}
	return n
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.gate != nil && !p.gate.AllowClaim() {
			p.sleep()
			continue
		}

		tasks, err := p.store.ClaimTasks(context.Background(), p.workerID, 1, p.leaseDuration)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if len(tasks) == 0 {
			p.sleep()
			continue
		}

		t := tasks[0]
		p.hooks.EmitTaskStarted(context.Background(), t)

		ctx, cancel := context.WithCancel(context.Background())
		p.track(t, cancel)

		if execErr := p.executor.Execute(ctx, t); execErr != nil {
			p.logger.Debug("task execution failed",
				slog.String("task_id", t.ID.String()),
				slog.String("task_name", t.Name),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrack(t.ID)
		cancel()
	}
}

// heartbeatLoop periodically renews the lease on every active task.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	taskIDs := make([]id.TaskID, 0, len(p.active))
	for taskID := range p.active {
		taskIDs = append(taskIDs, taskID)
	}
	p.activeMu.Unlock()

	for _, taskID := range taskIDs {
		if err := p.store.HeartbeatTask(context.Background(), taskID, p.workerID, p.leaseDuration); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("task_id", taskID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically requeues tasks whose lease has expired —
// typically tasks claimed by a worker that crashed mid-execution.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.leaseDuration)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapExpired()
		}
	}
}

func (p *Pool) reapExpired() {
	ctx := context.Background()
	reaped, err := p.store.ReapExpiredLeases(ctx, time.Now().UTC())
	if err != nil {
		p.logger.Error("reap expired leases error", slog.String("error", err.Error()))
		return
	}

	for _, t := range reaped {
		switch t.State {
		case task.StateDead:
			// Lost attempt exhausted the budget; finish the dead-letter path.
			p.executor.deadLetter(ctx, t, errLeaseExpired)
		default:
			p.hooks.EmitTaskRetrying(ctx, t, t.Attempts, t.RunAt)
			p.logger.Info("requeued task with expired lease",
				slog.String("task_id", t.ID.String()),
				slog.String("task_name", t.Name),
				slog.Int("attempts", t.Attempts),
			)
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(t *task.Task, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[t.ID] = activeTask{instanceID: t.InstanceID, cancel: cancel}
	p.activeMu.Unlock()
}

func (p *Pool) untrack(taskID id.TaskID) {
	p.activeMu.Lock()
	delete(p.active, taskID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelAll() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for taskID, at := range p.active {
		p.logger.Warn("cancelling active task", slog.String("task_id", taskID.String()))
		at.cancel()
	}
}
