package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/backoff"
	"github.com/medscribe/conductor/dlq"
	"github.com/medscribe/conductor/hook"
	"github.com/medscribe/conductor/id"
	mw "github.com/medscribe/conductor/middleware"
	"github.com/medscribe/conductor/observability"
	"github.com/medscribe/conductor/queue"
	"github.com/medscribe/conductor/task"
	"github.com/medscribe/conductor/worker"
	"github.com/medscribe/conductor/workflow"
)

// hook.Registry satisfies workflow.Emitter and workflow.TaskEmitter
// directly: the interfaces are defined in workflow (which cannot import
// hook) and implemented by the registry, and the engine layer plugs
// them together.
var (
	_ workflow.Emitter     = (*hook.Registry)(nil)
	_ workflow.TaskEmitter = (*hook.Registry)(nil)
)

// Engine wraps an Orchestrator with the fully wired subsystems: hook
// registry, task registry, step registry, worker pool, workflow
// executor, and task dispatcher. Use Build() to create one.
type Engine struct {
	o      *conductor.Orchestrator
	hooks  *hook.Registry
	logger *slog.Logger

	// Task queue subsystem.
	tasks      *task.Registry
	taskStore  task.Store
	dlqService *dlq.Service
	gate       *queue.Gate
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware

	// Workflow subsystem.
	steps      *workflow.Registry
	initial    workflow.StepID
	wfStore    workflow.Store
	executor   *workflow.Executor
	dispatcher *workflow.Dispatcher

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine's hook registry.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.hooks.Register(e)
	}
}

// WithMiddleware appends middleware to the task execution chain, after
// the default stack (recover, tracing, metrics, logging, timeout).
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. If not set,
// backoff.DefaultStrategy() (exponential with full jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses it instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, both
// the metrics middleware and the observability extension use it instead
// of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// gateCanceller implements workflow.TaskCanceller with backpressure
// accounting. Running tasks release their queue slots when their
// handlers observe cancellation; slots for tasks cancelled while still
// waiting are released here.
type gateCanceller struct {
	store task.Store
	gate  *queue.Gate
	pool  *worker.Pool
}

func (c *gateCanceller) CancelInstanceTasks(ctx context.Context, instanceID id.InstanceID) (int64, error) {
	// The store is cancelled before the in-flight contexts so a handler
	// that wakes up on cancellation reads StateCancelled and records it,
	// rather than mistaking the interrupt for a pool shutdown.
	n, err := c.store.CancelInstanceTasks(ctx, instanceID)
	if err != nil {
		return n, err
	}
	running := int64(c.pool.CancelInstance(instanceID))
	for released := running; released < n; released++ {
		c.gate.Release()
	}
	return n, nil
}

// Build creates an Engine from an Orchestrator. initial is the
// designated first step of every workflow instance. The Orchestrator's
// store must implement the task, workflow, and dlq store contracts
// (store.Store does).
func Build(o *conductor.Orchestrator, initial workflow.StepID, opts ...Option) (*Engine, error) {
	logger := o.Logger()
	st := o.Store()

	if st == nil {
		return nil, conductor.ErrNoStore
	}
	ts, ok := st.(task.Store)
	if !ok {
		return nil, fmt.Errorf("conductor: store does not implement task.Store")
	}
	ws, ok := st.(workflow.Store)
	if !ok {
		return nil, fmt.Errorf("conductor: store does not implement workflow.Store")
	}
	ds, ok := st.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("conductor: store does not implement dlq.Store")
	}
	if initial == "" {
		return nil, fmt.Errorf("conductor: initial step must be set")
	}

	eng := &Engine{
		o:         o,
		hooks:     hook.NewRegistry(logger),
		logger:    logger,
		tasks:     task.NewRegistry(),
		taskStore: ts,
		steps:     workflow.NewRegistry(),
		initial:   initial,
		wfStore:   ws,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	config := o.Config()

	// The gate is the single backpressure authority: Enqueue and
	// Dispatch reserve slots through it, terminal transitions release
	// them, and claim throttling consults it.
	eng.gate = queue.NewGate(queue.Config{
		MaxDepth: config.MaxQueueDepth,
		Policy:   config.Backpressure,
	})

	eng.dlqService = dlq.NewService(ds, ts)

	// Built-in observability extensions.
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/medscribe/conductor/observability")
		eng.hooks.Register(observability.NewMetricsExtensionWithMeter(meter))
	} else {
		eng.hooks.Register(observability.NewMetricsExtension())
	}
	eng.hooks.Register(observability.NewLoggingExtension(logger))

	// Tracing and metrics middleware (custom providers or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/medscribe/conductor"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/medscribe/conductor"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover → tracing → metrics → logging → timeout.
	allMws := make([]mw.Middleware, 0, 5+len(eng.mws))
	allMws = append(allMws,
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.tasks, eng.hooks, ts, eng.dlqService, eng.gate, eng.bo, logger, allMws...)
	eng.pool = worker.NewPool(ts, executor, eng.hooks, logger,
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
		worker.WithLeaseDuration(config.LeaseDuration),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithClaimGate(eng.gate),
	)

	eng.executor = workflow.NewExecutor(eng.steps, ws, eng.hooks, logger, initial, config.AutoDecision)
	eng.executor.SetTaskCanceller(&gateCanceller{store: ts, gate: eng.gate, pool: eng.pool})
	eng.dispatcher = workflow.NewDispatcher(ts, eng.gate, eng.hooks, logger)

	o.SetPool(eng.pool)
	o.SetHooks(eng.hooks)

	return eng, nil
}

// Register registers a typed task definition with the engine.
func Register[T any](eng *Engine, def *task.Definition[T]) {
	task.RegisterDefinition(eng.tasks, def)
}

// RegisterStep registers a workflow step and its handler. The step set
// is closed at Start, which validates branch targets and reachability.
func (eng *Engine) RegisterStep(step workflow.Step, handler workflow.Handler) {
	eng.steps.Register(step, handler)
}

// Enqueue creates and enqueues a standalone task (one not dispatched by
// a workflow step).
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...task.Option) (*task.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("conductor: marshal payload for task %q: %w", name, err)
	}
	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a task with a pre-serialized payload. Under a
// full queue the configured backpressure policy applies: reject
// surfaces conductor.ErrQueueFull, block waits on ctx.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...task.Option) (*task.Task, error) {
	o := task.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := eng.gate.Admit(ctx); err != nil {
		return nil, err
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
		IdempotencyKey: o.IdempotencyKey,
		Payload:        payload,
		State:          task.StatePending,
		Priority:       o.Priority,
		MaxAttempts:    o.MaxAttempts,
		Timeout:        o.Timeout,
		RunAt:          runAt,
	}

	if err := eng.taskStore.EnqueueTask(ctx, t); err != nil {
		eng.gate.Release()
		return nil, err
	}

	eng.hooks.EmitTaskEnqueued(ctx, t)
	return t, nil
}

// Start validates the step registry, reconciles the backpressure gate
// with unfinished tasks already in the store, and begins task
// processing. A validation error here means a step declares an
// unregistered branch target or is unreachable; abort startup.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.steps.Validate(eng.initial); err != nil {
		return err
	}

	// Unfinished tasks from a previous process still occupy queue
	// capacity; prime the in-memory gate to match.
	stats, err := eng.taskStore.TaskStats(ctx)
	if err != nil {
		return fmt.Errorf("conductor: load task stats: %w", err)
	}
	var unfinished int64
	for state, n := range stats.ByState {
		if !state.Terminal() {
			unfinished += n
		}
	}
	eng.gate.Prime(int(unfinished))

	return eng.o.Start(ctx)
}

// Stop gracefully shuts down the engine: the pool stops claiming,
// running handlers get until the orchestrator's shutdown timeout, and
// the shutdown hook fires.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.o.Stop(ctx)
}

// Run creates a new workflow instance at the initial step and executes
// it to completion, halt, or suspension. seed, when non-nil, becomes
// the instance's starting context.
func (eng *Engine) Run(ctx context.Context, seed *workflow.Context, autoMode bool) (conductor.Outcome, error) {
	return eng.executor.Run(ctx, seed, autoMode)
}

// Resume re-enters a suspended instance with the given decision folded
// into its context under workflow.DecisionKey.
func (eng *Engine) Resume(ctx context.Context, instanceID id.InstanceID, decision string) (conductor.Outcome, error) {
	return eng.executor.Resume(ctx, instanceID, decision)
}

// Cancel terminates an instance: its outstanding tasks are marked
// cancelled, running handlers get a context cancellation, and the
// instance status becomes terminated.
func (eng *Engine) Cancel(ctx context.Context, instanceID id.InstanceID) error {
	return eng.executor.Cancel(ctx, instanceID)
}

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Tasks returns the task handler registry.
func (eng *Engine) Tasks() *task.Registry { return eng.tasks }

// Steps returns the workflow step registry.
func (eng *Engine) Steps() *workflow.Registry { return eng.steps }

// Dispatcher returns the task dispatcher for use inside step handlers.
func (eng *Engine) Dispatcher() *workflow.Dispatcher { return eng.dispatcher }

// Executor returns the workflow executor.
func (eng *Engine) Executor() *workflow.Executor { return eng.executor }

// DLQService returns the dead letter service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Gate returns the backpressure gate.
func (eng *Engine) Gate() *queue.Gate { return eng.gate }

// Orchestrator returns the underlying Orchestrator.
func (eng *Engine) Orchestrator() *conductor.Orchestrator { return eng.o }
