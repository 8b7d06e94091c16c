package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/medscribe/conductor/hook"
	"github.com/medscribe/conductor/task"
	"github.com/medscribe/conductor/workflow"
)

// meterName is the instrumentation scope name for conductor metrics.
const meterName = "github.com/medscribe/conductor/observability"

// Compile-time interface checks.
var (
	_ hook.Extension         = (*MetricsExtension)(nil)
	_ hook.TaskEnqueued      = (*MetricsExtension)(nil)
	_ hook.TaskCompleted     = (*MetricsExtension)(nil)
	_ hook.TaskFailed        = (*MetricsExtension)(nil)
	_ hook.TaskRetrying      = (*MetricsExtension)(nil)
	_ hook.TaskDLQ           = (*MetricsExtension)(nil)
	_ hook.TaskCancelled     = (*MetricsExtension)(nil)
	_ hook.InstanceStarted   = (*MetricsExtension)(nil)
	_ hook.InstanceSuspended = (*MetricsExtension)(nil)
	_ hook.InstanceCompleted = (*MetricsExtension)(nil)
	_ hook.InstanceHalted    = (*MetricsExtension)(nil)
	_ hook.InstanceCancelled = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters. Register it
// on the hook registry to track enqueue rates, completion counts,
// failure rates, retries, dead-letter entries, and instance outcomes.
// Per-attempt latency is the middleware's job; this extension only
// counts events.
type MetricsExtension struct {
	taskEnqueued     metric.Int64Counter
	taskCompleted    metric.Int64Counter
	taskFailed       metric.Int64Counter
	taskRetried      metric.Int64Counter
	taskDLQ          metric.Int64Counter
	taskCancelled    metric.Int64Counter
	instanceStarted  metric.Int64Counter
	instanceOutcome  metric.Int64Counter
	instanceSuspends metric.Int64Counter
	instanceDuration metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If none is configured, the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter, for injecting an sdkmetric provider in tests.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// On error, the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.taskEnqueued, _ = meter.Int64Counter("conductor.task.enqueued",
		metric.WithDescription("Tasks enqueued"), metric.WithUnit("{task}"))
	m.taskCompleted, _ = meter.Int64Counter("conductor.task.completed",
		metric.WithDescription("Tasks completed successfully"), metric.WithUnit("{task}"))
	m.taskFailed, _ = meter.Int64Counter("conductor.task.failed",
		metric.WithDescription("Tasks failed terminally"), metric.WithUnit("{task}"))
	m.taskRetried, _ = meter.Int64Counter("conductor.task.retried",
		metric.WithDescription("Task retry attempts scheduled"), metric.WithUnit("{task}"))
	m.taskDLQ, _ = meter.Int64Counter("conductor.task.dlq",
		metric.WithDescription("Tasks moved to the dead letter queue"), metric.WithUnit("{task}"))
	m.taskCancelled, _ = meter.Int64Counter("conductor.task.cancelled",
		metric.WithDescription("Tasks cancelled with their instance"), metric.WithUnit("{task}"))
	m.instanceStarted, _ = meter.Int64Counter("conductor.instance.started",
		metric.WithDescription("Workflow instances started"), metric.WithUnit("{instance}"))
	m.instanceOutcome, _ = meter.Int64Counter("conductor.instance.outcome",
		metric.WithDescription("Workflow instance terminal outcomes"), metric.WithUnit("{instance}"))
	m.instanceSuspends, _ = meter.Int64Counter("conductor.instance.suspended",
		metric.WithDescription("Workflow instance suspensions"), metric.WithUnit("{instance}"))
	m.instanceDuration, _ = meter.Float64Histogram("conductor.instance.duration",
		metric.WithDescription("End-to-end instance duration in seconds"), metric.WithUnit("s"))

	return m
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func taskAttrs(t *task.Task) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("task_name", t.Name),
		attribute.String("priority", t.Priority.String()),
	)
}

// ── Task lifecycle hooks ────────────────────────────

func (m *MetricsExtension) OnTaskEnqueued(ctx context.Context, t *task.Task) error {
	m.taskEnqueued.Add(ctx, 1, taskAttrs(t))
	return nil
}

func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, t *task.Task, _ time.Duration) error {
	m.taskCompleted.Add(ctx, 1, taskAttrs(t))
	return nil
}

func (m *MetricsExtension) OnTaskFailed(ctx context.Context, t *task.Task, _ error) error {
	m.taskFailed.Add(ctx, 1, taskAttrs(t))
	return nil
}

func (m *MetricsExtension) OnTaskRetrying(ctx context.Context, t *task.Task, _ int, _ time.Time) error {
	m.taskRetried.Add(ctx, 1, taskAttrs(t))
	return nil
}

func (m *MetricsExtension) OnTaskDLQ(ctx context.Context, t *task.Task, _ error) error {
	m.taskDLQ.Add(ctx, 1, taskAttrs(t))
	return nil
}

func (m *MetricsExtension) OnTaskCancelled(ctx context.Context, t *task.Task) error {
	m.taskCancelled.Add(ctx, 1, taskAttrs(t))
	return nil
}

// ── Instance lifecycle hooks ────────────────────────

func (m *MetricsExtension) OnInstanceStarted(ctx context.Context, inst *workflow.Instance) error {
	m.instanceStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("auto_mode", inst.AutoMode),
	))
	return nil
}

func (m *MetricsExtension) OnInstanceSuspended(ctx context.Context, inst *workflow.Instance, _ string) error {
	m.instanceSuspends.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", string(inst.CurrentStep)),
	))
	return nil
}

func (m *MetricsExtension) OnInstanceCompleted(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error {
	attrs := metric.WithAttributes(attribute.String("status", string(workflow.StatusCompleted)))
	m.instanceOutcome.Add(ctx, 1, attrs)
	m.instanceDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

func (m *MetricsExtension) OnInstanceHalted(ctx context.Context, inst *workflow.Instance, _ string, _ error) error {
	m.instanceOutcome.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(workflow.StatusHalted)),
	))
	return nil
}

func (m *MetricsExtension) OnInstanceCancelled(ctx context.Context, inst *workflow.Instance) error {
	m.instanceOutcome.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(workflow.StatusTerminated)),
	))
	return nil
}
