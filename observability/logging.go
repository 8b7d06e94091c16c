package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/medscribe/conductor/hook"
	"github.com/medscribe/conductor/task"
	"github.com/medscribe/conductor/workflow"
)

// Compile-time interface checks.
var (
	_ hook.Extension         = (*LoggingExtension)(nil)
	_ hook.TaskEnqueued      = (*LoggingExtension)(nil)
	_ hook.TaskStarted       = (*LoggingExtension)(nil)
	_ hook.TaskCompleted     = (*LoggingExtension)(nil)
	_ hook.TaskFailed        = (*LoggingExtension)(nil)
	_ hook.TaskRetrying      = (*LoggingExtension)(nil)
	_ hook.TaskDLQ           = (*LoggingExtension)(nil)
	_ hook.TaskCancelled     = (*LoggingExtension)(nil)
	_ hook.StepStarted       = (*LoggingExtension)(nil)
	_ hook.StepCompleted     = (*LoggingExtension)(nil)
	_ hook.StepFailed        = (*LoggingExtension)(nil)
	_ hook.InstanceStarted   = (*LoggingExtension)(nil)
	_ hook.InstanceSuspended = (*LoggingExtension)(nil)
	_ hook.InstanceResumed   = (*LoggingExtension)(nil)
	_ hook.InstanceCompleted = (*LoggingExtension)(nil)
	_ hook.InstanceHalted    = (*LoggingExtension)(nil)
	_ hook.InstanceCancelled = (*LoggingExtension)(nil)
)

// LoggingExtension writes a structured log record for every lifecycle
// event. Routine progress is logged at Debug, state changes worth
// noticing at Info, and losses (terminal failure, DLQ, halt) at Warn.
type LoggingExtension struct {
	logger *slog.Logger
}

// NewLoggingExtension creates a LoggingExtension writing to logger.
func NewLoggingExtension(logger *slog.Logger) *LoggingExtension {
	return &LoggingExtension{logger: logger}
}

// Name implements hook.Extension.
func (l *LoggingExtension) Name() string { return "observability-logging" }

func taskGroup(t *task.Task) slog.Attr {
	return slog.Group("task",
		slog.String("id", t.ID.String()),
		slog.String("name", t.Name),
		slog.String("priority", t.Priority.String()),
	)
}

func instanceGroup(inst *workflow.Instance) slog.Attr {
	return slog.Group("instance",
		slog.String("id", inst.ID.String()),
		slog.String("step", string(inst.CurrentStep)),
	)
}

// ── Task lifecycle hooks ────────────────────────────

func (l *LoggingExtension) OnTaskEnqueued(ctx context.Context, t *task.Task) error {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "task enqueued", taskGroup(t))
	return nil
}

func (l *LoggingExtension) OnTaskStarted(ctx context.Context, t *task.Task) error {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "task started", taskGroup(t),
		slog.Int("attempt", t.Attempts))
	return nil
}

func (l *LoggingExtension) OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "task completed", taskGroup(t),
		slog.Duration("elapsed", elapsed))
	return nil
}

func (l *LoggingExtension) OnTaskFailed(ctx context.Context, t *task.Task, err error) error {
	l.logger.LogAttrs(ctx, slog.LevelWarn, "task failed", taskGroup(t),
		slog.Int("attempts", t.Attempts),
		slog.String("error", err.Error()))
	return nil
}

func (l *LoggingExtension) OnTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) error {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "task retrying", taskGroup(t),
		slog.Int("attempt", attempt),
		slog.Time("next_run_at", nextRunAt))
	return nil
}

func (l *LoggingExtension) OnTaskDLQ(ctx context.Context, t *task.Task, err error) error {
	l.logger.LogAttrs(ctx, slog.LevelWarn, "task dead-lettered", taskGroup(t),
		slog.String("error", err.Error()))
	return nil
}

func (l *LoggingExtension) OnTaskCancelled(ctx context.Context, t *task.Task) error {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "task cancelled", taskGroup(t))
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

func (l *LoggingExtension) OnStepStarted(ctx context.Context, inst *workflow.Instance, step workflow.StepID) error {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "step started", instanceGroup(inst),
		slog.String("step", string(step)))
	return nil
}

func (l *LoggingExtension) OnStepCompleted(ctx context.Context, inst *workflow.Instance, step workflow.StepID, transition string, elapsed time.Duration) error {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "step completed", instanceGroup(inst),
		slog.String("step", string(step)),
		slog.String("transition", transition),
		slog.Duration("elapsed", elapsed))
	return nil
}

func (l *LoggingExtension) OnStepFailed(ctx context.Context, inst *workflow.Instance, step workflow.StepID, err error) error {
	l.logger.LogAttrs(ctx, slog.LevelWarn, "step failed", instanceGroup(inst),
		slog.String("step", string(step)),
		slog.String("error", err.Error()))
	return nil
}

// ── Instance lifecycle hooks ────────────────────────

func (l *LoggingExtension) OnInstanceStarted(ctx context.Context, inst *workflow.Instance) error {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "instance started", instanceGroup(inst),
		slog.Bool("auto_mode", inst.AutoMode))
	return nil
}

func (l *LoggingExtension) OnInstanceSuspended(ctx context.Context, inst *workflow.Instance, reason string) error {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "instance suspended", instanceGroup(inst),
		slog.String("reason", reason))
	return nil
}

func (l *LoggingExtension) OnInstanceResumed(ctx context.Context, inst *workflow.Instance, decision string) error {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "instance resumed", instanceGroup(inst),
		slog.String("decision", decision))
	return nil
}

func (l *LoggingExtension) OnInstanceCompleted(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "instance completed", instanceGroup(inst),
		slog.Duration("elapsed", elapsed))
	return nil
}

func (l *LoggingExtension) OnInstanceHalted(ctx context.Context, inst *workflow.Instance, reason string, err error) error {
	attrs := []slog.Attr{instanceGroup(inst), slog.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.LogAttrs(ctx, slog.LevelWarn, "instance halted", attrs...)
	return nil
}

func (l *LoggingExtension) OnInstanceCancelled(ctx context.Context, inst *workflow.Instance) error {
	l.logger.LogAttrs(ctx, slog.LevelInfo, "instance cancelled", instanceGroup(inst))
	return nil
}
