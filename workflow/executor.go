package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/id"
)

// Emitter receives instance and step lifecycle events. It is satisfied
// by hook.Registry and wired in by the engine package, which breaks the
// import cycle between workflow and hook.
type Emitter interface {
	EmitInstanceStarted(ctx context.Context, inst *Instance)
	EmitInstanceSuspended(ctx context.Context, inst *Instance, reason string)
	EmitInstanceResumed(ctx context.Context, inst *Instance, decision string)
	EmitInstanceCompleted(ctx context.Context, inst *Instance, elapsed time.Duration)
	EmitInstanceHalted(ctx context.Context, inst *Instance, reason string, err error)
	EmitInstanceCancelled(ctx context.Context, inst *Instance)
	EmitStepStarted(ctx context.Context, inst *Instance, step StepID)
	EmitStepCompleted(ctx context.Context, inst *Instance, step StepID, transition string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, inst *Instance, step StepID, err error)
}

// TaskCanceller marks an instance's outstanding tasks cancelled.
// Satisfied by task.Store.
type TaskCanceller interface {
	CancelInstanceTasks(ctx context.Context, instanceID id.InstanceID) (int64, error)
}

// DecisionKey is the context key a resume decision is folded into. Step
// handlers at human checkpoints read it to pick their next transition.
const DecisionKey = "decision"

// Executor drives instances through the step state machine. It runs
// single-threaded per instance: steps of one instance never execute
// concurrently, so step ordering is deterministic given deterministic
// handler outputs. One Executor may serve many instances.
type Executor struct {
	registry *Registry
	store    Store
	emitter  Emitter
	logger   *slog.Logger

	// initial is the designated first step of every instance.
	initial StepID

	// autoDecision resolves Suspend transitions for auto-mode instances.
	autoDecision conductor.AutoDecision

	// tasks cancels outstanding tasks on instance cancellation. Nil when
	// the deployment runs without a task queue.
	tasks TaskCanceller
}

// NewExecutor creates an executor. The registry must have been validated
// against initial before any instance runs.
func NewExecutor(
	registry *Registry,
	store Store,
	emitter Emitter,
	logger *slog.Logger,
	initial StepID,
	autoDecision conductor.AutoDecision,
) *Executor {
	if autoDecision == "" {
		autoDecision = conductor.DecisionHalt
	}
	return &Executor{
		registry:     registry,
		store:        store,
		emitter:      emitter,
		logger:       logger,
		initial:      initial,
		autoDecision: autoDecision,
	}
}

// SetTaskCanceller wires task cancellation for Cancel. Called by the
// engine package during wiring.
func (e *Executor) SetTaskCanceller(tc TaskCanceller) { e.tasks = tc }

// Registry returns the step registry.
func (e *Executor) Registry() *Registry { return e.registry }

// Run creates a new instance at the initial step and executes it to
// completion, halt, or suspension. seed, when non-nil, becomes the
// instance's starting context (the research question, search limits).
func (e *Executor) Run(ctx context.Context, seed *Context, autoMode bool) (conductor.Outcome, error) {
	inst := NewInstance(e.initial, autoMode)
	if seed != nil {
		inst.Context = seed
	}

	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return conductor.Outcome{}, fmt.Errorf("workflow: create instance: %w", err)
	}
	e.emitter.EmitInstanceStarted(ctx, inst)

	return e.loop(ctx, inst)
}

// Resume re-enters a suspended instance at its checkpointed step, with
// the decision folded into Context under DecisionKey. The full executor
// state — context, history, outstanding task ids — is restored from the
// latest checkpoint, so a crash between suspension and resume loses
// nothing.
func (e *Executor) Resume(ctx context.Context, instanceID id.InstanceID, decision string) (conductor.Outcome, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return conductor.Outcome{}, err
	}
	if inst.Status != StatusSuspended {
		return conductor.Outcome{}, fmt.Errorf("%w: instance %s is %s", conductor.ErrNotSuspended, instanceID, inst.Status)
	}

	cp, err := e.store.LatestCheckpoint(ctx, instanceID)
	if err != nil {
		return conductor.Outcome{}, err
	}
	if err := cp.Apply(inst); err != nil {
		// Corrupt checkpoints require manual intervention; never
		// reinitialize over them.
		return conductor.Outcome{}, err
	}

	if decision != "" {
		inst.Context.Set(DecisionKey, decision)
	}
	inst.Status = StatusRunning
	inst.SuspendReason = ""
	inst.Touch()
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return conductor.Outcome{}, fmt.Errorf("workflow: update instance %s: %w", instanceID, err)
	}
	e.emitter.EmitInstanceResumed(ctx, inst, decision)

	return e.loop(ctx, inst)
}

// Cancel marks the instance terminated and its outstanding tasks
// cancelled. Running task handlers keep executing until they observe
// cancellation; they are never forcibly terminated.
func (e *Executor) Cancel(ctx context.Context, instanceID id.InstanceID) error {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return nil
	}

	if e.tasks != nil {
		n, cancelErr := e.tasks.CancelInstanceTasks(ctx, instanceID)
		if cancelErr != nil {
			return fmt.Errorf("workflow: cancel tasks for instance %s: %w", instanceID, cancelErr)
		}
		e.logger.Info("cancelled outstanding tasks",
			slog.String("instance_id", instanceID.String()),
			slog.Int64("count", n),
		)
	}

	now := time.Now().UTC()
	inst.Status = StatusTerminated
	inst.FinishedAt = &now
	inst.Touch()
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("workflow: update instance %s: %w", instanceID, err)
	}
	e.emitter.EmitInstanceCancelled(ctx, inst)
	return nil
}

// loop executes steps until the instance completes, halts, or suspends.
func (e *Executor) loop(ctx context.Context, inst *Instance) (conductor.Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			// The caller's context ended. The last checkpoint already
			// reflects the last applied step; resume picks up there.
			return conductor.Outcome{}, err
		}

		step, handler, ok := e.registry.Get(inst.CurrentStep)
		if !ok {
			wrapped := fmt.Errorf("%w: step %q is not registered", conductor.ErrInvalidTransition, inst.CurrentStep)
			return e.halt(ctx, inst, wrapped.Error(), wrapped)
		}

		// Snapshot before the handler so Fail restores the exact
		// pre-step context: a failed step never partially mutates state
		// that downstream inspection would see.
		before, err := inst.Context.Clone()
		if err != nil {
			return conductor.Outcome{}, err
		}

		e.emitter.EmitStepStarted(ctx, inst, step.ID)
		started := time.Now().UTC()
		tr := handler(withInstance(ctx, inst), inst.Context)
		finished := time.Now().UTC()

		entry := HistoryEntry{
			Step:       step.ID,
			StartedAt:  started,
			FinishedAt: finished,
			Transition: tr.Kind.String(),
		}

		switch tr.Kind {
		case KindFail:
			inst.Context = before
			wrapped := fmt.Errorf("workflow: step %s: %w", step.ID, tr.Err)
			entry.Error = wrapped.Error()
			inst.History = append(inst.History, entry)
			e.emitter.EmitStepFailed(ctx, inst, step.ID, wrapped)
			return e.halt(ctx, inst, wrapped.Error(), wrapped)

		case KindHalt:
			inst.History = append(inst.History, entry)
			e.emitter.EmitStepCompleted(ctx, inst, step.ID, entry.Transition, finished.Sub(started))
			return e.halt(ctx, inst, tr.Reason, nil)

		case KindSuspend:
			if inst.AutoMode {
				outcome, done, autoErr := e.resolveAuto(ctx, inst, step, tr, entry)
				if autoErr != nil {
					return conductor.Outcome{}, autoErr
				}
				if done {
					return outcome, nil
				}
				continue
			}

			inst.History = append(inst.History, entry)
			inst.Status = StatusSuspended
			inst.SuspendReason = tr.Reason
			inst.Touch()
			if err := e.commit(ctx, inst); err != nil {
				return conductor.Outcome{}, err
			}
			e.emitter.EmitStepCompleted(ctx, inst, step.ID, entry.Transition, finished.Sub(started))
			e.emitter.EmitInstanceSuspended(ctx, inst, tr.Reason)
			return conductor.Outcome{
				Kind:       conductor.OutcomeSuspended,
				InstanceID: inst.ID.String(),
				LastStep:   string(inst.LastStep),
				Reason:     tr.Reason,
			}, nil

		case KindRepeat:
			if !step.Repeatable {
				wrapped := fmt.Errorf("%w: step %q is not repeatable", conductor.ErrInvalidTransition, step.ID)
				inst.Context = before
				entry.Error = wrapped.Error()
				inst.History = append(inst.History, entry)
				e.emitter.EmitStepFailed(ctx, inst, step.ID, wrapped)
				return e.halt(ctx, inst, wrapped.Error(), wrapped)
			}
			inst.History = append(inst.History, entry)
			inst.LastStep = step.ID
			inst.Touch()
			if err := e.commit(ctx, inst); err != nil {
				return conductor.Outcome{}, err
			}
			e.emitter.EmitStepCompleted(ctx, inst, step.ID, entry.Transition, finished.Sub(started))
			// CurrentStep unchanged; loop re-enters the same step.

		case KindContinue, KindBranch:
			if tr.Target == "" && step.Terminal {
				inst.History = append(inst.History, entry)
				return e.complete(ctx, inst, step.ID, finished.Sub(started))
			}
			if !step.AllowsTarget(tr.Target) {
				wrapped := fmt.Errorf("%w: step %q does not allow target %q", conductor.ErrInvalidTransition, step.ID, tr.Target)
				inst.Context = before
				entry.Error = wrapped.Error()
				inst.History = append(inst.History, entry)
				e.emitter.EmitStepFailed(ctx, inst, step.ID, wrapped)
				return e.halt(ctx, inst, wrapped.Error(), wrapped)
			}
			inst.History = append(inst.History, entry)
			inst.LastStep = step.ID
			inst.CurrentStep = tr.Target
			inst.Touch()
			if err := e.commit(ctx, inst); err != nil {
				return conductor.Outcome{}, err
			}
			e.emitter.EmitStepCompleted(ctx, inst, step.ID, entry.Transition, finished.Sub(started))

		default:
			wrapped := fmt.Errorf("%w: unknown transition kind %d from step %q", conductor.ErrInvalidTransition, tr.Kind, step.ID)
			return e.halt(ctx, inst, wrapped.Error(), wrapped)
		}
	}
}

// resolveAuto applies the configured default decision to a Suspend from
// an auto-mode instance. Returns done=false when the loop should
// re-enter the same step with the decision folded in.
func (e *Executor) resolveAuto(ctx context.Context, inst *Instance, step Step, tr Transition, entry HistoryEntry) (conductor.Outcome, bool, error) {
	switch e.autoDecision {
	case conductor.DecisionApprove:
		entry.Summary = "auto-approved"
		inst.History = append(inst.History, entry)
		inst.Context.Set(DecisionKey, string(conductor.DecisionApprove))
		inst.Touch()
		if err := e.commit(ctx, inst); err != nil {
			return conductor.Outcome{}, true, err
		}
		e.logger.Info("auto-mode approved suspension",
			slog.String("instance_id", inst.ID.String()),
			slog.String("step", string(step.ID)),
			slog.String("reason", tr.Reason),
		)
		return conductor.Outcome{}, false, nil

	default: // conductor.DecisionHalt
		inst.History = append(inst.History, entry)
		outcome, err := e.halt(ctx, inst, tr.Reason, nil)
		return outcome, true, err
	}
}

// complete marks the instance completed and reports the outcome.
func (e *Executor) complete(ctx context.Context, inst *Instance, last StepID, elapsed time.Duration) (conductor.Outcome, error) {
	now := time.Now().UTC()
	inst.Status = StatusCompleted
	inst.LastStep = last
	inst.FinishedAt = &now
	inst.Touch()
	if err := e.commit(ctx, inst); err != nil {
		return conductor.Outcome{}, err
	}
	e.emitter.EmitStepCompleted(ctx, inst, last, KindContinue.String(), elapsed)
	e.emitter.EmitInstanceCompleted(ctx, inst, now.Sub(inst.StartedAt))
	return conductor.Outcome{
		Kind:       conductor.OutcomeCompleted,
		InstanceID: inst.ID.String(),
		LastStep:   string(last),
	}, nil
}

// halt stops the instance. The halt reason, last successful step, and
// the resumable instance id are always reported together.
func (e *Executor) halt(ctx context.Context, inst *Instance, reason string, err error) (conductor.Outcome, error) {
	now := time.Now().UTC()
	inst.Status = StatusHalted
	inst.HaltReason = reason
	inst.FinishedAt = &now
	inst.Touch()
	if commitErr := e.commit(ctx, inst); commitErr != nil {
		return conductor.Outcome{}, commitErr
	}
	e.emitter.EmitInstanceHalted(ctx, inst, reason, err)
	return conductor.Outcome{
		Kind:       conductor.OutcomeHalted,
		InstanceID: inst.ID.String(),
		LastStep:   string(inst.LastStep),
		Reason:     reason,
		Err:        err,
	}, nil
}

// commit checkpoints the instance and persists its row. The checkpoint
// is written first: it always reflects a fully-applied step.
func (e *Executor) commit(ctx context.Context, inst *Instance) error {
	cp, err := NewCheckpoint(inst)
	if err != nil {
		return err
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("workflow: save checkpoint for instance %s: %w", inst.ID, err)
	}
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("workflow: update instance %s: %w", inst.ID, err)
	}
	return nil
}
