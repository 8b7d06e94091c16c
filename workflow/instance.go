package workflow

import (
	"context"
	"time"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/id"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	// StatusRunning means the instance is executing steps.
	StatusRunning Status = "running"
	// StatusSuspended means the instance checkpointed at a Suspend and
	// is waiting for a resume decision.
	StatusSuspended Status = "suspended"
	// StatusCompleted means the instance reached a terminal step.
	StatusCompleted Status = "completed"
	// StatusHalted means the instance stopped on a Fail or deliberate
	// Halt transition.
	StatusHalted Status = "halted"
	// StatusTerminated means the instance was cancelled; its outstanding
	// tasks were marked cancelled.
	StatusTerminated Status = "terminated"
)

// Terminal reports whether the status admits no further execution.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusHalted, StatusTerminated:
		return true
	default:
		return false
	}
}

// HistoryEntry records one step execution. Repeatable steps contribute
// one entry per execution.
type HistoryEntry struct {
	Step       StepID    `json:"step"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Transition string    `json:"transition"`
	// Summary is a short human-readable result note, e.g. "42 abstracts
	// scored, 17 above threshold".
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Instance is one run of the step state machine with its own Context and
// history. Mutated only by its own executor; exactly one current step at
// any time.
type Instance struct {
	conductor.Entity

	ID id.InstanceID `json:"id"`

	// CurrentStep is the single step pointer.
	CurrentStep StepID `json:"current_step"`

	Status Status `json:"status"`

	// AutoMode resolves Suspend transitions via the configured default
	// decision instead of waiting for human input, so the same state
	// machine runs interactively or fully unattended.
	AutoMode bool `json:"auto_mode"`

	// History is the ordered step-execution record.
	History []HistoryEntry `json:"history"`

	// PendingTasks are the ids of outstanding tasks dispatched by the
	// current step, re-subscribed to on resume.
	PendingTasks []id.TaskID `json:"pending_tasks,omitempty"`

	// SuspendReason is set while Status is suspended.
	SuspendReason string `json:"suspend_reason,omitempty"`

	// HaltReason carries the Halt reason or the Fail error text.
	HaltReason string `json:"halt_reason,omitempty"`

	// LastStep is the last successfully applied step, reported alongside
	// the halt reason and instance id.
	LastStep StepID `json:"last_step,omitempty"`

	// Context holds the run's typed key/value state. Not serialized
	// directly; checkpoints carry its snapshot.
	Context *Context `json:"-"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewInstance creates a running instance positioned at the initial step.
func NewInstance(initial StepID, autoMode bool) *Instance {
	return &Instance{
		Entity:      conductor.NewEntity(),
		ID:          id.NewInstanceID(),
		CurrentStep: initial,
		Status:      StatusRunning,
		AutoMode:    autoMode,
		Context:     NewContext(),
		StartedAt:   time.Now().UTC(),
	}
}

// instanceCtxKey is the context key the executor stores the current
// instance under while a handler runs.
type instanceCtxKey struct{}

// withInstance returns a context carrying the executing instance.
func withInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, instanceCtxKey{}, inst)
}

// InstanceFromContext returns the instance whose step handler is
// currently executing. Handlers pass it to Dispatcher.Dispatch so
// dispatched task ids are recorded on the right instance.
func InstanceFromContext(ctx context.Context) (*Instance, bool) {
	inst, ok := ctx.Value(instanceCtxKey{}).(*Instance)
	return inst, ok
}
