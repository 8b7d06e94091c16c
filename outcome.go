package conductor

// OutcomeKind classifies how a workflow run ended from the caller's
// point of view.
type OutcomeKind int

const (
	// OutcomeCompleted means the instance reached a terminal step.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeHalted means the instance stopped with an error or a
	// deliberate domain halt.
	OutcomeHalted
	// OutcomeSuspended means the instance is waiting for human input
	// and can be resumed with its instance id.
	OutcomeSuspended
)

// String returns the outcome kind name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeHalted:
		return "halted"
	case OutcomeSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Outcome is the result of running or resuming a workflow instance.
// The halt reason, last successful step, and a resumable instance id
// are always reported together.
type Outcome struct {
	Kind OutcomeKind

	// InstanceID identifies the run; resumable when Kind is
	// OutcomeSuspended.
	InstanceID string

	// LastStep is the last successfully applied step.
	LastStep string

	// Reason carries the halt or suspension reason, empty on success.
	Reason string

	// Err is the terminal error for OutcomeHalted, nil otherwise.
	Err error
}

// ExitCode maps the outcome onto process exit conventions:
// 0 terminal success, 1 halted with error, 2 suspended awaiting input.
func (o Outcome) ExitCode() int {
	switch o.Kind {
	case OutcomeCompleted:
		return 0
	case OutcomeSuspended:
		return 2
	default:
		return 1
	}
}
