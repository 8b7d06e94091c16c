package workflow

// TransitionKind discriminates the tagged Transition union.
type TransitionKind int

const (
	// KindContinue moves to the named next step.
	KindContinue TransitionKind = iota
	// KindRepeat re-enters the same step.
	KindRepeat
	// KindBranch moves to a named target, chosen at runtime.
	KindBranch
	// KindSuspend checkpoints the instance and returns control to the
	// caller without blocking any goroutine.
	KindSuspend
	// KindFail halts the instance with an error, preserving the context
	// snapshot as of the last successful step.
	KindFail
	// KindHalt stops the instance deliberately (a domain halt such as
	// no result clearing a quality threshold), not an error.
	KindHalt
)

// String returns the transition kind name.
func (k TransitionKind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindRepeat:
		return "repeat"
	case KindBranch:
		return "branch"
	case KindSuspend:
		return "suspend"
	case KindFail:
		return "fail"
	case KindHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// Transition is the explicit, tagged outcome of executing a step.
// Handlers construct one with the constructors below; the executor
// matches on Kind exhaustively.
type Transition struct {
	Kind   TransitionKind
	Target StepID // for Continue and Branch
	Reason string // for Suspend and Halt
	Err    error  // for Fail
}

// Continue moves to the given next step. The target must be in the
// current step's branch target set. An empty target on a terminal step
// completes the instance.
func Continue(next StepID) Transition {
	return Transition{Kind: KindContinue, Target: next}
}

// Repeat re-enters the current step. Only valid on repeatable steps.
func Repeat() Transition {
	return Transition{Kind: KindRepeat}
}

// Branch moves to a runtime-chosen target in the current step's branch
// target set.
func Branch(target StepID) Transition {
	return Transition{Kind: KindBranch, Target: target}
}

// Suspend checkpoints the instance and hands control back to the caller,
// to be resumed later with a decision.
func Suspend(reason string) Transition {
	return Transition{Kind: KindSuspend, Reason: reason}
}

// Fail halts the instance with an error. The executor wraps err with the
// offending step id and restores the context snapshot taken before the
// step ran, so a failed step never partially mutates context that
// downstream inspection would see.
func Fail(err error) Transition {
	return Transition{Kind: KindFail, Err: err}
}

// Halt stops the instance deliberately with a reason. Not an error:
// the outcome reports the reason with a resumable instance id.
func Halt(reason string) Transition {
	return Transition{Kind: KindHalt, Reason: reason}
}
