package workflow

import "context"

// StepID identifies a step in the closed set registered at startup.
// The set is validated once (see Registry.Validate); an unregistered
// step id is caught before the first instance runs, not mid-session.
type StepID string

// Step is static metadata for one unit of workflow work. Immutable,
// defined at startup.
type Step struct {
	// ID is the step's identifier.
	ID StepID

	// Repeatable allows the step's handler to return Repeat and be
	// re-entered arbitrarily many times (query refinement, threshold
	// adjustment, report revision).
	Repeatable bool

	// BranchTargets is the set of step ids this step may Continue or
	// Branch to. A transition to any other target is an invalid
	// transition and halts the instance.
	BranchTargets []StepID

	// RequiresApproval marks a human-checkpoint step: its handler is
	// expected to Suspend for a decision before moving on.
	RequiresApproval bool

	// Terminal marks a step with no outgoing targets; reaching it and
	// returning Continue("") completes the instance.
	Terminal bool
}

// AllowsTarget reports whether target is in the step's branch target set.
func (s Step) AllowsTarget(target StepID) bool {
	for _, t := range s.BranchTargets {
		if t == target {
			return true
		}
	}
	return false
}

// Handler executes one step against the instance's context and returns
// an explicit Transition. Transitions are never inferred from
// fall-through code paths, only from this checked return value.
//
// Handlers run single-threaded per instance; they may block on external
// calls (a blocked handler occupies its caller for the call's duration)
// but must use Suspend, never a blocking wait, for human input.
type Handler func(ctx context.Context, c *Context) Transition
