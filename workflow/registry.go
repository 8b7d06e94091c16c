package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// registration pairs a step's metadata with its handler.
type registration struct {
	step    Step
	handler Handler
}

// Registry is the closed, startup-validated step table. Register every
// step, then call Validate once before running instances; Validate
// failures abort startup so unregistered-step errors never manifest at
// runtime deep into a long session.
type Registry struct {
	mu    sync.RWMutex
	steps map[StepID]registration
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[StepID]registration)}
}

// Register adds a step and its handler. Re-registering a step id
// replaces the previous entry.
func (r *Registry) Register(step Step, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.ID] = registration{step: step, handler: handler}
}

// Get returns the step metadata and handler for the given id.
func (r *Registry) Get(stepID StepID) (Step, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.steps[stepID]
	return reg.step, reg.handler, ok
}

// Steps returns all registered step ids, sorted for determinism.
func (r *Registry) Steps() []StepID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StepID, 0, len(r.steps))
	for sid := range r.steps {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks the registry's consistency against the designated
// initial step:
//
//   - every branch target of every step must itself be registered
//   - every registered step must be reachable from initial
//
// Run once at program start; an error here should abort startup.
func (r *Registry) Validate(initial StepID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.steps[initial]; !ok {
		return fmt.Errorf("workflow: initial step %q is not registered", initial)
	}

	for sid, reg := range r.steps {
		if reg.handler == nil {
			return fmt.Errorf("workflow: step %q has no handler", sid)
		}
		for _, target := range reg.step.BranchTargets {
			if _, ok := r.steps[target]; !ok {
				return fmt.Errorf("workflow: step %q declares unregistered branch target %q", sid, target)
			}
		}
	}

	// Reachability from the initial step.
	seen := map[StepID]bool{initial: true}
	frontier := []StepID{initial}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, target := range r.steps[cur].step.BranchTargets {
			if !seen[target] {
				seen[target] = true
				frontier = append(frontier, target)
			}
		}
	}
	for sid := range r.steps {
		if !seen[sid] {
			return fmt.Errorf("workflow: step %q is unreachable from initial step %q", sid, initial)
		}
	}

	return nil
}
