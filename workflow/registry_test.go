package workflow_test

import (
	"context"
	"strings"
	"testing"

	"github.com/medscribe/conductor/workflow"
)

func noop(_ context.Context, _ *workflow.Context) workflow.Transition {
	return workflow.Continue("")
}

func TestRegistry_ValidateUnregisteredInitial(t *testing.T) {
	r := workflow.NewRegistry()
	if err := r.Validate("plan_search"); err == nil {
		t.Fatal("expected error for unregistered initial step")
	}
}

func TestRegistry_ValidateNilHandler(t *testing.T) {
	r := workflow.NewRegistry()
	r.Register(workflow.Step{ID: "plan_search", Terminal: true}, nil)
	err := r.Validate("plan_search")
	if err == nil {
		t.Fatal("expected error for nil handler")
	}
	if !strings.Contains(err.Error(), "no handler") {
		t.Errorf("err = %v, want mention of missing handler", err)
	}
}

func TestRegistry_ValidateUnknownBranchTarget(t *testing.T) {
	r := workflow.NewRegistry()
	r.Register(workflow.Step{
		ID:            "plan_search",
		BranchTargets: []workflow.StepID{"run_search"},
	}, noop)

	err := r.Validate("plan_search")
	if err == nil {
		t.Fatal("expected error for unregistered branch target")
	}
	if !strings.Contains(err.Error(), "run_search") {
		t.Errorf("err = %v, want mention of run_search", err)
	}
}

func TestRegistry_ValidateUnreachableStep(t *testing.T) {
	r := workflow.NewRegistry()
	r.Register(workflow.Step{
		ID:            "plan_search",
		BranchTargets: []workflow.StepID{"summarize"},
	}, noop)
	r.Register(workflow.Step{ID: "summarize", Terminal: true}, noop)
	r.Register(workflow.Step{ID: "orphan", Terminal: true}, noop)

	err := r.Validate("plan_search")
	if err == nil {
		t.Fatal("expected error for unreachable step")
	}
	if !strings.Contains(err.Error(), "orphan") {
		t.Errorf("err = %v, want mention of orphan", err)
	}
}

func TestRegistry_ValidateAcceptsCycles(t *testing.T) {
	// refine ↔ run_search loops are legal; reachability, not acyclicity,
	// is what Validate checks.
	r := workflow.NewRegistry()
	r.Register(workflow.Step{
		ID:            "run_search",
		BranchTargets: []workflow.StepID{"refine", "summarize"},
	}, noop)
	r.Register(workflow.Step{
		ID:            "refine",
		BranchTargets: []workflow.StepID{"run_search"},
	}, noop)
	r.Register(workflow.Step{ID: "summarize", Terminal: true}, noop)

	if err := r.Validate("run_search"); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestRegistry_StepsSorted(t *testing.T) {
	r := workflow.NewRegistry()
	r.Register(workflow.Step{ID: "summarize", Terminal: true}, noop)
	r.Register(workflow.Step{ID: "plan_search", Terminal: true}, noop)

	steps := r.Steps()
	if len(steps) != 2 || steps[0] != "plan_search" || steps[1] != "summarize" {
		t.Errorf("steps = %v, want sorted [plan_search summarize]", steps)
	}
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	r := workflow.NewRegistry()
	r.Register(workflow.Step{ID: "plan_search", Repeatable: false, Terminal: true}, noop)
	r.Register(workflow.Step{ID: "plan_search", Repeatable: true, Terminal: true}, noop)

	step, _, ok := r.Get("plan_search")
	if !ok {
		t.Fatal("step not found")
	}
	if !step.Repeatable {
		t.Error("re-registration did not replace step metadata")
	}
}
