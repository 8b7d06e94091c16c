package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/id"
)

// PromptDescriptor describes a pending human decision. Presentation
// layers (CLI, GUI) render it and call Resume with the user's choice;
// they never touch executor state directly.
type PromptDescriptor struct {
	InstanceID  id.InstanceID `json:"instance_id"`
	Step        StepID        `json:"step"`
	Reason      string        `json:"reason"`
	SuspendedAt time.Time     `json:"suspended_at"`
}

// PendingApproval returns the prompt for a suspended instance, or
// conductor.ErrNotSuspended when the instance is not waiting for input.
func (e *Executor) PendingApproval(ctx context.Context, instanceID id.InstanceID) (*PromptDescriptor, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusSuspended {
		return nil, fmt.Errorf("%w: instance %s is %s", conductor.ErrNotSuspended, instanceID, inst.Status)
	}
	return &PromptDescriptor{
		InstanceID:  inst.ID,
		Step:        inst.CurrentStep,
		Reason:      inst.SuspendReason,
		SuspendedAt: inst.UpdatedAt,
	}, nil
}

// PendingApprovals lists prompts for all suspended instances, oldest
// suspension first.
func (e *Executor) PendingApprovals(ctx context.Context) ([]*PromptDescriptor, error) {
	instances, err := e.store.ListInstances(ctx, ListOpts{Status: StatusSuspended})
	if err != nil {
		return nil, err
	}
	out := make([]*PromptDescriptor, 0, len(instances))
	for _, inst := range instances {
		out = append(out, &PromptDescriptor{
			InstanceID:  inst.ID,
			Step:        inst.CurrentStep,
			Reason:      inst.SuspendReason,
			SuspendedAt: inst.UpdatedAt,
		})
	}
	return out, nil
}
