package workflow

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/id"
)

// Checkpoint is a persisted, atomic snapshot of executor state: current
// step, context snapshot, step history, and outstanding task ids. It is
// written only after a fully-applied step, never mid-transition.
type Checkpoint struct {
	ID         id.CheckpointID `json:"id"`
	InstanceID id.InstanceID   `json:"instance_id"`
	Step       StepID          `json:"step"`

	// State is the gob-encoded checkpointState payload.
	State []byte `json:"state"`

	CreatedAt time.Time `json:"created_at"`
}

// checkpointState is the gob wire form of the resumable executor state.
type checkpointState struct {
	CurrentStep  StepID
	Context      []byte
	History      []HistoryEntry
	PendingTasks []id.TaskID
	AutoMode     bool
}

// NewCheckpoint captures the instance's full resumable state.
func NewCheckpoint(inst *Instance) (*Checkpoint, error) {
	ctxSnap, err := inst.Context.Snapshot()
	if err != nil {
		return nil, err
	}

	state := checkpointState{
		CurrentStep:  inst.CurrentStep,
		Context:      ctxSnap,
		History:      inst.History,
		PendingTasks: inst.PendingTasks,
		AutoMode:     inst.AutoMode,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, fmt.Errorf("workflow: encode checkpoint: %w", err)
	}

	return &Checkpoint{
		ID:         id.NewCheckpointID(),
		InstanceID: inst.ID,
		Step:       inst.CurrentStep,
		State:      buf.Bytes(),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Apply restores the checkpoint's state onto the instance. A checkpoint
// that fails to decode is fatal: Apply returns
// conductor.ErrCheckpointCorrupt and never reinitializes state.
func (cp *Checkpoint) Apply(inst *Instance) error {
	var state checkpointState
	if err := gob.NewDecoder(bytes.NewReader(cp.State)).Decode(&state); err != nil {
		return fmt.Errorf("%w: decode checkpoint %s: %v", conductor.ErrCheckpointCorrupt, cp.ID, err)
	}

	c := NewContext()
	if err := c.Restore(state.Context); err != nil {
		return err
	}

	inst.CurrentStep = state.CurrentStep
	inst.Context = c
	inst.History = state.History
	inst.PendingTasks = state.PendingTasks
	inst.AutoMode = state.AutoMode
	return nil
}
