package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/dlq"
	"github.com/medscribe/conductor/id"
	"github.com/medscribe/conductor/task"
	"github.com/medscribe/conductor/workflow"
)

// ── Task model ────────────────────────────────────────────────────

type taskModel struct {
	bun.BaseModel `bun:"table:conductor_tasks"`

	ID             string     `bun:"id,pk"`
	Name           string     `bun:"name,notnull"`
	InstanceID     string     `bun:"instance_id"`
	IdempotencyKey string     `bun:"idempotency_key"`
	Payload        []byte     `bun:"payload,notnull,type:bytea"`
	Result         []byte     `bun:"result,type:bytea"`
	State          string     `bun:"state,notnull,default:'pending'"`
	Priority       int        `bun:"priority,notnull,default:50"`
	MaxAttempts    int        `bun:"max_attempts,notnull,default:4"`
	Attempts       int        `bun:"attempts,notnull,default:0"`
	LastError      string     `bun:"last_error"`
	WorkerID       string     `bun:"worker_id"`
	RunAt          time.Time  `bun:"run_at,notnull,default:current_timestamp"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at"`
	StartedAt      *time.Time `bun:"started_at"`
	CompletedAt    *time.Time `bun:"completed_at"`
	Timeout        int64      `bun:"timeout,notnull,default:0"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toTaskModel(t *task.Task) *taskModel {
	m := &taskModel{
		ID:             t.ID.String(),
		Name:           t.Name,
		IdempotencyKey: t.IdempotencyKey,
		Payload:        t.Payload,
		Result:         t.Result,
		State:          string(t.State),
		Priority:       int(t.Priority),
		MaxAttempts:    t.MaxAttempts,
		Attempts:       t.Attempts,
		LastError:      t.LastError,
		RunAt:          t.RunAt,
		LeaseExpiresAt: t.LeaseExpiresAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
		Timeout:        t.Timeout.Nanoseconds(),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if !t.InstanceID.IsNil() {
		m.InstanceID = t.InstanceID.String()
	}
	if !t.WorkerID.IsNil() {
		m.WorkerID = t.WorkerID.String()
	}
	return m
}

func fromTaskModel(m *taskModel) (*task.Task, error) {
	parsedID, err := id.ParseTaskID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: parse task id %q: %w", m.ID, err)
	}

	t := &task.Task{
		Entity: conductor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		Name:           m.Name,
		IdempotencyKey: m.IdempotencyKey,
		Payload:        m.Payload,
		Result:         m.Result,
		State:          task.State(m.State),
		Priority:       task.Priority(m.Priority),
		MaxAttempts:    m.MaxAttempts,
		Attempts:       m.Attempts,
		LastError:      m.LastError,
		RunAt:          m.RunAt,
		LeaseExpiresAt: m.LeaseExpiresAt,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		Timeout:        time.Duration(m.Timeout),
	}

	if m.InstanceID != "" {
		if parsed, instErr := id.ParseInstanceID(m.InstanceID); instErr == nil {
			t.InstanceID = parsed
		}
	}
	if m.WorkerID != "" {
		if parsed, wErr := id.ParseWorkerID(m.WorkerID); wErr == nil {
			t.WorkerID = parsed
		}
	}

	return t, nil
}

// ── Instance model ────────────────────────────────────────────────

type instanceModel struct {
	bun.BaseModel `bun:"table:conductor_instances"`

	ID            string     `bun:"id,pk"`
	CurrentStep   string     `bun:"current_step,notnull"`
	Status        string     `bun:"status,notnull,default:'running'"`
	AutoMode      bool       `bun:"auto_mode,notnull,default:false"`
	History       []byte     `bun:"history,type:jsonb"`
	PendingTasks  []byte     `bun:"pending_tasks,type:jsonb"`
	SuspendReason string     `bun:"suspend_reason"`
	HaltReason    string     `bun:"halt_reason"`
	LastStep      string     `bun:"last_step"`
	StartedAt     time.Time  `bun:"started_at,notnull,default:current_timestamp"`
	FinishedAt    *time.Time `bun:"finished_at"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toInstanceModel(inst *workflow.Instance) (*instanceModel, error) {
	history, err := json.Marshal(inst.History)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: marshal history: %w", err)
	}
	pending, err := json.Marshal(inst.PendingTasks)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: marshal pending tasks: %w", err)
	}

	return &instanceModel{
		ID:            inst.ID.String(),
		CurrentStep:   string(inst.CurrentStep),
		Status:        string(inst.Status),
		AutoMode:      inst.AutoMode,
		History:       history,
		PendingTasks:  pending,
		SuspendReason: inst.SuspendReason,
		HaltReason:    inst.HaltReason,
		LastStep:      string(inst.LastStep),
		StartedAt:     inst.StartedAt,
		FinishedAt:    inst.FinishedAt,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
	}, nil
}

func fromInstanceModel(m *instanceModel) (*workflow.Instance, error) {
	parsedID, err := id.ParseInstanceID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: parse instance id %q: %w", m.ID, err)
	}

	inst := &workflow.Instance{
		Entity: conductor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            parsedID,
		CurrentStep:   workflow.StepID(m.CurrentStep),
		Status:        workflow.Status(m.Status),
		AutoMode:      m.AutoMode,
		SuspendReason: m.SuspendReason,
		HaltReason:    m.HaltReason,
		LastStep:      workflow.StepID(m.LastStep),
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
	}

	if len(m.History) > 0 {
		if err := json.Unmarshal(m.History, &inst.History); err != nil {
			return nil, fmt.Errorf("conductor/bun: unmarshal history: %w", err)
		}
	}
	if len(m.PendingTasks) > 0 {
		if err := json.Unmarshal(m.PendingTasks, &inst.PendingTasks); err != nil {
			return nil, fmt.Errorf("conductor/bun: unmarshal pending tasks: %w", err)
		}
	}

	return inst, nil
}

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	bun.BaseModel `bun:"table:conductor_checkpoints"`

	ID         string    `bun:"id,pk"`
	InstanceID string    `bun:"instance_id,notnull"`
	Step       string    `bun:"step,notnull"`
	State      []byte    `bun:"state,notnull,type:bytea"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func toCheckpointModel(cp *workflow.Checkpoint) *checkpointModel {
	return &checkpointModel{
		ID:         cp.ID.String(),
		InstanceID: cp.InstanceID.String(),
		Step:       string(cp.Step),
		State:      cp.State,
		CreatedAt:  cp.CreatedAt,
	}
}

func fromCheckpointModel(m *checkpointModel) (*workflow.Checkpoint, error) {
	parsedID, err := id.ParseCheckpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: parse checkpoint id %q: %w", m.ID, err)
	}
	parsedInstance, err := id.ParseInstanceID(m.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: parse instance id %q: %w", m.InstanceID, err)
	}

	return &workflow.Checkpoint{
		ID:         parsedID,
		InstanceID: parsedInstance,
		Step:       workflow.StepID(m.Step),
		State:      m.State,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqModel struct {
	bun.BaseModel `bun:"table:conductor_dlq"`

	ID          string     `bun:"id,pk"`
	TaskID      string     `bun:"task_id,notnull"`
	TaskName    string     `bun:"task_name,notnull"`
	InstanceID  string     `bun:"instance_id"`
	Payload     []byte     `bun:"payload,type:bytea"`
	Error       string     `bun:"error,notnull"`
	Attempts    int        `bun:"attempts,notnull"`
	MaxAttempts int        `bun:"max_attempts,notnull"`
	Priority    int        `bun:"priority,notnull,default:50"`
	FailedAt    time.Time  `bun:"failed_at,notnull"`
	ReplayedAt  *time.Time `bun:"replayed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	m := &dlqModel{
		ID:          e.ID.String(),
		TaskID:      e.TaskID.String(),
		TaskName:    e.TaskName,
		Payload:     e.Payload,
		Error:       e.Error,
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		Priority:    int(e.Priority),
		FailedAt:    e.FailedAt,
		ReplayedAt:  e.ReplayedAt,
		CreatedAt:   e.CreatedAt,
	}
	if !e.InstanceID.IsNil() {
		m.InstanceID = e.InstanceID.String()
	}
	return m
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: parse dlq id %q: %w", m.ID, err)
	}
	parsedTask, err := id.ParseTaskID(m.TaskID)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: parse task id %q: %w", m.TaskID, err)
	}

	e := &dlq.Entry{
		ID:          parsedID,
		TaskID:      parsedTask,
		TaskName:    m.TaskName,
		Payload:     m.Payload,
		Error:       m.Error,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		Priority:    task.Priority(m.Priority),
		FailedAt:    m.FailedAt,
		ReplayedAt:  m.ReplayedAt,
		CreatedAt:   m.CreatedAt,
	}
	if m.InstanceID != "" {
		if parsed, instErr := id.ParseInstanceID(m.InstanceID); instErr == nil {
			e.InstanceID = parsed
		}
	}
	return e, nil
}
