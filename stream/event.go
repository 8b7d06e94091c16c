// Package stream provides a real-time event broker for Conductor
// lifecycle events. It bridges the hook.Extension system to connected
// clients (research session UIs, progress monitors) via topic-based
// pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Task events.
	EventTaskEnqueued  EventType = "task.enqueued"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskRetrying  EventType = "task.retrying"
	EventTaskDLQ       EventType = "task.dlq"
	EventTaskCancelled EventType = "task.cancelled"

	// Step events.
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"

	// Instance events.
	EventInstanceStarted   EventType = "instance.started"
	EventInstanceSuspended EventType = "instance.suspended"
	EventInstanceResumed   EventType = "instance.resumed"
	EventInstanceCompleted EventType = "instance.completed"
	EventInstanceHalted    EventType = "instance.halted"
	EventInstanceCancelled EventType = "instance.cancelled"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// TaskEventData is the payload for task lifecycle events.
type TaskEventData struct {
	TaskID     string `json:"task_id"`
	TaskName   string `json:"task_name"`
	InstanceID string `json:"instance_id,omitempty"`
	Priority   string `json:"priority"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	NextRunAt  string `json:"next_run_at,omitempty"`
}

// StepEventData is the payload for step lifecycle events.
type StepEventData struct {
	InstanceID string `json:"instance_id"`
	Step       string `json:"step"`
	Transition string `json:"transition,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// InstanceEventData is the payload for instance lifecycle events.
type InstanceEventData struct {
	InstanceID  string `json:"instance_id"`
	CurrentStep string `json:"current_step"`
	Status      string `json:"status"`
	AutoMode    bool   `json:"auto_mode,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Decision    string `json:"decision,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}
