package conductor

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("conductor: no store configured")
	ErrStoreClosed = errors.New("conductor: store closed")

	// Wiring errors.
	ErrNotWired = errors.New("conductor: orchestrator not wired, call engine.Build first")

	// Not found errors.
	ErrTaskNotFound       = errors.New("conductor: task not found")
	ErrInstanceNotFound   = errors.New("conductor: instance not found")
	ErrCheckpointNotFound = errors.New("conductor: checkpoint not found")
	ErrDLQNotFound        = errors.New("conductor: dlq entry not found")

	// Conflict errors.
	ErrTaskAlreadyExists = errors.New("conductor: task already exists")
	ErrDuplicateTask     = errors.New("conductor: duplicate idempotency key")

	// Queue errors.
	ErrQueueFull = errors.New("conductor: queue depth limit reached")

	// State errors.
	ErrInvalidState       = errors.New("conductor: invalid state transition")
	ErrInvalidTransition  = errors.New("conductor: transition target not allowed for current step")
	ErrMaxAttemptsReached = errors.New("conductor: max attempts reached")
	ErrNotSuspended       = errors.New("conductor: instance is not suspended")

	// Checkpoint errors. A corrupt checkpoint is fatal: the caller must
	// intervene manually, the engine never reinitializes state over it.
	ErrCheckpointCorrupt = errors.New("conductor: checkpoint corrupt")
)
