package task

import "context"

// Definition is a typed task definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this task type.
	Name string

	// Handler is the function that processes the task payload. The
	// returned bytes are persisted as the task result so the dispatching
	// workflow step can fold them into its context.
	Handler func(ctx context.Context, payload T) ([]byte, error)

	// Opts configures attempts, priority, and timeout.
	Opts Options
}

// NewDefinition creates a typed task definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) ([]byte, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
