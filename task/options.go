package task

import "time"

// Options configures per-task behavior such as attempts, priority, and
// timeout.
type Options struct {
	// MaxAttempts is the total attempt budget before the task is
	// dead-lettered. Must be at least 1.
	MaxAttempts int

	// Priority determines dequeue ordering. Higher priorities are always
	// claimed first; equal priorities are claimed FIFO.
	Priority Priority

	// Timeout is the maximum duration a task may run before being
	// cancelled. Zero means no per-task deadline.
	Timeout time.Duration

	// RunAt schedules the task for future execution. Zero means immediate.
	RunAt time.Time

	// IdempotencyKey, when set, makes re-enqueues of the same key
	// rejected while a live task with that key exists.
	IdempotencyKey string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 4,
		Priority:    PriorityNormal,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring a task definition.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithPriority sets the task priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration for the task.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the task for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithIdempotencyKey sets the deduplication key for the task.
func WithIdempotencyKey(key string) Option {
	return func(o *Options) {
		o.IdempotencyKey = key
	}
}
