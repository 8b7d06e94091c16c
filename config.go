package conductor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BackpressurePolicy selects what Enqueue does once the pending queue
// depth reaches MaxQueueDepth. The choice is deliberate and exposed:
// an unbounded queue risks unbounded growth of pending work.
type BackpressurePolicy string

const (
	// BackpressureReject makes Enqueue fail fast with ErrQueueFull.
	BackpressureReject BackpressurePolicy = "reject"
	// BackpressureBlock makes Enqueue wait for queue depth to drop,
	// bounded by the caller's context.
	BackpressureBlock BackpressurePolicy = "block"
)

// AutoDecision is the decision an auto-mode instance applies when a
// step suspends for human input instead of blocking.
type AutoDecision string

const (
	// DecisionHalt stops the instance at the suspension point. This is
	// the default: an unattended run over insufficient results should
	// stop rather than continue on a guess.
	DecisionHalt AutoDecision = "halt"
	// DecisionApprove continues past the suspension as if a human
	// approved it.
	DecisionApprove AutoDecision = "approve"
)

// Config holds configuration for the Orchestrator.
type Config struct {
	// Concurrency is the number of worker goroutines claiming tasks.
	// This is the primary knob bounding concurrent external calls.
	Concurrency int `yaml:"concurrency"`

	// PollInterval is how often idle workers poll for new tasks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// LeaseDuration is the visibility lease a worker holds on a claimed
	// task. A task whose lease expires without a heartbeat is requeued
	// and the expiry counts against its attempt budget.
	LeaseDuration time.Duration `yaml:"lease_duration"`

	// HeartbeatInterval is how often workers renew leases on tasks they
	// are still executing. Zero disables heartbeats.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MaxQueueDepth bounds the number of pending tasks. Zero means
	// unbounded (no backpressure).
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// Backpressure selects the Enqueue behavior at MaxQueueDepth.
	Backpressure BackpressurePolicy `yaml:"backpressure"`

	// AutoDecision is the default applied when an auto-mode instance
	// hits a human checkpoint.
	AutoDecision AutoDecision `yaml:"auto_decision"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       8,
		PollInterval:      500 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
		LeaseDuration:     2 * time.Minute,
		HeartbeatInterval: 15 * time.Second,
		MaxQueueDepth:     0,
		Backpressure:      BackpressureReject,
		AutoDecision:      DecisionHalt,
	}
}

// LoadConfig reads a YAML config file and overlays it on DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("conductor: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("conductor: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("conductor: concurrency must be positive, got %d", c.Concurrency)
	}
	switch c.Backpressure {
	case BackpressureReject, BackpressureBlock:
	default:
		return fmt.Errorf("conductor: unknown backpressure policy %q", c.Backpressure)
	}
	switch c.AutoDecision {
	case DecisionHalt, DecisionApprove:
	default:
		return fmt.Errorf("conductor: unknown auto decision %q", c.AutoDecision)
	}
	return nil
}
