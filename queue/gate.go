package queue

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/medscribe/conductor"
)

// Config defines queue admission behaviour.
type Config struct {
	// MaxDepth is the maximum number of unfinished tasks the queue may
	// hold. Zero means unbounded.
	MaxDepth int

	// Policy decides what happens to an enqueue when the queue is full.
	Policy conductor.BackpressurePolicy

	// ClaimRate is the maximum sustained claim rounds per second across
	// the worker pool. Zero disables claim throttling.
	ClaimRate float64

	// ClaimBurst is the burst size for the claim rate limiter.
	// Defaults to 1 if ClaimRate is set but ClaimBurst is zero.
	ClaimBurst int
}

// Gate enforces queue depth and claim rate limits. It is safe for
// concurrent use.
type Gate struct {
	policy  conductor.BackpressurePolicy
	slots   chan struct{} // nil when unbounded
	limiter *rate.Limiter // nil when no claim rate configured
}

// NewGate creates a Gate from the given configuration.
func NewGate(cfg Config) *Gate {
	g := &Gate{policy: cfg.Policy}
	if g.policy == "" {
		g.policy = conductor.BackpressureReject
	}
	if cfg.MaxDepth > 0 {
		g.slots = make(chan struct{}, cfg.MaxDepth)
	}
	if cfg.ClaimRate > 0 {
		burst := cfg.ClaimBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.ClaimRate), burst)
	}
	return g
}

// Admit reserves a queue slot for one task. Under BackpressureReject it
// returns conductor.ErrQueueFull when the queue is at MaxDepth; under
// BackpressureBlock it waits for a slot until ctx is cancelled. The
// caller must Release the slot if the enqueue itself fails.
func (g *Gate) Admit(ctx context.Context) error {
	if g.slots == nil {
		return nil
	}

	if g.policy == conductor.BackpressureBlock {
		select {
		case g.slots <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case g.slots <- struct{}{}:
		return nil
	default:
		return conductor.ErrQueueFull
	}
}

// Release frees one queue slot. Called when a task reaches a terminal
// state, or when an enqueue fails after Admit.
func (g *Gate) Release() {
	if g.slots == nil {
		return
	}
	select {
	case <-g.slots:
	default:
		// Releasing more than admitted is a caller bug; don't block.
	}
}

// AllowClaim reports whether the worker pool may run a claim round now.
func (g *Gate) AllowClaim() bool {
	if g.limiter == nil {
		return true
	}
	return g.limiter.Allow()
}

// Depth returns the current number of reserved slots. Always zero for an
// unbounded gate.
func (g *Gate) Depth() int {
	if g.slots == nil {
		return 0
	}
	return len(g.slots)
}

// Prime fills n slots without admitting tasks, reconciling the in-memory
// gate with unfinished tasks already in the durable store after a
// restart. Filling stops at capacity.
func (g *Gate) Prime(n int) {
	if g.slots == nil {
		return
	}
	for range n {
		select {
		case g.slots <- struct{}{}:
		default:
			return
		}
	}
}
