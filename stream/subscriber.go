package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of live orchestration events — typically a
// CLI or UI session following a research run, or a monitor on the
// firehose. Delivery is credit-based: the consumer grants credits for
// the events it is ready to absorb and the broker stops delivering at
// zero, so a stalled terminal never backs up the hook path. Events that
// cannot be delivered are dropped and counted, never buffered
// unboundedly.
type Subscriber struct {
	id string

	// events is the buffered delivery channel the consumer reads.
	events chan *Event

	// credits is the remaining delivery allowance. Zero or negative
	// means the consumer has not asked for more events yet.
	credits atomic.Int64

	// drops counts events lost to credit exhaustion or a full buffer.
	// A consumer that sees it grow knows it is reading too slowly.
	drops atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}
	filter func(*Event) bool

	closed atomic.Bool
}

// NewSubscriber creates a subscriber with the given delivery buffer and
// initial credit allowance.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		events: make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the channel the consumer reads events from. It is closed
// when the subscriber is removed or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.events }

// AddCredits grants the subscriber allowance for n more events.
func (s *Subscriber) AddCredits(n int64) {
	s.credits.Add(n)
}

// Credits returns the remaining delivery allowance.
func (s *Subscriber) Credits() int64 {
	return s.credits.Load()
}

// Drops returns how many events were lost to credit exhaustion or a
// full delivery buffer since the subscriber was created.
func (s *Subscriber) Drops() int64 {
	return s.drops.Load()
}

// SetFilter installs a predicate; only events it accepts are delivered.
// Filtered-out events are not drops and cost no credits.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

// Topics returns the topics the subscriber is currently on.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		out = append(out, topic)
	}
	return out
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// send delivers an event if the subscriber is open, wants it, and has
// credit and buffer room for it. It never blocks: the hook path runs
// inline with workers and must not wait on a slow consumer.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}

	s.mu.RLock()
	filter := s.filter
	s.mu.RUnlock()
	if filter != nil && !filter(evt) {
		return false
	}

	for {
		remaining := s.credits.Load()
		if remaining <= 0 {
			s.drops.Add(1)
			return false
		}
		if s.credits.CompareAndSwap(remaining, remaining-1) {
			break
		}
	}

	select {
	case s.events <- evt:
		return true
	default:
		// The consumer has credit but is not draining its buffer; give
		// the credit back and count the loss.
		s.credits.Add(1)
		s.drops.Add(1)
		return false
	}
}

// Close closes the delivery channel. Safe to call more than once.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.events)
	}
}
