package stream

import (
	"testing"
	"time"
)

func testEvent(evtType EventType) *Event {
	return &Event{
		Type:      evtType,
		Timestamp: time.Now().UTC(),
		Topic:     TopicFirehose,
	}
}

func TestSubscriber_CreditExhaustionCountsDrops(t *testing.T) {
	sub := NewSubscriber("slow-tui", 8, 2)

	for range 2 {
		if !sub.send(testEvent(EventTaskStarted)) {
			t.Fatal("send within credit should deliver")
		}
	}
	for range 3 {
		if sub.send(testEvent(EventTaskStarted)) {
			t.Fatal("send past credit should drop")
		}
	}

	if sub.Credits() != 0 {
		t.Errorf("credits = %d, want 0", sub.Credits())
	}
	if sub.Drops() != 3 {
		t.Errorf("drops = %d, want 3", sub.Drops())
	}

	// New credits resume delivery without resetting the drop count.
	sub.AddCredits(1)
	if !sub.send(testEvent(EventTaskCompleted)) {
		t.Fatal("send after replenish should deliver")
	}
	if sub.Drops() != 3 {
		t.Errorf("drops = %d after replenish, want 3", sub.Drops())
	}
}

func TestSubscriber_FullBufferDropsAndRestoresCredit(t *testing.T) {
	sub := NewSubscriber("stalled-ui", 1, 100)

	if !sub.send(testEvent(EventTaskStarted)) {
		t.Fatal("first send should fill the buffer")
	}
	if sub.send(testEvent(EventTaskStarted)) {
		t.Fatal("send into a full buffer should drop")
	}

	if sub.Drops() != 1 {
		t.Errorf("drops = %d, want 1", sub.Drops())
	}
	// The dropped event must not cost a credit.
	if sub.Credits() != 99 {
		t.Errorf("credits = %d, want 99 (only the delivered event charged)", sub.Credits())
	}
}

func TestSubscriber_FilteredEventsAreNotDrops(t *testing.T) {
	sub := NewSubscriber("failures-only", 8, 10)
	sub.SetFilter(func(evt *Event) bool {
		return evt.Type == EventTaskFailed
	})

	if sub.send(testEvent(EventTaskStarted)) {
		t.Fatal("filtered event should not deliver")
	}
	if sub.Drops() != 0 {
		t.Errorf("drops = %d, want 0 (filter mismatch is not a drop)", sub.Drops())
	}
	if sub.Credits() != 10 {
		t.Errorf("credits = %d, want 10 (filtered events cost nothing)", sub.Credits())
	}

	if !sub.send(testEvent(EventTaskFailed)) {
		t.Fatal("matching event should deliver")
	}
}

func TestSubscriber_SendAfterCloseDrops(t *testing.T) {
	sub := NewSubscriber("gone", 8, 10)
	sub.Close()
	sub.Close() // idempotent

	if sub.send(testEvent(EventTaskStarted)) {
		t.Fatal("send after close should not deliver")
	}
	if _, open := <-sub.C(); open {
		t.Error("channel should be closed")
	}
}
