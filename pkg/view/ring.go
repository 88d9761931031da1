package view

import "github.com/EventStore/esdb-tui/pkg/wire"

// EventRing is a bounded FIFO of the most recent events of one
// stream, oldest first. Append returns a new ring; rings inside a
// published Snapshot are never mutated. Eviction is strictly by
// arrival order, never by access frequency.
type EventRing struct {
	events []wire.RecordedEvent
	cap    int
}

// NewEventRing creates an empty ring holding at most capacity events.
func NewEventRing(capacity int) EventRing {
	if capacity <= 0 {
		capacity = 1
	}
	return EventRing{cap: capacity}
}

// Contains reports whether an event at the revision is already held.
// Used to fold at-least-once redelivery idempotently.
func (r EventRing) Contains(revision uint64) bool {
	for _, ev := range r.events {
		if ev.Revision == revision {
			return true
		}
	}
	return false
}

// Append returns a ring with ev added, evicting the oldest event when
// full. Re-appending a revision already held returns the ring
// unchanged.
func (r EventRing) Append(ev wire.RecordedEvent) EventRing {
	if r.Contains(ev.Revision) {
		return r
	}
	events := make([]wire.RecordedEvent, 0, r.cap)
	start := 0
	if len(r.events)+1 > r.cap {
		start = len(r.events) + 1 - r.cap
	}
	events = append(events, r.events[start:]...)
	events = append(events, ev)
	return EventRing{events: events, cap: r.cap}
}

// Events returns the held events, oldest first. Callers must not
// modify the returned slice.
func (r EventRing) Events() []wire.RecordedEvent {
	return r.events
}

// Len returns the number of held events.
func (r EventRing) Len() int {
	return len(r.events)
}
