// Package subs maintains the set of desired subscriptions
// independently of connection state. Every transition of the
// connection manager into Connected re-establishes each non-terminal
// subscription from its last confirmed checkpoint, giving gap-free
// at-least-once delivery: an event at the checkpoint itself may be
// delivered twice and consumers must fold idempotently by position.
package subs

import (
	"github.com/EventStore/esdb-tui/pkg/wire"
)

// StartKind selects where a subscription begins delivery.
type StartKind int

const (
	// FromStart replays the stream from its first event.
	FromStart StartKind = iota

	// FromRevision replays from an absolute position.
	FromRevision

	// LiveOnly skips history and delivers only new events.
	LiveOnly
)

// Spec describes one desired subscription. Immutable once desired:
// changing parameters means retiring the old spec and desiring a new
// one.
type Spec struct {
	// Stream is the target stream, or wire.AllStreams for the whole
	// transaction log.
	Stream string

	// Start selects the initial position. Ignored after the first
	// confirmed checkpoint when checkpoint resume is enabled.
	Start StartKind

	// Revision is the absolute start for FromRevision on a single
	// stream.
	Revision uint64

	// Position is the absolute start for FromRevision on AllStreams.
	Position wire.Position

	// Filter optionally narrows an AllStreams subscription.
	Filter *wire.FilterOptions
}

// Status is the lifecycle state of a subscription.
type Status int

const (
	StatusPending Status = iota
	StatusCatchingUp
	StatusLive
	StatusDropped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCatchingUp:
		return "catching-up"
	case StatusLive:
		return "live"
	case StatusDropped:
		return "dropped"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Terminal reports whether the registry has given up on the
// subscription.
func (s Status) Terminal() bool {
	return s == StatusFailed
}

// Checkpoint is the last confirmed position delivered to the
// consumer. Monotonically non-decreasing for a subscription's
// lifetime.
type Checkpoint struct {
	Valid    bool
	Revision uint64
	Position wire.Position
}

// advance moves the checkpoint forward, never backward.
func (c *Checkpoint) advance(rev uint64, pos wire.Position) {
	if !c.Valid {
		c.Valid = true
		c.Revision = rev
		c.Position = pos
		return
	}
	if rev > c.Revision {
		c.Revision = rev
	}
	if c.Position.Before(pos) {
		c.Position = pos
	}
}

// State is an immutable snapshot of a subscription's mutable
// companion state, surfaced to the view.
type State struct {
	ID         string
	Spec       Spec
	Status     Status
	Checkpoint Checkpoint
	Retries    int
	LastError  string

	// Removed marks the final update emitted when a subscription is
	// retired.
	Removed bool
}

// Sink consumes routed events and state updates for subscriptions.
// OnEvent calls for one subscription id arrive in order; no ordering
// is guaranteed across ids.
type Sink interface {
	OnEvent(sub State, ev *wire.RecordedEvent)
	OnSubscriptionState(sub State)
}
