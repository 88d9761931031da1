package view

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EventStore/esdb-tui/pkg/subs"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

func newTestSync(t *testing.T) *Synchronizer {
	t.Helper()
	return New(&Config{RingSize: 3, BrowserDepth: 3, CommandHistory: 2, StalenessWindow: time.Minute})
}

func ev(stream string, revision uint64) wire.RecordedEvent {
	return wire.RecordedEvent{Stream: stream, Revision: revision, EventType: "test"}
}

func appended(stream string, revision uint64) EventAppended {
	return EventAppended{
		Sub:   subs.State{Spec: subs.Spec{Stream: stream}},
		Event: ev(stream, revision),
		At:    time.Now(),
	}
}

func TestEventRing(t *testing.T) {
	t.Run("evicts oldest first", func(t *testing.T) {
		ring := NewEventRing(3)
		for rev := uint64(1); rev <= 4; rev++ {
			ring = ring.Append(ev("orders", rev))
		}

		events := ring.Events()
		require.Len(t, events, 3)
		assert.Equal(t, uint64(2), events[0].Revision)
		assert.Equal(t, uint64(3), events[1].Revision)
		assert.Equal(t, uint64(4), events[2].Revision)
	})

	t.Run("ignores redelivered revision", func(t *testing.T) {
		ring := NewEventRing(3)
		ring = ring.Append(ev("orders", 7))
		ring = ring.Append(ev("orders", 7))

		assert.Equal(t, 1, ring.Len())
	})

	t.Run("append does not mutate the receiver", func(t *testing.T) {
		ring := NewEventRing(3).Append(ev("orders", 1))
		_ = ring.Append(ev("orders", 2))

		assert.Equal(t, 1, ring.Len())
	})
}

func TestApplyEvent(t *testing.T) {
	s := newTestSync(t)

	t.Run("lands in the stream ring", func(t *testing.T) {
		snap := s.Apply(NewSnapshot(), appended("orders", 1))

		require.Contains(t, snap.Streams, "orders")
		assert.Equal(t, 1, snap.Streams["orders"].Len())
		assert.Equal(t, uint64(1), snap.Version)
	})

	t.Run("redelivery leaves the ring unchanged", func(t *testing.T) {
		snap := s.Apply(NewSnapshot(), appended("orders", 1))
		snap = s.Apply(snap, appended("orders", 1))

		assert.Equal(t, 1, snap.Streams["orders"].Len())
		assert.Equal(t, uint64(2), snap.Version, "every fold bumps the version")
	})

	t.Run("previous snapshot stays untouched", func(t *testing.T) {
		first := s.Apply(NewSnapshot(), appended("orders", 1))
		_ = s.Apply(first, appended("orders", 2))

		assert.Equal(t, 1, first.Streams["orders"].Len())
	})
}

func TestApplyStreamBrowser(t *testing.T) {
	s := newTestSync(t)

	created := func(stream string, payload string) EventAppended {
		return EventAppended{
			Sub:   subs.State{Spec: subs.Spec{Stream: "$streams"}},
			Event: wire.RecordedEvent{Stream: "$streams", Data: []byte(payload)},
			At:    time.Now(),
		}
	}

	t.Run("parses the stream name after the last @", func(t *testing.T) {
		snap := s.Apply(NewSnapshot(), created("$streams", "0@orders"))
		snap = s.Apply(snap, created("$streams", "3@user@home-cart"))

		require.Equal(t, []string{"user@home-cart", "orders"}, snap.LastCreatedStreams)
	})

	t.Run("moves a repeated stream to the front", func(t *testing.T) {
		snap := NewSnapshot()
		for _, payload := range []string{"0@a", "0@b", "1@a"} {
			snap = s.Apply(snap, created("$streams", payload))
		}

		assert.Equal(t, []string{"a", "b"}, snap.LastCreatedStreams)
	})

	t.Run("truncates to browser depth", func(t *testing.T) {
		snap := NewSnapshot()
		for _, payload := range []string{"0@a", "0@b", "0@c", "0@d"} {
			snap = s.Apply(snap, created("$streams", payload))
		}

		assert.Equal(t, []string{"d", "c", "b"}, snap.LastCreatedStreams)
	})

	t.Run("all-stream watch feeds recently changed", func(t *testing.T) {
		change := EventAppended{
			Sub:   subs.State{Spec: subs.Spec{Stream: wire.AllStreams}},
			Event: ev("payments", 9),
			At:    time.Now(),
		}
		snap := s.Apply(NewSnapshot(), change)

		assert.Equal(t, []string{"payments"}, snap.RecentlyChangedStreams)
		assert.Empty(t, snap.Streams)
	})
}

func TestApplyTopology(t *testing.T) {
	s := newTestSync(t)
	now := time.Now()

	fresh := MemberHealth{Addr: "10.0.0.1:2113", Role: wire.RoleLeader, LastSeen: now}
	stale := MemberHealth{Addr: "10.0.0.2:2113", Role: wire.RoleFollower, LastSeen: now.Add(-2 * time.Minute)}

	snap := s.Apply(NewSnapshot(), TopologyChanged{Members: []MemberHealth{stale}, At: now.Add(-2 * time.Minute)})
	snap = s.Apply(snap, TopologyChanged{Members: []MemberHealth{fresh}, At: now})

	require.Len(t, snap.Members, 1, "members unseen past the staleness window are pruned")
	assert.Equal(t, "10.0.0.1:2113", snap.Members[0].Addr)
}

func TestApplyProjectionsRate(t *testing.T) {
	s := newTestSync(t)
	base := time.Now()

	first := ProjectionsListed{
		Statuses: []wire.ProjectionStatus{{Name: "$by_category", EventsProcessedAfterRestart: 1000}},
		At:       base,
	}
	second := ProjectionsListed{
		Statuses: []wire.ProjectionStatus{{Name: "$by_category", EventsProcessedAfterRestart: 1200}},
		At:       base.Add(2 * time.Second),
	}

	snap := s.Apply(NewSnapshot(), first)
	require.Len(t, snap.Projections, 1)
	assert.Zero(t, snap.Projections[0].Rate, "no rate before a second observation")

	snap = s.Apply(snap, second)
	assert.InDelta(t, 100.0, snap.Projections[0].Rate, 0.01)
}

func TestApplyCommandHistory(t *testing.T) {
	s := newTestSync(t)

	outcome := func(id, result string) CommandCompleted {
		return CommandCompleted{Outcome: CommandOutcome{CorrelationID: id, Outcome: result, CompletedAt: time.Now()}}
	}

	t.Run("same correlation id is replaced, not duplicated", func(t *testing.T) {
		snap := s.Apply(NewSnapshot(), outcome("cmd-1", "timeout"))
		snap = s.Apply(snap, outcome("cmd-1", "success"))

		require.Len(t, snap.Commands, 1)
		assert.Equal(t, "success", snap.Commands[0].Outcome)
	})

	t.Run("history is bounded, newest first", func(t *testing.T) {
		snap := NewSnapshot()
		for _, id := range []string{"a", "b", "c"} {
			snap = s.Apply(snap, outcome(id, "success"))
		}

		require.Len(t, snap.Commands, 2)
		assert.Equal(t, "c", snap.Commands[0].CorrelationID)
		assert.Equal(t, "b", snap.Commands[1].CorrelationID)
	})
}

func TestSubscriptionChanged(t *testing.T) {
	s := newTestSync(t)

	st := subs.State{ID: "sub-1", Status: subs.StatusLive}
	snap := s.Apply(NewSnapshot(), SubscriptionChanged{State: st})
	require.Contains(t, snap.Subscriptions, "sub-1")

	st.Removed = true
	snap = s.Apply(snap, SubscriptionChanged{State: st})
	assert.NotContains(t, snap.Subscriptions, "sub-1")
}

func TestRunCoalescesFeed(t *testing.T) {
	s := New(&Config{MinRenderInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for i := 0; i < 5; i++ {
		s.Submit(ConnectionChanged{State: "connected"})
	}

	select {
	case snap := <-s.Feed():
		assert.Equal(t, "connected", snap.ConnectionState)
		assert.GreaterOrEqual(t, snap.Version, uint64(1))
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	require.Eventually(t, func() bool {
		return s.Current().Version == 5
	}, time.Second, 5*time.Millisecond, "all submitted changes fold into Current")
}
