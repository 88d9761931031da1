// Package view folds asynchronously arriving events, topology
// refreshes, statistics and command results into an immutable,
// versioned Snapshot of everything the terminal renderer should
// currently display. New state is published, never mutated in place,
// so any number of concurrent readers can hold a Snapshot without
// locking.
package view

import (
	"time"

	"github.com/EventStore/esdb-tui/pkg/subs"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

// MemberHealth is one cluster member as rendered on the monitoring
// tab.
type MemberHealth struct {
	Addr     string
	Role     wire.Role
	Epoch    uint64
	Alive    bool
	LastSeen time.Time
	Latency  time.Duration
}

// Projection is the rendered status of one projection, including the
// event rate derived from successive observations.
type Projection struct {
	wire.ProjectionStatus

	// Rate is events per second since the previous observation.
	Rate float32

	// ObservedAt timestamps the observation the Rate was derived
	// against.
	ObservedAt time.Time
}

// QueueStat is one server queue on the dashboard tab.
type QueueStat struct {
	Name                 string
	Length               int64
	LengthCurrentPeak    int64
	LengthLifetimePeak   int64
	AvgItemsPerSecond    float64
	CurrentIdleTime      string
	IdleTimePercent      float64
	TotalItemsProcessed  int64
	InProgressMessage    string
	LastProcessedMessage string
	GroupName            string
}

// SystemStat is the node-level statistics block.
type SystemStat struct {
	FreeMem    int64
	LoadAvg1m  float64
	LoadAvg5m  float64
	LoadAvg15m float64
	DiskUsage  float64
}

// CommandOutcome is the rendered result of one administrative command.
type CommandOutcome struct {
	CorrelationID string
	Op            string
	Outcome       string // "success", "failure" or "timeout"
	Detail        string
	CompletedAt   time.Time
}

// Snapshot is the immutable aggregate consumed by the renderer.
// Version is totally ordered and strictly increasing; a snapshot with
// a higher version reflects a superset of the state transitions of
// any lower one.
type Snapshot struct {
	Version   uint64
	UpdatedAt time.Time

	// ConnectionState mirrors the connection manager.
	ConnectionState string

	// Members is the last known cluster topology, stale entries
	// pruned.
	Members []MemberHealth

	// Subscriptions tracks every desired subscription's state.
	Subscriptions map[string]subs.State

	// Streams holds the most recent events per watched stream,
	// bounded FIFO per stream.
	Streams map[string]EventRing

	// LastCreatedStreams and RecentlyChangedStreams back the stream
	// browser tab, newest first, bounded.
	LastCreatedStreams     []string
	RecentlyChangedStreams []string

	Projections             []Projection
	PersistentSubscriptions []wire.PersistentSubscriptionInfo

	Queues []QueueStat
	System SystemStat

	// Commands holds recent administrative outcomes, newest first,
	// bounded.
	Commands []CommandOutcome
}

// NewSnapshot returns the empty version-zero snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Subscriptions: map[string]subs.State{},
		Streams:       map[string]EventRing{},
	}
}

// clone makes the shallow copy every fold step mutates before
// publishing. Maps are copied; element values are immutable.
func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.Subscriptions = make(map[string]subs.State, len(s.Subscriptions))
	for k, v := range s.Subscriptions {
		out.Subscriptions[k] = v
	}
	out.Streams = make(map[string]EventRing, len(s.Streams))
	for k, v := range s.Streams {
		out.Streams[k] = v
	}
	return &out
}
