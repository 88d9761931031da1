package view

import (
	"time"

	"github.com/EventStore/esdb-tui/pkg/subs"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

// Change is one unit of input to the fold. The set is closed: every
// implementation lives in this package.
type Change interface {
	isChange()
}

// EventAppended routes one delivered event with the state of the
// subscription that produced it.
type EventAppended struct {
	Sub   subs.State
	Event wire.RecordedEvent
	At    time.Time
}

// SubscriptionChanged carries a subscription state update, including
// the final Removed update of a retired subscription.
type SubscriptionChanged struct {
	State subs.State
}

// TopologyChanged carries a refreshed member list.
type TopologyChanged struct {
	Members []MemberHealth
	At      time.Time
}

// ConnectionChanged mirrors the connection manager's state.
type ConnectionChanged struct {
	State string
}

// ProjectionsListed carries one observation of all projection
// statuses.
type ProjectionsListed struct {
	Statuses []wire.ProjectionStatus
	At       time.Time
}

// PersistentSubsListed carries one observation of all persistent
// subscription groups.
type PersistentSubsListed struct {
	Infos []wire.PersistentSubscriptionInfo
}

// StatsUpdated carries one frame of the node statistics feed.
type StatsUpdated struct {
	Queues []QueueStat
	System SystemStat
	At     time.Time
}

// CommandCompleted records an administrative command outcome.
type CommandCompleted struct {
	Outcome CommandOutcome
}

func (EventAppended) isChange()        {}
func (SubscriptionChanged) isChange()  {}
func (TopologyChanged) isChange()      {}
func (ConnectionChanged) isChange()    {}
func (ProjectionsListed) isChange()    {}
func (PersistentSubsListed) isChange() {}
func (StatsUpdated) isChange()         {}
func (CommandCompleted) isChange()     {}
