package monitor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EventStore/esdb-tui/internal/clustertest"
	"github.com/EventStore/esdb-tui/pkg/backoff"
	"github.com/EventStore/esdb-tui/pkg/conn"
	"github.com/EventStore/esdb-tui/pkg/monitor"
	"github.com/EventStore/esdb-tui/pkg/topology"
	"github.com/EventStore/esdb-tui/pkg/transport"
	"github.com/EventStore/esdb-tui/pkg/view"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

type changeSink struct {
	mu      sync.Mutex
	changes []view.Change
}

func (s *changeSink) Submit(ch view.Change) {
	s.mu.Lock()
	s.changes = append(s.changes, ch)
	s.mu.Unlock()
}

func (s *changeSink) find(match func(view.Change) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.changes {
		if match(ch) {
			return true
		}
	}
	return false
}

func TestMonitorSamplesProjectionsAndGroups(t *testing.T) {
	node := clustertest.NewNode("n1", "10.0.0.1", 2113, wire.RoleLeader, 1)
	node.SetProjections([]wire.ProjectionStatus{{Name: "$by_category", Status: "Running"}})
	node.SetPersistentSubscriptions([]wire.PersistentSubscriptionInfo{{Stream: "orders", Group: "billing"}})
	cluster := clustertest.NewCluster(node)
	t.Cleanup(cluster.Stop)

	tcfg := &transport.Config{Dialer: cluster.Dialer(), DialTimeout: time.Second}
	resolver := topology.NewResolver(&topology.Config{
		Seeds:        cluster.Addrs(),
		Source:       topology.NewWireSource(tcfg),
		QueryTimeout: time.Second,
	})
	manager := conn.NewManager(&conn.Config{
		Resolver:  resolver,
		Transport: tcfg,
		Backoff:   backoff.Policy{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx)

	sink := &changeSink{}
	mon := monitor.New(monitor.Config{
		Manager:                manager,
		Sink:                   sink,
		ProjectionsInterval:    50 * time.Millisecond,
		PersistentSubsInterval: 50 * time.Millisecond,
	})
	go mon.Run(ctx)

	require.True(t, clustertest.WaitFor(3*time.Second, func() bool {
		return sink.find(func(ch view.Change) bool {
			listed, ok := ch.(view.ProjectionsListed)
			return ok && len(listed.Statuses) == 1 && listed.Statuses[0].Name == "$by_category"
		})
	}))

	assert.True(t, clustertest.WaitFor(3*time.Second, func() bool {
		return sink.find(func(ch view.Change) bool {
			listed, ok := ch.(view.PersistentSubsListed)
			return ok && len(listed.Infos) == 1 && listed.Infos[0].Group == "billing"
		})
	}))
}
