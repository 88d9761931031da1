package conn_test

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
	"github.com/EventStore/esdb-tui/pkg/topology"
	"github.com/EventStore/esdb-tui/pkg/transport"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

type testRig struct {
	cluster  *clustertest.Cluster
	resolver *topology.Resolver
	manager  *conn.Manager
}

func newRig(t *testing.T, cfg conn.Config, nodes ...*clustertest.Node) *testRig {
	t.Helper()

	cluster := clustertest.NewCluster(nodes...)
	t.Cleanup(cluster.Stop)
	cluster.ShareGossip()

	tcfg := &transport.Config{Dialer: cluster.Dialer(), DialTimeout: time.Second}
	resolver := topology.NewResolver(&topology.Config{
		Seeds:        cluster.Addrs(),
		Source:       topology.NewWireSource(tcfg),
		QueryTimeout: time.Second,
	})

	cfg.Resolver = resolver
	cfg.Transport = tcfg
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.Policy{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2}
	}
	return &testRig{cluster: cluster, resolver: resolver, manager: conn.NewManager(&cfg)}
}

func TestManagerConnectsAndServes(t *testing.T) {
	node := clustertest.NewNode("n1", "10.0.0.1", 2113, wire.RoleLeader, 1)
	rig := newRig(t, conn.Config{}, node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rig.manager.Run(ctx)

	ctxDo, cancelDo := context.WithTimeout(ctx, 2*time.Second)
	defer cancelDo()
	err := rig.manager.Do(ctxDo, func(ctx context.Context, c *transport.Conn) error {
		_, err := c.Gossip(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, conn.Connected, rig.manager.State())
}

func TestManagerPrefersLeader(t *testing.T) {
	leader := clustertest.NewNode("n1", "10.0.0.1", 2113, wire.RoleLeader, 1)
	follower := clustertest.NewNode("n2", "10.0.0.2", 2113, wire.RoleFollower, 1)

	var mu sync.Mutex
	var connectedTo string
	cfg := conn.Config{LeaderAffinity: true}
	rig := newRig(t, cfg, leader, follower)
	rig.manager.OnConnected(func(_ context.Context, c *transport.Conn) {
		mu.Lock()
		connectedTo = c.NodeID()
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rig.manager.Run(ctx)

	require.True(t, clustertest.WaitFor(2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connectedTo != ""
	}))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "n1", connectedTo)
}

func TestManagerStartupFailure(t *testing.T) {
	// Empty dial table: every seed is unreachable.
	cluster := clustertest.NewCluster()
	tcfg := &transport.Config{Dialer: cluster.Dialer(), DialTimeout: 100 * time.Millisecond}
	resolver := topology.NewResolver(&topology.Config{
		Seeds:        []string{"10.0.0.1:2113"},
		Source:       topology.NewWireSource(tcfg),
		QueryTimeout: 100 * time.Millisecond,
	})
	manager := conn.NewManager(&conn.Config{
		Resolver:      resolver,
		Transport:     tcfg,
		StartupWindow: 50 * time.Millisecond,
		Backoff:       backoff.Policy{Min: 20 * time.Millisecond, Max: 20 * time.Millisecond, Factor: 1},
	})

	err := manager.Run(context.Background())
	require.ErrorIs(t, err, conn.ErrStartup)
}

func TestManagerReconnectsAfterFault(t *testing.T) {
	node := clustertest.NewNode("n1", "10.0.0.1", 2113, wire.RoleLeader, 1)

	var mu sync.Mutex
	connections := 0
	rig := newRig(t, conn.Config{}, node)
	rig.manager.OnConnected(func(context.Context, *transport.Conn) {
		mu.Lock()
		connections++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rig.manager.Run(ctx)

	require.True(t, clustertest.WaitFor(2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connections == 1
	}))

	id := rig.manager.ID()
	require.NotEmpty(t, id)

	rig.manager.Fault(transport.ErrTransport)

	require.True(t, clustertest.WaitFor(2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connections == 2
	}), "a reported fault triggers a fresh session")

	assert.Equal(t, id, rig.manager.ID(), "the logical handle survives reconnects")
}

func TestCallerDeadlineDoesNotFault(t *testing.T) {
	node := clustertest.NewNode("n1", "10.0.0.1", 2113, wire.RoleLeader, 1)

	var mu sync.Mutex
	connections := 0
	rig := newRig(t, conn.Config{}, node)
	rig.manager.OnConnected(func(context.Context, *transport.Conn) {
		mu.Lock()
		connections++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rig.manager.Run(ctx)

	require.True(t, clustertest.WaitFor(2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connections == 1
	}))

	callCtx, cancelCall := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelCall()
	err := rig.manager.Do(callCtx, func(ctx context.Context, c *transport.Conn) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)

	// A slow caller expiring its own deadline must not recycle a
	// healthy session.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, connections)
	assert.Equal(t, conn.Connected, rig.manager.State())
}

func TestBackpressureFailsOldestWaiter(t *testing.T) {
	node := clustertest.NewNode("n1", "10.0.0.1", 2113, wire.RoleLeader, 1)
	rig := newRig(t, conn.Config{MaxQueueDepth: 1}, node)

	// Run is never started, so every Do queues.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first := make(chan error, 1)
	go func() {
		first <- rig.manager.Do(ctx, func(context.Context, *transport.Conn) error { return nil })
	}()

	// Wait for the first waiter to enqueue, then overflow the queue.
	time.Sleep(50 * time.Millisecond)
	go rig.manager.Do(ctx, func(context.Context, *transport.Conn) error { return nil })

	select {
	case err := <-first:
		require.ErrorIs(t, err, conn.ErrBackpressure)
	case <-time.After(2 * time.Second):
		t.Fatal("oldest waiter was not failed")
	}
}
