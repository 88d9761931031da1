package transport_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EventStore/esdb-tui/internal/clustertest"
	"github.com/EventStore/esdb-tui/pkg/transport"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

func newTestNode(t *testing.T) (*clustertest.Node, *transport.Config) {
	t.Helper()
	node := clustertest.NewNode("n1", "10.0.0.1", 2113, wire.RoleLeader, 1)
	t.Cleanup(node.Stop)

	cluster := clustertest.NewCluster(node)
	cfg := &transport.Config{
		Credentials: transport.Credentials{Username: "admin", Password: "changeit"},
		Dialer:      cluster.Dialer(),
	}
	return node, cfg
}

func TestDialHandshake(t *testing.T) {
	node, cfg := newTestNode(t)

	conn, err := transport.Dial(context.Background(), node.Addr(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "n1", conn.NodeID())
	assert.Equal(t, "10.0.0.1:2113", conn.Addr())

	info, err := conn.Gossip(context.Background())
	require.NoError(t, err)
	require.Len(t, info.Members, 1)
	assert.Equal(t, wire.RoleLeader, info.Members[0].Role)
}

func TestDialAccessDenied(t *testing.T) {
	node, cfg := newTestNode(t)
	node.RejectAuth(true)

	_, err := transport.Dial(context.Background(), node.Addr(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrTransport)
	assert.ErrorIs(t, err, wire.ErrAccessDenied)
}

func TestDialVersionMismatch(t *testing.T) {
	node, cfg := newTestNode(t)
	node.SetAuthRevision(99)

	_, err := transport.Dial(context.Background(), node.Addr(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrVersionMismatch)
	assert.True(t, transport.IsProtocol(transport.Classify(err)))
}

func TestDialUnknownAddress(t *testing.T) {
	_, cfg := newTestNode(t)

	_, err := transport.Dial(context.Background(), "10.0.0.99:2113", cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrTransport)
}

func TestReadStream(t *testing.T) {
	node, cfg := newTestNode(t)
	for i := 0; i < 3; i++ {
		node.Append("orders", "OrderPlaced", []byte(`{"qty":1}`))
	}

	conn, err := transport.Dial(context.Background(), node.Addr(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	stream, err := conn.Read(context.Background(), &wire.ReadRequest{Stream: "orders", Revision: 1})
	require.NoError(t, err)

	var revisions []uint64
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		revisions = append(revisions, ev.Revision)
	}
	assert.Equal(t, []uint64{1, 2}, revisions)
}

func TestAdminRoundtrip(t *testing.T) {
	node, cfg := newTestNode(t)
	node.SetAdminHandler(func(req *wire.AdminRequest) *wire.AdminResponse {
		return &wire.AdminResponse{
			CorrelationID: req.CorrelationID,
			Success:       req.Op == wire.OpEnableProjection,
			Message:       req.Target,
		}
	})

	conn, err := transport.Dial(context.Background(), node.Addr(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := conn.Admin(context.Background(), &wire.AdminRequest{
		CorrelationID: "cmd-1",
		Op:            wire.OpEnableProjection,
		Target:        "$by_category",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "cmd-1", resp.CorrelationID)
	assert.Equal(t, "$by_category", resp.Message)
}

func TestListProjections(t *testing.T) {
	node, cfg := newTestNode(t)
	node.SetProjections([]wire.ProjectionStatus{
		{Name: "$by_category", Status: "Running", EventsProcessedAfterRestart: 42},
	})

	conn, err := transport.Dial(context.Background(), node.Addr(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	statuses, err := conn.ListProjections(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "$by_category", statuses[0].Name)
	assert.Equal(t, int64(42), statuses[0].EventsProcessedAfterRestart)
}
