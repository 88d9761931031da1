// Package clustertest provides an in-process fake cluster node for
// tests: all four RPC services served over bufconn, with knobs to
// script failures, drops and gossip answers.
package clustertest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/EventStore/esdb-tui/pkg/wire"
)

const bufSize = 1 << 20

// Node is one fake cluster member. Zero scripting gives a healthy
// node that accepts any credentials and confirms every subscription.
type Node struct {
	ID   string
	Host string
	Port int

	mu             sync.Mutex
	role           wire.Role
	epoch          uint64
	gossip         *wire.ClusterInfo
	events         map[string][]wire.RecordedEvent
	watchers       map[string][]*watcher
	projections    []wire.ProjectionStatus
	groups         []wire.PersistentSubscriptionInfo
	adminHandler   func(*wire.AdminRequest) *wire.AdminResponse
	rejectAuth     bool
	authRevision   uint32
	failSubscribes int
	gossipErr      error

	srv *grpc.Server
	lis *bufconn.Listener
}

type watcher struct {
	stream string
	events chan wire.RecordedEvent
	drop   chan string
}

// NewNode creates and starts a node serving at host:port inside the
// cluster's dial table.
func NewNode(id, host string, port int, role wire.Role, epoch uint64) *Node {
	n := &Node{
		ID:           id,
		Host:         host,
		Port:         port,
		role:         role,
		epoch:        epoch,
		events:       make(map[string][]wire.RecordedEvent),
		watchers:     make(map[string][]*watcher),
		authRevision: wire.ProtocolRevision,
		lis:          bufconn.Listen(bufSize),
	}

	n.srv = grpc.NewServer()
	wire.RegisterAuthServer(n.srv, n)
	wire.RegisterGossipServer(n.srv, gossipService{n})
	wire.RegisterStreamsServer(n.srv, streamsService{n})
	wire.RegisterOperationsServer(n.srv, n)
	go n.srv.Serve(n.lis)
	return n
}

// Both Gossip and Streams declare a Read method, so each service gets
// its own receiver delegating to the node.
type gossipService struct{ n *Node }

func (s gossipService) Read(ctx context.Context, req *wire.GossipRequest) (*wire.ClusterInfo, error) {
	return s.n.readGossip(ctx, req)
}

type streamsService struct{ n *Node }

func (s streamsService) Read(req *wire.ReadRequest, srv wire.Streams_ReadServer) error {
	return s.n.readStream(req, srv)
}

func (s streamsService) Subscribe(req *wire.SubscribeRequest, srv wire.Streams_SubscribeServer) error {
	return s.n.subscribe(req, srv)
}

// Addr returns the node's dialable address.
func (n *Node) Addr() string {
	return net.JoinHostPort(n.Host, fmt.Sprintf("%d", n.Port))
}

// Stop tears the node down, breaking all open streams.
func (n *Node) Stop() {
	n.srv.Stop()
}

// Member returns the node's gossip self-description.
func (n *Node) Member() wire.MemberInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return wire.MemberInfo{
		Host:     n.Host,
		Port:     n.Port,
		Role:     n.role,
		Epoch:    n.epoch,
		Alive:    true,
		LastSeen: time.Now(),
	}
}

// SetRole changes the role the node reports from now on.
func (n *Node) SetRole(role wire.Role) {
	n.mu.Lock()
	n.role = role
	n.mu.Unlock()
}

// SetGossip scripts the answer of the gossip endpoint. Without it the
// node answers with only itself.
func (n *Node) SetGossip(info *wire.ClusterInfo) {
	n.mu.Lock()
	n.gossip = info
	n.mu.Unlock()
}

// SetGossipError makes the gossip endpoint fail.
func (n *Node) SetGossipError(err error) {
	n.mu.Lock()
	n.gossipErr = err
	n.mu.Unlock()
}

// RejectAuth makes the handshake fail with permission denied.
func (n *Node) RejectAuth(reject bool) {
	n.mu.Lock()
	n.rejectAuth = reject
	n.mu.Unlock()
}

// SetAuthRevision scripts the protocol revision reported in the
// handshake, for version mismatch tests.
func (n *Node) SetAuthRevision(rev uint32) {
	n.mu.Lock()
	n.authRevision = rev
	n.mu.Unlock()
}

// FailSubscribes makes the next count Subscribe calls fail with
// Unavailable.
func (n *Node) FailSubscribes(count int) {
	n.mu.Lock()
	n.failSubscribes = count
	n.mu.Unlock()
}

// SetProjections scripts the ListProjections answer.
func (n *Node) SetProjections(ps []wire.ProjectionStatus) {
	n.mu.Lock()
	n.projections = ps
	n.mu.Unlock()
}

// SetPersistentSubscriptions scripts the ListPersistentSubscriptions
// answer.
func (n *Node) SetPersistentSubscriptions(gs []wire.PersistentSubscriptionInfo) {
	n.mu.Lock()
	n.groups = gs
	n.mu.Unlock()
}

// SetAdminHandler scripts administrative command handling. Without it
// every command succeeds.
func (n *Node) SetAdminHandler(fn func(*wire.AdminRequest) *wire.AdminResponse) {
	n.mu.Lock()
	n.adminHandler = fn
	n.mu.Unlock()
}

// Append stores an event on stream with the next revision and feeds
// it to live subscribers. The stored event is returned.
func (n *Node) Append(stream, eventType string, data []byte) wire.RecordedEvent {
	n.mu.Lock()
	ev := wire.RecordedEvent{
		Stream:    stream,
		Revision:  uint64(len(n.events[stream])),
		EventType: eventType,
		EventID:   uuid.NewString(),
		Data:      data,
		Created:   time.Now(),
	}
	n.events[stream] = append(n.events[stream], ev)
	ws := append([]*watcher(nil), n.watchers[stream]...)
	n.mu.Unlock()

	for _, w := range ws {
		select {
		case w.events <- ev:
		default:
		}
	}
	return ev
}

// DropSubscriptions sends a server-side drop to every live
// subscription on stream.
func (n *Node) DropSubscriptions(stream, reason string) {
	n.mu.Lock()
	ws := append([]*watcher(nil), n.watchers[stream]...)
	n.mu.Unlock()
	for _, w := range ws {
		select {
		case w.drop <- reason:
		default:
		}
	}
}

// Authenticate implements wire.AuthServer.
func (n *Node) Authenticate(_ context.Context, req *wire.AuthRequest) (*wire.AuthResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.rejectAuth {
		return nil, status.Error(codes.PermissionDenied, "access denied")
	}
	if req.Revision != wire.ProtocolRevision {
		return nil, status.Error(codes.FailedPrecondition, "unsupported protocol revision")
	}
	return &wire.AuthResponse{
		Token:    "token-" + n.ID,
		NodeID:   n.ID,
		Revision: n.authRevision,
	}, nil
}

func (n *Node) readGossip(_ context.Context, _ *wire.GossipRequest) (*wire.ClusterInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.gossipErr != nil {
		return nil, status.Error(codes.Unavailable, n.gossipErr.Error())
	}
	if n.gossip != nil {
		return n.gossip, nil
	}
	return &wire.ClusterInfo{
		Members: []wire.MemberInfo{{
			Host: n.Host, Port: n.Port, Role: n.role,
			Epoch: n.epoch, Alive: true, LastSeen: time.Now(),
		}},
		Epoch: n.epoch,
	}, nil
}

// Admin implements wire.OperationsServer.
func (n *Node) Admin(_ context.Context, req *wire.AdminRequest) (*wire.AdminResponse, error) {
	n.mu.Lock()
	fn := n.adminHandler
	n.mu.Unlock()
	if fn != nil {
		resp := fn(req)
		if resp == nil {
			return nil, status.Error(codes.Unavailable, "node unavailable")
		}
		return resp, nil
	}
	return &wire.AdminResponse{CorrelationID: req.CorrelationID, Success: true}, nil
}

func (n *Node) ListProjections(_ context.Context, _ *wire.ListRequest) (*wire.ProjectionList, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &wire.ProjectionList{Projections: append([]wire.ProjectionStatus(nil), n.projections...)}, nil
}

func (n *Node) ListPersistentSubscriptions(_ context.Context, _ *wire.ListRequest) (*wire.PersistentSubscriptionList, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &wire.PersistentSubscriptionList{Subscriptions: append([]wire.PersistentSubscriptionInfo(nil), n.groups...)}, nil
}

// readStream implements bounded reads.
func (n *Node) readStream(req *wire.ReadRequest, srv wire.Streams_ReadServer) error {
	n.mu.Lock()
	stored := append([]wire.RecordedEvent(nil), n.events[req.Stream]...)
	n.mu.Unlock()

	if req.Direction == wire.ReadBackward {
		for i, j := 0, len(stored)-1; i < j; i, j = i+1, j-1 {
			stored[i], stored[j] = stored[j], stored[i]
		}
	}
	sent := uint64(0)
	for _, ev := range stored {
		if req.Direction == wire.ReadForward && ev.Revision < req.Revision {
			continue
		}
		if req.MaxCount > 0 && sent >= req.MaxCount {
			break
		}
		if err := srv.Send(&ev); err != nil {
			return err
		}
		sent++
	}
	return nil
}

// subscribe implements live subscriptions: confirm, replay from the
// requested revision, mark caught up, then forward appends until the
// stream is dropped or the client goes away.
func (n *Node) subscribe(req *wire.SubscribeRequest, srv wire.Streams_SubscribeServer) error {
	n.mu.Lock()
	if n.failSubscribes > 0 {
		n.failSubscribes--
		n.mu.Unlock()
		return status.Error(codes.Unavailable, "subscriptions disabled")
	}
	stored := append([]wire.RecordedEvent(nil), n.events[req.Stream]...)
	w := &watcher{
		stream: req.Stream,
		events: make(chan wire.RecordedEvent, 64),
		drop:   make(chan string, 1),
	}
	n.watchers[req.Stream] = append(n.watchers[req.Stream], w)
	n.mu.Unlock()
	defer n.removeWatcher(w)

	var last uint64
	if len(stored) > 0 {
		last = stored[len(stored)-1].Revision
	}
	err := srv.Send(&wire.SubscribeFrame{
		Type:      wire.FrameConfirmed,
		Confirmed: &wire.Confirmed{SubscriptionID: uuid.NewString(), LastRevision: last},
	})
	if err != nil {
		return err
	}

	if !req.LiveOnly {
		for _, ev := range stored {
			if ev.Revision < req.Revision {
				continue
			}
			ev := ev
			if err := srv.Send(&wire.SubscribeFrame{Type: wire.FrameEvent, Event: &ev}); err != nil {
				return err
			}
		}
	}
	if err := srv.Send(&wire.SubscribeFrame{Type: wire.FrameCaughtUp}); err != nil {
		return err
	}

	for {
		select {
		case <-srv.Context().Done():
			return srv.Context().Err()
		case reason := <-w.drop:
			return srv.Send(&wire.SubscribeFrame{
				Type:    wire.FrameDropped,
				Dropped: &wire.DropInfo{Reason: reason},
			})
		case ev := <-w.events:
			if !req.LiveOnly && ev.Revision <= last && len(stored) > 0 {
				continue
			}
			if err := srv.Send(&wire.SubscribeFrame{Type: wire.FrameEvent, Event: &ev}); err != nil {
				return err
			}
		}
	}
}

func (n *Node) removeWatcher(w *watcher) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ws := n.watchers[w.stream]
	for i, cand := range ws {
		if cand == w {
			n.watchers[w.stream] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

var (
	_ wire.AuthServer       = (*Node)(nil)
	_ wire.OperationsServer = (*Node)(nil)
	_ wire.GossipServer     = gossipService{}
	_ wire.StreamsServer    = streamsService{}
)
