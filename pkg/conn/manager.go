// Package conn owns the active transport connection. The Manager is a
// stable logical handle that survives physical reconnects: it walks
// the topology ranking on every (re)connect, applies capped
// exponential backoff with jitter, queues requests while disconnected
// and hands dependent components a per-session context that is
// cancelled the moment the underlying connection is lost.
//
// Consumers only ever observe Connected or Disconnected; handshake
// intermediate states are internal.
package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EventStore/esdb-tui/pkg/backoff"
	"github.com/EventStore/esdb-tui/pkg/topology"
	"github.com/EventStore/esdb-tui/pkg/transport"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

// State is the externally visible connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ConnectedFunc is invoked on every transition into Connected. The
// context is cancelled when that particular session ends; holders must
// not use the Conn past it.
type ConnectedFunc func(session context.Context, c *transport.Conn)

// StateFunc observes state transitions.
type StateFunc func(State)

// Config configures the Manager.
type Config struct {
	// Resolver supplies and refreshes the topology ranking. Required.
	Resolver *topology.Resolver

	// Transport configures dialing and the handshake. Required.
	Transport *transport.Config

	// LeaderAffinity prefers the leader for the active connection and
	// reconnects when the connected node loses leadership.
	LeaderAffinity bool

	// Backoff is the reconnect backoff curve. Zero value uses
	// backoff.Default(30s).
	Backoff backoff.Policy

	// MaxQueueDepth bounds requests queued while disconnected.
	// Beyond it the oldest queued request fails with ErrBackpressure.
	// Default: 64.
	MaxQueueDepth int

	// StartupWindow bounds how long startup may go without a single
	// successful connection before Run gives up with ErrStartup.
	// Default: 30s.
	StartupWindow time.Duration

	// Logger for logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

func (cfg *Config) withDefaults() *Config {
	out := *cfg
	if out.Backoff == (backoff.Policy{}) {
		out.Backoff = backoff.Default(30 * time.Second)
	}
	if out.MaxQueueDepth == 0 {
		out.MaxQueueDepth = 64
	}
	if out.StartupWindow == 0 {
		out.StartupWindow = 30 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

type acquireResult struct {
	conn *transport.Conn
	err  error
}

// Manager is the stable logical connection handle.
type Manager struct {
	id  string
	cfg *Config
	log *slog.Logger

	mu      sync.Mutex
	state   State
	conn    *transport.Conn
	session context.CancelFunc
	waiters []chan acquireResult
	closed  bool

	onConnected []ConnectedFunc
	onState     []StateFunc

	faults chan error
}

// NewManager creates a Manager in the Disconnected state. Run starts
// the connect loop.
func NewManager(cfg *Config) *Manager {
	c := cfg.withDefaults()
	id := uuid.NewString()
	return &Manager{
		id:     id,
		cfg:    c,
		log:    c.Logger.With("conn_id", id),
		faults: make(chan error, 8),
	}
}

// ID identifies this logical connection across physical reconnects.
func (m *Manager) ID() string { return m.id }

// State returns the externally visible state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnConnected registers a listener run on every Connected transition.
// Must be called before Run.
func (m *Manager) OnConnected(fn ConnectedFunc) {
	m.onConnected = append(m.onConnected, fn)
}

// OnStateChange registers a state transition observer. Must be called
// before Run. Observers must not block.
func (m *Manager) OnStateChange(fn StateFunc) {
	m.onState = append(m.onState, fn)
}

// Fault reports a connection-level fault (I/O error, protocol error,
// dropped stream) and triggers reconnection. Never blocks.
func (m *Manager) Fault(err error) {
	select {
	case m.faults <- err:
	default:
	}
}

// Do runs fn against the active connection, queueing while the
// manager is between connections. Errors from fn are classified and,
// when connection-level, fed back as a fault. A call aborted by the
// caller's own context says nothing about the connection's health and
// raises no fault.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, c *transport.Conn) error) error {
	conn, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, conn); err != nil {
		err = transport.Classify(err)
		if ctx.Err() == nil {
			m.Fault(err)
		}
		return err
	}
	return nil
}

// acquire returns the active connection, waiting in the bounded queue
// while disconnected.
func (m *Manager) acquire(ctx context.Context) (*transport.Conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.state == Connected && m.conn != nil {
		conn := m.conn
		m.mu.Unlock()
		return conn, nil
	}

	waiter := make(chan acquireResult, 1)
	if len(m.waiters) >= m.cfg.MaxQueueDepth {
		oldest := m.waiters[0]
		m.waiters = m.waiters[1:]
		oldest <- acquireResult{err: ErrBackpressure}
	}
	m.waiters = append(m.waiters, waiter)
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-waiter:
		return res.conn, res.err
	}
}

// Run drives the connection state machine until ctx is done. It
// returns ErrStartup if no node could be reached within the startup
// window, ctx.Err() on cancellation, nil never.
func (m *Manager) Run(ctx context.Context) error {
	defer m.shutdown()

	bo := backoff.New(m.cfg.Backoff)
	startDeadline := time.Now().Add(m.cfg.StartupWindow)
	everConnected := false

	for {
		m.setState(Connecting)

		conn, err := m.connectOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !everConnected && time.Now().After(startDeadline) {
				m.log.Error("startup window elapsed without a reachable seed", "error", err)
				return ErrStartup
			}
			m.setState(Disconnected)
			m.log.Warn("connect attempt failed", "error", err, "attempt", bo.Attempt())
			if err := bo.Sleep(ctx); err != nil {
				return err
			}
			continue
		}

		everConnected = true
		bo.Reset()
		session := m.install(ctx, conn)

		reason := m.waitForFault(ctx, conn)
		m.teardown(conn, session)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.log.Info("connection lost, reconnecting", "node", conn.Addr(), "reason", reason)
		m.setState(Reconnecting)

		// Reconnecting re-requests topology before retrying.
		if _, err := m.cfg.Resolver.Refresh(ctx); err != nil {
			m.log.Warn("topology refresh before reconnect failed", "error", err)
		}
	}
}

// connectOnce walks the current topology ranking and returns the first
// successfully established connection.
func (m *Manager) connectOnce(ctx context.Context) (*transport.Conn, error) {
	topo := m.cfg.Resolver.Current()
	if len(topo.Members) == 0 {
		var err error
		topo, err = m.cfg.Resolver.Refresh(ctx)
		if err != nil && len(topo.Members) == 0 {
			return nil, err
		}
	}

	candidates := topo.Candidates(m.cfg.LeaderAffinity)
	if len(candidates) == 0 {
		// Leader affinity with no known leader falls back to any
		// reachable member rather than stalling.
		candidates = topo.Candidates(false)
	}

	var lastErr error
	for _, addr := range candidates {
		conn, err := transport.Dial(ctx, addr, m.cfg.Transport)
		if err != nil {
			if transport.IsProtocol(err) {
				m.cfg.Resolver.ReportProtocolFault(addr)
			}
			m.log.Debug("candidate rejected", "addr", addr, "error", err)
			lastErr = err
			continue
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no connection candidates in topology")
	}
	return nil, lastErr
}

// install publishes the new connection: flushes queued waiters, flips
// the state and runs the OnConnected listeners with a session context.
func (m *Manager) install(ctx context.Context, conn *transport.Conn) context.Context {
	session, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.conn = conn
	m.session = cancel
	m.state = Connected
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, w := range waiters {
		w <- acquireResult{conn: conn}
	}
	m.notify(Connected)
	m.log.Info("connected", "node", conn.Addr(), "node_id", conn.NodeID())

	for _, fn := range m.onConnected {
		fn(session, conn)
	}
	return session
}

// waitForFault blocks until the session must end: a reported fault, a
// topology change that demotes the connected node, or cancellation.
func (m *Manager) waitForFault(ctx context.Context, conn *transport.Conn) string {
	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case err := <-m.faults:
			if transport.IsProtocol(err) {
				m.cfg.Resolver.ReportProtocolFault(conn.Addr())
			}
			return err.Error()
		case topo := <-m.cfg.Resolver.Updates():
			if m.cfg.LeaderAffinity && topo.RoleOf(conn.Addr()) != wire.RoleLeader {
				if _, ok := topo.Leader(); ok {
					return "leader moved"
				}
			}
			// Other topology changes do not affect this session.
		}
	}
}

func (m *Manager) teardown(conn *transport.Conn, session context.Context) {
	m.mu.Lock()
	if m.session != nil {
		m.session()
		m.session = nil
	}
	m.conn = nil
	m.mu.Unlock()

	conn.Close()
	<-session.Done()

	// Drop faults raised by streams dying from the teardown itself.
	for {
		select {
		case <-m.faults:
		default:
			return
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.notify(s)
	}
}

func (m *Manager) notify(s State) {
	for _, fn := range m.onState {
		fn(s)
	}
}

// shutdown fails all queued waiters and marks the manager closed.
func (m *Manager) shutdown() {
	m.mu.Lock()
	m.closed = true
	m.state = Disconnected
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, w := range waiters {
		w <- acquireResult{err: ErrClosed}
	}
	m.notify(Disconnected)
}
