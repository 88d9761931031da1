package subs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EventStore/esdb-tui/pkg/backoff"
	"github.com/EventStore/esdb-tui/pkg/conn"
	"github.com/EventStore/esdb-tui/pkg/transport"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

// ErrRetryBudgetExhausted marks a subscription whose resubscribe
// attempts failed beyond the retry budget. Surfaced through the
// subscription's Failed state, never process-fatal.
var ErrRetryBudgetExhausted = errors.New("resubscribe retry budget exhausted")

// Config configures the Registry.
type Config struct {
	// Manager supplies connections and Connected transitions. Required.
	Manager *conn.Manager

	// RetryBudget is the number of consecutive resubscribe failures
	// tolerated before a subscription goes Failed. Default: 5.
	RetryBudget int

	// CheckpointResume resumes each subscription from its last
	// confirmed checkpoint after reconnection. Disabled, every
	// reconnect replays from the spec's original start.
	CheckpointResume bool

	// Logger for logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// subscription pairs an immutable Spec with its mutable companion
// state.
type subscription struct {
	id   string
	spec Spec

	mu         sync.Mutex
	status     Status
	checkpoint Checkpoint
	retries    int
	lastErr    string
	retired    bool
	cancel     context.CancelFunc
}

func (s *subscription) state() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:         s.id,
		Spec:       s.spec,
		Status:     s.status,
		Checkpoint: s.checkpoint,
		Retries:    s.retries,
		LastError:  s.lastErr,
		Removed:    s.retired,
	}
}

// Registry tracks desired subscriptions and keeps them established
// across reconnects.
type Registry struct {
	cfg    *Config
	log    *slog.Logger
	router *Router

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewRegistry creates a Registry and wires it to the manager's
// Connected transitions.
func NewRegistry(cfg *Config) *Registry {
	out := *cfg
	if out.RetryBudget == 0 {
		out.RetryBudget = 5
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}

	r := &Registry{
		cfg:    &out,
		log:    out.Logger,
		router: NewRouter(),
		subs:   make(map[string]*subscription),
	}
	out.Manager.OnConnected(r.resume)
	return r
}

// Desire registers a subscription and returns its id. The
// subscription is established on the next Connected session (or
// immediately if one is active the next time the manager reconnects).
func (r *Registry) Desire(spec Spec, sink Sink) string {
	sub := &subscription{
		id:     uuid.NewString(),
		spec:   spec,
		status: StatusPending,
	}

	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()
	r.router.Bind(sub.id, sink)
	r.router.DispatchState(sub.state())

	r.log.Debug("subscription desired", "id", sub.id, "stream", spec.Stream)
	return sub.id
}

// Retire cancels a subscription promptly and removes its spec. Late
// frames are discarded by the router.
func (r *Registry) Retire(id string) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	sub.mu.Lock()
	sub.retired = true
	cancel := sub.cancel
	sub.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	r.router.DispatchState(sub.state())
	r.router.Unbind(id)
	r.log.Debug("subscription retired", "id", id)
}

// States snapshots all tracked subscriptions.
func (r *Registry) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub.state())
	}
	return out
}

// resume re-establishes every non-terminal subscription on a new
// session, each from its last confirmed checkpoint.
func (r *Registry) resume(session context.Context, c *transport.Conn) {
	r.mu.Lock()
	pending := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		sub.mu.Lock()
		terminal := sub.status.Terminal() || sub.retired
		sub.mu.Unlock()
		if !terminal {
			pending = append(pending, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range pending {
		pumpCtx, cancel := context.WithCancel(session)
		sub.mu.Lock()
		sub.cancel = cancel
		sub.status = StatusPending
		sub.mu.Unlock()
		r.router.DispatchState(sub.state())

		go r.pump(pumpCtx, c, sub)
	}
}

// resumeRequest builds the subscribe request for the next attempt.
// With a confirmed checkpoint the request re-reads from the
// checkpoint itself, so the checkpointed event may be redelivered but
// nothing after it can be skipped.
func (r *Registry) resumeRequest(sub *subscription) *wire.SubscribeRequest {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	req := &wire.SubscribeRequest{
		Stream: sub.spec.Stream,
		Filter: sub.spec.Filter,
	}

	if r.cfg.CheckpointResume && sub.checkpoint.Valid {
		req.Revision = sub.checkpoint.Revision
		req.Position = sub.checkpoint.Position
		return req
	}

	switch sub.spec.Start {
	case FromRevision:
		req.Revision = sub.spec.Revision
		req.Position = sub.spec.Position
	case LiveOnly:
		req.LiveOnly = true
	}
	return req
}

// pump drives one subscription for the lifetime of one session: it
// subscribes (retrying within the budget), then delivers frames to
// the router in arrival order.
func (r *Registry) pump(ctx context.Context, c *transport.Conn, sub *subscription) {
	bo := backoff.New(backoff.Default(5 * time.Second))

	for {
		stream, err := c.Subscribe(ctx, r.resumeRequest(sub))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if r.recordFailure(sub, err) {
				return
			}
			if err := bo.Sleep(ctx); err != nil {
				return
			}
			continue
		}

		err = r.drain(ctx, stream, sub)
		if ctx.Err() != nil || r.isRetired(sub) {
			return
		}
		if err != nil {
			// A dying stream usually means the connection itself is
			// gone; let the manager decide and resume on the next
			// session.
			r.setStatus(sub, StatusDropped, err.Error())
			r.cfg.Manager.Fault(transport.Classify(err))
			return
		}

		// Server-initiated drop with a healthy connection: retry
		// against the same session.
		if r.recordFailure(sub, errors.New("dropped by server")) {
			return
		}
		if err := bo.Sleep(ctx); err != nil {
			return
		}
	}
}

// drain consumes frames until the stream errors (returned) or the
// server drops the subscription (returns nil).
func (r *Registry) drain(ctx context.Context, stream wire.Streams_SubscribeClient, sub *subscription) error {
	for {
		frame, err := stream.Recv()
		if err != nil {
			return err
		}

		switch frame.Type {
		case wire.FrameConfirmed:
			r.confirm(sub)

		case wire.FrameEvent:
			if frame.Event == nil {
				return wire.ErrMalformedFrame
			}
			st := sub.state()
			r.router.DispatchEvent(st, frame.Event)
			r.advance(sub, frame.Event.Revision, frame.Event.Position)

		case wire.FrameCheckpoint:
			if frame.Checkpoint == nil {
				return wire.ErrMalformedFrame
			}
			r.advance(sub, 0, *frame.Checkpoint)

		case wire.FrameCaughtUp:
			r.setStatus(sub, StatusLive, "")

		case wire.FrameDropped:
			reason := ""
			if frame.Dropped != nil {
				reason = frame.Dropped.Reason
			}
			r.log.Warn("subscription dropped by server", "id", sub.id, "reason", reason)
			return nil

		default:
			return wire.ErrUnknownFrameType
		}
	}
}

func (r *Registry) confirm(sub *subscription) {
	sub.mu.Lock()
	sub.retries = 0
	sub.lastErr = ""
	if sub.spec.Start == LiveOnly && !sub.checkpoint.Valid {
		sub.status = StatusLive
	} else {
		sub.status = StatusCatchingUp
	}
	sub.mu.Unlock()
	r.router.DispatchState(sub.state())
}

func (r *Registry) advance(sub *subscription, rev uint64, pos wire.Position) {
	sub.mu.Lock()
	sub.checkpoint.advance(rev, pos)
	sub.mu.Unlock()
}

func (r *Registry) setStatus(sub *subscription, status Status, lastErr string) {
	sub.mu.Lock()
	sub.status = status
	sub.lastErr = lastErr
	sub.mu.Unlock()
	r.router.DispatchState(sub.state())
}

// recordFailure bumps the retry counter, flipping the subscription to
// Failed once the budget is exhausted. Reports whether the pump
// should give up.
func (r *Registry) recordFailure(sub *subscription, cause error) bool {
	sub.mu.Lock()
	sub.retries++
	exhausted := sub.retries > r.cfg.RetryBudget
	if exhausted {
		sub.status = StatusFailed
		sub.lastErr = ErrRetryBudgetExhausted.Error() + ": " + cause.Error()
	} else {
		sub.status = StatusPending
		sub.lastErr = cause.Error()
	}
	sub.mu.Unlock()

	r.router.DispatchState(sub.state())
	if exhausted {
		r.log.Error("subscription failed", "id", sub.id, "cause", cause)
	}
	return exhausted
}

func (r *Registry) isRetired(sub *subscription) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.retired
}
