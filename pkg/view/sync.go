package view

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/EventStore/esdb-tui/pkg/subs"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

// Config configures the Synchronizer.
type Config struct {
	// RingSize caps the per-stream event ring. Default: 100.
	RingSize int

	// StalenessWindow prunes cluster members unseen for longer than
	// this. Default: 1m.
	StalenessWindow time.Duration

	// BrowserDepth bounds the stream browser lists. Default: 20.
	BrowserDepth int

	// CommandHistory bounds the retained command outcomes.
	// Default: 32.
	CommandHistory int

	// MinRenderInterval coalesces rapid successive updates into one
	// feed delivery. Default: 100ms.
	MinRenderInterval time.Duration

	// Logger for logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

func (cfg *Config) withDefaults() *Config {
	out := *cfg
	if out.RingSize == 0 {
		out.RingSize = 100
	}
	if out.StalenessWindow == 0 {
		out.StalenessWindow = time.Minute
	}
	if out.BrowserDepth == 0 {
		out.BrowserDepth = 20
	}
	if out.CommandHistory == 0 {
		out.CommandHistory = 32
	}
	if out.MinRenderInterval == 0 {
		out.MinRenderInterval = 100 * time.Millisecond
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// Synchronizer is the single writer folding changes into snapshots.
// Apply itself is a pure function; Run is the only goroutine that
// calls it.
type Synchronizer struct {
	cfg *Config
	log *slog.Logger

	changes chan Change
	feed    chan *Snapshot
	current atomic.Pointer[Snapshot]
}

// New creates a Synchronizer holding the empty snapshot.
func New(cfg *Config) *Synchronizer {
	if cfg == nil {
		cfg = &Config{}
	}
	c := cfg.withDefaults()
	s := &Synchronizer{
		cfg:     c,
		log:     c.Logger,
		changes: make(chan Change, 256),
		feed:    make(chan *Snapshot, 1),
	}
	s.current.Store(NewSnapshot())
	return s
}

// Current returns the latest published snapshot. Safe from any
// goroutine.
func (s *Synchronizer) Current() *Snapshot {
	return s.current.Load()
}

// Feed delivers snapshots to the renderer, at most once per change
// batch and never faster than the minimum render interval. A slow
// receiver only ever misses intermediate versions, never the latest.
func (s *Synchronizer) Feed() <-chan *Snapshot {
	return s.feed
}

// Submit queues a change for the fold.
func (s *Synchronizer) Submit(ch Change) {
	s.changes <- ch
}

// OnEvent implements subs.Sink.
func (s *Synchronizer) OnEvent(sub subs.State, ev *wire.RecordedEvent) {
	s.Submit(EventAppended{Sub: sub, Event: *ev, At: time.Now()})
}

// OnSubscriptionState implements subs.Sink.
func (s *Synchronizer) OnSubscriptionState(st subs.State) {
	s.Submit(SubscriptionChanged{State: st})
}

// Run folds submitted changes until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) {
	snap := s.Current()
	dirty := false

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	lastSent := time.Time{}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ch := <-s.changes:
			snap = s.Apply(snap, ch)
			s.current.Store(snap)
			dirty = true
			if timerC == nil {
				wait := s.cfg.MinRenderInterval - time.Since(lastSent)
				if wait < 0 {
					wait = 0
				}
				timer = time.NewTimer(wait)
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			if !dirty {
				continue
			}
			s.deliver(snap)
			lastSent = time.Now()
			dirty = false
		}
	}
}

// deliver replaces any undelivered snapshot with the latest.
func (s *Synchronizer) deliver(snap *Snapshot) {
	select {
	case s.feed <- snap:
		return
	default:
	}
	select {
	case <-s.feed:
	default:
	}
	select {
	case s.feed <- snap:
	default:
	}
}

// Apply folds one change into a new snapshot. Pure: no I/O, no clock
// reads, bounded time; all timestamps come from the change itself.
func (s *Synchronizer) Apply(snap *Snapshot, ch Change) *Snapshot {
	out := snap.clone()
	out.Version = snap.Version + 1

	switch ch := ch.(type) {
	case EventAppended:
		s.applyEvent(out, ch)
		out.UpdatedAt = ch.At

	case SubscriptionChanged:
		if ch.State.Removed {
			delete(out.Subscriptions, ch.State.ID)
		} else {
			out.Subscriptions[ch.State.ID] = ch.State
		}

	case TopologyChanged:
		s.applyTopology(out, ch)
		out.UpdatedAt = ch.At

	case ConnectionChanged:
		out.ConnectionState = ch.State

	case ProjectionsListed:
		s.applyProjections(out, ch)
		out.UpdatedAt = ch.At

	case PersistentSubsListed:
		infos := append([]wire.PersistentSubscriptionInfo(nil), ch.Infos...)
		sort.Slice(infos, func(i, j int) bool {
			if infos[i].Stream != infos[j].Stream {
				return infos[i].Stream < infos[j].Stream
			}
			return infos[i].Group < infos[j].Group
		})
		out.PersistentSubscriptions = infos

	case StatsUpdated:
		queues := append([]QueueStat(nil), ch.Queues...)
		sort.Slice(queues, func(i, j int) bool { return queues[i].Name < queues[j].Name })
		out.Queues = queues
		out.System = ch.System
		out.UpdatedAt = ch.At

	case CommandCompleted:
		history := make([]CommandOutcome, 0, s.cfg.CommandHistory)
		history = append(history, ch.Outcome)
		for _, prev := range snap.Commands {
			if prev.CorrelationID == ch.Outcome.CorrelationID {
				continue
			}
			history = append(history, prev)
			if len(history) == s.cfg.CommandHistory {
				break
			}
		}
		out.Commands = history
		out.UpdatedAt = ch.Outcome.CompletedAt
	}

	return out
}

// applyEvent routes a delivered event by the subscription that
// produced it: the $streams watch feeds the created-streams list, an
// $all watch feeds the recently-changed list, anything else lands in
// its stream's ring.
func (s *Synchronizer) applyEvent(out *Snapshot, ch EventAppended) {
	switch ch.Sub.Spec.Stream {
	case "$streams":
		// $streams events carry "<revision>@<stream>" payloads.
		name := ch.Event.Stream
		if idx := strings.LastIndexByte(string(ch.Event.Data), '@'); idx >= 0 {
			name = string(ch.Event.Data[idx+1:])
		}
		out.LastCreatedStreams = prepend(out.LastCreatedStreams, name, s.cfg.BrowserDepth)

	case wire.AllStreams:
		out.RecentlyChangedStreams = prepend(out.RecentlyChangedStreams, ch.Event.Stream, s.cfg.BrowserDepth)

	default:
		ring, ok := out.Streams[ch.Event.Stream]
		if !ok {
			ring = NewEventRing(s.cfg.RingSize)
		}
		out.Streams[ch.Event.Stream] = ring.Append(ch.Event)
	}
}

// applyTopology merges the refreshed member list over the known one
// and prunes entries unseen beyond the staleness window.
func (s *Synchronizer) applyTopology(out *Snapshot, ch TopologyChanged) {
	byAddr := make(map[string]MemberHealth, len(out.Members)+len(ch.Members))
	for _, m := range out.Members {
		byAddr[m.Addr] = m
	}
	for _, m := range ch.Members {
		byAddr[m.Addr] = m
	}

	members := make([]MemberHealth, 0, len(byAddr))
	cutoff := ch.At.Add(-s.cfg.StalenessWindow)
	for _, m := range byAddr {
		if m.LastSeen.Before(cutoff) {
			continue
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Addr < members[j].Addr })
	out.Members = members
}

// applyProjections replaces the projection list, deriving each rate
// from the previous observation held in the snapshot.
func (s *Synchronizer) applyProjections(out *Snapshot, ch ProjectionsListed) {
	prev := make(map[string]Projection, len(out.Projections))
	for _, p := range out.Projections {
		prev[p.Name] = p
	}

	projections := make([]Projection, 0, len(ch.Statuses))
	for _, status := range ch.Statuses {
		p := Projection{ProjectionStatus: status, ObservedAt: ch.At}
		if old, ok := prev[status.Name]; ok {
			elapsed := ch.At.Sub(old.ObservedAt).Seconds()
			if elapsed > 0 {
				processed := status.EventsProcessedAfterRestart - old.EventsProcessedAfterRestart
				p.Rate = float32(float64(processed) / elapsed)
			}
		}
		projections = append(projections, p)
	}
	sort.Slice(projections, func(i, j int) bool { return projections[i].Name < projections[j].Name })
	out.Projections = projections
}

// prepend adds name at the head, removing any earlier occurrence and
// truncating to depth.
func prepend(list []string, name string, depth int) []string {
	out := make([]string, 0, depth)
	out = append(out, name)
	for _, existing := range list {
		if existing == name {
			continue
		}
		out = append(out, existing)
		if len(out) == depth {
			break
		}
	}
	return out
}

var _ subs.Sink = (*Synchronizer)(nil)
