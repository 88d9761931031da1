// Package monitor periodically samples slow-moving cluster state
// that has no push feed: projections and persistent subscription
// groups. Each sample is submitted to the view as one observation.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/EventStore/esdb-tui/pkg/conn"
	"github.com/EventStore/esdb-tui/pkg/transport"
	"github.com/EventStore/esdb-tui/pkg/view"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

// Submitter accepts view changes. *view.Synchronizer satisfies it.
type Submitter interface {
	Submit(view.Change)
}

// Config controls a Monitor.
type Config struct {
	Manager *conn.Manager
	Sink    Submitter

	// ProjectionsInterval is the sampling period for projection
	// status. Default 2s.
	ProjectionsInterval time.Duration

	// PersistentSubsInterval is the sampling period for persistent
	// subscription groups. Default 5s.
	PersistentSubsInterval time.Duration

	// Timeout bounds each individual poll. Default 3s.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ProjectionsInterval <= 0 {
		c.ProjectionsInterval = 2 * time.Second
	}
	if c.PersistentSubsInterval <= 0 {
		c.PersistentSubsInterval = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Monitor runs the polling loops. A failed poll is logged and the
// stale observation simply stands until the next tick; connection
// faults are the connection manager's problem, not ours.
type Monitor struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{cfg: cfg, log: cfg.Logger.With("component", "monitor")}
}

// Run blocks until ctx is done. Both loops poll once immediately so
// the first snapshot is not empty for a full interval.
func (m *Monitor) Run(ctx context.Context) {
	projections := time.NewTicker(m.cfg.ProjectionsInterval)
	defer projections.Stop()
	groups := time.NewTicker(m.cfg.PersistentSubsInterval)
	defer groups.Stop()

	m.pollProjections(ctx)
	m.pollPersistentSubs(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-projections.C:
			m.pollProjections(ctx)
		case <-groups.C:
			m.pollPersistentSubs(ctx)
		}
	}
}

func (m *Monitor) pollProjections(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	var statuses []wire.ProjectionStatus
	err := m.cfg.Manager.Do(ctx, func(ctx context.Context, c *transport.Conn) error {
		var err error
		statuses, err = c.ListProjections(ctx)
		return err
	})
	if err != nil {
		m.log.Debug("projections poll failed", "error", err)
		return
	}
	m.cfg.Sink.Submit(view.ProjectionsListed{Statuses: statuses, At: time.Now()})
}

func (m *Monitor) pollPersistentSubs(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	var infos []wire.PersistentSubscriptionInfo
	err := m.cfg.Manager.Do(ctx, func(ctx context.Context, c *transport.Conn) error {
		var err error
		infos, err = c.ListPersistentSubscriptions(ctx)
		return err
	})
	if err != nil {
		m.log.Debug("persistent subscriptions poll failed", "error", err)
		return
	}
	m.cfg.Sink.Submit(view.PersistentSubsListed{Infos: infos})
}
