package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/EventStore/esdb-tui/pkg/backoff"
	"github.com/EventStore/esdb-tui/pkg/view"
)

// Handler receives each parsed stats report.
type Handler func(queues []view.QueueStat, system view.SystemStat)

// Config controls a Feed.
type Config struct {
	// Endpoint yields the websocket URL of the stats feed for the
	// node the feed should follow. It is consulted again before
	// every reconnect so the feed tracks topology changes.
	Endpoint func() (string, error)

	// Handler receives each report. Required.
	Handler Handler

	// MaxBackoff caps the reconnect delay. Default 15s.
	MaxBackoff time.Duration

	// ReadTimeout bounds the gap between pushed reports before the
	// link is considered dead. Default 30s.
	ReadTimeout time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 15 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Feed keeps a websocket attached to the node stats endpoint and
// delivers every pushed report to the handler. The connection is
// rebuilt with jittered backoff whenever it drops; a lost report is
// harmless because the next push carries full state.
type Feed struct {
	cfg Config
	log *slog.Logger
}

func NewFeed(cfg Config) *Feed {
	cfg = cfg.withDefaults()
	return &Feed{cfg: cfg, log: cfg.Logger.With("component", "stats")}
}

// Run blocks until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	bo := backoff.New(backoff.Default(f.cfg.MaxBackoff))
	for {
		if err := f.consume(ctx, bo); err != nil && ctx.Err() == nil {
			f.log.Warn("stats feed dropped", "error", err)
		}
		if err := bo.Sleep(ctx); err != nil {
			return
		}
	}
}

// consume dials the current endpoint and pumps reports until the
// connection breaks or ctx is cancelled.
func (f *Feed) consume(ctx context.Context, bo *backoff.Backoff) error {
	url, err := f.cfg.Endpoint()
	if err != nil {
		return fmt.Errorf("resolve stats endpoint: %w", err)
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer ws.Close()

	// Unblock ReadMessage when ctx dies.
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	bo.Reset()
	f.log.Info("stats feed attached", "url", url)

	for {
		if err := ws.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout)); err != nil {
			return err
		}
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		var raw map[string]string
		if err := msgpack.Unmarshal(data, &raw); err != nil {
			f.log.Warn("discarding malformed stats report", "error", err)
			continue
		}
		queues, system := Parse(raw)
		f.cfg.Handler(queues, system)
	}
}
