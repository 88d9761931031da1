package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/EventStore/esdb-tui/pkg/admin"
	"github.com/EventStore/esdb-tui/pkg/backoff"
	"github.com/EventStore/esdb-tui/pkg/config"
	"github.com/EventStore/esdb-tui/pkg/conn"
	"github.com/EventStore/esdb-tui/pkg/monitor"
	"github.com/EventStore/esdb-tui/pkg/stats"
	"github.com/EventStore/esdb-tui/pkg/subs"
	"github.com/EventStore/esdb-tui/pkg/topology"
	"github.com/EventStore/esdb-tui/pkg/transport"
	"github.com/EventStore/esdb-tui/pkg/view"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

var (
	configPath = flag.String("config", "", "config file (yaml, toml or json)")
	username   = flag.String("username", "", "cluster username")
	password   = flag.String("password", "", "cluster password")
	execCmd    = flag.String("exec", "", "run one admin command and exit, e.g. enable-projection:$by_category or replay-parked:orders:workers")

	seeds seedList
)

// Custom flag type for accumulating seed endpoints
type seedList []string

func (s *seedList) String() string { return strings.Join(*s, ",") }
func (s *seedList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		*s = append(*s, part)
	}
	return nil
}

func init() {
	flag.Var(&seeds, "seed", "seed endpoint host:port (can be repeated)")
}

func main() {
	os.Exit(run())
}

// Exit codes: 2 config error, 3 startup failure.
func run() int {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := &transport.Config{
		Credentials: transport.Credentials{
			Username: cfg.Auth.Username,
			Password: cfg.Auth.Password,
		},
		Logger: logger,
	}

	var source topology.Source
	if cfg.Cluster.Discovery == "memberlist" {
		ml := topology.NewMemberlistSource(&topology.MemberlistConfig{
			BindAddr: cfg.Cluster.Memberlist.BindAddr,
			BindPort: cfg.Cluster.Memberlist.BindPort,
			Logger:   logger,
		})
		defer ml.Close()
		source = ml
	} else {
		source = topology.NewWireSource(tcfg)
	}

	resolver := topology.NewResolver(&topology.Config{
		Seeds:           cfg.Cluster.Seeds,
		Source:          source,
		QueryTimeout:    cfg.Cluster.QueryTimeout,
		RefreshInterval: cfg.Cluster.RefreshInterval,
		Logger:          logger,
	})

	manager := conn.NewManager(&conn.Config{
		Resolver:       resolver,
		Transport:      tcfg,
		LeaderAffinity: cfg.Cluster.LeaderAffinity,
		Backoff:        backoff.Default(cfg.Cluster.MaxBackoff),
		MaxQueueDepth:  cfg.Cluster.MaxQueueDepth,
		StartupWindow:  cfg.Cluster.StartupWindow,
		Logger:         logger,
	})

	sync := view.New(&view.Config{
		RingSize:          cfg.View.RingSize,
		StalenessWindow:   cfg.View.StalenessWindow,
		BrowserDepth:      cfg.View.BrowserDepth,
		CommandHistory:    cfg.View.CommandHistory,
		MinRenderInterval: cfg.View.RenderInterval,
		Logger:            logger,
	})
	manager.OnStateChange(func(s conn.State) {
		sync.Submit(view.ConnectionChanged{State: s.String()})
	})

	registry := subs.NewRegistry(&subs.Config{
		Manager:          manager,
		RetryBudget:      cfg.Subscriptions.RetryBudget,
		CheckpointResume: cfg.Subscriptions.CheckpointResume,
		Logger:           logger,
	})
	for _, w := range cfg.Subscriptions.Watch {
		registry.Desire(watchSpec(w), sync)
	}
	if cfg.Subscriptions.Browser {
		registry.Desire(subs.Spec{Stream: "$streams", Start: subs.FromStart}, sync)
		registry.Desire(subs.Spec{Stream: wire.AllStreams, Start: subs.LiveOnly}, sync)
	}

	dispatcher := admin.NewDispatcher(admin.Config{
		Manager: manager,
		Timeout: cfg.Admin.Timeout,
		Logger:  logger,
	})

	go resolver.Run(ctx)
	go sync.Run(ctx)
	go monitor.New(monitor.Config{Manager: manager, Sink: sync, Logger: logger}).Run(ctx)
	go forwardTopology(ctx, resolver, sync, cfg.Cluster.RefreshInterval)
	go drainFeed(ctx, sync, logger)

	// One-shot mode owns the results channel; otherwise outcomes are
	// folded into the view.
	if *execCmd != "" {
		go execOnce(ctx, dispatcher, *execCmd, logger, stop)
	} else {
		go forwardResults(ctx, dispatcher, sync)
	}

	if cfg.Stats.Enabled {
		feed := stats.NewFeed(stats.Config{
			Endpoint:   statsEndpoint(resolver, cfg.Stats.Path),
			MaxBackoff: cfg.Stats.MaxBackoff,
			Logger:     logger,
			Handler: func(queues []view.QueueStat, system view.SystemStat) {
				sync.Submit(view.StatsUpdated{Queues: queues, System: system, At: time.Now()})
			},
		})
		go feed.Run(ctx)
	}

	err = manager.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, conn.ErrStartup):
		logger.Error("no node reachable within the startup window", "error", err)
		return 3
	default:
		logger.Error("connection manager failed", "error", err)
		return 1
	}
}

func loadConfig() (config.Config, error) {
	var cfg config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.Default()
	}

	if len(seeds) > 0 {
		cfg.Cluster.Seeds = seeds
	}
	if *username != "" {
		cfg.Auth.Username = *username
	}
	if *password != "" {
		cfg.Auth.Password = *password
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func watchSpec(w config.WatchConfig) subs.Spec {
	spec := subs.Spec{Stream: w.Stream}
	switch {
	case w.LiveOnly:
		spec.Start = subs.LiveOnly
	case w.FromStart || w.Revision == 0:
		spec.Start = subs.FromStart
	default:
		spec.Start = subs.FromRevision
		spec.Revision = w.Revision
	}
	return spec
}

// statsEndpoint targets the best-ranked alive node.
func statsEndpoint(resolver *topology.Resolver, path string) func() (string, error) {
	return func() (string, error) {
		candidates := resolver.Current().Candidates(false)
		if len(candidates) == 0 {
			return "", errors.New("no reachable node for stats")
		}
		return "ws://" + candidates[0] + path, nil
	}
}

// forwardTopology samples the resolver so the monitoring tab tracks
// membership even while no reconnect is in progress.
func forwardTopology(ctx context.Context, resolver *topology.Resolver, sync *view.Synchronizer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := resolver.Current()
			if len(t.Members) == 0 {
				continue
			}
			members := make([]view.MemberHealth, 0, len(t.Members))
			for _, m := range t.Members {
				members = append(members, view.MemberHealth{
					Addr:     m.Addr(),
					Role:     m.Role,
					Epoch:    m.Epoch,
					Alive:    m.Alive,
					LastSeen: m.LastSeen,
					Latency:  m.Latency,
				})
			}
			sync.Submit(view.TopologyChanged{Members: members, At: t.ObservedAt})
		}
	}
}

func forwardResults(ctx context.Context, d *admin.Dispatcher, sync *view.Synchronizer) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-d.Results():
			sync.Submit(view.CommandCompleted{Outcome: view.CommandOutcome{
				CorrelationID: res.CorrelationID,
				Op:            res.Op.String(),
				Outcome:       res.Outcome.String(),
				Detail:        res.Detail,
				CompletedAt:   res.CompletedAt,
			}})
		}
	}
}

// drainFeed stands in for the renderer: it consumes coalesced
// snapshots and reports their shape at debug level.
func drainFeed(ctx context.Context, sync *view.Synchronizer, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-sync.Feed():
			log.Debug("snapshot",
				"version", snap.Version,
				"connection", snap.ConnectionState,
				"members", len(snap.Members),
				"streams", len(snap.Streams),
				"projections", len(snap.Projections),
			)
		}
	}
}

// execOnce submits one command, waits for its outcome and shuts the
// process down.
func execOnce(ctx context.Context, d *admin.Dispatcher, raw string, log *slog.Logger, stop func()) {
	intent, err := parseIntent(raw)
	if err != nil {
		log.Error("bad -exec command", "error", err)
		stop()
		return
	}
	id, err := d.Submit(ctx, intent)
	if err != nil {
		log.Error("command rejected", "error", err)
		stop()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-d.Results():
			if res.CorrelationID != id {
				continue
			}
			log.Info("command finished",
				"op", res.Op.String(), "outcome", res.Outcome.String(), "detail", res.Detail)
			stop()
			return
		}
	}
}

// parseIntent understands "verb[:target[:group]]".
func parseIntent(raw string) (admin.Intent, error) {
	parts := strings.Split(raw, ":")
	verb := parts[0]
	arg := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	switch verb {
	case "enable-projection":
		return admin.EnableProjection{Name: arg(1)}, nil
	case "disable-projection":
		return admin.DisableProjection{Name: arg(1)}, nil
	case "reset-projection":
		return admin.ResetProjection{Name: arg(1)}, nil
	case "replay-parked":
		return admin.ReplayParkedMessages{Stream: arg(1), Group: arg(2)}, nil
	case "delete-persistent-subscription":
		return admin.DeletePersistentSubscription{Stream: arg(1), Group: arg(2)}, nil
	case "restart-subsystem":
		return admin.RestartSubsystem{Name: arg(1)}, nil
	case "resign-node":
		return admin.ResignNode{}, nil
	case "shutdown-node":
		return admin.ShutdownNode{}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", verb)
	}
}
