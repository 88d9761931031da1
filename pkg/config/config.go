// Package config loads the client configuration from a file with
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Cluster       ClusterConfig       `mapstructure:"cluster"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Subscriptions SubscriptionsConfig `mapstructure:"subscriptions"`
	View          ViewConfig          `mapstructure:"view"`
	Stats         StatsConfig         `mapstructure:"stats"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Log           LogConfig           `mapstructure:"log"`
}

type ClusterConfig struct {
	// Seeds are host:port endpoints used for topology discovery.
	Seeds []string `mapstructure:"seeds"`

	// Discovery selects how topology is learned: "gossip" queries
	// the seeds' gossip endpoint, "memberlist" joins the cluster
	// mesh as a non-voting observer.
	Discovery string `mapstructure:"discovery"`

	// LeaderAffinity prefers the leader when picking a node to
	// connect to.
	LeaderAffinity bool `mapstructure:"leader_affinity"`

	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	// StartupWindow bounds how long the very first connection may
	// take before startup is declared failed.
	StartupWindow time.Duration `mapstructure:"startup_window"`

	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// MaxQueueDepth bounds operations queued while disconnected.
	MaxQueueDepth int `mapstructure:"max_queue_depth"`

	Memberlist MemberlistConfig `mapstructure:"memberlist"`
}

type MemberlistConfig struct {
	BindAddr string `mapstructure:"bind_addr"`
	BindPort int    `mapstructure:"bind_port"`
}

type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type SubscriptionsConfig struct {
	// Watch lists the streams kept under live subscription.
	Watch []WatchConfig `mapstructure:"watch"`

	// Browser also subscribes to $streams and $all to keep the
	// recently-created and recently-changed stream lists fresh.
	Browser bool `mapstructure:"browser"`

	// CheckpointResume resumes dropped subscriptions from the last
	// checkpoint instead of their original start position.
	CheckpointResume bool `mapstructure:"checkpoint_resume"`

	// RetryBudget is the number of consecutive failed resubscribe
	// attempts before a subscription is marked failed.
	RetryBudget int `mapstructure:"retry_budget"`
}

type WatchConfig struct {
	Stream   string `mapstructure:"stream"`
	LiveOnly bool   `mapstructure:"live_only"`

	// Revision starts the subscription after a specific revision.
	// Ignored when FromStart or LiveOnly is set.
	FromStart bool   `mapstructure:"from_start"`
	Revision  uint64 `mapstructure:"revision"`
}

type ViewConfig struct {
	// RingSize bounds the retained events per watched stream.
	RingSize int `mapstructure:"ring_size"`

	// StalenessWindow prunes cluster members not seen within it.
	StalenessWindow time.Duration `mapstructure:"staleness_window"`

	// BrowserDepth bounds the recently created/changed stream lists.
	BrowserDepth int `mapstructure:"browser_depth"`

	// CommandHistory bounds retained command outcomes.
	CommandHistory int `mapstructure:"command_history"`

	// RenderInterval is the minimum gap between published snapshots.
	RenderInterval time.Duration `mapstructure:"render_interval"`
}

type StatsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Path is the websocket path of the node stats feed.
	Path string `mapstructure:"path"`

	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

type AdminConfig struct {
	// Timeout bounds each administrative command before a timeout
	// outcome is synthesized.
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("esdbtui")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given. The
// seeds still have to come from somewhere, typically a flag.
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("defaults do not unmarshal: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cluster.discovery", "gossip")
	v.SetDefault("cluster.leader_affinity", true)
	v.SetDefault("cluster.query_timeout", "3s")
	v.SetDefault("cluster.refresh_interval", "5s")
	v.SetDefault("cluster.startup_window", "30s")
	v.SetDefault("cluster.max_backoff", "30s")
	v.SetDefault("cluster.max_queue_depth", 64)
	v.SetDefault("subscriptions.browser", true)
	v.SetDefault("subscriptions.checkpoint_resume", true)
	v.SetDefault("subscriptions.retry_budget", 5)
	v.SetDefault("view.ring_size", 100)
	v.SetDefault("view.staleness_window", "1m")
	v.SetDefault("view.browser_depth", 20)
	v.SetDefault("view.command_history", 32)
	v.SetDefault("view.render_interval", "100ms")
	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.path", "/stats")
	v.SetDefault("stats.max_backoff", "15s")
	v.SetDefault("admin.timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func (c Config) Validate() error {
	if len(c.Cluster.Seeds) == 0 {
		return fmt.Errorf("cluster.seeds is required")
	}
	switch c.Cluster.Discovery {
	case "gossip", "memberlist":
	default:
		return fmt.Errorf("cluster.discovery must be gossip or memberlist, got %q", c.Cluster.Discovery)
	}
	if (c.Auth.Username == "") != (c.Auth.Password == "") {
		return fmt.Errorf("auth.username and auth.password must be set together")
	}
	if c.Subscriptions.RetryBudget < 0 {
		return fmt.Errorf("subscriptions.retry_budget must not be negative")
	}
	for i, w := range c.Subscriptions.Watch {
		if w.Stream == "" {
			return fmt.Errorf("subscriptions.watch[%d].stream is required", i)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
