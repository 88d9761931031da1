package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "esdb-tui.yaml", `
cluster:
  seeds: ["10.0.0.1:2113", "10.0.0.2:2113"]
  discovery: memberlist
  leader_affinity: false
  max_backoff: 10s
auth:
  username: admin
  password: changeit
subscriptions:
  watch:
    - stream: orders
      from_start: true
    - stream: payments
      revision: 42
view:
  ring_size: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.1:2113", "10.0.0.2:2113"}, cfg.Cluster.Seeds)
	assert.Equal(t, "memberlist", cfg.Cluster.Discovery)
	assert.False(t, cfg.Cluster.LeaderAffinity)
	assert.Equal(t, 10*time.Second, cfg.Cluster.MaxBackoff)
	assert.Equal(t, "admin", cfg.Auth.Username)
	require.Len(t, cfg.Subscriptions.Watch, 2)
	assert.True(t, cfg.Subscriptions.Watch[0].FromStart)
	assert.Equal(t, uint64(42), cfg.Subscriptions.Watch[1].Revision)
	assert.Equal(t, 50, cfg.View.RingSize)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Subscriptions.RetryBudget)
	assert.Equal(t, 100*time.Millisecond, cfg.View.RenderInterval)
	assert.Equal(t, "/stats", cfg.Stats.Path)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "esdb-tui.toml", `
[cluster]
seeds = ["10.0.0.1:2113"]

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "gossip", cfg.Cluster.Discovery)
}

func TestDefaultsAreValidGivenSeeds(t *testing.T) {
	cfg := Default()
	cfg.Cluster.Seeds = []string{"10.0.0.1:2113"}
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Cluster.Seeds = []string{"10.0.0.1:2113"}
		return cfg
	}

	t.Run("seeds required", func(t *testing.T) {
		cfg := valid()
		cfg.Cluster.Seeds = nil
		assert.ErrorContains(t, cfg.Validate(), "cluster.seeds")
	})

	t.Run("unknown discovery mode", func(t *testing.T) {
		cfg := valid()
		cfg.Cluster.Discovery = "dns"
		assert.ErrorContains(t, cfg.Validate(), "cluster.discovery")
	})

	t.Run("credentials must be paired", func(t *testing.T) {
		cfg := valid()
		cfg.Auth.Username = "admin"
		assert.ErrorContains(t, cfg.Validate(), "auth.username")
	})

	t.Run("watch entries need a stream", func(t *testing.T) {
		cfg := valid()
		cfg.Subscriptions.Watch = []WatchConfig{{FromStart: true}}
		assert.ErrorContains(t, cfg.Validate(), "subscriptions.watch")
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := valid()
		cfg.Log.Level = "trace"
		assert.ErrorContains(t, cfg.Validate(), "log.level")
	})
}
