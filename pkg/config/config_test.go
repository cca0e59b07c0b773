package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultsAreValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "nats url must not be empty",
			mutate: func(c *Config) { c.NATS.URL = "" },
		},
		{
			name:   "nats request timeout must be > 0",
			mutate: func(c *Config) { c.NATS.RequestTimeout = 0 },
		},
		{
			name:   "redis address must not be empty",
			mutate: func(c *Config) { c.Redis.Address = "" },
		},
		{
			name:   "redis pool size must be > 0",
			mutate: func(c *Config) { c.Redis.PoolSize = 0 },
		},
		{
			name:   "node id must not be empty",
			mutate: func(c *Config) { c.Node.ID = "" },
		},
		{
			name:   "node role must be known",
			mutate: func(c *Config) { c.Node.Role = "observer" },
		},
		{
			name:   "failover grace period must be > 0",
			mutate: func(c *Config) { c.Failover.GracePeriod = 0 },
		},
		{
			name:   "publish rate must be > 0",
			mutate: func(c *Config) { c.RateLimiting.PublishPerSecond = 0 },
		},
		{
			name:   "jaeger url required when tracing enabled",
			mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.JaegerURL = "" },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
}

func TestLoad_ReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
nats:
  url: nats://bus:4222
node:
  id: media-7
  role: producer
  forward_nodes:
    - media-8
    - media-9
failover:
  grace_period: 20s
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "media-7", cfg.Node.ID)
	assert.Equal(t, []string{"media-8", "media-9"}, cfg.Node.ForwardNodes)
	assert.Equal(t, 20*time.Second, cfg.Failover.GracePeriod)
	// untouched sections keep defaults
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WARPY_NODE_ID", "media-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "media-env", cfg.Node.ID)
}
