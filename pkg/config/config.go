package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	NATS struct {
		URL            string        `yaml:"url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"nats"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Node struct {
		ID           string   `yaml:"id"`
		Role         string   `yaml:"role"` // producer | consumer | both
		ForwardNodes []string `yaml:"forward_nodes"`
	} `yaml:"node"`

	Failover struct {
		GracePeriod time.Duration `yaml:"grace_period"`
	} `yaml:"failover"`

	HTTP struct {
		Address         string        `yaml:"address"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Auth struct {
		MediaTokenSecret string `yaml:"media_token_secret"`
	} `yaml:"auth"`

	RateLimiting struct {
		PublishPerSecond float64 `yaml:"publish_per_second"`
		PublishBurst     int     `yaml:"publish_burst"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled   bool   `yaml:"enabled"`
		JaegerURL string `yaml:"jaeger_url"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url must not be empty")
	}
	if c.NATS.RequestTimeout <= 0 {
		return fmt.Errorf("nats.request_timeout must be > 0")
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty")
	}
	if c.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis.pool_size must be > 0")
	}

	if c.Node.ID == "" {
		return fmt.Errorf("node.id must not be empty")
	}
	switch c.Node.Role {
	case "producer", "consumer", "both":
	default:
		return fmt.Errorf("node.role must be producer, consumer or both")
	}

	if c.Failover.GracePeriod <= 0 {
		return fmt.Errorf("failover.grace_period must be > 0")
	}

	if c.HTTP.Address == "" {
		return fmt.Errorf("http.address must not be empty")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout must be > 0")
	}

	if c.Auth.MediaTokenSecret == "" {
		return fmt.Errorf("auth.media_token_secret must not be empty")
	}

	if c.RateLimiting.PublishPerSecond <= 0 {
		return fmt.Errorf("rate_limiting.publish_per_second must be > 0")
	}
	if c.RateLimiting.PublishBurst <= 0 {
		return fmt.Errorf("rate_limiting.publish_burst must be > 0")
	}

	if c.Tracing.Enabled && c.Tracing.JaegerURL == "" {
		return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.RequestTimeout = 5 * time.Second

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Node.ID = "media-0"
	cfg.Node.Role = "both"

	cfg.Failover.GracePeriod = 15 * time.Second

	cfg.HTTP.Address = ":8080"
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Auth.MediaTokenSecret = "change-me-in-production"

	cfg.RateLimiting.PublishPerSecond = 5
	cfg.RateLimiting.PublishBurst = 10

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("WARPY_NATS_URL"); url != "" {
		c.NATS.URL = url
	}
	if addr := os.Getenv("WARPY_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if node := os.Getenv("WARPY_NODE_ID"); node != "" {
		c.Node.ID = node
	}
	if level := os.Getenv("WARPY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("WARPY_MEDIA_TOKEN_SECRET"); secret != "" {
		c.Auth.MediaTokenSecret = secret
	}
}
