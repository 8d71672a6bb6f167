package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"feedwatch/internal/watcher/filter"
)

// WatcherConfig holds configuration for the change feed watcher.
type WatcherConfig struct {
	// Source database configuration
	Mongo MongoConfig `yaml:"mongo"`

	// Server-side event filtering
	Filter filter.Spec `yaml:"filter"`

	// Checkpoint persistence configuration
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Reconnect backoff configuration
	Backoff BackoffConfig `yaml:"backoff"`

	// Bootstrap configuration
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// Handler error policy: "continue" or "abort"
	HandlerPolicy string `yaml:"handler_policy"`

	// RunDuration bounds the run; zero means run until signalled.
	RunDuration time.Duration `yaml:"run_duration"`

	// Observability configuration
	Metrics MetricsConfig `yaml:"metrics"`
}

// MongoConfig holds the change feed source connection settings.
type MongoConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// CheckpointConfig holds checkpoint persistence configuration.
type CheckpointConfig struct {
	// Backend type: "memory", "mongodb" or "nats"
	Backend string `yaml:"backend"`

	// WatcherID keys checkpoints in shared backends
	WatcherID string `yaml:"watcher_id"`

	// Time-based checkpoint interval
	Interval time.Duration `yaml:"interval"`

	// Event-based checkpoint count
	EventCount int `yaml:"event_count"`

	// Save a final checkpoint on clean shutdown
	OnShutdown bool `yaml:"on_shutdown"`

	// Backend-specific settings
	Mongo CheckpointMongoConfig `yaml:"mongo"`
	NATS  CheckpointNATSConfig  `yaml:"nats"`
}

// CheckpointMongoConfig holds mongodb checkpoint backend settings.
type CheckpointMongoConfig struct {
	Collection string `yaml:"collection"`
}

// CheckpointNATSConfig holds NATS JetStream checkpoint backend settings.
type CheckpointNATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// BackoffConfig holds reconnect backoff configuration.
type BackoffConfig struct {
	BaseDelay           time.Duration `yaml:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	MaxAttempts         int           `yaml:"max_attempts"`
	RandomizationFactor float64       `yaml:"randomization_factor"`
}

// BootstrapConfig holds first-run configuration.
type BootstrapConfig struct {
	// Bootstrap mode: "from_now" or "from_beginning"
	Mode string `yaml:"mode"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// DefaultWatcherConfig returns sensible defaults for WatcherConfig.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "app",
			Collection: "documents",
			Timeout:    10 * time.Second,
		},
		Checkpoint: CheckpointConfig{
			Backend:    "memory",
			WatcherID:  "default",
			Interval:   1 * time.Second,
			EventCount: 1000,
			OnShutdown: true,
			Mongo: CheckpointMongoConfig{
				Collection: "_feedwatch_checkpoints",
			},
			NATS: CheckpointNATSConfig{
				URL:    "nats://localhost:4222",
				Bucket: "feedwatch_checkpoints",
			},
		},
		Backoff: BackoffConfig{
			BaseDelay:           500 * time.Millisecond,
			MaxDelay:            30 * time.Second,
			MaxAttempts:         10,
			RandomizationFactor: 0.5,
		},
		Bootstrap: BootstrapConfig{
			Mode: "from_now",
		},
		HandlerPolicy: "continue",
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// ApplyDefaults fills in missing values with defaults.
func (c *WatcherConfig) ApplyDefaults() {
	def := DefaultWatcherConfig()

	if c.Mongo.Timeout == 0 {
		c.Mongo.Timeout = def.Mongo.Timeout
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = def.Checkpoint.Backend
	}
	if c.Checkpoint.WatcherID == "" {
		c.Checkpoint.WatcherID = def.Checkpoint.WatcherID
	}
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = def.Checkpoint.Interval
	}
	if c.Checkpoint.EventCount == 0 {
		c.Checkpoint.EventCount = def.Checkpoint.EventCount
	}
	if c.Checkpoint.Mongo.Collection == "" {
		c.Checkpoint.Mongo.Collection = def.Checkpoint.Mongo.Collection
	}
	if c.Checkpoint.NATS.Bucket == "" {
		c.Checkpoint.NATS.Bucket = def.Checkpoint.NATS.Bucket
	}
	if c.Backoff.BaseDelay == 0 {
		c.Backoff.BaseDelay = def.Backoff.BaseDelay
	}
	if c.Backoff.MaxDelay == 0 {
		c.Backoff.MaxDelay = def.Backoff.MaxDelay
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff.MaxAttempts = def.Backoff.MaxAttempts
	}
	if c.Bootstrap.Mode == "" {
		c.Bootstrap.Mode = def.Bootstrap.Mode
	}
	if c.HandlerPolicy == "" {
		c.HandlerPolicy = def.HandlerPolicy
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = def.Metrics.Port
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *WatcherConfig) ApplyEnvOverrides() {
	if v := os.Getenv("FEEDWATCH_MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("FEEDWATCH_MONGO_DATABASE"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("FEEDWATCH_MONGO_COLLECTION"); v != "" {
		c.Mongo.Collection = v
	}
	if v := os.Getenv("FEEDWATCH_NATS_URL"); v != "" {
		c.Checkpoint.NATS.URL = v
	}
	if v := os.Getenv("FEEDWATCH_WATCHER_ID"); v != "" {
		c.Checkpoint.WatcherID = v
	}
}

// Validate validates the WatcherConfig.
func (c *WatcherConfig) Validate() error {
	if c.Mongo.URI == "" {
		return errors.New("watcher.mongo.uri is required")
	}
	if c.Mongo.Database == "" {
		return errors.New("watcher.mongo.database is required")
	}
	if c.Mongo.Collection == "" {
		return errors.New("watcher.mongo.collection is required")
	}

	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("watcher.filter: %w", err)
	}

	switch c.Checkpoint.Backend {
	case "memory", "mongodb", "nats":
	default:
		return fmt.Errorf("watcher.checkpoint.backend must be 'memory', 'mongodb' or 'nats', got %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Backend == "nats" && c.Checkpoint.NATS.URL == "" {
		return errors.New("watcher.checkpoint.nats.url is required for the nats backend")
	}
	if c.Checkpoint.Interval <= 0 {
		return errors.New("watcher.checkpoint.interval must be positive")
	}
	if c.Checkpoint.EventCount <= 0 {
		return errors.New("watcher.checkpoint.event_count must be positive")
	}

	if c.Backoff.BaseDelay <= 0 {
		return errors.New("watcher.backoff.base_delay must be positive")
	}
	if c.Backoff.MaxDelay < c.Backoff.BaseDelay {
		return errors.New("watcher.backoff.max_delay must be at least base_delay")
	}
	if c.Backoff.MaxAttempts <= 0 {
		return errors.New("watcher.backoff.max_attempts must be positive")
	}
	if c.Backoff.RandomizationFactor < 0 || c.Backoff.RandomizationFactor > 1 {
		return errors.New("watcher.backoff.randomization_factor must be in [0, 1]")
	}

	if c.Bootstrap.Mode != "from_now" && c.Bootstrap.Mode != "from_beginning" {
		return fmt.Errorf("watcher.bootstrap.mode must be 'from_now' or 'from_beginning', got %q", c.Bootstrap.Mode)
	}

	if c.HandlerPolicy != "continue" && c.HandlerPolicy != "abort" {
		return fmt.Errorf("watcher.handler_policy must be 'continue' or 'abort', got %q", c.HandlerPolicy)
	}

	if c.RunDuration < 0 {
		return errors.New("watcher.run_duration cannot be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return errors.New("watcher.metrics.port must be positive")
	}

	return nil
}
