package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Watcher WatcherConfig `yaml:"watcher"`
}

// Load loads configuration from configDir.
// Order: defaults -> config.yml -> config.local.yml -> env overrides -> validate.
func Load(configDir string) (*Config, error) {
	cfg := &Config{
		Logging: DefaultLoggingConfig(),
		Watcher: DefaultWatcherConfig(),
	}

	if err := loadFile(filepath.Join(configDir, "config.yml"), cfg); err != nil {
		return nil, err
	}
	if err := loadFile(filepath.Join(configDir, "config.local.yml"), cfg); err != nil {
		return nil, err
	}

	cfg.Logging.ApplyDefaults()
	cfg.Logging.ApplyEnvOverrides()
	cfg.Logging.ResolvePaths(configDir)
	if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	cfg.Watcher.ApplyDefaults()
	cfg.Watcher.ApplyEnvOverrides()
	if err := cfg.Watcher.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	return cfg, nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}
	return nil
}
