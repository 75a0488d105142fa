// Package config provides YAML-backed configuration for the sync core.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for the sync core. Zero values are filled from
// DefaultConfig on load, so a partial YAML file is valid.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Queue    QueueConfig    `yaml:"queue"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Cache    CacheConfig    `yaml:"cache"`
	Sync     SyncConfig     `yaml:"sync"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Conflict ConflictConfig `yaml:"conflict"`
}

// QueueConfig tunes the offline operation queue.
type QueueConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	// MaxQueued caps queued operations; 0 disables the cap.
	MaxQueued int `yaml:"max_queued"`
}

// RealtimeConfig tunes realtime channels and reconnection.
type RealtimeConfig struct {
	URL                  string `yaml:"url"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	ReconnectPreset      string `yaml:"reconnect_preset"`
	DedupLimit           int    `yaml:"dedup_limit"`
}

// CacheConfig tunes the offline cache.
type CacheConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
	// Tables lists the server tables the background loop keeps warm.
	Tables []string `yaml:"tables"`
}

// GatewayConfig points at the remote data service.
type GatewayConfig struct {
	URL       string        `yaml:"url"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ConflictConfig tunes conflict resolution.
type ConflictConfig struct {
	Strategy     string `yaml:"strategy"`
	HistoryLimit int    `yaml:"history_limit"`
}

// SyncConfig tunes the background sync loops.
type SyncConfig struct {
	Interval      time.Duration `yaml:"interval"`
	QueueInterval time.Duration `yaml:"queue_interval"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Queue: QueueConfig{
			MaxRetries: 3,
			BaseDelay:  5 * time.Second,
			MaxDelay:   5 * time.Minute,
		},
		Realtime: RealtimeConfig{
			MaxReconnectAttempts: 10,
			ReconnectPreset:      "default",
			DedupLimit:           1000,
		},
		Cache: CacheConfig{
			MaxAge: time.Hour,
		},
		Sync: SyncConfig{
			Interval:      15 * time.Minute,
			QueueInterval: time.Minute,
		},
		Gateway: GatewayConfig{
			Timeout: 30 * time.Second,
		},
		Conflict: ConflictConfig{
			Strategy:     "last_write_wins",
			HistoryLimit: 100,
		},
	}
}

// Load reads a YAML config file and merges it over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = def.Queue.MaxRetries
	}
	if c.Queue.BaseDelay <= 0 {
		c.Queue.BaseDelay = def.Queue.BaseDelay
	}
	if c.Queue.MaxDelay <= 0 {
		c.Queue.MaxDelay = def.Queue.MaxDelay
	}
	if c.Realtime.MaxReconnectAttempts <= 0 {
		c.Realtime.MaxReconnectAttempts = def.Realtime.MaxReconnectAttempts
	}
	if c.Realtime.ReconnectPreset == "" {
		c.Realtime.ReconnectPreset = def.Realtime.ReconnectPreset
	}
	if c.Realtime.DedupLimit <= 0 {
		c.Realtime.DedupLimit = def.Realtime.DedupLimit
	}
	if c.Cache.MaxAge <= 0 {
		c.Cache.MaxAge = def.Cache.MaxAge
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = def.Sync.Interval
	}
	if c.Sync.QueueInterval <= 0 {
		c.Sync.QueueInterval = def.Sync.QueueInterval
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = def.Gateway.Timeout
	}
	if c.Conflict.Strategy == "" {
		c.Conflict.Strategy = def.Conflict.Strategy
	}
	if c.Conflict.HistoryLimit <= 0 {
		c.Conflict.HistoryLimit = def.Conflict.HistoryLimit
	}
}
