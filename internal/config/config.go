// Package config loads the static process-level configuration for the
// indexer: store location, listen address, batching and reconnect
// defaults, and log level. Per-chain and per-contract configuration lives
// in the external config store (pkg/store) instead, hot-reloaded at
// runtime, the same split the teacher draws between internal/config
// (process config) and its runtime ChainConfig.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chainsift/indexer/internal/constants"
)

// Config holds all static process configuration for the indexer.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Log           LogConfig           `yaml:"log"`
	API           APIConfig           `yaml:"api"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
	Listener      ListenerConfig      `yaml:"listener"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// StoreConfig selects and configures the config/event store backend.
type StoreConfig struct {
	// Backend is "pebble" or "memory". "memory" is for local dev and tests.
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	CacheMB       int    `yaml:"cache_mb"`
	WriteBufferMB int    `yaml:"write_buffer_mb"`
	MaxOpenFiles  int    `yaml:"max_open_files"`
}

// LogConfig controls the process-wide zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig controls the operator HTTP surface.
type APIConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listen_addr"`
	EnableAuth      bool          `yaml:"enable_auth"`
	APIKeys         []string      `yaml:"api_keys"`
	EnableRateLimit bool          `yaml:"enable_rate_limit"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	RateBurst       int           `yaml:"rate_burst"`
	StreamInterval  time.Duration `yaml:"stream_interval"`
}

// SupervisorConfig controls chain lifecycle management.
type SupervisorConfig struct {
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	AutoRestart         bool          `yaml:"auto_restart"`
	AutoRestartDelay    time.Duration `yaml:"auto_restart_delay"`
}

// ListenerConfig controls the shared pull/push listener defaults.
type ListenerConfig struct {
	// Pull
	ScanIntervalMs         int64 `yaml:"scan_interval_ms"`
	BlocksPerScan          int64 `yaml:"blocks_per_scan"`
	RateLimitReportEveryMs int64 `yaml:"rate_limit_report_every_ms"`

	// Push
	ContractRefreshIntervalMs int64 `yaml:"contract_refresh_interval_ms"`
	InitialBackoffMs          int64 `yaml:"initial_backoff_ms"`
	MaxBackoffMs              int64 `yaml:"max_backoff_ms"`
	MaxReconnectAttempts      int   `yaml:"max_reconnect_attempts"`
}

// DispatcherConfig controls the bounded dispatch queue.
type DispatcherConfig struct {
	MaxQueueSize      int           `yaml:"max_queue_size"`
	EnqueueTimeout    time.Duration `yaml:"enqueue_timeout"`
}

// NotificationsConfig controls the alert webhook handler.
type NotificationsConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookSecret  string        `yaml:"webhook_secret"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

// NewConfig returns a Config with every default filled in.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in every zero-valued field with its default.
func (c *Config) SetDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "pebble"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./data/indexer"
	}
	if c.Store.CacheMB == 0 {
		c.Store.CacheMB = 64
	}
	if c.Store.WriteBufferMB == 0 {
		c.Store.WriteBufferMB = 16
	}
	if c.Store.MaxOpenFiles == 0 {
		c.Store.MaxOpenFiles = 1000
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8090"
	}
	if c.API.RatePerSecond == 0 {
		c.API.RatePerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateBurst == 0 {
		c.API.RateBurst = constants.DefaultRateLimitBurst
	}
	if c.API.StreamInterval == 0 {
		c.API.StreamInterval = 5 * time.Second
	}

	if c.Supervisor.HealthCheckInterval == 0 {
		c.Supervisor.HealthCheckInterval = 30 * time.Second
	}
	if c.Supervisor.AutoRestartDelay == 0 {
		c.Supervisor.AutoRestartDelay = 30 * time.Second
	}

	if c.Listener.ScanIntervalMs == 0 {
		c.Listener.ScanIntervalMs = 5000
	}
	if c.Listener.BlocksPerScan == 0 {
		c.Listener.BlocksPerScan = 50
	}
	if c.Listener.RateLimitReportEveryMs == 0 {
		c.Listener.RateLimitReportEveryMs = 10000
	}
	if c.Listener.ContractRefreshIntervalMs == 0 {
		c.Listener.ContractRefreshIntervalMs = 30000
	}
	if c.Listener.InitialBackoffMs == 0 {
		c.Listener.InitialBackoffMs = 1000
	}
	if c.Listener.MaxBackoffMs == 0 {
		c.Listener.MaxBackoffMs = 32000
	}
	if c.Listener.MaxReconnectAttempts == 0 {
		c.Listener.MaxReconnectAttempts = 5
	}

	if c.Dispatcher.MaxQueueSize == 0 {
		c.Dispatcher.MaxQueueSize = 100000
	}
	if c.Dispatcher.EnqueueTimeout == 0 {
		c.Dispatcher.EnqueueTimeout = 5 * time.Second
	}

	if c.Notifications.WebhookTimeout == 0 {
		c.Notifications.WebhookTimeout = 10 * time.Second
	}
}

// LoadFromEnv overrides fields from environment variables, taking
// precedence over anything loaded from file.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("INDEXER_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("INDEXER_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("INDEXER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("INDEXER_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("INDEXER_API_ENABLED"); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if v := os.Getenv("INDEXER_API_LISTEN_ADDR"); v != "" {
		c.API.ListenAddr = v
	}
	if v := os.Getenv("INDEXER_API_ENABLE_AUTH"); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_ENABLE_AUTH: %w", err)
		}
		c.API.EnableAuth = val
	}
	if v := os.Getenv("INDEXER_SUPERVISOR_AUTO_RESTART"); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_SUPERVISOR_AUTO_RESTART: %w", err)
		}
		c.Supervisor.AutoRestart = val
	}
	if v := os.Getenv("SCAN_INTERVAL_MS"); v != "" {
		val, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SCAN_INTERVAL_MS: %w", err)
		}
		c.Listener.ScanIntervalMs = val
	}
	if v := os.Getenv("BLOCKS_PER_SCAN"); v != "" {
		val, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid BLOCKS_PER_SCAN: %w", err)
		}
		c.Listener.BlocksPerScan = val
	}
	if v := os.Getenv("INDEXER_WEBHOOK_URL"); v != "" {
		c.Notifications.WebhookURL = v
	}
	if v := os.Getenv("INDEXER_WEBHOOK_SECRET"); v != "" {
		c.Notifications.WebhookSecret = v
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	validBackends := map[string]bool{"pebble": true, "memory": true}
	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("invalid store backend %q, must be one of: pebble, memory", c.Store.Backend)
	}
	if c.Store.Backend == "pebble" && c.Store.Path == "" {
		return fmt.Errorf("store path is required for the pebble backend")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	if c.Listener.BlocksPerScan <= 0 {
		return fmt.Errorf("listener.blocks_per_scan must be positive")
	}
	if c.Listener.ScanIntervalMs <= 0 {
		return fmt.Errorf("listener.scan_interval_ms must be positive")
	}
	if c.Listener.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("listener.max_reconnect_attempts must be positive")
	}
	if c.Dispatcher.MaxQueueSize <= 0 {
		return fmt.Errorf("dispatcher.max_queue_size must be positive")
	}

	if c.API.Enabled && c.API.EnableAuth && len(c.API.APIKeys) == 0 {
		return fmt.Errorf("api.enable_auth is set but no api_keys are configured")
	}

	return nil
}

// Load loads configuration in the following precedence order: defaults,
// file (if provided), environment variables, then validates the result.
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
