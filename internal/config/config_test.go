package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "pebble", cfg.Store.Backend)
	assert.Equal(t, int64(50), cfg.Listener.BlocksPerScan)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name: "valid config",
			config: &Config{
				Store:      StoreConfig{Backend: "pebble", Path: "/tmp/indexer-test"},
				Log:        LogConfig{Level: "info", Format: "json"},
				Listener:   ListenerConfig{BlocksPerScan: 1000, ScanIntervalMs: 3000, MaxReconnectAttempts: 5},
				Dispatcher: DispatcherConfig{MaxQueueSize: 100000},
			},
		},
		{
			name: "invalid backend",
			config: &Config{
				Store:      StoreConfig{Backend: "redis", Path: "/tmp/x"},
				Log:        LogConfig{Level: "info", Format: "json"},
				Listener:   ListenerConfig{BlocksPerScan: 1000, ScanIntervalMs: 3000, MaxReconnectAttempts: 5},
				Dispatcher: DispatcherConfig{MaxQueueSize: 100000},
			},
			wantErr: "invalid store backend",
		},
		{
			name: "missing pebble path",
			config: &Config{
				Store:      StoreConfig{Backend: "pebble"},
				Log:        LogConfig{Level: "info", Format: "json"},
				Listener:   ListenerConfig{BlocksPerScan: 1000, ScanIntervalMs: 3000, MaxReconnectAttempts: 5},
				Dispatcher: DispatcherConfig{MaxQueueSize: 100000},
			},
			wantErr: "store path is required",
		},
		{
			name: "invalid log level",
			config: &Config{
				Store:      StoreConfig{Backend: "pebble", Path: "/tmp/x"},
				Log:        LogConfig{Level: "verbose", Format: "json"},
				Listener:   ListenerConfig{BlocksPerScan: 1000, ScanIntervalMs: 3000, MaxReconnectAttempts: 5},
				Dispatcher: DispatcherConfig{MaxQueueSize: 100000},
			},
			wantErr: "invalid log level",
		},
		{
			name: "invalid blocks per scan",
			config: &Config{
				Store:      StoreConfig{Backend: "pebble", Path: "/tmp/x"},
				Log:        LogConfig{Level: "info", Format: "json"},
				Listener:   ListenerConfig{BlocksPerScan: 0, ScanIntervalMs: 3000, MaxReconnectAttempts: 5},
				Dispatcher: DispatcherConfig{MaxQueueSize: 100000},
			},
			wantErr: "blocks_per_scan must be positive",
		},
		{
			name: "auth enabled without keys",
			config: &Config{
				Store:      StoreConfig{Backend: "pebble", Path: "/tmp/x"},
				Log:        LogConfig{Level: "info", Format: "json"},
				Listener:   ListenerConfig{BlocksPerScan: 1000, ScanIntervalMs: 3000, MaxReconnectAttempts: 5},
				Dispatcher: DispatcherConfig{MaxQueueSize: 100000},
				API:        APIConfig{Enabled: true, EnableAuth: true},
			},
			wantErr: "no api_keys are configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("INDEXER_STORE_BACKEND", "memory")
	t.Setenv("INDEXER_LOG_LEVEL", "debug")
	t.Setenv("INDEXER_LOG_FORMAT", "console")
	t.Setenv("SCAN_INTERVAL_MS", "500")
	t.Setenv("BLOCKS_PER_SCAN", "250")

	cfg := NewConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, int64(500), cfg.Listener.ScanIntervalMs)
	assert.Equal(t, int64(250), cfg.Listener.BlocksPerScan)
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
store:
  backend: pebble
  path: /tmp/test-db

log:
  level: warn
  format: json

listener:
  blocks_per_scan: 750
  scan_interval_ms: 2000
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	cfg := NewConfig()
	require.NoError(t, cfg.LoadFromFile(configFile))

	assert.Equal(t, "/tmp/test-db", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, int64(750), cfg.Listener.BlocksPerScan)
}

func TestLoadFromFileNotFound(t *testing.T) {
	cfg := NewConfig()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "invalid.yaml")

	require.NoError(t, os.WriteFile(configFile, []byte("store:\n  backend: [broken\n"), 0644))

	cfg := NewConfig()
	err := cfg.LoadFromFile(configFile)
	assert.Error(t, err)
}

func TestConfigPriority(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
store:
  backend: pebble
  path: /file/db

log:
  level: info
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	t.Setenv("INDEXER_STORE_BACKEND", "memory")

	cfg := NewConfig()
	require.NoError(t, cfg.LoadFromFile(configFile))
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "memory", cfg.Store.Backend, "env overrides file")
	assert.Equal(t, "/file/db", cfg.Store.Path, "file value kept when no env override")
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "pebble", cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Listener.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.Notifications.WebhookTimeout)
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
store:
  backend: pebble
  path: /tmp/test-db

log:
  level: info
  format: json
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test-db", cfg.Store.Path)
}

func TestLoadInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
store:
  backend: not-a-backend
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	_, err := Load(configFile)
	assert.Error(t, err)
}

func TestLoadWithDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "pebble", cfg.Store.Backend)
}

func TestLoadWithEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
store:
  backend: pebble
  path: /file/db

log:
  level: info
  format: json
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	t.Setenv("INDEXER_STORE_BACKEND", "memory")

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestValidateInvalidLogLevel(t *testing.T) {
	cfg := &Config{
		Store:      StoreConfig{Backend: "pebble", Path: "/tmp/test"},
		Log:        LogConfig{Level: "invalid", Format: "json"},
		Listener:   ListenerConfig{BlocksPerScan: 1000, ScanIntervalMs: 3000, MaxReconnectAttempts: 5},
		Dispatcher: DispatcherConfig{MaxQueueSize: 100000},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateInvalidLogFormat(t *testing.T) {
	cfg := &Config{
		Store:      StoreConfig{Backend: "pebble", Path: "/tmp/test"},
		Log:        LogConfig{Level: "info", Format: "invalid"},
		Listener:   ListenerConfig{BlocksPerScan: 1000, ScanIntervalMs: 3000, MaxReconnectAttempts: 5},
		Dispatcher: DispatcherConfig{MaxQueueSize: 100000},
	}
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnvInvalidScanInterval(t *testing.T) {
	t.Setenv("SCAN_INTERVAL_MS", "not-a-number")

	cfg := NewConfig()
	err := cfg.LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadFromEnvInvalidAPIEnabled(t *testing.T) {
	t.Setenv("INDEXER_API_ENABLED", "not-a-bool")

	cfg := NewConfig()
	err := cfg.LoadFromEnv()
	assert.Error(t, err)
}
