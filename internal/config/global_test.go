package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmanager/internal/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"SERVER_PORT", "SERVER_HOST", "LOG_LEVEL", "POLL_INTERVAL", "PULL_IMAGES", "DATABASE_PATH", "DEVICE_NAME"} {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			os.Unsetenv(EnvPrefix + key)
			t.Cleanup(func() { os.Setenv(EnvPrefix+key, v) })
		}
	}
}

// TestXDGDirectoryCreation tests that loading never creates the config directory
func TestXDGDirectoryCreation(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("XDG_DATA_HOME", tmpDir)

	configDir := filepath.Join(tmpDir, "appmanager")

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.NotNil(t, config)

	_, err = os.Stat(filepath.Join(configDir, "config.toml"))
	assert.True(t, os.IsNotExist(err), "config.toml should not be created by LoadGlobalConfig")
}

func TestDefaultGlobalConfigGeneration(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("XDG_DATA_HOME", tmpDir)

	config, err := LoadGlobalConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 48484, config.Server.Port)
	assert.Equal(t, "127.0.0.1:48484", config.Server.Addr())
	assert.Equal(t, 30*time.Second, config.Reconciler.PollInterval.Duration)
	assert.Equal(t, 4, config.Reconciler.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, config.Reconciler.InitialBackoff.Duration)
	assert.Equal(t, 10*time.Second, config.Reconciler.StopTimeout.Duration)
	assert.True(t, config.Runtime.PullImages)
	assert.Equal(t, filepath.Join(tmpDir, "appmanager", "appmanager.db"), config.Database.Path)
	assert.NotEmpty(t, config.Device.Name, "device name falls back to the hostname")
	assert.Empty(t, config.Device.ID)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9090

[reconciler]
poll_interval = "1m"
stop_timeout = "2s"

[database]
path = "/var/lib/appmanager/state.db"

[log]
format = "json"
`), 0644))

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, time.Minute, config.Reconciler.PollInterval.Duration)
	assert.Equal(t, 2*time.Second, config.Reconciler.StopTimeout.Duration)
	assert.Equal(t, 30*time.Second, config.Reconciler.CallTimeout.Duration)
	assert.Equal(t, "/var/lib/appmanager/state.db", config.Database.Path)
	assert.Equal(t, "json", config.Log.Format)
	assert.Equal(t, "info", config.Log.Level)
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9090\n[database]\npath = \"/tmp/a.db\"\n"), 0644))

	t.Setenv("APPMANAGER_SERVER_PORT", "7070")
	t.Setenv("APPMANAGER_LOG_LEVEL", "debug")
	t.Setenv("APPMANAGER_POLL_INTERVAL", "5s")
	t.Setenv("APPMANAGER_PULL_IMAGES", "false")
	t.Setenv("APPMANAGER_DEVICE_NAME", "edge-01")

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, 5*time.Second, config.Reconciler.PollInterval.Duration)
	assert.False(t, config.Runtime.PullImages)
	assert.Equal(t, "edge-01", config.Device.Name)
}

func TestMalformedInput(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	t.Run("bad toml", func(t *testing.T) {
		path := filepath.Join(tmpDir, "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0644))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrConfigParse))
	})

	t.Run("bad duration", func(t *testing.T) {
		path := filepath.Join(tmpDir, "duration.toml")
		require.NoError(t, os.WriteFile(path, []byte("[reconciler]\npoll_interval = \"soon\"\n"), 0644))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrConfigParse))
	})

	t.Run("bad env", func(t *testing.T) {
		t.Setenv("APPMANAGER_SERVER_PORT", "eighty")
		_, err := Load(filepath.Join(tmpDir, "missing.toml"))
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrConfigValidation))
	})
}

func TestConfigFileValidationWithInvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*GlobalConfig)
		errorMsg string
	}{
		{"negative port", func(c *GlobalConfig) { c.Server.Port = -1 }, "invalid port"},
		{"port too high", func(c *GlobalConfig) { c.Server.Port = 70000 }, "invalid port"},
		{"no attempts", func(c *GlobalConfig) { c.Reconciler.MaxAttempts = 0 }, "max_attempts"},
		{"backoff inverted", func(c *GlobalConfig) { c.Reconciler.MaxBackoff = D(time.Millisecond) }, "max_backoff"},
		{"unknown level", func(c *GlobalConfig) { c.Log.Level = "trace" }, "log.level"},
		{"unknown format", func(c *GlobalConfig) { c.Log.Format = "xml" }, "log.format"},
		{"empty database path", func(c *GlobalConfig) { c.Database.Path = "" }, "database.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultGlobalConfig()
			config.Database.Path = "/tmp/appmanager.db"
			tt.mutate(config)
			err := ValidateGlobalConfig(config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}

	config := DefaultGlobalConfig()
	config.Database.Path = "/tmp/appmanager.db"
	assert.NoError(t, ValidateGlobalConfig(config))
	assert.Error(t, ValidateGlobalConfig(nil))
}

func TestGlobalConfigTomlFormat(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	config := DefaultGlobalConfig()
	config.Device.ID = "3f1c"
	config.Database.Path = "~/appmanager/state.db"
	require.NoError(t, SaveGlobalConfig(config))

	content, err := os.ReadFile(filepath.Join(tmpDir, "appmanager", "config.toml"))
	require.NoError(t, err)

	contentStr := string(content)
	assert.Contains(t, contentStr, "[device]")
	assert.Contains(t, contentStr, "[server]")
	assert.Contains(t, contentStr, "port = 48484")
	assert.Contains(t, contentStr, "[reconciler]")
	assert.Regexp(t, `poll_interval = ['"]30s['"]`, contentStr)
	assert.Contains(t, contentStr, "[runtime]")
	assert.Contains(t, contentStr, "[database]")
	assert.Contains(t, contentStr, "[log]")

	loaded, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "3f1c", loaded.Device.ID)
	homeDir, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(homeDir, "appmanager", "state.db"), loaded.Database.Path)
	assert.Equal(t, config.Reconciler, loaded.Reconciler)
}
