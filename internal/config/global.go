package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"appmanager/internal/constants"
	"appmanager/internal/errors"
	"appmanager/internal/xdg"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "APPMANAGER_"

// GlobalConfig represents the appmanager configuration
type GlobalConfig struct {
	Device     DeviceConfig     `toml:"device"`
	Server     ServerConfig     `toml:"server"`
	Reconciler ReconcilerConfig `toml:"reconciler"`
	Runtime    RuntimeConfig    `toml:"runtime"`
	Database   DatabaseConfig   `toml:"database"`
	Log        LogConfig        `toml:"log"`
}

type DeviceConfig struct {
	ID   string `toml:"id"`   // Empty means generated on first start
	Name string `toml:"name"` // Defaults to the hostname
}

type ServerConfig struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type ReconcilerConfig struct {
	PollInterval   Duration `toml:"poll_interval"`
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
	CallTimeout    Duration `toml:"call_timeout"`
	StopTimeout    Duration `toml:"stop_timeout"`
	RunHistory     int      `toml:"run_history"`
}

type RuntimeConfig struct {
	DockerHost string `toml:"docker_host"` // Empty uses DOCKER_HOST or the default socket
	PullImages bool   `toml:"pull_images"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// Duration is a time.Duration written as a string ("30s") in TOML
type Duration struct {
	time.Duration
}

// D wraps d
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// DefaultGlobalConfig returns the default configuration
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Server: ServerConfig{
			Host:            constants.DefaultServerHost,
			Port:            constants.DefaultServerPort,
			ReadTimeout:     D(constants.DefaultServerReadTimeout),
			WriteTimeout:    D(constants.DefaultServerWriteTimeout),
			ShutdownTimeout: D(constants.DefaultServerShutdownTimeout),
		},
		Reconciler: ReconcilerConfig{
			PollInterval:   D(constants.DefaultPollInterval),
			MaxAttempts:    constants.DefaultMaxAttempts,
			InitialBackoff: D(constants.DefaultInitialBackoff),
			MaxBackoff:     D(constants.DefaultMaxBackoff),
			CallTimeout:    D(constants.DefaultCallTimeout),
			StopTimeout:    D(constants.DefaultStopTimeout),
			RunHistory:     constants.DefaultRunHistory,
		},
		Runtime: RuntimeConfig{
			PullImages: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// GetConfigDir returns the XDG config directory for appmanager
func GetConfigDir() (string, error) {
	return xdg.ConfigDir()
}

// LoadGlobalConfig loads config.toml from the XDG config directory
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := xdg.ConfigFile()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Load reads the configuration at path. A missing file yields defaults.
// Environment overrides are applied last, then the result is validated.
func Load(path string) (*GlobalConfig, error) {
	config := DefaultGlobalConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrap(errors.ErrConfigInvalid, "Failed to read configuration", err).
			WithContext("path", path)
	default:
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, errors.ConfigParseError(err).WithContext("path", path)
		}
	}

	if err := applyEnv(config, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	if err := ValidateGlobalConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveGlobalConfig saves the configuration to the XDG config directory
func SaveGlobalConfig(config *GlobalConfig) error {
	path, err := xdg.ConfigFile()
	if err != nil {
		return err
	}
	return config.Save(path)
}

// Save saves the configuration to the specified path
func (g *GlobalConfig) Save(path string) error {
	data, err := toml.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return os.WriteFile(path, data, constants.FilePermissions)
}

// Addr is the listen address of the device API
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// applyDefaults fills values a partial file left empty
func (g *GlobalConfig) applyDefaults() error {
	defaults := DefaultGlobalConfig()

	if g.Device.Name == "" {
		if host, err := os.Hostname(); err == nil {
			g.Device.Name = host
		}
	}
	if g.Server.Host == "" {
		g.Server.Host = defaults.Server.Host
	}
	if g.Server.Port == 0 {
		g.Server.Port = defaults.Server.Port
	}
	if g.Reconciler.MaxAttempts == 0 {
		g.Reconciler.MaxAttempts = defaults.Reconciler.MaxAttempts
	}
	if g.Reconciler.RunHistory == 0 {
		g.Reconciler.RunHistory = defaults.Reconciler.RunHistory
	}
	for _, d := range []struct{ v, def *Duration }{
		{&g.Server.ReadTimeout, &defaults.Server.ReadTimeout},
		{&g.Server.WriteTimeout, &defaults.Server.WriteTimeout},
		{&g.Server.ShutdownTimeout, &defaults.Server.ShutdownTimeout},
		{&g.Reconciler.PollInterval, &defaults.Reconciler.PollInterval},
		{&g.Reconciler.InitialBackoff, &defaults.Reconciler.InitialBackoff},
		{&g.Reconciler.MaxBackoff, &defaults.Reconciler.MaxBackoff},
		{&g.Reconciler.CallTimeout, &defaults.Reconciler.CallTimeout},
		{&g.Reconciler.StopTimeout, &defaults.Reconciler.StopTimeout},
	} {
		if d.v.Duration == 0 {
			*d.v = *d.def
		}
	}
	if g.Log.Level == "" {
		g.Log.Level = defaults.Log.Level
	}
	if g.Log.Format == "" {
		g.Log.Format = defaults.Log.Format
	}

	if g.Database.Path == "" {
		path, err := xdg.DatabasePath()
		if err != nil {
			return err
		}
		g.Database.Path = path
	}
	return expandPaths(g)
}

// applyEnv overrides file values with APPMANAGER_* variables
func applyEnv(g *GlobalConfig, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DEVICE_ID":     &g.Device.ID,
		"DEVICE_NAME":   &g.Device.Name,
		"SERVER_HOST":   &g.Server.Host,
		"DOCKER_HOST":   &g.Runtime.DockerHost,
		"DATABASE_PATH": &g.Database.Path,
		"LOG_LEVEL":     &g.Log.Level,
		"LOG_FORMAT":    &g.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_PORT":  &g.Server.Port,
		"MAX_ATTEMPTS": &g.Reconciler.MaxAttempts,
		"RUN_HISTORY":  &g.Reconciler.RunHistory,
	}
	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.ConfigValidationError(EnvPrefix+key, "must be an integer")
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"POLL_INTERVAL": &g.Reconciler.PollInterval,
		"CALL_TIMEOUT":  &g.Reconciler.CallTimeout,
		"STOP_TIMEOUT":  &g.Reconciler.StopTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(EnvPrefix + key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return errors.ConfigValidationError(EnvPrefix+key, err.Error())
			}
		}
	}

	if v, ok := lookup(EnvPrefix + "PULL_IMAGES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.ConfigValidationError(EnvPrefix+"PULL_IMAGES", "must be a boolean")
		}
		g.Runtime.PullImages = b
	}
	return nil
}

// ValidateGlobalConfig validates the configuration
func ValidateGlobalConfig(config *GlobalConfig) error {
	if config == nil {
		return errors.ConfigInvalid("config cannot be nil")
	}

	if config.Server.Port < constants.MinPortNumber || config.Server.Port > constants.MaxPortNumber {
		return errors.ConfigValidationError("server.port", fmt.Sprintf("invalid port: %d", config.Server.Port))
	}
	if config.Reconciler.MaxAttempts < 1 {
		return errors.ConfigValidationError("reconciler.max_attempts", "must be at least 1")
	}
	if config.Reconciler.RunHistory < 1 {
		return errors.ConfigValidationError("reconciler.run_history", "must be at least 1")
	}
	if config.Reconciler.MaxBackoff.Duration < config.Reconciler.InitialBackoff.Duration {
		return errors.ConfigValidationError("reconciler.max_backoff", "must not be below initial_backoff")
	}
	for name, d := range map[string]Duration{
		"reconciler.poll_interval": config.Reconciler.PollInterval,
		"reconciler.call_timeout":  config.Reconciler.CallTimeout,
		"reconciler.stop_timeout":  config.Reconciler.StopTimeout,
	} {
		if d.Duration < 0 {
			return errors.ConfigValidationError(name, "must not be negative")
		}
	}

	switch config.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.ConfigValidationError("log.level", fmt.Sprintf("unknown level %q", config.Log.Level))
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		return errors.ConfigValidationError("log.format", fmt.Sprintf("unknown format %q", config.Log.Format))
	}

	if config.Database.Path == "" {
		return errors.ConfigValidationError("database.path", "cannot be empty")
	}
	return nil
}

// expandPaths expands tilde paths in the configuration
func expandPaths(config *GlobalConfig) error {
	if !strings.HasPrefix(config.Database.Path, "~/") {
		return nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	config.Database.Path = filepath.Join(homeDir, config.Database.Path[2:])
	return nil
}
