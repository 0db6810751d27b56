package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/lnlab/internal/shell/logs"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
	"github.com/artpar/lnlab/internal/shell/portalloc"
	"github.com/artpar/lnlab/internal/shell/workers"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Log        LogConfig        `mapstructure:"log"`
	Ports      PortsConfig      `mapstructure:"ports"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Logs       LogsConfig       `mapstructure:"logs"`
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PortsConfig bounds the host ports handed out to nodes.
type PortsConfig struct {
	Start   int `mapstructure:"start"`
	Ceiling int `mapstructure:"ceiling"`
}

// LifecycleConfig holds node lifecycle timings and limits.
type LifecycleConfig struct {
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval     time.Duration `mapstructure:"probe_interval"`
	DependencyTimeout time.Duration `mapstructure:"dependency_timeout"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	RestartAttempts   int           `mapstructure:"restart_attempts"`
}

// ReconcilerConfig holds the background reconciler schedule.
type ReconcilerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// LogsConfig holds log streaming settings.
type LogsConfig struct {
	Tail       int `mapstructure:"tail"`
	BufferSize int `mapstructure:"buffer_size"`
}

// DefaultsConfig holds the topology used when create omits counts.
type DefaultsConfig struct {
	BitcoinNodes   int    `mapstructure:"bitcoind_nodes"`
	LightningNodes int    `mapstructure:"lnd_nodes"`
	AliasPrefix    string `mapstructure:"alias_prefix"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8484)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s") // log streams stay open
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.path", defaultDatabasePath())
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("ports.start", portalloc.DefaultStart)
	v.SetDefault("ports.ceiling", portalloc.DefaultCeiling)

	lc := orchestrator.DefaultConfig()
	v.SetDefault("lifecycle.stop_timeout", lc.StopTimeout.String())
	v.SetDefault("lifecycle.probe_timeout", lc.ProbeTimeout.String())
	v.SetDefault("lifecycle.probe_interval", lc.ProbeInterval.String())
	v.SetDefault("lifecycle.dependency_timeout", lc.DependencyTimeout.String())
	v.SetDefault("lifecycle.max_parallel", lc.MaxParallel)
	v.SetDefault("lifecycle.restart_attempts", lc.RestartAttempts)

	rc := workers.DefaultReconcilerConfig()
	v.SetDefault("reconciler.interval", rc.Interval.String())
	v.SetDefault("reconciler.initial_backoff", rc.InitialBackoff.String())
	v.SetDefault("reconciler.max_backoff", rc.MaxBackoff.String())

	v.SetDefault("logs.tail", 100)
	v.SetDefault("logs.buffer_size", logs.DefaultConfig().BufferSize)

	v.SetDefault("defaults.bitcoind_nodes", 1)
	v.SetDefault("defaults.lnd_nodes", 2)
	v.SetDefault("defaults.alias_prefix", lc.AliasPrefix)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("LNLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".lnlab", "lnlab.db")
	}
	return filepath.Join(home, ".lnlab", "lnlab.db")
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Ports.Start < 1 || c.Ports.Start > portalloc.DefaultCeiling {
		errs = append(errs, fmt.Errorf("ports.start %d out of range", c.Ports.Start))
	}
	if c.Ports.Ceiling < c.Ports.Start || c.Ports.Ceiling > portalloc.DefaultCeiling {
		errs = append(errs, fmt.Errorf("ports.ceiling %d must be between ports.start and %d", c.Ports.Ceiling, portalloc.DefaultCeiling))
	}
	if c.Lifecycle.MaxParallel < 1 {
		errs = append(errs, errors.New("lifecycle.max_parallel must be at least 1"))
	}
	if c.Lifecycle.RestartAttempts < 1 {
		errs = append(errs, errors.New("lifecycle.restart_attempts must be at least 1"))
	}
	if c.Reconciler.Interval <= 0 {
		errs = append(errs, errors.New("reconciler.interval must be positive"))
	}
	if c.Logs.Tail < 0 {
		errs = append(errs, errors.New("logs.tail must not be negative"))
	}
	if c.Defaults.BitcoinNodes < 0 || c.Defaults.LightningNodes < 0 {
		errs = append(errs, errors.New("defaults node counts must not be negative"))
	}
	return errors.Join(errs...)
}

// OrchestratorConfig maps the lifecycle and logs sections.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.StopTimeout = c.Lifecycle.StopTimeout
	oc.ProbeTimeout = c.Lifecycle.ProbeTimeout
	oc.ProbeInterval = c.Lifecycle.ProbeInterval
	oc.DependencyTimeout = c.Lifecycle.DependencyTimeout
	oc.MaxParallel = c.Lifecycle.MaxParallel
	oc.RestartAttempts = c.Lifecycle.RestartAttempts
	oc.InitialBackoff = c.Reconciler.InitialBackoff
	oc.MaxBackoff = c.Reconciler.MaxBackoff
	oc.AliasPrefix = c.Defaults.AliasPrefix
	oc.Logs = logs.Config{
		Tail:       fmt.Sprint(c.Logs.Tail),
		BufferSize: c.Logs.BufferSize,
	}
	return oc
}

// WorkerConfig maps the reconciler section.
func (c *Config) WorkerConfig() workers.ReconcilerConfig {
	return workers.ReconcilerConfig{
		Interval:       c.Reconciler.Interval,
		InitialBackoff: c.Reconciler.InitialBackoff,
		MaxBackoff:     c.Reconciler.MaxBackoff,
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
