package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DataDir  string         `mapstructure:"data_dir"`
	Database DatabaseConfig `mapstructure:"database"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Bakes    BakesConfig    `mapstructure:"bakes"`
	Runs     RunsConfig     `mapstructure:"runs"`
	Nodes    NodesConfig    `mapstructure:"nodes"`
	Stats    StatsConfig    `mapstructure:"stats"`
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

// DatabaseConfig holds database configuration. An empty DSN derives the
// database path from data_dir.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds local Docker daemon configuration.
type DockerConfig struct {
	// Enabled connects to the local daemon at startup. Disable it for
	// setups that bake exclusively on remote nodes.
	Enabled bool `mapstructure:"enabled"`

	// Host overrides the daemon address (e.g. tcp://...). Empty uses the
	// environment default.
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	// Token guards /api/v1 as a static bearer token. Empty leaves the API
	// open (local development).
	Token string `mapstructure:"token"`
}

// BakesConfig holds bake queue configuration.
type BakesConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`

	// ScriptRoot is the directory recipe script paths resolve against.
	ScriptRoot string `mapstructure:"script_root"`

	// MaxPerNode caps concurrent bakes placed on a single remote node.
	MaxPerNode int `mapstructure:"max_per_node"`
}

// RunsConfig holds run queue configuration.
type RunsConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`

	// Timeout bounds a single container run.
	Timeout time.Duration `mapstructure:"timeout"`

	// DatasetDir, when set, is bind-mounted read-only at /data in every
	// run container.
	DatasetDir string `mapstructure:"dataset_dir"`
}

// NodesConfig holds remote build node configuration.
type NodesConfig struct {
	// Enabled turns on the remote node subsystem (SSH pool + health
	// checker). When false, bakes and runs use only the local daemon.
	Enabled bool `mapstructure:"enabled"`

	// Passphrase protects stored SSH private keys and cloud credentials.
	// The AES-256 key is derived from it; set it via
	// BAKERY_NODES_PASSPHRASE rather than a config file.
	Passphrase string `mapstructure:"passphrase"`

	// HealthCheckInterval is how often to check node health.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`

	// HealthCheckTimeout is the timeout for checking a single node.
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`

	// HealthCheckMaxConcurrent is the max number of concurrent health checks.
	HealthCheckMaxConcurrent int `mapstructure:"health_check_max_concurrent"`
}

// StatsConfig holds case series analysis configuration.
type StatsConfig struct {
	// CaseSeriesPath is a CSV file backing the stats endpoints when a
	// request carries no series of its own.
	CaseSeriesPath string `mapstructure:"case_series_path"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("database.dsn", "") // derived from data_dir when empty
	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.token", "")

	// Queue worker defaults
	v.SetDefault("bakes.interval", "3s")
	v.SetDefault("bakes.max_concurrent", 2)
	v.SetDefault("bakes.script_root", ".")
	v.SetDefault("bakes.max_per_node", 4)
	v.SetDefault("runs.interval", "2s")
	v.SetDefault("runs.max_concurrent", 4)
	v.SetDefault("runs.timeout", "30m")
	v.SetDefault("runs.dataset_dir", "")

	// Remote node defaults
	v.SetDefault("nodes.enabled", false)
	v.SetDefault("nodes.passphrase", "") // must be set via environment
	v.SetDefault("nodes.health_check_interval", "60s")
	v.SetDefault("nodes.health_check_timeout", "10s")
	v.SetDefault("nodes.health_check_max_concurrent", 5)

	v.SetDefault("stats.case_series_path", "")

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
	v.SetEnvPrefix("BAKERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The database lives under data_dir unless a DSN is set explicitly.
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.DataDir, "bakery.db")
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
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
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
