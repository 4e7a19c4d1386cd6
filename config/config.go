/*
config.go - Server configuration

PURPOSE:
  Loads the server settings and the ledger entitlements from a TOML or YAML
  file, applies defaults for anything left out, then applies environment
  overrides.

PRECEDENCE (lowest to highest):
  1. Default()
  2. config file (.toml, .yaml or .yml)
  3. GUARD_DB, GUARD_PORT, GUARD_LOG_LEVEL, GUARD_LOG_FORMAT,
     GUARD_RECONCILE_INTERVAL

EXAMPLE (guard.toml):
  [server]
  port = 8080

  [storage]
  driver = "sqlite"
  path = "guard.db"

  [scheduler]
  enabled = true
  interval = "30m"

  [ledger]
  entitlement_per_guard = 5
  personal_leave_annual = 6
  vacation_annual = 22
  exclude_weekends_from_vacation = true
*/
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/warp/guard-ledger/guard"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"

	FormatConsole = "console"
	FormatJSON    = "json"
)

type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Storage   StorageConfig   `toml:"storage" yaml:"storage"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Scheduler SchedulerConfig `toml:"scheduler" yaml:"scheduler"`
	Ledger    guard.Config    `toml:"ledger" yaml:"ledger"`
}

type ServerConfig struct {
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

type StorageConfig struct {
	Driver string `toml:"driver" yaml:"driver"`
	Path   string `toml:"path" yaml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// SchedulerConfig drives the periodic reconciliation sweep.
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Interval string `toml:"interval" yaml:"interval"`
}

// IntervalDuration parses Interval; Validate guarantees it parses.
func (s SchedulerConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(s.Interval)
	return d
}

func Default() Config {
	return Config{
		Server:    ServerConfig{Port: 8080, CORSOrigins: []string{"*"}},
		Storage:   StorageConfig{Driver: DriverSQLite, Path: "guard.db"},
		Log:       LogConfig{Level: "info", Format: FormatConsole},
		Scheduler: SchedulerConfig{Enabled: true, Interval: "1h"},
		Ledger:    guard.DefaultConfig(),
	}
}

// Load reads path (if non-empty) over the defaults and applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		default:
			return Config{}, fmt.Errorf("unsupported config format %q (use .toml, .yaml or .yml)", filepath.Ext(path))
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("GUARD_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := getenv("GUARD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GUARD_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("GUARD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("GUARD_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := getenv("GUARD_RECONCILE_INTERVAL"); v != "" {
		c.Scheduler.Interval = v
	}
	return nil
}

func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != FormatConsole && c.Log.Format != FormatJSON {
		return fmt.Errorf("log.format must be %q or %q", FormatConsole, FormatJSON)
	}
	if c.Scheduler.Enabled {
		d, err := time.ParseDuration(c.Scheduler.Interval)
		if err != nil {
			return fmt.Errorf("scheduler.interval: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("scheduler.interval must be positive")
		}
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// NewLogger builds the process logger described by c.Log.
func (c Config) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.Log.Format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
