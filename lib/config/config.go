// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when no --config flag is
// given.
const EnvironmentVariable = "SWITCHBOARD_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local machines: the in-memory transport and
	// text logs are acceptable.
	Development Environment = "development"
	// Production requires a real transport and encrypted auth
	// material.
	Production Environment = "production"
)

// Config is the daemon configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths     PathsConfig     `yaml:"paths"`
	Admin     AdminConfig     `yaml:"admin"`
	Transport TransportConfig `yaml:"transport"`
	Traffic   TrafficConfig   `yaml:"traffic"`
	Stealth   StealthConfig   `yaml:"stealth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`

	// Per-environment overrides, applied after the base values.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the fields an environment section may replace.
// Empty values leave the base value alone.
type Overrides struct {
	Paths     *PathsConfig     `yaml:"paths,omitempty"`
	Admin     *AdminConfig     `yaml:"admin,omitempty"`
	Transport *TransportConfig `yaml:"transport,omitempty"`
	Log       *LogConfig       `yaml:"log,omitempty"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// Root is the base data directory. ${SWITCHBOARD_ROOT} in other
	// paths expands to it.
	Root string `yaml:"root"`

	// Database is the SQLite file.
	Database string `yaml:"database"`

	// Auth holds one directory of credentials and session keys per
	// instance.
	Auth string `yaml:"auth"`

	// Identity is an age identity file. When set, auth material is
	// encrypted at rest; the file is created on first start.
	Identity string `yaml:"identity"`
}

// AdminConfig configures the administrative socket.
type AdminConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// TransportConfig selects the network adapter.
type TransportConfig struct {
	// Name is "matrix" or "memory".
	Name   string       `yaml:"name"`
	Matrix MatrixConfig `yaml:"matrix"`
}

// MatrixConfig configures the Matrix transport.
type MatrixConfig struct {
	Homeserver  string        `yaml:"homeserver"`
	ServerName  string        `yaml:"server_name"`
	DeviceName  string        `yaml:"device_name"`
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// TrafficConfig tunes every instance's command queue.
type TrafficConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	WarmupExtra time.Duration `yaml:"warmup_extra"`
}

// StealthConfig configures the visibility scheduler.
type StealthConfig struct {
	// Location is an IANA zone name used for schedules and daily
	// presence totals. "Local" or empty means the host zone.
	Location string `yaml:"location"`

	// ImportDir, when set, is watched for <instance-id>.jsonc schedule
	// files.
	ImportDir string `yaml:"import_dir"`
}

// TelemetryConfig configures the presence signal sink.
type TelemetryConfig struct {
	// SocketPath of the consumer. Empty logs signals instead.
	SocketPath    string        `yaml:"socket_path"`
	Rate          float64       `yaml:"rate"`
	Burst         int           `yaml:"burst"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LogConfig configures the daemon's slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
	// File, when set, receives logs with size-based rotation instead
	// of stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used as a base before the file is
// applied.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:     "${HOME}/.local/share/switchboard",
			Database: "${SWITCHBOARD_ROOT}/switchboard.db",
			Auth:     "${SWITCHBOARD_ROOT}/auth",
		},
		Admin: AdminConfig{
			SocketPath: "${XDG_RUNTIME_DIR:-/tmp}/switchboard/admin.sock",
		},
		Transport: TransportConfig{
			Name: "memory",
			Matrix: MatrixConfig{
				DeviceName:  "switchboard",
				SyncTimeout: 30 * time.Second,
			},
		},
		Traffic: TrafficConfig{
			BaseDelay:   1500 * time.Millisecond,
			WarmupExtra: 4 * time.Second,
		},
		Stealth: StealthConfig{
			Location: "Local",
		},
		Telemetry: TelemetryConfig{
			Rate:          20,
			Burst:         50,
			FlushInterval: time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load loads the file named by SWITCHBOARD_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your switchboard.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over Default, applies the
// matching environment section and expands variables in paths.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse is LoadFile for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing: %w", err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{Log: &LogConfig{Format: "json"}}
		}
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		override(&c.Paths.Root, paths.Root)
		override(&c.Paths.Database, paths.Database)
		override(&c.Paths.Auth, paths.Auth)
		override(&c.Paths.Identity, paths.Identity)
	}
	if admin := overrides.Admin; admin != nil {
		override(&c.Admin.SocketPath, admin.SocketPath)
	}
	if transport := overrides.Transport; transport != nil {
		override(&c.Transport.Name, transport.Name)
		override(&c.Transport.Matrix.Homeserver, transport.Matrix.Homeserver)
		override(&c.Transport.Matrix.ServerName, transport.Matrix.ServerName)
		override(&c.Transport.Matrix.DeviceName, transport.Matrix.DeviceName)
		if transport.Matrix.SyncTimeout > 0 {
			c.Transport.Matrix.SyncTimeout = transport.Matrix.SyncTimeout
		}
	}
	if log := overrides.Log; log != nil {
		override(&c.Log.Level, log.Level)
		override(&c.Log.Format, log.Format)
		override(&c.Log.File, log.File)
	}
}

func override(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SWITCHBOARD_ROOT"] = c.Paths.Root

	for _, path := range []*string{
		&c.Paths.Database,
		&c.Paths.Auth,
		&c.Paths.Identity,
		&c.Admin.SocketPath,
		&c.Stealth.ImportDir,
		&c.Telemetry.SocketPath,
		&c.Log.File,
	} {
		*path = expandVars(*path, vars)
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Paths.Database == "" {
		errs = append(errs, errors.New("paths.database is required"))
	}
	if c.Paths.Auth == "" {
		errs = append(errs, errors.New("paths.auth is required"))
	}
	if c.Admin.SocketPath == "" {
		errs = append(errs, errors.New("admin.socket_path is required"))
	}

	switch c.Transport.Name {
	case "memory":
		if c.Environment == Production {
			errs = append(errs, errors.New("transport.name memory is not allowed in production"))
		}
	case "matrix":
		if c.Transport.Matrix.Homeserver == "" {
			errs = append(errs, errors.New("transport.matrix.homeserver is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.name must be matrix or memory, got %q", c.Transport.Name))
	}
	if c.Environment == Production && c.Paths.Identity == "" {
		errs = append(errs, errors.New("paths.identity is required in production"))
	}

	if c.Traffic.BaseDelay < 0 || c.Traffic.WarmupExtra < 0 {
		errs = append(errs, errors.New("traffic delays must not be negative"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("stealth.location: %w", err))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of %v", levels))
	}
	formats := []string{"json", "text"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of %v", formats))
	}

	return errors.Join(errs...)
}

// Location resolves Stealth.Location.
func (c *Config) Location() (*time.Location, error) {
	if c.Stealth.Location == "" || c.Stealth.Location == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Stealth.Location)
}

// EnsurePaths creates the directories the daemon writes to.
func (c *Config) EnsurePaths() error {
	for _, dir := range []string{
		filepath.Dir(c.Paths.Database),
		c.Paths.Auth,
		filepath.Dir(c.Admin.SocketPath),
	} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}
	return nil
}
