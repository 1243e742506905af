package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig is wrapped by every validation failure. Invalid values
// are rejected, never clamped.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Monitor MonitorConfig
	Logging LoggingConfig
	Display DisplayConfig
}

// MonitorConfig is the per-run configuration of the monitor loop. A value
// handed to the monitor is treated as immutable; use Clone before changing
// a copy that is already in use.
type MonitorConfig struct {
	IdleTimeout  time.Duration
	ScanInterval time.Duration
	BatchMode    bool
	// GlobalLimit caps terminations per cycle across all names; 0 = unlimited.
	GlobalLimit int
	// PerNameLimit caps terminations per cycle for one name; a limit of 0
	// excludes that name from termination entirely.
	PerNameLimit      map[string]int
	NetworkMonitoring bool
	DryRun            bool
	// Watch restricts management to processes whose name, exe or command
	// line contains one of the entries (case-insensitive). Empty = all.
	Watch []string
	// Protected lists extra process names that are never terminated.
	Protected []string
	TermGrace time.Duration
	KillWait  time.Duration
}

type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type DisplayConfig struct {
	RefreshRateMS int `toml:"refresh_rate_ms"`
	HistorySize   int `toml:"history_size"`
}

type LoadResult struct {
	Config   Config
	Warnings []string
}

func DefaultConfig() Config {
	return Config{
		Monitor: DefaultMonitorConfig(),
		Logging: LoggingConfig{Level: "info"},
		Display: DisplayConfig{RefreshRateMS: 500, HistorySize: 100},
	}
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		IdleTimeout:  30 * time.Second,
		ScanInterval: 5 * time.Second,
		BatchMode:    true,
		PerNameLimit: map[string]int{},
		TermGrace:    5 * time.Second,
		KillWait:     3 * time.Second,
	}
}

// Clone returns a deep copy.
func (c MonitorConfig) Clone() MonitorConfig {
	out := c
	out.PerNameLimit = make(map[string]int, len(c.PerNameLimit))
	for k, v := range c.PerNameLimit {
		out.PerNameLimit[k] = v
	}
	out.Watch = append([]string(nil), c.Watch...)
	out.Protected = append([]string(nil), c.Protected...)
	return out
}

// LimitFor returns the per-cycle limit for name and whether one is set.
func (c MonitorConfig) LimitFor(name string) (int, bool) {
	limit, ok := c.PerNameLimit[name]
	return limit, ok
}

// Validate checks limits are non-negative and durations positive.
// All problems are reported together.
func (c MonitorConfig) Validate() error {
	if errs := c.problems(); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func (c MonitorConfig) problems() []string {
	var errs []string

	if c.IdleTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("idle timeout must be positive, got %s", c.IdleTimeout))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, fmt.Sprintf("scan interval must be positive, got %s", c.ScanInterval))
	}
	if c.GlobalLimit < 0 {
		errs = append(errs, fmt.Sprintf("global limit must be non-negative, got %d", c.GlobalLimit))
	}
	if c.TermGrace <= 0 {
		errs = append(errs, fmt.Sprintf("termination grace must be positive, got %s", c.TermGrace))
	}
	if c.KillWait <= 0 {
		errs = append(errs, fmt.Sprintf("kill wait must be positive, got %s", c.KillWait))
	}

	names := make([]string, 0, len(c.PerNameLimit))
	for name := range c.PerNameLimit {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "" {
			errs = append(errs, "per-name limit has an empty process name")
			continue
		}
		if limit := c.PerNameLimit[name]; limit < 0 {
			errs = append(errs, fmt.Sprintf("limit for %q must be non-negative, got %d", name, limit))
		}
	}
	return errs
}

// ParseLimits parses "name=N" pairs as given on the command line.
func ParseLimits(pairs []string) (map[string]int, error) {
	limits := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: limit %q must have the form name=N", ErrInvalidConfig, pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: limit %q: %v", ErrInvalidConfig, pair, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: limit %q must be non-negative", ErrInvalidConfig, pair)
		}
		limits[name] = n
	}
	return limits, nil
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "idle-reaper", "config.toml")
}

// LoadFrom reads the TOML file at path. A missing file yields the defaults.
func LoadFrom(path string) (*LoadResult, error) {
	if path == "" {
		return &LoadResult{Config: DefaultConfig()}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LoadResult{Config: DefaultConfig()}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromString(string(data))
}

// LoadFromString parses TOML config data on top of the defaults.
func LoadFromString(data string) (*LoadResult, error) {
	result := &LoadResult{Config: DefaultConfig()}
	if data == "" {
		return result, nil
	}

	tf := newTOMLFile(result.Config)
	md, err := toml.Decode(data, &tf)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	for _, key := range md.Undecoded() {
		result.Warnings = append(result.Warnings, fmt.Sprintf("unknown config key: %q", key.String()))
	}

	tf.apply(&result.Config)

	if err := validate(&result.Config); err != nil {
		return nil, err
	}
	return result, nil
}

// tomlFile mirrors the on-disk layout. It is pre-filled from the defaults so
// keys absent from the file keep their default value.
type tomlFile struct {
	Monitor   tomlMonitor    `toml:"monitor"`
	Limits    map[string]int `toml:"limits"`
	Terminate tomlTerminate  `toml:"terminate"`
	Logging   LoggingConfig  `toml:"logging"`
	Display   DisplayConfig  `toml:"display"`
}

type tomlMonitor struct {
	IdleTimeoutSeconds  float64  `toml:"idle_timeout_seconds"`
	ScanIntervalSeconds float64  `toml:"scan_interval_seconds"`
	BatchMode           bool     `toml:"batch_mode"`
	GlobalLimit         int      `toml:"global_limit"`
	Network             bool     `toml:"network"`
	DryRun              bool     `toml:"dry_run"`
	Watch               []string `toml:"watch"`
	Protected           []string `toml:"protected"`
}

type tomlTerminate struct {
	GraceSeconds    float64 `toml:"grace_seconds"`
	KillWaitSeconds float64 `toml:"kill_wait_seconds"`
}

func newTOMLFile(cfg Config) tomlFile {
	m := cfg.Monitor
	return tomlFile{
		Monitor: tomlMonitor{
			IdleTimeoutSeconds:  m.IdleTimeout.Seconds(),
			ScanIntervalSeconds: m.ScanInterval.Seconds(),
			BatchMode:           m.BatchMode,
			GlobalLimit:         m.GlobalLimit,
			Network:             m.NetworkMonitoring,
			DryRun:              m.DryRun,
			Watch:               m.Watch,
			Protected:           m.Protected,
		},
		Limits: map[string]int{},
		Terminate: tomlTerminate{
			GraceSeconds:    m.TermGrace.Seconds(),
			KillWaitSeconds: m.KillWait.Seconds(),
		},
		Logging: cfg.Logging,
		Display: cfg.Display,
	}
}

func (tf tomlFile) apply(cfg *Config) {
	m := &cfg.Monitor
	m.IdleTimeout = seconds(tf.Monitor.IdleTimeoutSeconds)
	m.ScanInterval = seconds(tf.Monitor.ScanIntervalSeconds)
	m.BatchMode = tf.Monitor.BatchMode
	m.GlobalLimit = tf.Monitor.GlobalLimit
	m.NetworkMonitoring = tf.Monitor.Network
	m.DryRun = tf.Monitor.DryRun
	m.Watch = tf.Monitor.Watch
	m.Protected = tf.Monitor.Protected
	m.TermGrace = seconds(tf.Terminate.GraceSeconds)
	m.KillWait = seconds(tf.Terminate.KillWaitSeconds)
	m.PerNameLimit = make(map[string]int, len(tf.Limits))
	for name, limit := range tf.Limits {
		m.PerNameLimit[name] = limit
	}
	cfg.Logging = tf.Logging
	cfg.Display = tf.Display
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validate(cfg *Config) error {
	errs := cfg.Monitor.problems()

	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging level must be one of debug, info, warn, error; got %q", cfg.Logging.Level))
	}
	if cfg.Display.RefreshRateMS < 1 {
		errs = append(errs, fmt.Sprintf("refresh_rate_ms must be positive, got %d", cfg.Display.RefreshRateMS))
	}
	if cfg.Display.HistorySize < 1 {
		errs = append(errs, fmt.Sprintf("history_size must be positive, got %d", cfg.Display.HistorySize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// ExpandTilde resolves a leading "~/" against the user's home directory.
func ExpandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
