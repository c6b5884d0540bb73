// Package config holds the monitor's startup configuration. Values are
// layered: built-in defaults, then the JSON config file, then AAM_*
// environment variables; command-line flags are applied on top by the CLI.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Monitoring modes.
const (
	ModeActive  = "active"  // foreground window only
	ModeProcess = "process" // process starts/stops only
	ModeBoth    = "both"    // both against the same sample
)

// Config holds all configurable monitor settings.
type Config struct {
	Mode      string  `json:"mode"`
	Interval  float64 `json:"interval"`  // polling interval, seconds
	Heartbeat float64 `json:"heartbeat"` // re-log cadence, seconds; <=0 disables
	LogFile   string  `json:"logfile"`
	Stdout    bool    `json:"stdout"` // mirror records to stdout

	IncludeSystem bool     `json:"include_system"`
	Snapshot      bool     `json:"snapshot"`
	GUIOnly       bool     `json:"gui_only"`
	Whitelist     []string `json:"whitelist"` // names always logged, overriding the filters below
	Ignore        []string `json:"ignore"`    // names whose proc edges are suppressed

	Rotate      bool   `json:"rotate"`
	RotateEvery string `json:"rotate_every"` // duration string, e.g. "1h"; "" disables the time trigger
	MaxBytes    int64  `json:"max_bytes"`    // 0 disables the size trigger
	Keep        int    `json:"keep"`         // rotated segments to retain; 0 keeps all
}

// DefaultIgnore returns the stock set of noisy helper processes whose
// start/stop edges are suppressed by default.
func DefaultIgnore() []string {
	return []string{
		"conhost.exe",
		"netsh.exe",
		"wslhost.exe",
		"wslrelay.exe",
		"vmmemwsl",
		"vmwp.exe",
		"git.exe",
		"git-remote-https.exe",
		"git-credential-manager.exe",
		"sh.exe",
	}
}

// Defaults returns the built-in configuration values.
func Defaults() Config {
	return Config{
		Mode:        ModeActive,
		Interval:    2.0,
		Heartbeat:   300,
		LogFile:     "app-usage.log",
		Rotate:      true,
		RotateEvery: "1h",
		Ignore:      DefaultIgnore(),
	}
}

// Path returns the config file location: $APPMON_CONFIG if set, otherwise
// ~/.config/appmon/config.json.
func Path() (string, error) {
	if p := os.Getenv("APPMON_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "appmon", "config.json"), nil
}

// Load builds the effective configuration from defaults, the config file at
// path (the default location when path is empty; a missing file is not an
// error) and the AAM_* environment variables.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	cfg, err := loadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes the JSON file at path over a copy of the defaults, so
// keys absent from the file keep their default values.
func loadFile(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ParseError{Path: path, Err: err}
	}
	return cfg, nil
}

// applyEnv overlays the AAM_* variables the agent has always honored.
func (c *Config) applyEnv() error {
	if v := os.Getenv("AAM_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("AAM_LOGFILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("AAM_INTERVAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ValidationError{Field: "AAM_INTERVAL", Reason: "not a number: " + v}
		}
		c.Interval = f
	}
	if v := os.Getenv("AAM_HEARTBEAT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ValidationError{Field: "AAM_HEARTBEAT", Reason: "not a number: " + v}
		}
		c.Heartbeat = f
	}
	return nil
}

// Validate checks the configuration before the monitor loop starts. It
// returns a *ValidationError describing the first problem found.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeActive, ModeProcess, ModeBoth:
	default:
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("must be active, process or both (got %q)", c.Mode)}
	}
	if c.Interval <= 0 {
		return &ValidationError{Field: "interval", Reason: fmt.Sprintf("must be positive (got %v)", c.Interval)}
	}
	if c.LogFile == "" {
		return &ValidationError{Field: "logfile", Reason: "must not be empty"}
	}
	if c.RotateEvery != "" {
		d, err := time.ParseDuration(c.RotateEvery)
		if err != nil {
			return &ValidationError{Field: "rotate_every", Reason: "not a duration: " + c.RotateEvery}
		}
		if d < 0 {
			return &ValidationError{Field: "rotate_every", Reason: "must not be negative"}
		}
	}
	if c.MaxBytes < 0 {
		return &ValidationError{Field: "max_bytes", Reason: "must not be negative"}
	}
	if c.Keep < 0 {
		return &ValidationError{Field: "keep", Reason: "must not be negative"}
	}
	return nil
}

// TickInterval returns the polling interval as a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Interval * float64(time.Second))
}

// HeartbeatInterval returns the heartbeat cadence, or 0 when disabled.
func (c Config) HeartbeatInterval() time.Duration {
	if c.Heartbeat <= 0 {
		return 0
	}
	return time.Duration(c.Heartbeat * float64(time.Second))
}

// RotationInterval returns the parsed rotate_every value. Call Validate
// first; an unparseable value degrades to 0 here.
func (c Config) RotationInterval() time.Duration {
	if c.RotateEvery == "" {
		return 0
	}
	d, err := time.ParseDuration(c.RotateEvery)
	if err != nil {
		return 0
	}
	return d
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError is returned for a config value the monitor cannot run
// with. It fails the command before the loop starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + e.Field + ": " + e.Reason
}
