package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
)

// FileName is the configuration file looked up in the project directory
const FileName = "livetag.json"

// Config represents the livetag.json configuration
type Config struct {
	// Live debugger connection
	Live *LiveConfig `json:"live,omitempty"`

	// Gesture classification
	Tracking *TrackingConfig `json:"tracking,omitempty"`

	// Tagging rules file
	Rules *RulesConfig `json:"rules,omitempty"`

	// Logging
	Log *LogConfig `json:"log,omitempty"`
}

// LiveConfig contains the live tagging connection settings
type LiveConfig struct {
	// Endpoint is the debugger URL prefix; the token is appended
	Endpoint string `json:"endpoint,omitempty"`

	// Token identifies this device to the debugger. Generated when empty.
	Token string `json:"token,omitempty"`

	// Whether live tagging is enabled
	Enabled *bool `json:"enabled,omitempty"`

	// Wait for the debugger to accept before sending frames
	RequirePairing bool `json:"requirePairing,omitempty"`

	// How often the pairing beacon is sent
	BeaconInterval Duration `json:"beaconInterval,omitempty"`
}

// TrackingConfig contains the gesture classification settings
type TrackingConfig struct {
	// Whether classified gestures are dispatched
	AutoTracking *bool `json:"autoTracking,omitempty"`

	// Method name of the host's back navigation
	BackTrigger string `json:"backTrigger,omitempty"`

	CaptureDelay    Duration `json:"captureDelay,omitempty"`
	RaceWindow      Duration `json:"raceWindow,omitempty"`
	DelegateTimeout Duration `json:"delegateTimeout,omitempty"`
}

// RulesConfig points at the tagging rules document
type RulesConfig struct {
	// Path to the YAML or JSON rules file
	Path string `json:"path,omitempty"`

	// Whether to reload the file when it changes
	Watch bool `json:"watch"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// debug, info, warn or error
	Level string `json:"level,omitempty"`

	// text or json
	Format string `json:"format,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("500ms")
type Duration time.Duration

// MarshalJSON writes the duration string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of milliseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// IsEnabled reports whether live tagging is on
func (l *LiveConfig) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// IsAutoTracking reports whether gestures are dispatched
func (t *TrackingConfig) IsAutoTracking() bool {
	return t.AutoTracking == nil || *t.AutoTracking
}

// Load loads configuration from livetag.json in projectPath
func Load(projectPath string) (*Config, error) {
	configPath := filepath.Join(projectPath, FileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from an explicit path. Comments and
// trailing commas are allowed.
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a configuration document and fills in defaults
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}

	applyDefaults(&config)
	return &config, nil
}

// Save saves configuration to livetag.json in projectPath
func Save(config *Config, projectPath string) error {
	configPath := filepath.Join(projectPath, FileName)

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	enabled := true
	autoTracking := true
	return &Config{
		Live: &LiveConfig{
			Endpoint:       "ws://localhost:7070/live/",
			Enabled:        &enabled,
			BeaconInterval: Duration(2 * time.Second),
		},
		Tracking: &TrackingConfig{
			AutoTracking:    &autoTracking,
			BackTrigger:     "handleBack:",
			CaptureDelay:    Duration(200 * time.Millisecond),
			RaceWindow:      Duration(500 * time.Millisecond),
			DelegateTimeout: Duration(5 * time.Second),
		},
		Rules: &RulesConfig{
			Path:  "rules.yaml",
			Watch: true,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults applies default values to missing configuration
func applyDefaults(config *Config) {
	defaults := DefaultConfig()

	if config.Live == nil {
		config.Live = defaults.Live
	} else {
		if config.Live.Endpoint == "" {
			config.Live.Endpoint = defaults.Live.Endpoint
		}
		if config.Live.BeaconInterval <= 0 {
			config.Live.BeaconInterval = defaults.Live.BeaconInterval
		}
	}

	if config.Tracking == nil {
		config.Tracking = defaults.Tracking
	} else {
		if config.Tracking.BackTrigger == "" {
			config.Tracking.BackTrigger = defaults.Tracking.BackTrigger
		}
		if config.Tracking.CaptureDelay <= 0 {
			config.Tracking.CaptureDelay = defaults.Tracking.CaptureDelay
		}
		if config.Tracking.RaceWindow <= 0 {
			config.Tracking.RaceWindow = defaults.Tracking.RaceWindow
		}
		if config.Tracking.DelegateTimeout <= 0 {
			config.Tracking.DelegateTimeout = defaults.Tracking.DelegateTimeout
		}
	}

	if config.Rules == nil {
		config.Rules = defaults.Rules
	}

	if config.Log == nil {
		config.Log = defaults.Log
	} else {
		if config.Log.Level == "" {
			config.Log.Level = defaults.Log.Level
		}
		if config.Log.Format == "" {
			config.Log.Format = defaults.Log.Format
		}
	}
}
