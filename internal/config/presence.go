// Package config loads the tuning knobs for the presence engine. Fields are
// pointers so a partial JSON file only overrides what it sets; the Get*
// accessors supply the defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PresenceConfig is the root tuning configuration. Durations are JSON
// strings like "500ms" so the same file reads naturally for humans.
type PresenceConfig struct {
	// Reconciliation thresholds
	PresenceSeconds   *int `json:"presence_seconds,omitempty"`    // min continuous span to confirm arrival
	AbsenceSeconds    *int `json:"absence_seconds,omitempty"`     // silence before departure
	PresentMinSeconds *int `json:"present_min_seconds,omitempty"` // floor stay to count as present

	// Buffer and sweep timing
	BufferWindow *string `json:"buffer_window,omitempty"` // duration string like "10s"
	PollInterval *string `json:"poll_interval,omitempty"` // duration string like "500ms"
	InitialDelay *string `json:"initial_delay,omitempty"` // pause before the first sweep
	StopTimeout  *string `json:"stop_timeout,omitempty"`  // bounded wait on sweeper stop

	// Dashboard
	AlertThresholdPercent *float64 `json:"alert_threshold_percent,omitempty"`
}

// DefaultPresenceConfig returns a config with no overrides set; every
// accessor falls back to its default.
func DefaultPresenceConfig() *PresenceConfig {
	return &PresenceConfig{}
}

// LoadPresenceConfig reads and validates a JSON config file. Omitted fields
// keep their defaults, so partial configs are safe.
func LoadPresenceConfig(path string) (*PresenceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultPresenceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *PresenceConfig) Validate() error {
	if c.PresenceSeconds != nil && *c.PresenceSeconds < 0 {
		return fmt.Errorf("presence_seconds must be non-negative, got %d", *c.PresenceSeconds)
	}
	if c.AbsenceSeconds != nil && *c.AbsenceSeconds <= 0 {
		return fmt.Errorf("absence_seconds must be positive, got %d", *c.AbsenceSeconds)
	}
	if c.PresentMinSeconds != nil && *c.PresentMinSeconds < 0 {
		return fmt.Errorf("present_min_seconds must be non-negative, got %d", *c.PresentMinSeconds)
	}
	if c.AlertThresholdPercent != nil && (*c.AlertThresholdPercent < 0 || *c.AlertThresholdPercent > 100) {
		return fmt.Errorf("alert_threshold_percent must be within [0,100], got %g", *c.AlertThresholdPercent)
	}
	for name, v := range map[string]*string{
		"buffer_window": c.BufferWindow,
		"poll_interval": c.PollInterval,
		"initial_delay": c.InitialDelay,
		"stop_timeout":  c.StopTimeout,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, *v, err)
			}
		}
	}
	return nil
}

// GetPresenceSpan returns the continuous-evidence span required to open a
// session.
func (c *PresenceConfig) GetPresenceSpan() time.Duration {
	if c.PresenceSeconds == nil {
		return 3 * time.Second
	}
	return time.Duration(*c.PresenceSeconds) * time.Second
}

// GetAbsenceAfter returns the silence required to close a session.
func (c *PresenceConfig) GetAbsenceAfter() time.Duration {
	if c.AbsenceSeconds == nil {
		return 60 * time.Second
	}
	return time.Duration(*c.AbsenceSeconds) * time.Second
}

// GetPresentMin returns the floor stay duration that counts as present.
func (c *PresenceConfig) GetPresentMin() time.Duration {
	if c.PresentMinSeconds == nil {
		return 300 * time.Second
	}
	return time.Duration(*c.PresentMinSeconds) * time.Second
}

// GetBufferWindow returns the trailing evidence retention window.
func (c *PresenceConfig) GetBufferWindow() time.Duration {
	return c.duration(c.BufferWindow, 10*time.Second)
}

// GetPollInterval returns the sweep poll interval.
func (c *PresenceConfig) GetPollInterval() time.Duration {
	return c.duration(c.PollInterval, 500*time.Millisecond)
}

// GetInitialDelay returns the pause before the first sweep.
func (c *PresenceConfig) GetInitialDelay() time.Duration {
	return c.duration(c.InitialDelay, time.Second)
}

// GetStopTimeout returns the bounded wait used when stopping the sweeper.
func (c *PresenceConfig) GetStopTimeout() time.Duration {
	return c.duration(c.StopTimeout, 2*time.Second)
}

// GetAlertThresholdPercent returns the attendance percent below which a
// student is flagged on the dashboard.
func (c *PresenceConfig) GetAlertThresholdPercent() float64 {
	if c.AlertThresholdPercent == nil {
		return 75.0
	}
	return *c.AlertThresholdPercent
}

func (c *PresenceConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
