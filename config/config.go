// Package config holds every calibratable number in one place. Values ship
// with workable defaults and can be overridden from a TOML file resolved by
// the pairing/bootstrap flow or placed by hand.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server Server `toml:"server"`
	Voice  Voice  `toml:"voice"`
	Sync   Sync   `toml:"sync"`
}

// Server is the resolved endpoint from the one-time pairing exchange.
// The core consumes it; it never performs discovery itself.
type Server struct {
	Endpoint  string `toml:"endpoint"`
	AuthToken string `toml:"auth_token"`
}

type Voice struct {
	WakePhrase string `toml:"wake_phrase"`

	// Language is the recognition language tag (e.g. "en-US"). Empty means
	// the backend's default.
	Language string `toml:"language"`

	// Confidence gates. Destructive must be strictly higher than General.
	ConfidenceGeneral     float64 `toml:"confidence_general"`
	ConfidenceDestructive float64 `toml:"confidence_destructive"`

	CaptureTimeout  time.Duration `toml:"capture_timeout"`
	Cooldown        time.Duration `toml:"cooldown"`
	TrailingSilence time.Duration `toml:"trailing_silence"`

	// Optimizer: switch to low-latency when p95 exceeds TargetHigh for
	// WindowSessions consecutive sessions, back to normal below TargetLow.
	LatencyTargetHigh time.Duration `toml:"latency_target_high"`
	LatencyTargetLow  time.Duration `toml:"latency_target_low"`
	LatencyWindow     int           `toml:"latency_window"`
}

type Sync struct {
	StorePath   string        `toml:"store_path"`
	MaxAttempts int           `toml:"max_attempts"`
	BackoffMin  time.Duration `toml:"backoff_min"`
	BackoffMax  time.Duration `toml:"backoff_max"`
	SendTimeout time.Duration `toml:"send_timeout"`
}

func Default() Config {
	return Config{
		Voice: Voice{
			WakePhrase:            "hey herald",
			ConfidenceGeneral:     0.60,
			ConfidenceDestructive: 0.80,
			CaptureTimeout:        30 * time.Second,
			Cooldown:              1500 * time.Millisecond,
			TrailingSilence:       1200 * time.Millisecond,
			LatencyTargetHigh:     2 * time.Second,
			LatencyTargetLow:      1200 * time.Millisecond,
			LatencyWindow:         3,
		},
		Sync: Sync{
			MaxAttempts: 10,
			BackoffMin:  500 * time.Millisecond,
			BackoffMax:  30 * time.Second,
			SendTimeout: 10 * time.Second,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error: the
// defaults are returned as-is so the daemon can start unpaired.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	v := c.Voice
	if v.ConfidenceGeneral <= 0 || v.ConfidenceGeneral > 1 {
		return fmt.Errorf("confidence_general out of range: %v", v.ConfidenceGeneral)
	}
	if v.ConfidenceDestructive <= v.ConfidenceGeneral || v.ConfidenceDestructive > 1 {
		return fmt.Errorf("confidence_destructive must be in (%v, 1]: %v", v.ConfidenceGeneral, v.ConfidenceDestructive)
	}
	if v.LatencyTargetLow >= v.LatencyTargetHigh {
		return fmt.Errorf("latency_target_low must be below latency_target_high")
	}
	s := c.Sync
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1: %d", s.MaxAttempts)
	}
	if s.BackoffMin <= 0 || s.BackoffMax < s.BackoffMin {
		return fmt.Errorf("backoff range invalid: min=%v max=%v", s.BackoffMin, s.BackoffMax)
	}
	return nil
}
