package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDestructiveAboveGeneral(t *testing.T) {
	cfg := Default()
	if cfg.Voice.ConfidenceDestructive <= cfg.Voice.ConfidenceGeneral {
		t.Fatalf("destructive threshold %v not above general %v",
			cfg.Voice.ConfidenceDestructive, cfg.Voice.ConfidenceGeneral)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Voice.WakePhrase != "hey herald" {
		t.Errorf("got wake phrase %q", cfg.Voice.WakePhrase)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "herald.toml")
	content := `
[server]
endpoint = "wss://backend.example/sync"
auth_token = "tok-123"

[voice]
language = "de-DE"
confidence_general = 0.5
confidence_destructive = 0.9
cooldown = "2s"

[sync]
max_attempts = 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Endpoint != "wss://backend.example/sync" {
		t.Errorf("endpoint = %q", cfg.Server.Endpoint)
	}
	if cfg.Voice.ConfidenceDestructive != 0.9 {
		t.Errorf("destructive = %v", cfg.Voice.ConfidenceDestructive)
	}
	if cfg.Voice.Language != "de-DE" {
		t.Errorf("language = %q", cfg.Voice.Language)
	}
	if cfg.Voice.Cooldown != 2*time.Second {
		t.Errorf("cooldown = %v", cfg.Voice.Cooldown)
	}
	if cfg.Sync.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d", cfg.Sync.MaxAttempts)
	}
	// untouched field keeps its default
	if cfg.Voice.CaptureTimeout != 30*time.Second {
		t.Errorf("capture_timeout = %v", cfg.Voice.CaptureTimeout)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := Default()
	cfg.Voice.ConfidenceDestructive = 0.4
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for destructive <= general")
	}
}

func TestValidateRejectsBadBackoff(t *testing.T) {
	cfg := Default()
	cfg.Sync.BackoffMax = cfg.Sync.BackoffMin - time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for backoff max below min")
	}
}
