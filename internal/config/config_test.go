package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Session.SilenceMS != def.Session.SilenceMS {
		t.Fatalf("silence_ms: want %d got %d", def.Session.SilenceMS, cfg.Session.SilenceMS)
	}
	if len(cfg.STT.Engines) != 1 || cfg.STT.Engines[0].Type != "whisper" {
		t.Fatalf("unexpected default engines: %+v", cfg.STT.Engines)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
session:
  scan_interval_ms: 500
  silence_ms: 2000
  drain_timeout_ms: 1000
connect:
  base_attempts: 4
  problem_attempts: 6
  backoff_base_ms: 250
  backoff_cap_ms: 4000
  connect_timeout_ms: 10000
  ready_poll_interval_ms: 100
  ready_poll_attempts: 10
  cooldown_ms: 1000
  problem_cooldown_ms: 3000
  reset_cycles: 3
  regions: ["us-south"]
stt:
  sample_rate: 48000
  channels: 2
  engines:
    - name: primary
      type: whisper
      url: http://stt:9000/transcribe
      timeout_ms: 5000
    - name: backup
      type: openai
      url: http://alt:8080/v1/audio/transcriptions
      timeout_ms: 5000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.SilenceMS != 2000 {
		t.Fatalf("silence_ms: want 2000 got %d", cfg.Session.SilenceMS)
	}
	if cfg.Connect.BaseAttempts != 4 || cfg.Connect.ProblemAttempts != 6 {
		t.Fatalf("attempts: got %d/%d", cfg.Connect.BaseAttempts, cfg.Connect.ProblemAttempts)
	}
	if len(cfg.STT.Engines) != 2 || cfg.STT.Engines[1].Type != "openai" {
		t.Fatalf("engines: %+v", cfg.STT.Engines)
	}
	// Untouched sections keep defaults.
	if cfg.Correct.CacheCapacity != 1000 {
		t.Fatalf("cache capacity: want 1000 got %d", cfg.Correct.CacheCapacity)
	}
}

func TestValidateRejectsBadEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
stt:
  engines:
    - name: broken
      type: telepathy
      url: http://x
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown engine type")
	}
}

func TestValidateRejectsInvertedBackoff(t *testing.T) {
	cfg := Default()
	cfg.Connect.BackoffBaseMS = 5000
	cfg.Connect.BackoffCapMS = 1000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for cap < base")
	}
}
