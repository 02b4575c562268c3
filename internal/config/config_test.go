package config

import (
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/reelforge")
	t.Setenv("STORAGE_URL", "https://storage.example.com")
	t.Setenv("STORAGE_KEY", "test-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != "8080" {
		t.Errorf("APIPort = %q, want 8080", cfg.APIPort)
	}
	if cfg.StorageBucket != "reels" {
		t.Errorf("StorageBucket = %q, want reels", cfg.StorageBucket)
	}
	if cfg.MaxConcurrentJobs != 2 || cfg.MaxConcurrentAnalysis != 4 {
		t.Errorf("concurrency defaults wrong: jobs=%d analysis=%d", cfg.MaxConcurrentJobs, cfg.MaxConcurrentAnalysis)
	}
	if cfg.DefaultTargetSeconds != 30 || cfg.MinTargetSeconds != 15 || cfg.MaxTargetSeconds != 60 {
		t.Errorf("target bounds wrong: %v [%v, %v]", cfg.DefaultTargetSeconds, cfg.MinTargetSeconds, cfg.MaxTargetSeconds)
	}
	if cfg.MaxClipBytes != 512<<20 {
		t.Errorf("MaxClipBytes = %d, want %d", cfg.MaxClipBytes, int64(512<<20))
	}
	if cfg.PacingStrategy != "round_robin" {
		t.Errorf("PacingStrategy = %q, want round_robin", cfg.PacingStrategy)
	}
	if cfg.CaptionsDefault {
		t.Error("captions should default off")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_CONCURRENT_JOBS", "8")
	t.Setenv("KEEP_THRESHOLD", "0.4")
	t.Setenv("PACING_STRATEGY", "sequential")
	t.Setenv("CAPTIONS_DEFAULT", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.MaxConcurrentJobs != 8 {
		t.Errorf("MaxConcurrentJobs = %d, want 8", cfg.MaxConcurrentJobs)
	}
	if cfg.KeepThreshold != 0.4 {
		t.Errorf("KeepThreshold = %v, want 0.4", cfg.KeepThreshold)
	}
	if cfg.PacingStrategy != "sequential" {
		t.Errorf("PacingStrategy = %q, want sequential", cfg.PacingStrategy)
	}
	if !cfg.CaptionsDefault {
		t.Error("CaptionsDefault should be true")
	}
}

func TestLoadRequiredFields(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORAGE_URL", "https://storage.example.com")
	t.Setenv("STORAGE_KEY", "test-key")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("expected DATABASE_URL error, got %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/reelforge")
	t.Setenv("STORAGE_KEY", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "STORAGE") {
		t.Errorf("expected storage error, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	setRequired(t)
	t.Setenv("MIN_TARGET_SECONDS", "20")
	t.Setenv("MAX_TARGET_SECONDS", "10")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "target duration bounds") {
		t.Errorf("expected bounds error, got %v", err)
	}

	setRequired(t)
	t.Setenv("MIN_TARGET_SECONDS", "15")
	t.Setenv("MAX_TARGET_SECONDS", "60")
	t.Setenv("DEFAULT_TARGET_SECONDS", "5")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DEFAULT_TARGET_SECONDS") {
		t.Errorf("expected default-target error, got %v", err)
	}

	setRequired(t)
	t.Setenv("DEFAULT_TARGET_SECONDS", "30")
	t.Setenv("WEIGHT_MOTION", "0")
	t.Setenv("WEIGHT_AUDIO", "0")
	t.Setenv("WEIGHT_RETAKE", "0")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "weights") {
		t.Errorf("expected weights error, got %v", err)
	}

	setRequired(t)
	t.Setenv("WEIGHT_MOTION", "0.4")
	t.Setenv("WEIGHT_AUDIO", "0.4")
	t.Setenv("WEIGHT_RETAKE", "0.2")
	t.Setenv("PACING_STRATEGY", "shuffle")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "PACING_STRATEGY") {
		t.Errorf("expected pacing error, got %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")
	if got := getEnvInt("TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt fallback = %d, want 7", got)
	}

	t.Setenv("TEST_BOOL", "definitely")
	if got := getEnvBool("TEST_BOOL", true); !got {
		t.Error("getEnvBool should fall back on unparseable value")
	}

	t.Setenv("TEST_FLOAT", "2.5")
	if got := getEnvFloat("TEST_FLOAT", 1.0); got != 2.5 {
		t.Errorf("getEnvFloat = %v, want 2.5", got)
	}
}
