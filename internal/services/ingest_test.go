package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/models"
)

func TestValidateCount(t *testing.T) {
	if err := ValidateCount(0); !errors.Is(err, models.ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput for zero clips, got %v", err)
	}

	for n := 1; n <= MaxClips; n++ {
		if err := ValidateCount(n); err != nil {
			t.Errorf("expected %d clips to be valid, got %v", n, err)
		}
	}

	if err := ValidateCount(MaxClips + 1); err == nil {
		t.Error("expected error for too many clips")
	}
}

func TestFingerprintFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.bin")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	got, err := fingerprintFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("fingerprint = %q, want %q", got, want)
	}

	if _, err := fingerprintFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIngestRejectsOversizeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.mp4")
	if err := os.WriteFile(path, make([]byte, 64), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	svc := NewIngestService(nil, &config.Config{MaxClipBytes: 10}, zerolog.Nop())
	clip := &models.Clip{Filename: "big.mp4", LocalPath: path}

	err := svc.Ingest(context.Background(), clip)
	var unsupported *models.UnsupportedMediaError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedMediaError, got %v", err)
	}
	if unsupported.Filename != "big.mp4" {
		t.Errorf("error names wrong file: %q", unsupported.Filename)
	}
}

func TestIngestRejectsZeroDuration(t *testing.T) {
	svc := NewIngestService(nil, &config.Config{MaxClipSeconds: 600}, zerolog.Nop())

	for _, duration := range []float64{0, -1} {
		err := svc.validateProbe("frozen.mp4", &ProbeResult{HasVideo: true, Duration: duration})
		if !errors.Is(err, models.ErrEmptyInput) {
			t.Fatalf("duration %v: expected ErrEmptyInput, got %v", duration, err)
		}
		if !strings.Contains(err.Error(), "frozen.mp4") {
			t.Errorf("error should name the file: %v", err)
		}
	}

	if err := svc.validateProbe("ok.mp4", &ProbeResult{HasVideo: true, Duration: 12}); err != nil {
		t.Errorf("unexpected error for a valid probe: %v", err)
	}
}

func TestValidateProbeUnsupportedMedia(t *testing.T) {
	svc := NewIngestService(nil, &config.Config{MaxClipSeconds: 600}, zerolog.Nop())

	var unsupported *models.UnsupportedMediaError
	if err := svc.validateProbe("audio.m4a", &ProbeResult{HasVideo: false, Duration: 30}); !errors.As(err, &unsupported) {
		t.Errorf("expected UnsupportedMediaError for missing video stream, got %v", err)
	}
	if err := svc.validateProbe("long.mp4", &ProbeResult{HasVideo: true, Duration: 601}); !errors.As(err, &unsupported) {
		t.Errorf("expected UnsupportedMediaError for over-length clip, got %v", err)
	}
}

func TestIngestMissingFile(t *testing.T) {
	svc := NewIngestService(nil, &config.Config{}, zerolog.Nop())

	clip := &models.Clip{Filename: "gone.mp4", LocalPath: filepath.Join(t.TempDir(), "gone.mp4")}
	err := svc.Ingest(context.Background(), clip)
	var unsupported *models.UnsupportedMediaError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedMediaError, got %v", err)
	}

	if err := svc.Ingest(context.Background(), &models.Clip{Filename: "x.mp4"}); err == nil {
		t.Error("expected error for clip with no staged file")
	}
}
