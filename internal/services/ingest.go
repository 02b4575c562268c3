package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/models"
)

// MaxClips is the hard ceiling on input clips per reel.
const MaxClips = 4

// IngestService validates raw footage and prepares it for analysis. It
// never mutates the input bytes; normalization to the output frame rate
// and geometry happens once, at render time.
type IngestService struct {
	ffmpeg *FFmpegService
	cfg    *config.Config
	logger zerolog.Logger
}

func NewIngestService(ffmpeg *FFmpegService, cfg *config.Config, logger zerolog.Logger) *IngestService {
	return &IngestService{
		ffmpeg: ffmpeg,
		cfg:    cfg,
		logger: logger,
	}
}

// ValidateCount checks the number of submitted clips against the 1..4 bound.
func ValidateCount(n int) error {
	if n == 0 {
		return models.ErrEmptyInput
	}
	if n > MaxClips {
		return fmt.Errorf("too many clips: %d (max %d)", n, MaxClips)
	}
	return nil
}

// Ingest probes and fingerprints one staged clip, filling its media
// fields in place. clip.LocalPath must point at the staged file.
//
// Unreadable files, files without a video stream, and files over the
// configured limits return UnsupportedMediaError. A clip that decodes
// to zero duration fails the whole submission with ErrEmptyInput.
func (s *IngestService) Ingest(ctx context.Context, clip *models.Clip) error {
	if clip.LocalPath == "" {
		return fmt.Errorf("clip %d has no staged file", clip.SourceIndex)
	}

	info, err := os.Stat(clip.LocalPath)
	if err != nil {
		return &models.UnsupportedMediaError{Filename: clip.Filename, Reason: "file unreadable"}
	}
	if s.cfg.MaxClipBytes > 0 && info.Size() > s.cfg.MaxClipBytes {
		return &models.UnsupportedMediaError{
			Filename: clip.Filename,
			Reason:   fmt.Sprintf("file size %d exceeds limit %d", info.Size(), s.cfg.MaxClipBytes),
		}
	}

	fingerprint, err := fingerprintFile(clip.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to fingerprint %s: %w", clip.Filename, err)
	}
	clip.Fingerprint = fingerprint

	probe, err := s.ffmpeg.Probe(ctx, clip.LocalPath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.UnsupportedMediaError{Filename: clip.Filename, Reason: "unreadable container"}
	}
	if err := s.validateProbe(clip.Filename, probe); err != nil {
		return err
	}

	clip.Duration = probe.Duration
	clip.FPS = probe.FPS
	clip.Width = probe.Width
	clip.Height = probe.Height
	clip.HasAudio = probe.HasAudio

	// The analyzer and Whisper both read a mono 16kHz WAV, extracted once.
	if clip.HasAudio {
		audioPath := filepath.Join(filepath.Dir(clip.LocalPath), fmt.Sprintf("clip_%02d.wav", clip.SourceIndex))
		if err := s.ffmpeg.ExtractAudio(ctx, clip.LocalPath, audioPath); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A broken audio stream downgrades the clip to video-only
			// rather than failing ingest.
			s.logger.Warn().Err(err).
				Str("clip_id", clip.ID.String()).
				Msg("audio extraction failed, treating clip as silent")
			clip.HasAudio = false
		} else {
			clip.AudioPath = audioPath
		}
	}

	s.logger.Info().
		Str("clip_id", clip.ID.String()).
		Int("source_index", clip.SourceIndex).
		Float64("duration", clip.Duration).
		Int("width", clip.Width).
		Int("height", clip.Height).
		Bool("has_audio", clip.HasAudio).
		Msg("clip ingested")

	return nil
}

// validateProbe applies the stream and duration checks to a probe result.
func (s *IngestService) validateProbe(filename string, probe *ProbeResult) error {
	if !probe.HasVideo {
		return &models.UnsupportedMediaError{Filename: filename, Reason: "no video stream"}
	}
	if s.cfg.MaxClipSeconds > 0 && probe.Duration > s.cfg.MaxClipSeconds {
		return &models.UnsupportedMediaError{
			Filename: filename,
			Reason:   fmt.Sprintf("duration %.1fs exceeds limit %.0fs", probe.Duration, s.cfg.MaxClipSeconds),
		}
	}
	if probe.Duration <= 0 {
		return fmt.Errorf("%s decodes to zero duration: %w", filename, models.ErrEmptyInput)
	}
	return nil
}

// fingerprintFile returns the hex sha256 of the file contents.
func fingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
