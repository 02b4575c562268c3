package services

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/models"
)

// silencedetect tuning for music tracks. Breaks half a second long are
// treated as structure; the energy re-entry after each break is an onset.
const (
	musicSilenceNoiseDB  = -30.0
	musicSilenceDuration = 0.5
)

// AudioSyncService aligns an optional background track to the edit
// plan. It only moves cut timing and loop/trim points; segment
// selection is untouchable here.
type AudioSyncService struct {
	ffmpeg *FFmpegService
	cfg    *config.Config
	logger zerolog.Logger
}

func NewAudioSyncService(ffmpeg *FFmpegService, cfg *config.Config, logger zerolog.Logger) *AudioSyncService {
	return &AudioSyncService{
		ffmpeg: ffmpeg,
		cfg:    cfg,
		logger: logger,
	}
}

// PrepareTrack probes the music file and derives its onset markers from
// silence-edge structure. A track whose onsets can't be computed is
// still usable; it just won't drive cut snapping.
func (s *AudioSyncService) PrepareTrack(ctx context.Context, path string) (*models.AudioTrack, error) {
	probe, err := s.ffmpeg.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe music track: %w", err)
	}
	if !probe.HasAudio || probe.Duration <= 0 {
		return nil, fmt.Errorf("music track has no audio stream")
	}

	track := &models.AudioTrack{
		LocalPath: path,
		Duration:  probe.Duration,
	}

	intervals, err := s.ffmpeg.DetectSilence(ctx, path, musicSilenceNoiseDB, musicSilenceDuration)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn().Err(err).Str("track", path).Msg("onset detection failed, cuts stay at planner positions")
		return track, nil
	}

	track.Onsets = onsetsFromSilence(intervals, probe.Duration)

	s.logger.Info().
		Str("track", path).
		Float64("duration", track.Duration).
		Int("onsets", len(track.Onsets)).
		Msg("music track prepared")

	return track, nil
}

// onsetsFromSilence marks each energy re-entry (silence end) as an
// onset, ascending, strictly inside the track.
func onsetsFromSilence(intervals []SilenceInterval, duration float64) []float64 {
	var onsets []float64
	for _, iv := range intervals {
		if iv.End > 0 && iv.End < duration {
			onsets = append(onsets, iv.End)
		}
	}
	return onsets
}

// Align snaps the plan's internal cut points to the track's onsets and
// returns how many cuts moved. With fewer than two onsets, or no track,
// cuts stay where the planner put them; the track then just loops or
// trims to the plan's duration at render time.
//
// Snapping only ever trims an entry's tail. Extending would need source
// frames past the segment end, and a cut is left alone whenever moving
// it would shrink the entry below the minimum segment duration or pull
// the plan total outside its target tolerance.
func (s *AudioSyncService) Align(plan *models.EditPlan, track *models.AudioTrack) int {
	if track == nil || len(track.Onsets) < 2 || track.Duration <= 0 {
		return 0
	}

	snapped := 0
	var elapsed float64
	for i := 0; i < len(plan.Entries)-1; i++ {
		entry := &plan.Entries[i]
		cut := elapsed + entry.Segment.Duration()

		onset, ok := nearestOnset(track, cut, s.cfg.OnsetSnapSeconds)
		if ok {
			shift := cut - onset // positive when the onset is earlier
			newDuration := entry.Segment.Duration() - shift
			newTotal := plan.TotalDuration - shift
			if shift > 0 &&
				newDuration >= s.cfg.MinSegmentSeconds &&
				newTotal >= plan.TargetDuration-planEpsilon {
				entry.Segment.End -= shift
				plan.TotalDuration = newTotal
				snapped++
			}
		}

		elapsed += entry.Segment.Duration()
	}

	if snapped > 0 {
		s.logger.Info().
			Int("snapped", snapped).
			Float64("total", plan.TotalDuration).
			Msg("cut points snapped to onsets")
	}

	return snapped
}

// nearestOnset finds the closest onset to the cut's position in music
// time, accounting for track looping, within the snap window.
func nearestOnset(track *models.AudioTrack, cut, window float64) (float64, bool) {
	musicPos := math.Mod(cut, track.Duration)

	bestDist := math.Inf(1)
	var bestShiftTo float64
	for _, onset := range track.Onsets {
		for _, candidate := range []float64{onset, onset - track.Duration, onset + track.Duration} {
			dist := math.Abs(musicPos - candidate)
			if dist < bestDist {
				bestDist = dist
				bestShiftTo = cut - (musicPos - candidate)
			}
		}
	}

	if bestDist > window {
		return 0, false
	}
	return bestShiftTo, true
}
