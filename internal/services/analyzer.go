package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/models"
)

// ---------------------------------------------------------------------------
// AnalyzerService turns one clip's timeline into scored, classified
// segments. Signal extraction (ffmpeg, Whisper, Gemini) is separated from
// scoring so the scoring path is a pure function of a ClipSignals value.
// ---------------------------------------------------------------------------

const (
	// A per-frame scene score of 0.1 is already substantial motion;
	// anything at or above it scores as full activity.
	motionFullScale = 0.1

	// Scene scores at or above this mark an abrupt cut, one of the two
	// retake markers.
	hardCutThreshold = 0.4
	hardCutSignal    = 0.6

	// A repeated phrase within this many seconds marks the earlier
	// occurrence as an abandoned take.
	retakeRepeatGap = 15.0

	// Score boost for windows overlapping a Gemini cut suggestion.
	suggestionBoost = 0.15

	// silencedetect tuning for clip audio.
	clipSilenceNoiseDB  = -35.0
	clipSilenceDuration = 0.3
)

// ClipSignals carries everything the scorer consumes for one clip.
type ClipSignals struct {
	Duration float64
	HasAudio bool
	Scene    []ScenePoint
	Silence  []SilenceInterval
	Volume   *VolumeStats
	Words    []models.WordTimestamp
	Boosts   []CutSuggestion
}

// windowScore is one scored analysis window.
type windowScore struct {
	start, end float64
	motion     float64
	audio      float64
	retake     float64
	composite  float64
	speech     bool
	dead       bool
	class      models.SegmentClass
}

type AnalyzerService struct {
	ffmpeg *FFmpegService
	openai *OpenAIService
	gemini *GeminiService
	cfg    *config.Config
	logger zerolog.Logger
}

// NewAnalyzerService wires the analyzer. openai and gemini are optional;
// nil disables transcription and cut suggestions respectively.
func NewAnalyzerService(ffmpeg *FFmpegService, openai *OpenAIService, gemini *GeminiService, cfg *config.Config, logger zerolog.Logger) *AnalyzerService {
	return &AnalyzerService{
		ffmpeg: ffmpeg,
		openai: openai,
		gemini: gemini,
		cfg:    cfg,
		logger: logger,
	}
}

// ClipAnalysis is the analyzer's output for one clip. The transcript is
// carried alongside the segments so captions can be rebuilt later
// without transcribing again.
type ClipAnalysis struct {
	Segments   []models.Segment
	Transcript []models.WordTimestamp
}

// Analyze produces the clip's ordered, non-overlapping segments.
func (s *AnalyzerService) Analyze(ctx context.Context, clip *models.Clip) (*ClipAnalysis, error) {
	signals, err := s.extractSignals(ctx, clip)
	if err != nil {
		return nil, err
	}

	segments := s.segmentClip(clip, signals)

	keeps := 0
	for _, seg := range segments {
		if seg.Class == models.SegmentKeep {
			keeps++
		}
	}
	s.logger.Info().
		Str("clip_id", clip.ID.String()).
		Int("source_index", clip.SourceIndex).
		Int("segments", len(segments)).
		Int("keep", keeps).
		Msg("clip analyzed")

	return &ClipAnalysis{Segments: segments, Transcript: signals.Words}, nil
}

// extractSignals runs the ffmpeg probes and the optional AI enrichments.
// Whisper and Gemini failures degrade to missing signals; the local
// scene/silence/volume extraction is required and fails the clip.
func (s *AnalyzerService) extractSignals(ctx context.Context, clip *models.Clip) (*ClipSignals, error) {
	signals := &ClipSignals{
		Duration: clip.Duration,
		HasAudio: clip.HasAudio,
	}

	scene, err := s.ffmpeg.SceneScores(ctx, clip.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("motion signal extraction failed: %w", err)
	}
	signals.Scene = scene

	if clip.HasAudio && clip.AudioPath != "" {
		silence, err := s.ffmpeg.DetectSilence(ctx, clip.AudioPath, clipSilenceNoiseDB, clipSilenceDuration)
		if err != nil {
			return nil, fmt.Errorf("silence signal extraction failed: %w", err)
		}
		signals.Silence = silence

		volume, err := s.ffmpeg.MeasureVolume(ctx, clip.AudioPath)
		if err != nil {
			return nil, fmt.Errorf("volume signal extraction failed: %w", err)
		}
		signals.Volume = volume

		if s.openai != nil {
			words, err := s.openai.TranscribeFile(ctx, clip.AudioPath)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.Warn().Err(err).
					Str("clip_id", clip.ID.String()).
					Msg("transcription failed, scoring without speech signal")
			} else {
				signals.Words = words
			}
		}
	}

	if s.gemini != nil {
		boosts, err := s.gemini.SuggestCuts(ctx, clip.LocalPath, clip.SourceIndex, clip.Duration)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn().Err(err).
				Str("clip_id", clip.ID.String()).
				Msg("cut suggestions failed, scoring on local signals only")
		} else {
			signals.Boosts = boosts
		}
	}

	return signals, nil
}

// segmentClip is the pure scoring path: windows, classification, merge,
// glitch drop, starvation guard.
func (s *AnalyzerService) segmentClip(clip *models.Clip, signals *ClipSignals) []models.Segment {
	windows := s.scoreWindows(signals)
	if len(windows) == 0 {
		return nil
	}

	s.classifyWindows(windows)
	segments := s.mergeWindows(clip, windows)

	// Windows shorter than the glitch floor carry no usable content.
	kept := segments[:0]
	for _, seg := range segments {
		if seg.Duration() >= s.cfg.MinSegmentSeconds {
			kept = append(kept, seg)
		}
	}

	// A clip with no keep content still contributes its best window, so
	// the planner never starves on single-clip input.
	hasKeep := false
	for _, seg := range kept {
		if seg.Class == models.SegmentKeep {
			hasKeep = true
			break
		}
	}
	if !hasKeep {
		best := windows[0]
		for _, w := range windows[1:] {
			if w.composite > best.composite {
				best = w
			}
		}
		return []models.Segment{{
			ClipID:      clip.ID,
			SourceIndex: clip.SourceIndex,
			Start:       best.start,
			End:         best.end,
			Score:       best.composite,
			Class:       models.SegmentKeep,
			Tags:        windowTags(best),
		}}
	}

	return kept
}

// scoreWindows slides the scoring window across the clip and computes
// the component and composite scores for each.
func (s *AnalyzerService) scoreWindows(signals *ClipSignals) []windowScore {
	bounds := windowBounds(signals.Duration, s.cfg.ScoreWindowSeconds)
	if len(bounds) == 0 {
		return nil
	}

	loudness := loudnessWeight(signals.Volume)
	weightSum := s.cfg.WeightMotion + s.cfg.WeightAudio + s.cfg.WeightRetake

	windows := make([]windowScore, 0, len(bounds))
	for _, b := range bounds {
		w := windowScore{start: b[0], end: b[1]}

		w.motion = clamp01(meanSceneScore(signals.Scene, w.start, w.end) / motionFullScale)

		if signals.HasAudio {
			voiced := 1 - silenceCoverage(signals.Silence, w.start, w.end)
			w.audio = clamp01(voiced * loudness)
		}

		w.retake = retakeSignal(signals, w.start, w.end)
		w.speech = wordsOverlap(signals.Words, w.start, w.end)

		// The third signal enters as the absence of retake markers, so a
		// clean window scores high and a flubbed one scores low.
		w.composite = (s.cfg.WeightMotion*w.motion +
			s.cfg.WeightAudio*w.audio +
			s.cfg.WeightRetake*(1-w.retake)) / weightSum

		for _, boost := range signals.Boosts {
			if overlapSeconds(w.start, w.end, boost.StartTime, boost.EndTime) > 0 {
				w.composite = clamp01(w.composite + suggestionBoost)
				break
			}
		}

		windows = append(windows, w)
	}

	return windows
}

// classifyWindows assigns a class to every window in place.
//
// Dead time needs run length: motion and audio both under the floor
// only count once the idle stretch reaches MinIdleSeconds. Shorter idle
// runs fall back to the score-based classes.
func (s *AnalyzerService) classifyWindows(windows []windowScore) {
	for i := range windows {
		windows[i].dead = windows[i].motion < s.cfg.DeadtimeFloor && windows[i].audio < s.cfg.DeadtimeFloor
	}

	for i := 0; i < len(windows); {
		if !windows[i].dead {
			i++
			continue
		}
		j := i
		for j < len(windows) && windows[j].dead {
			j++
		}
		if windows[j-1].end-windows[i].start < s.cfg.MinIdleSeconds {
			for k := i; k < j; k++ {
				windows[k].dead = false
			}
		}
		i = j
	}

	for i := range windows {
		switch {
		case windows[i].dead:
			windows[i].class = models.SegmentDiscardDeadtime
		case windows[i].composite < s.cfg.KeepThreshold && windows[i].retake > 0:
			windows[i].class = models.SegmentDiscardMistake
		default:
			windows[i].class = models.SegmentKeep
		}
	}

	// Near-equal scores on opposite sides of the keep threshold merge
	// rather than split. Dead time is floor-driven and never absorbed.
	for i := 0; i+1 < len(windows); i++ {
		a, b := &windows[i], &windows[i+1]
		if a.class == b.class ||
			a.class == models.SegmentDiscardDeadtime ||
			b.class == models.SegmentDiscardDeadtime {
			continue
		}
		if math.Abs(a.composite-b.composite) < s.cfg.MergeEpsilon {
			b.class = a.class
		}
	}
}

// mergeWindows collapses runs of same-class windows into segments with
// duration-weighted scores.
func (s *AnalyzerService) mergeWindows(clip *models.Clip, windows []windowScore) []models.Segment {
	var segments []models.Segment

	for i := 0; i < len(windows); {
		j := i
		for j < len(windows) && windows[j].class == windows[i].class {
			j++
		}

		run := windows[i:j]
		var scoreSum, durSum float64
		merged := run[0]
		for _, w := range run {
			d := w.end - w.start
			scoreSum += w.composite * d
			durSum += d
			merged.motion = math.Max(merged.motion, w.motion)
			merged.retake = math.Max(merged.retake, w.retake)
			merged.speech = merged.speech || w.speech
		}
		score := 0.0
		if durSum > 0 {
			score = scoreSum / durSum
		}

		segments = append(segments, models.Segment{
			ClipID:      clip.ID,
			SourceIndex: clip.SourceIndex,
			Start:       run[0].start,
			End:         run[len(run)-1].end,
			Score:       score,
			Class:       windows[i].class,
			Tags:        windowTags(merged),
		})
		i = j
	}

	return segments
}

// windowTags derives segment tags from the dominant window signals.
func windowTags(w windowScore) []string {
	var tags []string
	if w.speech {
		tags = append(tags, "speech")
	}
	if w.motion >= 0.6 {
		tags = append(tags, "high-motion")
	}
	if w.retake > 0 {
		tags = append(tags, "retake")
	}
	return tags
}

// windowBounds splits [0, duration) into scoring windows. A trailing
// sliver shorter than half a window extends the previous window instead
// of standing alone.
func windowBounds(duration, window float64) [][2]float64 {
	if duration <= 0 || window <= 0 {
		return nil
	}

	var bounds [][2]float64
	for start := 0.0; start < duration; start += window {
		end := start + window
		if end > duration {
			end = duration
		}
		bounds = append(bounds, [2]float64{start, end})
	}

	if n := len(bounds); n > 1 {
		last := bounds[n-1]
		if last[1]-last[0] < window/2 {
			bounds[n-2][1] = last[1]
			bounds = bounds[:n-1]
		}
	}

	return bounds
}

// meanSceneScore averages the scene scores sampled inside [start, end).
func meanSceneScore(points []ScenePoint, start, end float64) float64 {
	var sum float64
	var n int
	for _, p := range points {
		if p.Time >= start && p.Time < end {
			sum += p.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// silenceCoverage returns the fraction of [start, end) covered by
// silence intervals.
func silenceCoverage(intervals []SilenceInterval, start, end float64) float64 {
	if end <= start {
		return 0
	}
	var covered float64
	for _, iv := range intervals {
		covered += overlapSeconds(start, end, iv.Start, iv.End)
	}
	return clamp01(covered / (end - start))
}

// loudnessWeight maps the clip's mean volume to a 0..1 factor so that
// room-tone recordings don't score like speech. -60dB mean is treated
// as silent, -20dB as full scale.
func loudnessWeight(stats *VolumeStats) float64 {
	if stats == nil {
		return 0
	}
	return clamp01((stats.MeanVolume + 60) / 40)
}

// retakeSignal is the strongest retake marker inside the window: an
// abrupt cut or an overlapping repeated-phrase span.
func retakeSignal(signals *ClipSignals, start, end float64) float64 {
	var signal float64
	for _, p := range signals.Scene {
		if p.Time >= start && p.Time < end && p.Score >= hardCutThreshold {
			signal = hardCutSignal
			break
		}
	}
	for _, span := range retakeSpans(signals.Words) {
		if overlapSeconds(start, end, span.start, span.end) > 0 {
			return 1
		}
	}
	return signal
}

type timeSpan struct {
	start, end float64
}

// retakeSpans finds abandoned takes: when the same three-word run is
// spoken again within retakeRepeatGap seconds, the earlier occurrence
// is marked.
func retakeSpans(words []models.WordTimestamp) []timeSpan {
	const n = 3
	if len(words) < n*2 {
		return nil
	}

	normalized := make([]string, len(words))
	for i, w := range words {
		normalized[i] = strings.Trim(strings.ToLower(w.Word), ".,!?;:\"'")
	}

	type occurrence struct {
		index int
		start float64
		end   float64
	}
	seen := make(map[string]occurrence)
	var spans []timeSpan

	for i := 0; i+n <= len(words); i++ {
		key := strings.Join(normalized[i:i+n], " ")
		if key == "" || len(key) < n*2-1 {
			continue
		}
		occ := occurrence{index: i, start: words[i].Start, end: words[i+n-1].End}
		if prev, ok := seen[key]; ok && occ.start-prev.start <= retakeRepeatGap && i-prev.index >= n {
			spans = append(spans, timeSpan{start: prev.start, end: prev.end})
		}
		seen[key] = occ
	}

	return mergeSpans(spans)
}

// mergeSpans unions overlapping or touching spans.
func mergeSpans(spans []timeSpan) []timeSpan {
	if len(spans) < 2 {
		return spans
	}

	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].start < spans[j-1].start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}

	merged := spans[:1]
	for _, span := range spans[1:] {
		last := &merged[len(merged)-1]
		if span.start <= last.end {
			if span.end > last.end {
				last.end = span.end
			}
			continue
		}
		merged = append(merged, span)
	}
	return merged
}

// wordsOverlap reports whether any transcript word intersects the window.
func wordsOverlap(words []models.WordTimestamp, start, end float64) bool {
	for _, w := range words {
		if w.End > start && w.Start < end {
			return true
		}
	}
	return false
}

// overlapSeconds is the length of the intersection of two ranges.
func overlapSeconds(aStart, aEnd, bStart, bEnd float64) float64 {
	lo := math.Max(aStart, bStart)
	hi := math.Min(aEnd, bEnd)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
