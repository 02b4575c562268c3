package services

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/models"
)

// ---------------------------------------------------------------------------
// Renderer
//
// Turns an edit plan into the final 1080x1920 MP4. The work is split in
// two: BuildSteps expands the plan into a sequence of ffmpeg invocations
// (deterministic: the same inputs always yield the same commands), and
// Render executes that sequence, deleting every produced file if any
// step fails.
//
// Each entry is cut and normalized to an intermediate clip first, so the
// assembly stage only ever sees uniform streams. Entries from silent
// sources get a generated silent track; every intermediate therefore has
// both video and audio.
// ---------------------------------------------------------------------------

// ReelFPS is the constant output frame rate every entry is resampled
// to. Exported so plan exports can stamp matching timecodes.
const ReelFPS = 24

const (
	reelWidth  = 1080
	reelHeight = 1920

	renderAudioBitrate    = "192k"
	renderAudioSampleRate = 48000
)

// RenderInputs bundles everything one render needs. ThumbnailPath and
// CaptionsPath are optional; Music is nil for reels without a track.
type RenderInputs struct {
	Plan          *models.EditPlan
	Clips         []*models.Clip
	Music         *models.AudioTrack
	CaptionsPath  string // .ass file burned into the assembled video
	WorkDir       string
	OutputPath    string
	ThumbnailPath string
}

// RenderStep is one ffmpeg invocation. Output is the file the step
// creates, removed if a later step fails.
type RenderStep struct {
	Stage  string
	Args   []string
	Output string
}

type RenderService struct {
	ffmpeg *FFmpegService
	cfg    *config.Config
	logger zerolog.Logger
}

func NewRenderService(ffmpeg *FFmpegService, cfg *config.Config, logger zerolog.Logger) *RenderService {
	return &RenderService{
		ffmpeg: ffmpeg,
		cfg:    cfg,
		logger: logger.With().Str("component", "renderer").Logger(),
	}
}

// Render executes the plan and returns the finished reel. A failed step
// returns RenderError with no partial outputs left on disk; a cancelled
// context returns ctx.Err() unchanged.
func (s *RenderService) Render(ctx context.Context, in RenderInputs) (*models.RenderedReel, error) {
	steps, err := s.BuildSteps(in)
	if err != nil {
		return nil, &models.RenderError{Stage: "plan", Err: err}
	}

	if s.usesConcat(in) {
		paths := make([]string, len(in.Plan.Entries))
		for i := range in.Plan.Entries {
			paths[i] = entryPath(in.WorkDir, i)
		}
		if _, err := s.ffmpeg.WriteConcatList(in.WorkDir, paths); err != nil {
			return nil, &models.RenderError{Stage: "assemble", Err: err}
		}
	}

	s.logger.Info().
		Int("entries", len(in.Plan.Entries)).
		Int("steps", len(steps)).
		Str("transition", in.Plan.Transition).
		Bool("music", in.Music != nil).
		Bool("captions", in.CaptionsPath != "").
		Msg("render started")

	for _, step := range steps {
		if err := s.ffmpeg.Run(ctx, step.Args); err != nil {
			if ctx.Err() != nil {
				s.removeOutputs(steps)
				return nil, ctx.Err()
			}
			// The thumbnail runs last, over the finished reel. Losing it
			// is not worth losing the render.
			if step.Stage == "thumbnail" {
				os.Remove(step.Output)
				s.logger.Warn().Err(err).Msg("thumbnail grab failed")
				continue
			}
			s.removeOutputs(steps)
			return nil, &models.RenderError{Stage: step.Stage, Err: err}
		}
	}

	reel, err := s.inspectOutput(ctx, in.OutputPath)
	if err != nil {
		s.removeOutputs(steps)
		return nil, &models.RenderError{Stage: "verify", Err: err}
	}

	s.logger.Info().
		Float64("duration", reel.Duration).
		Int64("bytes", reel.SizeBytes).
		Msg("render finished")

	return reel, nil
}

// BuildSteps expands the plan into the ffmpeg invocations that realize
// it. The sequence depends only on the inputs.
func (s *RenderService) BuildSteps(in RenderInputs) ([]RenderStep, error) {
	if in.Plan == nil || len(in.Plan.Entries) == 0 {
		return nil, fmt.Errorf("plan has no entries")
	}
	if in.OutputPath == "" || in.WorkDir == "" {
		return nil, fmt.Errorf("work dir and output path are required")
	}

	theme, ok := models.ThemeByID(in.Plan.Theme)
	if !ok {
		return nil, fmt.Errorf("unknown theme %q", in.Plan.Theme)
	}
	transition, ok := models.TransitionByID(in.Plan.Transition)
	if !ok {
		return nil, fmt.Errorf("unknown transition %q", in.Plan.Transition)
	}

	clipsByIndex := make(map[int]*models.Clip, len(in.Clips))
	for _, c := range in.Clips {
		clipsByIndex[c.SourceIndex] = c
	}

	var steps []RenderStep

	for i, entry := range in.Plan.Entries {
		clip, ok := clipsByIndex[entry.Segment.SourceIndex]
		if !ok || clip.LocalPath == "" {
			return nil, fmt.Errorf("no local file for source clip %d", entry.Segment.SourceIndex)
		}
		steps = append(steps, s.cutStep(in.WorkDir, i, entry, clip, theme, transition))
	}

	assembled := in.OutputPath
	if in.Music != nil {
		assembled = filepath.Join(in.WorkDir, "assembled.mp4")
	}

	if s.usesConcat(in) {
		steps = append(steps, s.concatStep(in, assembled))
	} else {
		steps = append(steps, s.crossfadeStep(in, assembled))
	}

	if in.Music != nil {
		steps = append(steps, s.musicStep(assembled, in.Music.LocalPath, in.OutputPath))
	}

	if in.ThumbnailPath != "" {
		steps = append(steps, s.thumbnailStep(in.Plan, in.OutputPath, in.ThumbnailPath))
	}

	return steps, nil
}

// usesConcat reports whether assembly goes through the concat demuxer.
// Crossfades need the xfade filter graph instead, except for a single
// entry where there is nothing to blend.
func (s *RenderService) usesConcat(in RenderInputs) bool {
	return in.Plan.Transition != models.TransitionCrossfade || len(in.Plan.Entries) == 1
}

// cutStep extracts one entry from its source and normalizes it: 9:16
// center crop, 1080x1920, constant fps, encoded audio. Entries from
// silent clips get a generated silent track so every intermediate has
// the same stream layout.
func (s *RenderService) cutStep(workDir string, index int, entry models.PlanEntry, clip *models.Clip, theme models.ThemeSpec, transition models.TransitionSpec) RenderStep {
	duration := entry.Segment.Duration()
	output := entryPath(workDir, index)

	args := []string{
		"-ss", formatSeconds(entry.Segment.Start),
		"-i", clip.LocalPath,
	}
	if !clip.HasAudio {
		args = append(args,
			"-f", "lavfi",
			"-t", formatSeconds(duration),
			"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", renderAudioSampleRate),
		)
	}

	args = append(args,
		"-t", formatSeconds(duration),
		"-vf", s.entryFilter(entry, duration, theme, transition),
		"-map", "0:v",
	)
	if clip.HasAudio {
		args = append(args, "-map", "0:a")
	} else {
		args = append(args, "-map", "1:a")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", s.cfg.RenderPreset,
		"-crf", fmt.Sprintf("%d", s.cfg.RenderCRF),
		"-threads", fmt.Sprintf("%d", s.cfg.RenderThreads),
		"-c:a", "aac",
		"-b:a", renderAudioBitrate,
		"-ar", fmt.Sprintf("%d", renderAudioSampleRate),
		"-ac", "2",
		"-y",
		output,
	)

	return RenderStep{Stage: "cut", Args: args, Output: output}
}

// entryFilter builds the per-entry video filter chain: crop to 9:16,
// scale, theme, fps, fades, pixel format.
func (s *RenderService) entryFilter(entry models.PlanEntry, duration float64, theme models.ThemeSpec, transition models.TransitionSpec) string {
	filters := []string{
		fmt.Sprintf("crop=w=min(iw\\,ih*%d/%d):h=min(ih\\,iw*%d/%d)", reelWidth, reelHeight, reelHeight, reelWidth),
		fmt.Sprintf("scale=%d:%d", reelWidth, reelHeight),
		"setsar=1",
	}
	if theme.Filter != "" {
		filters = append(filters, theme.Filter)
	}
	filters = append(filters, fmt.Sprintf("fps=%d", ReelFPS))

	// The fade transition style fades every entry in and out at the cut
	// points. Otherwise only the reel-level flags on the first and last
	// entries apply.
	fadeIn := entry.FadeIn || transition.ID == models.TransitionFade
	fadeOut := entry.FadeOut || transition.ID == models.TransitionFade
	if fadeIn {
		filters = append(filters, fmt.Sprintf("fade=t=in:st=0:d=%s", formatSeconds(models.FadeDuration)))
	}
	if fadeOut {
		start := duration - models.FadeDuration
		if start < 0 {
			start = 0
		}
		filters = append(filters, fmt.Sprintf("fade=t=out:st=%s:d=%s", formatSeconds(start), formatSeconds(models.FadeDuration)))
	}

	filters = append(filters, "format=yuv420p")
	return strings.Join(filters, ",")
}

// concatStep joins the intermediates with the concat demuxer. Without
// captions the uniform streams are copied as-is; burning captions
// forces one re-encode of the video stream.
func (s *RenderService) concatStep(in RenderInputs, output string) RenderStep {
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", filepath.Join(in.WorkDir, "concat_list.txt"),
	}

	if in.CaptionsPath != "" {
		args = append(args,
			"-vf", fmt.Sprintf("ass='%s'", escapeFilterPath(in.CaptionsPath)),
			"-c:v", "libx264",
			"-preset", s.cfg.RenderPreset,
			"-crf", fmt.Sprintf("%d", s.cfg.RenderCRF),
			"-threads", fmt.Sprintf("%d", s.cfg.RenderThreads),
			"-c:a", "copy",
		)
	} else {
		args = append(args, "-c", "copy")
	}

	args = append(args, "-y", output)
	return RenderStep{Stage: "assemble", Args: args, Output: output}
}

// crossfadeStep blends consecutive intermediates with xfade/acrossfade
// in a single filter graph. Each overlap is capped at half the shorter
// neighbor so the blend never consumes a whole entry.
func (s *RenderService) crossfadeStep(in RenderInputs, output string) RenderStep {
	entries := in.Plan.Entries

	args := make([]string, 0, len(entries)*2+16)
	for i := range entries {
		args = append(args, "-i", entryPath(in.WorkDir, i))
	}

	var graph strings.Builder
	videoLabel := "0:v"
	audioLabel := "0:a"
	elapsed := entries[0].Segment.Duration()

	for i := 1; i < len(entries); i++ {
		duration := entries[i].Segment.Duration()
		overlap := crossfadeOverlap(entries[i-1].Segment.Duration(), duration)
		offset := elapsed - overlap

		nextVideo := fmt.Sprintf("v%d", i)
		nextAudio := fmt.Sprintf("a%d", i)
		fmt.Fprintf(&graph, "[%s][%d:v]xfade=transition=fade:duration=%s:offset=%s[%s];",
			videoLabel, i, formatSeconds(overlap), formatSeconds(offset), nextVideo)
		fmt.Fprintf(&graph, "[%s][%d:a]acrossfade=d=%s[%s];",
			audioLabel, i, formatSeconds(overlap), nextAudio)

		videoLabel = nextVideo
		audioLabel = nextAudio
		elapsed = offset + duration
	}

	if in.CaptionsPath != "" {
		fmt.Fprintf(&graph, "[%s]ass='%s'[vout];", videoLabel, escapeFilterPath(in.CaptionsPath))
		videoLabel = "vout"
	}

	filterComplex := strings.TrimSuffix(graph.String(), ";")

	args = append(args,
		"-filter_complex", filterComplex,
		"-map", "["+videoLabel+"]",
		"-map", "["+audioLabel+"]",
		"-c:v", "libx264",
		"-preset", s.cfg.RenderPreset,
		"-crf", fmt.Sprintf("%d", s.cfg.RenderCRF),
		"-threads", fmt.Sprintf("%d", s.cfg.RenderThreads),
		"-c:a", "aac",
		"-b:a", renderAudioBitrate,
		"-y",
		output,
	)

	return RenderStep{Stage: "assemble", Args: args, Output: output}
}

// crossfadeOverlap returns the blend length for one boundary.
func crossfadeOverlap(prev, next float64) float64 {
	overlap := models.FadeDuration
	if shorter := math.Min(prev, next); overlap > shorter/2 {
		overlap = shorter / 2
	}
	return overlap
}

// musicStep mixes the looping track under the assembled reel's audio.
// The loop runs until the video ends, which also trims a track longer
// than the reel.
func (s *RenderService) musicStep(videoPath, musicPath, output string) RenderStep {
	filterComplex := fmt.Sprintf(
		"[0:a]volume=1.0[voice];[1:a]volume=%.2f[music];[voice][music]amix=inputs=2:duration=first:dropout_transition=3[aout]",
		s.cfg.MusicVolume,
	)

	args := []string{
		"-i", videoPath,
		"-stream_loop", "-1", // Loop the music indefinitely
		"-i", musicPath,
		"-filter_complex", filterComplex,
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", renderAudioBitrate,
		"-shortest",
		"-y",
		output,
	}

	return RenderStep{Stage: "music", Args: args, Output: output}
}

// thumbnailStep grabs a single frame from the finished reel, one second
// in or at the midpoint of a very short reel.
func (s *RenderService) thumbnailStep(plan *models.EditPlan, videoPath, output string) RenderStep {
	var total float64
	for _, entry := range plan.Entries {
		total += entry.Segment.Duration()
	}
	at := math.Min(1.0, total/2)

	args := []string{
		"-ss", formatSeconds(at),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		output,
	}

	return RenderStep{Stage: "thumbnail", Args: args, Output: output}
}

// inspectOutput probes the finished file and fills the artifact record.
func (s *RenderService) inspectOutput(ctx context.Context, path string) (*models.RenderedReel, error) {
	probe, err := s.ffmpeg.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if probe.Duration <= 0 {
		return nil, fmt.Errorf("output has zero duration")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat output: %w", err)
	}

	checksum, err := fingerprintFile(path)
	if err != nil {
		return nil, err
	}

	return &models.RenderedReel{
		LocalPath: path,
		Duration:  probe.Duration,
		Width:     probe.Width,
		Height:    probe.Height,
		Checksum:  checksum,
		SizeBytes: info.Size(),
	}, nil
}

// removeOutputs deletes everything the steps produced.
func (s *RenderService) removeOutputs(steps []RenderStep) {
	for _, step := range steps {
		if step.Output == "" {
			continue
		}
		if err := os.Remove(step.Output); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", step.Output).Msg("failed to remove render output")
		}
	}
}

func entryPath(workDir string, index int) string {
	return filepath.Join(workDir, fmt.Sprintf("entry_%03d.mp4", index))
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
