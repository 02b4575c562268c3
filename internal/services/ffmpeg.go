package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// FFmpegService runs the ffmpeg and ffprobe processes for probing and
// signal extraction. Command construction for rendering lives in
// renderer.go; this service owns the processes and the temp directory.
// ---------------------------------------------------------------------------

type FFmpegService struct {
	tempDir string
	logger  zerolog.Logger
}

func NewFFmpegService(tempDir string, logger zerolog.Logger) (*FFmpegService, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	return &FFmpegService{
		tempDir: tempDir,
		logger:  logger,
	}, nil
}

// RunDir creates and returns the scratch directory for a single pipeline run.
func (s *FFmpegService) RunDir(runID string) (string, error) {
	dir := filepath.Join(s.tempDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run dir: %w", err)
	}
	return dir, nil
}

// CleanupDir removes an entire run directory.
func (s *FFmpegService) CleanupDir(dir string) {
	if dir == "" || dir == s.tempDir {
		return
	}
	os.RemoveAll(dir)
}

// ---------------------------------------------------------------------------
// Probing
// ---------------------------------------------------------------------------

// ProbeResult holds the stream metadata the pipeline needs from a media file.
type ProbeResult struct {
	Duration   float64 // seconds
	FPS        float64
	Width      int
	Height     int
	HasVideo   bool
	HasAudio   bool
	VideoCodec string
	AudioCodec string
}

// probeOutput matches the ffprobe JSON structure.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// Probe extracts container and stream metadata using ffprobe.
func (s *FFmpegService) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		result.Duration = dur
	}

	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			result.HasVideo = true
			result.Width = stream.Width
			result.Height = stream.Height
			result.VideoCodec = stream.CodecName
			if stream.RFrameRate != "" {
				result.FPS = parseFrameRate(stream.RFrameRate)
			}
		case "audio":
			result.HasAudio = true
			result.AudioCodec = stream.CodecName
		}
	}

	return result, nil
}

// parseFrameRate converts an ffprobe rational like "30000/1001" to a float.
func parseFrameRate(rate string) float64 {
	parts := strings.Split(rate, "/")
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	fps, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 0
	}
	return fps
}

// ---------------------------------------------------------------------------
// Signal extraction: silence, volume, scene scores
// ---------------------------------------------------------------------------

// ExtractAudio writes the audio stream as mono 16kHz PCM WAV, the format
// both the analyzer and Whisper consume.
func (s *FFmpegService) ExtractAudio(ctx context.Context, input, output string) error {
	args := []string{
		"-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		output,
	}

	if _, err := s.runCapture(ctx, args); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg audio extraction failed: %w", err)
	}
	return nil
}

// SilenceInterval is one silent stretch reported by silencedetect.
type SilenceInterval struct {
	Start    float64
	End      float64
	Duration float64
}

// DetectSilence finds silent stretches quieter than noiseDB lasting at
// least minDuration seconds.
func (s *FFmpegService) DetectSilence(ctx context.Context, input string, noiseDB, minDuration float64) ([]SilenceInterval, error) {
	args := []string{
		"-i", input,
		"-af", fmt.Sprintf("silencedetect=noise=%.1fdB:d=%.2f", noiseDB, minDuration),
		"-f", "null",
		"-",
	}

	output, err := s.runCapture(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// silencedetect writes its report to stderr even when the null
		// muxer exits non-zero; parse whatever was captured.
		if output == "" {
			return nil, fmt.Errorf("ffmpeg silence detection failed: %w", err)
		}
		s.logger.Warn().Err(err).Str("input", input).Msg("silence detection exited non-zero, parsing captured output")
	}

	return parseSilenceOutput(output), nil
}

// parseSilenceOutput extracts silence intervals from ffmpeg stderr.
func parseSilenceOutput(output string) []SilenceInterval {
	var intervals []SilenceInterval
	var currentStart float64

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "silence_start:") {
			parts := strings.Split(line, "silence_start:")
			if len(parts) == 2 {
				currentStart, _ = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			}
		} else if strings.Contains(line, "silence_end:") {
			parts := strings.Split(line, "silence_end:")
			if len(parts) != 2 {
				continue
			}
			fields := strings.Fields(strings.TrimSpace(parts[1]))
			if len(fields) == 0 {
				continue
			}
			end, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				continue
			}

			duration := end - currentStart
			if durParts := strings.Split(line, "silence_duration:"); len(durParts) == 2 {
				if d, err := strconv.ParseFloat(strings.TrimSpace(durParts[1]), 64); err == nil {
					duration = d
				}
			}

			intervals = append(intervals, SilenceInterval{
				Start:    currentStart,
				End:      end,
				Duration: duration,
			})
		}
	}

	return intervals
}

// VolumeStats holds volumedetect results in dB.
type VolumeStats struct {
	MeanVolume float64
	MaxVolume  float64
}

// MeasureVolume runs volumedetect over the file's audio stream.
func (s *FFmpegService) MeasureVolume(ctx context.Context, input string) (*VolumeStats, error) {
	args := []string{
		"-i", input,
		"-af", "volumedetect",
		"-f", "null",
		"-",
	}

	output, err := s.runCapture(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if output == "" {
			return nil, fmt.Errorf("ffmpeg volume detection failed: %w", err)
		}
		s.logger.Warn().Err(err).Str("input", input).Msg("volume detection exited non-zero, parsing captured output")
	}

	return parseVolumeOutput(output), nil
}

// parseVolumeOutput extracts volumedetect stats from ffmpeg stderr.
func parseVolumeOutput(output string) *VolumeStats {
	stats := &VolumeStats{}

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "mean_volume:") {
			parts := strings.Split(line, "mean_volume:")
			if len(parts) == 2 {
				fields := strings.Fields(strings.TrimSpace(parts[1]))
				if len(fields) > 0 {
					stats.MeanVolume, _ = strconv.ParseFloat(fields[0], 64)
				}
			}
		} else if strings.Contains(line, "max_volume:") {
			parts := strings.Split(line, "max_volume:")
			if len(parts) == 2 {
				fields := strings.Fields(strings.TrimSpace(parts[1]))
				if len(fields) > 0 {
					stats.MaxVolume, _ = strconv.ParseFloat(fields[0], 64)
				}
			}
		}
	}

	return stats
}

// ScenePoint is one frame's inter-frame difference score.
type ScenePoint struct {
	Time  float64
	Score float64
}

// SceneScores samples the per-frame scene-change score across the whole
// clip. Scores range 0..1; hard cuts show up as spikes.
func (s *FFmpegService) SceneScores(ctx context.Context, input string) ([]ScenePoint, error) {
	args := []string{
		"-i", input,
		"-vf", "select='gte(scene,0)',metadata=print",
		"-f", "null",
		"-",
	}

	output, err := s.runCapture(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if output == "" {
			return nil, fmt.Errorf("ffmpeg scene scoring failed: %w", err)
		}
		s.logger.Warn().Err(err).Str("input", input).Msg("scene scoring exited non-zero, parsing captured output")
	}

	return parseSceneScores(output), nil
}

// parseSceneScores pairs metadata=print frame lines with their
// lavfi.scene_score values:
//
//	frame:12  pts:6144  pts_time:0.512
//	lavfi.scene_score=0.031842
func parseSceneScores(output string) []ScenePoint {
	var points []ScenePoint
	var pendingTime float64
	var havePending bool

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "pts_time:") {
			parts := strings.Split(line, "pts_time:")
			if len(parts) == 2 {
				fields := strings.Fields(strings.TrimSpace(parts[1]))
				if len(fields) > 0 {
					if t, err := strconv.ParseFloat(fields[0], 64); err == nil {
						pendingTime = t
						havePending = true
					}
				}
			}
		} else if strings.Contains(line, "lavfi.scene_score=") {
			if !havePending {
				continue
			}
			parts := strings.Split(line, "lavfi.scene_score=")
			if len(parts) == 2 {
				if score, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err == nil {
					points = append(points, ScenePoint{Time: pendingTime, Score: score})
				}
			}
			havePending = false
		}
	}

	return points
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Run executes ffmpeg with the given arguments, logging stderr at debug
// level and including its tail in any error.
func (s *FFmpegService) Run(ctx context.Context, args []string) error {
	output, err := s.runCapture(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w (%s)", err, tail(output, 400))
	}
	return nil
}

// runCapture executes ffmpeg and returns its combined output.
func (s *FFmpegService) runCapture(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), err
	}

	s.logger.Debug().Str("args", strings.Join(args, " ")).Msg("ffmpeg completed")
	return string(output), nil
}

// WriteConcatList writes an ffmpeg concat-demuxer list file into dir.
func (s *FFmpegService) WriteConcatList(dir string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("no files to concatenate")
	}

	listPath := filepath.Join(dir, "concat_list.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}
	defer f.Close()

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve concat path: %w", err)
		}
		if _, err := fmt.Fprintf(f, "file '%s'\n", abs); err != nil {
			return "", fmt.Errorf("failed to write concat list: %w", err)
		}
	}

	return listPath, nil
}

// escapeFilterPath escapes characters ffmpeg filter syntax treats
// specially in file paths (colons, backslashes, single quotes).
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}

// tail returns at most n trailing bytes of s with newlines flattened.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return strings.ReplaceAll(s, "\n", " | ")
}
