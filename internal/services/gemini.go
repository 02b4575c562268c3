package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini cut suggestions
// Uploads a clip to the Gemini Files API and asks the model which spans
// are worth keeping. Suggestions only boost analyzer scores; they never
// bypass classification.
// ---------------------------------------------------------------------------

const (
	geminiPollInterval = 5 * time.Second
	geminiPollTimeout  = 5 * time.Minute

	// One initial attempt plus up to 3 retries, backing off 2s/4s/8s.
	geminiMaxRetries     = 3
	geminiInitialBackoff = 2 * time.Second
)

// CutSuggestion is one span the model proposes keeping in the reel.
type CutSuggestion struct {
	SourceIndex int     `json:"source_index"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Reason      string  `json:"reason"`
}

// GeminiService asks Gemini for cut suggestions over uploaded footage.
// It's optional; when nil, the analyzer scores on local signals alone.
type GeminiService struct {
	apiKey string
	model  string
	logger zerolog.Logger
}

func NewGeminiService(apiKey, model string, logger zerolog.Logger) *GeminiService {
	return &GeminiService{
		apiKey: apiKey,
		model:  model,
		logger: logger,
	}
}

const cutSystemPrompt = `You are a short-form video editor reviewing raw footage. You identify the spans worth keeping in a fast-paced highlight reel and you respond with JSON only.`

// buildCutPrompt asks for a JSON edit list over one clip.
func buildCutPrompt(sourceIndex int, duration float64) string {
	return fmt.Sprintf(`Review this raw clip (clip index %d, %.1f seconds long) and select the spans that belong in a highlight reel.

Rules:
- Pick the moments with real action, clear speech, or visual interest.
- Skip mistakes, restarts, filler, and dead air.
- Spans must not overlap and must lie within [0, %.1f] seconds.
- Prefer spans that contain a complete action or sentence.
- Return between 1 and 8 spans.

Respond with ONLY a JSON array in this exact shape:
[{"source_index": %d, "start_time": 1.5, "end_time": 4.0, "reason": "clean take of the jump"}]`,
		sourceIndex, duration, duration, sourceIndex)
}

// SuggestCuts uploads the clip, waits for Gemini to process it, and
// returns the model's suggested spans. Suggestions outside the clip's
// bounds are clamped; degenerate spans are dropped.
func (s *GeminiService) SuggestCuts(ctx context.Context, videoPath string, sourceIndex int, duration float64) ([]CutSuggestion, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	file, err := s.uploadAndWait(ctx, client, videoPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if _, err := client.Files.Delete(ctx, file.Name, nil); err != nil {
			s.logger.Warn().Err(err).Str("file", file.Name).Msg("failed to delete uploaded file")
		}
	}()

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{FileData: &genai.FileData{MIMEType: file.MIMEType, FileURI: file.URI}},
			{Text: buildCutPrompt(sourceIndex, duration)},
		},
	}}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: cutSystemPrompt}},
		},
	}

	resp, err := s.generateWithRetry(ctx, client, contents, config)
	if err != nil {
		return nil, err
	}

	raw := resp.Text()
	suggestions, err := parseCutSuggestions(raw)
	if err != nil {
		s.logger.Warn().
			Str("raw", truncateString(raw, 500)).
			Msg("failed to parse cut suggestions")
		return nil, fmt.Errorf("failed to parse cut suggestions: %w", err)
	}

	// Clamp to the clip and drop degenerate spans.
	kept := suggestions[:0]
	for _, sug := range suggestions {
		if sug.StartTime < 0 {
			sug.StartTime = 0
		}
		if sug.EndTime > duration {
			sug.EndTime = duration
		}
		if sug.EndTime <= sug.StartTime {
			continue
		}
		kept = append(kept, sug)
	}

	s.logger.Info().
		Int("source_index", sourceIndex).
		Int("suggestions", len(kept)).
		Msg("gemini cut suggestions received")

	return kept, nil
}

// uploadAndWait pushes the clip to the Files API and polls until it
// leaves the PROCESSING state.
func (s *GeminiService) uploadAndWait(ctx context.Context, client *genai.Client, videoPath string) (*genai.File, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open clip for upload: %w", err)
	}
	defer f.Close()

	uploadStart := time.Now()
	file, err := client.Files.Upload(ctx, f, &genai.UploadFileConfig{
		MIMEType: videoMIMEType(videoPath),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini file upload failed: %w", err)
	}

	s.logger.Debug().
		Str("file", file.Name).
		Dur("upload_duration", time.Since(uploadStart)).
		Msg("clip uploaded to gemini, waiting for processing")

	deadline := time.Now().Add(geminiPollTimeout)
	for file.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for gemini file processing after %v", geminiPollTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(geminiPollInterval):
		}
		file, err = client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get file state: %w", err)
		}
	}

	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("gemini file processing failed: %s", file.Name)
	}

	return file, nil
}

// generateWithRetry calls GenerateContent, retrying rate-limit and
// server errors with exponential backoff.
func (s *GeminiService) generateWithRetry(ctx context.Context, client *genai.Client, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	backoff := geminiInitialBackoff
	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := client.Models.GenerateContent(ctx, s.model, contents, config)
		if err == nil {
			if resp == nil || len(resp.Candidates) == 0 {
				return nil, fmt.Errorf("empty response from gemini")
			}
			return resp, nil
		}

		lastErr = err
		if attempt >= geminiMaxRetries || !isRetryableGeminiError(err) {
			return nil, fmt.Errorf("gemini request failed: %w", lastErr)
		}

		s.logger.Warn().Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("gemini request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// isRetryableGeminiError matches rate limits and transient server errors.
func isRetryableGeminiError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	retryable := []string{
		"429",
		"RESOURCE_EXHAUSTED",
		"500",
		"503",
		"INTERNAL",
		"UNAVAILABLE",
		"DEADLINE_EXCEEDED",
	}
	for _, marker := range retryable {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// videoMIMEType maps a file extension to the MIME type the Files API expects.
func videoMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "video/mp4"
	}
}

// ---------------------------------------------------------------------------
// Response salvage
// The model is told to answer with bare JSON but sometimes wraps it in
// markdown fences or annotates entries with // comments. Parsing walks
// from strict to permissive.
// ---------------------------------------------------------------------------

// parseCutSuggestions extracts the suggestion array from a model reply.
func parseCutSuggestions(raw string) ([]CutSuggestion, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty response")
	}

	var suggestions []CutSuggestion
	if err := json.Unmarshal([]byte(raw), &suggestions); err == nil {
		return suggestions, nil
	}

	unfenced := stripMarkdownFences(raw)
	if err := json.Unmarshal([]byte(unfenced), &suggestions); err == nil {
		return suggestions, nil
	}

	salvaged := stripLineComments(extractJSONArray(unfenced))
	if salvaged == "" {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	if err := json.Unmarshal([]byte(salvaged), &suggestions); err != nil {
		return nil, err
	}
	return suggestions, nil
}

// stripMarkdownFences removes a surrounding ```json ... ``` block.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// extractJSONArray slices from the first '[' to the last ']'.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// stripLineComments drops // comments the model sometimes adds inside
// the array, keeping everything before the marker on each line.
func stripLineComments(s string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "//"); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}
