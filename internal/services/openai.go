package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/bobarin/reelforge/internal/models"
)

// OpenAIService wraps Whisper transcription. Word-level timestamps feed
// two consumers: the analyzer's retake detection (repeated phrases) and
// the caption generator.
type OpenAIService struct {
	client *openai.Client
	logger zerolog.Logger
}

func NewOpenAIService(apiKey string, logger zerolog.Logger) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(apiKey),
		logger: logger,
	}
}

// TranscribeFile sends an audio file to Whisper and returns word-level
// timestamps. Audio without recognizable speech returns an empty slice,
// not an error; a clip of pure music or room tone is a normal input.
func (s *OpenAIService) TranscribeFile(ctx context.Context, audioPath string) ([]models.WordTimestamp, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio for transcription: %w", err)
	}
	defer f.Close()

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   f,
		FilePath: filepath.Base(audioPath), // Filename hint for the API (required by the library)
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	if len(resp.Words) == 0 {
		s.logger.Info().
			Str("audio", audioPath).
			Str("text", truncateString(resp.Text, 80)).
			Msg("whisper returned no word timestamps")
		return nil, nil
	}

	words := make([]models.WordTimestamp, len(resp.Words))
	for i, w := range resp.Words {
		words[i] = models.WordTimestamp{
			Word:  strings.TrimSpace(w.Word),
			Start: w.Start,
			End:   w.End,
		}
	}

	s.logger.Info().
		Int("words", len(words)).
		Float64("duration", resp.Duration).
		Str("text", truncateString(resp.Text, 80)).
		Msg("whisper transcription complete")

	return words, nil
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
