package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bobarin/reelforge/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateClip(ctx context.Context, clip *models.Clip) error {
	query := `
		INSERT INTO clips (
			id, reel_id, source_index, filename, fingerprint,
			duration_seconds, fps, width, height, has_audio, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		clip.ID, clip.ReelID, clip.SourceIndex, clip.Filename, clip.Fingerprint,
		clip.Duration, clip.FPS, clip.Width, clip.Height, clip.HasAudio, clip.Status,
	).Scan(&clip.CreatedAt, &clip.UpdatedAt)
}

func (db *DB) GetReelClips(ctx context.Context, reelID uuid.UUID) ([]models.Clip, error) {
	query := clipSelect + ` WHERE reel_id = $1 ORDER BY source_index`

	rows, err := db.QueryContext(ctx, query, reelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	defer rows.Close()

	var clips []models.Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, *clip)
	}

	return clips, nil
}

// UpdateClipProbe records the metadata ffprobe found at ingest.
func (db *DB) UpdateClipProbe(ctx context.Context, id uuid.UUID, fingerprint string, duration, fps float64, width, height int, hasAudio bool) error {
	query := `
		UPDATE clips
		SET fingerprint = $1, duration_seconds = $2, fps = $3, width = $4,
		    height = $5, has_audio = $6, updated_at = NOW()
		WHERE id = $7
	`
	_, err := db.ExecContext(ctx, query, fingerprint, duration, fps, width, height, hasAudio, id)
	return err
}

// UpdateClipAnalysis stores the analyzer output and marks the clip
// analyzed. Segments and transcript are kept so rerenders can re-plan
// and re-caption without touching the analyzer again.
func (db *DB) UpdateClipAnalysis(ctx context.Context, id uuid.UUID, segments []models.Segment, transcript []models.WordTimestamp) error {
	segData, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}
	wordData, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	query := `
		UPDATE clips
		SET segments = $1, transcript = $2, status = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err = db.ExecContext(ctx, query, segData, wordData, models.ClipStatusAnalyzed, id)
	return err
}

func (db *DB) UpdateClipError(ctx context.Context, id uuid.UUID, status models.ClipStatus, errorMessage string) error {
	query := `
		UPDATE clips
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, status, errorMessage, id)
	return err
}

const clipSelect = `
	SELECT
		id, reel_id, source_index, filename, fingerprint,
		duration_seconds, fps, width, height, has_audio, status,
		segments, transcript, error_message, created_at, updated_at
	FROM clips
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClip(row rowScanner) (*models.Clip, error) {
	clip := &models.Clip{}
	var segments, transcript []byte
	err := row.Scan(
		&clip.ID, &clip.ReelID, &clip.SourceIndex, &clip.Filename, &clip.Fingerprint,
		&clip.Duration, &clip.FPS, &clip.Width, &clip.Height, &clip.HasAudio, &clip.Status,
		&segments, &transcript, &clip.ErrorMessage, &clip.CreatedAt, &clip.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &clip.Segments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
		}
	}
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &clip.Transcript); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
		}
	}

	return clip, nil
}
