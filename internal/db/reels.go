package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/reelforge/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateReel(ctx context.Context, reel *models.Reel) error {
	query := `
		INSERT INTO reels (
			id, status, theme, transition, target_duration_seconds,
			pacing, captions, has_music, clip_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		reel.ID, reel.Status, reel.Theme, reel.Transition,
		reel.TargetDurationSeconds, reel.Pacing, reel.Captions,
		reel.HasMusic, reel.ClipCount,
	).Scan(&reel.CreatedAt, &reel.UpdatedAt)
}

func (db *DB) GetReel(ctx context.Context, id uuid.UUID) (*models.Reel, error) {
	query := `
		SELECT
			id, status, theme, transition, target_duration_seconds,
			pacing, captions, has_music, clip_count, plan, usable_seconds,
			final_video_asset_id, error_code, error_message, created_at, updated_at
		FROM reels
		WHERE id = $1
	`

	reel := &models.Reel{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&reel.ID, &reel.Status, &reel.Theme, &reel.Transition,
		&reel.TargetDurationSeconds, &reel.Pacing, &reel.Captions,
		&reel.HasMusic, &reel.ClipCount, &reel.Plan, &reel.UsableSeconds,
		&reel.FinalVideoAssetID, &reel.ErrorCode, &reel.ErrorMessage,
		&reel.CreatedAt, &reel.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reel not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reel: %w", err)
	}

	return reel, nil
}

// ListReels returns reels ordered by creation date (newest first).
// Supports optional status filter, limit, and offset for pagination.
func (db *DB) ListReels(ctx context.Context, status string, limit, offset int) ([]models.Reel, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `
		SELECT
			id, status, theme, transition, target_duration_seconds,
			pacing, captions, has_music, clip_count, plan, usable_seconds,
			final_video_asset_id, error_code, error_message, created_at, updated_at
		FROM reels
	`

	if status != "" {
		query := baseSelect + ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = db.QueryContext(ctx, query, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = db.QueryContext(ctx, query, limit, offset)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list reels: %w", err)
	}
	defer rows.Close()

	var reels []models.Reel
	for rows.Next() {
		var r models.Reel
		if err := rows.Scan(
			&r.ID, &r.Status, &r.Theme, &r.Transition,
			&r.TargetDurationSeconds, &r.Pacing, &r.Captions,
			&r.HasMusic, &r.ClipCount, &r.Plan, &r.UsableSeconds,
			&r.FinalVideoAssetID, &r.ErrorCode, &r.ErrorMessage,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reel: %w", err)
		}
		reels = append(reels, r)
	}

	return reels, nil
}

// CountReels returns the total number of reels, optionally filtered by status.
func (db *DB) CountReels(ctx context.Context, status string) (int, error) {
	var count int
	if status != "" {
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reels WHERE status = $1`, status).Scan(&count)
		return count, err
	}
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reels`).Scan(&count)
	return count, err
}

func (db *DB) UpdateReelStatus(ctx context.Context, id uuid.UUID, status models.ReelStatus) error {
	query := `UPDATE reels SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

func (db *DB) UpdateReelError(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) error {
	query := `
		UPDATE reels
		SET status = $1, error_code = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.ReelStatusFailed, errorCode, errorMessage, id)
	return err
}

// UpdateReelUsableSeconds records how much keep content the planner found.
// Written on insufficient-content failures so the caller can report it.
func (db *DB) UpdateReelUsableSeconds(ctx context.Context, id uuid.UUID, seconds float64) error {
	query := `UPDATE reels SET usable_seconds = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, seconds, id)
	return err
}

func (db *DB) UpdateReelPlan(ctx context.Context, id uuid.UUID, plan models.JSONB) error {
	query := `UPDATE reels SET plan = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, plan, id)
	return err
}

// UpdateReelOptions rewrites the render-facing options ahead of a rerender.
func (db *DB) UpdateReelOptions(ctx context.Context, id uuid.UUID, theme, transition string, targetDuration float64, captions bool) error {
	query := `
		UPDATE reels
		SET theme = $1, transition = $2, target_duration_seconds = $3, captions = $4, updated_at = NOW()
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, theme, transition, targetDuration, captions, id)
	return err
}

func (db *DB) SetReelFinalVideo(ctx context.Context, reelID, assetID uuid.UUID) error {
	query := `
		UPDATE reels
		SET final_video_asset_id = $1, status = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, assetID, models.ReelStatusCompleted, reelID)
	return err
}

// CancelReel flips a reel to cancelled only while it is still cancellable.
// Returns the number of rows changed so callers can tell a no-op apart.
func (db *DB) CancelReel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE reels
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ($3, $4, $5)
	`
	res, err := db.ExecContext(ctx, query, models.ReelStatusCancelled, id,
		models.ReelStatusCompleted, models.ReelStatusFailed, models.ReelStatusCancelled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsReelCancelled is polled by long-running pipeline stages so a DELETE from
// the API can stop a run that is already executing on a worker.
func (db *DB) IsReelCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	var status models.ReelStatus
	err := db.QueryRowContext(ctx, `SELECT status FROM reels WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return false, err
	}
	return status == models.ReelStatusCancelled, nil
}
