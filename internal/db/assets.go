package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/reelforge/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateAsset(ctx context.Context, asset *models.Asset) error {
	query := `
		INSERT INTO assets (
			id, reel_id, clip_id, type, storage_bucket,
			storage_path, content_type, byte_size, checksum
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		asset.ID, asset.ReelID, asset.ClipID, asset.Type,
		asset.StorageBucket, asset.StoragePath, asset.ContentType,
		asset.ByteSize, asset.Checksum,
	).Scan(&asset.CreatedAt)
}

func (db *DB) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	query := `
		SELECT
			id, reel_id, clip_id, type, storage_bucket,
			storage_path, content_type, byte_size, checksum, created_at
		FROM assets
		WHERE id = $1
	`

	asset := &models.Asset{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&asset.ID, &asset.ReelID, &asset.ClipID, &asset.Type,
		&asset.StorageBucket, &asset.StoragePath, &asset.ContentType,
		&asset.ByteSize, &asset.Checksum, &asset.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("asset not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return asset, nil
}

func (db *DB) GetReelAssets(ctx context.Context, reelID uuid.UUID) ([]models.Asset, error) {
	query := `
		SELECT
			id, reel_id, clip_id, type, storage_bucket,
			storage_path, content_type, byte_size, checksum, created_at
		FROM assets
		WHERE reel_id = $1
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query, reelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var asset models.Asset
		err := rows.Scan(
			&asset.ID, &asset.ReelID, &asset.ClipID, &asset.Type,
			&asset.StorageBucket, &asset.StoragePath, &asset.ContentType,
			&asset.ByteSize, &asset.Checksum, &asset.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}

	return assets, nil
}

// GetReelAssetByType returns the newest asset of one type for a reel, or nil
// when none exists yet.
func (db *DB) GetReelAssetByType(ctx context.Context, reelID uuid.UUID, assetType models.AssetType) (*models.Asset, error) {
	query := `
		SELECT
			id, reel_id, clip_id, type, storage_bucket,
			storage_path, content_type, byte_size, checksum, created_at
		FROM assets
		WHERE reel_id = $1 AND type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	asset := &models.Asset{}
	err := db.QueryRowContext(ctx, query, reelID, assetType).Scan(
		&asset.ID, &asset.ReelID, &asset.ClipID, &asset.Type,
		&asset.StorageBucket, &asset.StoragePath, &asset.ContentType,
		&asset.ByteSize, &asset.Checksum, &asset.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s asset: %w", assetType, err)
	}

	return asset, nil
}
