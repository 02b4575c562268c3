package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums
type ReelStatus string

const (
	ReelStatusPending   ReelStatus = "pending"
	ReelStatusIngesting ReelStatus = "ingesting"
	ReelStatusAnalyzing ReelStatus = "analyzing"
	ReelStatusPlanning  ReelStatus = "planning"
	ReelStatusRendering ReelStatus = "rendering"
	ReelStatusCompleted ReelStatus = "completed"
	ReelStatusFailed    ReelStatus = "failed"
	ReelStatusCancelled ReelStatus = "cancelled"
)

type ClipStatus string

const (
	ClipStatusPending  ClipStatus = "pending"
	ClipStatusAnalyzed ClipStatus = "analyzed"
	ClipStatusFailed   ClipStatus = "failed"
)

type SegmentClass string

const (
	SegmentKeep            SegmentClass = "keep"
	SegmentDiscardMistake  SegmentClass = "discard_mistake"
	SegmentDiscardDeadtime SegmentClass = "discard_deadtime"
)

type AssetType string

const (
	AssetTypeSourceClip AssetType = "source_clip"
	AssetTypeMusic      AssetType = "music"
	AssetTypeFinalVideo AssetType = "final_video"
	AssetTypePlanJSON   AssetType = "plan_json"
	AssetTypeEDL        AssetType = "edl"
	AssetTypeCaptions   AssetType = "captions"
	AssetTypeThumbnail  AssetType = "thumbnail"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Models

// Clip is one validated source video. Immutable after ingest; LocalPath
// points into the run's temp dir and is gone once the run finishes.
type Clip struct {
	ID           uuid.UUID       `json:"id"`
	ReelID       uuid.UUID       `json:"reel_id"`
	SourceIndex  int             `json:"source_index"` // 0-based upload order
	Filename     string          `json:"filename"`
	Fingerprint  string          `json:"fingerprint"` // sha256 of raw bytes
	Duration     float64         `json:"duration_seconds"`
	FPS          float64         `json:"fps"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	HasAudio     bool            `json:"has_audio"`
	Status       ClipStatus      `json:"status"`
	Segments     []Segment       `json:"segments,omitempty"`   // analyzer output, kept for rerenders
	Transcript   []WordTimestamp `json:"transcript,omitempty"` // Whisper words, kept for caption rerenders
	ErrorMessage *string         `json:"error_message,omitempty"`
	LocalPath    string          `json:"-"`
	AudioPath    string          `json:"-"` // extracted mono WAV for analysis, empty if no audio
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Segment is a contiguous [Start,End) span within exactly one clip.
// Segments for a clip are non-overlapping and ordered by Start.
type Segment struct {
	ClipID      uuid.UUID    `json:"clip_id"`
	SourceIndex int          `json:"source_index"`
	Start       float64      `json:"start"`
	End         float64      `json:"end"`
	Score       float64      `json:"score"`
	Class       SegmentClass `json:"class"`
	Tags        []string     `json:"tags,omitempty"`
}

func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// WordTimestamp is one transcribed word with source-clip times in seconds.
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// PlanEntry pairs a segment with the transition into the NEXT entry.
// The final entry's transition is ignored by the renderer.
type PlanEntry struct {
	Segment    Segment `json:"segment"`
	Transition string  `json:"transition"`
	FadeIn     bool    `json:"fade_in,omitempty"`
	FadeOut    bool    `json:"fade_out,omitempty"`
}

// EditPlan is the ordered, theme-annotated cut list the renderer executes.
type EditPlan struct {
	Entries        []PlanEntry `json:"entries"`
	Theme          string      `json:"theme"`
	Transition     string      `json:"transition"`
	TargetDuration float64     `json:"target_duration"`
	TotalDuration  float64     `json:"total_duration"`
	Captions       bool        `json:"captions"`
}

// AudioTrack is the optional background music with detected onsets.
type AudioTrack struct {
	LocalPath string    `json:"-"`
	Duration  float64   `json:"duration_seconds"`
	Onsets    []float64 `json:"onsets,omitempty"` // seconds, ascending
}

// RenderedReel is the final artifact before upload.
type RenderedReel struct {
	LocalPath string  `json:"-"`
	Duration  float64 `json:"duration_seconds"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Checksum  string  `json:"checksum"` // sha256
	SizeBytes int64   `json:"size_bytes"`
}

type Reel struct {
	ID                    uuid.UUID  `json:"id"`
	Status                ReelStatus `json:"status"`
	Theme                 string     `json:"theme"`
	Transition            string     `json:"transition"`
	TargetDurationSeconds float64    `json:"target_duration_seconds"`
	Pacing                string     `json:"pacing"`
	Captions              bool       `json:"captions"`
	HasMusic              bool       `json:"has_music"`
	ClipCount             int        `json:"clip_count"`
	Plan                  JSONB      `json:"plan,omitempty"`           // stored EditPlan, reused by rerender
	UsableSeconds         *float64   `json:"usable_seconds,omitempty"` // populated on insufficient-content failures
	FinalVideoAssetID     *uuid.UUID `json:"final_video_asset_id,omitempty"`
	ErrorCode             *string    `json:"error_code,omitempty"`
	ErrorMessage          *string    `json:"error_message,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type Asset struct {
	ID            uuid.UUID  `json:"id"`
	ReelID        uuid.UUID  `json:"reel_id"`
	ClipID        *uuid.UUID `json:"clip_id,omitempty"`
	Type          AssetType  `json:"type"`
	StorageBucket string     `json:"storage_bucket"`
	StoragePath   string     `json:"storage_path"`
	ContentType   *string    `json:"content_type,omitempty"`
	ByteSize      *int64     `json:"byte_size,omitempty"`
	Checksum      *string    `json:"checksum,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Job struct {
	ID           uuid.UUID  `json:"id"`
	ReelID       uuid.UUID  `json:"reel_id"`
	Type         string     `json:"type"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DTOs for API responses

type ReelResponse struct {
	Reel
	Clips         []Clip  `json:"clips,omitempty"`
	FinalVideoURL *string `json:"final_video_url,omitempty"`
	ThumbnailURL  *string `json:"thumbnail_url,omitempty"`
	// Artifacts maps secondary artifact types (plan_json, edl, captions)
	// to their public URLs once the worker has published them.
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// ReelSummary is a lightweight DTO for the list endpoint. It omits the
// clips array.
type ReelSummary struct {
	ID                    uuid.UUID  `json:"id"`
	Status                ReelStatus `json:"status"`
	Theme                 string     `json:"theme"`
	Transition            string     `json:"transition"`
	TargetDurationSeconds float64    `json:"target_duration_seconds"`
	ClipCount             int        `json:"clip_count"`
	FinalVideoURL         *string    `json:"final_video_url,omitempty"`
	ErrorCode             *string    `json:"error_code,omitempty"`
	ErrorMessage          *string    `json:"error_message,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type ListReelsResponse struct {
	Reels  []ReelSummary `json:"reels"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type CreateReelResponse struct {
	ReelID uuid.UUID  `json:"reel_id"`
	Status ReelStatus `json:"status"`
}

type RerenderReelRequest struct {
	Theme                 *string  `json:"theme,omitempty"`
	Transition            *string  `json:"transition,omitempty"`
	TargetDurationSeconds *float64 `json:"target_duration_seconds,omitempty"`
	Captions              *bool    `json:"captions,omitempty"`
}
