package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Pipeline error taxonomy. The worker maps these onto reel status and
// error codes; the API maps them onto HTTP statuses.

// ErrEmptyInput is returned when a run is started with zero usable inputs
// or an input decodes to zero duration.
var ErrEmptyInput = errors.New("no usable input clips")

// UnsupportedMediaError marks an input whose container or codec cannot be
// decoded. Surfaced at ingest before any pipeline state exists.
type UnsupportedMediaError struct {
	Filename string
	Reason   string
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("unsupported media %q: %s", e.Filename, e.Reason)
}

// ClipAnalysisError wraps a per-clip analysis failure. The clip is dropped
// and the run continues with the survivors.
type ClipAnalysisError struct {
	ClipID      uuid.UUID
	SourceIndex int
	Err         error
}

func (e *ClipAnalysisError) Error() string {
	return fmt.Sprintf("analysis failed for clip %d (%s): %v", e.SourceIndex, e.ClipID, e.Err)
}

func (e *ClipAnalysisError) Unwrap() error { return e.Err }

// InsufficientContentError is returned when the keep segments across all
// surviving clips cannot fill the minimum viable reel.
type InsufficientContentError struct {
	UsableSeconds   float64
	RequiredSeconds float64
}

func (e *InsufficientContentError) Error() string {
	return fmt.Sprintf("insufficient content: %.1fs usable, %.1fs required", e.UsableSeconds, e.RequiredSeconds)
}

// RenderError aborts the run. Any partially written output has already
// been deleted by the time the error is returned.
type RenderError struct {
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed at %s: %v", e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// ErrorCode returns the stable machine-readable code persisted on the reel
// row for a pipeline error, or "internal" for anything outside the taxonomy.
func ErrorCode(err error) string {
	var unsupported *UnsupportedMediaError
	var analysis *ClipAnalysisError
	var insufficient *InsufficientContentError
	var render *RenderError
	switch {
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.As(err, &unsupported):
		return "unsupported_media"
	case errors.As(err, &analysis):
		return "clip_analysis"
	case errors.As(err, &insufficient):
		return "insufficient_content"
	case errors.As(err, &render):
		return "render_failed"
	default:
		return "internal"
	}
}
