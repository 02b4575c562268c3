package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/db"
	"github.com/bobarin/reelforge/internal/models"
	"github.com/bobarin/reelforge/internal/queue"
	"github.com/bobarin/reelforge/internal/services"
	"github.com/bobarin/reelforge/internal/storage"
)

// multipartMemoryLimit is how much of an upload stays in memory before
// the parser spools to disk. Uploads run to hundreds of megabytes.
const multipartMemoryLimit = 64 << 20

type Handler struct {
	db      *db.DB
	queue   *queue.Queue
	storage *storage.Storage
	cfg     *config.Config
}

func NewHandler(database *db.DB, q *queue.Queue, stor *storage.Storage, cfg *config.Config) *Handler {
	return &Handler{
		db:      database,
		queue:   q,
		storage: stor,
		cfg:     cfg,
	}
}

// CreateReel handles POST /v1/reels (multipart/form-data).
//
// File fields:
//   - clips: 1 to 4 video files, reel order follows upload order
//   - music: optional background track
//
// Value fields: theme, transition, target_duration_seconds, pacing,
// captions. Each falls back to the configured default when absent.
func (h *Handler) CreateReel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart request")
		return
	}
	defer r.MultipartForm.RemoveAll()

	clipHeaders := r.MultipartForm.File["clips"]
	if err := services.ValidateCount(len(clipHeaders)); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, fh := range clipHeaders {
		if h.cfg.MaxClipBytes > 0 && fh.Size > h.cfg.MaxClipBytes {
			respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Clip %s exceeds the %d byte limit", fh.Filename, h.cfg.MaxClipBytes))
			return
		}
	}

	var musicHeader *multipart.FileHeader
	if music := r.MultipartForm.File["music"]; len(music) > 0 {
		musicHeader = music[0]
	}

	opts, err := h.parseReelOptions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reel := &models.Reel{
		ID:                    uuid.New(),
		Status:                models.ReelStatusPending,
		Theme:                 opts.theme,
		Transition:            opts.transition,
		TargetDurationSeconds: opts.target,
		Pacing:                opts.pacing,
		Captions:              opts.captions,
		HasMusic:              musicHeader != nil,
		ClipCount:             len(clipHeaders),
	}
	if err := h.db.CreateReel(r.Context(), reel); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create reel")
		return
	}

	// Stage uploads into storage before the job exists, so the worker
	// always finds every source it is told about.
	stageDir, err := os.MkdirTemp(h.cfg.TempDir, "upload-")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to stage upload")
		return
	}
	defer os.RemoveAll(stageDir)

	for i, fh := range clipHeaders {
		filename := sanitizeFilename(fh.Filename)
		storagePath := h.storage.SourcePath(reel.ID, i, filename)
		if err := h.stageAndUpload(r, fh, stageDir, storagePath, "video/mp4"); err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to store clip %s", filename))
			return
		}

		clip := &models.Clip{
			ID:          uuid.New(),
			ReelID:      reel.ID,
			SourceIndex: i,
			Filename:    filename,
			Status:      models.ClipStatusPending,
		}
		if err := h.db.CreateClip(r.Context(), clip); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to register clip")
			return
		}

		asset := &models.Asset{
			ID:            uuid.New(),
			ReelID:        reel.ID,
			ClipID:        &clip.ID,
			Type:          models.AssetTypeSourceClip,
			StorageBucket: h.storage.Bucket,
			StoragePath:   storagePath,
		}
		if err := h.db.CreateAsset(r.Context(), asset); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to register clip asset")
			return
		}
	}

	if musicHeader != nil {
		filename := sanitizeFilename(musicHeader.Filename)
		storagePath := h.storage.MusicPath(reel.ID, filename)
		if err := h.stageAndUpload(r, musicHeader, stageDir, storagePath, "audio/mpeg"); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to store music track")
			return
		}

		asset := &models.Asset{
			ID:            uuid.New(),
			ReelID:        reel.ID,
			Type:          models.AssetTypeMusic,
			StorageBucket: h.storage.Bucket,
			StoragePath:   storagePath,
		}
		if err := h.db.CreateAsset(r.Context(), asset); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to register music asset")
			return
		}
	}

	jobID := uuid.New()
	job := &models.Job{
		ID:     jobID,
		ReelID: reel.ID,
		Type:   "generate_reel",
		Status: models.JobStatusQueued,
	}
	if err := h.db.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}
	if err := h.queue.EnqueueGenerateReel(r.Context(), reel.ID, jobID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateReelResponse{
		ReelID: reel.ID,
		Status: reel.Status,
	})
}

type reelOptions struct {
	theme      string
	transition string
	target     float64
	pacing     string
	captions   bool
}

func (h *Handler) parseReelOptions(r *http.Request) (reelOptions, error) {
	opts := reelOptions{
		theme:      models.ThemeNone,
		transition: models.TransitionNone,
		target:     h.cfg.DefaultTargetSeconds,
		pacing:     h.cfg.PacingStrategy,
		captions:   h.cfg.CaptionsDefault,
	}

	if v := r.FormValue("theme"); v != "" {
		if _, ok := models.ThemeByID(v); !ok {
			return opts, fmt.Errorf("unknown theme %q", v)
		}
		opts.theme = v
	}
	if v := r.FormValue("transition"); v != "" {
		if _, ok := models.TransitionByID(v); !ok {
			return opts, fmt.Errorf("unknown transition %q", v)
		}
		opts.transition = v
	}
	if v := r.FormValue("target_duration_seconds"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid target_duration_seconds %q", v)
		}
		if parsed < h.cfg.MinTargetSeconds || parsed > h.cfg.MaxTargetSeconds {
			return opts, fmt.Errorf("target_duration_seconds must be between %.0f and %.0f",
				h.cfg.MinTargetSeconds, h.cfg.MaxTargetSeconds)
		}
		opts.target = parsed
	}
	if v := r.FormValue("pacing"); v != "" {
		if v != services.PacingRoundRobin && v != services.PacingSequential {
			return opts, fmt.Errorf("unknown pacing %q", v)
		}
		opts.pacing = v
	}
	if v := r.FormValue("captions"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid captions flag %q", v)
		}
		opts.captions = parsed
	}

	return opts, nil
}

// stageAndUpload copies one multipart part to the staging directory and
// pushes it to storage from there.
func (h *Handler) stageAndUpload(r *http.Request, fh *multipart.FileHeader, stageDir, storagePath, contentType string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	localPath := filepath.Join(stageDir, filepath.Base(storagePath))
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to stage upload: %w", err)
	}

	return h.storage.UploadFile(r.Context(), storagePath, localPath, contentType)
}

// sanitizeFilename strips any path components from a client-supplied
// filename so it cannot escape the reel's storage prefix.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == ".." {
		return "upload.bin"
	}
	return name
}

// ListReels handles GET /v1/reels
// Query params:
//   - status: filter by reel status
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListReels(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" {
		switch models.ReelStatus(statusFilter) {
		case models.ReelStatusPending, models.ReelStatusIngesting,
			models.ReelStatusAnalyzing, models.ReelStatusPlanning,
			models.ReelStatusRendering, models.ReelStatusCompleted,
			models.ReelStatusFailed, models.ReelStatusCancelled:
			// valid
		default:
			respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: pending, ingesting, analyzing, planning, rendering, completed, failed, cancelled")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	total, err := h.db.CountReels(r.Context(), statusFilter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count reels")
		return
	}

	reels, err := h.db.ListReels(r.Context(), statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list reels")
		return
	}

	summaries := make([]models.ReelSummary, 0, len(reels))
	for _, reel := range reels {
		summary := models.ReelSummary{
			ID:                    reel.ID,
			Status:                reel.Status,
			Theme:                 reel.Theme,
			Transition:            reel.Transition,
			TargetDurationSeconds: reel.TargetDurationSeconds,
			ClipCount:             reel.ClipCount,
			ErrorCode:             reel.ErrorCode,
			ErrorMessage:          reel.ErrorMessage,
			CreatedAt:             reel.CreatedAt,
			UpdatedAt:             reel.UpdatedAt,
		}

		if reel.FinalVideoAssetID != nil {
			if asset, err := h.db.GetAsset(r.Context(), *reel.FinalVideoAssetID); err == nil {
				url := h.storage.GetPublicURL(asset.StoragePath)
				summary.FinalVideoURL = &url
			}
		}

		summaries = append(summaries, summary)
	}

	respondJSON(w, http.StatusOK, models.ListReelsResponse{
		Reels:  summaries,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetReel handles GET /v1/reels/{id}
func (h *Handler) GetReel(w http.ResponseWriter, r *http.Request) {
	reelID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid reel ID")
		return
	}

	reel, err := h.db.GetReel(r.Context(), reelID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Reel not found")
		return
	}

	clips, err := h.db.GetReelClips(r.Context(), reelID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get clips")
		return
	}

	response := models.ReelResponse{
		Reel:  *reel,
		Clips: clips,
	}

	if reel.FinalVideoAssetID != nil {
		if asset, err := h.db.GetAsset(r.Context(), *reel.FinalVideoAssetID); err == nil {
			url := h.storage.GetPublicURL(asset.StoragePath)
			response.FinalVideoURL = &url
		}
	}
	if asset, err := h.db.GetReelAssetByType(r.Context(), reelID, models.AssetTypeThumbnail); err == nil && asset != nil {
		url := h.storage.GetPublicURL(asset.StoragePath)
		response.ThumbnailURL = &url
	}

	// Secondary artifacts. The newest row per type wins, so a rerender's
	// exports shadow the previous run's.
	if assets, err := h.db.GetReelAssets(r.Context(), reelID); err == nil {
		artifacts := make(map[string]string)
		for _, a := range assets {
			switch a.Type {
			case models.AssetTypePlanJSON, models.AssetTypeEDL, models.AssetTypeCaptions:
				artifacts[string(a.Type)] = h.storage.GetPublicURL(a.StoragePath)
			}
		}
		if len(artifacts) > 0 {
			response.Artifacts = artifacts
		}
	}

	respondJSON(w, http.StatusOK, response)
}

// CancelReel handles DELETE /v1/reels/{id}. A running pipeline notices
// the flipped status within a poll interval and stops; artifacts from
// the aborted run are never published.
func (h *Handler) CancelReel(w http.ResponseWriter, r *http.Request) {
	reelID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid reel ID")
		return
	}

	if _, err := h.db.GetReel(r.Context(), reelID); err != nil {
		respondError(w, http.StatusNotFound, "Reel not found")
		return
	}

	cancelled, err := h.db.CancelReel(r.Context(), reelID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to cancel reel")
		return
	}
	if !cancelled {
		respondError(w, http.StatusConflict, "Reel already finished")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": string(models.ReelStatusCancelled)})
}

// RerenderReel handles POST /v1/reels/{id}/rerender. It re-plans and
// re-renders from the stored per-clip analysis with updated options;
// ingest and analysis do not run again.
func (h *Handler) RerenderReel(w http.ResponseWriter, r *http.Request) {
	reelID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid reel ID")
		return
	}

	reel, err := h.db.GetReel(r.Context(), reelID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Reel not found")
		return
	}

	switch reel.Status {
	case models.ReelStatusCompleted, models.ReelStatusFailed, models.ReelStatusCancelled:
		// terminal, safe to restart
	default:
		respondError(w, http.StatusConflict, "Reel is still processing")
		return
	}

	var req models.RerenderReelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	theme := reel.Theme
	if req.Theme != nil {
		if _, ok := models.ThemeByID(*req.Theme); !ok {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Unknown theme %q", *req.Theme))
			return
		}
		theme = *req.Theme
	}
	transition := reel.Transition
	if req.Transition != nil {
		if _, ok := models.TransitionByID(*req.Transition); !ok {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Unknown transition %q", *req.Transition))
			return
		}
		transition = *req.Transition
	}
	target := reel.TargetDurationSeconds
	if req.TargetDurationSeconds != nil {
		if *req.TargetDurationSeconds < h.cfg.MinTargetSeconds || *req.TargetDurationSeconds > h.cfg.MaxTargetSeconds {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("target_duration_seconds must be between %.0f and %.0f",
				h.cfg.MinTargetSeconds, h.cfg.MaxTargetSeconds))
			return
		}
		target = *req.TargetDurationSeconds
	}
	captions := reel.Captions
	if req.Captions != nil {
		captions = *req.Captions
	}

	if err := h.db.UpdateReelOptions(r.Context(), reelID, theme, transition, target, captions); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update reel options")
		return
	}
	if err := h.db.UpdateReelStatus(r.Context(), reelID, models.ReelStatusPending); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to reset reel status")
		return
	}

	jobID := uuid.New()
	job := &models.Job{
		ID:     jobID,
		ReelID: reelID,
		Type:   "render_reel",
		Status: models.JobStatusQueued,
	}
	if err := h.db.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}
	if err := h.queue.EnqueueRenderReel(r.Context(), reelID, jobID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateReelResponse{
		ReelID: reelID,
		Status: models.ReelStatusPending,
	})
}

// GetReelPlan handles GET /v1/reels/{id}/plan
func (h *Handler) GetReelPlan(w http.ResponseWriter, r *http.Request) {
	reelID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid reel ID")
		return
	}

	reel, err := h.db.GetReel(r.Context(), reelID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Reel not found")
		return
	}
	if reel.Plan == nil {
		respondError(w, http.StatusNotFound, "Plan not generated yet")
		return
	}

	respondJSON(w, http.StatusOK, reel.Plan)
}

// GetReelDownload handles GET /v1/reels/{id}/download
func (h *Handler) GetReelDownload(w http.ResponseWriter, r *http.Request) {
	reelID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid reel ID")
		return
	}

	reel, err := h.db.GetReel(r.Context(), reelID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Reel not found")
		return
	}
	if reel.FinalVideoAssetID == nil {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	asset, err := h.db.GetAsset(r.Context(), *reel.FinalVideoAssetID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Asset not found")
		return
	}

	// Signed URL valid for 1 hour
	signedURL, err := h.storage.GetSignedURL(r.Context(), asset.StoragePath, 3600)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
		return
	}

	http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
}

// GetReelJobs handles GET /v1/reels/{id}/debug/jobs
func (h *Handler) GetReelJobs(w http.ResponseWriter, r *http.Request) {
	reelID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid reel ID")
		return
	}

	jobs, err := h.db.GetReelJobs(r.Context(), reelID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get jobs")
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

// ListThemes handles GET /v1/themes
func (h *Handler) ListThemes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.Themes())
}

// ListTransitions handles GET /v1/transitions
func (h *Handler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.Transitions())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health reports liveness plus queue depth, enough for a dashboard to
// tell an idle deployment from a backed-up one.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}

	depths := make(map[string]int64)
	for _, name := range []string{queue.QueueGenerateReel, queue.QueueRenderReel} {
		if n, err := h.queue.GetQueueLength(r.Context(), name); err == nil {
			depths[name] = n
		}
	}
	if len(depths) > 0 {
		resp["queues"] = depths
	}

	respondJSON(w, http.StatusOK, resp)
}
