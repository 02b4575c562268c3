package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/db"
	"github.com/bobarin/reelforge/internal/models"
	"github.com/bobarin/reelforge/internal/queue"
	"github.com/bobarin/reelforge/internal/services"
	"github.com/bobarin/reelforge/internal/storage"
)

// How often a running pipeline checks whether the reel was cancelled
// through the API.
const cancelPollInterval = 2 * time.Second

type Worker struct {
	db        *db.DB
	queue     *queue.Queue
	storage   *storage.Storage
	ingest    *services.IngestService
	analyzer  *services.AnalyzerService
	planner   *services.PlannerService
	audioSync *services.AudioSyncService
	renderer  *services.RenderService
	ffmpeg    *services.FFmpegService
	cfg       *config.Config
	logger    zerolog.Logger
	uploadSem chan struct{} // limits concurrent storage uploads
}

func New(
	database *db.DB,
	q *queue.Queue,
	stor *storage.Storage,
	ingestSvc *services.IngestService,
	analyzerSvc *services.AnalyzerService,
	plannerSvc *services.PlannerService,
	audioSyncSvc *services.AudioSyncService,
	rendererSvc *services.RenderService,
	ffmpegSvc *services.FFmpegService,
	cfg *config.Config,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		db:        database,
		queue:     q,
		storage:   stor,
		ingest:    ingestSvc,
		analyzer:  analyzerSvc,
		planner:   plannerSvc,
		audioSync: audioSyncSvc,
		renderer:  rendererSvc,
		ffmpeg:    ffmpegSvc,
		cfg:       cfg,
		logger:    logger,
		uploadSem: make(chan struct{}, 4),
	}
}

// uploadWithLimit wraps an upload call with a semaphore so a burst of
// finishing reels cannot saturate the storage connection pool.
func (w *Worker) uploadWithLimit(ctx context.Context, label string, fn func() error) error {
	select {
	case w.uploadSem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled while waiting for slot: %w", ctx.Err())
	}
	defer func() { <-w.uploadSem }()

	w.logger.Debug().Str("artifact", label).Msg("uploading")
	return fn()
}

// Start begins processing jobs from all queues.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	w.logger.Info().Int("concurrency", concurrency).Msg("worker started")

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueGenerateReel, w.handleGenerateReel)
		go w.processQueue(ctx, queue.QueueRenderReel, w.handleRenderReel)
	}

	<-ctx.Done()
	w.logger.Info().Msg("worker shutting down")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error().Err(err).Str("queue", queueName).Msg("dequeue failed")
				continue
			}

			if job == nil {
				continue // no job available, poll again
			}

			w.logger.Info().
				Str("job_id", job.ID.String()).
				Str("type", job.Type).
				Str("reel_id", job.ReelID.String()).
				Msg("processing job")

			if err := w.db.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
				w.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark job running")
			}

			if err := handler(ctx, job); err != nil {
				w.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("job failed")
				w.recordJobError(job.ID, err.Error())
			} else {
				w.logger.Info().Str("job_id", job.ID.String()).Msg("job completed")
				w.recordJobStatus(job.ID, models.JobStatusSucceeded)
			}
		}
	}
}

// recordJobStatus and recordJobError write terminal job state on a fresh
// context so a shutdown that killed the run cannot also lose the record.
func (w *Worker) recordJobStatus(jobID uuid.UUID, status models.JobStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.db.UpdateJobStatus(ctx, jobID, status); err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to record job status")
	}
}

func (w *Worker) recordJobError(jobID uuid.UUID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.db.UpdateJobError(ctx, jobID, message); err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to record job error")
	}
}

// ---------------------------------------------------------------------------
// generate_reel: the full pipeline for a new reel
// ---------------------------------------------------------------------------

func (w *Worker) handleGenerateReel(ctx context.Context, job *queue.Job) error {
	reel, err := w.db.GetReel(ctx, job.ReelID)
	if err != nil {
		return fmt.Errorf("failed to get reel: %w", err)
	}
	if reel.Status == models.ReelStatusCancelled {
		w.logger.Info().Str("reel_id", reel.ID.String()).Msg("reel already cancelled, skipping")
		return nil
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go w.watchCancellation(runCtx, reel.ID, cancelRun)

	workDir, err := w.ffmpeg.RunDir(reel.ID.String())
	if err != nil {
		return w.finishRun(reel.ID, fmt.Errorf("failed to create run dir: %w", err))
	}
	defer w.ffmpeg.CleanupDir(workDir)

	return w.finishRun(reel.ID, w.runPipeline(runCtx, reel, workDir))
}

func (w *Worker) runPipeline(ctx context.Context, reel *models.Reel, workDir string) error {
	// Stage 1: ingest.
	if err := w.setStatus(ctx, reel.ID, models.ReelStatusIngesting); err != nil {
		return err
	}
	clips, err := w.ingestSources(ctx, reel, workDir)
	if err != nil {
		return err
	}

	// Stage 2: per-clip analysis.
	if err := w.setStatus(ctx, reel.ID, models.ReelStatusAnalyzing); err != nil {
		return err
	}
	segments, words, err := w.analyzeClips(ctx, clips)
	if err != nil {
		return err
	}

	// Stage 3: planning and audio alignment.
	if err := w.setStatus(ctx, reel.ID, models.ReelStatusPlanning); err != nil {
		return err
	}
	plan, track, err := w.buildPlan(ctx, reel, workDir, segments)
	if err != nil {
		return err
	}

	// Stage 4: render and publish.
	if err := w.setStatus(ctx, reel.ID, models.ReelStatusRendering); err != nil {
		return err
	}
	return w.renderAndPublish(ctx, reel, workDir, clips, plan, track, words)
}

// watchCancellation polls the reel row and cancels the run context when
// a DELETE through the API flags the reel. The poll stops with the run.
func (w *Worker) watchCancellation(ctx context.Context, reelID uuid.UUID, cancel context.CancelFunc) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelled, err := w.db.IsReelCancelled(ctx, reelID)
			if err != nil {
				continue
			}
			if cancelled {
				w.logger.Info().Str("reel_id", reelID.String()).Msg("cancellation requested, stopping run")
				cancel()
				return
			}
		}
	}
}

// finishRun maps a pipeline error onto the reel row. Cancellation is a
// normal termination; anything else records the taxonomy error code.
func (w *Worker) finishRun(reelID uuid.UUID, runErr error) error {
	if runErr == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if errors.Is(runErr, context.Canceled) {
		cancelled, err := w.db.IsReelCancelled(ctx, reelID)
		if err == nil && cancelled {
			w.logger.Info().Str("reel_id", reelID.String()).Msg("run stopped by cancellation")
			return nil
		}
		// The run died with the worker, not by user request.
		runErr = fmt.Errorf("worker shut down mid-run")
	}

	code := models.ErrorCode(runErr)
	if err := w.db.UpdateReelError(ctx, reelID, code, runErr.Error()); err != nil {
		w.logger.Error().Err(err).Str("reel_id", reelID.String()).Msg("failed to record reel error")
	}
	w.logger.Error().Err(runErr).Str("reel_id", reelID.String()).Str("code", code).Msg("reel failed")
	return runErr
}

func (w *Worker) setStatus(ctx context.Context, reelID uuid.UUID, status models.ReelStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.db.UpdateReelStatus(ctx, reelID, status); err != nil {
		return fmt.Errorf("failed to update reel status: %w", err)
	}
	return nil
}

// ingestSources downloads and validates every uploaded clip. Any clip
// that fails validation, including one that decodes to zero duration,
// fails the whole run.
func (w *Worker) ingestSources(ctx context.Context, reel *models.Reel, workDir string) ([]*models.Clip, error) {
	rows, err := w.db.GetReelClips(ctx, reel.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load clips: %w", err)
	}
	if err := services.ValidateCount(len(rows)); err != nil {
		return nil, err
	}

	clips := make([]*models.Clip, 0, len(rows))
	for i := range rows {
		clip := &rows[i]

		ext := filepath.Ext(clip.Filename)
		if ext == "" {
			ext = ".mp4"
		}
		clip.LocalPath = filepath.Join(workDir, fmt.Sprintf("source_%02d%s", clip.SourceIndex, ext))

		srcPath := w.storage.SourcePath(reel.ID, clip.SourceIndex, clip.Filename)
		if err := w.storage.DownloadToFile(ctx, srcPath, clip.LocalPath); err != nil {
			return nil, fmt.Errorf("failed to download source %d: %w", clip.SourceIndex, err)
		}

		if err := w.ingest.Ingest(ctx, clip); err != nil {
			return nil, err
		}

		if err := w.db.UpdateClipProbe(ctx, clip.ID, clip.Fingerprint, clip.Duration, clip.FPS, clip.Width, clip.Height, clip.HasAudio); err != nil {
			return nil, fmt.Errorf("failed to record clip probe: %w", err)
		}
		clips = append(clips, clip)
	}

	w.logger.Info().
		Str("reel_id", reel.ID.String()).
		Int("clips", len(clips)).
		Msg("ingest complete")

	return clips, nil
}

// analyzeClips runs the analyzer over every clip concurrently. A failed
// clip is dropped and the rest continue; only cancellation stops the
// group. Returns all segments plus the per-source transcripts.
func (w *Worker) analyzeClips(ctx context.Context, clips []*models.Clip) ([]models.Segment, map[int][]models.WordTimestamp, error) {
	results := make([]*services.ClipAnalysis, len(clips))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.MaxConcurrentAnalysis)

	for i, clip := range clips {
		g.Go(func() error {
			analysis, err := w.analyzer.Analyze(gctx, clip)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				aerr := &models.ClipAnalysisError{ClipID: clip.ID, SourceIndex: clip.SourceIndex, Err: err}
				w.logger.Warn().Err(aerr).Str("clip_id", clip.ID.String()).Msg("clip dropped from run")
				if dbErr := w.db.UpdateClipError(gctx, clip.ID, models.ClipStatusFailed, aerr.Error()); dbErr != nil {
					w.logger.Error().Err(dbErr).Str("clip_id", clip.ID.String()).Msg("failed to record clip error")
				}
				return nil
			}
			results[i] = analysis
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var segments []models.Segment
	words := make(map[int][]models.WordTimestamp)
	for i, clip := range clips {
		if results[i] == nil {
			continue
		}
		if err := w.db.UpdateClipAnalysis(ctx, clip.ID, results[i].Segments, results[i].Transcript); err != nil {
			return nil, nil, fmt.Errorf("failed to store clip analysis: %w", err)
		}
		segments = append(segments, results[i].Segments...)
		if len(results[i].Transcript) > 0 {
			words[clip.SourceIndex] = results[i].Transcript
		}
	}

	return segments, words, nil
}

// buildPlan runs the planner over the pooled segments and, when music is
// attached, prepares the track and snaps cuts to its onsets.
func (w *Worker) buildPlan(ctx context.Context, reel *models.Reel, workDir string, segments []models.Segment) (*models.EditPlan, *models.AudioTrack, error) {
	theme, ok := models.ThemeByID(reel.Theme)
	if !ok {
		return nil, nil, fmt.Errorf("unknown theme %q", reel.Theme)
	}
	transition, ok := models.TransitionByID(reel.Transition)
	if !ok {
		return nil, nil, fmt.Errorf("unknown transition %q", reel.Transition)
	}
	pacing := services.PacingStrategyFor(reel.Pacing)

	plan, err := w.planner.BuildPlan(segments, theme, transition, reel.TargetDurationSeconds, pacing)
	if err != nil {
		var insufficient *models.InsufficientContentError
		if errors.As(err, &insufficient) {
			if dbErr := w.db.UpdateReelUsableSeconds(ctx, reel.ID, insufficient.UsableSeconds); dbErr != nil {
				w.logger.Error().Err(dbErr).Str("reel_id", reel.ID.String()).Msg("failed to record usable seconds")
			}
		}
		return nil, nil, err
	}
	plan.Captions = reel.Captions

	var track *models.AudioTrack
	if reel.HasMusic {
		track, err = w.prepareMusic(ctx, reel, workDir)
		if err != nil {
			return nil, nil, err
		}
		if moved := w.audioSync.Align(plan, track); moved > 0 {
			w.logger.Info().Str("reel_id", reel.ID.String()).Int("snapped", moved).Msg("cuts snapped to music onsets")
		}
	}

	return plan, track, nil
}

func (w *Worker) prepareMusic(ctx context.Context, reel *models.Reel, workDir string) (*models.AudioTrack, error) {
	asset, err := w.db.GetReelAssetByType(ctx, reel.ID, models.AssetTypeMusic)
	if err != nil {
		return nil, fmt.Errorf("failed to look up music asset: %w", err)
	}
	if asset == nil {
		return nil, fmt.Errorf("reel %s has music flagged but no stored track", reel.ID)
	}

	localPath := filepath.Join(workDir, "music"+filepath.Ext(asset.StoragePath))
	if err := w.storage.DownloadToFile(ctx, asset.StoragePath, localPath); err != nil {
		return nil, fmt.Errorf("failed to download music: %w", err)
	}

	track, err := w.audioSync.PrepareTrack(ctx, localPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.UnsupportedMediaError{
			Filename: filepath.Base(asset.StoragePath),
			Reason:   fmt.Sprintf("music track unreadable: %v", err),
		}
	}
	return track, nil
}

// renderAndPublish persists the plan, renders the reel, and uploads the
// artifacts. Only the final video is required; plan exports, captions,
// and the thumbnail degrade to warnings.
func (w *Worker) renderAndPublish(ctx context.Context, reel *models.Reel, workDir string, clips []*models.Clip, plan *models.EditPlan, track *models.AudioTrack, words map[int][]models.WordTimestamp) error {
	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := w.storePlan(ctx, reel.ID, plan); err != nil {
		return err
	}

	captionsPath := ""
	if plan.Captions && len(words) > 0 {
		path := filepath.Join(workDir, "captions.ass")
		n, err := services.WriteReelCaptions(plan, words, path)
		if err != nil {
			w.logger.Warn().Err(err).Str("reel_id", reel.ID.String()).Msg("caption generation failed, rendering without")
		} else if n > 0 {
			captionsPath = path
		}
	}

	outputPath := filepath.Join(workDir, "final.mp4")
	thumbPath := filepath.Join(workDir, "thumbnail.jpg")

	rendered, err := w.renderer.Render(ctx, services.RenderInputs{
		Plan:          plan,
		Clips:         clips,
		Music:         track,
		CaptionsPath:  captionsPath,
		WorkDir:       workDir,
		OutputPath:    outputPath,
		ThumbnailPath: thumbPath,
	})
	if err != nil {
		return err
	}

	finalAsset := &models.Asset{
		ID:            uuid.New(),
		ReelID:        reel.ID,
		Type:          models.AssetTypeFinalVideo,
		StorageBucket: w.storage.Bucket,
		StoragePath:   w.storage.ArtifactPath(reel.ID, "final.mp4"),
		ContentType:   strPtr("video/mp4"),
		ByteSize:      int64Ptr(rendered.SizeBytes),
		Checksum:      strPtr(rendered.Checksum),
	}
	if err := w.uploadWithLimit(ctx, "final.mp4", func() error {
		return w.storage.UploadFile(ctx, finalAsset.StoragePath, rendered.LocalPath, "video/mp4")
	}); err != nil {
		return &models.RenderError{Stage: "publish", Err: err}
	}
	if err := w.db.CreateAsset(ctx, finalAsset); err != nil {
		return fmt.Errorf("failed to save final video asset: %w", err)
	}

	w.uploadSideArtifact(ctx, reel.ID, "thumbnail.jpg", thumbPath, "image/jpeg", models.AssetTypeThumbnail)
	if captionsPath != "" {
		w.uploadSideArtifact(ctx, reel.ID, "captions.ass", captionsPath, "text/plain", models.AssetTypeCaptions)
	}
	w.uploadSideArtifactBytes(ctx, reel.ID, "plan.json", planJSON, "application/json", models.AssetTypePlanJSON)

	edl := services.GenerateEDL(plan, clips, reel.ID.String(), services.ReelFPS)
	w.uploadSideArtifactBytes(ctx, reel.ID, "reel.edl", []byte(edl), "text/plain", models.AssetTypeEDL)

	if err := w.db.SetReelFinalVideo(ctx, reel.ID, finalAsset.ID); err != nil {
		return fmt.Errorf("failed to complete reel: %w", err)
	}

	w.logger.Info().
		Str("reel_id", reel.ID.String()).
		Float64("duration", rendered.Duration).
		Int64("bytes", rendered.SizeBytes).
		Msg("reel completed")

	return nil
}

func (w *Worker) storePlan(ctx context.Context, reelID uuid.UUID, plan *models.EditPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	var planMap models.JSONB
	if err := json.Unmarshal(data, &planMap); err != nil {
		return fmt.Errorf("failed to convert plan: %w", err)
	}
	if err := w.db.UpdateReelPlan(ctx, reelID, planMap); err != nil {
		return fmt.Errorf("failed to store plan: %w", err)
	}
	return nil
}

// uploadSideArtifact publishes an optional artifact. Failures are logged
// and swallowed so a missing thumbnail never fails a finished reel.
func (w *Worker) uploadSideArtifact(ctx context.Context, reelID uuid.UUID, name, localPath, contentType string, assetType models.AssetType) {
	err := w.uploadWithLimit(ctx, name, func() error {
		return w.storage.UploadFile(ctx, w.storage.ArtifactPath(reelID, name), localPath, contentType)
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("artifact", name).Str("reel_id", reelID.String()).Msg("artifact upload failed")
		return
	}
	w.recordArtifact(ctx, reelID, name, contentType, assetType)
}

func (w *Worker) uploadSideArtifactBytes(ctx context.Context, reelID uuid.UUID, name string, data []byte, contentType string, assetType models.AssetType) {
	err := w.uploadWithLimit(ctx, name, func() error {
		return w.storage.Upload(ctx, w.storage.ArtifactPath(reelID, name), data, contentType)
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("artifact", name).Str("reel_id", reelID.String()).Msg("artifact upload failed")
		return
	}
	w.recordArtifact(ctx, reelID, name, contentType, assetType)
}

func (w *Worker) recordArtifact(ctx context.Context, reelID uuid.UUID, name, contentType string, assetType models.AssetType) {
	asset := &models.Asset{
		ID:            uuid.New(),
		ReelID:        reelID,
		Type:          assetType,
		StorageBucket: w.storage.Bucket,
		StoragePath:   w.storage.ArtifactPath(reelID, name),
		ContentType:   strPtr(contentType),
	}
	if err := w.db.CreateAsset(ctx, asset); err != nil {
		w.logger.Warn().Err(err).Str("artifact", name).Str("reel_id", reelID.String()).Msg("failed to record artifact")
	}
}

// ---------------------------------------------------------------------------
// render_reel: re-plan and re-render over stored analysis
// ---------------------------------------------------------------------------

// handleRenderReel rebuilds the plan from segments persisted by an
// earlier run, then renders with the reel's current options. Ingest and
// analysis never re-run; source bytes are re-downloaded for cutting.
func (w *Worker) handleRenderReel(ctx context.Context, job *queue.Job) error {
	reel, err := w.db.GetReel(ctx, job.ReelID)
	if err != nil {
		return fmt.Errorf("failed to get reel: %w", err)
	}
	if reel.Status == models.ReelStatusCancelled {
		w.logger.Info().Str("reel_id", reel.ID.String()).Msg("reel already cancelled, skipping")
		return nil
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go w.watchCancellation(runCtx, reel.ID, cancelRun)

	workDir, err := w.ffmpeg.RunDir(reel.ID.String())
	if err != nil {
		return w.finishRun(reel.ID, fmt.Errorf("failed to create run dir: %w", err))
	}
	defer w.ffmpeg.CleanupDir(workDir)

	return w.finishRun(reel.ID, w.rerender(runCtx, reel, workDir))
}

func (w *Worker) rerender(ctx context.Context, reel *models.Reel, workDir string) error {
	rows, err := w.db.GetReelClips(ctx, reel.ID)
	if err != nil {
		return fmt.Errorf("failed to load clips: %w", err)
	}

	var (
		clips    []*models.Clip
		segments []models.Segment
	)
	words := make(map[int][]models.WordTimestamp)
	for i := range rows {
		clip := &rows[i]
		if clip.Status != models.ClipStatusAnalyzed || len(clip.Segments) == 0 {
			continue
		}
		clips = append(clips, clip)
		segments = append(segments, clip.Segments...)
		if len(clip.Transcript) > 0 {
			words[clip.SourceIndex] = clip.Transcript
		}
	}
	if len(segments) == 0 {
		return fmt.Errorf("reel has no stored analysis to rerender")
	}

	if err := w.setStatus(ctx, reel.ID, models.ReelStatusPlanning); err != nil {
		return err
	}
	plan, track, err := w.buildPlan(ctx, reel, workDir, segments)
	if err != nil {
		return err
	}

	// Sources are retained in storage for exactly this path.
	for _, clip := range clips {
		ext := filepath.Ext(clip.Filename)
		if ext == "" {
			ext = ".mp4"
		}
		clip.LocalPath = filepath.Join(workDir, fmt.Sprintf("source_%02d%s", clip.SourceIndex, ext))

		srcPath := w.storage.SourcePath(reel.ID, clip.SourceIndex, clip.Filename)
		if err := w.storage.DownloadToFile(ctx, srcPath, clip.LocalPath); err != nil {
			return fmt.Errorf("failed to download source %d: %w", clip.SourceIndex, err)
		}
	}

	if err := w.setStatus(ctx, reel.ID, models.ReelStatusRendering); err != nil {
		return err
	}
	return w.renderAndPublish(ctx, reel, workDir, clips, plan, track, words)
}

// Helper functions
func strPtr(s string) *string {
	return &s
}

func int64Ptr(i int64) *int64 {
	return &i
}
