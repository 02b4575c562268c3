package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/reelforge/internal/api"
	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/db"
	"github.com/bobarin/reelforge/internal/logging"
	"github.com/bobarin/reelforge/internal/queue"
	"github.com/bobarin/reelforge/internal/services"
	"github.com/bobarin/reelforge/internal/storage"
	"github.com/bobarin/reelforge/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatal().Err(err).Msg("Failed to load config")
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info().Msg("Starting Reelforge API")

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()
	logger.Info().Msg("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to queue")
	}
	defer q.Close()
	logger.Info().Msg("Connected to Redis queue")

	// Initialize storage
	stor := storage.New(cfg.StorageURL, cfg.StorageKey, cfg.StorageBucket, logging.Component(logger, "storage"))
	logger.Info().Str("bucket", cfg.StorageBucket).Msg("Initialized storage")

	// Create API handler
	handler := api.NewHandler(database, q, stor, cfg)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Warn().Msg("No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCtx context.Context
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		logger.Info().Msg("Worker enabled, starting background processing")

		ffmpegSvc, err := services.NewFFmpegService(cfg.TempDir, logging.Component(logger, "ffmpeg"))
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize ffmpeg")
		}

		// Transcription and cut suggestions degrade gracefully when the
		// AI keys are absent; the signal pipeline runs without them.
		var openaiSvc *services.OpenAIService
		if cfg.OpenAIKey != "" {
			openaiSvc = services.NewOpenAIService(cfg.OpenAIKey, logging.Component(logger, "openai"))
			logger.Info().Msg("Whisper transcription enabled")
		} else {
			logger.Info().Msg("No OPENAI_API_KEY set, captions and speech signals disabled")
		}

		var geminiSvc *services.GeminiService
		if cfg.GeminiKey != "" {
			geminiSvc = services.NewGeminiService(cfg.GeminiKey, cfg.GeminiModel, logging.Component(logger, "gemini"))
			logger.Info().Str("model", cfg.GeminiModel).Msg("Gemini cut suggestions enabled")
		} else {
			logger.Info().Msg("No GEMINI_API_KEY set, cut suggestions disabled")
		}

		ingestSvc := services.NewIngestService(ffmpegSvc, cfg, logging.Component(logger, "ingest"))
		analyzerSvc := services.NewAnalyzerService(ffmpegSvc, openaiSvc, geminiSvc, cfg, logging.Component(logger, "analyzer"))
		plannerSvc := services.NewPlannerService(cfg, logging.Component(logger, "planner"))
		audioSyncSvc := services.NewAudioSyncService(ffmpegSvc, cfg, logging.Component(logger, "audiosync"))
		rendererSvc := services.NewRenderService(ffmpegSvc, cfg, logging.Component(logger, "renderer"))

		w := worker.New(database, q, stor, ingestSvc, analyzerSvc, plannerSvc, audioSyncSvc, rendererSvc, ffmpegSvc, cfg, logging.Component(logger, "worker"))

		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited")
}
