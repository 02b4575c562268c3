package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)
	LogLevel           string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Storage
	StorageURL    string
	StorageKey    string
	StorageBucket string

	// OpenAI (Whisper transcription for retake detection and captions)
	OpenAIKey string

	// Gemini (external clip scoring, optional)
	GeminiKey   string
	GeminiModel string

	// Worker
	MaxConcurrentJobs     int
	MaxConcurrentAnalysis int
	TempDir               string

	// Resource limits
	MaxClipBytes   int64
	MaxClipSeconds float64

	// Reel bounds
	MinTargetSeconds     float64
	MaxTargetSeconds     float64
	DefaultTargetSeconds float64
	MinReelSeconds       float64

	// Analyzer tuning. Weights are product-tuning parameters; the defaults
	// below are starting points, every one overridable from the environment.
	ScoreWindowSeconds float64
	WeightMotion       float64
	WeightAudio        float64
	WeightRetake       float64
	KeepThreshold      float64
	DeadtimeFloor      float64
	MinIdleSeconds     float64
	MergeEpsilon       float64
	MinSegmentSeconds  float64
	PacingStrategy     string

	// Synchronizer
	OnsetSnapSeconds float64

	// Renderer
	MusicVolume     float64
	RenderCRF       int
	RenderPreset    string
	RenderThreads   int
	CaptionsDefault bool
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageURL:         getEnv("STORAGE_URL", ""),
		StorageKey:         getEnv("STORAGE_KEY", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "reels"),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 2),
		MaxConcurrentAnalysis: getEnvInt("MAX_CONCURRENT_ANALYSIS", 4),
		TempDir:               getEnv("TEMP_DIR", os.TempDir()),

		MaxClipBytes:   getEnvInt64("MAX_CLIP_BYTES", 512<<20),
		MaxClipSeconds: getEnvFloat("MAX_CLIP_SECONDS", 600),

		MinTargetSeconds:     getEnvFloat("MIN_TARGET_SECONDS", 15),
		MaxTargetSeconds:     getEnvFloat("MAX_TARGET_SECONDS", 60),
		DefaultTargetSeconds: getEnvFloat("DEFAULT_TARGET_SECONDS", 30),
		MinReelSeconds:       getEnvFloat("MIN_REEL_SECONDS", 15),

		ScoreWindowSeconds: getEnvFloat("SCORE_WINDOW_SECONDS", 1.0),
		WeightMotion:       getEnvFloat("WEIGHT_MOTION", 0.4),
		WeightAudio:        getEnvFloat("WEIGHT_AUDIO", 0.4),
		WeightRetake:       getEnvFloat("WEIGHT_RETAKE", 0.2),
		KeepThreshold:      getEnvFloat("KEEP_THRESHOLD", 0.25),
		DeadtimeFloor:      getEnvFloat("DEADTIME_FLOOR", 0.05),
		MinIdleSeconds:     getEnvFloat("MIN_IDLE_SECONDS", 2.0),
		MergeEpsilon:       getEnvFloat("MERGE_EPSILON", 0.05),
		MinSegmentSeconds:  getEnvFloat("MIN_SEGMENT_SECONDS", 0.5),
		PacingStrategy:     getEnv("PACING_STRATEGY", "round_robin"),

		OnsetSnapSeconds: getEnvFloat("ONSET_SNAP_SECONDS", 0.3),

		MusicVolume:     getEnvFloat("MUSIC_VOLUME", 0.2),
		RenderCRF:       getEnvInt("RENDER_CRF", 23),
		RenderPreset:    getEnv("RENDER_PRESET", "medium"),
		RenderThreads:   getEnvInt("RENDER_THREADS", 4),
		CaptionsDefault: getEnvBool("CAPTIONS_DEFAULT", false),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.StorageURL == "" || cfg.StorageKey == "" {
		return nil, fmt.Errorf("STORAGE_URL and STORAGE_KEY are required")
	}

	if cfg.MinTargetSeconds <= 0 || cfg.MaxTargetSeconds < cfg.MinTargetSeconds {
		return nil, fmt.Errorf("invalid target duration bounds: min=%.1f max=%.1f", cfg.MinTargetSeconds, cfg.MaxTargetSeconds)
	}

	if cfg.DefaultTargetSeconds < cfg.MinTargetSeconds || cfg.DefaultTargetSeconds > cfg.MaxTargetSeconds {
		return nil, fmt.Errorf("DEFAULT_TARGET_SECONDS %.1f outside [%.1f, %.1f]", cfg.DefaultTargetSeconds, cfg.MinTargetSeconds, cfg.MaxTargetSeconds)
	}

	if w := cfg.WeightMotion + cfg.WeightAudio + cfg.WeightRetake; w <= 0 {
		return nil, fmt.Errorf("analyzer weights must sum to a positive value, got %.3f", w)
	}

	if cfg.PacingStrategy != "round_robin" && cfg.PacingStrategy != "sequential" {
		return nil, fmt.Errorf("unknown PACING_STRATEGY %q", cfg.PacingStrategy)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
