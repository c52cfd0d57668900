// Package config loads drivelens settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drivelens/drivelens/internal/validate"
	"github.com/joho/godotenv"
)

const (
	StorageS3    = "s3"
	StorageLocal = "local"
)

type Config struct {
	Port           string
	BaseURL        string
	MaxUploadBytes int64
	FrameAncestors string

	SessionSecret  string
	SessionIdleTTL time.Duration

	StorageBackend   string
	UploadDir        string
	S3Endpoint       string
	S3PublicEndpoint string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string

	AnalysisURL            string
	AnalysisAPIKey         string
	AnalysisTimeout        time.Duration
	AnalysisSimulatedDelay time.Duration

	HistoryDSN  string
	GeoIPDBPath string

	WebhookURL      string
	WebhookSecret   string
	SlackWebhookURL string

	LogFormat string
	LogLevel  slog.Level
}

// LoadDotEnv seeds the environment from files, or ./.env when none are given.
// Variables already set win over file values; a missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		BaseURL:        strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 500*1024*1024),
		FrameAncestors: os.Getenv("FRAME_ANCESTORS"),

		SessionSecret:  os.Getenv("SESSION_SECRET"),
		SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),

		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", StorageLocal)),
		UploadDir:        getEnv("UPLOAD_DIR", "./uploads"),
		S3Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:3900"),
		S3PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
		S3Bucket:         getEnv("S3_BUCKET", "drivelens"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3Region:         getEnv("S3_REGION", "eu-central-1"),

		AnalysisURL:            os.Getenv("ANALYSIS_URL"),
		AnalysisAPIKey:         os.Getenv("ANALYSIS_API_KEY"),
		AnalysisTimeout:        getEnvDuration("ANALYSIS_TIMEOUT", 5*time.Minute),
		AnalysisSimulatedDelay: getEnvDuration("ANALYSIS_SIMULATED_DELAY", 2*time.Second),

		HistoryDSN:  os.Getenv("HISTORY_DSN"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		WebhookURL:      os.Getenv("WEBHOOK_URL"),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),

		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageBackend {
	case StorageLocal:
		if c.UploadDir == "" {
			return errors.New("UPLOAD_DIR is required for local storage")
		}
	case StorageS3:
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required for s3 storage")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageS3, StorageLocal, c.StorageBackend)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if msg := validate.WebhookURL(c.WebhookURL); msg != "" {
		return fmt.Errorf("WEBHOOK_URL: %s", msg)
	}
	if msg := validate.WebhookURL(c.SlackWebhookURL); msg != "" {
		return fmt.Errorf("SLACK_WEBHOOK_URL: %s", msg)
	}
	return nil
}

// StorageEndpoint is the origin the browser fetches previews from, for CSP.
func (c Config) StorageEndpoint() string {
	if c.StorageBackend != StorageS3 {
		return ""
	}
	if c.S3PublicEndpoint != "" {
		return c.S3PublicEndpoint
	}
	return c.S3Endpoint
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
