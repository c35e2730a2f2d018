// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port       string
	Env        string
	LogLevel   string
	LogFormat  string
	AppVersion string

	// CORS
	AllowedOrigins []string

	// Rate Limiting
	RateLimitRPM   int
	RateLimitBurst int

	// Worker Pool
	MaxWorkers   int
	MaxQueueSize int

	// yt-dlp
	YtDlpPath       string
	FFmpegPath      string
	ProbeTimeout    time.Duration
	DownloadTimeout time.Duration

	// Metadata cache, zero disables it
	MetadataCacheTTL time.Duration

	// Sessions
	SessionMaxAge   time.Duration
	CleanupInterval time.Duration

	// R2 Storage
	R2AccountID        string
	R2AccessKeyID      string
	R2SecretAccessKey  string
	R2BucketName       string
	PresignedURLExpiry time.Duration

	// Paths
	DownloadDir string
	DataDir     string
}

// Load loads configuration from the environment, after reading .env if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:       getEnv("PORT", "8000"),
		Env:        getEnv("ENV", "development"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "text"),
		AppVersion: getEnv("APP_VERSION", "1.0.0"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8000")),

		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 3),

		MaxWorkers:   getEnvInt("MAX_WORKERS", 4),
		MaxQueueSize: getEnvInt("MAX_QUEUE_SIZE", 20),

		YtDlpPath:       getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:      getEnv("FFMPEG_PATH", ""),
		ProbeTimeout:    time.Duration(getEnvInt("PROBE_TIMEOUT", 60)) * time.Second,
		DownloadTimeout: time.Duration(getEnvInt("DOWNLOAD_TIMEOUT", 600)) * time.Second,

		MetadataCacheTTL: time.Duration(getEnvInt("METADATA_CACHE_TTL", 10)) * time.Minute,

		SessionMaxAge:   time.Duration(getEnvInt("SESSION_MAX_AGE", 60)) * time.Minute,
		CleanupInterval: time.Duration(getEnvInt("CLEANUP_INTERVAL", 10)) * time.Minute,

		R2AccountID:        getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:      getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey:  getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:       getEnv("R2_BUCKET_NAME", ""),
		PresignedURLExpiry: time.Duration(getEnvInt("PRESIGNED_URL_EXPIRY", 15)) * time.Minute,

		DownloadDir: getEnv("DOWNLOAD_DIR", "./downloads"),
		DataDir:     getEnv("DATA_DIR", "./data"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT %q: %w", c.Port, err)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be at least 1, got %d", c.MaxWorkers)
	}
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be at least 1, got %d", c.MaxQueueSize)
	}
	if c.ProbeTimeout <= 0 || c.DownloadTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT and DOWNLOAD_TIMEOUT must be positive")
	}
	if c.MetadataCacheTTL < 0 {
		return fmt.Errorf("METADATA_CACHE_TTL must not be negative")
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("DOWNLOAD_DIR must not be empty")
	}
	return nil
}

// R2Enabled reports whether all R2 credentials are present.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		slog.Warn("Ignoring malformed integer setting", "key", key, "value", value)
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
