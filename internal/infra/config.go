package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	JWTSecret        string
	StoragePath      string
	StorageBaseURL   string
	VideoAPIKey      string
	VideoBaseURL     string
	VideoModel       string
	BucketBaseURL    string
	BucketName       string
	BucketAPIKey     string
	AllowedOrigins   []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	PollInterval     time.Duration
	PollMaxInterval  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		VideoAPIKey:      os.Getenv("VIDEO_API_KEY"),
		VideoBaseURL:     getEnv("VIDEO_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		VideoModel:       getEnv("VIDEO_MODEL", "veo-3.0-generate-001"),
		BucketBaseURL:    os.Getenv("BUCKET_BASE_URL"),
		BucketName:       getEnv("BUCKET_NAME", "generated-videos"),
		BucketAPIKey:     os.Getenv("BUCKET_API_KEY"),
		AllowedOrigins:   splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)),
		PollMaxInterval:  time.Second * time.Duration(getEnvInt("POLL_MAX_INTERVAL_SECONDS", 30)),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
