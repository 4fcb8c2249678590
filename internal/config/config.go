package config

import (
	"log/slog"
	"os"
	"strconv"
)

// Defaults for image normalization and upload batching. Used whenever the
// corresponding environment variable is missing or malformed.
const (
	DefaultMaxWidth        = 1920
	DefaultMaxHeight       = 1920
	DefaultJPEGQuality     = 85
	DefaultUploadBatchSize = 5
)

// Config holds everything curator reads from the environment.
type Config struct {
	APIBaseURL string
	APIToken   string

	MaxWidth        int
	MaxHeight       int
	JPEGQuality     int
	UploadBatchSize int

	GeminiAPIKey string
	GeminiModel  string
}

// Load reads configuration from the environment. Malformed numeric values
// fall back to the documented defaults with a logged warning rather than
// failing startup.
func Load() *Config {
	return &Config{
		APIBaseURL:      getEnvWithDefault("CURATOR_API_URL", "http://localhost:8080"),
		APIToken:        os.Getenv("CURATOR_API_TOKEN"),
		MaxWidth:        getEnvInt("CURATOR_MAX_WIDTH", DefaultMaxWidth),
		MaxHeight:       getEnvInt("CURATOR_MAX_HEIGHT", DefaultMaxHeight),
		JPEGQuality:     getEnvInt("CURATOR_JPEG_QUALITY", DefaultJPEGQuality),
		UploadBatchSize: getEnvInt("CURATOR_UPLOAD_BATCH_SIZE", DefaultUploadBatchSize),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnvWithDefault("GEMINI_MODEL", "gemini-1.5-flash"),
	}
}

func getEnvWithDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("Malformed numeric setting, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}
