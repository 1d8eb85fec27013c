package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Host string
	Port string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Storage settings
	DataDir      string
	SnapshotPath string
	SourcesFile  string

	// Remote file host settings
	RemoteBaseURL          string
	RemoteContentURL       string
	RemoteDocsURL          string
	FetchTimeout           time.Duration
	MaxConcurrentDownloads int
	UserAgent              string

	// Browser fallback for the file host's confirmation page
	BrowserFallback bool
	HeadlessMode    bool
	BrowserPath     string

	// Dataset lifecycle
	BackgroundLoad  bool
	RefreshSchedule string

	// Report settings
	SeriesStartDate   time.Time
	SignificanceLevel float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not an error if .env doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Host:         getEnv("HOST", "0.0.0.0"),
		Port:         getEnv("PORT", "5000"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		DataDir:      getEnv("DATA_DIR", "./data/cache"),
		SnapshotPath: getEnv("SNAPSHOT_PATH", "./data/snapshot.db"),
		SourcesFile:  getEnv("SOURCES_FILE", ""),

		RemoteBaseURL:    getEnv("REMOTE_BASE_URL", "https://drive.google.com"),
		RemoteContentURL: getEnv("REMOTE_CONTENT_URL", "https://drive.usercontent.google.com"),
		RemoteDocsURL:    getEnv("REMOTE_DOCS_URL", "https://docs.google.com"),

		UserAgent:       getEnv("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"),
		BrowserPath:     getEnv("ROD_BROWSER_PATH", ""),
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", ""),
	}

	var err error

	fetchTimeout, err := strconv.Atoi(getEnv("FETCH_TIMEOUT", "120"))
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_TIMEOUT: %w", err)
	}
	cfg.FetchTimeout = time.Duration(fetchTimeout) * time.Second

	cfg.MaxConcurrentDownloads, err = strconv.Atoi(getEnv("MAX_CONCURRENT_DOWNLOADS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_DOWNLOADS: %w", err)
	}
	if cfg.MaxConcurrentDownloads < 1 {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_DOWNLOADS: must be at least 1")
	}

	cfg.BrowserFallback = getEnv("BROWSER_FALLBACK", "false") == "true"
	cfg.HeadlessMode = getEnv("HEADLESS_MODE", "true") == "true"
	cfg.BackgroundLoad = getEnv("BACKGROUND_LOAD", "true") == "true"

	cfg.SeriesStartDate, err = time.Parse("2006-01-02", getEnv("SERIES_START_DATE", "2016-01-01"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERIES_START_DATE: %w", err)
	}

	cfg.SignificanceLevel, err = strconv.ParseFloat(getEnv("SIGNIFICANCE_LEVEL", "0.05"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SIGNIFICANCE_LEVEL: %w", err)
	}

	return cfg, nil
}

// Address returns the host:port pair the server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
