// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Pipeline tuning
	WorkerConcurrency int           // Max in-flight compute units per run
	WorkerTimeout     time.Duration // Per-unit compute timeout
	MaxAttempts       int           // Bounded retries for transient compute errors
	ComputeRatePerMin int           // Rate cap for calls to the compute collaborator
	CacheTTL          time.Duration // Tier-2 cache TTL, renewed per write

	// Scheduler
	RunSchedule      string        // Cron expression for the daily run
	ReadinessTimeout time.Duration // Max wait for upstream snapshots before giving up
	ReadinessPoll    time.Duration // Poll interval while waiting for snapshots

	// Tier-2 cache backend: "sqlite" (default) or "s3"
	CacheBackend string
	S3           *S3Config

	// UniverseSeed lists symbols upserted into an empty universe at startup,
	// so a fresh deployment can run without a manual load step.
	UniverseSeed []string
}

// S3Config holds credentials for the S3-compatible tier-2 cache backend.
// Works with AWS S3 and Cloudflare R2 (custom endpoint).
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("BRIEF_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("BRIEF_PORT", 8010),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		WorkerConcurrency: getEnvAsInt("BRIEF_WORKER_CONCURRENCY", 4),
		WorkerTimeout:     time.Duration(getEnvAsInt("BRIEF_WORKER_TIMEOUT_SECONDS", 120)) * time.Second,
		MaxAttempts:       getEnvAsInt("BRIEF_MAX_ATTEMPTS", 3),
		ComputeRatePerMin: getEnvAsInt("BRIEF_COMPUTE_RATE_PER_MINUTE", 10),
		CacheTTL:          time.Duration(getEnvAsInt("BRIEF_CACHE_TTL_HOURS", 24)) * time.Hour,

		// Default: 21:30 UTC on weekdays, after US close and the upstream fetch window
		RunSchedule:      getEnv("BRIEF_RUN_SCHEDULE", "30 21 * * 1-5"),
		ReadinessTimeout: time.Duration(getEnvAsInt("BRIEF_READINESS_TIMEOUT_MINUTES", 60)) * time.Minute,
		ReadinessPoll:    time.Duration(getEnvAsInt("BRIEF_READINESS_POLL_SECONDS", 60)) * time.Second,

		CacheBackend: getEnv("BRIEF_CACHE_BACKEND", "sqlite"),
		UniverseSeed: getEnvAsList("BRIEF_UNIVERSE_SEED"),
	}

	if cfg.CacheBackend == "s3" {
		cfg.S3 = &S3Config{
			Bucket:          getEnv("BRIEF_S3_BUCKET", ""),
			Region:          getEnv("BRIEF_S3_REGION", "auto"),
			Endpoint:        getEnv("BRIEF_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("BRIEF_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BRIEF_S3_SECRET_ACCESS_KEY", ""),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.CacheBackend != "sqlite" && c.CacheBackend != "s3" {
		return fmt.Errorf("invalid cache backend: %s (must be sqlite or s3)", c.CacheBackend)
	}
	if c.CacheBackend == "s3" && (c.S3 == nil || c.S3.Bucket == "") {
		return fmt.Errorf("s3 cache backend requires BRIEF_S3_BUCKET")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
