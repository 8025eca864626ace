package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port    int
	DataDir string

	TileSize       int
	BackgroundSize int
	CachePolicy    string
	CacheTiles     int

	FetchWorkers  int
	FetchRPS      float64
	FetchTimeout  time.Duration
	WarmupLevels  int
	ViewWait      time.Duration
	MaxViewPixels int

	VipsMaxCacheMB  int
	VipsConcurrency int
	LogLevel        string
	UploadToken     string
	MaxUploadSize   int64
	AllowedOrigin   string
}

func Load() *Config {
	cfg := &Config{
		Port:    getEnvInt("PORT", 8080),
		DataDir: getEnv("DATA_DIR", "/data"),

		TileSize:       getEnvInt("TILE_SIZE", 256),
		BackgroundSize: getEnvInt("BACKGROUND_SIZE", 1024),
		CachePolicy:    getEnv("CACHE_POLICY", "cost"),
		CacheTiles:     getEnvInt("CACHE_TILES", 2000),

		FetchWorkers:  getEnvInt("FETCH_WORKERS", 4),
		FetchRPS:      getEnvFloat("FETCH_RPS", 0),
		FetchTimeout:  time.Duration(getEnvInt("FETCH_TIMEOUT_MS", 30000)) * time.Millisecond,
		WarmupLevels:  getEnvInt("WARMUP_LEVELS", 1),
		ViewWait:      time.Duration(getEnvInt("VIEW_WAIT_MS", 2000)) * time.Millisecond,
		MaxViewPixels: getEnvInt("MAX_VIEW_PIXELS", 4096),

		VipsMaxCacheMB:  getEnvInt("VIPS_MAX_CACHE_MB", 256),
		VipsConcurrency: getEnvInt("VIPS_CONCURRENCY", 1),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		UploadToken:     getEnv("UPLOAD_TOKEN", ""),
		MaxUploadSize:   getEnvInt64("MAX_UPLOAD_SIZE", 4294967296), // 4GB default
		AllowedOrigin:   getEnv("ALLOWED_ORIGIN", ""),
	}

	return cfg
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.TileSize <= 0 {
		errs = append(errs, fmt.Errorf("TILE_SIZE must be positive: %d", c.TileSize))
	}
	if c.FetchWorkers <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_WORKERS must be positive: %d", c.FetchWorkers))
	}
	if c.FetchRPS < 0 {
		errs = append(errs, fmt.Errorf("FETCH_RPS must not be negative: %v", c.FetchRPS))
	}
	if c.MaxViewPixels <= 0 {
		errs = append(errs, fmt.Errorf("MAX_VIEW_PIXELS must be positive: %d", c.MaxViewPixels))
	}
	switch c.CachePolicy {
	case "cost", "lru", "unbounded":
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_POLICY: %q", c.CachePolicy))
	}
	return errors.Join(errs...)
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
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func (c *Config) IsUploadPublic() bool {
	return strings.TrimSpace(c.UploadToken) == ""
}
