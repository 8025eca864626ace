package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"gigatile/internal/catalog"
	"gigatile/internal/config"
	"gigatile/internal/fetch"
	httphandlers "gigatile/internal/http"
	"gigatile/internal/logger"
	"gigatile/internal/viewer"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, "json")
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	log.Info("Starting Gigatile server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("tile_size", cfg.TileSize),
		zap.String("cache_policy", cfg.CachePolicy),
	)

	cat := catalog.New(cfg.DataDir, catalog.Options{
		TileSize:       cfg.TileSize,
		BackgroundSize: cfg.BackgroundSize,
	}, log.Named("catalog"))
	if err := cat.Scan(); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}

	viewers := viewer.NewManager(cat, viewer.Options{
		CachePolicy: cfg.CachePolicy,
		CacheTiles:  cfg.CacheTiles,
		Fetch: fetch.Options{
			Workers:       cfg.FetchWorkers,
			RatePerSecond: cfg.FetchRPS,
			Burst:         cfg.FetchWorkers,
			Timeout:       cfg.FetchTimeout,
		},
	}, log.Named("viewer"))
	defer viewers.Close()

	handlers := httphandlers.New(cfg, log, cat, viewers)

	if cfg.WarmupLevels > 0 {
		images := cat.Images()
		ids := make([]string, 0, len(images))
		for _, img := range images {
			ids = append(ids, img.ID)
		}
		go viewers.Warmup(ids, cfg.WarmupLevels)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Routes(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
