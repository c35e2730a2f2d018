// Package main is the entry point for the Facebook video downloader API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CostsmpRTR/facebook-video-downloader/internal/config"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/infra/cache"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/infra/fs"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/infra/r2"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/infra/sqlite"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/service/downloader"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/service/queue"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/service/video"
	transporthttp "github.com/CostsmpRTR/facebook-video-downloader/internal/transport/http"
	"github.com/CostsmpRTR/facebook-video-downloader/internal/transport/http/middleware"
	"github.com/CostsmpRTR/facebook-video-downloader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.Setup(&logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	log.Info("Starting Facebook video downloader API",
		"version", cfg.AppVersion,
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if err := run(cfg, log); err != nil {
		log.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scratch, err := fs.NewScratch(cfg.DownloadDir, log)
	if err != nil {
		return err
	}

	repo, err := sqlite.NewRepository(cfg.DataDir)
	if err != nil {
		return err
	}
	defer repo.Close()

	dl := downloader.New(&downloader.Config{
		YtDlpPath:       cfg.YtDlpPath,
		FFmpegPath:      cfg.FFmpegPath,
		ProbeTimeout:    cfg.ProbeTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
	}, log)
	if err := dl.CheckYtDlp(); err != nil {
		log.Warn("yt-dlp check failed, requests will fail until it is installed", "error", err)
	}

	serviceCfg := video.Config{
		Extractor: dl,
		Scratch:   scratch,
		Sessions:  repo,
		Logger:    log,
	}
	if cfg.MetadataCacheTTL > 0 {
		serviceCfg.Cache = cache.NewMetadataCache(cfg.MetadataCacheTTL, cfg.MetadataCacheTTL/2)
	}
	svc := video.NewService(serviceCfg)

	cleanerCfg := &fs.CleanerConfig{
		Scratch:  scratch,
		Registry: repo,
		MaxAge:   cfg.SessionMaxAge,
		Interval: cfg.CleanupInterval,
		Logger:   log,
	}

	var offloader transporthttp.Offloader
	if cfg.R2Enabled() {
		client, err := r2.NewClient(ctx, &r2.Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PresignExpiry:   cfg.PresignedURLExpiry,
		}, log)
		if err != nil {
			log.Warn("R2 not available, streaming downloads directly", "error", err)
		} else {
			offloader = client
			cleanerCfg.Objects = client
		}
	}

	dispatcher := queue.NewDispatcher(cfg.MaxWorkers, cfg.MaxQueueSize, log)
	dispatcher.Start(ctx)

	cleaner := fs.NewCleaner(cleanerCfg)
	cleaner.Start(ctx)

	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimitRPM,
		Burst:             cfg.RateLimitBurst,
		CleanupInterval:   10 * time.Minute,
		Logger:            log,
	})
	defer limiter.Stop()

	handlers := transporthttp.NewHandlers(svc, dispatcher, offloader, cfg.AppVersion, log)
	router := transporthttp.NewRouter(&transporthttp.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimiter:    limiter,
		Logger:         log,
	}, handlers)

	// Allow a full download plus time to stream it back.
	server := transporthttp.NewServer(":"+cfg.Port, router, cfg.DownloadTimeout+5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Shutting down...", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	// Cancel in-flight yt-dlp runs before waiting on the workers.
	cancel()
	cleaner.Stop()
	dispatcher.Stop()

	log.Info("Server stopped")
	return nil
}
