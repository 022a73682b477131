package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	h "github.com/veranemoloko/media-harvester/internal/api/http"
	cfgpkg "github.com/veranemoloko/media-harvester/internal/config"
	"github.com/veranemoloko/media-harvester/internal/fetch"
	"github.com/veranemoloko/media-harvester/internal/fingerprint"
	"github.com/veranemoloko/media-harvester/internal/queue"
	svc "github.com/veranemoloko/media-harvester/internal/service"
	"github.com/veranemoloko/media-harvester/internal/storage"
	"github.com/veranemoloko/media-harvester/internal/worker"
)

func main() {

	cfg, err := cfgpkg.Load()
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			slog.Error("configuration file not found", "error", err)
		} else {
			slog.Error("failed to load configuration", "error", err)
		}
		os.Exit(1)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully", "env", cfg.Environment)

	osFs := afero.NewOsFs()

	index, err := fingerprint.Open(cfg.IndexDB, osFs, logger)
	if err != nil {
		logger.Error("failed to open fingerprint index", "path", cfg.IndexDB, "error", err)
		os.Exit(1)
	}

	q, err := queue.New(queue.NewFileStore(cfg.StateFile, logger), queue.Options{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	}, logger)
	if err != nil {
		logger.Error("failed to load work queue", "path", cfg.StateFile, "error", err)
		_ = index.Close()
		os.Exit(1)
	}

	fetcher := fetch.NewHTTPFetcher(fetch.Options{
		Timeout:           cfg.FetchTimeout,
		MaxBytes:          cfg.MaxFileSize,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.RequestBurst,
		Attempts:          cfg.FetchAttempts,
	}, logger)
	files := storage.NewFileStorage(osFs, cfg.DownloadDir)

	pool := worker.NewPool(q, index, fetcher, files, worker.Config{
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
		FetchTimeout: cfg.FetchTimeout,
	}, logger)

	harvestService := svc.NewHarvestService(index, q, files, pool, svc.Options{
		ActivitySize:   cfg.ActivitySize,
		Watch:          cfg.Watch,
		WatchDebounce:  cfg.WatchDebounce,
		RescanSchedule: cfg.RescanSchedule,
		AuditSchedule:  cfg.AuditSchedule,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runDone := make(chan error, 1)
	go func() {
		runDone <- harvestService.Run(ctx)
	}()

	router := h.NewRouter(harvestService, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	go func() {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			stop()
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-runDone:
		// Run only returns early on a startup failure.
		logger.Error("harvest service stopped", "error", err)
		stop()
		runDone <- err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if !drain(shutdownCtx, runDone, logger) {
		// Workers may still be writing to the queue and the index; leave both
		// open and let the process exit.
		os.Exit(1)
	}

	harvestService.Close()
	q.Close()
	if err := index.Close(); err != nil {
		logger.Error("failed to close fingerprint index", "error", err)
	}
	logger.Info("shutdown complete")
}

// drain waits for the harvest service to return. It reports false when ctx
// ends first, in which case the stores must stay open.
func drain(ctx context.Context, runDone <-chan error, logger *slog.Logger) bool {
	select {
	case err := <-runDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("workers stopped with error", "error", err)
		}
		return true
	case <-ctx.Done():
		logger.Warn("workers did not stop before the shutdown timeout, in-flight tasks will be resumed on next start")
		return false
	}
}
