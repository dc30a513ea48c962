package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"linkvault/internal/config"
	"linkvault/internal/handlers"
	"linkvault/internal/utils"
	"linkvault/internal/workers"
)

const browserSampleInterval = 30 * time.Second

// SetupLogger installs the process-wide JSON logger.
func SetupLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return logger
}

// Run serves the HTTP API and the River workers until ctx is cancelled or
// the process receives SIGINT or SIGTERM.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := SetupLogger(cfg)
	logger.Info("Configuration loaded",
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("storage_path", cfg.Root),
		slog.String("mirror", cfg.StorageConfig.Mirror),
		slog.Bool("proxy", cfg.ProxyEnabled()),
		slog.Bool("change_detection", cfg.ChangeDetectionEnabled()))

	healthConfig := utils.DefaultHealthCheckConfig()
	healthConfig.SingleFilePath = cfg.SingleFilePath
	if err := utils.RunHealthChecks(healthConfig); err != nil {
		// Captures fall back across backends, so a missing tool is not fatal.
		logger.Warn("Health check warning", slog.String("error", err.Error()))
	} else {
		logger.Info("All health checks passed")
	}

	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Migrate(); err != nil {
		return err
	}

	riverClient, err := workers.NewRiverClient(a.Pool, a.WorkerConfig(), a.WorkerDeps())
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}

	if cfg.ChangeDetectionEnabled() {
		if _, err := a.ChangeDetection.RegisterWebhook(ctx); err != nil {
			logger.Warn("Failed to register change notification webhook", slog.String("error", err.Error()))
		}
	}
	a.ProxyHealth.Start()

	if cfg.SlogLevel() > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	handlers.SetupRoutes(r, a.Routes(true))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Browsers.Run(gCtx, browserSampleInterval)
		return nil
	})

	g.Go(func() error {
		if err := riverClient.Start(gCtx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River workers started",
			slog.Int("archive_workers", cfg.CaptureConfig.Workers),
			slog.Int("check_workers", cfg.MonitorConfig.Workers))
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			logger.Error("River shutdown error", slog.String("error", err.Error()))
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
