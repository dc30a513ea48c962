// Package app assembles the archive service from its configuration. The
// server and the admin CLI share one wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"linkvault/internal/archivers"
	"linkvault/internal/changedetection"
	"linkvault/internal/config"
	"linkvault/internal/handlers"
	"linkvault/internal/models"
	"linkvault/internal/monitor"
	"linkvault/internal/monitoring"
	"linkvault/internal/pipeline"
	"linkvault/internal/proxy"
	"linkvault/internal/service"
	"linkvault/internal/storage"
	"linkvault/internal/utils"
	"linkvault/internal/workers"
)

// App holds every long-lived component.
type App struct {
	Config *config.Config

	Pool *pgxpool.Pool
	DB   *gorm.DB

	Store           *storage.ArchiveStore
	Mirror          *storage.Mirror
	Selector        *proxy.Selector
	Prober          *proxy.Prober
	ProxyHealth     *proxy.HealthChecker
	ChangeDetection *changedetection.Client
	Pipeline        *pipeline.Pipeline
	Service         *service.Service
	Monitor         *monitor.Monitor
	Queue           *workers.RiverQueueManager
	Browsers        *monitoring.BrowserTracker

	geo *proxy.GeoIPLocator
}

// New connects to the database and builds the capture and integrity stack.
// The River client is created separately by workers.NewRiverClient.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	pgxConfig, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	a.Pool, err = pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}

	// GORM shares the pgx pool with River.
	a.DB, err = gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(a.Pool)}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		a.Pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	if err := a.buildStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.buildProxy()

	a.ChangeDetection = changedetection.New(cfg.ChangeDetectionSettings())

	a.Browsers = monitoring.NewBrowserTracker()
	assets := &archivers.AssetExtractor{
		Timeout:    cfg.AssetTimeout,
		Renderer:   &archivers.PlaywrightRenderer{Recorder: a.Browsers},
		Screenshot: cfg.Screenshot,
		PDF:        cfg.PDF,
	}
	backends := archivers.NewRegistry(
		&archivers.SingleFileBackend{Path: cfg.SingleFilePath, Args: cfg.SingleFileArgs, Assets: assets},
		&archivers.BrowserBackend{Screenshot: cfg.Screenshot, PDF: cfg.PDF, Assets: assets, Recorder: a.Browsers},
	)

	retry := utils.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	opts := pipeline.Options{
		Retry:          retry,
		CaptureTimeout: cfg.Timeout,
		ProbeTimeout:   cfg.CheckTimeout,
		Prober:         a.Prober,
		Registrar:      a.ChangeDetection,
		Mirror:         a.Mirror,
	}
	a.Pipeline = pipeline.New(a.Store, backends, a.Selector, opts)
	a.Service = service.New(a.DB, a.Pipeline)
	a.Monitor = monitor.New(a.DB, a.Store, monitor.Config{
		CheckTimeout: cfg.CheckTimeout,
		BatchSize:    cfg.BatchSize,
	})
	a.Queue = workers.NewRiverQueueManager(nil)
	return a, nil
}

func (a *App) buildStorage(ctx context.Context) error {
	cfg := a.Config
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	a.Store = storage.NewArchiveStore(cfg.Root)

	switch cfg.StorageConfig.Mirror {
	case "fs":
		if err := os.MkdirAll(cfg.MirrorPath, 0755); err != nil {
			return fmt.Errorf("create mirror root: %w", err)
		}
		a.Mirror = storage.NewMirror(a.Store, storage.NewZSTDStorage(storage.NewFSStorage(cfg.MirrorPath)))
	case "s3":
		s3, err := storage.NewS3Storage(ctx, cfg.S3Settings())
		if err != nil {
			return fmt.Errorf("init s3 mirror: %w", err)
		}
		a.Mirror = storage.NewMirror(a.Store, storage.NewZSTDStorage(s3))
	}
	if a.Mirror != nil {
		slog.Info("Snapshot mirror enabled", "backend", cfg.StorageConfig.Mirror)
	}
	return nil
}

func (a *App) buildProxy() {
	cfg := a.Config

	var locator proxy.Locator
	if cfg.GeoIPPath != "" {
		geo, err := proxy.OpenGeoIP(cfg.GeoIPPath)
		if err != nil {
			slog.Warn("GeoIP database unavailable, proxies will not be geo-targeted", "error", err)
		} else {
			a.geo = geo
			locator = geo
		}
	}

	a.Selector = proxy.NewSelector(cfg.ProxySettings(), locator)
	a.Prober = proxy.NewProber(cfg.EchoURL)

	var target *proxy.Proxy
	if a.Selector.Enabled() {
		target = a.Selector.Fallback()
	}
	a.ProxyHealth = proxy.NewHealthChecker(target, a.Prober, cfg.HealthInterval)
}

// Migrate brings the schema up to date.
func (a *App) Migrate() error {
	if err := models.AutoMigrate(a.DB); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// WorkerConfig sizes the River queues from the configuration.
func (a *App) WorkerConfig() workers.Config {
	return workers.Config{
		ArchiveWorkers: a.Config.CaptureConfig.Workers,
		CheckWorkers:   a.Config.MonitorConfig.Workers,
		SweepInterval:  a.Config.SweepInterval,
		CleanupAge:     a.Config.CleanupAge,
	}
}

// WorkerDeps are the components the River workers drive.
func (a *App) WorkerDeps() workers.Deps {
	return workers.Deps{DB: a.DB, Service: a.Service, Monitor: a.Monitor, Queue: a.Queue}
}

// Routes returns the handler dependencies. Captures are queued when
// withQueue is set and run inline otherwise.
func (a *App) Routes(withQueue bool) handlers.Deps {
	d := handlers.Deps{
		DB:          a.DB,
		Service:     a.Service,
		Monitor:     a.Monitor,
		Mirror:      a.Mirror,
		ProxyHealth: a.ProxyHealth,
		Browsers:    a.Browsers,
		Capabilities: handlers.Capabilities{
			Proxy:           a.Selector.Enabled(),
			ChangeDetection: a.ChangeDetection.Enabled(),
			Mirror:          a.Mirror != nil,
			Queue:           withQueue,
		},
	}
	if withQueue {
		d.Queue = a.Queue
	}
	return d
}

func (a *App) Close() {
	if a.ProxyHealth != nil {
		a.ProxyHealth.Stop()
	}
	if a.geo != nil {
		a.geo.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
