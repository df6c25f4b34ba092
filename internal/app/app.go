// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/pncplab/harvester/internal/api"
	"github.com/pncplab/harvester/internal/backfill"
	"github.com/pncplab/harvester/internal/catalog"
	"github.com/pncplab/harvester/internal/clock/system"
	"github.com/pncplab/harvester/internal/config"
	"github.com/pncplab/harvester/internal/convert"
	"github.com/pncplab/harvester/internal/export"
	"github.com/pncplab/harvester/internal/ingest"
	"github.com/pncplab/harvester/internal/logging"
	"github.com/pncplab/harvester/internal/pncp"
	"github.com/pncplab/harvester/internal/policy/admission"
	"github.com/pncplab/harvester/internal/progress"
	"github.com/pncplab/harvester/internal/progress/sinks"
	"github.com/pncplab/harvester/internal/storage/postgres"
	"github.com/pncplab/harvester/internal/telemetry"
)

// App holds the shared, long-lived services of the harvester. It is built
// once at startup and handed to the command that needs it; nothing in here
// is reachable through package globals.
type App struct {
	Logger  *zap.Logger
	Store   catalog.Store
	Gate    *admission.Gate
	Client  *pncp.Client
	Pool    *convert.Pool
	Hub     *progress.Hub
	Tracker *sinks.Tracker
	Clock   catalog.Clock

	cfg      config.Config
	pgStore  *postgres.Store
	poolStop context.CancelFunc
	tracer   *sdktrace.TracerProvider
}

// New builds every service from the configuration, failing fast when a
// critical dependency (the database above all) cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Info("initializing services")

	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	store, err := postgres.NewStore(ctx, postgres.Config{
		DSN:            cfg.DB.DSN,
		MaxConns:       int32(cfg.DB.MaxConns),
		MinConns:       int32(cfg.DB.MinConns),
		SkipMigrations: cfg.DB.SkipMigrations,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	gate, err := admission.New(admission.Config{
		Limit: cfg.Catalog.MaxConcurrent,
		RPS:   cfg.Catalog.RequestsPerSec,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init admission gate: %w", err)
	}

	client := pncp.NewClient(pncp.Config{
		SearchURL: cfg.Catalog.SearchURL,
		OrgBase:   cfg.Catalog.OrgBase,
		UserAgent: cfg.Catalog.UserAgent,
		Timeout:   cfg.Catalog.RequestTimeout(),
	}, gate, logger.Named("pncp"))

	clock := system.New()

	workers := cfg.Convert.Workers
	if workers <= 0 {
		workers = cfg.Catalog.MaxConcurrent * 2
	}
	pool := convert.NewPool(convert.Config{
		Workers:    workers,
		QueueDepth: cfg.Convert.QueueDepth,
		Timeout:    time.Duration(cfg.Convert.TimeoutSeconds) * time.Second,
		HostRPS:    cfg.Convert.HostRPS,
	}, store, convert.NewMarkdownExtractor(), clock, logger.Named("convert"))
	poolCtx, poolStop := context.WithCancel(context.Background())
	pool.Start(poolCtx)

	tracker := sinks.NewTracker()
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		tracker,
	)

	tp, err := telemetry.InitTracerProvider(ctx, "harvester")
	if err != nil {
		logger.Warn("tracer provider init failed", zap.Error(err))
	}

	logger.Info("services initialized")
	return &App{
		Logger:   logger,
		Store:    store,
		Gate:     gate,
		Client:   client,
		Pool:     pool,
		Hub:      hub,
		Tracker:  tracker,
		Clock:    clock,
		cfg:      cfg,
		pgStore:  store,
		poolStop: poolStop,
		tracer:   tp,
	}, nil
}

// Coordinator assembles the ingestion coordinator with the configured
// backfill scanner chained after the main loop.
func (a *App) Coordinator() *ingest.Coordinator {
	return ingest.NewCoordinator(
		ingest.Config{
			Pages:                 a.cfg.Ingest.Pages(),
			Sorts:                 a.cfg.Ingest.Sorts,
			DocumentTypes:         a.cfg.Ingest.DocumentTypes,
			PageSize:              a.cfg.Ingest.PageSize,
			PageBatchSize:         a.cfg.Ingest.PageBatchSize,
			ConversionBatchSize:   a.cfg.Ingest.ConversionBatchSize,
			ChildFetchConcurrency: a.cfg.Catalog.MaxConcurrent,
		},
		a.Client,
		a.Store,
		a.Pool,
		a.Scanner(),
		a.Hub,
		a.Logger.Named("ingest"),
	)
}

// Scanner assembles the backfill scanner.
func (a *App) Scanner() *backfill.Scanner {
	return backfill.NewScanner(
		backfill.Config{BatchSize: a.cfg.Ingest.BackfillBatchSize},
		a.Client,
		a.Store,
		a.Logger.Named("backfill"),
	)
}

// Renderer assembles the markdown exporter.
func (a *App) Renderer() *export.Renderer {
	return export.NewRenderer(a.Store, a.Clock, a.cfg.Export.Dir, a.Logger.Named("export"))
}

// ServerPort returns the configured API listen port.
func (a *App) ServerPort() int {
	return a.cfg.Server.Port
}

// APIServer assembles the HTTP read API.
func (a *App) APIServer() *api.Server {
	return api.NewServer(a.Store, a.Tracker, a.Logger.Named("api"))
}

// Close drains the conversion pool, flushes the progress hub, closes the
// store and syncs the logger.
func (a *App) Close() {
	a.Logger.Info("shutting down services")
	a.Pool.Close()
	a.poolStop()
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Hub.Close(closeCtx); err != nil {
		a.Logger.Warn("progress hub close failed", zap.Error(err))
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(closeCtx); err != nil {
			a.Logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
	a.pgStore.Close()
	if err := a.Logger.Sync(); err != nil {
		// Best effort; stderr sync failures are expected on some platforms.
		_ = err
	}
}
