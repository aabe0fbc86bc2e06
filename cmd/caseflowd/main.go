// Package main is the entry point for the caseflow service.
// It wires all dependencies together and starts the operational HTTP
// endpoint and the background synchronization loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/definition"
	"github.com/caseflow-io/caseflow/internal/engine"
	"github.com/caseflow-io/caseflow/internal/observability"
	"github.com/caseflow-io/caseflow/internal/store"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "caseflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load workflow definitions, validate, build the registry.
	loader := definition.NewLoader()
	templates, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	verrs := validator.Validate(templates)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		logger.Error("definition validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := definition.NewRegistry(templates)
	metrics.SetDefinitionsLoaded(float64(registry.Len()))

	// Step 5: Initialize the case store.
	caseStore, pool, err := buildCaseStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("case store initialization failed", zap.Error(err))
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}
	if pg, ok := caseStore.(*store.PgCaseStore); ok {
		pg.SetWriteFallbackHook(metrics.RecordDocumentWriteFallback)
	}

	// Step 6: Pick the engine's stage-definition source, build the notifier
	// and the engine. The file registry stays authoritative for workflow
	// enumeration and readiness either way.
	var stageSource store.StageDefinitionSource = registry
	if cfg.Definitions.Source == "postgres" {
		if pool == nil {
			logger.Error("definitions.source postgres requires the postgres case store")
			return 1
		}
		stageSource = store.NewPgStageSource(pool)
		logger.Info("serving stage definitions from the stages table")
	}

	notifier := engine.NewChannelNotifier(cfg.Notifier.BufferSize, logger, metrics.RecordNotificationDropped)

	eng := engine.NewEngine(caseStore, stageSource, logger,
		engine.WithNotifier(notifier),
		engine.WithMetrics(metrics),
		engine.WithSyncOptions(cfg.Sync),
	)

	// Step 7: Build the operational HTTP endpoint.
	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Len() > 0 },
	}
	if hc, ok := caseStore.(observability.HealthChecker); ok {
		readinessChecks.CaseStore = hc
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", observability.HandleHealth())
	router.Get("/readyz", observability.HandleReady(readinessChecks))
	if cfg.Observability.Metrics.Enabled {
		router.Handle(cfg.Observability.Metrics.Path, observability.Handler())
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 8: Start the server, the sync loop, and the event drain.
	logger.Info("service started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("workflows", registry.Len()),
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Sync.Enabled {
		group.Go(func() error {
			runSyncLoop(groupCtx, eng, registry, cfg.Sync, logger)
			return nil
		})
	}

	group.Go(func() error {
		drainEvents(groupCtx, notifier, logger)
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("service error", zap.Error(err))
		return 1
	}

	// Step 9: Flush telemetry.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracingShutdown(flushCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildCaseStore creates the case store based on config. The pool is non-nil
// only for the postgres driver and is shared with the stage source.
func buildCaseStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.CaseStore, *pgxpool.Pool, error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory case store")
		return store.NewMemoryCaseStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("case store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("case store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("case store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("case store: ping: %w", err)
		}
		return store.NewPgCaseStore(pool, logger), pool, nil
	default:
		return nil, nil, fmt.Errorf("unsupported case store driver: %q", cfg.Driver)
	}
}

// runSyncLoop periodically reconciles open cases against the current
// workflow definitions for every configured tenant.
func runSyncLoop(ctx context.Context, eng *engine.Engine, registry *definition.Registry, cfg config.SyncConfig, logger *zap.Logger) {
	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tenantID := range cfg.Tenants {
				for _, wf := range registry.AllWorkflows() {
					if _, err := eng.SyncWorkflow(ctx, tenantID, wf.ID); err != nil {
						logger.Error("workflow sync failed",
							zap.String("tenant_id", tenantID),
							zap.String("workflow_id", wf.ID),
							zap.Error(err),
						)
					}
				}
			}
		}
	}
}

// drainEvents consumes stage-completed events until shutdown. Delivery to
// external systems hangs off this loop; today the events are logged.
func drainEvents(ctx context.Context, notifier *engine.ChannelNotifier, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-notifier.Events():
			logger.Info("stage completed event",
				zap.String("event_id", event.EventID),
				zap.String("case_id", event.CaseID),
				zap.String("stage_id", event.CompletedStageID),
				zap.Bool("final", event.IsFinalStage),
			)
		}
	}
}
