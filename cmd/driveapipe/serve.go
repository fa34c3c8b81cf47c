package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Janar2510/driveapipe-app/internal/config"
	"github.com/Janar2510/driveapipe-app/internal/observability"
	"github.com/Janar2510/driveapipe-app/internal/pipeline"
	"github.com/Janar2510/driveapipe-app/internal/template"
	"github.com/Janar2510/driveapipe-app/internal/transport"
)

const serviceName = "driveapipe"

var _ pipeline.Recorder = (*observability.Metrics)(nil)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled stale-deal sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	// Step 1: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, serviceName, version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.InitMetrics(reg)

	// Step 2: Load templates and build the registry.
	tmpls, err := loadTemplates(cfg.Pipeline.TemplatesDir)
	if err != nil {
		metrics.RecordTemplateReload("error")
		logTemplateErrors(logger, err)
		return err
	}
	registry := template.NewRegistry(tmpls, cfg.Pipeline.DefaultTemplate)
	metrics.RecordTemplateReload("ok")
	metrics.SetTemplatesLoaded(registry.Len())

	// Step 3: Open stores.
	store, storeCloser, err := buildPipelineStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("pipeline store initialization failed", zap.Error(err))
		return err
	}
	defer storeCloser()

	idemStore, idemCloser, err := buildIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return err
	}
	if idemCloser != nil {
		defer idemCloser()
	}

	// Step 4: Build the engine and the HTTP router.
	engine := pipeline.NewEngine(store, registry,
		pipeline.WithLogger(logger),
		pipeline.WithRecorder(metrics),
		pipeline.WithStaleThreshold(cfg.Pipeline.StaleThresholdDays),
	)

	readiness := observability.ReadinessChecks{
		Store:           store,
		TemplatesLoaded: registry.Len,
	}
	if idemStore != nil {
		readiness.IdempotencyStore = idemStore
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:      cfg,
		Engine:      engine,
		Templates:   registry,
		Logger:      logger,
		Metrics:     metrics,
		Gatherer:    reg,
		Readiness:   readiness,
		Idempotency: idemStore,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	// Step 5: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Pipeline.SweepEnabled {
		go pipeline.RunSweeper(bgCtx, engine, cfg.Pipeline.SweepInterval, logger)
	}
	go watchTemplateReload(bgCtx, cfg.Pipeline.TemplatesDir, registry, metrics, logger)

	// Step 6: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.Int("templates", registry.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// watchTemplateReload reloads the template directory on SIGHUP. A failed
// reload keeps the previous templates.
func watchTemplateReload(ctx context.Context, dir string, registry *template.Registry, metrics *observability.Metrics, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			tmpls, err := loadTemplates(dir)
			if err != nil {
				metrics.RecordTemplateReload("error")
				logTemplateErrors(logger, err)
				continue
			}
			registry.Replace(tmpls)
			metrics.RecordTemplateReload("ok")
			metrics.SetTemplatesLoaded(registry.Len())
			logger.Info("templates reloaded",
				zap.Int("templates", registry.Len()),
				zap.String("checksum", registry.Checksum()),
			)
		}
	}
}

func logTemplateErrors(logger *zap.Logger, err error) {
	var verr *templateValidationError
	if errors.As(err, &verr) {
		for _, ve := range verr.errs {
			logger.Error("template validation error", zap.String("error", ve.Error()))
		}
		return
	}
	logger.Error("template loading failed", zap.Error(err))
}
