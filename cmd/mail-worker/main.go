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
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/mailcore/internal/activity"
	"github.com/edvin/mailcore/internal/archive"
	"github.com/edvin/mailcore/internal/config"
	"github.com/edvin/mailcore/internal/core"
	"github.com/edvin/mailcore/internal/db"
	"github.com/edvin/mailcore/internal/logging"
	"github.com/edvin/mailcore/internal/metrics"
	"github.com/edvin/mailcore/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("mail-worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool)

	opts, err := cfg.Temporal.ClientOptions()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal")
	}
	tc, err := temporalclient.Dial(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	deps := core.Deps{
		Logger:   logger,
		Timeouts: db.Timeouts{Lock: cfg.LockTimeout, Statement: cfg.StatementTimeout},
	}
	if cfg.Archive.Enabled() {
		deps.Archiver = archive.NewS3Archiver(cfg.Archive, logger)
	}
	services := core.NewServices(pool, deps)

	w := worker.New(tc, cfg.Temporal.BackfillTaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{&workflow.ErrorTypingInterceptor{}},
	})
	w.RegisterActivity(activity.NewBackfill(services.Assignment, logger))
	w.RegisterWorkflow(workflow.BackfillOrganizationWorkflow)

	if err := w.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start temporal worker")
	}
	logger.Info().Str("taskQueue", cfg.Temporal.BackfillTaskQueue).Msg("temporal worker started")

	metricsSrv := metrics.NewServer(cfg.MetricsListenAddr, pool.Ping)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down worker")
		w.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}
