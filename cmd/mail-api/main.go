package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	temporalclient "go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/mailcore/internal/api"
	"github.com/edvin/mailcore/internal/archive"
	"github.com/edvin/mailcore/internal/config"
	"github.com/edvin/mailcore/internal/core"
	"github.com/edvin/mailcore/internal/db"
	"github.com/edvin/mailcore/internal/logging"
	"github.com/edvin/mailcore/internal/metrics"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("mail-api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool)

	// The lazy client connects on first use, so the API serves mail while
	// Temporal is unavailable and only backfill requests fail.
	opts, err := cfg.Temporal.ClientOptions()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal")
	}
	tc, err := temporalclient.NewLazyClient(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create temporal client")
	}
	defer tc.Close()

	deps := core.Deps{
		Logger:            logger,
		Timeouts:          db.Timeouts{Lock: cfg.LockTimeout, Statement: cfg.StatementTimeout},
		Temporal:          tc,
		BackfillTaskQueue: cfg.Temporal.BackfillTaskQueue,
		BackfillChunkSize: cfg.BackfillChunkSize,
	}
	if cfg.Archive.Enabled() {
		deps.Archiver = archive.NewS3Archiver(cfg.Archive, logger)
		logger.Info().Str("bucket", cfg.Archive.Bucket).Msg("archiving deleted mail")
	}

	srv := api.NewServer(logger, pool, tc, core.NewServices(pool, deps))

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting mail API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
