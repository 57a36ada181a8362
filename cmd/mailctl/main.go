package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/mailcore/internal/config"
	"github.com/edvin/mailcore/internal/core"
	"github.com/edvin/mailcore/internal/db"
	"github.com/edvin/mailcore/internal/logging"
	"github.com/edvin/mailcore/internal/seed"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate("mailctl"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "migrate":
		err = cmdMigrate(cfg, logger)
	case "seed":
		err = cmdSeed(ctx, cfg, logger, os.Args[2:])
	case "backfill":
		err = cmdBackfill(ctx, cfg, logger, os.Args[2:])
	case "assign":
		err = cmdAssign(ctx, cfg, logger, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: mailctl <command> [flags]

Commands:
  migrate                          Apply database migrations
  seed -file FILE                  Load organizations, mailboxes and mail from YAML
  backfill -org ORG_ID [-local]    Re-run folder assignment over an organization's sent mail
  assign -org ORG_ID -mail MAIL_ID Re-run folder assignment for one sent mail`)
}

func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, *core.Services, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	services := core.NewServices(pool, core.Deps{
		Logger:            logger,
		Timeouts:          db.Timeouts{Lock: cfg.LockTimeout, Statement: cfg.StatementTimeout},
		BackfillTaskQueue: cfg.Temporal.BackfillTaskQueue,
		BackfillChunkSize: cfg.BackfillChunkSize,
	})
	return pool, services, nil
}

func cmdMigrate(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Msg("running database migrations")
	return db.RunMigrations(cfg.DatabaseURL)
}

func cmdSeed(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	file := fs.String("file", "seeds/demo.yaml", "Seed file")
	fs.Parse(args)

	seedCfg, err := seed.Load(*file)
	if err != nil {
		return err
	}

	pool, services, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := seed.NewServicesSeeder(services, logger).Run(ctx, seedCfg); err != nil {
		return err
	}
	fmt.Printf("Seeded %d organization(s) from %s\n", len(seedCfg.Organizations), *file)
	return nil
}

func cmdBackfill(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	orgID := fs.String("org", "", "Organization ID (required)")
	local := fs.Bool("local", false, "Run in this process instead of starting the Temporal workflow")
	fs.Parse(args)

	if *orgID == "" {
		return fmt.Errorf("-org is required")
	}

	pool, services, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if *local {
		return backfillLocal(ctx, services.Assignment, *orgID, cfg.BackfillChunkSize)
	}

	opts, err := cfg.Temporal.ClientOptions()
	if err != nil {
		return err
	}
	tc, err := temporalclient.Dial(opts)
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	defer tc.Close()

	workflowID, err := core.NewBackfillService(pool, tc, cfg.Temporal.BackfillTaskQueue, cfg.BackfillChunkSize).Start(ctx, *orgID)
	if err != nil {
		return err
	}
	fmt.Printf("Backfill started: workflow %s\n", workflowID)
	return nil
}

// backfillLocal walks the organization's sent mail chunk by chunk until done.
// Interrupting it is safe; a rerun skips placements that already exist.
func backfillLocal(ctx context.Context, svc *core.AssignmentService, orgID string, chunkSize int) error {
	var cursor string
	var processed, created int
	for {
		res, err := svc.BackfillChunk(ctx, orgID, cursor, chunkSize)
		if err != nil {
			return fmt.Errorf("backfill after %q: %w", cursor, err)
		}
		processed += res.Processed
		created += res.Created
		if res.NextCursor != "" {
			cursor = res.NextCursor
		}
		if res.Done {
			break
		}
	}
	fmt.Printf("Backfill done: %d mail(s) processed, %d placement(s) created\n", processed, created)
	return nil
}

func cmdAssign(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	orgID := fs.String("org", "", "Organization ID (required)")
	mailID := fs.String("mail", "", "Mail ID (required)")
	fs.Parse(args)

	if *orgID == "" || *mailID == "" {
		return fmt.Errorf("-org and -mail are required")
	}

	pool, services, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	res, err := services.Assignment.AssignSent(ctx, *orgID, *mailID)
	if err != nil {
		return err
	}
	fmt.Printf("Created %d, skipped %d, unresolved %v\n", res.Created, res.Skipped, res.Unresolved)
	return nil
}
