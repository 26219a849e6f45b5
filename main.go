package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/RubachokBoss/proctored-assessment/internal/app"
	"github.com/RubachokBoss/proctored-assessment/internal/config"
	"github.com/RubachokBoss/proctored-assessment/internal/database"
	"github.com/RubachokBoss/proctored-assessment/pkg/logger"
)

func main() {
	migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)
	migrateDirection := migrateCmd.String("direction", "up", "direction of migration (up/down/force/version)")
	migrateSource := migrateCmd.String("source", "", "migrations source URL (default file://migrations)")
	migrateVersion := migrateCmd.Int("version", -1, "schema version for -direction force")

	agentCmd := flag.NewFlagSet("agent", flag.ExitOnError)
	agentServer := agentCmd.String("server", "", "assessment API base URL")
	agentToken := agentCmd.String("token", "", "candidate bearer token")
	agentJob := agentCmd.String("job", "", "job id to take the assessment for")
	agentCandidate := agentCmd.String("candidate", "", "issue a dev token for this candidate id")

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			migrateCmd.Parse(os.Args[2:])
			runMigrations(*migrateDirection, *migrateSource, *migrateVersion)
			return
		case "agent":
			agentCmd.Parse(os.Args[2:])
			runAgent(app.AgentOptions{
				ServerURL:   *agentServer,
				Token:       *agentToken,
				JobID:       *agentJob,
				CandidateID: *agentCandidate,
			})
			return
		}
	}

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Pretty, cfg.Logging.NoColor)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	go func() {
		if err := application.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to run application")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down Assessment Service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown gracefully")
	}

	log.Info().Msg("Assessment Service stopped")
}

func runMigrations(direction, source string, version int) {
	log := logger.New()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	migrator, err := database.NewMigrator(cfg.Database, source)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}

	switch direction {
	case "up":
		if err := migrator.Up(); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Msg("Migrations applied successfully")
	case "down":
		if err := migrator.Down(); err != nil {
			log.Fatal().Err(err).Msg("Failed to rollback migrations")
		}
		log.Info().Msg("Migrations rolled back successfully")
	case "force":
		if version < 0 {
			log.Fatal().Msg("-version is required for force")
		}
		if err := migrator.Force(version); err != nil {
			log.Fatal().Err(err).Msg("Failed to force migration version")
		}
		log.Info().Int("version", version).Msg("Migration version forced")
	case "version":
		v, dirty, ok, err := migrator.Version()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read migration version")
		}
		if !ok {
			log.Info().Msg("No migrations applied")
			return
		}
		log.Info().Uint("version", v).Bool("dirty", dirty).Msg("Current migration version")
	default:
		log.Fatal().Msg("Invalid migration direction. Use 'up', 'down', 'force' or 'version'")
	}
}

// runAgent пишет логи в stderr, stdout остаётся за консолью.
func runAgent(opts app.AgentOptions) {
	log := logger.NewWithWriter(os.Stderr, "info", true, false)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.NewWithWriter(os.Stderr, cfg.Logging.Level, true, cfg.Logging.NoColor)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunAgent(ctx, cfg, opts, os.Stdin, os.Stdout, log); err != nil {
		log.Error().Err(err).Msg("Agent session failed")
		os.Exit(1)
	}
}
