package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	pkgcmd "github.com/cadencehq/cadence/pkg/cmd"
	"github.com/cadencehq/cadence/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:                  "cadence-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Run periodic maintenance: orphan recovery, state retention, graph validation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "orphan-schedule",
				Usage:   "Cron spec for the orphaned-job recovery pass",
				Value:   "@every 1m",
				Sources: cli.EnvVars("ORPHAN_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "retention-schedule",
				Usage:   "Cron spec for the terminal-state purge pass",
				Value:   "@daily",
				Sources: cli.EnvVars("RETENTION_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "validation-schedule",
				Usage:   "Cron spec for the workflow graph validation sweep",
				Value:   "@every 10m",
				Sources: cli.EnvVars("VALIDATION_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "orphan-staleness",
				Usage:   "How long a processing job may sit before it is requeued",
				Value:   10 * time.Minute,
				Sources: cli.EnvVars("ORPHAN_STALENESS"),
			},
			&cli.DurationFlag{
				Name:    "state-retention",
				Usage:   "How long terminal execution states are kept",
				Value:   30 * 24 * time.Hour,
				Sources: cli.EnvVars("STATE_RETENTION"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("cadence-scheduler")
			logger.InfoContext(ctx, "Initializing Cadence scheduler")

			store := pkgcmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			scheduler := NewScheduler(logger, store,
				command.Duration("orphan-staleness"),
				command.Duration("state-retention"))

			c := cron.New()

			if _, err := c.AddFunc(command.String("orphan-schedule"), func() {
				scheduler.ReleaseOrphans(ctx)
			}); err != nil {
				return err
			}

			if _, err := c.AddFunc(command.String("retention-schedule"), func() {
				scheduler.PurgeExpiredStates(ctx)
			}); err != nil {
				return err
			}

			if _, err := c.AddFunc(command.String("validation-schedule"), func() {
				scheduler.ValidateGraphs(ctx)
			}); err != nil {
				return err
			}

			c.Start()
			logger.InfoContext(ctx, "Scheduler started")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			logger.Info("Shutting down...")
			<-c.Stop().Done()
			logger.Info("Stopped")

			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
