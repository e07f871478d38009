package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	pkgcmd "github.com/cadencehq/cadence/pkg/cmd"
	"github.com/cadencehq/cadence/pkg/engine"
	"github.com/cadencehq/cadence/pkg/gateway"
	"github.com/cadencehq/cadence/pkg/log"
	"github.com/cadencehq/cadence/pkg/otelhelper"
	"github.com/cadencehq/cadence/pkg/plan"
	"github.com/cadencehq/cadence/pkg/queue"
	"github.com/cadencehq/cadence/pkg/worker"
)

func main() {
	cmd := &cli.Command{
		Name:                  "cadence-worker",
		EnableShellCompletion: true,
		Usage:                 "Run the job queue and worker pool",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "calendar-path",
				Usage:   "Path to the business-day calendar YAML",
				Sources: cli.EnvVars("CALENDAR_PATH"),
			},
			&cli.StringFlag{
				Name:    "cache-url",
				Usage:   "Cache URL (redis://host:port or memory)",
				Value:   "memory",
				Sources: cli.EnvVars("CACHE_URL"),
			},
			&cli.IntFlag{
				Name:    "min-workers",
				Usage:   "Minimum number of workers",
				Value:   2,
				Sources: cli.EnvVars("MIN_WORKERS"),
			},
			&cli.IntFlag{
				Name:    "max-workers",
				Usage:   "Maximum number of workers when autoscaling",
				Value:   8,
				Sources: cli.EnvVars("MAX_WORKERS"),
			},
			&cli.BoolFlag{
				Name:    "autoscale",
				Usage:   "Scale the worker pool from queue depth",
				Value:   true,
				Sources: cli.EnvVars("AUTOSCALE"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "How often due jobs are claimed from the store",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("TRACING_ENABLED"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("cadence-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing Cadence worker")

			store := pkgcmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := pkgcmd.NewEventBus(command.String("event-bus"), logger, "cadence-worker")
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var calendar *plan.Calendar

			if path := command.String("calendar-path"); path != "" {
				loaded, err := plan.LoadCalendar(path)
				if err != nil {
					return err
				}

				calendar = loaded
			}

			executionCache := pkgcmd.NewCache(ctx, command.String("cache-url"))
			defer func() {
				if err := executionCache.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close cache", "error", err)
				}
			}()

			q := queue.NewQueue(logger, store.Jobs(), queue.Config{})
			planner := plan.NewPlanner(calendar, logger)
			registry := pkgcmd.NewActionRegistry(gateway.NewLogGateway(logger), logger)
			eng := engine.New(logger, store, q, planner, registry, engine.Config{},
				engine.WithPublisher(eventBus),
				engine.WithCache(executionCache))

			poolOpts := []worker.Option{worker.WithPublisher(eventBus)}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "cadence-worker")
				if err != nil {
					return err
				}

				poolOpts = append(poolOpts, worker.WithTracer(tracer))
			}

			pool := worker.NewPool(logger, q, eng, engine.DefaultBackoffPolicy(), poolOpts...)

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			go func() {
				<-sig
				logger.Info("Shutting down...")
				cancel()
			}()

			go tickLoop(runCtx, logger, eng, command.Duration("tick-interval"))

			if command.Bool("autoscale") {
				scaler := worker.NewAutoScalingPool(logger, pool, worker.AutoScaleConfig{
					MinWorkers: int(command.Int("min-workers")),
					MaxWorkers: int(command.Int("max-workers")),
				})
				scaler.Run(runCtx)
			} else {
				pool.Start(runCtx, int(command.Int("min-workers")))
				<-runCtx.Done()
				pool.Stop()
			}

			logger.Info("Stopped")

			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

// tickLoop claims due jobs into the in-memory queue on an interval. The
// store-level claim keeps concurrent workers disjoint.
func tickLoop(ctx context.Context, logger *slog.Logger, eng *engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := eng.ScheduleTick(ctx, now.UTC()); err != nil {
				logger.ErrorContext(ctx, "Scheduling tick failed", "error", err)
			}
		}
	}
}
