package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	pkgcmd "github.com/cadencehq/cadence/pkg/cmd"
	"github.com/cadencehq/cadence/pkg/engine"
	"github.com/cadencehq/cadence/pkg/gateway"
	"github.com/cadencehq/cadence/pkg/log"
	"github.com/cadencehq/cadence/pkg/plan"
	"github.com/cadencehq/cadence/pkg/queue"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "cadence-api",
		Usage:                 "Manage workflows and executions over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
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
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
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

			logger := log.WithModule("cadence-api")
			logger.InfoContext(ctx, "Initializing Cadence API")

			store := pkgcmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := pkgcmd.NewEventBus(command.String("event-bus"), logger, "cadence-api")
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

			api := NewAPI(logger, eng, store, q)

			return api.Start(int(command.Int("port")))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
