// Package main provides the cadence API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/cadencehq/cadence/pkg/engine"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/queue"
	"github.com/cadencehq/cadence/pkg/web"
)

type API struct {
	logger *slog.Logger
	engine *engine.Engine
	store  persistence.Persistence
	queue  *queue.Queue
}

func NewAPI(logger *slog.Logger, eng *engine.Engine, store persistence.Persistence, q *queue.Queue) *API {
	return &API{
		logger: logger,
		engine: eng,
		store:  store,
		queue:  q,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.logger, a.engine, a.store, a.queue)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Cadence API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Post("/:id/activate", handlers.ActivateWorkflow)

	app.Post("/executions", handlers.ExecuteWorkflow)
	app.Get("/executions/:id", handlers.GetExecutionSummary)

	j := app.Group("/jobs")
	j.Post("/", handlers.EnqueueJob)
	j.Get("/:id/status", handlers.GetJobStatus)
	j.Delete("/:id", handlers.CancelJob)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
