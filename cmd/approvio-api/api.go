// Package main provides the Approvio API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/approvio/approvio/pkg/cache"
	"github.com/approvio/approvio/pkg/cmd"
	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/engine"
	"github.com/approvio/approvio/pkg/eventbus"
	"github.com/approvio/approvio/pkg/persistence"
	"github.com/approvio/approvio/pkg/rolemap"
	"github.com/approvio/approvio/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	cache       cache.Cache
	directory   directory.Directory
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	leaseCache cache.Cache,
	dir directory.Directory,
) *API {
	return &API{
		logger:      logger,
		persistence: store,
		eventBus:    eventBus,
		cache:       leaseCache,
		directory:   dir,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	routingEngine := engine.NewEngine(a.persistence, a.eventBus, a.directory, a.logger)
	roleMapRegistry := cmd.NewRoleMapRegistry(a.persistence, a.directory, a.logger)
	recalculator := rolemap.NewRecalculator(a.cache, a.persistence, roleMapRegistry, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(routingEngine, a.persistence, recalculator, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Approvio API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
