package server

import (
	"github.com/fathima-sithara/identity-service/internal/config"
	"github.com/fathima-sithara/identity-service/internal/handlers"
	"github.com/fathima-sithara/identity-service/internal/middlewares"
	"github.com/fathima-sithara/identity-service/internal/routes"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// New initializes the Fiber application with config, middlewares, and routes.
func New(cfg *config.Config, h *handlers.Handler, mw routes.Middlewares, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  cfg.App.ReadTimeout,
		WriteTimeout: cfg.App.WriteTimeout,
		IdleTimeout:  cfg.App.IdleTimeout,
		ErrorHandler: handlers.ErrorHandler(logger),
	})

	// Global Middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middlewares.RequestLogger(logger))

	routes.Setup(app, h, mw)

	return app
}
