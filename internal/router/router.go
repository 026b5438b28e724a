package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradeHandler          *handler.GradeHandler
	GradingHandler        *handler.GradingHandler
	GradingHistoryHandler *handler.GradingHistoryHandler
	JWTMiddleware         fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Grading backend
	if deps.GradeHandler != nil {
		deps.GradeHandler.Register(api.Group("/grade"), middleware.RateLimit("grade", cfg.RateLimitMax, cfg.RateLimitWindow))
	}

	// Orchestrated gradings and their history
	if deps.GradingHandler != nil {
		deps.GradingHandler.RegisterPersonas(api.Group("/personas"))

		gradings := api.Group("/gradings")
		deps.GradingHandler.Register(gradings, middleware.RateLimit("gradings", cfg.RateLimitMax, cfg.RateLimitWindow))
		if deps.GradingHistoryHandler != nil {
			deps.GradingHistoryHandler.Register(gradings, jwtMiddleware)
		}
	}
}
