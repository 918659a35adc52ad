package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-classroom-api/internal/config"
	"github.com/noah-isme/gema-classroom-api/internal/handler"
	"github.com/noah-isme/gema-classroom-api/internal/middleware"
	"github.com/noah-isme/gema-classroom-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssignmentHandler *handler.AssignmentHandler
	SubmissionHandler *handler.SubmissionHandler
	GradingHandler    *handler.GradingHandler
	ActivityHandler   *handler.ActivityHandler
	HealthProbes      map[string]handler.HealthProbe
	JWTMiddleware     fiber.Handler
	// SubmitLimiter throttles submits per user; nil disables it.
	SubmitLimiter fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	}

	classroom := app.Group("/api/v2/classroom", jwtMiddleware)

	if deps.AssignmentHandler != nil {
		deps.AssignmentHandler.Register(classroom.Group("/assignments"))
	}

	if deps.SubmissionHandler != nil {
		var guards []fiber.Handler
		if deps.SubmitLimiter != nil {
			guards = append(guards, deps.SubmitLimiter)
		}
		deps.SubmissionHandler.Register(classroom, guards...)
	}

	if deps.GradingHandler != nil {
		deps.GradingHandler.Register(classroom)
	}

	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(classroom)
	}
}
