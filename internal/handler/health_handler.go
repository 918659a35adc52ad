package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-classroom-api/internal/config"
	"github.com/noah-isme/gema-classroom-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status           string            `json:"status"`
	Timestamp        time.Time         `json:"timestamp"`
	Service          string            `json:"service"`
	Environment      string            `json:"environment"`
	ExecutionBackend string            `json:"execution_backend"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
}

// HealthProbe checks one backing service.
type HealthProbe func(ctx context.Context) error

// HealthCheck returns a handler that reports application health information. A failing probe
// reports "degraded" with a 200 status.
func HealthCheck(cfg config.Config, probes map[string]HealthProbe) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:           "ok",
			Timestamp:        time.Now().UTC(),
			Service:          cfg.AppName,
			Environment:      cfg.AppEnv,
			ExecutionBackend: cfg.ExecutionBackend,
		}

		if len(probes) > 0 {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()

			payload.Dependencies = make(map[string]string, len(probes))
			for name, probe := range probes {
				if err := probe(ctx); err != nil {
					payload.Dependencies[name] = "unavailable"
					payload.Status = "degraded"
					continue
				}
				payload.Dependencies[name] = "ok"
			}
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
