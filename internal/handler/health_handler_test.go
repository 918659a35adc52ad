package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-classroom-api/internal/config"
	"github.com/noah-isme/gema-classroom-api/internal/handler"
)

func TestHealthCheckReportsDegradedDependency(t *testing.T) {
	app := fiber.New()
	app.Get("/health", handler.HealthCheck(config.Config{
		AppName:          "GEMA Classroom API",
		AppEnv:           "test",
		ExecutionBackend: config.ExecutionBackendJudge,
	}, map[string]handler.HealthProbe{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data handler.HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "degraded", body.Data.Status)
	require.Equal(t, "judge", body.Data.ExecutionBackend)
	require.Equal(t, map[string]string{"postgres": "ok", "redis": "unavailable"}, body.Data.Dependencies)
}
