package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-classroom-api/internal/content"
	"github.com/noah-isme/gema-classroom-api/internal/middleware"
	"github.com/noah-isme/gema-classroom-api/internal/service"
	"github.com/noah-isme/gema-classroom-api/internal/utils"
)

var errInvalidIdentifier = errors.New("invalid identifier")

type fieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	parsed, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errInvalidIdentifier
	}
	return uint(parsed), nil
}

func actorFromContext(c *fiber.Ctx) service.ActivityActor {
	return service.ActivityActor{
		ID:   middleware.UserID(c),
		Role: middleware.UserRole(c),
	}
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// handleError translates service errors into the JSON envelope.
func handleError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var (
		policyErr        *service.PolicyViolationError
		contentErr       *content.ValidationError
		validationErrors validator.ValidationErrors
	)

	switch {
	case errors.As(err, &policyErr):
		return utils.Fail(c, fiber.StatusConflict, policyErr.Error(), policyErr.Decision)
	case errors.As(err, &contentErr):
		details := make([]fieldDetail, 0, len(contentErr.Fields))
		for _, field := range contentErr.Fields {
			details = append(details, fieldDetail{Field: field.Field, Message: field.Message})
		}
		return utils.Fail(c, fiber.StatusUnprocessableEntity, "submission content is invalid", details)
	case errors.As(err, &validationErrors):
		details := make([]fieldDetail, 0, len(validationErrors))
		for _, fe := range validationErrors {
			details = append(details, fieldDetail{Field: fe.Field(), Message: "failed on the '" + fe.Tag() + "' rule"})
		}
		return utils.Fail(c, fiber.StatusBadRequest, "request validation failed", details)
	case errors.Is(err, content.ErrUnsupportedLanguage):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, content.ErrUnknownProblemType), errors.Is(err, service.ErrInvalidActivityType):
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, service.ErrScoreExceedsMax):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.Fail(c, fiber.StatusNotFound, "assignment not found", nil)
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.Fail(c, fiber.StatusNotFound, "submission not found", nil)
	case errors.Is(err, service.ErrAssignmentForbidden):
		return utils.Fail(c, fiber.StatusForbidden, err.Error(), nil)
	case errors.Is(err, service.ErrSubmissionConflict):
		return utils.Fail(c, fiber.StatusConflict, "submission changed concurrently, please retry", nil)
	case errors.Is(err, service.ErrFileUpload):
		requestLogger(logger, c).Error().Err(err).Msg("file store failure")
		return utils.Fail(c, fiber.StatusBadGateway, service.ErrFileUpload.Error(), nil)
	case errors.Is(err, service.ErrPersistence):
		requestLogger(logger, c).Error().Err(err).Msg("persistence failure")
		return utils.Fail(c, fiber.StatusServiceUnavailable, service.ErrPersistence.Error(), nil)
	default:
		requestLogger(logger, c).Error().Err(err).Msg("internal server error")
		return utils.Fail(c, fiber.StatusInternalServerError, "internal server error", nil)
	}
}
