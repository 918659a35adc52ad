package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-classroom-api/internal/dto"
	"github.com/noah-isme/gema-classroom-api/internal/middleware"
	"github.com/noah-isme/gema-classroom-api/internal/service"
	"github.com/noah-isme/gema-classroom-api/internal/utils"
)

// GradingHandler exposes manual grading for teachers.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler constructs a GradingHandler.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register mounts the grading route on the classroom group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Patch("/submissions/:id/grade", middleware.RequireTeacher(), h.grade)
}

func (h *GradingHandler) grade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	var payload dto.GradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid request body", nil)
	}

	submission, err := h.service.Grade(c.UserContext(), id, payload, actorFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission graded", submission)
}
