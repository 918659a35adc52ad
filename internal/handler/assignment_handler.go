package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-classroom-api/internal/dto"
	"github.com/noah-isme/gema-classroom-api/internal/middleware"
	"github.com/noah-isme/gema-classroom-api/internal/service"
	"github.com/noah-isme/gema-classroom-api/internal/utils"
)

// AssignmentHandler wires assignment HTTP routes.
type AssignmentHandler struct {
	service service.AssignmentService
	logger  zerolog.Logger
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(service service.AssignmentService, logger zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		service: service,
		logger:  logger.With().Str("component", "assignment_handler").Logger(),
	}
}

// Register attaches assignment endpoints to the router group.
func (h *AssignmentHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("", middleware.RequireTeacher(), h.create)
	router.Put("/:id", middleware.RequireTeacher(), h.update)
	router.Delete("/:id", middleware.RequireTeacher(), h.delete)
}

func (h *AssignmentHandler) list(c *fiber.Ctx) error {
	var req dto.AssignmentListRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid query parameters", nil)
	}

	result, err := h.service.List(c.UserContext(), req, actorFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.OK(c, result.Items, "assignments retrieved", result.Pagination)
}

func (h *AssignmentHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	assignment, err := h.service.Get(c.UserContext(), id, actorFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment retrieved", assignment)
}

func (h *AssignmentHandler) create(c *fiber.Ctx) error {
	var payload dto.AssignmentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid request body", nil)
	}

	assignment, err := h.service.Create(c.UserContext(), actorFromContext(c), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assignment created", assignment)
}

func (h *AssignmentHandler) update(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	var payload dto.AssignmentUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid request body", nil)
	}

	assignment, err := h.service.Update(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment updated", assignment)
}

func (h *AssignmentHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	if err := h.service.Delete(c.UserContext(), actorFromContext(c), id); err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment deleted", fiber.Map{"id": id})
}
