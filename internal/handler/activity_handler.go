package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-classroom-api/internal/dto"
	"github.com/noah-isme/gema-classroom-api/internal/middleware"
	"github.com/noah-isme/gema-classroom-api/internal/service"
	"github.com/noah-isme/gema-classroom-api/internal/utils"
)

// ActivityHandler serves the caller's own activity feed.
type ActivityHandler struct {
	service service.ActivityService
	logger  zerolog.Logger
}

// NewActivityHandler constructs an ActivityHandler.
func NewActivityHandler(service service.ActivityService, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		service: service,
		logger:  logger.With().Str("component", "activity_handler").Logger(),
	}
}

// Register mounts the feed route.
func (h *ActivityHandler) Register(router fiber.Router) {
	router.Get("/activities", middleware.WithAuth(h.list, middleware.AuthOptions{Role: middleware.AuthRoleAny}))
}

func (h *ActivityHandler) list(c *fiber.Ctx) error {
	var req dto.ActivityListRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid query parameters", nil)
	}
	if types := c.Query("types"); types != "" {
		req.Types = splitAndTrim(types)
	}

	feed, err := h.service.ListForUser(c.UserContext(), middleware.UserID(c), req)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	message := "activities retrieved"
	if feed.CacheHit {
		c.Set("X-Cache", "HIT")
	} else {
		c.Set("X-Cache", "MISS")
	}
	return utils.OK(c, feed.Items, message, feed.Pagination)
}
