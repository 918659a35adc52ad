package handler

import (
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-classroom-api/internal/dto"
	"github.com/noah-isme/gema-classroom-api/internal/middleware"
	"github.com/noah-isme/gema-classroom-api/internal/service"
	"github.com/noah-isme/gema-classroom-api/internal/utils"
)

// SubmissionHandler manages submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the classroom group. submitGuards run before a submit, for
// example the per-user rate limiter.
func (h *SubmissionHandler) Register(router fiber.Router, submitGuards ...fiber.Handler) {
	student := middleware.AuthOptions{Role: middleware.AuthRoleStudent}

	submit := append([]fiber.Handler{}, submitGuards...)
	submit = append(submit, middleware.WithAuth(h.submit, student))

	router.Post("/assignments/:id/submissions", submit...)
	router.Get("/assignments/:id/submissions/me", middleware.WithAuth(h.mine, student))
	router.Get("/assignments/:id/submissions", middleware.RequireTeacher(), h.list)
	router.Get("/assignments/:id/eligibility", middleware.WithAuth(h.eligibility, student))
	router.Get("/submissions/:id", middleware.WithAuth(h.get, middleware.AuthOptions{Role: middleware.AuthRoleAny}))
}

func (h *SubmissionHandler) submit(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	req, err := h.parseSubmitRequest(c)
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	submission, err := h.service.Submit(c.UserContext(), middleware.UserID(c), assignmentID, req)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	message := "submission received"
	if submission.IsResubmission {
		message = "resubmission received"
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, message, submission)
}

// parseSubmitRequest accepts a JSON body, or a multipart form carrying a "file" part for
// file upload assignments.
func (h *SubmissionHandler) parseSubmitRequest(c *fiber.Ctx) (dto.SubmitRequest, error) {
	var req dto.SubmitRequest
	if !strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		if err := c.BodyParser(&req); err != nil {
			return dto.SubmitRequest{}, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		return req, nil
	}

	header, err := c.FormFile("file")
	if err != nil {
		if raw := strings.TrimSpace(c.FormValue("content")); raw != "" {
			req.Content = []byte(raw)
			return req, nil
		}
		return dto.SubmitRequest{}, fiber.NewError(fiber.StatusBadRequest, "file is required")
	}

	file, err := header.Open()
	if err != nil {
		return dto.SubmitRequest{}, fiber.NewError(fiber.StatusBadRequest, "file could not be read")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return dto.SubmitRequest{}, fiber.NewError(fiber.StatusBadRequest, "file could not be read")
	}

	req.File = &dto.FileUpload{Name: header.Filename, Data: data}
	return req, nil
}

func (h *SubmissionHandler) mine(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	submission, err := h.service.GetMine(c.UserContext(), assignmentID, middleware.UserID(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	var req dto.SubmissionListRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid query parameters", nil)
	}

	result, err := h.service.List(c.UserContext(), assignmentID, req, actorFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.OK(c, result.Items, "submissions retrieved", result.Pagination)
}

func (h *SubmissionHandler) eligibility(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	decision, err := h.service.Eligibility(c.UserContext(), assignmentID, middleware.UserID(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, decision.Message, decision)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	submission, err := h.service.Get(c.UserContext(), id, actorFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}
