package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-classroom-api/internal/content"
	"github.com/noah-isme/gema-classroom-api/internal/dto"
	"github.com/noah-isme/gema-classroom-api/internal/models"
	"github.com/noah-isme/gema-classroom-api/internal/repository"
)

var (
	// ErrAssignmentNotFound indicates the requested assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrAssignmentForbidden is returned when a teacher manages another teacher's assignment.
	ErrAssignmentForbidden = errors.New("assignment belongs to another teacher")
)

// AssignmentService exposes assignment authoring and browsing use cases.
type AssignmentService interface {
	List(ctx context.Context, req dto.AssignmentListRequest, viewer ActivityActor) (dto.AssignmentListResponse, error)
	Get(ctx context.Context, id uint, viewer ActivityActor) (dto.AssignmentResponse, error)
	Create(ctx context.Context, author ActivityActor, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error)
	Update(ctx context.Context, author ActivityActor, id uint, payload dto.AssignmentUpdateRequest) (dto.AssignmentResponse, error)
	Delete(ctx context.Context, author ActivityActor, id uint) error
}

type assignmentService struct {
	repo       repository.AssignmentRepository
	activities ActivityRecorder
	validator  *validator.Validate
	logger     zerolog.Logger
	now        func() time.Time
}

// NewAssignmentService builds a new assignment service. activities may be nil.
func NewAssignmentService(repo repository.AssignmentRepository, activities ActivityRecorder, validate *validator.Validate, logger zerolog.Logger) AssignmentService {
	return &assignmentService{
		repo:       repo,
		activities: activities,
		validator:  validate,
		logger:     logger.With().Str("component", "assignment_service").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *assignmentService) List(ctx context.Context, req dto.AssignmentListRequest, viewer ActivityActor) (dto.AssignmentListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AssignmentListResponse{}, err
	}

	filter := repository.AssignmentFilter{
		Search:   strings.TrimSpace(req.Search),
		Sort:     req.Sort,
		Page:     maxInt(req.Page, 1),
		PageSize: clampPageSize(req.PageSize),
	}
	if req.CourseID > 0 {
		filter.CourseID = &req.CourseID
	}
	if strings.TrimSpace(req.ProblemType) != "" {
		pt, err := content.ParseProblemType(req.ProblemType)
		if err != nil {
			return dto.AssignmentListResponse{}, err
		}
		filter.ProblemType = pt.String()
	}

	assignments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return dto.AssignmentListResponse{}, err
	}

	items := make([]dto.AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		items = append(items, s.present(assignment, viewer))
	}

	return dto.AssignmentListResponse{
		Items:      items,
		Pagination: dto.NewPaginationMeta(filter.Page, filter.PageSize, total),
	}, nil
}

func (s *assignmentService) Get(ctx context.Context, id uint, viewer ActivityActor) (dto.AssignmentResponse, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}

	return s.present(assignment, viewer), nil
}

func (s *assignmentService) Create(ctx context.Context, author ActivityActor, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, err
	}

	pt, err := content.ParseProblemType(payload.ProblemType)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	normalized, err := normalizeAssignmentContent(pt, payload.Content)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}

	assignment := models.Assignment{
		CourseID:          payload.CourseID,
		Title:             strings.TrimSpace(payload.Title),
		Description:       strings.TrimSpace(payload.Description),
		ProblemType:       pt.String(),
		Content:           normalized,
		PointsPossible:    payload.PointsPossible,
		AllowResubmission: payload.AllowResubmission,
		MaxAttempts:       payload.MaxAttempts,
		DueDate:           payload.DueDate,
		CreatedBy:         author.ID,
	}

	if err := s.repo.Create(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	s.logger.Info().Uint("assignment_id", assignment.ID).Str("problem_type", assignment.ProblemType).Msg("assignment created")

	if s.activities != nil {
		if err := s.activities.Record(ctx, ActivityEntry{
			UserID:          author.ID,
			Type:            models.ActivityTypeAssignmentCreated,
			CourseID:        assignment.CourseID,
			AssignmentID:    assignment.ID,
			AssignmentTitle: assignment.Title,
		}); err != nil {
			s.logger.Warn().Err(err).Uint("assignment_id", assignment.ID).Msg("failed to record activity")
		}
	}

	return dto.NewAssignmentResponse(assignment, nil, s.now()), nil
}

func (s *assignmentService) Update(ctx context.Context, author ActivityActor, id uint, payload dto.AssignmentUpdateRequest) (dto.AssignmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, err
	}

	assignment, err := s.load(ctx, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if !canManage(author, assignment) {
		return dto.AssignmentResponse{}, ErrAssignmentForbidden
	}

	if payload.Title != nil {
		assignment.Title = strings.TrimSpace(*payload.Title)
	}
	if payload.Description != nil {
		assignment.Description = strings.TrimSpace(*payload.Description)
	}
	if len(payload.Content) > 0 {
		pt, err := content.ParseProblemType(assignment.ProblemType)
		if err != nil {
			return dto.AssignmentResponse{}, err
		}
		normalized, err := normalizeAssignmentContent(pt, payload.Content)
		if err != nil {
			return dto.AssignmentResponse{}, err
		}
		assignment.Content = normalized
	}
	if payload.PointsPossible != nil {
		assignment.PointsPossible = *payload.PointsPossible
	}
	if payload.AllowResubmission != nil {
		assignment.AllowResubmission = *payload.AllowResubmission
	}
	switch {
	case payload.ClearMaxAttempts:
		assignment.MaxAttempts = nil
	case payload.MaxAttempts != nil:
		assignment.MaxAttempts = payload.MaxAttempts
	}
	switch {
	case payload.ClearDueDate:
		assignment.DueDate = nil
	case payload.DueDate != nil:
		assignment.DueDate = payload.DueDate
	}

	if err := s.repo.Update(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	s.logger.Info().Uint("assignment_id", assignment.ID).Msg("assignment updated")

	return dto.NewAssignmentResponse(assignment, nil, s.now()), nil
}

// Delete removes an assignment together with every submission made against it.
func (s *assignmentService) Delete(ctx context.Context, author ActivityActor, id uint) error {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !canManage(author, assignment) {
		return ErrAssignmentForbidden
	}

	if err := s.repo.Delete(ctx, assignment.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAssignmentNotFound
		}
		return err
	}

	s.logger.Info().Uint("assignment_id", assignment.ID).Uint("deleted_by", author.ID).Msg("assignment deleted")
	return nil
}

// canManage reports whether actor may edit, delete or grade work on the assignment.
func canManage(actor ActivityActor, assignment models.Assignment) bool {
	if normalizeRole(actor.Role) == "admin" {
		return true
	}
	return actor.IsTeacher() && assignment.CreatedBy == actor.ID
}

func (s *assignmentService) load(ctx context.Context, id uint) (models.Assignment, error) {
	assignment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, err
	}
	return assignment, nil
}

// present hides answer keys from students. Teachers see the stored content as is.
func (s *assignmentService) present(assignment models.Assignment, viewer ActivityActor) dto.AssignmentResponse {
	if viewer.IsTeacher() {
		return dto.NewAssignmentResponse(assignment, nil, s.now())
	}

	pt, decoded, err := decodeStoredAssignment(assignment)
	if err != nil {
		s.logger.Error().Err(err).Uint("assignment_id", assignment.ID).Msg("stored assignment content is unreadable")
		return dto.NewAssignmentResponse(assignment, json.RawMessage(`{}`), s.now())
	}
	redacted, err := json.Marshal(content.ForStudent(decoded))
	if err != nil {
		s.logger.Error().Err(err).Str("problem_type", pt.String()).Msg("failed to encode student content")
		redacted = []byte(`{}`)
	}
	return dto.NewAssignmentResponse(assignment, redacted, s.now())
}

// normalizeAssignmentContent validates raw content and re-encodes it from the typed variant so
// unknown fields never reach the store.
func normalizeAssignmentContent(pt content.ProblemType, raw json.RawMessage) (datatypes.JSON, error) {
	decoded, err := content.DecodeAssignment(pt, raw)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("encode assignment content: %w", err)
	}
	return datatypes.JSON(encoded), nil
}
