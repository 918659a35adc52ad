package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-classroom-api/internal/dto"
	"github.com/noah-isme/gema-classroom-api/internal/models"
	"github.com/noah-isme/gema-classroom-api/internal/repository"
)

// ErrScoreExceedsMax indicates a grade above the assignment's points possible.
var ErrScoreExceedsMax = errors.New("grade exceeds points possible")

// GradingService records teacher grades and feedback.
type GradingService interface {
	Grade(ctx context.Context, submissionID uint, payload dto.GradeRequest, actor ActivityActor) (dto.SubmissionResponse, error)
}

type gradingService struct {
	repo       repository.SubmissionRepository
	activities ActivityRecorder
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	now        func() time.Time
}

// NewGradingService constructs the manual grading service.
func NewGradingService(repo repository.SubmissionRepository, activities ActivityRecorder, validator *validator.Validate, logger zerolog.Logger) GradingService {
	return &gradingService{
		repo:       repo,
		activities: activities,
		validator:  validator,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger.With().Str("component", "grading_service").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *gradingService) Grade(ctx context.Context, submissionID uint, payload dto.GradeRequest, actor ActivityActor) (dto.SubmissionResponse, error) {
	tracer := otel.Tracer("github.com/noah-isme/gema-classroom-api/internal/service/grading")
	ctx, span := tracer.Start(ctx, "grading.manual")
	span.SetAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	)
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.repo.GetByID(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.SubmissionResponse{}, err
	}
	if submission.Assignment == nil {
		return dto.SubmissionResponse{}, ErrAssignmentNotFound
	}
	if !canManage(actor, *submission.Assignment) {
		span.SetStatus(codes.Error, "forbidden")
		return dto.SubmissionResponse{}, ErrAssignmentForbidden
	}

	points := submission.Assignment.PointsPossible
	grade := *payload.Grade
	if grade > points+1e-9 {
		span.SetStatus(codes.Error, "score_exceeds_max")
		return dto.SubmissionResponse{}, fmt.Errorf("%w (%.2f)", ErrScoreExceedsMax, points)
	}
	grade = math.Min(grade, points)

	feedback := submission.Feedback
	newFeedback := ""
	if payload.Feedback != nil {
		newFeedback = strings.TrimSpace(s.sanitizer.Sanitize(*payload.Feedback))
		if newFeedback == "" {
			feedback = nil
		} else {
			feedback = &newFeedback
		}
	}

	update := repository.GradeUpdate{
		Grade:    grade,
		GradedBy: actor.ID,
		Feedback: feedback,
	}
	// graded_at marks the first time a grade appeared; regrading keeps it.
	if submission.Grade == nil || submission.GradedAt == nil {
		gradedAt := s.now()
		update.GradedAt = &gradedAt
		submission.GradedAt = &gradedAt
	}

	if err := s.repo.UpdateGrade(ctx, submission.ID, submission.SubmissionNumber, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_update_failed")
		if errors.Is(err, repository.ErrSubmissionConflict) {
			return dto.SubmissionResponse{}, ErrSubmissionConflict
		}
		return dto.SubmissionResponse{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	submission.Grade = &grade
	gradedBy := actor.ID
	submission.GradedBy = &gradedBy
	submission.Feedback = feedback

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("graded_by", actor.ID).
		Float64("grade", grade).
		Msg("submission graded")

	s.recordGradeActivities(ctx, submission, newFeedback != "")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *gradingService) recordGradeActivities(ctx context.Context, submission models.Submission, withFeedback bool) {
	if s.activities == nil {
		return
	}

	entry := ActivityEntry{
		UserID:           submission.StudentID,
		Type:             models.ActivityTypeGradeReceived,
		CourseID:         submission.Assignment.CourseID,
		AssignmentID:     submission.AssignmentID,
		AssignmentTitle:  submission.Assignment.Title,
		SubmissionID:     submission.ID,
		SubmissionNumber: submission.SubmissionNumber,
		Grade:            submission.Grade,
	}

	kinds := []string{models.ActivityTypeGradeReceived}
	if withFeedback {
		kinds = append(kinds, models.ActivityTypeFeedbackReceived)
	}
	for _, kind := range kinds {
		entry.Type = kind
		if err := s.activities.Record(ctx, entry); err != nil {
			s.logger.Warn().Err(err).Str("type", kind).Uint("submission_id", submission.ID).Msg("failed to record activity")
		}
	}
}
