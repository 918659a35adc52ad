package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-classroom-api/internal/content"
	"github.com/noah-isme/gema-classroom-api/internal/dto"
	"github.com/noah-isme/gema-classroom-api/internal/eligibility"
	"github.com/noah-isme/gema-classroom-api/internal/grading"
	"github.com/noah-isme/gema-classroom-api/internal/models"
	"github.com/noah-isme/gema-classroom-api/internal/observability"
	"github.com/noah-isme/gema-classroom-api/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates the submission does not exist or is not visible to the caller.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrPolicyViolation is returned when the submission policy forbids another attempt.
	ErrPolicyViolation = errors.New("submission not allowed")
	// ErrPersistence wraps store failures while saving a submission.
	ErrPersistence = errors.New("submission could not be saved, please try again")
	// ErrFileUpload wraps file store failures for file upload submissions.
	ErrFileUpload = errors.New("file upload failed")
	// ErrSubmissionConflict is returned when a concurrent submit replaced the attempt first.
	ErrSubmissionConflict = repository.ErrSubmissionConflict
)

// PolicyViolationError carries the eligibility decision that rejected a submit.
type PolicyViolationError struct {
	Decision eligibility.Decision
}

func (e *PolicyViolationError) Error() string {
	return e.Decision.Message()
}

func (e *PolicyViolationError) Unwrap() error {
	return ErrPolicyViolation
}

// FileStorage stores uploaded submission files and returns their public URL.
type FileStorage interface {
	Upload(ctx context.Context, path string, reader io.Reader) (string, error)
}

// Grader scores a submission against its assignment.
type Grader interface {
	Grade(ctx context.Context, assignment content.AssignmentContent, submission content.SubmissionContent, pointsPossible float64) (grading.Outcome, error)
}

// SubmissionService orchestrates the submission lifecycle.
type SubmissionService interface {
	Submit(ctx context.Context, studentID, assignmentID uint, req dto.SubmitRequest) (dto.SubmissionResponse, error)
	Get(ctx context.Context, id uint, viewer ActivityActor) (dto.SubmissionResponse, error)
	GetMine(ctx context.Context, assignmentID, studentID uint) (dto.SubmissionResponse, error)
	List(ctx context.Context, assignmentID uint, req dto.SubmissionListRequest, viewer ActivityActor) (dto.SubmissionListResponse, error)
	Eligibility(ctx context.Context, assignmentID, studentID uint) (dto.EligibilityResponse, error)
}

// SubmissionServiceConfig holds the optional collaborators of the orchestrator.
type SubmissionServiceConfig struct {
	// SupportedLanguage reports whether the configured execution backend can run a language.
	SupportedLanguage func(language string) bool
	Now               func() time.Time
}

type submissionService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	grader      Grader
	storage     FileStorage
	activities  ActivityRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	supported   func(language string) bool
	now         func() time.Time
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// NewSubmissionService builds the orchestrator. storage and activities may be nil.
func NewSubmissionService(
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	grader Grader,
	storage FileStorage,
	activities ActivityRecorder,
	validator *validator.Validate,
	cfg SubmissionServiceConfig,
	logger zerolog.Logger,
) SubmissionService {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &submissionService{
		assignments: assignments,
		submissions: submissions,
		grader:      grader,
		storage:     storage,
		activities:  activities,
		validator:   validator,
		sanitizer:   bluemonday.StrictPolicy(),
		supported:   cfg.SupportedLanguage,
		now:         now,
		tracer:      otel.Tracer("github.com/noah-isme/gema-classroom-api/internal/service/submission"),
		logger:      logger.With().Str("component", "submission_service").Logger(),
	}
}

func (s *submissionService) Submit(ctx context.Context, studentID, assignmentID uint, req dto.SubmitRequest) (response dto.SubmissionResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "submission.submit", trace.WithAttributes(
		attribute.Int64("submission.assignment_id", int64(assignmentID)),
		attribute.Int64("submission.student_id", int64(studentID)),
	))
	problemType := "unknown"
	defer func() {
		outcome := "ungraded"
		switch {
		case err != nil && (errors.Is(err, ErrPolicyViolation) || errors.Is(err, content.ErrInvalidContent) ||
			errors.Is(err, content.ErrUnsupportedLanguage) || isValidationError(err)):
			outcome = "rejected"
		case err != nil:
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case response.Grade != nil:
			outcome = "graded"
		}
		observability.Submissions().WithLabelValues(problemType, outcome).Inc()
		span.End()
	}()

	if err := s.validator.Struct(req); err != nil {
		return dto.SubmissionResponse{}, err
	}

	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	problemType = assignment.ProblemType

	current, exists, err := s.currentAttempt(ctx, assignmentID, studentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	count := 0
	var currentGrade *float64
	if exists {
		count = current.SubmissionNumber
		currentGrade = current.Grade
	}
	decision := eligibility.Evaluate(policyFor(assignment), count, exists, currentGrade)
	if !decision.Allowed {
		return dto.SubmissionResponse{}, &PolicyViolationError{Decision: decision}
	}

	pt, assignmentContent, err := decodeStoredAssignment(assignment)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submissionContent, err := s.buildContent(pt, req)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	if err := content.ValidateSubmission(assignmentContent, submissionContent, content.ValidateOptions{SupportedLanguage: s.supported}); err != nil {
		return dto.SubmissionResponse{}, err
	}

	if file, ok := submissionContent.(*content.FileSubmission); ok {
		if err := s.upload(ctx, assignmentID, studentID, file, req.File); err != nil {
			return dto.SubmissionResponse{}, err
		}
	}

	outcome, err := s.grader.Grade(ctx, assignmentContent, submissionContent, assignment.PointsPossible)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if outcome.ManualReview && pt.AutoGradable() {
		s.logger.Warn().
			Uint("assignment_id", assignmentID).
			Uint("student_id", studentID).
			Msg("auto grading unavailable, submission left for manual review")
	}

	payload, err := json.Marshal(submissionContent)
	if err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("encode submission content: %w", err)
	}

	now := s.now()
	model := models.Submission{
		AssignmentID:      assignmentID,
		StudentID:         studentID,
		SubmissionContent: datatypes.JSON(payload),
		Grade:             outcome.Grade,
		TestResults:       datatypes.JSONSlice[content.TestResult](outcome.TestResults),
		SubmittedAt:       now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if outcome.Graded() {
		gradedAt := now
		model.GradedAt = &gradedAt
	}

	previousNumber := 0
	if exists {
		model.ID = current.ID
		model.CreatedAt = current.CreatedAt
		previousNumber = current.SubmissionNumber
	}

	if err := s.submissions.SaveAttempt(ctx, &model, previousNumber); err != nil {
		if file, ok := submissionContent.(*content.FileSubmission); ok && file.FileURL != "" {
			s.logger.Warn().
				Err(err).
				Str("path", uploadPath(assignmentID, studentID, file.FileName)).
				Str("file_url", file.FileURL).
				Msg("submission not saved, uploaded file is orphaned")
		}
		if errors.Is(err, repository.ErrSubmissionConflict) {
			return dto.SubmissionResponse{}, err
		}
		s.logger.Error().Err(err).Uint("assignment_id", assignmentID).Uint("student_id", studentID).Msg("failed to save submission")
		return dto.SubmissionResponse{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.recordSubmitActivities(ctx, assignment, model)

	response = dto.NewSubmissionResponse(model)
	response.Score = outcome.Score
	response.ManualReview = outcome.ManualReview
	response.Assignment = &dto.AssignmentLite{
		ID:             assignment.ID,
		Title:          assignment.Title,
		ProblemType:    assignment.ProblemType,
		PointsPossible: assignment.PointsPossible,
		DueDate:        assignment.DueDate,
	}

	s.logger.Info().
		Uint("submission_id", model.ID).
		Int("submission_number", model.SubmissionNumber).
		Bool("graded", outcome.Graded()).
		Msg("submission saved")

	return response, nil
}

func (s *submissionService) Get(ctx context.Context, id uint, viewer ActivityActor) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	if !viewer.IsTeacher() {
		if submission.StudentID != viewer.ID {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.NewSubmissionResponse(submission), nil
	}

	var assignment models.Assignment
	if submission.Assignment != nil {
		assignment = *submission.Assignment
	}
	if !canManage(viewer, assignment) {
		return dto.SubmissionResponse{}, ErrAssignmentForbidden
	}

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) GetMine(ctx context.Context, assignmentID, studentID uint) (dto.SubmissionResponse, error) {
	if _, err := s.loadAssignment(ctx, assignmentID); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, exists, err := s.currentAttempt(ctx, assignmentID, studentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !exists {
		return dto.SubmissionResponse{}, ErrSubmissionNotFound
	}

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) List(ctx context.Context, assignmentID uint, req dto.SubmissionListRequest, viewer ActivityActor) (dto.SubmissionListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SubmissionListResponse{}, err
	}
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}
	if !canManage(viewer, assignment) {
		return dto.SubmissionListResponse{}, ErrAssignmentForbidden
	}

	filter := repository.SubmissionFilter{
		AssignmentID: &assignmentID,
		Graded:       req.Graded,
		Page:         maxInt(req.Page, 1),
		PageSize:     clampPageSize(req.PageSize),
	}

	submissions, total, err := s.submissions.List(ctx, filter)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}

	items := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, dto.NewSubmissionResponse(submission))
	}

	return dto.SubmissionListResponse{
		Items:      items,
		Pagination: dto.NewPaginationMeta(filter.Page, filter.PageSize, total),
	}, nil
}

func (s *submissionService) Eligibility(ctx context.Context, assignmentID, studentID uint) (dto.EligibilityResponse, error) {
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return dto.EligibilityResponse{}, err
	}

	current, exists, err := s.currentAttempt(ctx, assignmentID, studentID)
	if err != nil {
		return dto.EligibilityResponse{}, err
	}

	count := 0
	var grade *float64
	if exists {
		count = current.SubmissionNumber
		grade = current.Grade
	}
	decision := eligibility.Evaluate(policyFor(assignment), count, exists, grade)

	return dto.EligibilityResponse{
		AssignmentID:      assignmentID,
		Allowed:           decision.Allowed,
		IsResubmission:    decision.IsResubmission,
		Reason:            string(decision.Reason),
		Message:           decision.Message(),
		AttemptsUsed:      decision.AttemptsUsed,
		AttemptsRemaining: decision.AttemptsRemaining,
		CurrentGrade:      grade,
		IsPastDue:         assignment.IsPastDue(s.now()),
	}, nil
}

func (s *submissionService) loadAssignment(ctx context.Context, id uint) (models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return assignment, nil
}

// currentAttempt distinguishes "no submission yet" from a failed lookup.
func (s *submissionService) currentAttempt(ctx context.Context, assignmentID, studentID uint) (models.Submission, bool, error) {
	submission, err := s.submissions.GetByAssignmentAndStudent(ctx, assignmentID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, false, nil
		}
		return models.Submission{}, false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return submission, true, nil
}

func (s *submissionService) buildContent(pt content.ProblemType, req dto.SubmitRequest) (content.SubmissionContent, error) {
	if pt == content.ProblemTypeFileUpload && req.File != nil {
		return content.InspectFile(req.File.Name, req.File.Data)
	}

	submissionContent, err := content.DecodeSubmission(pt, req.Content)
	if err != nil {
		return nil, err
	}

	switch c := submissionContent.(type) {
	case *content.ShortAnswerSubmission:
		c.Answer = strings.TrimSpace(s.sanitizer.Sanitize(c.Answer))
	case *content.EssaySubmission:
		c.Text = strings.TrimSpace(s.sanitizer.Sanitize(c.Text))
	case *content.FileSubmission:
		// A file reference without the file itself cannot be stored.
		return nil, &content.ValidationError{Fields: []content.FieldError{{Field: "file", Message: "file is required"}}}
	case *content.MultipleChoiceAnswers, *content.CodeSubmission:
	default:
		return nil, fmt.Errorf("%w: %T", content.ErrUnknownProblemType, submissionContent)
	}
	return submissionContent, nil
}

func (s *submissionService) upload(ctx context.Context, assignmentID, studentID uint, file *content.FileSubmission, upload *dto.FileUpload) error {
	if s.storage == nil {
		return fmt.Errorf("%w: file storage is not configured", ErrFileUpload)
	}

	path := uploadPath(assignmentID, studentID, file.FileName)
	url, err := s.storage.Upload(ctx, path, bytes.NewReader(upload.Data))
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("failed to upload submission file")
		return fmt.Errorf("%w: %v", ErrFileUpload, err)
	}

	file.FileURL = url
	return nil
}

func uploadPath(assignmentID, studentID uint, fileName string) string {
	return fmt.Sprintf("submissions/%d/%d/%s", assignmentID, studentID, fileName)
}

func (s *submissionService) recordSubmitActivities(ctx context.Context, assignment models.Assignment, submission models.Submission) {
	if s.activities == nil {
		return
	}

	entry := ActivityEntry{
		UserID:           submission.StudentID,
		Type:             models.ActivityTypeSubmission,
		CourseID:         assignment.CourseID,
		AssignmentID:     assignment.ID,
		AssignmentTitle:  assignment.Title,
		SubmissionID:     submission.ID,
		SubmissionNumber: submission.SubmissionNumber,
	}
	s.record(ctx, entry)

	if submission.Grade != nil {
		entry.Type = models.ActivityTypeGradeReceived
		entry.Grade = submission.Grade
		s.record(ctx, entry)
	}
}

func (s *submissionService) record(ctx context.Context, entry ActivityEntry) {
	if err := s.activities.Record(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("type", entry.Type).Uint("submission_id", entry.SubmissionID).Msg("failed to record activity")
	}
}

func policyFor(assignment models.Assignment) eligibility.Policy {
	return eligibility.Policy{
		PointsPossible:    assignment.PointsPossible,
		AllowResubmission: assignment.AllowResubmission,
		MaxAttempts:       assignment.MaxAttempts,
	}
}

// decodeStoredAssignment decodes content that was validated on write. A failure here means
// the stored row is corrupt, which is not the caller's fault.
func decodeStoredAssignment(assignment models.Assignment) (content.ProblemType, content.AssignmentContent, error) {
	pt, err := content.ParseProblemType(assignment.ProblemType)
	if err != nil {
		return "", nil, fmt.Errorf("assignment %d: %v", assignment.ID, err)
	}
	decoded, err := content.DecodeAssignment(pt, assignment.Content)
	if err != nil {
		return "", nil, fmt.Errorf("assignment %d has unreadable content: %v", assignment.ID, err)
	}
	return pt, decoded, nil
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}
