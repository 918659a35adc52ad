package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-classroom-api/internal/content"
	"github.com/noah-isme/gema-classroom-api/internal/models"
)

// ErrSubmissionConflict is returned when another writer replaced the submission first.
var ErrSubmissionConflict = errors.New("submission was modified by a concurrent request")

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	AssignmentID *uint
	StudentID    *uint
	Graded       *bool
	Page         int
	PageSize     int
}

// GradeUpdate carries the columns written by a manual grade.
type GradeUpdate struct {
	Grade    float64
	GradedBy uint
	GradedAt *time.Time
	Feedback *string
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	GetByAssignmentAndStudent(ctx context.Context, assignmentID, studentID uint) (models.Submission, error)
	// SaveAttempt writes a new attempt. With previousNumber 0 it inserts the first attempt;
	// otherwise it replaces the row only while its submission number still equals
	// previousNumber. Lost races return ErrSubmissionConflict.
	SaveAttempt(ctx context.Context, submission *models.Submission, previousNumber int) error
	// UpdateGrade writes a manual grade against a specific attempt.
	UpdateGrade(ctx context.Context, id uint, submissionNumber int, update GradeUpdate) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.AssignmentID != nil {
		query = query.Where("assignment_id = ?", *filter.AssignmentID)
	}

	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}

	if filter.Graded != nil {
		if *filter.Graded {
			query = query.Where("grade IS NOT NULL")
		} else {
			query = query.Where("grade IS NULL")
		}
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var submissions []models.Submission
	if err := paginate(query, filter.Page, filter.PageSize).
		Order("submitted_at DESC, id DESC").
		Find(&submissions).Error; err != nil {
		return nil, 0, err
	}

	return submissions, total, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).Preload("Assignment").First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) GetByAssignmentAndStudent(ctx context.Context, assignmentID, studentID uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("student_id = ?", studentID).
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) SaveAttempt(ctx context.Context, submission *models.Submission, previousNumber int) error {
	if submission.TestResults == nil {
		submission.TestResults = []content.TestResult{}
	}

	if previousNumber <= 0 {
		submission.ID = 0
		submission.SubmissionNumber = 1
		err := r.db.WithContext(ctx).Create(submission).Error
		if isDuplicateKey(err) {
			return ErrSubmissionConflict
		}
		return err
	}

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND submission_number = ?", submission.ID, previousNumber).
		Updates(map[string]interface{}{
			"submission_content": submission.SubmissionContent,
			"submission_number":  gorm.Expr("submission_number + 1"),
			"grade":              submission.Grade,
			"graded_by":          submission.GradedBy,
			"graded_at":          submission.GradedAt,
			"feedback":           submission.Feedback,
			"test_results":       submission.TestResults,
			"submitted_at":       submission.SubmittedAt,
			"updated_at":         now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubmissionConflict
	}

	submission.SubmissionNumber = previousNumber + 1
	submission.UpdatedAt = now
	return nil
}

func (r *submissionRepository) UpdateGrade(ctx context.Context, id uint, submissionNumber int, update GradeUpdate) error {
	values := map[string]interface{}{
		"grade":      update.Grade,
		"graded_by":  update.GradedBy,
		"feedback":   update.Feedback,
		"updated_at": time.Now().UTC(),
	}
	if update.GradedAt != nil {
		values["graded_at"] = update.GradedAt
	}

	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND submission_number = ?", id, submissionNumber).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubmissionConflict
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "duplicate key")
}
