package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-classroom-api/internal/content"
	"github.com/noah-isme/gema-classroom-api/internal/models"
)

// SubmitRequest is the payload of a submission. File is set instead of Content for file upload
// assignments sent as multipart forms.
type SubmitRequest struct {
	Content json.RawMessage `json:"content" validate:"required_without=File"`
	File    *FileUpload     `json:"-"`
}

// FileUpload carries the raw bytes of an uploaded file.
type FileUpload struct {
	Name string `validate:"required"`
	Data []byte `validate:"required"`
}

// SubmissionListRequest captures filters for the teacher submission listing.
type SubmissionListRequest struct {
	Graded   *bool `query:"graded"`
	Page     int   `query:"page" validate:"omitempty,gte=1"`
	PageSize int   `query:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// SubmissionResponse is returned to API clients when viewing submissions. Score and
// ManualReview are only reported on the response to a submit.
type SubmissionResponse struct {
	ID               uint                 `json:"id"`
	AssignmentID     uint                 `json:"assignment_id"`
	StudentID        uint                 `json:"student_id"`
	Content          json.RawMessage      `json:"content"`
	SubmissionNumber int                  `json:"submission_number"`
	IsResubmission   bool                 `json:"is_resubmission"`
	Grade            *float64             `json:"grade"`
	Score            *float64             `json:"score,omitempty"`
	ManualReview     bool                 `json:"manual_review,omitempty"`
	GradedBy         *uint                `json:"graded_by"`
	GradedAt         *time.Time           `json:"graded_at"`
	Feedback         *string              `json:"feedback"`
	TestResults      []content.TestResult `json:"test_results"`
	SubmittedAt      time.Time            `json:"submitted_at"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	Assignment       *AssignmentLite      `json:"assignment,omitempty"`
}

// SubmissionListResponse wraps a page of submissions.
type SubmissionListResponse struct {
	Items      []SubmissionResponse `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	results := []content.TestResult(model.TestResults)
	if results == nil {
		results = []content.TestResult{}
	}

	response := SubmissionResponse{
		ID:               model.ID,
		AssignmentID:     model.AssignmentID,
		StudentID:        model.StudentID,
		Content:          json.RawMessage(model.SubmissionContent),
		SubmissionNumber: model.SubmissionNumber,
		IsResubmission:   model.SubmissionNumber > 1,
		Grade:            model.Grade,
		GradedBy:         model.GradedBy,
		GradedAt:         model.GradedAt,
		Feedback:         model.Feedback,
		TestResults:      results,
		SubmittedAt:      model.SubmittedAt,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}

	if model.Assignment != nil && model.Assignment.ID != 0 {
		response.Assignment = &AssignmentLite{
			ID:             model.Assignment.ID,
			Title:          model.Assignment.Title,
			ProblemType:    model.Assignment.ProblemType,
			PointsPossible: model.Assignment.PointsPossible,
			DueDate:        model.Assignment.DueDate,
		}
	}

	return response
}

// EligibilityResponse tells a student whether they may submit right now.
type EligibilityResponse struct {
	AssignmentID      uint     `json:"assignment_id"`
	Allowed           bool     `json:"allowed"`
	IsResubmission    bool     `json:"is_resubmission"`
	Reason            string   `json:"reason,omitempty"`
	Message           string   `json:"message"`
	AttemptsUsed      int      `json:"attempts_used"`
	AttemptsRemaining *int     `json:"attempts_remaining"`
	CurrentGrade      *float64 `json:"current_grade"`
	IsPastDue         bool     `json:"is_past_due"`
}
