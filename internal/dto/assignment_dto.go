package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-classroom-api/internal/models"
)

// AssignmentCreateRequest describes the payload for creating a new assignment.
type AssignmentCreateRequest struct {
	CourseID          uint            `json:"course_id" validate:"required,gt=0"`
	Title             string          `json:"title" validate:"required,min=3,max=255"`
	Description       string          `json:"description" validate:"max=20000"`
	ProblemType       string          `json:"problem_type" validate:"required"`
	Content           json.RawMessage `json:"content" validate:"required"`
	PointsPossible    float64         `json:"points_possible" validate:"required,gt=0"`
	AllowResubmission bool            `json:"allow_resubmission"`
	MaxAttempts       *int            `json:"max_attempts" validate:"omitempty,gte=1"`
	DueDate           *time.Time      `json:"due_date"`
}

// AssignmentUpdateRequest describes a partial assignment update. The problem type of an
// assignment cannot change once created.
type AssignmentUpdateRequest struct {
	Title             *string         `json:"title" validate:"omitempty,min=3,max=255"`
	Description       *string         `json:"description" validate:"omitempty,max=20000"`
	Content           json.RawMessage `json:"content"`
	PointsPossible    *float64        `json:"points_possible" validate:"omitempty,gt=0"`
	AllowResubmission *bool           `json:"allow_resubmission"`
	MaxAttempts       *int            `json:"max_attempts" validate:"omitempty,gte=1"`
	ClearMaxAttempts  bool            `json:"clear_max_attempts"`
	DueDate           *time.Time      `json:"due_date"`
	ClearDueDate      bool            `json:"clear_due_date"`
}

// AssignmentListRequest captures query parameters for listing assignments.
type AssignmentListRequest struct {
	CourseID    uint   `query:"course_id"`
	ProblemType string `query:"problem_type"`
	Search      string `query:"search"`
	Sort        string `query:"sort" validate:"omitempty,oneof=due_date -due_date created_at -created_at title -title"`
	Page        int    `query:"page" validate:"omitempty,gte=1"`
	PageSize    int    `query:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// AssignmentResponse is the serialized representation returned to API clients. Content is
// redacted for students.
type AssignmentResponse struct {
	ID                uint            `json:"id"`
	CourseID          uint            `json:"course_id"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	ProblemType       string          `json:"problem_type"`
	Content           json.RawMessage `json:"content"`
	PointsPossible    float64         `json:"points_possible"`
	AllowResubmission bool            `json:"allow_resubmission"`
	MaxAttempts       *int            `json:"max_attempts"`
	DueDate           *time.Time      `json:"due_date"`
	IsPastDue         bool            `json:"is_past_due"`
	CreatedBy         uint            `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// AssignmentListResponse wraps a page of assignments.
type AssignmentListResponse struct {
	Items      []AssignmentResponse `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}

// NewAssignmentResponse converts a model into a DTO. A nil content falls back to the stored
// payload.
func NewAssignmentResponse(model models.Assignment, content json.RawMessage, now time.Time) AssignmentResponse {
	if content == nil {
		content = json.RawMessage(model.Content)
	}
	return AssignmentResponse{
		ID:                model.ID,
		CourseID:          model.CourseID,
		Title:             model.Title,
		Description:       model.Description,
		ProblemType:       model.ProblemType,
		Content:           content,
		PointsPossible:    model.PointsPossible,
		AllowResubmission: model.AllowResubmission,
		MaxAttempts:       model.MaxAttempts,
		DueDate:           model.DueDate,
		IsPastDue:         model.IsPastDue(now),
		CreatedBy:         model.CreatedBy,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
	}
}

// AssignmentLite summarizes an assignment in submission responses.
type AssignmentLite struct {
	ID             uint       `json:"id"`
	Title          string     `json:"title"`
	ProblemType    string     `json:"problem_type"`
	PointsPossible float64    `json:"points_possible"`
	DueDate        *time.Time `json:"due_date"`
}
