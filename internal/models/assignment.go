package models

import (
	"time"

	"gorm.io/datatypes"
)

// Assignment is a gradable unit of work in a course. Content holds the problem-type specific
// payload and is decoded by the content package.
type Assignment struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	CourseID          uint           `gorm:"not null;index" json:"course_id"`
	Title             string         `gorm:"size:255;not null" json:"title"`
	Description       string         `gorm:"type:text" json:"description"`
	ProblemType       string         `gorm:"size:32;not null" json:"problem_type"`
	Content           datatypes.JSON `gorm:"type:json;not null" json:"content"`
	PointsPossible    float64        `gorm:"not null" json:"points_possible"`
	AllowResubmission bool           `gorm:"not null;default:false" json:"allow_resubmission"`
	MaxAttempts       *int           `json:"max_attempts"`
	DueDate           *time.Time     `json:"due_date"`
	CreatedBy         uint           `gorm:"not null" json:"created_by"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsPastDue reports whether the due date has passed. Due dates are advisory and never block
// a submission.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return a.DueDate != nil && reference.After(*a.DueDate)
}
