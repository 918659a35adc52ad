package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-classroom-api/internal/content"
)

// Submission is a student's current attempt at an assignment. There is one row per
// assignment and student; resubmitting replaces it in place and bumps SubmissionNumber.
type Submission struct {
	ID                uint                                    `gorm:"primaryKey" json:"id"`
	AssignmentID      uint                                    `gorm:"not null;uniqueIndex:idx_submissions_assignment_student" json:"assignment_id"`
	StudentID         uint                                    `gorm:"not null;uniqueIndex:idx_submissions_assignment_student;index" json:"student_id"`
	SubmissionContent datatypes.JSON                          `gorm:"type:json;not null" json:"submission_content"`
	SubmissionNumber  int                                     `gorm:"not null;default:1" json:"submission_number"`
	Grade             *float64                                `json:"grade"`
	GradedBy          *uint                                   `json:"graded_by"`
	GradedAt          *time.Time                              `json:"graded_at"`
	Feedback          *string                                 `gorm:"type:text" json:"feedback"`
	TestResults       datatypes.JSONSlice[content.TestResult] `gorm:"type:json" json:"test_results"`
	SubmittedAt       time.Time                               `gorm:"not null" json:"submitted_at"`
	CreatedAt         time.Time                               `json:"created_at"`
	UpdatedAt         time.Time                               `json:"updated_at"`
	Assignment        *Assignment                             `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"assignment,omitempty"`
}

// IsGraded reports whether the submission carries a grade.
func (s Submission) IsGraded() bool {
	return s.Grade != nil
}
