package models

import (
	"time"

	"gorm.io/datatypes"
)

// Activity types recorded in a user's feed.
const (
	ActivityTypeSubmission        = "submission"
	ActivityTypeGradeReceived     = "grade_received"
	ActivityTypeFeedbackReceived  = "feedback_received"
	ActivityTypeCourseEnrolled    = "course_enrolled"
	ActivityTypeAssignmentCreated = "assignment_created"
)

// ActivityTypes lists every recognised activity type.
func ActivityTypes() []string {
	return []string{
		ActivityTypeSubmission,
		ActivityTypeGradeReceived,
		ActivityTypeFeedbackReceived,
		ActivityTypeCourseEnrolled,
		ActivityTypeAssignmentCreated,
	}
}

// Activity is one entry in a user's activity feed.
type Activity struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    uint              `gorm:"not null;index" json:"user_id"`
	Type      string            `gorm:"size:32;not null;index" json:"type"`
	Content   datatypes.JSONMap `gorm:"type:json" json:"content"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}
