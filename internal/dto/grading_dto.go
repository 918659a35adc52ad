package dto

// GradeRequest is the teacher's manual grade for a submission. A nil Feedback keeps the
// existing feedback.
type GradeRequest struct {
	Grade    *float64 `json:"grade" validate:"required,gte=0"`
	Feedback *string  `json:"feedback" validate:"omitempty,max=10000"`
}
