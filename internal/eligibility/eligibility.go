// Package eligibility decides whether a student may submit or resubmit an assignment.
// Every function here is pure and total.
package eligibility

import "fmt"

const gradeEpsilon = 1e-9

// Policy is the slice of an assignment that governs attempts.
type Policy struct {
	PointsPossible    float64
	AllowResubmission bool
	// MaxAttempts is nil when attempts are unlimited.
	MaxAttempts *int
}

// Reason explains why a submission is blocked.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonPerfectScore       Reason = "perfect_score"
	ReasonResubmissionClosed Reason = "resubmission_not_allowed"
	ReasonMaxAttemptsReached Reason = "max_attempts_reached"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	IsResubmission    bool   `json:"is_resubmission"`
	Reason            Reason `json:"reason,omitempty"`
	AttemptsUsed      int    `json:"attempts_used"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
}

// Message renders the reason for a user.
func (d Decision) Message() string {
	switch d.Reason {
	case ReasonNone:
		return "submission allowed"
	case ReasonPerfectScore:
		return "assignment already has a perfect score"
	case ReasonResubmissionClosed:
		return "resubmission is not allowed for this assignment"
	case ReasonMaxAttemptsReached:
		return fmt.Sprintf("maximum number of attempts reached (%d)", d.AttemptsUsed)
	default:
		return string(d.Reason)
	}
}

// IsPerfect reports whether grade equals the points possible.
func IsPerfect(policy Policy, grade *float64) bool {
	if grade == nil {
		return false
	}
	return *grade >= policy.PointsPossible-gradeEpsilon
}

func attemptsExhausted(policy Policy, submissionCount int) bool {
	return policy.MaxAttempts != nil && submissionCount >= *policy.MaxAttempts
}

// CanResubmit reports whether another attempt may replace the current one. A perfect grade
// blocks resubmission before any attempt policy is looked at.
func CanResubmit(policy Policy, submissionCount int, currentGrade *float64) bool {
	return resubmitReason(policy, submissionCount, currentGrade) == ReasonNone
}

// CanSubmit guards every submit attempt.
func CanSubmit(policy Policy, submissionCount int, isResubmission bool, currentGrade *float64) bool {
	return submitReason(policy, submissionCount, isResubmission, currentGrade) == ReasonNone
}

// Evaluate is CanSubmit with the reason and remaining attempts attached.
func Evaluate(policy Policy, submissionCount int, isResubmission bool, currentGrade *float64) Decision {
	if submissionCount < 0 {
		submissionCount = 0
	}
	reason := submitReason(policy, submissionCount, isResubmission, currentGrade)
	decision := Decision{
		Allowed:        reason == ReasonNone,
		IsResubmission: isResubmission,
		Reason:         reason,
		AttemptsUsed:   submissionCount,
	}
	if policy.MaxAttempts != nil {
		remaining := *policy.MaxAttempts - submissionCount
		if remaining < 0 || reason == ReasonPerfectScore || reason == ReasonResubmissionClosed {
			remaining = 0
		}
		decision.AttemptsRemaining = &remaining
	}
	return decision
}

func submitReason(policy Policy, submissionCount int, isResubmission bool, currentGrade *float64) Reason {
	if isResubmission {
		return resubmitReason(policy, submissionCount, currentGrade)
	}
	if attemptsExhausted(policy, submissionCount) {
		return ReasonMaxAttemptsReached
	}
	return ReasonNone
}

func resubmitReason(policy Policy, submissionCount int, currentGrade *float64) Reason {
	switch {
	case IsPerfect(policy, currentGrade):
		return ReasonPerfectScore
	case !policy.AllowResubmission:
		return ReasonResubmissionClosed
	case attemptsExhausted(policy, submissionCount):
		return ReasonMaxAttemptsReached
	default:
		return ReasonNone
	}
}
