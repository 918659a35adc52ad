package content

import (
	"errors"
	"fmt"
	"strings"
)

// ProblemType identifies the shape of an assignment's content and of the submissions made against it.
type ProblemType string

const (
	ProblemTypeMultipleChoice ProblemType = "multiple_choice"
	ProblemTypeShortAnswer    ProblemType = "short_answer"
	ProblemTypeEssay          ProblemType = "essay"
	ProblemTypeFileUpload     ProblemType = "file_upload"
	ProblemTypeCode           ProblemType = "code"
)

// ErrUnknownProblemType is returned for any tag outside the five known problem types.
var ErrUnknownProblemType = errors.New("unknown problem type")

// ProblemTypes lists every known problem type in display order.
func ProblemTypes() []ProblemType {
	return []ProblemType{
		ProblemTypeMultipleChoice,
		ProblemTypeShortAnswer,
		ProblemTypeEssay,
		ProblemTypeFileUpload,
		ProblemTypeCode,
	}
}

// ParseProblemType normalises and validates a problem type tag.
func ParseProblemType(value string) (ProblemType, error) {
	pt := ProblemType(strings.ToLower(strings.TrimSpace(value)))
	switch pt {
	case ProblemTypeMultipleChoice, ProblemTypeShortAnswer, ProblemTypeEssay, ProblemTypeFileUpload, ProblemTypeCode:
		return pt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProblemType, value)
	}
}

// AutoGradable reports whether the problem type can be scored at submit time.
// Code assignments additionally need test cases; see the grading engine.
func (p ProblemType) AutoGradable() bool {
	switch p {
	case ProblemTypeMultipleChoice, ProblemTypeCode:
		return true
	case ProblemTypeShortAnswer, ProblemTypeEssay, ProblemTypeFileUpload:
		return false
	default:
		return false
	}
}

func (p ProblemType) String() string {
	return string(p)
}
