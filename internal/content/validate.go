package content

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultMaxFileSizeMB caps file uploads when the assignment does not set its own limit.
const DefaultMaxFileSizeMB = 20

// ValidateOptions carries the collaborators submission validation depends on.
type ValidateOptions struct {
	// SupportedLanguage reports whether code in the given language can be executed.
	// A nil func accepts every language.
	SupportedLanguage func(language string) bool
}

// ValidateSubmission checks that a submission is complete and well formed for its assignment.
// It never drops unanswered questions silently: partial multiple choice answers are rejected
// unless the submission carries an explicit confirmation.
func ValidateSubmission(assignment AssignmentContent, submission SubmissionContent, opts ValidateOptions) error {
	if assignment == nil || submission == nil {
		return invalid("content", "content is required")
	}
	if assignment.ProblemType() != submission.ProblemType() {
		return invalid("problem_type", fmt.Sprintf("submission of type %s does not match assignment type %s", submission.ProblemType(), assignment.ProblemType()))
	}

	switch a := assignment.(type) {
	case *MultipleChoiceContent:
		return validateMultipleChoice(a, submission.(*MultipleChoiceAnswers))
	case *ShortAnswerContent:
		s := submission.(*ShortAnswerSubmission)
		if strings.TrimSpace(s.Answer) == "" {
			return invalid("answer", "answer is required")
		}
		return nil
	case *EssayContent:
		s := submission.(*EssaySubmission)
		minLength := a.MinLength
		if minLength < 1 {
			minLength = 1
		}
		if utf8.RuneCountInString(strings.TrimSpace(s.Text)) < minLength {
			return invalid("text", fmt.Sprintf("essay must be at least %d characters", minLength))
		}
		return nil
	case *FileUploadContent:
		return validateFile(a, submission.(*FileSubmission))
	case *CodeContent:
		return validateCode(a, submission.(*CodeSubmission), opts)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownProblemType, assignment)
	}
}

func validateMultipleChoice(a *MultipleChoiceContent, s *MultipleChoiceAnswers) error {
	verr := &ValidationError{}
	questions := make(map[string]Question, len(a.Questions))
	for _, question := range a.Questions {
		questions[question.ID] = question
	}

	for questionID, optionID := range s.SelectedAnswers {
		question, ok := questions[questionID]
		if !ok {
			verr.add("selected_answers."+questionID, "unknown question")
			continue
		}
		if optionID != "" && !question.HasOption(optionID) {
			verr.add("selected_answers."+questionID, "unknown option")
		}
	}

	unanswered := 0
	for _, question := range a.Questions {
		if s.SelectedAnswers[question.ID] == "" {
			unanswered++
		}
	}
	if unanswered > 0 && !s.ConfirmPartial {
		verr.add("selected_answers", fmt.Sprintf("%d question(s) unanswered; confirm to submit a partial answer", unanswered))
	}

	return verr.orNil()
}

func validateFile(a *FileUploadContent, s *FileSubmission) error {
	ext := normalizeExtension(filepath.Ext(s.FileName))
	if !extensionAllowed(a.AllowedExtensions, ext) {
		return invalid("file_name", fmt.Sprintf("file extension %q is not allowed", ext))
	}

	limit := int64(a.MaxSizeMB)
	if limit <= 0 {
		limit = DefaultMaxFileSizeMB
	}
	if s.Size > limit*1024*1024 {
		return invalid("size", fmt.Sprintf("file exceeds the %d MB limit", limit))
	}
	return nil
}

func validateCode(a *CodeContent, s *CodeSubmission, opts ValidateOptions) error {
	language := NormalizeLanguage(s.Language)
	if opts.SupportedLanguage != nil && !opts.SupportedLanguage(language) {
		return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, s.Language)
	}

	code := normalizeCode(s.Code)
	if code == "" {
		return invalid("code", "code is required")
	}
	if a.StarterCode != "" && code == normalizeCode(a.StarterCode) {
		return invalid("code", "code is unchanged from the starter code")
	}
	if template, ok := Template(language); ok && code == normalizeCode(template) {
		return invalid("code", "code is unchanged from the language template")
	}
	return nil
}

// NormalizeLanguage lowercases and trims a language identifier.
func NormalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

func normalizeCode(code string) string {
	return strings.TrimSpace(strings.ReplaceAll(code, "\r\n", "\n"))
}

func normalizeExtension(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}

func extensionAllowed(allowed []string, ext string) bool {
	if ext == "" {
		return false
	}
	for _, candidate := range allowed {
		if normalizeExtension(candidate) == ext {
			return true
		}
	}
	return false
}
