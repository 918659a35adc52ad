package content

// ForStudent returns a copy of the assignment content without answer keys: correct option flags
// and explanations, the reference solution and hidden test cases. Multiple choice explanations
// are only shown after grading, which the caller handles separately.
func ForStudent(assignment AssignmentContent) AssignmentContent {
	switch a := assignment.(type) {
	case *MultipleChoiceContent:
		questions := make([]Question, 0, len(a.Questions))
		for _, question := range a.Questions {
			options := make([]Option, 0, len(question.Options))
			for _, option := range question.Options {
				options = append(options, Option{ID: option.ID, Text: option.Text})
			}
			question.Options = options
			questions = append(questions, question)
		}
		return &MultipleChoiceContent{Questions: questions}
	case *CodeContent:
		redacted := *a
		redacted.Solution = ""
		redacted.TestCases = nil
		return &redacted
	default:
		return assignment
	}
}
