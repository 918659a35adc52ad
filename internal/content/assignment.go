package content

// AssignmentContent is the closed set of assignment payloads. Only the variants in this
// package implement it.
type AssignmentContent interface {
	ProblemType() ProblemType
	isAssignmentContent()
}

// Option is a single selectable answer of a multiple choice question.
type Option struct {
	ID          string `json:"id" validate:"required"`
	Text        string `json:"text" validate:"required"`
	IsCorrect   bool   `json:"isCorrect"`
	Explanation string `json:"explanation,omitempty"`
}

// Question is a multiple choice question. Points is optional; when nil the question is worth an
// equal share of the assignment's points.
type Question struct {
	ID      string   `json:"id" validate:"required"`
	Text    string   `json:"text" validate:"required"`
	Options []Option `json:"options" validate:"required,min=2,dive"`
	Points  *float64 `json:"points,omitempty" validate:"omitempty,gte=0"`
}

// CorrectOptionID returns the id of the first option flagged correct.
func (q Question) CorrectOptionID() (string, bool) {
	for _, option := range q.Options {
		if option.IsCorrect {
			return option.ID, true
		}
	}
	return "", false
}

// HasOption reports whether the question offers the given option id.
func (q Question) HasOption(id string) bool {
	for _, option := range q.Options {
		if option.ID == id {
			return true
		}
	}
	return false
}

type MultipleChoiceContent struct {
	Questions []Question `json:"questions" validate:"dive"`
}

type ShortAnswerContent struct {
	Question string `json:"question" validate:"required"`
}

type EssayContent struct {
	Topic        string `json:"topic" validate:"required"`
	Requirements string `json:"requirements"`
	MinLength    int    `json:"min_length,omitempty" validate:"gte=0"`
}

type FileUploadContent struct {
	Requirements      []string `json:"requirements"`
	AllowedExtensions []string `json:"allowed_extensions" validate:"required,min=1,dive,required"`
	MaxSizeMB         int      `json:"max_size_mb,omitempty" validate:"gte=0"`
}

// CodeExample is an illustrative input/output pair shown to students.
type CodeExample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// TestCase is an (input, expected output) pair run against a code submission.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

type CodeContent struct {
	Description string       `json:"description" validate:"required"`
	Example     *CodeExample `json:"example,omitempty"`
	Solution    string       `json:"solution,omitempty"`
	TestCases   []TestCase   `json:"test_cases,omitempty"`
	StarterCode string       `json:"starter_code,omitempty"`
}

func (*MultipleChoiceContent) ProblemType() ProblemType { return ProblemTypeMultipleChoice }
func (*ShortAnswerContent) ProblemType() ProblemType    { return ProblemTypeShortAnswer }
func (*EssayContent) ProblemType() ProblemType          { return ProblemTypeEssay }
func (*FileUploadContent) ProblemType() ProblemType     { return ProblemTypeFileUpload }
func (*CodeContent) ProblemType() ProblemType           { return ProblemTypeCode }

func (*MultipleChoiceContent) isAssignmentContent() {}
func (*ShortAnswerContent) isAssignmentContent()    {}
func (*EssayContent) isAssignmentContent()          {}
func (*FileUploadContent) isAssignmentContent()     {}
func (*CodeContent) isAssignmentContent()           {}
