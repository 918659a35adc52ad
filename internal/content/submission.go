package content

// SubmissionContent is the closed set of submission payloads, one per problem type.
type SubmissionContent interface {
	ProblemType() ProblemType
	isSubmissionContent()
}

// MultipleChoiceAnswers maps question ids to the selected option id. ConfirmPartial records that
// the student explicitly accepted submitting with unanswered questions.
type MultipleChoiceAnswers struct {
	SelectedAnswers map[string]string `json:"selected_answers"`
	ConfirmPartial  bool              `json:"confirm_partial,omitempty"`
}

type ShortAnswerSubmission struct {
	Answer string `json:"answer"`
}

type EssaySubmission struct {
	Text string `json:"text"`
}

// FileSubmission references an uploaded file. FileURL is filled in once the file store accepted
// the upload.
type FileSubmission struct {
	FileName string `json:"file_name" validate:"required"`
	FileURL  string `json:"file_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty" validate:"gte=0"`
}

type CodeSubmission struct {
	Code     string `json:"code"`
	Language string `json:"language" validate:"required"`
}

// TestResult is the per test case outcome recorded on code submissions.
type TestResult struct {
	Message string `json:"message"`
	Passed  bool   `json:"passed"`
}

func (*MultipleChoiceAnswers) ProblemType() ProblemType { return ProblemTypeMultipleChoice }
func (*ShortAnswerSubmission) ProblemType() ProblemType { return ProblemTypeShortAnswer }
func (*EssaySubmission) ProblemType() ProblemType       { return ProblemTypeEssay }
func (*FileSubmission) ProblemType() ProblemType        { return ProblemTypeFileUpload }
func (*CodeSubmission) ProblemType() ProblemType        { return ProblemTypeCode }

func (*MultipleChoiceAnswers) isSubmissionContent() {}
func (*ShortAnswerSubmission) isSubmissionContent() {}
func (*EssaySubmission) isSubmissionContent()       {}
func (*FileSubmission) isSubmissionContent()        {}
func (*CodeSubmission) isSubmissionContent()        {}
