package content

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const quizJSON = `{
	"questions": [
		{"id": "q1", "text": "2+2?", "options": [
			{"id": "a", "text": "3", "isCorrect": false},
			{"id": "b", "text": "4", "isCorrect": true}
		]},
		{"id": "q2", "text": "Capital of France?", "options": [
			{"id": "a", "text": "Paris", "isCorrect": true},
			{"id": "b", "text": "Rome", "isCorrect": false}
		], "points": 30}
	]
}`

func TestParseProblemType(t *testing.T) {
	for _, pt := range ProblemTypes() {
		parsed, err := ParseProblemType(" " + string(pt) + " ")
		require.NoError(t, err)
		require.Equal(t, pt, parsed)
	}

	_, err := ParseProblemType("drawing")
	require.ErrorIs(t, err, ErrUnknownProblemType)
}

func TestDecodeAssignmentMultipleChoice(t *testing.T) {
	decoded, err := DecodeAssignment(ProblemTypeMultipleChoice, []byte(quizJSON))
	require.NoError(t, err)

	quiz, ok := decoded.(*MultipleChoiceContent)
	require.True(t, ok)
	require.Len(t, quiz.Questions, 2)
	require.Nil(t, quiz.Questions[0].Points)
	require.NotNil(t, quiz.Questions[1].Points)
	require.Equal(t, 30.0, *quiz.Questions[1].Points)

	correct, ok := quiz.Questions[0].CorrectOptionID()
	require.True(t, ok)
	require.Equal(t, "b", correct)
}

func TestDecodeAssignmentRejectsWrongShape(t *testing.T) {
	_, err := DecodeAssignment(ProblemTypeMultipleChoice, []byte(`{"questions": "nope"}`))
	require.ErrorIs(t, err, ErrInvalidContent)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "questions", verr.Fields[0].Field)
}

func TestDecodeAssignmentRequiresCorrectOption(t *testing.T) {
	raw := `{"questions": [{"id": "q1", "text": "?", "options": [
		{"id": "a", "text": "x", "isCorrect": false},
		{"id": "b", "text": "y", "isCorrect": false}
	]}]}`
	_, err := DecodeAssignment(ProblemTypeMultipleChoice, []byte(raw))
	require.ErrorIs(t, err, ErrInvalidContent)
	require.Contains(t, err.Error(), "questions.0.options")
}

func TestDecodeAssignmentCode(t *testing.T) {
	raw := `{"description": "echo", "test_cases": [{"input": "1", "expected_output": "1"}], "starter_code": "print()"}`
	decoded, err := DecodeAssignment(ProblemTypeCode, []byte(raw))
	require.NoError(t, err)

	code := decoded.(*CodeContent)
	require.Len(t, code.TestCases, 1)
	require.Equal(t, "1", code.TestCases[0].ExpectedOutput)
}

func TestDecodeUnknownProblemType(t *testing.T) {
	_, err := DecodeAssignment(ProblemType("drawing"), []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownProblemType)

	_, err = DecodeSubmission(ProblemType("drawing"), []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownProblemType)
}

func TestDecodeSubmissionRequiresContent(t *testing.T) {
	_, err := DecodeSubmission(ProblemTypeEssay, nil)
	require.ErrorIs(t, err, ErrInvalidContent)

	_, err = DecodeSubmission(ProblemTypeCode, []byte(`{"code": "print(1)"}`))
	require.ErrorIs(t, err, ErrInvalidContent)
}

func TestValidateMultipleChoiceRequiresAllAnswers(t *testing.T) {
	assignment, err := DecodeAssignment(ProblemTypeMultipleChoice, []byte(quizJSON))
	require.NoError(t, err)

	partial := &MultipleChoiceAnswers{SelectedAnswers: map[string]string{"q1": "b"}}
	err = ValidateSubmission(assignment, partial, ValidateOptions{})
	require.ErrorIs(t, err, ErrInvalidContent)
	require.Contains(t, err.Error(), "1 question(s) unanswered")

	partial.ConfirmPartial = true
	require.NoError(t, ValidateSubmission(assignment, partial, ValidateOptions{}))
}

func TestValidateMultipleChoiceRejectsUnknownOption(t *testing.T) {
	assignment, err := DecodeAssignment(ProblemTypeMultipleChoice, []byte(quizJSON))
	require.NoError(t, err)

	answers := &MultipleChoiceAnswers{SelectedAnswers: map[string]string{"q1": "z", "q2": "a", "q9": "a"}}
	err = ValidateSubmission(assignment, answers, ValidateOptions{})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 2)
}

func TestValidateMismatchedProblemType(t *testing.T) {
	err := ValidateSubmission(&EssayContent{Topic: "t"}, &ShortAnswerSubmission{Answer: "a"}, ValidateOptions{})
	require.ErrorIs(t, err, ErrInvalidContent)
	require.Contains(t, err.Error(), "problem_type")
}

func TestValidateTextAnswers(t *testing.T) {
	require.Error(t, ValidateSubmission(&ShortAnswerContent{Question: "q"}, &ShortAnswerSubmission{Answer: "   "}, ValidateOptions{}))
	require.NoError(t, ValidateSubmission(&ShortAnswerContent{Question: "q"}, &ShortAnswerSubmission{Answer: "42"}, ValidateOptions{}))

	essay := &EssayContent{Topic: "t", MinLength: 10}
	require.ErrorIs(t, ValidateSubmission(essay, &EssaySubmission{Text: "too short"}, ValidateOptions{}), ErrInvalidContent)
	require.NoError(t, ValidateSubmission(essay, &EssaySubmission{Text: "long enough text"}, ValidateOptions{}))
}

func TestValidateFileUpload(t *testing.T) {
	assignment := &FileUploadContent{AllowedExtensions: []string{".pdf", "ZIP"}, MaxSizeMB: 1}

	require.NoError(t, ValidateSubmission(assignment, &FileSubmission{FileName: "report.PDF", Size: 10}, ValidateOptions{}))
	require.NoError(t, ValidateSubmission(assignment, &FileSubmission{FileName: "bundle.zip", Size: 10}, ValidateOptions{}))
	require.ErrorIs(t, ValidateSubmission(assignment, &FileSubmission{FileName: "notes.txt", Size: 10}, ValidateOptions{}), ErrInvalidContent)
	require.ErrorIs(t, ValidateSubmission(assignment, &FileSubmission{FileName: "big.pdf", Size: 2 * 1024 * 1024}, ValidateOptions{}), ErrInvalidContent)
}

func TestValidateCode(t *testing.T) {
	assignment := &CodeContent{Description: "echo", StarterCode: "# your code here"}
	supported := ValidateOptions{SupportedLanguage: func(language string) bool { return language == "python" }}

	err := ValidateSubmission(assignment, &CodeSubmission{Code: "print(1)", Language: "cobol"}, supported)
	require.ErrorIs(t, err, ErrUnsupportedLanguage)

	err = ValidateSubmission(assignment, &CodeSubmission{Code: "  ", Language: "python"}, supported)
	require.ErrorIs(t, err, ErrInvalidContent)

	err = ValidateSubmission(assignment, &CodeSubmission{Code: "# your code here\n", Language: "python"}, supported)
	require.ErrorIs(t, err, ErrInvalidContent)

	template, ok := Template("Python")
	require.True(t, ok)
	err = ValidateSubmission(assignment, &CodeSubmission{Code: template, Language: "python"}, supported)
	require.ErrorIs(t, err, ErrInvalidContent)

	require.NoError(t, ValidateSubmission(assignment, &CodeSubmission{Code: "print(input())", Language: "Python"}, supported))
}

func TestInspectFile(t *testing.T) {
	file, err := InspectFile("../../report.txt", []byte("plain text body"))
	require.NoError(t, err)
	require.Equal(t, "report.txt", file.FileName)
	require.Equal(t, int64(15), file.Size)
	require.Contains(t, file.MimeType, "text/plain")

	elf := append([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}, make([]byte, 64)...)
	_, err = InspectFile("innocent.pdf", elf)
	require.ErrorIs(t, err, ErrInvalidContent)

	_, err = InspectFile("empty.pdf", nil)
	require.ErrorIs(t, err, ErrInvalidContent)
}

func TestForStudentHidesAnswerKeys(t *testing.T) {
	decoded, err := DecodeAssignment(ProblemTypeMultipleChoice, []byte(quizJSON))
	require.NoError(t, err)

	redacted := ForStudent(decoded).(*MultipleChoiceContent)
	for _, question := range redacted.Questions {
		_, ok := question.CorrectOptionID()
		require.False(t, ok)
	}
	_, ok := decoded.(*MultipleChoiceContent).Questions[0].CorrectOptionID()
	require.True(t, ok)

	code := &CodeContent{Description: "sum", Solution: "print(1)", TestCases: []TestCase{{Input: "1", ExpectedOutput: "1"}}}
	hidden := ForStudent(code).(*CodeContent)
	require.Empty(t, hidden.Solution)
	require.Empty(t, hidden.TestCases)
	require.Len(t, code.TestCases, 1)
}
