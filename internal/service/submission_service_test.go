package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-classroom-api/internal/content"
	"github.com/noah-isme/gema-classroom-api/internal/dto"
	"github.com/noah-isme/gema-classroom-api/internal/eligibility"
	"github.com/noah-isme/gema-classroom-api/internal/grading"
	"github.com/noah-isme/gema-classroom-api/internal/models"
)

const quizContent = `{"questions":[
	{"id":"q1","text":"2+2?","options":[{"id":"a","text":"3","isCorrect":false},{"id":"b","text":"4","isCorrect":true}]},
	{"id":"q2","text":"3+3?","options":[{"id":"a","text":"6","isCorrect":true},{"id":"b","text":"7","isCorrect":false}]}
]}`

const codeContent = `{"description":"echo the number plus one","test_cases":[
	{"input":"1","expected_output":"2"},
	{"input":"2","expected_output":"3"},
	{"input":"3","expected_output":"4"},
	{"input":"4","expected_output":"5"}
]}`

type submissionFixture struct {
	assignments *memoryAssignmentRepo
	submissions *memorySubmissionRepo
	activities  *recordingActivities
	storage     *stubStorage
	runner      *stubRunner
	service     SubmissionService
	now         time.Time
}

func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()
	return newLoggedSubmissionFixture(t, nopLogger())
}

func newLoggedSubmissionFixture(t *testing.T, logger zerolog.Logger) *submissionFixture {
	t.Helper()
	assignments := newMemoryAssignmentRepo()
	fixture := &submissionFixture{
		assignments: assignments,
		submissions: newMemorySubmissionRepo(assignments),
		activities:  &recordingActivities{},
		storage:     &stubStorage{},
		runner:      &stubRunner{outputs: map[string]string{"1": "2\n", "2": "3", "3": "4", "4": "wrong"}},
		now:         time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	fixture.service = NewSubmissionService(
		assignments,
		fixture.submissions,
		grading.NewEngine(fixture.runner, nopLogger()),
		fixture.storage,
		fixture.activities,
		newValidator(t),
		SubmissionServiceConfig{
			SupportedLanguage: func(language string) bool { return language == "python" },
			Now:               func() time.Time { return fixture.now },
		},
		logger,
	)
	return fixture
}

func (f *submissionFixture) addAssignment(problemType content.ProblemType, body string, points float64, allowResubmission bool, maxAttempts *int) models.Assignment {
	return f.assignments.add(models.Assignment{
		CourseID:          4,
		Title:             "Practice " + problemType.String(),
		ProblemType:       problemType.String(),
		Content:           rawJSON(body),
		PointsPossible:    points,
		AllowResubmission: allowResubmission,
		MaxAttempts:       maxAttempts,
		CreatedBy:         1,
	})
}

func submitJSON(body string) dto.SubmitRequest {
	return dto.SubmitRequest{Content: json.RawMessage(body)}
}

func TestSubmitMultipleChoiceFirstAttemptIsGraded(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeMultipleChoice, quizContent, 100, true, nil)

	response, err := f.service.Submit(context.Background(), 7, assignment.ID, submitJSON(`{"selected_answers":{"q1":"b","q2":"b"}}`))
	require.NoError(t, err)

	require.Equal(t, 1, response.SubmissionNumber)
	require.False(t, response.IsResubmission)
	require.NotNil(t, response.Grade)
	require.Equal(t, 50.0, *response.Grade)
	require.Nil(t, response.GradedBy)
	require.NotNil(t, response.GradedAt)
	require.Equal(t, f.now, *response.GradedAt)
	require.Equal(t, []string{models.ActivityTypeSubmission, models.ActivityTypeGradeReceived}, f.activities.types())
	require.Equal(t, "Practice multiple_choice", f.activities.entries[0].AssignmentTitle)
	require.Equal(t, 1, f.activities.entries[0].SubmissionNumber)
}

func TestResubmitAfterPerfectScoreIsRejected(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeMultipleChoice, quizContent, 100, true, nil)

	first, err := f.service.Submit(context.Background(), 7, assignment.ID, submitJSON(`{"selected_answers":{"q1":"b","q2":"a"}}`))
	require.NoError(t, err)
	require.Equal(t, 100.0, *first.Grade)

	_, err = f.service.Submit(context.Background(), 7, assignment.ID, submitJSON(`{"selected_answers":{"q1":"a","q2":"a"}}`))
	require.ErrorIs(t, err, ErrPolicyViolation)

	var violation *PolicyViolationError
	require.True(t, errors.As(err, &violation))
	require.Equal(t, eligibility.ReasonPerfectScore, violation.Decision.Reason)

	stored, err := f.submissions.GetByAssignmentAndStudent(context.Background(), assignment.ID, 7)
	require.NoError(t, err)
	require.Equal(t, 1, stored.SubmissionNumber)
	require.Equal(t, 100.0, *stored.Grade)
}

func TestCodeResubmissionIsRegradedAndNumbered(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeCode, codeContent, 100, true, intPtr(3))

	first, err := f.service.Submit(context.Background(), 9, assignment.ID, submitJSON(`{"code":"print(int(input())+1)","language":"Python"}`))
	require.NoError(t, err)
	require.Equal(t, 75.0, *first.Grade)
	require.Equal(t, 75.0, *first.Score)
	require.Len(t, first.TestResults, 4)
	require.Equal(t, "Test case 1 passed", first.TestResults[0].Message)
	require.False(t, first.TestResults[3].Passed)
	require.Equal(t, 4, f.runner.calls)

	f.runner.outputs["4"] = "5"
	second, err := f.service.Submit(context.Background(), 9, assignment.ID, submitJSON(`{"code":"print(int(input()) + 1)","language":"python"}`))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 2, second.SubmissionNumber)
	require.True(t, second.IsResubmission)
	require.Equal(t, 100.0, *second.Grade)

	var count int
	for _, kind := range f.activities.types() {
		if kind == models.ActivityTypeSubmission {
			count++
		}
	}
	require.Equal(t, 2, count)
}

func TestCodeGradeScalesToPointsPossible(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeCode, codeContent, 20, false, nil)

	response, err := f.service.Submit(context.Background(), 9, assignment.ID, submitJSON(`{"code":"print(2)","language":"python"}`))
	require.NoError(t, err)
	require.Equal(t, 15.0, *response.Grade)
	require.Equal(t, 75.0, *response.Score)
}

func TestMaxAttemptsBlocksFurtherSubmissions(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeEssay, `{"topic":"Loops","requirements":"Explain"}`, 100, true, intPtr(2))

	_, err := f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"text":"first draft"}`))
	require.NoError(t, err)
	second, err := f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"text":"second draft"}`))
	require.NoError(t, err)
	require.Equal(t, 2, second.SubmissionNumber)
	require.Nil(t, second.Grade)
	require.True(t, second.ManualReview)

	_, err = f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"text":"third draft"}`))
	var violation *PolicyViolationError
	require.True(t, errors.As(err, &violation))
	require.Equal(t, eligibility.ReasonMaxAttemptsReached, violation.Decision.Reason)
	require.Contains(t, err.Error(), "maximum number of attempts")
}

func TestResubmissionClosedWhenNotAllowed(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeShortAnswer, `{"question":"Why?"}`, 10, false, nil)

	_, err := f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"answer":"Because"}`))
	require.NoError(t, err)

	_, err = f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"answer":"Because, again"}`))
	require.ErrorIs(t, err, ErrPolicyViolation)
}

func TestSubmitSanitizesFreeText(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeEssay, `{"topic":"Loops","requirements":"Explain"}`, 100, false, nil)

	response, err := f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"text":"<script>alert(1)</script>Loops repeat work"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"text":"Loops repeat work"}`, string(response.Content))

	_, err = f.service.Submit(context.Background(), 4, assignment.ID, submitJSON(`{"text":"<b></b>"}`))
	require.ErrorIs(t, err, content.ErrInvalidContent)
}

func TestSubmitValidationFailuresDoNotPersist(t *testing.T) {
	f := newSubmissionFixture(t)
	quiz := f.addAssignment(content.ProblemTypeMultipleChoice, quizContent, 100, false, nil)
	code := f.addAssignment(content.ProblemTypeCode, codeContent, 100, false, nil)

	_, err := f.service.Submit(context.Background(), 1, quiz.ID, submitJSON(`{"selected_answers":{"q1":"b"}}`))
	var verr *content.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "selected_answers", verr.Fields[0].Field)

	_, err = f.service.Submit(context.Background(), 1, code.ID, submitJSON(`{"code":"puts 1","language":"ruby"}`))
	require.ErrorIs(t, err, content.ErrUnsupportedLanguage)
	require.Zero(t, f.runner.calls)

	_, err = f.service.Submit(context.Background(), 1, quiz.ID, dto.SubmitRequest{})
	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))

	_, err = f.service.Submit(context.Background(), 1, 999, submitJSON(`{}`))
	require.ErrorIs(t, err, ErrAssignmentNotFound)

	requireNoSave(t, f.submissions)
	require.Empty(t, f.activities.types())
}

func TestPartialMultipleChoiceNeedsConfirmation(t *testing.T) {
	f := newSubmissionFixture(t)
	quiz := f.addAssignment(content.ProblemTypeMultipleChoice, quizContent, 100, false, nil)

	response, err := f.service.Submit(context.Background(), 1, quiz.ID, submitJSON(`{"selected_answers":{"q1":"b"},"confirm_partial":true}`))
	require.NoError(t, err)
	require.Equal(t, 50.0, *response.Grade)
}

func TestUnreachableRunnerLeavesSubmissionUngraded(t *testing.T) {
	f := newSubmissionFixture(t)
	f.runner.err = errors.New("judge unavailable")
	assignment := f.addAssignment(content.ProblemTypeCode, codeContent, 100, true, nil)

	response, err := f.service.Submit(context.Background(), 2, assignment.ID, submitJSON(`{"code":"print(2)","language":"python"}`))
	require.NoError(t, err)
	require.Nil(t, response.Grade)
	require.Nil(t, response.GradedAt)
	require.True(t, response.ManualReview)
	require.Len(t, response.TestResults, 4)
	require.Equal(t, []string{models.ActivityTypeSubmission}, f.activities.types())
}

func TestSubmitFileUpload(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeFileUpload, `{"requirements":["PDF report"],"allowed_extensions":["pdf","txt"]}`, 50, true, nil)

	response, err := f.service.Submit(context.Background(), 5, assignment.ID, dto.SubmitRequest{
		File: &dto.FileUpload{Name: "report.txt", Data: []byte("my report")},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"submissions/" + itoa(assignment.ID) + "/5/report.txt"}, f.storage.paths)

	var stored content.FileSubmission
	require.NoError(t, json.Unmarshal(response.Content, &stored))
	require.Equal(t, "https://files.example.com/submissions/"+itoa(assignment.ID)+"/5/report.txt", stored.FileURL)
	require.Equal(t, int64(9), stored.Size)
	require.Nil(t, response.Grade)

	_, err = f.service.Submit(context.Background(), 6, assignment.ID, submitJSON(`{"file_name":"report.txt"}`))
	require.ErrorIs(t, err, content.ErrInvalidContent)

	_, err = f.service.Submit(context.Background(), 6, assignment.ID, dto.SubmitRequest{
		File: &dto.FileUpload{Name: "report.exe", Data: []byte("MZ")},
	})
	require.ErrorIs(t, err, content.ErrInvalidContent)
}

func TestFileUploadFailureBlocksSubmission(t *testing.T) {
	f := newSubmissionFixture(t)
	f.storage.err = errors.New("quota exceeded")
	assignment := f.addAssignment(content.ProblemTypeFileUpload, `{"requirements":[],"allowed_extensions":["txt"]}`, 50, true, nil)

	_, err := f.service.Submit(context.Background(), 5, assignment.ID, dto.SubmitRequest{
		File: &dto.FileUpload{Name: "notes.txt", Data: []byte("notes")},
	})
	require.ErrorIs(t, err, ErrFileUpload)
	requireNoSave(t, f.submissions)
}

func TestFailedSaveReportsOrphanedUpload(t *testing.T) {
	var logs bytes.Buffer
	f := newLoggedSubmissionFixture(t, zerolog.New(&logs))
	assignment := f.addAssignment(content.ProblemTypeFileUpload, `{"requirements":[],"allowed_extensions":["txt"]}`, 50, true, nil)
	f.submissions.saveErr = errStoreDown

	_, err := f.service.Submit(context.Background(), 5, assignment.ID, dto.SubmitRequest{
		File: &dto.FileUpload{Name: "notes.txt", Data: []byte("notes")},
	})
	require.ErrorIs(t, err, ErrPersistence)

	path := "submissions/" + itoa(assignment.ID) + "/5/notes.txt"
	require.Equal(t, []string{path}, f.storage.paths)
	require.Contains(t, logs.String(), "uploaded file is orphaned")
	require.Contains(t, logs.String(), `"path":"`+path+`"`)
	require.Contains(t, logs.String(), `"file_url":"https://files.example.com/`+path+`"`)
}

func TestPersistenceFailures(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeShortAnswer, `{"question":"Why?"}`, 10, true, nil)

	f.submissions.saveErr = errStoreDown
	_, err := f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"answer":"Because"}`))
	require.ErrorIs(t, err, ErrPersistence)
	require.Empty(t, f.activities.types())

	f.submissions.saveErr = nil
	f.submissions.lookupErr = errStoreDown
	_, err = f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"answer":"Because"}`))
	require.ErrorIs(t, err, ErrPersistence)
}

func TestConcurrentResubmissionConflict(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeShortAnswer, `{"question":"Why?"}`, 10, true, nil)

	_, err := f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"answer":"one"}`))
	require.NoError(t, err)

	stale, err := f.submissions.GetByAssignmentAndStudent(context.Background(), assignment.ID, 3)
	require.NoError(t, err)

	winner := stale
	require.NoError(t, f.submissions.SaveAttempt(context.Background(), &winner, 1))
	require.Equal(t, 2, winner.SubmissionNumber)

	repo := &staleReadRepo{memorySubmissionRepo: f.submissions, stale: stale}
	service := NewSubmissionService(f.assignments, repo, grading.NewEngine(nil, nopLogger()), nil, f.activities, newValidator(t), SubmissionServiceConfig{}, nopLogger())

	_, err = service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"answer":"two"}`))
	require.ErrorIs(t, err, ErrSubmissionConflict)
}

// staleReadRepo returns an outdated attempt, as a second session that read before a
// concurrent write would see it.
type staleReadRepo struct {
	*memorySubmissionRepo
	stale models.Submission
}

func (r *staleReadRepo) GetByAssignmentAndStudent(context.Context, uint, uint) (models.Submission, error) {
	return r.stale, nil
}

func TestActivityFailureDoesNotFailSubmit(t *testing.T) {
	f := newSubmissionFixture(t)
	f.activities.err = ErrActivityLog
	assignment := f.addAssignment(content.ProblemTypeMultipleChoice, quizContent, 100, true, nil)

	response, err := f.service.Submit(context.Background(), 7, assignment.ID, submitJSON(`{"selected_answers":{"q1":"b","q2":"a"}}`))
	require.NoError(t, err)
	require.Equal(t, 100.0, *response.Grade)
	require.Equal(t, 1, f.submissions.saves)
}

func TestEligibilityReportsRemainingAttempts(t *testing.T) {
	f := newSubmissionFixture(t)
	due := f.now.Add(-time.Hour)
	assignment := f.assignments.add(models.Assignment{
		CourseID: 1, Title: "Essay", ProblemType: "essay", Content: rawJSON(`{"topic":"t","requirements":"r"}`),
		PointsPossible: 10, AllowResubmission: true, MaxAttempts: intPtr(2), DueDate: &due,
	})

	before, err := f.service.Eligibility(context.Background(), assignment.ID, 3)
	require.NoError(t, err)
	require.True(t, before.Allowed)
	require.False(t, before.IsResubmission)
	require.Equal(t, 2, *before.AttemptsRemaining)
	require.True(t, before.IsPastDue)

	_, err = f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"text":"late but accepted"}`))
	require.NoError(t, err)

	after, err := f.service.Eligibility(context.Background(), assignment.ID, 3)
	require.NoError(t, err)
	require.True(t, after.Allowed)
	require.True(t, after.IsResubmission)
	require.Equal(t, 1, *after.AttemptsRemaining)
}

func TestGetHidesOtherStudentsSubmissions(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeShortAnswer, `{"question":"Why?"}`, 10, true, nil)
	created, err := f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"answer":"mine"}`))
	require.NoError(t, err)

	own, err := f.service.Get(context.Background(), created.ID, ActivityActor{ID: 3, Role: "student"})
	require.NoError(t, err)
	require.NotNil(t, own.Assignment)

	_, err = f.service.Get(context.Background(), created.ID, ActivityActor{ID: 4, Role: "student"})
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	_, err = f.service.Get(context.Background(), created.ID, ActivityActor{ID: 1, Role: "teacher"})
	require.NoError(t, err)

	mine, err := f.service.GetMine(context.Background(), assignment.ID, 3)
	require.NoError(t, err)
	require.Equal(t, created.ID, mine.ID)

	_, err = f.service.GetMine(context.Background(), assignment.ID, 4)
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	graded := false
	list, err := f.service.List(context.Background(), assignment.ID, dto.SubmissionListRequest{Graded: &graded}, teacherActor)
	require.NoError(t, err)
	require.Equal(t, int64(1), list.Pagination.TotalItems)
}

func TestTeachersOnlySeeSubmissionsForTheirAssignments(t *testing.T) {
	f := newSubmissionFixture(t)
	assignment := f.addAssignment(content.ProblemTypeShortAnswer, `{"question":"Why?"}`, 10, true, nil)
	created, err := f.service.Submit(context.Background(), 3, assignment.ID, submitJSON(`{"answer":"mine"}`))
	require.NoError(t, err)

	foreign := ActivityActor{ID: 999, Role: "teacher"}
	_, err = f.service.Get(context.Background(), created.ID, foreign)
	require.ErrorIs(t, err, ErrAssignmentForbidden)

	_, err = f.service.List(context.Background(), assignment.ID, dto.SubmissionListRequest{}, foreign)
	require.ErrorIs(t, err, ErrAssignmentForbidden)

	admin := ActivityActor{ID: 500, Role: "admin"}
	viewed, err := f.service.Get(context.Background(), created.ID, admin)
	require.NoError(t, err)
	require.Equal(t, created.ID, viewed.ID)

	list, err := f.service.List(context.Background(), assignment.ID, dto.SubmissionListRequest{}, admin)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
