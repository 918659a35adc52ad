package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-classroom-api/internal/dto"
	"github.com/noah-isme/gema-classroom-api/internal/models"
	"github.com/noah-isme/gema-classroom-api/internal/repository"
)

func newGradingFixture(t *testing.T) (*gradingService, *memorySubmissionRepo, *recordingActivities, models.Submission) {
	t.Helper()
	assignments := newMemoryAssignmentRepo()
	submissions := newMemorySubmissionRepo(assignments)
	activities := &recordingActivities{}

	assignment := assignments.add(models.Assignment{
		CourseID:       2,
		Title:          "Essay",
		ProblemType:    "essay",
		Content:        rawJSON(`{"topic":"Recursion"}`),
		PointsPossible: 20,
		CreatedBy:      teacherActor.ID,
	})
	submission := models.Submission{
		AssignmentID:      assignment.ID,
		StudentID:         30,
		SubmissionContent: rawJSON(`{"text":"draft"}`),
		SubmittedAt:       time.Now().UTC(),
	}
	require.NoError(t, submissions.SaveAttempt(context.Background(), &submission, 0))

	svc := NewGradingService(submissions, activities, newValidator(t), nopLogger()).(*gradingService)
	svc.now = func() time.Time { return time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC) }
	return svc, submissions, activities, submission
}

func TestGradingServiceRecordsGradeAndFeedback(t *testing.T) {
	svc, _, activities, submission := newGradingFixture(t)

	feedback := "<p>Good structure</p>"
	response, err := svc.Grade(context.Background(), submission.ID, dto.GradeRequest{
		Grade:    floatPtr(18),
		Feedback: &feedback,
	}, teacherActor)
	require.NoError(t, err)

	require.Equal(t, 18.0, *response.Grade)
	require.Equal(t, teacherActor.ID, *response.GradedBy)
	require.Equal(t, "Good structure", *response.Feedback)
	require.Equal(t, time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC), *response.GradedAt)
	require.NotNil(t, response.Assignment)
	require.Equal(t, []string{models.ActivityTypeGradeReceived, models.ActivityTypeFeedbackReceived}, activities.types())
	require.Equal(t, uint(30), activities.entries[0].UserID)
}

func TestGradingServiceRegradeKeepsFirstGradedAt(t *testing.T) {
	svc, repo, activities, submission := newGradingFixture(t)

	first, err := svc.Grade(context.Background(), submission.ID, dto.GradeRequest{Grade: floatPtr(10)}, teacherActor)
	require.NoError(t, err)
	firstGradedAt := *first.GradedAt

	svc.now = func() time.Time { return firstGradedAt.Add(time.Hour) }
	second, err := svc.Grade(context.Background(), submission.ID, dto.GradeRequest{Grade: floatPtr(12)}, ActivityActor{ID: 5, Role: "admin"})
	require.NoError(t, err)
	require.Equal(t, 12.0, *second.Grade)
	require.Equal(t, uint(5), *second.GradedBy)
	require.Equal(t, firstGradedAt, *second.GradedAt)
	require.Nil(t, second.Feedback)

	stored, err := repo.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, firstGradedAt, *stored.GradedAt)
	require.Equal(t, []string{models.ActivityTypeGradeReceived, models.ActivityTypeGradeReceived}, activities.types())
}

func TestGradingServiceRejectsInvalidGrades(t *testing.T) {
	svc, repo, activities, submission := newGradingFixture(t)

	_, err := svc.Grade(context.Background(), submission.ID, dto.GradeRequest{Grade: floatPtr(25)}, teacherActor)
	require.ErrorIs(t, err, ErrScoreExceedsMax)

	_, err = svc.Grade(context.Background(), submission.ID, dto.GradeRequest{Grade: floatPtr(-1)}, teacherActor)
	var validationErrors validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrors)

	_, err = svc.Grade(context.Background(), submission.ID, dto.GradeRequest{}, teacherActor)
	require.ErrorAs(t, err, &validationErrors)

	_, err = svc.Grade(context.Background(), 999, dto.GradeRequest{Grade: floatPtr(5)}, teacherActor)
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	stored, err := repo.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Nil(t, stored.Grade)
	require.Empty(t, activities.types())
}

func TestGradingServiceRefusesTeacherOfAnotherAssignment(t *testing.T) {
	svc, repo, activities, submission := newGradingFixture(t)

	_, err := svc.Grade(context.Background(), submission.ID, dto.GradeRequest{Grade: floatPtr(15)}, ActivityActor{ID: 999, Role: "teacher"})
	require.ErrorIs(t, err, ErrAssignmentForbidden)

	_, err = svc.Grade(context.Background(), submission.ID, dto.GradeRequest{Grade: floatPtr(15)}, ActivityActor{ID: submission.StudentID, Role: "student"})
	require.ErrorIs(t, err, ErrAssignmentForbidden)

	stored, err := repo.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Nil(t, stored.Grade)
	require.Empty(t, activities.types())
}

func TestGradingServiceConflictsWithConcurrentResubmission(t *testing.T) {
	svc, repo, _, submission := newGradingFixture(t)

	resubmitted := submission
	resubmitted.Assignment = nil
	require.NoError(t, repo.SaveAttempt(context.Background(), &resubmitted, 1))

	stale := &staleGetRepo{memorySubmissionRepo: repo, stale: submission}
	svc.repo = stale

	_, err := svc.Grade(context.Background(), submission.ID, dto.GradeRequest{Grade: floatPtr(5)}, teacherActor)
	require.ErrorIs(t, err, ErrSubmissionConflict)
}

func TestGradingServicePersistenceFailure(t *testing.T) {
	svc, repo, _, submission := newGradingFixture(t)
	svc.repo = &failingUpdateRepo{memorySubmissionRepo: repo}

	_, err := svc.Grade(context.Background(), submission.ID, dto.GradeRequest{Grade: floatPtr(5)}, teacherActor)
	require.ErrorIs(t, err, ErrPersistence)
}

// staleGetRepo serves a submission read before a concurrent resubmission replaced it.
type staleGetRepo struct {
	*memorySubmissionRepo
	stale models.Submission
}

func (r *staleGetRepo) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	submission := r.stale
	current, err := r.memorySubmissionRepo.GetByID(ctx, id)
	if err != nil {
		return models.Submission{}, err
	}
	submission.Assignment = current.Assignment
	return submission, nil
}

type failingUpdateRepo struct {
	*memorySubmissionRepo
}

func (r *failingUpdateRepo) UpdateGrade(context.Context, uint, int, repository.GradeUpdate) error {
	return errStoreDown
}
