package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-classroom-api/internal/models"
	"github.com/noah-isme/gema-classroom-api/internal/repository"
)

type memoryAssignmentRepo struct {
	assignments map[uint]models.Assignment
	nextID      uint
}

func newMemoryAssignmentRepo() *memoryAssignmentRepo {
	return &memoryAssignmentRepo{assignments: make(map[uint]models.Assignment), nextID: 1}
}

func (m *memoryAssignmentRepo) List(_ context.Context, filter repository.AssignmentFilter) ([]models.Assignment, int64, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	filtered := make([]models.Assignment, 0, len(m.assignments))
	for _, assignment := range m.assignments {
		if filter.CourseID != nil && assignment.CourseID != *filter.CourseID {
			continue
		}
		if filter.ProblemType != "" && assignment.ProblemType != filter.ProblemType {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(assignment.Title), search) {
			continue
		}
		filtered = append(filtered, assignment)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	return filtered, int64(len(filtered)), nil
}

func (m *memoryAssignmentRepo) GetByID(_ context.Context, id uint) (models.Assignment, error) {
	assignment, ok := m.assignments[id]
	if !ok {
		return models.Assignment{}, gorm.ErrRecordNotFound
	}
	return assignment, nil
}

func (m *memoryAssignmentRepo) Create(_ context.Context, assignment *models.Assignment) error {
	assignment.ID = m.nextID
	assignment.CreatedAt = time.Now()
	assignment.UpdatedAt = assignment.CreatedAt
	m.assignments[m.nextID] = *assignment
	m.nextID++
	return nil
}

func (m *memoryAssignmentRepo) Update(_ context.Context, assignment *models.Assignment) error {
	if _, ok := m.assignments[assignment.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	assignment.UpdatedAt = time.Now()
	m.assignments[assignment.ID] = *assignment
	return nil
}

func (m *memoryAssignmentRepo) Delete(_ context.Context, id uint) error {
	if _, ok := m.assignments[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.assignments, id)
	return nil
}

func (m *memoryAssignmentRepo) add(assignment models.Assignment) models.Assignment {
	_ = m.Create(context.Background(), &assignment)
	return assignment
}

// memorySubmissionRepo mirrors the compare-and-swap semantics of the gorm repository.
type memorySubmissionRepo struct {
	mu          sync.Mutex
	submissions map[uint]models.Submission
	assignments *memoryAssignmentRepo
	nextID      uint
	saveErr     error
	lookupErr   error
	saves       int
}

func newMemorySubmissionRepo(assignments *memoryAssignmentRepo) *memorySubmissionRepo {
	return &memorySubmissionRepo{submissions: make(map[uint]models.Submission), assignments: assignments, nextID: 1}
}

func (m *memorySubmissionRepo) List(_ context.Context, filter repository.SubmissionFilter) ([]models.Submission, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]models.Submission, 0)
	for _, submission := range m.submissions {
		if filter.AssignmentID != nil && submission.AssignmentID != *filter.AssignmentID {
			continue
		}
		if filter.Graded != nil && submission.IsGraded() != *filter.Graded {
			continue
		}
		items = append(items, submission)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, int64(len(items)), nil
}

func (m *memorySubmissionRepo) GetByID(_ context.Context, id uint) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	submission, ok := m.submissions[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	if assignment, ok := m.assignments.assignments[submission.AssignmentID]; ok {
		submission.Assignment = &assignment
	}
	return submission, nil
}

func (m *memorySubmissionRepo) GetByAssignmentAndStudent(_ context.Context, assignmentID, studentID uint) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return models.Submission{}, m.lookupErr
	}
	for _, submission := range m.submissions {
		if submission.AssignmentID == assignmentID && submission.StudentID == studentID {
			return submission, nil
		}
	}
	return models.Submission{}, gorm.ErrRecordNotFound
}

func (m *memorySubmissionRepo) SaveAttempt(_ context.Context, submission *models.Submission, previousNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}

	if previousNumber <= 0 {
		for _, existing := range m.submissions {
			if existing.AssignmentID == submission.AssignmentID && existing.StudentID == submission.StudentID {
				return repository.ErrSubmissionConflict
			}
		}
		submission.ID = m.nextID
		submission.SubmissionNumber = 1
		m.nextID++
	} else {
		existing, ok := m.submissions[submission.ID]
		if !ok || existing.SubmissionNumber != previousNumber {
			return repository.ErrSubmissionConflict
		}
		submission.SubmissionNumber = previousNumber + 1
	}

	m.saves++
	stored := *submission
	stored.Assignment = nil
	m.submissions[submission.ID] = stored
	return nil
}

func (m *memorySubmissionRepo) UpdateGrade(_ context.Context, id uint, submissionNumber int, update repository.GradeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.submissions[id]
	if !ok || existing.SubmissionNumber != submissionNumber {
		return repository.ErrSubmissionConflict
	}
	grade := update.Grade
	gradedBy := update.GradedBy
	existing.Grade = &grade
	existing.GradedBy = &gradedBy
	existing.Feedback = update.Feedback
	if update.GradedAt != nil {
		existing.GradedAt = update.GradedAt
	}
	m.submissions[id] = existing
	return nil
}

type recordingActivities struct {
	mu      sync.Mutex
	entries []ActivityEntry
	err     error
}

func (r *recordingActivities) Record(_ context.Context, entry ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingActivities) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		kinds = append(kinds, entry.Type)
	}
	return kinds
}

type stubStorage struct {
	paths []string
	err   error
}

func (s *stubStorage) Upload(_ context.Context, path string, reader io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if _, err := io.ReadAll(reader); err != nil {
		return "", err
	}
	s.paths = append(s.paths, path)
	return "https://files.example.com/" + path, nil
}

// stubRunner answers with a fixed output per stdin.
type stubRunner struct {
	outputs map[string]string
	err     error
	calls   int
}

func (r *stubRunner) Run(_ context.Context, _, _, stdin string) (string, error) {
	r.calls++
	if r.err != nil {
		return "Error: " + r.err.Error(), r.err
	}
	return r.outputs[stdin], nil
}

var errStoreDown = errors.New("connection refused")

func newValidator(t *testing.T) *validator.Validate {
	t.Helper()
	return validator.New()
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func rawJSON(value string) datatypes.JSON { return datatypes.JSON(value) }

func requireNoSave(t *testing.T, repo *memorySubmissionRepo) {
	t.Helper()
	require.Equal(t, 0, repo.saves)
}
