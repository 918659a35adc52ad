// Package grading computes grades for problem types that can be scored at submit time.
package grading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-classroom-api/internal/content"
)

var (
	gradingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "grading",
		Name:      "duration_seconds",
		Help:      "Duration of auto-grading passes",
		Buckets:   prometheus.DefBuckets,
	}, []string{"problem_type"})

	gradingOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "grading",
		Name:      "outcomes_total",
		Help:      "Auto-grading outcomes by problem type",
	}, []string{"problem_type", "outcome"})

	testCaseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "grading",
		Name:      "test_case_errors_total",
		Help:      "Test cases whose execution failed at the infrastructure level",
	}, []string{"language"})
)

// Runner executes one program against one stdin. The returned string is always usable as the
// actual output of the run; a non-nil error marks an infrastructure failure for that run.
type Runner interface {
	Run(ctx context.Context, language, source, stdin string) (string, error)
}

// Outcome is the result of one grading pass.
type Outcome struct {
	// Grade is nil when the submission needs manual grading.
	Grade *float64
	// Score is the percentage of passed test cases for code submissions.
	Score        *float64
	TestResults  []content.TestResult
	ManualReview bool
}

// Graded reports whether the pass produced a grade.
func (o Outcome) Graded() bool {
	return o.Grade != nil
}

// Engine dispatches grading by problem type.
type Engine struct {
	runner Runner
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewEngine builds an engine. A nil runner leaves code submissions ungraded.
func NewEngine(runner Runner, logger zerolog.Logger) *Engine {
	return &Engine{
		runner: runner,
		tracer: otel.Tracer("github.com/noah-isme/gema-classroom-api/internal/grading"),
		logger: logger.With().Str("component", "grading_engine").Logger(),
	}
}

// Grade scores a validated submission. Problem types without deterministic grading return an
// ungraded outcome.
func (e *Engine) Grade(ctx context.Context, assignment content.AssignmentContent, submission content.SubmissionContent, pointsPossible float64) (Outcome, error) {
	if assignment == nil || submission == nil {
		return Outcome{}, errors.New("assignment and submission content are required")
	}
	if assignment.ProblemType() != submission.ProblemType() {
		return Outcome{}, fmt.Errorf("%w: submission type %s does not match %s", content.ErrInvalidContent, submission.ProblemType(), assignment.ProblemType())
	}

	pt := assignment.ProblemType()
	ctx, span := e.tracer.Start(ctx, "grading.engine.grade", trace.WithAttributes(
		attribute.String("grading.problem_type", pt.String()),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		gradingDuration.WithLabelValues(pt.String()).Observe(time.Since(start).Seconds())
	}()

	var outcome Outcome
	switch a := assignment.(type) {
	case *content.MultipleChoiceContent:
		grade := GradeMultipleChoice(a, submission.(*content.MultipleChoiceAnswers), pointsPossible)
		outcome.Grade = &grade
	case *content.CodeContent:
		outcome = e.gradeCode(ctx, a, submission.(*content.CodeSubmission), pointsPossible)
	case *content.ShortAnswerContent, *content.EssayContent, *content.FileUploadContent:
		outcome.ManualReview = true
	default:
		err := fmt.Errorf("%w: %T", content.ErrUnknownProblemType, assignment)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}

	label := "graded"
	if !outcome.Graded() {
		label = "ungraded"
	}
	gradingOutcomes.WithLabelValues(pt.String(), label).Inc()
	span.SetAttributes(attribute.Bool("grading.graded", outcome.Graded()))
	return outcome, nil
}

func (e *Engine) gradeCode(ctx context.Context, a *content.CodeContent, s *content.CodeSubmission, pointsPossible float64) Outcome {
	if len(a.TestCases) == 0 {
		return Outcome{ManualReview: true}
	}
	if e.runner == nil {
		e.logger.Warn().Msg("no code runner configured, leaving submission for manual grading")
		return Outcome{ManualReview: true}
	}

	result := GradeCode(ctx, e.runner, s, a.TestCases, pointsPossible)
	if result.InfrastructureFailures == result.Total {
		e.logger.Warn().
			Int("test_cases", result.Total).
			Str("language", s.Language).
			Msg("code runner unreachable for every test case, leaving submission for manual grading")
		return Outcome{TestResults: result.TestResults, ManualReview: true}
	}

	grade := result.Grade
	score := result.Score
	return Outcome{Grade: &grade, Score: &score, TestResults: result.TestResults}
}

// GradeMultipleChoice sums the points of correctly answered questions and rounds to the nearest
// integer. Questions without explicit points share points possible equally. Zero questions score 0.
func GradeMultipleChoice(quiz *content.MultipleChoiceContent, answers *content.MultipleChoiceAnswers, pointsPossible float64) float64 {
	if quiz == nil || len(quiz.Questions) == 0 {
		return 0
	}

	share := pointsPossible / float64(len(quiz.Questions))
	var selected map[string]string
	if answers != nil {
		selected = answers.SelectedAnswers
	}

	total := 0.0
	for _, question := range quiz.Questions {
		correct, ok := question.CorrectOptionID()
		if !ok || selected[question.ID] != correct {
			continue
		}
		if question.Points != nil {
			total += *question.Points
		} else {
			total += share
		}
	}

	return clamp(math.Round(total), 0, math.Max(pointsPossible, 0))
}

// CodeResult is the per-test breakdown of a code grading pass.
type CodeResult struct {
	Passed                 int
	Total                  int
	InfrastructureFailures int
	// Score is round(passed / total * 100).
	Score float64
	// Grade is the pass ratio scaled to points possible and rounded.
	Grade       float64
	TestResults []content.TestResult
}

// GradeCode runs every test case independently. A failing run marks only its own test case as
// failed. Callers must not pass an empty test list.
func GradeCode(ctx context.Context, runner Runner, submission *content.CodeSubmission, tests []content.TestCase, pointsPossible float64) CodeResult {
	result := CodeResult{
		Total:       len(tests),
		TestResults: make([]content.TestResult, 0, len(tests)),
	}

	language := content.NormalizeLanguage(submission.Language)
	for i, test := range tests {
		number := i + 1
		if err := ctx.Err(); err != nil {
			result.InfrastructureFailures++
			result.TestResults = append(result.TestResults, content.TestResult{
				Message: fmt.Sprintf("Test case %d failed: execution cancelled (%v)", number, err),
			})
			continue
		}

		actual, err := runner.Run(ctx, language, submission.Code, test.Input)
		if err != nil {
			result.InfrastructureFailures++
			testCaseFailures.WithLabelValues(language).Inc()
			result.TestResults = append(result.TestResults, content.TestResult{
				Message: fmt.Sprintf("Test case %d failed: %s", number, failureText(actual, err)),
			})
			continue
		}

		expected := strings.TrimSpace(test.ExpectedOutput)
		got := strings.TrimSpace(actual)
		if got == expected {
			result.Passed++
			result.TestResults = append(result.TestResults, content.TestResult{
				Message: fmt.Sprintf("Test case %d passed", number),
				Passed:  true,
			})
			continue
		}
		result.TestResults = append(result.TestResults, content.TestResult{
			Message: fmt.Sprintf("Test case %d failed: expected %q, got %q", number, expected, got),
		})
	}

	if result.Total > 0 {
		ratio := float64(result.Passed) / float64(result.Total)
		result.Score = math.Round(ratio * 100)
		result.Grade = clamp(math.Round(ratio*pointsPossible), 0, math.Max(pointsPossible, 0))
	}
	return result
}

func failureText(output string, err error) string {
	if trimmed := strings.TrimSpace(output); trimmed != "" {
		return trimmed
	}
	return "Error: " + err.Error()
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
