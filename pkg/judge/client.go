// Package judge talks to a Judge0-compatible code execution service.
package judge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// NoOutput is returned when a program printed nothing or never reached a terminal state.
const NoOutput = "No output"

const (
	compilationPrefix = "Compilation Error: "
	runtimePrefix     = "Runtime Error: "
	errorPrefix       = "Error: "

	// Judge0 status ids 1 (In Queue) and 2 (Processing) are the only non-terminal states.
	statusProcessing = 2
)

var (
	// ErrUnsupportedLanguage is returned for languages missing from the language table.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrRateLimited is returned once rate-limit retries are exhausted.
	ErrRateLimited = errors.New("code execution service rate limit exceeded")
	// ErrUnavailable wraps transport and protocol failures.
	ErrUnavailable = errors.New("code execution service unavailable")
)

var (
	judgeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "judge",
		Name:      "requests_total",
		Help:      "HTTP requests sent to the code execution service",
	}, []string{"operation", "status"})

	judgeRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "judge",
		Name:      "rate_limited_total",
		Help:      "Responses from the code execution service that signalled a rate limit",
	})

	judgeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "judge",
		Name:      "failures_total",
		Help:      "Executions that could not be completed",
	}, []string{"language", "reason"})

	judgeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "judge",
		Name:      "execution_duration_seconds",
		Help:      "End to end duration of remote executions including polling",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"language"})
)

// DefaultLanguages maps language identifiers to Judge0 language ids.
func DefaultLanguages() map[string]int {
	return map[string]int{
		"python":     71,
		"javascript": 63,
		"java":       62,
		"cpp":        54,
		"c":          50,
		"csharp":     51,
		"ruby":       72,
		"php":        68,
		"swift":      83,
		"rust":       73,
		"go":         60,
		"kotlin":     78,
	}
}

// Config groups client configuration values. Zero values fall back to defaults.
type Config struct {
	BaseURL           string
	APIKey            string
	APIHost           string
	Languages         map[string]int
	PollInterval      time.Duration
	PollAttempts      int
	RetryBackoff      time.Duration
	RetryCount        int
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            zerolog.Logger
}

// Client executes programs on a remote judge.
type Client struct {
	cfg       Config
	baseURL   *url.URL
	languages map[string]int
	http      *http.Client
	limiter   *rate.Limiter
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewClient validates the configuration and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("judge base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse judge base url: %w", err)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 10
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	} else if cfg.RetryCount == 0 {
		cfg.RetryCount = 3
	}

	languages := make(map[string]int)
	source := cfg.Languages
	if len(source) == 0 {
		source = DefaultLanguages()
	}
	for name, id := range source {
		languages[normalizeLanguage(name)] = id
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Client{
		cfg:       cfg,
		baseURL:   base,
		languages: languages,
		http:      httpClient,
		limiter:   rate.NewLimiter(limit, burst),
		tracer:    otel.Tracer("github.com/noah-isme/gema-classroom-api/pkg/judge"),
		logger:    logger.With().Str("component", "judge_client").Logger(),
	}, nil
}

// Supports reports whether the language is in the language table.
func (c *Client) Supports(language string) bool {
	_, ok := c.languages[normalizeLanguage(language)]
	return ok
}

// Languages returns the supported language identifiers in sorted order.
func (c *Client) Languages() []string {
	names := make([]string, 0, len(c.languages))
	for name := range c.languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type submissionRequest struct {
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin"`
}

type submissionToken struct {
	Token string `json:"token"`
}

type submissionStatus struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type submissionResult struct {
	Stdout        *string          `json:"stdout"`
	Stderr        *string          `json:"stderr"`
	CompileOutput *string          `json:"compile_output"`
	Status        submissionStatus `json:"status"`
}

// Execute runs source with stdin and returns the decoded output. Compilation and runtime
// failures are valid outputs, not errors; errors are reserved for unsupported languages and
// failures to talk to the service.
func (c *Client) Execute(ctx context.Context, language, source, stdin string) (string, error) {
	language = normalizeLanguage(language)
	languageID, ok := c.languages[language]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	ctx, span := c.tracer.Start(ctx, "judge.client.execute", trace.WithAttributes(
		attribute.String("judge.language", language),
		attribute.Int("judge.language_id", languageID),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		judgeDuration.WithLabelValues(language).Observe(time.Since(start).Seconds())
	}()

	output, err := c.execute(ctx, languageID, source, stdin)
	if err != nil {
		judgeFailures.WithLabelValues(language, failureReason(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return output, nil
}

// Run is Execute for the grading engine: the returned string is always usable as actual output,
// and failures come back as "Error: <description>" alongside the error.
func (c *Client) Run(ctx context.Context, language, source, stdin string) (string, error) {
	output, err := c.Execute(ctx, language, source, stdin)
	if err != nil {
		c.logger.Warn().Err(err).Str("language", language).Msg("code execution failed")
		return errorPrefix + err.Error(), err
	}
	return output, nil
}

func (c *Client) execute(ctx context.Context, languageID int, source, stdin string) (string, error) {
	payload, err := json.Marshal(submissionRequest{
		LanguageID: languageID,
		SourceCode: base64.StdEncoding.EncodeToString([]byte(source)),
		Stdin:      base64.StdEncoding.EncodeToString([]byte(stdin)),
	})
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	createURL := c.endpoint("submissions", url.Values{
		"base64_encoded": {"true"},
		"wait":           {"false"},
	})
	var token submissionToken
	if err := c.do(ctx, "create", http.MethodPost, createURL, payload, &token); err != nil {
		return "", err
	}
	if token.Token == "" {
		return "", fmt.Errorf("%w: empty submission token", ErrUnavailable)
	}

	resultURL := c.endpoint("submissions/"+url.PathEscape(token.Token), url.Values{
		"base64_encoded": {"true"},
		"fields":         {"stdout,stderr,compile_output,status"},
	})

	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		if err := sleepContext(ctx, c.cfg.PollInterval); err != nil {
			return "", err
		}

		var result submissionResult
		if err := c.do(ctx, "poll", http.MethodGet, resultURL, nil, &result); err != nil {
			return "", err
		}
		if result.Status.ID > statusProcessing {
			c.logger.Debug().
				Str("token", token.Token).
				Int("status_id", result.Status.ID).
				Int("attempt", attempt).
				Msg("execution finished")
			return result.output()
		}
	}

	c.logger.Warn().Str("token", token.Token).Int("attempts", c.cfg.PollAttempts).Msg("execution did not finish in time")
	return NoOutput, nil
}

// do sends one request, retrying the same request after a fixed backoff while the service
// answers 429 or a 5xx status. The last 5xx answer is surfaced as ErrUnavailable.
func (c *Client) do(ctx context.Context, operation, method, target string, body []byte, out interface{}) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build %s request: %w", operation, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("X-RapidAPI-Key", c.cfg.APIKey)
		}
		if c.cfg.APIHost != "" {
			req.Header.Set("X-RapidAPI-Host", c.cfg.APIHost)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			judgeRequests.WithLabelValues(operation, "error").Inc()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %s request: %w", ErrUnavailable, operation, err)
		}
		judgeRequests.WithLabelValues(operation, fmt.Sprint(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests {
			drain(resp.Body)
			judgeRateLimited.Inc()
			if attempt >= c.cfg.RetryCount {
				return ErrRateLimited
			}
			c.logger.Warn().Str("operation", operation).Int("retry", attempt+1).Dur("backoff", c.cfg.RetryBackoff).Msg("rate limited by code execution service")
			if err := sleepContext(ctx, c.cfg.RetryBackoff); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < c.cfg.RetryCount {
			drain(resp.Body)
			c.logger.Warn().Str("operation", operation).Int("status", resp.StatusCode).Int("retry", attempt+1).Dur("backoff", c.cfg.RetryBackoff).Msg("code execution service failed, retrying")
			if err := sleepContext(ctx, c.cfg.RetryBackoff); err != nil {
				return err
			}
			continue
		}

		if err := decodeResponse(resp, out); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%s request: %w", operation, err)
		}
		return nil
	}
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	u.RawQuery = query.Encode()
	return u.String()
}

// output applies the precedence compile output, then stderr, then stdout.
func (r submissionResult) output() (string, error) {
	compileOutput, err := decodeField(r.CompileOutput)
	if err != nil {
		return "", fmt.Errorf("%w: decode compile_output: %w", ErrUnavailable, err)
	}
	if strings.TrimSpace(compileOutput) != "" {
		return compilationPrefix + compileOutput, nil
	}

	stderr, err := decodeField(r.Stderr)
	if err != nil {
		return "", fmt.Errorf("%w: decode stderr: %w", ErrUnavailable, err)
	}
	if strings.TrimSpace(stderr) != "" {
		return runtimePrefix + stderr, nil
	}

	stdout, err := decodeField(r.Stdout)
	if err != nil {
		return "", fmt.Errorf("%w: decode stdout: %w", ErrUnavailable, err)
	}
	if stdout == "" {
		return NoOutput, nil
	}
	return stdout, nil
}

func decodeField(value *string) (string, error) {
	if value == nil {
		return "", nil
	}
	// Judge0 wraps base64 output at 60 columns.
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, *value)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unavailable"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

func normalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}
