package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NoOutput is returned when a program printed nothing or was killed for running too long.
const NoOutput = "No output"

const (
	stdinFile = "stdin.txt"
	// compileFailedMarker is created in the workspace by the run script when the compile step fails.
	compileFailedMarker = ".compile-failed"
)

// ErrUnsupportedLanguage is returned for languages without a sandbox image.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// LanguageSpec tells the sandbox how to build and run one language.
type LanguageSpec struct {
	Image    string
	FileName string
	// Compile is optional. Its failure is reported as a compilation error.
	Compile string
	Run     string
	Env     []string
}

// DefaultLanguages returns the images used when no table is configured.
func DefaultLanguages() map[string]LanguageSpec {
	return map[string]LanguageSpec{
		"python":     {Image: "python:3.12-alpine", FileName: "main.py", Run: "python3 main.py"},
		"javascript": {Image: "node:20-alpine", FileName: "main.js", Run: "node main.js"},
		"java":       {Image: "eclipse-temurin:21-jdk-alpine", FileName: "Main.java", Compile: "javac -d /tmp/out Main.java", Run: "java -cp /tmp/out Main"},
		"c":          {Image: "gcc:13", FileName: "main.c", Compile: "gcc -O2 -o /tmp/main main.c", Run: "/tmp/main"},
		"cpp":        {Image: "gcc:13", FileName: "main.cpp", Compile: "g++ -O2 -o /tmp/main main.cpp", Run: "/tmp/main"},
		"go":         {Image: "golang:1.24-alpine", FileName: "main.go", Compile: "go build -o /tmp/main main.go", Run: "/tmp/main", Env: []string{"GOCACHE=/tmp/gocache", "GOPATH=/tmp/gopath"}},
		"ruby":       {Image: "ruby:3.3-alpine", FileName: "main.rb", Run: "ruby main.rb"},
		"php":        {Image: "php:8.3-cli-alpine", FileName: "main.php", Run: "php main.php"},
		"rust":       {Image: "rust:1.80-slim", FileName: "main.rs", Compile: "rustc -O -o /tmp/main main.rs", Run: "/tmp/main"},
	}
}

// SandboxConfig groups sandbox configuration values.
type SandboxConfig struct {
	// WorkspaceRoot must be a path the Docker daemon can bind mount.
	WorkspaceRoot string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	Languages     map[string]LanguageSpec
	Logger        zerolog.Logger
}

// Sandbox runs one program against one stdin inside a container and reports the output using
// the same conventions as the remote judge.
type Sandbox struct {
	executor  Executor
	cfg       SandboxConfig
	languages map[string]LanguageSpec
	logger    zerolog.Logger
}

// NewSandbox builds a sandbox on top of an executor.
func NewSandbox(executor Executor, cfg SandboxConfig) (*Sandbox, error) {
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MemoryLimitMB <= 0 {
		cfg.MemoryLimitMB = 256
	}

	source := cfg.Languages
	if len(source) == 0 {
		source = DefaultLanguages()
	}
	languages := make(map[string]LanguageSpec, len(source))
	for name, spec := range source {
		languages[strings.ToLower(strings.TrimSpace(name))] = spec
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Sandbox{
		executor:  executor,
		cfg:       cfg,
		languages: languages,
		logger:    logger.With().Str("component", "docker_sandbox").Logger(),
	}, nil
}

// Supports reports whether the language has a sandbox image.
func (s *Sandbox) Supports(language string) bool {
	_, ok := s.languages[strings.ToLower(strings.TrimSpace(language))]
	return ok
}

// Languages returns the supported identifiers in sorted order.
func (s *Sandbox) Languages() []string {
	names := make([]string, 0, len(s.languages))
	for name := range s.languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes source with stdin. The returned string is always usable as actual output; a
// non-nil error means the sandbox itself failed.
func (s *Sandbox) Run(ctx context.Context, language, source, stdin string) (string, error) {
	output, err := s.run(ctx, language, source, stdin)
	if err != nil {
		s.logger.Warn().Err(err).Str("language", language).Msg("sandbox run failed")
		return "Error: " + err.Error(), err
	}
	return output, nil
}

func (s *Sandbox) run(ctx context.Context, language, source, stdin string) (string, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	spec, ok := s.languages[language]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	workspace, err := os.MkdirTemp(s.cfg.WorkspaceRoot, "submission-*")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			s.logger.Error().Err(err).Str("workspace", workspace).Msg("failed to clean workspace")
		}
	}()

	if err := os.Chmod(workspace, 0o755); err != nil {
		return "", fmt.Errorf("prepare workspace: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, spec.FileName), []byte(source), 0o644); err != nil {
		return "", fmt.Errorf("write source: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, stdinFile), []byte(stdin), 0o644); err != nil {
		return "", fmt.Errorf("write stdin: %w", err)
	}

	result, err := s.executor.Run(ctx, ExecutionRequest{
		Image:         spec.Image,
		Cmd:           []string{"sh", "-c", runScript(spec)},
		Env:           spec.Env,
		Timeout:       s.cfg.Timeout,
		Workspace:     workspace,
		MemoryLimitMB: s.cfg.MemoryLimitMB,
		CPUShares:     s.cfg.CPUShares,
	})
	if err != nil {
		return "", err
	}

	compileFailed := false
	if spec.Compile != "" {
		_, statErr := os.Stat(filepath.Join(workspace, compileFailedMarker))
		compileFailed = statErr == nil
	}

	return interpret(result, compileFailed), nil
}

func runScript(spec LanguageSpec) string {
	run := fmt.Sprintf("%s < %s", spec.Run, stdinFile)
	if spec.Compile == "" {
		return run
	}
	return fmt.Sprintf("%s 2>/tmp/compile.log || { cat /tmp/compile.log >&2; touch %s; exit 1; }; %s",
		spec.Compile, compileFailedMarker, run)
}

func interpret(result ExecutionResult, compileFailed bool) string {
	if result.TimedOut {
		return NoOutput
	}
	if compileFailed && strings.TrimSpace(result.Stderr) != "" {
		return "Compilation Error: " + result.Stderr
	}
	if strings.TrimSpace(result.Stderr) != "" {
		return "Runtime Error: " + result.Stderr
	}
	if result.Stdout == "" {
		return NoOutput
	}
	return result.Stdout
}
