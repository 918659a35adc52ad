// Package docker runs submitted programs inside throwaway containers.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	sandboxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "run_duration_seconds",
		Help:      "Duration of sandboxed container runs",
		Buckets:   prometheus.DefBuckets,
	}, []string{"image"})

	sandboxTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "timeouts_total",
		Help:      "Sandboxed runs killed after exceeding their time limit",
	}, []string{"image"})

	sandboxFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "failures_total",
		Help:      "Sandboxed runs that failed before producing a result",
	}, []string{"image", "stage"})
)

// Executor runs one command in an isolated container.
type Executor interface {
	Run(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// ExecutionRequest describes one container run. Workspace is bind mounted at the working dir.
type ExecutionRequest struct {
	Image         string
	Cmd           []string
	Env           []string
	Timeout       time.Duration
	Workspace     string
	MemoryLimitMB int64
	CPUShares     int64
}

// ExecutionResult is what the container printed and how it exited.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Config groups executor configuration values.
type Config struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	WorkingDir    string
	Logger        zerolog.Logger
}

// DockerExecutor runs requests against a Docker daemon. Containers never get a network.
type DockerExecutor struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewDockerExecutor connects to the daemon at cfg.Host, or the environment default.
func NewDockerExecutor(cfg Config) (*DockerExecutor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "/workspace"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &DockerExecutor{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-classroom-api/pkg/docker"),
		logger: logger.With().Str("component", "docker_executor").Logger(),
	}, nil
}

// Run creates, starts and waits for a container, then collects its output. A run that exceeds
// its timeout is killed and reported with TimedOut set and no error.
func (e *DockerExecutor) Run(parent context.Context, req ExecutionRequest) (ExecutionResult, error) {
	if req.Image == "" {
		return ExecutionResult{}, errors.New("image is required")
	}

	ctx, span := e.tracer.Start(parent, "docker.executor.run", trace.WithAttributes(
		attribute.String("docker.image", req.Image),
	))
	defer span.End()

	fail := func(stage string, err error) (ExecutionResult, error) {
		sandboxFailures.WithLabelValues(req.Image, stage).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExecutionResult{}, fmt.Errorf("container %s: %w", stage, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containerID, err := e.create(runCtx, req)
	if err != nil {
		return fail("create", err)
	}
	defer e.remove(containerID)

	start := time.Now()
	if err := e.client.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return fail("start", err)
	}

	result := ExecutionResult{}
	exitCode, waitErr := e.wait(runCtx, containerID)
	result.Duration = time.Since(start)
	sandboxDuration.WithLabelValues(req.Image).Observe(result.Duration.Seconds())

	switch {
	case waitErr == nil:
		result.ExitCode = exitCode
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		sandboxTimeouts.WithLabelValues(req.Image).Inc()
		span.SetStatus(codes.Error, "execution timed out")
		e.kill(containerID)
	default:
		return fail("wait", waitErr)
	}

	stdout, stderr, err := e.logs(ctx, containerID)
	if err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to read container logs")
	}
	result.Stdout = stdout
	result.Stderr = stderr

	span.SetAttributes(
		attribute.Int("docker.exit_code", result.ExitCode),
		attribute.Bool("docker.timed_out", result.TimedOut),
	)
	return result, nil
}

func (e *DockerExecutor) create(ctx context.Context, req ExecutionRequest) (string, error) {
	memory := req.MemoryLimitMB
	if memory <= 0 {
		memory = e.cfg.MemoryLimitMB
	}
	cpuShares := req.CPUShares
	if cpuShares <= 0 {
		cpuShares = e.cfg.CPUShares
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    memory * 1024 * 1024,
			CPUShares: cpuShares,
		},
	}
	if req.Workspace != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: req.Workspace,
			Target: e.cfg.WorkingDir,
		}}
	}

	resp, err := e.client.ContainerCreate(ctx, &container.Config{
		Image:           req.Image,
		Cmd:             req.Cmd,
		Env:             req.Env,
		WorkingDir:      e.cfg.WorkingDir,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *DockerExecutor) wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, err
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return 0, errors.New(status.Error.Message)
		}
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *DockerExecutor) logs(ctx context.Context, containerID string) (string, string, error) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	reader, err := e.client.ContainerLogs(logCtx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer reader.Close()
	return splitDockerLogs(reader)
}

func (e *DockerExecutor) kill(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.client.ContainerKill(ctx, containerID, "KILL"); err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
	}
}

func (e *DockerExecutor) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
	}
}

func splitDockerLogs(reader io.Reader) (string, string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return stdoutBuf.String(), stderrBuf.String(), err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// Close releases the daemon connection.
func (e *DockerExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
