package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Execution backends for code grading.
const (
	ExecutionBackendJudge  = "judge"
	ExecutionBackendDocker = "docker"
	ExecutionBackendNone   = "none"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	NATSURL          string
	RealtimeChannel  string
	JWTSecret        string
	CORSAllowOrigins string

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string

	ActivityCacheTTL       time.Duration
	SubmitRatePerMinute    int
	MaxUploadSizeMB        int
	ExecutionBackend       string
	JudgeBaseURL           string
	JudgeAPIKey            string
	JudgeAPIHost           string
	JudgeLanguages         map[string]int
	JudgePollInterval      time.Duration
	JudgePollAttempts      int
	JudgeRetryBackoff      time.Duration
	JudgeRetryCount        int
	JudgeRequestsPerSecond float64

	DockerHost       string
	SandboxWorkspace string
	ExecutionTimeout time.Duration
	CodeRunMemoryMB  int
	CodeRunCPUShares int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Classroom API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("realtime.channel", "gema:classroom")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("cloudinary.folder", "gema/classroom")
	v.SetDefault("activity.cache_ttl", "2m")
	v.SetDefault("submit.rate_per_minute", 10)
	v.SetDefault("upload.max_size_mb", 20)
	v.SetDefault("execution.backend", ExecutionBackendJudge)
	v.SetDefault("judge.poll_interval", "1s")
	v.SetDefault("judge.poll_attempts", 10)
	v.SetDefault("judge.retry_backoff", "2s")
	v.SetDefault("judge.retry_count", 3)
	v.SetDefault("judge.requests_per_second", 5)
	v.SetDefault("execution_timeout_ms", 5000)
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)

	cacheTTL, err := parseDuration(v, "activity.cache_ttl")
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parseDuration(v, "judge.poll_interval")
	if err != nil {
		return Config{}, err
	}
	retryBackoff, err := parseDuration(v, "judge.retry_backoff")
	if err != nil {
		return Config{}, err
	}
	languages, err := ParseLanguageTable(v.GetString("judge.languages"))
	if err != nil {
		return Config{}, err
	}

	timeoutMs := v.GetInt("execution_timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		RealtimeChannel:        v.GetString("realtime.channel"),
		JWTSecret:              v.GetString("jwt.secret"),
		CORSAllowOrigins:       v.GetString("cors.allow_origins"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		ActivityCacheTTL:       cacheTTL,
		SubmitRatePerMinute:    v.GetInt("submit.rate_per_minute"),
		MaxUploadSizeMB:        v.GetInt("upload.max_size_mb"),
		ExecutionBackend:       strings.ToLower(strings.TrimSpace(v.GetString("execution.backend"))),
		JudgeBaseURL:           v.GetString("judge.base_url"),
		JudgeAPIKey:            v.GetString("judge.api_key"),
		JudgeAPIHost:           v.GetString("judge.api_host"),
		JudgeLanguages:         languages,
		JudgePollInterval:      pollInterval,
		JudgePollAttempts:      v.GetInt("judge.poll_attempts"),
		JudgeRetryBackoff:      retryBackoff,
		JudgeRetryCount:        v.GetInt("judge.retry_count"),
		JudgeRequestsPerSecond: v.GetFloat64("judge.requests_per_second"),
		DockerHost:             v.GetString("docker_host"),
		SandboxWorkspace:       v.GetString("sandbox.workspace"),
		ExecutionTimeout:       time.Duration(timeoutMs) * time.Millisecond,
		CodeRunMemoryMB:        v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares:       v.GetInt("code_run_cpu_shares"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.ExecutionBackend {
	case ExecutionBackendJudge:
		if cfg.JudgeBaseURL == "" {
			return Config{}, fmt.Errorf("judge base url must be provided when the execution backend is %q", ExecutionBackendJudge)
		}
	case ExecutionBackendDocker, ExecutionBackendNone:
	default:
		return Config{}, fmt.Errorf("unknown execution backend %q", cfg.ExecutionBackend)
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	if cfg.MaxUploadSizeMB <= 0 {
		cfg.MaxUploadSizeMB = 20
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	value, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

// ParseLanguageTable reads "python=71,go=60" into a language table. An empty string yields a
// nil table so that callers fall back to their defaults.
func ParseLanguageTable(raw string) (map[string]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	table := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		name, id, ok := strings.Cut(strings.TrimSpace(pair), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid judge language entry %q", pair)
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid judge language id for %q", name)
		}
		table[name] = parsed
	}
	return table, nil
}
