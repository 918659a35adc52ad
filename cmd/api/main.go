package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-classroom-api/internal/config"
	"github.com/noah-isme/gema-classroom-api/internal/database"
	"github.com/noah-isme/gema-classroom-api/internal/grading"
	"github.com/noah-isme/gema-classroom-api/internal/handler"
	"github.com/noah-isme/gema-classroom-api/internal/middleware"
	"github.com/noah-isme/gema-classroom-api/internal/repository"
	"github.com/noah-isme/gema-classroom-api/internal/router"
	"github.com/noah-isme/gema-classroom-api/internal/service"
	cloud "github.com/noah-isme/gema-classroom-api/pkg/cloudinary"
	"github.com/noah-isme/gema-classroom-api/pkg/docker"
	"github.com/noah-isme/gema-classroom-api/pkg/judge"
)

// codeRunner is an execution backend able to grade code submissions.
type codeRunner interface {
	grading.Runner
	Supports(language string) bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	probes := map[string]handler.HealthProbe{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	activityConfig := service.ActivityServiceConfig{Channel: cfg.RealtimeChannel, CacheTTL: cfg.ActivityCacheTTL}
	var publisher service.ActivityPublisher

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, activity feed cache disabled")
		} else {
			redisClient = client
			defer redisClient.Close()
			probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	}

	if cfg.NATSURL != "" {
		natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, activity events will not be published")
		} else {
			defer natsConn.Drain()
			publisher = natsConn
			probes["nats"] = func(context.Context) error {
				if !natsConn.IsConnected() {
					return fmt.Errorf("nats connection is %s", natsConn.Status())
				}
				return nil
			}
		}
	}

	var storage *cloud.Service
	if cfg.CloudinaryCloudName != "" {
		uploader, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		storage = uploader
	} else {
		logger.Warn().Msg("cloudinary is not configured, file upload submissions will be rejected")
	}

	runner, closeRunner, err := newCodeRunner(cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialise execution backend: %v", err)
	}
	defer closeRunner()

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	activityService := service.NewActivityService(activityRepo, redisClient, publisher, validate, activityConfig, logger)
	assignmentService := service.NewAssignmentService(assignmentRepo, activityService, validate, logger)

	submissionConfig := service.SubmissionServiceConfig{}
	var engine *grading.Engine
	if runner != nil {
		submissionConfig.SupportedLanguage = runner.Supports
		engine = grading.NewEngine(runner, logger)
	} else {
		engine = grading.NewEngine(nil, logger)
	}
	var fileStorage service.FileStorage
	if storage != nil {
		fileStorage = storage
	}
	submissionService := service.NewSubmissionService(assignmentRepo, submissionRepo, engine, fileStorage, activityService, validate, submissionConfig, logger)
	gradingService := service.NewGradingService(submissionRepo, activityService, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.MaxUploadSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler: handler.NewAssignmentHandler(assignmentService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		GradingHandler:    handler.NewGradingHandler(gradingService, logger),
		ActivityHandler:   handler.NewActivityHandler(activityService, logger),
		HealthProbes:      probes,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		SubmitLimiter:     middleware.RateLimit("submit", cfg.SubmitRatePerMinute, time.Minute),
	})

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Str("execution_backend", cfg.ExecutionBackend).Msg("starting http server")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, logger)
}

func newCodeRunner(cfg config.Config, logger zerolog.Logger) (codeRunner, func(), error) {
	noop := func() {}

	switch cfg.ExecutionBackend {
	case config.ExecutionBackendJudge:
		client, err := judge.NewClient(judge.Config{
			BaseURL:           cfg.JudgeBaseURL,
			APIKey:            cfg.JudgeAPIKey,
			APIHost:           cfg.JudgeAPIHost,
			Languages:         cfg.JudgeLanguages,
			PollInterval:      cfg.JudgePollInterval,
			PollAttempts:      cfg.JudgePollAttempts,
			RetryBackoff:      cfg.JudgeRetryBackoff,
			RetryCount:        cfg.JudgeRetryCount,
			RequestsPerSecond: cfg.JudgeRequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil
	case config.ExecutionBackendDocker:
		executor, err := docker.NewDockerExecutor(docker.Config{
			Host:          cfg.DockerHost,
			Timeout:       cfg.ExecutionTimeout,
			MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
			CPUShares:     int64(cfg.CodeRunCPUShares),
			Logger:        logger,
		})
		if err != nil {
			return nil, noop, err
		}
		sandbox, err := docker.NewSandbox(executor, docker.SandboxConfig{
			WorkspaceRoot: cfg.SandboxWorkspace,
			Timeout:       cfg.ExecutionTimeout,
			MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
			CPUShares:     int64(cfg.CodeRunCPUShares),
			Logger:        logger,
		})
		if err != nil {
			_ = executor.Close()
			return nil, noop, err
		}
		return sandbox, func() { _ = executor.Close() }, nil
	default:
		logger.Warn().Msg("no execution backend configured, code submissions will wait for manual grading")
		return nil, noop, nil
	}
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
