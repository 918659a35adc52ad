package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-classroom-api/internal/dto"
	"github.com/noah-isme/gema-classroom-api/internal/models"
	"github.com/noah-isme/gema-classroom-api/internal/observability"
	"github.com/noah-isme/gema-classroom-api/internal/repository"
)

var (
	// ErrActivityLog wraps failures to persist an activity entry.
	ErrActivityLog = errors.New("activity could not be recorded")
	// ErrInvalidActivityType is returned for activity types outside the known set.
	ErrInvalidActivityType = errors.New("invalid activity type")
)

// ActivityActor represents the authenticated user performing an action.
type ActivityActor struct {
	ID   uint
	Role string
}

// IsTeacher reports whether the actor may author and grade.
func (a ActivityActor) IsTeacher() bool {
	role := normalizeRole(a.Role)
	return role == "teacher" || role == "admin"
}

// ActivityEntry captures the details required to persist a feed entry for one user.
type ActivityEntry struct {
	UserID           uint
	Type             string
	CourseID         uint
	AssignmentID     uint
	AssignmentTitle  string
	SubmissionID     uint
	SubmissionNumber int
	Grade            *float64
	Metadata         map[string]interface{}
}

// ActivityRecorder records feed entries. Callers treat its errors as non-fatal.
type ActivityRecorder interface {
	Record(ctx context.Context, entry ActivityEntry) error
}

// ActivityPublisher is the subset of *nats.Conn used to broadcast new activities.
type ActivityPublisher interface {
	Publish(subject string, data []byte) error
}

// ActivityService exposes methods to record and query the activity feed.
type ActivityService interface {
	ActivityRecorder
	ListForUser(ctx context.Context, userID uint, req dto.ActivityListRequest) (dto.ActivityListResponse, error)
}

// ActivityServiceConfig groups the feed cache and publishing options.
type ActivityServiceConfig struct {
	// Channel is the realtime channel base, e.g. "gema:classroom".
	Channel  string
	CacheTTL time.Duration
}

type activityService struct {
	repo      repository.ActivityRepository
	cache     *redis.Client
	publisher ActivityPublisher
	subject   string
	ttl       time.Duration
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewActivityService constructs the activity feed service. cache and publisher are optional.
func NewActivityService(repo repository.ActivityRepository, cache *redis.Client, publisher ActivityPublisher, validator *validator.Validate, cfg ActivityServiceConfig, logger zerolog.Logger) ActivityService {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "gema:classroom"
	}

	return &activityService{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		subject:   strings.ReplaceAll(channel, ":", ".") + ".activities",
		ttl:       ttl,
		validator: validator,
		logger:    logger.With().Str("component", "activity_service").Logger(),
	}
}

type activityEvent struct {
	ID        uint                   `json:"id"`
	UserID    uint                   `json:"user_id"`
	Type      string                 `json:"type"`
	Content   map[string]interface{} `json:"content"`
	CreatedAt time.Time              `json:"created_at"`
}

func (s *activityService) Record(ctx context.Context, entry ActivityEntry) error {
	activityType := strings.ToLower(strings.TrimSpace(entry.Type))
	if !isActivityType(activityType) {
		observability.ActivityLogFailures().WithLabelValues("unknown").Inc()
		return fmt.Errorf("%w: %w %q", ErrActivityLog, ErrInvalidActivityType, entry.Type)
	}
	if entry.UserID == 0 {
		observability.ActivityLogFailures().WithLabelValues(activityType).Inc()
		return fmt.Errorf("%w: user is required", ErrActivityLog)
	}

	model := models.Activity{
		UserID:    entry.UserID,
		Type:      activityType,
		Content:   activityContent(entry),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, &model); err != nil {
		observability.ActivityLogFailures().WithLabelValues(activityType).Inc()
		s.logger.Error().Err(err).Str("type", activityType).Uint("user_id", entry.UserID).Msg("failed to persist activity")
		return fmt.Errorf("%w: %v", ErrActivityLog, err)
	}

	s.invalidate(ctx, entry.UserID)
	s.publish(model)

	return nil
}

func (s *activityService) ListForUser(ctx context.Context, userID uint, req dto.ActivityListRequest) (dto.ActivityListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ActivityListResponse{}, err
	}

	types := make([]string, 0, len(req.Types))
	for _, raw := range req.Types {
		activityType := strings.ToLower(strings.TrimSpace(raw))
		if activityType == "" {
			continue
		}
		if !isActivityType(activityType) {
			return dto.ActivityListResponse{}, fmt.Errorf("%w %q", ErrInvalidActivityType, raw)
		}
		types = append(types, activityType)
	}
	sort.Strings(types)

	filter := repository.ActivityFilter{
		UserID:   userID,
		Types:    types,
		Page:     maxInt(req.Page, 1),
		PageSize: clampPageSize(req.PageSize),
	}

	key := s.cacheKey(ctx, filter)
	if key != "" {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil && cached != "" {
			var response dto.ActivityListResponse
			if err := json.Unmarshal([]byte(cached), &response); err == nil {
				response.CacheHit = true
				observability.ActivityFeedRequests().WithLabelValues("hit").Inc()
				return response, nil
			}
		}
	}

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		observability.ActivityFeedRequests().WithLabelValues("error").Inc()
		return dto.ActivityListResponse{}, err
	}

	items := make([]dto.ActivityResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.ActivityResponse{
			ID:        entry.ID,
			Type:      entry.Type,
			Content:   map[string]interface{}(entry.Content),
			CreatedAt: entry.CreatedAt,
		})
	}

	response := dto.ActivityListResponse{
		Items:      items,
		Pagination: dto.NewPaginationMeta(filter.Page, filter.PageSize, total),
	}

	if key != "" {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, key, payload, s.ttl).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to write activity feed cache")
			}
		}
	}

	observability.ActivityFeedRequests().WithLabelValues("miss").Inc()

	return response, nil
}

// Feed pages are cached under a per-user generation number; bumping it on write makes every
// cached page of that user unreachable without scanning keys.
func (s *activityService) generationKey(userID uint) string {
	return fmt.Sprintf("activities:feed:v1:%d:generation", userID)
}

func (s *activityService) cacheKey(ctx context.Context, filter repository.ActivityFilter) string {
	if s.cache == nil {
		return ""
	}
	generation, err := s.cache.Get(ctx, s.generationKey(filter.UserID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Msg("failed to read activity feed generation")
		return ""
	}
	return fmt.Sprintf("activities:feed:v1:%d:%d:%s:%d:%d", filter.UserID, generation, strings.Join(filter.Types, ","), filter.Page, filter.PageSize)
}

func (s *activityService) invalidate(ctx context.Context, userID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Incr(ctx, s.generationKey(userID)).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("user_id", userID).Msg("failed to invalidate activity feed cache")
	}
}

func (s *activityService) publish(model models.Activity) {
	if s.publisher == nil {
		return
	}

	payload, err := json.Marshal(activityEvent{
		ID:        model.ID,
		UserID:    model.UserID,
		Type:      model.Type,
		Content:   map[string]interface{}(model.Content),
		CreatedAt: model.CreatedAt,
	})
	if err == nil {
		err = s.publisher.Publish(s.subject, payload)
	}
	if err != nil {
		observability.ActivityPublishFailures().Inc()
		s.logger.Warn().Err(err).Str("subject", s.subject).Msg("failed to publish activity")
	}
}

func activityContent(entry ActivityEntry) datatypes.JSONMap {
	content := sanitizeMetadata(entry.Metadata)
	if entry.CourseID != 0 {
		content["course_id"] = entry.CourseID
	}
	if entry.AssignmentID != 0 {
		content["assignment_id"] = entry.AssignmentID
	}
	if title := strings.TrimSpace(entry.AssignmentTitle); title != "" {
		content["assignment_title"] = title
	}
	if entry.SubmissionID != 0 {
		content["submission_id"] = entry.SubmissionID
	}
	if entry.SubmissionNumber != 0 {
		content["submission_number"] = entry.SubmissionNumber
	}
	if entry.Grade != nil {
		content["grade"] = *entry.Grade
	}
	return content
}

func isActivityType(value string) bool {
	for _, known := range models.ActivityTypes() {
		if value == known {
			return true
		}
	}
	return false
}

func sanitizeMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	sanitized := datatypes.JSONMap{}
	for key, value := range metadata {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "email") || strings.Contains(lower, "token") {
			sanitized[key] = "***"
			continue
		}
		sanitized[key] = value
	}
	return sanitized
}

func normalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	if r == "" {
		return "system"
	}
	return r
}

func clampPageSize(size int) int {
	if size <= 0 {
		return 20
	}
	if size > 100 {
		return 100
	}
	return size
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
