package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-classroom-api/internal/models"
)

// ActivityFilter narrows activity feed queries.
type ActivityFilter struct {
	UserID   uint
	Types    []string
	Page     int
	PageSize int
}

// ActivityRepository persists activity feed entries.
type ActivityRepository interface {
	Create(ctx context.Context, activity *models.Activity) error
	List(ctx context.Context, filter ActivityFilter) ([]models.Activity, int64, error)
}

type activityRepository struct {
	db *gorm.DB
}

// NewActivityRepository constructs the activity repository.
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Create(ctx context.Context, activity *models.Activity) error {
	return r.db.WithContext(ctx).Create(activity).Error
}

func (r *activityRepository) List(ctx context.Context, filter ActivityFilter) ([]models.Activity, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Activity{}).Where("user_id = ?", filter.UserID)

	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.Activity
	if err := paginate(query, filter.Page, filter.PageSize).
		Order("created_at DESC, id DESC").
		Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
