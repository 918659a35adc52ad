package dto

import "time"

// ActivityListRequest captures query parameters for a user's activity feed.
type ActivityListRequest struct {
	Types    []string `query:"-"`
	Page     int      `query:"page" validate:"omitempty,gte=1"`
	PageSize int      `query:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// ActivityResponse is one feed entry.
type ActivityResponse struct {
	ID        uint                   `json:"id"`
	Type      string                 `json:"type"`
	Content   map[string]interface{} `json:"content"`
	CreatedAt time.Time              `json:"created_at"`
}

// ActivityListResponse wraps a page of the feed.
type ActivityListResponse struct {
	Items      []ActivityResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
	CacheHit   bool               `json:"cache_hit"`
}
