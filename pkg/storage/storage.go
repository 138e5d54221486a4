// Package storage is the relational content store: topics and tracked users
// under watch, the content items crawlers collect, and the summaries the
// analyst writes. All writes are idempotent on natural keys.
package storage

import (
	"time"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// Topic is a monitored subject.
type Topic struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Keywords    []string  `json:"keywords"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TrackedUser is a monitored account on one platform.
type TrackedUser struct {
	ID          string    `json:"id"`
	Platform    string    `json:"platform"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ContentItem is one collected post, keyed naturally by
// (platform, platform_content_id).
type ContentItem struct {
	ID                string         `json:"id"`
	Platform          string         `json:"platform"`
	PlatformContentID string         `json:"platform_content_id"`
	AuthorHandle      string         `json:"author_handle"`
	URL               string         `json:"url"`
	Body              string         `json:"body"`
	MediaURLs         []string       `json:"media_urls"`
	TopicID           string         `json:"topic_id,omitempty"`
	UserID            string         `json:"user_id,omitempty"`
	Metrics           map[string]any `json:"metrics"`
	PublishedAt       *time.Time     `json:"published_at,omitempty"`
	CollectedAt       time.Time      `json:"collected_at"`
}

// Summary is one integrated write-up for an entity.
type Summary struct {
	ID         string            `json:"id"`
	EntityType models.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Body       string            `json:"body"`
	ItemCount  int               `json:"item_count"`
	CreatedAt  time.Time         `json:"created_at"`
}
