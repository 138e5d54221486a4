package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store provides the SQL-backed persistence operations used by tools and
// the HTTP API.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on the given connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertTopic inserts or updates a topic by name, returning the stored row.
func (s *Store) UpsertTopic(ctx context.Context, t *Topic) (*Topic, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	keywords, err := json.Marshal(orEmptySlice(t.Keywords))
	if err != nil {
		return nil, fmt.Errorf("encoding keywords: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO topics (id, name, description, keywords, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			keywords    = EXCLUDED.keywords,
			active      = EXCLUDED.active,
			updated_at  = now()
		RETURNING id, name, description, keywords, active, created_at, updated_at`,
		t.ID, t.Name, t.Description, keywords, t.Active)
	return scanTopic(row)
}

// GetTopic returns one topic by id.
func (s *Store) GetTopic(ctx context.Context, id string) (*Topic, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, keywords, active, created_at, updated_at
		FROM topics WHERE id = $1`, id)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return topic, err
}

// ListTopics returns topics, optionally only active ones.
func (s *Store) ListTopics(ctx context.Context, activeOnly bool) ([]*Topic, error) {
	query := `
		SELECT id, name, description, keywords, active, created_at, updated_at
		FROM topics`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer rows.Close()

	var topics []*Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// UpsertTrackedUser inserts or updates a tracked user by (platform, handle).
func (s *Store) UpsertTrackedUser(ctx context.Context, u *TrackedUser) (*TrackedUser, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tracked_users (id, platform, handle, display_name, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (platform, handle) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			active       = EXCLUDED.active,
			updated_at   = now()
		RETURNING id, platform, handle, display_name, active, created_at, updated_at`,
		u.ID, u.Platform, u.Handle, u.DisplayName, u.Active)

	var out TrackedUser
	err := row.Scan(&out.ID, &out.Platform, &out.Handle, &out.DisplayName,
		&out.Active, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting tracked user %s/%s: %w", u.Platform, u.Handle, err)
	}
	return &out, nil
}

// GetTrackedUser returns one tracked user by id.
func (s *Store) GetTrackedUser(ctx context.Context, id string) (*TrackedUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, platform, handle, display_name, active, created_at, updated_at
		FROM tracked_users WHERE id = $1`, id)

	var out TrackedUser
	err := row.Scan(&out.ID, &out.Platform, &out.Handle, &out.DisplayName,
		&out.Active, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tracked user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading tracked user %s: %w", id, err)
	}
	return &out, nil
}

// ListTrackedUsers returns tracked users, optionally only active ones.
func (s *Store) ListTrackedUsers(ctx context.Context, activeOnly bool) ([]*TrackedUser, error) {
	query := `
		SELECT id, platform, handle, display_name, active, created_at, updated_at
		FROM tracked_users`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing tracked users: %w", err)
	}
	defer rows.Close()

	var users []*TrackedUser
	for rows.Next() {
		var u TrackedUser
		if err := rows.Scan(&u.ID, &u.Platform, &u.Handle, &u.DisplayName,
			&u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// SaveContent inserts a content item, deduplicating on
// (platform, platform_content_id). Returns true when the item was new.
func (s *Store) SaveContent(ctx context.Context, item *ContentItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CollectedAt.IsZero() {
		item.CollectedAt = time.Now().UTC()
	}
	media, err := json.Marshal(orEmptySlice(item.MediaURLs))
	if err != nil {
		return false, fmt.Errorf("encoding media urls: %w", err)
	}
	metrics, err := json.Marshal(orEmptyMap(item.Metrics))
	if err != nil {
		return false, fmt.Errorf("encoding metrics: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO content (id, platform, platform_content_id, author_handle, url,
			body, media_urls, topic_id, user_id, metrics, published_at, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (platform, platform_content_id) DO NOTHING`,
		item.ID, item.Platform, item.PlatformContentID, item.AuthorHandle, item.URL,
		item.Body, media, nullString(item.TopicID), nullString(item.UserID),
		metrics, item.PublishedAt, item.CollectedAt)
	if err != nil {
		return false, fmt.Errorf("saving content %s/%s: %w", item.Platform, item.PlatformContentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRecentContent returns the newest content for an entity, newest first.
func (s *Store) ListRecentContent(ctx context.Context, ref models.EntityRef, limit int) ([]*ContentItem, error) {
	if limit <= 0 {
		limit = 50
	}
	column := "topic_id"
	if ref.Type == models.EntityTypeUser {
		column = "user_id"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, platform, platform_content_id, author_handle, url, body,
			media_urls, COALESCE(topic_id, ''), COALESCE(user_id, ''),
			metrics, published_at, collected_at
		FROM content WHERE %s = $1
		ORDER BY collected_at DESC LIMIT $2`, column), ref.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing content for %s %s: %w", ref.Type, ref.ID, err)
	}
	defer rows.Close()

	var items []*ContentItem
	for rows.Next() {
		var (
			item          ContentItem
			media, metric []byte
		)
		if err := rows.Scan(&item.ID, &item.Platform, &item.PlatformContentID,
			&item.AuthorHandle, &item.URL, &item.Body, &media, &item.TopicID,
			&item.UserID, &metric, &item.PublishedAt, &item.CollectedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(media, &item.MediaURLs); err != nil {
			return nil, fmt.Errorf("decoding media urls for %s: %w", item.ID, err)
		}
		if err := json.Unmarshal(metric, &item.Metrics); err != nil {
			return nil, fmt.Errorf("decoding metrics for %s: %w", item.ID, err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// SaveSummary persists one integrated summary.
func (s *Store) SaveSummary(ctx context.Context, sum *Summary) (*Summary, error) {
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO summaries (id, entity_type, entity_id, body, item_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, entity_type, entity_id, body, item_count, created_at`,
		sum.ID, string(sum.EntityType), sum.EntityID, sum.Body, sum.ItemCount)

	var out Summary
	if err := row.Scan(&out.ID, &out.EntityType, &out.EntityID, &out.Body,
		&out.ItemCount, &out.CreatedAt); err != nil {
		return nil, fmt.Errorf("saving summary for %s %s: %w", sum.EntityType, sum.EntityID, err)
	}
	return &out, nil
}

// ListSummaries returns summaries for an entity, newest first.
func (s *Store) ListSummaries(ctx context.Context, ref models.EntityRef, limit int) ([]*Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, body, item_count, created_at
		FROM summaries WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC LIMIT $3`, string(ref.Type), ref.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing summaries for %s %s: %w", ref.Type, ref.ID, err)
	}
	defer rows.Close()

	var sums []*Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.EntityType, &s.EntityID, &s.Body,
			&s.ItemCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		sums = append(sums, &s)
	}
	return sums, rows.Err()
}

// DeleteContentBefore removes content collected before the cutoff. Returns
// the number of rows deleted.
func (s *Store) DeleteContentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM content WHERE collected_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old content: %w", err)
	}
	return res.RowsAffected()
}

// DeleteSummariesBefore removes summaries created before the cutoff. Returns
// the number of rows deleted.
func (s *Store) DeleteSummariesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM summaries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old summaries: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (*Topic, error) {
	var (
		t        Topic
		keywords []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &keywords, &t.Active,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(keywords, &t.Keywords); err != nil {
		return nil, fmt.Errorf("decoding keywords for %s: %w", t.ID, err)
	}
	return &t, nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
