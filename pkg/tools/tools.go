// Package tools assembles the built-in tool surface agents drive through
// the ReAct loop: persisting collected content, reading it back, saving
// summaries, reporting progress, and yielding to platform rate limits.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/progress"
	"github.com/trendwatch/trendwatch/pkg/storage"
	"github.com/trendwatch/trendwatch/pkg/tool"
)

// ContentStore is the slice of the relational store the tools need.
type ContentStore interface {
	SaveContent(ctx context.Context, item *storage.ContentItem) (bool, error)
	ListRecentContent(ctx context.Context, ref models.EntityRef, limit int) ([]*storage.ContentItem, error)
	SaveSummary(ctx context.Context, sum *storage.Summary) (*storage.Summary, error)
}

// NewRegistry builds the built-in tool registry over the given stores.
func NewRegistry(content ContentStore, prog progress.Store) (*tool.Registry, error) {
	reg := tool.NewRegistry()
	for _, t := range []*tool.Tool{
		saveContentTool(content),
		listRecentContentTool(content),
		saveSummaryTool(content),
		updateProgressTool(prog),
		reportRateLimitTool(),
	} {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func saveContentTool(store ContentStore) *tool.Tool {
	return &tool.Tool{
		Name: "save_content",
		Description: "Persist one collected post. Deduplicated by " +
			"(platform, platform_content_id); saving an existing item is a no-op.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"platform":            map[string]any{"type": "string", "description": "Source platform, e.g. x, reddit, youtube."},
				"platform_content_id": map[string]any{"type": "string", "description": "The platform's own id for the post."},
				"author_handle":       map[string]any{"type": "string"},
				"url":                 map[string]any{"type": "string"},
				"body":                map[string]any{"type": "string"},
				"media_urls":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"topic_id":            map[string]any{"type": "string"},
				"user_id":             map[string]any{"type": "string"},
				"metrics":             map[string]any{"type": "object", "description": "Engagement counters, e.g. likes, reposts."},
				"published_at":        map[string]any{"type": "string", "description": "RFC3339 publication time."},
			},
			"required": []any{"platform", "platform_content_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			item := &storage.ContentItem{
				Platform:          str(args, "platform"),
				PlatformContentID: str(args, "platform_content_id"),
				AuthorHandle:      str(args, "author_handle"),
				URL:               str(args, "url"),
				Body:              str(args, "body"),
				MediaURLs:         strSlice(args, "media_urls"),
				TopicID:           str(args, "topic_id"),
				UserID:            str(args, "user_id"),
			}
			if m, ok := args["metrics"].(map[string]any); ok {
				item.Metrics = m
			}
			if s := str(args, "published_at"); s != "" {
				ts, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return nil, fmt.Errorf("published_at is not RFC3339: %w", err)
				}
				item.PublishedAt = &ts
			}
			created, err := store.SaveContent(ctx, item)
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": item.ID, "created": created}, nil
		},
	}
}

func listRecentContentTool(store ContentStore) *tool.Tool {
	return &tool.Tool{
		Name: "list_recent_content",
		Description: "List the newest stored content for a topic or tracked " +
			"user, newest first. Provide topic_id or user_id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic_id": map[string]any{"type": "string"},
				"user_id":  map[string]any{"type": "string"},
				"limit":    map[string]any{"type": "integer", "minimum": 1, "maximum": 200, "default": 50},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			ref, ok := entityFromArgs(args)
			if !ok {
				return nil, fmt.Errorf("topic_id or user_id is required")
			}
			limit := 0
			if v, ok := args["limit"].(float64); ok {
				limit = int(v)
			}
			items, err := store.ListRecentContent(ctx, ref, limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"items": items, "count": len(items)}, nil
		},
	}
}

func saveSummaryTool(store ContentStore) *tool.Tool {
	return &tool.Tool{
		Name:        "save_summary",
		Description: "Persist an integrated summary for a topic or tracked user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic_id":   map[string]any{"type": "string"},
				"user_id":    map[string]any{"type": "string"},
				"body":       map[string]any{"type": "string"},
				"item_count": map[string]any{"type": "integer", "minimum": 0},
			},
			"required": []any{"body"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			ref, ok := entityFromArgs(args)
			if !ok {
				return nil, fmt.Errorf("topic_id or user_id is required")
			}
			count := 0
			if v, ok := args["item_count"].(float64); ok {
				count = int(v)
			}
			sum, err := store.SaveSummary(ctx, &storage.Summary{
				EntityType: ref.Type,
				EntityID:   ref.ID,
				Body:       str(args, "body"),
				ItemCount:  count,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": sum.ID}, nil
		},
	}
}

func updateProgressTool(prog progress.Store) *tool.Tool {
	return &tool.Tool{
		Name: "update_progress",
		Description: "Report intermediate progress. With task_id, records a " +
			"per-task progress message; with topic_id or user_id, updates the " +
			"entity's current step.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id":    map[string]any{"type": "string"},
				"topic_id":   map[string]any{"type": "string"},
				"user_id":    map[string]any{"type": "string"},
				"action":     map[string]any{"type": "string", "description": "What is being done, e.g. crawl, search."},
				"target":     map[string]any{"type": "string", "description": "The feed, profile, or query being worked."},
				"message":    map[string]any{"type": "string"},
				"page":       map[string]any{"type": "integer", "minimum": 0},
				"new_count":  map[string]any{"type": "integer", "minimum": 0},
				"target_new": map[string]any{"type": "integer", "minimum": 0},
				"total_found": map[string]any{
					"type": "integer", "minimum": 0,
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			wrote := false
			if taskID := str(args, "task_id"); taskID != "" {
				tp := &models.TaskProgress{
					Action:     str(args, "action"),
					Target:     str(args, "target"),
					Message:    str(args, "message"),
					Page:       intArg(args, "page"),
					NewCount:   intArg(args, "new_count"),
					TargetNew:  intArg(args, "target_new"),
					TotalFound: intArg(args, "total_found"),
				}
				if err := prog.SetTaskProgress(ctx, taskID, tp); err != nil {
					return nil, err
				}
				wrote = true
			}
			if ref, ok := entityFromArgs(args); ok {
				step := str(args, "message")
				if step == "" {
					step = str(args, "action")
				}
				if err := prog.SetStep(ctx, ref, step); err != nil {
					return nil, err
				}
				wrote = true
			}
			if !wrote {
				return nil, fmt.Errorf("task_id, topic_id, or user_id is required")
			}
			return map[string]any{"ok": true}, nil
		},
	}
}

func reportRateLimitTool() *tool.Tool {
	return &tool.Tool{
		Name: "report_rate_limit",
		Description: "Report that the platform rate-limited this task. The " +
			"task is requeued after the delay without counting as a failure. " +
			"Call this instead of retrying in a loop.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"platform":      map[string]any{"type": "string"},
				"delay_seconds": map[string]any{"type": "integer", "minimum": 1, "default": 300},
				"reason":        map[string]any{"type": "string"},
			},
			"required": []any{"platform"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			delay := 300
			if v, ok := args["delay_seconds"].(float64); ok {
				delay = int(v)
			}
			reason := str(args, "reason")
			if reason == "" {
				reason = fmt.Sprintf("%s rate limit", str(args, "platform"))
			}
			return nil, &models.RetryLater{
				Delay:  time.Duration(delay) * time.Second,
				Reason: reason,
			}
		},
	}
}

// entityFromArgs applies the payload precedence rule to tool arguments.
func entityFromArgs(args map[string]any) (models.EntityRef, bool) {
	if id := str(args, "topic_id"); id != "" {
		return models.EntityRef{Type: models.EntityTypeTopic, ID: id}, true
	}
	if id := str(args, "user_id"); id != "" {
		return models.EntityRef{Type: models.EntityTypeUser, ID: id}, true
	}
	return models.EntityRef{}, false
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

func strSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
