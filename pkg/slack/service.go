package slack

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// RoundCompletedInput contains data for a terminal monitoring-round
// notification.
type RoundCompletedInput struct {
	EntityType   string // topic or user
	EntityID     string
	EntityName   string
	Status       string // done, error
	Summary      string
	ErrorMessage string
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.Token, cfg.Channel),
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NotifyRoundCompleted sends a terminal monitoring-round notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyRoundCompleted(ctx context.Context, input RoundCompletedInput) {
	if s == nil {
		return
	}

	blocks := BuildRoundMessage(input)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack notification",
			"entity_type", input.EntityType,
			"entity_id", input.EntityID,
			"status", input.Status,
			"error", err)
	}
}
