// Package cleanup provides data retention for the relational content store.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Default retention windows. Collected content churns quickly; summaries are
// the durable output and are kept longer.
const (
	DefaultContentRetention = 30 * 24 * time.Hour
	DefaultSummaryRetention = 90 * 24 * time.Hour
	DefaultInterval         = time.Hour
)

// RetentionStore is the slice of the content store the cleanup loop needs.
type RetentionStore interface {
	DeleteContentBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteSummariesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures the retention windows and the loop cadence. Zero values
// select the defaults.
type Options struct {
	ContentRetention time.Duration
	SummaryRetention time.Duration
	Interval         time.Duration
}

// Service periodically enforces retention policies:
//   - Removes content rows past the content retention window
//   - Removes summary rows past the summary retention window
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	store RetentionStore
	opts  Options

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service over the given store.
func NewService(store RetentionStore, opts Options) *Service {
	if opts.ContentRetention <= 0 {
		opts.ContentRetention = DefaultContentRetention
	}
	if opts.SummaryRetention <= 0 {
		opts.SummaryRetention = DefaultSummaryRetention
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Service{store: store, opts: opts}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"content_retention", s.opts.ContentRetention,
		"summary_retention", s.opts.SummaryRetention,
		"interval", s.opts.Interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteOldContent(ctx)
	s.deleteOldSummaries(ctx)
}

func (s *Service) deleteOldContent(ctx context.Context) {
	count, err := s.store.DeleteContentBefore(ctx, time.Now().Add(-s.opts.ContentRetention))
	if err != nil {
		slog.Error("Retention: content cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old content", "count", count)
	}
}

func (s *Service) deleteOldSummaries(ctx context.Context) {
	count, err := s.store.DeleteSummariesBefore(ctx, time.Now().Add(-s.opts.SummaryRetention))
	if err != nil {
		slog.Error("Retention: summary cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old summaries", "count", count)
	}
}
