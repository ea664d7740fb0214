// Package retention bounds event store growth by purging sessions that
// ended long ago, together with their dependent records.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/vantage/internal/analytics"
	"github.com/onnwee/vantage/internal/tracing"
)

// Sweeper deletes fully-expired sessions and their dependents. In
// development the activity simulator invokes Sweep inline; in production
// it runs on its own timer via Start.
type Sweeper struct {
	store    analytics.Store
	logger   *slog.Logger
	metrics  *Metrics
	horizon  time.Duration
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	doneChan chan struct{}
}

// Config contains configuration for the sweeper.
type Config struct {
	// Horizon is how long ended sessions are kept before they qualify
	// for deletion. Default: 15 minutes.
	Horizon time.Duration

	// Interval is how often the standalone sweep loop runs.
	// Default: 1 minute. Irrelevant when Sweep is invoked inline.
	Interval time.Duration

	// Metrics are optional sweep metrics.
	Metrics *Metrics

	// Now is the time source; defaults to time.Now. Tests pin it.
	Now func() time.Time
}

// NewSweeper creates a new retention sweeper.
func NewSweeper(store analytics.Store, logger *slog.Logger, cfg Config) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Horizon == 0 {
		cfg.Horizon = 15 * time.Minute
	}
	if cfg.Interval == 0 {
		cfg.Interval = 1 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Sweeper{
		store:    store,
		logger:   logger,
		metrics:  cfg.Metrics,
		horizon:  cfg.Horizon,
		interval: cfg.Interval,
		now:      cfg.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the standalone sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop gracefully stops the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

// run executes the sweep loop.
func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retention sweeper started",
		slog.Duration("horizon", s.horizon),
		slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopping due to context cancellation")
			return
		case <-s.stopChan:
			s.logger.Info("retention sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep purges every session that ended more than the horizon ago.
// Dependents are deleted before parents so no intermediate state leaves a
// surviving page view or interaction referencing a deleted session.
// Returns the number of sessions removed; finding nothing is a no-op,
// not an error.
func (s *Sweeper) Sweep(ctx context.Context) (deleted int, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "retention_sweep")
	defer func() { endSpan(err) }()

	start := s.now()
	cutoff := start.Add(-s.horizon)

	ids, err := s.store.ExpiredSessionIDs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	interactions, err := s.store.DeleteInteractionsBySession(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete interactions: %w", err)
	}
	pageViews, err := s.store.DeletePageViewsBySession(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete page views: %w", err)
	}
	sessions, err := s.store.DeleteSessions(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}

	tracing.AddEvent(ctx, "sweep_completed",
		attribute.Int64("sessions_deleted", sessions),
		attribute.Int64("page_views_deleted", pageViews),
		attribute.Int64("interactions_deleted", interactions))

	if s.metrics != nil {
		s.metrics.ObserveSweep(sessions)
	}

	s.logger.Info("sweep completed",
		slog.Int64("sessions_deleted", sessions),
		slog.Int64("page_views_deleted", pageViews),
		slog.Int64("interactions_deleted", interactions),
		slog.Duration("duration", time.Since(start)),
		slog.Time("cutoff", cutoff))

	return int(sessions), nil
}
