package analytics

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/vantage/internal/tracing"
)

// Aggregation constants. The limits mirror what the dashboard renders.
const (
	recentLimit           = 10
	trendWindow           = 7 * 24 * time.Hour
	durationSampleWindow  = 24 * time.Hour
	durationSampleLimit   = 100
	maxSessionDurationSec = 7200.0
)

// Aggregator computes consistent analytics snapshots from the event store.
// It holds no state between calls; every snapshot is read fresh from the
// store, which guarantees read-after-write visibility for same-process
// writers.
type Aggregator struct {
	store   Store
	metrics *Metrics
	now     func() time.Time

	// rng drives the avgSessionDuration jitter. Guarded by mu because
	// every streaming connection computes snapshots concurrently and
	// rand.Rand is not safe for concurrent use.
	mu  sync.Mutex
	rng *rand.Rand
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithRandSource sets the random source driving duration jitter.
// Tests use a fixed seed to pin the jitter factor.
func WithRandSource(rng *rand.Rand) AggregatorOption {
	return func(a *Aggregator) {
		a.rng = rng
	}
}

// WithClock sets the time source. Tests use it to pin "today".
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithMetrics attaches snapshot metrics.
func WithMetrics(m *Metrics) AggregatorOption {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// NewAggregator creates an aggregation engine over the given store.
func NewAggregator(store Store, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		store: store,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Snapshot computes one full analytics snapshot. Any store failure aborts
// the attempt with a wrapped error; the caller's next tick is the only
// retry mechanism.
func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "compute_snapshot")
	start := a.now()

	snapshot, err := a.compute(ctx)
	if err == nil {
		tracing.SetAttributes(ctx,
			attribute.Int64("active_sessions", snapshot.DailyStats.ActiveSessionsCount),
			attribute.Int64("total_page_views", snapshot.DailyStats.TotalPageViews),
		)
	}
	endSpan(err)

	if a.metrics != nil {
		a.metrics.ObserveSnapshot(time.Since(start).Seconds(), err == nil)
	}
	return snapshot, err
}

func (a *Aggregator) compute(ctx context.Context) (*Snapshot, error) {
	now := a.now()

	pageViews, err := a.store.RecentPageViews(ctx, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent page views: %w", err)
	}

	activeSessions, err := a.store.ActiveSessions(ctx, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}

	activeCount, err := a.store.CountActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("active session count: %w", err)
	}

	interactions, err := a.store.RecentInteractions(ctx, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent interactions: %w", err)
	}

	trend, err := a.store.PageViewTrend(ctx, now.Add(-trendWindow))
	if err != nil {
		return nil, fmt.Errorf("page view trend: %w", err)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	totalPageViews, err := a.store.CountPageViewsSince(ctx, dayStart)
	if err != nil {
		return nil, fmt.Errorf("daily page view count: %w", err)
	}

	// Sessions started today with a user id; a rough proxy for distinct
	// users, deliberately not deduplicated.
	uniqueUsers, err := a.store.CountSessionsStartedSince(ctx, dayStart, true)
	if err != nil {
		return nil, fmt.Errorf("unique user count: %w", err)
	}

	avgDuration, err := a.avgSessionDuration(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("average session duration: %w", err)
	}

	return &Snapshot{
		PageViews:      pageViews,
		ActiveSessions: activeSessions,
		Interactions:   interactions,
		PageViewTrend:  trend,
		DailyStats: DailyStats{
			TotalPageViews:      totalPageViews,
			ActiveSessionsCount: activeCount,
			UniqueUsers:         uniqueUsers,
			AvgSessionDuration:  avgDuration,
		},
	}, nil
}

// avgSessionDuration samples recently ended sessions and averages their
// durations, excluding outliers outside the open interval (0, 7200)
// seconds.
//
// The multiplicative jitter in [0.9, 1.1] is intentional injected noise:
// the upstream product applies it so its demo chart stays visibly
// animated between pushes. It carries no analytical meaning and is kept
// on purpose; do not normalize it away.
func (a *Aggregator) avgSessionDuration(ctx context.Context, now time.Time) (float64, error) {
	sessions, err := a.store.EndedSessionsSince(ctx, now.Add(-durationSampleWindow), durationSampleLimit)
	if err != nil {
		return 0, err
	}

	var sum float64
	var samples int
	for _, session := range sessions {
		if session.EndedAt == nil {
			continue
		}
		duration := session.EndedAt.Sub(session.StartedAt).Seconds()
		if duration <= 0 || duration >= maxSessionDurationSec {
			continue
		}
		sum += duration
		samples++
	}

	var avg float64
	if samples > 0 {
		avg = sum / float64(samples)
	}

	// Jitter applies even to a zero average, which stays zero.
	return avg * a.jitter(), nil
}

// jitter returns a uniform factor in [0.9, 1.1].
func (a *Aggregator) jitter() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return 0.9 + a.rng.Float64()*0.2
}
