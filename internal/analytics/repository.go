package analytics

import (
	"context"
	"time"
)

// Store is the narrow repository interface over the three persisted entity
// types. Every component of the pipeline talks to the event store through
// it, so the backing implementation can be swapped between the in-memory
// store and Postgres without touching aggregation or simulation logic.
//
// Each call is a single atomic operation; there are no multi-statement
// transactions. Cross-call consistency within one simulator tick or one
// snapshot computation is best-effort by design.
type Store interface {
	// CreateSession inserts a new session and assigns its id.
	CreateSession(ctx context.Context, session *Session) error

	// CloseSession ends an active session, imposing the given window.
	// It only matches sessions whose ended_at is still null and returns
	// ErrSessionNotFound otherwise, and ErrInvalidSessionWindow when
	// endedAt precedes startedAt.
	CloseSession(ctx context.Context, id int64, startedAt, endedAt time.Time) error

	// ActiveSessions returns up to limit active sessions, most recently
	// started first.
	ActiveSessions(ctx context.Context, limit int) ([]*Session, error)

	// CountActiveSessions returns the number of sessions with no end time.
	CountActiveSessions(ctx context.Context) (int64, error)

	// EndedSessionsSince returns up to limit sessions that ended at or
	// after since, most recently ended first.
	EndedSessionsSince(ctx context.Context, since time.Time, limit int) ([]*Session, error)

	// CountSessionsStartedSince counts sessions started at or after since.
	// When identifiedOnly is true, anonymous sessions are excluded.
	CountSessionsStartedSince(ctx context.Context, since time.Time, identifiedOnly bool) (int64, error)

	// CreatePageView inserts a page view and assigns its id. The
	// referenced session must exist.
	CreatePageView(ctx context.Context, view *PageView) error

	// RecentPageViews returns up to limit page views, newest first, each
	// joined with its owning session.
	RecentPageViews(ctx context.Context, limit int) ([]*PageView, error)

	// CountPageViewsSince counts page views recorded at or after since.
	CountPageViewsSince(ctx context.Context, since time.Time) (int64, error)

	// PageViewTrend returns page-view counts grouped by viewedAt for views
	// recorded at or after since, in ascending timestamp order.
	PageViewTrend(ctx context.Context, since time.Time) ([]*TrendPoint, error)

	// CreateInteraction inserts an interaction and assigns its id. The
	// referenced session must exist.
	CreateInteraction(ctx context.Context, interaction *Interaction) error

	// RecentInteractions returns up to limit interactions, newest first,
	// each joined with its owning session.
	RecentInteractions(ctx context.Context, limit int) ([]*Interaction, error)

	// ExpiredSessionIDs returns the ids of sessions that ended strictly
	// before cutoff.
	ExpiredSessionIDs(ctx context.Context, cutoff time.Time) ([]int64, error)

	// DeleteInteractionsBySession bulk-deletes interactions belonging to
	// the given sessions and returns the number removed.
	DeleteInteractionsBySession(ctx context.Context, sessionIDs []int64) (int64, error)

	// DeletePageViewsBySession bulk-deletes page views belonging to the
	// given sessions and returns the number removed.
	DeletePageViewsBySession(ctx context.Context, sessionIDs []int64) (int64, error)

	// DeleteSessions bulk-deletes the given sessions and returns the
	// number removed. Dependents must already be gone; callers delete
	// interactions and page views first to keep every intermediate state
	// referentially valid.
	DeleteSessions(ctx context.Context, sessionIDs []int64) (int64, error)
}
