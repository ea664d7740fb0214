package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/vantage/internal/tracing"
)

// PostgresStore implements Store using PostgreSQL. Single statements only;
// there are no multi-statement transactions, matching the documented
// consistency model of the pipeline. The retention sweeper keeps
// referential validity structurally by deleting dependents before parents.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres-backed event store.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Schema is the conceptual schema for the event store. Deletion order is
// enforced in code; the foreign keys exist for integrity of direct writes.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS page_views (
	id         BIGSERIAL PRIMARY KEY,
	session_id BIGINT NOT NULL REFERENCES sessions(id),
	page_url   TEXT NOT NULL,
	page_title TEXT NOT NULL,
	referrer   TEXT,
	viewed_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS interactions (
	id               BIGSERIAL PRIMARY KEY,
	session_id       BIGINT NOT NULL REFERENCES sessions(id),
	element_id       TEXT NOT NULL,
	element_type     TEXT NOT NULL,
	interaction_type TEXT NOT NULL,
	interacted_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions (ended_at);
CREATE INDEX IF NOT EXISTS idx_page_views_viewed_at ON page_views (viewed_at);
CREATE INDEX IF NOT EXISTS idx_interactions_interacted_at ON interactions (interacted_at);
`

// EnsureSchema creates the event store tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// CreateSession inserts a new session and assigns its id.
func (s *PostgresStore) CreateSession(ctx context.Context, session *Session) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sessions", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}

	query := `
		INSERT INTO sessions (user_id, started_at, ended_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query, session.UserID, session.StartedAt, session.EndedAt).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// CloseSession ends an active session, imposing the given window.
func (s *PostgresStore) CloseSession(ctx context.Context, id int64, startedAt, endedAt time.Time) (err error) {
	if endedAt.Before(startedAt) {
		return ErrInvalidSessionWindow
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "sessions", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	query := `
		UPDATE sessions
		SET started_at = $2, ended_at = $3
		WHERE id = $1 AND ended_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, id, startedAt, endedAt)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ActiveSessions returns up to limit active sessions, most recently started first.
func (s *PostgresStore) ActiveSessions(ctx context.Context, limit int) ([]*Session, error) {
	query := `
		SELECT id, user_id, started_at, ended_at
		FROM sessions
		WHERE ended_at IS NULL
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// CountActiveSessions returns the number of sessions with no end time.
func (s *PostgresStore) CountActiveSessions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

// EndedSessionsSince returns up to limit sessions ended at or after since,
// most recently ended first.
func (s *PostgresStore) EndedSessionsSince(ctx context.Context, since time.Time, limit int) ([]*Session, error) {
	query := `
		SELECT id, user_id, started_at, ended_at
		FROM sessions
		WHERE ended_at IS NOT NULL AND ended_at >= $1
		ORDER BY ended_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ended sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// CountSessionsStartedSince counts sessions started at or after since.
func (s *PostgresStore) CountSessionsStartedSince(ctx context.Context, since time.Time, identifiedOnly bool) (int64, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE started_at >= $1`
	if identifiedOnly {
		query += ` AND user_id IS NOT NULL`
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, query, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// CreatePageView inserts a page view and assigns its id.
func (s *PostgresStore) CreatePageView(ctx context.Context, view *PageView) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "page_views", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if view.ViewedAt.IsZero() {
		view.ViewedAt = time.Now()
	}

	query := `
		INSERT INTO page_views (session_id, page_url, page_title, referrer, viewed_at)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = $1)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		view.SessionID, view.PageURL, view.PageTitle, view.Referrer, view.ViewedAt).Scan(&view.ID)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to insert page view: %w", err)
	}
	return nil
}

// RecentPageViews returns up to limit page views, newest first, joined with
// their owning sessions.
func (s *PostgresStore) RecentPageViews(ctx context.Context, limit int) ([]*PageView, error) {
	query := `
		SELECT pv.id, pv.session_id, pv.page_url, pv.page_title, pv.referrer, pv.viewed_at,
		       s.id, s.user_id, s.started_at, s.ended_at
		FROM page_views pv
		JOIN sessions s ON s.id = pv.session_id
		ORDER BY pv.viewed_at DESC, pv.id DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent page views: %w", err)
	}
	defer rows.Close()

	views := []*PageView{}
	for rows.Next() {
		var view PageView
		var session Session
		if err := rows.Scan(
			&view.ID, &view.SessionID, &view.PageURL, &view.PageTitle, &view.Referrer, &view.ViewedAt,
			&session.ID, &session.UserID, &session.StartedAt, &session.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan page view: %w", err)
		}
		view.Session = &session
		views = append(views, &view)
	}
	return views, rows.Err()
}

// CountPageViewsSince counts page views recorded at or after since.
func (s *PostgresStore) CountPageViewsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM page_views WHERE viewed_at >= $1`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count page views: %w", err)
	}
	return count, nil
}

// PageViewTrend returns page-view counts grouped by viewedAt, ascending.
func (s *PostgresStore) PageViewTrend(ctx context.Context, since time.Time) ([]*TrendPoint, error) {
	query := `
		SELECT viewed_at, COUNT(*)
		FROM page_views
		WHERE viewed_at >= $1
		GROUP BY viewed_at
		ORDER BY viewed_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query page view trend: %w", err)
	}
	defer rows.Close()

	trend := []*TrendPoint{}
	for rows.Next() {
		var point TrendPoint
		if err := rows.Scan(&point.ViewedAt, &point.Count); err != nil {
			return nil, fmt.Errorf("failed to scan trend point: %w", err)
		}
		trend = append(trend, &point)
	}
	return trend, rows.Err()
}

// CreateInteraction inserts an interaction and assigns its id.
func (s *PostgresStore) CreateInteraction(ctx context.Context, interaction *Interaction) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "interactions", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if interaction.InteractedAt.IsZero() {
		interaction.InteractedAt = time.Now()
	}

	query := `
		INSERT INTO interactions (session_id, element_id, element_type, interaction_type, interacted_at)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = $1)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		interaction.SessionID, interaction.ElementID, interaction.ElementType,
		interaction.InteractionType, interaction.InteractedAt).Scan(&interaction.ID)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

// RecentInteractions returns up to limit interactions, newest first, joined
// with their owning sessions.
func (s *PostgresStore) RecentInteractions(ctx context.Context, limit int) ([]*Interaction, error) {
	query := `
		SELECT i.id, i.session_id, i.element_id, i.element_type, i.interaction_type, i.interacted_at,
		       s.id, s.user_id, s.started_at, s.ended_at
		FROM interactions i
		JOIN sessions s ON s.id = i.session_id
		ORDER BY i.interacted_at DESC, i.id DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent interactions: %w", err)
	}
	defer rows.Close()

	interactions := []*Interaction{}
	for rows.Next() {
		var interaction Interaction
		var session Session
		if err := rows.Scan(
			&interaction.ID, &interaction.SessionID, &interaction.ElementID,
			&interaction.ElementType, &interaction.InteractionType, &interaction.InteractedAt,
			&session.ID, &session.UserID, &session.StartedAt, &session.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		interaction.Session = &session
		interactions = append(interactions, &interaction)
	}
	return interactions, rows.Err()
}

// ExpiredSessionIDs returns the ids of sessions that ended strictly before cutoff.
func (s *PostgresStore) ExpiredSessionIDs(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := `
		SELECT id FROM sessions
		WHERE ended_at IS NOT NULL AND ended_at < $1
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteInteractionsBySession bulk-deletes interactions for the given sessions.
func (s *PostgresStore) DeleteInteractionsBySession(ctx context.Context, sessionIDs []int64) (int64, error) {
	return s.deleteBySession(ctx, "interactions", `DELETE FROM interactions WHERE session_id = ANY($1)`, sessionIDs)
}

// DeletePageViewsBySession bulk-deletes page views for the given sessions.
func (s *PostgresStore) DeletePageViewsBySession(ctx context.Context, sessionIDs []int64) (int64, error) {
	return s.deleteBySession(ctx, "page_views", `DELETE FROM page_views WHERE session_id = ANY($1)`, sessionIDs)
}

// DeleteSessions bulk-deletes the given sessions.
func (s *PostgresStore) DeleteSessions(ctx context.Context, sessionIDs []int64) (int64, error) {
	return s.deleteBySession(ctx, "sessions", `DELETE FROM sessions WHERE id = ANY($1)`, sessionIDs)
}

func (s *PostgresStore) deleteBySession(ctx context.Context, table, query string, sessionIDs []int64) (n int64, err error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	result, err := s.db.ExecContext(ctx, query, pq.Array(sessionIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to bulk delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.Warn("failed to get rows affected count",
			slog.String("error", err.Error()))
		return 0, nil
	}
	return affected, nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	sessions := []*Session{}
	for rows.Next() {
		var session Session
		if err := rows.Scan(&session.ID, &session.UserID, &session.StartedAt, &session.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}
