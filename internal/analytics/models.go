// Package analytics provides the event store models, repository, and the
// aggregation engine that derives streaming snapshots from visitor activity.
package analytics

import (
	"errors"
	"time"
)

// Common errors for event store operations.
var (
	// ErrSessionNotFound is returned when an operation references a session
	// id that does not exist, or a close targets a session that is no
	// longer active.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionWindow is returned when a close would leave a
	// session with ended_at before started_at.
	ErrInvalidSessionWindow = errors.New("session ended_at must not precede started_at")
)

// Session represents one visitor's continuous browsing period.
// A nil UserID means the visitor is anonymous; a nil EndedAt means the
// session is still active.
type Session struct {
	ID        int64      `json:"id"`
	UserID    *string    `json:"userId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
}

// Active reports whether the session has not ended yet.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// PageView represents one page load within a session. Immutable once
// recorded; removed only when its session is purged.
type PageView struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"sessionId"`
	PageURL   string    `json:"pageUrl"`
	PageTitle string    `json:"pageTitle"`
	Referrer  *string   `json:"referrer"`
	ViewedAt  time.Time `json:"viewedAt"`

	// Session is the owning session, populated on joined reads.
	Session *Session `json:"session,omitempty"`
}

// Interaction represents one UI event within a session.
type Interaction struct {
	ID              int64     `json:"id"`
	SessionID       int64     `json:"sessionId"`
	ElementID       string    `json:"elementId"`
	ElementType     string    `json:"elementType"`
	InteractionType string    `json:"interactionType"`
	InteractedAt    time.Time `json:"interactedAt"`

	// Session is the owning session, populated on joined reads.
	Session *Session `json:"session,omitempty"`
}

// TrendPoint is one bucket of the page-view trend: the number of page
// views recorded at a given viewedAt timestamp.
type TrendPoint struct {
	ViewedAt time.Time `json:"viewedAt"`
	Count    int64     `json:"count"`
}

// DailyStats bundles the derived statistics for the current calendar day.
type DailyStats struct {
	TotalPageViews      int64   `json:"totalPageViews"`
	ActiveSessionsCount int64   `json:"activeSessionsCount"`
	UniqueUsers         int64   `json:"uniqueUsers"`
	AvgSessionDuration  float64 `json:"avgSessionDuration"`
}

// Snapshot is the full derived analytics payload pushed to streaming
// subscribers. It is regenerated from the store on every push and never
// partially updated.
type Snapshot struct {
	PageViews      []*PageView    `json:"pageViews"`
	ActiveSessions []*Session     `json:"activeSessions"`
	Interactions   []*Interaction `json:"interactions"`
	PageViewTrend  []*TrendPoint  `json:"pageViewTrend"`
	DailyStats     DailyStats     `json:"dailyStats"`
}
