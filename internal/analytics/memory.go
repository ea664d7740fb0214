package analytics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store.
// Thread-safe via RWMutex. It backs tests and the default development
// setup when no DATABASE_URL is configured.
type MemoryStore struct {
	mu           sync.RWMutex
	sessions     map[int64]*Session
	pageViews    map[int64]*PageView
	interactions map[int64]*Interaction

	nextSessionID     int64
	nextPageViewID    int64
	nextInteractionID int64
}

// NewMemoryStore creates a new empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[int64]*Session),
		pageViews:    make(map[int64]*PageView),
		interactions: make(map[int64]*Interaction),
	}
}

// CreateSession inserts a new session and assigns its id.
func (s *MemoryStore) CreateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSessionID++
	session.ID = s.nextSessionID
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}

	sessionCopy := *session
	s.sessions[sessionCopy.ID] = &sessionCopy
	return nil
}

// CloseSession ends an active session, imposing the given window.
func (s *MemoryStore) CloseSession(_ context.Context, id int64, startedAt, endedAt time.Time) error {
	if endedAt.Before(startedAt) {
		return ErrInvalidSessionWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.EndedAt != nil {
		return ErrSessionNotFound
	}

	session.StartedAt = startedAt
	end := endedAt
	session.EndedAt = &end
	return nil
}

// ActiveSessions returns up to limit active sessions, most recently started first.
func (s *MemoryStore) ActiveSessions(_ context.Context, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Session
	for _, session := range s.sessions {
		if session.EndedAt == nil {
			result = append(result, copySession(session))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	if result == nil {
		result = []*Session{}
	}
	return result, nil
}

// CountActiveSessions returns the number of sessions with no end time.
func (s *MemoryStore) CountActiveSessions(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, session := range s.sessions {
		if session.EndedAt == nil {
			count++
		}
	}
	return count, nil
}

// EndedSessionsSince returns up to limit sessions that ended at or after
// since, most recently ended first.
func (s *MemoryStore) EndedSessionsSince(_ context.Context, since time.Time, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Session
	for _, session := range s.sessions {
		if session.EndedAt != nil && !session.EndedAt.Before(since) {
			result = append(result, copySession(session))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EndedAt.Equal(*result[j].EndedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].EndedAt.After(*result[j].EndedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	if result == nil {
		result = []*Session{}
	}
	return result, nil
}

// CountSessionsStartedSince counts sessions started at or after since.
func (s *MemoryStore) CountSessionsStartedSince(_ context.Context, since time.Time, identifiedOnly bool) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, session := range s.sessions {
		if session.StartedAt.Before(since) {
			continue
		}
		if identifiedOnly && session.UserID == nil {
			continue
		}
		count++
	}
	return count, nil
}

// CreatePageView inserts a page view and assigns its id.
func (s *MemoryStore) CreatePageView(_ context.Context, view *PageView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[view.SessionID]; !ok {
		return ErrSessionNotFound
	}

	s.nextPageViewID++
	view.ID = s.nextPageViewID
	if view.ViewedAt.IsZero() {
		view.ViewedAt = time.Now()
	}

	viewCopy := *view
	viewCopy.Session = nil
	s.pageViews[viewCopy.ID] = &viewCopy
	return nil
}

// RecentPageViews returns up to limit page views, newest first, joined with
// their owning sessions.
func (s *MemoryStore) RecentPageViews(_ context.Context, limit int) ([]*PageView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*PageView
	for _, view := range s.pageViews {
		v := *view
		if view.Referrer != nil {
			ref := *view.Referrer
			v.Referrer = &ref
		}
		if session, ok := s.sessions[view.SessionID]; ok {
			v.Session = copySession(session)
		}
		result = append(result, &v)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ViewedAt.Equal(result[j].ViewedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].ViewedAt.After(result[j].ViewedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	if result == nil {
		result = []*PageView{}
	}
	return result, nil
}

// CountPageViewsSince counts page views recorded at or after since.
func (s *MemoryStore) CountPageViewsSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, view := range s.pageViews {
		if !view.ViewedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// PageViewTrend returns page-view counts grouped by viewedAt, ascending.
func (s *MemoryStore) PageViewTrend(_ context.Context, since time.Time) ([]*TrendPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := make(map[time.Time]int64)
	for _, view := range s.pageViews {
		if !view.ViewedAt.Before(since) {
			buckets[view.ViewedAt]++
		}
	}

	result := make([]*TrendPoint, 0, len(buckets))
	for at, count := range buckets {
		result = append(result, &TrendPoint{ViewedAt: at, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ViewedAt.Before(result[j].ViewedAt)
	})
	return result, nil
}

// CreateInteraction inserts an interaction and assigns its id.
func (s *MemoryStore) CreateInteraction(_ context.Context, interaction *Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[interaction.SessionID]; !ok {
		return ErrSessionNotFound
	}

	s.nextInteractionID++
	interaction.ID = s.nextInteractionID
	if interaction.InteractedAt.IsZero() {
		interaction.InteractedAt = time.Now()
	}

	interactionCopy := *interaction
	interactionCopy.Session = nil
	s.interactions[interactionCopy.ID] = &interactionCopy
	return nil
}

// RecentInteractions returns up to limit interactions, newest first, joined
// with their owning sessions.
func (s *MemoryStore) RecentInteractions(_ context.Context, limit int) ([]*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Interaction
	for _, interaction := range s.interactions {
		in := *interaction
		if session, ok := s.sessions[interaction.SessionID]; ok {
			in.Session = copySession(session)
		}
		result = append(result, &in)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].InteractedAt.Equal(result[j].InteractedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].InteractedAt.After(result[j].InteractedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	if result == nil {
		result = []*Interaction{}
	}
	return result, nil
}

// ExpiredSessionIDs returns the ids of sessions that ended strictly before cutoff.
func (s *MemoryStore) ExpiredSessionIDs(_ context.Context, cutoff time.Time) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for _, session := range s.sessions {
		if session.EndedAt != nil && session.EndedAt.Before(cutoff) {
			ids = append(ids, session.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// DeleteInteractionsBySession bulk-deletes interactions for the given sessions.
func (s *MemoryStore) DeleteInteractionsBySession(_ context.Context, sessionIDs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := idSet(sessionIDs)
	var removed int64
	for id, interaction := range s.interactions {
		if members[interaction.SessionID] {
			delete(s.interactions, id)
			removed++
		}
	}
	return removed, nil
}

// DeletePageViewsBySession bulk-deletes page views for the given sessions.
func (s *MemoryStore) DeletePageViewsBySession(_ context.Context, sessionIDs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := idSet(sessionIDs)
	var removed int64
	for id, view := range s.pageViews {
		if members[view.SessionID] {
			delete(s.pageViews, id)
			removed++
		}
	}
	return removed, nil
}

// DeleteSessions bulk-deletes the given sessions.
func (s *MemoryStore) DeleteSessions(_ context.Context, sessionIDs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for _, id := range sessionIDs {
		if _, ok := s.sessions[id]; ok {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// copySession returns a deep copy so callers never share internal state.
func copySession(session *Session) *Session {
	sessionCopy := *session
	if session.UserID != nil {
		uid := *session.UserID
		sessionCopy.UserID = &uid
	}
	if session.EndedAt != nil {
		end := *session.EndedAt
		sessionCopy.EndedAt = &end
	}
	return &sessionCopy
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
