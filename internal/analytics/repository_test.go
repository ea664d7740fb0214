package analytics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func strPtr(s string) *string {
	return &s
}

func TestMemoryStore_CreateSession_AssignsIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &Session{StartedAt: time.Now()}
	second := &Session{UserID: strPtr("user-1"), StartedAt: time.Now()}

	if err := store.CreateSession(ctx, first); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := store.CreateSession(ctx, second); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if first.ID == 0 || second.ID == 0 {
		t.Error("expected store-assigned ids")
	}
	if first.ID == second.ID {
		t.Errorf("expected distinct ids, got %d twice", first.ID)
	}
}

func TestMemoryStore_CreatePageView_RequiresSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.CreatePageView(ctx, &PageView{
		SessionID: 42,
		PageURL:   "/",
		PageTitle: "Home",
		ViewedAt:  time.Now(),
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryStore_CreateInteraction_RequiresSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.CreateInteraction(ctx, &Interaction{
		SessionID:       7,
		ElementID:       "signup-button",
		ElementType:     "button",
		InteractionType: "click",
		InteractedAt:    time.Now(),
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryStore_CloseSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	session := &Session{StartedAt: now.Add(-time.Minute)}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	// Retroactive window: started 5 minutes ago, ended now.
	startedAt := now.Add(-5 * time.Minute)
	if err := store.CloseSession(ctx, session.ID, startedAt, now); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}

	active, err := store.ActiveSessions(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list active sessions: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active sessions after close, got %d", len(active))
	}

	// A second close must fail: the session is no longer active.
	if err := store.CloseSession(ctx, session.ID, startedAt, now); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on double close, got %v", err)
	}
}

func TestMemoryStore_CloseSession_RejectsInvertedWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	session := &Session{StartedAt: now}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	err := store.CloseSession(ctx, session.ID, now, now.Add(-time.Second))
	if !errors.Is(err, ErrInvalidSessionWindow) {
		t.Errorf("expected ErrInvalidSessionWindow, got %v", err)
	}
}

func TestMemoryStore_ActiveSessions_Ordering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		session := &Session{StartedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.CreateSession(ctx, session); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
	}

	active, err := store.ActiveSessions(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list active sessions: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected limit of 2 sessions, got %d", len(active))
	}
	if !active[0].StartedAt.After(active[1].StartedAt) {
		t.Error("expected most recently started session first")
	}
}

func TestMemoryStore_RecentPageViews_JoinsSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	session := &Session{UserID: strPtr("user-1"), StartedAt: now}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	for i := 0; i < 12; i++ {
		view := &PageView{
			SessionID: session.ID,
			PageURL:   "/pricing",
			PageTitle: "Pricing",
			ViewedAt:  now.Add(time.Duration(i) * time.Second),
		}
		if err := store.CreatePageView(ctx, view); err != nil {
			t.Fatalf("failed to create page view: %v", err)
		}
	}

	views, err := store.RecentPageViews(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list page views: %v", err)
	}
	if len(views) != 10 {
		t.Fatalf("expected 10 page views, got %d", len(views))
	}
	for i := 1; i < len(views); i++ {
		if views[i].ViewedAt.After(views[i-1].ViewedAt) {
			t.Fatal("expected page views in descending viewedAt order")
		}
	}
	if views[0].Session == nil {
		t.Fatal("expected joined session on page view")
	}
	if views[0].Session.ID != session.ID {
		t.Errorf("expected session id %d, got %d", session.ID, views[0].Session.ID)
	}
}

func TestMemoryStore_PageViewTrend_GroupsAndSorts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	session := &Session{StartedAt: base}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	// Two views share a timestamp, one is later, one is outside the window.
	timestamps := []time.Time{base, base, base.Add(time.Minute), base.Add(-8 * 24 * time.Hour)}
	for _, at := range timestamps {
		view := &PageView{SessionID: session.ID, PageURL: "/", PageTitle: "Home", ViewedAt: at}
		if err := store.CreatePageView(ctx, view); err != nil {
			t.Fatalf("failed to create page view: %v", err)
		}
	}

	trend, err := store.PageViewTrend(ctx, base.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("failed to query trend: %v", err)
	}
	if len(trend) != 2 {
		t.Fatalf("expected 2 trend buckets, got %d", len(trend))
	}
	if !trend[0].ViewedAt.Before(trend[1].ViewedAt) {
		t.Error("expected ascending trend order")
	}
	if trend[0].Count != 2 {
		t.Errorf("expected shared-timestamp bucket count 2, got %d", trend[0].Count)
	}
	if trend[1].Count != 1 {
		t.Errorf("expected single bucket count 1, got %d", trend[1].Count)
	}
}

func TestMemoryStore_EndedSessionsSince_Ordering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	var ids []int64
	for i := 0; i < 3; i++ {
		session := &Session{StartedAt: now.Add(-time.Hour)}
		if err := store.CreateSession(ctx, session); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		ids = append(ids, session.ID)
	}
	for i, id := range ids {
		endedAt := now.Add(time.Duration(-i) * time.Minute)
		if err := store.CloseSession(ctx, id, endedAt.Add(-time.Minute), endedAt); err != nil {
			t.Fatalf("failed to close session: %v", err)
		}
	}

	ended, err := store.EndedSessionsSince(ctx, now.Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatalf("failed to list ended sessions: %v", err)
	}
	if len(ended) != 3 {
		t.Fatalf("expected 3 ended sessions, got %d", len(ended))
	}
	for i := 1; i < len(ended); i++ {
		if ended[i].EndedAt.After(*ended[i-1].EndedAt) {
			t.Fatal("expected most recently ended session first")
		}
	}
}

func TestMemoryStore_Deletes_CascadeOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	session := &Session{StartedAt: now}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	view := &PageView{SessionID: session.ID, PageURL: "/", PageTitle: "Home", ViewedAt: now}
	if err := store.CreatePageView(ctx, view); err != nil {
		t.Fatalf("failed to create page view: %v", err)
	}
	interaction := &Interaction{
		SessionID: session.ID, ElementID: "nav-home",
		ElementType: "link", InteractionType: "click", InteractedAt: now,
	}
	if err := store.CreateInteraction(ctx, interaction); err != nil {
		t.Fatalf("failed to create interaction: %v", err)
	}

	ids := []int64{session.ID}
	if n, err := store.DeleteInteractionsBySession(ctx, ids); err != nil || n != 1 {
		t.Fatalf("expected 1 interaction deleted, got %d (%v)", n, err)
	}
	if n, err := store.DeletePageViewsBySession(ctx, ids); err != nil || n != 1 {
		t.Fatalf("expected 1 page view deleted, got %d (%v)", n, err)
	}
	if n, err := store.DeleteSessions(ctx, ids); err != nil || n != 1 {
		t.Fatalf("expected 1 session deleted, got %d (%v)", n, err)
	}

	// Nothing left behind.
	views, err := store.RecentPageViews(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list page views: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("expected no page views after cascade, got %d", len(views))
	}
}

func TestMemoryStore_ExpiredSessionIDs_StrictCutoff(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	cutoff := now.Add(-15 * time.Minute)

	// Ended exactly at the cutoff: not expired (strictly before).
	atCutoff := &Session{StartedAt: cutoff.Add(-time.Minute)}
	if err := store.CreateSession(ctx, atCutoff); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := store.CloseSession(ctx, atCutoff.ID, cutoff.Add(-time.Minute), cutoff); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}

	// Ended 20 minutes ago: expired.
	old := &Session{StartedAt: now.Add(-time.Hour)}
	if err := store.CreateSession(ctx, old); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := store.CloseSession(ctx, old.ID, now.Add(-time.Hour), now.Add(-20*time.Minute)); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}

	ids, err := store.ExpiredSessionIDs(ctx, cutoff)
	if err != nil {
		t.Fatalf("failed to query expired ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != old.ID {
		t.Errorf("expected only session %d expired, got %v", old.ID, ids)
	}
}

func TestMemoryStore_CountSessionsStartedSince(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	dayStart := now.Add(-time.Hour)

	sessions := []*Session{
		{UserID: strPtr("user-1"), StartedAt: now},
		{UserID: nil, StartedAt: now},
		{UserID: strPtr("user-2"), StartedAt: dayStart.Add(-time.Hour)}, // yesterday
	}
	for _, session := range sessions {
		if err := store.CreateSession(ctx, session); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
	}

	all, err := store.CountSessionsStartedSince(ctx, dayStart, false)
	if err != nil {
		t.Fatalf("failed to count sessions: %v", err)
	}
	if all != 2 {
		t.Errorf("expected 2 sessions today, got %d", all)
	}

	identified, err := store.CountSessionsStartedSince(ctx, dayStart, true)
	if err != nil {
		t.Fatalf("failed to count identified sessions: %v", err)
	}
	if identified != 1 {
		t.Errorf("expected 1 identified session today, got %d", identified)
	}
}

func TestMemoryStore_ReadsReturnCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := &Session{UserID: strPtr("user-1"), StartedAt: time.Now()}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	active, err := store.ActiveSessions(ctx, 1)
	if err != nil {
		t.Fatalf("failed to list active sessions: %v", err)
	}
	*active[0].UserID = "mutated"
	active[0].StartedAt = time.Time{}

	again, err := store.ActiveSessions(ctx, 1)
	if err != nil {
		t.Fatalf("failed to list active sessions: %v", err)
	}
	if *again[0].UserID != "user-1" {
		t.Error("mutation of a read result leaked into the store")
	}
}
