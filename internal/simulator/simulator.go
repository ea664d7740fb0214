// Package simulator fabricates realistic visitor traffic so the pipeline
// has non-trivial data to aggregate during development. It shares the
// event store's consistency model with production ingestion: every write
// is a single atomic store operation and a failed step never aborts the
// tick.
package simulator

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/vantage/internal/analytics"
)

// Per-tick traffic shape. The probabilities mirror organic anonymous-heavy
// site traffic.
const (
	minNewSessions = 2
	maxNewSessions = 5
	minPageViews   = 1
	maxPageViews   = 5

	interactionProb  = 0.7
	minInteractions  = 1
	maxInteractions  = 3
	activeFetchLimit = 10
	endSessionProb   = 0.2
	addPageViewProb  = 0.4
	addInteractProb  = 0.3
	inlineSweepProb  = 0.5
	minDurationSec   = 30
	maxDurationSec   = 900
)

// pageCatalog is the fixed set of pages simulated visitors can load.
var pageCatalog = []struct {
	url   string
	title string
}{
	{"/", "Home"},
	{"/features", "Features"},
	{"/pricing", "Pricing"},
	{"/blog", "Blog"},
	{"/docs", "Documentation"},
	{"/about", "About Us"},
	{"/contact", "Contact"},
}

// userPool is the candidate user ids; empty entries produce anonymous
// sessions and deliberately outweigh identified ones.
var userPool = []string{
	"", "", "", "", "",
	"user-1001", "user-1002", "user-1003", "user-1004",
}

// referrerPool is weighted toward direct traffic (empty referrer).
var referrerPool = []string{
	"", "", "", "",
	"https://www.google.com/",
	"https://news.ycombinator.com/",
	"https://twitter.com/",
	"https://www.bing.com/",
}

// elementCatalog is the fixed set of UI elements visitors interact with.
var elementCatalog = []struct {
	id  string
	typ string
}{
	{"signup-button", "button"},
	{"nav-home", "link"},
	{"search-input", "input"},
	{"pricing-toggle", "toggle"},
	{"demo-video", "video"},
	{"newsletter-form", "form"},
}

var interactionTypes = []string{"click", "hover", "focus", "submit", "scroll"}

// SweepFunc purges expired sessions; the simulator invokes it inline with
// probability 0.5 per tick.
type SweepFunc func(ctx context.Context) (int, error)

// Simulator fabricates session lifecycles on a fixed tick.
// One instance runs per process, only in development mode.
type Simulator struct {
	store    analytics.Store
	sweep    SweepFunc
	logger   *slog.Logger
	metrics  *Metrics
	interval time.Duration
	now      func() time.Time

	// rng is only touched from the tick goroutine (or a test driving
	// Tick directly), never concurrently.
	rng *rand.Rand

	stopChan chan struct{}
	doneChan chan struct{}
}

// Config contains configuration for the simulator.
type Config struct {
	// Interval is the tick period. Default: 3 seconds.
	Interval time.Duration

	// Sweep is the inline retention sweep; nil disables step 5.
	Sweep SweepFunc

	// Rand is the random source; defaults to a time-seeded source.
	// Tests use a fixed seed to assert exact counts and branches.
	Rand *rand.Rand

	// Now is the time source; defaults to time.Now.
	Now func() time.Time

	// Metrics are optional simulator metrics.
	Metrics *Metrics
}

// New creates a new activity simulator over the given store.
func New(store analytics.Store, logger *slog.Logger, cfg Config) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Simulator{
		store:    store,
		sweep:    cfg.Sweep,
		logger:   logger,
		metrics:  cfg.Metrics,
		interval: cfg.Interval,
		now:      cfg.Now,
		rng:      cfg.Rand,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the simulator loop in a background goroutine.
func (s *Simulator) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop gracefully stops the simulator loop.
func (s *Simulator) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

// run executes the tick loop. The interval is best-effort: a slow tick
// delays the next one rather than overlapping it.
func (s *Simulator) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("activity simulator started",
		slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("activity simulator stopping due to context cancellation")
			return
		case <-s.stopChan:
			s.logger.Info("activity simulator stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full simulation step: create new sessions with page views
// and interactions, mutate a batch of currently active sessions, and
// maybe sweep. Every store failure is caught and logged; the tick always
// runs to completion and never propagates an error.
func (s *Simulator) Tick(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.IncTicks()
	}

	newSessions := s.intBetween(minNewSessions, maxNewSessions)
	for i := 0; i < newSessions; i++ {
		s.spawnSession(ctx)
	}

	s.mutateActiveSessions(ctx)

	if s.sweep != nil && s.rng.Float64() < inlineSweepProb {
		if _, err := s.sweep(ctx); err != nil {
			s.fail("inline sweep failed", err)
		}
	}
}

// spawnSession creates one session with its initial page views and,
// usually, a few interactions.
func (s *Simulator) spawnSession(ctx context.Context) {
	session := &analytics.Session{
		UserID:    s.pickUser(),
		StartedAt: s.now(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		s.fail("failed to create session", err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncSessionsCreated()
	}

	pageViews := s.intBetween(minPageViews, maxPageViews)
	for i := 0; i < pageViews; i++ {
		s.addPageView(ctx, session.ID)
	}

	if s.rng.Float64() < interactionProb {
		interactions := s.intBetween(minInteractions, maxInteractions)
		for i := 0; i < interactions; i++ {
			s.addInteraction(ctx, session.ID)
		}
	}
}

// mutateActiveSessions ends or extends a batch of active sessions. The
// end-check and the activity checks are sequential independent draws, not
// an exclusive choice: a session can fail the end-check and still receive
// no activity at all.
func (s *Simulator) mutateActiveSessions(ctx context.Context) {
	active, err := s.store.ActiveSessions(ctx, activeFetchLimit)
	if err != nil {
		s.fail("failed to fetch active sessions", err)
		return
	}

	now := s.now()
	for _, session := range active {
		if s.rng.Float64() < endSessionProb {
			// Impose a bounded duration retroactively so the
			// duration statistics stay within range.
			duration := time.Duration(s.intBetween(minDurationSec, maxDurationSec)) * time.Second
			if err := s.store.CloseSession(ctx, session.ID, now.Add(-duration), now); err != nil {
				s.fail("failed to close session", err)
			} else if s.metrics != nil {
				s.metrics.IncSessionsEnded()
			}
			continue
		}

		if s.rng.Float64() < addPageViewProb {
			s.addPageView(ctx, session.ID)
			if s.rng.Float64() < addInteractProb {
				s.addInteraction(ctx, session.ID)
			}
		}
	}
}

func (s *Simulator) addPageView(ctx context.Context, sessionID int64) {
	page := pageCatalog[s.rng.Intn(len(pageCatalog))]
	view := &analytics.PageView{
		SessionID: sessionID,
		PageURL:   page.url,
		PageTitle: page.title,
		Referrer:  s.pickReferrer(),
		ViewedAt:  s.now(),
	}
	if err := s.store.CreatePageView(ctx, view); err != nil {
		s.fail("failed to create page view", err)
	}
}

func (s *Simulator) addInteraction(ctx context.Context, sessionID int64) {
	element := elementCatalog[s.rng.Intn(len(elementCatalog))]
	interaction := &analytics.Interaction{
		SessionID:       sessionID,
		ElementID:       element.id,
		ElementType:     element.typ,
		InteractionType: interactionTypes[s.rng.Intn(len(interactionTypes))],
		InteractedAt:    s.now(),
	}
	if err := s.store.CreateInteraction(ctx, interaction); err != nil {
		s.fail("failed to create interaction", err)
	}
}

// pickUser draws from the candidate pool; empty entries become anonymous.
func (s *Simulator) pickUser() *string {
	user := userPool[s.rng.Intn(len(userPool))]
	if user == "" {
		return nil
	}
	return &user
}

// pickReferrer draws from the referrer pool; empty entries become direct.
func (s *Simulator) pickReferrer() *string {
	referrer := referrerPool[s.rng.Intn(len(referrerPool))]
	if referrer == "" {
		return nil
	}
	return &referrer
}

// intBetween returns a uniform int in [min, max].
func (s *Simulator) intBetween(min, max int) int {
	return min + s.rng.Intn(max-min+1)
}

func (s *Simulator) fail(msg string, err error) {
	if s.metrics != nil {
		s.metrics.IncErrors()
	}
	s.logger.Error(msg, slog.String("error", err.Error()))
}
