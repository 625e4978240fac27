package coastline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ServiceOptions configures a session service.
type ServiceOptions struct {
	Engine   *Engine
	Sessions SessionStore
	Store    CheckpointStore

	// Geocoder, when set, enriches approved itineraries with coordinates.
	// Enrichment is best effort; a failed lookup leaves the item without
	// coordinates.
	Geocoder Geocoder

	Logger *slog.Logger
	Events EventPublisher

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time
}

// Service is the session manager: it owns the mapping from client-facing
// sessions to workflow threads and enforces the session lifecycle. All thread
// state lives in the checkpoint store; the service itself can be restarted
// freely.
type Service struct {
	engine   *Engine
	sessions SessionStore
	store    CheckpointStore
	geocoder Geocoder
	logger   *slog.Logger
	events   EventPublisher
	clock    func() time.Time
}

// NewService validates the options and returns a ready service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		engine:   opts.Engine,
		sessions: opts.Sessions,
		store:    opts.Store,
		geocoder: opts.Geocoder,
		logger:   logger,
		events:   opts.Events,
		clock:    clock,
	}, nil
}

// ValidatePreferences rejects unusable trip inputs before a session is
// created.
func ValidatePreferences(prefs Preferences) error {
	switch {
	case prefs.Origin == "":
		return NewPlanError(ErrorTypeClientProtocol, "origin is required")
	case len(prefs.Destinations) == 0:
		return NewPlanError(ErrorTypeClientProtocol, "at least one destination is required")
	case prefs.StartDate == "" || prefs.EndDate == "":
		return NewPlanError(ErrorTypeClientProtocol, "start_date and end_date are required")
	case prefs.Travelers < 1:
		return NewPlanError(ErrorTypeClientProtocol, "travelers must be at least 1")
	case prefs.BudgetLimit <= 0:
		return NewPlanError(ErrorTypeClientProtocol, "budget_limit must be positive")
	}
	return nil
}

// Create registers a new session in the processing state without running it.
func (s *Service) Create(ctx context.Context, prefs Preferences) (*Session, error) {
	if err := ValidatePreferences(prefs); err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	session := &Session{
		ID:          NewSessionID(),
		ThreadID:    NewThreadID(),
		Status:      SessionStatusProcessing,
		Preferences: prefs,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(SessionRetention),
	}
	if err := s.sessions.Put(ctx, session); err != nil {
		return nil, WrapError(ErrorTypePersistence, err)
	}
	s.logger.Info("session created", "session_id", session.ID, "thread_id", session.ThreadID)
	return session, nil
}

// Run drives a processing session until it suspends for approval or
// terminates, then records the outcome.
func (s *Service) Run(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionStatusProcessing {
		return nil, NewPlanError(ErrorTypeClientProtocol,
			fmt.Sprintf("session %s is %s, not processing", sessionID, session.Status))
	}
	outcome, err := s.engine.Run(ctx, session.ThreadID, session.Preferences)
	if err != nil {
		s.recordFailure(ctx, session, err)
		return nil, err
	}
	return s.recordOutcome(ctx, session, outcome)
}

// Start creates a session and runs it. Most callers want this; Create and Run
// exist separately so a server can return the session ID before planning
// finishes.
func (s *Service) Start(ctx context.Context, prefs Preferences) (*Session, error) {
	session, err := s.Create(ctx, prefs)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, session.ID)
}

// Decide applies a human decision to a session awaiting a decision and drives
// the thread onward.
func (s *Service) Decide(ctx context.Context, sessionID string, decision Decision) (*Session, error) {
	if err := decision.Validate(); err != nil {
		return nil, err
	}
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionStatusAwaitingDecision {
		return nil, NewPlanError(ErrorTypeClientProtocol,
			fmt.Sprintf("session %s is %s, not awaiting a decision", sessionID, session.Status))
	}
	outcome, err := s.engine.Resume(ctx, session.ThreadID, decision)
	if err != nil {
		if MatchesErrorType(err, ErrorTypeClientProtocol) {
			return nil, err
		}
		s.recordFailure(ctx, session, err)
		return nil, err
	}
	return s.recordOutcome(ctx, session, outcome)
}

// Get returns a session, lazily marking it expired once past retention.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionStatusExpired && !session.ExpiresAt.After(s.clock().UTC()) {
		if _, err := s.expire(ctx, session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// Cancel removes a session and all durable state for its thread. The thread
// ID is tombstoned, so a racing in-flight step fails instead of resurrecting
// the session. Returns the number of checkpoints removed.
func (s *Service) Cancel(ctx context.Context, sessionID string) (int, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	count, err := s.store.DeleteThread(ctx, session.ThreadID)
	if err != nil {
		return 0, WrapError(ErrorTypePersistence, err)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return count, WrapError(ErrorTypePersistence, err)
	}
	s.logger.Info("session cancelled",
		"session_id", sessionID, "thread_id", session.ThreadID, "checkpoints_removed", count)
	return count, nil
}

// ExpireSweep marks every session past retention as expired and removes its
// thread state. Returns the number of sessions swept.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.sessions.ListExpired(ctx, now.UTC())
	if err != nil {
		return 0, WrapError(ErrorTypePersistence, err)
	}
	swept := 0
	for _, session := range expired {
		if session.Status == SessionStatusExpired {
			continue
		}
		if _, err := s.expire(ctx, session); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if err == ErrSessionNotFound {
			return nil, NewPlanError(ErrorTypeClientProtocol, fmt.Sprintf("session %s not found", sessionID))
		}
		return nil, WrapError(ErrorTypePersistence, err)
	}
	return session, nil
}

func (s *Service) expire(ctx context.Context, session *Session) (*Session, error) {
	if _, err := s.store.DeleteThread(ctx, session.ThreadID); err != nil {
		return nil, WrapError(ErrorTypePersistence, err)
	}
	session.Status = SessionStatusExpired
	session.Preview = nil
	session.UpdatedAt = s.clock().UTC()
	if err := s.sessions.Put(ctx, session); err != nil {
		return nil, WrapError(ErrorTypePersistence, err)
	}
	s.logger.Info("session expired", "session_id", session.ID, "thread_id", session.ThreadID)
	return session, nil
}

func (s *Service) recordOutcome(ctx context.Context, session *Session, outcome *Outcome) (*Session, error) {
	now := s.clock().UTC()
	session.UpdatedAt = now
	switch outcome.Status {
	case OutcomeSuspended:
		session.Status = SessionStatusAwaitingDecision
		session.Preview = outcome.Preview
		s.publish(ctx, session.ThreadID, EventAwaitingDecision, outcome.Preview)
	case OutcomeComplete:
		session.Status = SessionStatusComplete
		session.Preview = nil
		session.Result = s.buildResult(ctx, outcome.State)
		s.publish(ctx, session.ThreadID, EventComplete, session.Result)
	case OutcomeFailed:
		session.Status = SessionStatusFailed
		session.Preview = nil
		session.Error = outcome.FailReason
		// A thread that reached a terminal failure has already exhausted
		// its retries.
		s.publish(ctx, session.ThreadID, EventError, map[string]any{
			"error":       outcome.FailReason,
			"recoverable": false,
		})
	default:
		return nil, fmt.Errorf("unexpected outcome status %q", outcome.Status)
	}
	if err := s.sessions.Put(ctx, session); err != nil {
		return nil, WrapError(ErrorTypePersistence, err)
	}
	s.logger.Info("session updated", "session_id", session.ID, "status", session.Status)
	return session, nil
}

func (s *Service) recordFailure(ctx context.Context, session *Session, cause error) {
	session.Status = SessionStatusFailed
	session.Preview = nil
	session.Error = cause.Error()
	session.UpdatedAt = s.clock().UTC()
	if err := s.sessions.Put(ctx, session); err != nil {
		s.logger.Error("failed to record session failure", "session_id", session.ID, "error", err)
	}
	s.publish(ctx, session.ThreadID, EventError, map[string]any{
		"error":       cause.Error(),
		"recoverable": ClassifyError(cause).Recoverable,
	})
}

// buildResult assembles the final plan, enriching item locations with
// coordinates when a geocoder is available.
func (s *Service) buildResult(ctx context.Context, state *PlanState) *PlanResult {
	result := &PlanResult{
		Itinerary:     state.Itinerary,
		CostBreakdown: state.CostBreakdown,
		BudgetVerdict: state.BudgetVerdict,
	}
	if state.TotalCost != nil {
		result.TotalCost = *state.TotalCost
	}
	if s.geocoder != nil && result.Itinerary != nil {
		s.enrichLocations(ctx, result.Itinerary)
	}
	return result
}

func (s *Service) enrichLocations(ctx context.Context, it *Itinerary) {
	for di := range it.Days {
		for ii := range it.Days[di].Items {
			loc := &it.Days[di].Items[ii].Location
			if loc.Lat != nil || (loc.Address == "" && loc.Name == "") {
				continue
			}
			address := loc.Address
			if address == "" {
				address = loc.Name
			}
			geo, err := s.geocoder.Geocode(ctx, address)
			if err != nil {
				s.logger.Warn("geocode lookup failed", "address", address, "error", err)
				continue
			}
			if geo == nil || !geo.Found {
				continue
			}
			lat, lng := geo.Lat, geo.Lng
			loc.Lat = &lat
			loc.Lng = &lng
		}
	}
}

func (s *Service) publish(ctx context.Context, threadID string, eventType EventType, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, Event{Type: eventType, ThreadID: threadID, Data: data})
}
