package coastline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// SessionRetention is how long a session record is kept after creation.
const SessionRetention = 24 * time.Hour

// NewSessionID returns a new prefixed identifier for a session.
func NewSessionID() string {
	id, err := typeid.WithPrefix("session")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewThreadID returns a new prefixed identifier for a workflow thread.
func NewThreadID() string {
	id, err := typeid.WithPrefix("thread")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// SessionStatus represents the session lifecycle status
type SessionStatus string

const (
	SessionStatusProcessing       SessionStatus = "processing"
	SessionStatusAwaitingDecision SessionStatus = "awaiting_decision"
	SessionStatusComplete         SessionStatus = "complete"
	SessionStatusFailed           SessionStatus = "failed"
	SessionStatusExpired          SessionStatus = "expired"
)

// PlanResult is the final product of a completed session.
type PlanResult struct {
	Itinerary     *Itinerary     `json:"itinerary"`
	TotalCost     float64        `json:"total_cost"`
	CostBreakdown *CostBreakdown `json:"cost_breakdown"`
	BudgetVerdict BudgetVerdict  `json:"budget_status"`
	Attempts      int            `json:"attempts,omitempty"`
}

// Session is the client-facing record of one planning request. The thread ID
// links it to the underlying workflow state; the session itself carries only
// what clients poll for.
type Session struct {
	ID          string        `json:"id"`
	ThreadID    string        `json:"thread_id"`
	Status      SessionStatus `json:"status"`
	Preferences Preferences   `json:"preferences"`
	Preview     *Preview      `json:"preview,omitempty"`
	Result      *PlanResult   `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// ErrSessionNotFound is returned when a session ID does not exist or has been
// removed.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists session records. Implementations must be safe for
// concurrent use.
type SessionStore interface {
	// Put upserts a session record.
	Put(ctx context.Context, session *Session) error

	// Get returns a session by ID, or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session record. Deleting a missing session is not an
	// error.
	Delete(ctx context.Context, id string) error

	// ListExpired returns sessions whose expiry is at or before the given
	// time, oldest first.
	ListExpired(ctx context.Context, now time.Time) ([]*Session, error)
}

// MemorySessionStore is an in-memory SessionStore for tests and
// single-process deployments.
type MemorySessionStore struct {
	mutex    sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore returns an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]*Session{}}
}

func (s *MemorySessionStore) Put(ctx context.Context, session *Session) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) ListExpired(ctx context.Context, now time.Time) ([]*Session, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out []*Session
	for _, session := range s.sessions {
		if !session.ExpiresAt.After(now) {
			copied := *session
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}
