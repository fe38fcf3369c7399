// Package session tracks in-flight generations: unique identity, lifecycle
// state, and admission control.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tokenrelay/internal/metrics"
)

// Status is the lifecycle of one generation.
//
//	Pending -> Streaming -> Completed | Failed | Cancelled
type Status int

const (
	Pending Status = iota
	Streaming
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the status releases the session's resources.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

var (
	// ErrSessionCollision means two in-flight generations claimed the same
	// identifier. Identifiers are minted per request, so a collision is an
	// internal invariant failure, not a user error.
	ErrSessionCollision = errors.New("session id already in flight")

	// ErrCapacity means the registry is at its concurrent-generation limit.
	ErrCapacity = errors.New("at capacity")

	errUnknownSession = errors.New("unknown session")
)

// Session is the registry's record of one generation.
type Session struct {
	ID        string
	StartedAt time.Time

	mu     sync.Mutex
	status Status
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Registry owns the set of in-flight sessions. All cross-session state lives
// here; per-session delta state stays with the session's own goroutine.
type Registry struct {
	log       *zap.SugaredLogger
	maxActive int
	mu        sync.Mutex
	active    map[string]*Session
}

func NewRegistry(maxActive int, log *zap.SugaredLogger) *Registry {
	return &Registry{
		log:       log,
		maxActive: maxActive,
		active:    make(map[string]*Session),
	}
}

// Begin admits a new session. Duplicate ids and over-capacity admissions are
// rejected without touching existing sessions.
func (r *Registry) Begin(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionCollision, id)
	}
	if r.maxActive > 0 && len(r.active) >= r.maxActive {
		return nil, fmt.Errorf("%w: %d active generations", ErrCapacity, len(r.active))
	}

	s := &Session{ID: id, StartedAt: time.Now(), status: Pending}
	r.active[id] = s
	metrics.ActiveSessions.Inc()
	return s, nil
}

// MarkStreaming records the first snapshot arrival.
func (r *Registry) MarkStreaming(id string) error {
	r.mu.Lock()
	s, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownSession, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Pending {
		s.status = Streaming
	}
	return nil
}

// Release moves a session into a terminal status and removes it. Calling it
// again for the same id is a no-op, so every exit path can release safely.
func (r *Registry) Release(id string, status Status) {
	if !status.Terminal() {
		r.log.Errorw("Release called with non-terminal status", "session_id", id, "status", status.String())
		status = Failed
	}

	r.mu.Lock()
	s, ok := r.active[id]
	if ok {
		delete(r.active, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.status = status
	elapsed := time.Since(s.StartedAt)
	s.mu.Unlock()

	metrics.ActiveSessions.Dec()
	metrics.SessionDuration.WithLabelValues(status.String()).Observe(elapsed.Seconds())
	r.log.Infow("session released", "session_id", id, "status", status.String(), "duration", elapsed.String())
}

// InFlight returns the number of active sessions.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
