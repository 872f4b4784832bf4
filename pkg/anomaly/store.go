package anomaly

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Persister records anomalies durably.
type Persister interface {
	CreateAnomaly(ctx context.Context, a Anomaly) error
}

// Store is the single chokepoint for anomaly submission. It suppresses
// repeats of the same type inside the cooldown window, keeps a bounded
// in-memory history, persists accepted anomalies, and notifies
// subscribers.
type Store struct {
	mu       sync.Mutex
	lastSeen map[Type]time.Time
	recent   []Anomaly

	cooldown  time.Duration
	maxRecent int

	persister Persister
	dispatch  func(Anomaly)
	logger    zerolog.Logger

	now func() time.Time
}

// NewStore creates an anomaly store. dispatch may be nil when no
// subscriber is wired; persister may be nil in degraded storage-less
// operation.
func NewStore(cooldown time.Duration, maxRecent int, persister Persister, dispatch func(Anomaly), logger zerolog.Logger) *Store {
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	if maxRecent <= 0 {
		maxRecent = 100
	}
	return &Store{
		lastSeen:  make(map[Type]time.Time),
		cooldown:  cooldown,
		maxRecent: maxRecent,
		persister: persister,
		dispatch:  dispatch,
		logger:    logger.With().Str("component", "anomaly-store").Logger(),
		now:       time.Now,
	}
}

// Submit records an anomaly unless one of the same type was accepted
// within the cooldown window. It reports whether the anomaly was
// accepted.
func (s *Store) Submit(ctx context.Context, a Anomaly) bool {
	s.mu.Lock()
	now := s.now()
	if last, ok := s.lastSeen[a.Type]; ok && now.Sub(last) < s.cooldown {
		s.mu.Unlock()
		s.logger.Debug().
			Str("type", string(a.Type)).
			Dur("since_last", now.Sub(last)).
			Msg("Suppressed duplicate anomaly")
		return false
	}
	s.lastSeen[a.Type] = now

	s.recent = append(s.recent, a)
	if len(s.recent) > s.maxRecent {
		s.recent = s.recent[len(s.recent)-s.maxRecent:]
	}
	s.mu.Unlock()

	s.logger.Warn().
		Str("type", string(a.Type)).
		Str("severity", string(a.Severity)).
		Str("description", a.Description).
		Msg("Anomaly detected")

	if s.persister != nil {
		if err := s.persister.CreateAnomaly(ctx, a); err != nil {
			// Persistence failure must not suppress the live alert.
			s.logger.Error().Err(err).Str("type", string(a.Type)).Msg("Failed to persist anomaly")
		}
	}

	if s.dispatch != nil {
		s.dispatch(a)
	}

	return true
}

// Recent returns a copy of the in-memory anomaly history, oldest first.
func (s *Store) Recent() []Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Anomaly, len(s.recent))
	copy(out, s.recent)
	return out
}
