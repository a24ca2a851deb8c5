// Package session keeps the per-conversation registration dialogue state.
// Entries live in process memory only and are keyed by the Telegram user id;
// there is no cross-restart durability.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tg_user_directory_bot/internal/logging"
)

// State names the step a conversation's registration dialogue is at. Idle is
// both the initial and the terminal state; a conversation with no entry reads
// as Idle.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingName  State = "awaiting_name"
	StateAwaitingEmail State = "awaiting_email"
)

// DefaultTTL bounds abandoned dialogues; an entry untouched for this long
// reads as Idle and is eligible for eviction.
const DefaultTTL = 30 * time.Minute

// now is overridable for tests.
var now = time.Now

type entry struct {
	state     State
	scratch   map[string]string
	touchedAt time.Time
}

// Store is a TTL-bounded keyed state store. All methods are safe for
// concurrent use; conversations never coordinate across keys.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]*entry
}

// NewStore constructs a Store. A non-positive ttl falls back to DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Store{
		ttl:     ttl,
		entries: make(map[int64]*entry),
	}
}

// StateOf returns the conversation's current state, treating missing or
// expired entries as Idle.
func (s *Store) StateOf(userID int64) State {
	state, _ := s.Current(userID)
	return state
}

// Current returns the conversation's state and a copy of its scratch values.
func (s *Store) Current(userID int64) (State, map[string]string) {
	if s == nil {
		return StateIdle, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(userID)
	if e == nil {
		return StateIdle, nil
	}

	scratch := make(map[string]string, len(e.scratch))
	for key, value := range e.scratch {
		scratch[key] = value
	}

	return e.state, scratch
}

// Enter moves the conversation into state with a fresh scratchpad. A new
// registration trigger mid-dialogue lands here, so the dialogue restarts
// instead of stacking.
func (s *Store) Enter(userID int64, state State) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if state == StateIdle {
		delete(s.entries, userID)
		return
	}

	s.entries[userID] = &entry{
		state:     state,
		scratch:   make(map[string]string),
		touchedAt: now(),
	}
}

// SetState advances the conversation to state, keeping the scratchpad.
// Advancing to Idle clears the entry.
func (s *Store) SetState(userID int64, state State) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if state == StateIdle {
		delete(s.entries, userID)
		return
	}

	e := s.live(userID)
	if e == nil {
		s.entries[userID] = &entry{
			state:     state,
			scratch:   make(map[string]string),
			touchedAt: now(),
		}
		return
	}

	e.state = state
	e.touchedAt = now()
}

// Stash records a captured field value in the conversation's scratchpad.
// A stash against an idle conversation is dropped.
func (s *Store) Stash(userID int64, key, value string) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(userID)
	if e == nil {
		return
	}

	e.scratch[key] = value
	e.touchedAt = now()
}

// Clear removes the conversation's entry.
func (s *Store) Clear(userID int64) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, userID)
}

// Sweep evicts expired entries and reports how many were removed.
func (s *Store) Sweep() int {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now().Add(-s.ttl)
	evicted := 0
	for userID, e := range s.entries {
		if e.touchedAt.Before(cutoff) {
			delete(s.entries, userID)
			evicted++
		}
	}

	return evicted
}

// Run sweeps expired entries at the given interval until the context is
// canceled. Expiry is also checked lazily on every read, so the janitor only
// reclaims memory for dialogues nobody ever resumes.
func (s *Store) Run(ctx context.Context, interval time.Duration, logger *logrus.Entry) {
	if s == nil || ctx == nil {
		return
	}
	if logger == nil {
		logger = logging.Logger()
	}
	if interval <= 0 {
		interval = s.ttl
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.Sweep(); evicted > 0 {
				logger.WithFields(logging.Fields{
					"event":   "session_sweep",
					"evicted": evicted,
				}).Debug("evicted expired registration dialogues")
			}
		}
	}
}

// live returns the entry for userID, deleting and hiding it when expired.
// Callers must hold s.mu.
func (s *Store) live(userID int64) *entry {
	e, ok := s.entries[userID]
	if !ok {
		return nil
	}

	if now().Sub(e.touchedAt) > s.ttl {
		delete(s.entries, userID)
		return nil
	}

	return e
}
