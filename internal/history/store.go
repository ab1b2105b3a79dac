// Package history keeps a short, time-bounded window of readings per inverter.
package history

import (
	"sync"
	"time"

	"solax-monitor/internal/inverter"
)

// DefaultWindow bounds memory while leaving enough span for trend analytics.
const DefaultWindow = 10 * time.Minute

type Entry struct {
	At      time.Time        `json:"timestamp"`
	Reading inverter.Reading `json:"reading"`
}

// Store holds one oldest-first window per inverter ID. Entries leave a
// window only through time-based eviction from the front.
type Store struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[string][]Entry
}

type Option func(*Store)

// WithClock overrides the time source used for eviction.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(window time.Duration, opts ...Option) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Store{
		window:  window,
		now:     time.Now,
		entries: make(map[string][]Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Duration() time.Duration {
	return s.window
}

// Append adds a reading at the back of the window for id. Callers must
// append with non-decreasing timestamps per id.
func (s *Store) Append(id string, at time.Time, reading inverter.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = append(s.entries[id], Entry{At: at, Reading: reading})
	s.evictLocked(id)
}

// Window returns a copy of the retained entries for id, oldest first.
func (s *Store) Window(id string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(id)
	entries := s.entries[id]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

func (s *Store) evictLocked(id string) {
	entries := s.entries[id]
	if len(entries) == 0 {
		return
	}

	cutoff := s.now().Add(-s.window)
	drop := 0
	for drop < len(entries) && entries[drop].At.Before(cutoff) {
		drop++
	}
	if drop == 0 {
		return
	}
	if drop == len(entries) {
		delete(s.entries, id)
		return
	}
	// Copy so the evicted prefix can be collected.
	kept := make([]Entry, len(entries)-drop)
	copy(kept, entries[drop:])
	s.entries[id] = kept
}
