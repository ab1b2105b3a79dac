// Package manager owns the latest reading, rolling history and fault state
// of every monitored inverter and notifies observers of changes.
package manager

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"solax-monitor/internal/fault"
	"solax-monitor/internal/history"
	"solax-monitor/internal/inverter"

	"github.com/google/uuid"
)

type Manager struct {
	mu      sync.RWMutex
	now     func() time.Time
	latest  map[string]inverter.Reading
	history *history.Store
	faults  *fault.Tracker
	events  dispatcher
}

type ManagerConfig struct {
	HistoryWindow time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Analytics summarizes the trend across the retained history window.
type Analytics struct {
	PointsCount int     `json:"pointsCount"`
	LoadTrend   float64 `json:"loadTrend"`
	SOCChange   float64 `json:"socChange"`
	IsCharging  bool    `json:"isCharging"`
}

func NewManager(cfg ManagerConfig) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		now:     now,
		latest:  make(map[string]inverter.Reading),
		history: history.NewStore(cfg.HistoryWindow, history.WithClock(now)),
		faults:  fault.NewTracker(now),
	}
}

// Subscribe registers h for every subsequent update and alert event.
func (m *Manager) Subscribe(h Handler) {
	m.events.subscribe(h)
}

// RecordSuccess normalizes raw, makes it the latest reading for id, clears
// any fault and appends it to the history window.
func (m *Manager) RecordSuccess(id string, raw inverter.RawTelemetry, displayName string) inverter.Reading {
	reading := inverter.Normalize(raw, displayName)

	m.mu.Lock()
	at := m.now()
	m.latest[id] = reading
	m.faults.Clear(id)
	m.history.Append(id, at, reading)
	m.mu.Unlock()

	m.events.emit(Event{
		ID:          uuid.New(),
		Kind:        EventUpdate,
		InverterID:  id,
		DisplayName: displayName,
		Reading:     &reading,
		At:          at,
	})
	return reading
}

// RecordFailure stores a fault for id and raises a CONNECTION_LOST alert.
// The latest reading and history are left untouched.
func (m *Manager) RecordFailure(id, displayName, message string) fault.Record {
	m.mu.Lock()
	rec := m.faults.RecordFailure(id, displayName, message)
	m.mu.Unlock()

	m.events.emit(Event{
		ID:          uuid.New(),
		Kind:        EventAlert,
		AlertType:   AlertConnectionLost,
		InverterID:  id,
		DisplayName: displayName,
		Message:     fmt.Sprintf("%s: connection lost (%s)", displayName, message),
		At:          rec.At,
	})
	return rec
}

func (m *Manager) Latest(id string) (inverter.Reading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.latest[id]
	return r, ok
}

// AllLatest returns the latest reading of every known inverter, ordered by ID.
func (m *Manager) AllLatest() []inverter.Reading {
	ids, readings := m.latestByID()
	out := make([]inverter.Reading, 0, len(ids))
	for _, id := range ids {
		out = append(out, readings[id])
	}
	return out
}

func (m *Manager) History(id string) []history.Entry {
	return m.history.Window(id)
}

func (m *Manager) HistoryWindow() time.Duration {
	return m.history.Duration()
}

// Analytics reports the change between the oldest and newest retained
// readings. It returns false until at least two readings are in the window.
func (m *Manager) Analytics(id string) (Analytics, bool) {
	window := m.history.Window(id)
	if len(window) < 2 {
		return Analytics{}, false
	}

	oldest := window[0].Reading
	newest := window[len(window)-1].Reading
	socChange := newest.StateOfCharge - oldest.StateOfCharge
	return Analytics{
		PointsCount: len(window),
		LoadTrend:   newest.EstimatedLoad() - oldest.EstimatedLoad(),
		SOCChange:   socChange,
		IsCharging:  socChange > 0,
	}, true
}

func (m *Manager) Fault(id string) (fault.Record, bool) {
	return m.faults.Get(id)
}

func (m *Manager) Faults() []fault.Record {
	return m.faults.All()
}

func (m *Manager) latestByID() ([]string, map[string]inverter.Reading) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.latest))
	readings := make(map[string]inverter.Reading, len(m.latest))
	for id, r := range m.latest {
		ids = append(ids, id)
		readings[id] = r
	}
	sort.Strings(ids)
	return ids, readings
}
