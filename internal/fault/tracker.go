package fault

import (
	"sort"
	"sync"
	"time"
)

// Record describes the most recent failed fetch for an inverter.
type Record struct {
	InverterID  string    `json:"inverter_id"`
	DisplayName string    `json:"name"`
	Message     string    `json:"message"`
	At          time.Time `json:"timestamp"`
}

// Tracker keeps at most one Record per inverter, cleared on the next success.
type Tracker struct {
	mu      sync.RWMutex
	now     func() time.Time
	records map[string]Record
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:     now,
		records: make(map[string]Record),
	}
}

// RecordFailure replaces any prior record for id.
func (t *Tracker) RecordFailure(id, displayName, message string) Record {
	rec := Record{
		InverterID:  id,
		DisplayName: displayName,
		Message:     message,
		At:          t.now(),
	}

	t.mu.Lock()
	t.records[id] = rec
	t.mu.Unlock()
	return rec
}

func (t *Tracker) Clear(id string) {
	t.mu.Lock()
	delete(t.records, id)
	t.mu.Unlock()
}

func (t *Tracker) Get(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	return rec, ok
}

// All returns the current records ordered by inverter ID.
func (t *Tracker) All() []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].InverterID < out[j].InverterID
	})
	return out
}
