package manager

import (
	"log"
	"sync"
	"time"

	"solax-monitor/internal/inverter"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventUpdate EventKind = "update"
	EventAlert  EventKind = "alert"
)

// AlertConnectionLost is raised when a fetch for an inverter fails.
const AlertConnectionLost = "CONNECTION_LOST"

type Event struct {
	ID          uuid.UUID         `json:"id"`
	Kind        EventKind         `json:"kind"`
	AlertType   string            `json:"alert_type,omitempty"`
	InverterID  string            `json:"inverter_id"`
	DisplayName string            `json:"name"`
	Reading     *inverter.Reading `json:"reading,omitempty"`
	Message     string            `json:"message,omitempty"`
	At          time.Time         `json:"timestamp"`
}

// Handler observes manager events. Handlers run synchronously on the
// goroutine that caused the event and must not block for long.
type Handler func(Event)

type dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

func (d *dispatcher) subscribe(h Handler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

func (d *dispatcher) emit(ev Event) {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, ev)
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Event handler panicked on %s for %s: %v", ev.Kind, ev.InverterID, r)
		}
	}()
	h(ev)
}
