// Package bus is the in-process event bus. It fans pickup changes out to
// connected widgets and keeps a short history so a reconnecting widget can
// catch up on what it missed.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// EventPickupChanged is emitted for every insert or update of a pickup row.
const EventPickupChanged = "pickup.changed"

const defaultMaxHistory = 1000

// Event is one published fact.
type Event struct {
	Type      string
	Source    string
	Payload   map[string]any
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// EventBus is a topic-based publish/subscribe bus with a bounded history.
type EventBus struct {
	mu         sync.RWMutex
	handlers   map[string][]namedHandler
	history    []Event
	maxHistory int
	nextID     int
	now        func() time.Time
	logger     *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		maxHistory: defaultMaxHistory,
		now:        time.Now,
		logger:     logger,
	}
}

// On registers a handler for eventType and returns its id for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its id.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls the handlers for its type in order.
// A panicking handler is logged and does not stop the others.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = eb.now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := append([]namedHandler(nil), eb.handlers[event.Type]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		eb.dispatch(h, event)
	}
}

func (eb *EventBus) dispatch(h namedHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", h.ID, "panic", r)
		}
	}()
	h.Handler(event)
}

// EmitAsync emits on a new goroutine.
func (eb *EventBus) EmitAsync(event Event) {
	go eb.Emit(event)
}

// Replay returns the recorded events of eventType at or after since, oldest
// first.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Type == eventType && !e.Timestamp.Before(since) {
			result = append(result, e)
		}
	}
	return result
}
