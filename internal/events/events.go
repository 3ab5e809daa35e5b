package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Attendance event types.
const (
	TypeClockIn    = "attendance.clock_in"
	TypeBreakStart = "attendance.break_start"
	TypeBreakEnd   = "attendance.break_end"
	TypeClockOut   = "attendance.clock_out"
)

// Event represents a lightweight domain event.
type Event struct {
	ID         string
	Type       string
	EmployeeID int64
	Payload    []byte
	CreatedAt  time.Time
}

// New builds an event with a JSON payload. Marshal failures leave the payload empty.
func New(evType string, employeeID int64, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{
		ID:         uuid.NewString(),
		Type:       evType,
		EmployeeID: employeeID,
		Payload:    data,
	}
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events. Handlers run on their own
// goroutines so publishers never wait on subscribers.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	wg          sync.WaitGroup
	onError     func(Event, error)
	now         func() time.Time
}

// NewEventBus constructs an empty bus. onError may be nil.
func NewEventBus(onError func(Event, error)) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		onError:     onError,
		now:         time.Now,
	}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type in types.
func (b *EventBus) SubscribeAll(types []string, handler EventHandler) {
	for _, t := range types {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = b.now()
	}

	for _, handler := range handlers {
		b.wg.Add(1)
		go func(h EventHandler) {
			defer b.wg.Done()
			if err := h(event); err != nil && b.onError != nil {
				b.onError(event, err)
			}
		}(handler)
	}
}

// Wait blocks until all in-flight handlers have returned.
func (b *EventBus) Wait() {
	b.wg.Wait()
}

// AttendanceTypes lists every attendance event type.
var AttendanceTypes = []string{TypeClockIn, TypeBreakStart, TypeBreakEnd, TypeClockOut}
