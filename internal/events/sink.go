package events

import "sync"

// Event types pushed to connected clients.
const (
	TypeJobStatus   = "jobStatusUpdate"
	TypeLog         = "log"
	TypeFlowDone    = "flowDoneUpdate"
	TypeProxyStatus = "proxyStatusUpdate"
)

// Sink delivers events to a user's connected clients. Delivery is
// fire-and-forget: implementations must never block the caller or surface
// transport errors into the engine.
type Sink interface {
	Emit(userID, eventType string, payload any)
}

// Event is the wire envelope for one emitted event.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(string, string, any) {}

// Recorder captures emitted events in memory, preserving per-user order.
// Used by tests and as a buffer when no transport is wired.
type Recorder struct {
	mu     sync.Mutex
	events map[string][]Event
}

func NewRecorder() *Recorder {
	return &Recorder{events: make(map[string][]Event)}
}

func (r *Recorder) Emit(userID, eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[userID] = append(r.events[userID], Event{Type: eventType, Payload: payload})
}

// Events returns a copy of everything emitted for the user, in order.
func (r *Recorder) Events(userID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events[userID]))
	copy(out, r.events[userID])
	return out
}

// ByType filters the user's events to one type.
func (r *Recorder) ByType(userID, eventType string) []Event {
	var out []Event
	for _, e := range r.Events(userID) {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
