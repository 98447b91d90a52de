package alert

import (
	"log/slog"
	"time"

	"github.com/hearguard/hearguard/internal/config"
)

// EventKind discriminates alert side-effect events.
type EventKind int

const (
	// EventActivate is emitted once on the INACTIVE → ACTIVE transition.
	// The consumer must surface it within 500 ms of the originating
	// frame's capture timestamp.
	EventActivate EventKind = iota

	// EventUpdate carries the new display level while an alert is active.
	EventUpdate

	// EventVibrate requests one haptic pulse with the attached pattern.
	EventVibrate

	// EventClear is emitted once when the alert deactivates.
	EventClear
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventActivate:
		return "activate"
	case EventUpdate:
		return "update"
	case EventVibrate:
		return "vibrate"
	case EventClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Event is one alert side effect. DB is set for activate and update events,
// Timestamp for activate events, Pattern for vibrate events.
type Event struct {
	Kind      EventKind               `json:"kind"`
	DB        float64                 `json:"db,omitempty"`
	Timestamp time.Duration           `json:"timestamp,omitempty"`
	Pattern   config.VibrationPattern `json:"pattern,omitzero"`
}

// Sink receives alert side effects. Implementations are called synchronously
// from the state machine's single consumer goroutine and must not block —
// dispatch to slow transports (vibration hardware, UI) belongs behind a
// buffered channel.
type Sink interface {
	Activate(db float64, timestamp time.Duration)
	Update(db float64)
	Vibrate(pattern config.VibrationPattern)
	Clear()
}

// ChannelSink forwards alert events onto a buffered channel for an external
// consumer (the UI layer, the websocket broadcaster). When the consumer
// falls behind, events are dropped with a warning rather than stalling the
// state machine.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(capacity int) *ChannelSink {
	if capacity <= 0 {
		capacity = 64
	}
	return &ChannelSink{ch: make(chan Event, capacity)}
}

// Events returns the receive side of the event stream.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Close closes the event stream. Call only after the state machine stopped.
func (s *ChannelSink) Close() { close(s.ch) }

func (s *ChannelSink) send(ev Event) {
	select {
	case s.ch <- ev:
	default:
		slog.Warn("alert event dropped: consumer falling behind", "kind", ev.Kind.String())
	}
}

// Activate implements [Sink].
func (s *ChannelSink) Activate(db float64, timestamp time.Duration) {
	s.send(Event{Kind: EventActivate, DB: db, Timestamp: timestamp})
}

// Update implements [Sink].
func (s *ChannelSink) Update(db float64) {
	s.send(Event{Kind: EventUpdate, DB: db})
}

// Vibrate implements [Sink].
func (s *ChannelSink) Vibrate(pattern config.VibrationPattern) {
	s.send(Event{Kind: EventVibrate, Pattern: pattern})
}

// Clear implements [Sink].
func (s *ChannelSink) Clear() {
	s.send(Event{Kind: EventClear})
}
