package dodo

import (
	"sync"
	"time"

	"github.com/dodolabs/dodo-live/pkg/live/protocol"
)

// EventType names one of the consumer-facing event streams.
type EventType string

const (
	EventOpen                 EventType = "open"
	EventClose                EventType = "close"
	EventError                EventType = "error"
	EventLog                  EventType = "log"
	EventAudio                EventType = "audio"
	EventContent              EventType = "content"
	EventInterrupted          EventType = "interrupted"
	EventSetupComplete        EventType = "setupcomplete"
	EventTurnComplete         EventType = "turncomplete"
	EventToolCall             EventType = "toolcall"
	EventToolCallCancellation EventType = "toolcallcancellation"

	// Capture pipeline events.
	EventData   EventType = "data"
	EventVolume EventType = "volume"
)

// Event is the interface for all session and audio pipeline events.
type Event interface {
	EventType() EventType
}

// OpenEvent signals that the transport session was established.
type OpenEvent struct{}

func (OpenEvent) EventType() EventType { return EventOpen }

// CloseEvent signals that the transport session ended.
type CloseEvent struct {
	Reason string `json:"reason"`
}

func (CloseEvent) EventType() EventType { return EventClose }

// ErrorEvent carries a normalized transport or protocol error. The session
// stays open unless the transport itself closed it.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) EventType() EventType { return EventError }

// LogEvent is a structured diagnostic record mirrored to consumers.
type LogEvent struct {
	Date    time.Time `json:"date"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
}

func (LogEvent) EventType() EventType { return EventLog }

// AudioEvent carries one decoded PCM16 buffer of assistant speech.
type AudioEvent struct {
	Data []byte
}

func (AudioEvent) EventType() EventType { return EventAudio }

// ContentEvent carries the textual parts of a model turn, in arrival order.
type ContentEvent struct {
	ModelTurn protocol.Content `json:"modelTurn"`
}

func (ContentEvent) EventType() EventType { return EventContent }

// InterruptedEvent signals that the in-progress model turn was pre-empted,
// requiring immediate playback cutoff.
type InterruptedEvent struct{}

func (InterruptedEvent) EventType() EventType { return EventInterrupted }

// SetupCompleteEvent signals that session configuration is in effect.
type SetupCompleteEvent struct{}

func (SetupCompleteEvent) EventType() EventType { return EventSetupComplete }

// TurnCompleteEvent signals the end of one contiguous unit of model output.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) EventType() EventType { return EventTurnComplete }

// ToolCallEvent carries normalized tool invocation requests.
type ToolCallEvent struct {
	FunctionCalls []protocol.FunctionCall `json:"functionCalls"`
}

func (ToolCallEvent) EventType() EventType { return EventToolCall }

// ToolCallCancellationEvent carries the ids of tool calls the model no
// longer wants answered.
type ToolCallCancellationEvent struct {
	IDs []string `json:"ids"`
}

func (ToolCallCancellationEvent) EventType() EventType { return EventToolCallCancellation }

// DataEvent carries one base64-encoded PCM16 capture frame (mono, 16 kHz).
type DataEvent struct {
	Base64 string
}

func (DataEvent) EventType() EventType { return EventData }

// VolumeEvent carries a normalized 0-1 input level, emitted once per capture
// quantum for UI metering.
type VolumeEvent struct {
	Level float64
}

func (VolumeEvent) EventType() EventType { return EventVolume }

// Handler consumes one event.
type Handler func(Event)

// emitter is a per-event-name listener registry with synchronous,
// fire-and-forget dispatch. Consumers register and unregister explicitly;
// the emitter holds no reference beyond the active listener list and never
// blocks waiting on consumers beyond their own handler body.
type emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners map[EventType]map[int]Handler
}

// on registers a handler and returns its unsubscribe function. Unsubscribe
// is idempotent.
func (e *emitter) on(t EventType, h Handler) func() {
	if h == nil {
		return func() {}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[EventType]map[int]Handler)
	}
	if e.listeners[t] == nil {
		e.listeners[t] = make(map[int]Handler)
	}
	e.nextID++
	id := e.nextID
	e.listeners[t][id] = h

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if set := e.listeners[t]; set != nil {
			delete(set, id)
		}
	}
}

// emit dispatches synchronously to a snapshot of the registered listeners,
// so handlers may subscribe or unsubscribe without deadlocking.
func (e *emitter) emit(ev Event) {
	if ev == nil {
		return
	}
	e.mu.Lock()
	set := e.listeners[ev.EventType()]
	handlers := make([]Handler, 0, len(set))
	for _, h := range set {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
