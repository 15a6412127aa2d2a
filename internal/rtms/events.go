package rtms

import (
	"encoding/json"
	"sync"
)

// EventKind tags the variant of an emitted event. Consumers subscribe
// by tag.
type EventKind string

const (
	EventAudio               EventKind = "audio"
	EventVideo               EventKind = "video"
	EventShareScreen         EventKind = "sharescreen"
	EventTranscript          EventKind = "transcript"
	EventChat                EventKind = "chat"
	EventSession             EventKind = "event"
	EventStreamStateChanged  EventKind = "stream_state_changed"
	EventSessionStateChanged EventKind = "session_state_changed"
	EventError               EventKind = "error"
)

// Event is the tagged variant emitted for every inbound message.
// MeetingUUID, StreamID and Product are always set; the remaining
// fields depend on Kind.
type Event struct {
	Kind        EventKind
	MeetingUUID string
	StreamID    string
	Product     string

	// Media payloads (audio, video, sharescreen). Absent for transcript
	// and chat, which carry Text instead. Synthetic marks a filler
	// frame injected to cover a gap.
	Buffer    []byte
	UserID    int64
	UserName  string
	Timestamp int64
	Synthetic bool

	// Transcript and chat.
	Text      string
	StartTime int64
	EndTime   int64
	Language  string
	Attribute string

	// Non-media signaling events (msg_type=6).
	EventType int
	Payload   json.RawMessage

	// Stream/session state changes (msg_type 8/9).
	State  int
	Reason int

	// Error events.
	Err *StreamError
}

// Handler consumes events of one kind. Handlers run on the emitting
// session's goroutine and must not block.
type Handler func(Event)

// Emitter dispatches events to handlers subscribed by kind. Safe for
// concurrent use; all sessions of a process share one emitter.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventKind][]Handler
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventKind][]Handler)}
}

// On registers a handler for one event kind.
func (e *Emitter) On(kind EventKind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = append(e.handlers[kind], h)
}

// Emit dispatches an event to every handler registered for its kind.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Kind]
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
