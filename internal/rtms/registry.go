package rtms

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meetscribe/rtms-ingest/internal/metrics"
)

// DefaultHistorySize bounds the archived stream history ring.
const DefaultHistorySize = 100

// StreamStats is the snapshot of a session's terminal state, archived
// into the history ring on removal so post-mortem queries keep working
// for a bounded time after a meeting's lifetime.
type StreamStats struct {
	StreamID      string        `json:"stream_id"`
	MeetingUUID   string        `json:"meeting_uuid"`
	Product       string        `json:"product"`
	State         string        `json:"state"`
	EffectiveMask int           `json:"effective_mask"`
	MediaParams   MediaParams   `json:"media_params"`
	FirstPacketTS int64         `json:"first_packet_ts"`
	LastPacketTS  int64         `json:"last_packet_ts"`
	RTT           time.Duration `json:"rtt"`
	LastError     *StreamError  `json:"last_error,omitempty"`
	ClosedAt      time.Time     `json:"closed_at,omitempty"`
}

// Stats snapshots the session's current state.
func (s *StreamSession) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamStats{
		StreamID:      s.cfg.StreamID,
		MeetingUUID:   s.cfg.MeetingUUID,
		Product:       s.cfg.Product,
		State:         string(s.sigState),
		EffectiveMask: s.effectiveMask,
		MediaParams:   s.mediaParams,
		FirstPacketTS: s.firstPacketTS,
		LastPacketTS:  s.lastPacketTS,
		RTT:           s.rtt,
		LastError:     s.lastError,
	}
}

// Registry is the process-wide index of live sessions keyed by stream
// id, plus a bounded LRU of terminal snapshots. Safe for concurrent
// access; it is the only cross-stream interaction point besides the
// adapter surface.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*StreamSession
	history  *lru.Cache[string, StreamStats]
}

// NewRegistry creates a registry with a history ring of the given
// size (DefaultHistorySize when <= 0).
func NewRegistry(historySize int) (*Registry, error) {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	history, err := lru.New[string, StreamStats](historySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create history ring: %w", err)
	}
	return &Registry{
		sessions: make(map[string]*StreamSession),
		history:  history,
	}, nil
}

// Add registers a session. At most one active session may exist per
// stream id.
func (r *Registry) Add(s *StreamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.StreamID()]; exists {
		return fmt.Errorf("session %s already registered", s.StreamID())
	}
	r.sessions[s.StreamID()] = s
	metrics.SessionStarted()
	return nil
}

// Get returns the active session for a stream id, or nil.
func (r *Registry) Get(streamID string) *StreamSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[streamID]
}

// Has reports whether an active session exists for the stream id.
func (r *Registry) Has(streamID string) bool {
	return r.Get(streamID) != nil
}

// FindByMeetingUUID returns every active session for a meeting.
func (r *Registry) FindByMeetingUUID(meetingUUID string) []*StreamSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*StreamSession
	for _, s := range r.sessions {
		if s.MeetingUUID() == meetingUUID {
			out = append(out, s)
		}
	}
	return out
}

// Remove unregisters a session and archives its terminal stats in the
// history ring.
func (r *Registry) Remove(streamID string) {
	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if ok {
		delete(r.sessions, streamID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	metrics.SessionEnded()
	stats := s.Stats()
	stats.ClosedAt = time.Now()
	r.history.Add(streamID, stats)
}

// Clear removes every active session without archiving.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*StreamSession)
}

// Size returns the number of active sessions.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Metadata returns stream stats for an active session first, then the
// history ring, so lookups stay valid throughout and for a bounded
// time after a meeting's lifetime.
func (r *Registry) Metadata(streamID string) (StreamStats, bool) {
	if s := r.Get(streamID); s != nil {
		return s.Stats(), true
	}
	return r.history.Get(streamID)
}

// ActiveStats snapshots every active session.
func (r *Registry) ActiveStats() []StreamStats {
	r.mu.Lock()
	sessions := make([]*StreamSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]StreamStats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Stats())
	}
	return out
}

// HistoryStats snapshots the archived history ring, most recent first.
func (r *Registry) HistoryStats() []StreamStats {
	keys := r.history.Keys()
	out := make([]StreamStats, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if stats, ok := r.history.Peek(keys[i]); ok {
			out = append(out, stats)
		}
	}
	return out
}
