package transcript

import (
	"sync"

	"github.com/meetscribe/rtms-ingest/internal/logger"
)

// Manager owns one buffer per meeting, created on demand from the
// transcript event path and destroyed on rtms_stopped.
type Manager struct {
	cfg         BufferConfig
	onChunk     func(Chunk)
	onSummarize func(SummarizeRequest)
	log         *logger.Logger

	mu      sync.Mutex
	buffers map[string]*Buffer
}

// NewManager creates a buffer manager. The callbacks are shared by
// every buffer it creates.
func NewManager(cfg BufferConfig, onChunk func(Chunk), onSummarize func(SummarizeRequest), log *logger.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		onChunk:     onChunk,
		onSummarize: onSummarize,
		log:         log,
		buffers:     make(map[string]*Buffer),
	}
}

// Get returns the buffer for a meeting, creating it if needed.
func (m *Manager) Get(meetingID string) *Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buffers[meetingID]; ok {
		return b
	}
	b := NewBuffer(meetingID, m.cfg, m.onChunk, m.onSummarize, m.log)
	m.buffers[meetingID] = b
	return b
}

// Destroy flushes and removes a meeting's buffer, if present.
func (m *Manager) Destroy(meetingID string) {
	m.mu.Lock()
	b, ok := m.buffers[meetingID]
	if ok {
		delete(m.buffers, meetingID)
	}
	m.mu.Unlock()

	if ok {
		b.Destroy()
	}
}

// DestroyAll flushes and removes every buffer. Called on shutdown.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	buffers := make([]*Buffer, 0, len(m.buffers))
	for _, b := range m.buffers {
		buffers = append(buffers, b)
	}
	m.buffers = make(map[string]*Buffer)
	m.mu.Unlock()

	for _, b := range buffers {
		b.Destroy()
	}
}
