// Package transcript accumulates per-meeting utterances and turns them
// into indexable content chunks and per-speaker summarisation triggers.
package transcript

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meetscribe/rtms-ingest/internal/logger"
)

// Utterance is one normalised transcript line. Held only inside the
// buffer until the next chunk flush.
type Utterance struct {
	SpeakerID   string
	SpeakerName string
	Text        string
	Timestamp   int64
}

// Chunk is a buffered run of utterances flushed to the index with a
// deterministic id (<meetingId>-chunk-<seq>).
type Chunk struct {
	ChunkID      string   `json:"chunk_id"`
	MeetingID    string   `json:"meeting_id"`
	SpeakerIDs   []string `json:"speaker_ids"`
	SpeakerNames []string `json:"speaker_names"`
	Text         string   `json:"text"`
	StartTime    int64    `json:"start_time"`
	EndTime      int64    `json:"end_time"`
}

// SummarizeRequest triggers the summariser adapter for one speaker.
// RecentText is never empty; SegmentCount is that speaker's cumulative
// utterance count and never decreases.
type SummarizeRequest struct {
	MeetingID    string `json:"meeting_id"`
	SpeakerID    string `json:"speaker_id"`
	SpeakerName  string `json:"speaker_name"`
	RecentText   string `json:"recent_text"`
	SegmentCount int    `json:"segment_count"`
}

// BufferConfig tunes the buffer's trigger timers. Zero values take the
// production defaults.
type BufferConfig struct {
	SummaryInterval time.Duration // periodic per-speaker summarisation
	SpeakerIdle     time.Duration // silence window triggering a summary
	ChunkInterval   time.Duration // periodic chunk flush
	WordThreshold   int           // flush when this many words accumulate
}

func (c BufferConfig) withDefaults() BufferConfig {
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = 30 * time.Second
	}
	if c.SpeakerIdle <= 0 {
		c.SpeakerIdle = 10 * time.Second
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = 60 * time.Second
	}
	if c.WordThreshold <= 0 {
		c.WordThreshold = 500
	}
	return c
}

// speakerState tracks one speaker's summarisation mark and idle timer.
type speakerState struct {
	name      string
	mark      int // index into utterances; everything at or past it is unsummarised
	total     int // cumulative utterance count (monotonic)
	idleTimer *time.Timer
}

// Buffer owns one meeting's ordered utterances and the three trigger
// timers. Append ordering is preserved; a chunk is emitted strictly
// after every utterance it contains has been appended.
type Buffer struct {
	meetingID   string
	cfg         BufferConfig
	onChunk     func(Chunk)
	onSummarize func(SummarizeRequest)
	log         *logger.Logger

	mu         sync.Mutex
	utterances []Utterance
	wordCount  int
	chunkSeq   int
	speakers   map[string]*speakerState
	destroyed  bool

	summaryTicker *time.Ticker
	chunkTicker   *time.Ticker
	done          chan struct{}
}

// NewBuffer creates and starts a buffer for one meeting. Both
// callbacks run off the buffer's lock and must not call back in.
func NewBuffer(meetingID string, cfg BufferConfig, onChunk func(Chunk), onSummarize func(SummarizeRequest), log *logger.Logger) *Buffer {
	cfg = cfg.withDefaults()
	b := &Buffer{
		meetingID:     meetingID,
		cfg:           cfg,
		onChunk:       onChunk,
		onSummarize:   onSummarize,
		log:           log.WithComponent("transcript_buffer").WithFields(map[string]interface{}{"meeting_id": meetingID}),
		speakers:      make(map[string]*speakerState),
		summaryTicker: time.NewTicker(cfg.SummaryInterval),
		chunkTicker:   time.NewTicker(cfg.ChunkInterval),
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Buffer) run() {
	for {
		select {
		case <-b.summaryTicker.C:
			b.SummarizeAll()
		case <-b.chunkTicker.C:
			b.Flush()
		case <-b.done:
			return
		}
	}
}

// Append adds one utterance, resets the speaker's idle timer, and
// flushes a chunk when the word threshold is crossed.
func (b *Buffer) Append(u Utterance) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}

	b.utterances = append(b.utterances, u)
	b.wordCount += len(strings.Fields(u.Text))

	st, ok := b.speakers[u.SpeakerID]
	if !ok {
		st = &speakerState{name: u.SpeakerName}
		b.speakers[u.SpeakerID] = st
	}
	st.name = u.SpeakerName
	st.total++

	if st.idleTimer != nil {
		st.idleTimer.Stop()
	}
	speakerID := u.SpeakerID
	st.idleTimer = time.AfterFunc(b.cfg.SpeakerIdle, func() {
		b.Summarize(speakerID)
	})

	var chunk *Chunk
	if b.wordCount >= b.cfg.WordThreshold {
		chunk = b.flushLocked()
	}
	b.mu.Unlock()

	if chunk != nil {
		b.onChunk(*chunk)
	}
}

// Summarize emits a summarize trigger for one speaker if they have
// unsummarised utterances, and advances their mark.
func (b *Buffer) Summarize(speakerID string) {
	b.mu.Lock()
	req := b.summarizeLocked(speakerID)
	b.mu.Unlock()

	if req != nil {
		b.onSummarize(*req)
	}
}

// SummarizeAll emits a summarize trigger for every speaker with new
// utterances since their last mark.
func (b *Buffer) SummarizeAll() {
	b.mu.Lock()
	var reqs []SummarizeRequest
	for speakerID := range b.speakers {
		if req := b.summarizeLocked(speakerID); req != nil {
			reqs = append(reqs, *req)
		}
	}
	b.mu.Unlock()

	for _, req := range reqs {
		b.onSummarize(req)
	}
}

func (b *Buffer) summarizeLocked(speakerID string) *SummarizeRequest {
	st, ok := b.speakers[speakerID]
	if !ok {
		return nil
	}

	var parts []string
	for _, u := range b.utterances[st.mark:] {
		if u.SpeakerID == speakerID {
			parts = append(parts, u.Text)
		}
	}
	st.mark = len(b.utterances)
	if len(parts) == 0 {
		// No summary fires with empty recent text.
		return nil
	}

	return &SummarizeRequest{
		MeetingID:    b.meetingID,
		SpeakerID:    speakerID,
		SpeakerName:  st.name,
		RecentText:   strings.Join(parts, " "),
		SegmentCount: st.total,
	}
}

// Flush emits a chunk for everything buffered, if anything is.
func (b *Buffer) Flush() {
	b.mu.Lock()
	chunk := b.flushLocked()
	b.mu.Unlock()

	if chunk != nil {
		b.onChunk(*chunk)
	}
}

func (b *Buffer) flushLocked() *Chunk {
	if len(b.utterances) == 0 {
		return nil
	}

	b.chunkSeq++
	var (
		lines        []string
		speakerIDs   []string
		speakerNames []string
		seen         = map[string]bool{}
	)
	for _, u := range b.utterances {
		lines = append(lines, fmt.Sprintf("%s: %s", u.SpeakerName, u.Text))
		if !seen[u.SpeakerID] {
			seen[u.SpeakerID] = true
			speakerIDs = append(speakerIDs, u.SpeakerID)
			speakerNames = append(speakerNames, u.SpeakerName)
		}
	}

	chunk := &Chunk{
		ChunkID:      fmt.Sprintf("%s-chunk-%d", b.meetingID, b.chunkSeq),
		MeetingID:    b.meetingID,
		SpeakerIDs:   speakerIDs,
		SpeakerNames: speakerNames,
		Text:         strings.Join(lines, "\n"),
		StartTime:    b.utterances[0].Timestamp,
		EndTime:      b.utterances[len(b.utterances)-1].Timestamp,
	}

	// The buffer is now empty: word counter and per-speaker marks reset.
	b.utterances = nil
	b.wordCount = 0
	for _, st := range b.speakers {
		st.mark = 0
	}

	b.log.Debug("flushed chunk", slog.String("chunk_id", chunk.ChunkID))
	return chunk
}

// Destroy flushes pending summaries and chunks, clears all timers and
// stops the trigger loop. Idempotent.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true

	b.summaryTicker.Stop()
	b.chunkTicker.Stop()
	close(b.done)

	var reqs []SummarizeRequest
	for speakerID, st := range b.speakers {
		if st.idleTimer != nil {
			st.idleTimer.Stop()
		}
		if req := b.summarizeLocked(speakerID); req != nil {
			reqs = append(reqs, *req)
		}
	}
	chunk := b.flushLocked()
	b.mu.Unlock()

	for _, req := range reqs {
		b.onSummarize(req)
	}
	if chunk != nil {
		b.onChunk(*chunk)
	}
}
