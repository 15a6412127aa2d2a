// Package adapters defines the narrow contracts the ingestion core
// depends on. Implementations are interchangeable; the core never
// stalls on a slow adapter.
package adapters

import (
	"context"
	"time"

	"github.com/meetscribe/rtms-ingest/internal/transcript"
)

// SpeakerContext is the evolving per-speaker summary and topic set.
// The document id is <meetingId>-<speakerId>.
type SpeakerContext struct {
	MeetingID    string    `json:"meeting_id"`
	SpeakerID    string    `json:"speaker_id"`
	SpeakerName  string    `json:"speaker_name"`
	Summary      string    `json:"summary"`
	Topics       []string  `json:"topics"`
	LastUpdated  time.Time `json:"last_updated"`
	SegmentCount int       `json:"segment_count"`
}

// SearchHit is one ranked result of a semantic (or lexical fallback)
// search over transcript chunks.
type SearchHit struct {
	ChunkID      string   `json:"chunk_id"`
	MeetingID    string   `json:"meeting_id"`
	Text         string   `json:"text"`
	SpeakerNames []string `json:"speaker_names"`
	StartTime    int64    `json:"start_time"`
	EndTime      int64    `json:"end_time"`
	Score        float64  `json:"score"`
}

// IndexWriter persists chunks, speaker contexts and the meeting id
// mapping.
type IndexWriter interface {
	InsertChunk(ctx context.Context, chunk transcript.Chunk) error
	UpsertSpeakerContext(ctx context.Context, sc SpeakerContext) error
	PersistMeetingMapping(ctx context.Context, numericID int64, uuid string) error
	// ResolveMeetingUUID returns "" when no mapping exists.
	ResolveMeetingUUID(ctx context.Context, numericID int64) (string, error)
	AppendSpeakerTranscript(ctx context.Context, meetingID string, u transcript.Utterance) error
}

// Searcher ranks transcript chunks for a query. Implementations may
// fall back to lexical search when the embedding path is unavailable;
// callers treat that as a soft failure.
type Searcher interface {
	SemanticSearch(ctx context.Context, query, meetingUUID, speakerID string, limit int) ([]SearchHit, error)
}

// Summarizer merges a speaker's prior summary with their recent text.
type Summarizer interface {
	Summarize(ctx context.Context, req transcript.SummarizeRequest) (SpeakerContext, error)
}

// Broadcaster pushes live updates to per-meeting clients.
// Fire-and-forget with at-least-once best effort; de-duplication is
// the client's responsibility.
type Broadcaster interface {
	BroadcastToMeeting(meetingID, messageType string, data interface{})
}
