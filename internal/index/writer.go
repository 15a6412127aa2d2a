// Package index persists transcript chunks, speaker contexts and the
// meeting id mapping to Postgres, and serves semantic search over the
// chunk collection.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/meetscribe/rtms-ingest/internal/adapters"
	"github.com/meetscribe/rtms-ingest/internal/logger"
	"github.com/meetscribe/rtms-ingest/internal/transcript"
)

// Embedder produces embedding vectors for chunk text. The inference
// client implements it.
type Embedder interface {
	CreateEmbedding(ctx context.Context, input string) ([]float64, error)
}

// Writer implements adapters.IndexWriter on Postgres with an in-memory
// read cache for the meeting id mapping.
type Writer struct {
	db       *sql.DB
	embedder Embedder
	log      *logger.Logger

	cacheMu sync.RWMutex
	// mapping numericId -> uuid, write-through to the meetings table
	mappingCache map[int64]string
}

// NewWriter creates a writer. embedder may be nil; chunks are then
// indexed without embeddings and search degrades to lexical.
func NewWriter(db *sql.DB, embedder Embedder, log *logger.Logger) *Writer {
	return &Writer{
		db:           db,
		embedder:     embedder,
		log:          log.WithComponent("index_writer"),
		mappingCache: make(map[int64]string),
	}
}

// InsertChunk indexes one content chunk. The embedding is computed
// best-effort; an embedding failure stores the chunk without one.
func (w *Writer) InsertChunk(ctx context.Context, chunk transcript.Chunk) error {
	var embedding []float64
	if w.embedder != nil {
		var err error
		embedding, err = w.embedder.CreateEmbedding(ctx, chunk.Text)
		if err != nil {
			w.log.Warn("failed to embed chunk, indexing without embedding",
				slog.String("chunk_id", chunk.ChunkID),
				slog.String("error", err.Error()))
			embedding = nil
		}
	}

	_, err := w.db.ExecContext(ctx, `
		INSERT INTO transcript_chunks
			(chunk_id, meeting_uuid, speaker_ids, speaker_names, text, start_time, end_time, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chunk_id) DO NOTHING`,
		chunk.ChunkID, chunk.MeetingID,
		pq.Array(chunk.SpeakerIDs), pq.Array(chunk.SpeakerNames),
		chunk.Text, chunk.StartTime, chunk.EndTime, pq.Array(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk %s: %w", chunk.ChunkID, err)
	}
	return nil
}

// UpsertSpeakerContext writes one speaker context document keyed by
// <meetingId>-<speakerId>.
func (w *Writer) UpsertSpeakerContext(ctx context.Context, sc adapters.SpeakerContext) error {
	docID := fmt.Sprintf("%s-%s", sc.MeetingID, sc.SpeakerID)
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO speaker_context
			(doc_id, meeting_uuid, speaker_id, speaker_name, summary, topics, segment_count, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (doc_id) DO UPDATE SET
			speaker_name = EXCLUDED.speaker_name,
			summary = EXCLUDED.summary,
			topics = EXCLUDED.topics,
			segment_count = EXCLUDED.segment_count,
			last_updated = EXCLUDED.last_updated`,
		docID, sc.MeetingID, sc.SpeakerID, sc.SpeakerName,
		sc.Summary, pq.Array(sc.Topics), sc.SegmentCount, sc.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert speaker context %s: %w", docID, err)
	}
	return nil
}

// PersistMeetingMapping writes the numericId->uuid mapping through to
// the meetings table and primes the read cache.
func (w *Writer) PersistMeetingMapping(ctx context.Context, numericID int64, uuid string) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO meetings (numeric_id, uuid, start_time, status)
		VALUES ($1, $2, now(), 'active')
		ON CONFLICT (numeric_id) DO UPDATE SET
			uuid = EXCLUDED.uuid,
			status = 'active'`,
		numericID, uuid,
	)
	if err != nil {
		return fmt.Errorf("failed to persist meeting mapping %d: %w", numericID, err)
	}

	w.cacheMu.Lock()
	w.mappingCache[numericID] = uuid
	w.cacheMu.Unlock()
	return nil
}

// ResolveMeetingUUID resolves a numeric meeting id, consulting the
// cache first. Returns "" when no mapping exists.
func (w *Writer) ResolveMeetingUUID(ctx context.Context, numericID int64) (string, error) {
	w.cacheMu.RLock()
	uuid, ok := w.mappingCache[numericID]
	w.cacheMu.RUnlock()
	if ok {
		return uuid, nil
	}

	err := w.db.QueryRowContext(ctx,
		`SELECT uuid FROM meetings WHERE numeric_id = $1`, numericID,
	).Scan(&uuid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve meeting %d: %w", numericID, err)
	}

	w.cacheMu.Lock()
	w.mappingCache[numericID] = uuid
	w.cacheMu.Unlock()
	return uuid, nil
}

// CloseMeeting marks a meeting ended.
func (w *Writer) CloseMeeting(ctx context.Context, uuid string) error {
	_, err := w.db.ExecContext(ctx,
		`UPDATE meetings SET end_time = now(), status = 'ended' WHERE uuid = $1`, uuid)
	if err != nil {
		return fmt.Errorf("failed to close meeting %s: %w", uuid, err)
	}
	return nil
}

// AppendSpeakerTranscript stores one raw utterance.
func (w *Writer) AppendSpeakerTranscript(ctx context.Context, meetingID string, u transcript.Utterance) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO speaker_transcripts (meeting_uuid, speaker_id, speaker_name, text, ts)
		VALUES ($1, $2, $3, $4, $5)`,
		meetingID, u.SpeakerID, u.SpeakerName, u.Text, u.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append speaker transcript: %w", err)
	}
	return nil
}

// ChunkDoc is one stored chunk as returned to API clients.
type ChunkDoc struct {
	ChunkID      string   `json:"chunk_id"`
	MeetingUUID  string   `json:"meeting_uuid"`
	SpeakerIDs   []string `json:"speaker_ids"`
	SpeakerNames []string `json:"speaker_names"`
	Text         string   `json:"text"`
	StartTime    int64    `json:"start_time"`
	EndTime      int64    `json:"end_time"`
}

// GetChunks returns up to limit chunks for a meeting sorted by
// start_time.
func (w *Writer) GetChunks(ctx context.Context, meetingUUID string, limit int) ([]ChunkDoc, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	rows, err := w.db.QueryContext(ctx, `
		SELECT chunk_id, meeting_uuid, speaker_ids, speaker_names, text, start_time, end_time
		FROM transcript_chunks
		WHERE meeting_uuid = $1
		ORDER BY start_time
		LIMIT $2`,
		meetingUUID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var chunks []ChunkDoc
	for rows.Next() {
		var c ChunkDoc
		if err := rows.Scan(&c.ChunkID, &c.MeetingUUID, pq.Array(&c.SpeakerIDs), pq.Array(&c.SpeakerNames), &c.Text, &c.StartTime, &c.EndTime); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetSpeakerContext returns the speaker context document, or nil when
// absent.
func (w *Writer) GetSpeakerContext(ctx context.Context, meetingID, speakerID string) (*adapters.SpeakerContext, error) {
	docID := fmt.Sprintf("%s-%s", meetingID, speakerID)

	var sc adapters.SpeakerContext
	var topics []string
	err := w.db.QueryRowContext(ctx, `
		SELECT meeting_uuid, speaker_id, speaker_name, summary, topics, segment_count, last_updated
		FROM speaker_context
		WHERE doc_id = $1`, docID,
	).Scan(&sc.MeetingID, &sc.SpeakerID, &sc.SpeakerName, &sc.Summary, pq.Array(&topics), &sc.SegmentCount, &sc.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query speaker context %s: %w", docID, err)
	}
	sc.Topics = topics
	return &sc, nil
}

// SpeakerInfo is one distinct speaker observed in a meeting.
type SpeakerInfo struct {
	SpeakerID   string `json:"speaker_id"`
	SpeakerName string `json:"speaker_name"`
}

// ListSpeakers returns distinct speakers for a meeting, from speaker
// contexts first, falling back to chunk speaker arrays.
func (w *Writer) ListSpeakers(ctx context.Context, meetingUUID string) ([]SpeakerInfo, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT speaker_id, speaker_name FROM speaker_context WHERE meeting_uuid = $1
		UNION
		SELECT DISTINCT s.id, s.name
		FROM transcript_chunks c,
			unnest(c.speaker_ids, c.speaker_names) AS s(id, name)
		WHERE c.meeting_uuid = $1
		ORDER BY 1`,
		meetingUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list speakers: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var speakers []SpeakerInfo
	seen := map[string]bool{}
	for rows.Next() {
		var s SpeakerInfo
		if err := rows.Scan(&s.SpeakerID, &s.SpeakerName); err != nil {
			return nil, fmt.Errorf("failed to scan speaker: %w", err)
		}
		if seen[s.SpeakerID] {
			continue
		}
		seen[s.SpeakerID] = true
		speakers = append(speakers, s)
	}
	return speakers, rows.Err()
}

// PurgeOlderThan deletes chunks and raw transcripts created before the
// cutoff. Returns per-collection deletion counts.
func (w *Writer) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	chunksRes, err := w.db.ExecContext(ctx,
		`DELETE FROM transcript_chunks WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to purge chunks: %w", err)
	}
	chunks, _ := chunksRes.RowsAffected()

	transcriptsRes, err := w.db.ExecContext(ctx,
		`DELETE FROM speaker_transcripts WHERE created_at < $1`, cutoff)
	if err != nil {
		return chunks, 0, fmt.Errorf("failed to purge speaker transcripts: %w", err)
	}
	transcripts, _ := transcriptsRes.RowsAffected()

	return chunks, transcripts, nil
}
