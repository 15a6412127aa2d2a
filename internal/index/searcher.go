package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/lib/pq"

	"github.com/meetscribe/rtms-ingest/internal/adapters"
)

const searchCandidateLimit = 500

// Searcher ranks transcript chunks against a query. When the embedder
// is available it embeds the query and ranks candidates by cosine
// similarity; otherwise it falls back to Postgres full-text ranking.
type Searcher struct {
	writer *Writer
}

// NewSearcher creates a searcher over the writer's store.
func NewSearcher(writer *Writer) *Searcher {
	return &Searcher{writer: writer}
}

// SemanticSearch returns up to limit hits for the query. meetingUUID
// and speakerID are optional filters ("" matches everything).
func (s *Searcher) SemanticSearch(ctx context.Context, query, meetingUUID, speakerID string, limit int) ([]adapters.SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}

	if s.writer.embedder != nil {
		queryVec, err := s.writer.embedder.CreateEmbedding(ctx, query)
		if err == nil {
			return s.vectorSearch(ctx, queryVec, meetingUUID, speakerID, limit)
		}
		s.writer.log.Warn("failed to embed search query, falling back to lexical search",
			slog.String("error", err.Error()))
	}

	return s.lexicalSearch(ctx, query, meetingUUID, speakerID, limit)
}

func (s *Searcher) vectorSearch(ctx context.Context, queryVec []float64, meetingUUID, speakerID string, limit int) ([]adapters.SearchHit, error) {
	rows, err := s.writer.db.QueryContext(ctx, `
		SELECT chunk_id, meeting_uuid, speaker_ids, speaker_names, text, start_time, end_time, embedding
		FROM transcript_chunks
		WHERE embedding IS NOT NULL
		  AND ($1 = '' OR meeting_uuid = $1)
		  AND ($2 = '' OR $2 = ANY(speaker_ids))
		ORDER BY created_at DESC
		LIMIT $3`,
		meetingUUID, speakerID, searchCandidateLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query search candidates: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var hits []adapters.SearchHit
	for rows.Next() {
		var c ChunkDoc
		var embedding []float64
		if err := rows.Scan(&c.ChunkID, &c.MeetingUUID, pq.Array(&c.SpeakerIDs), pq.Array(&c.SpeakerNames), &c.Text, &c.StartTime, &c.EndTime, pq.Array(&embedding)); err != nil {
			return nil, fmt.Errorf("failed to scan search candidate: %w", err)
		}
		score := cosineSimilarity(queryVec, embedding)
		if score <= 0 {
			continue
		}
		hits = append(hits, searchHit(c, score))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Searcher) lexicalSearch(ctx context.Context, query, meetingUUID, speakerID string, limit int) ([]adapters.SearchHit, error) {
	rows, err := s.writer.db.QueryContext(ctx, `
		SELECT chunk_id, meeting_uuid, speaker_ids, speaker_names, text, start_time, end_time,
			ts_rank(to_tsvector('english', text), plainto_tsquery('english', $1)) AS rank
		FROM transcript_chunks
		WHERE to_tsvector('english', text) @@ plainto_tsquery('english', $1)
		  AND ($2 = '' OR meeting_uuid = $2)
		  AND ($3 = '' OR $3 = ANY(speaker_ids))
		ORDER BY rank DESC
		LIMIT $4`,
		query, meetingUUID, speakerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run lexical search: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var hits []adapters.SearchHit
	for rows.Next() {
		var c ChunkDoc
		var rank float64
		if err := rows.Scan(&c.ChunkID, &c.MeetingUUID, pq.Array(&c.SpeakerIDs), pq.Array(&c.SpeakerNames), &c.Text, &c.StartTime, &c.EndTime, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan lexical hit: %w", err)
		}
		hits = append(hits, searchHit(c, rank))
	}
	return hits, rows.Err()
}

func searchHit(c ChunkDoc, score float64) adapters.SearchHit {
	return adapters.SearchHit{
		ChunkID:      c.ChunkID,
		MeetingID:    c.MeetingUUID,
		SpeakerNames: c.SpeakerNames,
		Text:         c.Text,
		StartTime:    c.StartTime,
		EndTime:      c.EndTime,
		Score:        score,
	}
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ adapters.Searcher = (*Searcher)(nil)
var _ adapters.IndexWriter = (*Writer)(nil)
