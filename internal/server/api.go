package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meetscribe/rtms-ingest/internal/adapters"
	"github.com/meetscribe/rtms-ingest/internal/httperr"
)

// handleMeetingSpeakers resolves a numeric meeting id and lists its
// speakers.
func (s *Server) handleMeetingSpeakers(c *gin.Context) {
	numericID, err := strconv.ParseInt(c.Param("numericId"), 10, 64)
	if err != nil {
		httperr.AbortWithBadRequest(c, "invalid meeting id", nil)
		return
	}

	uuid, err := s.writer.ResolveMeetingUUID(c.Request.Context(), numericID)
	if err != nil {
		httperr.AbortWithInternal(c, "failed to resolve meeting", nil)
		return
	}
	if uuid == "" {
		httperr.AbortWithNotFound(c, "no mapping for meeting", map[string]interface{}{
			"meeting_id": numericID,
		})
		return
	}

	speakers, err := s.writer.ListSpeakers(c.Request.Context(), uuid)
	if err != nil {
		httperr.AbortWithInternal(c, "failed to list speakers", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"meeting_id": numericID,
		"uuid":       uuid,
		"speakers":   speakers,
	})
}

// handleSpeakerContext returns the speaker's context doc, or a null
// summary when none exists yet.
func (s *Server) handleSpeakerContext(c *gin.Context) {
	speakerID := c.Param("speakerId")
	meetingID := c.Query("meetingId")
	if meetingID == "" {
		httperr.AbortWithBadRequest(c, "missing meetingId", nil)
		return
	}

	sc, err := s.writer.GetSpeakerContext(c.Request.Context(), meetingID, speakerID)
	if err != nil {
		httperr.AbortWithInternal(c, "failed to load speaker context", nil)
		return
	}
	if sc == nil {
		c.JSON(http.StatusOK, gin.H{
			"speaker_id":      speakerID,
			"meeting_id":      meetingID,
			"context_summary": nil,
			"topics":          []string{},
			"segment_count":   0,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"speaker_id":      sc.SpeakerID,
		"speaker_name":    sc.SpeakerName,
		"meeting_id":      sc.MeetingID,
		"context_summary": sc.Summary,
		"topics":          sc.Topics,
		"segment_count":   sc.SegmentCount,
		"last_updated":    sc.LastUpdated,
	})
}

type chatRequest struct {
	Question  string `json:"question" binding:"required"`
	MeetingID string `json:"meetingId" binding:"required"`
}

// handleSpeakerChat answers a question about one speaker with a
// retrieval-augmented completion, degrading to a textual fallback when
// the inference backend is unavailable.
func (s *Server) handleSpeakerChat(c *gin.Context) {
	speakerID := c.Param("speakerId")

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.AbortWithBadRequest(c, "question and meetingId are required", nil)
		return
	}

	log := s.log.WithContext(c.Request.Context())
	ctx := c.Request.Context()

	sc, err := s.writer.GetSpeakerContext(ctx, req.MeetingID, speakerID)
	if err != nil {
		log.Warn("failed to load speaker context for chat", slog.String("error", err.Error()))
	}

	hits, err := s.searcher.SemanticSearch(ctx, req.Question, req.MeetingID, speakerID, 5)
	if err != nil {
		log.Warn("search failed for chat", slog.String("error", err.Error()))
	}

	var prompt strings.Builder
	speakerName := speakerID
	if sc != nil && sc.SpeakerName != "" {
		speakerName = sc.SpeakerName
	}
	fmt.Fprintf(&prompt, "Question about meeting participant %s:\n%s\n\n", speakerName, req.Question)
	if sc != nil && sc.Summary != "" {
		fmt.Fprintf(&prompt, "What %s has said so far (summary):\n%s\n\n", speakerName, sc.Summary)
	}
	if len(hits) > 0 {
		prompt.WriteString("Relevant transcript excerpts:\n")
		for _, hit := range hits {
			fmt.Fprintf(&prompt, "- %s\n", hit.Text)
		}
	}

	answer, err := s.completer.CreateChatCompletion(ctx,
		"You answer questions about what a meeting participant has said, using only the provided summary and transcript excerpts. If the material does not answer the question, say so.",
		prompt.String())
	if err != nil {
		log.Warn("chat completion failed, returning fallback", slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{
			"success":  false,
			"answer":   chatFallback(speakerName, sc),
			"fallback": true,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"answer":  answer,
	})
}

func chatFallback(speakerName string, sc *adapters.SpeakerContext) string {
	if sc != nil && sc.Summary != "" {
		return fmt.Sprintf("The assistant is unavailable right now. Here is the latest summary for %s: %s", speakerName, sc.Summary)
	}
	return fmt.Sprintf("The assistant is unavailable right now and no summary exists yet for %s.", speakerName)
}

type searchRequest struct {
	Query     string `json:"query" binding:"required"`
	MeetingID string `json:"meetingId"`
	SpeakerID string `json:"speakerId"`
	Size      int    `json:"size"`
}

// handleSemanticSearch ranks transcript chunks for a query.
func (s *Server) handleSemanticSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.AbortWithBadRequest(c, "query is required", nil)
		return
	}
	if req.Size <= 0 || req.Size > 50 {
		req.Size = 10
	}

	hits, err := s.searcher.SemanticSearch(c.Request.Context(), req.Query, req.MeetingID, req.SpeakerID, req.Size)
	if err != nil {
		httperr.AbortWithInternal(c, "search failed", nil)
		return
	}
	if hits == nil {
		hits = []adapters.SearchHit{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": hits,
	})
}

// handleChunks returns a meeting's stored chunks sorted by start time.
func (s *Server) handleChunks(c *gin.Context) {
	meetingID := c.Param("meetingId")

	// Numeric ids resolve through the mapping; uuids pass through.
	if numericID, err := strconv.ParseInt(meetingID, 10, 64); err == nil {
		uuid, err := s.writer.ResolveMeetingUUID(c.Request.Context(), numericID)
		if err != nil {
			httperr.AbortWithInternal(c, "failed to resolve meeting", nil)
			return
		}
		if uuid != "" {
			meetingID = uuid
		}
	}

	chunks, err := s.writer.GetChunks(c.Request.Context(), meetingID, 1000)
	if err != nil {
		httperr.AbortWithInternal(c, "failed to load chunks", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"meeting_id": meetingID,
		"count":      len(chunks),
		"chunks":     chunks,
	})
}

// handleStreams returns active stream metadata plus the archived
// history ring.
func (s *Server) handleStreams(c *gin.Context) {
	registry := s.router.Registry()
	c.JSON(http.StatusOK, gin.H{
		"active":  registry.ActiveStats(),
		"history": registry.HistoryStats(),
	})
}

// handleHealth reports process liveness plus dependency status.
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	overall := "ok"
	dbStatus := "ok"
	if err := s.db.PingContext(c.Request.Context()); err != nil {
		dbStatus = "unreachable"
		overall = "degraded"
		status = http.StatusServiceUnavailable
	}

	natsStatus := "disabled"
	if s.nats != nil {
		natsStatus = "disconnected"
		if s.nats.IsConnected() {
			natsStatus = "ok"
		}
	}

	c.JSON(status, gin.H{
		"status":          overall,
		"database":        dbStatus,
		"nats":            natsStatus,
		"active_sessions": s.router.Registry().Size(),
	})
}
