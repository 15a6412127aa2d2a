// Package summarizer merges a speaker's prior summary with their
// recent transcript text through the inference backend.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meetscribe/rtms-ingest/internal/adapters"
	"github.com/meetscribe/rtms-ingest/internal/logger"
	"github.com/meetscribe/rtms-ingest/internal/transcript"
)

const systemPrompt = `You maintain an evolving summary of what one meeting participant has said so far.
Merge the prior summary with the new transcript text into an updated summary.
Respond with a JSON object only, shaped exactly as:
{"summary": "<2-4 sentence summary of everything the speaker has said>", "topics": ["<topic>", ...]}
Keep topics short noun phrases, at most 8 of them.`

// CompletionClient is the inference surface the summariser needs.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, system, user string) (string, error)
}

// ContextReader loads the prior speaker context, if any.
type ContextReader interface {
	GetSpeakerContext(ctx context.Context, meetingID, speakerID string) (*adapters.SpeakerContext, error)
}

// Service implements adapters.Summarizer over a chat completion model.
// Inference failures degrade to carrying the prior summary forward.
type Service struct {
	client CompletionClient
	reader ContextReader
	log    *logger.Logger
}

// NewService creates a summariser service. reader may be nil; prior
// context is then always treated as empty.
func NewService(client CompletionClient, reader ContextReader, log *logger.Logger) *Service {
	return &Service{
		client: client,
		reader: reader,
		log:    log.WithComponent("summarizer"),
	}
}

type summaryPayload struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

// Summarize produces the updated speaker context for one request.
func (s *Service) Summarize(ctx context.Context, req transcript.SummarizeRequest) (adapters.SpeakerContext, error) {
	prior := s.priorContext(ctx, req)

	updated := adapters.SpeakerContext{
		MeetingID:    req.MeetingID,
		SpeakerID:    req.SpeakerID,
		SpeakerName:  req.SpeakerName,
		Summary:      prior.Summary,
		Topics:       prior.Topics,
		SegmentCount: req.SegmentCount,
		LastUpdated:  time.Now(),
	}

	user := buildUserPrompt(prior.Summary, req)
	reply, err := s.client.CreateChatCompletion(ctx, systemPrompt, user)
	if err != nil {
		s.log.Warn("summarisation call failed, keeping prior summary",
			slog.String("speaker_id", req.SpeakerID),
			slog.String("error", err.Error()))
		return updated, nil
	}

	payload, err := parseSummaryReply(reply)
	if err != nil {
		s.log.Warn("summarisation reply unparseable, keeping prior summary",
			slog.String("speaker_id", req.SpeakerID),
			slog.String("error", err.Error()))
		return updated, nil
	}

	updated.Summary = payload.Summary
	if len(payload.Topics) > 0 {
		updated.Topics = payload.Topics
	}
	return updated, nil
}

func (s *Service) priorContext(ctx context.Context, req transcript.SummarizeRequest) adapters.SpeakerContext {
	if s.reader == nil {
		return adapters.SpeakerContext{}
	}
	prior, err := s.reader.GetSpeakerContext(ctx, req.MeetingID, req.SpeakerID)
	if err != nil {
		s.log.Warn("failed to load prior speaker context",
			slog.String("speaker_id", req.SpeakerID),
			slog.String("error", err.Error()))
		return adapters.SpeakerContext{}
	}
	if prior == nil {
		return adapters.SpeakerContext{}
	}
	return *prior
}

func buildUserPrompt(priorSummary string, req transcript.SummarizeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Speaker: %s\n", req.SpeakerName)
	if priorSummary != "" {
		fmt.Fprintf(&b, "Prior summary:\n%s\n\n", priorSummary)
	} else {
		b.WriteString("Prior summary: (none yet)\n\n")
	}
	fmt.Fprintf(&b, "New transcript text:\n%s\n", req.RecentText)
	return b.String()
}

// parseSummaryReply extracts the JSON object from a model reply,
// tolerating markdown code fences and surrounding prose.
func parseSummaryReply(reply string) (summaryPayload, error) {
	var payload summaryPayload

	cleaned := strings.TrimSpace(reply)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
		return validated(payload)
	}

	// Fall back to the first balanced top-level object in the reply.
	start := strings.Index(cleaned, "{")
	if start < 0 {
		return payload, fmt.Errorf("no JSON object in reply")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		ch := cleaned[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				if err := json.Unmarshal([]byte(cleaned[start:i+1]), &payload); err != nil {
					return payload, fmt.Errorf("failed to parse embedded JSON: %w", err)
				}
				return validated(payload)
			}
		}
	}
	return payload, fmt.Errorf("unterminated JSON object in reply")
}

func validated(p summaryPayload) (summaryPayload, error) {
	if strings.TrimSpace(p.Summary) == "" {
		return p, fmt.Errorf("reply carried an empty summary")
	}
	return p, nil
}

var _ adapters.Summarizer = (*Service)(nil)
