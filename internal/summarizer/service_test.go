package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/meetscribe/rtms-ingest/internal/adapters"
	"github.com/meetscribe/rtms-ingest/internal/logger"
	"github.com/meetscribe/rtms-ingest/internal/transcript"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Off: true})
}

type fakeCompletion struct {
	reply     string
	err       error
	lastUser  string
	lastCalls int
}

func (f *fakeCompletion) CreateChatCompletion(_ context.Context, _, user string) (string, error) {
	f.lastCalls++
	f.lastUser = user
	return f.reply, f.err
}

type fakeContextReader struct {
	doc *adapters.SpeakerContext
	err error
}

func (f *fakeContextReader) GetSpeakerContext(_ context.Context, _, _ string) (*adapters.SpeakerContext, error) {
	return f.doc, f.err
}

func testRequest() transcript.SummarizeRequest {
	return transcript.SummarizeRequest{
		MeetingID:    "m1",
		SpeakerID:    "7",
		SpeakerName:  "Ada",
		RecentText:   "we should ship the migration this week",
		SegmentCount: 12,
	}
}

func TestParseSummaryReply(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		summary string
		topics  []string
		wantErr bool
	}{
		{
			name:    "clean json",
			reply:   `{"summary": "Ada wants to ship.", "topics": ["migration"]}`,
			summary: "Ada wants to ship.",
			topics:  []string{"migration"},
		},
		{
			name:    "json code fence",
			reply:   "```json\n{\"summary\": \"Ada wants to ship.\", \"topics\": []}\n```",
			summary: "Ada wants to ship.",
		},
		{
			name:    "bare code fence",
			reply:   "```\n{\"summary\": \"Ada wants to ship.\"}\n```",
			summary: "Ada wants to ship.",
		},
		{
			name:    "prose around the object",
			reply:   `Sure, here is the update: {"summary": "Ada wants to ship.", "topics": ["migration", "planning"]} Hope that helps.`,
			summary: "Ada wants to ship.",
			topics:  []string{"migration", "planning"},
		},
		{
			name:    "braces inside strings",
			reply:   `{"summary": "Ada said {spec} is done.", "topics": []}`,
			summary: "Ada said {spec} is done.",
		},
		{
			name:    "no object",
			reply:   "I could not produce a summary.",
			wantErr: true,
		},
		{
			name:    "unterminated object",
			reply:   `{"summary": "Ada wants to ship.`,
			wantErr: true,
		},
		{
			name:    "empty summary",
			reply:   `{"summary": "  ", "topics": ["migration"]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := parseSummaryReply(tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %+v", payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSummaryReply: %v", err)
			}
			if payload.Summary != tt.summary {
				t.Errorf("summary = %q, want %q", payload.Summary, tt.summary)
			}
			if len(payload.Topics) != len(tt.topics) {
				t.Fatalf("topics = %v, want %v", payload.Topics, tt.topics)
			}
			for i := range tt.topics {
				if payload.Topics[i] != tt.topics[i] {
					t.Errorf("topic %d = %q, want %q", i, payload.Topics[i], tt.topics[i])
				}
			}
		})
	}
}

func TestSummarizeUpdatesContext(t *testing.T) {
	client := &fakeCompletion{reply: `{"summary": "Ada is driving the migration.", "topics": ["migration"]}`}
	svc := NewService(client, nil, testLogger())

	got, err := svc.Summarize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got.Summary != "Ada is driving the migration." {
		t.Errorf("summary = %q", got.Summary)
	}
	if len(got.Topics) != 1 || got.Topics[0] != "migration" {
		t.Errorf("topics = %v", got.Topics)
	}
	if got.MeetingID != "m1" || got.SpeakerID != "7" || got.SpeakerName != "Ada" {
		t.Errorf("identity = %s/%s/%s", got.MeetingID, got.SpeakerID, got.SpeakerName)
	}
	if got.SegmentCount != 12 {
		t.Errorf("segment count = %d, want 12", got.SegmentCount)
	}
	if got.LastUpdated.IsZero() {
		t.Error("LastUpdated not set")
	}
	if !strings.Contains(client.lastUser, "we should ship the migration") {
		t.Errorf("user prompt missing recent text: %q", client.lastUser)
	}
}

func TestSummarizeFeedsPriorSummaryToPrompt(t *testing.T) {
	client := &fakeCompletion{reply: `{"summary": "Updated.", "topics": []}`}
	reader := &fakeContextReader{doc: &adapters.SpeakerContext{
		Summary: "Ada has been planning a migration.",
		Topics:  []string{"planning"},
	}}
	svc := NewService(client, reader, testLogger())

	got, err := svc.Summarize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(client.lastUser, "Ada has been planning a migration.") {
		t.Errorf("user prompt missing prior summary: %q", client.lastUser)
	}
	// Empty topic lists keep the prior topics.
	if len(got.Topics) != 1 || got.Topics[0] != "planning" {
		t.Errorf("topics = %v, want prior carried forward", got.Topics)
	}
}

func TestSummarizeKeepsPriorOnClientError(t *testing.T) {
	client := &fakeCompletion{err: errors.New("backend down")}
	reader := &fakeContextReader{doc: &adapters.SpeakerContext{
		Summary: "Ada has been planning a migration.",
		Topics:  []string{"planning"},
	}}
	svc := NewService(client, reader, testLogger())

	got, err := svc.Summarize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Summarize should degrade, not fail: %v", err)
	}
	if got.Summary != "Ada has been planning a migration." {
		t.Errorf("summary = %q, want the prior carried forward", got.Summary)
	}
	if got.SegmentCount != 12 {
		t.Errorf("segment count = %d, want the fresh request value", got.SegmentCount)
	}
}

func TestSummarizeKeepsPriorOnUnparseableReply(t *testing.T) {
	client := &fakeCompletion{reply: "no json here"}
	reader := &fakeContextReader{doc: &adapters.SpeakerContext{Summary: "Prior."}}
	svc := NewService(client, reader, testLogger())

	got, err := svc.Summarize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got.Summary != "Prior." {
		t.Errorf("summary = %q, want prior kept", got.Summary)
	}
}

func TestSummarizeToleratesReaderFailure(t *testing.T) {
	client := &fakeCompletion{reply: `{"summary": "Fresh.", "topics": []}`}
	reader := &fakeContextReader{err: errors.New("db down")}
	svc := NewService(client, reader, testLogger())

	got, err := svc.Summarize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got.Summary != "Fresh." {
		t.Errorf("summary = %q", got.Summary)
	}
}
