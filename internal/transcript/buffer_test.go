package transcript

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meetscribe/rtms-ingest/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Off: true})
}

// recorder collects callback invocations behind a lock so tests can
// assert on them after timer-driven triggers.
type recorder struct {
	mu      sync.Mutex
	chunks  []Chunk
	summary []SummarizeRequest
}

func (r *recorder) onChunk(c Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
}

func (r *recorder) onSummarize(s SummarizeRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = append(r.summary, s)
}

func (r *recorder) chunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func (r *recorder) summaryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.summary)
}

// longConfig keeps every timer far away so only explicit calls and the
// word threshold fire.
func longConfig() BufferConfig {
	return BufferConfig{
		SummaryInterval: time.Hour,
		SpeakerIdle:     time.Hour,
		ChunkInterval:   time.Hour,
		WordThreshold:   500,
	}
}

func newTestBuffer(t *testing.T, cfg BufferConfig) (*Buffer, *recorder) {
	t.Helper()
	rec := &recorder{}
	b := NewBuffer("m1", cfg, rec.onChunk, rec.onSummarize, testLogger())
	t.Cleanup(b.Destroy)
	return b, rec
}

func utter(speakerID, name, text string, ts int64) Utterance {
	return Utterance{SpeakerID: speakerID, SpeakerName: name, Text: text, Timestamp: ts}
}

func TestBufferFlushFormatsChunk(t *testing.T) {
	b, rec := newTestBuffer(t, longConfig())

	b.Append(utter("1", "Ada", "hello there", 100))
	b.Append(utter("2", "Bob", "hi", 200))
	b.Append(utter("1", "Ada", "how are you", 300))

	b.Flush()

	if rec.chunkCount() != 1 {
		t.Fatalf("chunks = %d, want 1", rec.chunkCount())
	}
	c := rec.chunks[0]
	if c.ChunkID != "m1-chunk-1" {
		t.Errorf("chunk id = %q", c.ChunkID)
	}
	want := "Ada: hello there\nBob: hi\nAda: how are you"
	if c.Text != want {
		t.Errorf("chunk text = %q, want %q", c.Text, want)
	}
	if c.StartTime != 100 || c.EndTime != 300 {
		t.Errorf("chunk window = %d..%d, want 100..300", c.StartTime, c.EndTime)
	}
	if len(c.SpeakerIDs) != 2 || c.SpeakerIDs[0] != "1" || c.SpeakerIDs[1] != "2" {
		t.Errorf("speaker ids = %v", c.SpeakerIDs)
	}
	if len(c.SpeakerNames) != 2 || c.SpeakerNames[0] != "Ada" || c.SpeakerNames[1] != "Bob" {
		t.Errorf("speaker names = %v", c.SpeakerNames)
	}
}

func TestBufferFlushEmptyIsNoop(t *testing.T) {
	b, rec := newTestBuffer(t, longConfig())
	b.Flush()
	if rec.chunkCount() != 0 {
		t.Errorf("empty flush produced %d chunks", rec.chunkCount())
	}
}

func TestBufferChunkSequenceIncrements(t *testing.T) {
	b, rec := newTestBuffer(t, longConfig())

	for i := 1; i <= 3; i++ {
		b.Append(utter("1", "Ada", "line", int64(i*100)))
		b.Flush()
	}

	if rec.chunkCount() != 3 {
		t.Fatalf("chunks = %d, want 3", rec.chunkCount())
	}
	for i, c := range rec.chunks {
		if want := fmt.Sprintf("m1-chunk-%d", i+1); c.ChunkID != want {
			t.Errorf("chunk %d id = %q, want %q", i, c.ChunkID, want)
		}
	}
}

func TestBufferWordThresholdFlush(t *testing.T) {
	cfg := longConfig()
	cfg.WordThreshold = 10
	b, rec := newTestBuffer(t, cfg)

	b.Append(utter("1", "Ada", "one two three four", 100))
	if rec.chunkCount() != 0 {
		t.Fatal("flushed below the word threshold")
	}

	b.Append(utter("1", "Ada", "five six seven eight nine ten", 200))
	if rec.chunkCount() != 1 {
		t.Fatalf("chunks = %d, want 1 after crossing the threshold", rec.chunkCount())
	}

	// The counter resets with the flush.
	b.Append(utter("1", "Ada", "short", 300))
	if rec.chunkCount() != 1 {
		t.Error("flushed again before re-crossing the threshold")
	}
}

func TestBufferSummarizeMarksProgress(t *testing.T) {
	b, rec := newTestBuffer(t, longConfig())

	b.Append(utter("1", "Ada", "first thought", 100))
	b.Append(utter("2", "Bob", "interjection", 150))
	b.Append(utter("1", "Ada", "second thought", 200))

	b.Summarize("1")
	if rec.summaryCount() != 1 {
		t.Fatalf("summaries = %d, want 1", rec.summaryCount())
	}
	req := rec.summary[0]
	if req.SpeakerID != "1" || req.SpeakerName != "Ada" {
		t.Errorf("summary speaker = %s/%s", req.SpeakerID, req.SpeakerName)
	}
	if req.RecentText != "first thought second thought" {
		t.Errorf("recent text = %q", req.RecentText)
	}
	if req.SegmentCount != 2 {
		t.Errorf("segment count = %d, want 2", req.SegmentCount)
	}

	// Nothing new since the mark: no second trigger.
	b.Summarize("1")
	if rec.summaryCount() != 1 {
		t.Error("summarize fired with no new utterances")
	}

	// The segment count keeps growing across marks.
	b.Append(utter("1", "Ada", "third thought", 300))
	b.Summarize("1")
	if rec.summaryCount() != 2 {
		t.Fatalf("summaries = %d, want 2", rec.summaryCount())
	}
	if got := rec.summary[1]; got.RecentText != "third thought" || got.SegmentCount != 3 {
		t.Errorf("second summary = %q/%d, want third thought/3", got.RecentText, got.SegmentCount)
	}
}

func TestBufferSummarizeUnknownSpeaker(t *testing.T) {
	b, rec := newTestBuffer(t, longConfig())
	b.Summarize("ghost")
	if rec.summaryCount() != 0 {
		t.Error("summarize fired for an unknown speaker")
	}
}

func TestBufferSummarizeAll(t *testing.T) {
	b, rec := newTestBuffer(t, longConfig())

	b.Append(utter("1", "Ada", "alpha", 100))
	b.Append(utter("2", "Bob", "beta", 200))
	b.SummarizeAll()

	if rec.summaryCount() != 2 {
		t.Fatalf("summaries = %d, want 2", rec.summaryCount())
	}
	seen := map[string]string{}
	for _, req := range rec.summary {
		seen[req.SpeakerID] = req.RecentText
	}
	if seen["1"] != "alpha" || seen["2"] != "beta" {
		t.Errorf("summaries by speaker = %v", seen)
	}
}

func TestBufferIdleTimerTriggersSummary(t *testing.T) {
	cfg := longConfig()
	cfg.SpeakerIdle = 30 * time.Millisecond
	b, rec := newTestBuffer(t, cfg)

	b.Append(utter("1", "Ada", "going quiet now", 100))

	deadline := time.Now().Add(2 * time.Second)
	for rec.summaryCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.summaryCount() != 1 {
		t.Fatalf("summaries = %d, want 1 from the idle timer", rec.summaryCount())
	}
	if got := rec.summary[0].RecentText; got != "going quiet now" {
		t.Errorf("idle summary text = %q", got)
	}
}

func TestBufferDestroyFlushesEverything(t *testing.T) {
	rec := &recorder{}
	b := NewBuffer("m1", longConfig(), rec.onChunk, rec.onSummarize, testLogger())

	b.Append(utter("1", "Ada", "parting words", 100))
	b.Destroy()

	if rec.summaryCount() != 1 {
		t.Errorf("summaries = %d, want 1 final summary", rec.summaryCount())
	}
	if rec.chunkCount() != 1 {
		t.Fatalf("chunks = %d, want 1 final chunk", rec.chunkCount())
	}
	if !strings.Contains(rec.chunks[0].Text, "parting words") {
		t.Errorf("final chunk text = %q", rec.chunks[0].Text)
	}

	// Destroy is idempotent and the buffer rejects further appends.
	b.Destroy()
	b.Append(utter("1", "Ada", "too late", 200))
	b.Flush()
	if rec.chunkCount() != 1 {
		t.Errorf("chunks after destroy = %d, want 1", rec.chunkCount())
	}
}

func TestManagerLifecycle(t *testing.T) {
	rec := &recorder{}
	m := NewManager(longConfig(), rec.onChunk, rec.onSummarize, testLogger())
	defer m.DestroyAll()

	b1 := m.Get("m1")
	if m.Get("m1") != b1 {
		t.Error("Get should return the same buffer per meeting")
	}
	if m.Get("m2") == b1 {
		t.Error("distinct meetings must not share a buffer")
	}

	b1.Append(utter("1", "Ada", "closing remark", 100))
	m.Destroy("m1")
	if rec.chunkCount() != 1 {
		t.Errorf("chunks after Destroy = %d, want 1", rec.chunkCount())
	}

	// Destroying an unknown meeting is a no-op.
	m.Destroy("ghost")

	// A fresh buffer takes the destroyed one's place.
	if m.Get("m1") == b1 {
		t.Error("Get after Destroy returned the destroyed buffer")
	}
}
