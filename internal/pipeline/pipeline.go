// Package pipeline connects the stream event emitter to the transcript
// buffers, the index, the summariser and the live broadcast path.
package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/meetscribe/rtms-ingest/internal/adapters"
	"github.com/meetscribe/rtms-ingest/internal/logger"
	"github.com/meetscribe/rtms-ingest/internal/metrics"
	"github.com/meetscribe/rtms-ingest/internal/rtms"
	"github.com/meetscribe/rtms-ingest/internal/transcript"
)

// adapterTimeout bounds every adapter call made off the event path.
const adapterTimeout = 15 * time.Second

// Pipeline owns the fan-out from stream events to the enrichment
// adapters. Every adapter call is fire-and-forget off the session
// goroutine; a failed call is logged and counted, never propagated
// back to the stream.
type Pipeline struct {
	buffers     *transcript.Manager
	writer      adapters.IndexWriter
	contexts    contextWriter
	summarizer  adapters.Summarizer
	broadcaster adapters.Broadcaster
	log         *logger.Logger
}

// contextWriter is the slice of the index the summary path writes to.
type contextWriter interface {
	UpsertSpeakerContext(ctx context.Context, sc adapters.SpeakerContext) error
}

// New wires the pipeline and subscribes it to the emitter. bufferCfg
// tunes the transcript buffers; zero values take the defaults.
func New(emitter *rtms.Emitter, writer adapters.IndexWriter, contexts contextWriter, summarizer adapters.Summarizer, broadcaster adapters.Broadcaster, bufferCfg transcript.BufferConfig, log *logger.Logger) *Pipeline {
	p := &Pipeline{
		writer:      writer,
		contexts:    contexts,
		summarizer:  summarizer,
		broadcaster: broadcaster,
		log:         log.WithComponent("pipeline"),
	}
	p.buffers = transcript.NewManager(bufferCfg, p.onChunk, p.onSummarize, log)

	emitter.On(rtms.EventTranscript, p.onTranscript)
	emitter.On(rtms.EventChat, p.onChat)
	emitter.On(rtms.EventAudio, p.onMedia("audio"))
	emitter.On(rtms.EventVideo, p.onMedia("video"))
	emitter.On(rtms.EventShareScreen, p.onMedia("deskshare"))
	emitter.On(rtms.EventSessionStateChanged, p.onSessionState)
	emitter.On(rtms.EventStreamStateChanged, p.onStreamState)
	emitter.On(rtms.EventError, p.onError)

	return p
}

// Buffers exposes the buffer manager for the meeting-stopped teardown
// hook.
func (p *Pipeline) Buffers() *transcript.Manager {
	return p.buffers
}

// Shutdown flushes and destroys every buffer.
func (p *Pipeline) Shutdown() {
	p.buffers.DestroyAll()
}

func (p *Pipeline) onTranscript(ev rtms.Event) {
	u := transcript.Utterance{
		SpeakerID:   strconv.FormatInt(ev.UserID, 10),
		SpeakerName: ev.UserName,
		Text:        ev.Text,
		Timestamp:   ev.Timestamp,
	}
	p.buffers.Get(ev.MeetingUUID).Append(u)

	meetingUUID := ev.MeetingUUID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), adapterTimeout)
		defer cancel()
		if err := p.writer.AppendSpeakerTranscript(ctx, meetingUUID, u); err != nil {
			metrics.RecordAdapterFailure("index")
			p.log.Warn("failed to append speaker transcript",
				slog.String("meeting_id", meetingUUID),
				slog.String("error", err.Error()))
		}
	}()

	if p.broadcaster != nil {
		p.broadcaster.BroadcastToMeeting(ev.MeetingUUID, "transcript", map[string]interface{}{
			"speaker_id":   u.SpeakerID,
			"speaker_name": u.SpeakerName,
			"text":         u.Text,
			"timestamp":    u.Timestamp,
		})
	}
}

func (p *Pipeline) onChat(ev rtms.Event) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.BroadcastToMeeting(ev.MeetingUUID, "chat", map[string]interface{}{
		"sender_id":   ev.UserID,
		"sender_name": ev.UserName,
		"text":        ev.Text,
		"timestamp":   ev.Timestamp,
	})
}

func (p *Pipeline) onMedia(mediaType string) rtms.Handler {
	return func(ev rtms.Event) {
		if ev.Synthetic {
			metrics.RecordFillerFrame(mediaType)
			return
		}
		metrics.RecordMediaFrame(mediaType)
	}
}

func (p *Pipeline) onSessionState(ev rtms.Event) {
	p.broadcastStatus(ev.MeetingUUID, map[string]interface{}{
		"stream_id": ev.StreamID,
		"state":     ev.State,
	})
}

func (p *Pipeline) onStreamState(ev rtms.Event) {
	p.broadcastStatus(ev.MeetingUUID, map[string]interface{}{
		"stream_id": ev.StreamID,
		"state":     ev.State,
		"reason":    ev.Reason,
	})
}

func (p *Pipeline) onError(ev rtms.Event) {
	if ev.Err != nil {
		metrics.RecordStreamError(string(ev.Err.Category))
	}
	status := map[string]interface{}{
		"stream_id": ev.StreamID,
		"state":     "error",
	}
	if ev.Err != nil {
		status["error"] = ev.Err.Error()
	}
	p.broadcastStatus(ev.MeetingUUID, status)
}

func (p *Pipeline) broadcastStatus(meetingUUID string, status map[string]interface{}) {
	if p.broadcaster == nil || meetingUUID == "" {
		return
	}
	p.broadcaster.BroadcastToMeeting(meetingUUID, "session_status", status)
}

// onChunk indexes one flushed chunk and pushes it to live clients.
func (p *Pipeline) onChunk(chunk transcript.Chunk) {
	metrics.RecordChunkFlushed()

	if p.broadcaster != nil {
		p.broadcaster.BroadcastToMeeting(chunk.MeetingID, "chunk", chunk)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), adapterTimeout)
		defer cancel()
		if err := p.writer.InsertChunk(ctx, chunk); err != nil {
			metrics.RecordAdapterFailure("index")
			p.log.Warn("failed to index chunk",
				slog.String("chunk_id", chunk.ChunkID),
				slog.String("error", err.Error()))
		}
	}()
}

// onSummarize runs the summariser for one speaker and persists the
// updated context.
func (p *Pipeline) onSummarize(req transcript.SummarizeRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), adapterTimeout)
		defer cancel()

		sc, err := p.summarizer.Summarize(ctx, req)
		if err != nil {
			metrics.RecordSummary("error")
			metrics.RecordAdapterFailure("summarizer")
			p.log.Warn("summarisation failed",
				slog.String("speaker_id", req.SpeakerID),
				slog.String("error", err.Error()))
			return
		}
		metrics.RecordSummary("success")

		if err := p.contexts.UpsertSpeakerContext(ctx, sc); err != nil {
			metrics.RecordAdapterFailure("index")
			p.log.Warn("failed to persist speaker context",
				slog.String("speaker_id", req.SpeakerID),
				slog.String("error", err.Error()))
			return
		}

		if p.broadcaster != nil {
			p.broadcaster.BroadcastToMeeting(sc.MeetingID, "speaker_update", sc)
		}
	}()
}
