package rtms

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/meetscribe/rtms-ingest/internal/logger"
)

const (
	// realEmitTolerance is the window (in frame durations) within which
	// a buffered packet is considered on time.
	realEmitTolerance = 3

	// resyncLagThreshold is the backward jump (in frame durations)
	// beyond which the filler re-syncs to the packet instead of
	// dropping it.
	resyncLagThreshold = 10

	fillerLogInterval = time.Second
	realLogInterval   = 5 * time.Second
)

// FillerFrame is one output frame of a filler. Filler is true when the
// frame was synthesised to cover a gap; real frames keep the sender
// attribution of the packet they were built from.
type FillerFrame struct {
	Timestamp int64
	Data      []byte
	UserID    int64
	UserName  string
	Filler    bool
}

// Filler is a paced emitter that smooths arrival jitter and injects
// silence/black frames across gaps. One instance serves one media type
// of one stream; ticks produce exactly one output frame each.
//
// The buffer is ordered by timestamp. Ticks compare the earliest
// buffered packet against the expected timestamp:
//
//   - within realEmitTolerance frames: emit the real packet
//   - behind by more than resyncLagThreshold frames: re-sync to it
//   - behind by less: drop it silently
//   - ahead: emit a filler frame and advance
//
// No frame is emitted before the first packet arrives; the first
// buffered packet initialises the expected timestamp.
type Filler struct {
	kind     string
	frameDur int64 // ms
	fillData []byte
	emit     func(FillerFrame)
	log      *logger.Logger

	mu       sync.Mutex
	frames   []FillerFrame
	expected int64
	started  bool
	stopped  bool

	// emitMu orders emission: a frame computed under mu is emitted
	// before any frame computed after it, so Stop's drain tail never
	// overtakes an in-flight tick.
	emitMu sync.Mutex

	ticker *time.Ticker
	done   chan struct{}

	lastFillerLog time.Time
	lastRealLog   time.Time
}

// NewAudioFiller creates a filler pacing at sendRateMS per frame.
// The fill frame is pre-rolled PCM silence sized for the negotiated
// sample rate (16-bit mono).
func NewAudioFiller(sendRateMS, sampleRateHz int, emit func(FillerFrame), log *logger.Logger) *Filler {
	if sendRateMS <= 0 {
		sendRateMS = 20
	}
	silence := make([]byte, sampleRateHz*2*sendRateMS/1000)
	return &Filler{
		kind:     "audio",
		frameDur: int64(sendRateMS),
		fillData: silence,
		emit:     emit,
		log:      log.WithComponent("audio_filler"),
		done:     make(chan struct{}),
	}
}

// NewVideoFiller creates a filler pacing at 1000/fps ms per frame.
// keyFrame is the pre-loaded I-frame (black frame) injected across
// gaps; it may be nil, in which case filler frames carry no payload.
func NewVideoFiller(fps int, keyFrame []byte, emit func(FillerFrame), log *logger.Logger) *Filler {
	if fps <= 0 {
		fps = 25
	}
	// Above 1000 fps the integer frame duration truncates to zero,
	// which time.NewTicker rejects.
	frameDur := int64(1000 / fps)
	if frameDur < 1 {
		frameDur = 1
	}
	return &Filler{
		kind:     "video",
		frameDur: frameDur,
		fillData: keyFrame,
		emit:     emit,
		log:      log.WithComponent("video_filler"),
		done:     make(chan struct{}),
	}
}

// Start begins the periodic tick. Safe to call once.
func (f *Filler) Start() {
	f.ticker = time.NewTicker(time.Duration(f.frameDur) * time.Millisecond)
	go func() {
		for {
			select {
			case <-f.ticker.C:
				f.tick()
			case <-f.done:
				return
			}
		}
	}()
}

// Push inserts a received packet. Fast-path append when the timestamp
// is not older than the buffered tail; binary search insertion
// otherwise.
func (f *Filler) Push(frame FillerFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return
	}

	frame.Filler = false
	n := len(f.frames)
	if n == 0 || frame.Timestamp >= f.frames[n-1].Timestamp {
		f.frames = append(f.frames, frame)
		return
	}

	i := sort.Search(n, func(i int) bool { return f.frames[i].Timestamp > frame.Timestamp })
	f.frames = append(f.frames, FillerFrame{})
	copy(f.frames[i+1:], f.frames[i:])
	f.frames[i] = frame
}

// Stop ceases the tick. If endTime is beyond the expected timestamp,
// one filler per missing frame is emitted up to endTime first.
func (f *Filler) Stop(endTime int64) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true

	var tail []FillerFrame
	if f.started {
		for f.expected < endTime {
			tail = append(tail, FillerFrame{Timestamp: f.expected, Data: f.fillData, Filler: true})
			f.expected += f.frameDur
		}
	}
	f.frames = nil
	f.emitMu.Lock()
	f.mu.Unlock()

	for _, frame := range tail {
		f.emit(frame)
	}
	f.emitMu.Unlock()

	close(f.done)
	if f.ticker != nil {
		f.ticker.Stop()
	}
}

// tick produces exactly one output frame: the earliest on-time buffered
// packet, or a synthesised filler frame.
func (f *Filler) tick() {
	f.mu.Lock()

	if f.stopped {
		f.mu.Unlock()
		return
	}

	// Nothing emits before the first packet; its timestamp seeds the
	// expected clock so no filler precedes it.
	if !f.started {
		if len(f.frames) == 0 {
			f.mu.Unlock()
			return
		}
		f.expected = f.frames[0].Timestamp
		f.started = true
	}

	var out FillerFrame
	emitted := false

	for !emitted {
		if len(f.frames) == 0 {
			out = FillerFrame{Timestamp: f.expected, Data: f.fillData, Filler: true}
			f.expected += f.frameDur
			break
		}

		pkt := f.frames[0]
		diff := pkt.Timestamp - f.expected

		switch {
		case diff > -realEmitTolerance*f.frameDur && diff < realEmitTolerance*f.frameDur:
			f.frames = f.frames[1:]
			f.expected = pkt.Timestamp + f.frameDur
			out = pkt
			emitted = true

		case diff < -resyncLagThreshold*f.frameDur:
			// Large lag: jump to the packet and re-sync the clock.
			f.frames = f.frames[1:]
			f.expected = pkt.Timestamp + f.frameDur
			out = pkt
			emitted = true
			f.log.Warn("re-synced to lagging packet",
				slog.Int64("packet_ts", pkt.Timestamp),
				slog.Int64("lag_ms", -diff))

		case diff < 0:
			// Small backward jump: stale packet, drop silently.
			f.frames = f.frames[1:]

		default:
			out = FillerFrame{Timestamp: f.expected, Data: f.fillData, Filler: true}
			f.expected += f.frameDur
			emitted = true
		}
	}

	now := time.Now()
	if out.Filler {
		if now.Sub(f.lastFillerLog) >= fillerLogInterval {
			f.lastFillerLog = now
			f.log.Debug("injecting filler frames", slog.Int64("expected_ts", out.Timestamp))
		}
	} else if now.Sub(f.lastRealLog) >= realLogInterval {
		f.lastRealLog = now
		f.log.Debug("emitting real frames", slog.Int64("packet_ts", out.Timestamp))
	}

	f.emitMu.Lock()
	f.mu.Unlock()

	f.emit(out)
	f.emitMu.Unlock()
}
