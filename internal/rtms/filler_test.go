package rtms

import (
	"sync"
	"testing"

	"github.com/meetscribe/rtms-ingest/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Off: true})
}

func collectFiller(t *testing.T, kind string) (*Filler, *[]FillerFrame) {
	t.Helper()
	var frames []FillerFrame
	f := NewAudioFiller(20, 16000, func(fr FillerFrame) {
		frames = append(frames, fr)
	}, testLogger())
	if kind == "video" {
		f = NewVideoFiller(25, nil, func(fr FillerFrame) {
			frames = append(frames, fr)
		}, testLogger())
	}
	return f, &frames
}

func packet(ts int64, data []byte) FillerFrame {
	return FillerFrame{Timestamp: ts, Data: data}
}

func TestFillerSilentBeforeFirstPacket(t *testing.T) {
	f, frames := collectFiller(t, "audio")

	for i := 0; i < 5; i++ {
		f.tick()
	}
	if len(*frames) != 0 {
		t.Fatalf("emitted %d frames before the first packet", len(*frames))
	}
}

func TestFillerFirstPacketSeedsClock(t *testing.T) {
	f, frames := collectFiller(t, "audio")

	f.Push(packet(1000, []byte{1}))
	f.tick()

	if len(*frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(*frames))
	}
	got := (*frames)[0]
	if got.Filler {
		t.Error("first emitted frame must be the real packet, not a filler")
	}
	if got.Timestamp != 1000 {
		t.Errorf("timestamp = %d, want 1000", got.Timestamp)
	}
}

func TestFillerEmitsRealWithinTolerance(t *testing.T) {
	f, frames := collectFiller(t, "audio")

	f.Push(packet(1000, []byte{1}))
	f.tick()
	// Expected clock is now 1020; a packet at 1060 is within the
	// 3-frame tolerance (|diff| < 60).
	f.Push(packet(1059, []byte{2}))
	f.tick()

	if len(*frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(*frames))
	}
	if (*frames)[1].Filler || (*frames)[1].Timestamp != 1059 {
		t.Errorf("second frame = %+v, want the real packet at 1059", (*frames)[1])
	}
}

func TestFillerInjectsAcrossGap(t *testing.T) {
	f, frames := collectFiller(t, "audio")

	f.Push(packet(1000, []byte{1}))
	f.tick()
	// Next packet is 5 frames ahead of the expected 1020. Ticks 2-4
	// must fill, tick 5 emits the real packet once it falls inside the
	// tolerance window.
	f.Push(packet(1120, []byte{2}))

	f.tick() // expected 1020, diff 100 >= 60: filler
	f.tick() // expected 1040, diff 80: filler
	f.tick() // expected 1060, diff 60: filler
	f.tick() // expected 1080, diff 40 < 60: real

	if len(*frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(*frames))
	}
	for i := 1; i <= 3; i++ {
		if !(*frames)[i].Filler {
			t.Errorf("frame %d should be a filler", i)
		}
		if len((*frames)[i].Data) != 16000*2*20/1000 {
			t.Errorf("filler frame %d carries %d bytes of silence", i, len((*frames)[i].Data))
		}
	}
	last := (*frames)[4]
	if last.Filler || last.Timestamp != 1120 {
		t.Errorf("final frame = %+v, want the real packet at 1120", last)
	}
}

func TestFillerPreservesSenderAttribution(t *testing.T) {
	f, frames := collectFiller(t, "audio")

	f.Push(FillerFrame{Timestamp: 1000, Data: []byte{1}, UserID: 7, UserName: "Ada"})
	f.tick()
	f.tick() // no packet buffered: synthetic frame

	if len(*frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(*frames))
	}
	first := (*frames)[0]
	if first.Filler {
		t.Fatalf("first frame should be the real packet: %+v", first)
	}
	if first.UserID != 7 || first.UserName != "Ada" {
		t.Errorf("real frame attribution = %d/%q, want 7/\"Ada\"", first.UserID, first.UserName)
	}
	synthetic := (*frames)[1]
	if !synthetic.Filler {
		t.Fatalf("second frame should be synthetic: %+v", synthetic)
	}
	if synthetic.UserID != 0 || synthetic.UserName != "" {
		t.Errorf("synthetic frame carries attribution: %d/%q", synthetic.UserID, synthetic.UserName)
	}
}

func TestFillerDropsSlightlyStalePacket(t *testing.T) {
	f, frames := collectFiller(t, "audio")

	f.Push(packet(1000, []byte{1}))
	f.tick() // expected now 1020

	// Advance the clock a few frames.
	f.tick() // filler at 1020, expected 1040
	f.tick() // filler at 1040, expected 1060

	// A packet 4 frames behind (diff -80): outside the real window,
	// inside the resync threshold, dropped without output. The tick
	// still produces its one frame, a filler.
	f.Push(packet(980, []byte{9}))
	before := len(*frames)
	f.tick()

	if len(*frames) != before+1 {
		t.Fatalf("tick emitted %d frames, want exactly 1", len(*frames)-before)
	}
	if got := (*frames)[len(*frames)-1]; !got.Filler {
		t.Errorf("stale packet leaked through: %+v", got)
	}
}

func TestFillerResyncsToLaggingPacket(t *testing.T) {
	f, frames := collectFiller(t, "audio")

	f.Push(packet(5000, []byte{1}))
	f.tick() // expected now 5020

	// 15 frames behind: beyond the 10-frame resync threshold, the
	// filler jumps to the packet.
	f.Push(packet(4720, []byte{2}))
	f.tick()

	got := (*frames)[len(*frames)-1]
	if got.Filler || got.Timestamp != 4720 {
		t.Errorf("frame = %+v, want re-synced real packet at 4720", got)
	}

	// The clock follows the re-synced packet.
	f.Push(packet(4740, []byte{3}))
	f.tick()
	got = (*frames)[len(*frames)-1]
	if got.Filler || got.Timestamp != 4740 {
		t.Errorf("frame after resync = %+v, want real packet at 4740", got)
	}
}

func TestFillerStopDrainsToEndTime(t *testing.T) {
	f, frames := collectFiller(t, "audio")

	f.Push(packet(1000, []byte{1}))
	f.tick() // expected 1020

	f.Stop(1100)

	// 1020, 1040, 1060, 1080: four fillers to reach the end time.
	fillers := (*frames)[1:]
	if len(fillers) != 4 {
		t.Fatalf("expected 4 drain fillers, got %d", len(fillers))
	}
	for i, fr := range fillers {
		if !fr.Filler {
			t.Errorf("drain frame %d is not a filler", i)
		}
		if want := int64(1020 + 20*i); fr.Timestamp != want {
			t.Errorf("drain frame %d timestamp = %d, want %d", i, fr.Timestamp, want)
		}
	}
}

func TestFillerStopBeforeFirstPacketEmitsNothing(t *testing.T) {
	f, frames := collectFiller(t, "audio")
	f.Stop(99999)
	if len(*frames) != 0 {
		t.Errorf("Stop before any packet emitted %d frames", len(*frames))
	}
}

func TestFillerIgnoresPushAfterStop(t *testing.T) {
	f, frames := collectFiller(t, "audio")
	f.Push(packet(1000, []byte{1}))
	f.tick()
	f.Stop(1000)

	f.Push(packet(2000, []byte{2}))
	f.tick()
	if len(*frames) != 1 {
		t.Errorf("frames after stop = %d, want 1", len(*frames))
	}
}

func TestFillerStopKeepsEmissionOrdered(t *testing.T) {
	var mu sync.Mutex
	var stamps []int64
	f := NewAudioFiller(20, 16000, func(fr FillerFrame) {
		mu.Lock()
		stamps = append(stamps, fr.Timestamp)
		mu.Unlock()
	}, testLogger())

	f.Push(packet(1000, []byte{1}))
	f.tick()

	// Ticks racing Stop's drain: a drain filler must never reach the
	// sink ahead of an in-flight tick frame with an earlier stamp.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			f.tick()
		}
	}()
	f.Stop(1000 + 50*20)
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(stamps); i++ {
		if stamps[i] < stamps[i-1] {
			t.Fatalf("timestamps regressed at index %d: %d after %d", i, stamps[i], stamps[i-1])
		}
	}
}

func TestFillerOutOfOrderInsert(t *testing.T) {
	f, _ := collectFiller(t, "audio")

	f.Push(packet(1040, []byte{3}))
	f.Push(packet(1000, []byte{1}))
	f.Push(packet(1020, []byte{2}))

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) != 3 {
		t.Fatalf("buffered %d frames, want 3", len(f.frames))
	}
	for i, want := range []int64{1000, 1020, 1040} {
		if f.frames[i].Timestamp != want {
			t.Errorf("frame %d timestamp = %d, want %d", i, f.frames[i].Timestamp, want)
		}
	}
}

func TestVideoFillerFrameDuration(t *testing.T) {
	f, frames := collectFiller(t, "video")

	f.Push(packet(1000, []byte{1}))
	f.tick()
	f.tick() // no packet: filler at expected 1040 (1000/25 = 40ms)

	if len(*frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(*frames))
	}
	got := (*frames)[1]
	if !got.Filler || got.Timestamp != 1040 {
		t.Errorf("video filler frame = %+v, want filler at 1040", got)
	}
	if got.Data != nil {
		t.Error("video filler without a key frame should carry no payload")
	}
}

func TestVideoFillerClampsExtremeFrameRate(t *testing.T) {
	f := NewVideoFiller(1001, nil, func(FillerFrame) {}, testLogger())
	if f.frameDur != 1 {
		t.Fatalf("frameDur = %d, want 1ms floor", f.frameDur)
	}

	// The ticker must accept the clamped interval.
	f.Start()
	f.Stop(0)
}
