package rtms

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetscribe/rtms-ingest/internal/config"
)

type frame = map[string]interface{}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// pumpFrames forwards every JSON frame read from conn until the socket
// closes.
func pumpFrames(conn *websocket.Conn, ch chan frame) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		ch <- f
	}
}

func awaitFrame(t *testing.T, ch <-chan frame, msgType int) frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-ch:
			if mt, ok := f["msg_type"].(float64); ok && int(mt) == msgType {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for msg_type %d", msgType)
			return nil
		}
	}
}

func awaitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func awaitSessionClosed(t *testing.T, s *StreamSession) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		closed := s.closed
		timer := s.reconnectTimer
		s.mu.Unlock()
		if closed {
			if timer != nil {
				t.Error("closed session still holds a reconnect timer")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never closed")
}

var testCreds = config.Credentials{ClientID: "cid", ClientSecret: "csecret"}

func TestSessionHandshakeAndMediaFlow(t *testing.T) {
	sigFrames := make(chan frame, 32)
	mediaFrames := make(chan frame, 32)
	sigConns := make(chan *websocket.Conn, 1)
	mediaConns := make(chan *websocket.Conn, 1)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/signaling", func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var req frame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if int(req["msg_type"].(float64)) != MsgTypeSignalingHandshakeReq {
			t.Errorf("first signaling frame msg_type = %v", req["msg_type"])
		}
		wantSig := Sign(testCreds.ClientID, "m1", "s1", testCreds.ClientSecret)
		if req["signature"] != wantSig {
			t.Errorf("handshake signature = %v, want %s", req["signature"], wantSig)
		}

		conn.WriteJSON(frame{
			"msg_type":    MsgTypeSignalingHandshakeResp,
			"status_code": 0,
			"media_server": frame{
				"server_urls": map[string]string{"transcript": wsURL(srv, "/media")},
			},
			"media_params": frame{"audio_send_rate": 20},
		})
		sigConns <- conn
		pumpFrames(conn, sigFrames)
	})

	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var req frame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if int(req["msg_type"].(float64)) != MsgTypeMediaHandshakeReq {
			t.Errorf("first media frame msg_type = %v", req["msg_type"])
		}
		if int(req["media_type"].(float64)) != MediaTypeTranscript {
			t.Errorf("media handshake media_type = %v, want transcript", req["media_type"])
		}

		conn.WriteJSON(frame{"msg_type": MsgTypeMediaHandshakeResp, "status_code": 0})
		mediaConns <- conn
		pumpFrames(conn, mediaFrames)
	})

	emitter := NewEmitter()
	transcripts := make(chan Event, 8)
	emitter.On(EventTranscript, func(ev Event) { transcripts <- ev })

	s := NewStreamSession(SessionConfig{
		StreamID:     "s1",
		MeetingUUID:  "m1",
		Product:      "meeting",
		Credentials:  testCreds,
		SignalingURL: wsURL(srv, "/signaling"),
		MediaMask:    MediaTypeTranscript,
	}, emitter, testLogger())
	defer s.Stop()

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The accepted handshake triggers the event subscription and, once
	// the media socket is up, the client ready ack.
	awaitFrame(t, sigFrames, MsgTypeEventSubscription)
	ready := awaitFrame(t, sigFrames, MsgTypeClientReadyAck)
	if int(ready["media_type"].(float64)) != MediaTypeTranscript {
		t.Errorf("ready ack media_type = %v", ready["media_type"])
	}

	s.mu.Lock()
	mask := s.effectiveMask
	state := s.sigState
	s.mu.Unlock()
	if mask != MediaTypeTranscript {
		t.Errorf("effective mask = %d, want %d", mask, MediaTypeTranscript)
	}
	if state != stateStreaming {
		t.Errorf("signaling state = %s, want streaming", state)
	}

	// Keep-alive requests are echoed with the server timestamp.
	sigConn := <-sigConns
	sigConn.WriteJSON(frame{"msg_type": MsgTypeKeepAliveReq, "timestamp": 777})
	echo := awaitFrame(t, sigFrames, MsgTypeKeepAliveResp)
	if int64(echo["timestamp"].(float64)) != 777 {
		t.Errorf("keep-alive echo timestamp = %v, want 777", echo["timestamp"])
	}

	// Transcript payloads arrive base64 encoded and are emitted decoded.
	mediaConn := <-mediaConns
	mediaConn.WriteJSON(frame{
		"msg_type": MsgTypeMediaDataTranscript,
		"content": frame{
			"user_id":    7,
			"user_name":  "Ada",
			"data":       base64.StdEncoding.EncodeToString([]byte("hello world")),
			"timestamp":  123,
			"start_time": 100,
			"end_time":   150,
			"language":   "en",
		},
	})

	ev := awaitEvent(t, transcripts)
	if ev.Text != "hello world" {
		t.Errorf("transcript text = %q, want %q", ev.Text, "hello world")
	}
	if ev.UserID != 7 || ev.UserName != "Ada" {
		t.Errorf("transcript speaker = %d/%q", ev.UserID, ev.UserName)
	}
	if ev.Timestamp != 123 || ev.StartTime != 100 || ev.EndTime != 150 {
		t.Errorf("transcript times = %d/%d/%d", ev.Timestamp, ev.StartTime, ev.EndTime)
	}
	if ev.MeetingUUID != "m1" || ev.StreamID != "s1" {
		t.Errorf("transcript identity = %s/%s", ev.MeetingUUID, ev.StreamID)
	}

	// Media keep-alives are echoed on the media socket.
	mediaConn.WriteJSON(frame{"msg_type": MsgTypeKeepAliveReq, "timestamp": 888})
	mediaEcho := awaitFrame(t, mediaFrames, MsgTypeKeepAliveResp)
	if int64(mediaEcho["timestamp"].(float64)) != 888 {
		t.Errorf("media keep-alive echo timestamp = %v, want 888", mediaEcho["timestamp"])
	}
}

func TestSessionHandshakeRejectedNonRetryable(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/signaling", func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var req frame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		// Security rejections must never trigger a reconnect.
		conn.WriteJSON(frame{"msg_type": MsgTypeSignalingHandshakeResp, "status_code": 15})
	})

	emitter := NewEmitter()
	errs := make(chan Event, 8)
	emitter.On(EventError, func(ev Event) { errs <- ev })

	s := NewStreamSession(SessionConfig{
		StreamID:     "s1",
		MeetingUUID:  "m1",
		Product:      "meeting",
		Credentials:  testCreds,
		SignalingURL: wsURL(srv, "/signaling"),
		MediaMask:    MediaTypeTranscript,
	}, emitter, testLogger())
	defer s.Stop()

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ev := awaitEvent(t, errs)
	if ev.Err == nil || ev.Err.Category != CategorySecurity {
		t.Errorf("error event = %+v, want security category", ev.Err)
	}
	if ev.Err != nil && ev.Err.Retryable() {
		t.Error("security rejection must not be retryable")
	}

	awaitSessionClosed(t, s)

	if err := s.Connect(); err == nil {
		t.Error("Connect on a closed session should fail")
	}
}

func TestSessionMeetingEndedTearsDown(t *testing.T) {
	sigFrames := make(chan frame, 32)
	sigConns := make(chan *websocket.Conn, 1)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/signaling", func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var req frame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteJSON(frame{
			"msg_type":     MsgTypeSignalingHandshakeResp,
			"status_code":  0,
			"media_server": frame{"server_urls": map[string]string{}},
		})
		sigConns <- conn
		pumpFrames(conn, sigFrames)
	})

	emitter := NewEmitter()
	states := make(chan Event, 8)
	emitter.On(EventStreamStateChanged, func(ev Event) { states <- ev })

	s := NewStreamSession(SessionConfig{
		StreamID:     "s1",
		MeetingUUID:  "m1",
		Product:      "meeting",
		Credentials:  testCreds,
		SignalingURL: wsURL(srv, "/signaling"),
		MediaMask:    MediaTypeTranscript,
	}, emitter, testLogger())
	defer s.Stop()

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	awaitFrame(t, sigFrames, MsgTypeEventSubscription)

	sigConn := <-sigConns
	sigConn.WriteJSON(frame{
		"msg_type": MsgTypeStreamStateChanged,
		"state":    StreamStateTerminated,
		"reason":   StreamEndReasonMeetingEnded,
	})

	ev := awaitEvent(t, states)
	if ev.State != StreamStateTerminated || ev.Reason != StreamEndReasonMeetingEnded {
		t.Errorf("state event = %d/%d, want terminated/meeting-ended", ev.State, ev.Reason)
	}

	awaitSessionClosed(t, s)
}
