package rtms

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetscribe/rtms-ingest/internal/config"
	"github.com/meetscribe/rtms-ingest/internal/logger"
	"github.com/meetscribe/rtms-ingest/internal/metrics"
)

const (
	protocolVersion = 1

	// reconnectDebounce is the fixed delay before any reconnect
	// attempt, signaling or media. A single timer per target; never
	// overlapping.
	reconnectDebounce = 3 * time.Second

	dialHandshakeTimeout = 10 * time.Second
)

// subState is the per-socket state machine.
type subState string

const (
	stateIdle          subState = "idle"
	stateConnecting    subState = "connecting"
	stateAuthenticated subState = "authenticated"
	stateStreaming     subState = "streaming"
	stateClosed        subState = "closed"
	stateError         subState = "error"
)

// SessionConfig carries everything a session needs to connect.
type SessionConfig struct {
	StreamID     string
	MeetingUUID  string
	NumericID    int64
	Product      string
	Credentials  config.Credentials
	SignalingURL string

	// MediaMask is the requested subscription mask; the effective mask
	// is negotiated at handshake time.
	MediaMask int

	EnableFillers   bool
	AudioSendRateMS int
	VideoFPS        int
}

// mediaSub is one media sub-socket. The back-reference to the session
// is non-owning; close callbacks check the session generation so they
// tolerate the session already being torn down.
type mediaSub struct {
	session   *StreamSession
	mediaType int
	url       string

	conn           *websocket.Conn
	writeMu        sync.Mutex
	state          subState
	reconnectTimer *time.Timer
}

// StreamSession owns one signaling socket and one media sub-socket per
// subscribed media type. All mutable state is guarded by mu; each
// socket is read by its own goroutine.
type StreamSession struct {
	cfg     SessionConfig
	emitter *Emitter
	log     *logger.Logger
	dialer  *websocket.Dialer

	mu                sync.Mutex
	signaling         *websocket.Conn
	sigWriteMu        sync.Mutex
	sigState          subState
	handshakeInFlight bool
	handshakeSentAt   time.Time
	reconnectTimer    *time.Timer
	nonRetryable      bool
	closed            bool

	// generation increments on every teardown; stale socket callbacks
	// compare against it and bail out.
	generation uint64

	subs          map[int]*mediaSub
	serverURLs    map[string]string
	mediaParams   MediaParams
	effectiveMask int

	firstPacketTS int64
	lastPacketTS  int64
	lastKeepAlive time.Time
	rtt           time.Duration
	lastError     *StreamError

	// onStopped fires once after teardown completes, with no locks
	// held. The router uses it to retire self-stopped sessions.
	onStopped func()

	audioFiller *Filler
	videoFiller *Filler
}

// NewStreamSession creates a session in the idle state. Connect must be
// called to start the signaling lifecycle.
func NewStreamSession(cfg SessionConfig, emitter *Emitter, log *logger.Logger) *StreamSession {
	return &StreamSession{
		cfg:     cfg,
		emitter: emitter,
		log: log.WithComponent("stream_session").WithFields(map[string]interface{}{
			"stream_id":  cfg.StreamID,
			"meeting_id": cfg.MeetingUUID,
		}),
		dialer:   &websocket.Dialer{HandshakeTimeout: dialHandshakeTimeout},
		sigState: stateIdle,
		subs:     make(map[int]*mediaSub),
	}
}

// StreamID returns the server-issued stream id.
func (s *StreamSession) StreamID() string { return s.cfg.StreamID }

// MeetingUUID returns the meeting session UUID.
func (s *StreamSession) MeetingUUID() string { return s.cfg.MeetingUUID }

// SetOnStopped registers the teardown callback. Must be set before
// Connect.
func (s *StreamSession) SetOnStopped(fn func()) {
	s.mu.Lock()
	s.onStopped = fn
	s.mu.Unlock()
}

// Connect opens the signaling socket and starts the handshake. The
// connect is guarded: it is rejected while a socket is connecting or
// open, a handshake is in flight, or a reconnect timer is pending.
func (s *StreamSession) Connect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.cfg.StreamID)
	}
	if s.sigState == stateConnecting || s.sigState == stateAuthenticated || s.sigState == stateStreaming {
		s.mu.Unlock()
		return fmt.Errorf("session %s already connecting or connected", s.cfg.StreamID)
	}
	if s.handshakeInFlight {
		s.mu.Unlock()
		return fmt.Errorf("session %s handshake in flight", s.cfg.StreamID)
	}
	if s.reconnectTimer != nil {
		s.mu.Unlock()
		return fmt.Errorf("session %s reconnect already scheduled", s.cfg.StreamID)
	}
	s.sigState = stateConnecting
	gen := s.generation
	url := s.cfg.SignalingURL
	s.mu.Unlock()

	conn, _, err := s.dialer.Dial(url, nil)
	if err != nil {
		s.mu.Lock()
		s.sigState = stateError
		s.mu.Unlock()
		s.emitError(ConnectionError(err))
		s.scheduleSignalingReconnect()
		return fmt.Errorf("failed to dial signaling socket: %w", err)
	}

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.signaling = conn
	s.sigState = stateAuthenticated
	s.handshakeInFlight = true
	s.handshakeSentAt = time.Now()
	s.mu.Unlock()

	handshake := SignalingHandshake{
		MsgType:         MsgTypeSignalingHandshakeReq,
		ProtocolVersion: protocolVersion,
		MeetingUUID:     s.cfg.MeetingUUID,
		RTMSStreamID:    s.cfg.StreamID,
		Signature:       Sign(s.cfg.Credentials.ClientID, s.cfg.MeetingUUID, s.cfg.StreamID, s.cfg.Credentials.ClientSecret),
	}
	if err := s.writeSignaling(handshake); err != nil {
		s.handleSignalingClosed(gen, err)
		return fmt.Errorf("failed to send signaling handshake: %w", err)
	}

	s.log.Info("signaling socket connected")
	go s.readSignaling(conn, gen)
	return nil
}

func (s *StreamSession) writeSignaling(v interface{}) error {
	s.mu.Lock()
	conn := s.signaling
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling socket not connected")
	}

	s.sigWriteMu.Lock()
	defer s.sigWriteMu.Unlock()
	return conn.WriteJSON(v)
}

func (s *StreamSession) readSignaling(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleSignalingClosed(gen, err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("dropping malformed signaling frame", slog.String("error", err.Error()))
			continue
		}
		s.handleSignalingMessage(&env, gen)
	}
}

func (s *StreamSession) handleSignalingMessage(env *Envelope, gen uint64) {
	switch env.MsgType {
	case MsgTypeSignalingHandshakeResp:
		s.handleSignalingHandshakeResp(env, gen)

	case MsgTypeKeepAliveReq:
		s.mu.Lock()
		s.lastKeepAlive = time.Now()
		s.mu.Unlock()
		if err := s.writeSignaling(KeepAliveResponse{MsgType: MsgTypeKeepAliveResp, Timestamp: env.Timestamp}); err != nil {
			s.log.Warn("failed to echo keep-alive", slog.String("error", err.Error()))
		}

	case MsgTypeSessionEvent:
		s.emit(Event{
			Kind:      EventSession,
			EventType: env.EventType,
			Payload:   env.Data,
			Timestamp: env.Timestamp,
		})

	case MsgTypeStreamStateChanged:
		s.emit(Event{
			Kind:      EventStreamStateChanged,
			State:     env.State,
			Reason:    env.Reason,
			Timestamp: env.Timestamp,
		})
		if env.State == StreamStateTerminated && env.Reason == StreamEndReasonMeetingEnded {
			s.log.Info("meeting ended, closing session")
			s.mu.Lock()
			s.nonRetryable = true
			s.mu.Unlock()
			s.Stop()
		}

	case MsgTypeSessionStateChanged:
		s.emit(Event{
			Kind:      EventSessionStateChanged,
			State:     env.State,
			Reason:    env.Reason,
			Timestamp: env.Timestamp,
		})

	default:
		s.log.Debug("ignoring signaling frame", slog.Int("msg_type", env.MsgType))
	}
}

func (s *StreamSession) handleSignalingHandshakeResp(env *Envelope, gen uint64) {
	s.mu.Lock()
	s.handshakeInFlight = false
	s.rtt = time.Since(s.handshakeSentAt)
	s.mu.Unlock()

	if env.StatusCode != 0 {
		streamErr := ErrorFromStatus(env.StatusCode, "")
		s.mu.Lock()
		s.lastError = streamErr
		if !streamErr.Retryable() {
			s.nonRetryable = true
		}
		s.sigState = stateError
		conn := s.signaling
		s.mu.Unlock()

		s.log.Error("signaling handshake rejected",
			slog.Int("status_code", env.StatusCode),
			slog.String("category", string(streamErr.Category)))
		s.emitError(streamErr)

		if conn != nil {
			conn.Close()
		}
		return
	}

	serverURLs := map[string]string{}
	if env.MediaServer != nil {
		serverURLs = env.MediaServer.ServerURLs
	}

	s.mu.Lock()
	s.serverURLs = serverURLs
	s.effectiveMask = EffectiveMask(s.cfg.MediaMask, serverURLs)
	s.mediaParams = s.negotiateMediaParams(env.MediaParams)
	s.sigState = stateStreaming
	mask := s.effectiveMask
	params := s.mediaParams
	s.mu.Unlock()

	s.log.Info("signaling handshake accepted",
		slog.Int("effective_mask", mask),
		slog.Duration("rtt", s.rtt))

	s.setupFillers(params)

	// Split mode: one media socket per subscribed media type.
	for _, bit := range MediaTypeBits() {
		if mask&bit == 0 {
			continue
		}
		sub := &mediaSub{
			session:   s,
			mediaType: bit,
			url:       MediaSocketURL(serverURLs, bit),
			state:     stateIdle,
		}
		s.mu.Lock()
		s.subs[bit] = sub
		s.mu.Unlock()
		go sub.connect(gen)
	}

	subscription := EventSubscription{
		MsgType: MsgTypeEventSubscription,
		Events: []EventSubscriptionEntry{
			{EventType: SessionEventActiveSpeakerChange, Subscribe: true},
			{EventType: SessionEventParticipantJoin, Subscribe: true},
			{EventType: SessionEventParticipantLeave, Subscribe: true},
		},
	}
	if err := s.writeSignaling(subscription); err != nil {
		s.log.Warn("failed to subscribe to signaling events", slog.String("error", err.Error()))
	}
}

// negotiateMediaParams fixes the per-stream media parameters at the
// first handshake response; configured defaults fill any gaps.
func (s *StreamSession) negotiateMediaParams(fromServer *MediaParams) MediaParams {
	params := MediaParams{
		AudioSendRate: s.cfg.AudioSendRateMS,
		VideoFPS:      s.cfg.VideoFPS,
	}
	if params.AudioSendRate <= 0 {
		params.AudioSendRate = 20
	}
	if params.VideoFPS <= 0 {
		params.VideoFPS = 25
	}
	if fromServer != nil {
		params.AudioSampleRate = fromServer.AudioSampleRate
		if fromServer.AudioChannels > 0 {
			params.AudioChannels = fromServer.AudioChannels
		}
		if fromServer.AudioSendRate > 0 {
			params.AudioSendRate = fromServer.AudioSendRate
		}
		if fromServer.VideoFPS > 0 {
			params.VideoFPS = fromServer.VideoFPS
		}
	}
	return params
}

// setupFillers wires the paced emitters once per session. When fillers
// are disabled, media frames are emitted in arrival order through the
// same emit interface.
func (s *StreamSession) setupFillers(params MediaParams) {
	if !s.cfg.EnableFillers {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioFiller != nil || s.videoFiller != nil {
		return
	}

	if s.effectiveMask&MediaTypeAudio != 0 {
		s.audioFiller = NewAudioFiller(params.AudioSendRate, SampleRateHz(params.AudioSampleRate), func(f FillerFrame) {
			s.emit(Event{Kind: EventAudio, Buffer: f.Data, UserID: f.UserID, UserName: f.UserName, Timestamp: f.Timestamp, Synthetic: f.Filler})
		}, s.log)
		s.audioFiller.Start()
	}
	if s.effectiveMask&MediaTypeVideo != 0 {
		s.videoFiller = NewVideoFiller(params.VideoFPS, nil, func(f FillerFrame) {
			s.emit(Event{Kind: EventVideo, Buffer: f.Data, UserID: f.UserID, UserName: f.UserName, Timestamp: f.Timestamp, Synthetic: f.Filler})
		}, s.log)
		s.videoFiller.Start()
	}
}

func (s *StreamSession) handleSignalingClosed(gen uint64, cause error) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	if s.signaling != nil {
		s.signaling.Close()
		s.signaling = nil
	}
	s.handshakeInFlight = false
	nonRetryable := s.nonRetryable
	if s.sigState != stateError {
		s.sigState = stateClosed
	}
	s.mu.Unlock()

	if nonRetryable {
		s.log.Info("signaling socket closed, reconnect disabled")
		s.Stop()
		return
	}

	s.log.Warn("signaling socket closed, scheduling reconnect", slog.Any("cause", cause))
	s.scheduleSignalingReconnect()
}

// scheduleSignalingReconnect arms the single reconnect timer, never
// overlapping an existing one.
func (s *StreamSession) scheduleSignalingReconnect() {
	s.mu.Lock()
	if s.closed || s.nonRetryable || s.reconnectTimer != nil {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = time.AfterFunc(reconnectDebounce, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		metrics.RecordReconnect("signaling")
		if err := s.Connect(); err != nil {
			s.log.Warn("reconnect attempt failed", slog.String("error", err.Error()))
		}
	})
	s.mu.Unlock()
}

// Stop terminates the session: fillers drain to the last packet
// timestamp, all sockets close, timers are cancelled. Safe to call
// multiple times. Sockets still connecting observe the generation bump
// and close as soon as their dial completes.
func (s *StreamSession) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	s.sigState = stateClosed

	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}

	signaling := s.signaling
	s.signaling = nil
	subs := make([]*mediaSub, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	audioFiller := s.audioFiller
	videoFiller := s.videoFiller
	endTime := s.lastPacketTS
	onStopped := s.onStopped
	s.mu.Unlock()

	if audioFiller != nil {
		audioFiller.Stop(endTime)
	}
	if videoFiller != nil {
		videoFiller.Stop(endTime)
	}

	for _, sub := range subs {
		sub.close()
	}
	if signaling != nil {
		signaling.Close()
	}

	s.log.Info("session stopped")

	if onStopped != nil {
		onStopped()
	}
}

func (s *StreamSession) emit(ev Event) {
	ev.MeetingUUID = s.cfg.MeetingUUID
	ev.StreamID = s.cfg.StreamID
	ev.Product = s.cfg.Product
	s.emitter.Emit(ev)
}

func (s *StreamSession) emitError(err *StreamError) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
	s.emit(Event{Kind: EventError, Err: err})
}

// recordPacket tracks first/last media packet timestamps.
func (s *StreamSession) recordPacket(ts int64) {
	s.mu.Lock()
	if s.firstPacketTS == 0 || ts < s.firstPacketTS {
		s.firstPacketTS = ts
	}
	if ts > s.lastPacketTS {
		s.lastPacketTS = ts
	}
	s.mu.Unlock()
}

// --- media sub-socket lifecycle ---

func (m *mediaSub) connect(gen uint64) {
	s := m.session

	s.mu.Lock()
	if s.closed || gen != s.generation || m.url == "" {
		s.mu.Unlock()
		return
	}
	m.state = stateConnecting
	s.mu.Unlock()

	conn, _, err := s.dialer.Dial(m.url, nil)
	if err != nil {
		s.log.Warn("failed to dial media socket",
			slog.String("media_type", MediaTypeName(m.mediaType)),
			slog.String("error", err.Error()))
		m.handleClosed(gen)
		return
	}

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		// Session torn down while this socket was connecting.
		conn.Close()
		return
	}
	m.conn = conn
	m.state = stateAuthenticated
	params := s.mediaParams
	s.mu.Unlock()

	handshake := MediaHandshake{
		MsgType:         MsgTypeMediaHandshakeReq,
		ProtocolVersion: protocolVersion,
		MeetingUUID:     s.cfg.MeetingUUID,
		RTMSStreamID:    s.cfg.StreamID,
		Signature:       Sign(s.cfg.Credentials.ClientID, s.cfg.MeetingUUID, s.cfg.StreamID, s.cfg.Credentials.ClientSecret),
		MediaType:       m.mediaType,
		MediaParams:     &params,
	}
	if err := m.write(handshake); err != nil {
		s.log.Warn("failed to send media handshake",
			slog.String("media_type", MediaTypeName(m.mediaType)),
			slog.String("error", err.Error()))
		m.handleClosed(gen)
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(gen)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("dropping malformed media frame",
				slog.String("media_type", MediaTypeName(m.mediaType)),
				slog.String("error", err.Error()))
			continue
		}
		m.handleMessage(&env)
	}
}

func (m *mediaSub) write(v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("media socket not connected")
	}
	return m.conn.WriteJSON(v)
}

func (m *mediaSub) handleMessage(env *Envelope) {
	s := m.session

	switch env.MsgType {
	case MsgTypeMediaHandshakeResp:
		if env.StatusCode != 0 {
			streamErr := ErrorFromStatus(env.StatusCode, "")
			s.log.Error("media handshake rejected",
				slog.String("media_type", MediaTypeName(m.mediaType)),
				slog.Int("status_code", env.StatusCode))
			s.emitError(streamErr)
			if !streamErr.Retryable() {
				s.mu.Lock()
				s.nonRetryable = true
				s.mu.Unlock()
			}
			m.close()
			return
		}

		s.mu.Lock()
		m.state = stateStreaming
		s.mu.Unlock()

		ready := ClientReadyAck{
			MsgType:      MsgTypeClientReadyAck,
			MediaType:    m.mediaType,
			RTMSStreamID: s.cfg.StreamID,
		}
		if err := s.writeSignaling(ready); err != nil {
			s.log.Warn("failed to notify media ready", slog.String("error", err.Error()))
		}
		s.log.Info("media socket streaming", slog.String("media_type", MediaTypeName(m.mediaType)))

	case MsgTypeKeepAliveReq:
		s.mu.Lock()
		s.lastKeepAlive = time.Now()
		s.mu.Unlock()
		if err := m.write(KeepAliveResponse{MsgType: MsgTypeKeepAliveResp, Timestamp: env.Timestamp}); err != nil {
			s.log.Warn("failed to echo media keep-alive", slog.String("error", err.Error()))
		}

	case MsgTypeMediaDataAudio, MsgTypeMediaDataVideo, MsgTypeMediaDataShare,
		MsgTypeMediaDataTranscript, MsgTypeMediaDataChat:
		m.handleMediaData(env)

	default:
		s.log.Debug("ignoring media frame",
			slog.String("media_type", MediaTypeName(m.mediaType)),
			slog.Int("msg_type", env.MsgType))
	}
}

func (m *mediaSub) handleMediaData(env *Envelope) {
	s := m.session
	if env.Content == nil {
		return
	}
	content := env.Content
	s.recordPacket(content.Timestamp)

	switch env.MsgType {
	case MsgTypeMediaDataAudio:
		buf := decodePayload(content.Data)
		s.mu.Lock()
		filler := s.audioFiller
		s.mu.Unlock()
		if filler != nil {
			filler.Push(FillerFrame{
				Timestamp: content.Timestamp,
				Data:      buf,
				UserID:    content.UserID,
				UserName:  content.UserName,
			})
			return
		}
		s.emit(Event{
			Kind:      EventAudio,
			Buffer:    buf,
			UserID:    content.UserID,
			UserName:  content.UserName,
			Timestamp: content.Timestamp,
		})

	case MsgTypeMediaDataVideo:
		buf := decodePayload(content.Data)
		s.mu.Lock()
		filler := s.videoFiller
		s.mu.Unlock()
		if filler != nil {
			filler.Push(FillerFrame{
				Timestamp: content.Timestamp,
				Data:      buf,
				UserID:    content.UserID,
				UserName:  content.UserName,
			})
			return
		}
		s.emit(Event{
			Kind:      EventVideo,
			Buffer:    buf,
			UserID:    content.UserID,
			UserName:  content.UserName,
			Timestamp: content.Timestamp,
		})

	case MsgTypeMediaDataShare:
		s.emit(Event{
			Kind:      EventShareScreen,
			Buffer:    decodePayload(content.Data),
			UserID:    content.UserID,
			UserName:  content.UserName,
			Timestamp: content.Timestamp,
		})

	case MsgTypeMediaDataTranscript:
		s.emit(Event{
			Kind:      EventTranscript,
			Text:      string(decodePayload(content.Data)),
			UserID:    content.UserID,
			UserName:  content.UserName,
			Timestamp: content.Timestamp,
			StartTime: content.StartTime,
			EndTime:   content.EndTime,
			Language:  content.Language,
			Attribute: content.Attribute,
		})

	case MsgTypeMediaDataChat:
		s.emit(Event{
			Kind:      EventChat,
			Text:      string(decodePayload(content.Data)),
			UserID:    content.UserID,
			UserName:  content.UserName,
			Timestamp: content.Timestamp,
		})
	}
}

// handleClosed runs when a media socket drops. While the signaling
// state is ready, only this sub-socket reconnects after the debounce;
// otherwise the whole session tears down.
func (m *mediaSub) handleClosed(gen uint64) {
	s := m.session

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	if s.nonRetryable {
		s.mu.Unlock()
		s.Stop()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = stateClosed
	sigReady := s.sigState == stateStreaming
	s.mu.Unlock()

	if !sigReady {
		s.log.Warn("media socket lost outside ready state, tearing down session",
			slog.String("media_type", MediaTypeName(m.mediaType)))
		s.Stop()
		return
	}

	s.mu.Lock()
	if m.reconnectTimer != nil {
		s.mu.Unlock()
		return
	}
	m.reconnectTimer = time.AfterFunc(reconnectDebounce, func() {
		s.mu.Lock()
		m.reconnectTimer = nil
		closed := s.closed
		currentGen := s.generation
		s.mu.Unlock()
		if closed || gen != currentGen {
			return
		}
		metrics.RecordReconnect("media")
		m.connect(gen)
	})
	s.mu.Unlock()

	s.log.Warn("media socket closed, scheduling reconnect",
		slog.String("media_type", MediaTypeName(m.mediaType)))
}

func (m *mediaSub) close() {
	s := m.session
	s.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = stateClosed
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func decodePayload(data string) []byte {
	if data == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		// Some servers send raw text for transcript/chat payloads.
		return []byte(data)
	}
	return decoded
}
