package rtms

import (
	"encoding/json"
)

// Message types of the signaling/media JSON wire format. Every frame
// is a JSON object tagged by an integer msg_type.
const (
	MsgTypeSignalingHandshakeReq  = 1
	MsgTypeSignalingHandshakeResp = 2
	MsgTypeMediaHandshakeReq      = 3
	MsgTypeMediaHandshakeResp     = 4
	MsgTypeEventSubscription      = 5
	MsgTypeSessionEvent           = 6
	MsgTypeClientReadyAck         = 7
	MsgTypeStreamStateChanged     = 8
	MsgTypeSessionStateChanged    = 9
	MsgTypeKeepAliveReq           = 12
	MsgTypeKeepAliveResp          = 13
	MsgTypeMediaDataAudio         = 14
	MsgTypeMediaDataVideo         = 15
	MsgTypeMediaDataShare         = 16
	MsgTypeMediaDataTranscript    = 17
	MsgTypeMediaDataChat          = 18
)

// Media type bits of the subscription mask. MediaTypeAll means
// "everything the server offers".
const (
	MediaTypeAudio      = 1
	MediaTypeVideo      = 2
	MediaTypeShare      = 4
	MediaTypeTranscript = 8
	MediaTypeChat       = 16
	MediaTypeAll        = 32
)

// mediaTypeKeys maps mask bits to the server_urls keys of the
// signaling handshake response.
var mediaTypeKeys = map[int]string{
	MediaTypeAudio:      "audio",
	MediaTypeVideo:      "video",
	MediaTypeShare:      "deskshare",
	MediaTypeTranscript: "transcript",
	MediaTypeChat:       "chat",
}

// MediaTypeName returns the wire name for a single media type bit.
func MediaTypeName(bit int) string {
	if name, ok := mediaTypeKeys[bit]; ok {
		return name
	}
	return "unknown"
}

// MediaTypeBits returns the individual media type bits in ascending order.
func MediaTypeBits() []int {
	return []int{MediaTypeAudio, MediaTypeVideo, MediaTypeShare, MediaTypeTranscript, MediaTypeChat}
}

// Signaling event types subscribed via msg_type=5.
const (
	SessionEventActiveSpeakerChange = 1
	SessionEventParticipantJoin     = 2
	SessionEventParticipantLeave    = 3
	SessionEventSharingStarted      = 4
	SessionEventSharingStopped      = 5
)

// Stream states carried by msg_type=8.
const (
	StreamStateInactive   = 0
	StreamStateActive     = 1
	StreamStatePaused     = 2
	StreamStateResumed    = 3
	StreamStateTerminated = 4
)

// StreamEndReasonMeetingEnded is the msg_type=8 reason signaling that
// the meeting itself has ended; the session must not reconnect.
const StreamEndReasonMeetingEnded = 6

// Audio sample rate enum values negotiated in media params.
var sampleRateHz = map[int]int{
	0: 8000,
	1: 16000,
	2: 32000,
	3: 48000,
}

// SampleRateHz converts the negotiated sample rate enum to Hertz.
// Unknown values fall back to 16 kHz.
func SampleRateHz(enum int) int {
	if hz, ok := sampleRateHz[enum]; ok {
		return hz
	}
	return 16000
}

// MediaParams are per-stream negotiated values that gate how fillers
// pace themselves. Fixed at the first handshake response, immutable
// thereafter.
type MediaParams struct {
	AudioSampleRate int `json:"audio_sample_rate,omitempty"`
	AudioChannels   int `json:"audio_channels,omitempty"`
	AudioSendRate   int `json:"audio_send_rate,omitempty"` // ms per frame
	VideoFPS        int `json:"video_fps,omitempty"`
}

// MediaServer carries the per-media-type socket URLs supplied by the
// signaling handshake response.
type MediaServer struct {
	ServerURLs map[string]string `json:"server_urls"`
}

// MediaContent is the payload of media data messages (msg_type 14-18).
// Data is base64-encoded. Transcript payloads additionally carry
// start_time, end_time, language and attribute.
type MediaContent struct {
	UserID    int64  `json:"user_id"`
	UserName  string `json:"user_name"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
	StartTime int64  `json:"start_time,omitempty"`
	EndTime   int64  `json:"end_time,omitempty"`
	Language  string `json:"language,omitempty"`
	Attribute string `json:"attribute,omitempty"`
}

// Envelope is the decoded superset of every inbound frame. Fields are
// populated according to msg_type.
type Envelope struct {
	MsgType     int             `json:"msg_type"`
	StatusCode  int             `json:"status_code,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	MediaServer *MediaServer    `json:"media_server,omitempty"`
	MediaParams *MediaParams    `json:"media_params,omitempty"`
	EventType   int             `json:"event_type,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	State       int             `json:"state,omitempty"`
	Reason      int             `json:"reason,omitempty"`
	Content     *MediaContent   `json:"content,omitempty"`
}

// SignalingHandshake is the msg_type=1 request.
type SignalingHandshake struct {
	MsgType         int    `json:"msg_type"`
	ProtocolVersion int    `json:"protocol_version"`
	MeetingUUID     string `json:"meeting_uuid"`
	RTMSStreamID    string `json:"rtms_stream_id"`
	Signature       string `json:"signature"`
}

// MediaHandshake is the msg_type=3 request sent on each media socket.
type MediaHandshake struct {
	MsgType         int          `json:"msg_type"`
	ProtocolVersion int          `json:"protocol_version"`
	MeetingUUID     string       `json:"meeting_uuid"`
	RTMSStreamID    string       `json:"rtms_stream_id"`
	Signature       string       `json:"signature"`
	MediaType       int          `json:"media_type"`
	MediaParams     *MediaParams `json:"media_params,omitempty"`
}

// EventSubscriptionEntry toggles one signaling event type.
type EventSubscriptionEntry struct {
	EventType int  `json:"event_type"`
	Subscribe bool `json:"subscribe"`
}

// EventSubscription is the msg_type=5 request.
type EventSubscription struct {
	MsgType int                      `json:"msg_type"`
	Events  []EventSubscriptionEntry `json:"events"`
}

// ClientReadyAck is the msg_type=7 notification sent on the signaling
// socket once a media socket handshake succeeds.
type ClientReadyAck struct {
	MsgType      int    `json:"msg_type"`
	MediaType    int    `json:"media_type"`
	RTMSStreamID string `json:"rtms_stream_id"`
}

// KeepAliveResponse is the msg_type=13 echo of a keep-alive request.
type KeepAliveResponse struct {
	MsgType   int   `json:"msg_type"`
	Timestamp int64 `json:"timestamp"`
}

// EffectiveMask computes requested & available, where available is the
// bitwise OR of media types for which the handshake response supplied
// a URL. A requested mask containing MediaTypeAll resolves to the full
// available set.
func EffectiveMask(requested int, serverURLs map[string]string) int {
	available := 0
	for bit, key := range mediaTypeKeys {
		if serverURLs[key] != "" {
			available |= bit
			continue
		}
		// A single "all" URL advertises every media type.
		if serverURLs["all"] != "" {
			available |= bit
		}
	}

	if requested&MediaTypeAll != 0 {
		return available
	}
	return requested & available
}

// MediaSocketURL resolves the socket URL for one media type bit,
// falling back to the combined "all" URL.
func MediaSocketURL(serverURLs map[string]string, bit int) string {
	if url := serverURLs[mediaTypeKeys[bit]]; url != "" {
		return url
	}
	return serverURLs["all"]
}

// dataMsgMediaType maps inbound media data msg_types to their media
// type bit.
func dataMsgMediaType(msgType int) (int, bool) {
	switch msgType {
	case MsgTypeMediaDataAudio:
		return MediaTypeAudio, true
	case MsgTypeMediaDataVideo:
		return MediaTypeVideo, true
	case MsgTypeMediaDataShare:
		return MediaTypeShare, true
	case MsgTypeMediaDataTranscript:
		return MediaTypeTranscript, true
	case MsgTypeMediaDataChat:
		return MediaTypeChat, true
	}
	return 0, false
}
