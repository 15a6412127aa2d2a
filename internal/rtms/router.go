package rtms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/meetscribe/rtms-ingest/internal/config"
	"github.com/meetscribe/rtms-ingest/internal/logger"
)

// MappingStore persists the bidirectional meeting id mapping
// (numericId <-> uuid) with write-through to durable storage. The
// index writer implements it.
type MappingStore interface {
	PersistMeetingMapping(ctx context.Context, numericID int64, uuid string) error
	CloseMeeting(ctx context.Context, uuid string) error
}

// webhookPayload is the union of fields carried by rtms lifecycle
// events.
type webhookPayload struct {
	MeetingUUID  string          `json:"meeting_uuid"`
	RTMSStreamID string          `json:"rtms_stream_id"`
	ServerURLs   string          `json:"server_urls"`
	MeetingID    int64           `json:"meeting_id"`
	OperatorID   string          `json:"operator_id,omitempty"`
	PlainToken   string          `json:"plainToken,omitempty"`
	Object       json.RawMessage `json:"object,omitempty"`
}

// productForEvent maps the webhook event name prefix to the product
// kind of the stream session.
var productForEvent = map[string]string{
	"meeting":       "meeting",
	"webinar":       "webinar",
	"session":       "videosdk",
	"contactcenter": "contactcenter",
	"phone":         "phone",
}

// Service is the single entry point for lifecycle events: it resolves
// credentials, maintains the meeting id mapping, and creates/stops
// stream sessions through the registry.
type Service struct {
	cfg      *config.Config
	registry *Registry
	emitter  *Emitter
	mapping  MappingStore
	log      *logger.Logger

	// onMeetingStopped lets downstream owners (the transcript buffer
	// manager) tear down per-meeting state when a stream stops.
	hookMu           sync.Mutex
	onMeetingStopped func(meetingUUID string)
}

var (
	serviceMu       sync.Mutex
	serviceInstance *Service
)

// InitService wires the singleton event router. The first call creates
// it; subsequent calls log a warning and return the existing instance.
func InitService(cfg *config.Config, registry *Registry, emitter *Emitter, mapping MappingStore, log *logger.Logger) *Service {
	serviceMu.Lock()
	defer serviceMu.Unlock()

	if serviceInstance != nil {
		log.WithComponent("event_router").Warn("event router already initialized, returning existing instance")
		return serviceInstance
	}

	serviceInstance = &Service{
		cfg:      cfg,
		registry: registry,
		emitter:  emitter,
		mapping:  mapping,
		log:      log.WithComponent("event_router"),
	}
	return serviceInstance
}

// ResetService clears the singleton. Test hook.
func ResetService() {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	serviceInstance = nil
}

// Registry exposes the connection registry for read-side consumers.
func (s *Service) Registry() *Registry { return s.registry }

// Emitter exposes the shared event emitter.
func (s *Service) Emitter() *Emitter { return s.emitter }

// SetMeetingStoppedHook registers the teardown callback invoked on
// rtms_stopped.
func (s *Service) SetMeetingStoppedHook(fn func(meetingUUID string)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onMeetingStopped = fn
}

// HandleEvent dispatches one lifecycle event. endpoint.url_validation
// is the only synchronous path and returns a non-nil response; every
// other recognised event returns (nil, nil) on acceptance.
func (s *Service) HandleEvent(ctx context.Context, event string, payload json.RawMessage) (*URLValidation, error) {
	var p webhookPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("failed to parse payload for %s: %w", event, err)
		}
	}

	if event == "endpoint.url_validation" {
		creds, ok := s.cfg.CredentialsFor("meeting")
		if !ok {
			return nil, fmt.Errorf("no credentials configured for url validation")
		}
		resp := ValidateURL(p.PlainToken, creds.SecretToken)
		return &resp, nil
	}

	prefix, suffix, found := strings.Cut(event, ".")
	if !found {
		s.log.Debug("ignoring unrecognised event", slog.String("event", event))
		return nil, nil
	}

	switch suffix {
	case "rtms_started":
		return nil, s.handleStarted(ctx, prefix, p)
	case "rtms_stopped":
		return nil, s.handleStopped(ctx, p)
	default:
		s.log.Debug("ignoring unrecognised event", slog.String("event", event))
		return nil, nil
	}
}

func (s *Service) handleStarted(ctx context.Context, prefix string, p webhookPayload) error {
	product, ok := productForEvent[prefix]
	if !ok {
		s.log.Debug("ignoring event for unknown product", slog.String("product", prefix))
		return nil
	}
	if p.RTMSStreamID == "" || p.MeetingUUID == "" || p.ServerURLs == "" {
		return fmt.Errorf("rtms_started missing stream id, meeting uuid or server urls")
	}

	log := s.log.WithContext(logger.WithStreamID(logger.WithMeetingID(ctx, p.MeetingUUID), p.RTMSStreamID))

	// Re-issuing a known rtms_started while its session is live is a
	// no-op.
	if s.registry.Has(p.RTMSStreamID) {
		log.Warn("session already active, ignoring duplicate rtms_started")
		return nil
	}

	creds, ok := s.cfg.CredentialsFor(product)
	if !ok {
		return fmt.Errorf("no credentials configured for product %s", product)
	}

	if p.MeetingID != 0 && s.mapping != nil {
		if err := s.mapping.PersistMeetingMapping(ctx, p.MeetingID, p.MeetingUUID); err != nil {
			log.Warn("failed to persist meeting mapping", slog.String("error", err.Error()))
		}
	}

	session := NewStreamSession(SessionConfig{
		StreamID:        p.RTMSStreamID,
		MeetingUUID:     p.MeetingUUID,
		NumericID:       p.MeetingID,
		Product:         product,
		Credentials:     creds,
		SignalingURL:    p.ServerURLs,
		MediaMask:       s.cfg.MediaSubscribeMask,
		EnableFillers:   s.cfg.EnableFillers,
		AudioSendRateMS: s.cfg.AudioSendRateMS,
		VideoFPS:        s.cfg.VideoFPS,
	}, s.emitter, s.log)

	// Sessions can stop themselves (non-retryable rejection, meeting
	// ended frame); retire them so a later rtms_started for the same
	// stream id starts fresh and the stats archive into history.
	streamID, meetingUUID := p.RTMSStreamID, p.MeetingUUID
	session.SetOnStopped(func() {
		s.registry.Remove(streamID)
		if len(s.registry.FindByMeetingUUID(meetingUUID)) > 0 {
			return
		}
		s.hookMu.Lock()
		hook := s.onMeetingStopped
		s.hookMu.Unlock()
		if hook != nil {
			hook(meetingUUID)
		}
	})

	if err := s.registry.Add(session); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}

	log.Info("starting stream session", slog.String("product", product))
	go func() {
		if err := session.Connect(); err != nil {
			log.Warn("initial connect failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (s *Service) handleStopped(ctx context.Context, p webhookPayload) error {
	if p.RTMSStreamID == "" {
		return fmt.Errorf("rtms_stopped missing stream id")
	}

	log := s.log.WithContext(logger.WithStreamID(logger.WithMeetingID(ctx, p.MeetingUUID), p.RTMSStreamID))

	session := s.registry.Get(p.RTMSStreamID)
	if session == nil {
		log.Warn("rtms_stopped for unknown stream")
		return nil
	}

	meetingUUID := session.MeetingUUID()
	session.Stop()
	s.registry.Remove(p.RTMSStreamID)

	if s.mapping != nil {
		if err := s.mapping.CloseMeeting(ctx, meetingUUID); err != nil {
			log.Warn("failed to mark meeting ended", slog.String("error", err.Error()))
		}
	}

	s.hookMu.Lock()
	hook := s.onMeetingStopped
	s.hookMu.Unlock()
	if hook != nil {
		hook(meetingUUID)
	}

	log.Info("stream session stopped")
	return nil
}
