package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/meetscribe/rtms-ingest/internal/logger"
)

// NATS subject for cross-instance meeting broadcasts
const broadcastSubject = "rtms.broadcast"

// relayEnvelope wraps a broadcast message with the originating instance
// so each instance can skip its own publications.
type relayEnvelope struct {
	InstanceID string  `json:"instance_id"`
	Message    Message `json:"message"`
}

// Relay fans local broadcasts out to the other instances via NATS.
//
// Meeting WebSocket clients register on whichever instance the load
// balancer routed them to, while media flows into the instance that
// owns the stream session. The relay republishes every local broadcast
// so all instances deliver it to their own clients.
type Relay struct {
	nc           *nats.Conn
	manager      *Manager
	logger       *logger.Logger
	instanceID   string
	subscription *nats.Subscription
}

// NewRelay creates a relay. Returns nil if NATS is not available.
func NewRelay(nc *nats.Conn, manager *Manager, log *logger.Logger, instanceID string) *Relay {
	if nc == nil {
		return nil
	}
	return &Relay{
		nc:         nc,
		manager:    manager,
		logger:     log.WithComponent("broadcast-relay"),
		instanceID: instanceID,
	}
}

// Start subscribes to the broadcast subject. Call once during startup.
func (r *Relay) Start() error {
	sub, err := r.nc.Subscribe(broadcastSubject, r.handleRemoteBroadcast)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", broadcastSubject, err)
	}

	r.subscription = sub
	r.manager.SetRelay(r)
	r.logger.Info("broadcast relay started",
		slog.String("subject", broadcastSubject),
		slog.String("instance_id", r.instanceID))
	return nil
}

// Stop drains the subscription.
func (r *Relay) Stop() error {
	if r.subscription != nil {
		if err := r.subscription.Drain(); err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}
	r.logger.Info("broadcast relay stopped")
	return nil
}

// Publish forwards one locally-originated broadcast to the other
// instances. Best effort; a publish failure is logged and dropped.
func (r *Relay) Publish(msg Message) {
	data, err := json.Marshal(relayEnvelope{
		InstanceID: r.instanceID,
		Message:    msg,
	})
	if err != nil {
		r.logger.Error("failed to marshal relay envelope", slog.String("error", err.Error()))
		return
	}

	if err := r.nc.Publish(broadcastSubject, data); err != nil {
		r.logger.Warn("failed to publish broadcast",
			slog.String("meeting_id", msg.MeetingID),
			slog.String("error", err.Error()))
	}
}

// handleRemoteBroadcast delivers broadcasts published by the other
// instances to this instance's local clients.
func (r *Relay) handleRemoteBroadcast(msg *nats.Msg) {
	var env relayEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Warn("received invalid broadcast envelope", slog.String("error", err.Error()))
		return
	}

	// Skip our own publications; the local delivery already happened.
	if env.InstanceID == r.instanceID {
		return
	}

	r.manager.deliverLocal(env.Message)
}
