// Package broadcast fans live meeting updates out to WebSocket
// clients, across instances when NATS is configured.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetscribe/rtms-ingest/internal/adapters"
	"github.com/meetscribe/rtms-ingest/internal/logger"
)

// Message is the envelope pushed to every client of a meeting.
type Message struct {
	Type      string      `json:"type"`
	MeetingID string      `json:"meeting_id"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Manager tracks WebSocket connections per meeting. Delivery is
// fire-and-forget; a failed write drops that client.
type Manager struct {
	// connections maps meetingID -> set of clients
	connections map[string]map[*websocket.Conn]*client

	// connToMeeting maps connection -> meetingID (for cleanup)
	connToMeeting map[*websocket.Conn]string

	mu     sync.RWMutex
	logger *logger.Logger

	// relay forwards local broadcasts to the other instances; nil when
	// running single-instance.
	relay *Relay
}

// NewManager creates a broadcast manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		connections:   make(map[string]map[*websocket.Conn]*client),
		connToMeeting: make(map[*websocket.Conn]string),
		logger:        log.WithComponent("broadcast"),
	}
}

// SetRelay attaches the cross-instance relay.
func (m *Manager) SetRelay(relay *Relay) {
	m.relay = relay
}

// RegisterConnection registers a client for a meeting's updates.
func (m *Manager) RegisterConnection(meetingID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connections[meetingID] == nil {
		m.connections[meetingID] = make(map[*websocket.Conn]*client)
	}
	m.connections[meetingID][conn] = &client{conn: conn}
	m.connToMeeting[conn] = meetingID

	m.logger.Debug("connection registered",
		slog.String("meeting_id", meetingID),
		slog.Int("meeting_connections", len(m.connections[meetingID])))
}

// UnregisterConnection removes a client.
func (m *Manager) UnregisterConnection(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meetingID, ok := m.connToMeeting[conn]
	if !ok {
		return
	}

	if meetingConns, ok := m.connections[meetingID]; ok {
		delete(meetingConns, conn)
		if len(meetingConns) == 0 {
			delete(m.connections, meetingID)
		}
	}
	delete(m.connToMeeting, conn)

	m.logger.Debug("connection unregistered", slog.String("meeting_id", meetingID))
}

// SendJSON writes one JSON message to a registered connection through
// its write lock.
func (m *Manager) SendJSON(conn *websocket.Conn, v interface{}) error {
	c := m.client(conn)
	if c == nil {
		return websocket.ErrCloseSent
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, payload)
}

// pingWriteTimeout bounds how long a ping write may block on a stalled
// connection before the caller gives up on the client.
const pingWriteTimeout = 5 * time.Second

// Ping writes a ping frame to a registered connection. Control frames
// go through WriteControl, which is safe alongside the data writes and
// takes its own deadline.
func (m *Manager) Ping(conn *websocket.Conn) error {
	c := m.client(conn)
	if c == nil {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout))
}

func (m *Manager) client(conn *websocket.Conn) *client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meetingID, ok := m.connToMeeting[conn]
	if !ok {
		return nil
	}
	return m.connections[meetingID][conn]
}

// ConnectionCount returns the number of local clients for a meeting.
func (m *Manager) ConnectionCount(meetingID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections[meetingID])
}

// BroadcastToMeeting sends one update to every client of the meeting,
// on this instance and, through the relay, on the others.
func (m *Manager) BroadcastToMeeting(meetingID, messageType string, data interface{}) {
	msg := Message{
		Type:      messageType,
		MeetingID: meetingID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	m.deliverLocal(msg)

	if m.relay != nil {
		m.relay.Publish(msg)
	}
}

// deliverLocal writes the message to this instance's clients.
func (m *Manager) deliverLocal(msg Message) {
	m.mu.RLock()
	meetingConns, ok := m.connections[msg.MeetingID]
	if !ok || len(meetingConns) == 0 {
		m.mu.RUnlock()
		return
	}
	clients := make([]*client, 0, len(meetingConns))
	for _, c := range meetingConns {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("failed to marshal broadcast message",
			slog.String("meeting_id", msg.MeetingID),
			slog.String("error", err.Error()))
		return
	}

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			m.logger.Warn("failed to deliver broadcast, dropping client",
				slog.String("meeting_id", msg.MeetingID),
				slog.String("error", err.Error()))
			c.conn.Close() //nolint:errcheck
			m.UnregisterConnection(c.conn)
		}
	}
}

// CloseAll closes every client connection. Used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.connToMeeting))
	for conn := range m.connToMeeting {
		conns = append(conns, conn)
	}
	m.connections = make(map[string]map[*websocket.Conn]*client)
	m.connToMeeting = make(map[*websocket.Conn]string)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close() //nolint:errcheck
	}
}

var _ adapters.Broadcaster = (*Manager)(nil)
