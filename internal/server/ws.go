package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/meetscribe/rtms-ingest/internal/httperr"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const wsPingInterval = 30 * time.Second

// handleLiveClient upgrades a client onto a meeting's broadcast feed.
// The client must present the meeting_id within the registration
// window or the connection is dropped.
func (s *Server) handleLiveClient(c *gin.Context) {
	log := s.log.WithContext(c.Request.Context())

	meetingID := c.Query("meeting_id")
	if meetingID == "" {
		httperr.AbortWithBadRequest(c, "missing meeting_id", nil)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close() //nolint:errcheck

	// The registration window doubles as the first-contact deadline: a
	// client that never acknowledges the connected message is dropped.
	window := time.Duration(s.cfg.ClientRegisterTimeoutSeconds) * time.Second
	conn.SetReadDeadline(time.Now().Add(window)) //nolint:errcheck

	s.wsManager.RegisterConnection(meetingID, conn)
	defer s.wsManager.UnregisterConnection(conn)

	if err := s.wsManager.SendJSON(conn, gin.H{
		"type":       "connected",
		"meeting_id": meetingID,
	}); err != nil {
		log.Error("failed to send connected message", slog.String("error", err.Error()))
		return
	}

	log.Info("live client connected", slog.String("meeting_id", meetingID))

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval)) //nolint:errcheck
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			// Any inbound frame counts as liveness.
			conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval)) //nolint:errcheck
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.wsManager.Ping(conn); err != nil {
				log.Debug("ping failed, closing live client",
					slog.String("meeting_id", meetingID),
					slog.String("error", err.Error()))
				return
			}
		case <-done:
			log.Info("live client disconnected", slog.String("meeting_id", meetingID))
			return
		}
	}
}
