package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meetscribe/rtms-ingest/internal/httperr"
	"github.com/meetscribe/rtms-ingest/internal/rtms"
)

const (
	signatureHeader = "x-zm-signature"
	timestampHeader = "x-zm-request-timestamp"

	// webhookDispatchTimeout bounds the async processing of one
	// lifecycle event after the 200 has gone out.
	webhookDispatchTimeout = 30 * time.Second
)

type webhookRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// handleWebhook receives vendor lifecycle events. url_validation is
// answered synchronously; everything else is acknowledged 200 and
// dispatched off the request goroutine.
func (s *Server) handleWebhook(c *gin.Context) {
	log := s.log.WithContext(c.Request.Context())

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		httperr.AbortWithBadRequest(c, "failed to read request body", nil)
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

	var req webhookRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		httperr.AbortWithBadRequest(c, "invalid JSON body", nil)
		return
	}
	if req.Event == "" {
		httperr.AbortWithBadRequest(c, "missing event", nil)
		return
	}

	// Every lifecycle event must carry a verifiable signature over the
	// raw body. url_validation is the one unsigned path.
	if req.Event != "endpoint.url_validation" {
		creds, ok := s.cfg.CredentialsFor("meeting")
		if !ok {
			httperr.AbortWithInternal(c, "no credentials configured", nil)
			return
		}
		sig := c.GetHeader(signatureHeader)
		if sig == "" {
			log.Warn("webhook missing signature", slog.String("event", req.Event))
			httperr.AbortWithUnauthorized(c, "missing signature", nil)
			return
		}
		ts := c.GetHeader(timestampHeader)
		if !rtms.VerifyWebhookSignature(rawBody, ts, sig, creds.SecretToken) {
			log.Warn("webhook signature mismatch", slog.String("event", req.Event))
			httperr.AbortWithUnauthorized(c, "signature mismatch", nil)
			return
		}
	}

	if req.Event == "endpoint.url_validation" {
		resp, err := s.router.HandleEvent(c.Request.Context(), req.Event, req.Payload)
		if err != nil {
			httperr.AbortWithInternal(c, err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	// Acknowledge first, process async.
	c.JSON(http.StatusOK, gin.H{"success": true})

	event, payload := req.Event, req.Payload
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookDispatchTimeout)
		defer cancel()
		if _, err := s.router.HandleEvent(ctx, event, payload); err != nil {
			log.Warn("webhook dispatch failed",
				slog.String("event", event),
				slog.String("error", err.Error()))
		}
	}()
}
