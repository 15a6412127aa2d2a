// Package server exposes the HTTP surface: the lifecycle webhook, the
// query/chat API, the live client WebSocket and operational endpoints.
package server

import (
	"context"
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meetscribe/rtms-ingest/internal/adapters"
	"github.com/meetscribe/rtms-ingest/internal/broadcast"
	"github.com/meetscribe/rtms-ingest/internal/config"
	"github.com/meetscribe/rtms-ingest/internal/index"
	"github.com/meetscribe/rtms-ingest/internal/logger"
	"github.com/meetscribe/rtms-ingest/internal/metrics"
	"github.com/meetscribe/rtms-ingest/internal/rtms"
)

// Server carries every dependency the handlers need.
type Server struct {
	cfg       *config.Config
	router    *rtms.Service
	writer    *index.Writer
	searcher  adapters.Searcher
	completer CompletionClient
	wsManager *broadcast.Manager
	db        *sql.DB
	nats      *nats.Conn
	registry  *prometheus.Registry
	log       *logger.Logger
}

// CompletionClient is the inference surface the chat endpoint needs.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, system, user string) (string, error)
}

// New creates a server. nats may be nil; the health endpoint then
// reports it as disabled.
func New(cfg *config.Config, router *rtms.Service, writer *index.Writer, searcher adapters.Searcher, completer CompletionClient, wsManager *broadcast.Manager, db *sql.DB, nc *nats.Conn, log *logger.Logger) *Server {
	return &Server{
		cfg:       cfg,
		router:    router,
		writer:    writer,
		searcher:  searcher,
		completer: completer,
		wsManager: wsManager,
		db:        db,
		nats:      nc,
		registry:  metrics.Registry(),
		log:       log.WithComponent("http"),
	}
}

// Routes builds the gin engine with every endpoint registered.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(s.cfg.GinMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST("/webhook", s.handleWebhook)
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(metrics.Handler(s.registry)))
	engine.GET("/ws", s.handleLiveClient)

	api := engine.Group("/api")
	{
		api.GET("/meeting/:numericId/speakers", s.handleMeetingSpeakers)
		api.GET("/speaker/:speakerId/context", s.handleSpeakerContext)
		api.POST("/chat/:speakerId", s.handleSpeakerChat)
		api.POST("/semantic-search", s.handleSemanticSearch)
		api.GET("/chunks/:meetingId", s.handleChunks)
		api.GET("/streams", s.handleStreams)
	}

	return engine
}
