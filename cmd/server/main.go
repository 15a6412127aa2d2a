package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/meetscribe/rtms-ingest/internal/broadcast"
	"github.com/meetscribe/rtms-ingest/internal/config"
	"github.com/meetscribe/rtms-ingest/internal/index"
	"github.com/meetscribe/rtms-ingest/internal/inference"
	"github.com/meetscribe/rtms-ingest/internal/logger"
	"github.com/meetscribe/rtms-ingest/internal/pipeline"
	"github.com/meetscribe/rtms-ingest/internal/rtms"
	"github.com/meetscribe/rtms-ingest/internal/server"
	"github.com/meetscribe/rtms-ingest/internal/storage/pg"
	"github.com/meetscribe/rtms-ingest/internal/summarizer"
	"github.com/meetscribe/rtms-ingest/internal/transcript"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	// Database and migrations.
	db, err := pg.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.DB.Close() //nolint:errcheck

	// NATS is optional; without it broadcasts stay instance-local.
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1))
		if err != nil {
			log.Warn("failed to connect to NATS, running instance-local",
				slog.String("error", err.Error()))
			nc = nil
		}
	}

	inferenceClient := inference.NewClient(log)

	writer := index.NewWriter(db.DB, inferenceClient, log)
	searcher := index.NewSearcher(writer)

	sweeper := index.NewRetentionSweeper(writer, cfg.RetentionDays, log)
	if err := sweeper.Start(cfg.RetentionCronSchedule); err != nil {
		log.Error("failed to start retention sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}

	wsManager := broadcast.NewManager(log)
	relay := broadcast.NewRelay(nc, wsManager, log, logger.GetInstanceID())
	if relay != nil {
		if err := relay.Start(); err != nil {
			log.Warn("failed to start broadcast relay", slog.String("error", err.Error()))
		}
	}

	registry, err := rtms.NewRegistry(rtms.DefaultHistorySize)
	if err != nil {
		log.Error("failed to create session registry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	emitter := rtms.NewEmitter()
	router := rtms.InitService(cfg, registry, emitter, writer, log)

	summarizerService := summarizer.NewService(inferenceClient, writer, log)
	pipe := pipeline.New(emitter, writer, writer, summarizerService, wsManager, transcript.BufferConfig{}, log)
	router.SetMeetingStoppedHook(pipe.Buffers().Destroy)

	srvHandlers := server.New(cfg, router, writer, searcher, inferenceClient, wsManager, db.DB, nc, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srvHandlers.Routes(),
	}

	go func() {
		log.Info("server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	// Stop live sessions, then flush the transcript buffers.
	for _, stats := range registry.ActiveStats() {
		if s := registry.Get(stats.StreamID); s != nil {
			s.Stop()
		}
	}
	pipe.Shutdown()
	sweeper.Stop()

	if relay != nil {
		relay.Stop() //nolint:errcheck
	}
	wsManager.CloseAll()
	if nc != nil {
		nc.Close()
	}

	log.Info("server exited")
}
