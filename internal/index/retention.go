package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/meetscribe/rtms-ingest/internal/logger"
)

// RetentionSweeper deletes indexed content older than the configured
// retention window on a cron schedule.
type RetentionSweeper struct {
	writer        *Writer
	log           *logger.Logger
	cron          *cron.Cron
	retentionDays int
}

// NewRetentionSweeper creates a sweeper. retentionDays <= 0 disables
// sweeping entirely.
func NewRetentionSweeper(writer *Writer, retentionDays int, log *logger.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		writer:        writer,
		log:           log.WithComponent("retention"),
		cron:          cron.New(),
		retentionDays: retentionDays,
	}
}

// Start registers the sweep job and starts the scheduler. schedule is a
// standard 5-field cron expression.
func (r *RetentionSweeper) Start(schedule string) error {
	if r.retentionDays <= 0 {
		r.log.Info("retention sweeping disabled")
		return nil
	}

	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info("retention sweeper started",
		slog.String("schedule", schedule),
		slog.Int("retention_days", r.retentionDays))
	return nil
}

// Stop halts the scheduler. Any in-flight sweep finishes first.
func (r *RetentionSweeper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *RetentionSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -r.retentionDays)
	chunks, transcripts, err := r.writer.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		r.log.LogError(ctx, err, "retention sweep failed")
		return
	}
	r.log.Info("retention sweep completed",
		slog.Time("cutoff", cutoff),
		slog.Int64("chunks_deleted", chunks),
		slog.Int64("transcripts_deleted", transcripts))
}
