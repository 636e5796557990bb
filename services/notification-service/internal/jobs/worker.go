package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docslot/docslot/libs/db"
	otelx "github.com/docslot/docslot/libs/otel"
)

// Dispatcher delivers one due reminder over whatever channel the deployment
// has configured.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

type DispatchFunc func(ctx context.Context, job Job) error

func (f DispatchFunc) Dispatch(ctx context.Context, job Job) error { return f(ctx, job) }

type Worker struct {
	pool       *db.Pool
	repo       *Repository
	dispatcher Dispatcher
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	backoff    time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, dispatcher Dispatcher, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:       pool,
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		backoff:    cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

// processBatch claims due jobs with SKIP LOCKED, so several worker replicas
// can run against the same table without double-sending.
func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return tx.Commit(ctx)
	}

	var sent []int64
	for _, job := range due {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		if err := w.dispatcher.Dispatch(jobCtx, job); err != nil {
			attempts := job.Attempts + 1
			w.logger.Error("reminder dispatch failed",
				"err", err,
				"appointment_id", job.AppointmentID,
				"attempt", attempts,
				"max_attempts", job.MaxAttempts,
			)
			if err := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, time.Now().UTC().Add(w.backoff), err.Error()); err != nil {
				return err
			}
			continue
		}
		sent = append(sent, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, sent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReminderBody is the plain-text message shared by the email and SMS
// channels.
func ReminderBody(job Job) string {
	return fmt.Sprintf(
		"Reminder: your appointment on %s is coming up.",
		job.StartTime.UTC().Format("Mon, 02 Jan 2006 at 15:04 MST"),
	)
}
