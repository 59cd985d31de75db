package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/taskhub/internal/domain/job"
	"github.com/geocoder89/taskhub/internal/notifications"
	"github.com/geocoder89/taskhub/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

type Config struct {
	PollInterval time.Duration
	WorkerID     string
	LockTTL      time.Duration
}

// Worker drains the mail outbox: claim a pending row, deliver it, mark the
// outcome. Stale processing rows (a worker died mid-job) are requeued
// periodically.
type Worker struct {
	cfg     Config
	repo    JobsRepository
	mailer  notifications.Mailer
	metrics *observability.JobMetrics
	log     *slog.Logger

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, mailer notifications.Mailer, metrics *observability.JobMetrics, log *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}

	if metrics == nil {
		metrics = observability.NewJobMetrics()
	}

	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg:     cfg,
		repo:    repo,
		mailer:  mailer,
		metrics: metrics,
		log:     log,
	}
}

func (w *Worker) Metrics() *observability.JobMetrics {
	return w.metrics
}

func (w *Worker) setReady(ready bool) {
	w.readyMu.Lock()
	w.ready = ready
	w.readyMu.Unlock()
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	// the requeue sweep runs much less often than the claim loop
	staleTicker := time.NewTicker(w.cfg.LockTTL)
	defer staleTicker.Stop()

	w.setReady(true)
	defer w.setReady(false)

	w.log.Info("worker started", "worker_id", w.cfg.WorkerID, "poll_interval", w.cfg.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			// ProcessOne runs inline, so nothing is in flight here
			w.log.Info("worker received shutdown signal")
			return nil

		case <-staleTicker.C:
			sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

			n, err := w.repo.RequeueStaleProcessing(sweepCtx, w.cfg.LockTTL)
			cancel()

			if err != nil {
				w.log.Error("stale requeue failed", "err", err)
			} else if n > 0 {
				w.log.Warn("requeued stale jobs", "count", n)
			}

		case <-ticker.C:
			// drain the ready backlog before sleeping again
			for {
				processed, err := w.ProcessOne(ctx)

				if err != nil {
					w.log.Error("process error", "err", err)
					break
				}

				if !processed {
					break
				}

				if ctx.Err() != nil {
					break
				}
			}
		}
	}
}
