package worker

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/taskhub/internal/domain/job"
	"github.com/geocoder89/taskhub/internal/jobs"
	"github.com/geocoder89/taskhub/internal/notifications"
)

// ProcessOne claims and executes a single job. The bool reports whether a
// job was available.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {

	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)

	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}

		return false, err
	}

	w.metrics.IncClaimed()

	start := time.Now()

	err = w.execute(ctx, j)

	w.metrics.ObserveDuration(time.Since(start))

	if err != nil {
		w.handleFailure(ctx, j, err)
		return true, nil
	}

	err = w.repo.MarkDone(ctx, j.ID)

	if err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		return true, err
	}

	w.metrics.IncDone()

	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	switch j.Type {
	case jobs.TypeMailSend:
		payload, err := jobs.DecodeMailSend(j.Payload)

		if err != nil {
			return err
		}

		sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		return w.mailer.Send(sendCtx, notifications.Message{
			To:      payload.To,
			Subject: payload.Subject,
			Body:    payload.Body,
		})

	default:
		return jobs.ErrInvalidJobType
	}
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error) {
	// malformed jobs never get better; fail them outright
	if errors.Is(execErr, jobs.ErrInvalidJobType) || errors.Is(execErr, jobs.ErrInvalidJobPayload) {
		w.metrics.IncFailed()

		if err := w.repo.MarkFailed(ctx, j.ID, "permanent: "+execErr.Error()); err != nil {
			w.log.Error("mark failed error", "job_id", j.ID, "err", err)
		}
		return
	}

	// attempts is incremented by Reschedule, so compare against the count
	// after this attempt
	if j.Attempts+1 >= j.MaxAttempts {
		w.metrics.IncDeadLettered()

		if err := w.repo.MarkFailed(ctx, j.ID, "max_attempts: "+execErr.Error()); err != nil {
			w.log.Error("mark failed error", "job_id", j.ID, "err", err)
		}
		return
	}

	w.metrics.IncRetried()

	runAt := time.Now().UTC().Add(ExponentialBackoff(j.Attempts))

	if err := w.repo.Reschedule(ctx, j.ID, runAt, execErr.Error()); err != nil {
		w.log.Error("reschedule error", "job_id", j.ID, "err", err)
	}
}
