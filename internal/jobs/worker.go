package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatehouse/gatehouse/internal/sms"
)

// providerTimeout caps each router call.
const providerTimeout = 10 * time.Second

// Router is the slice of the SMS router the worker uses.
type Router interface {
	Send(ctx context.Context, params sms.SendParams) (*sms.SendResult, error)
	SendWithRotation(ctx context.Context, params sms.SendParams, lastProvider string) (*sms.SendResult, error)
	Providers() []string
}

// Worker drains the queue serially. Run several workers for parallelism.
type Worker struct {
	queue  Queue
	router Router
	logger *slog.Logger
}

// NewWorker creates a worker over queue and router.
func NewWorker(queue Queue, router Router, logger *slog.Logger) *Worker {
	return &Worker{queue: queue, router: router, logger: logger}
}

// Run pulls and processes jobs until ctx is done. The in-flight job always
// finishes; shutdown only stops new pulls.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("pull job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(job)

		if ctx.Err() != nil {
			return
		}
	}
}

// process runs one delivery attempt. It deliberately ignores the run
// context: an accepted job is delivered or settled even during shutdown.
func (w *Worker) process(job *Job) {
	job.Attempt++
	ctx, cancel := context.WithTimeout(context.Background(), providerTimeout)
	defer cancel()

	params := sms.SendParams{
		Identity:    job.Identity,
		To:          job.To,
		Body:        job.Message,
		CallbackURL: job.CallbackURL,
	}

	var result *sms.SendResult
	var err error
	if job.Attempt < MaxAttempts {
		result, err = w.router.Send(ctx, params)
	} else {
		// The final attempt rotates to a different provider when one
		// exists.
		result, err = w.router.SendWithRotation(ctx, params, job.LastProvider)
	}

	settleCtx, settleCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer settleCancel()

	switch {
	case err == nil && result.OK:
		w.logger.Info("sms dispatched",
			"job_id", job.ID, "identity", job.Identity,
			"attempt", job.Attempt, "message_id", result.MessageID)
		if err := w.queue.Ack(settleCtx, job); err != nil {
			w.logger.Error("ack job", "job_id", job.ID, "error", err)
		}
	case job.Attempt >= MaxAttempts:
		reason := failureReason(result, err)
		w.logger.Error("sms delivery exhausted",
			"job_id", job.ID, "identity", job.Identity, "reason", reason)
		if err := w.queue.DeadLetter(settleCtx, job, reason); err != nil {
			w.logger.Error("dead-letter job", "job_id", job.ID, "error", err)
		}
	default:
		reason := failureReason(result, err)
		// Failed attempts leave no stored provider hint, so record where
		// this one started; the final attempt rotates from there.
		if order := w.router.Providers(); len(order) > 0 {
			job.LastProvider = order[0]
		}
		w.logger.Warn("sms attempt failed",
			"job_id", job.ID, "identity", job.Identity,
			"attempt", job.Attempt, "reason", reason)
		if err := w.queue.Retry(settleCtx, job, reason); err != nil {
			w.logger.Error("retry job", "job_id", job.ID, "error", err)
		}
	}
}

func failureReason(result *sms.SendResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && result.Detail != "" {
		return result.Detail
	}
	return "send failed"
}
