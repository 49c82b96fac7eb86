// Package jobs provides the durable SMS job queue and the worker that drains
// it. The queue applies exponential backoff between attempts and dead-letters
// jobs that exhaust them.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MaxAttempts is the delivery attempt cap per job.
const MaxAttempts = 3

// Job is one queued SMS send. Attempt counts attempts already made; a job
// fresh from Enqueue carries zero.
type Job struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	To          string    `json:"to"`
	Message     string    `json:"message"`
	CallbackURL string `json:"callbackUrl,omitempty"`
	Attempt     int    `json:"attempt"`
	// LastProvider is the provider the previous attempt tried first. The
	// final attempt rotates away from it even when nothing was delivered.
	LastProvider string    `json:"lastProvider,omitempty"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
	LastError    string    `json:"lastError,omitempty"`
}

// NewJob builds a job with a fresh ID.
func NewJob(identity, to, message, callbackURL string) *Job {
	return &Job{
		ID:          uuid.NewString(),
		Identity:    identity,
		To:          to,
		Message:     message,
		CallbackURL: callbackURL,
	}
}

// Queue is a durable FIFO with per-job attempt tracking.
type Queue interface {
	// Enqueue adds a job to the ready queue.
	Enqueue(ctx context.Context, job *Job) error

	// Pull blocks until a job is ready or ctx is done. The returned job is
	// in-flight until Ack, Retry, or DeadLetter settles it.
	Pull(ctx context.Context) (*Job, error)

	// Ack settles an in-flight job after success.
	Ack(ctx context.Context, job *Job) error

	// Retry settles an in-flight job by scheduling it again after the
	// backoff delay for its attempt count.
	Retry(ctx context.Context, job *Job, reason string) error

	// DeadLetter settles an in-flight job terminally, retaining it for
	// inspection.
	DeadLetter(ctx context.Context, job *Job, reason string) error

	// Requeue returns an in-flight job to the ready queue without a
	// backoff penalty. Used on worker shutdown.
	Requeue(ctx context.Context, job *Job) error
}

// ComputeBackoff returns the delay before the attempt after attemptsMade.
// The curve is 2^(n-1) * 2s: 2s after the first failure, 4s after the
// second.
func ComputeBackoff(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return (1 << (attemptsMade - 1)) * 2 * time.Second
}
