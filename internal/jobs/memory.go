package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/gatehouse/gatehouse/internal/clock"
)

// DeadJob is a dead-lettered job held for inspection.
type DeadJob struct {
	Job    *Job
	Reason string
	At     time.Time
}

// MemoryQueue is an in-process Queue for dev mode and tests. Delayed jobs
// are promoted against the injected clock, so tests drive time manually.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []*Job
	delayed []delayedJob
	dead    []DeadJob
	clk     clock.Clock
	notify  chan struct{}
}

type delayedJob struct {
	job *Job
	at  time.Time
}

// NewMemoryQueue creates an empty queue on the given clock.
func NewMemoryQueue(clk clock.Clock) *MemoryQueue {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryQueue{clk: clk, notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *Job) error {
	q.mu.Lock()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.clk.Now().UTC()
	}
	q.ready = append(q.ready, job)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Pull promotes due delayed jobs, then pops the oldest ready job. It polls
// on a short tick so fake-clock advances are observed.
func (q *MemoryQueue) Pull(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		q.promoteLocked()
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) promoteLocked() {
	now := q.clk.Now()
	remaining := q.delayed[:0]
	for _, d := range q.delayed {
		if !d.at.After(now) {
			q.ready = append(q.ready, d.job)
		} else {
			remaining = append(remaining, d)
		}
	}
	q.delayed = remaining
}

func (q *MemoryQueue) Ack(context.Context, *Job) error { return nil }

func (q *MemoryQueue) Retry(_ context.Context, job *Job, reason string) error {
	q.mu.Lock()
	job.LastError = reason
	q.delayed = append(q.delayed, delayedJob{
		job: job,
		at:  q.clk.Now().Add(ComputeBackoff(job.Attempt)),
	})
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job *Job, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.LastError = reason
	q.dead = append(q.dead, DeadJob{Job: job, Reason: reason, At: q.clk.Now().UTC()})
	return nil
}

func (q *MemoryQueue) Requeue(_ context.Context, job *Job) error {
	q.mu.Lock()
	q.ready = append([]*Job{job}, q.ready...)
	q.mu.Unlock()
	q.wake()
	return nil
}

// DeadJobs returns a copy of the dead-letter log.
func (q *MemoryQueue) DeadJobs() []DeadJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadJob, len(q.dead))
	copy(out, q.dead)
	return out
}

// Depth returns how many jobs are ready or delayed.
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.delayed)
}
