package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatehouse/gatehouse/internal/clock"
	"github.com/gatehouse/gatehouse/internal/testutil"
)

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis, *clock.Fake) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clk := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	return NewRedisQueue(client, clk, testutil.DiscardLogger()), mr, clk
}

func TestRedisQueueEnqueuePull(t *testing.T) {
	q, _, _ := newRedisQueue(t)
	ctx := context.Background()

	job := NewJob("+15551234567", "+15551234567", "hello", "")
	testutil.NoError(t, q.Enqueue(ctx, job))

	got, err := q.Pull(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, job.ID, got.ID)
	testutil.Equal(t, "hello", got.Message)

	// The pulled job sits in-flight until settled.
	inflight, err := q.client.LLen(ctx, inflightKey).Result()
	testutil.NoError(t, err)
	testutil.Equal(t, int64(1), inflight)

	testutil.NoError(t, q.Ack(ctx, got))
	inflight, err = q.client.LLen(ctx, inflightKey).Result()
	testutil.NoError(t, err)
	testutil.Equal(t, int64(0), inflight)
}

func TestRedisQueueRetrySchedulesAndPromotes(t *testing.T) {
	q, _, clk := newRedisQueue(t)
	ctx := context.Background()

	job := NewJob("a", "a", "m", "")
	testutil.NoError(t, q.Enqueue(ctx, job))
	got, err := q.Pull(ctx)
	testutil.NoError(t, err)

	got.Attempt = 1
	testutil.NoError(t, q.Retry(ctx, got, "timeout"))

	// Still delayed: nothing promoted before the backoff lapses.
	testutil.NoError(t, q.promote(ctx))
	ready, err := q.client.LLen(ctx, readyKey).Result()
	testutil.NoError(t, err)
	testutil.Equal(t, int64(0), ready)

	clk.Advance(2*time.Second + time.Millisecond)
	testutil.NoError(t, q.promote(ctx))

	repulled, err := q.Pull(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, job.ID, repulled.ID)
	testutil.Equal(t, 1, repulled.Attempt)
	testutil.Equal(t, "timeout", repulled.LastError)
}

func TestRedisQueueDeadLetter(t *testing.T) {
	q, _, _ := newRedisQueue(t)
	ctx := context.Background()

	job := NewJob("a", "a", "m", "")
	testutil.NoError(t, q.Enqueue(ctx, job))
	got, err := q.Pull(ctx)
	testutil.NoError(t, err)

	got.Attempt = MaxAttempts
	testutil.NoError(t, q.DeadLetter(ctx, got, "exhausted"))

	raw, err := q.client.Get(ctx, dlqKeyPref+job.ID).Result()
	testutil.NoError(t, err)
	var dead DeadJob
	testutil.NoError(t, json.Unmarshal([]byte(raw), &dead))
	testutil.Equal(t, "exhausted", dead.Reason)
	testutil.Equal(t, job.ID, dead.Job.ID)

	// Settled everywhere else.
	inflight, err := q.client.LLen(ctx, inflightKey).Result()
	testutil.NoError(t, err)
	testutil.Equal(t, int64(0), inflight)
}

func TestRedisQueueRecoverInflight(t *testing.T) {
	q, _, _ := newRedisQueue(t)
	ctx := context.Background()

	job := NewJob("a", "a", "m", "")
	testutil.NoError(t, q.Enqueue(ctx, job))
	_, err := q.Pull(ctx)
	testutil.NoError(t, err)

	// Simulate a crash: the job is stranded in-flight.
	n, err := q.RecoverInflight(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, 1, n)

	got, err := q.Pull(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, job.ID, got.ID)
}
