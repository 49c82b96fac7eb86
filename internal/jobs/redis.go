package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatehouse/gatehouse/internal/clock"
)

const (
	readyKey    = "sms:jobs:ready"
	inflightKey = "sms:jobs:inflight"
	delayedKey  = "sms:jobs:delayed"
	jobKeyPref  = "sms:jobs:job:"
	dlqKeyPref  = "sms:dlq:"

	// jobBodyTTL bounds orphaned job bodies; settled jobs are deleted
	// explicitly.
	jobBodyTTL  = 48 * time.Hour
	dlqTTL      = 7 * 24 * time.Hour
	pullTimeout = time.Second
)

// RedisQueue is a Queue on Redis lists. Ready jobs live in a list consumed
// with BLMOVE into an in-flight list; delayed jobs wait in a sorted set that
// a pump goroutine promotes when due.
type RedisQueue struct {
	client *redis.Client
	clk    clock.Clock
	logger *slog.Logger
}

// NewRedisQueue creates a queue on an existing client.
func NewRedisQueue(client *redis.Client, clk clock.Clock, logger *slog.Logger) *RedisQueue {
	if clk == nil {
		clk = clock.System{}
	}
	return &RedisQueue{client: client, clk: clk, logger: logger}
}

// StartPump promotes due delayed jobs every interval until ctx is done.
func (q *RedisQueue) StartPump(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.promote(ctx); err != nil && ctx.Err() == nil {
					q.logger.Warn("promote delayed jobs", "error", err)
				}
			}
		}
	}()
}

func (q *RedisQueue) promote(ctx context.Context) error {
	now := strconv.FormatInt(q.clk.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, delayedKey, id).Result()
		if err != nil {
			return err
		}
		// Another pump instance may have claimed it first.
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey, id).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.client.Set(ctx, jobKeyPref+job.ID, data, jobBodyTTL).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.clk.Now().UTC()
	}
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.client.LPush(ctx, readyKey, job.ID).Err()
}

func (q *RedisQueue) Pull(ctx context.Context) (*Job, error) {
	for {
		id, err := q.client.BLMove(ctx, readyKey, inflightKey, "RIGHT", "LEFT", pullTimeout).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("pull job: %w", err)
		}

		raw, err := q.client.Get(ctx, jobKeyPref+id).Result()
		if err == redis.Nil {
			// Body expired; drop the stale reference.
			_ = q.client.LRem(ctx, inflightKey, 1, id).Err()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load job %s: %w", id, err)
		}

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_ = q.client.LRem(ctx, inflightKey, 1, id).Err()
			return nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		return &job, nil
	}
}

func (q *RedisQueue) settle(ctx context.Context, job *Job) error {
	return q.client.LRem(ctx, inflightKey, 1, job.ID).Err()
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	if err := q.settle(ctx, job); err != nil {
		return err
	}
	return q.client.Del(ctx, jobKeyPref+job.ID).Err()
}

func (q *RedisQueue) Retry(ctx context.Context, job *Job, reason string) error {
	job.LastError = reason
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	if err := q.settle(ctx, job); err != nil {
		return err
	}
	due := q.clk.Now().Add(ComputeBackoff(job.Attempt))
	return q.client.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: job.ID,
	}).Err()
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job *Job, reason string) error {
	job.LastError = reason
	record, err := json.Marshal(DeadJob{Job: job, Reason: reason, At: q.clk.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode dead job: %w", err)
	}
	if err := q.client.Set(ctx, dlqKeyPref+job.ID, record, dlqTTL).Err(); err != nil {
		return err
	}
	if err := q.settle(ctx, job); err != nil {
		return err
	}
	return q.client.Del(ctx, jobKeyPref+job.ID).Err()
}

func (q *RedisQueue) Requeue(ctx context.Context, job *Job) error {
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	if err := q.settle(ctx, job); err != nil {
		return err
	}
	// RPUSH puts the job at the consumption end, keeping its place in line.
	return q.client.RPush(ctx, readyKey, job.ID).Err()
}

// RecoverInflight returns jobs stranded in the in-flight list by a crashed
// worker to the ready queue. Call once at startup before workers begin.
func (q *RedisQueue) RecoverInflight(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.client.RPopLPush(ctx, inflightKey, readyKey).Result()
		if err == redis.Nil {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
