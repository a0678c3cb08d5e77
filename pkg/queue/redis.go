package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-mercato/open-mercato-sub000/pkg/log"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

const (
	redisKeyPrefix = "search:queue:"
	popTimeout     = 2 * time.Second
)

// retryBackoff delays redelivery of a failed job by attempt count
var retryBackoff = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// redisEnvelope wraps the job payload with delivery bookkeeping
type redisEnvelope struct {
	Attempts int        `json:"attempts"`
	Job      *types.Job `json:"job"`
}

// Redis is a Queue on go-redis lists. Waiting jobs live on a list, a
// popped job moves to a per-queue processing list until acknowledged,
// which survives consumer crashes: leftovers are requeued on the next
// Process start. Run one Process per queue per deployment to keep
// per-key ordering.
type Redis struct {
	client      *redis.Client
	maxAttempts int
}

// NewRedis creates a Redis-backed queue. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewRedis(client *redis.Client, maxAttempts int) *Redis {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Redis{client: client, maxAttempts: maxAttempts}
}

// DialRedis connects to the given URL and pings the server
func DialRedis(ctx context.Context, redisURL string, maxAttempts int) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedis(client, maxAttempts), nil
}

func waitingKey(name string) string    { return redisKeyPrefix + name }
func processingKey(name string) string { return redisKeyPrefix + name + ":processing" }
func failedKey(name string) string     { return redisKeyPrefix + name + ":failed" }

// Enqueue implements Queue
func (r *Redis) Enqueue(ctx context.Context, queueName string, job *types.Job) error {
	payload, err := json.Marshal(redisEnvelope{Job: job})
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := r.client.LPush(ctx, waitingKey(queueName), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Process implements Queue. Blocks until ctx is cancelled.
func (r *Redis) Process(ctx context.Context, queueName string, handler Handler) error {
	r.requeueOrphans(ctx, queueName)

	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, err := r.client.BLMove(ctx, waitingKey(queueName), processingKey(queueName),
			"RIGHT", "LEFT", popTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.WithQueue(queueName).Warn().Err(err).Msg("failed to pop job")
			sleep(ctx, popTimeout)
			continue
		}
		r.handle(ctx, queueName, payload, handler)
	}
}

func (r *Redis) handle(ctx context.Context, queueName, payload string, handler Handler) {
	defer r.client.LRem(ctx, processingKey(queueName), 1, payload)

	var envelope redisEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		log.WithQueue(queueName).Error().Err(err).Msg("dropping undecodable job")
		return
	}

	if err := handler(ctx, envelope.Job); err != nil {
		envelope.Attempts++
		if envelope.Attempts >= r.maxAttempts {
			log.WithQueue(queueName).Error().Err(err).
				Str("job_type", string(envelope.Job.JobType)).
				Int("attempts", envelope.Attempts).
				Msg("job failed permanently")
			if data, merr := json.Marshal(envelope); merr == nil {
				r.client.LPush(ctx, failedKey(queueName), data)
			}
			return
		}
		sleep(ctx, backoff(envelope.Attempts))
		if data, merr := json.Marshal(envelope); merr == nil {
			r.client.LPush(ctx, waitingKey(queueName), data)
		}
	}
}

// requeueOrphans moves jobs a crashed consumer left on the processing
// list back to the waiting list
func (r *Redis) requeueOrphans(ctx context.Context, queueName string) {
	for {
		_, err := r.client.LMove(ctx, processingKey(queueName), waitingKey(queueName),
			"RIGHT", "LEFT").Result()
		if err != nil {
			return
		}
	}
}

// Clear implements Queue
func (r *Redis) Clear(ctx context.Context, queueName string) error {
	return r.client.Del(ctx,
		waitingKey(queueName), processingKey(queueName), failedKey(queueName)).Err()
}

// JobCounts implements Queue
func (r *Redis) JobCounts(ctx context.Context, queueName string) (Counts, error) {
	pipe := r.client.Pipeline()
	waiting := pipe.LLen(ctx, waitingKey(queueName))
	active := pipe.LLen(ctx, processingKey(queueName))
	failed := pipe.LLen(ctx, failedKey(queueName))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, fmt.Errorf("failed to read queue counts: %w", err)
	}
	return Counts{Waiting: waiting.Val(), Active: active.Val(), Failed: failed.Val()}, nil
}

// Close implements Queue
func (r *Redis) Close() error {
	return r.client.Close()
}

func backoff(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryBackoff) {
		idx = len(retryBackoff) - 1
	}
	return retryBackoff[idx]
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
