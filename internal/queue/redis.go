package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const popTimeout = 5 * time.Second

// RedisQueue is an at-least-once queue on Redis lists. A dequeued task is kept
// in the processing list until its handler returns; tasks left there by a
// crashed process are put back by Recover.
type RedisQueue struct {
	rdb        *redis.Client
	key        string
	processing string
	dead       string
	log        *zap.Logger
}

func NewRedisQueue(rdb *redis.Client, key string, log *zap.Logger) *RedisQueue {
	return &RedisQueue{
		rdb:        rdb,
		key:        key,
		processing: key + ":processing",
		dead:       key + ":dead",
		log:        log,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s task %d: %w", task.Type, task.TargetID, err)
	}
	return nil
}

// Recover moves tasks abandoned in the processing list back to the queue.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.RPopLPush(ctx, q.processing, q.key).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover tasks: %w", err)
		}
		n++
	}
}

// Len reports queued and dead tasks.
func (q *RedisQueue) Len(ctx context.Context) (queued, dead int64, err error) {
	if queued, err = q.rdb.LLen(ctx, q.key).Result(); err != nil {
		return 0, 0, err
	}
	if dead, err = q.rdb.LLen(ctx, q.dead).Result(); err != nil {
		return 0, 0, err
	}
	return queued, dead, nil
}

// Run feeds tasks into the pool until ctx is cancelled. Tasks whose handler
// fails are moved to the dead list for inspection.
func (q *RedisQueue) Run(ctx context.Context, pool *Pool, handle Handler) error {
	q.log.Info("queue consumer started", zap.String("queue", q.key))
	for {
		raw, err := q.rdb.BRPopLPush(ctx, q.key, q.processing, popTimeout).Result()
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			q.log.Error("failed to pop task", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			q.log.Error("dropping malformed task", zap.String("payload", raw), zap.Error(err))
			q.settle(ctx, raw, true)
			continue
		}

		err = pool.Submit(ctx, func() {
			if err := handle(ctx, task); err != nil {
				if ctx.Err() != nil {
					// interrupted by shutdown, Recover retries it
					return
				}
				q.log.Error("task failed",
					zap.String("task_id", task.ID), zap.String("type", task.Type), zap.Uint("target_id", task.TargetID), zap.Error(err))
				q.settle(ctx, raw, true)
				return
			}
			q.settle(ctx, raw, false)
		})
		if err != nil {
			// still in the processing list, Recover picks it up on restart
			q.log.Warn("task not submitted", zap.String("task_id", task.ID), zap.Error(err))
			return nil
		}
	}
}

func (q *RedisQueue) settle(ctx context.Context, raw string, failed bool) {
	ctx = context.WithoutCancel(ctx)
	pipe := q.rdb.TxPipeline()
	if failed {
		pipe.LPush(ctx, q.dead, raw)
	}
	pipe.LRem(ctx, q.processing, 1, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("failed to ack task", zap.Error(err))
	}
}
