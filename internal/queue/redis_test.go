package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisQueue(rdb, "renewals", zaptest.NewLogger(t)), mr
}

func TestRedisQueueDeliversTasks(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := NewPool(ctx, 1, 4, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []Task
	handled := make(chan struct{}, 2)
	go q.Run(ctx, pool, func(_ context.Context, task Task) error {
		mu.Lock()
		got = append(got, task)
		mu.Unlock()
		handled <- struct{}{}
		if task.TargetID == 2 {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, q.Enqueue(ctx, NewTask(TypeRenew, 1, false)))
	require.NoError(t, q.Enqueue(ctx, NewTask(TypeRenew, 2, true)))

	for range 2 {
		select {
		case <-handled:
		case <-time.After(2 * time.Second):
			t.Fatal("task not delivered")
		}
	}

	assert.Eventually(t, func() bool {
		processing, _ := mr.List("renewals:processing")
		dead, _ := mr.List("renewals:dead")
		return len(processing) == 0 && len(dead) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0].TargetID, "FIFO order")
	assert.True(t, got[1].Force)
}

func TestRedisQueueRecover(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	_, err := mr.Lpush("renewals:processing", `{"id":"a","type":"renew","target_id":7}`)
	require.NoError(t, err)
	_, err = mr.Lpush("renewals:processing", `{"id":"b","type":"renew","target_id":8}`)
	require.NoError(t, err)

	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	queued, dead, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, queued)
	assert.Zero(t, dead)
}
