package service

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const pendingReconcileKey = "reconcile:pending"

// ReconcileQueue tracks links whose aggregates may have drifted from the click log.
type ReconcileQueue interface {
	MarkPending(ctx context.Context, linkID string) error
	PopPending(ctx context.Context, n int) ([]string, error)
}

type redisReconcileQueue struct {
	rdb *redis.Client
}

// NewRedisReconcileQueue keeps pending link ids in a Redis set shared by all instances.
func NewRedisReconcileQueue(rdb *redis.Client) ReconcileQueue {
	return &redisReconcileQueue{rdb: rdb}
}

func (q *redisReconcileQueue) MarkPending(ctx context.Context, linkID string) error {
	return q.rdb.SAdd(ctx, pendingReconcileKey, linkID).Err()
}

func (q *redisReconcileQueue) PopPending(ctx context.Context, n int) ([]string, error) {
	ids, err := q.rdb.SPopN(ctx, pendingReconcileKey, int64(n)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return ids, err
}

type memoryReconcileQueue struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewMemoryReconcileQueue keeps pending link ids in process.
func NewMemoryReconcileQueue() ReconcileQueue {
	return &memoryReconcileQueue{ids: make(map[string]struct{})}
}

func (q *memoryReconcileQueue) MarkPending(_ context.Context, linkID string) error {
	q.mu.Lock()
	q.ids[linkID] = struct{}{}
	q.mu.Unlock()
	return nil
}

func (q *memoryReconcileQueue) PopPending(_ context.Context, n int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, 0, n)
	for id := range q.ids {
		if len(out) == n {
			break
		}
		out = append(out, id)
		delete(q.ids, id)
	}
	return out, nil
}
