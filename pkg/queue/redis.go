package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ferrydock/ferry/pkg/types"
)

// RedisQueue keeps each priority class in a Redis list. BLPOP across the
// three keys in priority order gives blocking dequeue with the required
// ordering; list contents survive a control plane restart.
type RedisQueue struct {
	client *redis.Client
	limit  int64
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, url string, depthLimit int) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisQueue{client: client, limit: int64(depthLimit)}, nil
}

// NewRedisQueueFromClient wraps an existing client. Used by tests.
func NewRedisQueueFromClient(client *redis.Client, depthLimit int) *RedisQueue {
	return &RedisQueue{client: client, limit: int64(depthLimit)}
}

func queueKey(orgID, clusterID string, p types.Priority) string {
	return fmt.Sprintf("queue:%s:%s:%s", orgID, clusterID, p)
}

func queueKeys(orgID, clusterID string) []string {
	keys := make([]string, 0, len(priorityOrder))
	for _, p := range priorityOrder {
		keys = append(keys, queueKey(orgID, clusterID, p))
	}
	return keys
}

func (q *RedisQueue) Enqueue(ctx context.Context, orgID, clusterID string, msg *types.QueueMessage) error {
	depth, err := q.Depth(ctx, orgID, clusterID)
	if err != nil {
		return err
	}
	if q.limit > 0 && depth >= q.limit {
		return fmt.Errorf("queue %s/%s at depth %d: %w", orgID, clusterID, depth, types.ErrQueueFull)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode queue message: %w", err)
	}
	if err := q.client.RPush(ctx, queueKey(orgID, clusterID, msg.Priority), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, orgID, clusterID string, wait time.Duration) (*types.QueueMessage, error) {
	// BLPOP checks keys in argument order, so the high list drains
	// before normal and normal before low.
	res, err := q.client.BLPop(ctx, wait, queueKeys(orgID, clusterID)...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue message: %w", err)
	}
	// res is [key, value].
	var msg types.QueueMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode queue message: %w", err)
	}
	return &msg, nil
}

func (q *RedisQueue) RequeueFront(ctx context.Context, orgID, clusterID string, msg *types.QueueMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode queue message: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey(orgID, clusterID, msg.Priority), payload).Err(); err != nil {
		return fmt.Errorf("failed to requeue message: %w", err)
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context, orgID, clusterID string) (int64, error) {
	pipe := q.client.Pipeline()
	lens := make([]*redis.IntCmd, 0, len(priorityOrder))
	for _, key := range queueKeys(orgID, clusterID) {
		lens = append(lens, pipe.LLen(ctx, key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	var total int64
	for _, cmd := range lens {
		total += cmd.Val()
	}
	return total, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
