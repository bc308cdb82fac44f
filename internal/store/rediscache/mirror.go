// Package rediscache mirrors the queue snapshot into redis so dashboards
// and sibling processes can inspect it without opening the durable store.
// The mirror is best-effort: publish failures are logged and never block
// the queue.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskrelay/internal/models"

	"github.com/redis/go-redis/v9"
)

// Mirror publishes queue snapshots and stats under a namespaced key pair.
type Mirror struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewClient creates a redis client from connection parameters.
func NewClient(address, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}

func NewMirror(client *redis.Client, namespace string, ttl time.Duration) *Mirror {
	return &Mirror{client: client, namespace: namespace, ttl: ttl}
}

func (m *Mirror) queueKey() string {
	return fmt.Sprintf("taskrelay:%s:queue", m.namespace)
}

func (m *Mirror) statsKey() string {
	return fmt.Sprintf("taskrelay:%s:stats", m.namespace)
}

// Publish stores the current queue and its stats.
func (m *Mirror) Publish(ctx context.Context, items []*models.QueueItem, stats models.QueueStats) error {
	if m.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	queueRaw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode queue snapshot: %w", err)
	}
	statsRaw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode queue stats: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.queueKey(), queueRaw, m.ttl)
	pipe.Set(ctx, m.statsKey(), statsRaw, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot to redis: %w", err)
	}
	return nil
}

// Snapshot reads back the mirrored queue. Returns nil when nothing has
// been published or the mirror expired.
func (m *Mirror) Snapshot(ctx context.Context) ([]*models.QueueItem, error) {
	if m.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	raw, err := m.client.Get(ctx, m.queueKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot from redis: %w", err)
	}

	var items []*models.QueueItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return items, nil
}

// Stats reads back the mirrored stats counter block.
func (m *Mirror) Stats(ctx context.Context) (*models.QueueStats, error) {
	if m.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	raw, err := m.client.Get(ctx, m.statsKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stats from redis: %w", err)
	}

	var stats models.QueueStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

// Clear drops the mirrored keys.
func (m *Mirror) Clear(ctx context.Context) error {
	if m.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := m.client.Del(ctx, m.queueKey(), m.statsKey()).Err(); err != nil {
		return fmt.Errorf("clear redis mirror: %w", err)
	}
	return nil
}

// Ping verifies the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}
