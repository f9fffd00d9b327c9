package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SessionRelay carries session side effects out of the process.
type SessionRelay interface {
	EnqueueViolation(ctx context.Context, v model.ViolationRecord) error
	PublishMonitor(ctx context.Context, ev model.MonitorEvent) error
}

// RedisSessionRelay queues violations for the violation worker and publishes
// monitor events on the exam's PubSub channel.
type RedisSessionRelay struct {
	rdb *redis.Client
}

// NewRedisSessionRelay creates a new RedisSessionRelay.
func NewRedisSessionRelay(rdb *redis.Client) *RedisSessionRelay {
	return &RedisSessionRelay{rdb: rdb}
}

func (r *RedisSessionRelay) EnqueueViolation(ctx context.Context, v model.ViolationRecord) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	return r.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err()
}

func (r *RedisSessionRelay) PublishMonitor(ctx context.Context, ev model.MonitorEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}
	return r.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID), data).Err()
}
