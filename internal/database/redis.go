package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/models"
)

const (
	poolSnapshotKey   = "poolpilot:pool_snapshot"
	cycleSummaryList  = "poolpilot:cycle_summaries"
	summaryHistoryLen = 100
)

type RedisClient struct {
	Client *redis.Client
}

func NewRedisConnection(cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logrus.Info("Successfully connected to Redis")

	return &RedisClient{Client: rdb}, nil
}

func (r *RedisClient) Close() {
	if r.Client != nil {
		if err := r.Client.Close(); err != nil {
			logrus.WithError(err).Warn("Error closing Redis connection")
		}
	}
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// SetPoolSnapshot caches the derived pool snapshot with a TTL so repeated
// Observe stages within the TTL do not refetch the orchestrator.
func (r *RedisClient) SetPoolSnapshot(ctx context.Context, snapshot *models.PoolSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal pool snapshot: %w", err)
	}
	return r.Client.Set(ctx, poolSnapshotKey, data, ttl).Err()
}

// GetPoolSnapshot returns the cached pool snapshot, or nil when absent.
func (r *RedisClient) GetPoolSnapshot(ctx context.Context) (*models.PoolSnapshot, error) {
	data, err := r.Client.Get(ctx, poolSnapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pool snapshot: %w", err)
	}
	var snapshot models.PoolSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal pool snapshot: %w", err)
	}
	return &snapshot, nil
}

// PushCycleSummary prepends a cycle summary to the bounded history list.
func (r *RedisClient) PushCycleSummary(ctx context.Context, summary *models.CycleSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal cycle summary: %w", err)
	}
	pipe := r.Client.TxPipeline()
	pipe.LPush(ctx, cycleSummaryList, data)
	pipe.LTrim(ctx, cycleSummaryList, 0, summaryHistoryLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push cycle summary: %w", err)
	}
	return nil
}

// RecentCycleSummaries returns up to n most recent cycle summaries.
func (r *RedisClient) RecentCycleSummaries(ctx context.Context, n int) ([]models.CycleSummary, error) {
	if n <= 0 {
		n = 10
	}
	raw, err := r.Client.LRange(ctx, cycleSummaryList, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list cycle summaries: %w", err)
	}
	summaries := make([]models.CycleSummary, 0, len(raw))
	for _, item := range raw {
		var s models.CycleSummary
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			return nil, fmt.Errorf("unmarshal cycle summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
