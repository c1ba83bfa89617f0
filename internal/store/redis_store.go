package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"riskengine/pkg/models"
)

// RedisConfig configures Redis access for result persistence.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	Retention  time.Duration
	QueryLimit int64
}

// RedisStore persists evaluation results in Redis. Each result is written
// once under its identity key with SETNX, so redelivered events collapse
// into a no-op; a per-entity-key sorted set indexes results by
// observation time for window queries.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	limit     int64
}

// NewRedisStore constructs a Redis-backed result store and verifies
// connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "riskengine"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = 1000
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis result store: %w", err)
	}

	return &RedisStore{
		client:    client,
		prefix:    strings.TrimSpace(cfg.KeyPrefix),
		retention: cfg.Retention,
		limit:     cfg.QueryLimit,
	}, nil
}

// Put stores a result idempotently and indexes it for window queries.
func (s *RedisStore) Put(ctx context.Context, result *models.EvaluationResult) error {
	if result == nil || result.EntityID == "" {
		return nil
	}

	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	resultKey := s.resultKey(result)
	pipe := s.client.Pipeline()
	pipe.SetNX(ctx, resultKey, blob, s.retention)
	if result.EntityKey != "" {
		windowKey := s.windowKey(result.EntityType, result.EntityKey)
		// Same member, same score: redelivery leaves the index unchanged.
		pipe.ZAdd(ctx, windowKey, redis.Z{
			Score:  float64(result.ObservedAt.UnixNano()),
			Member: resultKey,
		})
		pipe.Expire(ctx, windowKey, s.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write result to redis: %w", err)
	}
	return nil
}

// QueryWindow returns results for an entity key observed inside (from, to),
// ascending by observation time, capped at the configured query limit.
func (s *RedisStore) QueryWindow(ctx context.Context, entityType models.EntityType, key string, from, to time.Time) ([]models.EvaluationResult, error) {
	if key == "" {
		return nil, nil
	}

	members, err := s.client.ZRangeByScore(ctx, s.windowKey(entityType, key), &redis.ZRangeBy{
		Min:    "(" + strconv.FormatInt(from.UnixNano(), 10),
		Max:    "(" + strconv.FormatInt(to.UnixNano(), 10),
		Offset: 0,
		Count:  s.limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read window index: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	blobs, err := s.client.MGet(ctx, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("read window results: %w", err)
	}

	out := make([]models.EvaluationResult, 0, len(blobs))
	for _, blob := range blobs {
		raw, ok := blob.(string)
		if !ok || raw == "" {
			// Result blob aged out of retention before its index entry.
			continue
		}
		var res models.EvaluationResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) resultKey(result *models.EvaluationResult) string {
	return s.prefix + ":result:" + string(result.EntityType) + ":" + result.EntityID + ":" +
		strconv.FormatInt(result.ObservedAt.UnixNano(), 10)
}

func (s *RedisStore) windowKey(entityType models.EntityType, key string) string {
	return s.prefix + ":window:" + string(entityType) + ":" + key
}
