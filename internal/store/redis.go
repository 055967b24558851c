package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	"github.com/redis/go-redis/v9"
)

const (
	runKeyPrefix = "advisor:run:"
	runIndexKey  = "advisor:runs"
)

// RedisStore keeps each run as a JSON value with a TTL and a sorted set of
// ids scored by creation time.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	rdb, err := DialRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisWithClient(rdb, cfg.TTL), nil
}

// DialRedis opens a client and pings the server. The run queue shares it.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	return rdb, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func runKey(id string) string { return runKeyPrefix + id }

func (s *RedisStore) Save(ctx context.Context, run Run) error {
	b, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(run.ID), b, s.ttl)
	pipe.ZAdd(ctx, runIndexKey, redis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: run.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Run, error) {
	val, err := s.client.Get(ctx, runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	var run Run
	if err := json.Unmarshal(val, &run); err != nil {
		return Run{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, nil
}

// List reads ids newest first and drops index entries whose run has expired.
func (s *RedisStore) List(ctx context.Context, limit int) ([]Run, error) {
	n := listLimit(limit)
	ids, err := s.client.ZRevRange(ctx, runIndexKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(ids) == 0 {
		return []Run{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = runKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	out := make([]Run, 0, len(vals))
	var expired []interface{}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var run Run
		if err := json.Unmarshal([]byte(str), &run); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", ids[i], err)
		}
		out = append(out, run)
	}
	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, runIndexKey, expired...).Err()
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
