package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatsCache holds computed UsageStats between writes. Get returns the
// user's current generation alongside any cached value; Set stores stats
// only while that generation is still current, so a result computed before
// an Invalidate is never written back.
type StatsCache interface {
	Get(ctx context.Context, userID string) (*UsageStats, int64, error)
	Set(ctx context.Context, userID string, gen int64, stats UsageStats) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisStatsCache stores UsageStats as JSON strings with a TTL next to a
// per-user generation counter.
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatsCache creates a cache. A nil client yields a cache that
// never hits.
func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{client: client, ttl: ttl}
}

func statsKey(userID string) string {
	return fmt.Sprintf("tokens:stats:%s", userID)
}

func statsGenKey(userID string) string {
	return fmt.Sprintf("tokens:stats:gen:%s", userID)
}

// Get returns the cached stats, or nil on a miss, and the generation to
// pass back to Set.
func (c *RedisStatsCache) Get(ctx context.Context, userID string) (*UsageStats, int64, error) {
	if c == nil || c.client == nil {
		return nil, 0, nil
	}
	key := statsKey(userID)

	var genCmd, dataCmd *redis.StringCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		genCmd = pipe.Get(ctx, statsGenKey(userID))
		dataCmd = pipe.Get(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}

	gen, err := parseGen(genCmd)
	if err != nil {
		return nil, 0, err
	}

	raw, err := dataCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}

	var stats UsageStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		// Stale layout; drop it and recompute.
		c.client.Del(ctx, key)
		return nil, gen, nil
	}
	return &stats, gen, nil
}

// Set writes stats unless the generation moved past gen since it was read.
func (c *RedisStatsCache) Set(ctx context.Context, userID string, gen int64, stats UsageStats) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	key := statsKey(userID)
	genKey := statsGenKey(userID)

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := parseGen(tx.Get(ctx, genKey))
		if err != nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		// Invalidated while we were writing.
		return nil
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Invalidate bumps the generation and drops the cached value.
func (c *RedisStatsCache) Invalidate(ctx context.Context, userID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, statsGenKey(userID))
		pipe.Del(ctx, statsKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate %s: %w", statsKey(userID), err)
	}
	return nil
}

func parseGen(cmd *redis.StringCmd) (int64, error) {
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %v: %w", cmd.Args()[1], err)
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing stats generation %q: %w", raw, err)
	}
	return gen, nil
}
