// Package redis provides a thin wrapper around go-redis/v9 with connection
// pooling, string/set/sorted-set operations, Lua-backed atomic helpers and
// pattern-based key invalidation.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
	"github.com/redis/go-redis/v9"
)

// incrCappedScript increments a sorted-set member and keeps the set between
// size and size+slack members, trimming the lowest scores once it overflows.
var incrCappedScript = redis.NewScript(`
local card
redis.call('ZINCRBY', KEYS[1], ARGV[2], ARGV[1])
card = redis.call('ZCARD', KEYS[1])
local size = tonumber(ARGV[3])
local slack = tonumber(ARGV[4])
if card > size + slack then
	redis.call('ZREMRANGEBYRANK', KEYS[1], 0, card - size - 1)
end
local ttl = tonumber(ARGV[5])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
end
return card
`)

// compareAndDeleteScript deletes KEYS[1] only when it currently holds ARGV[1].
var compareAndDeleteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// incrFromScript raises KEYS[1] to at least ARGV[1], then increments it, so
// every caller sharing the key draws ids above the same floor.
var incrFromScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if cur < floor then
	redis.call('SET', KEYS[1], floor)
end
return redis.call('INCR', KEYS[1])
`)

// Client wraps a go-redis client.
type Client struct {
	rdb           *redis.Client
	unlinkMissing atomic.Bool
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the string value for the given key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// MGet fetches several keys in one round trip. Missing keys are reported as
// false in the parallel found slice.
func (c *Client) MGet(ctx context.Context, keys ...string) (values []string, found []bool, err error) {
	if len(keys) == 0 {
		return nil, nil, nil
	}
	raw, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}
	values = make([]string, len(raw))
	found = make([]bool, len(raw))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			values[i] = s
			found[i] = true
		}
	}
	return values, found, nil
}

// Set stores a value with the given TTL. A zero TTL means no expiry.
func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// SetMany stores several values with a shared TTL in one pipeline.
func (c *Client) SetMany(ctx context.Context, values map[string]string, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range values {
			pipe.Set(ctx, key, value, ttl)
		}
		return nil
	})
	return err
}

// SetNX stores the value only if the key does not exist yet.
func (c *Client) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Del removes keys, preferring the non-blocking UNLINK when the server has it.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if !c.unlinkMissing.Load() {
		err := c.rdb.Unlink(ctx, keys...).Err()
		if err == nil || !isUnknownCommand(err) {
			return err
		}
		c.unlinkMissing.Store(true)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// SAdd adds members to a set and refreshes its TTL.
func (c *Client) SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, args...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// SIsMember reports whether member belongs to the set at key.
func (c *Client) SIsMember(ctx context.Context, key string, member string) (bool, error) {
	return c.rdb.SIsMember(ctx, key, member).Result()
}

// CompareAndDelete atomically deletes key if its value equals expected.
func (c *Client) CompareAndDelete(ctx context.Context, key string, expected string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, c.rdb, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrFrom increments the counter at key after raising it to floor.
func (c *Client) IncrFrom(ctx context.Context, key string, floor int64) (int64, error) {
	return incrFromScript.Run(ctx, c.rdb, []string{key}, floor).Int64()
}

// ZIncrCapped increments member's score by inc and trims the set back to
// size members once it grows beyond size+slack. ttl refreshes the key expiry.
func (c *Client) ZIncrCapped(ctx context.Context, key, member string, inc float64, size, slack int64, ttl time.Duration) error {
	return incrCappedScript.Run(ctx, c.rdb, []string{key},
		member, inc, size, slack, int64(ttl/time.Second),
	).Err()
}

// ZRevRange returns members ordered from highest to lowest score.
func (c *Client) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.ZRevRange(ctx, key, start, stop).Result()
}

// FlushByPattern scans for keys matching the glob pattern and deletes them in
// batches, returning the number of keys removed. Keys written concurrently
// may survive.
func (c *Client) FlushByPattern(ctx context.Context, pattern string, batch int64) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	var deleted int64
	pending := make([]string, 0, batch)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := c.Del(ctx, pending...); err != nil {
			return fmt.Errorf("deleting %d keys: %w", len(pending), err)
		}
		deleted += int64(len(pending))
		pending = pending[:0]
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, pattern, batch).Iterator()
	for iter.Next(ctx) {
		pending = append(pending, iter.Val())
		if int64(len(pending)) >= batch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scanning pattern %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// IsNilError reports whether err is a Redis nil (key-not-found) error.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func isUnknownCommand(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown command") || strings.Contains(msg, "not support")
}
