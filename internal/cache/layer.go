// Package cache is the read-through/write-around cache over the Redis
// client. Transport and codec failures never reach callers: reads degrade
// to misses and writes are logged and dropped. A circuit breaker stops
// calling an unhealthy store until its reset timeout passes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/resilience"
)

// Store is the key-value protocol the layer needs. *pkgredis.Client
// implements it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	MGet(ctx context.Context, keys ...string) ([]string, []bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	SetMany(ctx context.Context, values map[string]string, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SIsMember(ctx context.Context, key string, member string) (bool, error)
	CompareAndDelete(ctx context.Context, key string, expected string) (bool, error)
	ZIncrCapped(ctx context.Context, key, member string, inc float64, size, slack int64, ttl time.Duration) error
	IncrFrom(ctx context.Context, key string, floor int64) (int64, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	FlushByPattern(ctx context.Context, pattern string, batch int64) (int64, error)
}

var _ Store = (*pkgredis.Client)(nil)

// errMiss marks a clean miss so the breaker does not count it.
var errMiss = errors.New("cache miss")

// Stats is a point-in-time view of the layer's counters.
type Stats struct {
	Hits         int64  `json:"hits"`
	Misses       int64  `json:"misses"`
	Errors       int64  `json:"errors"`
	Computes     int64  `json:"computes"`
	Evicted      int64  `json:"evicted"`
	BreakerState string `json:"breaker_state"`
}

// Layer is safe for concurrent use.
type Layer struct {
	store     Store
	breaker   *resilience.CircuitBreaker
	group     singleflight.Group
	opTimeout time.Duration
	scanBatch int64
	metrics   *metrics.Metrics
	logger    *slog.Logger
	pending   sync.WaitGroup

	hits     atomic.Int64
	misses   atomic.Int64
	errs     atomic.Int64
	computes atomic.Int64
	evicted  atomic.Int64
}

func New(store Store, cfg config.CacheConfig, m *metrics.Metrics) *Layer {
	return &Layer{
		store: store,
		breaker: resilience.NewCircuitBreaker("cache", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.BreakerFailures,
			ResetTimeout:     cfg.BreakerReset,
			IsFailure: func(err error) bool {
				return err != nil && !errors.Is(err, errMiss) && !errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, _, to resilience.State) {
				m.BreakerChanged(name, int(to))
			},
		}),
		opTimeout: cfg.OpTimeout,
		scanBatch: cfg.ScanBatch,
		metrics:   m,
		logger:    slog.Default().With("component", "cache"),
	}
}

// do runs one store call under the op timeout and the breaker.
func (l *Layer) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := l.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, l.opTimeout, "cache "+op, fn)
	})
	if err != nil && !errors.Is(err, errMiss) {
		l.errs.Add(1)
		l.metrics.CacheError(op)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			l.logger.Debug("cache skipped, circuit open", "op", op)
		} else {
			l.logger.Warn("cache operation failed", "op", op, "error", err)
		}
	}
	return err
}

func namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

func (l *Layer) hit(key string) {
	l.hits.Add(1)
	l.metrics.CacheHit(namespace(key))
}

func (l *Layer) miss(key string) {
	l.misses.Add(1)
	l.metrics.CacheMiss(namespace(key))
}

// GetRaw returns the stored string. Any failure is reported as a miss.
func (l *Layer) GetRaw(ctx context.Context, key string) (string, bool) {
	var val string
	err := l.do(ctx, "get", func(ctx context.Context) error {
		v, err := l.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return errMiss
		}
		val = v
		return err
	})
	if err != nil {
		l.miss(key)
		return "", false
	}
	l.hit(key)
	return val, true
}

// Get decodes the JSON value at key. Undecodable payloads are misses.
func Get[T any](ctx context.Context, l *Layer, key string) (T, bool) {
	var out T
	raw, ok := l.GetRaw(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		l.errs.Add(1)
		l.metrics.CacheError("decode")
		l.logger.Warn("cache payload undecodable, treating as miss", "key", key, "error", err)
		var zero T
		return zero, false
	}
	return out, true
}

// Set JSON-encodes v and stores it. Failures are logged and dropped.
func (l *Layer) Set(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		l.errs.Add(1)
		l.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	l.SetRaw(ctx, key, string(data), ttl)
}

func (l *Layer) SetRaw(ctx context.Context, key, value string, ttl time.Duration) {
	_ = l.do(ctx, "set", func(ctx context.Context) error {
		return l.store.Set(ctx, key, value, ttl)
	})
}

// GetOrCompute returns the cached value at key, or computes, stores and
// returns it. Concurrent misses on the same key share one computation, and
// the cache is re-checked inside the flight before computing. Compute runs
// detached from the first caller's cancellation so one impatient caller
// cannot fail the others; each caller still stops waiting when its own ctx
// ends. The second return value reports a cache hit.
func GetOrCompute[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, bool, error) {
	if v, ok := Get[T](ctx, l, key); ok {
		return v, true, nil
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		if v, ok := Get[T](flightCtx, l, key); ok {
			return cached[T]{val: v}, nil
		}
		l.computes.Add(1)
		v, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		l.Set(flightCtx, key, v, ttl)
		return computed[T]{val: v}, nil
	})
	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		switch r := res.Val.(type) {
		case cached[T]:
			return r.val, true, nil
		case computed[T]:
			return r.val, false, nil
		}
		return zero, false, fmt.Errorf("cache flight for %s returned %T", key, res.Val)
	}
}

type cached[T any] struct{ val T }

type computed[T any] struct{ val T }

// BatchGetOrLoad resolves every key through the cache in one MGET, loads all
// misses with a single call to load, and back-fills the cache with what was
// loaded. Keys that load does not return are absent from the result.
func BatchGetOrLoad[K comparable, V any](
	ctx context.Context,
	l *Layer,
	keys []K,
	cacheKey func(K) string,
	ttl time.Duration,
	load func(ctx context.Context, missing []K) (map[K]V, error),
) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	uniq := make([]K, 0, len(keys))
	seen := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			uniq = append(uniq, k)
		}
	}
	ckeys := make([]string, len(uniq))
	for i, k := range uniq {
		ckeys[i] = cacheKey(k)
	}

	var values []string
	var found []bool
	err := l.do(ctx, "mget", func(ctx context.Context) error {
		var err error
		values, found, err = l.store.MGet(ctx, ckeys...)
		return err
	})
	missing := make([]K, 0, len(uniq))
	for i, k := range uniq {
		if err == nil && found[i] {
			var v V
			if jerr := json.Unmarshal([]byte(values[i]), &v); jerr == nil {
				out[k] = v
				l.hit(ckeys[i])
				continue
			}
		}
		l.miss(ckeys[i])
		missing = append(missing, k)
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := load(ctx, missing)
	if err != nil {
		return out, err
	}
	fill := make(map[string]string, len(loaded))
	for k, v := range loaded {
		out[k] = v
		data, merr := json.Marshal(v)
		if merr != nil {
			continue
		}
		fill[cacheKey(k)] = string(data)
	}
	_ = l.do(ctx, "setmany", func(ctx context.Context) error {
		return l.store.SetMany(ctx, fill, ttl)
	})
	return out, nil
}

// SetIfAbsent stores value only if key is unset and reports whether it did.
func (l *Layer) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var set bool
	err := l.do(ctx, "setnx", func(ctx context.Context) error {
		var err error
		set, err = l.store.SetNX(ctx, key, value, ttl)
		return err
	})
	return set, err
}

// IncrFrom increments the counter at key, never returning a value at or
// below floor. Unlike reads, a failure is returned rather than degraded.
func (l *Layer) IncrFrom(ctx context.Context, key string, floor int64) (int64, error) {
	var n int64
	err := l.do(ctx, "incr", func(ctx context.Context) error {
		var err error
		n, err = l.store.IncrFrom(ctx, key, floor)
		return err
	})
	return n, err
}

// AddToSet adds members to the set at key and refreshes its TTL.
func (l *Layer) AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) {
	if len(members) == 0 {
		return
	}
	_ = l.do(ctx, "sadd", func(ctx context.Context) error {
		return l.store.SAdd(ctx, key, ttl, members...)
	})
}

// IsMember reports set membership. The error is returned so callers can pick
// the safe side when the store is unreachable.
func (l *Layer) IsMember(ctx context.Context, key, member string) (bool, error) {
	var ok bool
	err := l.do(ctx, "sismember", func(ctx context.Context) error {
		var err error
		ok, err = l.store.SIsMember(ctx, key, member)
		return err
	})
	return ok, err
}

// Remove deletes keys.
func (l *Layer) Remove(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	_ = l.do(ctx, "del", func(ctx context.Context) error {
		return l.store.Del(ctx, keys...)
	})
}

// RemoveIfEquals deletes key only while it still holds expected.
func (l *Layer) RemoveIfEquals(ctx context.Context, key, expected string) (bool, error) {
	var removed bool
	err := l.do(ctx, "cad", func(ctx context.Context) error {
		var err error
		removed, err = l.store.CompareAndDelete(ctx, key, expected)
		return err
	})
	return removed, err
}

// RemoveByPattern evicts matching keys in the background. It gives no
// ordering guarantee against concurrent writers.
func (l *Layer) RemoveByPattern(pattern string) {
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := l.SyncRemoveByPattern(ctx, pattern); err != nil {
			l.logger.Warn("background pattern eviction failed", "pattern", pattern, "error", err)
		}
	}()
}

// SyncRemoveByPattern evicts matching keys and returns how many went. It is
// not bound by the per-op timeout since a scan may walk many keys.
func (l *Layer) SyncRemoveByPattern(ctx context.Context, pattern string) (int64, error) {
	var n int64
	err := l.breaker.Execute(func() error {
		var err error
		n, err = l.store.FlushByPattern(ctx, pattern, l.scanBatch)
		return err
	})
	l.evicted.Add(n)
	if err != nil {
		l.errs.Add(1)
		l.metrics.CacheError("flush")
		return n, fmt.Errorf("evicting %s: %w", pattern, err)
	}
	l.logger.Info("cache keys evicted", "pattern", pattern, "keys", n)
	return n, nil
}

// IncrCapped bumps member in a sorted set bounded to size+slack members.
func (l *Layer) IncrCapped(ctx context.Context, key, member string, size, slack int64, ttl time.Duration) error {
	return l.do(ctx, "zincr", func(ctx context.Context) error {
		return l.store.ZIncrCapped(ctx, key, member, 1, size, slack, ttl)
	})
}

// TopMembers returns up to n members with the highest scores.
func (l *Layer) TopMembers(ctx context.Context, key string, n int64) ([]string, error) {
	var out []string
	err := l.do(ctx, "zrevrange", func(ctx context.Context) error {
		var err error
		out, err = l.store.ZRevRange(ctx, key, 0, n-1)
		return err
	})
	return out, err
}

func (l *Layer) Stats() Stats {
	return Stats{
		Hits:         l.hits.Load(),
		Misses:       l.misses.Load(),
		Errors:       l.errs.Load(),
		Computes:     l.computes.Load(),
		Evicted:      l.evicted.Load(),
		BreakerState: l.breaker.GetState().String(),
	}
}

// Wait blocks until background evictions started so far have finished.
func (l *Layer) Wait() {
	l.pending.Wait()
}
