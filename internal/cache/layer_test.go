package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/redis"
)

func testCacheConfig() config.CacheConfig {
	cfg := config.Default().Cache
	cfg.OpTimeout = time.Second
	return cfg
}

func newTestLayer(t *testing.T) (*Layer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr(), PoolSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return New(client, testCacheConfig(), nil), mr
}

type item struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestGetOrComputeCachesValue(t *testing.T) {
	l, mr := newTestLayer(t)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (item, error) {
		calls++
		return item{Name: "a", N: calls}, nil
	}

	v, hit, err := GetOrCompute(ctx, l, "copilot:info:1", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, item{Name: "a", N: 1}, v)

	v, hit, err = GetOrCompute(ctx, l, "copilot:info:1", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, v.N)
	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists("copilot:info:1"))
}

func TestGetOrComputeStampede(t *testing.T) {
	l, _ := newTestLayer(t)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := GetOrCompute(context.Background(), l, "hot", time.Minute, compute)
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	l, mr := newTestLayer(t)
	_, _, err := GetOrCompute(context.Background(), l, "k", time.Minute, func(context.Context) (int, error) {
		return 0, errors.New("storage down")
	})
	require.Error(t, err)
	assert.False(t, mr.Exists("k"))
}

func TestCorruptPayloadIsMiss(t *testing.T) {
	l, mr := newTestLayer(t)
	require.NoError(t, mr.Set("k", "{not json"))
	v, hit, err := GetOrCompute(context.Background(), l, "k", time.Minute, func(context.Context) (item, error) {
		return item{Name: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", v.Name)
	assert.Positive(t, l.Stats().Errors)
}

func TestStoreDownFallsBackToCompute(t *testing.T) {
	l, mr := newTestLayer(t)
	mr.SetError("ERR server unavailable")
	v, hit, err := GetOrCompute(context.Background(), l, "k", time.Minute, func(context.Context) (int, error) {
		return 5, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 5, v)
	l.Set(context.Background(), "k", 1, time.Minute)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	l, mr := newTestLayer(t)
	mr.SetError("ERR server unavailable")
	for i := 0; i < testCacheConfig().BreakerFailures+1; i++ {
		_, ok := l.GetRaw(context.Background(), "k")
		assert.False(t, ok)
	}
	assert.Equal(t, "open", l.Stats().BreakerState)
}

func TestMissesDoNotTripBreaker(t *testing.T) {
	l, _ := newTestLayer(t)
	for i := 0; i < 20; i++ {
		_, ok := l.GetRaw(context.Background(), "absent")
		assert.False(t, ok)
	}
	assert.Equal(t, "closed", l.Stats().BreakerState)
	assert.EqualValues(t, 20, l.Stats().Misses)
	assert.Zero(t, l.Stats().Errors)
}

func TestBatchGetOrLoad(t *testing.T) {
	l, mr := newTestLayer(t)
	ctx := context.Background()
	key := func(id string) string { return "user:name:" + id }
	l.Set(ctx, key("u1"), "Alice", time.Minute)

	var asked []string
	got, err := BatchGetOrLoad(ctx, l, []string{"u1", "u2", "u3", "u2"}, key, time.Minute,
		func(_ context.Context, missing []string) (map[string]string, error) {
			asked = append(asked, missing...)
			return map[string]string{"u2": "Bob"}, nil
		})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2", "u3"}, asked)
	assert.Equal(t, map[string]string{"u1": "Alice", "u2": "Bob"}, got)
	assert.True(t, mr.Exists(key("u2")))
	assert.False(t, mr.Exists(key("u3")))
}

func TestSetIfAbsentAndRemoveIfEquals(t *testing.T) {
	l, _ := newTestLayer(t)
	ctx := context.Background()
	ok, err := l.SetIfAbsent(ctx, "views:1:u", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.SetIfAbsent(ctx, "views:1:u", "1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	l.SetRaw(ctx, "reset:abc", "u1", time.Minute)
	removed, err := l.RemoveIfEquals(ctx, "reset:abc", "u2")
	require.NoError(t, err)
	assert.False(t, removed)
	removed, err = l.RemoveIfEquals(ctx, "reset:abc", "u1")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestRemoveByPatternIsAsync(t *testing.T) {
	l, mr := newTestLayer(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.SetRaw(ctx, "home:hot:"+strconv.Itoa(i), "x", time.Minute)
	}
	l.SetRaw(ctx, "home:id:0", "x", time.Minute)
	l.RemoveByPattern("home:hot:*")
	l.Wait()
	assert.Len(t, mr.Keys(), 1)
	assert.EqualValues(t, 5, l.Stats().Evicted)
}

func TestCappedSortedSet(t *testing.T) {
	l, _ := newTestLayer(t)
	ctx := context.Background()
	bump := func(member string, times int) {
		for i := 0; i < times; i++ {
			require.NoError(t, l.IncrCapped(ctx, "rate:hot:copilotIds", member, 2, 1, time.Hour))
		}
	}
	bump("a", 3)
	bump("b", 2)
	bump("c", 1)
	top, err := l.TopMembers(ctx, "rate:hot:copilotIds", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, top)

	bump("d", 1)
	top, err = l.TopMembers(ctx, "rate:hot:copilotIds", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, top, "overflow trims back to the cap")
}

func TestHomePagesSelectiveInvalidation(t *testing.T) {
	l, mr := newTestLayer(t)
	h := NewHomePages(l, map[string]time.Duration{"hot": time.Hour, "views": time.Hour}, 3)
	ctx := context.Background()
	page := func(ids ...int64) func(context.Context) (*copilot.Page, error) {
		return func(context.Context) (*copilot.Page, error) {
			p := &copilot.Page{Page: 1}
			for _, id := range ids {
				p.Data = append(p.Data, copilot.Info{ID: id})
			}
			return p, nil
		}
	}
	_, hit, err := h.GetOrCompute(ctx, "hot", "fp", page(1, 2))
	require.NoError(t, err)
	assert.False(t, hit)
	_, _, err = h.GetOrCompute(ctx, "views", "fp", page(3))
	require.NoError(t, err)

	_, hit, err = h.GetOrCompute(ctx, "hot", "fp", page(9))
	require.NoError(t, err)
	assert.True(t, hit)

	assert.Equal(t, []string{"hot"}, h.InvalidateRecord(ctx, 2))
	l.Wait()
	assert.False(t, mr.Exists(PageKey("hot", "fp")))
	assert.False(t, mr.Exists(TrackedSetKey("hot")))
	assert.True(t, mr.Exists(PageKey("views", "fp")))

	assert.Empty(t, h.InvalidateRecord(ctx, 42))
}

func TestHomePagesCacheable(t *testing.T) {
	l, _ := newTestLayer(t)
	h := NewHomePages(l, config.Default().Search.HomeOrderings, 3)
	assert.True(t, h.Cacheable("hot", 3))
	assert.False(t, h.Cacheable("hot", 4))
	assert.False(t, h.Cacheable("rating", 1))
	assert.Equal(t, []string{"hot", "id", "views"}, h.Orderings())
	assert.Error(t, h.InvalidateOrdering("rating"))
}
