// Package idgen allocates record ids per kind from a counter shared by every
// service instance. Each instance seeds a floor from storage once, behind a
// lazy future, and draws ids from the shared counter raised to that floor,
// so instances started against the same database never hand out the same
// id.
package idgen

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/lazy"
)

// Seeder returns the highest id already used by a kind.
type Seeder func(ctx context.Context) (int64, error)

// Counter is the shared sequence. IncrFrom raises key to at least floor and
// returns the incremented value. *cache.Layer implements it over redis.
type Counter interface {
	IncrFrom(ctx context.Context, key string, floor int64) (int64, error)
}

// Key is the counter key of kind.
func Key(kind string) string {
	return "idgen:" + kind
}

type kindState struct {
	seed  Seeder
	floor *lazy.Future[*atomic.Int64]
}

// Allocator hands out ids for registered kinds.
type Allocator struct {
	counter Counter
	min     int64
	logger  *slog.Logger

	mu    sync.RWMutex
	kinds map[string]*kindState
}

// New returns an allocator drawing from counter whose ids never start below
// floor.
func New(counter Counter, floor int64) *Allocator {
	return &Allocator{
		counter: counter,
		min:     floor,
		logger:  slog.Default().With("component", "idgen"),
		kinds:   make(map[string]*kindState),
	}
}

// Register adds a kind. Registering the same kind twice replaces the seeder
// only if the kind has not been used yet.
func (a *Allocator) Register(kind string, seed Seeder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if k, ok := a.kinds[kind]; ok && k.floor.Ready() {
		return
	}
	k := &kindState{seed: seed}
	k.floor = lazy.New(func(ctx context.Context) (*atomic.Int64, error) {
		start, err := a.load(ctx, kind, seed)
		if err != nil {
			return nil, err
		}
		v := &atomic.Int64{}
		v.Store(start)
		return v, nil
	})
	a.kinds[kind] = k
}

func (a *Allocator) load(ctx context.Context, kind string, seed Seeder) (int64, error) {
	maxID, err := seed(ctx)
	if err != nil {
		return 0, fmt.Errorf("seeding id allocator for %s: %w", kind, err)
	}
	start := max(maxID, a.min)
	a.logger.Info("id floor seeded", "kind", kind, "floor", start)
	return start, nil
}

func (a *Allocator) state(kind string) (*kindState, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	k, ok := a.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("id kind %q is not registered", kind)
	}
	return k, nil
}

// Next returns the next id for kind. A failed seed is retried on the next
// call; a counter failure is returned as is.
func (a *Allocator) Next(ctx context.Context, kind string) (int64, error) {
	k, err := a.state(kind)
	if err != nil {
		return 0, err
	}
	floor, err := k.floor.Get(ctx)
	if err != nil {
		return 0, err
	}
	id, err := a.counter.IncrFrom(ctx, Key(kind), floor.Load())
	if err != nil {
		return 0, fmt.Errorf("drawing %s id: %w", kind, err)
	}
	return id, nil
}

// Reseed reloads the floor of kind from storage. Callers use it after an id
// turned out to be taken, which happens when the shared counter was lost
// and restarted from a stale floor.
func (a *Allocator) Reseed(ctx context.Context, kind string) error {
	k, err := a.state(kind)
	if err != nil {
		return err
	}
	floor, err := k.floor.Get(ctx)
	if err != nil {
		return err
	}
	start, err := a.load(ctx, kind, k.seed)
	if err != nil {
		return err
	}
	for {
		cur := floor.Load()
		if start <= cur || floor.CompareAndSwap(cur, start) {
			return nil
		}
	}
}

// EnsureSeeded forces the seed query for every registered kind.
func (a *Allocator) EnsureSeeded(ctx context.Context) error {
	a.mu.RLock()
	kinds := make(map[string]*kindState, len(a.kinds))
	for name, k := range a.kinds {
		kinds[name] = k
	}
	a.mu.RUnlock()
	for name, k := range kinds {
		if _, err := k.floor.Get(ctx); err != nil {
			return fmt.Errorf("kind %s: %w", name, err)
		}
	}
	return nil
}

// Local is an in-process Counter for single-instance runs and tests.
type Local struct {
	mu   sync.Mutex
	vals map[string]int64
}

func NewLocal() *Local {
	return &Local{vals: make(map[string]int64)}
}

func (l *Local) IncrFrom(_ context.Context, key string, floor int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := max(l.vals[key], floor) + 1
	l.vals[key] = v
	return v, nil
}

// Reset forgets every counter, as a flushed redis would.
func (l *Local) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.vals)
}
