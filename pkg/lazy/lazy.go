// Package lazy provides a retry-on-failure, compute-once value.
//
// The first caller of Get starts the computation; concurrent callers wait for
// the same result. A successful result is kept forever. A failed computation
// is forgotten so the next Get starts a fresh attempt.
package lazy

import (
	"context"
	"sync/atomic"
)

type promise[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Future memoizes the result of fn. The zero value is not usable; call New.
type Future[T any] struct {
	fn  func(ctx context.Context) (T, error)
	cur atomic.Pointer[promise[T]]
}

// New returns a Future that computes its value with fn on first use.
func New[T any](fn func(ctx context.Context) (T, error)) *Future[T] {
	return &Future[T]{fn: fn}
}

// Get returns the computed value, starting the computation if none is in
// flight. ctx bounds only the wait: cancelling it does not abort a
// computation other callers may still be waiting on.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	p := f.cur.Load()
	for p == nil {
		fresh := &promise[T]{done: make(chan struct{})}
		if f.cur.CompareAndSwap(nil, fresh) {
			p = fresh
			go f.run(fresh)
			break
		}
		p = f.cur.Load()
	}
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Ready reports whether a successful value is available without blocking.
func (f *Future[T]) Ready() bool {
	p := f.cur.Load()
	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return p.err == nil
	default:
		return false
	}
}

func (f *Future[T]) run(p *promise[T]) {
	defer close(p.done)
	p.val, p.err = f.fn(context.Background())
	if p.err != nil {
		f.cur.CompareAndSwap(p, nil)
	}
}
