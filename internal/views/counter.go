// Package views counts record views once per visitor per window and writes
// the increments to storage in periodic batches.
package views

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/metrics"
)

// Sink persists accumulated view deltas.
type Sink interface {
	IncrementViews(ctx context.Context, deltas map[int64]int64) error
}

// SeenKey is the marker that suppresses repeat views of id by visitor.
func SeenKey(id int64, visitor string) string {
	return fmt.Sprintf("views:%d:%s", id, visitor)
}

// Counter buffers view increments in memory. Increments still buffered when
// the process dies are lost.
type Counter struct {
	layer    *cache.Layer
	sink     Sink
	window   time.Duration
	interval time.Duration
	max      int
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[int64]int64
	dropped int64
	done    chan struct{}
}

func NewCounter(layer *cache.Layer, sink Sink, cfg config.ViewsConfig, m *metrics.Metrics) *Counter {
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = 10000
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Counter{
		layer:    layer,
		sink:     sink,
		window:   cfg.DedupWindow,
		interval: interval,
		max:      maxPending,
		metrics:  m,
		logger:   slog.Default().With("component", "view-counter"),
		pending:  make(map[int64]int64),
		done:     make(chan struct{}),
	}
}

// Visit counts one view of id by visitor unless the visitor was already
// counted within the window. It never blocks on storage. The return value
// reports whether the view was counted.
func (c *Counter) Visit(ctx context.Context, id int64, visitor string) bool {
	first, err := c.layer.SetIfAbsent(ctx, SeenKey(id, visitor), "1", c.window)
	if err != nil || !first {
		return false
	}
	return c.add(id, 1)
}

func (c *Counter) add(id int64, n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok && len(c.pending) >= c.max {
		c.dropped += n
		return false
	}
	c.pending[id] += n
	return true
}

// Pending returns the buffered delta for id.
func (c *Counter) Pending(id int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[id]
}

// Start launches the flush loop. It stops when ctx is cancelled, after one
// last flush.
func (c *Counter) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("view counter started", "flush_interval", c.interval, "max_pending", c.max)
}

// Close waits for the flush loop started by Start to finish.
func (c *Counter) Close() {
	<-c.done
}

// Flush writes every buffered delta. On failure the deltas go back into the
// buffer, as far as it has room.
func (c *Counter) Flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = make(map[int64]int64, len(batch))
	dropped := c.dropped
	c.dropped = 0
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Warn("view buffer full, increments dropped", "dropped", dropped)
	}

	if err := c.sink.IncrementViews(ctx, batch); err != nil {
		c.logger.Error("view flush failed", "records", len(batch), "error", err)
		for id, n := range batch {
			c.add(id, n)
		}
		return
	}
	var total int64
	for _, n := range batch {
		total += n
	}
	c.metrics.ViewsFlushed(total)
	c.logger.Debug("views flushed", "records", len(batch), "views", total)
}
