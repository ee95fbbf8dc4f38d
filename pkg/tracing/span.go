// Package tracing times the phases of one request as a tree of spans carried
// through the context. Spans are only reported through slog; nothing is
// exported to a collector.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// Span is one timed phase. A span with no parent is the root of its trace.
type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    []any
}

// Start opens a root span and stores it in the returned context.
func Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, Start: time.Now()}
	return context.WithValue(ctx, contextKey{}, s), s
}

// StartChild opens a span under the one in ctx. Without a parent in ctx the
// child is detached and never reported.
func StartChild(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

// End fixes the span's duration and returns it.
func (s *Span) End() time.Duration {
	s.Duration = time.Since(s.Start)
	return s.Duration
}

// SetAttr attaches a key-value pair reported with the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// Phases returns the durations of the direct children by name. Repeated
// names are summed.
func (s *Span) Phases() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Duration, len(s.children))
	for _, c := range s.children {
		out[c.Name] += c.Duration
	}
	return out
}

// Log writes the span as one record, with each direct child's duration as a
// <name>_ms attribute.
func (s *Span) Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string) {
	attrs := []any{"trace_id", s.TraceID, "span", s.Name, "duration_ms", s.Duration.Milliseconds()}
	for name, d := range s.Phases() {
		attrs = append(attrs, name+"_ms", d.Milliseconds())
	}
	s.mu.Lock()
	attrs = append(attrs, s.attrs...)
	s.mu.Unlock()
	logger.Log(ctx, level, msg, attrs...)
}
