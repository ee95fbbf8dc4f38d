package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestLimiter(limit int, window time.Duration) (*Limiter, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(limit, window)
	l.now = c.now
	return l, c
}

func TestAllowUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("a"), "request %d", i)
	}
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")
}

func TestRefill(t *testing.T) {
	l, c := newTestLimiter(2, time.Minute)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	c.t = c.t.Add(30 * time.Second)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	c.t = c.t.Add(time.Hour)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "refill is capped at the limit")
}

func TestSweep(t *testing.T) {
	l, c := newTestLimiter(1, time.Minute)
	l.Allow("a")
	c.t = c.t.Add(time.Minute)
	l.Allow("b")
	c.t = c.t.Add(90 * time.Second)
	l.Sweep()
	assert.Equal(t, 1, l.Len())
}

func TestRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(60, time.Minute)
	assert.Equal(t, time.Second, l.RetryAfter())
}
