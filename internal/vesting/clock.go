package vesting

import (
	"context"
	"sync"
	"time"
)

// Clock supplies the current unix time in seconds.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

// SystemClock reads the host wall clock.
type SystemClock struct{}

// Now returns time.Now() in unix seconds.
func (SystemClock) Now(context.Context) (int64, error) {
	return time.Now().Unix(), nil
}

// FixedClock returns a settable instant. Safe for concurrent use.
type FixedClock struct {
	mu  sync.Mutex
	now int64
}

// NewFixedClock creates a FixedClock set to now.
func NewFixedClock(now int64) *FixedClock {
	return &FixedClock{now: now}
}

// Now returns the current setting.
func (c *FixedClock) Now(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, nil
}

// Set moves the clock to now.
func (c *FixedClock) Set(now int64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by seconds.
func (c *FixedClock) Advance(seconds int64) {
	c.mu.Lock()
	c.now += seconds
	c.mu.Unlock()
}
