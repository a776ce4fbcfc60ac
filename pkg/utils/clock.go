package utils

import (
	"sync"
	"time"
)

// Clock abstracts time so polling loops and room expiry can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// InstantClock advances its own notion of time on every After call and fires
// immediately. Waits are counted.
type InstantClock struct {
	mu    sync.Mutex
	now   time.Time
	waits int
}

func NewInstantClock(start time.Time) *InstantClock {
	return &InstantClock{now: start}
}

func (c *InstantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *InstantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.waits++
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the clock forward without counting a wait.
func (c *InstantClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Waits reports how many times After was called.
func (c *InstantClock) Waits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waits
}
