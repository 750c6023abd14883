package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order, on the goroutine that called Advance. Callbacks may schedule
// new timers but must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	fn       func()
	done     bool
}

// Fake returns a FakeClock starting at the given instant.
func Fake(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock has advanced by d. A
// non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ft := &fakeTimer{deadline: c.now.Add(d), fn: f}
	c.pending = append(c.pending, ft)
	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.done {
			return false
		}
		ft.done = true
		return true
	}}
}

// Advance moves the clock forward by d and fires every timer whose
// deadline has been reached, including timers scheduled by callbacks
// fired during this call.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.collectDue(target)
		if len(due) == 0 {
			return
		}
		for _, ft := range due {
			ft.fn()
		}
	}
}

func (c *FakeClock) collectDue(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, remaining []*fakeTimer
	for _, ft := range c.pending {
		switch {
		case ft.done:
		case !ft.deadline.After(target):
			ft.done = true
			due = append(due, ft)
		default:
			remaining = append(remaining, ft)
		}
	}
	c.pending = remaining
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	return due
}

// PendingCount returns the number of timers that have neither fired nor
// been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, ft := range c.pending {
		if !ft.done {
			count++
		}
	}
	return count
}
