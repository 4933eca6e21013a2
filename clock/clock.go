// Package clock implements the "global clock" from spec.md §5: a single
// timer goroutine updates a process-wide monotonic seconds counter once
// per second, and every timestamp in the system (item expiry, connection
// idle time, oldest_live) is relative to it rather than to wall-clock
// time, for the same reasons the original gives: space savings and
// immunity to wall-clock jumps.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is a process-wide relative-seconds clock.
type Clock struct {
	seconds int64
	stop    chan struct{}
	done    chan struct{}
}

// New builds a Clock starting at 0. Call Run to start ticking.
func New() *Clock {
	return &Clock{stop: make(chan struct{}), done: make(chan struct{})}
}

// Now returns seconds elapsed since the Clock was started.
func (c *Clock) Now() int64 { return atomic.LoadInt64(&c.seconds) }

// Run starts the one-second ticker. It returns once Stop is called.
func (c *Clock) Run() {
	defer close(c.done)
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			atomic.AddInt64(&c.seconds, 1)
		case <-c.stop:
			return
		}
	}
}

// Stop halts the ticker goroutine and waits for Run to return.
func (c *Clock) Stop() {
	close(c.stop)
	<-c.done
}
