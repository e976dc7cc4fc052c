package domain

import (
	"sync/atomic"
	"time"
)

// MonotonicClock hands out wall-clock times that strictly increase across
// calls, so activity records emitted by one process sort in emission order.
type MonotonicClock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewMonotonicClock wraps now; nil means time.Now.
func NewMonotonicClock(now func() time.Time) *MonotonicClock {
	if now == nil {
		now = time.Now
	}
	return &MonotonicClock{now: now}
}

// Now returns the current time, nudged forward by a nanosecond when the
// underlying clock has not advanced since the previous call.
func (c *MonotonicClock) Now() time.Time {
	for {
		now := c.now().UTC().UnixNano()
		last := c.last.Load()
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return time.Unix(0, now).UTC()
		}
	}
}
