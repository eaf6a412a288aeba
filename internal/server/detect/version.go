package detect

import (
	"sync/atomic"
	"time"
)

// VersionClock hands out versions derived from wall-clock milliseconds that
// are still strictly increasing when calls land in the same millisecond or
// the clock steps backwards.
type VersionClock struct {
	last atomic.Int64
	now  func() time.Time
}

func NewVersionClock(now func() time.Time) *VersionClock {
	if now == nil {
		now = time.Now
	}
	return &VersionClock{now: now}
}

func (c *VersionClock) Next() int64 {
	for {
		prev := c.last.Load()
		v := c.now().UnixMilli()
		if v <= prev {
			v = prev + 1
		}
		if c.last.CompareAndSwap(prev, v) {
			return v
		}
	}
}

// Observe makes later versions exceed v, e.g. after restoring results
// written by an earlier process.
func (c *VersionClock) Observe(v int64) {
	for {
		prev := c.last.Load()
		if v <= prev || c.last.CompareAndSwap(prev, v) {
			return
		}
	}
}
