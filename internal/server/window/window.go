// Package window aggregates access reports into a fixed ring of time slots
// per application.
package window

import (
	"maps"
	"math"
	"sync"
	"time"
)

// AccessReport is one aggregated count for a key over a client sampling
// interval.
type AccessReport struct {
	AppName         string
	Key             string
	TimestampMillis int64
	Success         bool
	RTMillis        int64
	Count           int64
}

// AggregatedKeyStat is replaced on every update, never changed in place,
// so copies handed out by snapshots are never torn.
type AggregatedKeyStat struct {
	Key           string
	TotalCount    int64
	SuccessCount  int64
	FailCount     int64
	TotalRTMillis int64
}

func (s AggregatedKeyStat) add(r AccessReport) AggregatedKeyStat {
	s.Key = r.Key
	s.TotalCount += r.Count
	if r.Success {
		s.SuccessCount += r.Count
	} else {
		s.FailCount += r.Count
	}
	s.TotalRTMillis += r.RTMillis * r.Count
	return s
}

func (s AggregatedKeyStat) merge(o AggregatedKeyStat) AggregatedKeyStat {
	if s.Key == "" {
		s.Key = o.Key
	}
	s.TotalCount += o.TotalCount
	s.SuccessCount += o.SuccessCount
	s.FailCount += o.FailCount
	s.TotalRTMillis += o.TotalRTMillis
	return s
}

func (s AggregatedKeyStat) AvgRTMillis() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.TotalRTMillis) / float64(s.TotalCount)
}

const unusedSlot = math.MinInt64

type slot struct {
	mu    sync.Mutex
	start int64
	stats map[string]AggregatedKeyStat
}

// SlidingWindow keeps N slots of size each. Slots are found by start time,
// not position; a new start recycles the slot with the oldest one.
type SlidingWindow struct {
	size  int64
	slots []*slot

	// resolving or recycling a slot
	mu sync.Mutex

	now func() time.Time
}

func New(size time.Duration, n int) *SlidingWindow {
	if size < time.Millisecond {
		size = time.Second
	}
	if n <= 0 {
		n = 30
	}
	w := &SlidingWindow{size: size.Milliseconds(), slots: make([]*slot, n), now: time.Now}
	for i := range w.slots {
		w.slots[i] = &slot{start: unusedSlot, stats: map[string]AggregatedKeyStat{}}
	}
	return w
}

// SetClock replaces the time source, for tests and shared clocks.
func (w *SlidingWindow) SetClock(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// Span is the total history the window covers.
func (w *SlidingWindow) Span() time.Duration {
	return time.Duration(w.size*int64(len(w.slots))) * time.Millisecond
}

func (w *SlidingWindow) align(ms int64) int64 {
	return ms - ms%w.size
}

// Add folds r into the slot for the current time.
func (w *SlidingWindow) Add(r AccessReport) {
	if r.Key == "" || r.Count <= 0 {
		return
	}
	for {
		start := w.align(w.now().UnixMilli())
		s := w.resolve(start)
		s.mu.Lock()
		if s.start != start {
			// recycled between resolve and lock
			s.mu.Unlock()
			continue
		}
		s.stats[r.Key] = s.stats[r.Key].add(r)
		s.mu.Unlock()
		return
	}
}

// start is written only while holding both w.mu and the slot lock, so
// reading it under w.mu alone is safe.
func (w *SlidingWindow) resolve(start int64) *slot {
	w.mu.Lock()
	defer w.mu.Unlock()

	var oldest *slot
	for _, s := range w.slots {
		if s.start == start {
			return s
		}
		if oldest == nil || s.start < oldest.start {
			oldest = s
		}
	}

	oldest.mu.Lock()
	oldest.start = start
	oldest.stats = map[string]AggregatedKeyStat{}
	oldest.mu.Unlock()
	return oldest
}

func (w *SlidingWindow) bounds() (lo, hi int64) {
	hi = w.align(w.now().UnixMilli())
	lo = hi - int64(len(w.slots)-1)*w.size
	return lo, hi
}

// SnapshotForKey sums key's stats over the live slots.
func (w *SlidingWindow) SnapshotForKey(key string) AggregatedKeyStat {
	lo, hi := w.bounds()
	out := AggregatedKeyStat{Key: key}
	for _, s := range w.slots {
		s.mu.Lock()
		st, ok := s.stats[key]
		live := s.start >= lo && s.start <= hi
		s.mu.Unlock()
		if ok && live {
			out = out.merge(st)
		}
	}
	return out
}

// Snapshot sums every key's stats over the live slots.
func (w *SlidingWindow) Snapshot() map[string]AggregatedKeyStat {
	lo, hi := w.bounds()
	out := map[string]AggregatedKeyStat{}
	for _, s := range w.slots {
		s.mu.Lock()
		if s.start < lo || s.start > hi {
			s.mu.Unlock()
			continue
		}
		cp := maps.Clone(s.stats)
		s.mu.Unlock()

		for k, v := range cp {
			out[k] = out[k].merge(v)
		}
	}
	return out
}
