package detect

import (
	"sync"
	"testing"
	"time"
)

func TestVersionClock_MonotonicUnderBackwardsStep(t *testing.T) {
	fc := &fakeClock{now: time.UnixMilli(1000)}
	c := NewVersionClock(fc.Now)

	a := c.Next()
	fc.Add(-500 * time.Millisecond)
	b := c.Next()
	if a != 1000 || b != 1001 {
		t.Fatalf("got %d, %d want 1000, 1001", a, b)
	}
	fc.Add(time.Second)
	if v := c.Next(); v != 1500 {
		t.Fatalf("clock-derived version=%d want 1500", v)
	}
}

func TestVersionClock_ObserveAndConcurrentUnique(t *testing.T) {
	fc := &fakeClock{now: time.UnixMilli(10)}
	c := NewVersionClock(fc.Now)
	c.Observe(100)
	c.Observe(50)
	if v := c.Next(); v != 101 {
		t.Fatalf("after Observe(100) got %d", v)
	}

	var mu sync.Mutex
	seen := map[int64]bool{}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				v := c.Next()
				mu.Lock()
				if seen[v] {
					t.Errorf("duplicate version %d", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
