// Package collector counts key accesses between report ticks using two
// alternating counter tables.
package collector

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const numShards = 64

type counterKey struct {
	app string
	key string
}

type shard struct {
	// read-held while incrementing, write-held while draining
	mu sync.RWMutex
	m  map[counterKey]*atomic.Int64
}

type table struct {
	shards [numShards]shard
}

func newTable() *table {
	t := &table{}
	for i := range t.shards {
		t.shards[i].m = make(map[counterKey]*atomic.Int64)
	}
	return t
}

// Collector records accesses into the active table while Drain empties the
// other one, so the record path never waits for a report.
type Collector struct {
	active atomic.Uint32
	tables [2]*table
}

func New() *Collector {
	return &Collector{tables: [2]*table{newTable(), newTable()}}
}

func (c *Collector) Record(app, key string) { c.Add(app, key, 1) }

func (c *Collector) Add(app, key string, n int64) {
	if app == "" || key == "" || n <= 0 {
		return
	}
	t := c.tables[c.active.Load()&1]
	k := counterKey{app: app, key: key}
	s := &t.shards[xxhash.Sum64String(key)&(numShards-1)]

	s.mu.RLock()
	ctr := s.m[k]
	if ctr != nil {
		ctr.Add(n)
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	s.mu.Lock()
	ctr = s.m[k]
	if ctr == nil {
		ctr = new(atomic.Int64)
		s.m[k] = ctr
	}
	ctr.Add(n)
	s.mu.Unlock()
}

// Drain swaps the tables and returns the counts accumulated in the one
// that was active, grouped by application. Counters that drain to zero are
// dropped. Increments that raced the swap are kept for a later drain.
func (c *Collector) Drain() map[string]map[string]int64 {
	prev := c.active.Add(1) - 1
	t := c.tables[prev&1]

	out := map[string]map[string]int64{}
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for k, ctr := range s.m {
			n := ctr.Swap(0)
			if n == 0 {
				delete(s.m, k)
				continue
			}
			byKey := out[k.app]
			if byKey == nil {
				byKey = map[string]int64{}
				out[k.app] = byKey
			}
			byKey[k.key] += n
		}
		s.mu.Unlock()
	}
	return out
}
