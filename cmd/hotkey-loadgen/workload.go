package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

type workload struct {
	Keys        int
	ZipfS       float64
	ZipfV       float64
	Concurrency int
	LoadLatency time.Duration
	Seed        int64
}

type getter interface {
	Get(ctx context.Context, key string, loader func(ctx context.Context) (string, error)) (string, error)
}

type counters struct {
	gets   atomic.Int64
	loads  atomic.Int64
	errors atomic.Int64
}

type summary struct {
	Gets     int64   `json:"gets"`
	Loads    int64   `json:"loads"`
	Errors   int64   `json:"errors"`
	HitRatio float64 `json:"hit_ratio"`
	HotKeys  int     `json:"hot_keys"`
	Seconds  float64 `json:"seconds"`
}

func (c *counters) summary(hot int, took time.Duration) summary {
	s := summary{
		Gets:    c.gets.Load(),
		Loads:   c.loads.Load(),
		Errors:  c.errors.Load(),
		HotKeys: hot,
		Seconds: took.Seconds(),
	}
	if s.Gets > 0 {
		s.HitRatio = 1 - float64(s.Loads)/float64(s.Gets)
	}
	return s
}

func keyName(i uint64) string { return fmt.Sprintf("item:%d", i) }

// drive issues Zipf-distributed Gets until ctx is done.
func drive(ctx context.Context, w workload, g getter, c *counters) {
	if w.Keys < 2 {
		w.Keys = 2
	}
	imax := uint64(w.Keys - 1)

	var wg sync.WaitGroup
	wg.Add(w.Concurrency)
	for id := range w.Concurrency {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(w.Seed + int64(id) + 1))
			zipf := rand.NewZipf(r, w.ZipfS, w.ZipfV, imax)
			for ctx.Err() == nil {
				key := keyName(zipf.Uint64())
				c.gets.Add(1)
				_, err := g.Get(ctx, key, func(ctx context.Context) (string, error) {
					c.loads.Add(1)
					if w.LoadLatency > 0 {
						t := time.NewTimer(w.LoadLatency)
						defer t.Stop()
						select {
						case <-ctx.Done():
							return "", ctx.Err()
						case <-t.C:
						}
					}
					return "value-of-" + key, nil
				})
				if err != nil && ctx.Err() == nil {
					c.errors.Add(1)
				}
			}
		}(id)
	}
	wg.Wait()
}
