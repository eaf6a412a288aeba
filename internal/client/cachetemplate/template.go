// Package cachetemplate decides per key whether to serve from the local
// cache and collapses concurrent origin loads for the same key.
package cachetemplate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/observability"
)

// HotChecker reports whether a key is currently hot for an application.
type HotChecker interface {
	Contains(app, key string) bool
}

// LocalCache is the in-process store for hot values.
type LocalCache[V any] interface {
	Get(key string) (V, bool)
	Add(key string, v V) bool
	Remove(key string) bool
	Purge()
}

type Decision struct {
	UseCache bool
}

// LoadError wraps an origin loader failure.
type LoadError struct {
	App  string
	Key  string
	Took time.Duration
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cache load %s/%s: %v", e.App, e.Key, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type Options[V any] struct {
	Size   int
	TTL    time.Duration
	Cache  LocalCache[V]
	Logger *slog.Logger
}

type Template[V any] struct {
	app   string
	hot   HotChecker
	cache LocalCache[V]
	sf    singleflight.Group
	log   *slog.Logger
}

func New[V any](app string, hot HotChecker, opts Options[V]) *Template[V] {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cache == nil {
		if opts.Size <= 0 {
			opts.Size = 10000
		}
		if opts.TTL <= 0 {
			opts.TTL = 5 * time.Minute
		}
		opts.Cache = expirable.NewLRU[string, V](opts.Size, nil, opts.TTL)
	}
	return &Template[V]{app: app, hot: hot, cache: opts.Cache, log: opts.Logger}
}

// Decide caches a key only while it is hot.
func (t *Template[V]) Decide(key string) Decision {
	return Decision{UseCache: t.hot.Contains(t.app, key)}
}

// Load serves key from the local cache when it is hot, otherwise from
// loader. Concurrent loads of one key share a single loader call; the
// value is cached only when the key was hot and the load succeeded.
func (t *Template[V]) Load(ctx context.Context, key string, loader func(ctx context.Context) (V, error)) (V, error) {
	d := t.Decide(key)
	if d.UseCache {
		if v, ok := t.cache.Get(key); ok {
			observability.IncClientCache("hit")
			return v, nil
		}
	}

	// the shared load outlives any single caller; each caller waits on its own ctx
	loadCtx := context.WithoutCancel(ctx)
	ch := t.sf.DoChan(t.app+"|"+key, func() (any, error) {
		if d.UseCache {
			if v, ok := t.cache.Get(key); ok {
				return v, nil
			}
		}
		start := time.Now()
		v, err := loader(loadCtx)
		took := time.Since(start)
		observability.ObserveClientLoad(took.Seconds())
		if err != nil {
			return nil, &LoadError{App: t.app, Key: key, Took: took, Err: err}
		}
		if d.UseCache {
			t.cache.Add(key, v)
		}
		return v, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = singleflight.Result{Err: &LoadError{App: t.app, Key: key, Err: ctx.Err()}}
	}
	if res.Err != nil {
		observability.IncClientCache("error")
		t.log.Debug("origin load failed", "app", t.app, "key", key, "shared", res.Shared, "err", res.Err)
		var zero V
		return zero, res.Err
	}
	if d.UseCache {
		observability.IncClientCache("miss")
	} else {
		observability.IncClientCache("bypass")
	}
	v, _ := res.Val.(V)
	return v, nil
}

func (t *Template[V]) Evict(key string) { t.cache.Remove(key) }

func (t *Template[V]) EvictAll() { t.cache.Purge() }
