package hotkey

import (
	"context"

	"github.com/mohammed-shakir/hotkey-sync/internal/client/cachetemplate"
)

type LoadError = cachetemplate.LoadError

type CacheOptions[V any] = cachetemplate.Options[V]

// Cache serves values of this client's application, caching only keys the
// server reports as hot. Every Get is counted as an access.
type Cache[V any] struct {
	c   *Client
	tpl *cachetemplate.Template[V]
}

// NewCache builds a cache sized from the client config unless opts says
// otherwise. Keys that cool down are evicted from it.
func NewCache[V any](c *Client, opts CacheOptions[V]) *Cache[V] {
	if opts.Size <= 0 {
		opts.Size = c.cfg.LocalCacheSize
	}
	if opts.TTL <= 0 {
		opts.TTL = c.cfg.LocalCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = c.log
	}
	cc := &Cache[V]{c: c, tpl: cachetemplate.New(c.cfg.AppName, c.view, opts)}
	c.addEvictor(cc.tpl.Evict)
	return cc
}

func (cc *Cache[V]) Get(ctx context.Context, key string, loader func(ctx context.Context) (V, error)) (V, error) {
	cc.c.Record(key)
	return cc.tpl.Load(ctx, key, loader)
}

func (cc *Cache[V]) IsHot(key string) bool { return cc.tpl.Decide(key).UseCache }

func (cc *Cache[V]) Evict(key string) { cc.tpl.Evict(key) }

func (cc *Cache[V]) EvictAll() { cc.tpl.EvictAll() }
