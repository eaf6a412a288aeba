// Package redisstore mirrors hot-key results into Redis so a restarted
// server can resume from the last known sets and versions.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/observability"
)

type Option func(*redis.Options)

// Zero values keep the defaults, so options can be fed straight from config.

func WithPoolSize(n int) Option {
	return func(o *redis.Options) {
		if n > 0 {
			o.PoolSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) {
		if d > 0 {
			o.DialTimeout = d
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) {
		if d > 0 {
			o.ReadTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) {
		if d > 0 {
			o.WriteTimeout = d
		}
	}
}

type record struct {
	App     string   `msgpack:"app"`
	Version int64    `msgpack:"version"`
	Updated int64    `msgpack:"updated"`
	Keys    []string `msgpack:"keys"`
}

type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects and pings. Results live under prefix+"app:"+name with an
// index set at prefix+"apps"; ttl <= 0 keeps them forever.
func New(ctx context.Context, addr, prefix string, ttl time.Duration, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if prefix == "" {
		prefix = "hotkey:result:"
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     8,
		MinIdleConns: 1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, prefix: prefix, ttl: ttl}, nil
}

func (c *Client) dataKey(app string) string { return c.prefix + "app:" + app }
func (c *Client) indexKey() string          { return c.prefix + "apps" }

func (c *Client) Save(ctx context.Context, r *model.HotKeyResult) error {
	if r == nil || r.AppName == "" {
		return errors.New("redis save: result without app name")
	}
	b, err := msgpack.Marshal(record{App: r.AppName, Version: r.Version, Updated: r.LastUpdateMillis, Keys: r.Keys()})
	if err != nil {
		return fmt.Errorf("encode result %q: %w", r.AppName, err)
	}

	start := time.Now()
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, c.dataKey(r.AppName), b, c.ttl)
		p.SAdd(ctx, c.indexKey(), r.AppName)
		return nil
	})
	observability.ObserveStoreOp("save", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", c.dataKey(r.AppName), err)
	}
	return nil
}

// Load returns nil without error when app has no stored result.
func (c *Client) Load(ctx context.Context, app string) (*model.HotKeyResult, error) {
	start := time.Now()
	b, err := c.rdb.Get(ctx, c.dataKey(app)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveStoreOp("load", nil, time.Since(start).Seconds())
		return nil, nil
	}
	observability.ObserveStoreOp("load", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis GET %q: %w", c.dataKey(app), err)
	}
	return decode(b)
}

// LoadAll returns every indexed result that has not expired.
func (c *Client) LoadAll(ctx context.Context) ([]*model.HotKeyResult, error) {
	start := time.Now()
	apps, err := c.rdb.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		observability.ObserveStoreOp("load_all", err, time.Since(start).Seconds())
		return nil, fmt.Errorf("redis SMEMBERS %q: %w", c.indexKey(), err)
	}
	if len(apps) == 0 {
		observability.ObserveStoreOp("load_all", nil, time.Since(start).Seconds())
		return nil, nil
	}

	keys := make([]string, len(apps))
	for i, a := range apps {
		keys[i] = c.dataKey(a)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	observability.ObserveStoreOp("load_all", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make([]*model.HotKeyResult, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired
		}
		r, err := decode([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", keys[i], err)
		}
		out = append(out, r)
	}
	return out, nil
}

func decode(b []byte) (*model.HotKeyResult, error) {
	var rec record
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return model.NewResult(rec.App, rec.Version, rec.Updated, rec.Keys...), nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
