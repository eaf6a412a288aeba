// Package hotkey is the embeddable client: it samples key accesses,
// reports them to the hot-key server, keeps the local hot-key view current
// from pushes and polls, and serves hot keys from a local cache.
package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/hotkey-sync/internal/client/collector"
	"github.com/mohammed-shakir/hotkey-sync/internal/client/hotkeyset"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/config"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/observability"
	"github.com/mohammed-shakir/hotkey-sync/internal/remoting"
	"github.com/mohammed-shakir/hotkey-sync/internal/remoting/protocol"
)

type Config = config.ClientConfig

// ConfigFromEnv reads HOTKEY_* variables.
func ConfigFromEnv() Config { return config.ClientFromEnv() }

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func WithInstanceID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.instanceID = id
		}
	}
}

type Client struct {
	cfg        Config
	log        *slog.Logger
	ser        protocol.Serializer
	instanceID string

	rc   *remoting.Client
	col  *collector.Collector
	view *hotkeyset.View

	refreshNow chan struct{}

	evictMu  sync.RWMutex
	evictors []func(key string)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.AppName == "" {
		return nil, errors.New("hotkey: app name is required")
	}
	ser, err := protocol.SerializerByName(cfg.Serializer)
	if err != nil {
		return nil, fmt.Errorf("hotkey: %w", err)
	}
	if cfg.ReportPeriod <= 0 {
		cfg.ReportPeriod = 500 * time.Millisecond
	}
	if cfg.QueryPeriod <= 0 {
		cfg.QueryPeriod = 30 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 3 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}

	c := &Client{
		cfg:        cfg,
		log:        slog.Default(),
		ser:        ser,
		instanceID: uuid.NewString(),
		col:        collector.New(),
		view:       hotkeyset.New(),
		refreshNow: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("app", cfg.AppName, "instance", c.instanceID)

	c.rc, err = remoting.NewClient(remoting.ClientOptions{
		Servers:        cfg.Servers,
		RouteKey:       cfg.AppName,
		ReportConns:    cfg.ReportConns,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxFrameBytes:  cfg.MaxFrameBytes,
		OnPush:         c.onPush,
		OnPushConnect:  c.register,
		Logger:         c.log,
	})
	if err != nil {
		return nil, fmt.Errorf("hotkey: %w", err)
	}
	return c, nil
}

func (c *Client) AppName() string    { return c.cfg.AppName }
func (c *Client) InstanceID() string { return c.instanceID }

// View exposes the hot-key view for every application this client knows.
func (c *Client) View() *hotkeyset.View { return c.view }

// Start opens the push channel and runs the report, refresh and heartbeat
// loops until Close. An unreachable server is not an error; the loops keep
// retrying and the view stays empty meanwhile.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.rc.EnsurePush(ctx); err != nil {
		c.log.Warn("push channel not established", "addr", c.rc.Addr(), "err", err)
	}
	c.wg.Add(3)
	go c.loop(ctx, c.cfg.ReportPeriod, nil, c.flush)
	go c.loop(ctx, c.cfg.QueryPeriod, c.refreshNow, func(ctx context.Context) { _ = c.Refresh(ctx) })
	go c.loop(ctx, c.cfg.Heartbeat, nil, c.heartbeat)

	c.triggerRefresh()
	c.log.Info("hotkey client started", "addr", c.rc.Addr(), "serializer", c.ser.Name())
	return nil
}

func (c *Client) loop(ctx context.Context, period time.Duration, kick <-chan struct{}, fn func(context.Context)) {
	defer c.wg.Done()
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-kick:
		}
		fn(ctx)
	}
}

// Close stops the loops, sends the last counts and closes connections.
// A client that was never started only closes.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, started := c.cancel, c.started
	c.mu.Unlock()
	if !started {
		return c.rc.Close()
	}
	cancel()
	c.wg.Wait()

	flushCtx, done := context.WithTimeout(context.Background(), c.cfg.QueryTimeout)
	c.flush(flushCtx)
	done()
	return c.rc.Close()
}

// Record counts one access to key of this client's application.
func (c *Client) Record(key string) { c.col.Record(c.cfg.AppName, key) }

// RecordApp counts one access to key of another application.
func (c *Client) RecordApp(app, key string) { c.col.Record(app, key) }

func (c *Client) IsHot(key string) bool { return c.view.Contains(c.cfg.AppName, key) }

func (c *Client) HotKeys() []string { return c.view.Keys(c.cfg.AppName) }

// flush drains the collector and sends one report per application.
func (c *Client) flush(ctx context.Context) {
	now := time.Now().UnixMilli()
	for app, keys := range c.col.Drain() {
		counts := make(map[string]int32, len(keys))
		for k, n := range keys {
			counts[k] = clampInt32(n)
		}
		b, err := c.ser.Marshal(protocol.ReportPayload{
			AppName:         app,
			Timestamp:       now,
			KeyAccessCounts: counts,
			InstanceID:      c.instanceID,
		})
		if err != nil {
			c.log.Error("encode report", "report_app", app, "err", err)
			continue
		}
		if err := c.rc.Send(ctx, protocol.AccessReport, b); err != nil {
			c.log.Warn("report not sent", "report_app", app, "keys", len(counts), "err", err)
			continue
		}
		c.log.Debug("report sent", "report_app", app, "keys", len(counts))
	}
}

func clampInt32(n int64) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(n)
}

// Refresh asks the server for every view newer than the local versions
// and applies them as full snapshots. A timeout leaves the view as is.
func (c *Client) Refresh(ctx context.Context) error {
	b, err := c.ser.Marshal(protocol.QueryRequest{LastVersions: c.view.SnapshotVersions()})
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}
	rep, err := c.rc.Request(ctx, protocol.HotKeyQuery, b, c.cfg.QueryTimeout)
	if err != nil {
		c.log.Warn("hot-key query failed; keeping current view", "err", err)
		return err
	}
	var views protocol.ViewsPayload
	if err := c.ser.Unmarshal(rep.Payload, &views); err != nil {
		c.log.Warn("drop query response: bad payload", "err", err)
		return err
	}
	for app, e := range views.Views {
		c.applySnapshot(app, e)
	}
	return nil
}

func (c *Client) triggerRefresh() {
	select {
	case c.refreshNow <- struct{}{}:
	default:
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	if err := c.rc.Ping(ctx, c.cfg.QueryTimeout); err != nil {
		c.log.Warn("heartbeat failed; push channel will be redialed", "err", err)
	}
}

func (c *Client) register(conn *remoting.Conn) {
	b, err := c.ser.Marshal(protocol.RegisterPayload{AppName: c.cfg.AppName, InstanceID: c.instanceID})
	if err != nil {
		c.log.Error("encode push registration", "err", err)
		return
	}
	if err := conn.Send(protocol.NewCommand(protocol.PushChannelRegister, 0, b)); err != nil {
		c.log.Warn("push registration failed", "err", err)
		return
	}
	// pushes may have been missed while disconnected
	c.triggerRefresh()
}

func (c *Client) onPush(cmd protocol.Command) {
	switch cmd.Type {
	case protocol.HotKeyPush:
	case protocol.PushChannelRegister:
		c.log.Debug("push channel registration acknowledged")
		return
	default:
		c.log.Debug("ignoring unsolicited command", "type", cmd.Type.String(), "request_id", cmd.RequestID)
		return
	}

	var views protocol.ViewsPayload
	if err := c.ser.Unmarshal(cmd.Payload, &views); err != nil {
		c.log.Warn("drop push: bad payload", "err", err)
		return
	}
	for app, e := range views.Views {
		if !e.IsDiff() {
			c.applySnapshot(app, e)
			continue
		}
		c.applyDiff(app, e)
	}
}

func (c *Client) applyDiff(app string, e protocol.ViewEntry) {
	if e.PrevVersion != 0 && c.view.Version(app) != e.PrevVersion {
		// a diff in between was lost; reconcile from a full snapshot
		observability.IncViewUpdate("diff", false)
		c.log.Debug("push out of sequence; refreshing", "view_app", app,
			"have", c.view.Version(app), "prev", e.PrevVersion, "version", e.Version)
		c.triggerRefresh()
		return
	}
	var added, removed []string
	if e.AddedKey != "" {
		added = []string{e.AddedKey}
	}
	if e.RemovedKey != "" {
		removed = []string{e.RemovedKey}
	}
	ok := c.view.ApplyDiff(app, added, removed, e.Version)
	observability.IncViewUpdate("diff", ok)
	if ok && app == c.cfg.AppName {
		c.evict(removed)
	}
}

func (c *Client) applySnapshot(app string, e protocol.ViewEntry) {
	before := c.view.Keys(app)
	ok := c.view.ApplyFullSnapshot(app, e.HotKeys, e.Version)
	observability.IncViewUpdate("snapshot", ok)
	if !ok || app != c.cfg.AppName {
		return
	}
	var gone []string
	for _, k := range before {
		if !c.view.Contains(app, k) {
			gone = append(gone, k)
		}
	}
	c.evict(gone)
}

func (c *Client) addEvictor(fn func(key string)) {
	c.evictMu.Lock()
	c.evictors = append(c.evictors, fn)
	c.evictMu.Unlock()
}

// evict drops keys that stopped being hot from every cache of this client.
func (c *Client) evict(keys []string) {
	if len(keys) == 0 {
		return
	}
	c.evictMu.RLock()
	defer c.evictMu.RUnlock()
	for _, fn := range c.evictors {
		for _, k := range keys {
			fn(k)
		}
	}
}

// Ping round-trips ADMIN_PING on the push connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rc.Ping(ctx, c.cfg.QueryTimeout)
}
