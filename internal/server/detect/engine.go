// Package detect turns folded access reports into hot-key promotions and
// idle decay, one serialized state machine per application.
package detect

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/observability"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/window"
)

// ResultStore holds the current result per application.
type ResultStore interface {
	Get(app string) (*model.HotKeyResult, bool)
	Put(r *model.HotKeyResult)
}

// EventSink receives change events; Enqueue must not block on I/O.
type EventSink interface {
	Enqueue(ev model.PushEvent)
}

type Config struct {
	WindowSize  time.Duration
	WindowSlots int
	// MinCount is the window total at which a key turns hot.
	MinCount   int64
	HotKeyIdle time.Duration
}

type Options struct {
	Logger *slog.Logger
	Clock  *VersionClock
	Now    func() time.Time
}

type appState struct {
	// serializes read-modify-write of the stored result and activity
	mu       sync.Mutex
	window   *window.SlidingWindow
	activity map[string]model.HotKeyEntry
}

// Engine owns the per-application registry of windows and activity.
type Engine struct {
	cfg   Config
	store ResultStore
	sink  EventSink
	log   *slog.Logger
	clock *VersionClock
	now   func() time.Time

	mu   sync.RWMutex
	apps map[string]*appState
}

func NewEngine(cfg Config, store ResultStore, sink EventSink, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Clock == nil {
		opts.Clock = NewVersionClock(opts.Now)
	}
	if cfg.MinCount <= 0 {
		cfg.MinCount = 1
	}
	if cfg.HotKeyIdle <= 0 {
		cfg.HotKeyIdle = time.Minute
	}
	return &Engine{
		cfg:   cfg,
		store: store,
		sink:  sink,
		log:   opts.Logger,
		clock: opts.Clock,
		now:   opts.Now,
		apps:  map[string]*appState{},
	}
}

func (e *Engine) lookup(app string) *appState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.apps[app]
}

func (e *Engine) state(app string) *appState {
	if st := e.lookup(app); st != nil {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.apps[app]; st != nil {
		return st
	}
	w := window.New(e.cfg.WindowSize, e.cfg.WindowSlots)
	w.SetClock(e.now)
	st := &appState{window: w, activity: map[string]model.HotKeyEntry{}}
	e.apps[app] = st
	return st
}

// Apps lists every application seen so far, sorted.
func (e *Engine) Apps() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.apps))
	for a := range e.apps {
		out = append(out, a)
	}
	e.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Ingest folds r into its application's window and tests the key against
// the threshold. It reports whether the key was newly promoted.
func (e *Engine) Ingest(r window.AccessReport) bool {
	if r.AppName == "" || r.Key == "" || r.Count <= 0 {
		return false
	}
	st := e.state(r.AppName)
	st.window.Add(r)
	observability.AddReportKeys(1)

	stat := st.window.SnapshotForKey(r.Key)
	if stat.TotalCount < e.cfg.MinCount {
		return false
	}
	return e.markHot(st, r.AppName, r.Key)
}

// IngestCounts folds one client report and returns the newly promoted keys.
func (e *Engine) IngestCounts(app string, tsMillis int64, counts map[string]int64) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var promoted []string
	for _, k := range keys {
		r := window.AccessReport{
			AppName:         app,
			Key:             k,
			TimestampMillis: tsMillis,
			Success:         true,
			Count:           counts[k],
		}
		if e.Ingest(r) {
			promoted = append(promoted, k)
		}
	}
	return promoted
}

func (e *Engine) markHot(st *appState, app, key string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := e.now().UnixMilli()
	ent := st.activity[key]
	ent.Key = key
	ent.Score++
	ent.LastActiveMillis = now
	st.activity[key] = ent

	cur, _ := e.store.Get(app)
	if cur.Contains(key) {
		return false
	}
	if cur == nil {
		cur = model.NewResult(app, 0, 0)
	}

	next := cur.With(key, e.clock.Next(), now)
	e.store.Put(next)
	e.sink.Enqueue(model.PushEvent{
		Result:      next,
		Key:         key,
		Added:       true,
		Version:     next.Version,
		PrevVersion: cur.Version,
	})

	observability.IncPromote()
	observability.SetHotKeys(app, next.Len())
	e.log.Info("hot key promoted", "app", app, "key", key, "version", next.Version, "hot_keys", next.Len())
	return true
}

// Decay removes every hot key of app that has been idle for at least
// HotKeyIdle and returns the removed keys. Each removal gets its own
// version so the published diffs form a chain.
func (e *Engine) Decay(app string) []string {
	st := e.lookup(app)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	cur, ok := e.store.Get(app)
	if !ok || cur.Len() == 0 {
		return nil
	}

	now := e.now().UnixMilli()
	idle := e.cfg.HotKeyIdle.Milliseconds()
	var removed []string
	for _, k := range cur.Keys() {
		ent, ok := st.activity[k]
		if !ok || now-ent.LastActiveMillis >= idle {
			removed = append(removed, k)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	events := make([]model.PushEvent, 0, len(removed))
	next := cur
	for _, k := range removed {
		prev := next.Version
		next = next.Without(k, e.clock.Next(), now)
		delete(st.activity, k)
		events = append(events, model.PushEvent{
			Result:      next,
			Key:         k,
			Added:       false,
			Version:     next.Version,
			PrevVersion: prev,
		})
	}
	e.store.Put(next)
	for _, ev := range events {
		e.sink.Enqueue(ev)
	}

	observability.AddDemote(len(removed))
	observability.SetHotKeys(app, next.Len())
	e.log.Info("hot keys decayed", "app", app, "removed", len(removed), "version", next.Version, "hot_keys", next.Len())
	return removed
}

// Restore seeds the store with results persisted by an earlier process.
// Restored keys count as active now and decay normally afterwards.
func (e *Engine) Restore(results []*model.HotKeyResult) {
	now := e.now().UnixMilli()
	for _, r := range results {
		if r == nil || r.AppName == "" {
			continue
		}
		st := e.state(r.AppName)
		st.mu.Lock()
		if cur, ok := e.store.Get(r.AppName); !ok || cur.Version < r.Version {
			e.store.Put(r)
			for _, k := range r.Keys() {
				st.activity[k] = model.HotKeyEntry{Key: k, Score: 1, LastActiveMillis: now}
			}
			observability.SetHotKeys(r.AppName, r.Len())
		}
		st.mu.Unlock()
		e.clock.Observe(r.Version)
	}
}

// Stat returns the current window totals for one key.
func (e *Engine) Stat(app, key string) (window.AggregatedKeyStat, bool) {
	st := e.lookup(app)
	if st == nil {
		return window.AggregatedKeyStat{}, false
	}
	return st.window.SnapshotForKey(key), true
}

// Activity returns the recency entry for a hot key.
func (e *Engine) Activity(app, key string) (model.HotKeyEntry, bool) {
	st := e.lookup(app)
	if st == nil {
		return model.HotKeyEntry{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	ent, ok := st.activity[key]
	return ent, ok
}

// TopKeys returns up to n keys of app ordered by window total.
func (e *Engine) TopKeys(app string, n int) []window.AggregatedKeyStat {
	st := e.lookup(app)
	if st == nil {
		return nil
	}
	all := st.window.Snapshot()
	out := make([]window.AggregatedKeyStat, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b window.AggregatedKeyStat) int {
		if c := cmp.Compare(b.TotalCount, a.TotalCount); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Submitter runs fn on the worker owning shardKey. It returns false when
// the task was dropped.
type Submitter interface {
	Submit(shardKey string, fn func(ctx context.Context)) bool
}

// RunDecay submits a decay sweep per application every period until ctx is
// done.
func (e *Engine) RunDecay(ctx context.Context, period time.Duration, pool Submitter) error {
	if period <= 0 {
		period = time.Second
	}
	t := time.NewTicker(period)
	defer t.Stop()
	e.log.Info("decay scheduler started", "period", period.String(), "idle", e.cfg.HotKeyIdle.String())
	for {
		select {
		case <-ctx.Done():
			e.log.Info("decay scheduler stopped")
			return nil
		case <-t.C:
			for _, app := range e.Apps() {
				if !pool.Submit(app, func(context.Context) { e.Decay(app) }) {
					e.log.Warn("decay task dropped", "app", app)
				}
			}
		}
	}
}
