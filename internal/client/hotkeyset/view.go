// Package hotkeyset holds the client's versioned copy of each
// application's hot-key set.
package hotkeyset

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

type appView struct {
	keys    map[string]struct{}
	version int64
}

// View answers Contains without locking. Writers serialize on mu and
// publish a new immutable state.
type View struct {
	mu    sync.Mutex
	state atomic.Pointer[map[string]*appView]
}

func New() *View {
	v := &View{}
	empty := map[string]*appView{}
	v.state.Store(&empty)
	return v
}

func (v *View) load() map[string]*appView { return *v.state.Load() }

func (v *View) Contains(app, key string) bool {
	av := v.load()[app]
	if av == nil {
		return false
	}
	_, ok := av.keys[key]
	return ok
}

// Version is 0 for an unknown application.
func (v *View) Version(app string) int64 {
	if av := v.load()[app]; av != nil {
		return av.version
	}
	return 0
}

func (v *View) Keys(app string) []string {
	av := v.load()[app]
	if av == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(av.keys))
}

// SnapshotVersions returns the held version per known application.
func (v *View) SnapshotVersions() map[string]int64 {
	cur := v.load()
	out := make(map[string]int64, len(cur))
	for app, av := range cur {
		out[app] = av.version
	}
	return out
}

// ApplyFullSnapshot replaces app's set. It is ignored unless version is
// newer than the held one.
func (v *View) ApplyFullSnapshot(app string, keys []string, version int64) bool {
	return v.update(app, version, func(*appView) map[string]struct{} {
		next := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			next[k] = struct{}{}
		}
		return next
	})
}

// ApplyDiff adds and removes keys. It is ignored unless version is newer
// than the held one.
func (v *View) ApplyDiff(app string, added, removed []string, version int64) bool {
	return v.update(app, version, func(cur *appView) map[string]struct{} {
		var next map[string]struct{}
		if cur != nil {
			next = maps.Clone(cur.keys)
		}
		if next == nil {
			next = map[string]struct{}{}
		}
		for _, k := range added {
			next[k] = struct{}{}
		}
		for _, k := range removed {
			delete(next, k)
		}
		return next
	})
}

func (v *View) update(app string, version int64, build func(cur *appView) map[string]struct{}) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	cur := v.load()
	prev := cur[app]
	var have int64
	if prev != nil {
		have = prev.version
	}
	if version <= have {
		return false
	}
	next := maps.Clone(cur)
	next[app] = &appView{keys: build(prev), version: version}
	v.state.Store(&next)
	return true
}
