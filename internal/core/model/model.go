// Package model holds the hot-key state shared by detection, storage and
// publication.
package model

import (
	"maps"
	"slices"
)

// HotKeyResult is the versioned hot-key set of one application. Values are
// never mutated after being stored; changes build a new result.
type HotKeyResult struct {
	AppName          string
	Version          int64
	LastUpdateMillis int64
	HotKeys          map[string]struct{}
}

func NewResult(app string, version, updatedMillis int64, keys ...string) *HotKeyResult {
	r := &HotKeyResult{
		AppName:          app,
		Version:          version,
		LastUpdateMillis: updatedMillis,
		HotKeys:          make(map[string]struct{}, len(keys)),
	}
	for _, k := range keys {
		r.HotKeys[k] = struct{}{}
	}
	return r
}

func (r *HotKeyResult) Contains(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.HotKeys[key]
	return ok
}

func (r *HotKeyResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.HotKeys)
}

// Keys returns the hot keys in sorted order.
func (r *HotKeyResult) Keys() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.HotKeys))
}

// With returns a copy of r including key.
func (r *HotKeyResult) With(key string, version, nowMillis int64) *HotKeyResult {
	next := r.clone(version, nowMillis)
	next.HotKeys[key] = struct{}{}
	return next
}

// Without returns a copy of r excluding key.
func (r *HotKeyResult) Without(key string, version, nowMillis int64) *HotKeyResult {
	next := r.clone(version, nowMillis)
	delete(next.HotKeys, key)
	return next
}

func (r *HotKeyResult) clone(version, nowMillis int64) *HotKeyResult {
	next := &HotKeyResult{Version: version, LastUpdateMillis: nowMillis}
	if r == nil {
		next.HotKeys = map[string]struct{}{}
		return next
	}
	next.AppName = r.AppName
	next.HotKeys = maps.Clone(r.HotKeys)
	if next.HotKeys == nil {
		next.HotKeys = map[string]struct{}{}
	}
	return next
}

// HotKeyEntry tracks recency of one hot key for idle decay.
type HotKeyEntry struct {
	Key              string
	Score            int64
	LastActiveMillis int64
}

// PushEvent is one single-key change queued for publication. Version is
// the version reached after the change; PrevVersion the one it applies to.
type PushEvent struct {
	Result      *HotKeyResult
	Key         string
	Added       bool
	Version     int64
	PrevVersion int64
}

func (e PushEvent) AppName() string {
	if e.Result == nil {
		return ""
	}
	return e.Result.AppName
}
