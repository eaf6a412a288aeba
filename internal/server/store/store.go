// Package store keeps the authoritative hot-key result per application.
package store

import (
	"slices"
	"sync"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
)

// Reader is the read side of a Store.
type Reader interface {
	Get(app string) (*model.HotKeyResult, bool)
	Apps() []string
}

type Store interface {
	Reader
	Put(r *model.HotKeyResult)
}

// Memory is the in-process store. Results are immutable, so Get hands out
// the stored pointer.
type Memory struct {
	mu sync.RWMutex
	m  map[string]*model.HotKeyResult
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{m: map[string]*model.HotKeyResult{}}
}

func (s *Memory) Get(app string) (*model.HotKeyResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[app]
	return r, ok
}

func (s *Memory) Put(r *model.HotKeyResult) {
	if r == nil || r.AppName == "" {
		return
	}
	s.mu.Lock()
	s.m[r.AppName] = r
	s.mu.Unlock()
}

func (s *Memory) Apps() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.m))
	for a := range s.m {
		out = append(out, a)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

// NewerThan returns the results whose version exceeds the caller's entry
// in last; applications missing from last count as version 0.
func NewerThan(s Reader, last map[string]int64) []*model.HotKeyResult {
	var out []*model.HotKeyResult
	for _, app := range s.Apps() {
		r, ok := s.Get(app)
		if !ok {
			continue
		}
		if r.Version > last[app] {
			out = append(out, r)
		}
	}
	return out
}
