package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
)

type fakeSaver struct {
	mu    sync.Mutex
	saved []int64
	err   error
}

func (f *fakeSaver) Save(_ context.Context, r *model.HotKeyResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, r.Version)
	return f.err
}

func (f *fakeSaver) versions() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.saved...)
}

func TestWriteBehind_ReadsLocallyAndFlushesInOrder(t *testing.T) {
	fs := &fakeSaver{}
	wb := NewWriteBehind(NewMemory(), fs, 8, nil)

	wb.Put(model.NewResult("X", 1, 1, "A"))
	wb.Put(model.NewResult("X", 2, 1, "A", "B"))

	if r, ok := wb.Get("X"); !ok || r.Version != 2 {
		t.Fatalf("Get before flush: %+v %v", r, ok)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = wb.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for len(fs.versions()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got := fs.versions()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("saved versions=%v want [1 2]", got)
	}
}

func TestWriteBehind_DropsWhenFullAndSurvivesErrors(t *testing.T) {
	fs := &fakeSaver{err: errors.New("down")}
	wb := NewWriteBehind(NewMemory(), fs, 1, nil)

	wb.Put(model.NewResult("X", 1, 1))
	wb.Put(model.NewResult("X", 2, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = wb.Run(ctx)

	if got := fs.versions(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("saved=%v want only the queued write", got)
	}
	if r, _ := wb.Get("X"); r.Version != 2 {
		t.Fatalf("local store must keep the newest result, got %d", r.Version)
	}
}
