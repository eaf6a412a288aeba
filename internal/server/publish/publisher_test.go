package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
	"github.com/mohammed-shakir/hotkey-sync/internal/remoting/protocol"
)

type sentCmd struct {
	app string
	cmd protocol.Command
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []sentCmd
	subs map[string]int
}

func (f *fakeBroadcaster) Broadcast(app string, cmd protocol.Command) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCmd{app: app, cmd: cmd})
	if n := f.subs[app]; n > 0 {
		return n, false
	}
	return 1, true
}

func (f *fakeBroadcaster) all() []sentCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCmd(nil), f.sent...)
}

type countingObserver struct {
	mu  sync.Mutex
	evs []model.PushEvent
}

func (c *countingObserver) Observe(ev model.PushEvent) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

var _ Observer = (*countingObserver)(nil)

func TestPublisher_FIFOSingleKeyDiffs(t *testing.T) {
	fb := &fakeBroadcaster{subs: map[string]int{"X": 2}}
	obs := &countingObserver{}
	ser := protocol.MsgpackSerializer{}
	p := New(fb, ser, Options{Observers: []Observer{obs}})

	r1 := model.NewResult("X", 10, 1, "A")
	r2 := r1.With("B", 11, 1)
	r3 := r2.Without("A", 12, 1)
	p.Enqueue(model.PushEvent{Result: r1, Key: "A", Added: true, Version: 10})
	p.Enqueue(model.PushEvent{Result: r2, Key: "B", Added: true, Version: 11, PrevVersion: 10})
	p.Enqueue(model.PushEvent{Result: r3, Key: "A", Added: false, Version: 12, PrevVersion: 11})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(fb.all()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	sent := fb.all()
	if len(sent) != 3 {
		t.Fatalf("sent %d pushes want 3", len(sent))
	}
	wantVersions := []int64{10, 11, 12}
	for i, s := range sent {
		if s.app != "X" || s.cmd.Type != protocol.HotKeyPush || !s.cmd.OneWay() {
			t.Fatalf("push %d: %+v", i, s)
		}
		var body protocol.ViewsPayload
		if err := ser.Unmarshal(s.cmd.Payload, &body); err != nil {
			t.Fatalf("decode push %d: %v", i, err)
		}
		e := body.Views["X"]
		if e.Version != wantVersions[i] || len(e.HotKeys) != 0 || !e.IsDiff() {
			t.Fatalf("push %d entry %+v", i, e)
		}
	}
	var last protocol.ViewsPayload
	_ = ser.Unmarshal(sent[2].cmd.Payload, &last)
	if last.Views["X"].RemovedKey != "A" || last.Views["X"].PrevVersion != 11 {
		t.Fatalf("removal entry %+v", last.Views["X"])
	}
	if len(obs.evs) != 3 {
		t.Fatalf("observer saw %d events", len(obs.evs))
	}
}

func TestPublisher_EnqueueNeverBlocksAndDrainsOnStop(t *testing.T) {
	fb := &fakeBroadcaster{}
	p := New(fb, nil, Options{})
	r := model.NewResult("Y", 1, 1, "k")

	for range 10_000 {
		p.Enqueue(model.PushEvent{Result: r, Key: "k", Added: true, Version: 1})
	}
	if p.Len() != 10_000 {
		t.Fatalf("queue len=%d", p.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Run(ctx)
	if got := len(fb.all()); got != 10_000 || p.Len() != 0 {
		t.Fatalf("sent=%d left=%d", got, p.Len())
	}
}
