// Package publish delivers hot-key change events to push subscribers from
// a single consumer goroutine, in enqueue order.
package publish

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/observability"
	"github.com/mohammed-shakir/hotkey-sync/internal/remoting/protocol"
)

// Broadcaster writes a command to an application's push subscribers,
// falling back to every connection.
type Broadcaster interface {
	Broadcast(app string, cmd protocol.Command) (sent int, global bool)
}

// Observer sees every event after it was pushed; it must not block.
type Observer interface {
	Observe(ev model.PushEvent)
}

type Options struct {
	Logger    *slog.Logger
	Observers []Observer
}

type Publisher struct {
	bc   Broadcaster
	ser  protocol.Serializer
	log  *slog.Logger
	obs  []Observer
	wake chan struct{}

	mu    sync.Mutex
	queue []model.PushEvent
}

func New(bc Broadcaster, ser protocol.Serializer, opts Options) *Publisher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if ser == nil {
		ser = protocol.MsgpackSerializer{}
	}
	return &Publisher{
		bc:   bc,
		ser:  ser,
		log:  opts.Logger,
		obs:  opts.Observers,
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends ev to the unbounded queue and never blocks.
func (p *Publisher) Enqueue(ev model.PushEvent) {
	p.mu.Lock()
	p.queue = append(p.queue, ev)
	n := len(p.queue)
	p.mu.Unlock()
	observability.SetPublishQueueDepth(n)

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Publisher) take() []model.PushEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := p.queue
	p.queue = nil
	return batch
}

// Run consumes the queue until ctx is done, then sends what is left.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info("change publisher started")
	for {
		for _, ev := range p.take() {
			p.publish(ev)
		}
		observability.SetPublishQueueDepth(p.Len())

		select {
		case <-p.wake:
		case <-ctx.Done():
			for _, ev := range p.take() {
				p.publish(ev)
			}
			p.log.Info("change publisher stopped")
			return nil
		}
	}
}

func (p *Publisher) publish(ev model.PushEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("publish panicked", "app", ev.AppName(), "key", ev.Key, "panic", rec)
		}
	}()

	app := ev.AppName()
	payload, err := p.ser.Marshal(protocol.ViewsPayload{Views: map[string]protocol.ViewEntry{app: Entry(ev)}})
	if err != nil {
		p.log.Error("encode push", "app", app, "key", ev.Key, "err", err)
		return
	}
	sent, global := p.bc.Broadcast(app, protocol.NewCommand(protocol.HotKeyPush, 0, payload))

	observability.IncPushEvent(ev.Added)
	observability.AddPushSent(global, sent)
	p.log.Debug("push sent", "app", app, "key", ev.Key, "added", ev.Added,
		"version", ev.Version, "targets", sent, "global", global)

	for _, o := range p.obs {
		o.Observe(ev)
	}
}

// Entry is the single-key view entry for ev.
func Entry(ev model.PushEvent) protocol.ViewEntry {
	e := protocol.ViewEntry{Version: ev.Version, PrevVersion: ev.PrevVersion}
	if ev.Added {
		e.AddedKey = ev.Key
	} else {
		e.RemovedKey = ev.Key
	}
	return e
}
