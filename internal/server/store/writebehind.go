package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
)

// Saver persists one result, e.g. *redisstore.Client.
type Saver interface {
	Save(ctx context.Context, r *model.HotKeyResult) error
}

// WriteBehind serves reads from the wrapped store and copies every Put to
// a Saver from a background goroutine, so detection never waits on I/O.
// When the queue is full the write is dropped; the next change of that
// application carries the full set again.
type WriteBehind struct {
	Store
	saver   Saver
	log     *slog.Logger
	ch      chan *model.HotKeyResult
	timeout time.Duration
}

func NewWriteBehind(inner Store, saver Saver, queue int, log *slog.Logger) *WriteBehind {
	if queue <= 0 {
		queue = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &WriteBehind{
		Store:   inner,
		saver:   saver,
		log:     log,
		ch:      make(chan *model.HotKeyResult, queue),
		timeout: 2 * time.Second,
	}
}

func (w *WriteBehind) Put(r *model.HotKeyResult) {
	w.Store.Put(r)
	if r == nil {
		return
	}
	select {
	case w.ch <- r:
	default:
		w.log.Warn("result mirror queue full; dropping write", "app", r.AppName, "version", r.Version)
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (w *WriteBehind) Run(ctx context.Context) error {
	for {
		select {
		case r := <-w.ch:
			w.save(context.Background(), r)
		case <-ctx.Done():
			for {
				select {
				case r := <-w.ch:
					w.save(context.Background(), r)
				default:
					return nil
				}
			}
		}
	}
}

func (w *WriteBehind) save(parent context.Context, r *model.HotKeyResult) {
	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()
	if err := w.saver.Save(ctx, r); err != nil {
		w.log.Error("result mirror write failed", "app", r.AppName, "version", r.Version, "err", err)
	}
}
