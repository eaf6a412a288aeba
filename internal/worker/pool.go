// Package worker runs tasks on a fixed set of goroutines. Tasks sharing a
// shard key run on the same goroutine, in submission order.
package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/observability"
)

type Task func(ctx context.Context)

type job struct {
	key string
	fn  Task
}

type Pool struct {
	log    *slog.Logger
	queues []chan job

	mu      sync.RWMutex
	started bool
	stopped bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(workers, queueSize int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{log: log, queues: make([]chan job, workers)}
	for i := range p.queues {
		p.queues[i] = make(chan job, queueSize)
	}
	return p
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(len(p.queues))
	for i, q := range p.queues {
		go func() {
			defer p.wg.Done()
			for j := range q {
				p.run(ctx, i, j)
			}
		}()
	}
	p.log.Info("worker pool started", "workers", len(p.queues))
}

func (p *Pool) run(ctx context.Context, worker int, j job) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.IncWorkerPanic()
			p.log.Error("worker task panicked",
				"worker", worker, "shard_key", j.key, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	j.fn(ctx)
}

// Submit enqueues fn without blocking; it reports false when the target
// queue is full or the pool is stopped.
func (p *Pool) Submit(shardKey string, fn func(ctx context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	q := p.queues[p.pick(shardKey)]
	select {
	case q <- job{key: shardKey, fn: fn}:
		return true
	default:
		observability.IncWorkerDropped()
		return false
	}
}

func (p *Pool) pick(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.queues)))
}

// Stop rejects new tasks, runs what is queued and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
		p.cancel()
	}
	p.log.Info("worker pool stopped")
}
