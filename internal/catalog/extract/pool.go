// Package extract runs field extractions on a fixed set of workers fed by a
// bounded queue. Submitting blocks once the queue is full, which throttles
// producers to the speed of the workers.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is reported for tasks submitted to, or still queued in, a
// closed pool.
var ErrPoolClosed = errors.New("extraction pool closed")

const (
	DefaultWorkers = 6
	DefaultBound   = 5
)

// job is one queued unit. abort is called instead of run when the pool shuts
// down before a worker picks the job up.
type job struct {
	run   func()
	abort func()
}

// Pool is a fixed worker pool. It is safe for concurrent use and shared by
// every record being indexed.
type Pool struct {
	tasks   chan job
	closed  chan struct{}
	mu      sync.RWMutex
	wg      sync.WaitGroup
	once    sync.Once
	workers int
	logger  *slog.Logger

	maxDepth atomic.Int64
	observe  func(depth int)
}

// Option configures a Pool.
type Option func(*Pool)

// WithDepthObserver reports the queue depth after every submission.
func WithDepthObserver(fn func(depth int)) Option {
	return func(p *Pool) { p.observe = fn }
}

// WithLogger sets the logger used to report panicking tasks.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// NewPool starts workers goroutines reading a queue of capacity bound.
func NewPool(workers, bound int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if bound <= 0 {
		bound = DefaultBound
	}
	p := &Pool{
		tasks:   make(chan job, bound),
		closed:  make(chan struct{}),
		workers: workers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closed:
			return
		case j := <-p.tasks:
			// Both cases may have been ready; once Close has begun, queued
			// work is aborted rather than run.
			select {
			case <-p.closed:
				j.abort()
			default:
				j.run()
			}
		}
	}
}

// submit enqueues j, blocking while the queue is full.
func (p *Pool) submit(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.closed:
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- j:
		depth := len(p.tasks)
		for {
			cur := p.maxDepth.Load()
			if int64(depth) <= cur || p.maxDepth.CompareAndSwap(cur, int64(depth)) {
				break
			}
		}
		if p.observe != nil {
			p.observe(depth)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return ErrPoolClosed
	}
}

// MaxQueueDepth is the largest number of queued, not yet started, tasks
// observed since the pool started.
func (p *Pool) MaxQueueDepth() int { return int(p.maxDepth.Load()) }

// Bound is the queue capacity.
func (p *Pool) Bound() int { return cap(p.tasks) }

// Workers is the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Close stops the workers. Tasks still queued are aborted so that waiting
// groups observe ErrPoolClosed. Close is idempotent.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.closed)
		// Submitters hold the read lock while sending; once the write lock
		// is ours nothing else can enter the queue.
		p.mu.Lock()
		p.wg.Wait()
		for {
			select {
			case j := <-p.tasks:
				j.abort()
			default:
				p.mu.Unlock()
				return
			}
		}
	})
}

// Result is the outcome of one task, tagged with its key.
type Result[T any] struct {
	Key   string
	Value T
	Err   error
}

// Group is one scatter-gather round on a Pool. Results arrive in completion
// order on a channel buffered to the expected fan-in, so workers never block
// on delivery.
type Group[T any] struct {
	pool      *Pool
	ctx       context.Context
	cancel    context.CancelFunc
	results   chan Result[T]
	submitted int
	size      int
}

// NewGroup prepares a round of at most size tasks.
func NewGroup[T any](ctx context.Context, p *Pool, size int) *Group[T] {
	gctx, cancel := context.WithCancel(ctx)
	return &Group[T]{
		pool:    p,
		ctx:     gctx,
		cancel:  cancel,
		results: make(chan Result[T], size),
		size:    size,
	}
}

// Go submits fn under key. It blocks while the pool queue is full and fails
// when the context ends or the pool is closed.
func (g *Group[T]) Go(key string, fn func(ctx context.Context) (T, error)) error {
	if g.submitted >= g.size {
		return fmt.Errorf("extraction group full: %d tasks", g.size)
	}
	deliver := func(r Result[T]) { g.results <- r }
	j := job{
		run: func() {
			if err := g.ctx.Err(); err != nil {
				deliver(Result[T]{Key: key, Err: err})
				return
			}
			deliver(g.protect(key, fn))
		},
		abort: func() { deliver(Result[T]{Key: key, Err: ErrPoolClosed}) },
	}
	if err := g.pool.submit(g.ctx, j); err != nil {
		return err
	}
	g.submitted++
	return nil
}

func (g *Group[T]) protect(key string, fn func(ctx context.Context) (T, error)) (res Result[T]) {
	res.Key = key
	defer func() {
		if r := recover(); r != nil {
			g.pool.logger.Error("extraction task panicked", "key", key, "panic", r)
			res.Err = fmt.Errorf("extraction of %s panicked: %v", key, r)
		}
	}()
	res.Value, res.Err = fn(g.ctx)
	return res
}

// Wait drains exactly as many results as tasks were submitted, in
// completion order.
func (g *Group[T]) Wait() []Result[T] {
	defer g.cancel()
	out := make([]Result[T], 0, g.submitted)
	for i := 0; i < g.submitted; i++ {
		out = append(out, <-g.results)
	}
	return out
}

// Cancel makes queued tasks of this group skip their work.
func (g *Group[T]) Cancel() { g.cancel() }
