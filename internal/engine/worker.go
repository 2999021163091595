package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rendis/sfnsim/pkg/schema"
)

// PoolMetrics tracks worker pool operational metrics.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool is a bounded goroutine pool for Parallel branches and Map
// iterations. The first failure cancels the pool context so sibling work
// unwinds, and is reported by Wait.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool

	ctx     context.Context
	cancel  context.CancelFunc
	errOnce sync.Once
	err     error
}

// NewWorkerPool creates a pool with the given max concurrency whose work runs
// under a context derived from ctx.
func NewWorkerPool(ctx context.Context, size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		sem:    make(chan struct{}, size),
		done:   make(chan struct{}),
		ctx:    poolCtx,
		cancel: cancel,
	}
}

// Submit enqueues work into the pool. It blocks while the pool is at capacity
// and gives up if the pool context ends first.
func (p *WorkerPool) Submit(fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's wg.Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				p.fail(schema.NewErrorf(schema.ErrorRuntime, "panic in concurrent work: %v", r))
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(p.ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
			p.fail(err)
			return
		}
		atomic.AddInt64(&p.metrics.Completed, 1)
	}()

	return nil
}

func (p *WorkerPool) fail(err error) {
	p.errOnce.Do(func() {
		p.err = err
		p.cancel()
	})
}

// Wait blocks until all submitted work completes and returns the first failure.
func (p *WorkerPool) Wait() error {
	p.wg.Wait()
	return p.err
}

// Shutdown stops accepting work, waits for active work and releases the pool context.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}

func (m PoolMetrics) String() string {
	return fmt.Sprintf("active=%d completed=%d failed=%d panics=%d", m.Active, m.Completed, m.Failed, m.Panics)
}
