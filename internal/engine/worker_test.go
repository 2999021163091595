package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/pkg/schema"
)

func TestWorkerPool_BasicExecution(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 4)
	defer pool.Shutdown()

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(context.Context) error {
			count.Add(1)
			return nil
		}))
	}
	require.NoError(t, pool.Wait())
	assert.Equal(t, int64(10), count.Load())
}

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	const limit = 3
	pool := NewWorkerPool(context.Background(), limit)
	defer pool.Shutdown()

	var active, peak atomic.Int64
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(func(context.Context) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil
		}))
	}
	require.NoError(t, pool.Wait())
	assert.LessOrEqual(t, peak.Load(), int64(limit))
}

func TestWorkerPool_FirstErrorCancelsSiblings(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2)
	defer pool.Shutdown()

	first := errors.New("first")
	sawCancel := make(chan struct{})

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		close(sawCancel)
		return errors.New("sibling")
	}))
	require.NoError(t, pool.Submit(func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return first
	}))

	assert.Equal(t, first, pool.Wait())
	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Fatal("sibling was not cancelled")
	}

	m := pool.Metrics()
	assert.Equal(t, int64(2), m.Failed)
}

func TestWorkerPool_PanicRecovery(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(func(context.Context) error { panic("boom") }))
	err := pool.Wait()
	require.Error(t, err)
	assert.True(t, schema.IsKind(err, schema.ErrorRuntime))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int64(1), pool.Metrics().Panics)
}

func TestWorkerPool_SubmitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(ctx, 1)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(func(context.Context) error {
		<-block
		return nil
	}))

	cancel()
	err := pool.Submit(func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	close(block)
	require.NoError(t, pool.Wait())
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1)
	pool.Shutdown()
	pool.Shutdown()

	err := pool.Submit(func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_MetricsAccuracy(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 5)
	defer pool.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			_ = pool.Submit(func(context.Context) error { return nil })
		}
	}()
	wg.Wait()
	require.NoError(t, pool.Wait())

	m := pool.Metrics()
	assert.Equal(t, int64(0), m.Active)
	assert.Equal(t, int64(10), m.Completed)
	assert.Equal(t, int64(0), m.Failed)
	assert.Equal(t, "active=0 completed=10 failed=0 panics=0", m.String())
}

func TestWorkerPool_ZeroSizeRunsSequentially(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 0)
	defer pool.Shutdown()

	var active, peak atomic.Int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func(context.Context) error {
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return nil
		}))
	}
	require.NoError(t, pool.Wait())
	assert.Equal(t, int64(1), peak.Load())
}
