package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	mu      sync.Mutex
	running int32
	peak    int32
	release chan struct{}
	restart func(req Request) bool
	ctxErrs []error
	causes  []error
}

func (r *blockingRunner) RunJob(ctx context.Context, req Request) Result {
	n := atomic.AddInt32(&r.running, 1)
	defer atomic.AddInt32(&r.running, -1)
	for {
		p := atomic.LoadInt32(&r.peak)
		if n <= p || atomic.CompareAndSwapInt32(&r.peak, p, n) {
			break
		}
	}
	select {
	case <-r.release:
	case <-ctx.Done():
		r.mu.Lock()
		r.ctxErrs = append(r.ctxErrs, ctx.Err())
		r.causes = append(r.causes, context.Cause(ctx))
		r.mu.Unlock()
		return Result{Outcome: Cancelled}
	}
	restart := r.restart != nil && r.restart(req)
	return Result{Outcome: Completed, Restart: restart}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	p := NewPool(context.Background(), r, 2)

	for i := 0; i < 5; i++ {
		_, err := p.Submit(Request{Source: "x"})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.running) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 5, p.Running())

	close(r.release)
	p.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&r.peak))
	assert.Zero(t, p.Running())
}

func TestPool_CancelTask(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	p := NewPool(context.Background(), r, 1)

	id, err := p.Submit(Request{Source: "x"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.running) == 1 }, time.Second, time.Millisecond)

	assert.True(t, p.Cancel(id))
	p.Wait()
	assert.Equal(t, []error{context.Canceled}, r.ctxErrs)
	assert.False(t, p.Cancel(id))
}

func TestPool_RestartSignalledOnceAndDrains(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{}), restart: func(Request) bool { return true }}
	close(r.release)
	p := NewPool(context.Background(), r, 2)

	_, err := p.Submit(Request{Source: "a"})
	require.NoError(t, err)

	select {
	case <-p.Restart():
	case <-time.After(time.Second):
		t.Fatal("restart not signalled")
	}
	p.Wait()

	_, err = p.Submit(Request{Source: "b"})
	assert.ErrorIs(t, err, ErrRestartRequested)
}

func TestPool_ParentCancelStopsQueued(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(ctx, r, 1)

	for i := 0; i < 3; i++ {
		_, err := p.Submit(Request{Source: "x"})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.running) == 1 }, time.Second, time.Millisecond)
	cancel()
	p.Wait()
	assert.Len(t, r.ctxErrs, 1, "only the running task saw its context; queued ones never started")
}

func TestPool_ShutdownCauseReachesJobs(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	ctx, cancel := context.WithCancelCause(context.Background())
	p := NewPool(ctx, r, 2)

	for i := 0; i < 2; i++ {
		_, err := p.Submit(Request{Source: "x"})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.running) == 2 }, time.Second, time.Millisecond)
	cancel(ErrRestartRequested)
	p.Wait()

	require.Len(t, r.causes, 2)
	for _, cause := range r.causes {
		assert.ErrorIs(t, cause, ErrRestartRequested)
	}
}
