package workers

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(t *testing.T, cfg *PoolConfig) *Pool {
	t.Helper()
	p := NewPool(zap.NewNop(), cfg)
	p.Start()
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig("collector")
	require.Equal(t, "collector", cfg.Name)
	require.Greater(t, cfg.NumWorkers, 0)
	require.Greater(t, cfg.QueueSize, 0)
	require.True(t, cfg.PanicRecovery)
}

func TestPoolSubmitFuncRunsTask(t *testing.T) {
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = 2
	cfg.QueueSize = 8
	p := newTestPool(t, cfg)

	var ran atomic.Bool
	done := make(chan struct{})
	err := p.SubmitFunc(func() error {
		ran.Store(true)
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	require.True(t, ran.Load())
}

func TestPoolSubmitAfterStopReturnsError(t *testing.T) {
	cfg := DefaultPoolConfig("test")
	p := NewPool(zap.NewNop(), cfg)
	p.Start()
	require.NoError(t, p.Stop())

	err := p.SubmitFunc(func() error { return nil })
	require.ErrorIs(t, err, ErrPoolStopped)
}

func TestPoolSubmitReturnsQueueFullWhenSaturated(t *testing.T) {
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = 1
	cfg.QueueSize = 1
	p := NewPool(zap.NewNop(), cfg)
	// Marked running without starting workers: nothing drains the queue,
	// so it fills deterministically.
	p.running.Store(true)

	require.NoError(t, p.SubmitFunc(func() error { return nil }))
	err := p.SubmitFunc(func() error { return nil })
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestPoolTaskTimeoutDoesNotBlockPool(t *testing.T) {
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = 1
	cfg.QueueSize = 4
	cfg.TaskTimeout = 20 * time.Millisecond
	p := newTestPool(t, cfg)

	blocked := make(chan struct{})
	require.NoError(t, p.SubmitFunc(func() error {
		<-blocked
		return nil
	}))

	var ran atomic.Bool
	done := make(chan struct{})
	require.NoError(t, p.SubmitFunc(func() error {
		ran.Store(true)
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second task never ran after first timed out")
	}
	require.True(t, ran.Load())
	close(blocked)
}

func TestPoolRecoversFromPanickingTask(t *testing.T) {
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = 1
	cfg.QueueSize = 4
	p := newTestPool(t, cfg)

	var ran atomic.Bool
	done := make(chan struct{})
	require.NoError(t, p.SubmitFunc(func() error {
		panic("boom")
	}))
	require.NoError(t, p.SubmitFunc(func() error {
		ran.Store(true)
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	require.True(t, ran.Load())
}

func TestPoolStopIsIdempotent(t *testing.T) {
	p := NewPool(zap.NewNop(), DefaultPoolConfig("test"))
	p.Start()
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
}

func TestPanicErrorMessage(t *testing.T) {
	err := &PanicError{Recovered: errors.New("boom")}
	require.Equal(t, "panic recovered", err.Error())
}
