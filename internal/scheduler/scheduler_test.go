package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFastLoopRunsEveryTick(t *testing.T) {
	var fastCount int64
	fast := func(ctx context.Context) (bool, error) {
		atomic.AddInt64(&fastCount, 1)
		return false, nil
	}

	cfg := Config{FastInterval: 20 * time.Millisecond, MediumInterval: time.Hour, SlowInterval: time.Hour}
	s := New(cfg, fast, nil, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(90 * time.Millisecond)
	cancel()
	s.Stop()

	require.GreaterOrEqual(t, atomic.LoadInt64(&fastCount), int64(3))
}

func TestMediumLoopRunsOnceImmediatelyThenWaitsForInterval(t *testing.T) {
	var mediumCount int64
	fast := func(ctx context.Context) (bool, error) { return false, nil }
	medium := func(ctx context.Context) (bool, error) {
		atomic.AddInt64(&mediumCount, 1)
		return false, nil
	}

	cfg := Config{FastInterval: 15 * time.Millisecond, MediumInterval: time.Hour, SlowInterval: time.Hour}
	s := New(cfg, fast, medium, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(80 * time.Millisecond)
	cancel()
	s.Stop()

	require.Equal(t, int64(1), atomic.LoadInt64(&mediumCount))
}

func TestTripwireEscalationForcesSlowLoopNextTick(t *testing.T) {
	var slowCount int64
	escalateOnce := true
	fast := func(ctx context.Context) (bool, error) {
		if escalateOnce {
			escalateOnce = false
			return true, nil
		}
		return false, nil
	}
	slow := func(ctx context.Context) (bool, error) {
		atomic.AddInt64(&slowCount, 1)
		return false, nil
	}

	cfg := Config{FastInterval: 15 * time.Millisecond, MediumInterval: time.Hour, SlowInterval: time.Hour}
	s := New(cfg, fast, nil, slow, zap.NewNop())
	// Prime lastSlow so the slow loop would not otherwise be due this soon.
	now := time.Now()
	s.lastSlow = &now

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(80 * time.Millisecond)
	cancel()
	s.Stop()

	require.GreaterOrEqual(t, atomic.LoadInt64(&slowCount), int64(1))
}

func TestLoopPanicIsRecoveredAndDoesNotStopScheduler(t *testing.T) {
	var fastCount int64
	fast := func(ctx context.Context) (bool, error) {
		n := atomic.AddInt64(&fastCount, 1)
		if n == 1 {
			panic("boom")
		}
		return false, nil
	}

	cfg := Config{FastInterval: 15 * time.Millisecond, MediumInterval: time.Hour, SlowInterval: time.Hour}
	s := New(cfg, fast, nil, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(80 * time.Millisecond)
	cancel()
	s.Stop()

	require.GreaterOrEqual(t, atomic.LoadInt64(&fastCount), int64(2))
}

func TestLoopErrorIsLoggedNotFatal(t *testing.T) {
	fast := func(ctx context.Context) (bool, error) { return false, errors.New("transient failure") }
	cfg := Config{FastInterval: 15 * time.Millisecond, MediumInterval: time.Hour, SlowInterval: time.Hour}
	s := New(cfg, fast, nil, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(40 * time.Millisecond)
	cancel()
	s.Stop()
}
