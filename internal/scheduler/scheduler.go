// Package scheduler drives the fast/medium/slow loop cadence: one ticker
// at the fast interval decides, each tick, which of the medium and slow
// loops are due, launches every due loop concurrently, and completes the
// tick only once everything it launched has finished. A panic or error in
// one loop is isolated to that loop and never prevents the others from
// running.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LoopFunc runs one pass of a loop. escalateSlowLoop, returned only by the
// fast loop, signals that the fast loop observed an ESCALATE_TO_SLOW_LOOP
// tripwire action and the slow loop must run on the very next tick.
type LoopFunc func(ctx context.Context) (escalateSlowLoop bool, err error)

// Config sets the three loop cadences.
type Config struct {
	FastInterval   time.Duration
	MediumInterval time.Duration
	SlowInterval   time.Duration
}

// DefaultConfig returns spec.md's documented cadences.
func DefaultConfig() Config {
	return Config{
		FastInterval:   10 * time.Second,
		MediumInterval: 30 * time.Minute,
		SlowInterval:   24 * time.Hour,
	}
}

// Scheduler runs Fast on every tick and Medium/Slow whenever they fall
// due, all driven off a single fast-interval ticker.
type Scheduler struct {
	cfg    Config
	logger *zap.Logger

	fast   LoopFunc
	medium LoopFunc
	slow   LoopFunc

	mu          sync.Mutex
	lastMedium  *time.Time
	lastSlow    *time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Scheduler. Any of medium/slow may be nil, in which case
// that cadence never runs (useful for a fast-loop-only test harness).
func New(cfg Config, fast, medium, slow LoopFunc, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		logger: logger.Named("scheduler"),
		fast:   fast,
		medium: medium,
		slow:   slow,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the driver loop until ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the driver loop to exit and blocks until it has.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.FastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs the fast loop and any due medium/slow loops concurrently,
// completing only once every loop launched this pass has finished.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runLoop(ctx, "fast", s.fast, func(escalate bool) {
			if escalate {
				s.mu.Lock()
				s.lastSlow = nil
				s.mu.Unlock()
				s.logger.Warn("tripwire escalated to slow loop; scheduling immediately")
			}
		})
	}()

	if s.medium != nil && s.mediumDue(now) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runLoop(ctx, "medium", s.medium, nil)
			s.mu.Lock()
			t := time.Now()
			s.lastMedium = &t
			s.mu.Unlock()
		}()
	}

	if s.slow != nil && s.slowDue(now) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runLoop(ctx, "slow", s.slow, nil)
			s.mu.Lock()
			t := time.Now()
			s.lastSlow = &t
			s.mu.Unlock()
		}()
	}

	wg.Wait()
}

func (s *Scheduler) mediumDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMedium == nil || now.Sub(*s.lastMedium) >= s.cfg.MediumInterval
}

func (s *Scheduler) slowDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSlow == nil || now.Sub(*s.lastSlow) >= s.cfg.SlowInterval
}

// runLoop executes fn with panic recovery so a bug in one loop can never
// take down the scheduler or block a sibling loop.
func (s *Scheduler) runLoop(ctx context.Context, name string, fn LoopFunc, onResult func(escalate bool)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("loop panic recovered", zap.String("loop", name), zap.Any("panic", r))
		}
	}()

	escalate, err := fn(ctx)
	if err != nil {
		s.logger.Error("loop returned error", zap.String("loop", name), zap.Error(err))
	}
	if onResult != nil {
		onResult(escalate)
	}
}

// LastMedium returns the last time the medium loop completed, if ever.
func (s *Scheduler) LastMedium() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMedium
}

// LastSlow returns the last time the slow loop completed, if ever.
func (s *Scheduler) LastSlow() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSlow
}
