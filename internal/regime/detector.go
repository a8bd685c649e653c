// Package regime classifies market conditions from a RegimeSignals
// bundle and applies hysteresis/confirmation counting so the governor
// never reacts to a single noisy classification. An Oracle (an LLM-backed
// classifier, out of scope here) supplies the raw per-cycle
// classification; this package decides whether a confirmed regime change
// has actually occurred and whether a scheduled macro event forces
// event-risk regardless of what the Oracle would say.
package regime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// Oracle is the opaque LLM-backed regime classifier. Cost/tokens are
// returned for the scheduler's observability logging, not consumed here.
type Oracle interface {
	ClassifyRegime(ctx context.Context, signals types.RegimeSignals) (types.RegimeClassification, float64, int, error)
}

// Config configures hysteresis, confirmation, and macro-event locking.
type Config struct {
	ConfirmationCyclesRequired int
	HysteresisEnterThreshold   float64
	// HysteresisExitThreshold is carried for forward-compatible config
	// surfaces but is not separately consulted by Confirm: entering and
	// leaving a regime both pass through the enter-threshold gate, matching
	// the detector this was distilled from.
	HysteresisExitThreshold float64
	EventLockWindowBefore   time.Duration
	EventLockWindowAfter    time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ConfirmationCyclesRequired: 3,
		HysteresisEnterThreshold:   0.7,
		HysteresisExitThreshold:    0.4,
		EventLockWindowBefore:      2 * time.Hour,
		EventLockWindowAfter:       1 * time.Hour,
	}
}

// Detector classifies regimes and confirms changes via majority-vote
// hysteresis over a fixed-size ring buffer of recent classifications.
type Detector struct {
	cfg    Config
	oracle Oracle
	logger *zap.Logger

	mu            sync.Mutex
	currentRegime types.Regime
	history       []types.RegimeClassification // ring buffer, oldest first
	calendar      []types.MacroEvent
}

// NewDetector builds a Detector with the given Oracle and config.
func NewDetector(cfg Config, oracle Oracle, logger *zap.Logger) *Detector {
	return &Detector{
		cfg:           cfg,
		oracle:        oracle,
		logger:        logger.Named("regime.detector"),
		currentRegime: types.RegimeUnknown,
	}
}

// SetCalendar replaces the macro-event calendar consulted by the event
// lock window check.
func (d *Detector) SetCalendar(events []types.MacroEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calendar = events
}

// CurrentRegime returns the last confirmed regime.
func (d *Detector) CurrentRegime() types.Regime {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentRegime
}

// Classify produces one classification pass. If now falls inside a macro
// event's lock window, the Oracle is skipped entirely and event-risk is
// forced at confidence 1.0.
func (d *Detector) Classify(ctx context.Context, signals types.RegimeSignals, now time.Time) (types.RegimeClassification, error) {
	if locked, reason := d.isInEventLockWindow(now); locked {
		d.logger.Info("regime forced to event-risk", zap.String("reason", reason))
		return types.RegimeClassification{
			Regime:     types.RegimeEventRisk,
			Confidence: 1.0,
			Timestamp:  now,
			Signals:    signals,
			Reasoning:  reason,
		}, nil
	}

	classification, cost, tokens, err := d.oracle.ClassifyRegime(ctx, signals)
	if err != nil {
		return types.RegimeClassification{}, fmt.Errorf("regime: oracle classification: %w", err)
	}
	d.logger.Debug("oracle regime classification",
		zap.String("regime", string(classification.Regime)),
		zap.Float64("confidence", classification.Confidence),
		zap.Float64("cost_usd", cost),
		zap.Int("tokens", tokens))
	return classification, nil
}

// isInEventLockWindow reports whether now falls within
// [event.At - before, event.At + after] for any calendar entry.
func (d *Detector) isInEventLockWindow(now time.Time) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ev := range d.calendar {
		lockStart := ev.At.Add(-d.cfg.EventLockWindowBefore)
		lockEnd := ev.At.Add(d.cfg.EventLockWindowAfter)
		if !now.Before(lockStart) && !now.After(lockEnd) {
			return true, fmt.Sprintf("event lock: %s at %s", ev.Name, ev.At)
		}
	}
	return false, ""
}

// Confirm appends a classification to the confirmation ring buffer and
// reports whether it constitutes a confirmed regime change: the ring
// buffer must be full (ConfirmationCyclesRequired classifications) and
// the majority-vote candidate regime must differ from the current one
// with a vote fraction >= HysteresisEnterThreshold.
func (d *Detector) Confirm(classification types.RegimeClassification) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, classification)
	if len(d.history) > d.cfg.ConfirmationCyclesRequired {
		d.history = d.history[len(d.history)-d.cfg.ConfirmationCyclesRequired:]
	}

	if len(d.history) < d.cfg.ConfirmationCyclesRequired {
		return false, "insufficient history for confirmation"
	}

	candidate, count := majorityVote(d.history)
	if candidate == d.currentRegime {
		return false, "no regime change"
	}

	fraction := float64(count) / float64(len(d.history))
	if fraction >= d.cfg.HysteresisEnterThreshold {
		old := d.currentRegime
		d.currentRegime = candidate
		d.logger.Info("regime change confirmed",
			zap.String("old_regime", string(old)),
			zap.String("new_regime", string(candidate)),
			zap.Float64("candidate_fraction", fraction))
		return true, fmt.Sprintf("regime change confirmed: %s -> %s", old, candidate)
	}

	return false, fmt.Sprintf("regime change not confirmed: %.2f < %.2f", fraction, d.cfg.HysteresisEnterThreshold)
}

// majorityVote returns the most frequent regime in history and its count,
// breaking ties by first occurrence for determinism.
func majorityVote(history []types.RegimeClassification) (types.Regime, int) {
	counts := make(map[types.Regime]int, len(history))
	order := make([]types.Regime, 0, len(history))
	for _, c := range history {
		if counts[c.Regime] == 0 {
			order = append(order, c.Regime)
		}
		counts[c.Regime]++
	}

	best := order[0]
	bestCount := counts[best]
	for _, r := range order[1:] {
		if counts[r] > bestCount {
			best = r
			bestCount = counts[r]
		}
	}
	return best, bestCount
}
