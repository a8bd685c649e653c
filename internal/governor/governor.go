// Package governor holds the single active strategy plan and gates when
// it may change: dwell time, cooldown, and rebalancing-in-progress all
// block review; a confirmed regime change overrides dwell but never
// cooldown or an in-progress rebalance. Persistence is atomic (temp file
// + rename) so a crash mid-write never leaves a torn state file.
package governor

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// Config configures review gating, change-approval threshold, and
// rebalance pacing.
type Config struct {
	MinimumAdvantageOverCostBps float64
	CooldownAfterChangeMinutes  float64
	PartialRotationPctPerCycle  float64
	StatePersistencePath        string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinimumAdvantageOverCostBps: 50.0,
		CooldownAfterChangeMinutes:  60,
		PartialRotationPctPerCycle:  25.0,
		StatePersistencePath:        "state/governor.json",
	}
}

// Governor owns the active plan and serializes all mutating access to it
// behind a mutex; persistence happens inside the same critical section so
// the on-disk state is never torn relative to in-memory state.
type Governor struct {
	cfg    Config
	logger *zap.Logger

	mu             sync.Mutex
	activePlan     *types.StrategyPlanCard
	lastChangeAt   *time.Time
	rebalance      *types.RebalanceSchedule
}

// persistedState is the on-disk JSON shape.
type persistedState struct {
	ActivePlan   *types.StrategyPlanCard   `json:"active_plan"`
	LastChangeAt *time.Time                `json:"last_change_at"`
	Rebalance    *types.RebalanceSchedule  `json:"rebalance_schedule"`
}

// New builds a Governor and attempts to load persisted state. A missing
// or corrupt state file is logged and treated as empty state rather than
// causing startup to fail.
func New(cfg Config, logger *zap.Logger) *Governor {
	g := &Governor{cfg: cfg, logger: logger.Named("governor")}
	g.load()
	return g
}

// ActivePlan returns the currently active plan, or nil.
func (g *Governor) ActivePlan() *types.StrategyPlanCard {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activePlan
}

// CanReview reports whether a plan review is currently permitted. Checked
// in spec-mandated priority order: rebalancing in progress, then dwell
// (bypassed if regimeChangeConfirmed), then cooldown.
func (g *Governor) CanReview(now time.Time, regimeChangeConfirmed bool) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.activePlan == nil {
		return true, "No active plan"
	}

	if g.activePlan.Status == types.PlanStatusRebalancing {
		return false, "Rebalancing in progress"
	}

	dwellOverridden := false
	if g.activePlan.ActivatedAt != nil {
		dwellElapsed := now.Sub(*g.activePlan.ActivatedAt).Minutes()
		minDwell, _ := g.activePlan.MinimumDwellMinutes.Float64()
		if dwellElapsed < minDwell {
			if !regimeChangeConfirmed {
				return false, fmt.Sprintf("Dwell time not met: %.1f/%d min", dwellElapsed, int(minDwell))
			}
			dwellOverridden = true
		}
	}

	if g.lastChangeAt != nil {
		cooldownElapsed := now.Sub(*g.lastChangeAt).Minutes()
		if cooldownElapsed < g.cfg.CooldownAfterChangeMinutes {
			return false, fmt.Sprintf("Cooldown active: %.1f/%d min", cooldownElapsed, int(g.cfg.CooldownAfterChangeMinutes))
		}
	}

	if dwellOverridden {
		return true, "regime change override"
	}
	return true, "Review permitted"
}

// EvaluateProposal approves a change iff its net advantage (expected
// advantage minus change cost) clears MinimumAdvantageOverCostBps.
func (g *Governor) EvaluateProposal(proposal types.PlanChangeProposal) (bool, string) {
	netAdvantage, _ := proposal.ExpectedAdvantageBps.Sub(proposal.ChangeCostBps).Float64()
	if netAdvantage < g.cfg.MinimumAdvantageOverCostBps {
		return false, fmt.Sprintf("Insufficient advantage: %.1f < %.1f bps", netAdvantage, g.cfg.MinimumAdvantageOverCostBps)
	}
	return true, fmt.Sprintf("Approved: %.1f bps net advantage", netAdvantage)
}

// Activate installs a new plan as active. If the previous plan had
// overlapping target allocations, it computes a rebalance schedule and
// leaves the plan in PlanStatusRebalancing until the schedule completes;
// otherwise the plan goes straight to PlanStatusActive.
func (g *Governor) Activate(plan *types.StrategyPlanCard, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	activatedAt := now
	plan.ActivatedAt = &activatedAt

	if g.activePlan != nil && overlaps(g.activePlan.TargetAllocations, plan.TargetAllocations) {
		schedule := buildRebalanceSchedule(g.activePlan.TargetAllocations, plan.TargetAllocations, g.cfg.PartialRotationPctPerCycle)
		plan.Status = types.PlanStatusRebalancing
		g.rebalance = &schedule
	} else {
		plan.Status = types.PlanStatusActive
		g.rebalance = nil
	}

	old := g.activePlan
	g.activePlan = plan
	g.lastChangeAt = &now
	g.persist()

	oldName := ""
	if old != nil {
		oldName = old.StrategyName
	}
	g.logger.Info("plan activated",
		zap.String("old_strategy", oldName),
		zap.String("new_strategy", plan.StrategyName),
		zap.String("plan_id", plan.PlanID),
		zap.String("status", string(plan.Status)))
}

// overlaps reports whether two allocation sets share at least one coin,
// the signal that a partial rebalance (rather than an instant switch)
// applies.
func overlaps(from, to []types.TargetAllocation) bool {
	coins := make(map[string]bool, len(from))
	for _, a := range from {
		coins[a.Coin] = true
	}
	for _, a := range to {
		if coins[a.Coin] {
			return true
		}
	}
	return false
}

// buildRebalanceSchedule interpolates from/to allocations in equal steps
// of pctPerCycle, per spec.md §4.7's worked example.
func buildRebalanceSchedule(from, to []types.TargetAllocation, pctPerCycle float64) types.RebalanceSchedule {
	stepsTotal := int(math.Ceil(100 / pctPerCycle))
	return types.RebalanceSchedule{
		FromAllocations: from,
		ToAllocations:   to,
		StepPct:         decimal.NewFromFloat(pctPerCycle),
		StepsTotal:      stepsTotal,
		StepsDone:       0,
	}
}

// RebalanceStatus is the read-only view of the in-progress rebalance
// schedule, or (false, ...) if no rebalance is active.
func (g *Governor) RebalanceStatus() (types.RebalanceSchedule, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rebalance == nil {
		return types.RebalanceSchedule{}, false
	}
	return *g.rebalance, true
}

// CurrentRebalanceTargets interpolates the allocations for the current
// step of an in-progress rebalance schedule. Returns nil if no rebalance
// is active.
func (g *Governor) CurrentRebalanceTargets() []types.TargetAllocation {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rebalance == nil {
		return nil
	}
	return interpolate(*g.rebalance)
}

// interpolate computes the target allocations at the schedule's current
// step, linearly blending from -> to per coin.
func interpolate(sched types.RebalanceSchedule) []types.TargetAllocation {
	progress := decimal.NewFromInt(int64(sched.StepsDone + 1)).Mul(sched.StepPct).Div(decimal.NewFromInt(100))
	if progress.GreaterThan(decimal.NewFromInt(1)) {
		progress = decimal.NewFromInt(1)
	}

	fromByCoin := make(map[string]decimal.Decimal, len(sched.FromAllocations))
	for _, a := range sched.FromAllocations {
		fromByCoin[a.Coin] = a.TargetPct
	}

	out := make([]types.TargetAllocation, len(sched.ToAllocations))
	for i, to := range sched.ToAllocations {
		fromPct, ok := fromByCoin[to.Coin]
		if !ok {
			fromPct = decimal.Zero
		}
		delta := to.TargetPct.Sub(fromPct)
		out[i] = types.TargetAllocation{
			Coin:       to.Coin,
			TargetPct:  fromPct.Add(delta.Mul(progress)),
			MarketType: to.MarketType,
			Leverage:   to.Leverage,
		}
	}
	return out
}

// AdvanceRebalanceStep advances the in-progress rebalance schedule by one
// step. Once StepsDone reaches StepsTotal, the active plan's status
// returns to active and the schedule is cleared.
func (g *Governor) AdvanceRebalanceStep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rebalance == nil {
		return
	}

	g.rebalance.StepsDone++
	if g.rebalance.StepsDone >= g.rebalance.StepsTotal {
		if g.activePlan != nil {
			g.activePlan.Status = types.PlanStatusActive
			g.activePlan.RebalanceProgressPct = decimal.NewFromInt(100)
		}
		g.rebalance = nil
	} else if g.activePlan != nil {
		g.activePlan.RebalanceProgressPct = decimal.NewFromInt(int64(g.rebalance.StepsDone)).Mul(g.rebalance.StepPct)
	}
	g.persist()
}

// InvalidateActivePlan marks the active plan invalidated (tripwire
// INVALIDATE_PLAN action): it stops being executed but is not replaced
// until the Oracle proposes a successor on the next medium loop.
func (g *Governor) InvalidateActivePlan() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activePlan == nil {
		return
	}
	g.activePlan.Status = types.PlanStatusInvalidated
	g.persist()
}

// load reads persisted state from disk. Any read/parse failure is logged
// and treated as empty state.
func (g *Governor) load() {
	data, err := os.ReadFile(g.cfg.StatePersistencePath)
	if err != nil {
		if !os.IsNotExist(err) {
			g.logger.Warn("failed to read governor state, starting clean", zap.Error(err))
		}
		return
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		g.logger.Warn("failed to parse governor state, starting clean", zap.Error(err))
		return
	}

	g.activePlan = state.ActivePlan
	g.lastChangeAt = state.LastChangeAt
	g.rebalance = state.Rebalance
}

// persist atomically writes the current state (temp file + rename), and
// must be called with mu held so the on-disk state is never torn
// relative to the in-memory state it reflects.
func (g *Governor) persist() {
	state := persistedState{
		ActivePlan:   g.activePlan,
		LastChangeAt: g.lastChangeAt,
		Rebalance:    g.rebalance,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		g.logger.Error("failed to marshal governor state", zap.Error(err))
		return
	}

	path := g.cfg.StatePersistencePath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		g.logger.Error("failed to create state directory", zap.Error(err))
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		g.logger.Error("failed to write governor state", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		g.logger.Error("failed to rename governor state into place", zap.Error(err))
	}
}
