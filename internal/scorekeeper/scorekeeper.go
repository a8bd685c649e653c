// Package scorekeeper tracks realized PnL, drift, and drawdown per active
// plan, and maintains paper-traded shadow portfolios used to estimate the
// opportunity cost the governor's change-cost model needs. Completed
// plans are appended to a JSON-lines log on disk.
package scorekeeper

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// Scorekeeper maintains one PlanMetrics per active plan, a set of shadow
// portfolios, and appends finalized plans to an on-disk completed-plans
// log.
type Scorekeeper struct {
	mu      sync.Mutex
	logger  *zap.Logger
	logPath string

	active  *types.PlanMetrics
	shadows map[string]*types.ShadowPortfolio
}

// New builds a Scorekeeper backed by a JSON-lines log at logPath. The
// containing directory is created if missing.
func New(logPath string, logger *zap.Logger) (*Scorekeeper, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("scorekeeper: create log directory: %w", err)
	}
	return &Scorekeeper{
		logger:  logger.Named("scorekeeper"),
		logPath: logPath,
		shadows: make(map[string]*types.ShadowPortfolio),
	}, nil
}

// StartPlan begins tracking PlanMetrics for a newly activated plan,
// finalizing and logging any plan that was previously active.
func (s *Scorekeeper) StartPlan(planID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.finalizeLocked(now)
	}

	s.active = &types.PlanMetrics{
		PlanID:      planID,
		ActivatedAt: now,
	}
}

// OnSnapshot updates the active plan's PnL, peak value, drawdown, and
// drift-from-targets on every account snapshot. No-op if no plan is
// active.
func (s *Scorekeeper) OnSnapshot(state types.AccountState, allocations []types.TargetAllocation, planStartValue decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}

	s.active.TotalPnL = state.PortfolioValue.Sub(planStartValue)
	s.active.RealizedPnL = s.active.TotalPnL // realized vs. mark-to-market split is a venue-fill concern not modeled here

	if state.PortfolioValue.GreaterThan(s.active.PeakPortfolioValue) {
		s.active.PeakPortfolioValue = state.PortfolioValue
	}
	if s.active.PeakPortfolioValue.IsPositive() {
		dd := percentageChange(s.active.PeakPortfolioValue, state.PortfolioValue).Neg()
		if dd.GreaterThan(s.active.MaxDrawdownPct) {
			s.active.MaxDrawdownPct = dd
		}
	}

	s.active.AvgDriftPct = driftFromTargets(state, allocations)
}

// driftFromTargets computes the mean absolute deviation between actual
// position weight and target weight, across all allocations.
func driftFromTargets(state types.AccountState, allocations []types.TargetAllocation) decimal.Decimal {
	if len(allocations) == 0 || !state.PortfolioValue.IsPositive() {
		return decimal.Zero
	}

	actualPct := make(map[string]decimal.Decimal, len(state.Positions))
	for _, pos := range state.Positions {
		value := pos.Size.Mul(pos.CurrentPrice)
		pct := value.Div(state.PortfolioValue).Mul(decimal.NewFromInt(100)).Round(6)
		actualPct[pos.Coin] = actualPct[pos.Coin].Add(pct)
	}

	sum := decimal.Zero
	for _, alloc := range allocations {
		actual := actualPct[alloc.Coin]
		sum = sum.Add(actual.Sub(alloc.TargetPct).Abs())
	}
	return sum.Div(decimal.NewFromInt(int64(len(allocations))))
}

// percentageChange returns the percentage change from base to current,
// i.e. ((current - base) / base) * 100. Zero if base is zero.
func percentageChange(base, current decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return current.Sub(base).Div(base).Mul(decimal.NewFromInt(100))
}

// RecordTrade records one fill's outcome, incrementally updating the hit
// rate and average slippage.
func (s *Scorekeeper) RecordTrade(winning bool, slippageBps decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}

	prevCount := decimal.NewFromInt(int64(s.active.TradeCount))
	s.active.AvgSlippageBps = s.active.AvgSlippageBps.Mul(prevCount).Add(slippageBps).Div(prevCount.Add(decimal.NewFromInt(1)))

	s.active.TradeCount++
	if winning {
		s.active.WinningTradeCount++
	}
	s.active.HitRate = decimal.NewFromInt(int64(s.active.WinningTradeCount)).Div(decimal.NewFromInt(int64(s.active.TradeCount))).Mul(decimal.NewFromInt(100))
}

// RecordRebalanceStep increments the active plan's rebalance counter.
func (s *Scorekeeper) RecordRebalanceStep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.RebalanceCount++
	}
}

// FinalizePlan finalizes the active plan (if any), appends it to the
// completed-plans log, and clears it.
func (s *Scorekeeper) FinalizePlan(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeLocked(now)
}

func (s *Scorekeeper) finalizeLocked(now time.Time) {
	if s.active == nil {
		return
	}
	finalizedAt := now
	s.active.FinalizedAt = &finalizedAt

	if err := s.appendLocked(*s.active); err != nil {
		s.logger.Error("failed to append completed plan", zap.Error(err), zap.String("plan_id", s.active.PlanID))
	} else {
		s.logger.Info("plan finalized",
			zap.String("plan_id", s.active.PlanID),
			zap.String("total_pnl", s.active.TotalPnL.String()),
			zap.String("max_drawdown_pct", s.active.MaxDrawdownPct.String()),
			zap.Int("trade_count", s.active.TradeCount))
	}
	s.active = nil
}

// appendLocked appends one JSON-encoded PlanMetrics record as a line to
// the completed-plans log. Must be called with mu held.
func (s *Scorekeeper) appendLocked(metrics types.PlanMetrics) error {
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open completed-plans log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal plan metrics: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write plan metrics: %w", err)
	}
	return nil
}

// CompletedPlans reads every record from the completed-plans log.
func (s *Scorekeeper) CompletedPlans() ([]types.PlanMetrics, error) {
	f, err := os.Open(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open completed-plans log: %w", err)
	}
	defer f.Close()

	var out []types.PlanMetrics
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m types.PlanMetrics
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			return nil, fmt.Errorf("parse completed-plans log: %w", err)
		}
		out = append(out, m)
	}
	return out, scanner.Err()
}

// ActiveMetrics returns the currently tracked plan's metrics, if any.
func (s *Scorekeeper) ActiveMetrics() (types.PlanMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return types.PlanMetrics{}, false
	}
	return *s.active, true
}

// StartShadow begins paper-tracking a competing strategy for opportunity
// cost estimation.
func (s *Scorekeeper) StartShadow(name string, allocations []types.TargetAllocation, startValue decimal.Decimal, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shadows[name] = &types.ShadowPortfolio{
		StrategyName: name,
		Allocations:  allocations,
		StartValue:   startValue,
		MarkedValue:  startValue,
		StartedAt:    now,
	}
}

// MarkShadow updates a shadow portfolio's mark-to-market value.
func (s *Scorekeeper) MarkShadow(name string, markedValue decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sp, ok := s.shadows[name]; ok {
		sp.MarkedValue = markedValue
	}
}

// OpportunityCostBps returns the best-performing shadow portfolio's
// return advantage over the active plan, in bps, floored at 0 per
// spec.md's change-cost model.
func (s *Scorekeeper) OpportunityCostBps(activePlanReturn decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := decimal.Zero
	for _, sp := range s.shadows {
		if !sp.StartValue.IsPositive() {
			continue
		}
		shadowReturn := sp.MarkedValue.Sub(sp.StartValue).Div(sp.StartValue)
		advantageBps := shadowReturn.Sub(activePlanReturn).Mul(decimal.NewFromInt(10000))
		if advantageBps.GreaterThan(best) {
			best = advantageBps
		}
	}
	return best
}
