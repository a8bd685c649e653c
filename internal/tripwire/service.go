// Package tripwire evaluates account-safety, plan-invalidation, and
// operational-health predicates against the latest account snapshot and
// active plan, emitting prioritized events that carry a mandated
// override action. A single predicate panicking must never take down the
// whole check pass; each predicate runs under its own recover.
package tripwire

import (
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// Config configures the threshold values for every predicate.
type Config struct {
	MinMarginRatio                float64
	LiquidationProximityThreshold float64
	DailyLossLimitPct             float64
	CheckInvalidationTriggers     bool
	MaxDataStalenessSeconds       float64
	MaxAPIFailureCount            int64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinMarginRatio:                0.15,
		LiquidationProximityThreshold: 0.25,
		DailyLossLimitPct:             5.0,
		CheckInvalidationTriggers:     true,
		MaxDataStalenessSeconds:       300,
		MaxAPIFailureCount:            3,
	}
}

// Service holds the mutable day-scoped tracking state (baseline portfolio
// value for the daily-loss predicate, running API failure count) across
// repeated CheckAll calls.
type Service struct {
	cfg    Config
	logger *zap.Logger

	dailyStartPortfolioValue *decimal.Decimal
	apiFailureCount          int64
}

// New builds a Service.
func New(cfg Config, logger *zap.Logger) *Service {
	return &Service{cfg: cfg, logger: logger.Named("tripwire")}
}

// RecordAPIFailure increments the operational API-failure counter.
func (s *Service) RecordAPIFailure() {
	s.apiFailureCount++
}

// ResetAPIFailureCount clears the operational API-failure counter, called
// after a successful call restores confidence in the upstream connection.
func (s *Service) ResetAPIFailureCount() {
	s.apiFailureCount = 0
}

// ResetDailyTracking rebases the daily-loss baseline, called once per
// trading day.
func (s *Service) ResetDailyTracking(currentValue decimal.Decimal) {
	s.dailyStartPortfolioValue = &currentValue
}

// CheckAll runs all three probe categories in priority order
// (account_safety > plan_invalidation > operational) and returns every
// event that fired. A panicking category is recovered, logged, and
// reported as a single critical FREEZE_NEW_RISK event rather than
// aborting the remaining checks.
func (s *Service) CheckAll(state types.AccountState, plan *types.StrategyPlanCard, signals *types.RegimeSignals, now time.Time) []types.TripwireEvent {
	var events []types.TripwireEvent
	events = append(events, s.safeRun("account_safety", func() []types.TripwireEvent { return s.checkAccountSafety(state, now) })...)
	events = append(events, s.safeRun("plan_invalidation", func() []types.TripwireEvent { return s.checkPlanInvalidation(state, plan, signals) })...)
	events = append(events, s.safeRun("operational", func() []types.TripwireEvent { return s.checkOperational(state, now) })...)
	return events
}

func (s *Service) safeRun(category string, fn func() []types.TripwireEvent) (events []types.TripwireEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tripwire predicate panic recovered", zap.String("category", category), zap.Any("panic", r))
			events = []types.TripwireEvent{{
				Severity:  types.SeverityCritical,
				Category:  types.TripwireCategory(category),
				Trigger:   "predicate_panic",
				Action:    types.ActionFreezeNewRisk,
				Timestamp: time.Now(),
				Details:   map[string]any{"panic": r},
			}}
		}
	}()
	return fn()
}

func (s *Service) checkAccountSafety(state types.AccountState, now time.Time) []types.TripwireEvent {
	var events []types.TripwireEvent

	if s.dailyStartPortfolioValue == nil {
		baseline := state.PortfolioValue
		s.dailyStartPortfolioValue = &baseline
	} else {
		baseline := *s.dailyStartPortfolioValue
		if baseline.IsPositive() {
			lossPct, _ := baseline.Sub(state.PortfolioValue).Div(baseline).Mul(decimal.NewFromInt(100)).Float64()
			if lossPct >= s.cfg.DailyLossLimitPct {
				events = append(events, types.TripwireEvent{
					Severity:  types.SeverityCritical,
					Category:  types.CategoryAccountSafety,
					Trigger:   "daily_loss_limit",
					Action:    types.ActionCutSizeToFloor,
					Timestamp: now,
					Details:   map[string]any{"loss_pct": lossPct},
				})
			}
		}
	}

	if state.PortfolioValue.IsPositive() {
		ratio, _ := state.AvailableBalance.Div(state.PortfolioValue).Float64()
		if ratio < s.cfg.MinMarginRatio {
			events = append(events, types.TripwireEvent{
				Severity:  types.SeverityCritical,
				Category:  types.CategoryAccountSafety,
				Trigger:   "low_margin_ratio",
				Action:    types.ActionCutSizeToFloor,
				Timestamp: now,
				Details:   map[string]any{"margin_ratio": ratio},
			})
		}

		negativePnL := decimal.Zero
		for _, pos := range state.Positions {
			if pos.UnrealizedPnL.IsNegative() {
				negativePnL = negativePnL.Add(pos.UnrealizedPnL)
			}
		}
		proximity, _ := negativePnL.Neg().Div(state.PortfolioValue).Float64()
		if proximity >= s.cfg.LiquidationProximityThreshold {
			events = append(events, types.TripwireEvent{
				Severity:  types.SeverityCritical,
				Category:  types.CategoryAccountSafety,
				Trigger:   "liquidation_proximity",
				Action:    types.ActionEscalateToSlowLoop,
				Timestamp: now,
				Details:   map[string]any{"proximity": proximity},
			})
		}
	}

	return events
}

func (s *Service) checkPlanInvalidation(state types.AccountState, plan *types.StrategyPlanCard, signals *types.RegimeSignals) []types.TripwireEvent {
	if !s.cfg.CheckInvalidationTriggers || plan == nil {
		return nil
	}

	var events []types.TripwireEvent
	for _, trigger := range plan.ExitRules.InvalidationTriggers {
		if evaluateTrigger(trigger, state, signals) {
			events = append(events, types.TripwireEvent{
				Severity:  types.SeverityWarning,
				Category:  types.CategoryPlanInvalidation,
				Trigger:   trigger,
				Action:    types.ActionInvalidatePlan,
				Timestamp: time.Now(),
				Details:   map[string]any{"plan_id": plan.PlanID},
			})
		}
	}
	return events
}

func (s *Service) checkOperational(state types.AccountState, now time.Time) []types.TripwireEvent {
	var events []types.TripwireEvent

	staleByAge := state.Timestamp > 0 && float64(now.Unix()-state.Timestamp) > s.cfg.MaxDataStalenessSeconds
	if state.IsStale || staleByAge {
		events = append(events, types.TripwireEvent{
			Severity:  types.SeverityWarning,
			Category:  types.CategoryOperational,
			Trigger:   "stale_data",
			Action:    types.ActionFreezeNewRisk,
			Timestamp: now,
			Details:   map[string]any{"is_stale": state.IsStale},
		})
	}

	if s.apiFailureCount >= s.cfg.MaxAPIFailureCount {
		events = append(events, types.TripwireEvent{
			Severity:  types.SeverityCritical,
			Category:  types.CategoryOperational,
			Trigger:   "api_failure_threshold",
			Action:    types.ActionFreezeNewRisk,
			Timestamp: now,
			Details:   map[string]any{"api_failure_count": s.apiFailureCount},
		})
	}

	return events
}

var (
	positionSizeRe = regexp.MustCompile(`(?i)position size exceeds ([\d.]+)% of portfolio`)
	drawdownRe     = regexp.MustCompile(`(?i)drawdown exceeds ([\d.]+)%`)
	volatilityRe   = regexp.MustCompile(`(?i)volatility exceeds ([\d.]+)%`)
	fundingBelowRe = regexp.MustCompile(`(?i)funding rate drops below ([\d.]+)%`)
	fundingAboveRe = regexp.MustCompile(`(?i)funding rate exceeds ([\d.]+)%`)
	fundingNegRe   = regexp.MustCompile(`(?i)funding rate turns negative`)
)

// evaluateTrigger parses a free-text invalidation trigger against a fixed
// grammar (position-size, PnL-drawdown, volatility, funding-rate).
// Unknown patterns evaluate to false - they never fire, they are never
// mistaken for a match.
func evaluateTrigger(trigger string, state types.AccountState, signals *types.RegimeSignals) bool {
	if m := positionSizeRe.FindStringSubmatch(trigger); m != nil {
		threshold := parsePct(m[1])
		if !state.PortfolioValue.IsPositive() {
			return false
		}
		for _, pos := range state.Positions {
			value := pos.Size.Mul(pos.CurrentPrice)
			pct, _ := value.Div(state.PortfolioValue).Mul(decimal.NewFromInt(100)).Float64()
			if pct > threshold {
				return true
			}
		}
		return false
	}

	if m := drawdownRe.FindStringSubmatch(trigger); m != nil {
		threshold := parsePct(m[1])
		if !state.PortfolioValue.IsPositive() {
			return false
		}
		totalPnL := decimal.Zero
		for _, pos := range state.Positions {
			totalPnL = totalPnL.Add(pos.UnrealizedPnL)
		}
		lossPct, _ := totalPnL.Neg().Div(state.PortfolioValue).Mul(decimal.NewFromInt(100)).Float64()
		return lossPct > threshold
	}

	if m := volatilityRe.FindStringSubmatch(trigger); m != nil {
		if signals == nil {
			return false
		}
		threshold := parsePct(m[1])
		vol, _ := signals.RealizedVol24h.Mul(decimal.NewFromInt(100)).Float64()
		return vol > threshold
	}

	if fundingNegRe.MatchString(trigger) {
		if signals == nil {
			return false
		}
		return signals.AvgFundingRate.IsNegative()
	}

	if m := fundingBelowRe.FindStringSubmatch(trigger); m != nil {
		if signals == nil {
			return false
		}
		threshold := parsePct(m[1])
		rate, _ := signals.AvgFundingRate.Mul(decimal.NewFromInt(100)).Float64()
		return rate < threshold
	}

	if m := fundingAboveRe.FindStringSubmatch(trigger); m != nil {
		if signals == nil {
			return false
		}
		threshold := parsePct(m[1])
		rate, _ := signals.AvgFundingRate.Mul(decimal.NewFromInt(100)).Float64()
		return rate > threshold
	}

	return false
}

func parsePct(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
