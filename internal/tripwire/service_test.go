package tripwire

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

func healthyState() types.AccountState {
	return types.AccountState{
		PortfolioValue:   decimal.NewFromInt(10000),
		AvailableBalance: decimal.NewFromInt(5000),
		Positions: []types.Position{
			{Coin: "BTC", Size: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromInt(50000), CurrentPrice: decimal.NewFromInt(51000), UnrealizedPnL: decimal.NewFromInt(100)},
		},
		Timestamp: time.Now().Unix(),
		IsStale:   false,
	}
}

func TestCheckAllNoEventsForHealthyAccount(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	events := s.CheckAll(healthyState(), nil, nil, time.Now())
	require.Empty(t, events)
}

func TestDailyLossLimitFires(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	s.ResetDailyTracking(decimal.NewFromInt(10000))

	state := healthyState()
	state.PortfolioValue = decimal.NewFromInt(9400)
	events := s.CheckAll(state, nil, nil, time.Now())

	require.Condition(t, func() bool {
		for _, e := range events {
			if e.Trigger == "daily_loss_limit" {
				require.Equal(t, types.SeverityCritical, e.Severity)
				require.Equal(t, types.ActionCutSizeToFloor, e.Action)
				return true
			}
		}
		return false
	})
}

func TestLowMarginRatioFires(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	state := healthyState()
	state.AvailableBalance = decimal.NewFromInt(500)
	events := s.CheckAll(state, nil, nil, time.Now())

	found := false
	for _, e := range events {
		if e.Trigger == "low_margin_ratio" {
			found = true
			require.Equal(t, types.ActionCutSizeToFloor, e.Action)
		}
	}
	require.True(t, found)
}

func TestLiquidationProximityFires(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	state := healthyState()
	state.PortfolioValue = decimal.NewFromInt(10000)
	state.AvailableBalance = decimal.NewFromInt(5000)
	state.Positions = []types.Position{
		{Coin: "BTC", UnrealizedPnL: decimal.NewFromInt(-1200)},
		{Coin: "ETH", UnrealizedPnL: decimal.NewFromInt(-1200)},
		{Coin: "SOL", UnrealizedPnL: decimal.NewFromInt(-300)},
	}
	events := s.CheckAll(state, nil, nil, time.Now())

	found := false
	for _, e := range events {
		if e.Trigger == "liquidation_proximity" {
			found = true
			require.Equal(t, types.ActionEscalateToSlowLoop, e.Action)
		}
	}
	require.True(t, found)
}

func TestStaleDataFiresFreezeNewRisk(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	state := healthyState()
	state.IsStale = true
	events := s.CheckAll(state, nil, nil, time.Now())

	found := false
	for _, e := range events {
		if e.Trigger == "stale_data" {
			found = true
			require.Equal(t, types.ActionFreezeNewRisk, e.Action)
		}
	}
	require.True(t, found)
}

func TestAPIFailureThresholdFires(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	s.RecordAPIFailure()
	s.RecordAPIFailure()
	s.RecordAPIFailure()
	events := s.CheckAll(healthyState(), nil, nil, time.Now())

	found := false
	for _, e := range events {
		if e.Trigger == "api_failure_threshold" {
			found = true
			require.Equal(t, types.SeverityCritical, e.Severity)
		}
	}
	require.True(t, found)
}

func TestPlanInvalidationPositionSizeTrigger(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	plan := &types.StrategyPlanCard{
		PlanID:    "p1",
		ExitRules: types.ExitRules{InvalidationTriggers: []string{"position size exceeds 50% of portfolio"}},
	}
	state := healthyState()
	state.Positions = []types.Position{
		{Coin: "BTC", Size: decimal.NewFromFloat(0.15), CurrentPrice: decimal.NewFromInt(50000)},
	}
	events := s.CheckAll(state, plan, nil, time.Now())

	found := false
	for _, e := range events {
		if e.Category == types.CategoryPlanInvalidation {
			found = true
			require.Equal(t, types.ActionInvalidatePlan, e.Action)
			require.Equal(t, types.SeverityWarning, e.Severity)
		}
	}
	require.True(t, found)
}

func TestUnknownTriggerPatternNeverFires(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	plan := &types.StrategyPlanCard{
		ExitRules: types.ExitRules{InvalidationTriggers: []string{"some unknown condition that we don't parse"}},
	}
	events := s.CheckAll(healthyState(), plan, nil, time.Now())

	for _, e := range events {
		require.NotEqual(t, types.CategoryPlanInvalidation, e.Category)
	}
}

func TestDisabledInvalidationTriggersSkipsCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckInvalidationTriggers = false
	s := New(cfg, zap.NewNop())
	plan := &types.StrategyPlanCard{
		ExitRules: types.ExitRules{InvalidationTriggers: []string{"position size exceeds 1% of portfolio"}},
	}
	events := s.CheckAll(healthyState(), plan, nil, time.Now())
	for _, e := range events {
		require.NotEqual(t, types.CategoryPlanInvalidation, e.Category)
	}
}
