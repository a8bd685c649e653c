package governor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.StatePersistencePath = filepath.Join(t.TempDir(), "governor.json")
	return cfg
}

func TestCanReviewNoActivePlan(t *testing.T) {
	g := New(testConfig(t), zap.NewNop())
	ok, reason := g.CanReview(time.Now(), false)
	require.True(t, ok)
	require.Equal(t, "No active plan", reason)
}

func TestCanReviewBlockedByRebalancing(t *testing.T) {
	g := New(testConfig(t), zap.NewNop())
	now := time.Now()
	plan := &types.StrategyPlanCard{PlanID: "p1", Status: types.PlanStatusActive, TargetAllocations: []types.TargetAllocation{{Coin: "BTC", TargetPct: decimal.NewFromInt(50)}}}
	g.Activate(plan, now)

	plan2 := &types.StrategyPlanCard{PlanID: "p2", TargetAllocations: []types.TargetAllocation{{Coin: "BTC", TargetPct: decimal.NewFromInt(100)}}}
	g.Activate(plan2, now)

	ok, reason := g.CanReview(now.Add(time.Hour*2), false)
	require.False(t, ok)
	require.Equal(t, "Rebalancing in progress", reason)
}

func TestCanReviewBlockedByDwell(t *testing.T) {
	g := New(testConfig(t), zap.NewNop())
	now := time.Now()
	plan := &types.StrategyPlanCard{PlanID: "p1", MinimumDwellMinutes: decimal.NewFromInt(60)}
	g.Activate(plan, now)

	ok, reason := g.CanReview(now.Add(10*time.Minute), false)
	require.False(t, ok)
	require.Contains(t, reason, "Dwell time not met")
}

func TestCanReviewDwellOverriddenByConfirmedRegimeChange(t *testing.T) {
	g := New(testConfig(t), zap.NewNop())
	now := time.Now()
	plan := &types.StrategyPlanCard{PlanID: "p1", MinimumDwellMinutes: decimal.NewFromInt(60)}
	g.Activate(plan, now)

	ok, reason := g.CanReview(now.Add(10*time.Minute), true)
	require.True(t, ok)
	require.Equal(t, "regime change override", reason)
}

func TestCanReviewBlockedByCooldown(t *testing.T) {
	g := New(testConfig(t), zap.NewNop())
	now := time.Now()
	plan := &types.StrategyPlanCard{PlanID: "p1"}
	g.Activate(plan, now)

	ok, reason := g.CanReview(now.Add(30*time.Minute), false)
	require.False(t, ok)
	require.Contains(t, reason, "Cooldown active")
}

func TestEvaluateProposalRejectsInsufficientAdvantage(t *testing.T) {
	g := New(testConfig(t), zap.NewNop())
	ok, reason := g.EvaluateProposal(types.PlanChangeProposal{
		ExpectedAdvantageBps: decimal.NewFromInt(40),
		ChangeCostBps:        decimal.NewFromInt(10),
	})
	require.False(t, ok)
	require.Contains(t, reason, "Insufficient advantage")
}

func TestEvaluateProposalApprovesAtThreshold(t *testing.T) {
	g := New(testConfig(t), zap.NewNop())
	ok, reason := g.EvaluateProposal(types.PlanChangeProposal{
		ExpectedAdvantageBps: decimal.NewFromInt(60),
		ChangeCostBps:        decimal.NewFromInt(10),
	})
	require.True(t, ok)
	require.Contains(t, reason, "Approved")
}

func TestActivateWithOverlapBuildsRebalanceSchedule(t *testing.T) {
	g := New(testConfig(t), zap.NewNop())
	now := time.Now()
	plan1 := &types.StrategyPlanCard{PlanID: "p1", TargetAllocations: []types.TargetAllocation{{Coin: "BTC", TargetPct: decimal.NewFromInt(100)}}}
	g.Activate(plan1, now)

	plan2 := &types.StrategyPlanCard{PlanID: "p2", TargetAllocations: []types.TargetAllocation{{Coin: "BTC", TargetPct: decimal.NewFromInt(0)}, {Coin: "ETH", TargetPct: decimal.NewFromInt(100)}}}
	g.Activate(plan2, now)

	require.Equal(t, types.PlanStatusRebalancing, g.ActivePlan().Status)
	sched, ok := g.RebalanceStatus()
	require.True(t, ok)
	require.Equal(t, 4, sched.StepsTotal)
}

func TestRebalanceScheduleInterpolatesWorkedExample(t *testing.T) {
	g := New(testConfig(t), zap.NewNop())
	now := time.Now()
	plan1 := &types.StrategyPlanCard{PlanID: "p1", TargetAllocations: []types.TargetAllocation{{Coin: "BTC", TargetPct: decimal.NewFromInt(100)}}}
	g.Activate(plan1, now)
	plan2 := &types.StrategyPlanCard{PlanID: "p2", TargetAllocations: []types.TargetAllocation{{Coin: "BTC", TargetPct: decimal.NewFromInt(50)}}}
	g.Activate(plan2, now)

	targets := g.CurrentRebalanceTargets()
	require.Len(t, targets, 1)
	require.True(t, targets[0].TargetPct.Equal(decimal.NewFromFloat(87.5)), targets[0].TargetPct.String())

	g.AdvanceRebalanceStep()
	targets = g.CurrentRebalanceTargets()
	require.True(t, targets[0].TargetPct.Equal(decimal.NewFromFloat(75.0)), targets[0].TargetPct.String())
}

func TestAdvanceRebalanceStepCompletesAndClearsSchedule(t *testing.T) {
	g := New(testConfig(t), zap.NewNop())
	now := time.Now()
	plan1 := &types.StrategyPlanCard{PlanID: "p1", TargetAllocations: []types.TargetAllocation{{Coin: "BTC", TargetPct: decimal.NewFromInt(100)}}}
	g.Activate(plan1, now)
	plan2 := &types.StrategyPlanCard{PlanID: "p2", TargetAllocations: []types.TargetAllocation{{Coin: "BTC", TargetPct: decimal.NewFromInt(0)}}}
	g.Activate(plan2, now)

	for i := 0; i < 4; i++ {
		g.AdvanceRebalanceStep()
	}
	_, ok := g.RebalanceStatus()
	require.False(t, ok)
	require.Equal(t, types.PlanStatusActive, g.ActivePlan().Status)
}

func TestStatePersistsAndReloads(t *testing.T) {
	cfg := testConfig(t)
	g := New(cfg, zap.NewNop())
	now := time.Now()
	plan := &types.StrategyPlanCard{PlanID: "p1", StrategyName: "carry"}
	g.Activate(plan, now)

	g2 := New(cfg, zap.NewNop())
	require.NotNil(t, g2.ActivePlan())
	require.Equal(t, "carry", g2.ActivePlan().StrategyName)
}

func TestCorruptStateFileTreatedAsEmpty(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.StatePersistencePath, []byte("{not json"), 0o600))
	g := New(cfg, zap.NewNop())
	require.Nil(t, g.ActivePlan())
}
