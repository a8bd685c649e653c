package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/account"
	"github.com/timbrinded/degen-ai-sub000/internal/cache"
	"github.com/timbrinded/degen-ai-sub000/internal/config"
	"github.com/timbrinded/degen-ai-sub000/internal/execution"
	"github.com/timbrinded/degen-ai-sub000/internal/governor"
	"github.com/timbrinded/degen-ai-sub000/internal/httpapi"
	"github.com/timbrinded/degen-ai-sub000/internal/oracle"
	"github.com/timbrinded/degen-ai-sub000/internal/orchestrator"
	"github.com/timbrinded/degen-ai-sub000/internal/providers"
	"github.com/timbrinded/degen-ai-sub000/internal/regime"
	"github.com/timbrinded/degen-ai-sub000/internal/scorekeeper"
	"github.com/timbrinded/degen-ai-sub000/internal/signals"
	"github.com/timbrinded/degen-ai-sub000/internal/tripwire"
	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// app holds every wired component plus the small amount of cross-loop
// state (the latest account snapshot, regime classification, and
// tripwire events) that the status HTTP surface needs to read back.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	cache    *cache.Cache
	exchange providers.Exchange
	identity *account.IdentityRegistry
	monitor  *account.Monitor

	orch      *orchestrator.Orchestrator
	processor *signals.Processor
	oracle    *oracle.LLMOracle
	detector  *regime.Detector

	gov   *governor.Governor
	tw    *tripwire.Service
	exec  *execution.Executor
	score *scorekeeper.Scorekeeper

	http *httpapi.Server

	anchor string // canonical symbol regime signals are derived from

	mu              sync.RWMutex
	latestState     types.AccountState
	hasLatestState  bool
	latestSignals   types.RegimeSignals
	latestRegime    types.RegimeClassification
	latestTripwires []types.TripwireEvent
	freezeNewRisk   bool
}

func wire(cfg *config.Config, logger *zap.Logger) (*app, error) {
	c, err := cache.Open(cfg.Signals.CacheDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	exchange := providers.NewHyperliquidExchange(providers.HyperliquidConfig{
		BaseURL: cfg.Hyperliquid.BaseURL,
	}, c, logger)

	identity := account.NewIdentityRegistry()
	identity.Hydrate(assetIdentities(cfg))

	anchor := ""
	if len(cfg.Assets) > 0 {
		anchor = cfg.Assets[0].CanonicalSymbol
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		cache:    c,
		exchange: exchange,
		identity: identity,
		monitor:  account.NewMonitor(exchange, identity, logger),
		orch:     orchestrator.New(logger, poolConfigFromCfg()),
		processor: signals.NewProcessor(logger),
		anchor:   anchor,
	}

	a.oracle = oracle.New(oracle.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.Key,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)

	a.detector = regime.NewDetector(regime.Config{
		ConfirmationCyclesRequired: cfg.Governance.ConfirmationCyclesRequired,
		HysteresisEnterThreshold:   cfg.Governance.HysteresisEnterThreshold,
		HysteresisExitThreshold:    cfg.Governance.HysteresisExitThreshold,
		EventLockWindowBefore:      cfg.Governance.EventLockWindowBefore,
		EventLockWindowAfter:       cfg.Governance.EventLockWindowAfter,
	}, a.oracle, logger)

	a.gov = governor.New(governor.Config{
		MinimumAdvantageOverCostBps: cfg.Governance.MinimumAdvantageOverCostBps,
		CooldownAfterChangeMinutes:  cfg.Governance.CooldownAfterChangeMinutes,
		PartialRotationPctPerCycle:  cfg.Governance.PartialRotationPctPerCycle,
		StatePersistencePath:        cfg.Governance.StatePersistencePath,
	}, logger)

	a.tw = tripwire.New(tripwire.Config{
		MinMarginRatio:                cfg.Governance.MinMarginRatio,
		LiquidationProximityThreshold: cfg.Governance.LiquidationProximityThreshold,
		DailyLossLimitPct:             cfg.Governance.DailyLossLimitPct,
		CheckInvalidationTriggers:     cfg.Governance.CheckInvalidationTriggers,
		MaxDataStalenessSeconds:       cfg.Governance.MaxDataStalenessSeconds,
		MaxAPIFailureCount:            cfg.Governance.MaxAPIFailureCount,
	}, logger)

	execCfg := execution.DefaultConfig()
	execCfg.MinOrderNotional = decimal.NewFromFloat(cfg.Risk.MinOrderNotional)
	a.exec = execution.New(execCfg, exchange, identity, logger)
	a.exec.SetFundingConfig(execution.FundingConfig{
		TargetInitialMarginRatio: decimal.NewFromFloat(cfg.Risk.TargetInitialMarginRatio),
		MinPerpBalanceUSD:        decimal.NewFromFloat(cfg.Risk.MinPerpBalanceUSD),
		TargetSpotUSDCBufferUSD:  decimal.NewFromFloat(cfg.Risk.TargetSpotUSDCBufferUSD),
	})

	score, err := scorekeeper.New("state/completed_plans.jsonl", logger)
	if err != nil {
		return nil, fmt.Errorf("opening scorekeeper log: %w", err)
	}
	a.score = score

	a.http = httpapi.New(httpapi.Config{Addr: cfg.Observability.Addr}, a, logger)

	return a, nil
}

// --- httpapi.StatusProvider ---

func (a *app) AccountStatus() (types.AccountState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latestState, a.hasLatestState
}

func (a *app) ActivePlan() (*types.StrategyPlanCard, bool) {
	plan := a.gov.ActivePlan()
	return plan, plan != nil
}

func (a *app) CurrentRegime() types.RegimeClassification {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latestRegime
}

func (a *app) LatestTripwireEvents() []types.TripwireEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latestTripwires
}

func (a *app) ActiveMetrics() (types.PlanMetrics, bool) {
	return a.score.ActiveMetrics()
}

func (a *app) CompletedPlans() ([]types.PlanMetrics, error) {
	return a.score.CompletedPlans()
}

// --- loop bodies ---

// fastLoop polls account state, runs every tripwire predicate, reacts to
// whatever fires, and advances an in-progress rebalance by one step.
func (a *app) fastLoop(ctx context.Context) (bool, error) {
	now := time.Now()

	state, err := a.monitor.Snapshot(ctx)
	if err != nil {
		a.tw.RecordAPIFailure()
		return false, fmt.Errorf("fast loop: account snapshot: %w", err)
	}
	a.tw.ResetAPIFailureCount()

	a.mu.Lock()
	a.latestState = state
	a.hasLatestState = true
	signalsSnapshot := a.latestSignals
	a.mu.Unlock()

	plan := a.gov.ActivePlan()
	events := a.tw.CheckAll(state, plan, &signalsSnapshot, now)

	a.mu.Lock()
	a.latestTripwires = events
	a.mu.Unlock()
	a.http.PublishTripwireTriggered(events)

	escalate := false
	freeze := false
	for _, ev := range events {
		switch ev.Action {
		case types.ActionEscalateToSlowLoop:
			escalate = true
		case types.ActionFreezeNewRisk:
			freeze = true
		case types.ActionCutSizeToFloor:
			a.handleCutSizeToFloor(ctx, state)
		case types.ActionInvalidatePlan:
			a.gov.InvalidateActivePlan()
		}
	}
	a.mu.Lock()
	a.freezeNewRisk = freeze
	a.mu.Unlock()

	if plan != nil && plan.Status == types.PlanStatusRebalancing {
		a.advanceRebalance(ctx, state, plan, freeze)
	}

	if plan != nil {
		targets := a.gov.CurrentRebalanceTargets()
		if len(targets) == 0 {
			targets = plan.TargetAllocations
		}
		a.score.OnSnapshot(state, targets, state.PortfolioValue)
	}
	if m, ok := a.score.ActiveMetrics(); ok {
		a.http.PublishMetricsUpdate(m)
	}

	return escalate, nil
}

// handleCutSizeToFloor submits market exits for emergency_reduction_pct
// of every open position. Per-position failures don't abort the sweep;
// the handler reports overall success once at least two of every three
// exits clear.
func (a *app) handleCutSizeToFloor(ctx context.Context, state types.AccountState) {
	if len(state.Positions) == 0 {
		return
	}
	pct := decimal.NewFromFloat(a.cfg.Governance.EmergencyReductionPct).Div(decimal.NewFromInt(100))

	actions := make([]types.ExecutionAction, 0, len(state.Positions))
	for _, pos := range state.Positions {
		actions = append(actions, types.ExecutionAction{
			Type:       types.ActionClose,
			Coin:       pos.Coin,
			MarketType: pos.MarketType,
			Size:       pos.Size.Abs().Mul(pct),
		})
	}

	results, err := a.exec.ExecuteBatch(ctx, state, actions)
	if err != nil {
		a.logger.Error("emergency reduction batch failed", zap.Error(err))
		return
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	required := (len(results)*2 + 2) / 3 // ceil(2/3 * len)
	if succeeded >= required {
		a.logger.Warn("emergency reduction completed",
			zap.Int("succeeded", succeeded), zap.Int("total", len(results)))
	} else {
		a.logger.Error("emergency reduction fell short of 2/3 success threshold",
			zap.Int("succeeded", succeeded), zap.Int("total", len(results)))
	}
}

// advanceRebalance steps an in-progress rebalance toward its target
// allocations. When a FREEZE_NEW_RISK tripwire is active, buys are
// skipped but sells/closes still execute, per the fast loop's documented
// response to stale data.
func (a *app) advanceRebalance(ctx context.Context, state types.AccountState, plan *types.StrategyPlanCard, freezeBuys bool) {
	targets := a.gov.CurrentRebalanceTargets()
	actions := rebalanceActions(state, targets, freezeBuys)
	if len(actions) == 0 {
		return
	}

	results, err := a.exec.ExecuteBatch(ctx, state, actions)
	if err != nil {
		a.logger.Error("rebalance execution failed", zap.Error(err))
		return
	}
	for _, r := range results {
		if r.Success {
			a.score.RecordTrade(true, decimal.Zero)
		}
	}

	a.gov.AdvanceRebalanceStep()
	a.score.RecordRebalanceStep()
	if schedule, ok := a.gov.RebalanceStatus(); ok {
		a.http.PublishRebalanceStep(schedule)
	}
}

// rebalanceActions is a direct allocation-gap-to-action translation: for
// each target coin, buy (or sell) the difference between its target and
// current portfolio share. Real sizing (price lookups, leverage) is the
// Executor's and funding planner's job; this only decides direction and
// notional.
func rebalanceActions(state types.AccountState, targets []types.TargetAllocation, freezeBuys bool) []types.ExecutionAction {
	currentPct := make(map[string]decimal.Decimal, len(state.Positions))
	if state.PortfolioValue.IsPositive() {
		for _, pos := range state.Positions {
			notional := pos.Size.Mul(pos.CurrentPrice).Abs()
			currentPct[pos.Coin] = currentPct[pos.Coin].Add(notional.Div(state.PortfolioValue).Mul(decimal.NewFromInt(100)))
		}
	}

	var actions []types.ExecutionAction
	for _, t := range targets {
		gapPct := t.TargetPct.Sub(currentPct[t.Coin])
		if gapPct.Abs().LessThan(decimal.NewFromFloat(0.5)) {
			continue
		}
		gapNotional := gapPct.Div(decimal.NewFromInt(100)).Mul(state.PortfolioValue).Abs()
		if gapPct.IsPositive() {
			if freezeBuys {
				continue
			}
			actions = append(actions, types.ExecutionAction{Type: types.ActionBuy, Coin: t.Coin, MarketType: t.MarketType, Size: gapNotional})
		} else {
			actions = append(actions, types.ExecutionAction{Type: types.ActionSell, Coin: t.Coin, MarketType: t.MarketType, Size: gapNotional})
		}
	}
	return actions
}

// mediumLoop re-derives regime signals, reclassifies the regime, and -
// if a review is permitted - asks the Oracle to propose a replacement
// plan.
func (a *app) mediumLoop(ctx context.Context) (bool, error) {
	now := time.Now()

	sig, err := a.deriveSignals(ctx)
	if err != nil {
		return false, fmt.Errorf("medium loop: deriving signals: %w", err)
	}
	a.mu.Lock()
	a.latestSignals = sig
	a.mu.Unlock()

	classification, err := a.detector.Classify(ctx, sig, now)
	if err != nil {
		return false, fmt.Errorf("medium loop: regime classification: %w", err)
	}
	a.mu.Lock()
	a.latestRegime = classification
	a.mu.Unlock()

	confirmed, reason := a.detector.Confirm(classification)
	if confirmed {
		a.logger.Info("regime change confirmed", zap.String("reason", reason))
		a.http.PublishRegimeChanged(classification)
	}

	state, hasState := a.AccountStatus()
	if !hasState {
		return false, nil
	}

	canReview, reason := a.gov.CanReview(now, confirmed)
	if !canReview {
		a.logger.Debug("plan review not permitted", zap.String("reason", reason))
		return false, nil
	}

	proposedPlan, err := a.oracle.ProposePlan(ctx, state, sig, classification)
	if err != nil {
		return false, fmt.Errorf("medium loop: plan proposal: %w", err)
	}
	if proposedPlan == nil {
		return false, nil
	}

	proposedPlan.ChangeCost.OpportunityCostBps = a.score.OpportunityCostBps(decimal.Zero)
	proposal := types.PlanChangeProposal{
		NewPlan:              proposedPlan,
		ExpectedAdvantageBps: proposedPlan.ExpectedEdgeBps,
		ChangeCostBps:        proposedPlan.ChangeCost.TotalBps(),
	}

	approved, reason := a.gov.EvaluateProposal(proposal)
	a.logger.Info("plan proposal evaluated", zap.Bool("approved", approved), zap.String("reason", reason))
	if !approved {
		return false, nil
	}

	a.gov.Activate(proposedPlan, now)
	a.score.StartPlan(proposedPlan.PlanID, now)
	a.http.PublishPlanActivated(proposedPlan)
	return false, nil
}

// slowLoop refreshes venue asset metadata (sz_decimals, leverage caps)
// and resets the tripwire's daily-loss tracking baseline.
func (a *app) slowLoop(ctx context.Context) (bool, error) {
	if err := a.exec.RefreshMeta(ctx); err != nil {
		a.logger.Warn("slow loop: refreshing venue meta failed", zap.Error(err))
	}
	if state, ok := a.AccountStatus(); ok {
		a.tw.ResetDailyTracking(state.AccountValue)
	}
	return false, nil
}

// deriveSignals fans out the anchor coin's candles, order book, and
// funding history, then derives a RegimeSignals snapshot from the results.
func (a *app) deriveSignals(ctx context.Context) (types.RegimeSignals, error) {
	if a.anchor == "" {
		return types.RegimeSignals{}, fmt.Errorf("no anchor asset configured")
	}

	end := time.Now()
	start := end.Add(-90 * 24 * time.Hour)

	bundle := a.orch.Collect(ctx, orchestrator.Request{
		Kind: orchestrator.KindMedium,
		Specs: []orchestrator.FieldSpec{
			{
				Name: "candles",
				Fetch: func(ctx context.Context) (providers.ProviderResponse, error) {
					candles, err := a.exchange.CandlesSnapshot(ctx, a.anchor, "1h", start, end)
					return providers.ProviderResponse{Data: candles, Source: "exchange", Confidence: 1.0}, err
				},
			},
			{
				Name: "orderbook",
				Fetch: func(ctx context.Context) (providers.ProviderResponse, error) {
					ob, err := a.exchange.L2Snapshot(ctx, a.anchor)
					return providers.ProviderResponse{Data: ob, Source: "exchange", Confidence: 1.0}, err
				},
			},
			{
				Name: "funding",
				Fetch: func(ctx context.Context) (providers.ProviderResponse, error) {
					fh, err := a.exchange.FundingHistory(ctx, a.anchor, start, end)
					return providers.ProviderResponse{Data: fh, Source: "exchange", Confidence: 1.0}, err
				},
			},
		},
		CriticalFields: []string{"candles"},
		Deadline:       orchestrator.DefaultDeadline(orchestrator.KindMedium),
	})

	candles, _ := bundle.Raw["candles"].([]providers.Candle)
	ob, _ := bundle.Raw["orderbook"].(providers.OrderBook)
	fh, _ := bundle.Raw["funding"].([]providers.FundingPoint)

	input := signals.Input{
		Candles:                  candles,
		CandlesConfidence:        bundle.Fields["candles"].Confidence,
		FundingHistory:           fh,
		FundingHistoryConfidence: bundle.Fields["funding"].Confidence,
		OrderBook:                ob,
		OrderBookConfidence:      bundle.Fields["orderbook"].Confidence,
	}

	return a.processor.Derive(input), nil
}
