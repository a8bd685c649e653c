// Package types provides shared type definitions for the governance core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketType distinguishes spot from perpetual markets.
type MarketType string

const (
	MarketSpot MarketType = "spot"
	MarketPerp MarketType = "perp"
)

// ActionType is the kind of execution action the Executor accepts.
type ActionType string

const (
	ActionBuy      ActionType = "buy"
	ActionSell     ActionType = "sell"
	ActionHold     ActionType = "hold"
	ActionClose    ActionType = "close"
	ActionTransfer ActionType = "transfer"
)

// TimeHorizon is the plan's intended holding-period class.
type TimeHorizon string

const (
	HorizonMinutes TimeHorizon = "minutes"
	HorizonHours   TimeHorizon = "hours"
	HorizonDays    TimeHorizon = "days"
)

// PlanStatus is the lifecycle state of a StrategyPlanCard.
type PlanStatus string

const (
	PlanStatusActive      PlanStatus = "active"
	PlanStatusRebalancing PlanStatus = "rebalancing"
	PlanStatusInvalidated PlanStatus = "invalidated"
	PlanStatusCompleted   PlanStatus = "completed"
)

// Regime is the classified market condition.
type Regime string

const (
	RegimeTrendingBull  Regime = "trending-bull"
	RegimeTrendingBear  Regime = "trending-bear"
	RegimeRangeBound    Regime = "range-bound"
	RegimeCarryFriendly Regime = "carry-friendly"
	RegimeEventRisk     Regime = "event-risk"
	RegimeUnknown       Regime = "unknown"
)

// TripwireSeverity ranks a tripwire event.
type TripwireSeverity string

const (
	SeverityWarning  TripwireSeverity = "warning"
	SeverityCritical TripwireSeverity = "critical"
)

// TripwireCategory buckets the kind of predicate that fired.
type TripwireCategory string

const (
	CategoryAccountSafety   TripwireCategory = "account_safety"
	CategoryPlanInvalidation TripwireCategory = "plan_invalidation"
	CategoryOperational     TripwireCategory = "operational"
)

// TripwireAction is the mandated override action a tripwire event carries.
type TripwireAction string

const (
	ActionFreezeNewRisk       TripwireAction = "FREEZE_NEW_RISK"
	ActionCutSizeToFloor      TripwireAction = "CUT_SIZE_TO_FLOOR"
	ActionEscalateToSlowLoop  TripwireAction = "ESCALATE_TO_SLOW_LOOP"
	ActionInvalidatePlan      TripwireAction = "INVALIDATE_PLAN"
)

// Position is an entry in an AccountState snapshot. Size is always
// non-negative; direction is implied by the venue and MarketType.
type Position struct {
	Coin          string          `json:"coin"`
	MarketType    MarketType      `json:"market_type"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// AccountState is a snapshot of the venue account at a point in time.
type AccountState struct {
	PortfolioValue       decimal.Decimal            `json:"portfolio_value"`
	AvailableBalance     decimal.Decimal            `json:"available_balance"`
	AccountValue         decimal.Decimal            `json:"account_value"`
	TotalInitialMargin   decimal.Decimal            `json:"total_initial_margin"`
	Positions            []Position                 `json:"positions"`
	SpotBalances         map[string]decimal.Decimal `json:"spot_balances"`
	Timestamp            int64                      `json:"timestamp"`
	IsStale              bool                       `json:"is_stale"`
}

// Field wraps any signal value with its confidence and source tag. A
// missing field is represented by Missing=true rather than a zero Value.
type Field[T any] struct {
	Value      T       `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Missing    bool    `json:"missing"`
}

// SignalBundle is the union of fast/medium/slow derived and raw fields
// produced by one Orchestrator fan-out pass.
type SignalBundle struct {
	Kind     string                     `json:"kind"`
	Metadata BundleMetadata             `json:"metadata"`
	Fields   map[string]Field[float64]  `json:"fields"`
	Raw      map[string]any             `json:"raw,omitempty"`
}

// BundleMetadata carries the bundle-level confidence floor.
type BundleMetadata struct {
	Confidence float64   `json:"confidence"`
	AsOf       time.Time `json:"as_of"`
}

// PriceContext carries multi-timeframe returns and structure signals -
// the primary inputs to regime classification.
type PriceContext struct {
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Return1d      decimal.Decimal `json:"return_1d"`
	Return7d      decimal.Decimal `json:"return_7d"`
	Return30d     decimal.Decimal `json:"return_30d"`
	Return90d     decimal.Decimal `json:"return_90d"`
	SMA20Distance decimal.Decimal `json:"sma20_distance"`
	SMA50Distance decimal.Decimal `json:"sma50_distance"`
	HigherHighs   bool            `json:"higher_highs"`
	HigherLows    bool            `json:"higher_lows"`
}

// RegimeSignals is the full input bundle to the Regime Detector.
type RegimeSignals struct {
	PriceContext          PriceContext     `json:"price_context"`
	PriceSMA20            decimal.Decimal  `json:"price_sma_20"`
	PriceSMA50            decimal.Decimal  `json:"price_sma_50"`
	ADX                   decimal.Decimal  `json:"adx"`
	RealizedVol24h        decimal.Decimal  `json:"realized_vol_24h"`
	AvgFundingRate        decimal.Decimal  `json:"avg_funding_rate"`
	BidAskSpreadBps       decimal.Decimal  `json:"bid_ask_spread_bps"`
	OrderBookDepth        decimal.Decimal  `json:"order_book_depth"`
	CrossAssetCorrelation *decimal.Decimal `json:"cross_asset_correlation,omitempty"`
	MacroRiskScore        *decimal.Decimal `json:"macro_risk_score,omitempty"`
	SentimentIndex        *decimal.Decimal `json:"sentiment_index,omitempty"`
}

// RegimeClassification is one classification pass's output.
type RegimeClassification struct {
	Regime     Regime        `json:"regime"`
	Confidence float64       `json:"confidence"`
	Timestamp  time.Time     `json:"timestamp"`
	Signals    RegimeSignals `json:"signals"`
	Reasoning  string        `json:"reasoning,omitempty"`
}

// MacroEvent is a scheduled macro-economic event on the calendar.
type MacroEvent struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// TargetAllocation is one coin's share of a plan's target book.
type TargetAllocation struct {
	Coin       string          `json:"coin"`
	TargetPct  decimal.Decimal `json:"target_pct"`
	MarketType MarketType      `json:"market_type"`
	Leverage   decimal.Decimal `json:"leverage"`
}

// RiskBudget bounds how much risk a plan is allowed to take.
type RiskBudget struct {
	MaxPositionPct        map[string]decimal.Decimal `json:"max_position_pct"`
	MaxLeverage           decimal.Decimal            `json:"max_leverage"`
	MaxAdverseExcursionPct decimal.Decimal           `json:"max_adverse_excursion_pct"`
	PlanMaxDrawdownPct    decimal.Decimal            `json:"plan_max_drawdown_pct"`
	PerTradeRiskPct       decimal.Decimal            `json:"per_trade_risk_pct"`
}

// ExitRules defines when a plan should be exited, and the free-text
// invalidation predicates the Tripwire Service parses against a grammar.
type ExitRules struct {
	ProfitTargetPct       *decimal.Decimal `json:"profit_target_pct,omitempty"`
	StopLossPct           *decimal.Decimal `json:"stop_loss_pct,omitempty"`
	TimeBasedReviewHours  decimal.Decimal  `json:"time_based_review_hours"`
	InvalidationTriggers  []string         `json:"invalidation_triggers"`
}

// ChangeCost is the estimated bps cost of switching plans.
type ChangeCost struct {
	FeesBps           decimal.Decimal `json:"fees_bps"`
	SlippageBps       decimal.Decimal `json:"slippage_bps"`
	FundingChangeBps  decimal.Decimal `json:"funding_change_bps"`
	OpportunityCostBps decimal.Decimal `json:"opportunity_cost_bps"`
}

// TotalBps sums the four cost components.
func (c ChangeCost) TotalBps() decimal.Decimal {
	return c.FeesBps.Add(c.SlippageBps).Add(c.FundingChangeBps).Add(c.OpportunityCostBps)
}

// StrategyPlanCard is the central governed entity: the strategy the agent
// is currently (or was) executing.
type StrategyPlanCard struct {
	PlanID          string    `json:"plan_id"`
	StrategyName    string    `json:"strategy_name"`
	StrategyVersion string    `json:"strategy_version"`
	CreatedAt       time.Time `json:"created_at"`

	Objective               string          `json:"objective"`
	TargetHoldingPeriodHours decimal.Decimal `json:"target_holding_period_hours"`
	TimeHorizon             TimeHorizon     `json:"time_horizon"`
	KeyThesis               string          `json:"key_thesis"`

	TargetAllocations   []TargetAllocation `json:"target_allocations"`
	AllowedLeverageLow  decimal.Decimal    `json:"allowed_leverage_low"`
	AllowedLeverageHigh decimal.Decimal    `json:"allowed_leverage_high"`

	RiskBudget RiskBudget `json:"risk_budget"`
	ExitRules  ExitRules  `json:"exit_rules"`
	ChangeCost ChangeCost `json:"change_cost"`

	ExpectedEdgeBps    decimal.Decimal `json:"expected_edge_bps"`
	KPIsToTrack        []string        `json:"kpis_to_track"`
	MinimumDwellMinutes decimal.Decimal `json:"minimum_dwell_minutes"`

	CompatibleRegimes []Regime `json:"compatible_regimes"`
	AvoidRegimes      []Regime `json:"avoid_regimes"`

	Status             PlanStatus `json:"status"`
	ActivatedAt        *time.Time `json:"activated_at,omitempty"`
	LastReviewedAt     *time.Time `json:"last_reviewed_at,omitempty"`
	RebalanceProgressPct decimal.Decimal `json:"rebalance_progress_pct"`
}

// PlanChangeProposal is a candidate rotation the Oracle has proposed.
type PlanChangeProposal struct {
	NewPlan             *StrategyPlanCard `json:"new_plan"`
	ExpectedAdvantageBps decimal.Decimal  `json:"expected_advantage_bps"`
	ChangeCostBps       decimal.Decimal   `json:"change_cost_bps"`
}

// RebalanceSchedule interpolates allocations from one plan to another in
// fixed-percentage steps.
type RebalanceSchedule struct {
	FromAllocations []TargetAllocation `json:"from_allocations"`
	ToAllocations   []TargetAllocation `json:"to_allocations"`
	StepPct         decimal.Decimal    `json:"step_pct"`
	StepsTotal      int                `json:"steps_total"`
	StepsDone       int                `json:"steps_done"`
}

// TripwireEvent is one firing of a safety/invalidation/operational
// predicate, carrying the mandated downstream action.
type TripwireEvent struct {
	Severity  TripwireSeverity       `json:"severity"`
	Category  TripwireCategory       `json:"category"`
	Trigger   string                 `json:"trigger"`
	Action    TripwireAction         `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]any         `json:"details,omitempty"`
}

// PlanMetrics is the scorekeeper's lifetime record for one plan.
type PlanMetrics struct {
	PlanID             string          `json:"plan_id"`
	RealizedPnL        decimal.Decimal `json:"realized_pnl"`
	TotalPnL           decimal.Decimal `json:"total_pnl"`
	PeakPortfolioValue decimal.Decimal `json:"peak_portfolio_value"`
	MaxDrawdownPct     decimal.Decimal `json:"max_drawdown_pct"`
	TradeCount         int             `json:"trade_count"`
	WinningTradeCount  int             `json:"winning_trade_count"`
	HitRate            decimal.Decimal `json:"hit_rate"`
	AvgSlippageBps     decimal.Decimal `json:"avg_slippage_bps"`
	AvgDriftPct        decimal.Decimal `json:"avg_drift_pct"`
	RebalanceCount     int             `json:"rebalance_count"`
	ActivatedAt        time.Time       `json:"activated_at"`
	FinalizedAt        *time.Time      `json:"finalized_at,omitempty"`
}

// ShadowPortfolio is a paper-traded alternative strategy used only to
// estimate opportunity cost for the Governor's change-cost model.
type ShadowPortfolio struct {
	StrategyName string                     `json:"strategy_name"`
	Allocations  []TargetAllocation         `json:"allocations"`
	StartValue   decimal.Decimal            `json:"start_value"`
	MarkedValue  decimal.Decimal            `json:"marked_value"`
	StartedAt    time.Time                  `json:"started_at"`
}

// AssetIdentity maps a canonical symbol to its venue-specific aliases.
type AssetIdentity struct {
	CanonicalSymbol string   `json:"canonical_symbol"`
	WalletAlias     string   `json:"wallet_alias"`
	PerpAlias       string   `json:"perp_alias"`
	SpotAliases     []string `json:"spot_aliases"`
	DefaultQuote    string   `json:"default_quote"`
}

// CircuitState is one of the three circuit-breaker states.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ExecutionAction is one instruction the Executor is asked to carry out.
type ExecutionAction struct {
	Type       ActionType      `json:"type"`
	Coin       string          `json:"coin"`
	MarketType MarketType      `json:"market_type"`
	Size       decimal.Decimal `json:"size,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	FromWallet string          `json:"from_wallet,omitempty"`
	ToWallet   string          `json:"to_wallet,omitempty"`
	Amount     decimal.Decimal `json:"amount,omitempty"`
}

// ExecutionResult is the outcome of one ExecutionAction.
type ExecutionResult struct {
	Success    bool    `json:"success"`
	OrderID    string  `json:"order_id,omitempty"`
	Error      string  `json:"error,omitempty"`
	Skipped    bool    `json:"skipped,omitempty"`
	SkipReason string  `json:"skip_reason,omitempty"`
}
