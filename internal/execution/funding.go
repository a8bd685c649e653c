package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// FundingConfig bounds the cross-wallet transfer planner.
type FundingConfig struct {
	TargetInitialMarginRatio decimal.Decimal
	MinPerpBalanceUSD        decimal.Decimal
	TargetSpotUSDCBufferUSD  decimal.Decimal
}

// DefaultFundingConfig returns the documented defaults.
func DefaultFundingConfig() FundingConfig {
	return FundingConfig{
		TargetInitialMarginRatio: decimal.NewFromFloat(1.25),
		MinPerpBalanceUSD:        decimal.NewFromInt(50),
		TargetSpotUSDCBufferUSD:  decimal.NewFromInt(25),
	}
}

type plannedAction struct {
	action     types.ExecutionAction
	skipped    bool
	skipReason string
}

// planFunding runs the two-phase funding planner ahead of a batch: phase 1
// unconditionally refills a perp deficit from spot, phase 2 walks the
// action list in order, clamping or inserting transfers so every spot buy
// is either fundable or explicitly skipped - never silently dropped and
// never allowed to abort the rest of the batch.
func (e *Executor) planFunding(ctx context.Context, state types.AccountState, actions []types.ExecutionAction) ([]plannedAction, error) {
	cfg := e.fundingCfg()

	spotUSDC := state.SpotBalances["USDC"]
	perpWithdrawable := state.AvailableBalance
	accountValue := state.AccountValue
	if !accountValue.IsPositive() {
		accountValue = perpWithdrawable.Add(state.TotalInitialMargin)
	}

	requiredCapital := decimal.Max(
		state.TotalInitialMargin.Mul(cfg.TargetInitialMarginRatio),
		cfg.MinPerpBalanceUSD,
	)

	var planned []plannedAction

	// Phase 1: unconditional perp-deficit refill.
	deficit := decimal.Max(decimal.Zero, requiredCapital.Sub(accountValue))
	if deficit.IsPositive() {
		reclaimable := decimal.Max(decimal.Zero, spotUSDC.Sub(cfg.TargetSpotUSDCBufferUSD))
		reclaim := decimal.Min(deficit, reclaimable)
		if reclaim.IsPositive() {
			planned = append(planned, plannedAction{action: types.ExecutionAction{
				Type: types.ActionTransfer, Coin: "USDC", MarketType: types.MarketPerp,
				FromWallet: "spot", ToWallet: "perp", Amount: reclaim,
			}})
			spotUSDC = spotUSDC.Sub(reclaim)
			perpWithdrawable = perpWithdrawable.Add(reclaim)
			accountValue = accountValue.Add(reclaim)
		}
	}

	for _, action := range actions {
		if action.Type == types.ActionTransfer {
			adjusted, skip := e.clampExistingTransfer(action, requiredCapital, accountValue, perpWithdrawable, spotUSDC)
			if skip != "" {
				planned = append(planned, plannedAction{skipped: true, skipReason: skip})
				continue
			}
			if adjusted.ToWallet == "spot" {
				perpWithdrawable = perpWithdrawable.Sub(adjusted.Amount)
				accountValue = accountValue.Sub(adjusted.Amount)
				spotUSDC = spotUSDC.Add(adjusted.Amount)
			} else {
				spotUSDC = spotUSDC.Sub(adjusted.Amount)
				perpWithdrawable = perpWithdrawable.Add(adjusted.Amount)
				accountValue = accountValue.Add(adjusted.Amount)
			}
			planned = append(planned, plannedAction{action: adjusted})
			continue
		}

		if action.MarketType != types.MarketSpot || (action.Type != types.ActionBuy && action.Type != types.ActionSell) {
			planned = append(planned, plannedAction{action: action})
			continue
		}

		notional := e.estimateNotional(ctx, action)

		if action.Type == types.ActionSell {
			spotUSDC = spotUSDC.Add(notional)
			planned = append(planned, plannedAction{action: action})
			continue
		}

		spotRequirement := notional.Add(cfg.TargetSpotUSDCBufferUSD)
		buyDeficit := decimal.Max(decimal.Zero, spotRequirement.Sub(spotUSDC))

		if buyDeficit.IsPositive() {
			safeTransferable := safeTransferable(requiredCapital, accountValue, perpWithdrawable)
			transferAmount := decimal.Min(buyDeficit, safeTransferable)
			if transferAmount.IsPositive() {
				planned = append(planned, plannedAction{action: types.ExecutionAction{
					Type: types.ActionTransfer, Coin: "USDC", MarketType: types.MarketSpot,
					FromWallet: "perp", ToWallet: "spot", Amount: transferAmount,
				}})
				perpWithdrawable = perpWithdrawable.Sub(transferAmount)
				accountValue = accountValue.Sub(transferAmount)
				spotUSDC = spotUSDC.Add(transferAmount)
				buyDeficit = decimal.Max(decimal.Zero, buyDeficit.Sub(transferAmount))
			}
		}

		if buyDeficit.IsPositive() {
			planned = append(planned, plannedAction{skipped: true, skipReason: "skipped_insufficient_funds"})
			continue
		}

		spotUSDC = spotUSDC.Sub(notional)
		planned = append(planned, plannedAction{action: action})
	}

	return planned, nil
}

// clampExistingTransfer validates/clamps a transfer the caller supplied.
// Returns an empty skip reason when the (possibly clamped) action should
// proceed.
func (e *Executor) clampExistingTransfer(action types.ExecutionAction, requiredCapital, accountValue, perpWithdrawable, spotUSDC decimal.Decimal) (types.ExecutionAction, string) {
	if !action.Amount.IsPositive() {
		return action, "transfer has non-positive amount"
	}

	if action.ToWallet == "spot" {
		safe := safeTransferable(requiredCapital, accountValue, perpWithdrawable)
		if !safe.IsPositive() {
			return action, "transfer to spot skipped (no safe headroom)"
		}
		if action.Amount.GreaterThan(safe) {
			action.Amount = safe
		}
		return action, ""
	}

	// Destination perp: clamp to spot's reclaimable buffer.
	maxToPerp := decimal.Max(decimal.Zero, spotUSDC.Sub(e.fundingCfg().TargetSpotUSDCBufferUSD))
	if !maxToPerp.IsPositive() {
		return action, "transfer to perp skipped (spot buffer exhausted)"
	}
	if action.Amount.GreaterThan(maxToPerp) {
		action.Amount = maxToPerp
	}
	return action, ""
}

func safeTransferable(requiredCapital, accountValue, perpWithdrawable decimal.Decimal) decimal.Decimal {
	headroom := decimal.Max(decimal.Zero, accountValue.Sub(requiredCapital))
	return decimal.Min(perpWithdrawable, headroom)
}

// estimateNotional prices a spot action at its explicit limit price, or
// failing that the venue's current mid as a reference; pricing failures
// degrade to zero notional rather than aborting the plan.
func (e *Executor) estimateNotional(ctx context.Context, action types.ExecutionAction) decimal.Decimal {
	if action.Size.IsZero() {
		return decimal.Zero
	}
	if action.Price != nil {
		return action.Size.Mul(*action.Price)
	}

	prices, err := e.exchange.SpotMetaAndAssetCtxs(ctx)
	if err != nil {
		return decimal.Zero
	}
	id, ok := e.identity.Identity(action.Coin)
	if !ok {
		return decimal.Zero
	}
	for _, alias := range id.SpotAliases {
		if price, ok := prices[alias]; ok {
			return action.Size.Mul(price)
		}
	}
	return decimal.Zero
}

func (e *Executor) fundingCfg() FundingConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.funding
}
