// Package account snapshots venue account state with a stale-data
// fallback, and resolves venue-reported asset aliases to canonical
// symbols for pricing and reporting.
package account

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/providers"
	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// Monitor snapshots account state from the venue, falling back to the
// last good snapshot (marked stale) on failure. No stale value is ever
// silently treated as fresh: callers must check AccountState.IsStale.
type Monitor struct {
	exchange providers.Exchange
	prices   *PriceService
	identity *IdentityRegistry
	logger   *zap.Logger

	lastGood atomic.Pointer[types.AccountState]
}

// NewMonitor builds a Monitor.
func NewMonitor(exchange providers.Exchange, identity *IdentityRegistry, logger *zap.Logger) *Monitor {
	return &Monitor{
		exchange: exchange,
		prices:   NewPriceService(exchange, identity),
		identity: identity,
		logger:   logger.Named("account.monitor"),
	}
}

// Snapshot fetches fresh account state. On success it updates the last
// good snapshot and returns it with IsStale=false. On failure it returns
// the last good snapshot with IsStale=true; if there is no last good
// snapshot yet, it returns the underlying error.
func (m *Monitor) Snapshot(ctx context.Context) (types.AccountState, error) {
	state, err := m.fetch(ctx)
	if err != nil {
		cached := m.lastGood.Load()
		if cached == nil {
			return types.AccountState{}, fmt.Errorf("account: no snapshot available: %w", err)
		}
		stale := *cached
		stale.IsStale = true
		m.logger.Warn("serving stale account snapshot", zap.Error(err),
			zap.Int64("snapshot_age_seconds", time.Now().Unix()-cached.Timestamp))
		return stale, nil
	}

	state.IsStale = false
	m.lastGood.Store(&state)
	return state, nil
}

func (m *Monitor) fetch(ctx context.Context) (types.AccountState, error) {
	state, err := m.exchange.UserState(ctx)
	if err != nil {
		return types.AccountState{}, fmt.Errorf("account: user_state: %w", err)
	}

	if len(state.SpotBalances) > 0 {
		_, spotValue, err := m.prices.ValueSpotBalances(ctx, state.SpotBalances)
		if err != nil {
			return types.AccountState{}, fmt.Errorf("account: pricing spot balances: %w", err)
		}
		state.PortfolioValue = state.PortfolioValue.Add(spotValue)
		state.AccountValue = state.AccountValue.Add(spotValue)
	}

	return state, nil
}
