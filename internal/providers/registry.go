package providers

// Set bundles every configured provider the Orchestrator can fan out to.
// Fields are nil-able: a disabled provider (per config's per-provider
// enabled flag) is simply left unset, and callers treat a nil provider as
// an always-missing field rather than a panic.
type Set struct {
	Exchange     Exchange
	FearGreed    *FearGreedProvider
	TokenUnlocks *TokenUnlockProvider
	MacroCal     *MacroCalendarProvider
	CrossAsset   *CrossAssetProvider
}

// BreakerStatus reports every provider's circuit state, keyed by name, for
// status/metrics endpoints.
type BreakerStatus struct {
	Name  string
	State CircuitState
}

// Statuses collects the breaker state of every source-backed provider in
// the set. Providers left nil in the set are omitted; a non-nil FearGreed
// is always listed, whether or not it has an API key.
func (s *Set) Statuses() []BreakerStatus {
	var out []BreakerStatus
	if hx, ok := s.Exchange.(*HyperliquidExchange); ok && hx != nil {
		out = append(out, BreakerStatus{Name: "hyperliquid.reads", State: hx.reads.BreakerState()})
		out = append(out, BreakerStatus{Name: "hyperliquid.orders", State: hx.orders.BreakerState()})
		out = append(out, BreakerStatus{Name: "hyperliquid.spot_prices", State: hx.spotPrices.BreakerState()})
	}
	if s.FearGreed != nil {
		out = append(out, BreakerStatus{Name: "feargreed", State: s.FearGreed.src.BreakerState()})
	}
	if s.TokenUnlocks != nil {
		out = append(out, BreakerStatus{Name: "tokenunlocks", State: s.TokenUnlocks.src.BreakerState()})
	}
	if s.MacroCal != nil {
		out = append(out, BreakerStatus{Name: "macrocalendar", State: s.MacroCal.src.BreakerState()})
	}
	if s.CrossAsset != nil {
		out = append(out, BreakerStatus{Name: "crossasset", State: s.CrossAsset.src.BreakerState()})
	}
	return out
}
