package account

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/timbrinded/degen-ai-sub000/internal/providers"
)

// usdcSymbol is hardcoded to a mid price of 1.0 per spec.md - it never
// trades against itself on the spot book.
const usdcSymbol = "USDC"

// PriceService resolves spot balances to USD value using venue mid
// prices, cached on a 30s TTL deliberately separate from the 5s
// order-book cache (the exchange's spotPrices Source enforces this).
type PriceService struct {
	exchange providers.Exchange
	identity *IdentityRegistry
}

// NewPriceService builds a PriceService.
func NewPriceService(exchange providers.Exchange, identity *IdentityRegistry) *PriceService {
	return &PriceService{exchange: exchange, identity: identity}
}

// MidPrice returns the USD mid price for a canonical symbol, resolving
// through the identity registry to the venue's spot alias. USDC is
// hardcoded to 1.0 and never hits the network.
func (p *PriceService) MidPrice(ctx context.Context, canonical string) (decimal.Decimal, error) {
	if canonical == usdcSymbol {
		return decimal.NewFromInt(1), nil
	}

	prices, err := p.exchange.SpotMetaAndAssetCtxs(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account: fetching spot prices: %w", err)
	}

	id, ok := p.identity.Identity(canonical)
	if !ok {
		return decimal.Zero, fmt.Errorf("account: no identity for symbol %q", canonical)
	}

	for _, alias := range append([]string{id.PerpAlias}, id.SpotAliases...) {
		if alias == "" {
			continue
		}
		if px, ok := prices[alias]; ok {
			return px, nil
		}
	}
	return decimal.Zero, fmt.Errorf("account: no spot price found for %q", canonical)
}

// ValueSpotBalances converts a venue-aliased spot-balance map into USD
// value keyed by canonical symbol, skipping aliases the registry cannot
// resolve rather than failing the whole snapshot.
func (p *PriceService) ValueSpotBalances(ctx context.Context, balances map[string]decimal.Decimal) (map[string]decimal.Decimal, decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(balances))
	total := decimal.Zero

	for alias, qty := range balances {
		canonical, err := p.identity.Canonical(alias)
		if err != nil {
			canonical = alias // unresolved alias still reported, just not summed reliably
		}
		px, err := p.MidPrice(ctx, canonical)
		if err != nil {
			continue
		}
		value := qty.Mul(px)
		out[canonical] = value
		total = total.Add(value)
	}
	return out, total, nil
}
