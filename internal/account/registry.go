package account

import (
	"fmt"
	"sync"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// IdentityRegistry resolves any venue-reported alias (wallet balance key,
// perp coin name, spot pair name) back to a canonical symbol, and vice
// versa. It is populated only from the identities passed to Hydrate
// (govctl passes the configured asset list once at startup); venue
// metadata is not consulted, and there is no method that refreshes it.
type IdentityRegistry struct {
	mu          sync.RWMutex
	byCanonical map[string]types.AssetIdentity
	aliasToCanonical map[string]string
}

// NewIdentityRegistry builds an empty registry; call Hydrate to populate it.
func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{
		byCanonical:      make(map[string]types.AssetIdentity),
		aliasToCanonical: make(map[string]string),
	}
}

// Hydrate replaces the registry's contents with the given identities,
// indexing every alias (wallet, perp, spot) back to its canonical symbol.
func (r *IdentityRegistry) Hydrate(identities []types.AssetIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byCanonical = make(map[string]types.AssetIdentity, len(identities))
	r.aliasToCanonical = make(map[string]string)

	for _, id := range identities {
		r.byCanonical[id.CanonicalSymbol] = id
		r.index(id.CanonicalSymbol, id.WalletAlias)
		r.index(id.CanonicalSymbol, id.PerpAlias)
		for _, alias := range id.SpotAliases {
			r.index(id.CanonicalSymbol, alias)
		}
	}
}

func (r *IdentityRegistry) index(canonical, alias string) {
	if alias == "" {
		return
	}
	r.aliasToCanonical[alias] = canonical
}

// Canonical resolves any known alias to its canonical symbol.
func (r *IdentityRegistry) Canonical(alias string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.aliasToCanonical[alias]
	if !ok {
		return "", fmt.Errorf("account: unknown asset alias %q", alias)
	}
	return canonical, nil
}

// Identity returns the full identity record for a canonical symbol.
func (r *IdentityRegistry) Identity(canonical string) (types.AssetIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCanonical[canonical]
	return id, ok
}

// All returns every registered identity.
func (r *IdentityRegistry) All() []types.AssetIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AssetIdentity, 0, len(r.byCanonical))
	for _, id := range r.byCanonical {
		out = append(out, id)
	}
	return out
}
