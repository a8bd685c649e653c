// Package execution validates and carries out the ExecutionActions a
// governed plan emits: pre-trade checks, venue-precision size rounding,
// order-type selection, and the cross-wallet funding planner that keeps
// spot and perp balances able to fund the actions ahead of them.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/account"
	"github.com/timbrinded/degen-ai-sub000/internal/providers"
	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// Config configures executor-wide safety limits.
type Config struct {
	MinOrderNotional decimal.Decimal
	MaxSignalAge      time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinOrderNotional: decimal.NewFromInt(10),
		MaxSignalAge:     5 * time.Minute,
	}
}

// Executor validates and places orders/transfers against the venue,
// applying the funding planner ahead of every batch.
type Executor struct {
	cfg      Config
	exchange providers.Exchange
	identity *account.IdentityRegistry
	logger   *zap.Logger

	mu        sync.RWMutex
	szMeta    map[string]providers.AssetMeta
	metaStamp time.Time

	funding FundingConfig
}

// New builds an Executor.
func New(cfg Config, exchange providers.Exchange, identity *account.IdentityRegistry, logger *zap.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		exchange: exchange,
		identity: identity,
		logger:   logger.Named("executor"),
		szMeta:   make(map[string]providers.AssetMeta),
		funding:  DefaultFundingConfig(),
	}
}

// SetFundingConfig overrides the funding planner's thresholds.
func (e *Executor) SetFundingConfig(cfg FundingConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funding = cfg
}

// RefreshMeta re-hydrates the sz_decimals/leverage cache from the venue.
// Call at startup and periodically thereafter.
func (e *Executor) RefreshMeta(ctx context.Context) error {
	meta, err := e.exchange.Meta(ctx)
	if err != nil {
		return fmt.Errorf("executor: refresh meta: %w", err)
	}
	e.mu.Lock()
	e.szMeta = meta
	e.metaStamp = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *Executor) szDecimals(coin string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if m, ok := e.szMeta[coin]; ok {
		return m.SzDecimals
	}
	return 2 // conservative default when metadata hasn't loaded yet
}

// ExecuteBatch runs the funding planner over actions, then executes each
// surviving action in order. An action the funding planner skips is
// returned as a skipped ExecutionResult, never an error - one unfundable
// buy must never abort the rest of the batch.
func (e *Executor) ExecuteBatch(ctx context.Context, state types.AccountState, actions []types.ExecutionAction) ([]types.ExecutionResult, error) {
	planned, err := e.planFunding(ctx, state, actions)
	if err != nil {
		return nil, fmt.Errorf("executor: funding planner: %w", err)
	}

	results := make([]types.ExecutionResult, 0, len(planned))
	for _, pa := range planned {
		if pa.skipped {
			results = append(results, types.ExecutionResult{Skipped: true, SkipReason: pa.skipReason})
			continue
		}
		results = append(results, e.executeOne(ctx, pa.action))
	}
	return results, nil
}

// executeOne validates, rounds, and dispatches a single non-skipped
// action.
func (e *Executor) executeOne(ctx context.Context, action types.ExecutionAction) types.ExecutionResult {
	if err := e.validate(action); err != nil {
		return types.ExecutionResult{Error: err.Error()}
	}

	switch action.Type {
	case types.ActionTransfer:
		return e.executeTransfer(ctx, action)
	case types.ActionClose:
		return e.executeClose(ctx, action)
	case types.ActionBuy, types.ActionSell:
		return e.executeOrder(ctx, action)
	case types.ActionHold:
		return types.ExecutionResult{Success: true}
	default:
		return types.ExecutionResult{Error: fmt.Sprintf("unknown action type %q", action.Type)}
	}
}

func (e *Executor) validate(action types.ExecutionAction) error {
	if action.Coin == "" && action.Type != types.ActionTransfer {
		return fmt.Errorf("action missing coin")
	}
	if action.MarketType != "" && action.MarketType != types.MarketSpot && action.MarketType != types.MarketPerp {
		return fmt.Errorf("invalid market type %q", action.MarketType)
	}
	switch action.Type {
	case types.ActionBuy, types.ActionSell, types.ActionClose:
		if !action.Size.IsPositive() {
			return fmt.Errorf("%s requires a positive size", action.Type)
		}
	case types.ActionTransfer:
		if !action.Amount.IsPositive() {
			return fmt.Errorf("transfer requires a positive amount")
		}
		if action.FromWallet == "" || action.ToWallet == "" || action.FromWallet == action.ToWallet {
			return fmt.Errorf("transfer requires distinct from/to wallets")
		}
	}
	return nil
}

// roundSize truncates (ROUND_DOWN, never half-up) a size to the venue's
// sz_decimals for the coin - e.g. 0.123456789 -> 0.1234 at 4dp.
func (e *Executor) roundSize(coin string, size decimal.Decimal) decimal.Decimal {
	return size.Truncate(int32(e.szDecimals(coin)))
}

func (e *Executor) executeOrder(ctx context.Context, action types.ExecutionAction) types.ExecutionResult {
	size := e.roundSize(action.Coin, action.Size)
	if size.IsZero() {
		return types.ExecutionResult{Skipped: true, SkipReason: "size rounds to zero at venue precision"}
	}

	side := "buy"
	if action.Type == types.ActionSell {
		side = "sell"
	}

	req := providers.OrderRequest{
		Coin:       action.Coin,
		MarketType: string(action.MarketType),
		Side:       side,
		Size:       size,
		LimitPrice: action.Price,
	}

	// nil price selects a market order; a set price selects a resting
	// limit order.
	var (
		res providers.OrderResult
		err error
	)
	if action.Price == nil {
		res, err = e.exchange.MarketOpen(ctx, req)
	} else {
		res, err = e.exchange.Order(ctx, req)
	}
	if err != nil {
		return types.ExecutionResult{Error: err.Error()}
	}
	return types.ExecutionResult{Success: true, OrderID: res.OrderID}
}

func (e *Executor) executeClose(ctx context.Context, action types.ExecutionAction) types.ExecutionResult {
	size := e.roundSize(action.Coin, action.Size)
	if size.IsZero() {
		return types.ExecutionResult{Skipped: true, SkipReason: "close size rounds to zero at venue precision"}
	}
	// Close always executes at market - waiting for a limit fill on an
	// exit defeats the purpose of closing.
	res, err := e.exchange.MarketOpen(ctx, providers.OrderRequest{
		Coin:       action.Coin,
		MarketType: string(action.MarketType),
		Side:       "close",
		Size:       size,
		ReduceOnly: true,
	})
	if err != nil {
		return types.ExecutionResult{Error: err.Error()}
	}
	return types.ExecutionResult{Success: true, OrderID: res.OrderID}
}

func (e *Executor) executeTransfer(ctx context.Context, action types.ExecutionAction) types.ExecutionResult {
	err := e.exchange.Transfer(ctx, providers.TransferRequest{
		FromWallet: action.FromWallet,
		ToWallet:   action.ToWallet,
		Coin:       action.Coin,
		Amount:     action.Amount,
	})
	if err != nil {
		return types.ExecutionResult{Error: err.Error()}
	}
	return types.ExecutionResult{Success: true}
}
