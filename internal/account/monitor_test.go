package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/providers"
	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// stubExchange implements providers.Exchange with scripted responses,
// only wiring the methods account tests actually exercise.
type stubExchange struct {
	userState    types.AccountState
	userStateErr error
	spotPrices   map[string]decimal.Decimal
	spotErr      error
}

func (s *stubExchange) UserState(ctx context.Context) (types.AccountState, error) {
	return s.userState, s.userStateErr
}
func (s *stubExchange) SpotMeta(ctx context.Context) (map[string]providers.AssetMeta, error) {
	return nil, nil
}
func (s *stubExchange) SpotMetaAndAssetCtxs(ctx context.Context) (map[string]decimal.Decimal, error) {
	return s.spotPrices, s.spotErr
}
func (s *stubExchange) Meta(ctx context.Context) (map[string]providers.AssetMeta, error) {
	return nil, nil
}
func (s *stubExchange) L2Snapshot(ctx context.Context, coin string) (providers.OrderBook, error) {
	return providers.OrderBook{}, nil
}
func (s *stubExchange) FundingHistory(ctx context.Context, coin string, start, end time.Time) ([]providers.FundingPoint, error) {
	return nil, nil
}
func (s *stubExchange) CandlesSnapshot(ctx context.Context, coin, interval string, start, end time.Time) ([]providers.Candle, error) {
	return nil, nil
}
func (s *stubExchange) Order(ctx context.Context, req providers.OrderRequest) (providers.OrderResult, error) {
	return providers.OrderResult{}, nil
}
func (s *stubExchange) MarketOpen(ctx context.Context, req providers.OrderRequest) (providers.OrderResult, error) {
	return providers.OrderResult{}, nil
}
func (s *stubExchange) Transfer(ctx context.Context, req providers.TransferRequest) error {
	return nil
}

func testIdentity() *IdentityRegistry {
	r := NewIdentityRegistry()
	r.Hydrate([]types.AssetIdentity{
		{CanonicalSymbol: "BTC", PerpAlias: "BTC", SpotAliases: []string{"BTC/USDC"}},
	})
	return r
}

func TestSnapshotFreshReturnsNotStale(t *testing.T) {
	ex := &stubExchange{
		userState: types.AccountState{PortfolioValue: decimal.NewFromInt(1000), Timestamp: time.Now().Unix()},
	}
	m := NewMonitor(ex, testIdentity(), zap.NewNop())

	state, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.False(t, state.IsStale)
	require.True(t, state.PortfolioValue.Equal(decimal.NewFromInt(1000)))
}

func TestSnapshotFailureFallsBackToLastGood(t *testing.T) {
	ex := &stubExchange{
		userState: types.AccountState{PortfolioValue: decimal.NewFromInt(500), Timestamp: time.Now().Unix()},
	}
	m := NewMonitor(ex, testIdentity(), zap.NewNop())

	_, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	ex.userStateErr = errors.New("venue unreachable")
	stale, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.True(t, stale.IsStale)
	require.True(t, stale.PortfolioValue.Equal(decimal.NewFromInt(500)))
}

func TestSnapshotFailureWithNoPriorSnapshotErrors(t *testing.T) {
	ex := &stubExchange{userStateErr: errors.New("venue unreachable")}
	m := NewMonitor(ex, testIdentity(), zap.NewNop())

	_, err := m.Snapshot(context.Background())
	require.Error(t, err)
}

func TestMidPriceUSDCHardcodedToOne(t *testing.T) {
	ex := &stubExchange{}
	svc := NewPriceService(ex, testIdentity())
	px, err := svc.MidPrice(context.Background(), usdcSymbol)
	require.NoError(t, err)
	require.True(t, px.Equal(decimal.NewFromInt(1)))
}

func TestMidPriceResolvesViaIdentity(t *testing.T) {
	ex := &stubExchange{spotPrices: map[string]decimal.Decimal{"BTC/USDC": decimal.NewFromInt(60000)}}
	svc := NewPriceService(ex, testIdentity())
	px, err := svc.MidPrice(context.Background(), "BTC")
	require.NoError(t, err)
	require.True(t, px.Equal(decimal.NewFromInt(60000)))
}

func TestValueSpotBalancesSumsUSDValue(t *testing.T) {
	ex := &stubExchange{spotPrices: map[string]decimal.Decimal{"BTC/USDC": decimal.NewFromInt(60000)}}
	svc := NewPriceService(ex, testIdentity())
	_, total, err := svc.ValueSpotBalances(context.Background(), map[string]decimal.Decimal{"BTC": decimal.NewFromFloat(0.5)})
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.NewFromInt(30000)))
}
