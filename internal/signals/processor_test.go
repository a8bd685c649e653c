package signals

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/providers"
)

func TestSMAMissingWhenInsufficientData(t *testing.T) {
	m := SMA([]float64{1, 2, 3}, 20)
	require.True(t, m.Missing)
}

func TestSMAComputesAverage(t *testing.T) {
	m := SMA([]float64{1, 2, 3, 4, 5}, 5)
	require.False(t, m.Missing)
	require.InDelta(t, 3.0, m.Value, 0.0001)
}

func TestMaxDrawdown(t *testing.T) {
	m := MaxDrawdown([]float64{100, 120, 80, 90})
	require.False(t, m.Missing)
	require.InDelta(t, (120.0-80.0)/120.0, m.Value, 0.0001)
}

func TestPearsonCorrelationMissingOnShortSeries(t *testing.T) {
	m := PearsonCorrelation([]float64{1, 2}, []float64{1, 2})
	require.True(t, m.Missing)
}

func TestPearsonCorrelationPerfectPositive(t *testing.T) {
	m := PearsonCorrelation([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8})
	require.False(t, m.Missing)
	require.InDelta(t, 1.0, m.Value, 0.0001)
}

func candle(closePx float64) providers.Candle {
	return providers.Candle{Close: decimal.NewFromFloat(closePx), High: decimal.NewFromFloat(closePx), Low: decimal.NewFromFloat(closePx)}
}

func TestDeriveBuildsPriceContext(t *testing.T) {
	p := NewProcessor(zap.NewNop())
	candles := make([]providers.Candle, 60)
	for i := range candles {
		candles[i] = candle(float64(100 + i))
	}

	signals := p.Derive(Input{Candles: candles, CandlesConfidence: 1.0, ADXPeriod: 14})
	require.False(t, signals.PriceSMA20.IsZero())
	require.True(t, signals.PriceContext.CurrentPrice.Equal(decimal.NewFromFloat(159)))
}

func TestDeriveNilCrossAssetWhenNoSeries(t *testing.T) {
	p := NewProcessor(zap.NewNop())
	signals := p.Derive(Input{})
	require.Nil(t, signals.CrossAssetCorrelation)
}
