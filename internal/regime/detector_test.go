package regime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

type stubOracle struct {
	regime types.Regime
	err    error
}

func (s *stubOracle) ClassifyRegime(ctx context.Context, signals types.RegimeSignals) (types.RegimeClassification, float64, int, error) {
	if s.err != nil {
		return types.RegimeClassification{}, 0, 0, s.err
	}
	return types.RegimeClassification{Regime: s.regime, Confidence: 0.9, Timestamp: time.Now(), Signals: signals}, 0.001, 50, nil
}

func TestClassifyForcesEventRiskInsideLockWindow(t *testing.T) {
	d := NewDetector(DefaultConfig(), &stubOracle{regime: types.RegimeTrendingBull}, zap.NewNop())
	now := time.Now()
	d.SetCalendar([]types.MacroEvent{{Name: "FOMC", At: now.Add(30 * time.Minute)}})

	classification, err := d.Classify(context.Background(), types.RegimeSignals{}, now)
	require.NoError(t, err)
	require.Equal(t, types.RegimeEventRisk, classification.Regime)
	require.Equal(t, 1.0, classification.Confidence)
}

func TestClassifyOutsideLockWindowUsesOracle(t *testing.T) {
	d := NewDetector(DefaultConfig(), &stubOracle{regime: types.RegimeTrendingBull}, zap.NewNop())
	now := time.Now()
	d.SetCalendar([]types.MacroEvent{{Name: "FOMC", At: now.Add(48 * time.Hour)}})

	classification, err := d.Classify(context.Background(), types.RegimeSignals{}, now)
	require.NoError(t, err)
	require.Equal(t, types.RegimeTrendingBull, classification.Regime)
}

func TestConfirmRequiresFullHistory(t *testing.T) {
	d := NewDetector(DefaultConfig(), &stubOracle{}, zap.NewNop())
	changed, reason := d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBull})
	require.False(t, changed)
	require.Contains(t, reason, "insufficient history")
}

func TestConfirmChangesRegimeOnMajorityAboveThreshold(t *testing.T) {
	d := NewDetector(DefaultConfig(), &stubOracle{}, zap.NewNop())
	d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBull})
	d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBull})
	changed, reason := d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBull})
	require.True(t, changed)
	require.Contains(t, reason, "confirmed")
	require.Equal(t, types.RegimeTrendingBull, d.CurrentRegime())
}

func TestConfirmDoesNotChangeBelowThreshold(t *testing.T) {
	d := NewDetector(DefaultConfig(), &stubOracle{}, zap.NewNop())
	// 2/3 bull, 1/3 bear: fraction 0.666 < 0.7 enter threshold.
	d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBull})
	d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBull})
	changed, _ := d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBear})
	require.False(t, changed)
	require.Equal(t, types.RegimeUnknown, d.CurrentRegime())
}

func TestConfirmNoChangeWhenCandidateMatchesCurrent(t *testing.T) {
	d := NewDetector(DefaultConfig(), &stubOracle{}, zap.NewNop())
	d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBull})
	d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBull})
	d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBull})
	require.Equal(t, types.RegimeTrendingBull, d.CurrentRegime())

	changed, reason := d.Confirm(types.RegimeClassification{Regime: types.RegimeTrendingBull})
	require.False(t, changed)
	require.Equal(t, "no regime change", reason)
}
