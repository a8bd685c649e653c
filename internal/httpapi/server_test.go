package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

type stubStatus struct {
	state    types.AccountState
	hasState bool
	plan     *types.StrategyPlanCard
	regime   types.RegimeClassification
	events   []types.TripwireEvent
	active   types.PlanMetrics
	hasActive bool
	completed []types.PlanMetrics
}

func (s *stubStatus) AccountStatus() (types.AccountState, bool)            { return s.state, s.hasState }
func (s *stubStatus) ActivePlan() (*types.StrategyPlanCard, bool)          { return s.plan, s.plan != nil }
func (s *stubStatus) CurrentRegime() types.RegimeClassification            { return s.regime }
func (s *stubStatus) LatestTripwireEvents() []types.TripwireEvent          { return s.events }
func (s *stubStatus) ActiveMetrics() (types.PlanMetrics, bool)             { return s.active, s.hasActive }
func (s *stubStatus) CompletedPlans() ([]types.PlanMetrics, error)         { return s.completed, nil }

func newTestServer(status *stubStatus) *Server {
	return New(Config{Addr: ":0"}, status, zap.NewNop())
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&stubStatus{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatusServiceUnavailableBeforeFirstSnapshot(t *testing.T) {
	s := newTestServer(&stubStatus{hasState: false})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleGovPlanReportsNoActivePlan(t *testing.T) {
	s := newTestServer(&stubStatus{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/gov/plan", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "no_active_plan", body["status"])
}

func TestHandleGovMetricsIncludesActiveAndCompleted(t *testing.T) {
	status := &stubStatus{
		hasActive: true,
		active:    types.PlanMetrics{PlanID: "p1", TotalPnL: decimal.NewFromInt(10)},
		completed: []types.PlanMetrics{{PlanID: "p0"}},
	}
	s := newTestServer(status)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/gov/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "active_plan")
	require.Contains(t, body, "completed_plans")
}

func TestHandleMetricsExposesPrometheusFormat(t *testing.T) {
	s := newTestServer(&stubStatus{})
	s.PublishMetricsUpdate(types.PlanMetrics{TotalPnL: decimal.NewFromInt(5)})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gov_active_plan_pnl_usd")
}

func TestStartShutsDownOnContextCancel(t *testing.T) {
	s := newTestServer(&stubStatus{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
