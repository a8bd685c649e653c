package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/regime"
	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

var _ regime.Oracle = (*LLMOracle)(nil)

func chatCompletionHandler(t *testing.T, content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Choices = []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: content}}}
		resp.Usage.TotalTokens = 123
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestClassifyRegimeParsesCompletion(t *testing.T) {
	srv := httptest.NewServer(chatCompletionHandler(t, `{"regime":"trending-bull","confidence":0.8,"reasoning":"momentum"}`))
	defer srv.Close()

	o := New(Config{BaseURL: srv.URL, Model: "test-model"}, zap.NewNop())
	classification, cost, tokens, err := o.ClassifyRegime(context.Background(), types.RegimeSignals{})
	require.NoError(t, err)
	require.Equal(t, types.RegimeTrendingBull, classification.Regime)
	require.Equal(t, 0.8, classification.Confidence)
	require.Equal(t, 123, tokens)
	require.Greater(t, cost, 0.0)
}

func TestProposePlanReturnsNilOnNoChange(t *testing.T) {
	srv := httptest.NewServer(chatCompletionHandler(t, `{"no_change":true}`))
	defer srv.Close()

	o := New(Config{BaseURL: srv.URL, Model: "test-model"}, zap.NewNop())
	plan, err := o.ProposePlan(context.Background(), types.AccountState{}, types.RegimeSignals{}, types.RegimeClassification{})
	require.NoError(t, err)
	require.Nil(t, plan)
}

func TestProposePlanReturnsPlanWhenProposed(t *testing.T) {
	srv := httptest.NewServer(chatCompletionHandler(t, `{"no_change":false,"plan":{"plan_id":"p1","strategy_name":"rotate"}}`))
	defer srv.Close()

	o := New(Config{BaseURL: srv.URL, Model: "test-model"}, zap.NewNop())
	plan, err := o.ProposePlan(context.Background(), types.AccountState{}, types.RegimeSignals{}, types.RegimeClassification{})
	require.NoError(t, err)
	require.NotNil(t, plan)
	require.Equal(t, "p1", plan.PlanID)
}
