// Package oracle implements the governance core's only call out to a
// language model: classifying the current market regime and, on the
// medium loop, proposing a replacement strategy plan. Both calls go
// through the same resty client, retry policy, and circuit breaker idiom
// the rest of internal/providers uses for every other upstream source.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/providers"
	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// Config configures the backing LLM call. BaseURL/Provider/Model/Key come
// straight from the config file's llm section; the wire shape is a
// generic chat-completion request (role/content messages, JSON response)
// compatible with any OpenAI-style endpoint, since no single vendor SDK
// is assumed.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// LLMOracle is the concrete regime.Oracle plus the plan-proposal call the
// medium loop uses.
type LLMOracle struct {
	cfg     Config
	http    *resty.Client
	breaker *providers.CircuitBreaker
	retry   providers.RetryPolicy
	logger  *zap.Logger
}

// New builds an LLMOracle.
func New(cfg Config, logger *zap.Logger) *LLMOracle {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.APIKey)

	return &LLMOracle{
		cfg:     cfg,
		http:    client,
		breaker: providers.NewCircuitBreaker(providers.DefaultCircuitBreakerConfig()),
		retry:   providers.DefaultRetryPolicy(),
		logger:  logger.Named("oracle"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type regimeClassificationPayload struct {
	Regime     types.Regime `json:"regime"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
}

// ClassifyRegime satisfies regime.Oracle: it asks the model to classify
// the current regime from the supplied signal snapshot and returns the
// classification, the call's USD cost, and the token count spent.
func (o *LLMOracle) ClassifyRegime(ctx context.Context, signals types.RegimeSignals) (types.RegimeClassification, float64, int, error) {
	if !o.breaker.Allow() {
		return types.RegimeClassification{}, 0, 0, providers.ErrUpstreamUnavailable
	}

	signalsJSON, err := json.Marshal(signals)
	if err != nil {
		return types.RegimeClassification{}, 0, 0, fmt.Errorf("oracle: marshal signals: %w", err)
	}

	var raw chatResponse
	resp, err := o.retry.Do(ctx, func(ctx context.Context) (*resty.Response, error) {
		return o.http.R().SetContext(ctx).SetResult(&raw).SetBody(chatRequest{
			Model:       o.cfg.Model,
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxTokens,
			Messages: []chatMessage{
				{Role: "system", Content: regimeClassificationSystemPrompt},
				{Role: "user", Content: string(signalsJSON)},
			},
		}).Post("/chat/completions")
	})
	if err != nil {
		o.breaker.RecordFailure()
		return types.RegimeClassification{}, 0, 0, err
	}
	o.breaker.RecordSuccess()

	if len(raw.Choices) == 0 {
		return types.RegimeClassification{}, 0, 0, fmt.Errorf("oracle: empty completion")
	}

	var payload regimeClassificationPayload
	if err := json.Unmarshal([]byte(raw.Choices[0].Message.Content), &payload); err != nil {
		return types.RegimeClassification{}, 0, 0, fmt.Errorf("oracle: decode classification: %w", err)
	}

	classification := types.RegimeClassification{
		Regime:     payload.Regime,
		Confidence: payload.Confidence,
		Timestamp:  time.Now(),
		Signals:    signals,
		Reasoning:  payload.Reasoning,
	}

	cost := estimateCostUSD(o.cfg.Model, raw.Usage.TotalTokens)
	_ = resp
	return classification, cost, raw.Usage.TotalTokens, nil
}

// planProposalPayload is the wire shape the model is asked to return for
// ProposePlan; NoChange lets the model decline without fabricating a plan.
type planProposalPayload struct {
	NoChange bool                    `json:"no_change"`
	Plan     *types.StrategyPlanCard `json:"plan,omitempty"`
}

// ProposePlan asks the model, given the account state, latest signals, and
// current regime, whether to replace the active plan. A nil plan return
// means the model proposed no_change.
func (o *LLMOracle) ProposePlan(ctx context.Context, state types.AccountState, signals types.RegimeSignals, regime types.RegimeClassification) (*types.StrategyPlanCard, error) {
	if !o.breaker.Allow() {
		return nil, providers.ErrUpstreamUnavailable
	}

	body, err := json.Marshal(map[string]any{
		"account_state": state,
		"signals":       signals,
		"regime":        regime,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal proposal request: %w", err)
	}

	var raw chatResponse
	_, err = o.retry.Do(ctx, func(ctx context.Context) (*resty.Response, error) {
		return o.http.R().SetContext(ctx).SetResult(&raw).SetBody(chatRequest{
			Model:       o.cfg.Model,
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxTokens,
			Messages: []chatMessage{
				{Role: "system", Content: planProposalSystemPrompt},
				{Role: "user", Content: string(body)},
			},
		}).Post("/chat/completions")
	})
	if err != nil {
		o.breaker.RecordFailure()
		return nil, err
	}
	o.breaker.RecordSuccess()

	if len(raw.Choices) == 0 {
		return nil, fmt.Errorf("oracle: empty completion")
	}

	var payload planProposalPayload
	if err := json.Unmarshal([]byte(raw.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("oracle: decode proposal: %w", err)
	}
	if payload.NoChange {
		return nil, nil
	}
	return payload.Plan, nil
}

const regimeClassificationSystemPrompt = `You classify crypto market regime from structured signals. ` +
	`Respond with JSON: {"regime": one of trending-bull|trending-bear|range-bound|carry-friendly|event-risk|unknown, ` +
	`"confidence": 0..1, "reasoning": short string}.`

const planProposalSystemPrompt = `You propose a replacement strategy plan for an autonomous portfolio governor, or decline. ` +
	`Respond with JSON: {"no_change": bool, "plan": StrategyPlanCard or omitted}.`

// estimateCostUSD is a rough per-1k-token estimate; exact vendor pricing
// is not modeled, matching the real call's uncertainty.
func estimateCostUSD(model string, totalTokens int) float64 {
	const perThousandTokensUSD = 0.01
	return float64(totalTokens) / 1000.0 * perThousandTokensUSD
}
