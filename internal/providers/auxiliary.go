package providers

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/cache"
)

// FearGreedProvider fetches the market-wide fear/greed index. When no API
// key is configured it serves the neutral fallback spec.md describes
// (value 0.0, confidence 0.5) rather than failing the bundle.
type FearGreedProvider struct {
	src    *Source
	apiKey string
}

func NewFearGreedProvider(baseURL, apiKey string, c *cache.Cache, logger *zap.Logger) *FearGreedProvider {
	return &FearGreedProvider{
		src: NewSource(SourceConfig{
			Name:    "feargreed",
			BaseURL: baseURL,
			TTL:     15 * time.Minute,
		}, c, logger),
		apiKey: apiKey,
	}
}

func (p *FearGreedProvider) Fetch(ctx context.Context) (ProviderResponse, error) {
	if p.apiKey == "" {
		return ProviderResponse{Source: "feargreed", Confidence: NeutralConfidence, Data: 0.0, Timestamp: time.Now()}, nil
	}
	return p.src.fetch(ctx, "feargreed:index", func(ctx context.Context) (*resty.Response, any, error) {
		var out struct {
			Data []struct {
				Value string `json:"value"`
			} `json:"data"`
		}
		r, err := p.src.http.R().SetContext(ctx).SetQueryParam("limit", "1").
			SetHeader("x-api-key", p.apiKey).SetResult(&out).Get("/fng/")
		var value float64
		if len(out.Data) > 0 {
			value = parseFloatOrZero(out.Data[0].Value)
		}
		return r, value, err
	})
}

// TokenUnlockProvider fetches upcoming vesting/unlock schedules for a coin.
type TokenUnlockProvider struct {
	src *Source
}

func NewTokenUnlockProvider(baseURL string, c *cache.Cache, logger *zap.Logger) *TokenUnlockProvider {
	return &TokenUnlockProvider{
		src: NewSource(SourceConfig{Name: "tokenunlocks", BaseURL: baseURL, TTL: 6 * time.Hour}, c, logger),
	}
}

// UnlockEvent is a single scheduled token unlock.
type UnlockEvent struct {
	Coin       string
	At         time.Time
	PctOfSupply float64
}

func (p *TokenUnlockProvider) Fetch(ctx context.Context, coin string) (ProviderResponse, error) {
	return p.src.fetch(ctx, "tokenunlocks:"+coin, func(ctx context.Context) (*resty.Response, any, error) {
		var out []struct {
			UnlockTime int64   `json:"unlockTime"`
			PctSupply  float64 `json:"pctSupply"`
		}
		r, err := p.src.http.R().SetContext(ctx).SetQueryParam("symbol", coin).SetResult(&out).Get("/unlocks")
		events := make([]UnlockEvent, 0, len(out))
		for _, o := range out {
			events = append(events, UnlockEvent{Coin: coin, At: time.UnixMilli(o.UnlockTime), PctOfSupply: o.PctSupply})
		}
		return r, events, err
	})
}

// MacroCalendarProvider fetches scheduled macro events (e.g. FOMC, CPI
// prints) that the regime detector uses to lock classification to
// event-risk within a window around them.
type MacroCalendarProvider struct {
	src *Source
}

func NewMacroCalendarProvider(baseURL string, c *cache.Cache, logger *zap.Logger) *MacroCalendarProvider {
	return &MacroCalendarProvider{
		src: NewSource(SourceConfig{Name: "macrocalendar", BaseURL: baseURL, TTL: 24 * time.Hour}, c, logger),
	}
}

// MacroEventEntry is a scheduled macro event with its name and time.
type MacroEventEntry struct {
	Name string
	At   time.Time
}

func (p *MacroCalendarProvider) Fetch(ctx context.Context) (ProviderResponse, error) {
	return p.src.fetch(ctx, "macrocalendar:upcoming", func(ctx context.Context) (*resty.Response, any, error) {
		var out []struct {
			Title string `json:"title"`
			Date  int64  `json:"date"`
		}
		r, err := p.src.http.R().SetContext(ctx).SetResult(&out).Get("/calendar")
		events := make([]MacroEventEntry, 0, len(out))
		for _, o := range out {
			events = append(events, MacroEventEntry{Name: o.Title, At: time.UnixMilli(o.Date)})
		}
		return r, events, err
	})
}

// CrossAssetProvider fetches price histories for a basket of reference
// assets (e.g. BTC, ETH, SPX proxy) used to compute cross-asset
// correlation signals.
type CrossAssetProvider struct {
	src *Source
}

func NewCrossAssetProvider(baseURL string, c *cache.Cache, logger *zap.Logger) *CrossAssetProvider {
	return &CrossAssetProvider{
		src: NewSource(SourceConfig{Name: "crossasset", BaseURL: baseURL, TTL: 5 * time.Minute}, c, logger),
	}
}

func (p *CrossAssetProvider) Fetch(ctx context.Context, symbol string, days int) (ProviderResponse, error) {
	return p.src.fetch(ctx, "crossasset:"+symbol, func(ctx context.Context) (*resty.Response, any, error) {
		var out struct {
			Prices [][2]float64 `json:"prices"`
		}
		r, err := p.src.http.R().SetContext(ctx).
			SetQueryParam("vs_currency", "usd").
			SetQueryParam("days", strconv.Itoa(days)).
			SetResult(&out).Get("/coins/" + symbol + "/market_chart")
		series := make([]float64, 0, len(out.Prices))
		for _, pt := range out.Prices {
			series = append(series, pt[1])
		}
		return r, series, err
	})
}

func parseFloatOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
