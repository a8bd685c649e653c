// Package providers implements per-source external data fetching: retry
// with backoff+jitter, a three-state circuit breaker, and confidence-scored
// responses backed by the durable cache.
package providers

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/cache"
)

// ProviderResponse is the uniform envelope every fetch operation returns,
// regardless of source.
type ProviderResponse struct {
	Data            any
	Timestamp       time.Time
	Source          string
	Confidence      float64
	IsCached        bool
	CacheAgeSeconds float64
}

// confidenceForAge implements spec.md's decay curve: confidence = 1 -
// 0.5*(age/ttl) while age <= ttl, capped at 0.4 once age exceeds 10
// minutes regardless of ttl.
func confidenceForAge(age, ttl time.Duration) float64 {
	c := 1.0
	if ttl > 0 {
		c = 1.0 - 0.5*(age.Seconds()/ttl.Seconds())
	}
	if age > 10*time.Minute && c > 0.4 {
		c = 0.4
	}
	if c < 0 {
		c = 0
	}
	return c
}

// NeutralConfidence is returned for neutral fallbacks (e.g. sentiment = 0
// when no API key is configured), per spec.md's explicit carve-out.
const NeutralConfidence = 0.5

// Source is the shared machinery behind every concrete provider: an HTTP
// client, a cache, a retry policy, and an independent circuit breaker.
// Every successful fetch is written to the cache with the source's TTL;
// the cache is read only as a fallback when a live fetch fails or the
// breaker is open, never in place of a live fetch.
type Source struct {
	Name    string
	http    *resty.Client
	cache   *cache.Cache
	breaker *CircuitBreaker
	retry   RetryPolicy
	ttl     time.Duration
	logger  *zap.Logger
}

// SourceConfig configures one named provider.
type SourceConfig struct {
	Name          string
	BaseURL       string
	Timeout       time.Duration
	TTL           time.Duration
	RetryPolicy   RetryPolicy
	BreakerConfig CircuitBreakerConfig
}

// NewSource builds a Source with its own resty client, breaker, and TTL.
func NewSource(cfg SourceConfig, c *cache.Cache, logger *zap.Logger) *Source {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	retry := cfg.RetryPolicy
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	breaker := cfg.BreakerConfig
	if breaker.FailureThreshold == 0 {
		breaker = DefaultCircuitBreakerConfig()
	}

	return &Source{
		Name:    cfg.Name,
		http:    client,
		cache:   c,
		breaker: NewCircuitBreaker(breaker),
		retry:   retry,
		ttl:     cfg.TTL,
		logger:  logger.Named("provider." + cfg.Name),
	}
}

// decode is implemented by each concrete fetch: it performs the resty call
// and decodes the body into dest, returning the raw response for retry
// classification.
type decode func(ctx context.Context) (*resty.Response, any, error)

// fetch runs fn under the circuit breaker and retry policy, falling back to
// the cache on failure (or on an open breaker) and applying confidence
// decay to any cached value it serves.
func (s *Source) fetch(ctx context.Context, cacheKey string, fn decode) (ProviderResponse, error) {
	if !s.breaker.Allow() {
		return s.fallback(cacheKey, ErrUpstreamUnavailable)
	}

	var data any
	_, err := s.retry.Do(ctx, func(ctx context.Context) (*resty.Response, error) {
		resp, d, innerErr := fn(ctx)
		if innerErr == nil {
			data = d
		}
		return resp, innerErr
	})
	if err != nil {
		s.breaker.RecordFailure()
		s.logger.Warn("fetch failed", zap.Error(err), zap.String("key", cacheKey))
		return s.fallback(cacheKey, err)
	}

	s.breaker.RecordSuccess()
	if s.ttl > 0 {
		if cerr := s.cache.SetValue(cacheKey, data, s.ttl); cerr != nil {
			s.logger.Warn("cache write failed", zap.Error(cerr))
		}
	}
	return ProviderResponse{
		Data:       data,
		Timestamp:  time.Now(),
		Source:     s.Name,
		Confidence: 1.0,
		IsCached:   false,
	}, nil
}

// fallback attempts to serve a stale cached value when a live fetch failed
// or the breaker is open. If nothing is cached, the original error (or
// ErrUpstreamUnavailable) is returned to the caller, which must itself fall
// back to a neutral default.
func (s *Source) fallback(cacheKey string, cause error) (ProviderResponse, error) {
	var data any
	age, err := s.cache.GetValue(cacheKey, &data)
	if err != nil {
		return ProviderResponse{}, cause
	}
	return ProviderResponse{
		Data:            data,
		Timestamp:       time.Now().Add(-time.Duration(age * float64(time.Second))),
		Source:          s.Name,
		Confidence:      confidenceForAge(time.Duration(age*float64(time.Second)), s.ttl),
		IsCached:        true,
		CacheAgeSeconds: age,
	}, nil
}

// BreakerState exposes the provider's circuit state for status reporting.
func (s *Source) BreakerState() CircuitState { return s.breaker.State() }
