package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/cache"
)

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "providers.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSourceFetchSuccessCachesAndServesFresh(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testCache(t)
	src := NewSource(SourceConfig{Name: "test", BaseURL: srv.URL, TTL: time.Minute}, c, zap.NewNop())

	resp, err := src.fetch(context.Background(), "k1", func(ctx context.Context) (*resty.Response, any, error) {
		var out map[string]any
		r, err := src.http.R().SetContext(ctx).SetResult(&out).Get("/")
		return r, out, err
	})
	require.NoError(t, err)
	require.False(t, resp.IsCached)
	require.Equal(t, float64(1), resp.Confidence)
	require.Equal(t, int64(1), calls.Load())
}

func TestSourceFetchFailureFallsBackToCache(t *testing.T) {
	var fail atomic.Bool
	fail.Store(false)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testCache(t)
	src := NewSource(SourceConfig{
		Name: "test", BaseURL: srv.URL, TTL: time.Minute,
		RetryPolicy: RetryPolicy{Base: 1.01, MaxAttempts: 1},
	}, c, zap.NewNop())

	_, err := src.fetch(context.Background(), "k1", func(ctx context.Context) (*resty.Response, any, error) {
		var out map[string]any
		r, err := src.http.R().SetContext(ctx).SetResult(&out).Get("/")
		return r, out, err
	})
	require.NoError(t, err)

	fail.Store(true)
	resp, err := src.fetch(context.Background(), "k1", func(ctx context.Context) (*resty.Response, any, error) {
		var out map[string]any
		r, err := src.http.R().SetContext(ctx).SetResult(&out).Get("/")
		return r, out, err
	})
	require.NoError(t, err)
	require.True(t, resp.IsCached)
	require.Less(t, resp.Confidence, 1.0)
}

func TestSourceFetchUpstreamUnavailableWithNoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testCache(t)
	src := NewSource(SourceConfig{
		Name: "test", BaseURL: srv.URL, TTL: time.Minute,
		RetryPolicy:   RetryPolicy{Base: 1.01, MaxAttempts: 1},
		BreakerConfig: CircuitBreakerConfig{FailureThreshold: 1, CooldownPeriod: time.Hour},
	}, c, zap.NewNop())

	_, err := src.fetch(context.Background(), "nope", func(ctx context.Context) (*resty.Response, any, error) {
		var out map[string]any
		r, err := src.http.R().SetContext(ctx).SetResult(&out).Get("/")
		return r, out, err
	})
	require.Error(t, err)
	require.Equal(t, CircuitOpen, src.BreakerState())

	_, err = src.fetch(context.Background(), "nope", func(ctx context.Context) (*resty.Response, any, error) {
		t.Fatal("breaker should have short-circuited this call")
		return nil, nil, nil
	})
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestRetryPolicyFatalErrorSurfacesImmediately(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := resty.New().SetBaseURL(srv.URL)
	policy := RetryPolicy{Base: 2, MaxAttempts: 5}
	_, err := policy.Do(context.Background(), func(ctx context.Context) (*resty.Response, error) {
		return client.R().SetContext(ctx).Get("/")
	})
	require.Error(t, err)
	require.Equal(t, int64(1), calls.Load())
}
