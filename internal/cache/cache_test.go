package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Set("k1", []byte("hello"), time.Minute))

	entry, err := c.Get("k1")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), entry.Value)
	require.GreaterOrEqual(t, entry.AgeSeconds, 0.0)
}

func TestTTLExpiry(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Set("k1", []byte("v"), -time.Second)) // already expired

	_, err := c.Get("k1")
	require.ErrorIs(t, err, ErrMiss)
}

func TestMissIndistinguishableFromUnsetKey(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Set("expired", []byte("v"), -time.Second))

	_, errExpired := c.Get("expired")
	_, errUnset := c.Get("never-set")
	require.ErrorIs(t, errExpired, ErrMiss)
	require.ErrorIs(t, errUnset, ErrMiss)
}

func TestInvalidatePrefix(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Set("provider:a:x", []byte("1"), time.Minute))
	require.NoError(t, c.Set("provider:a:y", []byte("2"), time.Minute))
	require.NoError(t, c.Set("provider:b:z", []byte("3"), time.Minute))

	require.NoError(t, c.Invalidate("provider:a:%"))

	_, err := c.Get("provider:a:x")
	require.ErrorIs(t, err, ErrMiss)
	_, err = c.Get("provider:b:z")
	require.NoError(t, err)
}

func TestMetricsHitRate(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Set("k", []byte("v"), time.Minute))

	_, err := c.Get("k")
	require.NoError(t, err)
	_, err = c.Get("missing")
	require.ErrorIs(t, err, ErrMiss)

	m, err := c.Metrics()
	require.NoError(t, err)
	require.Equal(t, int64(1), m.TotalHits)
	require.Equal(t, int64(1), m.TotalMisses)
	require.InDelta(t, 0.5, m.HitRate, 0.0001)
}

func TestCleanupExpired(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Set("fresh", []byte("v"), time.Minute))
	require.NoError(t, c.Set("stale", []byte("v"), -time.Second))

	n, err := c.CleanupExpired()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	m, err := c.Metrics()
	require.NoError(t, err)
	require.Equal(t, int64(1), m.TotalEntries)
}
