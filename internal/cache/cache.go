// Package cache provides a durable, TTL-enforcing key/value store backed
// by an embedded SQLite database.
package cache

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	value BLOB,
	expires_at REAL,
	created_at REAL,
	hit_count INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache(expires_at);
`

// Entry is a successful Get result.
type Entry struct {
	Value      []byte
	AgeSeconds float64
}

// Metrics summarizes cache activity since process start, matching the
// original implementation's hybrid of in-process counters (hit rate) and
// DB-derived aggregates (entry counts, ages).
type Metrics struct {
	TotalEntries    int64
	TotalHits       int64
	TotalMisses     int64
	HitRate         float64
	AvgHitsPerEntry float64
	AvgAgeSeconds   float64
	ExpiredEntries  int64
}

// Cache is a SQLite-backed TTL key/value store. Values are opaque byte
// strings; callers that want typed storage should use SetValue/GetValue,
// which round-trip through msgpack.
type Cache struct {
	db     *sql.DB
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Open creates (or opens) the SQLite database at path and ensures the
// schema exists.
func Open(path string, logger *zap.Logger) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer is simplest and safe here

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return &Cache{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Set stores value (already serialized by the caller) under key with the
// given TTL, starting the expiry clock from now.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) error {
	now := nowSeconds()
	expiresAt := now + ttl.Seconds()
	_, err := c.db.Exec(`
		INSERT INTO cache (key, value, expires_at, created_at, hit_count)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at,
			hit_count = 0
	`, key, value, expiresAt, now)
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// SetValue msgpack-encodes v and stores it under key.
func (c *Cache) SetValue(key string, v any, ttl time.Duration) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	return c.Set(key, data, ttl)
}

// Get returns the entry for key if present and not expired. A miss - due
// either to an unset key or an expired one - is always ErrMiss; the two
// cases are indistinguishable to the caller by design.
func (c *Cache) Get(key string) (Entry, error) {
	var value []byte
	var expiresAt, createdAt float64
	var hitCount int64

	row := c.db.QueryRow(`SELECT value, expires_at, created_at, hit_count FROM cache WHERE key = ?`, key)
	if err := row.Scan(&value, &expiresAt, &createdAt, &hitCount); err != nil {
		c.misses.Add(1)
		return Entry{}, ErrMiss
	}

	now := nowSeconds()
	if now > expiresAt {
		c.misses.Add(1)
		return Entry{}, ErrMiss
	}

	if _, err := c.db.Exec(`UPDATE cache SET hit_count = hit_count + 1 WHERE key = ?`, key); err != nil {
		c.logger.Warn("cache hit-count update failed", zap.String("key", key), zap.Error(err))
	}
	c.hits.Add(1)

	return Entry{Value: value, AgeSeconds: now - createdAt}, nil
}

// GetValue fetches and msgpack-decodes a value stored with SetValue.
func (c *Cache) GetValue(key string, dest any) (float64, error) {
	entry, err := c.Get(key)
	if err != nil {
		return 0, err
	}
	if err := msgpack.Unmarshal(entry.Value, dest); err != nil {
		return 0, fmt.Errorf("cache decode %q: %w", key, err)
	}
	return entry.AgeSeconds, nil
}

// InvalidateKey removes a single key.
func (c *Cache) InvalidateKey(key string) error {
	_, err := c.db.Exec(`DELETE FROM cache WHERE key = ?`, key)
	return err
}

// Invalidate removes every key matching pattern, where pattern uses SQL
// LIKE wildcard semantics (% and _).
func (c *Cache) Invalidate(pattern string) error {
	_, err := c.db.Exec(`DELETE FROM cache WHERE key LIKE ?`, pattern)
	return err
}

// InvalidateAll clears the entire cache.
func (c *Cache) InvalidateAll() error {
	_, err := c.db.Exec(`DELETE FROM cache`)
	return err
}

// CleanupExpired deletes rows past their TTL. Correctness never depends
// on this running - Get already enforces TTL at query time - it only
// bounds storage growth.
func (c *Cache) CleanupExpired() (int64, error) {
	res, err := c.db.Exec(`DELETE FROM cache WHERE expires_at <= ?`, nowSeconds())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Metrics reports cache health, combining in-process hit/miss counters
// with DB-derived aggregates.
func (c *Cache) Metrics() (Metrics, error) {
	var total, expired sql.NullInt64
	var avgHits, avgAge sql.NullFloat64
	now := nowSeconds()

	row := c.db.QueryRow(`SELECT COUNT(*), AVG(hit_count), AVG(? - created_at) FROM cache`, now)
	if err := row.Scan(&total, &avgHits, &avgAge); err != nil {
		return Metrics{}, fmt.Errorf("cache metrics: %w", err)
	}

	row = c.db.QueryRow(`SELECT COUNT(*) FROM cache WHERE expires_at <= ?`, now)
	if err := row.Scan(&expired); err != nil {
		return Metrics{}, fmt.Errorf("cache metrics expired: %w", err)
	}

	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return Metrics{
		TotalEntries:    total.Int64,
		TotalHits:       hits,
		TotalMisses:     misses,
		HitRate:         hitRate,
		AvgHitsPerEntry: avgHits.Float64,
		AvgAgeSeconds:   avgAge.Float64,
		ExpiredEntries:  expired.Int64,
	}, nil
}

// ExpiresAt returns the raw expiry timestamp (epoch seconds) for a key, 0
// if not present. Callers should compare against time.Now() themselves;
// it makes no freshness judgement on its own.
func (c *Cache) ExpiresAt(key string) float64 {
	var expiresAt float64
	row := c.db.QueryRow(`SELECT expires_at FROM cache WHERE key = ?`, key)
	if err := row.Scan(&expiresAt); err != nil {
		return 0
	}
	return expiresAt
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ErrMiss is returned by Get/GetValue for both unset and expired keys.
var ErrMiss = fmt.Errorf("cache: miss")
