package offline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/models"
	"github.com/kjstillabower/rainz/internal/observability"
)

// DefaultValidity is how long a snapshot may be served after it was written.
const DefaultValidity = 6 * time.Hour

// Snapshot is a cache hit: the stored payload, when it was written (epoch ms) and the
// location name it was written under.
type Snapshot struct {
	Data         json.RawMessage `json:"data"`
	Timestamp    int64           `json:"timestamp"`
	LocationName string          `json:"locationName"`
}

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.Timestamp))
}

// Cache is the best-effort offline cache. It never returns an error: every backend
// failure is logged, counted and turned into a safe default (false, miss or empty stats).
// Safe for concurrent use; last writer to a key wins.
type Cache struct {
	store    Store
	clock    clockwork.Clock
	validity time.Duration
	logger   *zap.Logger
}

// New wraps store. A nil clock uses the wall clock, a zero validity uses DefaultValidity
// and a nil logger discards logs.
func New(store Store, clock clockwork.Clock, validity time.Duration, logger *zap.Logger) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, clock: clock, validity: validity, logger: logger}
}

// Validity returns the configured validity window.
func (c *Cache) Validity() time.Duration {
	return c.validity
}

// CacheWeatherData stores data under the rounded coordinate key with a fresh timestamp.
// data is JSON-encoded unless it is already a json.RawMessage. Returns false on any failure.
func (c *Cache) CacheWeatherData(ctx context.Context, lat, lon float64, name string, data any) bool {
	id := CacheID(lat, lon)
	raw, err := encode(data)
	if err != nil {
		c.fail("put", id, err)
		return false
	}
	rec := models.CachedWeatherData{
		ID:           id,
		Latitude:     RoundCoordinate(lat),
		Longitude:    RoundCoordinate(lon),
		LocationName: name,
		Data:         raw,
		Timestamp:    c.clock.Now().UnixMilli(),
	}
	if err := c.store.Put(ctx, rec); err != nil {
		c.fail("put", id, err)
		return false
	}
	observability.OfflineCacheOperationsTotal.WithLabelValues("put", "success").Inc()
	return true
}

// GetCachedWeatherData returns the snapshot for the rounded coordinates if one exists and is
// younger than the validity window. Expired entries are reported as misses and left in place
// for the cleanup sweep.
func (c *Cache) GetCachedWeatherData(ctx context.Context, lat, lon float64) (Snapshot, bool) {
	id := CacheID(lat, lon)
	rec, ok, err := c.store.Get(ctx, id)
	if err != nil {
		c.fail("get", id, err)
		return Snapshot{}, false
	}
	if !ok {
		observability.OfflineCacheOperationsTotal.WithLabelValues("get", "miss").Inc()
		return Snapshot{}, false
	}
	if !c.fresh(rec.Timestamp) {
		observability.OfflineCacheOperationsTotal.WithLabelValues("get", "expired").Inc()
		return Snapshot{}, false
	}
	observability.OfflineCacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	return Snapshot{Data: rec.Data, Timestamp: rec.Timestamp, LocationName: rec.LocationName}, true
}

// CleanupExpiredCache deletes every entry that is no longer fresh. Errors are logged only.
func (c *Cache) CleanupExpiredCache(ctx context.Context) {
	cutoff := c.clock.Now().Add(-c.validity).UnixMilli()
	n, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		c.fail("cleanup", "", err)
		return
	}
	observability.OfflineCacheOperationsTotal.WithLabelValues("cleanup", "success").Inc()
	observability.OfflineCacheEvictedTotal.Add(float64(n))
	if n > 0 {
		c.logger.Info("offline cache cleanup", zap.Int("deleted", n))
	}
}

// ClearWeatherCache removes every entry. Returns false on failure.
func (c *Cache) ClearWeatherCache(ctx context.Context) bool {
	if err := c.store.Clear(ctx); err != nil {
		c.fail("clear", "", err)
		return false
	}
	observability.OfflineCacheOperationsTotal.WithLabelValues("clear", "success").Inc()
	return true
}

// GetCacheStats returns whole-store statistics, or zero stats on failure.
func (c *Cache) GetCacheStats(ctx context.Context) Stats {
	st, err := c.store.Stats(ctx)
	if err != nil {
		c.fail("stats", "", err)
		return Stats{}
	}
	return st
}

// IsOfflineCacheSupported reports whether the backend can be opened in this process.
func (c *Cache) IsOfflineCacheSupported(ctx context.Context) bool {
	if c == nil || c.store == nil {
		return false
	}
	if err := c.store.Ping(ctx); err != nil {
		c.logger.Debug("offline cache unsupported", zap.Error(err))
		return false
	}
	return true
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) fresh(ts int64) bool {
	return c.clock.Now().Sub(time.UnixMilli(ts)) < c.validity
}

func (c *Cache) fail(op, id string, err error) {
	observability.OfflineCacheOperationsTotal.WithLabelValues(op, "error").Inc()
	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
	if id != "" {
		fields = append(fields, zap.String("cache_id", id))
	}
	c.logger.Warn("offline cache operation failed", fields...)
}

func encode(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(data)
}
