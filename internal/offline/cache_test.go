package offline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/rainz/internal/models"
)

var epoch = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) (*Cache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	return New(NewMemoryStore(), clock, DefaultValidity, nil), clock
}

// errStore fails every operation.
type errStore struct{ err error }

func (s errStore) Put(context.Context, models.CachedWeatherData) error { return s.err }
func (s errStore) Get(context.Context, string) (models.CachedWeatherData, bool, error) {
	return models.CachedWeatherData{}, false, s.err
}
func (s errStore) DeleteOlderThan(context.Context, int64) (int, error) { return 0, s.err }
func (s errStore) Clear(context.Context) error                        { return s.err }
func (s errStore) Stats(context.Context) (Stats, error)               { return Stats{}, s.err }
func (s errStore) Ping(context.Context) error                         { return s.err }
func (s errStore) Close() error                                       { return nil }

func TestCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	payload := map[string]any{"temperature": 12.5}
	require.True(t, c.CacheWeatherData(ctx, 45.123, -122.456, "Portland", payload))

	snap, ok := c.GetCachedWeatherData(ctx, 45.121, -122.459)
	require.True(t, ok)
	assert.Equal(t, "Portland", snap.LocationName)
	assert.Equal(t, epoch.UnixMilli(), snap.Timestamp)
	assert.JSONEq(t, `{"temperature":12.5}`, string(snap.Data))
}

func TestCache_RawMessageStoredVerbatim(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	raw := json.RawMessage(`{"sources":[]}`)
	require.True(t, c.CacheWeatherData(ctx, 1, 2, "x", raw))
	snap, ok := c.GetCachedWeatherData(ctx, 1, 2)
	require.True(t, ok)
	assert.Equal(t, string(raw), string(snap.Data))
}

func TestCache_LastWriterWins(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.CacheWeatherData(ctx, 10, 20, "first", map[string]int{"v": 1}))
	clock.Advance(time.Minute)
	require.True(t, c.CacheWeatherData(ctx, 10.001, 20.001, "second", map[string]int{"v": 2}))

	snap, ok := c.GetCachedWeatherData(ctx, 10, 20)
	require.True(t, ok)
	assert.Equal(t, "second", snap.LocationName)
	assert.Equal(t, 1, c.GetCacheStats(ctx).Count)
}

func TestCache_ExpiryBoundary(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()
	require.True(t, c.CacheWeatherData(ctx, 1, 1, "here", "data"))

	clock.Advance(DefaultValidity - time.Millisecond)
	_, ok := c.GetCachedWeatherData(ctx, 1, 1)
	assert.True(t, ok, "entry one millisecond short of the window must be served")

	clock.Advance(time.Millisecond)
	_, ok = c.GetCachedWeatherData(ctx, 1, 1)
	assert.False(t, ok, "entry exactly at the window must be a miss")

	assert.Equal(t, 1, c.GetCacheStats(ctx).Count, "expired reads must not delete")
}

func TestCache_CleanupExpired(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.CacheWeatherData(ctx, 1, 1, "seven", "a"))
	clock.Advance(2 * time.Hour)
	require.True(t, c.CacheWeatherData(ctx, 2, 2, "five", "b"))
	clock.Advance(4 * time.Hour)
	require.True(t, c.CacheWeatherData(ctx, 3, 3, "one", "c"))
	clock.Advance(time.Hour)

	c.CleanupExpiredCache(ctx)

	st := c.GetCacheStats(ctx)
	assert.Equal(t, 2, st.Count)
	_, ok := c.GetCachedWeatherData(ctx, 2, 2)
	assert.True(t, ok)
	_, ok = c.GetCachedWeatherData(ctx, 3, 3)
	assert.True(t, ok)
}

func TestCache_StatsEmptyAndPopulated(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	st := c.GetCacheStats(ctx)
	assert.Equal(t, 0, st.Count)
	assert.Nil(t, st.OldestTimestamp)
	assert.Nil(t, st.NewestTimestamp)

	require.True(t, c.CacheWeatherData(ctx, 1, 1, "a", "x"))
	clock.Advance(time.Hour)
	require.True(t, c.CacheWeatherData(ctx, 2, 2, "b", "y"))

	st = c.GetCacheStats(ctx)
	assert.Equal(t, 2, st.Count)
	require.NotNil(t, st.OldestTimestamp)
	require.NotNil(t, st.NewestTimestamp)
	assert.Equal(t, epoch.UnixMilli(), *st.OldestTimestamp)
	assert.Equal(t, epoch.Add(time.Hour).UnixMilli(), *st.NewestTimestamp)
}

func TestCache_Clear(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.True(t, c.CacheWeatherData(ctx, 1, 1, "a", "x"))
	require.True(t, c.ClearWeatherCache(ctx))
	assert.Equal(t, 0, c.GetCacheStats(ctx).Count)
	_, ok := c.GetCachedWeatherData(ctx, 1, 1)
	assert.False(t, ok)
}

func TestCache_BackendFailuresDegrade(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := New(errStore{err: errors.New("disk on fire")}, clockwork.NewFakeClockAt(epoch), 0, zap.New(core))
	ctx := context.Background()

	assert.False(t, c.CacheWeatherData(ctx, 1, 1, "a", "x"))
	_, ok := c.GetCachedWeatherData(ctx, 1, 1)
	assert.False(t, ok)
	c.CleanupExpiredCache(ctx)
	assert.False(t, c.ClearWeatherCache(ctx))
	assert.Equal(t, Stats{}, c.GetCacheStats(ctx))
	assert.False(t, c.IsOfflineCacheSupported(ctx))

	assert.Equal(t, 5, logs.FilterMessage("offline cache operation failed").Len())
}

func TestCache_UnencodableDataReturnsFalse(t *testing.T) {
	c, _ := newTestCache(t)
	assert.False(t, c.CacheWeatherData(context.Background(), 1, 1, "a", make(chan int)))
}

func TestCache_IsOfflineCacheSupported(t *testing.T) {
	c, _ := newTestCache(t)
	assert.True(t, c.IsOfflineCacheSupported(context.Background()))

	var nilCache *Cache
	assert.False(t, nilCache.IsOfflineCacheSupported(context.Background()))
}

func TestSnapshot_Age(t *testing.T) {
	s := Snapshot{Timestamp: epoch.UnixMilli()}
	assert.Equal(t, 90*time.Minute, s.Age(epoch.Add(90*time.Minute)))
}
