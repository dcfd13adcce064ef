package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/rainz/internal/models"
)

const (
	memcachedKeyPrefix = "rainz:"
	memcachedIndexKey  = memcachedKeyPrefix + "index"
	indexCASAttempts   = 5
	maxRelativeExp     = 30 * 24 * 60 * 60 // memcached treats larger values as absolute unix time
)

// MemcachedStore keeps records in memcached so several replicas share one offline cache.
// Items expire server-side after ttl. Memcached cannot enumerate keys, so an index item
// maps every stored id to its timestamp; Stats, Clear and DeleteOlderThan work from it.
// Stats ignores index entries whose items the server has already expired, and Put prunes
// them. A Put whose index update fails deletes the item again and reports the error.
type MemcachedStore struct {
	addrs        string
	timeout      time.Duration
	maxIdleConns int
	ttl          time.Duration
	now          func() time.Time

	once   sync.Once
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int, ttl time.Duration) *MemcachedStore {
	return &MemcachedStore{addrs: addrs, timeout: timeout, maxIdleConns: maxIdleConns, ttl: ttl, now: time.Now}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemcachedStore) conn() *memcache.Client {
	s.once.Do(func() {
		servers := parseAddrs(s.addrs)
		if len(servers) == 0 {
			servers = []string{"localhost:11211"}
		}
		c := memcache.New(servers...)
		if s.timeout > 0 {
			c.Timeout = s.timeout
		}
		if s.maxIdleConns > 0 {
			c.MaxIdleConns = s.maxIdleConns
		}
		s.client = c
	})
	return s.client
}

func (s *MemcachedStore) expiration() int32 {
	sec := int32(s.ttl.Seconds())
	if sec <= 0 || sec > maxRelativeExp {
		return 0
	}
	return sec
}

func itemKey(id string) string {
	return memcachedKeyPrefix + id
}

// expiredCutoff is the newest timestamp whose item the server has already dropped.
// ok is false when items never expire.
func (s *MemcachedStore) expiredCutoff() (cutoff int64, ok bool) {
	if s.expiration() == 0 {
		return 0, false
	}
	return s.now().Add(-s.ttl).UnixMilli(), true
}

// pruneIndex drops index entries at or before cutoff.
func pruneIndex(idx map[string]int64, cutoff int64) {
	for id, ts := range idx {
		if ts <= cutoff {
			delete(idx, id)
		}
	}
}

// indexStats summarises the index, skipping entries at or before cutoff when expire is set.
func indexStats(idx map[string]int64, cutoff int64, expire bool) Stats {
	var st Stats
	for _, ts := range idx {
		if expire && ts <= cutoff {
			continue
		}
		st.Count++
		if st.OldestTimestamp == nil || ts < *st.OldestTimestamp {
			st.OldestTimestamp = int64Ptr(ts)
		}
		if st.NewestTimestamp == nil || ts > *st.NewestTimestamp {
			st.NewestTimestamp = int64Ptr(ts)
		}
	}
	return st
}

func (s *MemcachedStore) Put(ctx context.Context, rec models.CachedWeatherData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.conn().Set(&memcache.Item{Key: itemKey(rec.ID), Value: raw, Expiration: s.expiration()}); err != nil {
		return fmt.Errorf("put %s: %w", rec.ID, err)
	}
	cutoff, expire := s.expiredCutoff()
	err = s.updateIndex(func(idx map[string]int64) {
		if expire {
			pruneIndex(idx, cutoff)
		}
		idx[rec.ID] = rec.Timestamp
	})
	if err != nil {
		// An item missing from the index would survive Clear and the sweep, so undo the write.
		if derr := s.conn().Delete(itemKey(rec.ID)); derr != nil && !errors.Is(derr, memcache.ErrCacheMiss) {
			return fmt.Errorf("put %s: %w (rollback: %v)", rec.ID, err, derr)
		}
		return fmt.Errorf("put %s: %w", rec.ID, err)
	}
	return nil
}

func (s *MemcachedStore) Get(ctx context.Context, id string) (models.CachedWeatherData, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CachedWeatherData{}, false, err
	}
	item, err := s.conn().Get(itemKey(id))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return models.CachedWeatherData{}, false, nil
	}
	if err != nil {
		return models.CachedWeatherData{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	var rec models.CachedWeatherData
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return models.CachedWeatherData{}, false, fmt.Errorf("decode %s: %w", id, err)
	}
	return rec, true, nil
}

func (s *MemcachedStore) DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var expired []string
	err := s.updateIndex(func(idx map[string]int64) {
		expired = expired[:0]
		for id, ts := range idx {
			if ts <= cutoffMillis {
				expired = append(expired, id)
				delete(idx, id)
			}
		}
	})
	if err != nil {
		return 0, err
	}
	for _, id := range expired {
		if err := s.conn().Delete(itemKey(id)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return 0, fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return len(expired), nil
}

func (s *MemcachedStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ids []string
	err := s.updateIndex(func(idx map[string]int64) {
		ids = ids[:0]
		for id := range idx {
			ids = append(ids, id)
			delete(idx, id)
		}
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.conn().Delete(itemKey(id)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return fmt.Errorf("clear %s: %w", id, err)
		}
	}
	return nil
}

func (s *MemcachedStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	idx, _, err := s.readIndex()
	if err != nil {
		return Stats{}, err
	}
	cutoff, expire := s.expiredCutoff()
	return indexStats(idx, cutoff, expire), nil
}

// Ping checks if memcached is reachable. Used for health checks and the support probe.
func (s *MemcachedStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.conn().Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.conn().Close()
}

// readIndex returns the decoded index and the raw item for CAS. item is nil when the index does not exist yet.
func (s *MemcachedStore) readIndex() (map[string]int64, *memcache.Item, error) {
	item, err := s.conn().Get(memcachedIndexKey)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return map[string]int64{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read index: %w", err)
	}
	idx := map[string]int64{}
	if err := json.Unmarshal(item.Value, &idx); err != nil {
		return nil, nil, fmt.Errorf("decode index: %w", err)
	}
	return idx, item, nil
}

// updateIndex applies mutate under compare-and-swap, retrying on concurrent writers.
func (s *MemcachedStore) updateIndex(mutate func(map[string]int64)) error {
	for attempt := 0; attempt < indexCASAttempts; attempt++ {
		idx, item, err := s.readIndex()
		if err != nil {
			return err
		}
		mutate(idx)
		raw, err := json.Marshal(idx)
		if err != nil {
			return err
		}
		if item == nil {
			err = s.conn().Add(&memcache.Item{Key: memcachedIndexKey, Value: raw})
		} else {
			item.Value = raw
			err = s.conn().CompareAndSwap(item)
		}
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		if err != nil {
			return fmt.Errorf("write index: %w", err)
		}
		return nil
	}
	return fmt.Errorf("write index: gave up after %d conflicting attempts", indexCASAttempts)
}
