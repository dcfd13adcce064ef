package offline

import (
	"context"
	"sync"

	"github.com/kjstillabower/rainz/internal/models"
)

// MemoryStore keeps records in a map. Contents are lost on restart; used in tests and
// single-node development.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]models.CachedWeatherData
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]models.CachedWeatherData)}
}

func (s *MemoryStore) Put(ctx context.Context, rec models.CachedWeatherData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.data[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (models.CachedWeatherData, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CachedWeatherData{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.CachedWeatherData{}, false, ErrStoreClosed
	}
	rec, ok := s.data[id]
	return rec, ok, nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	n := 0
	for id, rec := range s.data {
		if rec.Timestamp <= cutoffMillis {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.data = make(map[string]models.CachedWeatherData)
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, ErrStoreClosed
	}
	st := Stats{Count: len(s.data)}
	for _, rec := range s.data {
		if st.OldestTimestamp == nil || rec.Timestamp < *st.OldestTimestamp {
			st.OldestTimestamp = int64Ptr(rec.Timestamp)
		}
		if st.NewestTimestamp == nil || rec.Timestamp > *st.NewestTimestamp {
			st.NewestTimestamp = int64Ptr(rec.Timestamp)
		}
	}
	return st, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
