package offline

import (
	"context"
	"errors"

	"github.com/kjstillabower/rainz/internal/models"
)

// ErrStoreClosed is returned by a Store used after Close.
var ErrStoreClosed = errors.New("offline store closed")

// Stats summarises the whole store. Oldest/Newest are nil when the store is empty.
type Stats struct {
	Count           int    `json:"count"`
	OldestTimestamp *int64 `json:"oldestTimestamp"`
	NewestTimestamp *int64 `json:"newestTimestamp"`
}

// Store is a persistence backend for cached weather records. Unlike Cache, a Store
// reports every failure to its caller. Implementations open their backing resource
// lazily on first use and must be safe for concurrent use.
type Store interface {
	// Put inserts or replaces the record with rec.ID.
	Put(ctx context.Context, rec models.CachedWeatherData) error
	// Get returns the record for id regardless of age. ok is false when absent.
	Get(ctx context.Context, id string) (rec models.CachedWeatherData, ok bool, err error)
	// DeleteOlderThan removes records whose Timestamp is <= cutoffMillis and returns how many went.
	DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int, error)
	// Clear removes every record.
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	// Ping opens the backend if needed and reports whether it is usable.
	Ping(ctx context.Context) error
	Close() error
}

func int64Ptr(v int64) *int64 { return &v }
