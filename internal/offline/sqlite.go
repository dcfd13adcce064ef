package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/kjstillabower/rainz/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS weather_cache (
	id            TEXT PRIMARY KEY,
	latitude      REAL NOT NULL,
	longitude     REAL NOT NULL,
	location_name TEXT NOT NULL,
	data          BLOB NOT NULL,
	timestamp     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_weather_cache_timestamp ON weather_cache(timestamp);
`

// SQLiteStore persists records in a local SQLite file (pure Go driver, no cgo).
// The database is opened and migrated on first use; an open failure is kept and
// returned from every later call.
type SQLiteStore struct {
	path string

	once    sync.Once
	db      *sql.DB
	openErr error

	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore returns a store backed by the file at path. Use ":memory:" only in
// tests; the handle is limited to one connection so an in-memory database stays shared.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrStoreClosed
	}
	s.once.Do(func() {
		if err := ensureDir(s.path); err != nil {
			s.openErr = fmt.Errorf("open sqlite %s: %w", s.path, err)
			return
		}
		db, err := sql.Open("sqlite", s.path)
		if err != nil {
			s.openErr = fmt.Errorf("open sqlite %s: %w", s.path, err)
			return
		}
		db.SetMaxOpenConns(1)
		for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				db.Close()
				s.openErr = fmt.Errorf("init sqlite %s: %w", s.path, err)
				return
			}
		}
		s.db = db
	})
	return s.db, s.openErr
}

// ensureDir creates the parent directory of a file-backed database.
func ensureDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func (s *SQLiteStore) Put(ctx context.Context, rec models.CachedWeatherData) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO weather_cache (id, latitude, longitude, location_name, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			location_name = excluded.location_name,
			data = excluded.data,
			timestamp = excluded.timestamp`,
		rec.ID, rec.Latitude, rec.Longitude, rec.LocationName, []byte(rec.Data), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.CachedWeatherData, bool, error) {
	db, err := s.open(ctx)
	if err != nil {
		return models.CachedWeatherData{}, false, err
	}
	var rec models.CachedWeatherData
	var data []byte
	err = db.QueryRowContext(ctx, `
		SELECT id, latitude, longitude, location_name, data, timestamp
		FROM weather_cache WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Latitude, &rec.Longitude, &rec.LocationName, &data, &rec.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CachedWeatherData{}, false, nil
	}
	if err != nil {
		return models.CachedWeatherData{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	rec.Data = data
	return rec, true, nil
}

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int, error) {
	db, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM weather_cache WHERE timestamp <= ?`, cutoffMillis)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM weather_cache`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	db, err := s.open(ctx)
	if err != nil {
		return Stats{}, err
	}
	var count int
	var oldest, newest sql.NullInt64
	err = db.QueryRowContext(ctx, `SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM weather_cache`).
		Scan(&count, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	st := Stats{Count: count}
	if oldest.Valid {
		st.OldestTimestamp = int64Ptr(oldest.Int64)
	}
	if newest.Valid {
		st.NewestTimestamp = int64Ptr(newest.Int64)
	}
	return st, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close releases the database handle. Later calls return ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	// Consume the once so a concurrent first use cannot open after Close.
	s.once.Do(func() { s.openErr = ErrStoreClosed })
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
