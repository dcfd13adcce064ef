package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/models"
	"github.com/kjstillabower/rainz/internal/offline"
)

// WeatherFetcher is implemented by the service layer to fetch weather for a coordinate.
type WeatherFetcher interface {
	GetWeatherData(ctx context.Context, lat, lon float64, name string) (models.WeatherResponse, error)
}

// Warmer prefetches a fixed set of locations into the offline cache so a later upstream outage
// still has something to serve.
type Warmer struct {
	fetcher WeatherFetcher
	cache   *offline.Cache
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that fetches through fetcher and writes into cache.
func NewWarmer(fetcher WeatherFetcher, cache *offline.Cache, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{fetcher: fetcher, cache: cache, logger: logger}
}

// Warm fetches every location concurrently and stores each successful response. Returns the
// joined per-location errors, if any.
func (w *Warmer) Warm(ctx context.Context, locations []models.Location) error {
	if len(locations) == 0 {
		return nil
	}
	start := time.Now()
	w.logger.Info("warming offline cache", zap.Int("locations", len(locations)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(locations))
	for _, loc := range locations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := w.fetcher.GetWeatherData(ctx, loc.Latitude, loc.Longitude, loc.Name)
			if err != nil {
				errCh <- fmt.Errorf("warm %s: %w", offline.CacheID(loc.Latitude, loc.Longitude), err)
				return
			}
			if !w.cache.CacheWeatherData(ctx, loc.Latitude, loc.Longitude, loc.Name, resp) {
				errCh <- fmt.Errorf("warm %s: cache write failed", offline.CacheID(loc.Latitude, loc.Longitude))
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	w.logger.Info("offline cache warming complete",
		zap.Int("locations", len(locations)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", time.Since(start).Seconds()))
	return errors.Join(errs...)
}
