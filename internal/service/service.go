package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/rainz/internal/aggregate"
	"github.com/kjstillabower/rainz/internal/client"
	"github.com/kjstillabower/rainz/internal/llm"
	"github.com/kjstillabower/rainz/internal/models"
	"github.com/kjstillabower/rainz/internal/observability"
	"github.com/kjstillabower/rainz/internal/offline"
)

// DefaultFetchTimeout bounds one fan-out when no timeout is configured.
const DefaultFetchTimeout = 10 * time.Second

// ErrAllSourcesFailed is returned when no provider produced a forecast.
var ErrAllSourcesFailed = errors.New("all weather sources failed")

// WeatherService fans a lookup out to every provider, aggregates the results and adds the
// narrative layer. Identical concurrent lookups share one fan-out.
type WeatherService struct {
	providers []client.Provider
	enhancer  llm.Enhancer
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	group    singleflight.Group
	stampede *stampedeTracker
}

// NewWeatherService creates a WeatherService. Providers are queried in slice order, which is
// also their priority when sources disagree. A nil enhancer always uses the fallback summary.
func NewWeatherService(providers []client.Provider, enhancer llm.Enhancer, fetchTimeout time.Duration, logger *zap.Logger) *WeatherService {
	if enhancer == nil {
		enhancer = llm.Disabled{}
	}
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{
		providers: providers,
		enhancer:  enhancer,
		timeout:   fetchTimeout,
		logger:    logger,
		now:       time.Now,
		stampede:  newStampedeTracker(),
	}
}

// Providers returns the configured provider names in priority order.
func (s *WeatherService) Providers() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// loggerFromContext extracts a zap.Logger from request context if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// GetWeatherData returns the full multi-source response for a coordinate. Callers for the
// same rounded coordinate share one upstream fan-out; the shared fetch runs with its own
// deadline so one caller giving up does not cancel it for the others.
func (s *WeatherService) GetWeatherData(ctx context.Context, lat, lon float64, name string) (models.WeatherResponse, error) {
	key := offline.CacheID(lat, lon)
	observability.WeatherQueriesTotal.Inc()

	n := s.stampede.Join(key)
	defer s.stampede.Leave(key)
	observability.FetchConcurrency.Observe(float64(n))
	if n > 1 {
		observability.FetchCoalescedTotal.Inc()
	}

	loc := models.Location{Name: name, Latitude: lat, Longitude: lon}
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(fetchCtx, s.timeout)
		defer cancel()
		return s.fetch(fctx, loc)
	})

	select {
	case <-ctx.Done():
		return models.WeatherResponse{}, fmt.Errorf("fetch weather for %s: %w", key, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return models.WeatherResponse{}, fmt.Errorf("fetch weather for %s: %w", key, r.Err)
		}
		resp := r.Val.(models.WeatherResponse)
		resp.Location = loc
		return resp, nil
	}
}

func (s *WeatherService) fetch(ctx context.Context, loc models.Location) (models.WeatherResponse, error) {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}
	start := s.now()

	sources, err := s.fanOut(ctx, loc, logger)
	if err != nil {
		return models.WeatherResponse{}, err
	}

	res, err := aggregate.Combine(sources)
	if err != nil {
		return models.WeatherResponse{}, err
	}
	observability.SourceAgreement.Observe(res.Agreement)

	enh, err := s.enhancer.Enhance(ctx, loc, res.Aggregated, sources)
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			logger.Warn("enhancement failed, using fallback summary", zap.Error(err))
		}
		observability.EnhancementsTotal.WithLabelValues("fallback").Inc()
		enh = llm.FallbackSummary(loc, res.Aggregated, res.Agreement)
	} else {
		observability.EnhancementsTotal.WithLabelValues("success").Inc()
		enh.Agreement = res.Agreement
	}

	logger.Debug("weather fetched",
		zap.Float64("lat", loc.Latitude),
		zap.Float64("lon", loc.Longitude),
		zap.Int("sources", len(sources)),
		zap.Float64("agreement", res.Agreement),
		zap.Duration("duration", s.now().Sub(start)),
	)
	return models.WeatherResponse{
		Location:     loc,
		Sources:      sources,
		MostAccurate: res.MostAccurate,
		Aggregated:   res.Aggregated,
		Enhancement:  enh,
		FetchedAt:    s.now().UTC(),
	}, nil
}

// fanOut queries every provider concurrently. A failing provider is logged and dropped; the
// result keeps provider order.
func (s *WeatherService) fanOut(ctx context.Context, loc models.Location, logger *zap.Logger) ([]models.SourceForecast, error) {
	if len(s.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrAllSourcesFailed)
	}
	results := make([]models.SourceForecast, len(s.providers))
	errs := make([]error, len(s.providers))

	var g errgroup.Group
	for i, p := range s.providers {
		g.Go(func() error {
			fc, err := p.Fetch(ctx, loc.Latitude, loc.Longitude)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
				logger.Warn("weather source failed",
					zap.String("provider", p.Name()),
					zap.String("category", string(client.CategorizeError(err))),
					zap.Error(err),
				)
				return nil
			}
			results[i] = fc
			return nil
		})
	}
	g.Wait()

	var ok []models.SourceForecast
	for i := range results {
		if errs[i] == nil {
			ok = append(ok, results[i])
		}
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}
	return ok, nil
}
