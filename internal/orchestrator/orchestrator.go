// Package orchestrator turns a location request into a view: live data when the providers
// answer, the offline snapshot when they do not and the viewer is entitled, an error otherwise.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/models"
	"github.com/kjstillabower/rainz/internal/observability"
	"github.com/kjstillabower/rainz/internal/offline"
	"github.com/kjstillabower/rainz/internal/traffic"
)

// State is where a fetch stands.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLive    State = "live"
	StateCached  State = "cached"
	StateError   State = "error"
)

// DefaultFetchTimeout bounds the live fetch when none is configured.
const DefaultFetchTimeout = 15 * time.Second

// supportProbeTTL is how long a backend availability answer is reused across fetches.
const supportProbeTTL = 5 * time.Second

// Request is one location selection.
type Request struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Name      string  `json:"name"`
}

// Fetcher produces live weather. *service.WeatherService satisfies it.
type Fetcher interface {
	GetWeatherData(ctx context.Context, lat, lon float64, name string) (models.WeatherResponse, error)
}

// Entitlement reports whether the viewer may use the offline cache. *entitlement.Capability
// satisfies it; a nil Entitlement is never enabled.
type Entitlement interface {
	Enabled(ctx context.Context) bool
}

// Result is the terminal outcome of a successful Fetch.
type Result struct {
	Data            *models.WeatherResponse
	State           State
	UsingCachedData bool
	CachedAt        time.Time
	Notice          string
}

// Orchestrator runs live fetches and decides on cache fallback.
type Orchestrator struct {
	fetcher Fetcher
	cache   *offline.Cache
	writer  *Writer
	timeout time.Duration
	clock   clockwork.Clock
	logger  *zap.Logger

	probeMu   sync.Mutex
	probedAt  time.Time
	supported bool
}

// New creates an Orchestrator. cache may be nil (no offline support); writer may be nil, in
// which case successful fetches are not written back.
func New(fetcher Fetcher, cache *offline.Cache, writer *Writer, fetchTimeout time.Duration, clock clockwork.Clock, logger *zap.Logger) *Orchestrator {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher: fetcher,
		cache:   cache,
		writer:  writer,
		timeout: fetchTimeout,
		clock:   clock,
		logger:  logger,
	}
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

func enabled(ctx context.Context, ent Entitlement) bool {
	return ent != nil && ent.Enabled(ctx)
}

// Fetch runs the live fetch under the configured deadline. On success the response is queued
// for the offline cache when the viewer is entitled and the cache is usable. On failure an
// entitled viewer gets a fresh snapshot if one exists; every other path returns the fetch error
// unchanged. A fetch cancelled by its caller never falls back.
func (o *Orchestrator) Fetch(ctx context.Context, req Request, ent Entitlement) (Result, error) {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = o.logger
	}
	logger = logger.With(zap.String("cache_id", offline.CacheID(req.Latitude, req.Longitude)))
	logger.Debug("weather fetch", zap.String("state", string(StateLoading)))

	fctx, cancel := context.WithTimeout(ctx, o.timeout)
	resp, err := o.fetcher.GetWeatherData(fctx, req.Latitude, req.Longitude, req.Name)
	cancel()

	if err == nil {
		if enabled(ctx, ent) && o.writer != nil && o.cacheSupported(ctx) {
			o.writer.Submit(WriteTask{Latitude: req.Latitude, Longitude: req.Longitude, Name: req.Name, Data: resp})
		}
		o.finish(logger, StateLive, nil)
		return Result{Data: &resp, State: StateLive}, nil
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		observability.FetchOutcomesTotal.WithLabelValues("canceled").Inc()
		logger.Debug("weather fetch canceled")
		return Result{State: StateError}, err
	}

	if !enabled(ctx, ent) || !o.cacheSupported(ctx) {
		o.finish(logger, StateError, err)
		return Result{State: StateError}, err
	}

	snap, ok := o.cache.GetCachedWeatherData(ctx, req.Latitude, req.Longitude)
	if !ok {
		o.finish(logger, StateError, err)
		return Result{State: StateError}, err
	}
	var data models.WeatherResponse
	if uerr := json.Unmarshal(snap.Data, &data); uerr != nil {
		logger.Warn("offline snapshot unreadable", zap.Error(uerr))
		o.finish(logger, StateError, err)
		return Result{State: StateError}, err
	}

	cachedAt := time.UnixMilli(snap.Timestamp).UTC()
	o.finish(logger, StateCached, err)
	return Result{
		Data:            &data,
		State:           StateCached,
		UsingCachedData: true,
		CachedAt:        cachedAt,
		Notice:          CachedNotice(cachedAt, snap.Age(o.clock.Now())),
	}, nil
}

// cacheSupported answers from the last backend probe while it is younger than supportProbeTTL.
// A stale positive answer is harmless: the cache methods fail soft.
func (o *Orchestrator) cacheSupported(ctx context.Context) bool {
	o.probeMu.Lock()
	defer o.probeMu.Unlock()
	now := o.clock.Now()
	if !o.probedAt.IsZero() && now.Sub(o.probedAt) < supportProbeTTL {
		return o.supported
	}
	o.supported = o.cache.IsOfflineCacheSupported(ctx)
	o.probedAt = now
	return o.supported
}

func (o *Orchestrator) finish(logger *zap.Logger, state State, err error) {
	observability.FetchOutcomesTotal.WithLabelValues(string(state)).Inc()
	switch state {
	case StateLive:
		traffic.Record(traffic.Live)
		logger.Debug("weather fetch", zap.String("state", string(state)))
	case StateCached:
		traffic.Record(traffic.Cached)
		logger.Info("serving offline snapshot", zap.String("state", string(state)), zap.Error(err))
	default:
		traffic.Record(traffic.Failed)
		logger.Warn("weather fetch failed", zap.String("state", string(state)), zap.Error(err))
	}
}

// CachedNotice is the message shown alongside a cached fallback.
func CachedNotice(cachedAt time.Time, age time.Duration) string {
	return fmt.Sprintf("Showing cached weather from %s (%s old)", cachedAt.UTC().Format(time.RFC3339), formatAge(age))
}

func formatAge(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		return "less than a minute"
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh%dm", h, m)
	}
}
