// Package scheduler runs the periodic offline cache jobs: the expiry sweep and, when
// locations are configured, cache warming.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/models"
	"github.com/kjstillabower/rainz/internal/observability"
	"github.com/kjstillabower/rainz/internal/offline"
)

const (
	jobCleanup = "cleanup"
	jobWarm    = "warm"

	// jobTimeout bounds a single run of either job.
	jobTimeout = 2 * time.Minute
)

// Config controls which jobs run and how often. A zero interval disables that job.
type Config struct {
	CleanupInterval time.Duration
	WarmInterval    time.Duration
	WarmLocations   []models.Location
}

// Scheduler owns the gocron scheduler for the offline cache jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cache     *offline.Cache
	warmer    *Warmer
	cfg       Config
	logger    *zap.Logger
}

// New creates a Scheduler. warmer may be nil when no warming is wanted.
func New(cache *offline.Cache, warmer *Warmer, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{scheduler: s, cache: cache, warmer: warmer, cfg: cfg, logger: logger}
}

// Start schedules the enabled jobs and starts the scheduler. Each job runs once immediately.
func (s *Scheduler) Start() error {
	if s.cfg.CleanupInterval > 0 {
		if _, err := s.scheduler.Every(s.cfg.CleanupInterval).Tag(jobCleanup).Do(s.runCleanup); err != nil {
			return err
		}
	}
	if s.warmer != nil && s.cfg.WarmInterval > 0 && len(s.cfg.WarmLocations) > 0 {
		if _, err := s.scheduler.Every(s.cfg.WarmInterval).Tag(jobWarm).Do(s.runWarm); err != nil {
			return err
		}
	}
	if s.scheduler.Len() == 0 {
		s.logger.Info("scheduler: no jobs configured")
		return nil
	}
	s.logger.Info("scheduler started", zap.Int("jobs", s.scheduler.Len()))
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil && s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
}

// RunCleanup runs the expiry sweep once.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	if !s.cache.IsOfflineCacheSupported(ctx) {
		observability.SchedulerRunsTotal.WithLabelValues(jobCleanup, "skipped").Inc()
		return
	}
	s.cache.CleanupExpiredCache(ctx)
	observability.SchedulerRunsTotal.WithLabelValues(jobCleanup, "success").Inc()
}

// RunWarm warms the configured locations once.
func (s *Scheduler) RunWarm(ctx context.Context) error {
	if err := s.warmer.Warm(ctx, s.cfg.WarmLocations); err != nil {
		observability.SchedulerRunsTotal.WithLabelValues(jobWarm, "error").Inc()
		return err
	}
	observability.SchedulerRunsTotal.WithLabelValues(jobWarm, "success").Inc()
	return nil
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.RunCleanup(ctx)
}

func (s *Scheduler) runWarm() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := s.RunWarm(ctx); err != nil {
		s.logger.Warn("offline cache warm failed", zap.Error(err))
	}
}
