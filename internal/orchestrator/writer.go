package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/observability"
	"github.com/kjstillabower/rainz/internal/offline"
)

const (
	DefaultWriteQueueSize = 64
	DefaultWriteWorkers   = 2

	writeTimeout = 5 * time.Second
)

// WriteTask is one deferred offline cache write.
type WriteTask struct {
	Latitude  float64
	Longitude float64
	Name      string
	Data      any
}

// Writer performs offline cache writes off the request path. Submit never blocks; when the
// queue is full the task is dropped and counted.
type Writer struct {
	cache  *offline.Cache
	queue  chan WriteTask
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool

	abort     chan struct{}
	abortOnce sync.Once
	wg        sync.WaitGroup
}

// NewWriter starts workers goroutines draining a queue of queueSize tasks into cache.
func NewWriter(cache *offline.Cache, queueSize, workers int, logger *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultWriteQueueSize
	}
	if workers <= 0 {
		workers = DefaultWriteWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		cache:  cache,
		queue:  make(chan WriteTask, queueSize),
		logger: logger,
		abort:  make(chan struct{}),
	}
	w.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go w.run()
	}
	return w
}

// Submit enqueues t. Returns false if the task was dropped.
func (w *Writer) Submit(t WriteTask) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		observability.OfflineCacheWritesDroppedTotal.Inc()
		return false
	}
	select {
	case w.queue <- t:
		return true
	default:
		observability.OfflineCacheWritesDroppedTotal.Inc()
		w.logger.Debug("offline cache write dropped", zap.String("cache_id", offline.CacheID(t.Latitude, t.Longitude)))
		return false
	}
}

// Pending returns the number of queued tasks.
func (w *Writer) Pending() int {
	return len(w.queue)
}

// Close stops accepting tasks and waits for queued writes to finish. If ctx ends first the
// remaining tasks are dropped and ctx.Err() is returned.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.abortOnce.Do(func() { close(w.abort) })
		w.logger.Warn("offline cache writer closed with pending writes", zap.Int("pending", w.Pending()))
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for t := range w.queue {
		select {
		case <-w.abort:
			observability.OfflineCacheWritesDroppedTotal.Inc()
			continue
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		w.cache.CacheWeatherData(ctx, t.Latitude, t.Longitude, t.Name, t.Data)
		cancel()
	}
}
