package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	startedAt    atomic.Int64
)

// MarkStarted records process start. Call once from main before serving.
func MarkStarted(t time.Time) {
	startedAt.Store(t.UnixMilli())
}

// Uptime returns the time since MarkStarted, or 0 if it was never called.
func Uptime(now time.Time) time.Duration {
	ms := startedAt.Load()
	if ms == 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(ms))
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true; the
// background cache writer is drained after the flag flips.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
