package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/observability"
)

// DefaultTTL is how long a resolved entitlement is trusted before the source is asked again.
const DefaultTTL = 60 * time.Second

// maxTracked bounds the per-viewer map; beyond it, long-unused capabilities are dropped.
const maxTracked = 10000

// Capability is one viewer's offline-cache entitlement. Readers call Enabled; the answer
// is cached for the TTL. Source errors resolve to not entitled.
type Capability struct {
	viewerID string
	source   Source
	ttl      time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	mu         sync.Mutex
	enabled    bool
	resolvedAt time.Time
	resolved   bool
}

// ViewerID returns the viewer this capability belongs to.
func (c *Capability) ViewerID() string {
	return c.viewerID
}

// Enabled returns the cached entitlement, resolving it first when missing or older than the TTL.
// A nil capability or an anonymous viewer is never entitled.
func (c *Capability) Enabled(ctx context.Context) bool {
	if c == nil || c.viewerID == "" {
		return false
	}
	c.mu.Lock()
	if c.resolved && c.clock.Since(c.resolvedAt) < c.ttl {
		v := c.enabled
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh asks the source now and stores the answer.
func (c *Capability) Refresh(ctx context.Context) bool {
	if c == nil || c.viewerID == "" {
		observability.EntitlementChecksTotal.WithLabelValues("anonymous").Inc()
		return false
	}
	ok, err := c.source.IsEntitled(ctx, c.viewerID)
	result := "not_entitled"
	switch {
	case err != nil:
		result = "error"
		ok = false
		c.logger.Warn("entitlement check failed", zap.String("viewer_id", c.viewerID), zap.Error(err))
	case ok:
		result = "entitled"
	}
	observability.EntitlementChecksTotal.WithLabelValues(result).Inc()

	c.mu.Lock()
	c.enabled = ok
	c.resolvedAt = c.clock.Now()
	c.resolved = true
	c.mu.Unlock()
	return ok
}

// Invalidate forgets the cached answer so the next Enabled asks the source.
func (c *Capability) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.resolved = false
	c.mu.Unlock()
}

func (c *Capability) lastResolved() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolvedAt, c.resolved
}

// Gate hands out one Capability per viewer.
type Gate struct {
	source Source
	ttl    time.Duration
	clock  clockwork.Clock
	logger *zap.Logger

	mu   sync.Mutex
	caps map[string]*Capability
}

// NewGate creates a gate over source. Zero ttl uses DefaultTTL, nil clock the wall clock.
func NewGate(source Source, ttl time.Duration, clock clockwork.Clock, logger *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{source: source, ttl: ttl, clock: clock, logger: logger, caps: make(map[string]*Capability)}
}

// For returns the viewer's capability, creating it on first use. The anonymous viewer ("")
// gets a capability that is never enabled and never queries the source.
func (g *Gate) For(viewerID string) *Capability {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.caps[viewerID]; ok {
		return c
	}
	if len(g.caps) >= maxTracked {
		g.pruneLocked()
	}
	c := &Capability{viewerID: viewerID, source: g.source, ttl: g.ttl, clock: g.clock, logger: g.logger}
	g.caps[viewerID] = c
	return c
}

// Invalidate drops the cached answer for viewerID, if any.
func (g *Gate) Invalidate(viewerID string) {
	g.mu.Lock()
	c := g.caps[viewerID]
	g.mu.Unlock()
	c.Invalidate()
}

// pruneLocked drops capabilities that have not been resolved within ten TTLs. Must be called with mutex held.
func (g *Gate) pruneLocked() {
	for id, c := range g.caps {
		at, ok := c.lastResolved()
		if !ok || g.clock.Since(at) > 10*g.ttl {
			delete(g.caps, id)
		}
	}
}
