package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/rainz/internal/models"
)

var (
	// ErrSuperseded is returned to a Select that was overtaken by a newer one on the same session.
	ErrSuperseded = errors.New("selection superseded by a newer request")
	// ErrNoSelection is returned by Refresh before anything was selected.
	ErrNoSelection = errors.New("no location selected")
)

// View is what the rendering layer sees.
type View struct {
	Data              *models.WeatherResponse `json:"data"`
	IsLoading         bool                    `json:"isLoading"`
	IsUsingCachedData bool                    `json:"isUsingCachedData"`
	State             State                   `json:"state"`
	Notice            string                  `json:"notice,omitempty"`
	Error             string                  `json:"error,omitempty"`
}

// Session is one viewer's selection. A new Select cancels the one still in flight, and only
// the latest selection may update the view.
type Session struct {
	orch *Orchestrator
	// entitlement is resolved on every Select so a refreshed or replaced capability is seen.
	entitlement func() Entitlement

	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	last     *Request
	view     View
	lastUsed time.Time
}

// NewSession creates an idle session with a fixed entitlement.
func (o *Orchestrator) NewSession(ent Entitlement) *Session {
	return o.newSession(func() Entitlement { return ent })
}

func (o *Orchestrator) newSession(resolve func() Entitlement) *Session {
	return &Session{orch: o, entitlement: resolve, view: View{State: StateIdle}, lastUsed: o.clock.Now()}
}

// Select fetches req and publishes the outcome. A superseded call returns the newer view's
// current state with ErrSuperseded.
func (s *Session) Select(ctx context.Context, req Request) (View, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	fctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	r := req
	s.last = &r
	s.view.IsLoading = true
	s.view.State = StateLoading
	s.view.Notice = ""
	s.view.Error = ""
	s.lastUsed = s.orch.clock.Now()
	s.mu.Unlock()

	res, err := s.orch.Fetch(fctx, req, s.entitlement())

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		cancel()
		return s.view, ErrSuperseded
	}
	cancel()
	s.cancel = nil
	if err != nil {
		// Prior data stays on screen next to the error.
		s.view.IsLoading = false
		s.view.State = StateError
		s.view.Error = err.Error()
		return s.view, err
	}
	s.view = View{
		Data:              res.Data,
		IsUsingCachedData: res.UsingCachedData,
		State:             res.State,
		Notice:            res.Notice,
	}
	return s.view, nil
}

// Refresh re-runs the last selection.
func (s *Session) Refresh(ctx context.Context) (View, error) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		return s.View(), ErrNoSelection
	}
	return s.Select(ctx, *last)
}

// View returns the current view.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed, s.cancel == nil
}

// maxSessions bounds the per-viewer map; beyond it, idle sessions are dropped.
const maxSessions = 10000

// Sessions keeps one Session per viewer.
type Sessions struct {
	orch    *Orchestrator
	resolve func(viewerID string) Entitlement
	idle    time.Duration
	clock   clockwork.Clock

	mu sync.Mutex
	m  map[string]*Session
}

// NewSessions creates a registry. resolve maps a viewer to its entitlement; sessions unused for
// idle are eligible for eviction once the registry is full.
func NewSessions(orch *Orchestrator, resolve func(viewerID string) Entitlement, idle time.Duration) *Sessions {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Sessions{orch: orch, resolve: resolve, idle: idle, clock: orch.clock, m: make(map[string]*Session)}
}

// For returns viewerID's session, creating it on first use.
func (r *Sessions) For(viewerID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[viewerID]; ok {
		return s
	}
	if len(r.m) >= maxSessions {
		r.pruneLocked()
	}
	s := r.orch.newSession(func() Entitlement {
		if r.resolve == nil {
			return nil
		}
		return r.resolve(viewerID)
	})
	r.m[viewerID] = s
	return s
}

// Lookup returns viewerID's session without creating one.
func (r *Sessions) Lookup(viewerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[viewerID]
	return s, ok
}

// Len returns the number of tracked sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// pruneLocked drops idle sessions with no fetch in flight. Must be called with mutex held.
func (r *Sessions) pruneLocked() {
	for id, s := range r.m {
		at, quiet := s.idleSince()
		if quiet && r.clock.Since(at) > r.idle {
			delete(r.m, id)
		}
	}
}
