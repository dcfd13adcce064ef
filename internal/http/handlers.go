package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/entitlement"
	"github.com/kjstillabower/rainz/internal/lifecycle"
	"github.com/kjstillabower/rainz/internal/offline"
	"github.com/kjstillabower/rainz/internal/orchestrator"
	"github.com/kjstillabower/rainz/internal/traffic"
	"github.com/kjstillabower/rainz/internal/validation"
)

// ViewerHeader carries the caller's viewer ID. Absent means anonymous.
const ViewerHeader = "X-Viewer-ID"

// HealthConfig holds the thresholds for the health handler.
type HealthConfig struct {
	Window           time.Duration
	DegradedErrorPct int
}

// Deps are the collaborators the handlers serve.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Sessions     *orchestrator.Sessions
	Gate         *entitlement.Gate
	Cache        *offline.Cache
	Providers    []string
	Health       *HealthConfig
	Logger       *zap.Logger
	// LocationNameMaxLength bounds the name query parameter (runes).
	LocationNameMaxLength int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps             Deps
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.LocationNameMaxLength <= 0 {
		deps.LocationNameMaxLength = 100
	}
	return &Handler{deps: deps, logger: logger}
}

// GetWeather handles GET /weather?lat=&lon=&name=. Identified viewers go through their
// session, so a newer request from the same viewer supersedes an older one still in flight.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	name, err := validation.ValidateLocationName(q.Get("name"), h.deps.LocationNameMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	if name == "" {
		name = fmt.Sprintf("%.2f, %.2f", lat, lon)
	}
	req := orchestrator.Request{Latitude: lat, Longitude: lon, Name: name}

	if viewer == "" {
		res, err := h.deps.Orchestrator.Fetch(r.Context(), req, nil)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, orchestrator.View{
			Data:              res.Data,
			IsUsingCachedData: res.UsingCachedData,
			State:             res.State,
			Notice:            res.Notice,
		})
		return
	}
	view, err := h.deps.Sessions.For(viewer).Select(r.Context(), req)
	h.writeView(w, r, view, err)
}

// RefreshWeather handles POST /weather/refresh: re-runs the viewer's last selection.
func (h *Handler) RefreshWeather(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.requireViewer(w, r)
	if !ok {
		return
	}
	session, found := h.deps.Sessions.Lookup(viewer)
	if !found {
		writeError(w, r, http.StatusConflict, "NO_SELECTION", orchestrator.ErrNoSelection.Error())
		return
	}
	view, err := session.Refresh(r.Context())
	h.writeView(w, r, view, err)
}

// GetSession handles GET /weather/session: the viewer's current view without fetching.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.requireViewer(w, r)
	if !ok {
		return
	}
	session, found := h.deps.Sessions.Lookup(viewer)
	if !found {
		writeJSON(w, http.StatusOK, orchestrator.View{State: orchestrator.StateIdle})
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

func (h *Handler) writeView(w http.ResponseWriter, r *http.Request, view orchestrator.View, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, view)
	case errors.Is(err, orchestrator.ErrSuperseded):
		writeError(w, r, http.StatusConflict, "SUPERSEDED", "a newer request for this viewer replaced this one")
	case errors.Is(err, orchestrator.ErrNoSelection):
		writeError(w, r, http.StatusConflict, "NO_SELECTION", err.Error())
	default:
		writeServiceError(w, r, err)
	}
}

// RefreshEntitlement handles POST /entitlement/refresh.
func (h *Handler) RefreshEntitlement(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.requireViewer(w, r)
	if !ok {
		return
	}
	enabled := h.deps.Gate.For(viewer).Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"viewerId": viewer,
		"enabled":  enabled,
	})
}

// GetCacheStats handles GET /cache/stats.
func (h *Handler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cacheStats(r))
}

// PostCacheCleanup handles POST /cache/cleanup: runs the expiry sweep now.
func (h *Handler) PostCacheCleanup(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Cache.IsOfflineCacheSupported(r.Context()) {
		writeError(w, r, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "offline cache is not available")
		return
	}
	h.deps.Cache.CleanupExpiredCache(r.Context())
	writeJSON(w, http.StatusOK, h.cacheStats(r))
}

// DeleteCache handles DELETE /cache.
func (h *Handler) DeleteCache(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Cache.IsOfflineCacheSupported(r.Context()) || !h.deps.Cache.ClearWeatherCache(r.Context()) {
		writeError(w, r, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "offline cache could not be cleared")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

type cacheStatsResponse struct {
	Supported       bool   `json:"supported"`
	Count           int    `json:"count"`
	OldestTimestamp *int64 `json:"oldestTimestamp"`
	NewestTimestamp *int64 `json:"newestTimestamp"`
	ValiditySeconds int64  `json:"validitySeconds"`
}

func (h *Handler) cacheStats(r *http.Request) cacheStatsResponse {
	if !h.deps.Cache.IsOfflineCacheSupported(r.Context()) {
		return cacheStatsResponse{}
	}
	st := h.deps.Cache.GetCacheStats(r.Context())
	return cacheStatsResponse{
		Supported:       true,
		Count:           st.Count,
		OldestTimestamp: st.OldestTimestamp,
		NewestTimestamp: st.NewestTimestamp,
		ValiditySeconds: int64(h.deps.Cache.Validity() / time.Second),
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherSources": "healthy", "offlineCache": "unsupported"}
	if result.status == "degraded" {
		checks["weatherSources"] = "unhealthy"
	}
	if h.deps.Cache.IsOfflineCacheSupported(r.Context()) {
		checks["offlineCache"] = "healthy"
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":        result.status,
		"service":       "rainz",
		"version":       "dev",
		"checks":        checks,
		"providers":     h.deps.Providers,
		"uptimeSeconds": int64(lifecycle.Uptime(time.Now()) / time.Second),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down > no providers > degraded > healthy.
// Degraded means the share of failed weather requests in the window reached the threshold;
// cached fallbacks count as served.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if len(h.deps.Providers) == 0 {
		return healthResult{"degraded", http.StatusServiceUnavailable, "no_providers"}
	}
	if hc := h.deps.Health; hc != nil && hc.Window > 0 && hc.DegradedErrorPct > 0 {
		failures, total := traffic.ErrorRate(hc.Window)
		if total > 0 && float64(failures)*100/float64(total) >= float64(hc.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func (h *Handler) viewerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := validation.ValidateViewerID(r.Header.Get(ViewerHeader))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_VIEWER", err.Error())
		return "", false
	}
	return id, true
}

func (h *Handler) requireViewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := h.viewerID(w, r)
	if !ok {
		return "", false
	}
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "VIEWER_REQUIRED", ViewerHeader+" header is required")
		return "", false
	}
	return id, true
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError writes a 503 for a fetch that failed with no fallback.
// The message carries the underlying error; it is what the failure notice shows.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data: "+err.Error())
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
