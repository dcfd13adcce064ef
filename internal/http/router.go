package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/rainz/internal/observability"
)

// RouterConfig holds the middleware settings for NewRouter.
type RouterConfig struct {
	// Limiter throttles the /weather routes; nil disables rate limiting.
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
}

// NewRouter wires every route and middleware. /weather routes are rate limited and carry a
// request deadline; operational routes are not.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/entitlement/refresh", h.RefreshEntitlement).Methods(http.MethodPost)
	router.HandleFunc("/cache/stats", h.GetCacheStats).Methods(http.MethodGet)
	router.HandleFunc("/cache/cleanup", h.PostCacheCleanup).Methods(http.MethodPost)
	router.HandleFunc("/cache", h.DeleteCache).Methods(http.MethodDelete)

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		weatherRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	weatherRouter.HandleFunc("", h.GetWeather).Methods(http.MethodGet)
	weatherRouter.HandleFunc("/refresh", h.RefreshWeather).Methods(http.MethodPost)
	weatherRouter.HandleFunc("/session", h.GetSession).Methods(http.MethodGet)
	return router
}
