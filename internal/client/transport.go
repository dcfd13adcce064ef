package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/observability"
)

// Settings configures the HTTP transport shared by every provider.
type Settings struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// BreakerFailureThreshold consecutive failures open the circuit for BreakerCooldown.
	BreakerFailureThreshold uint32
	BreakerCooldown         time.Duration
	// BreakerHalfOpenProbes requests are let through while half-open.
	BreakerHalfOpenProbes uint32
}

// DefaultSettings returns the transport defaults used when config leaves fields zero.
func DefaultSettings() Settings {
	return Settings{
		Timeout:                 5 * time.Second,
		RetryAttempts:           2,
		RetryBaseDelay:          200 * time.Millisecond,
		RetryMaxDelay:           2 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerCooldown:         30 * time.Second,
		BreakerHalfOpenProbes:   1,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.RetryAttempts < 0 {
		s.RetryAttempts = 0
	}
	if s.RetryBaseDelay <= 0 {
		s.RetryBaseDelay = d.RetryBaseDelay
	}
	if s.RetryMaxDelay <= 0 {
		s.RetryMaxDelay = d.RetryMaxDelay
	}
	if s.BreakerFailureThreshold == 0 {
		s.BreakerFailureThreshold = d.BreakerFailureThreshold
	}
	if s.BreakerCooldown <= 0 {
		s.BreakerCooldown = d.BreakerCooldown
	}
	if s.BreakerHalfOpenProbes == 0 {
		s.BreakerHalfOpenProbes = d.BreakerHalfOpenProbes
	}
	return s
}

// transport is one provider's resty client behind its own circuit breaker.
type transport struct {
	provider string
	http     *resty.Client
	breaker  *gobreaker.CircuitBreaker
}

// clientError is a 4xx (other than 429) passed through the breaker as a value:
// a bad key or unknown location says nothing about provider health.
type clientError struct{ err error }

func newTransport(provider, baseURL string, s Settings, logger *zap.Logger) *transport {
	s = s.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "rainz/1.0").
		SetTimeout(s.Timeout).
		SetRetryCount(s.RetryAttempts).
		SetRetryWaitTime(s.RetryBaseDelay).
		SetRetryMaxWaitTime(s.RetryMaxDelay).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return r == nil || r.Request == nil || r.Request.Context().Err() == nil
			}
			return retryable(r.StatusCode())
		}).
		AddRetryHook(func(*resty.Response, error) {
			observability.ProviderRetriesTotal.WithLabelValues(provider).Inc()
		})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: s.BreakerHalfOpenProbes,
		Timeout:     s.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(observability.CircuitBreakerStateValue(to.String()))
			logger.Warn("provider circuit breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	observability.CircuitBreakerState.WithLabelValues(provider).Set(0)

	return &transport{provider: provider, http: hc, breaker: breaker}
}

// get issues GET path with params and decodes the JSON body into out.
func (t *transport) get(ctx context.Context, path string, params map[string]string, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		observability.ProviderCallsTotal.WithLabelValues(t.provider, status).Inc()
		observability.ProviderDuration.WithLabelValues(t.provider, status).Observe(time.Since(start).Seconds())
	}()

	res, err := t.breaker.Execute(func() (interface{}, error) {
		req := t.http.R().SetContext(ctx).SetQueryParams(params)
		if corrID := extractCorrelationID(ctx); corrID != "" {
			req.SetHeader("X-Correlation-ID", corrID)
		}
		resp, err := req.Get(path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request timeout: %w", ctx.Err())
			}
			return nil, fmt.Errorf("http request failed: %w", err)
		}
		status = statusLabel(resp.StatusCode())
		if err := handleStatus(resp.StatusCode()); err != nil {
			err = fmt.Errorf("%s: %w: HTTP %d", t.provider, err, resp.StatusCode())
			if status == "client_error" {
				return clientError{err: err}, nil
			}
			return nil, err
		}
		return resp.Body(), nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		status = "circuit_open"
		return fmt.Errorf("%s: %w", t.provider, ErrCircuitOpen)
	}
	if err != nil {
		return err
	}
	switch v := res.(type) {
	case clientError:
		return v.err
	case []byte:
		if err := json.Unmarshal(v, out); err != nil {
			status = "parse_error"
			return fmt.Errorf("%s: parse response: %w", t.provider, err)
		}
	}
	return nil
}

// state returns the breaker state name (closed, half-open, open).
func (t *transport) state() string {
	return t.breaker.State().String()
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}
