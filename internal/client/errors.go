package client

import "errors"

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrCircuitOpen      = errors.New("circuit breaker open")
)

// handleStatus maps a non-2xx provider status to a sentinel. Returns nil for 2xx.
func handleStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 401 || code == 403:
		return ErrInvalidAPIKey
	case code == 404 || code == 400:
		return ErrLocationNotFound
	case code == 429:
		return ErrRateLimited
	default:
		return ErrUpstreamFailure
	}
}

// retryable reports whether a status should be retried by the transport.
func retryable(code int) bool {
	return code == 429 || code >= 500
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
