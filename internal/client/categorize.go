package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
)

// ErrorCategory is a stable label for a provider failure, used in logs and metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryCanceled         ErrorCategory = "canceled"
	ErrorCategoryNetwork          ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey    ErrorCategory = "invalid_api_key"
	ErrorCategoryLocationNotFound ErrorCategory = "location_not_found"
	ErrorCategoryRateLimited      ErrorCategory = "rate_limited"
	ErrorCategoryUpstream         ErrorCategory = "upstream"
	ErrorCategoryCircuitOpen      ErrorCategory = "circuit_open"
	ErrorCategoryParsing          ErrorCategory = "parsing"
	ErrorCategoryUnknown          ErrorCategory = "unknown"
)

// sentinelCategories is checked in order; the first match wins.
var sentinelCategories = []struct {
	err error
	cat ErrorCategory
}{
	{ErrCircuitOpen, ErrorCategoryCircuitOpen},
	{ErrInvalidAPIKey, ErrorCategoryInvalidAPIKey},
	{ErrLocationNotFound, ErrorCategoryLocationNotFound},
	{ErrRateLimited, ErrorCategoryRateLimited},
	{ErrUpstreamFailure, ErrorCategoryUpstream},
}

// CategorizeError classifies a provider error. Sentinels and typed errors are matched first;
// message heuristics only apply to errors that carry neither.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCategoryCanceled
	}
	for _, s := range sentinelCategories {
		if errors.Is(err, s.err) {
			return s.cat
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ErrorCategoryParsing
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorCategoryTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "no such host"):
		return ErrorCategoryNetwork
	case strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal"):
		return ErrorCategoryParsing
	}
	return ErrorCategoryUnknown
}
