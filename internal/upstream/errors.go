package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes the reporting API uses for quota exhaustion. Code 17 is the
// generic "user request limit reached" code, 613 the per-ad-account variant.
const (
	codeRequestLimit   = 17
	codeAdAccountLimit = 613
)

// rateLimitMarkers are message substrings that indicate throttling even when
// the upstream does not set a recognized error code.
var rateLimitMarkers = []string{
	"user request limit reached",
	"too many calls",
	"rate limit",
	"request limit",
	"throttl",
}

// RateLimitError indicates the upstream rejected a call due to quota
// exhaustion. Callers should back off and retry.
type RateLimitError struct {
	Code    int
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream rate limited (code %d): %s", e.Code, e.Message)
}

// TransientError wraps a network or timeout class failure that is worth
// retrying after a short delay.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient upstream error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// APIError is any other error the upstream returned. Not retried.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// ConfigError indicates missing or invalid connector configuration. The whole
// request fails immediately; no batch work is attempted.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("upstream configuration missing: %s", e.Field)
}

// IsRateLimited reports whether err represents upstream throttling, either as
// a typed RateLimitError or by its error-code / message signature.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == codeRequestLimit || apiErr.Code == codeAdAccountLimit {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is a retryable network/timeout failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

// IsConfig reports whether err is a connector configuration error.
func IsConfig(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConfigError
	return errors.As(err, &ce)
}
