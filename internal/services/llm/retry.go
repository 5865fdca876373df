package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/metrics"
)

// RetryConfig defines retry behavior for provider rate limit handling.
// Tuned for Gemini's token/minute quota window; Claude rate limits follow
// the same shape.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 5)
	MaxRetries int

	// InitialBackoff is the initial wait time before first retry (default: 45s)
	// This matches the observed quota window reset time.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum wait time between retries (default: 90s)
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to backoff on each retry (default: 1.5)
	BackoffMultiplier float64
}

// Default retry constants for rate limited provider calls, based on an
// observed quota window of ~60 seconds.
const (
	DefaultMaxRetries        = 5
	DefaultInitialBackoff    = 45 * time.Second
	DefaultMaxBackoff        = 90 * time.Second
	DefaultBackoffMultiplier = 1.5
)

// Transient provider failures (503s, overload shedding) use a short doubling
// schedule instead of the quota-window backoff.
const (
	transientMaxRetries  = 3
	transientBackoffBase = 2 * time.Second
)

// NewDefaultRetryConfig returns a RetryConfig with sensible defaults for
// handling provider rate limits.
func NewDefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// IsRateLimitError checks if an error is a provider rate limit error.
// Matches 429 status codes, RESOURCE_EXHAUSTED and quota errors.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "quota")
}

// IsUnavailableError checks if an error is a transient provider outage that
// is worth a short retry: 5xx responses, gRPC UNAVAILABLE, or Anthropic
// overload shedding.
func IsUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "529") ||
		strings.Contains(errStr, "UNAVAILABLE") ||
		strings.Contains(errStr, "Service Unavailable") ||
		strings.Contains(errStr, "overloaded")
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// ExtractRetryDelay parses the API-suggested retry delay from a provider
// error. Returns 0 if no delay is found in the error message.
//
// Example error message:
// "Error 429, Message: ... Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED"
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// CalculateBackoff computes the backoff duration for a given attempt.
// If apiDelay > 0 (from ExtractRetryDelay), it's used as the base.
// Otherwise, InitialBackoff is used.
// The result is capped at MaxBackoff.
func (c *RetryConfig) CalculateBackoff(attempt int, apiDelay time.Duration) time.Duration {
	base := c.InitialBackoff
	if apiDelay > 0 {
		// Use API-provided delay plus small buffer
		base = apiDelay + 5*time.Second
	}

	// Apply exponential multiplier
	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(base) * multiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}

	return backoff
}

// callWithRetry runs call until it succeeds, fails with a non-retryable
// error, or exhausts the budget for its failure class. Rate limits wait out
// the quota window, honoring the API-suggested delay when one is present.
// Transient outages get the short doubling schedule. Anything else fails
// immediately so validation errors surface to the caller untouched.
func callWithRetry(ctx context.Context, logger arbor.ILogger, label string, call func() error) error {
	retryConfig := NewDefaultRetryConfig()

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}

		var backoff time.Duration
		switch {
		case IsRateLimitError(lastErr):
			if attempt >= retryConfig.MaxRetries {
				return fmt.Errorf("%s failed after %d rate limit retries: %w", label, retryConfig.MaxRetries, lastErr)
			}
			backoff = retryConfig.CalculateBackoff(attempt, ExtractRetryDelay(lastErr))
		case IsUnavailableError(lastErr):
			if attempt >= transientMaxRetries {
				return fmt.Errorf("%s failed after %d retries: %w", label, transientMaxRetries, lastErr)
			}
			backoff = transientBackoffBase << uint(attempt)
		default:
			return lastErr
		}

		metrics.RecordProviderRetry(label)
		logger.Warn().
			Str("operation", label).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(lastErr).
			Msg("Retrying provider call")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
