package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// RetryConfig bounds the generation retry loop.
type RetryConfig struct {
	MaxRetries int           // attempts after the first call
	Backoff    time.Duration // fixed pause between attempts
}

// DefaultRetryConfig permits a single retry after a short fixed pause.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 1,
		Backoff:    500 * time.Millisecond,
	}
}

// retryablePatterns groups transient error substrings by category.
// Matched case-insensitively against err.Error().
//
// NOTE: string matching is used because genkit and the provider SDKs do
// not expose typed errors for transient transport failures. Re-evaluate
// if genkit adds structured error types in a future version.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and worth one more call.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// generateWithRetry runs the model call, retrying transient transport
// failures after a fixed backoff. Every failure mode ends in
// ErrGeneration; cancellation discovered during the pause propagates as
// the context's own error.
func (e *Engine) generateWithRetry(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= e.retry.MaxRetries; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, e.g, opts...)
		if err == nil {
			if attempt > 0 {
				e.logger.Debug("generation recovered", "attempts", attempt+1)
			}
			return resp, nil
		}
		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		if attempt == e.retry.MaxRetries {
			break
		}

		e.logger.Debug("retrying generation",
			"attempt", attempt+1,
			"backoff", e.retry.Backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during generation retry: %w", ctx.Err())
		case <-time.After(e.retry.Backoff):
		}
	}

	return nil, fmt.Errorf("%w after %d retries: %w", ErrGeneration, e.retry.MaxRetries, lastErr)
}
