package models

import (
	"context"
	"errors"
	"strings"
)

// ClassifyError inspects err for known patterns and returns the most
// specific ErrorCategory that matches. Kept implementation-configurable per
// spec.md §9's open question: callers should test the resulting behavior
// (cooldown applied, retry taken), not the regex/substring choices here,
// since provider error bodies vary and this table is expected to grow.
func ClassifyError(ctx context.Context, err error) ErrorCategory {
	if err == nil {
		return CategoryNonRetryable
	}
	if errors.Is(err, context.Canceled) || (ctx != nil && ctx.Err() == context.Canceled) {
		return CategoryAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "401", "unauthorized", "invalid api key", "invalid_api_key", "forbidden", "403", "insufficient_quota", "insufficient funds"):
		return CategoryAuth
	case containsAny(msg, "429", "rate limit", "rate_limit", "too many requests"):
		return CategoryRateLimit
	case containsAny(msg, "deadline exceeded", "timeout", "timed out"):
		return CategoryTimeout
	case containsAny(msg, "503", "502", "overloaded", "server_error", "service unavailable", "bad gateway"):
		return CategoryOverloaded
	case containsAny(msg, "connection refused", "no such host", "dns", "connection reset", "eof", "broken pipe"):
		return CategoryTransport
	case containsAny(msg, "context_length", "context length", "maximum context", "context window", "token limit", "max tokens", "max_tokens"):
		return CategoryContextOverflow
	case containsAny(msg, "invalid json", "unmarshal", "unexpected response", "schema validation", "malformed"):
		return CategoryInvalidResponse
	case containsAny(msg, "canceled", "cancelled", "aborted", "shutdown"):
		return CategoryAborted
	case containsAny(msg, "permission denied", "not permitted", "invalid request"):
		return CategoryNonRetryable
	default:
		return CategoryNonRetryable
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
