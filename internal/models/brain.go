package models

import (
	"context"
	"errors"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// Brain is the minimal surface C5 needs from a provider SDK client: a cheap
// reachability probe for doctor-style diagnostics, and a typed-error
// classifier that ClassifyError consults before falling back to substring
// matching. Kept narrow on purpose so C5 never depends on a specific
// provider's request/response shapes directly.
type Brain interface {
	// Provider names the upstream this Brain talks to, e.g. "anthropic".
	Provider() string
	// Ping performs the cheapest authenticated call the SDK exposes, to
	// confirm an API key is live and the provider is reachable.
	Ping(ctx context.Context) error
	// ClassifyError maps a provider SDK error to a category using the
	// SDK's typed error rather than string matching. ok is false when err
	// did not originate from this provider's SDK.
	ClassifyError(err error) (category ErrorCategory, ok bool)
}

// AnthropicBrain wraps the Anthropic SDK client.
type AnthropicBrain struct {
	sdk anthropic.Client
}

// NewAnthropicBrain builds a Brain backed by the Anthropic SDK.
func NewAnthropicBrain(apiKey string) *AnthropicBrain {
	return &AnthropicBrain{sdk: anthropic.NewClient(anthropicoption.WithAPIKey(apiKey))}
}

func (b *AnthropicBrain) Provider() string { return "anthropic" }

func (b *AnthropicBrain) Ping(ctx context.Context) error {
	_, err := b.sdk.Models.List(ctx, anthropic.ModelListParams{})
	return err
}

func (b *AnthropicBrain) ClassifyError(err error) (ErrorCategory, bool) {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return "", false
	}
	return categoryForStatus(apiErr.StatusCode), true
}

// OpenAIBrain wraps the OpenAI SDK client.
type OpenAIBrain struct {
	sdk openai.Client
}

// NewOpenAIBrain builds a Brain backed by the OpenAI SDK.
func NewOpenAIBrain(apiKey string) *OpenAIBrain {
	return &OpenAIBrain{sdk: openai.NewClient(openaioption.WithAPIKey(apiKey))}
}

func (b *OpenAIBrain) Provider() string { return "openai" }

func (b *OpenAIBrain) Ping(ctx context.Context) error {
	_, err := b.sdk.Models.List(ctx)
	return err
}

func (b *OpenAIBrain) ClassifyError(err error) (ErrorCategory, bool) {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return "", false
	}
	return categoryForStatus(apiErr.StatusCode), true
}

// categoryForStatus maps an HTTP status code from a provider SDK error to
// the taxonomy shared with the substring-based classifier.
func categoryForStatus(status int) ErrorCategory {
	switch {
	case status == 401 || status == 403:
		return CategoryAuth
	case status == 429:
		return CategoryRateLimit
	case status == 408:
		return CategoryTimeout
	case status == 502 || status == 503 || status == 504:
		return CategoryOverloaded
	case status >= 500:
		return CategoryOverloaded
	case status >= 400:
		return CategoryNonRetryable
	default:
		return CategoryNonRetryable
	}
}

// ClassifyWithBrains runs the typed SDK classifiers in brains before
// falling back to ClassifyError's substring matching. Callers hold one
// Brain per configured provider; an empty brains slice behaves exactly
// like ClassifyError.
func ClassifyWithBrains(ctx context.Context, err error, brains []Brain) ErrorCategory {
	for _, b := range brains {
		if b == nil {
			continue
		}
		if cat, ok := b.ClassifyError(err); ok {
			return cat
		}
	}
	return ClassifyError(ctx, err)
}
