package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go"
)

// Category is a short, stable, user-facing classification of a generation
// failure. The UI renders these; raw error strings stay in logs.
type Category string

const (
	CategoryTimeout            Category = "timeout"
	CategoryInvalidCredentials Category = "invalid_credentials"
	CategoryRateLimited        Category = "rate_limited"
	CategoryUnavailable        Category = "service_unavailable"
	CategoryProvider           Category = "provider_error"
	CategoryAllFailed          Category = "all_providers_failed"
	CategoryCanceled           Category = "canceled"
	CategoryIntegration        Category = "integration_unavailable"
	CategoryUnknown            Category = "unknown"
)

// UserMessage maps a category to the short text shown to the user.
func UserMessage(c Category) string {
	switch c {
	case CategoryTimeout:
		return "request timed out"
	case CategoryInvalidCredentials:
		return "invalid credentials"
	case CategoryRateLimited:
		return "rate limited"
	case CategoryUnavailable, CategoryAllFailed:
		return "service unavailable"
	case CategoryCanceled:
		return "canceled"
	case CategoryIntegration:
		return "couldn't read the conversation"
	default:
		return "generation failed, try again"
	}
}

// CallError wraps a single provider call failure with its origin.
type CallError struct {
	ProviderID string
	Model      string
	StatusCode int // 0 when no HTTP response was seen
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s (%s): status %d: %v", e.ProviderID, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s (%s): %v", e.ProviderID, e.Model, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// AllFailedError reports that both the primary and the fallback failed.
type AllFailedError struct {
	PrimaryErr  error
	FallbackErr error
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all providers failed: primary: %v; fallback: %v", e.PrimaryErr, e.FallbackErr)
}

// Unwrap exposes both causes to errors.Is/As.
func (e *AllFailedError) Unwrap() []error {
	return []error{e.PrimaryErr, e.FallbackErr}
}

// ErrEmptyOutput is returned when a provider call succeeds at the HTTP level
// but yields no usable candidate text.
var ErrEmptyOutput = errors.New("provider returned empty output")

// statusCode extracts the HTTP status from an SDK error, 0 if none.
func statusCode(err error) int {
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return oerr.StatusCode
	}
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return aerr.StatusCode
	}
	return 0
}

// Categorize reduces any error from Router.Generate to a Category.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var all *AllFailedError
	if errors.As(err, &all) {
		return CategoryAllFailed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCanceled
	}
	code := statusCode(err)
	var call *CallError
	if errors.As(err, &call) && call.StatusCode > 0 {
		code = call.StatusCode
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return CategoryInvalidCredentials
	case code == http.StatusTooManyRequests:
		return CategoryRateLimited
	case code >= 500:
		return CategoryUnavailable
	case code >= 400:
		return CategoryProvider
	}
	if errors.Is(err, ErrEmptyOutput) {
		return CategoryProvider
	}
	return CategoryUnknown
}
