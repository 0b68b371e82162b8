package providers

import (
	"context"
	"errors"
	"time"
)

// Provider is the uniform boundary around one upstream text-generation API.
// The dispatcher treats every provider identically through this interface.
type Provider interface {
	// Name returns the provider name (e.g., "anthropic", "grok")
	Name() string

	// Invoke sends a generation request upstream and returns the completion
	Invoke(ctx context.Context, req *ExecutionRequest) (*Invocation, error)

	// HealthCheck performs an out-of-band probe against the upstream API.
	// The dispatcher's availability logic does not use this; it exists for
	// operational tooling.
	HealthCheck(ctx context.Context) (*HealthCheckResult, error)
}

// ExecutionRequest represents a unified text-generation request.
// The dispatcher passes it through to whichever adapter it selects
// without inspecting the contents.
type ExecutionRequest struct {
	// SystemPrompt is an optional system instruction
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Prompt is the user prompt text
	Prompt string `json:"prompt"`

	// ModelHint suggests a model; each adapter maps it to a concrete model ID
	ModelHint string `json:"model_hint,omitempty"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 1.0)
	Temperature float64 `json:"temperature,omitempty"`
}

// Invocation is the unified result of a single upstream call
type Invocation struct {
	// Content is the generated text
	Content string `json:"content"`

	// Model is the concrete model ID that served the request
	Model string `json:"model"`

	// InputTokens consumed by the prompt
	InputTokens int `json:"input_tokens"`

	// OutputTokens produced in the completion
	OutputTokens int `json:"output_tokens"`

	// Latency of the upstream call
	Latency time.Duration `json:"latency"`
}

// HealthCheckResult reports the outcome of an out-of-band probe
type HealthCheckResult struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Error codes surfaced by adapters. Classification keys off StatusCode
// first and falls back to these.
const (
	CodeRateLimited    = "rate_limited"
	CodeOverloaded     = "overloaded"
	CodeTimeout        = "timeout"
	CodeUnavailable    = "unavailable"
	CodeUnauthorized   = "unauthorized"
	CodeInvalidRequest = "invalid_request"
	CodeUnknown        = "unknown"
)

// ProviderError represents a structured error from a provider adapter.
// Adapters construct it at the HTTP boundary so that callers never have
// to parse upstream error bodies themselves.
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the normalized error code (see the Code* constants)
	Code string

	// Message is the upstream error message
	Message string

	// StatusCode is the HTTP status code (0 when the request never completed)
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// AsProviderError extracts a ProviderError from an error chain
func AsProviderError(err error) (*ProviderError, bool) {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr, true
	}
	return nil, false
}
