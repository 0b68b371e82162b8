package dispatch

import (
	"errors"
	"strings"
)

// ErrUnknownProvider is returned when a caller names a provider role
// outside the primary/secondary pair
var ErrUnknownProvider = errors.New("unknown provider")

// AggregateError is the terminal failure signal: every provider that
// could be attempted for a request either was unavailable or failed.
// It carries the underlying cause from each attempted provider.
type AggregateError struct {
	// ProviderTag is always "all"; it distinguishes this terminal error
	// from a single-provider failure in logs and audit records.
	ProviderTag string

	// Causes holds the underlying errors in attempt order (primary
	// first when it was attempted). Empty when both circuits were open
	// and no network call was made.
	Causes []error
}

// NewAggregateError creates an aggregate error from the collected causes
func NewAggregateError(causes []error) *AggregateError {
	return &AggregateError{
		ProviderTag: "all",
		Causes:      causes,
	}
}

// Error implements the error interface
func (e *AggregateError) Error() string {
	if len(e.Causes) == 0 {
		return "all providers unavailable"
	}
	msgs := make([]string, len(e.Causes))
	for i, cause := range e.Causes {
		msgs[i] = cause.Error()
	}
	return "all providers failed: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the underlying causes for errors.Is / errors.As
func (e *AggregateError) Unwrap() []error {
	return e.Causes
}

// IsAggregateError checks whether an error is an AggregateError
func IsAggregateError(err error) bool {
	var aggErr *AggregateError
	return errors.As(err, &aggErr)
}
