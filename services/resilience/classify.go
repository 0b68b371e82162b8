package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/lexdraft/llm-router/services/providers"
)

// Classification determines how the dispatcher reacts to an adapter error
type Classification int

const (
	// Retriable errors indicate a provider-health problem: record a
	// breaker failure and attempt failover to the alternate provider.
	Retriable Classification = iota

	// Fatal errors indicate a defect in the caller's request: propagate
	// immediately, never touch the breaker, never fail over.
	Fatal
)

// String returns the string representation of the classification
func (c Classification) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "retriable"
}

// fatalStatusCodes are upstream responses caused by the request itself,
// not by provider health. Failing over would not help and would mask the
// real bug in the caller.
var fatalStatusCodes = map[int]bool{
	http.StatusBadRequest:   true,
	http.StatusUnauthorized: true,
	http.StatusForbidden:    true,
}

var fatalCodes = map[string]bool{
	providers.CodeUnauthorized:   true,
	providers.CodeInvalidRequest: true,
}

// fatalMessagePatterns is the last-resort fallback when an adapter could
// not surface structured status information. Message matching is brittle;
// it is confined to this file so it can be hardened in one place.
var fatalMessagePatterns = []string{
	"401",
	"403",
	"unauthorized",
	"forbidden",
	"invalid api key",
	"authentication",
	"invalid request",
	"malformed",
}

// Classify maps an adapter error to a dispatch decision.
//
// It prefers the structured fields on ProviderError (status code, then
// normalized code) and only falls back to message text when neither is
// set. Errors that carry no signal at all default to Retriable: an
// unclassifiable failure is treated as a provider fault, since trying
// the alternate provider is harmless while dropping a salvageable
// request is not.
func Classify(err error) Classification {
	if err == nil {
		return Retriable
	}

	if provErr, ok := providers.AsProviderError(err); ok {
		if provErr.StatusCode != 0 {
			if fatalStatusCodes[provErr.StatusCode] {
				return Fatal
			}
			return Retriable
		}
		if provErr.Code != "" && provErr.Code != providers.CodeUnknown {
			if fatalCodes[provErr.Code] {
				return Fatal
			}
			return Retriable
		}
	}

	// Timeouts and cancellations never indicate a request defect.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Retriable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retriable
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range fatalMessagePatterns {
		if strings.Contains(msg, pattern) {
			return Fatal
		}
	}

	return Retriable
}
