package providers

import "time"

// ProviderConfig holds the settings shared by every adapter
type ProviderConfig struct {
	// APIKey authenticates against the upstream API
	APIKey string

	// BaseURL overrides the upstream endpoint; adapters fall back to
	// their production default when empty
	BaseURL string

	// Timeout bounds each upstream call
	Timeout time.Duration

	// DefaultModel is used when a request carries no model hint
	DefaultModel string
}
