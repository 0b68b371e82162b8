// Package anthropic implements the Provider interface against the
// Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/lexdraft/llm-router/services/providers"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	defaultModel   = "claude-sonnet-4-20250514"
	apiVersion     = "2023-06-01"
)

// Adapter implements the Provider interface for Anthropic
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// New creates a new Anthropic adapter
func New(config providers.ProviderConfig) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultModel
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "anthropic"
}

// Invoke sends a generation request to the Messages API
func (a *Adapter) Invoke(ctx context.Context, req *providers.ExecutionRequest) (*providers.Invocation, error) {
	startTime := time.Now()

	msgReq := a.buildMessagesRequest(req)

	reqBody, err := json.Marshal(msgReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CodeInvalidRequest, "failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CodeInvalidRequest, "failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, a.transportError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CodeUnavailable, "failed to read response", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var msgResp messagesResponse
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CodeUnknown, "failed to unmarshal response", httpResp.StatusCode, err)
	}

	return a.toInvocation(&msgResp, time.Since(startTime)), nil
}

// HealthCheck probes the models endpoint
func (a *Adapter) HealthCheck(ctx context.Context) (*providers.HealthCheckResult, error) {
	startTime := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return &providers.HealthCheckResult{Healthy: false, Latency: time.Since(startTime)}, nil
	}
	defer resp.Body.Close()

	return &providers.HealthCheckResult{
		Healthy: resp.StatusCode == http.StatusOK,
		Latency: time.Since(startTime),
	}, nil
}

// buildMessagesRequest converts the unified request to Messages API format
func (a *Adapter) buildMessagesRequest(req *providers.ExecutionRequest) *messagesRequest {
	model := req.ModelHint
	if model == "" {
		model = a.config.DefaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	msgReq := &messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []message{
			{Role: "user", Content: req.Prompt},
		},
	}

	if req.SystemPrompt != "" {
		msgReq.System = req.SystemPrompt
	}
	if req.Temperature > 0 {
		msgReq.Temperature = &req.Temperature
	}

	return msgReq
}

// toInvocation converts a Messages API response to the unified result
func (a *Adapter) toInvocation(resp *messagesResponse, latency time.Duration) *providers.Invocation {
	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &providers.Invocation{
		Content:      content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Latency:      latency,
	}
}

// transportError maps client-side failures. Context deadline errors become
// timeouts so that classification never needs to inspect the transport.
func (a *Adapter) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewProviderError(a.Name(), providers.CodeTimeout, "request timed out", 0, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return providers.NewProviderError(a.Name(), providers.CodeTimeout, "request timed out", 0, err)
	}
	return providers.NewProviderError(a.Name(), providers.CodeUnavailable, "request failed", 0, err)
}

// handleErrorResponse maps a Messages API error body to a structured error
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(a.Name(), codeForStatus(statusCode), string(body), statusCode, nil)
	}

	code := codeForErrorType(errResp.Error.Type)
	if code == providers.CodeUnknown {
		code = codeForStatus(statusCode)
	}

	return providers.NewProviderError(a.Name(), code, errResp.Error.Message, statusCode, nil)
}

func codeForErrorType(errType string) string {
	switch errType {
	case "rate_limit_error":
		return providers.CodeRateLimited
	case "overloaded_error":
		return providers.CodeOverloaded
	case "authentication_error", "permission_error":
		return providers.CodeUnauthorized
	case "invalid_request_error":
		return providers.CodeInvalidRequest
	case "api_error":
		return providers.CodeUnavailable
	default:
		return providers.CodeUnknown
	}
}

func codeForStatus(statusCode int) string {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return providers.CodeRateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return providers.CodeUnauthorized
	case statusCode == http.StatusBadRequest:
		return providers.CodeInvalidRequest
	case statusCode == http.StatusRequestTimeout:
		return providers.CodeTimeout
	case statusCode >= 500:
		return providers.CodeUnavailable
	default:
		return providers.CodeUnknown
	}
}

// Messages API request/response types

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
