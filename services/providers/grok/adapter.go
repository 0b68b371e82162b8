// Package grok implements the Provider interface against the xAI API,
// which speaks the OpenAI chat completion protocol.
package grok

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lexdraft/llm-router/services/providers"
)

const (
	defaultBaseURL = "https://api.x.ai/v1"
	defaultModel   = "grok-3"
)

// Adapter implements the Provider interface for xAI Grok
type Adapter struct {
	config providers.ProviderConfig
	client *openai.Client
}

// New creates a new Grok adapter
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

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: config.Timeout,
	}

	return &Adapter{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "grok"
}

// Invoke sends a chat completion request to the xAI API
func (a *Adapter) Invoke(ctx context.Context, req *providers.ExecutionRequest) (*providers.Invocation, error) {
	startTime := time.Now()

	resp, err := a.client.CreateChatCompletion(ctx, a.buildChatRequest(req))
	if err != nil {
		return nil, a.mapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), providers.CodeUnknown, "empty completion response", 0, nil)
	}

	return &providers.Invocation{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Latency:      time.Since(startTime),
	}, nil
}

// HealthCheck probes the models endpoint
func (a *Adapter) HealthCheck(ctx context.Context) (*providers.HealthCheckResult, error) {
	startTime := time.Now()

	_, err := a.client.ListModels(ctx)

	return &providers.HealthCheckResult{
		Healthy: err == nil,
		Latency: time.Since(startTime),
	}, nil
}

// buildChatRequest converts the unified request to the chat completion format
func (a *Adapter) buildChatRequest(req *providers.ExecutionRequest) openai.ChatCompletionRequest {
	model := req.ModelHint
	if model == "" {
		model = a.config.DefaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
}

// mapError converts client library errors to structured provider errors
func (a *Adapter) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return providers.NewProviderError(a.Name(), codeForStatus(apiErr.HTTPStatusCode), apiErr.Message, apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return providers.NewProviderError(a.Name(), codeForStatus(reqErr.HTTPStatusCode), reqErr.Error(), reqErr.HTTPStatusCode, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewProviderError(a.Name(), providers.CodeTimeout, "request timed out", 0, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return providers.NewProviderError(a.Name(), providers.CodeTimeout, "request timed out", 0, err)
	}

	return providers.NewProviderError(a.Name(), providers.CodeUnavailable, "request failed", 0, err)
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
