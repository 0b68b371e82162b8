package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/lexdraft/llm-router/middleware"
	"github.com/lexdraft/llm-router/services/dispatch"
	"github.com/lexdraft/llm-router/services/providers"
	"github.com/lexdraft/llm-router/utils"
)

// GenerateRequest represents a text-generation API request
type GenerateRequest struct {
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Prompt       string  `json:"prompt" validate:"required"`
	Model        string  `json:"model,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0,lte=32768"`
	Temperature  float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// DispatchService defines the interface for dispatching generation requests
type DispatchService interface {
	Execute(ctx context.Context, req *providers.ExecutionRequest) (*dispatch.ExecutionResult, error)
}

// GenerateHandler handles text-generation HTTP requests
type GenerateHandler struct {
	service DispatchService
	logger  *zap.Logger
}

// NewGenerateHandler creates a new GenerateHandler
func NewGenerateHandler(service DispatchService, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGenerate handles POST /v1/generate
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var genReq GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&genReq); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&genReq); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.Execute(ctx, &providers.ExecutionRequest{
		SystemPrompt: genReq.SystemPrompt,
		Prompt:       genReq.Prompt,
		ModelHint:    genReq.Model,
		MaxTokens:    genReq.MaxTokens,
		Temperature:  genReq.Temperature,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}
