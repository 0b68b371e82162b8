package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/lexdraft/llm-router/services/dispatch"
	"github.com/lexdraft/llm-router/services/providers"
	"github.com/lexdraft/llm-router/utils"
)

// HandleServiceError maps dispatch errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	switch {
	case dispatch.IsAggregateError(err):
		// Every provider was down or failing.
		if writeErr := utils.WriteServiceUnavailable(w, err.Error(), map[string]interface{}{
			"provider": "all",
		}); writeErr != nil {
			logger.Error("failed to write service unavailable response", zap.Error(writeErr))
		}

	default:
		if provErr, ok := providers.AsProviderError(err); ok {
			// A single upstream rejected the request without failover.
			details := map[string]interface{}{
				"provider": provErr.Provider,
				"code":     provErr.Code,
			}
			if writeErr := utils.WriteBadGateway(w, provErr.Message, details); writeErr != nil {
				logger.Error("failed to write bad gateway response", zap.Error(writeErr))
			}
			return
		}

		logger.Error("unhandled dispatch error", zap.Error(err))
		if writeErr := utils.WriteInternalServerError(w, "An unexpected error occurred"); writeErr != nil {
			logger.Error("failed to write internal error response", zap.Error(writeErr))
		}
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if writeErr := utils.WriteBadRequest(w, "Validation failed", details); writeErr != nil {
			logger.Error("failed to write validation error response", zap.Error(writeErr))
		}
		return
	}

	if writeErr := utils.WriteBadRequest(w, err.Error(), nil); writeErr != nil {
		logger.Error("failed to write validation error response", zap.Error(writeErr))
	}
}
