package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lexdraft/llm-router/services/dispatch"
	"github.com/lexdraft/llm-router/utils"
)

// HealthReporter exposes the dispatcher's availability view
type HealthReporter interface {
	HealthStatus() []dispatch.ProviderHealth
	IsAvailable(role dispatch.ProviderRole) (bool, error)
}

// HealthHandler handles health and availability HTTP requests
type HealthHandler struct {
	reporter HealthReporter
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(reporter HealthReporter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		reporter: reporter,
		logger:   logger,
	}
}

// HandleLiveness handles GET /healthz
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReadiness handles GET /readyz. The service is ready when at
// least one provider circuit admits traffic.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	status := h.reporter.HealthStatus()
	for _, provider := range status {
		if provider.Status != dispatch.HealthUnavailable {
			_ = utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"status":    "ready",
				"providers": status,
			})
			return
		}
	}

	h.logger.Warn("readiness check failed: all providers unavailable")
	_ = utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status":    "unavailable",
		"providers": status,
	})
}

// HandleProvidersHealth handles GET /v1/providers/health
func (h *HealthHandler) HandleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.reporter.HealthStatus())
}

// HandleProviderAvailable handles GET /v1/providers/{provider}/available
func (h *HealthHandler) HandleProviderAvailable(w http.ResponseWriter, r *http.Request) {
	role := dispatch.ProviderRole(chi.URLParam(r, "provider"))

	available, err := h.reporter.IsAvailable(role)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownProvider) {
			_ = utils.WriteNotFound(w, "Unknown provider: "+string(role))
			return
		}
		h.logger.Error("availability check failed", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, map[string]interface{}{
		"provider":  role,
		"available": available,
	})
}
