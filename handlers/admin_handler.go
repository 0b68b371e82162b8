package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lexdraft/llm-router/middleware"
	"github.com/lexdraft/llm-router/services/audit"
	"github.com/lexdraft/llm-router/utils"
)

// CircuitAdmin exposes operator controls over the provider circuits
type CircuitAdmin interface {
	ResetCircuits()
}

// AuditLister exposes read access to the dispatch trail
type AuditLister interface {
	ListRecent(ctx context.Context, limit int) ([]*audit.Entry, error)
}

// AdminHandler handles operator HTTP requests
type AdminHandler struct {
	circuits CircuitAdmin
	auditLog AuditLister // nil when no audit DB is configured
	logger   *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(circuits CircuitAdmin, auditLog AuditLister, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		circuits: circuits,
		auditLog: auditLog,
		logger:   logger,
	}
}

// HandleResetCircuits handles POST /v1/admin/circuits/reset
func (h *AdminHandler) HandleResetCircuits(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	h.circuits.ResetCircuits()

	h.logger.Info("circuit breakers reset by operator",
		zap.String("request_id", requestID))
	_ = utils.WriteOK(w, map[string]string{"status": "reset"})
}

// HandleDispatchLog handles GET /v1/admin/dispatch-log
func (h *AdminHandler) HandleDispatchLog(w http.ResponseWriter, r *http.Request) {
	if h.auditLog == nil {
		_ = utils.WriteNotFound(w, "Dispatch trail is not configured")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			_ = utils.WriteBadRequest(w, "limit must be between 1 and 500", nil)
			return
		}
		limit = parsed
	}

	entries, err := h.auditLog.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list dispatch records", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, entries)
}
