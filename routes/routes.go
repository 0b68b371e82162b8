// Package routes configures the HTTP router.
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexdraft/llm-router/app"
	"github.com/lexdraft/llm-router/handlers"
	"github.com/lexdraft/llm-router/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(propagateRequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(2 * time.Minute))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	generateHandler := handlers.NewGenerateHandler(deps.Dispatcher, deps.Logger)
	healthHandler := handlers.NewHealthHandler(deps.Dispatcher, deps.Logger)

	var auditLister handlers.AuditLister
	if deps.AuditService != nil {
		auditLister = deps.AuditService
	}
	adminHandler := handlers.NewAdminHandler(deps.Dispatcher, auditLister, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleLiveness)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// Prometheus metrics
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Provider availability is public: load balancers and dashboards
		// poll it without credentials.
		r.Get("/providers/health", healthHandler.HandleProvidersHealth)
		r.Get("/providers/{provider}/available", healthHandler.HandleProviderAvailable)

		// Generation endpoint (requires authentication)
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/generate", generateHandler.HandleGenerate)
		})

		// Operator endpoints (require admin role)
		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Post("/circuits/reset", adminHandler.HandleResetCircuits)
			r.Get("/dispatch-log", adminHandler.HandleDispatchLog)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}

// propagateRequestID copies the chi request ID into the application
// context key so handlers and middleware can log it
func propagateRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if requestID := chimiddleware.GetReqID(ctx); requestID != "" {
			ctx = middleware.WithRequestID(ctx, requestID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
