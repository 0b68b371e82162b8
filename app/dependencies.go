// Package app wires the application's dependencies together.
package app

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lexdraft/llm-router/config"
	"github.com/lexdraft/llm-router/middleware"
	"github.com/lexdraft/llm-router/services/audit"
	"github.com/lexdraft/llm-router/services/dispatch"
	"github.com/lexdraft/llm-router/services/providers"
	"github.com/lexdraft/llm-router/services/providers/anthropic"
	"github.com/lexdraft/llm-router/services/providers/grok"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sql.DB // nil when no dispatch trail DB is configured

	Dispatcher   *dispatch.Dispatcher
	AuditService *audit.Service // nil when DB is nil

	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initDispatcher()
	deps.initAuth()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the dispatch trail DB when configured.
// Records are simply not persisted otherwise.
func (d *Dependencies) initDatabase(ctx context.Context) error {
	if d.Config.Database == nil {
		d.Logger.Info("no dispatch trail database configured, records will not be persisted")
		return nil
	}

	db, err := sql.Open("postgres", d.Config.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(d.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(d.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(d.Config.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	d.DB = db
	d.AuditService = audit.New(db, d.Logger)

	if err := d.AuditService.InitSchema(ctx); err != nil {
		db.Close()
		return err
	}

	d.Logger.Info("database connection established",
		zap.String("connection", d.Config.Database.LogString()))
	return nil
}

// initDispatcher builds the provider adapters and the dispatcher
func (d *Dependencies) initDispatcher() {
	primary := anthropic.New(providerConfig(d.Config.Providers.Anthropic))
	secondary := grok.New(providerConfig(d.Config.Providers.Grok))

	opts := []dispatch.Option{}
	if d.AuditService != nil {
		opts = append(opts, dispatch.WithRecorder(d.AuditService))
	}

	d.Dispatcher = dispatch.New(primary, secondary, dispatch.Config{
		FailureThreshold: d.Config.Resilience.FailureThreshold,
		ResetTimeout:     d.Config.Resilience.ResetTimeout,
	}, d.Logger, opts...)

	d.Logger.Info("dispatcher initialized",
		zap.String("primary", primary.Name()),
		zap.String("secondary", secondary.Name()),
		zap.Int("failure_threshold", d.Config.Resilience.FailureThreshold),
		zap.Duration("reset_timeout", d.Config.Resilience.ResetTimeout))
}

// initAuth builds the token validator and auth middleware.
// An empty secret leaves the validator rejecting every token, so
// protected routes fail closed.
func (d *Dependencies) initAuth() {
	if d.Config.Auth.TokenSecret == "" {
		d.Logger.Warn("API token secret not configured, protected routes will reject all requests")
	}
	validator := middleware.NewHMACValidator(d.Config.Auth.TokenSecret)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

func providerConfig(cfg config.ProviderConfig) providers.ProviderConfig {
	return providers.ProviderConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Timeout:      cfg.Timeout,
		DefaultModel: cfg.DefaultModel,
	}
}
