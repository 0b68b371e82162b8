// Package audit persists a trail of dispatch outcomes to Postgres.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lexdraft/llm-router/services/dispatch"
)

// Service implements dispatch.Recorder on top of a Postgres table.
// The dispatcher writes records asynchronously, so Insert latency never
// sits on the request path.
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// New creates a new audit service
func New(db *sql.DB, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// InitSchema creates the dispatch trail table if it does not exist
func (s *Service) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS dispatch_log (
			id BIGSERIAL PRIMARY KEY,
			execution_id UUID NOT NULL,
			provider TEXT NOT NULL,
			role TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			failed_over BOOLEAN NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_dispatch_log_created_at ON dispatch_log (created_at DESC);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to initialize dispatch trail schema: %w", err)
	}

	s.logger.Info("dispatch trail schema initialized")
	return nil
}

// RecordDispatch inserts one dispatch outcome
func (s *Service) RecordDispatch(ctx context.Context, rec dispatch.Record) error {
	query := `
		INSERT INTO dispatch_log (
			execution_id, provider, role, success, failed_over,
			error_code, input_tokens, output_tokens, latency_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ExecutionID,
		rec.Provider,
		string(rec.Role),
		rec.Success,
		rec.FailedOver,
		rec.ErrorCode,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Latency.Milliseconds(),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch record: %w", err)
	}

	s.logger.Debug("dispatch record inserted",
		zap.String("execution_id", rec.ExecutionID.String()),
		zap.String("provider", rec.Provider))
	return nil
}

// Entry is one row of the dispatch trail as returned to callers
type Entry struct {
	ExecutionID  string    `json:"execution_id"`
	Provider     string    `json:"provider"`
	Role         string    `json:"role"`
	Success      bool      `json:"success"`
	FailedOver   bool      `json:"failed_over"`
	ErrorCode    string    `json:"error_code,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	LatencyMs    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListRecent returns the most recent dispatch records, newest first
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT execution_id, provider, role, success, failed_over,
		       error_code, input_tokens, output_tokens, latency_ms, created_at
		FROM dispatch_log
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch records: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		err := rows.Scan(
			&entry.ExecutionID,
			&entry.Provider,
			&entry.Role,
			&entry.Success,
			&entry.FailedOver,
			&entry.ErrorCode,
			&entry.InputTokens,
			&entry.OutputTokens,
			&entry.LatencyMs,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch record: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatch records: %w", err)
	}

	return entries, nil
}
