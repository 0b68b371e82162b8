package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexdraft/llm-router/internal/observability"
	"github.com/lexdraft/llm-router/services/providers"
	"github.com/lexdraft/llm-router/services/resilience"
)

// ProviderRole identifies one slot in the redundant provider pair. It is
// a tag only: the dispatcher never branches on it beyond selecting the
// matching adapter instance.
type ProviderRole string

const (
	// RolePrimary is the preferred provider, tried first on every request
	RolePrimary ProviderRole = "primary"

	// RoleSecondary is the failover provider
	RoleSecondary ProviderRole = "secondary"
)

// HealthState is the operator-facing projection of a breaker state
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnavailable HealthState = "unavailable"
)

// ExecutionResult is the outcome of a successfully dispatched request
type ExecutionResult struct {
	// ExecutionID uniquely identifies this dispatch attempt
	ExecutionID uuid.UUID `json:"execution_id"`

	// Content is the generated text
	Content string `json:"content"`

	// Provider is the role that served the request
	Provider ProviderRole `json:"provider"`

	// ProviderName is the upstream name behind that role
	ProviderName string `json:"provider_name"`

	// Model is the concrete model ID that served the request
	Model string `json:"model"`

	// Token usage reported upstream
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Latency of the winning upstream call
	Latency time.Duration `json:"latency"`

	// FailedOver is true when the secondary served a request after the
	// primary failed or was skipped
	FailedOver bool `json:"failed_over"`
}

// ProviderHealth is one entry in the operator health snapshot
type ProviderHealth struct {
	Provider            ProviderRole `json:"provider"`
	Name                string       `json:"name"`
	Status              HealthState  `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}

// Record captures one dispatch outcome for the audit trail
type Record struct {
	ExecutionID  uuid.UUID
	Provider     string
	Role         ProviderRole
	Success      bool
	FailedOver   bool
	ErrorCode    string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	CreatedAt    time.Time
}

// Recorder persists dispatch outcomes. Recording happens off the request
// path; implementations must tolerate concurrent calls.
type Recorder interface {
	RecordDispatch(ctx context.Context, rec Record) error
}

// Config holds dispatcher configuration, immutable after construction
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// provider's circuit (default 5)
	FailureThreshold int

	// ResetTimeout is the open-state dwell time before a probe is
	// permitted (default 30s)
	ResetTimeout time.Duration

	// Clock overrides the time source. Nil means time.Now; tests inject
	// a fake clock here to drive breaker timeouts.
	Clock func() time.Time
}

// Dispatcher routes execution requests to a redundant provider pair,
// tracking each provider's health with its own circuit breaker and
// failing over to the secondary when the primary is unhealthy or fails
// with a retriable error.
//
// The dispatcher owns both breakers; breaker state is serialized by a
// mutex per breaker, and no lock is held across an upstream call. While
// a breaker is half-open every concurrent caller that observes the
// half-open window is admitted as a probe, so a late probe failure can
// reopen a circuit just after an earlier success closed it. This mirrors
// the behavior the router has always had at its low call volume; a
// single-flight probe guard would change observable behavior under load
// and is deliberately not applied here.
type Dispatcher struct {
	primary   providers.Provider
	secondary providers.Provider

	primaryBreaker   *resilience.CircuitBreaker
	secondaryBreaker *resilience.CircuitBreaker

	recorder Recorder
	logger   *zap.Logger
}

// Option configures optional dispatcher collaborators
type Option func(*Dispatcher)

// WithRecorder attaches an audit recorder to the dispatcher
func WithRecorder(rec Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = rec
	}
}

// New creates a dispatcher with a breaker per provider. Both breakers
// start closed and live as long as the dispatcher instance.
func New(primary, secondary providers.Provider, cfg Config, logger *zap.Logger, opts ...Option) *Dispatcher {
	settings := resilience.Settings{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	d := &Dispatcher{
		primary:          primary,
		secondary:        secondary,
		primaryBreaker:   resilience.NewWithClock(settings, clock),
		secondaryBreaker: resilience.NewWithClock(settings, clock),
		logger:           logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.publishBreakerStates()
	return d
}

// Execute dispatches a request to the primary provider, failing over to
// the secondary when the primary is unavailable or fails retriably.
//
// A Fatal error from the primary (auth or malformed-request signals) is
// returned to the caller unchanged: it indicates a defect in the request
// rather than a provider-health problem, so it neither counts against
// the breaker nor triggers a secondary attempt. When every provider was
// unavailable or failed, Execute returns an AggregateError carrying the
// collected causes.
func (d *Dispatcher) Execute(ctx context.Context, req *providers.ExecutionRequest) (*ExecutionResult, error) {
	executionID := uuid.New()
	var causes []error

	if d.primaryBreaker.Allow() {
		inv, err := d.primary.Invoke(ctx, req)
		if err == nil {
			d.primaryBreaker.RecordSuccess()
			return d.complete(ctx, executionID, RolePrimary, d.primary.Name(), inv, false), nil
		}

		if resilience.Classify(err) == resilience.Fatal {
			d.logger.Warn("fatal request error from primary, not failing over",
				zap.String("execution_id", executionID.String()),
				zap.String("provider", d.primary.Name()),
				zap.Error(err))
			observability.ObserveDispatch(d.primary.Name(), observability.OutcomeError, 0)
			d.record(ctx, Record{
				ExecutionID: executionID,
				Provider:    d.primary.Name(),
				Role:        RolePrimary,
				ErrorCode:   errorCode(err),
			})
			return nil, err
		}

		d.primaryBreaker.RecordFailure()
		d.publishBreakerStates()
		causes = append(causes, err)
		observability.ObserveDispatch(d.primary.Name(), observability.OutcomeError, 0)
		d.logger.Warn("primary provider failed, attempting failover",
			zap.String("execution_id", executionID.String()),
			zap.String("provider", d.primary.Name()),
			zap.Error(err))
	} else {
		observability.ObserveDispatch(d.primary.Name(), observability.OutcomeSkipped, 0)
		d.logger.Debug("primary circuit open, skipping to secondary",
			zap.String("execution_id", executionID.String()),
			zap.String("provider", d.primary.Name()))
	}

	if d.secondaryBreaker.Allow() {
		inv, err := d.secondary.Invoke(ctx, req)
		if err == nil {
			d.secondaryBreaker.RecordSuccess()
			observability.ObserveFailover()
			return d.complete(ctx, executionID, RoleSecondary, d.secondary.Name(), inv, true), nil
		}

		d.secondaryBreaker.RecordFailure()
		d.publishBreakerStates()
		causes = append(causes, err)
		observability.ObserveDispatch(d.secondary.Name(), observability.OutcomeError, 0)
	} else {
		observability.ObserveDispatch(d.secondary.Name(), observability.OutcomeSkipped, 0)
	}

	aggErr := NewAggregateError(causes)
	d.logger.Error("all providers failed or unavailable",
		zap.String("execution_id", executionID.String()),
		zap.Int("causes", len(causes)))
	d.record(ctx, Record{
		ExecutionID: executionID,
		Provider:    "all",
		ErrorCode:   "aggregate",
	})
	return nil, aggErr
}

// HealthStatus returns the operator-facing snapshot for both providers.
// It never mutates breaker state: an open breaker whose reset timeout
// has elapsed still reports unavailable until the next dispatch probes it.
func (d *Dispatcher) HealthStatus() []ProviderHealth {
	return []ProviderHealth{
		healthFor(RolePrimary, d.primary.Name(), d.primaryBreaker.Snapshot()),
		healthFor(RoleSecondary, d.secondary.Name(), d.secondaryBreaker.Snapshot()),
	}
}

// IsAvailable reports whether a call to the given provider would be
// attempted right now. It applies the same predicate Execute uses, so a
// check against an open breaker whose timeout has elapsed moves it to
// half-open.
func (d *Dispatcher) IsAvailable(role ProviderRole) (bool, error) {
	switch role {
	case RolePrimary:
		return d.primaryBreaker.Allow(), nil
	case RoleSecondary:
		return d.secondaryBreaker.Allow(), nil
	default:
		return false, ErrUnknownProvider
	}
}

// ResetCircuits forces both breakers back to closed, bypassing timers.
// Administrative escape hatch, not part of normal request flow.
func (d *Dispatcher) ResetCircuits() {
	d.primaryBreaker.Reset()
	d.secondaryBreaker.Reset()
	d.publishBreakerStates()
	d.logger.Info("circuit breakers reset",
		zap.String("primary", d.primary.Name()),
		zap.String("secondary", d.secondary.Name()))
}

// complete builds the result for a winning invocation and records it
func (d *Dispatcher) complete(ctx context.Context, executionID uuid.UUID, role ProviderRole, name string, inv *providers.Invocation, failedOver bool) *ExecutionResult {
	observability.ObserveDispatch(name, observability.OutcomeSuccess, inv.Latency)
	d.publishBreakerStates()

	result := &ExecutionResult{
		ExecutionID:  executionID,
		Content:      inv.Content,
		Provider:     role,
		ProviderName: name,
		Model:        inv.Model,
		InputTokens:  inv.InputTokens,
		OutputTokens: inv.OutputTokens,
		Latency:      inv.Latency,
		FailedOver:   failedOver,
	}

	d.record(ctx, Record{
		ExecutionID:  executionID,
		Provider:     name,
		Role:         role,
		Success:      true,
		FailedOver:   failedOver,
		InputTokens:  inv.InputTokens,
		OutputTokens: inv.OutputTokens,
		Latency:      inv.Latency,
	})

	d.logger.Info("request dispatched",
		zap.String("execution_id", executionID.String()),
		zap.String("provider", name),
		zap.String("role", string(role)),
		zap.Bool("failed_over", failedOver),
		zap.Int("input_tokens", inv.InputTokens),
		zap.Int("output_tokens", inv.OutputTokens),
		zap.Duration("latency", inv.Latency))

	return result
}

// record hands a dispatch outcome to the audit recorder off the request
// path. The request context may already be done by the time the write
// happens, so recording uses its own deadline.
func (d *Dispatcher) record(ctx context.Context, rec Record) {
	if d.recorder == nil {
		return
	}
	rec.CreatedAt = time.Now()
	go func() {
		recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.recorder.RecordDispatch(recordCtx, rec); err != nil {
			d.logger.Error("failed to record dispatch audit entry",
				zap.String("execution_id", rec.ExecutionID.String()),
				zap.Error(err))
		}
	}()
}

func (d *Dispatcher) publishBreakerStates() {
	observability.SetBreakerState(d.primary.Name(), d.primaryBreaker.Snapshot().State.String())
	observability.SetBreakerState(d.secondary.Name(), d.secondaryBreaker.Snapshot().State.String())
}

func healthFor(role ProviderRole, name string, snap resilience.Snapshot) ProviderHealth {
	return ProviderHealth{
		Provider:            role,
		Name:                name,
		Status:              healthState(snap.State),
		ConsecutiveFailures: snap.ConsecutiveFailures,
	}
}

func healthState(state resilience.State) HealthState {
	switch state {
	case resilience.StateOpen:
		return HealthUnavailable
	case resilience.StateHalfOpen:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

func errorCode(err error) string {
	if provErr, ok := providers.AsProviderError(err); ok && provErr.Code != "" {
		return provErr.Code
	}
	return "error"
}
