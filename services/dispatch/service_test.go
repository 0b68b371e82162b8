package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexdraft/llm-router/services/providers"
)

// fakeClock drives breaker timeouts without sleeping
type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// stubProvider is a scriptable provider adapter that counts invocations
type stubProvider struct {
	name    string
	mu      sync.Mutex
	calls   int
	respond func(call int) (*providers.Invocation, error)
}

func (p *stubProvider) Name() string {
	return p.name
}

func (p *stubProvider) Invoke(ctx context.Context, req *providers.ExecutionRequest) (*providers.Invocation, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	return p.respond(call)
}

func (p *stubProvider) HealthCheck(ctx context.Context) (*providers.HealthCheckResult, error) {
	return &providers.HealthCheckResult{Healthy: true}, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func alwaysSucceed(name string) *stubProvider {
	return &stubProvider{
		name: name,
		respond: func(int) (*providers.Invocation, error) {
			return &providers.Invocation{
				Content:      "generated text",
				Model:        name + "-model",
				InputTokens:  100,
				OutputTokens: 50,
				Latency:      120 * time.Millisecond,
			}, nil
		},
	}
}

func alwaysFail(name string, err error) *stubProvider {
	return &stubProvider{
		name: name,
		respond: func(int) (*providers.Invocation, error) {
			return nil, err
		},
	}
}

func unavailableErr(name string) error {
	return providers.NewProviderError(name, providers.CodeUnavailable, "service unavailable", http.StatusServiceUnavailable, nil)
}

func newTestDispatcher(primary, secondary providers.Provider, clock *fakeClock, opts ...Option) *Dispatcher {
	logger, _ := zap.NewDevelopment()
	return New(primary, secondary, Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		Clock:            clock.Now,
	}, logger, opts...)
}

func testRequest() *providers.ExecutionRequest {
	return &providers.ExecutionRequest{
		Prompt:      "draft an indemnification clause",
		MaxTokens:   1024,
		Temperature: 0.2,
	}
}

func TestDispatcher_PrimarySuccess(t *testing.T) {
	primary := alwaysSucceed("anthropic")
	secondary := alwaysSucceed("grok")
	d := newTestDispatcher(primary, secondary, newFakeClock())

	result, err := d.Execute(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, RolePrimary, result.Provider)
	assert.Equal(t, "anthropic", result.ProviderName)
	assert.Equal(t, "generated text", result.Content)
	assert.Equal(t, 100, result.InputTokens)
	assert.Equal(t, 50, result.OutputTokens)
	assert.False(t, result.FailedOver)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 0, secondary.callCount())
}

func TestDispatcher_RetriableFailureFailsOver(t *testing.T) {
	primary := alwaysFail("anthropic", unavailableErr("anthropic"))
	secondary := alwaysSucceed("grok")
	d := newTestDispatcher(primary, secondary, newFakeClock())

	result, err := d.Execute(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, RoleSecondary, result.Provider)
	assert.True(t, result.FailedOver)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, secondary.callCount())
}

func TestDispatcher_FatalErrorPassesThroughUnchanged(t *testing.T) {
	authErr := providers.NewProviderError("anthropic", providers.CodeUnauthorized, "401 Unauthorized", http.StatusUnauthorized, nil)
	primary := alwaysFail("anthropic", authErr)
	secondary := alwaysSucceed("grok")
	d := newTestDispatcher(primary, secondary, newFakeClock())

	result, err := d.Execute(context.Background(), testRequest())

	require.Error(t, err)
	assert.Nil(t, result)
	// The original error, unchanged.
	assert.Same(t, authErr, err)
	// No secondary attempt, no breaker mutation.
	assert.Equal(t, 0, secondary.callCount())
	available, availErr := d.IsAvailable(RolePrimary)
	require.NoError(t, availErr)
	assert.True(t, available)
	assert.Equal(t, 0, d.HealthStatus()[0].ConsecutiveFailures)
}

func TestDispatcher_BothFailReturnsAggregate(t *testing.T) {
	primaryErr := unavailableErr("anthropic")
	secondaryErr := providers.NewProviderError("grok", providers.CodeRateLimited, "rate limited", http.StatusTooManyRequests, nil)
	d := newTestDispatcher(alwaysFail("anthropic", primaryErr), alwaysFail("grok", secondaryErr), newFakeClock())

	result, err := d.Execute(context.Background(), testRequest())

	require.Error(t, err)
	assert.Nil(t, result)

	var aggErr *AggregateError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, "all", aggErr.ProviderTag)
	require.Len(t, aggErr.Causes, 2)
	assert.ErrorIs(t, err, primaryErr)
	assert.ErrorIs(t, err, secondaryErr)
}

func TestDispatcher_PrimaryCircuitOpensAfterThreshold(t *testing.T) {
	primary := alwaysFail("anthropic", unavailableErr("anthropic"))
	secondary := alwaysSucceed("grok")
	clock := newFakeClock()
	d := newTestDispatcher(primary, secondary, clock)

	// Scenario: 5 consecutive primary 503s while the secondary serves
	// every request.
	for i := 0; i < 5; i++ {
		result, err := d.Execute(context.Background(), testRequest())
		require.NoError(t, err, "call %d", i+1)
		assert.Equal(t, RoleSecondary, result.Provider, "call %d", i+1)
	}
	assert.Equal(t, 5, primary.callCount())

	available, err := d.IsAvailable(RolePrimary)
	require.NoError(t, err)
	assert.False(t, available)

	// With the primary circuit open, the primary adapter is not called
	// at all for subsequent requests.
	result, err := d.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, RoleSecondary, result.Provider)
	assert.Equal(t, 5, primary.callCount())
}

func TestDispatcher_PrimaryRecoversAfterResetTimeout(t *testing.T) {
	failures := 0
	primary := &stubProvider{
		name: "anthropic",
		respond: func(call int) (*providers.Invocation, error) {
			if call <= 5 {
				failures++
				return nil, unavailableErr("anthropic")
			}
			return &providers.Invocation{Content: "recovered", Model: "anthropic-model", Latency: 80 * time.Millisecond}, nil
		},
	}
	secondary := alwaysSucceed("grok")
	clock := newFakeClock()
	d := newTestDispatcher(primary, secondary, clock)

	for i := 0; i < 5; i++ {
		_, err := d.Execute(context.Background(), testRequest())
		require.NoError(t, err)
	}

	// Open: the probe window has not elapsed yet.
	clock.Advance(29 * time.Second)
	result, err := d.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, RoleSecondary, result.Provider)
	assert.Equal(t, 5, primary.callCount())

	// Past the reset timeout the next execute probes the primary, the
	// probe succeeds, and the circuit closes.
	clock.Advance(2 * time.Second)
	result, err = d.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, RolePrimary, result.Provider)
	assert.Equal(t, "recovered", result.Content)

	// Closed again: no further waiting needed.
	result, err = d.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, RolePrimary, result.Provider)
}

func TestDispatcher_FailedProbeReopensImmediately(t *testing.T) {
	primary := alwaysFail("anthropic", unavailableErr("anthropic"))
	secondary := alwaysSucceed("grok")
	clock := newFakeClock()
	d := newTestDispatcher(primary, secondary, clock)

	for i := 0; i < 5; i++ {
		_, err := d.Execute(context.Background(), testRequest())
		require.NoError(t, err)
	}

	clock.Advance(31 * time.Second)

	// The probe fails, so the circuit reopens without threshold counting.
	result, err := d.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, RoleSecondary, result.Provider)
	assert.Equal(t, 6, primary.callCount())

	available, availErr := d.IsAvailable(RolePrimary)
	require.NoError(t, availErr)
	assert.False(t, available)
}

func TestDispatcher_BothCircuitsOpenNoNetworkCalls(t *testing.T) {
	primary := alwaysFail("anthropic", unavailableErr("anthropic"))
	secondary := alwaysFail("grok", unavailableErr("grok"))
	d := newTestDispatcher(primary, secondary, newFakeClock())

	for i := 0; i < 5; i++ {
		_, err := d.Execute(context.Background(), testRequest())
		require.Error(t, err)
	}
	primaryCalls := primary.callCount()
	secondaryCalls := secondary.callCount()

	// Both circuits are open now: executing again makes no upstream call.
	_, err := d.Execute(context.Background(), testRequest())
	require.Error(t, err)

	var aggErr *AggregateError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, "all", aggErr.ProviderTag)
	assert.Empty(t, aggErr.Causes)
	assert.Equal(t, primaryCalls, primary.callCount())
	assert.Equal(t, secondaryCalls, secondary.callCount())
}

func TestDispatcher_HealthStatus(t *testing.T) {
	primary := alwaysFail("anthropic", unavailableErr("anthropic"))
	secondary := alwaysSucceed("grok")
	clock := newFakeClock()
	d := newTestDispatcher(primary, secondary, clock)

	t.Run("initially healthy", func(t *testing.T) {
		status := d.HealthStatus()
		require.Len(t, status, 2)
		assert.Equal(t, RolePrimary, status[0].Provider)
		assert.Equal(t, "anthropic", status[0].Name)
		assert.Equal(t, HealthHealthy, status[0].Status)
		assert.Equal(t, RoleSecondary, status[1].Provider)
		assert.Equal(t, HealthHealthy, status[1].Status)
	})

	t.Run("unavailable while open", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := d.Execute(context.Background(), testRequest())
			require.NoError(t, err)
		}
		status := d.HealthStatus()
		assert.Equal(t, HealthUnavailable, status[0].Status)
		assert.Equal(t, 5, status[0].ConsecutiveFailures)
		assert.Equal(t, HealthHealthy, status[1].Status)
	})

	t.Run("degraded while half-open", func(t *testing.T) {
		clock.Advance(31 * time.Second)
		available, err := d.IsAvailable(RolePrimary)
		require.NoError(t, err)
		assert.True(t, available)

		status := d.HealthStatus()
		assert.Equal(t, HealthDegraded, status[0].Status)
	})
}

func TestDispatcher_IsAvailableUnknownProvider(t *testing.T) {
	d := newTestDispatcher(alwaysSucceed("anthropic"), alwaysSucceed("grok"), newFakeClock())

	_, err := d.IsAvailable(ProviderRole("tertiary"))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestDispatcher_ResetCircuits(t *testing.T) {
	primary := alwaysFail("anthropic", unavailableErr("anthropic"))
	secondary := alwaysFail("grok", unavailableErr("grok"))
	d := newTestDispatcher(primary, secondary, newFakeClock())

	for i := 0; i < 5; i++ {
		_, err := d.Execute(context.Background(), testRequest())
		require.Error(t, err)
	}
	for _, health := range d.HealthStatus() {
		assert.Equal(t, HealthUnavailable, health.Status)
	}

	d.ResetCircuits()

	for _, health := range d.HealthStatus() {
		assert.Equal(t, HealthHealthy, health.Status)
		assert.Equal(t, 0, health.ConsecutiveFailures)
	}
	for _, role := range []ProviderRole{RolePrimary, RoleSecondary} {
		available, err := d.IsAvailable(role)
		require.NoError(t, err)
		assert.True(t, available)
	}
}

// recordingStub collects audit records and signals each write
type recordingStub struct {
	mu      sync.Mutex
	records []Record
	done    chan struct{}
}

func newRecordingStub() *recordingStub {
	return &recordingStub{done: make(chan struct{}, 16)}
}

func (r *recordingStub) RecordDispatch(ctx context.Context, rec Record) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func (r *recordingStub) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit record")
	}
}

func TestDispatcher_RecordsDispatchOutcomes(t *testing.T) {
	recorder := newRecordingStub()
	primary := alwaysSucceed("anthropic")
	d := newTestDispatcher(primary, alwaysSucceed("grok"), newFakeClock(), WithRecorder(recorder))

	result, err := d.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	recorder.wait(t)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.records, 1)
	rec := recorder.records[0]
	assert.Equal(t, result.ExecutionID, rec.ExecutionID)
	assert.Equal(t, "anthropic", rec.Provider)
	assert.Equal(t, RolePrimary, rec.Role)
	assert.True(t, rec.Success)
	assert.False(t, rec.FailedOver)
	assert.Equal(t, 100, rec.InputTokens)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestDispatcher_ConcurrentExecutes(t *testing.T) {
	primary := alwaysSucceed("anthropic")
	d := newTestDispatcher(primary, alwaysSucceed("grok"), newFakeClock())

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Execute(context.Background(), testRequest())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "goroutine %d", i)
	}
	assert.Equal(t, 20, primary.callCount())
}

func TestAggregateError_Messages(t *testing.T) {
	t.Run("with causes", func(t *testing.T) {
		err := NewAggregateError([]error{errors.New("primary down"), errors.New("secondary down")})
		assert.Contains(t, err.Error(), "all providers failed")
		assert.Contains(t, err.Error(), "primary down")
		assert.Contains(t, err.Error(), "secondary down")
	})

	t.Run("without causes", func(t *testing.T) {
		err := NewAggregateError(nil)
		assert.Equal(t, "all providers unavailable", err.Error())
	})

	t.Run("detection", func(t *testing.T) {
		assert.True(t, IsAggregateError(NewAggregateError(nil)))
		assert.False(t, IsAggregateError(errors.New("other")))
	})
}
