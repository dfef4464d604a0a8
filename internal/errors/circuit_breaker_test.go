package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("backend_agent", testBreakerConfig())

	failure := errors.New("handler failed")
	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.Mark(failure)
		assert.Equal(t, StateClosed, cb.State())
	}

	require.NoError(t, cb.Allow())
	cb.Mark(failure)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)

	var open *CircuitOpenError
	require.True(t, errors.As(err, &open))
	assert.Equal(t, "backend_agent", open.Agent)
	assert.Greater(t, open.RetryAfter, time.Duration(0))
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("backend_agent", testBreakerConfig())

	failure := errors.New("handler failed")
	cb.Mark(failure)
	cb.Mark(failure)
	cb.Mark(nil) // resets the consecutive failure count
	cb.Mark(failure)
	cb.Mark(failure)

	assert.Equal(t, StateClosed, cb.State())

	cb.Mark(failure)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	config := testBreakerConfig()
	config.FailureThreshold = 1
	cb := NewCircuitBreaker("deploy_agent", config)

	cb.Mark(errors.New("deploy failed"))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	// First request after the recovery window probes the target.
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.Mark(nil)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ReopensOnProbeFailure(t *testing.T) {
	config := testBreakerConfig()
	config.FailureThreshold = 1
	cb := NewCircuitBreaker("deploy_agent", config)

	cb.Mark(errors.New("deploy failed"))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.Mark(errors.New("still failing"))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	config := testBreakerConfig()
	config.FailureThreshold = 1
	cb := NewCircuitBreaker("backend_agent", config)

	cb.Mark(errors.New("failed"))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	cb := NewCircuitBreaker("backend_agent", testBreakerConfig())

	cb.Mark(errors.New("failed"))
	metrics := cb.Metrics()

	assert.Equal(t, "backend_agent", metrics.Name)
	assert.Equal(t, StateClosed, metrics.State)
	assert.Equal(t, 1, metrics.FailureCount)
	assert.False(t, metrics.LastFailureTime.IsZero())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	transitions := make(chan string, 4)

	config := testBreakerConfig()
	config.FailureThreshold = 1
	config.OnStateChange = func(from, to CircuitState, name string) {
		transitions <- from.String() + "->" + to.String()
	}

	cb := NewCircuitBreaker("backend_agent", config)
	cb.Mark(errors.New("failed"))

	select {
	case transition := <-transitions:
		assert.Equal(t, "closed->open", transition)
	case <-time.After(time.Second):
		t.Fatal("expected state change callback")
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
	}
}

func TestCircuitBreakerManager(t *testing.T) {
	manager := NewCircuitBreakerManager(testBreakerConfig())

	first := manager.Get("backend_agent")
	second := manager.Get("backend_agent")
	other := manager.Get("frontend_agent")

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)

	metrics := manager.GetMetrics()
	assert.Len(t, metrics, 2)
}

func TestCircuitBreakerManager_ResetAll(t *testing.T) {
	config := testBreakerConfig()
	config.FailureThreshold = 1
	manager := NewCircuitBreakerManager(config)

	manager.Get("a").Mark(errors.New("failed"))
	manager.Get("b").Mark(errors.New("failed"))
	require.Equal(t, StateOpen, manager.Get("a").State())
	require.Equal(t, StateOpen, manager.Get("b").State())

	manager.ResetAll()
	assert.Equal(t, StateClosed, manager.Get("a").State())
	assert.Equal(t, StateClosed, manager.Get("b").State())
}

func TestCircuitBreakerManager_Remove(t *testing.T) {
	config := testBreakerConfig()
	config.FailureThreshold = 1
	manager := NewCircuitBreakerManager(config)

	manager.Get("backend_agent").Mark(errors.New("failed"))
	require.Equal(t, StateOpen, manager.Get("backend_agent").State())

	manager.Remove("backend_agent")

	// A fresh breaker starts closed.
	assert.Equal(t, StateClosed, manager.Get("backend_agent").State())
}
