package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, CooldownPeriod: time.Minute})

	require.True(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())
	require.False(t, cb.Allow())
}

func TestCircuitBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, CooldownPeriod: time.Millisecond})
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	require.True(t, cb.Allow()) // claims the probe slot
	require.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, CooldownPeriod: time.Millisecond})
	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())
}

func TestConfidenceDecay(t *testing.T) {
	fresh := confidenceForAge(0, time.Minute)
	require.InDelta(t, 1.0, fresh, 0.001)

	half := confidenceForAge(30*time.Second, time.Minute)
	require.InDelta(t, 0.75, half, 0.001)

	old := confidenceForAge(15*time.Minute, time.Minute)
	require.LessOrEqual(t, old, 0.4)
}
