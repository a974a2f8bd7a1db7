package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/core"
)

func testConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          50 * time.Millisecond,
		SuccessThreshold: 2,
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("ollama", testConfig(), nil)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		assert.True(t, cb.CanExecute(), "breaker must stay closed below threshold")
	}
	cb.RecordFailure()
	assert.False(t, cb.CanExecute())
	assert.Equal(t, "open", cb.GetStatus().State)
}

func TestSuccessClearsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker("rag", testConfig(), nil)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	// Streak reset: four more failures still do not open the breaker.
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.CanExecute())
}

func TestHalfOpenProbeAndClose(t *testing.T) {
	cb := NewCircuitBreaker("arch", testConfig(), nil)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.False(t, cb.CanExecute())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, "half_open", cb.GetStatus().State)

	cb.RecordSuccess()
	assert.Equal(t, "half_open", cb.GetStatus().State, "one success is not enough")
	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.GetStatus().State)
	assert.Zero(t, cb.GetStatus().FailureCount)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("arch", testConfig(), nil)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, "open", cb.GetStatus().State)
	assert.False(t, cb.CanExecute())
}

func TestManualReset(t *testing.T) {
	cb := NewCircuitBreaker("ollama", testConfig(), nil)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.False(t, cb.CanExecute())

	cb.Reset()
	st := cb.GetStatus()
	assert.Equal(t, "closed", st.State)
	assert.Zero(t, st.FailureCount)
	assert.True(t, cb.CanExecute())
}

func TestBreakerTableConfigure(t *testing.T) {
	table := NewBreakerTable(testConfig(), nil)

	boom := errors.New("boom")
	require.ErrorIs(t, table.Do("rag", func() error { return boom }), boom)

	// Tighten the threshold on the live breaker: the next failure
	// opens it.
	table.Configure(BreakerConfig{
		FailureThreshold: 2,
		Timeout:          50 * time.Millisecond,
		SuccessThreshold: 2,
	})
	require.ErrorIs(t, table.Do("rag", func() error { return boom }), boom)
	assert.ErrorIs(t, table.Do("rag", func() error { return nil }), core.ErrCircuitOpen)

	// Breakers created after the reconfigure get the new thresholds
	// too.
	require.ErrorIs(t, table.Do("arch", func() error { return boom }), boom)
	require.ErrorIs(t, table.Do("arch", func() error { return boom }), boom)
	assert.ErrorIs(t, table.Do("arch", func() error { return nil }), core.ErrCircuitOpen)
}

func TestBreakerTableDo(t *testing.T) {
	table := NewBreakerTable(testConfig(), &core.NoOpLogger{})

	boom := errors.New("boom")
	for i := 0; i < 5; i++ {
		err := table.Do("ollama", func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	// Breaker is now open: fn must not run.
	ran := false
	err := table.Do("ollama", func() error { ran = true; return nil })
	assert.ErrorIs(t, err, core.ErrCircuitOpen)
	assert.False(t, ran)

	// Other targets are independent.
	assert.NoError(t, table.Do("rag", func() error { return nil }))

	snap := table.Snapshot()
	assert.Equal(t, "open", snap["ollama"].State)
	assert.Equal(t, "closed", snap["rag"].State)

	assert.True(t, table.Reset("ollama"))
	assert.False(t, table.Reset("unknown"))
	assert.NoError(t, table.Do("ollama", func() error { return nil }))
}
