package breaker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/respool/pkg/errors"
)

var errBoom = fmt.Errorf("boom")

func failingOp() error { return errBoom }
func okOp() error      { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 3, OpenDuration: time.Minute})

	for i := 0; i < 3; i++ {
		err := b.Execute(failingOp)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// The next attempt is rejected without invoking the operation.
	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCircuitOpen))
	assert.False(t, invoked)

	snap := b.Snapshot()
	assert.Equal(t, int64(1), snap.Rejected)
	assert.Equal(t, int64(1), snap.OpenCount)
	assert.Equal(t, "boom", snap.LastError)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenDuration: 30 * time.Millisecond})

	require.Error(t, b.Execute(failingOp))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(50 * time.Millisecond)

	// First trial is admitted and succeeds; still half-open.
	require.NoError(t, b.Execute(okOp))
	assert.Equal(t, StateHalfOpen, b.State())

	// Second consecutive success closes the circuit.
	require.NoError(t, b.Execute(okOp))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenDuration: 20 * time.Millisecond})

	require.Error(t, b.Execute(failingOp))
	time.Sleep(40 * time.Millisecond)

	require.Error(t, b.Execute(failingOp))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerProactiveHalfOpenTimer(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenDuration: 20 * time.Millisecond})

	require.Error(t, b.Execute(failingOp))
	require.Equal(t, StateOpen, b.State())

	// No permission request is made; the background timer must move the
	// breaker to half-open on its own.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerFailureRateRule(t *testing.T) {
	b := New(Config{
		FailureThreshold:     100, // keep the consecutive rule out of the way
		MinimumThroughput:    4,
		FailureRateThreshold: 0.5,
		FailureWindow:        time.Minute,
		OpenDuration:         time.Minute,
	})

	require.NoError(t, b.Execute(okOp))
	require.Error(t, b.Execute(failingOp))
	require.NoError(t, b.Execute(okOp))
	assert.Equal(t, StateClosed, b.State())

	// Fourth operation reaches the minimum throughput with a 50% rate.
	require.Error(t, b.Execute(failingOp))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerBelowMinimumThroughputStaysClosed(t *testing.T) {
	b := New(Config{
		FailureThreshold:     100,
		MinimumThroughput:    10,
		FailureRateThreshold: 0.5,
		OpenDuration:         time.Minute,
	})

	for i := 0; i < 5; i++ {
		require.Error(t, b.Execute(failingOp))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailurePredicatePassthrough(t *testing.T) {
	benign := fmt.Errorf("not found")
	b := New(Config{
		FailureThreshold: 1,
		OpenDuration:     time.Minute,
		IsFailure:        func(err error) bool { return err != benign },
	})

	err := b.Execute(func() error { return benign })
	require.ErrorIs(t, err, benign)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)

	require.Error(t, b.Execute(failingOp))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerTripAndReset(t *testing.T) {
	b := New(Config{FailureThreshold: 5, OpenDuration: time.Minute})

	b.Trip()
	assert.Equal(t, StateOpen, b.State())
	require.Error(t, b.Allow())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())

	snap := b.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Empty(t, snap.LastError)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	transitions := make(chan [2]State, 8)
	b := New(Config{
		FailureThreshold: 1,
		OpenDuration:     time.Minute,
		OnStateChange:    func(from, to State) { transitions <- [2]State{from, to} },
	})

	require.Error(t, b.Execute(failingOp))

	select {
	case tr := <-transitions:
		assert.Equal(t, StateClosed, tr[0])
		assert.Equal(t, StateOpen, tr[1])
	case <-time.After(time.Second):
		t.Fatal("no state change notification")
	}
}

func TestBreakerHalfOpenAdmissionLimit(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 10, OpenDuration: 10 * time.Millisecond, HalfOpenLimit: 2})

	require.Error(t, b.Execute(failingOp))
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, b.Allow())
	require.NoError(t, b.Allow())
	err := b.Allow()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCircuitOpen))
}
