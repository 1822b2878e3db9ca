package hooks

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/respool/pkg/errors"
)

func TestDispatchNoHooksConfigured(t *testing.T) {
	d := NewDispatcher(Hooks[string]{}, false)

	require.NoError(t, d.Create(context.Background(), "x"))
	require.NoError(t, d.Acquire(context.Background(), "x"))

	for _, s := range d.Stats() {
		assert.Zero(t, s.Calls)
	}
}

func TestDispatchPlainForm(t *testing.T) {
	var got []string
	d := NewDispatcher(Hooks[string]{
		OnAcquire: func(v string) error {
			got = append(got, v)
			return nil
		},
	}, false)

	require.NoError(t, d.Acquire(context.Background(), "a"))
	require.NoError(t, d.Acquire(context.Background(), "b"))

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, int64(2), d.Stats()[EventAcquire].Calls)
}

func TestContextFormTakesPrecedence(t *testing.T) {
	var plainCalled, ctxCalled bool
	d := NewDispatcher(Hooks[string]{
		OnReturn:    func(string) error { plainCalled = true; return nil },
		OnReturnCtx: func(context.Context, string) error { ctxCalled = true; return nil },
	}, false)

	require.NoError(t, d.Return(context.Background(), "x"))
	assert.True(t, ctxCalled)
	assert.False(t, plainCalled)
}

func TestHookErrorPropagates(t *testing.T) {
	d := NewDispatcher(Hooks[string]{
		OnCreate: func(string) error { return fmt.Errorf("hook blew up") },
	}, false)

	err := d.Create(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeHook))

	s := d.Stats()[EventCreate]
	assert.Equal(t, int64(1), s.Calls)
	assert.Equal(t, int64(1), s.Errors)
}

func TestContinueOnErrorSwallows(t *testing.T) {
	d := NewDispatcher(Hooks[string]{
		OnDispose: func(string) error { return fmt.Errorf("hook blew up") },
	}, true)

	require.NoError(t, d.Dispose(context.Background(), "x"))

	s := d.Stats()[EventDispose]
	assert.Equal(t, int64(1), s.Calls)
	assert.Equal(t, int64(1), s.Errors)
}

func TestEvictHookReceivesReason(t *testing.T) {
	var gotReason string
	d := NewDispatcher(Hooks[string]{
		OnEvict: func(v string, reason string) error {
			gotReason = reason
			return nil
		},
	}, false)

	require.NoError(t, d.Evict(context.Background(), "x", "idle"))
	assert.Equal(t, "idle", gotReason)
}

func TestEvictContextFormPrecedence(t *testing.T) {
	var gotReason string
	d := NewDispatcher(Hooks[string]{
		OnEvict:    func(string, string) error { return fmt.Errorf("should not run") },
		OnEvictCtx: func(_ context.Context, _ string, reason string) error { gotReason = reason; return nil },
	}, false)

	require.NoError(t, d.Evict(context.Background(), "x", "ttl"))
	assert.Equal(t, "ttl", gotReason)
}

func TestValidationFailedHook(t *testing.T) {
	var calls int
	d := NewDispatcher(Hooks[string]{
		OnValidationFailed: func(string) error { calls++; return nil },
	}, false)

	require.NoError(t, d.ValidationFailed(context.Background(), "x"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), d.Stats()[EventValidationFailed].Calls)
}

func TestStatsTracksDuration(t *testing.T) {
	d := NewDispatcher(Hooks[string]{
		OnAcquire: func(string) error { return nil },
	}, false)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Acquire(context.Background(), "x"))
	}

	s := d.Stats()[EventAcquire]
	assert.Equal(t, int64(3), s.Calls)
	assert.GreaterOrEqual(t, s.TotalTime, s.AverageTime)
}
