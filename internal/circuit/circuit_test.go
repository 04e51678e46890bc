package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_TripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager()
	m.AddClass("futures", Config{FailureThreshold: 2, Timeout: 50 * time.Millisecond, RequestTimeout: time.Second})

	boom := errors.New("boom")
	fail := func(ctx context.Context) error { return boom }

	require.ErrorIs(t, m.Call(context.Background(), "futures", fail), boom)
	require.ErrorIs(t, m.Call(context.Background(), "futures", fail), boom)

	err := m.Call(context.Background(), "futures", fail)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "open", m.State("futures"))
}

func TestManager_UnregisteredClassRunsUnguarded(t *testing.T) {
	m := NewManager()
	called := false
	err := m.Call(context.Background(), "unknown", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "absent", m.State("unknown"))
}

func TestNewDefaultManager_HasAllClasses(t *testing.T) {
	m := NewDefaultManager()
	for _, class := range []string{"spot", "futures", "heavy", "batch"} {
		assert.Equal(t, "closed", m.State(class))
	}
}
