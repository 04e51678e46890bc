package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_ConsumeUpToLimitThenExhausted(t *testing.T) {
	tracker := NewTracker("futures", 3, 0, 1.0)

	for i := 0; i < 3; i++ {
		err := tracker.Consume()
		if err != nil {
			// The final consume lands on the 100% warn threshold.
			var warn *BudgetWarningError
			require.ErrorAs(t, err, &warn)
		}
	}

	err := tracker.Consume()
	var exhausted *BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "futures", exhausted.Provider)
	assert.Equal(t, int64(3), exhausted.Used)

	// The blocked request was not recorded.
	err = tracker.Consume()
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, int64(3), exhausted.Used)
}

func TestTracker_AllowDoesNotConsume(t *testing.T) {
	tracker := NewTracker("futures", 2, 0, 1.0)

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Allow())
	}
	require.NoError(t, tracker.Consume())
	require.NoError(t, tracker.Allow())
}

func TestTracker_WarnThresholdSurfacesWarning(t *testing.T) {
	tracker := NewTracker("futures", 10, 0, 0.8)

	for i := 0; i < 7; i++ {
		require.NoError(t, tracker.Consume())
	}

	err := tracker.Consume() // 8/10 = 80%
	var warn *BudgetWarningError
	require.ErrorAs(t, err, &warn)
	assert.Equal(t, int64(8), warn.Used)
	assert.Equal(t, 0.8, warn.Threshold)

	// Allow reports the warning too, without advancing the counter.
	err = tracker.Allow()
	require.ErrorAs(t, err, &warn)
	assert.Equal(t, int64(8), warn.Used)
}

func TestTracker_ResetsAfterDailyBoundary(t *testing.T) {
	tracker := NewTracker("futures", 1, 0, 1.0)
	_ = tracker.Consume()

	var exhausted *BudgetExhaustedError
	require.ErrorAs(t, tracker.Allow(), &exhausted)

	// Backdate the last reset so the next call crosses the boundary.
	tracker.mu.Lock()
	tracker.lastReset = tracker.lastReset.Add(-25 * time.Hour)
	tracker.mu.Unlock()

	assert.NoError(t, tracker.Allow())
}

func TestTracker_OutOfRangeSettingsFallBackToDefaults(t *testing.T) {
	tracker := NewTracker("futures", 10, 99, 7.5)
	assert.Equal(t, 0, tracker.resetHour)
	assert.Equal(t, 0.8, tracker.warnThreshold)
}

func TestManager_AddProviderAndGetTracker(t *testing.T) {
	m := NewManager()
	m.AddProvider("futures", 100, 0, 0.8)

	tracker, exists := m.GetTracker("futures")
	require.True(t, exists)
	require.NoError(t, tracker.Consume())

	_, exists = m.GetTracker("spot")
	assert.False(t, exists)
}

func TestNewDefaultManager_TracksEveryEndpointClass(t *testing.T) {
	m := NewDefaultManager()
	for _, class := range []string{"spot", "futures", "heavy", "batch"} {
		tracker, exists := m.GetTracker(class)
		require.True(t, exists, class)
		require.NoError(t, tracker.Allow(), class)
	}
}

func TestBudgetErrors_NameTheProvider(t *testing.T) {
	exhausted := &BudgetExhaustedError{Provider: "futures", Used: 10, Limit: 10, ETA: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.Contains(t, exhausted.Error(), "futures")
	assert.Contains(t, exhausted.Error(), "10/10")

	warn := &BudgetWarningError{Provider: "futures", Used: 8, Limit: 10, Threshold: 0.8}
	assert.Contains(t, warn.Error(), "80.0%")
}
