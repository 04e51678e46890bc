package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AllowConsumesBurst(t *testing.T) {
	limiter := NewLimiter(1.0, 2)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow(), "burst of 2 exhausted, refill is 1 RPS")
}

func TestLimiter_WaitPacesSuccessiveRequests(t *testing.T) {
	limiter := NewLimiter(50.0, 1) // 20ms spacing

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	// First token is free (burst), the next two wait ~20ms each.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestLimiter_WaitHonorsContextCancellation(t *testing.T) {
	limiter := NewLimiter(0.1, 1) // 10s spacing once the burst is gone
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(ctx))
}

func TestLimiter_WidenHalvesRateThenRestores(t *testing.T) {
	limiter := NewLimiter(10.0, 1)

	limiter.Widen(2, 30*time.Millisecond)
	assert.InDelta(t, 5.0, limiter.RPS(), 0.001)

	// Overlapping widens stack on the already widened rate.
	limiter.Widen(2, 30*time.Millisecond)
	assert.InDelta(t, 2.5, limiter.RPS(), 0.001)

	assert.Eventually(t, func() bool { return limiter.RPS() == 10.0 },
		time.Second, 5*time.Millisecond, "cool-down must restore the steady-state rate")
}

func TestLimiter_SetRPSBecomesTheRestorePoint(t *testing.T) {
	limiter := NewLimiter(10.0, 1)
	limiter.SetRPS(20.0)
	limiter.Widen(4, 10*time.Millisecond)
	assert.InDelta(t, 5.0, limiter.RPS(), 0.001)

	assert.Eventually(t, func() bool { return limiter.RPS() == 20.0 },
		time.Second, 5*time.Millisecond)
}

func TestLimiter_SharedAcrossWorkers(t *testing.T) {
	// Many goroutines drawing from one limiter must collectively respect
	// the single bucket: with burst 5 and a slow refill, only ~5 of the
	// immediate Allow calls can succeed no matter how many workers race.
	limiter := NewLimiter(1.0, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, allowed, 6, "workers must share one bucket, not get one each")
	assert.GreaterOrEqual(t, allowed, 5)
}

func TestManager_ClassesAreIndependent(t *testing.T) {
	m := NewManager()
	m.AddClass(ClassFutures, 1.0, 1)
	m.AddClass(ClassHeavy, 1.0, 1)

	assert.True(t, m.Allow(ClassFutures))
	assert.False(t, m.Allow(ClassFutures), "futures bucket exhausted")
	assert.True(t, m.Allow(ClassHeavy), "heavy bucket is untouched")
}

func TestManager_UnregisteredClassProceedsImmediately(t *testing.T) {
	m := NewManager()
	assert.True(t, m.Allow(ClassSpot))
	require.NoError(t, m.Wait(context.Background(), ClassSpot))

	_, exists := m.GetLimiter(ClassSpot)
	assert.False(t, exists)
}

func TestNewDefaultManager_RegistersEveryClassAtItsBudget(t *testing.T) {
	m := NewDefaultManager()
	for class, cfg := range DefaultClassSettings {
		limiter, exists := m.GetLimiter(class)
		require.True(t, exists, class)
		assert.InDelta(t, cfg.RequestsPerMinute/60.0, limiter.RPS(), 0.001, class)
	}
}
