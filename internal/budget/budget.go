// Package budget caps how many requests a provider is sent per UTC day.
// A Tracker is one provider's counter, consulted (Allow) and advanced
// (Consume) by the HTTP middleware around every request; crossing the
// warn threshold surfaces a warning error the caller may log and ignore,
// crossing the hard limit blocks the request until the daily reset.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// BudgetExhaustedError means the provider's daily budget is spent; no
// further requests go out until the reset time.
type BudgetExhaustedError struct {
	Provider string
	Used     int64
	Limit    int64
	ETA      time.Time
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted for %s: %d/%d requests used, resets at %s",
		e.Provider, e.Used, e.Limit, e.ETA.Format("15:04 UTC"))
}

// BudgetWarningError means usage crossed the warn threshold. Requests
// still proceed; callers log it.
type BudgetWarningError struct {
	Provider  string
	Used      int64
	Limit     int64
	Threshold float64
}

func (e *BudgetWarningError) Error() string {
	utilization := float64(e.Used) / float64(e.Limit) * 100
	return fmt.Sprintf("budget warning for %s: %.1f%% used (%d/%d), threshold %.1f%%",
		e.Provider, utilization, e.Used, e.Limit, e.Threshold*100)
}

// Tracker counts one provider's requests against its daily limit,
// resetting at a fixed UTC hour.
type Tracker struct {
	mu            sync.Mutex
	provider      string
	limit         int64
	used          int64
	resetHour     int     // UTC hour the day rolls over (0-23)
	warnThreshold float64 // warn at this fraction of limit (0,1]
	lastReset     time.Time
}

// NewTracker returns a tracker for provider with the given daily limit.
// An out-of-range resetHour falls back to midnight, an out-of-range
// warnThreshold to 0.8.
func NewTracker(provider string, limit int64, resetHour int, warnThreshold float64) *Tracker {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	if warnThreshold <= 0 || warnThreshold > 1 {
		warnThreshold = 0.8
	}
	return &Tracker{
		provider:      provider,
		limit:         limit,
		resetHour:     resetHour,
		warnThreshold: warnThreshold,
		lastReset:     lastResetTime(time.Now().UTC(), resetHour),
	}
}

// lastResetTime is the most recent reset boundary at or before now.
func lastResetTime(now time.Time, resetHour int) time.Time {
	boundary := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Hour() >= resetHour {
		return boundary
	}
	return boundary.AddDate(0, 0, -1)
}

// maybeReset zeroes the counter if a reset boundary has passed. Caller
// holds t.mu.
func (t *Tracker) maybeReset() {
	now := time.Now().UTC()
	if now.After(t.lastReset.Add(24 * time.Hour)) {
		t.used = 0
		t.lastReset = lastResetTime(now, t.resetHour)
	}
}

// Allow reports whether a request fits the budget without consuming it:
// nil when fine, *BudgetWarningError past the warn threshold,
// *BudgetExhaustedError at the limit.
func (t *Tracker) Allow() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset()

	if t.used >= t.limit {
		return &BudgetExhaustedError{
			Provider: t.provider,
			Used:     t.used,
			Limit:    t.limit,
			ETA:      t.lastReset.Add(24 * time.Hour),
		}
	}
	if float64(t.used)/float64(t.limit) >= t.warnThreshold {
		return &BudgetWarningError{
			Provider:  t.provider,
			Used:      t.used,
			Limit:     t.limit,
			Threshold: t.warnThreshold,
		}
	}
	return nil
}

// Consume records one request, with the same error contract as Allow. A
// request that would exceed the limit is not recorded.
func (t *Tracker) Consume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset()

	if t.used+1 > t.limit {
		return &BudgetExhaustedError{
			Provider: t.provider,
			Used:     t.used,
			Limit:    t.limit,
			ETA:      t.lastReset.Add(24 * time.Hour),
		}
	}
	t.used++
	if float64(t.used)/float64(t.limit) >= t.warnThreshold {
		return &BudgetWarningError{
			Provider:  t.provider,
			Used:      t.used,
			Limit:     t.limit,
			Threshold: t.warnThreshold,
		}
	}
	return nil
}

// Manager holds one Tracker per provider.
type Manager struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

func NewManager() *Manager {
	return &Manager{trackers: make(map[string]*Tracker)}
}

// AddProvider registers (or replaces) the tracker for a provider.
func (m *Manager) AddProvider(name string, limit int64, resetHour int, warnThreshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackers[name] = NewTracker(name, limit, resetHour, warnThreshold)
}

// GetTracker returns the tracker for a provider, if one is registered.
func (m *Manager) GetTracker(provider string) (*Tracker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tracker, exists := m.trackers[provider]
	return tracker, exists
}
