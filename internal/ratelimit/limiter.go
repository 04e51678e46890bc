// Package ratelimit paces provider requests per endpoint class. One
// Limiter is one endpoint class's token bucket, shared by every worker
// that hits that class: the bucket's refill rate enforces the minimum
// spacing between requests and its burst bounds how far ahead of the
// steady rate an idle class may run. A Manager holds the per-class
// limiters the downloaders, the universe planner and the HTTP middleware
// all draw tokens from.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is one endpoint class's shared token bucket.
type Limiter struct {
	mu      sync.Mutex
	rl      *rate.Limiter
	baseRPS float64     // steady-state rate a cool-down restores
	restore *time.Timer // pending un-widen, nil when not widened
}

// NewLimiter returns a bucket refilling at rps with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		rl:      rate.NewLimiter(rate.Limit(rps), burst),
		baseRPS: rps,
	}
}

// Allow reports whether a request may proceed right now, consuming a
// token if so.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// RPS returns the bucket's current refill rate.
func (l *Limiter) RPS() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.rl.Limit())
}

// SetRPS repoints the steady-state rate; a later cool-down restores to
// this value.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.baseRPS = rps
	l.rl.SetLimit(rate.Limit(rps))
}

// Widen divides the current rate by factor for the cool-down interval,
// then restores the steady-state rate. Called when the provider signals
// rate limiting (429/418). Overlapping widens stack on the already
// widened rate and push the restore point out.
func (l *Limiter) Widen(factor float64, cooldown time.Duration) {
	if factor <= 1 || cooldown <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rl.SetLimit(l.rl.Limit() / rate.Limit(factor))
	if l.restore != nil {
		l.restore.Stop()
	}
	l.restore = time.AfterFunc(cooldown, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.rl.SetLimit(rate.Limit(l.baseRPS))
		l.restore = nil
	})
}

// Manager holds one Limiter per endpoint class.
type Manager struct {
	mu       sync.RWMutex
	limiters map[EndpointClass]*Limiter
}

func NewManager() *Manager {
	return &Manager{limiters: make(map[EndpointClass]*Limiter)}
}

// AddClass registers (or replaces) the limiter for an endpoint class.
func (m *Manager) AddClass(class EndpointClass, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[class] = NewLimiter(rps, burst)
}

// GetLimiter returns the limiter for a class, if one is registered.
func (m *Manager) GetLimiter(class EndpointClass) (*Limiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limiter, exists := m.limiters[class]
	return limiter, exists
}

// Wait blocks on the class's limiter. A class with no registered limiter
// proceeds immediately.
func (m *Manager) Wait(ctx context.Context, class EndpointClass) error {
	limiter, exists := m.GetLimiter(class)
	if !exists {
		return nil
	}
	return limiter.Wait(ctx)
}

// Allow reports whether a request on the class may proceed right now. A
// class with no registered limiter always may.
func (m *Manager) Allow(class EndpointClass) bool {
	limiter, exists := m.GetLimiter(class)
	if !exists {
		return true
	}
	return limiter.Allow()
}
