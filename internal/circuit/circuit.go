// Package circuit provides a per-endpoint-class circuit breaker backed by
// github.com/sony/gobreaker: a thin, typed wrapper that maps breaker trips
// onto the ingestor's error taxonomy instead of reimplementing the
// closed/open/half-open state machine.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker
// for its endpoint class is open.
var ErrCircuitOpen = errors.New("circuit: breaker open")

// Config configures one endpoint class's breaker.
type Config struct {
	FailureThreshold uint32        // consecutive failures to trip open
	Timeout          time.Duration // time before half-open probe
	RequestTimeout   time.Duration // per-call deadline
}

// Manager owns one gobreaker.CircuitBreaker per endpoint class (spot,
// futures, heavy, batch), mirroring ratelimit.Manager's per-class layout.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	configs  map[string]Config
}

func NewManager() *Manager {
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		configs:  make(map[string]Config),
	}
}

// AddClass registers a breaker for the named endpoint class.
func (m *Manager) AddClass(name string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs[name] = cfg
	m.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})
}

// Call executes fn through the named class's breaker. If no breaker is
// registered for the class, fn runs unguarded.
func (m *Manager) Call(ctx context.Context, class string, fn func(ctx context.Context) error) error {
	m.mu.RLock()
	breaker, cfg := m.breakers[class], m.configs[class]
	m.mu.RUnlock()

	if breaker == nil {
		return fn(ctx)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if cfg.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, fn(callCtx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: class %s", ErrCircuitOpen, class)
		}
		return err
	}
	return nil
}

// State reports the current breaker state for a class, or "absent" if no
// breaker is registered.
func (m *Manager) State(class string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	breaker, ok := m.breakers[class]
	if !ok {
		return "absent"
	}
	return breaker.State().String()
}

// NewDefaultManager wires one breaker per endpoint class: five
// consecutive failures trips the breaker, a 30-second cool-down before a
// half-open probe, and a 30-second per-request timeout.
func NewDefaultManager() *Manager {
	m := NewManager()
	for _, class := range []string{"spot", "futures", "heavy", "batch"} {
		m.AddClass(class, Config{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
			RequestTimeout:   30 * time.Second,
		})
	}
	return m
}
