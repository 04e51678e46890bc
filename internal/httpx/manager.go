package httpx

import (
	"net/http"
	"time"

	"github.com/ppmina/xdata-go/internal/budget"
	"github.com/ppmina/xdata-go/internal/circuit"
	"github.com/ppmina/xdata-go/internal/ratelimit"
)

// Manager owns one *http.Client per provider, each wrapped with the shared
// rate-limit/circuit/budget middleware.
type Manager struct {
	clients  map[string]*http.Client
	rateMgr  *ratelimit.Manager
	circMgr  *circuit.Manager
	budgMgr  *budget.Manager
	cache    Cache
	cacheTTL time.Duration
}

func NewManager(rateMgr *ratelimit.Manager, circMgr *circuit.Manager, budgMgr *budget.Manager, cache Cache, cacheTTL time.Duration) *Manager {
	return &Manager{
		clients:  make(map[string]*http.Client),
		rateMgr:  rateMgr,
		circMgr:  circMgr,
		budgMgr:  budgMgr,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// AddProvider builds a wrapped *http.Client for name, reusing name as the
// endpoint-class key for the rate limiter, the budget tracker and the
// circuit breaker alike.
func (m *Manager) AddProvider(name string, requestTimeout time.Duration) {
	limiter, _ := m.rateMgr.GetLimiter(ratelimit.EndpointClass(name))
	tracker, _ := m.budgMgr.GetTracker(name)

	wrapper := NewWrapper(WrapperConfig{
		Provider:       name,
		EndpointClass:  name,
		CacheTTL:       m.cacheTTL,
		RateLimiter:    limiter,
		CircuitManager: m.circMgr,
		BudgetTracker:  tracker,
		Cache:          m.cache,
	}, http.DefaultTransport)

	m.clients[name] = &http.Client{Transport: wrapper, Timeout: requestTimeout}
}

func (m *Manager) GetClient(provider string) (*http.Client, bool) {
	c, ok := m.clients[provider]
	return c, ok
}
