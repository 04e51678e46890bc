package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppmina/xdata-go/internal/budget"
	"github.com/ppmina/xdata-go/internal/circuit"
	"github.com/ppmina/xdata-go/internal/ratelimit"
)

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: make(map[string][]byte)} }

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func TestWrapper_CachesGETResponses(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	cache := newMemCache()
	w := NewWrapper(WrapperConfig{Provider: "binance", Cache: cache, CacheTTL: time.Minute}, http.DefaultTransport)
	client := &http.Client{Transport: w}

	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, "payload", string(body))
	}
	assert.Equal(t, 1, hits, "subsequent requests should be served from cache")
}

func TestWrapper_CircuitBreakerTripsOnRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	circMgr := circuit.NewManager()
	circMgr.AddClass("spot", circuit.Config{FailureThreshold: 2, Timeout: time.Minute, RequestTimeout: time.Second})

	w := NewWrapper(WrapperConfig{Provider: "binance", EndpointClass: "spot", CircuitManager: circMgr}, http.DefaultTransport)
	client := &http.Client{Transport: w}

	// The wrapper surfaces a 5xx as an error so the breaker counts it.
	for i := 0; i < 2; i++ {
		_, err := client.Get(srv.URL)
		require.Error(t, err)
		var perr *ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "http_error", perr.Type)
		assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	}

	// Third call is rejected by the open breaker without reaching the
	// server.
	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.Equal(t, "open", circMgr.State("spot"))
}

func TestWrapper_RateLimiterGatesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	limiter := ratelimit.NewLimiter(1000, 10)
	w := NewWrapper(WrapperConfig{Provider: "binance", RateLimiter: limiter}, http.DefaultTransport)
	client := &http.Client{Transport: w}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWrapper_RateLimitResponseWidensTheClassBucket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	limiter := ratelimit.NewLimiter(10.0, 10)
	w := NewWrapper(WrapperConfig{Provider: "binance", RateLimiter: limiter}, http.DefaultTransport)
	client := &http.Client{Transport: w}

	_, err := client.Get(srv.URL)
	require.Error(t, err)

	assert.InDelta(t, 5.0, limiter.RPS(), 0.001,
		"a 429 must widen the shared bucket's spacing for the cool-down")
}

func TestWrapper_BudgetExhaustionBlocksRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tracker := budget.NewTracker("binance", 1, 0, 0.99)
	w := NewWrapper(WrapperConfig{Provider: "binance", BudgetTracker: tracker}, http.DefaultTransport)
	client := &http.Client{Transport: w}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	_, err = client.Get(srv.URL)
	require.Error(t, err)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "budget", perr.Type)
}
