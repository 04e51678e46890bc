// Package httpx provides the provider HTTP client wrapper:
// rate limiting, circuit breaking, daily budgets, and optional
// response caching layered around an http.RoundTripper. The circuit breaker
// is gobreaker-backed (internal/circuit) and rate limiting/budget tracking
// are the packages built alongside it (internal/ratelimit, internal/budget).
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppmina/xdata-go/internal/budget"
	"github.com/ppmina/xdata-go/internal/circuit"
	"github.com/ppmina/xdata-go/internal/ratelimit"
)

// Cache is an optional HTTP response cache. A Redis-backed implementation is
// provided in internal/httpx/rediscache.go; tests can supply an in-memory
// stand-in.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// A 429 (or the provider's 418 ban escalation) widens the endpoint
// class's spacing for a cool-down interval before the steady rate is
// restored.
const (
	rateLimitWidenFactor = 2
	rateLimitCooldown    = 30 * time.Second
)

// WrapperConfig configures one provider's middleware stack. RateLimiter
// is the provider's endpoint-class bucket, shared with every other caller
// on that class.
type WrapperConfig struct {
	Provider      string
	EndpointClass string // circuit class key
	CacheTTL      time.Duration

	RateLimiter    *ratelimit.Limiter
	CircuitManager *circuit.Manager
	BudgetTracker  *budget.Tracker
	Cache          Cache
}

// Wrapper implements http.RoundTripper, layering cache -> budget ->
// rate-limit -> circuit-breaker around the underlying transport.
type Wrapper struct {
	cfg       WrapperConfig
	transport http.RoundTripper
	userAgent string
}

func NewWrapper(cfg WrapperConfig, transport http.RoundTripper) *Wrapper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Wrapper{cfg: cfg, transport: transport, userAgent: "xdata-go/1.0 (+market-data-pipeline)"}
}

func (w *Wrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	if w.cfg.Cache != nil && req.Method == http.MethodGet {
		key := w.cacheKey(req)
		if data, ok := w.cfg.Cache.Get(req.Context(), key); ok {
			return cachedResponse(req, data), nil
		}
	}

	if w.cfg.BudgetTracker != nil {
		if err := w.cfg.BudgetTracker.Allow(); err != nil {
			if _, exhausted := err.(*budget.BudgetExhaustedError); exhausted {
				return nil, &ProviderError{Provider: w.cfg.Provider, Type: "budget", Err: err}
			}
		}
	}

	if w.cfg.RateLimiter != nil {
		if err := w.cfg.RateLimiter.Wait(req.Context()); err != nil {
			return nil, &ProviderError{Provider: w.cfg.Provider, Type: "rate_limit", Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	var resp *http.Response
	execute := func(ctx context.Context) error {
		if w.cfg.BudgetTracker != nil {
			if err := w.cfg.BudgetTracker.Consume(); err != nil {
				if _, exhausted := err.(*budget.BudgetExhaustedError); exhausted {
					return &ProviderError{Provider: w.cfg.Provider, Type: "budget", Err: err}
				}
			}
		}

		var err error
		resp, err = w.transport.RoundTrip(req.WithContext(ctx))
		if err != nil {
			return &ProviderError{Provider: w.cfg.Provider, Type: "transport", Err: err}
		}
		if resp.StatusCode >= 400 {
			if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418) && w.cfg.RateLimiter != nil {
				w.cfg.RateLimiter.Widen(rateLimitWidenFactor, rateLimitCooldown)
			}
			return &ProviderError{Provider: w.cfg.Provider, Type: "http_error", StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
		}
		return nil
	}

	var err error
	if w.cfg.CircuitManager != nil && w.cfg.EndpointClass != "" {
		err = w.cfg.CircuitManager.Call(req.Context(), w.cfg.EndpointClass, execute)
	} else {
		err = execute(req.Context())
	}
	if err != nil {
		return nil, err
	}

	if w.cfg.Cache != nil && req.Method == http.MethodGet && resp.StatusCode == http.StatusOK {
		w.storeCached(req, resp)
	}

	return resp, nil
}

func (w *Wrapper) cacheKey(req *http.Request) string {
	return strings.Join([]string{w.cfg.Provider, req.Method, req.URL.String()}, ":")
}

func (w *Wrapper) storeCached(req *http.Request, resp *http.Response) {
	if resp.Body == nil {
		return
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(strings.NewReader(""))
		return
	}
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	w.cfg.Cache.Set(req.Context(), w.cacheKey(req), body, w.cfg.CacheTTL)
}

func cachedResponse(req *http.Request, data []byte) *http.Response {
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(string(data))),
		Request:    req,
	}
}

// ProviderError wraps a transport-layer failure with the middleware stage
// that produced it, so retry.Classify (or a caller) can branch on Type.
type ProviderError struct {
	Provider   string
	Type       string // "rate_limit", "budget", "circuit", "transport", "http_error"
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s %s error (HTTP %d): %v", e.Provider, e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s %s error: %v", e.Provider, e.Type, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
