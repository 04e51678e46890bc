package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ppmina/xdata-go/internal/budget"
	"github.com/ppmina/xdata-go/internal/circuit"
	"github.com/ppmina/xdata-go/internal/config"
	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/exchange/binance"
	"github.com/ppmina/xdata-go/internal/httpx"
	"github.com/ppmina/xdata-go/internal/ratelimit"
	"github.com/ppmina/xdata-go/internal/retry"
)

const defaultProviderName = "futures"

// requireConfigPath verifies an explicitly supplied --config file exists
// before any network or storage work starts, so a typo'd path fails as a
// config error instead of surfacing mid-run. An empty path is fine: it
// selects the built-in defaults.
func requireConfigPath(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// exchangeStack is everything a downloader needs to talk to the provider:
// the capability client itself plus the rate-limit manager the
// K-line/metrics downloaders pace their own requests against. The
// "futures" class bucket is the same one httpx.Manager paces the
// transport with, so the downloaders, the planner and a provider-side
// 429 cool-down all act on one shared budget.
type exchangeStack struct {
	Client      exchange.Client
	RateLimit   *ratelimit.Manager
	RetryPolicy retry.Policy
}

// newExchangeStack builds the Binance futures client and its pacing
// policy. When configPath names a providers YAML file (internal/config's
// LoadProvidersConfig), every knob — RPS/burst, daily budget, circuit
// thresholds, cache TTL, backoff — comes from that file instead of the
// built-in defaults (ratelimit.NewDefaultManager, circuit.NewDefaultManager,
// budget.NewDefaultManager, retry.DefaultPolicy), following the usual
// load-if-present-else-default provider setup.
func newExchangeStack(configPath string) (*exchangeStack, error) {
	if configPath == "" {
		return newDefaultExchangeStack(), nil
	}

	cfg, err := config.LoadProvidersConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading providers config: %w", err)
	}

	pc, ok := cfg.GetProvider(defaultProviderName)
	if !ok || !cfg.IsProviderEnabled(defaultProviderName) {
		return nil, fmt.Errorf("providers config: %q provider missing or disabled", defaultProviderName)
	}

	rateMgr := ratelimit.NewManager()
	rateMgr.AddClass(ratelimit.EndpointClass(defaultProviderName), float64(pc.RPS), pc.Burst)

	circMgr := circuit.NewManager()
	circMgr.AddClass(defaultProviderName, circuit.Config{
		FailureThreshold: uint32(pc.Circuit.FailureThreshold),
		Timeout:          time.Duration(pc.Circuit.TimeoutMS) * time.Millisecond,
		RequestTimeout:   pc.GetRequestTimeout(),
	})

	budgMgr := budget.NewManager()
	budgMgr.AddProvider(defaultProviderName, int64(pc.DailyBudget), cfg.Budget.ResetHour, cfg.Budget.WarnThreshold)

	var cache httpx.Cache
	if addr := os.Getenv("XDATA_REDIS_ADDR"); addr != "" {
		cache = httpx.NewRedisCache(addr, 0, pc.GetCacheTTL())
	}

	mgr := httpx.NewManager(rateMgr, circMgr, budgMgr, cache, pc.GetCacheTTL())
	mgr.AddProvider(defaultProviderName, pc.GetRequestTimeout())

	httpClient, _ := mgr.GetClient(defaultProviderName)
	client := binance.NewClient(httpClient, binance.Config{BaseURL: pc.BaseURL, APIKey: os.Getenv("BINANCE_API_KEY")})

	policy := retry.Policy{
		BaseDelay:  pc.GetBaseBackoff(),
		MaxDelay:   pc.GetMaxBackoff(),
		MaxRetries: retry.DefaultPolicy().MaxRetries, // not file-configurable; BackoffConfig has no retry-count field
	}
	if !pc.BackoffMS.Jitter {
		policy.Jitter = 0
	} else {
		policy.Jitter = retry.DefaultPolicy().Jitter
	}

	return &exchangeStack{Client: client, RateLimit: rateMgr, RetryPolicy: policy}, nil
}

// newDefaultExchangeStack wires the reference defaults when
// no providers config file is given, the same defaults retry.DefaultPolicy,
// ratelimit.NewDefaultManager, circuit.NewDefaultManager and
// budget.NewDefaultManager already encode.
func newDefaultExchangeStack() *exchangeStack {
	rateMgr := ratelimit.NewDefaultManager()
	circMgr := circuit.NewDefaultManager()
	budgMgr := budget.NewDefaultManager()

	var cache httpx.Cache
	if addr := os.Getenv("XDATA_REDIS_ADDR"); addr != "" {
		cache = httpx.NewRedisCache(addr, 0, 5*time.Minute)
	}

	mgr := httpx.NewManager(rateMgr, circMgr, budgMgr, cache, 5*time.Minute)
	mgr.AddProvider(defaultProviderName, 10*time.Second)

	httpClient, _ := mgr.GetClient(defaultProviderName)
	client := binance.NewClient(httpClient, binance.Config{APIKey: os.Getenv("BINANCE_API_KEY")})

	return &exchangeStack{Client: client, RateLimit: rateMgr, RetryPolicy: retry.DefaultPolicy()}
}
