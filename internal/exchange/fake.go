package exchange

import (
	"context"
	"sort"
	"sync"

	"github.com/ppmina/xdata-go/internal/timeutil"
)

// Fake is an in-memory Client used by unit and integration tests. It never
// performs network I/O; callers pre-load fixtures and optionally force
// specific symbols to fail with a chosen error.
type Fake struct {
	mu sync.Mutex

	Symbols []string

	// Fixtures are keyed by symbol; K-line slices are ascending by
	// OpenTime.
	Klines  map[string][]RawKline
	Funding map[string][]RawFundingRate
	OI      map[string][]RawOpenInterest
	LSR     map[string]map[RatioType][]RawLongShortRatio

	// FailSymbols forces the named symbol to return the given error from
	// every method until cleared.
	FailSymbols map[string]error

	Calls int // total call count, useful for retry-round assertions
}

func NewFake() *Fake {
	return &Fake{
		Klines:      make(map[string][]RawKline),
		Funding:     make(map[string][]RawFundingRate),
		OI:          make(map[string][]RawOpenInterest),
		LSR:         make(map[string]map[RatioType][]RawLongShortRatio),
		FailSymbols: make(map[string]error),
	}
}

func (f *Fake) fail(symbol string) error {
	f.Calls++
	if err, ok := f.FailSymbols[symbol]; ok {
		return err
	}
	return nil
}

func (f *Fake) ListPerpetualSymbols(ctx context.Context, onlyTrading bool, quoteAsset string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Symbols))
	copy(out, f.Symbols)
	sort.Strings(out)
	return out, nil
}

func (f *Fake) GetHistoricalKlines(ctx context.Context, symbol string, freq timeutil.Freq, startMS, endMS int64, limit int, market Market) ([]RawKline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(symbol); err != nil {
		return nil, err
	}
	var out []RawKline
	for _, k := range f.Klines[symbol] {
		if k.OpenTime >= startMS && k.OpenTime <= endMS {
			out = append(out, k)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) GetFundingRate(ctx context.Context, symbol string, startMS, endMS *int64, limit int) ([]RawFundingRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(symbol); err != nil {
		return nil, err
	}
	var out []RawFundingRate
	for _, r := range f.Funding[symbol] {
		if startMS != nil && r.FundingTime < *startMS {
			continue
		}
		if endMS != nil && r.FundingTime > *endMS {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) GetOpenInterestHist(ctx context.Context, symbol, period string, startMS, endMS *int64, limit int) ([]RawOpenInterest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(symbol); err != nil {
		return nil, err
	}
	var out []RawOpenInterest
	for _, r := range f.OI[symbol] {
		if r.Interval != period {
			continue
		}
		if startMS != nil && r.Time < *startMS {
			continue
		}
		if endMS != nil && r.Time > *endMS {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) GetLongShortRatio(ctx context.Context, symbol, period string, ratioType RatioType, startMS, endMS *int64, limit int) ([]RawLongShortRatio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(symbol); err != nil {
		return nil, err
	}
	var out []RawLongShortRatio
	for _, r := range f.LSR[symbol][ratioType] {
		if r.Period != period {
			continue
		}
		if startMS != nil && r.Time < *startMS {
			continue
		}
		if endMS != nil && r.Time > *endMS {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Client = (*Fake)(nil)
