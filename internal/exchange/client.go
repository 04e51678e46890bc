// Package exchange defines the capability interface the ingestor consumes.
// This package fixes only the request shape and the error signals an
// implementer must surface; tests use the in-memory fake in fake.go.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppmina/xdata-go/internal/timeutil"
)

// Market selects which derivatives/spot market a kline request targets.
type Market string

const (
	MarketSpot        Market = "SPOT"
	MarketFutures     Market = "FUTURES"
	MarketFuturesCoin Market = "FUTURES_COIN"
)

// RatioType enumerates the four long/short ratio series the provider
// exposes.
type RatioType string

const (
	RatioTopTraderAccount  RatioType = "toptrader_account"
	RatioTopTraderPosition RatioType = "toptrader_position"
	RatioGlobalAccount     RatioType = "global_account"
	RatioTakerVolume       RatioType = "taker_vol"
)

var AllRatioTypes = []RatioType{RatioTopTraderAccount, RatioTopTraderPosition, RatioGlobalAccount, RatioTakerVolume}

// RawKline is the positional tuple the provider returns per bar:
// [open_time, open, high, low, close, volume, close_time, quote_volume,
//  trades_count, taker_buy_volume, taker_buy_quote_volume, ignore].
type RawKline struct {
	OpenTime            int64
	Open                float64
	High                float64
	Low                 float64
	Close               float64
	Volume              float64
	CloseTime           int64
	QuoteVolume         float64
	TradesCount         int64
	TakerBuyVolume      float64
	TakerBuyQuoteVolume float64
}

// RawFundingRate is one funding-rate event row.
type RawFundingRate struct {
	Symbol      string
	FundingTime int64
	Rate        float64
	MarkPrice   *float64
	IndexPrice  *float64
}

// RawOpenInterest is one open-interest observation.
type RawOpenInterest struct {
	Symbol            string
	Time              int64
	Interval          string
	OpenInterest      float64
	OpenInterestValue *float64
}

// RawLongShortRatio is one long/short ratio observation.
type RawLongShortRatio struct {
	Symbol    string
	Time      int64
	Period    string
	RatioType RatioType
	Ratio     float64
	LongSide  float64
	ShortSide float64
}

// Error classification the ingestor's retry policy switches on.
var (
	// ErrInvalidSymbol: final for the symbol, no retry.
	ErrInvalidSymbol = errors.New("exchange: invalid symbol")
	// ErrUnauthorized: fail the run immediately, no retry.
	ErrUnauthorized = errors.New("exchange: unauthorized")
	// ErrOther: unclassified failure.
	ErrOther = errors.New("exchange: other error")
)

// RateLimitedError carries an optional provider-supplied retry-after hint.
type RateLimitedError struct {
	RetryAfterMS int64 // 0 if the provider did not supply a hint
}

func (e *RateLimitedError) Error() string { return "exchange: rate limited" }

// TransientError wraps network/5xx failures eligible for retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("exchange: transient failure: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Client is the capability interface the ingestor and universe planner
// call. Implementations are responsible for translating HTTP
// transport errors into the sentinel/typed errors above.
type Client interface {
	// ListPerpetualSymbols returns the tradable perpetual-futures symbols
	// quoted in quoteAsset, optionally restricted to those currently
	// trading.
	ListPerpetualSymbols(ctx context.Context, onlyTrading bool, quoteAsset string) ([]string, error)

	// GetHistoricalKlines fetches bars for symbol at freq between
	// [startMS, endMS], bounded by limit.
	GetHistoricalKlines(ctx context.Context, symbol string, freq timeutil.Freq, startMS, endMS int64, limit int, market Market) ([]RawKline, error)

	// GetFundingRate fetches funding-rate events; start/end are optional
	// (nil means unbounded).
	GetFundingRate(ctx context.Context, symbol string, startMS, endMS *int64, limit int) ([]RawFundingRate, error)

	// GetOpenInterestHist fetches open-interest observations; limit <= 500.
	GetOpenInterestHist(ctx context.Context, symbol, period string, startMS, endMS *int64, limit int) ([]RawOpenInterest, error)

	// GetLongShortRatio fetches one ratio-type series; limit <= 500. The
	// provider restricts start/end to the last 30 days.
	GetLongShortRatio(ctx context.Context, symbol, period string, ratioType RatioType, startMS, endMS *int64, limit int) ([]RawLongShortRatio, error)
}
