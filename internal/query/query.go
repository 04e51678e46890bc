// Package query implements typed reads that translate storage rows into
// (symbol, timestamp)-indexed table.Frame values for a requested feature
// set and time window. Every result is sorted by (symbol, timestamp)
// ascending; missing rows are simply absent, never reindexed.
package query

import (
	"context"
	"fmt"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/storage"
	"github.com/ppmina/xdata-go/internal/table"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

// klineColumns is the full set of feature columns selectable from
// market_data, in field-name form (pre field-mapping).
var klineColumns = []string{
	"open_price", "high_price", "low_price", "close_price",
	"volume", "quote_volume", "trades_count",
	"taker_buy_volume", "taker_buy_quote_volume",
	"taker_sell_volume", "taker_sell_quote_volume",
}

// ErrNoData is returned by a strict read over an empty result.
var ErrNoData = fmt.Errorf("query: no data for requested window")

// Klines implements select_klines.
type Klines struct {
	Pool *storage.Pool
}

// Select reads K-line rows for symbols (all symbols if empty) within
// [startDate, endDate] at freq, restricted to columns (all kline columns if
// empty). strict turns an empty result into ErrNoData.
func (k *Klines) Select(ctx context.Context, symbols []string, startDate, endDate string, freq timeutil.Freq, columns []string, strict bool) (*table.Frame, error) {
	rows, err := k.Pool.ReadMarketData(ctx, startDate, endDate, freq, symbols)
	if err != nil {
		return nil, fmt.Errorf("query: select_klines: %w", err)
	}
	if len(rows) == 0 && strict {
		return nil, ErrNoData
	}
	if len(columns) == 0 {
		columns = klineColumns
	}

	f := table.New(columns...)
	for _, r := range rows {
		values := map[string]float64{
			"open_price":              r.OpenPrice,
			"high_price":              r.HighPrice,
			"low_price":               r.LowPrice,
			"close_price":             r.ClosePrice,
			"volume":                  r.Volume,
			"quote_volume":            r.QuoteVolume,
			"trades_count":            float64(r.TradesCount),
			"taker_buy_volume":        r.TakerBuyVolume,
			"taker_buy_quote_volume":  r.TakerBuyQuoteVolume,
			"taker_sell_volume":       r.TakerSellVolume,
			"taker_sell_quote_volume": r.TakerSellQuoteVolume,
		}
		f.AppendRow(r.Symbol, r.Timestamp, values)
		f.SetAux("close_time", r.CloseTime)
	}
	f.BuildIndex()
	return f, nil
}

// Metrics implements select_funding_rate, select_open_interest and
// select_long_short_ratio_by_type.
type Metrics struct {
	Pool *storage.Pool
}

// FundingRate implements select_funding_rate.
func (m *Metrics) FundingRate(ctx context.Context, symbols []string, startDate, endDate string) (*table.Frame, error) {
	rows, err := m.Pool.ReadFundingRates(ctx, startDate, endDate, symbols)
	if err != nil {
		return nil, fmt.Errorf("query: select_funding_rate: %w", err)
	}
	f := table.New("funding_rate", "mark_price", "index_price")
	for _, r := range rows {
		values := map[string]float64{"funding_rate": r.FundingRate}
		if r.MarkPrice.Valid {
			values["mark_price"] = r.MarkPrice.Float64
		}
		if r.IndexPrice.Valid {
			values["index_price"] = r.IndexPrice.Float64
		}
		f.AppendRow(r.Symbol, r.Timestamp, values)
	}
	f.BuildIndex()
	return f, nil
}

// OpenInterest implements select_open_interest. columns defaults to both
// open_interest and open_interest_value when empty.
func (m *Metrics) OpenInterest(ctx context.Context, symbols []string, startDate, endDate, interval string, columns []string) (*table.Frame, error) {
	if interval == "" {
		interval = "5m"
	}
	rows, err := m.Pool.ReadOpenInterest(ctx, startDate, endDate, interval, symbols)
	if err != nil {
		return nil, fmt.Errorf("query: select_open_interest: %w", err)
	}
	if len(columns) == 0 {
		columns = []string{"open_interest", "open_interest_value"}
	}
	f := table.New(columns...)
	for _, r := range rows {
		values := map[string]float64{"open_interest": r.OpenInterest}
		if r.OpenInterestValue.Valid {
			values["open_interest_value"] = r.OpenInterestValue.Float64
		}
		f.AppendRow(r.Symbol, r.Timestamp, values)
	}
	f.BuildIndex()
	return f, nil
}

// exportNameByRatioType maps each ratio type onto the short export name
// its column takes when renamed (lsr_ta | lsr_tp | lsr_ga | lsr_tv).
var exportNameByRatioType = map[exchange.RatioType]string{
	exchange.RatioTopTraderAccount:  "lsr_ta",
	exchange.RatioTopTraderPosition: "lsr_tp",
	exchange.RatioGlobalAccount:     "lsr_ga",
	exchange.RatioTakerVolume:       "lsr_tv",
}

// LongShortRatioByType implements select_long_short_ratio_by_type.
func (m *Metrics) LongShortRatioByType(ctx context.Context, symbols []string, startDate, endDate, period string, ratioType exchange.RatioType, renameToExportName bool) (*table.Frame, error) {
	rows, err := m.Pool.ReadLongShortRatios(ctx, startDate, endDate, period, string(ratioType), symbols)
	if err != nil {
		return nil, fmt.Errorf("query: select_long_short_ratio_by_type: %w", err)
	}

	column := "long_short_ratio"
	if renameToExportName {
		name, ok := exportNameByRatioType[ratioType]
		if !ok {
			return nil, fmt.Errorf("query: unknown ratio_type %q", ratioType)
		}
		column = name
	}

	f := table.New(column, "long_account", "short_account")
	for _, r := range rows {
		values := map[string]float64{column: r.LongShortRatio}
		if r.LongAccount.Valid {
			values["long_account"] = r.LongAccount.Float64
		}
		if r.ShortAccount.Valid {
			values["short_account"] = r.ShortAccount.Float64
		}
		f.AppendRow(r.Symbol, r.Timestamp, values)
	}
	f.BuildIndex()
	return f, nil
}
