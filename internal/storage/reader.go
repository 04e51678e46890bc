package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppmina/xdata-go/internal/timeutil"
)

// ReadMarketData translates [startDate, endDate] to a ms range and returns
// rows ordered by (symbol, timestamp). An empty symbols slice means "all
// symbols".
func (p *Pool) ReadMarketData(ctx context.Context, startDate, endDate string, freq timeutil.Freq, symbols []string) ([]KlineRow, error) {
	startMS, err := timeutil.DateToTSStart(startDate)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	endMS, err := timeutil.DateToTSEnd(endDate, freq)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	query := `
SELECT symbol, timestamp, freq, open_price, high_price, low_price, close_price,
       volume, quote_volume, trades_count, taker_buy_volume, taker_buy_quote_volume,
       taker_sell_volume, taker_sell_quote_volume, close_time
FROM market_data
WHERE freq = ? AND timestamp >= ? AND timestamp <= ?`
	args := []interface{}{string(freq), startMS, endMS}

	if len(symbols) > 0 {
		placeholders := make([]string, len(symbols))
		for i, s := range symbols {
			placeholders[i] = "?"
			args = append(args, s)
		}
		query += fmt.Sprintf(" AND symbol IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY symbol ASC, timestamp ASC"

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: querying market_data: %w", err)
	}
	defer rows.Close()

	var out []KlineRow
	for rows.Next() {
		var r KlineRow
		if err := rows.Scan(
			&r.Symbol, &r.Timestamp, &r.Freq, &r.OpenPrice, &r.HighPrice, &r.LowPrice, &r.ClosePrice,
			&r.Volume, &r.QuoteVolume, &r.TradesCount, &r.TakerBuyVolume, &r.TakerBuyQuoteVolume,
			&r.TakerSellVolume, &r.TakerSellQuoteVolume, &r.CloseTime,
		); err != nil {
			return nil, fmt.Errorf("storage: scanning market_data row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadFundingRates returns funding-rate rows ordered by (symbol, timestamp)
// within [startDate, endDate].
func (p *Pool) ReadFundingRates(ctx context.Context, startDate, endDate string, symbols []string) ([]FundingRow, error) {
	startMS, err := timeutil.DateToTSStart(startDate)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	endMS, err := timeutil.DateToTSEnd(endDate, timeutil.Freq1d)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	query := `SELECT symbol, timestamp, funding_rate, funding_time, mark_price, index_price FROM funding_rate WHERE timestamp >= ? AND timestamp <= ?`
	args := []interface{}{startMS, endMS}
	if len(symbols) > 0 {
		placeholders := make([]string, len(symbols))
		for i, s := range symbols {
			placeholders[i] = "?"
			args = append(args, s)
		}
		query += fmt.Sprintf(" AND symbol IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY symbol ASC, timestamp ASC"

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: querying funding_rate: %w", err)
	}
	defer rows.Close()

	var out []FundingRow
	for rows.Next() {
		var r FundingRow
		if err := rows.Scan(&r.Symbol, &r.Timestamp, &r.FundingRate, &r.FundingTime, &r.MarkPrice, &r.IndexPrice); err != nil {
			return nil, fmt.Errorf("storage: scanning funding_rate row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadOpenInterest returns open-interest rows ordered by (symbol, timestamp).
func (p *Pool) ReadOpenInterest(ctx context.Context, startDate, endDate, interval string, symbols []string) ([]OpenInterestRow, error) {
	startMS, err := timeutil.DateToTSStart(startDate)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	endMS, err := timeutil.DateToTSEnd(endDate, timeutil.Freq1d)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	query := `SELECT symbol, timestamp, interval, open_interest, open_interest_value FROM open_interest WHERE interval = ? AND timestamp >= ? AND timestamp <= ?`
	args := []interface{}{interval, startMS, endMS}
	if len(symbols) > 0 {
		placeholders := make([]string, len(symbols))
		for i, s := range symbols {
			placeholders[i] = "?"
			args = append(args, s)
		}
		query += fmt.Sprintf(" AND symbol IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY symbol ASC, timestamp ASC"

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: querying open_interest: %w", err)
	}
	defer rows.Close()

	var out []OpenInterestRow
	for rows.Next() {
		var r OpenInterestRow
		if err := rows.Scan(&r.Symbol, &r.Timestamp, &r.Interval, &r.OpenInterest, &r.OpenInterestValue); err != nil {
			return nil, fmt.Errorf("storage: scanning open_interest row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadLongShortRatios returns long/short-ratio rows for one ratio type,
// ordered by (symbol, timestamp).
func (p *Pool) ReadLongShortRatios(ctx context.Context, startDate, endDate, period, ratioType string, symbols []string) ([]LongShortRatioRow, error) {
	startMS, err := timeutil.DateToTSStart(startDate)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	endMS, err := timeutil.DateToTSEnd(endDate, timeutil.Freq1d)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	query := `SELECT symbol, timestamp, period, ratio_type, long_short_ratio, long_account, short_account FROM long_short_ratio WHERE period = ? AND ratio_type = ? AND timestamp >= ? AND timestamp <= ?`
	args := []interface{}{period, ratioType, startMS, endMS}
	if len(symbols) > 0 {
		placeholders := make([]string, len(symbols))
		for i, s := range symbols {
			placeholders[i] = "?"
			args = append(args, s)
		}
		query += fmt.Sprintf(" AND symbol IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY symbol ASC, timestamp ASC"

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: querying long_short_ratio: %w", err)
	}
	defer rows.Close()

	var out []LongShortRatioRow
	for rows.Next() {
		var r LongShortRatioRow
		if err := rows.Scan(&r.Symbol, &r.Timestamp, &r.Period, &r.RatioType, &r.LongShortRatio, &r.LongAccount, &r.ShortAccount); err != nil {
			return nil, fmt.Errorf("storage: scanning long_short_ratio row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountMarketData returns the number of distinct bars stored for symbol at
// freq within [startDate, endDate], used by the downloader's
// skip-what's-complete check.
func (p *Pool) CountMarketData(ctx context.Context, symbol, startDate, endDate string, freq timeutil.Freq) (int64, error) {
	startMS, err := timeutil.DateToTSStart(startDate)
	if err != nil {
		return 0, fmt.Errorf("storage: %w", err)
	}
	endMS, err := timeutil.DateToTSEnd(endDate, freq)
	if err != nil {
		return 0, fmt.Errorf("storage: %w", err)
	}

	var count int64
	err = p.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM market_data WHERE symbol = ? AND freq = ? AND timestamp >= ? AND timestamp <= ?`,
		symbol, string(freq), startMS, endMS)
	if err != nil {
		return 0, fmt.Errorf("storage: counting market_data: %w", err)
	}
	return count, nil
}
