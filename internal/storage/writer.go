package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

// DefaultBatchSize is the per-transaction chunk size for batch writes.
const DefaultBatchSize = 1000

// KlineRow is one validated, write-ready market_data row. TakerSellVolume
// and TakerSellQuoteVolume are derived at write time.
type KlineRow struct {
	Symbol               string
	Timestamp            int64
	Freq                 string
	OpenPrice            float64
	HighPrice            float64
	LowPrice             float64
	ClosePrice           float64
	Volume               float64
	QuoteVolume          float64
	TradesCount          int64
	TakerBuyVolume       float64
	TakerBuyQuoteVolume  float64
	TakerSellVolume      float64
	TakerSellQuoteVolume float64
	// CloseTime is kept queryable even though the export pipeline folds it
	// into the timestamp cube rather than writing it as a standalone column.
	CloseTime int64
}

// KlineRowFromRaw converts an exchange.RawKline into a write-ready row,
// deriving the taker-sell fields.
func KlineRowFromRaw(symbol string, freq timeutil.Freq, raw exchange.RawKline) KlineRow {
	return KlineRow{
		Symbol:               symbol,
		Timestamp:            raw.OpenTime,
		Freq:                 string(freq),
		OpenPrice:            raw.Open,
		HighPrice:            raw.High,
		LowPrice:             raw.Low,
		ClosePrice:           raw.Close,
		Volume:               raw.Volume,
		QuoteVolume:          raw.QuoteVolume,
		TradesCount:          raw.TradesCount,
		TakerBuyVolume:       raw.TakerBuyVolume,
		TakerBuyQuoteVolume:  raw.TakerBuyQuoteVolume,
		TakerSellVolume:      raw.Volume - raw.TakerBuyVolume,
		TakerSellQuoteVolume: raw.QuoteVolume - raw.TakerBuyQuoteVolume,
		CloseTime:            raw.CloseTime,
	}
}

const insertKlineSQL = `
INSERT INTO market_data (
	symbol, timestamp, freq, open_price, high_price, low_price, close_price,
	volume, quote_volume, trades_count, taker_buy_volume, taker_buy_quote_volume,
	taker_sell_volume, taker_sell_quote_volume, close_time
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol, timestamp, freq) DO UPDATE SET
	open_price = excluded.open_price,
	high_price = excluded.high_price,
	low_price = excluded.low_price,
	close_price = excluded.close_price,
	volume = excluded.volume,
	quote_volume = excluded.quote_volume,
	trades_count = excluded.trades_count,
	taker_buy_volume = excluded.taker_buy_volume,
	taker_buy_quote_volume = excluded.taker_buy_quote_volume,
	taker_sell_volume = excluded.taker_sell_volume,
	taker_sell_quote_volume = excluded.taker_sell_quote_volume,
	close_time = excluded.close_time
`

// InsertKlines upserts rows in chunks of DefaultBatchSize, each chunk inside
// its own transaction. A row whose statement fails is dropped; the rest of
// the chunk still commits.
func (p *Pool) InsertKlines(ctx context.Context, rows []KlineRow) (inserted, dropped int, err error) {
	for start := 0; start < len(rows); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, d, err := p.insertKlineChunk(ctx, rows[start:end])
		inserted += n
		dropped += d
		if err != nil {
			return inserted, dropped, err
		}
	}
	return inserted, dropped, nil
}

func (p *Pool) insertKlineChunk(ctx context.Context, rows []KlineRow) (inserted, dropped int, err error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: beginning tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, row := range rows {
		_, execErr := tx.ExecContext(ctx, insertKlineSQL,
			row.Symbol, row.Timestamp, row.Freq, row.OpenPrice, row.HighPrice, row.LowPrice, row.ClosePrice,
			row.Volume, row.QuoteVolume, row.TradesCount, row.TakerBuyVolume, row.TakerBuyQuoteVolume,
			row.TakerSellVolume, row.TakerSellQuoteVolume, row.CloseTime,
		)
		if execErr != nil {
			dropped++
			continue
		}
		inserted++
	}

	if err = tx.Commit(); err != nil {
		return inserted, dropped, fmt.Errorf("storage: committing kline batch: %w", err)
	}
	return inserted, dropped, nil
}

// FundingRow is one write-ready funding_rate row.
type FundingRow struct {
	Symbol      string
	Timestamp   int64
	FundingRate float64
	FundingTime int64
	MarkPrice   sql.NullFloat64
	IndexPrice  sql.NullFloat64
}

func FundingRowFromRaw(raw exchange.RawFundingRate) FundingRow {
	row := FundingRow{
		Symbol:      raw.Symbol,
		Timestamp:   raw.FundingTime,
		FundingRate: raw.Rate,
		FundingTime: raw.FundingTime,
	}
	if raw.MarkPrice != nil {
		row.MarkPrice = sql.NullFloat64{Float64: *raw.MarkPrice, Valid: true}
	}
	if raw.IndexPrice != nil {
		row.IndexPrice = sql.NullFloat64{Float64: *raw.IndexPrice, Valid: true}
	}
	return row
}

const insertFundingSQL = `
INSERT INTO funding_rate (symbol, timestamp, funding_rate, funding_time, mark_price, index_price)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol, timestamp) DO UPDATE SET
	funding_rate = excluded.funding_rate,
	funding_time = excluded.funding_time,
	mark_price = excluded.mark_price,
	index_price = excluded.index_price
`

func (p *Pool) InsertFundingRates(ctx context.Context, rows []FundingRow) (inserted, dropped int, err error) {
	for start := 0; start < len(rows); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		tx, txErr := p.db.BeginTxx(ctx, nil)
		if txErr != nil {
			return inserted, dropped, fmt.Errorf("storage: beginning tx: %w", txErr)
		}
		for _, row := range rows[start:end] {
			if _, execErr := tx.ExecContext(ctx, insertFundingSQL, row.Symbol, row.Timestamp, row.FundingRate, row.FundingTime, row.MarkPrice, row.IndexPrice); execErr != nil {
				dropped++
				continue
			}
			inserted++
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return inserted, dropped, fmt.Errorf("storage: committing funding batch: %w", commitErr)
		}
	}
	return inserted, dropped, nil
}

// OpenInterestRow is one write-ready open_interest row.
type OpenInterestRow struct {
	Symbol            string
	Timestamp         int64
	Interval          string
	OpenInterest      float64
	OpenInterestValue sql.NullFloat64
}

func OpenInterestRowFromRaw(raw exchange.RawOpenInterest) OpenInterestRow {
	row := OpenInterestRow{
		Symbol:       raw.Symbol,
		Timestamp:    raw.Time,
		Interval:     raw.Interval,
		OpenInterest: raw.OpenInterest,
	}
	if raw.OpenInterestValue != nil {
		row.OpenInterestValue = sql.NullFloat64{Float64: *raw.OpenInterestValue, Valid: true}
	}
	return row
}

const insertOpenInterestSQL = `
INSERT INTO open_interest (symbol, timestamp, interval, open_interest, open_interest_value)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(symbol, timestamp, interval) DO UPDATE SET
	open_interest = excluded.open_interest,
	open_interest_value = excluded.open_interest_value
`

func (p *Pool) InsertOpenInterest(ctx context.Context, rows []OpenInterestRow) (inserted, dropped int, err error) {
	for start := 0; start < len(rows); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		tx, txErr := p.db.BeginTxx(ctx, nil)
		if txErr != nil {
			return inserted, dropped, fmt.Errorf("storage: beginning tx: %w", txErr)
		}
		for _, row := range rows[start:end] {
			if _, execErr := tx.ExecContext(ctx, insertOpenInterestSQL, row.Symbol, row.Timestamp, row.Interval, row.OpenInterest, row.OpenInterestValue); execErr != nil {
				dropped++
				continue
			}
			inserted++
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return inserted, dropped, fmt.Errorf("storage: committing open-interest batch: %w", commitErr)
		}
	}
	return inserted, dropped, nil
}

// LongShortRatioRow is one write-ready long_short_ratio row.
type LongShortRatioRow struct {
	Symbol         string
	Timestamp      int64
	Period         string
	RatioType      string
	LongShortRatio float64
	LongAccount    sql.NullFloat64
	ShortAccount   sql.NullFloat64
}

func LongShortRatioRowFromRaw(raw exchange.RawLongShortRatio) LongShortRatioRow {
	return LongShortRatioRow{
		Symbol:         raw.Symbol,
		Timestamp:      raw.Time,
		Period:         raw.Period,
		RatioType:      string(raw.RatioType),
		LongShortRatio: raw.Ratio,
		LongAccount:    sql.NullFloat64{Float64: raw.LongSide, Valid: true},
		ShortAccount:   sql.NullFloat64{Float64: raw.ShortSide, Valid: true},
	}
}

const insertLongShortRatioSQL = `
INSERT INTO long_short_ratio (symbol, timestamp, period, ratio_type, long_short_ratio, long_account, short_account)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol, timestamp, period, ratio_type) DO UPDATE SET
	long_short_ratio = excluded.long_short_ratio,
	long_account = excluded.long_account,
	short_account = excluded.short_account
`

func (p *Pool) InsertLongShortRatios(ctx context.Context, rows []LongShortRatioRow) (inserted, dropped int, err error) {
	for start := 0; start < len(rows); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		tx, txErr := p.db.BeginTxx(ctx, nil)
		if txErr != nil {
			return inserted, dropped, fmt.Errorf("storage: beginning tx: %w", txErr)
		}
		for _, row := range rows[start:end] {
			if _, execErr := tx.ExecContext(ctx, insertLongShortRatioSQL, row.Symbol, row.Timestamp, row.Period, row.RatioType, row.LongShortRatio, row.LongAccount, row.ShortAccount); execErr != nil {
				dropped++
				continue
			}
			inserted++
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return inserted, dropped, fmt.Errorf("storage: committing long/short-ratio batch: %w", commitErr)
		}
	}
	return inserted, dropped, nil
}
