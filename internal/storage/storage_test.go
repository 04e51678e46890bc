package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.db")
	pool, err := Open(context.Background(), DefaultConfig(path))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestInsertKlines_UpsertIsIdempotent(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	raw := exchange.RawKline{OpenTime: 1704067200000, Open: 100, High: 110, Low: 90, Close: 105, Volume: 10, QuoteVolume: 1000, TakerBuyVolume: 6, TakerBuyQuoteVolume: 600}
	row := KlineRowFromRaw("BTCUSDT", timeutil.Freq1h, raw)

	inserted, dropped, err := pool.InsertKlines(ctx, []KlineRow{row})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 0, dropped)

	row.ClosePrice = 999 // re-download with a revised close
	inserted, dropped, err = pool.InsertKlines(ctx, []KlineRow{row})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 0, dropped)

	rows, err := pool.ReadMarketData(ctx, "2024-01-01", "2024-01-01", timeutil.Freq1h, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 999.0, rows[0].ClosePrice)
	assert.Equal(t, 4.0, rows[0].TakerSellVolume)       // 10 - 6
	assert.Equal(t, 400.0, rows[0].TakerSellQuoteVolume) // 1000 - 600
}

func TestReadMarketData_OrdersBySymbolThenTimestamp(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	rows := []KlineRow{
		KlineRowFromRaw("ETHUSDT", timeutil.Freq1h, exchange.RawKline{OpenTime: 1704067200000}),
		KlineRowFromRaw("BTCUSDT", timeutil.Freq1h, exchange.RawKline{OpenTime: 1704070800000}),
		KlineRowFromRaw("BTCUSDT", timeutil.Freq1h, exchange.RawKline{OpenTime: 1704067200000}),
	}
	_, _, err := pool.InsertKlines(ctx, rows)
	require.NoError(t, err)

	result, err := pool.ReadMarketData(ctx, "2024-01-01", "2024-01-01", timeutil.Freq1h, nil)
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, "BTCUSDT", result[0].Symbol)
	assert.Equal(t, "BTCUSDT", result[1].Symbol)
	assert.True(t, result[0].Timestamp < result[1].Timestamp)
	assert.Equal(t, "ETHUSDT", result[2].Symbol)
}

func TestCountMarketData_UsedForSkipCompleteCheck(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	rows := []KlineRow{
		KlineRowFromRaw("BTCUSDT", timeutil.Freq1d, exchange.RawKline{OpenTime: 1704067200000}),
		KlineRowFromRaw("BTCUSDT", timeutil.Freq1d, exchange.RawKline{OpenTime: 1704153600000}),
	}
	_, _, err := pool.InsertKlines(ctx, rows)
	require.NoError(t, err)

	count, err := pool.CountMarketData(ctx, "BTCUSDT", "2024-01-01", "2024-01-02", timeutil.Freq1d)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestInsertFundingRates_Upsert(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	mark := 101.5
	row := FundingRowFromRaw(exchange.RawFundingRate{Symbol: "BTCUSDT", FundingTime: 1704067200000, Rate: 0.0001, MarkPrice: &mark})
	inserted, dropped, err := pool.InsertFundingRates(ctx, []FundingRow{row})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 0, dropped)

	result, err := pool.ReadFundingRates(ctx, "2024-01-01", "2024-01-01", nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.InDelta(t, 0.0001, result[0].FundingRate, 1e-9)
	assert.True(t, result[0].MarkPrice.Valid)
}
