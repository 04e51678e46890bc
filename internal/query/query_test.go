package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/storage"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

func openTestPool(t *testing.T) *storage.Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.db")
	pool, err := storage.Open(context.Background(), storage.DefaultConfig(path))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestKlines_Select_ReturnsSortedFrameWithCloseTimeAux(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	rows := []storage.KlineRow{
		storage.KlineRowFromRaw("ETHUSDT", timeutil.Freq1h, exchange.RawKline{OpenTime: 1704067200000, CloseTime: 1704070799999, Open: 1, High: 1, Low: 1, Close: 1}),
		storage.KlineRowFromRaw("BTCUSDT", timeutil.Freq1h, exchange.RawKline{OpenTime: 1704067200000, CloseTime: 1704070799999, Open: 2, High: 2, Low: 2, Close: 2}),
	}
	_, _, err := pool.InsertKlines(ctx, rows)
	require.NoError(t, err)

	k := &Klines{Pool: pool}
	f, err := k.Select(ctx, nil, "2024-01-01", "2024-01-01", timeutil.Freq1h, nil, false)
	require.NoError(t, err)

	require.Equal(t, 2, f.Len())
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, f.Symbols)
	assert.Equal(t, 2.0, f.Value("open_price", 0))
	require.Len(t, f.AuxInt64["close_time"], 2)
	assert.Equal(t, int64(1704070799999), f.AuxInt64["close_time"][0])
}

func TestKlines_Select_StrictEmptyResultIsErrNoData(t *testing.T) {
	pool := openTestPool(t)
	k := &Klines{Pool: pool}

	_, err := k.Select(context.Background(), nil, "2024-01-01", "2024-01-01", timeutil.Freq1h, nil, true)
	assert.ErrorIs(t, err, ErrNoData)

	f, err := k.Select(context.Background(), nil, "2024-01-01", "2024-01-01", timeutil.Freq1h, nil, false)
	require.NoError(t, err)
	assert.True(t, f.Empty())
}

func TestMetrics_LongShortRatioByType_RenamesToExportName(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	row := storage.LongShortRatioRowFromRaw(exchange.RawLongShortRatio{
		Symbol: "BTCUSDT", Time: 1704067200000, Period: "5m",
		RatioType: exchange.RatioGlobalAccount, Ratio: 1.25, LongSide: 0.55, ShortSide: 0.45,
	})
	_, _, err := pool.InsertLongShortRatios(ctx, []storage.LongShortRatioRow{row})
	require.NoError(t, err)

	m := &Metrics{Pool: pool}
	f, err := m.LongShortRatioByType(ctx, nil, "2024-01-01", "2024-01-01", "5m", exchange.RatioGlobalAccount, true)
	require.NoError(t, err)
	require.Equal(t, 1, f.Len())
	assert.True(t, f.HasColumn("lsr_ga"))
	assert.Equal(t, 1.25, f.Value("lsr_ga", 0))

	plain, err := m.LongShortRatioByType(ctx, nil, "2024-01-01", "2024-01-01", "5m", exchange.RatioGlobalAccount, false)
	require.NoError(t, err)
	assert.True(t, plain.HasColumn("long_short_ratio"))
}

func TestMetrics_FundingRate_OptionalPricesBecomeNaNWhenAbsent(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	row := storage.FundingRowFromRaw(exchange.RawFundingRate{Symbol: "BTCUSDT", FundingTime: 1704067200000, Rate: 0.0001})
	_, _, err := pool.InsertFundingRates(ctx, []storage.FundingRow{row})
	require.NoError(t, err)

	m := &Metrics{Pool: pool}
	f, err := m.FundingRate(ctx, []string{"BTCUSDT"}, "2024-01-01", "2024-01-01")
	require.NoError(t, err)
	require.Equal(t, 1, f.Len())
	assert.Equal(t, 0.0001, f.Value("funding_rate", 0))
	assert.True(t, f.Value("mark_price", 0) != f.Value("mark_price", 0))
}
