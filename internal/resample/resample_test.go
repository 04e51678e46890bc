package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppmina/xdata-go/internal/table"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

const hourMS = int64(3_600_000)

// hourlyDayFrame builds 24 hourly bars for one symbol on one UTC day with
// open=100+i, high=200+i, low=50-i, close=150+i, volume=1000.
func hourlyDayFrame(symbol string, day0 int64) *table.Frame {
	f := table.New("open_price", "high_price", "low_price", "close_price", "volume")
	for i := int64(0); i < 24; i++ {
		f.AppendRow(symbol, day0+i*hourMS, map[string]float64{
			"open_price":  100 + float64(i),
			"high_price":  200 + float64(i),
			"low_price":   50 - float64(i),
			"close_price": 150 + float64(i),
			"volume":      1000,
		})
	}
	f.BuildIndex()
	return f
}

func TestResample_HourlyToDailyOHLCV(t *testing.T) {
	const day0 = int64(1704067200000) // 2024-01-01T00:00:00Z
	f := hourlyDayFrame("BTCUSDT", day0)

	source := timeutil.Freq1h
	out, err := Resample(f, timeutil.Freq1d, DefaultKlineAgg, &source)
	require.NoError(t, err)

	require.Equal(t, 1, out.Len())
	assert.Equal(t, day0, out.Timestamps[0])
	assert.Equal(t, 100.0, out.Value("open_price", 0))
	assert.Equal(t, 223.0, out.Value("high_price", 0))
	assert.Equal(t, 27.0, out.Value("low_price", 0))
	assert.Equal(t, 173.0, out.Value("close_price", 0))
	assert.Equal(t, 24000.0, out.Value("volume", 0))
}

func TestResample_NeverIncreasesRowCount(t *testing.T) {
	const day0 = int64(1704067200000)
	f := hourlyDayFrame("BTCUSDT", day0)
	for i := int64(0); i < 24; i++ {
		f.AppendRow("ETHUSDT", day0+i*hourMS, map[string]float64{
			"open_price": 1, "high_price": 1, "low_price": 1, "close_price": 1, "volume": 1,
		})
	}
	f.Sort()
	f.BuildIndex()

	source := timeutil.Freq1h
	for _, target := range []timeutil.Freq{timeutil.Freq2h, timeutil.Freq4h, timeutil.Freq1d} {
		out, err := Resample(f, target, DefaultKlineAgg, &source)
		require.NoError(t, err)
		assert.LessOrEqual(t, out.Len(), f.Len(), target)
	}

	// Identical target stride keeps every row.
	out, err := Resample(f, timeutil.Freq1h, DefaultKlineAgg, &source)
	require.NoError(t, err)
	assert.Equal(t, f.Len(), out.Len())
}

func TestResample_UpsamplingFails(t *testing.T) {
	const day0 = int64(1704067200000)
	f := hourlyDayFrame("BTCUSDT", day0)

	source := timeutil.Freq1h
	_, err := Resample(f, timeutil.Freq5m, DefaultKlineAgg, &source)
	assert.Error(t, err)

	// Non-integer-multiple strides fail too: 90m does not exist as a
	// frequency, but 3d over 2h does (3d % 2h == 0), while 1w over 3d
	// does not.
	source3d := timeutil.Freq3d
	_, err = Resample(f, timeutil.Freq1w, DefaultKlineAgg, &source3d)
	assert.Error(t, err)
}

func TestAlign_AsOfNeverLooksAhead(t *testing.T) {
	const day0 = int64(1704067200000)
	klines := hourlyDayFrame("BTCUSDT", day0)

	metrics := table.New("funding_rate")
	// Events at 00:30, 08:00 and 16:30 — never exactly on most bar opens.
	metrics.AppendRow("BTCUSDT", day0+30*60_000, map[string]float64{"funding_rate": 0.0001})
	metrics.AppendRow("BTCUSDT", day0+8*hourMS, map[string]float64{"funding_rate": 0.0002})
	metrics.AppendRow("BTCUSDT", day0+16*hourMS+30*60_000, map[string]float64{"funding_rate": 0.0003})
	metrics.BuildIndex()

	aligned, originalTS, err := Align(metrics, klines, MethodAsOf, true)
	require.NoError(t, err)

	// One output row per reference row, identically indexed.
	require.Equal(t, klines.Len(), aligned.Len())
	require.Equal(t, klines.Len(), originalTS.Len())
	for i := 0; i < aligned.Len(); i++ {
		assert.Equal(t, klines.Symbols[i], aligned.Symbols[i])
		assert.Equal(t, klines.Timestamps[i], aligned.Timestamps[i])

		src := originalTS.Value("original_timestamp", i)
		if !table.IsNaN(src) {
			assert.LessOrEqual(t, int64(src), klines.Timestamps[i],
				"audited source timestamp must never exceed the bar timestamp")
		}
	}

	// The 00:00 bar predates every event and stays NaN.
	assert.True(t, table.IsNaN(aligned.Value("funding_rate", 0)))
	// The 01:00 bar sees the 00:30 event.
	assert.Equal(t, 0.0001, aligned.Value("funding_rate", 1))
	// The 08:00 bar sees the event landing exactly on its open.
	assert.Equal(t, 0.0002, aligned.Value("funding_rate", 8))
	// The 16:00 bar must NOT see the 16:30 event.
	assert.Equal(t, 0.0002, aligned.Value("funding_rate", 16))
	assert.Equal(t, 0.0003, aligned.Value("funding_rate", 17))
}

func TestAlign_SymbolOverlapIsIntersection(t *testing.T) {
	const day0 = int64(1704067200000)
	klines := hourlyDayFrame("BTCUSDT", day0)

	metrics := table.New("open_interest")
	metrics.AppendRow("ETHUSDT", day0, map[string]float64{"open_interest": 42})
	metrics.BuildIndex()

	aligned, _, err := Align(metrics, klines, MethodAsOf, false)
	require.NoError(t, err)

	// Reference rows survive; the metric column is NaN throughout since
	// ETHUSDT never appears in the reference.
	require.Equal(t, klines.Len(), aligned.Len())
	for i := 0; i < aligned.Len(); i++ {
		assert.True(t, table.IsNaN(aligned.Value("open_interest", i)))
	}
}

func TestAndAlign_EmptyMetricsYieldsEmptyFrame(t *testing.T) {
	const day0 = int64(1704067200000)
	klines := hourlyDayFrame("BTCUSDT", day0)
	metrics := table.New("funding_rate")

	aligned, originalTS, err := AndAlign(metrics, klines, timeutil.Freq1h, map[string]Agg{"funding_rate": AggLast}, MethodAsOf)
	require.NoError(t, err)
	assert.True(t, aligned.Empty())
	assert.True(t, originalTS.Empty())
}

func TestAndAlign_ResamplesThenAligns(t *testing.T) {
	const day0 = int64(1704067200000)
	klines := hourlyDayFrame("BTCUSDT", day0)

	// Three 5m observations inside hour 0; "last" wins for the hour bucket.
	metrics := table.New("open_interest")
	metrics.AppendRow("BTCUSDT", day0, map[string]float64{"open_interest": 10})
	metrics.AppendRow("BTCUSDT", day0+5*60_000, map[string]float64{"open_interest": 20})
	metrics.AppendRow("BTCUSDT", day0+10*60_000, map[string]float64{"open_interest": 30})
	metrics.BuildIndex()

	aligned, originalTS, err := AndAlign(metrics, klines, timeutil.Freq1h, map[string]Agg{"open_interest": AggLast}, MethodAsOf)
	require.NoError(t, err)
	require.Equal(t, klines.Len(), aligned.Len())

	// Hour 0's bucket label is day0 itself, so the 00:00 bar already sees
	// the aggregated value, and it holds for the rest of the day.
	assert.Equal(t, 30.0, aligned.Value("open_interest", 0))
	assert.Equal(t, 30.0, aligned.Value("open_interest", 23))
	assert.Equal(t, float64(day0), originalTS.Value("original_timestamp", 5))
}

func TestAlign_NearestMayLookAheadButAuditsIt(t *testing.T) {
	const day0 = int64(1704067200000)
	klines := hourlyDayFrame("BTCUSDT", day0)

	metrics := table.New("funding_rate")
	metrics.AppendRow("BTCUSDT", day0+30*60_000, map[string]float64{"funding_rate": 0.5})
	metrics.BuildIndex()

	aligned, originalTS, err := Align(metrics, klines, MethodNearest, true)
	require.NoError(t, err)

	// The 00:00 bar picks the 00:30 event — a lookahead — and the audit
	// series records the future source timestamp so callers can detect it.
	assert.Equal(t, 0.5, aligned.Value("funding_rate", 0))
	assert.Equal(t, float64(day0+30*60_000), originalTS.Value("original_timestamp", 0))
}
