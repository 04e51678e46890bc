package universe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppmina/xdata-go/internal/exchange"
)

func dailyBar(dateStr string, quoteVolume float64) exchange.RawKline {
	t, _ := time.Parse("2006-01-02", dateStr)
	return exchange.RawKline{OpenTime: t.UnixMilli(), QuoteVolume: quoteVolume}
}

func buildFakeWithHistory(symbols []string, startDate string, days int, amounts map[string]float64) *exchange.Fake {
	f := exchange.NewFake()
	f.Symbols = symbols
	start, _ := time.Parse("2006-01-02", startDate)
	for _, sym := range symbols {
		var bars []exchange.RawKline
		for d := 0; d < days; d++ {
			date := start.AddDate(0, 0, d)
			bars = append(bars, dailyBar(date.Format("2006-01-02"), amounts[sym]))
		}
		f.Klines[sym] = bars
	}
	return f
}

func TestPlan_SelectsTopKByTurnover(t *testing.T) {
	amounts := map[string]float64{"BTCUSDT": 1000, "ETHUSDT": 500, "SOLUSDT": 2000}
	f := buildFakeWithHistory([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, "2024-01-01", 400, amounts)

	cfg := Config{
		StartDate:  "2024-06-01",
		EndDate:    "2024-09-01",
		T1Months:   3,
		T2Months:   3,
		T3Months:   1,
		DelayDays:  1,
		QuoteAsset: "USDT",
		TopK:       2,
	}

	def, err := Plan(context.Background(), f, cfg, Pacing{MaxConcurrent: 4})
	require.NoError(t, err)
	require.Len(t, def.Snapshots, 1)

	snap := def.Snapshots[0]
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, snap.Symbols)
	assert.Equal(t, "2024-06-01", snap.EffectiveDate)
}

func TestPlan_TemporalInvariantsHold(t *testing.T) {
	amounts := map[string]float64{"BTCUSDT": 1000}
	f := buildFakeWithHistory([]string{"BTCUSDT"}, "2024-01-01", 400, amounts)

	cfg := Config{
		StartDate:  "2024-06-01",
		EndDate:    "2025-01-01",
		T1Months:   3,
		T2Months:   3,
		T3Months:   1,
		DelayDays:  1,
		QuoteAsset: "USDT",
		TopK:       1,
	}

	def, err := Plan(context.Background(), f, cfg, Pacing{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(def.Snapshots), 2)

	for i, snap := range def.Snapshots {
		t1End, _ := time.Parse("2006-01-02", snap.CalculatedT1End)
		effective, _ := time.Parse("2006-01-02", snap.EffectiveDate)
		assert.False(t, t1End.After(effective), "snapshot %d: calculated_t1_end must not be after effective_date", i)

		start, _ := time.Parse("2006-01-02", snap.StartDate)
		assert.True(t, start.After(effective), "snapshot %d: start_date must be strictly after effective_date", i)

		if i > 0 {
			prevEnd, _ := time.Parse("2006-01-02", def.Snapshots[i-1].EndDate)
			assert.False(t, start.Before(prevEnd.AddDate(0, 0, -1)), "snapshot %d: unintended gap before prior end_date", i)
		}
	}
}

func TestConfig_Validate_ExactlyOneSelector(t *testing.T) {
	base := Config{
		StartDate: "2024-01-01", EndDate: "2024-02-01",
		T1Months: 1, T2Months: 1, T3Months: 0, DelayDays: 0, QuoteAsset: "USDT",
	}

	neither := base
	assert.Error(t, neither.Validate())

	both := base
	both.TopK = 5
	both.TopRatio = 0.5
	assert.Error(t, both.Validate())

	onlyTopK := base
	onlyTopK.TopK = 5
	assert.NoError(t, onlyTopK.Validate())
}

func TestFileName_EncodesParameterTuple(t *testing.T) {
	cfg := Config{
		StartDate: "2024-01-01", EndDate: "2024-12-01",
		T1Months: 3, T2Months: 1, T3Months: 2, DelayDays: 1,
		QuoteAsset: "USDT", TopK: 20,
	}
	name := cfg.FileName()
	assert.Contains(t, name, "2024-01-01")
	assert.Contains(t, name, "2024-12-01")
	assert.Contains(t, name, "topk20")
}
