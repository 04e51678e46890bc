package timeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrideMS(t *testing.T) {
	cases := []struct {
		freq Freq
		want int64
	}{
		{Freq1m, 60_000},
		{Freq5m, 300_000},
		{Freq1h, 3_600_000},
		{Freq4h, 14_400_000},
		{Freq1d, 86_400_000},
		{Freq1w, 604_800_000},
	}
	for _, c := range cases {
		got, err := StrideMS(c.freq)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, c.freq)
	}
}

func TestStrideMS_Unbounded(t *testing.T) {
	_, err := StrideMS(Freq1M)
	assert.Error(t, err)
	_, err = StrideMS("bogus")
	assert.Error(t, err)
}

func TestExpectedPoints(t *testing.T) {
	n, err := ExpectedPoints(24*3_600_000, Freq1h)
	require.NoError(t, err)
	assert.Equal(t, int64(24), n)

	// Partial last bar still rounds up.
	n, err = ExpectedPoints(90*60_000, Freq1h)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Minimum of 1 even for a zero span.
	n, err = ExpectedPoints(0, Freq1h)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDateToTSEnd_DailyBoundary(t *testing.T) {
	start, err := DateToTSStart("2024-01-01")
	require.NoError(t, err)
	end, err := DateToTSEnd("2024-01-01", Freq1d)
	require.NoError(t, err)
	assert.Equal(t, int64(86_400_000-1), end-start)
}

func TestSubtractMonths_MonthEndAware(t *testing.T) {
	got, err := SubtractMonths("2024-03-31", 1)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", got) // 2024 is a leap year

	got, err = SubtractMonths("2024-05-31", 3)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", got)
}

func TestGenerateRebalanceDates(t *testing.T) {
	dates, err := GenerateRebalanceDates("2024-01-15", "2024-06-15", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15", "2024-03-15", "2024-05-15"}, dates)
}

func TestGenerateRebalanceDates_EndBeforeStart(t *testing.T) {
	_, err := GenerateRebalanceDates("2024-06-15", "2024-01-15", 1)
	assert.Error(t, err)
}
