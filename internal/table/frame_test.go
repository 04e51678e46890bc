package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_SortOrdersBySymbolThenTimestamp(t *testing.T) {
	f := New("price")
	f.AppendRow("ETHUSDT", 2000, map[string]float64{"price": 3})
	f.AppendRow("BTCUSDT", 2000, map[string]float64{"price": 2})
	f.AppendRow("BTCUSDT", 1000, map[string]float64{"price": 1})
	f.Sort()

	assert.Equal(t, []string{"BTCUSDT", "BTCUSDT", "ETHUSDT"}, f.Symbols)
	assert.Equal(t, []int64{1000, 2000, 2000}, f.Timestamps)
	assert.Equal(t, []float64{1, 2, 3}, f.Columns["price"])
}

func TestFrame_SymbolRangeCoversContiguousRows(t *testing.T) {
	f := New("price")
	f.AppendRow("BTCUSDT", 1000, map[string]float64{"price": 1})
	f.AppendRow("BTCUSDT", 2000, map[string]float64{"price": 2})
	f.AppendRow("ETHUSDT", 1000, map[string]float64{"price": 3})
	f.BuildIndex()

	start, end, ok := f.SymbolRange("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0, start)
	assert.Equal(t, 2, end)

	_, _, ok = f.SymbolRange("SOLUSDT")
	assert.False(t, ok)
}

func TestFrame_AppendRowFillsMissingColumnsWithNaN(t *testing.T) {
	f := New("a", "b")
	f.AppendRow("BTCUSDT", 1000, map[string]float64{"a": 1})
	assert.Equal(t, 1.0, f.Value("a", 0))
	assert.True(t, IsNaN(f.Value("b", 0)))
	assert.True(t, IsNaN(f.Value("missing", 0)))
}

func TestFrame_WithColumnBackfillsNaNWithoutMutatingOriginal(t *testing.T) {
	f := New("a")
	f.AppendRow("BTCUSDT", 1000, map[string]float64{"a": 1})

	g := f.WithColumn("b")
	require.True(t, g.HasColumn("b"))
	assert.False(t, f.HasColumn("b"))
	assert.True(t, IsNaN(g.Value("b", 0)))

	// Adding an existing column is a no-op returning the same frame.
	assert.Same(t, g, g.WithColumn("b"))
}

func TestFrame_RenameAndRemoveColumn(t *testing.T) {
	f := New("long_short_ratio")
	f.AppendRow("BTCUSDT", 1000, map[string]float64{"long_short_ratio": 1.5})

	f.RenameColumn("long_short_ratio", "lsr_ta")
	assert.True(t, f.HasColumn("lsr_ta"))
	assert.False(t, f.HasColumn("long_short_ratio"))
	assert.Equal(t, 1.5, f.Value("lsr_ta", 0))

	f.RemoveColumn("lsr_ta")
	assert.False(t, f.HasColumn("lsr_ta"))
	assert.Empty(t, f.ColumnNames)
}

func TestFrame_SortReordersAuxSeries(t *testing.T) {
	f := New("price")
	f.AppendRow("ETHUSDT", 1000, map[string]float64{"price": 2})
	f.SetAux("close_time", 1999)
	f.AppendRow("BTCUSDT", 1000, map[string]float64{"price": 1})
	f.SetAux("close_time", 1999)
	f.Sort()

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, f.Symbols)
	assert.Len(t, f.AuxInt64["close_time"], 2)
}

func TestFrame_SymbolOrderIsFirstAppearance(t *testing.T) {
	f := New("price")
	f.AppendRow("BTCUSDT", 1000, nil)
	f.AppendRow("BTCUSDT", 2000, nil)
	f.AppendRow("ETHUSDT", 1000, nil)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, f.SymbolOrder())
}
