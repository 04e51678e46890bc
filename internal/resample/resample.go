// Package resample implements OHLCV-correct time downsampling and
// backward-only ("as-of") alignment of asynchronous metrics onto K-line
// timestamps. The as-of alignment contract is what keeps downstream
// backtests free of lookahead bias.
package resample

import (
	"fmt"
	"math"

	"github.com/ppmina/xdata-go/internal/table"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

// Agg names a per-column aggregation strategy for a resample bucket.
type Agg string

const (
	AggFirst Agg = "first"
	AggLast  Agg = "last"
	AggMax   Agg = "max"
	AggMin   Agg = "min"
	AggSum   Agg = "sum"
)

// DefaultKlineAgg is the OHLCV-correct aggregation for the
// K-line feature set.
var DefaultKlineAgg = map[string]Agg{
	"open_price":              AggFirst,
	"high_price":              AggMax,
	"low_price":               AggMin,
	"close_price":             AggLast,
	"volume":                  AggSum,
	"quote_volume":            AggSum,
	"trades_count":            AggSum,
	"taker_buy_volume":        AggSum,
	"taker_buy_quote_volume":  AggSum,
	"taker_sell_volume":       AggSum,
	"taker_sell_quote_volume": AggSum,
}

type accumulator struct {
	agg     Agg
	value   float64
	started bool
}

func (a *accumulator) add(v float64) {
	if table.IsNaN(v) {
		return
	}
	if !a.started {
		a.value = v
		a.started = true
		return
	}
	switch a.agg {
	case AggFirst:
		// keep the first value seen; nothing to do
	case AggLast:
		a.value = v
	case AggMax:
		if v > a.value {
			a.value = v
		}
	case AggMin:
		if v < a.value {
			a.value = v
		}
	case AggSum:
		a.value += v
	default:
		a.value = v
	}
}

func (a *accumulator) result() float64 {
	if !a.started {
		return table.NaN
	}
	return a.value
}

// Resample buckets f's rows into left-closed, left-labelled windows of
// width stride_ms(targetFreq), aligned to the UTC epoch, grouping per
// symbol and aggregating each column per agg (defaulting to "last" for any
// column not named in agg). When sourceFreq is non-nil, only downsampling
// is permitted: targetFreq's stride must be an integer multiple of
// sourceFreq's stride, or Resample fails (upsampling is undefined).
// sourceFreq is nil for irregular series (metrics), where any bucket
// width is accepted.
func Resample(f *table.Frame, targetFreq timeutil.Freq, agg map[string]Agg, sourceFreq *timeutil.Freq) (*table.Frame, error) {
	targetStride, err := timeutil.StrideMS(targetFreq)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	if sourceFreq != nil {
		sourceStride, err := timeutil.StrideMS(*sourceFreq)
		if err != nil {
			return nil, fmt.Errorf("resample: %w", err)
		}
		if targetStride < sourceStride || targetStride%sourceStride != 0 {
			return nil, fmt.Errorf("resample: target stride %dms is not an integer multiple of source stride %dms (upsampling is undefined)", targetStride, sourceStride)
		}
	}

	out := table.New(f.ColumnNames...)
	if f.Empty() {
		out.BuildIndex()
		return out, nil
	}

	for _, symbol := range f.SymbolOrder() {
		start, end, _ := f.SymbolRange(symbol)
		var bucketStart int64 = -1
		accs := make(map[string]*accumulator, len(f.ColumnNames))
		resetAccs := func() {
			accs = make(map[string]*accumulator, len(f.ColumnNames))
			for _, c := range f.ColumnNames {
				a := agg[c]
				if a == "" {
					a = AggLast
				}
				accs[c] = &accumulator{agg: a}
			}
		}
		resetAccs()

		flush := func() {
			if bucketStart < 0 {
				return
			}
			values := make(map[string]float64, len(f.ColumnNames))
			for _, c := range f.ColumnNames {
				values[c] = accs[c].result()
			}
			out.AppendRow(symbol, bucketStart, values)
		}

		for i := start; i < end; i++ {
			ts := f.Timestamps[i]
			bucket := (ts / targetStride) * targetStride
			if bucket != bucketStart {
				flush()
				bucketStart = bucket
				resetAccs()
			}
			for _, c := range f.ColumnNames {
				accs[c].add(f.Value(c, i))
			}
		}
		flush()
	}

	out.Sort()
	out.BuildIndex()
	return out, nil
}

// AlignMethod selects the as-of alignment strategy.
type AlignMethod string

const (
	// MethodAsOf is the only method recommended for production use: the
	// aligned value is the metric row with the largest metric_ts <=
	// kline_ts, or NaN if none exists. Never introduces lookahead.
	MethodAsOf AlignMethod = "asof"
	// MethodNearest selects by minimum absolute distance; it may introduce
	// lookahead and is unsafe for backtesting.
	MethodNearest AlignMethod = "nearest"
)

// Align implements align_to_kline_timestamps: for every (symbol, kline_ts)
// row in reference, produce one aligned row carrying metrics' column
// values as of that timestamp (method-dependent), plus (if
// returnOriginalTimestamps) an audit frame recording the source metric_ts
// used per row (NaN where none existed).
//
// The output is indexed identically to reference: same row count, same
// (symbol, timestamp) order, one row per reference row. Symbols present in
// one side but not the other simply produce NaN columns on every aligned
// row for that symbol (if present in reference) or are absent entirely (if
// absent from reference) — alignment never invents reference rows.
func Align(metrics, reference *table.Frame, method AlignMethod, returnOriginalTimestamps bool) (aligned, originalTS *table.Frame, err error) {
	aligned = table.New(metrics.ColumnNames...)
	if returnOriginalTimestamps {
		originalTS = table.New("original_timestamp")
	}

	for i := 0; i < reference.Len(); i++ {
		symbol := reference.Symbols[i]
		klineTS := reference.Timestamps[i]

		mStart, mEnd, ok := metrics.SymbolRange(symbol)
		var matchRow = -1
		if ok {
			switch method {
			case MethodNearest:
				matchRow = nearestRow(metrics, mStart, mEnd, klineTS)
			default:
				matchRow = lastAtOrBefore(metrics, mStart, mEnd, klineTS)
			}
		}

		values := make(map[string]float64, len(metrics.ColumnNames))
		var sourceTS float64 = table.NaN
		if matchRow >= 0 {
			for _, c := range metrics.ColumnNames {
				values[c] = metrics.Value(c, matchRow)
			}
			sourceTS = float64(metrics.Timestamps[matchRow])
		}
		aligned.AppendRow(symbol, klineTS, values)
		if returnOriginalTimestamps {
			originalTS.AppendRow(symbol, klineTS, map[string]float64{"original_timestamp": sourceTS})
		}
	}

	aligned.BuildIndex()
	if originalTS != nil {
		originalTS.BuildIndex()
	}
	return aligned, originalTS, nil
}

// lastAtOrBefore returns the row index in [start,end) with the largest
// Timestamps[row] <= targetTS, or -1 if none. Rows within a symbol range
// are ascending, so this is a plain binary search.
func lastAtOrBefore(f *table.Frame, start, end int, targetTS int64) int {
	best := -1
	lo, hi := start, end
	for lo < hi {
		mid := (lo + hi) / 2
		if f.Timestamps[mid] <= targetTS {
			best = mid
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return best
}

// nearestRow returns the row index in [start,end) with Timestamps[row]
// closest to targetTS (ties broken toward the earlier row, i.e. `<=`
// favored), per MethodNearest's unsafe-for-backtesting semantics.
func nearestRow(f *table.Frame, start, end int, targetTS int64) int {
	best := -1
	bestDist := int64(math.MaxInt64)
	for i := start; i < end; i++ {
		d := f.Timestamps[i] - targetTS
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// AndAlign implements resample_and_align: resample metrics to targetFreq
// with aggStrategy (irregular source, no stride check), then align onto
// reference's timestamps with method.
func AndAlign(metrics, reference *table.Frame, targetFreq timeutil.Freq, aggStrategy map[string]Agg, method AlignMethod) (aligned, originalTS *table.Frame, err error) {
	if metrics.Empty() {
		empty := table.New(metrics.ColumnNames...)
		empty.BuildIndex()
		emptyTS := table.New("original_timestamp")
		emptyTS.BuildIndex()
		return empty, emptyTS, nil
	}
	resampled, err := Resample(metrics, targetFreq, aggStrategy, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("resample_and_align: %w", err)
	}
	return Align(resampled, reference, method, true)
}
