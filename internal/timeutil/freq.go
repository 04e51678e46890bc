// Package timeutil implements frequency/stride mapping, bar-aligned
// timestamp boundaries and rebalance-date generation for UTC millisecond
// timestamps.
package timeutil

import "fmt"

// Freq is a sum type over the supported bar frequencies.
type Freq string

const (
	Freq1s  Freq = "1s"
	Freq1m  Freq = "1m"
	Freq3m  Freq = "3m"
	Freq5m  Freq = "5m"
	Freq15m Freq = "15m"
	Freq30m Freq = "30m"
	Freq1h  Freq = "1h"
	Freq2h  Freq = "2h"
	Freq4h  Freq = "4h"
	Freq6h  Freq = "6h"
	Freq8h  Freq = "8h"
	Freq12h Freq = "12h"
	Freq1d  Freq = "1d"
	Freq3d  Freq = "3d"
	Freq1w  Freq = "1w"
	Freq1M  Freq = "1M"
)

const (
	second = int64(1000)
	minute = 60 * second
	hour   = 60 * minute
	day    = 24 * hour
	week   = 7 * day
)

// strideTable maps every frequency with a fixed-width bar to its canonical
// millisecond stride. 1M (calendar month) has no fixed stride and is
// handled separately by callers that need calendar arithmetic.
var strideTable = map[Freq]int64{
	Freq1s:  second,
	Freq1m:  minute,
	Freq3m:  3 * minute,
	Freq5m:  5 * minute,
	Freq15m: 15 * minute,
	Freq30m: 30 * minute,
	Freq1h:  hour,
	Freq2h:  2 * hour,
	Freq4h:  4 * hour,
	Freq6h:  6 * hour,
	Freq8h:  8 * hour,
	Freq12h: 12 * hour,
	Freq1d:  day,
	Freq3d:  3 * day,
	Freq1w:  week,
}

// ProviderString returns the provider-facing wire string for a frequency.
// It is identical to the canonical value.
func (f Freq) ProviderString() string {
	return string(f)
}

// Valid reports whether f is a recognized frequency.
func (f Freq) Valid() bool {
	if f == Freq1M {
		return true
	}
	_, ok := strideTable[f]
	return ok
}

// StrideMS returns the canonical milliseconds per bar for f. Frequencies
// without a fixed stride (1M) return an error.
func StrideMS(f Freq) (int64, error) {
	if ms, ok := strideTable[f]; ok {
		return ms, nil
	}
	if f == Freq1M {
		return 0, fmt.Errorf("timeutil: %q has no fixed millisecond stride (calendar month)", f)
	}
	return 0, fmt.Errorf("timeutil: unknown frequency %q", f)
}

// ExpectedPoints returns ceil(durationMS / stride), minimum 1.
func ExpectedPoints(durationMS int64, f Freq) (int64, error) {
	stride, err := StrideMS(f)
	if err != nil {
		return 0, err
	}
	if stride <= 0 {
		return 0, fmt.Errorf("timeutil: non-positive stride for %q", f)
	}
	n := (durationMS + stride - 1) / stride
	if n < 1 {
		n = 1
	}
	return n, nil
}
