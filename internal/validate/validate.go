// Package validate implements the row-level K-line invariants:
// non-negative prices, high/low bounds, non-empty symbols, and
// stride-aligned open_time. Invalid rows are dropped; callers are
// responsible for the ">10% dropped" batch warning since that threshold
// is a property of a whole batch, not a single row.
package validate

import (
	"fmt"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

// Kline reports whether raw is a valid K-line row for symbol at freq.
func Kline(symbol string, freq timeutil.Freq, raw exchange.RawKline) error {
	if symbol == "" {
		return fmt.Errorf("validate: empty symbol")
	}
	if raw.Open < 0 || raw.High < 0 || raw.Low < 0 || raw.Close < 0 || raw.Volume < 0 {
		return fmt.Errorf("validate: negative price or volume for %s@%d", symbol, raw.OpenTime)
	}
	maxOCL := max3(raw.Open, raw.Close, raw.Low)
	if raw.High < maxOCL {
		return fmt.Errorf("validate: high %f < max(open,close,low) %f for %s@%d", raw.High, maxOCL, symbol, raw.OpenTime)
	}
	minOCH := min3(raw.Open, raw.Close, raw.High)
	if raw.Low > minOCH {
		return fmt.Errorf("validate: low %f > min(open,close,high) %f for %s@%d", raw.Low, minOCH, symbol, raw.OpenTime)
	}
	stride, err := timeutil.StrideMS(freq)
	if err == nil && stride > 0 && raw.OpenTime%stride != 0 {
		return fmt.Errorf("validate: open_time %d is not a multiple of stride %d for %s", raw.OpenTime, stride, symbol)
	}
	return nil
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// BatchResult reports how many rows of a batch were kept versus dropped,
// and whether that crossed the >10% drop warning threshold.
type BatchResult struct {
	Total   int
	Dropped int
	Reasons []string
}

// Warn reports whether more than 10% of the batch was dropped.
func (r BatchResult) Warn() bool {
	if r.Total == 0 {
		return false
	}
	return float64(r.Dropped)/float64(r.Total) > 0.10
}

// KlineBatch validates a slice of raw K-lines, returning the rows that pass
// and a BatchResult describing what was dropped and why.
func KlineBatch(symbol string, freq timeutil.Freq, raws []exchange.RawKline) ([]exchange.RawKline, BatchResult) {
	result := BatchResult{Total: len(raws)}
	kept := make([]exchange.RawKline, 0, len(raws))
	for _, raw := range raws {
		if err := Kline(symbol, freq, raw); err != nil {
			result.Dropped++
			result.Reasons = append(result.Reasons, err.Error())
			continue
		}
		kept = append(kept, raw)
	}
	return kept, result
}
