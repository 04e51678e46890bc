// Package export materialises an aligned (symbol, timestamp) frame as
// per-day, per-feature KxT NumPy matrices plus a stacked timestamp cube
// and a daily symbol-order index: group by date, unstack each feature to
// a KxT matrix, forward-fill along time, and merge timestamp series in
// the fixed [open, close, oi, lsr*, fr] order.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/npy"
	"github.com/ppmina/xdata-go/internal/query"
	"github.com/ppmina/xdata-go/internal/resample"
	"github.com/ppmina/xdata-go/internal/table"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

// ErrMissingSource is returned when the requested source frequency has no
// K-line rows in storage at all.
var ErrMissingSource = fmt.Errorf("export: no K-line data for requested source frequency")

// DefaultFieldMapping is the long->short export rename table, excluding
// the long/short-ratio columns (those are already renamed to their export
// name by the query layer's rename_to_export_name option).
var DefaultFieldMapping = map[string]string{
	"open_price":              "opn",
	"high_price":              "hgh",
	"low_price":               "low",
	"close_price":             "cls",
	"volume":                  "vol",
	"quote_volume":            "amt",
	"trades_count":            "tnum",
	"taker_buy_volume":        "tbvol",
	"taker_buy_quote_volume":  "tbamt",
	"taker_sell_volume":       "tsvol",
	"taker_sell_quote_volume": "tsamt",
	"funding_rate":            "fr",
	"open_interest":           "oi",
	"open_interest_value":     "oiv",
}

// OpenInterestConfig toggles whether open_interest_value is exported
// alongside open_interest.
type OpenInterestConfig struct {
	Enabled      bool
	IncludeValue bool
	Interval     string // defaults to "5m"
}

// MetricsConfig normalizes the legacy single-string and the four-bool
// long/short-ratio configuration forms into an explicit requested-type
// set, decided once at config parse time.
type MetricsConfig struct {
	FundingRate    bool
	OpenInterest   *OpenInterestConfig
	LongShortRatio map[exchange.RatioType]bool
	LSRPeriod      string // defaults to "5m"
}

func (m MetricsConfig) lsrTypes() []exchange.RatioType {
	var out []exchange.RatioType
	for _, rt := range exchange.AllRatioTypes {
		if m.LongShortRatio[rt] {
			out = append(out, rt)
		}
	}
	return out
}

// Config is one export_combined invocation's parameters.
type Config struct {
	Symbols        []string
	StartDate      string
	EndDate        string
	SourceFreq     timeutil.Freq
	ExportFreq     timeutil.Freq
	OutputDir      string
	IncludeKlines  bool
	IncludeMetrics bool
	Metrics        MetricsConfig
	FieldMapping   map[string]string // nil uses DefaultFieldMapping
}

// capturedSeries is one timestamp-audit series (open, close, or a metric's
// as-of source timestamp), stored as a single-column float64 Frame sharing
// the export frame's (symbol, timestamp) row index; NaN marks "not
// captured for this row".
type capturedSeries struct {
	name  string
	frame *table.Frame
}

// timestampCubeOrder is the fixed stacking order of the cube's layers;
// series that were not captured for a run are skipped, order preserved.
var timestampCubeOrder = []string{"open_ts", "close_ts", "oi_ts", "lsr_ta_ts", "lsr_tp_ts", "lsr_ga_ts", "lsr_tv_ts", "fr_ts"}

// Exporter runs export_combined against a storage pool's query layer.
// symLock serializes univ_dct2.json's read-modify-write cycle across
// concurrent per-day writers.
type Exporter struct {
	Klines  *query.Klines
	Metrics *query.Metrics

	symLock sync.Mutex
}

// ExportCombined implements export_combined.
func (e *Exporter) ExportCombined(ctx context.Context, cfg Config) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("export: creating output dir: %w", err)
	}

	klines, err := e.Klines.Select(ctx, cfg.Symbols, cfg.StartDate, cfg.EndDate, cfg.SourceFreq, nil, true)
	if err != nil {
		if err == query.ErrNoData {
			return ErrMissingSource
		}
		return fmt.Errorf("export: loading klines: %w", err)
	}

	// Promote the close_time aux series to a regular column so it survives
	// resampling (last sub-bar wins) before it is captured and dropped.
	if closeTimes, ok := klines.AuxInt64["close_time"]; ok && len(closeTimes) == klines.Len() {
		vals := make([]float64, len(closeTimes))
		for i, ct := range closeTimes {
			if ct == 0 {
				vals[i] = table.NaN
				continue
			}
			vals[i] = float64(ct)
		}
		klines.SetColumn("close_time", vals)
	}

	exportFrame := klines
	if cfg.ExportFreq != cfg.SourceFreq {
		sourceFreq := cfg.SourceFreq
		agg := make(map[string]resample.Agg, len(resample.DefaultKlineAgg)+1)
		for c, a := range resample.DefaultKlineAgg {
			agg[c] = a
		}
		agg["close_time"] = resample.AggLast
		exportFrame, err = resample.Resample(klines, cfg.ExportFreq, agg, &sourceFreq)
		if err != nil {
			return fmt.Errorf("export: resampling klines: %w", err)
		}
	}

	var captured []capturedSeries
	captured = append(captured, capturedSeries{name: "open_ts", frame: tsColumn(exportFrame.Symbols, exportFrame.Timestamps, exportFrame.Timestamps)})

	if col, ok := exportFrame.Columns["close_time"]; ok {
		f := table.New("ts")
		for i := range exportFrame.Symbols {
			f.AppendRow(exportFrame.Symbols[i], exportFrame.Timestamps[i], map[string]float64{"ts": col[i]})
		}
		f.BuildIndex()
		captured = append(captured, capturedSeries{name: "close_ts", frame: f})
		exportFrame.RemoveColumn("close_time")
	}

	if cfg.IncludeMetrics {
		if err := e.mergeMetrics(ctx, cfg, exportFrame, &captured); err != nil {
			return err
		}
	}

	if !cfg.IncludeKlines {
		for c := range resample.DefaultKlineAgg {
			exportFrame.RemoveColumn(c)
		}
	}

	mapping := cfg.FieldMapping
	if mapping == nil {
		mapping = DefaultFieldMapping
	}
	for from, to := range mapping {
		exportFrame.RenameColumn(from, to)
	}

	return e.writeByDay(exportFrame, captured, cfg.OutputDir)
}

// mergeMetrics fetches, resamples and as-of aligns each configured metric
// onto exportFrame's timestamps, appending its column(s) in place and
// recording its original-timestamp audit series.
func (e *Exporter) mergeMetrics(ctx context.Context, cfg Config, exportFrame *table.Frame, captured *[]capturedSeries) error {
	if e.Metrics == nil {
		return nil
	}

	if cfg.Metrics.FundingRate {
		raw, err := e.Metrics.FundingRate(ctx, cfg.Symbols, cfg.StartDate, cfg.EndDate)
		if err != nil {
			return fmt.Errorf("export: funding rate: %w", err)
		}
		if err := mergeOne(exportFrame, raw, "funding_rate", cfg.ExportFreq, "fr_ts", captured); err != nil {
			return err
		}
	}

	if oi := cfg.Metrics.OpenInterest; oi != nil && oi.Enabled {
		interval := oi.Interval
		if interval == "" {
			interval = "5m"
		}
		columns := []string{"open_interest"}
		if oi.IncludeValue {
			columns = append(columns, "open_interest_value")
		}
		raw, err := e.Metrics.OpenInterest(ctx, cfg.Symbols, cfg.StartDate, cfg.EndDate, interval, columns)
		if err != nil {
			return fmt.Errorf("export: open interest: %w", err)
		}
		for _, col := range columns {
			if err := mergeOne(exportFrame, raw, col, cfg.ExportFreq, "oi_ts", captured); err != nil {
				return err
			}
		}
	}

	for _, ratioType := range cfg.Metrics.lsrTypes() {
		period := cfg.Metrics.LSRPeriod
		if period == "" {
			period = "5m"
		}
		raw, err := e.Metrics.LongShortRatioByType(ctx, cfg.Symbols, cfg.StartDate, cfg.EndDate, period, ratioType, true)
		if err != nil {
			return fmt.Errorf("export: long/short ratio %s: %w", ratioType, err)
		}
		column := exportNameByRatioType[ratioType]
		tsKey := fmt.Sprintf("lsr_%s_ts", ratioSuffix[ratioType])
		if err := mergeOne(exportFrame, raw, column, cfg.ExportFreq, tsKey, captured); err != nil {
			return err
		}
	}

	return nil
}

var exportNameByRatioType = map[exchange.RatioType]string{
	exchange.RatioTopTraderAccount:  "lsr_ta",
	exchange.RatioTopTraderPosition: "lsr_tp",
	exchange.RatioGlobalAccount:     "lsr_ga",
	exchange.RatioTakerVolume:       "lsr_tv",
}

var ratioSuffix = map[exchange.RatioType]string{
	exchange.RatioTopTraderAccount:  "ta",
	exchange.RatioTopTraderPosition: "tp",
	exchange.RatioGlobalAccount:     "ga",
	exchange.RatioTakerVolume:       "tv",
}

// mergeOne resamples raw (typically with "last") and as-of aligns it onto
// exportFrame's timestamps, then copies the named column onto exportFrame
// in place and records the alignment's original-timestamp audit series.
func mergeOne(exportFrame, raw *table.Frame, column string, targetFreq timeutil.Freq, tsKey string, captured *[]capturedSeries) error {
	if raw.Empty() || !raw.HasColumn(column) {
		return nil
	}
	aligned, originalTS, err := resample.AndAlign(raw, exportFrame, targetFreq, map[string]resample.Agg{column: resample.AggLast}, resample.MethodAsOf)
	if err != nil {
		return fmt.Errorf("export: aligning %s: %w", column, err)
	}
	exportFrame.SetColumn(column, aligned.Columns[column])
	*captured = append(*captured, capturedSeries{name: tsKey, frame: originalTS})
	return nil
}

// tsColumn builds a single-column "ts" Frame sharing symbols/timestamps
// with the reference frame, where values[i] is the captured timestamp for
// row i (0 is treated as "not captured" and becomes NaN).
func tsColumn(symbols []string, timestamps []int64, values []int64) *table.Frame {
	f := table.New("ts")
	for i := range symbols {
		v := table.NaN
		if i < len(values) && values[i] != 0 {
			v = float64(values[i])
		}
		f.AppendRow(symbols[i], timestamps[i], map[string]float64{"ts": v})
	}
	f.BuildIndex()
	return f
}

// writeByDay groups frame's rows by the UTC calendar date of the bar open,
// and for each day writes one K×T matrix per feature column plus the
// stacked timestamp cube and the univ_dct2.json symbol-order entry.
func (e *Exporter) writeByDay(frame *table.Frame, captured []capturedSeries, outputDir string) error {
	days := dayGroups(frame.Timestamps)
	for _, day := range days {
		rowIdx := day.rows
		daySymbols := dayOrderedSymbols(frame, rowIdx)
		dayTimes := dayOrderedTimes(frame, rowIdx)

		for _, col := range frame.ColumnNames {
			matrix := buildMatrix(frame, col, rowIdx, daySymbols, dayTimes, true)
			path := filepath.Join(outputDir, col, day.key+".npy")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("export: creating %s dir: %w", col, err)
			}
			if err := npy.WriteFloat64(path, []int{len(daySymbols), len(dayTimes)}, matrix); err != nil {
				return fmt.Errorf("export: writing %s/%s: %w", col, day.key, err)
			}
		}

		if err := e.writeTimestampCube(frame, captured, rowIdx, daySymbols, dayTimes, day.key, outputDir); err != nil {
			return err
		}

		if err := e.updateSymbolIndex(outputDir, day.key, daySymbols); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) writeTimestampCube(frame *table.Frame, captured []capturedSeries, rowIdx []int, daySymbols []string, dayTimes []int64, dayKey, outputDir string) error {
	byName := make(map[string]*table.Frame, len(captured))
	for _, c := range captured {
		byName[c.name] = c.frame
	}

	var layers [][]int64
	var present []string
	for _, name := range timestampCubeOrder {
		series, ok := byName[name]
		if !ok || series == nil {
			continue
		}
		mat := buildMatrixFromSeries(frame, series, rowIdx, daySymbols, dayTimes)
		layers = append(layers, toInt64Sentinel(mat))
		present = append(present, name)
	}
	if len(layers) == 0 {
		return nil
	}

	k := len(daySymbols)
	t := len(dayTimes)
	n := len(layers)
	cube := make([]int64, n*k*t)
	for li, layer := range layers {
		copy(cube[li*k*t:(li+1)*k*t], layer)
	}

	path := filepath.Join(outputDir, "timestamp", dayKey+".npy")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: creating timestamp dir: %w", err)
	}
	return npy.WriteInt64(path, []int{n, k, t}, cube)
}

// updateSymbolIndex performs the guarded read-modify-write of
// univ_dct2.json for one day, writing through a temp file + rename so a
// reader never observes a partially-written file.
func (e *Exporter) updateSymbolIndex(outputDir, dayKey string, symbols []string) error {
	e.symLock.Lock()
	defer e.symLock.Unlock()

	path := filepath.Join(outputDir, "univ_dct2.json")
	payload := map[string][]string{}
	if raw, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(raw, &payload)
	}
	payload[dayKey] = symbols

	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshaling univ_dct2.json: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("export: writing univ_dct2.json: %w", err)
	}
	return os.Rename(tmp, path)
}

type dayGroup struct {
	key  string
	rows []int
}

func dayGroups(timestamps []int64) []dayGroup {
	byKey := make(map[string][]int)
	var order []string
	for i, ts := range timestamps {
		key := time.UnixMilli(ts).UTC().Format("20060102")
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], i)
	}
	sort.Strings(order)
	out := make([]dayGroup, len(order))
	for i, k := range order {
		out[i] = dayGroup{key: k, rows: byKey[k]}
	}
	return out
}

// dayOrderedSymbols returns the distinct symbols among rowIdx in
// lexicographic order, fixed per day (for the frame, which is globally
// sorted by symbol then timestamp, this is also first-appearance order).
func dayOrderedSymbols(frame *table.Frame, rowIdx []int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rowIdx {
		s := frame.Symbols[r]
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// dayOrderedTimes returns the distinct timestamps among rowIdx, ascending:
// the day's time axis (T), tolerating partial days at window endpoints.
func dayOrderedTimes(frame *table.Frame, rowIdx []int) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, r := range rowIdx {
		ts := frame.Timestamps[r]
		if !seen[ts] {
			seen[ts] = true
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// buildMatrix materialises one feature column as a K×T matrix for the
// day's rows, forward-filling missing values along the time axis per
// symbol; leading NaNs before a symbol's first observation stay NaN.
func buildMatrix(frame *table.Frame, column string, rowIdx []int, daySymbols []string, dayTimes []int64, forwardFill bool) []float64 {
	k, t := len(daySymbols), len(dayTimes)
	matrix := make([]float64, k*t)
	for i := range matrix {
		matrix[i] = table.NaN
	}
	symIdx := indexOf(daySymbols)
	timeIdx := indexOfTS(dayTimes)

	for _, r := range rowIdx {
		si, ok := symIdx[frame.Symbols[r]]
		if !ok {
			continue
		}
		ti, ok := timeIdx[frame.Timestamps[r]]
		if !ok {
			continue
		}
		matrix[si*t+ti] = frame.Value(column, r)
	}

	if forwardFill {
		for si := 0; si < k; si++ {
			var last float64 = table.NaN
			hasLast := false
			for ti := 0; ti < t; ti++ {
				idx := si*t + ti
				if table.IsNaN(matrix[idx]) {
					if hasLast {
						matrix[idx] = last
					}
					continue
				}
				last = matrix[idx]
				hasLast = true
			}
		}
	}
	return matrix
}

// buildMatrixFromSeries is buildMatrix specialised to a capturedSeries
// frame's single "ts"/"original_timestamp" column, without forward-fill —
// timestamp audits report only rows where alignment actually found a
// source observation.
func buildMatrixFromSeries(reference *table.Frame, series *table.Frame, rowIdx []int, daySymbols []string, dayTimes []int64) []float64 {
	k, t := len(daySymbols), len(dayTimes)
	matrix := make([]float64, k*t)
	for i := range matrix {
		matrix[i] = table.NaN
	}
	symIdx := indexOf(daySymbols)
	timeIdx := indexOfTS(dayTimes)

	column := "ts"
	if series.HasColumn("original_timestamp") {
		column = "original_timestamp"
	}

	for _, r := range rowIdx {
		sym := reference.Symbols[r]
		ts := reference.Timestamps[r]
		si, ok := symIdx[sym]
		if !ok {
			continue
		}
		ti, ok := timeIdx[ts]
		if !ok {
			continue
		}
		sStart, sEnd, ok := series.SymbolRange(sym)
		if !ok {
			continue
		}
		row := findRow(series, sStart, sEnd, ts)
		if row < 0 {
			continue
		}
		matrix[si*t+ti] = series.Value(column, row)
	}
	return matrix
}

func findRow(f *table.Frame, start, end int, ts int64) int {
	for i := start; i < end; i++ {
		if f.Timestamps[i] == ts {
			return i
		}
	}
	return -1
}

func toInt64Sentinel(values []float64) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		if table.IsNaN(v) {
			out[i] = 0
			continue
		}
		out[i] = int64(v)
	}
	return out
}

func indexOf(symbols []string) map[string]int {
	m := make(map[string]int, len(symbols))
	for i, s := range symbols {
		m[s] = i
	}
	return m
}

func indexOfTS(ts []int64) map[int64]int {
	m := make(map[int64]int, len(ts))
	for i, t := range ts {
		m[t] = i
	}
	return m
}
