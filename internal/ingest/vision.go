package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/storage"
)

// visionLSRColumns maps the Vision archive's canonical long/short-ratio
// column names onto the four ratio types the API path exposes.
// "count_toptrader_long_short_ratio" is the position-count variant of the
// top-trader ratio (vs. the account-count variant).
var visionLSRColumns = map[string]exchange.RatioType{
	"sum_toptrader_long_short_ratio":      exchange.RatioTopTraderAccount,
	"count_toptrader_long_short_ratio":    exchange.RatioTopTraderPosition,
	"sum_global_long_short_account_ratio": exchange.RatioGlobalAccount,
	"sum_taker_long_short_vol_ratio":      exchange.RatioTakerVolume,
}

const (
	visionColTimestamp         = "timestamp"
	visionColOpenInterest      = "sum_open_interest"
	visionColOpenInterestValue = "sum_open_interest_value"
)

// ExtractDailyCSV opens the first .csv entry in a Vision bulk-history ZIP
// archive (each archive holds exactly one CSV). The caller owns closing
// the returned reader.
func ExtractDailyCSV(zr *zip.Reader) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("ingest: vision archive contains no .csv entry")
}

// ParseVisionMetricsCSV reads one Vision daily CSV and maps its canonical
// columns onto the same open-interest and long/short-ratio storage rows
// the API path produces for symbol.
func ParseVisionMetricsCSV(r io.Reader, symbol, period string) (oi []storage.OpenInterestRow, lsr []storage.LongShortRatioRow, err error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: reading vision CSV header: %w", err)
	}
	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[strings.TrimSpace(name)] = i
	}

	tsIdx, ok := colIdx[visionColTimestamp]
	if !ok {
		return nil, nil, fmt.Errorf("ingest: vision CSV missing %q column", visionColTimestamp)
	}

	for {
		record, readErr := cr.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, nil, fmt.Errorf("ingest: reading vision CSV row: %w", readErr)
		}

		ts, err := strconv.ParseInt(strings.TrimSpace(record[tsIdx]), 10, 64)
		if err != nil {
			continue // skip malformed row rather than aborting the whole day
		}

		if oiVal, ok := parseFloatColumn(record, colIdx, visionColOpenInterest); ok {
			row := storage.OpenInterestRow{Symbol: symbol, Timestamp: ts, Interval: period, OpenInterest: oiVal}
			if oiv, ok := parseFloatColumn(record, colIdx, visionColOpenInterestValue); ok {
				row.OpenInterestValue.Float64 = oiv
				row.OpenInterestValue.Valid = true
			}
			oi = append(oi, row)
		}

		for column, ratioType := range visionLSRColumns {
			val, ok := parseFloatColumn(record, colIdx, column)
			if !ok {
				continue
			}
			lsr = append(lsr, storage.LongShortRatioRow{
				Symbol: symbol, Timestamp: ts, Period: period,
				RatioType: string(ratioType), LongShortRatio: val,
			})
		}
	}
	return oi, lsr, nil
}

func parseFloatColumn(record []string, colIdx map[string]int, name string) (float64, bool) {
	idx, ok := colIdx[name]
	if !ok || idx >= len(record) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DefaultVisionBaseURL is the bulk-history archive root for USD-M futures
// daily metrics.
const DefaultVisionBaseURL = "https://data.binance.vision/data/futures/um/daily/metrics"

// VisionDownloader fetches daily metrics ZIPs from the bulk-history
// archive for windows older than the REST endpoints' 30-day limit, and
// upserts the parsed rows into the same storage tables the API path
// writes. Days inside the REST window are skipped here since the REST
// downloaders cover them with fresher data.
type VisionDownloader struct {
	HTTPClient *http.Client
	BaseURL    string // DefaultVisionBaseURL if empty
	Pool       *storage.Pool
}

func (v *VisionDownloader) baseURL() string {
	if v.BaseURL != "" {
		return strings.TrimRight(v.BaseURL, "/")
	}
	return DefaultVisionBaseURL
}

// archiveURL names one symbol-day archive, e.g.
// <base>/BTCUSDT/BTCUSDT-metrics-2024-01-01.zip.
func (v *VisionDownloader) archiveURL(symbol, date string) string {
	return fmt.Sprintf("%s/%s/%s-metrics-%s.zip", v.baseURL(), symbol, symbol, date)
}

// DownloadDailyMetrics fetches, parses and upserts one symbol-day archive.
// A 404 is not an error: the archive simply has no file for days before a
// symbol listed or for the current (unfinished) day.
func (v *VisionDownloader) DownloadDailyMetrics(ctx context.Context, symbol, date, period string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.archiveURL(symbol, date), nil)
	if err != nil {
		return fmt.Errorf("ingest: building vision request: %w", err)
	}
	httpClient := v.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return &exchange.TransientError{Err: fmt.Errorf("vision fetch %s %s: %w", symbol, date, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return &exchange.TransientError{Err: fmt.Errorf("vision fetch %s %s: HTTP %d", symbol, date, resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &exchange.TransientError{Err: fmt.Errorf("vision body %s %s: %w", symbol, date, err)}
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return fmt.Errorf("ingest: vision archive %s %s: %w", symbol, date, err)
	}
	rc, err := ExtractDailyCSV(zr)
	if err != nil {
		return err
	}
	defer rc.Close()

	oi, lsr, err := ParseVisionMetricsCSV(rc, symbol, period)
	if err != nil {
		return err
	}
	if _, _, err := v.Pool.InsertOpenInterest(ctx, oi); err != nil {
		return err
	}
	_, _, err = v.Pool.InsertLongShortRatios(ctx, lsr)
	return err
}

// DownloadRange walks every symbol-day in [startDate, endDate] strictly
// older than the REST endpoints' 30-day window and fetches its archive,
// fanning out over symbols like the API-path downloaders. Days the REST
// path can still reach are skipped entirely.
func (v *VisionDownloader) DownloadRange(ctx context.Context, symbols []string, startDate, endDate, period string, poolSize int) (*IntegrityReport, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, fmt.Errorf("ingest: vision start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, fmt.Errorf("ingest: vision end date: %w", err)
	}
	restFloor := time.Now().UTC().AddDate(0, 0, -lsrWindowDays).Truncate(24 * time.Hour)
	if !end.Before(restFloor) {
		end = restFloor.AddDate(0, 0, -1)
	}

	report := &IntegrityReport{Total: len(symbols)}
	if end.Before(start) {
		report.QualityScore = 1
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if poolSize > 0 {
		g.SetLimit(poolSize)
	}

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			var firstErr error
			for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
				if err := v.DownloadDailyMetrics(gctx, symbol, day.Format("2006-01-02"), period); err != nil {
					if firstErr == nil {
						firstErr = err
					}
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if firstErr != nil {
				report.recordFailure(symbol, fmt.Sprintf("%s..%s", startDate, endDate), firstErr.Error())
				return nil
			}
			report.Successful++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingest: aborting vision download: %w", err)
	}
	if report.Total > 0 {
		report.QualityScore = float64(report.Successful) / float64(report.Total)
	} else {
		report.QualityScore = 1
	}
	return report, nil
}
