package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/ratelimit"
	"github.com/ppmina/xdata-go/internal/retry"
	"github.com/ppmina/xdata-go/internal/storage"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

// defaultFundingLimit and defaultMetricsLimit mirror the provider's
// caps: funding rate defaults to 1000, open interest and long/short
// ratio are capped at 500.
const (
	defaultFundingLimit = 1000
	defaultMetricsLimit = 500
	lsrWindowDays       = 30
)

// MetricsDownloader runs one fetch-validate-upsert operation per metric
// class, sharing the K-line downloader's worker-pool/rate-limit/retry
// skeleton.
type MetricsDownloader struct {
	Client      exchange.Client
	Pool        *storage.Pool
	RateLimit   *ratelimit.Manager
	RetryPolicy retry.Policy
}

// DownloadFundingRate implements the funding-rate class: no provider
// time-window restriction, default limit 1000.
func (d *MetricsDownloader) DownloadFundingRate(ctx context.Context, symbols []string, startDate, endDate string, poolSize int) (*IntegrityReport, error) {
	startMS, err := timeutil.DateToTSStart(startDate)
	if err != nil {
		return nil, err
	}
	endMS, err := timeutil.DateToTSEnd(endDate, timeutil.Freq1d)
	if err != nil {
		return nil, err
	}

	return d.runPool(ctx, symbols, poolSize, func(ctx context.Context, symbol string) error {
		var rows []storage.FundingRow
		err := retry.Do(ctx, d.RetryPolicy, func(ctx context.Context) error {
			raws, err := d.Client.GetFundingRate(ctx, symbol, &startMS, &endMS, defaultFundingLimit)
			if err != nil {
				return err
			}
			rows = make([]storage.FundingRow, len(raws))
			for i, raw := range raws {
				rows[i] = storage.FundingRowFromRaw(raw)
			}
			return nil
		})
		if err != nil {
			return err
		}
		_, _, err = d.Pool.InsertFundingRates(ctx, rows)
		return err
	})
}

// DownloadOpenInterest implements the open-interest class: period defaults
// to 5m, provider caps limit <= 500.
func (d *MetricsDownloader) DownloadOpenInterest(ctx context.Context, symbols []string, startDate, endDate, period string, poolSize int) (*IntegrityReport, error) {
	if period == "" {
		period = "5m"
	}
	startMS, err := timeutil.DateToTSStart(startDate)
	if err != nil {
		return nil, err
	}
	endMS, err := timeutil.DateToTSEnd(endDate, timeutil.Freq1d)
	if err != nil {
		return nil, err
	}

	return d.runPool(ctx, symbols, poolSize, func(ctx context.Context, symbol string) error {
		var rows []storage.OpenInterestRow
		err := retry.Do(ctx, d.RetryPolicy, func(ctx context.Context) error {
			raws, err := d.Client.GetOpenInterestHist(ctx, symbol, period, &startMS, &endMS, defaultMetricsLimit)
			if err != nil {
				return err
			}
			rows = make([]storage.OpenInterestRow, len(raws))
			for i, raw := range raws {
				rows[i] = storage.OpenInterestRowFromRaw(raw)
			}
			return nil
		})
		if err != nil {
			return err
		}
		_, _, err = d.Pool.InsertOpenInterest(ctx, rows)
		return err
	})
}

// DownloadLongShortRatio implements the long/short-ratio class: the
// provider restricts the queryable window to the last 30 days, so an
// earlier start_date is clamped and recorded as a warning on the report
// rather than failing the run.
func (d *MetricsDownloader) DownloadLongShortRatio(ctx context.Context, symbols []string, startDate, endDate, period string, ratioType exchange.RatioType, poolSize int) (*IntegrityReport, error) {
	if period == "" {
		period = "5m"
	}
	startMS, err := timeutil.DateToTSStart(startDate)
	if err != nil {
		return nil, err
	}
	endMS, err := timeutil.DateToTSEnd(endDate, timeutil.Freq1d)
	if err != nil {
		return nil, err
	}

	var clampWarning string
	floor := time.Now().UTC().AddDate(0, 0, -lsrWindowDays).UnixMilli()
	if startMS < floor {
		clampWarning = fmt.Sprintf("long/short ratio start_date %s precedes the provider's 30-day window; clamped to %s", startDate, timeutil.FormatDate(time.UnixMilli(floor)))
		startMS = floor
		log.Warn().Str("ratio_type", string(ratioType)).Msg(clampWarning)
	}

	report, err := d.runPool(ctx, symbols, poolSize, func(ctx context.Context, symbol string) error {
		var rows []storage.LongShortRatioRow
		err := retry.Do(ctx, d.RetryPolicy, func(ctx context.Context) error {
			raws, err := d.Client.GetLongShortRatio(ctx, symbol, period, ratioType, &startMS, &endMS, defaultMetricsLimit)
			if err != nil {
				return err
			}
			rows = make([]storage.LongShortRatioRow, len(raws))
			for i, raw := range raws {
				rows[i] = storage.LongShortRatioRowFromRaw(raw)
			}
			return nil
		})
		if err != nil {
			return err
		}
		_, _, err = d.Pool.InsertLongShortRatios(ctx, rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	if clampWarning != "" {
		report.Warnings = append(report.Warnings, clampWarning)
	}
	return report, nil
}

// runPool is the worker-pool skeleton shared by the metrics classes (the
// K-line downloader runs its own multi-round pool of the same shape):
// one rate-limited, retried fetch-and-upsert per symbol, run concurrently
// up to poolSize, failing the run only on a SeverityFatal error. Metrics
// classes have no multi-round retry budget beyond the retry policy
// itself, since metrics endpoints have no windowed per-symbol
// completeness check to drive a resume.
func (d *MetricsDownloader) runPool(ctx context.Context, symbols []string, poolSize int, fetchAndStore func(ctx context.Context, symbol string) error) (*IntegrityReport, error) {
	report := &IntegrityReport{Total: len(symbols)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if poolSize > 0 {
		g.SetLimit(poolSize)
	}

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if d.RateLimit != nil {
				if err := d.RateLimit.Wait(gctx, ratelimit.ClassHeavy); err != nil {
					return err
				}
			}
			err := fetchAndStore(gctx, symbol)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if retry.Classify(err) == retry.SeverityFatal {
					return err
				}
				report.recordFailure(symbol, "", err.Error())
				return nil
			}
			report.Successful++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingest: aborting metrics download: %w", err)
	}

	if report.Total > 0 {
		report.QualityScore = float64(report.Successful) / float64(report.Total)
	} else {
		report.QualityScore = 1
	}
	return report, nil
}
