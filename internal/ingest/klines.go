package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/ratelimit"
	"github.com/ppmina/xdata-go/internal/retry"
	"github.com/ppmina/xdata-go/internal/storage"
	"github.com/ppmina/xdata-go/internal/timeutil"
	"github.com/ppmina/xdata-go/internal/validate"
)

// fetchLimit bounds a single provider call; windows wider than this are
// paginated by walking start forward to the last bar received.
const fetchLimit = 1000

// KlineDownloader downloads per-symbol K-lines over a bounded errgroup
// worker pool, fanning out over pending symbols across retry rounds.
type KlineDownloader struct {
	Client      exchange.Client
	Pool        *storage.Pool
	RateLimit   *ratelimit.Manager
	RetryPolicy retry.Policy
	Market      exchange.Market
}

// Download runs in three steps: skip-what's-already-complete,
// multi-round worker-pool fetch, and a sampled-completeness integrity
// report.
func (d *KlineDownloader) Download(ctx context.Context, symbols []string, startDate, endDate string, freq timeutil.Freq, completenessThreshold float64, maxRounds, poolSize int) (*IntegrityReport, error) {
	startMS, err := timeutil.DateToTSStart(startDate)
	if err != nil {
		return nil, err
	}
	endMS, err := timeutil.DateToTSEnd(endDate, freq)
	if err != nil {
		return nil, err
	}
	expected, err := timeutil.ExpectedPoints(endMS-startMS+1, freq)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{Total: len(symbols)}

	var pending []string
	for _, symbol := range symbols {
		actual, err := d.Pool.CountMarketData(ctx, symbol, startDate, endDate, freq)
		if err != nil {
			return nil, fmt.Errorf("ingest: checking completeness for %s: %w", symbol, err)
		}
		if float64(actual)/float64(expected) >= completenessThreshold {
			report.Successful++
			continue
		}
		pending = append(pending, symbol)
	}

	done := make(map[string]bool)
	skipped := make(map[string]string) // symbol -> permanent-failure reason
	for round := 0; round < maxRounds && len(pending) > len(done)+len(skipped); round++ {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		if poolSize > 0 {
			g.SetLimit(poolSize)
		}

		for _, symbol := range pending {
			if done[symbol] {
				continue
			}
			if _, skip := skipped[symbol]; skip {
				continue
			}
			symbol := symbol
			g.Go(func() error {
				err := d.downloadSymbol(gctx, symbol, startMS, endMS, freq)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					done[symbol] = true
				case retry.Classify(err) == retry.SeverityFatal:
					return err
				case retry.Classify(err) == retry.SeverityPermanent:
					// Final for this symbol; never retried in later rounds.
					reason := err.Error()
					if errors.Is(err, exchange.ErrInvalidSymbol) {
						reason = "invalid symbol"
					}
					skipped[symbol] = reason
				default:
					// Transient: stays pending for the next round.
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("ingest: aborting download: %w", err)
		}
	}

	period := fmt.Sprintf("%s..%s", startDate, endDate)
	for _, symbol := range pending {
		switch {
		case done[symbol]:
			report.Successful++
		case skipped[symbol] != "":
			report.recordFailure(symbol, period, skipped[symbol])
		default:
			report.recordFailure(symbol, period, "exhausted max_rounds")
		}
	}

	d.applySampledCompletenessQuality(ctx, report, symbols, startDate, endDate, freq, expected)
	return report, nil
}

// downloadSymbol performs one (rate-limited, retried) fetch-validate-upsert
// cycle for a symbol's full window, paginating if the window spans more
// than fetchLimit bars.
func (d *KlineDownloader) downloadSymbol(ctx context.Context, symbol string, startMS, endMS int64, freq timeutil.Freq) error {
	if d.RateLimit != nil {
		if err := d.RateLimit.Wait(ctx, ratelimit.ClassFutures); err != nil {
			return err
		}
	}

	var all []exchange.RawKline
	err := retry.Do(ctx, d.RetryPolicy, func(ctx context.Context) error {
		all = nil
		cursor := startMS
		for {
			bars, err := d.Client.GetHistoricalKlines(ctx, symbol, freq, cursor, endMS, fetchLimit, d.Market)
			if err != nil {
				return err
			}
			all = append(all, bars...)
			if len(bars) < fetchLimit {
				return nil
			}
			last := bars[len(bars)-1].OpenTime
			stride, strideErr := timeutil.StrideMS(freq)
			if strideErr != nil || last+stride > endMS {
				return nil
			}
			cursor = last + stride
		}
	})
	if err != nil {
		return err
	}

	kept, batch := validate.KlineBatch(symbol, freq, all)
	rows := make([]storage.KlineRow, len(kept))
	for i, raw := range kept {
		rows[i] = storage.KlineRowFromRaw(symbol, freq, raw)
	}
	if _, _, err := d.Pool.InsertKlines(ctx, rows); err != nil {
		return err
	}
	if batch.Warn() {
		log.Warn().
			Str("symbol", symbol).
			Int("total", batch.Total).
			Int("dropped", batch.Dropped).
			Msg("kline batch dropped more than 10% of rows")
	}
	return nil
}

// applySampledCompletenessQuality computes the report's quality score:
// successful/total, penalized up to 30% by a sampled re-check of
// actual-vs-expected completeness over up to 10 successful symbols.
func (d *KlineDownloader) applySampledCompletenessQuality(ctx context.Context, report *IntegrityReport, symbols []string, startDate, endDate string, freq timeutil.Freq, expected int64) {
	if report.Total == 0 {
		report.QualityScore = 1
		return
	}
	baseScore := float64(report.Successful) / float64(report.Total)

	sample := sampleSuccessful(symbols, report.Failed, 10)
	var totalRatio float64
	var n int
	for _, symbol := range sample {
		actual, err := d.Pool.CountMarketData(ctx, symbol, startDate, endDate, freq)
		if err != nil {
			continue
		}
		ratio := float64(actual) / float64(expected)
		if ratio > 1 {
			ratio = 1
		}
		totalRatio += ratio
		n++
	}

	penalty := 0.0
	if n > 0 {
		deficit := 1 - totalRatio/float64(n)
		penalty = deficit * 0.3
	}

	score := baseScore - penalty
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	report.QualityScore = score

	if len(report.Failed) > 0 {
		sort.Strings(report.Failed)
		report.Recommendations = append(report.Recommendations, fmt.Sprintf("retry %d failed symbol(s) with a fresh pool after investigating provider errors", len(report.Failed)))
	}
	if penalty > 0.05 {
		report.Recommendations = append(report.Recommendations, "sampled completeness check found gaps in nominally successful symbols; consider a resume pass")
	}
}

// sampleSuccessful returns up to n symbols from all that are not in failed.
func sampleSuccessful(all, failed []string, n int) []string {
	isFailed := make(map[string]bool, len(failed))
	for _, s := range failed {
		isFailed[s] = true
	}
	var out []string
	for _, s := range all {
		if isFailed[s] {
			continue
		}
		out = append(out, s)
		if len(out) >= n {
			break
		}
	}
	return out
}
