package universe

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/ratelimit"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

// Pacing bounds the concurrency and inter-batch delay the planner uses
// while enumerating turnover for a rebalance date, keeping the large
// selection scan inside the provider's request budget.
type Pacing struct {
	MaxConcurrent   int
	BatchLimiter    *ratelimit.Limiter
	InterBatchDelay time.Duration
}

// symbolAmount pairs a symbol with its trailing mean daily quote volume,
// used only for the sort-then-select step.
type symbolAmount struct {
	symbol string
	amount float64
}

// Plan implements define_universe: it walks the rebalance-date sequence and
// emits one temporally-validated Snapshot per date.
func Plan(ctx context.Context, client exchange.Client, cfg Config, pacing Pacing) (*Definition, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dates, err := timeutil.GenerateRebalanceDates(cfg.StartDate, cfg.EndDate, cfg.T2Months)
	if err != nil {
		return nil, fmt.Errorf("universe: generating rebalance dates: %w", err)
	}

	endDate, err := time.Parse("2006-01-02", cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("universe: invalid end_date: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(dates))
	for _, r := range dates {
		snap, err := planOne(ctx, client, cfg, r, endDate, pacing)
		if err != nil {
			return nil, fmt.Errorf("universe: rebalance date %s: %w", r, err)
		}
		snapshots = append(snapshots, *snap)
	}

	return NewDefinition(cfg, snapshots, time.Now().UTC(), "")
}

func planOne(ctx context.Context, client exchange.Client, cfg Config, effectiveDate string, endDate time.Time, pacing Pacing) (*Snapshot, error) {
	r, err := time.Parse("2006-01-02", effectiveDate)
	if err != nil {
		return nil, err
	}
	base := r.AddDate(0, 0, -cfg.DelayDays)
	t1Start, err := timeutil.SubtractMonths(base.Format("2006-01-02"), cfg.T1Months)
	if err != nil {
		return nil, err
	}
	t1End := base.Format("2006-01-02")

	listingCutoff, err := timeutil.SubtractMonths(t1End, cfg.T3Months)
	if err != nil {
		return nil, err
	}

	eligible, err := eligibleSymbols(ctx, client, cfg.QuoteAsset, t1Start, t1End, listingCutoff)
	if err != nil {
		return nil, err
	}

	amounts, err := turnoverForSymbols(ctx, client, eligible, t1Start, t1End, pacing)
	if err != nil {
		return nil, err
	}

	sort.Slice(amounts, func(i, j int) bool { return amounts[i].amount > amounts[j].amount })

	n := cfg.TopK
	if n == 0 {
		n = int(cfg.TopRatio * float64(len(amounts)))
	}
	if n > len(amounts) {
		n = len(amounts)
	}
	selected := amounts[:n]

	symbols := make([]string, 0, len(selected))
	meanDaily := make(map[string]float64, len(selected))
	for _, sa := range selected {
		symbols = append(symbols, sa.symbol)
		meanDaily[sa.symbol] = sa.amount
	}
	sort.Strings(symbols)

	snapshotEnd := r.AddDate(0, cfg.T1Months, 0)
	if snapshotEnd.After(endDate) {
		snapshotEnd = endDate
	}

	return &Snapshot{
		EffectiveDate:     effectiveDate,
		CalculatedT1Start: t1Start,
		CalculatedT1End:   t1End,
		StartDate:         r.AddDate(0, 0, 1).Format("2006-01-02"),
		EndDate:           snapshotEnd.Format("2006-01-02"),
		Symbols:           symbols,
		MeanDailyAmounts:  meanDaily,
	}, nil
}

// eligibleSymbols enumerates perpetuals quoted in quoteAsset whose
// first-seen date is no later than listingCutoff. First-seen is
// approximated as the open_time of the earliest available daily K-line
// inside [t1Start, t1End]: if a symbol has a bar at t1Start it existed
// throughout the window; symbols whose earliest bar falls after
// listingCutoff are recently listed and excluded.
func eligibleSymbols(ctx context.Context, client exchange.Client, quoteAsset, t1Start, t1End, listingCutoff string) ([]string, error) {
	all, err := client.ListPerpetualSymbols(ctx, true, quoteAsset)
	if err != nil {
		return nil, fmt.Errorf("listing perpetual symbols: %w", err)
	}

	startMS, err := timeutil.DateToTSStart(t1Start)
	if err != nil {
		return nil, err
	}
	endMS, err := timeutil.DateToTSEnd(t1End, timeutil.Freq1d)
	if err != nil {
		return nil, err
	}
	cutoffMS, err := timeutil.DateToTSStart(listingCutoff)
	if err != nil {
		return nil, err
	}

	var eligible []string
	for _, symbol := range all {
		bars, err := client.GetHistoricalKlines(ctx, symbol, timeutil.Freq1d, startMS, endMS, 1, exchange.MarketFutures)
		if err != nil || len(bars) == 0 {
			continue
		}
		if bars[0].OpenTime > cutoffMS {
			continue
		}
		eligible = append(eligible, symbol)
	}
	return eligible, nil
}

// turnoverForSymbols fetches daily K-lines for each eligible symbol over
// [t1Start, t1End] and computes mean_daily_amount, fanning out over a
// bounded errgroup paced by the batch rate limiter. Symbols with less than
// 80% data completeness are still included (warned, not disqualified).
func turnoverForSymbols(ctx context.Context, client exchange.Client, symbols []string, t1Start, t1End string, pacing Pacing) ([]symbolAmount, error) {
	startMS, err := timeutil.DateToTSStart(t1Start)
	if err != nil {
		return nil, err
	}
	endMS, err := timeutil.DateToTSEnd(t1End, timeutil.Freq1d)
	if err != nil {
		return nil, err
	}
	expected, err := timeutil.ExpectedPoints(endMS-startMS+1, timeutil.Freq1d)
	if err != nil {
		return nil, err
	}

	maxConcurrent := pacing.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	var mu sync.Mutex
	var results []symbolAmount

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if pacing.BatchLimiter != nil {
				if err := pacing.BatchLimiter.Wait(gctx); err != nil {
					return err
				}
			}

			bars, err := client.GetHistoricalKlines(gctx, symbol, timeutil.Freq1d, startMS, endMS, int(expected)+1, exchange.MarketFutures)
			if err != nil {
				return nil // a single symbol's fetch failure is not fatal to the snapshot
			}

			var sum float64
			for _, b := range bars {
				sum += b.QuoteVolume
			}
			if len(bars) == 0 {
				return nil
			}
			if float64(len(bars)) < 0.8*float64(expected) {
				log.Warn().Str("symbol", symbol).Int("bars", len(bars)).Int64("expected", expected).
					Msg("universe: turnover window below 80% data completeness")
			}
			mean := sum / float64(len(bars))

			mu.Lock()
			results = append(results, symbolAmount{symbol: symbol, amount: mean})
			mu.Unlock()

			if pacing.InterBatchDelay > 0 {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(pacing.InterBatchDelay):
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
