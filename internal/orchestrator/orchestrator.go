// Package orchestrator implements download_universe_data, the single
// entry point that binds universe loading to the K-line and metrics
// downloaders, one snapshot at a time: load, run step, collect result,
// continue on non-fatal error.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/ingest"
	"github.com/ppmina/xdata-go/internal/ratelimit"
	"github.com/ppmina/xdata-go/internal/retry"
	"github.com/ppmina/xdata-go/internal/storage"
	"github.com/ppmina/xdata-go/internal/timeutil"
	"github.com/ppmina/xdata-go/internal/universe"
)

// Options configures one download_universe_data run.
type Options struct {
	KlinesFreq            timeutil.Freq
	IncludeMetrics        bool
	MetricsFreq           string // open-interest/LSR period, e.g. "5m"
	LSRTypes              []exchange.RatioType
	PoolSize              int
	MaxRounds             int
	CompletenessThreshold float64
	RetryPolicy           retry.Policy
	RequestDelay          time.Duration

	// UseBulkVision routes the portion of each snapshot's metrics window
	// that the REST endpoints can no longer reach (older than 30 days)
	// through the bulk-history archive instead of silently clamping it.
	UseBulkVision bool
	Vision        *ingest.VisionDownloader
}

// DefaultOptions returns representative defaults for a download run.
func DefaultOptions() Options {
	return Options{
		KlinesFreq:            timeutil.Freq1h,
		MetricsFreq:           "5m",
		PoolSize:              4,
		MaxRounds:             3,
		CompletenessThreshold: 0.95,
		RetryPolicy:           retry.DefaultPolicy(),
	}
}

// SnapshotReport pairs one universe snapshot with the integrity reports its
// download steps produced.
type SnapshotReport struct {
	EffectiveDate string
	Klines        *ingest.IntegrityReport
	Funding       *ingest.IntegrityReport
	OpenInterest  *ingest.IntegrityReport
	LongShort     map[exchange.RatioType]*ingest.IntegrityReport
	Vision        *ingest.IntegrityReport
}

// RunReport is the full download_universe_data result: one SnapshotReport
// per universe snapshot, in order.
type RunReport struct {
	Snapshots []SnapshotReport
}

// Orchestrator binds an exchange client and storage pool to the
// downloaders it drives.
type Orchestrator struct {
	Client    exchange.Client
	Pool      *storage.Pool
	RateLimit *ratelimit.Manager
}

// LoadUniverse reads a universe file as serialized by universe.Definition.
func LoadUniverse(path string) (*universe.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reading universe file: %w", err)
	}
	var def universe.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("orchestrator: parsing universe file: %w", err)
	}
	return &def, nil
}

// DownloadUniverseData implements download_universe_data:
// for each snapshot in order, run the K-line downloader over
// (symbols, start_date, end_date, klines_freq), then, if metrics were
// requested, the funding/open-interest/long-short-ratio downloaders. A run
// aborts only when a downloader itself returns a hard error (promoted here
// from retry.SeverityFatal by the downloaders' own worker pools); any other
// failure is recorded on the snapshot's report and the run continues to
// the next snapshot.
func (o *Orchestrator) DownloadUniverseData(ctx context.Context, def *universe.Definition, opts Options) (*RunReport, error) {
	klineDL := &ingest.KlineDownloader{
		Client:      o.Client,
		Pool:        o.Pool,
		RateLimit:   o.RateLimit,
		RetryPolicy: opts.RetryPolicy,
		Market:      exchange.MarketFutures,
	}
	metricsDL := &ingest.MetricsDownloader{
		Client:      o.Client,
		Pool:        o.Pool,
		RateLimit:   o.RateLimit,
		RetryPolicy: opts.RetryPolicy,
	}

	run := &RunReport{}
	for _, snap := range def.Snapshots {
		log.Info().Str("effective_date", snap.EffectiveDate).Int("symbols", len(snap.Symbols)).Msg("downloading universe snapshot")

		snapReport := SnapshotReport{EffectiveDate: snap.EffectiveDate}

		klinesReport, err := klineDL.Download(ctx, snap.Symbols, snap.StartDate, snap.EndDate, opts.KlinesFreq, opts.CompletenessThreshold, opts.MaxRounds, opts.PoolSize)
		if err != nil {
			return run, fmt.Errorf("orchestrator: aborting at snapshot %s: %w", snap.EffectiveDate, err)
		}
		snapReport.Klines = klinesReport
		pause(ctx, opts.RequestDelay)

		if opts.IncludeMetrics {
			if opts.UseBulkVision && opts.Vision != nil {
				visionReport, err := opts.Vision.DownloadRange(ctx, snap.Symbols, snap.StartDate, snap.EndDate, opts.MetricsFreq, opts.PoolSize)
				if err != nil {
					return run, fmt.Errorf("orchestrator: aborting at snapshot %s: %w", snap.EffectiveDate, err)
				}
				snapReport.Vision = visionReport
				pause(ctx, opts.RequestDelay)
			}

			fundingReport, err := metricsDL.DownloadFundingRate(ctx, snap.Symbols, snap.StartDate, snap.EndDate, opts.PoolSize)
			if err != nil {
				return run, fmt.Errorf("orchestrator: aborting at snapshot %s: %w", snap.EffectiveDate, err)
			}
			snapReport.Funding = fundingReport
			pause(ctx, opts.RequestDelay)

			oiReport, err := metricsDL.DownloadOpenInterest(ctx, snap.Symbols, snap.StartDate, snap.EndDate, opts.MetricsFreq, opts.PoolSize)
			if err != nil {
				return run, fmt.Errorf("orchestrator: aborting at snapshot %s: %w", snap.EffectiveDate, err)
			}
			snapReport.OpenInterest = oiReport
			pause(ctx, opts.RequestDelay)

			if len(opts.LSRTypes) > 0 {
				snapReport.LongShort = make(map[exchange.RatioType]*ingest.IntegrityReport, len(opts.LSRTypes))
				for _, ratioType := range opts.LSRTypes {
					lsrReport, err := metricsDL.DownloadLongShortRatio(ctx, snap.Symbols, snap.StartDate, snap.EndDate, opts.MetricsFreq, ratioType, opts.PoolSize)
					if err != nil {
						return run, fmt.Errorf("orchestrator: aborting at snapshot %s ratio %s: %w", snap.EffectiveDate, ratioType, err)
					}
					snapReport.LongShort[ratioType] = lsrReport
					pause(ctx, opts.RequestDelay)
				}
			}
		}

		run.Snapshots = append(run.Snapshots, snapReport)
	}

	return run, nil
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// UniverseSpan returns the symbol union and the overall [start,end] date
// span across every snapshot in def, for callers (the export CLI command)
// that operate over the whole universe rather than one snapshot at a time.
func UniverseSpan(def *universe.Definition) (symbols []string, startDate, endDate string) {
	seen := make(map[string]bool)
	for _, snap := range def.Snapshots {
		for _, s := range snap.Symbols {
			if !seen[s] {
				seen[s] = true
				symbols = append(symbols, s)
			}
		}
		if startDate == "" || snap.StartDate < startDate {
			startDate = snap.StartDate
		}
		if endDate == "" || snap.EndDate > endDate {
			endDate = snap.EndDate
		}
	}
	return symbols, startDate, endDate
}
