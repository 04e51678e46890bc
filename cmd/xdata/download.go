package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ppmina/xdata-go/internal/exchange"
	"github.com/ppmina/xdata-go/internal/httpserver"
	"github.com/ppmina/xdata-go/internal/ingest"
	"github.com/ppmina/xdata-go/internal/orchestrator"
	"github.com/ppmina/xdata-go/internal/storage"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download K-lines and derivatives metrics for a universe",
		Long:  "Runs download_universe_data: for each universe snapshot, downloads K-lines and, if enabled, funding rate/open interest/long-short ratio, into the storage file.",
		RunE:  runDownload,
	}

	cmd.Flags().String("config", "", "providers config YAML (optional; defaults if omitted)")
	cmd.Flags().String("universe", "", "universe file path, as written by plan-universe (required)")
	cmd.Flags().String("db", "", "storage database file path (required)")
	cmd.Flags().String("freq", "1m", "K-line bar frequency")
	cmd.Flags().Int("workers", 4, "downloader worker pool size")
	cmd.Flags().Float64("request-delay", 0, "delay in seconds between download steps")
	cmd.Flags().String("metrics", "off", "metrics mode: off, or a comma-separated list of funding,oi,toptrader_account,toptrader_position,global_account,taker_vol; any token enables both funding-rate and open-interest downloads, and ratio-type tokens select the long/short-ratio series")
	cmd.Flags().String("metrics-freq", "5m", "open-interest/long-short-ratio sampling period")
	cmd.Flags().Int("max-rounds", 3, "max re-fetch rounds for incomplete K-line symbols")
	cmd.Flags().Float64("completeness-threshold", 0.95, "fraction of expected bars required to skip a re-fetch round")
	cmd.Flags().Bool("use-vision", false, "fetch metrics older than the 30-day REST window from the bulk-history archive")
	cmd.Flags().String("vision-url", ingest.DefaultVisionBaseURL, "bulk-history archive base URL")
	cmd.Flags().Bool("serve-http", false, "expose /healthz and /metrics on 127.0.0.1 while the download runs")

	return cmd
}

var ratioFlagNames = map[string]exchange.RatioType{
	"toptrader_account":  exchange.RatioTopTraderAccount,
	"toptrader_position": exchange.RatioTopTraderPosition,
	"global_account":     exchange.RatioGlobalAccount,
	"taker_vol":          exchange.RatioTakerVolume,
}

func runDownload(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	universePath, _ := cmd.Flags().GetString("universe")
	dbPath, _ := cmd.Flags().GetString("db")
	freq, _ := cmd.Flags().GetString("freq")
	workers, _ := cmd.Flags().GetInt("workers")
	requestDelay, _ := cmd.Flags().GetFloat64("request-delay")
	metrics, _ := cmd.Flags().GetString("metrics")
	metricsFreq, _ := cmd.Flags().GetString("metrics-freq")
	maxRounds, _ := cmd.Flags().GetInt("max-rounds")
	completeness, _ := cmd.Flags().GetFloat64("completeness-threshold")
	useVision, _ := cmd.Flags().GetBool("use-vision")
	visionURL, _ := cmd.Flags().GetString("vision-url")
	serveHTTP, _ := cmd.Flags().GetBool("serve-http")

	if universePath == "" || dbPath == "" {
		return exitErr(1, fmt.Errorf("download: --universe and --db are required"))
	}
	if err := requireConfigPath(configPath); err != nil {
		return exitErr(1, err)
	}

	klinesFreq := timeutil.Freq(freq)
	if !klinesFreq.Valid() {
		return exitErr(1, fmt.Errorf("download: invalid --freq %q", freq))
	}

	includeMetrics, lsrTypes, err := parseMetricsFlag(metrics)
	if err != nil {
		return exitErr(1, err)
	}

	stack, err := newExchangeStack(configPath)
	if err != nil {
		return exitErr(1, err)
	}

	pool, err := storage.Open(context.Background(), storage.DefaultConfig(dbPath))
	if err != nil {
		return exitErr(2, fmt.Errorf("download: opening storage: %w", err))
	}
	defer pool.Close()

	def, err := orchestrator.LoadUniverse(universePath)
	if err != nil {
		return exitErr(1, fmt.Errorf("download: %w", err))
	}

	if serveHTTP {
		srv, err := httpserver.NewServer(httpserver.DefaultConfig(), pool)
		if err != nil {
			return exitErr(2, fmt.Errorf("download: %w", err))
		}
		go func() {
			if err := srv.Start(); err != nil {
				log.Warn().Err(err).Msg("ops http server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	orc := &orchestrator.Orchestrator{Client: stack.Client, Pool: pool, RateLimit: stack.RateLimit}
	opts := orchestrator.Options{
		KlinesFreq:            klinesFreq,
		IncludeMetrics:        includeMetrics,
		MetricsFreq:           metricsFreq,
		LSRTypes:              lsrTypes,
		PoolSize:              workers,
		MaxRounds:             maxRounds,
		CompletenessThreshold: completeness,
		RetryPolicy:           stack.RetryPolicy,
		RequestDelay:          time.Duration(requestDelay * float64(time.Second)),
	}
	if useVision {
		opts.UseBulkVision = true
		opts.Vision = &ingest.VisionDownloader{
			HTTPClient: &http.Client{Timeout: 60 * time.Second},
			BaseURL:    visionURL,
			Pool:       pool,
		}
	}

	log.Info().Str("universe", universePath).Str("db", dbPath).Int("snapshots", len(def.Snapshots)).Msg("starting universe download")

	ctx := context.Background()
	run, runErr := orc.DownloadUniverseData(ctx, def, opts)

	for _, snap := range run.Snapshots {
		log.Info().Str("effective_date", snap.EffectiveDate).Int("klines_ok", reportOK(snap.Klines)).Msg("snapshot downloaded")
	}

	if runErr != nil {
		// Any snapshot that made it into the report already has its rows
		// committed to pool (each downloader writes as it fetches), so an
		// abort partway through leaves partial data on disk once at least
		// one snapshot was attempted; otherwise nothing was written.
		if len(run.Snapshots) > 0 {
			return exitErr(3, fmt.Errorf("download: %w", runErr))
		}
		return exitErr(2, fmt.Errorf("download: %w", runErr))
	}

	fmt.Printf("downloaded %d snapshot(s) into %s\n", len(run.Snapshots), dbPath)
	return nil
}

func reportOK(r *ingest.IntegrityReport) int {
	if r == nil {
		return 0
	}
	return r.Successful
}

func parseMetricsFlag(metrics string) (bool, []exchange.RatioType, error) {
	if metrics == "" || metrics == "off" {
		return false, nil, nil
	}

	var lsrTypes []exchange.RatioType
	includeMetrics := false
	for _, tok := range strings.Split(metrics, ",") {
		tok = strings.TrimSpace(tok)
		switch tok {
		case "":
			continue
		case "funding", "oi":
			includeMetrics = true
		default:
			rt, ok := ratioFlagNames[tok]
			if !ok {
				return false, nil, fmt.Errorf("download: unknown --metrics token %q", tok)
			}
			includeMetrics = true
			lsrTypes = append(lsrTypes, rt)
		}
	}
	return includeMetrics, lsrTypes, nil
}
