package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ppmina/xdata-go/internal/exchange"
	exportpkg "github.com/ppmina/xdata-go/internal/export"
	"github.com/ppmina/xdata-go/internal/orchestrator"
	"github.com/ppmina/xdata-go/internal/query"
	"github.com/ppmina/xdata-go/internal/storage"
	"github.com/ppmina/xdata-go/internal/timeutil"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an aligned universe frame to per-day NumPy matrices",
		Long:  "Runs export_combined: resamples and as-of aligns stored K-lines and metrics onto one frequency, writing per-day, per-feature K×T .npy matrices plus a stacked timestamp cube.",
		RunE:  runExport,
	}

	cmd.Flags().String("universe", "", "universe file path (required)")
	cmd.Flags().String("db", "", "storage database file path (required)")
	cmd.Flags().String("out", "", "output directory (required)")
	cmd.Flags().String("source-freq", "1m", "stored K-line frequency to read")
	cmd.Flags().String("export-freq", "1h", "frequency to resample to before export")
	cmd.Flags().String("klines", "on", "include K-line columns: on or off")
	cmd.Flags().String("metrics", "", "comma-separated metrics to include: funding, oi, oiv, toptrader_account, toptrader_position, global_account, taker_vol")
	cmd.Flags().String("metrics-freq", "5m", "open-interest/long-short-ratio sampling period")

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	universePath, _ := cmd.Flags().GetString("universe")
	dbPath, _ := cmd.Flags().GetString("db")
	outDir, _ := cmd.Flags().GetString("out")
	sourceFreq, _ := cmd.Flags().GetString("source-freq")
	exportFreq, _ := cmd.Flags().GetString("export-freq")
	klinesMode, _ := cmd.Flags().GetString("klines")
	metrics, _ := cmd.Flags().GetString("metrics")
	metricsFreq, _ := cmd.Flags().GetString("metrics-freq")

	if universePath == "" || dbPath == "" || outDir == "" {
		return exitErr(1, fmt.Errorf("export: --universe, --db and --out are required"))
	}

	srcFreq := timeutil.Freq(sourceFreq)
	dstFreq := timeutil.Freq(exportFreq)
	if !srcFreq.Valid() || !dstFreq.Valid() {
		return exitErr(1, fmt.Errorf("export: invalid --source-freq/--export-freq"))
	}

	includeKlines, err := parseOnOff("klines", klinesMode)
	if err != nil {
		return exitErr(1, err)
	}

	metricsCfg, includeMetrics, err := parseExportMetricsFlag(metrics, metricsFreq)
	if err != nil {
		return exitErr(1, err)
	}

	def, err := orchestrator.LoadUniverse(universePath)
	if err != nil {
		return exitErr(1, fmt.Errorf("export: %w", err))
	}
	symbols, startDate, endDate := orchestrator.UniverseSpan(def)
	if len(symbols) == 0 {
		return exitErr(1, fmt.Errorf("export: universe file %s has no symbols", universePath))
	}

	pool, err := storage.Open(context.Background(), storage.DefaultConfig(dbPath))
	if err != nil {
		return exitErr(2, fmt.Errorf("export: opening storage: %w", err))
	}
	defer pool.Close()

	exporter := &exportpkg.Exporter{
		Klines:  &query.Klines{Pool: pool},
		Metrics: &query.Metrics{Pool: pool},
	}

	cfg := exportpkg.Config{
		Symbols:        symbols,
		StartDate:      startDate,
		EndDate:        endDate,
		SourceFreq:     srcFreq,
		ExportFreq:     dstFreq,
		OutputDir:      outDir,
		IncludeKlines:  includeKlines,
		IncludeMetrics: includeMetrics,
		Metrics:        metricsCfg,
	}

	log.Info().Int("symbols", len(symbols)).Str("start", startDate).Str("end", endDate).Str("out", outDir).Msg("exporting universe frame")

	ctx := context.Background()
	if err := exporter.ExportCombined(ctx, cfg); err != nil {
		if errors.Is(err, exportpkg.ErrMissingSource) {
			return exitErr(2, fmt.Errorf("export: %w", err))
		}
		return exitErr(3, fmt.Errorf("export: %w", err))
	}

	fmt.Printf("exported %d symbol(s) to %s\n", len(symbols), outDir)
	return nil
}

func parseOnOff(flag, value string) (bool, error) {
	switch value {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("export: --%s must be on or off, got %q", flag, value)
	}
}

func parseExportMetricsFlag(metrics, period string) (exportpkg.MetricsConfig, bool, error) {
	cfg := exportpkg.MetricsConfig{LongShortRatio: make(map[exchange.RatioType]bool), LSRPeriod: period}
	if metrics == "" {
		return cfg, false, nil
	}

	include := false
	for _, tok := range strings.Split(metrics, ",") {
		tok = strings.TrimSpace(tok)
		switch tok {
		case "":
			continue
		case "funding":
			cfg.FundingRate = true
			include = true
		case "oi":
			cfg.OpenInterest = &exportpkg.OpenInterestConfig{Enabled: true, Interval: period}
			include = true
		case "oiv":
			if cfg.OpenInterest == nil {
				cfg.OpenInterest = &exportpkg.OpenInterestConfig{Enabled: true, Interval: period}
			}
			cfg.OpenInterest.IncludeValue = true
			include = true
		default:
			rt, ok := ratioFlagNames[tok]
			if !ok {
				return cfg, false, fmt.Errorf("export: unknown --metrics token %q", tok)
			}
			cfg.LongShortRatio[rt] = true
			include = true
		}
	}
	return cfg, include, nil
}
