package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ppmina/xdata-go/internal/config"
	"github.com/ppmina/xdata-go/internal/ratelimit"
	"github.com/ppmina/xdata-go/internal/universe"
)

func newPlanUniverseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan-universe",
		Short: "Define a rolling-turnover universe and write it to a file",
		Long:  "Walks the rebalance-date sequence and selects the top-K (or top-ratio) perpetuals by trailing mean daily quote volume, writing the result as a universe file.",
		RunE:  runPlanUniverse,
	}

	cmd.Flags().String("config", "", "providers config YAML (optional; defaults if omitted)")
	cmd.Flags().String("plan-config", "", "universe plan YAML; flags set explicitly override its values")
	cmd.Flags().String("out", "", "output universe file path (required)")
	cmd.Flags().String("start", "", "plan start date YYYY-MM-DD (required)")
	cmd.Flags().String("end", "", "plan end date YYYY-MM-DD (required)")
	cmd.Flags().Int("t1", 0, "T1 lookback window in months (required)")
	cmd.Flags().Int("t2", 0, "T2 spacing between rebalance dates in months (required)")
	cmd.Flags().Int("t3", 0, "T3 minimum listing age in months")
	cmd.Flags().Int("top-k", 0, "select the top K symbols by mean daily volume")
	cmd.Flags().Float64("top-ratio", 0, "select the top fraction of eligible symbols")
	cmd.Flags().String("quote", "USDT", "quote asset filter")
	cmd.Flags().Int("delay-days", 7, "rebalance delay in days")
	cmd.Flags().Int("max-concurrent", 4, "max concurrent turnover lookups per rebalance date")

	return cmd
}

func runPlanUniverse(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	planConfigPath, _ := cmd.Flags().GetString("plan-config")
	out, _ := cmd.Flags().GetString("out")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	t1, _ := cmd.Flags().GetInt("t1")
	t2, _ := cmd.Flags().GetInt("t2")
	t3, _ := cmd.Flags().GetInt("t3")
	topK, _ := cmd.Flags().GetInt("top-k")
	topRatio, _ := cmd.Flags().GetFloat64("top-ratio")
	quote, _ := cmd.Flags().GetString("quote")
	delayDays, _ := cmd.Flags().GetInt("delay-days")
	maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")

	if out == "" {
		return exitErr(1, fmt.Errorf("plan-universe: --out is required"))
	}
	if err := requireConfigPath(configPath); err != nil {
		return exitErr(1, err)
	}

	interBatchDelay := 500 * time.Millisecond

	// A plan-config file seeds every parameter a flag did not set
	// explicitly, so a committed plan file and ad-hoc overrides compose.
	if planConfigPath != "" {
		pc, err := config.LoadUniversePlanConfig(planConfigPath)
		if err != nil {
			return exitErr(1, fmt.Errorf("plan-universe: %w", err))
		}
		if !cmd.Flags().Changed("start") {
			start = pc.StartDate
		}
		if !cmd.Flags().Changed("end") {
			end = pc.EndDate
		}
		if !cmd.Flags().Changed("t1") {
			t1 = pc.T1Months
		}
		if !cmd.Flags().Changed("t2") {
			t2 = pc.T2Months
		}
		if !cmd.Flags().Changed("t3") {
			t3 = pc.T3Months
		}
		if !cmd.Flags().Changed("top-k") {
			topK = pc.TopK
		}
		if !cmd.Flags().Changed("top-ratio") {
			topRatio = pc.TopRatio
		}
		if !cmd.Flags().Changed("quote") && pc.QuoteAsset != "" {
			quote = pc.QuoteAsset
		}
		if !cmd.Flags().Changed("delay-days") {
			delayDays = pc.DelayDays
		}
		if !cmd.Flags().Changed("max-concurrent") && pc.MaxConcurrent > 0 {
			maxConcurrent = pc.MaxConcurrent
		}
		if pc.InterBatchDelay > 0 {
			interBatchDelay = time.Duration(pc.InterBatchDelay) * time.Millisecond
		}
	}

	cfg := universe.Config{
		StartDate:  start,
		EndDate:    end,
		T1Months:   t1,
		T2Months:   t2,
		T3Months:   t3,
		DelayDays:  delayDays,
		QuoteAsset: quote,
		TopK:       topK,
		TopRatio:   topRatio,
	}
	if err := cfg.Validate(); err != nil {
		return exitErr(1, fmt.Errorf("plan-universe: %w", err))
	}

	stack, err := newExchangeStack(configPath)
	if err != nil {
		return exitErr(1, err)
	}

	batchLimiter, _ := stack.RateLimit.GetLimiter(ratelimit.ClassBatch)
	pacing := universe.Pacing{
		MaxConcurrent:   maxConcurrent,
		BatchLimiter:    batchLimiter,
		InterBatchDelay: interBatchDelay,
	}

	log.Info().Str("start", start).Str("end", end).Int("top_k", topK).Float64("top_ratio", topRatio).Msg("planning universe")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	def, err := universe.Plan(ctx, stack.Client, cfg, pacing)
	if err != nil {
		return exitErr(2, fmt.Errorf("plan-universe: %w", err))
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return exitErr(2, fmt.Errorf("plan-universe: encoding result: %w", err))
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return exitErr(2, fmt.Errorf("plan-universe: writing %s: %w", out, err))
	}

	log.Info().Int("snapshots", len(def.Snapshots)).Str("out", out).Msg("universe plan written")
	fmt.Printf("wrote %d snapshot(s) to %s\n", len(def.Snapshots), out)
	return nil
}
