// Command xdata is the minimal orchestrator CLI: three
// subcommands — plan-universe, download, export — each a thin driver over
// the component packages under internal/. The root-command wiring follows
// the usual zerolog-console-writer-in-main plus cobra.Command tree shape,
// with subcommand handlers split into their own *_main.go files; there is
// no interactive menu since every subcommand is a non-interactive
// automation shim by design, not a fallback for a missing terminal.
package main

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const version = "0.1.0"

// exitCoder lets a subcommand's RunE signal the process exit-code
// taxonomy (0 success is the absence of an error; 1 user/config error; 2
// runtime failure without data loss; 3 runtime failure with partial data
// written) without cobra's own error path flattening everything to 1.
type exitCoder struct {
	code int
	err  error
}

func (e *exitCoder) Error() string { return e.err.Error() }
func (e *exitCoder) Unwrap() error { return e.err }

func exitErr(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCoder{code: code, err: err}
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "xdata",
		Short:   "Crypto-derivatives market-data pipeline",
		Version: version,
		Long: `xdata downloads, stores and exports crypto perpetual-futures market
data: K-lines and derivatives metrics (funding rate, open interest,
long/short ratios) for a rolling-turnover universe of symbols, resampled
and aligned into per-day NumPy matrices for downstream research.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Accept underscore spellings for every flag (--request_delay and
	// --request-delay both resolve).
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.AddCommand(newPlanUniverseCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newExportCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var ec *exitCoder
	if errors.As(err, &ec) {
		return ec.code
	}
	return 1
}
