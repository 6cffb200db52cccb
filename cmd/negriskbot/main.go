package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/web3guy0/negriskbot/core"
	"github.com/web3guy0/negriskbot/feeds"
	"github.com/web3guy0/negriskbot/internal/config"
	"github.com/web3guy0/negriskbot/strategy"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dryRun bool

	root := &cobra.Command{
		Use:           "negriskbot",
		Short:         "Sum-arbitrage bot for Polymarket NegRisk markets",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", true, "simulate every order (overrides DRY_RUN)")

	loadConfig := func(cmd *cobra.Command) (*config.Config, error) {
		var opts []config.Option
		if cmd.Flags().Changed("dry-run") {
			opts = append(opts, config.WithDryRun(dryRun))
		}
		return config.Load(opts...)
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the scan loop until interrupted or halted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			closer, err := setupLogging(cfg)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				log.Error().Err(err).Msg("❌ Bot stopped with error")
				return err
			}
			log.Info().Msg("👋 Goodbye!")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "scan",
		Short: "Scan once, print ranked opportunities and exit without trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			closer, err := setupLogging(cfg)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return scanOnce(ctx, cfg, cmd.OutOrStdout())
		},
	})

	return root
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ═══════════════════════════════════════════════════════════════════════════════

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func setupLogging(cfg *config.Config) (io.Closer, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if cfg.LogFile == "" {
		log.Logger = log.Output(console)
		return nopCloser{}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, f)).With().Timestamp().Logger()
	return f, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SCAN
// ═══════════════════════════════════════════════════════════════════════════════

func scanOnce(ctx context.Context, cfg *config.Config, out io.Writer) error {
	gamma := feeds.NewGamma(cfg.GammaURL, cfg.HTTPTimeout)
	scanner := strategy.NewSumArb(gamma, cfg.MinProfitThreshold, cfg.ScanWorkers)

	scanCtx := ctx
	if cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, cfg.CycleTimeout)
		defer cancel()
	}

	opps := scanner.ScanAll(scanCtx, cfg.TradeSize)
	core.Rank(opps)

	if len(opps) == 0 {
		fmt.Fprintln(out, "No opportunities found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTYPE\tSUM\tPROFIT %\tPROFIT $\tLEGS\tMARKET")
	for i, o := range opps {
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%.2f\t%.4f\t%d\t%s\n",
			i+1, o.Direction, o.PriceSum, o.ProfitFraction*100, o.ProfitAmount, len(o.Outcomes), o.Label)
	}
	return w.Flush()
}
