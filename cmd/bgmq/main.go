package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/glimte/mmate-bgmq/internal/config"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var failureRate float64

	rootCmd := &cobra.Command{
		Use:   "bgmq",
		Short: "Run the in-process background message queue demo",
		Long: `bgmq runs an in-process message broker with a demo order flow.
Settings are read from BGMQ_* environment variables.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Float64Var(&failureRate, "failure-rate", 0.1, "Chance a PlaceOrder attempt fails with a retryable error")

	var interval time.Duration
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Produce and process orders until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := config.Load()
			logger := newLogger(cfg)

			a, err := newApp(ctx, cfg, logger, failureRate)
			if err != nil {
				return err
			}
			defer a.close()

			if cfg.MetricsAddr != "" {
				go func() {
					if err := a.serveMetrics(ctx); err != nil {
						logger.Error("metrics server failed", "error", err)
					}
				}()
			}

			if err := a.broker.Start(); err != nil {
				return err
			}
			logger.Info("broker started", "workers", a.broker.WorkerCount(), "interval", interval)

			if err := a.produce(ctx, interval); err != nil {
				return err
			}

			if err := a.broker.Stop(); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), a.broker.GetStatsDescription())
			return nil
		},
	}
	runCmd.Flags().DurationVarP(&interval, "interval", "i", 100*time.Millisecond, "Delay between published orders")

	var (
		count   int
		timeout time.Duration
	)
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Process a batch of orders and print the broker statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg := config.Load()
			a, err := newApp(ctx, cfg, newLogger(cfg), failureRate)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.runBatch(ctx, count); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), a.broker.GetStatsDescription())
			return nil
		},
	}
	statsCmd.Flags().IntVarP(&count, "count", "n", 100, "Number of orders to publish")
	statsCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the batch to settle")

	rootCmd.AddCommand(runCmd, statsCmd)
	return rootCmd
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
}
