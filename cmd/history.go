package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ethpandaops/atrunner/internal/config"
	"github.com/ethpandaops/atrunner/internal/history"
	"github.com/ethpandaops/atrunner/internal/output"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently recorded runs",
	Long:  `Lists the most recent execution reports saved with run --record.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return showHistory(context.Background(), historyLimit)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show")
}

func showHistory(ctx context.Context, limit int) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store := history.NewStore(Logger, cfg.HistoryDSN)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting history store: %w", err)
	}
	defer func() {
		if err := store.Stop(); err != nil {
			Logger.WithError(err).Warn("Failed to stop history store")
		}
	}()

	runs, err := store.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}

	output.NewFormatter(Logger, os.Stdout, verbose).PrintHistory(runs)

	return nil
}
