package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/immutable/pkg/immutable/config"
	"github.com/jamesainslie/immutable/pkg/immutable/history"
	"github.com/jamesainslie/immutable/pkg/immutable/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	Long: `View the history of builds, verifications and mirror activations,
including the canonical hash recorded for every document.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a specific operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long: `Remove history entries older than the retention period, taken from
--days or history.retention_days.`,
	RunE: runHistoryClean,
}

var (
	historyLimit int
	historyDays  int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCleanCmd.Flags().IntVar(&historyDays, "days", 0, "retention in days (default from config)")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// openHistory opens the log even when recording is disabled.
func openHistory() (*history.Log, error) {
	if cfg.History.Path == "" {
		return nil, errors.New("history path is not configured")
	}
	return history.New(cfg.History.Path)
}

func runHistory(cmd *cobra.Command, args []string) error {
	log, err := openHistory()
	if err != nil {
		return err
	}
	entries, err := log.List(historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		printInfo(cmd.ErrOrStderr(), "No history entries found.")
		return nil
	}
	return render(cmd.OutOrStdout(), output.FromHistory(log.Dir(), entries))
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	log, err := openHistory()
	if err != nil {
		return err
	}
	entry, err := log.Get(args[0])
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), output.FromEntry(entry))
}

func runHistoryClean(cmd *cobra.Command, args []string) error {
	log, err := openHistory()
	if err != nil {
		return err
	}
	days := historyDays
	if days <= 0 {
		days = cfg.History.RetentionDays
	}
	if days <= 0 {
		days = config.DefaultRetentionDays
	}
	removed, err := log.Cleanup(days)
	if err != nil {
		return err
	}
	printInfo(cmd.OutOrStdout(), "Removed %d entries older than %d days.", removed, days)
	return nil
}
