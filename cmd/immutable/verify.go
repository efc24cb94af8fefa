package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/immutable/pkg/immutable/history"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/output"
	"github.com/jamesainslie/immutable/pkg/immutable/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [dir]",
	Short: "Check a published tree offline",
	Long: `Verify re-derives the canonical hash of every document and checks it
against the hash its loader carries, then checks that the worker manifest
lists exactly the files the tree delivers with matching digests.

It exits non-zero when anything fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().Bool("skip-worker", false, "only check documents")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions(cfg.Build, rootDir(args))
	if err != nil {
		return err
	}
	skipWorker, _ := cmd.Flags().GetBool("skip-worker")

	opts.Manifest.Root = opts.Root
	report, err := verify.Run(cmd.Context(), verify.Options{
		Manifest:   opts.Manifest,
		SkipWorker: skipWorker || opts.SkipWorker,
	})
	if err != nil {
		return err
	}

	if hist, err := historyLog(); err != nil {
		return err
	} else if hist != nil {
		entry := history.Entry{
			Operation: history.OpVerify,
			Root:      report.Root,
			Summary:   history.Summary{Pages: len(report.Pages), Failures: report.Failures()},
		}
		for _, p := range report.Pages {
			if p.OK() {
				entry.Pages = append(entry.Pages, history.PageRecord{Path: p.Path, Hash: p.Hash})
			}
		}
		if report.Worker != nil {
			entry.Version = report.Worker.Version
			entry.Summary.Files = report.Worker.Files
		}
		if _, err := hist.Record(entry); err != nil {
			logging.Get("history").Warn("failed to record verification", "error", err)
		}
	}

	if err := render(cmd.OutOrStdout(), output.FromVerify(report)); err != nil {
		return err
	}
	if n := report.Failures(); n > 0 {
		return fmt.Errorf("%d verification failures", n)
	}
	return nil
}
