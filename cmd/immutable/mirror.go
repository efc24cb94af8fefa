package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/immutable/pkg/immutable/server"
	"github.com/jamesainslie/immutable/pkg/immutable/worker"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror [upstream]",
	Short: "Serve a deployment from a verified local cache",
	Long: `Mirror discovers the bundle deployed on upstream through its service
worker, fetches every artifact its manifest lists into the cache store and
serves them from there. Requests outside the manifest are proxied.

The deployment is checked again every refresh interval; a new version
replaces the previous generation only once it is completely cached.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMirror,
}

func init() {
	addServeFlags(mirrorCmd)
	f := mirrorCmd.Flags()
	f.Bool("strict", true, "check every artifact against its manifest digest")
	f.Duration("refresh", 0, "interval between deployment checks (0 keeps the configured value)")
	f.Int("concurrency", 0, "parallel fetches (0 = default)")

	_ = viper.BindPFlag("mirror.strict", f.Lookup("strict"))
	_ = viper.BindPFlag("mirror.concurrency", f.Lookup("concurrency"))

	rootCmd.AddCommand(mirrorCmd)
}

func runMirror(cmd *cobra.Command, args []string) error {
	upstream := cfg.Mirror.Upstream
	if len(args) > 0 {
		upstream = args[0]
	}
	if upstream == "" {
		return errors.New("no upstream: pass one or set mirror.upstream")
	}
	refresh := cfg.Mirror.Refresh
	if d, _ := cmd.Flags().GetDuration("refresh"); d > 0 {
		refresh = d
	}

	// A server that died holding the store leaves its lock behind.
	if err := server.RecoverStale(cfg.Serve.PIDPath, cfg.Cache.Path); err != nil {
		return fmt.Errorf("%w (pid file %s)", err, cfg.Serve.PIDPath)
	}
	store, err := worker.Open(cfg.Cache.Path)
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}
	defer store.Close()

	hist, err := historyLog()
	if err != nil {
		return err
	}

	mirror := server.NewMirror(server.MirrorOptions{
		Upstream:    upstream,
		Store:       store,
		Strict:      cfg.Mirror.Strict,
		Timeout:     cfg.Mirror.Timeout,
		Refresh:     refresh,
		Concurrency: cfg.Mirror.Concurrency,
		History:     hist,
	})

	// Without a first generation every request is proxied, which is still
	// useful, so a failed first sync is not fatal.
	if _, err := mirror.Sync(cmd.Context()); err != nil {
		printError("initial sync of %s failed: %v", upstream, err)
	} else {
		printInfo(cmd.ErrOrStderr(), "Mirroring %s at version %s", upstream, mirror.Version())
	}

	return runServer(cmd, server.Options{
		Addr:       cfg.Serve.Addr,
		Mirror:     mirror,
		Production: cfg.Serve.Production,
	}, cfg.Cache.Path)
}
