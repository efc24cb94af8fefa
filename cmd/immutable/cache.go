package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/immutable/pkg/immutable/output"
	"github.com/jamesainslie/immutable/pkg/immutable/worker"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the mirror cache store",
	Long: `List the generations held by the mirror's cache store.

The store is locked while a mirror runs; stop it first.`,
	RunE: runCacheList,
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict <keep>",
	Short: "Remove every generation except one",
	Long:  `Remove every cached generation except the given version, and the bodies only they used.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheEvict,
}

func init() {
	cacheCmd.AddCommand(cacheEvictCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openStore() (*worker.Store, error) {
	store, err := worker.Open(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store %s: %w", cfg.Cache.Path, err)
	}
	return store, nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	gens, err := store.Generations()
	if err != nil {
		return err
	}
	bodies, err := store.Bodies()
	if err != nil {
		return err
	}

	// A completed activation leaves only the active generation behind.
	active := ""
	if len(gens) == 1 {
		active = gens[0].Version
	}
	res := output.FromGenerations(cfg.Cache.Path, active, gens)
	if len(gens) > 1 {
		res.Warnings = append(res.Warnings, "several generations stored: an activation was interrupted")
	}
	if err := render(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	printInfo(cmd.ErrOrStderr(), "%d distinct bodies stored", bodies)
	return nil
}

func runCacheEvict(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Evict(args[0])
	if err != nil {
		return err
	}
	printInfo(cmd.OutOrStdout(), "Removed %d entries", removed)
	return nil
}
