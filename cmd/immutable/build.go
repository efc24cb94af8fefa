package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/immutable/pkg/immutable/build"
	"github.com/jamesainslie/immutable/pkg/immutable/config"
	"github.com/jamesainslie/immutable/pkg/immutable/digest"
	"github.com/jamesainslie/immutable/pkg/immutable/history"
	"github.com/jamesainslie/immutable/pkg/immutable/injector"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/manifest"
	"github.com/jamesainslie/immutable/pkg/immutable/output"
	"github.com/jamesainslie/immutable/pkg/immutable/template"
	"github.com/jamesainslie/immutable/pkg/immutable/walk"
)

var buildCmd = &cobra.Command{
	Use:   "build [dir]",
	Short: "Inject loaders and version the service worker",
	Long: `Build rewrites every document of the output tree so that it carries a
loader pinned to the document's canonical hash, then embeds the manifest
of the finished tree into the service worker and writes its
version-named copy.

Run it after the hosting build system has written the tree.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

var buildWatch bool

func init() {
	f := buildCmd.Flags()
	f.BoolVarP(&buildWatch, "watch", "w", false, "rebuild whenever the tree changes")
	f.String("loader", "", "custom loader script")
	f.String("prototype", "", "worker prototype carrying the FILES slot")
	f.String("algorithm", "", "manifest digest encoding (sha256-hex, sha256-base64)")
	f.Bool("hidden-originals", false, "serve every page through an empty loader shell")
	f.Bool("skip-worker", false, "do not version a service worker")
	f.StringSlice("exclude", nil, "globs excluded from the worker manifest")
	f.Int("concurrency", 0, "parallel workers (0 = number of CPUs)")

	_ = viper.BindPFlag("build.loader", f.Lookup("loader"))
	_ = viper.BindPFlag("build.prototype", f.Lookup("prototype"))
	_ = viper.BindPFlag("build.algorithm", f.Lookup("algorithm"))
	_ = viper.BindPFlag("build.hidden_originals", f.Lookup("hidden-originals"))
	_ = viper.BindPFlag("build.skip_worker", f.Lookup("skip-worker"))
	_ = viper.BindPFlag("build.exclude", f.Lookup("exclude"))
	_ = viper.BindPFlag("build.concurrency", f.Lookup("concurrency"))

	rootCmd.AddCommand(buildCmd)
}

// buildOptions maps the configuration onto a pipeline run over root.
func buildOptions(bc config.BuildConfig, root string) (build.Options, error) {
	alg, err := digest.ParseAlgorithm(bc.Algorithm)
	if err != nil {
		return build.Options{}, err
	}

	opts := build.Options{
		Root: root,
		Injector: injector.Options{
			Webmanifest:     bc.Webmanifest,
			HiddenOriginals: bc.HiddenOriginals,
			HiddenPrefix:    bc.HiddenPrefix,
			CheckLoader:     bc.CheckLoader,
			Concurrency:     bc.Concurrency,
		},
		Manifest: manifest.Options{
			Algorithm:    alg,
			HiddenPrefix: bc.HiddenPrefix,
			Exclude:      bc.Exclude,
			Concurrency:  bc.Concurrency,
		},
		Prototype:  bc.Prototype,
		SkipWorker: bc.SkipWorker,
	}

	if bc.Loader != "" {
		raw, err := os.ReadFile(bc.Loader)
		if err != nil {
			return build.Options{}, fmt.Errorf("failed to read loader: %w", err)
		}
		opts.Injector.Loader = template.New(bc.Loader, string(raw))
	}
	return opts, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions(cfg.Build, rootDir(args))
	if err != nil {
		return err
	}
	hist, err := historyLog()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if buildWatch && !opts.SkipWorker && opts.Prototype == "" {
		// The first run resolves the in-tree worker, so later runs need
		// the prototype it started from.
		snapshot, err := snapshotPrototype(opts.Root)
		if err != nil {
			return err
		}
		defer os.Remove(snapshot)
		opts.Prototype = snapshot
	}

	run := func(ctx context.Context) error {
		report, err := build.Run(ctx, opts)
		recordBuild(hist, opts.Root, report, err)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output.FromBuild(report))
	}

	if err := run(ctx); err != nil {
		return err
	}
	if !buildWatch {
		return nil
	}

	w, err := build.NewWatcher(cfg.Build.Debounce)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Watch(opts.Root); err != nil {
		return err
	}

	printInfo(cmd.ErrOrStderr(), "Watching %s for changes...", opts.Root)
	w.Run(ctx, run)
	return nil
}

// snapshotPrototype copies the unresolved worker of root to a temp file.
func snapshotPrototype(root string) (string, error) {
	raw, err := os.ReadFile(walk.Abs(root, "/"+manifest.WorkerLatest))
	if err != nil {
		return "", fmt.Errorf("worker prototype not found: %w", err)
	}
	if !template.New(manifest.WorkerLatest, string(raw)).Has(template.Files) {
		return "", fmt.Errorf("%s is already versioned; pass --prototype", manifest.WorkerLatest)
	}

	f, err := os.CreateTemp("", "immutable-prototype-*"+filepath.Ext(manifest.WorkerLatest))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// recordBuild appends a build to the history log.
func recordBuild(hist *history.Log, root string, report *build.Report, buildErr error) {
	if hist == nil {
		return
	}
	entry := history.Entry{Operation: history.OpBuild, Root: root}
	if buildErr != nil {
		entry.Error = buildErr.Error()
		entry.Summary.Failures = 1
	}
	if report != nil {
		entry.Summary.Pages = report.Injected()
		for _, p := range report.Pages {
			entry.Pages = append(entry.Pages, history.PageRecord{Path: p.Path, Hash: p.Hash})
		}
		if w := report.Worker; w != nil {
			entry.Version = w.Version
			entry.Summary.Files = len(w.Manifest)
			entry.Summary.Bytes = int64(w.Size)
		}
	}
	if _, err := hist.Record(entry); err != nil {
		logging.Get("history").Warn("failed to record build", "error", err)
	}
}
