package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/immutable/pkg/immutable/loader"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/server"
	"github.com/jamesainslie/immutable/pkg/immutable/walk"
)

var serveCmd = &cobra.Command{
	Use:   "serve [dir]",
	Short: "Serve an output tree",
	Long: `Serve answers requests from the output tree.

In production mode every response is marked immutable and may be embedded
by any origin. With --parent the server also runs the reference embedding
parent, pinning the loader of /index.html as the frame's own source.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd)
	serveCmd.Flags().Bool("parent", false, "run the reference embedding parent")
	serveCmd.Flags().String("parent-policy", "", "initial policy handed to frames")

	_ = viper.BindPFlag("serve.parent", serveCmd.Flags().Lookup("parent"))
	_ = viper.BindPFlag("serve.parent_policy", serveCmd.Flags().Lookup("parent-policy"))

	rootCmd.AddCommand(serveCmd)
}

// addServeFlags registers the flags shared by serve and mirror.
func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().Bool("production", false, "immutable caching headers and embedding permission")
}

// bindServeFlags binds the shared flags of the command being run. A key
// holds one flag at a time, so this happens at run time, not in init.
func bindServeFlags(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("addr"); f != nil {
		_ = viper.BindPFlag("serve.addr", f)
	}
	if f := cmd.Flags().Lookup("production"); f != nil {
		_ = viper.BindPFlag("serve.production", f)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	root := rootDir(args)
	opts := server.Options{
		Addr:       cfg.Serve.Addr,
		Root:       root,
		Production: cfg.Serve.Production,
	}

	if cfg.Serve.Parent {
		src, err := os.ReadFile(walk.Abs(root, "/index.html"))
		if err != nil {
			return fmt.Errorf("parent needs a built /index.html: %w", err)
		}
		self, err := loader.EmbeddedSource(src)
		if err != nil {
			return fmt.Errorf("parent needs a built /index.html: %w", err)
		}
		opts.Parent = &server.ParentOptions{Self: self, Policy: cfg.Serve.ParentPolicy}
	}

	return runServer(cmd, opts, "")
}

// runServer owns the PID file for the lifetime of a server.
func runServer(cmd *cobra.Command, opts server.Options, cacheDir string) error {
	log := logging.Get("server")

	if err := server.RecoverStale(cfg.Serve.PIDPath, cacheDir); err != nil {
		return fmt.Errorf("%w (pid file %s)", err, cfg.Serve.PIDPath)
	}
	if err := server.WritePIDFile(cfg.Serve.PIDPath); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() {
		if err := server.RemovePIDFile(cfg.Serve.PIDPath); err != nil {
			log.Warn("failed to remove PID file", "error", err)
		}
	}()

	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printInfo(cmd.ErrOrStderr(), "Serving on http://%s", opts.Addr)
	return srv.Run(ctx)
}
