package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/immutable/pkg/immutable/config"
	"github.com/jamesainslie/immutable/pkg/immutable/history"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/output"
)

var (
	cfgFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "immutable",
		Short: "Publish static sites as immutable, self-verifying bundles",
		Long: `Immutable turns the output tree of a static site build into a bundle
whose documents verify their own integrity when loaded, and whose
service worker pins every artifact to a content digest.

Examples:
  immutable build out            # Inject loaders and version the worker
  immutable build --watch out    # Rebuild whenever the tree changes
  immutable verify out           # Check a published tree offline
  immutable serve --production   # Serve with immutable caching headers
  immutable mirror https://app.example  # Cache a deployment at the edge`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/immutable/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "pretty", "output format: "+joinFormats())
	rootCmd.PersistentFlags().String("template", "", "Go template for -o template")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")

	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("template", rootCmd.PersistentFlags().Lookup("template"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// setup loads the configuration and starts logging before any command.
func setup(cmd *cobra.Command, args []string) error {
	bindServeFlags(cmd)
	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	level := cfg.Logging.Level
	switch {
	case viper.GetBool("verbose"):
		level = "debug"
	case viper.GetBool("quiet"):
		level = "error"
	}
	return logging.Init(logging.Config{
		Level:      level,
		Path:       cfg.Logging.Path,
		Components: cfg.Logging.Components,
		Console:    true,
	})
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logging.Close() }()
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		return err
	}
	return nil
}

// render writes a result in the format chosen with --output.
func render(w io.Writer, res *output.Result) error {
	name := viper.GetString("output")
	formatter, err := output.Get(name)
	if err != nil {
		return fmt.Errorf("%w (available: %s)", err, joinFormats())
	}
	if tf, ok := formatter.(*output.TemplateFormatter); ok {
		if tmpl := viper.GetString("template"); tmpl != "" {
			if err := tf.SetTemplate(tmpl); err != nil {
				return err
			}
		}
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, res); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// historyLog opens the history log, or returns nil when history is off.
func historyLog() (*history.Log, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	return history.New(cfg.History.Path)
}

// rootDir picks the output tree from the first argument or the config.
func rootDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.OutDir
}

func joinFormats() string {
	var buf bytes.Buffer
	for i, name := range output.Available() {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(name)
	}
	return buf.String()
}

// printInfo prints a message unless quiet mode is enabled.
func printInfo(w io.Writer, format string, args ...interface{}) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(w, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
