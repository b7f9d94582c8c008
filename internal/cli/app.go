// Package cli implements the memocache operator command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/memocache/cache"
	"github.com/jonwraymond/memocache/codec"
)

// Version information set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	backend    string
	location   string
	logLevel   string
	output     string
}

// App is the CLI application.
type App struct {
	root   *cobra.Command
	opts   globalOptions
	stdout io.Writer
	stderr io.Writer
}

// New creates the CLI application.
func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	app.root = &cobra.Command{
		Use:   "memocache",
		Short: "Inspect and maintain persistent memoization caches",
		Long: `memocache operates on the persistent record store behind a notebook's
memoization cache. It reports statistics, verifies record integrity, prunes
stale or corrupt records and checks backend health.

The store is described by a YAML config file (-c) or by --backend and
--location. Supported backends: dir, badger, redis, s3.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := app.root.PersistentFlags()
	pf.StringVarP(&app.opts.configPath, "config", "c", "", "Path to cache configuration file")
	pf.StringVar(&app.opts.backend, "backend", "", "Persistent backend: dir, badger, redis or s3 (overrides config)")
	pf.StringVarP(&app.opts.location, "location", "l", "", "Backend location (overrides config)")
	pf.StringVar(&app.opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	pf.StringVarP(&app.opts.output, "output", "o", "text", "Output format: text, json or yaml")

	app.root.AddCommand(
		app.newVersionCmd(),
		app.newStatsCmd(),
		app.newVerifyCmd(),
		app.newPruneCmd(),
		app.newClearCmd(),
		app.newHealthCmd(),
	)

	return app
}

// WithOutput sets custom output writers.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the CLI application.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the CLI with specific arguments.
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

type versionInfo struct {
	Version      string `json:"version" yaml:"version"`
	GitCommit    string `json:"git_commit" yaml:"git_commit"`
	RecordFormat int    `json:"record_format" yaml:"record_format"`
	CodecVersion int    `json:"codec_version" yaml:"codec_version"`
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and on-disk format information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:      Version,
				GitCommit:    GitCommit,
				RecordFormat: cache.FormatVersion,
				CodecVersion: codec.Version,
			}
			return a.render(info, func(w io.Writer) {
				fmt.Fprintf(w, "memocache version %s\n", info.Version)
				fmt.Fprintf(w, "  Git commit:    %s\n", info.GitCommit)
				fmt.Fprintf(w, "  Record format: %d\n", info.RecordFormat)
				fmt.Fprintf(w, "  Codec version: %d\n", info.CodecVersion)
			})
		},
	}
}
