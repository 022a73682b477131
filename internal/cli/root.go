// Package cli contains the harvestctl commands, which operate on the
// fingerprint database and queue state file directly.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/veranemoloko/media-harvester/internal/config"
	"github.com/veranemoloko/media-harvester/internal/fingerprint"
)

// Version is set at build time.
var Version = "dev"

var errNotFound = errors.New("not found")

type options struct {
	dbPath    string
	statePath string
	logLevel  string

	fs afero.Fs
}

// NewRootCmd creates the harvestctl root command. Flag defaults come from
// the same environment, .env and YAML sources as the server.
func NewRootCmd() *cobra.Command {
	opts := &options{fs: afero.NewOsFs()}

	defaults := config.Config{IndexDB: "./data/fingerprints.db", StateFile: "./data/queue.json", LogLevel: "warn"}
	if cfg, err := config.FromEnv(); err == nil {
		defaults = *cfg
	}

	rootCmd := &cobra.Command{
		Use:           "harvestctl",
		Short:         "Inspect and maintain the media-harvester fingerprint index",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `harvestctl works on the fingerprint database and queue state file of a
media-harvester installation.

Examples:
  # Index everything already on disk
  harvestctl scan ./downloads

  # Check whether a URL was downloaded before
  harvestctl lookup https://i.example.com/abc.jpg

  # Drop records whose files were deleted
  harvestctl prune --yes`,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.dbPath, "db", defaults.IndexDB, "Path to the fingerprint database")
	flags.StringVar(&opts.statePath, "state", defaults.StateFile, "Path to the queue state file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newScanCmd(opts))
	rootCmd.AddCommand(newLookupCmd(opts))
	rootCmd.AddCommand(newStatsCmd(opts))
	rootCmd.AddCommand(newVerifyCmd(opts))
	rootCmd.AddCommand(newPruneCmd(opts))
	rootCmd.AddCommand(newForgetCmd(opts))
	rootCmd.AddCommand(newClearCmd(opts))
	rootCmd.AddCommand(newQueueCmd(opts))

	return rootCmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	return config.NewLogger(cmd.ErrOrStderr(), o.logLevel, "console")
}

func (o *options) openIndex(cmd *cobra.Command) (*fingerprint.Index, error) {
	ix, err := fingerprint.Open(o.dbPath, o.fs, o.logger(cmd))
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", o.dbPath, err)
	}
	return ix, nil
}
