package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/veranemoloko/media-harvester/internal/domain"
	"github.com/veranemoloko/media-harvester/internal/fingerprint"
	"github.com/veranemoloko/media-harvester/internal/progress"
	"github.com/veranemoloko/media-harvester/internal/queue"
)

func newScanCmd(opts *options) *cobra.Command {
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "scan <dir>",
		Short: "Hash every file under dir and register it in the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := opts.openIndex(cmd)
			if err != nil {
				return err
			}
			defer ix.Close()

			bar := progress.New(progress.Options{
				Description: "scanning",
				Disabled:    noProgress,
				Writer:      cmd.ErrOrStderr(),
			})

			var seen, failed int
			res, err := ix.ScanDirectory(cmd.Context(), args[0], func(p fingerprint.ScanProgress) {
				for ; seen < p.Files; seen++ {
					bar.Increment()
				}
				for ; failed < p.Failed; failed++ {
					bar.IncrementFailed()
				}
			})
			bar.Finish()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "files: %d, new records: %d, failed: %d, took %s\n",
				res.Files, res.NewRecords, res.Failed, bar.Duration().Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	return cmd
}

func newLookupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <url>",
		Short: "Show the record downloaded from url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := opts.openIndex(cmd)
			if err != nil {
				return err
			}
			defer ix.Close()

			rec, err := ix.LookupByURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("%s: %w", args[0], errNotFound)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "content_hash\t%s\n", rec.ContentHash)
			fmt.Fprintf(w, "file_path\t%s\n", rec.FilePath)
			fmt.Fprintf(w, "size_bytes\t%d\n", rec.SizeBytes)
			fmt.Fprintf(w, "urls\t%d\n", len(rec.SourceURLHashes))
			fmt.Fprintf(w, "updated_at\t%s\n", rec.UpdatedAt.Format(time.RFC3339))
			for k, v := range rec.Metadata {
				fmt.Fprintf(w, "metadata.%s\t%s\n", k, v)
			}
			return w.Flush()
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := opts.openIndex(cmd)
			if err != nil {
				return err
			}
			defer ix.Close()

			stats, err := ix.Statistics(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "records\t%d\n", stats.Records)
			fmt.Fprintf(w, "url hashes\t%d\n", stats.URLHashes)
			fmt.Fprintf(w, "total bytes\t%d\n", stats.TotalBytes)
			fmt.Fprintf(w, "videos\t%d\n", stats.Videos)
			fmt.Fprintf(w, "images\t%d\n", stats.Images)
			fmt.Fprintf(w, "other\t%d\n", stats.Other)
			return w.Flush()
		},
	}
}

func newVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Count records whose file is missing on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := opts.openIndex(cmd)
			if err != nil {
				return err
			}
			defer ix.Close()

			missing, err := ix.VerifyFilesExist(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "missing files: %d\n", missing)
			return nil
		},
	}
}

func newPruneCmd(opts *options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove records whose file is missing on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("prune deletes records; pass --yes to confirm")
			}

			ix, err := opts.openIndex(cmd)
			if err != nil {
				return err
			}
			defer ix.Close()

			removed, err := ix.PruneMissing(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed records: %d\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func newForgetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <path>",
		Short: "Remove the records whose file is at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := opts.openIndex(cmd)
			if err != nil {
				return err
			}
			defer ix.Close()

			removed, err := ix.RemoveByPath(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s: %w", args[0], errNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
			return nil
		},
	}
}

func newClearCmd(opts *options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every record from the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("clear deletes all records; pass --yes to confirm")
			}

			ix, err := opts.openIndex(cmd)
			if err != nil {
				return err
			}
			defer ix.Close()

			if err := ix.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "index cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func newQueueCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the work queue state file",
	}
	cmd.AddCommand(newQueueListCmd(opts))
	return cmd
}

func newQueueListCmd(opts *options) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List queued tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.TaskState(state)
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("unknown state %q", state)
			}

			snap, err := queue.NewFileStore(opts.statePath, opts.logger(cmd)).Load()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tATTEMPTS\tURL\tLAST ERROR")
			for _, t := range snap.Tasks {
				if filter != "" && t.State != filter {
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", t.ID, t.State, t.AttemptCount, t.URL, t.LastError)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only show tasks in this state")
	return cmd
}
