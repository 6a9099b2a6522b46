package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cogpid/internal/history"
)

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		runID  string
		last   int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the iteration log",
		Long: `Print the iteration log of the workspace (<workspace>/.cogpid/history.jsonl).

Examples:
  # Every iteration of every run
  cogpid history

  # The last 5 iterations of one run, as JSON
  cogpid history --run <run-id> --last 5 --json

  # Keep printing iterations as a run in another terminal appends them
  cogpid history --follow`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, nil)
			if err != nil {
				return err
			}
			if follow {
				return followHistory(cmd, opts, cfg.HistoryPath(), runID, last)
			}
			records, err := history.ReadAll(cfg.HistoryPath())
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			records = filterRecords(records, runID, last)

			if opts.jsonOutput {
				return outputJSON(opts.stdout, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(opts.stdout, "No iterations recorded")
				return nil
			}

			w := newHistoryTable(opts.stdout)
			for _, r := range records {
				writeHistoryRow(w, r)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only show this run ID")
	cmd.Flags().IntVar(&last, "last", 0, "only show the last N iterations")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing iterations as they are appended")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output results as JSON (one record per line with --follow)")
	return cmd
}

// followHistory prints the existing tail, then every new record, until
// interrupted.
func followHistory(cmd *cobra.Command, opts *options, path, runID string, last int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := history.NewFollower(path)
	if err != nil {
		return err
	}
	defer f.Close()

	existing, err := f.Next()
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	var emit func(history.Record) error
	if opts.jsonOutput {
		enc := json.NewEncoder(opts.stdout)
		emit = func(r history.Record) error { return enc.Encode(r) }
	} else {
		w := newHistoryTable(opts.stdout)
		emit = func(r history.Record) error {
			writeHistoryRow(w, r)
			return w.Flush()
		}
	}

	for _, r := range filterRecords(existing, runID, last) {
		if err := emit(r); err != nil {
			return err
		}
	}
	return f.Follow(ctx, func(r history.Record) error {
		if runID != "" && r.RunID != runID {
			return nil
		}
		return emit(r)
	})
}

func newHistoryTable(out io.Writer) *tabwriter.Writer {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tITER\tPV\tBEST\tCONTROL\tTEMP\tDECISION\tCOST\tNOTE")
	return w
}

func writeHistoryRow(w io.Writer, r history.Record) {
	note := r.Reason
	if r.Error != "" {
		note = r.Error
	}
	fmt.Fprintf(w, "%s\t%d\t%.3f\t%.3f\t%+.3f\t%.2f\t%s\t$%.4f\t%s\n",
		truncate(r.RunID, 8),
		r.Iteration,
		r.PV,
		r.BestPV,
		r.Control,
		r.Params.Temperature,
		r.Decision,
		r.TotalCost,
		note,
	)
}

// filterRecords keeps the records of runID (all when empty), then the last
// n of those (all when n <= 0).
func filterRecords(records []history.Record, runID string, n int) []history.Record {
	out := make([]history.Record, 0, len(records))
	for _, r := range records {
		if runID == "" || r.RunID == runID {
			out = append(out, r)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
