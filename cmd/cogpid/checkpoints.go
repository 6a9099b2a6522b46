package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogpid/internal/checkpoint"
	"github.com/fyrsmithlabs/cogpid/internal/config"
	"github.com/fyrsmithlabs/cogpid/internal/workspace"
)

func newCheckpointsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"checkpoint", "cp"},
		Short:   "Manage checkpoints of the workspace",
		Long: `Manage the checkpoints a run saved under <workspace>/.cogpid/checkpoints.

Examples:
  # List checkpoints, best first marked with *
  cogpid checkpoints list

  # Put the workspace back to iteration 3
  cogpid checkpoints restore iter-0003

  # Keep the best checkpoint and the 2 most recent
  cogpid checkpoints prune --keep 2`,
	}
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output results as JSON")

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove all but the best and the most recent checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(opts, func(_ *config.Config, svc checkpoint.Service, _ *zap.Logger) error {
				removed, err := svc.Prune(keep)
				if err != nil {
					return fmt.Errorf("failed to prune checkpoints: %w", err)
				}
				if opts.jsonOutput {
					return outputJSON(opts.stdout, map[string]int{"removed": removed})
				}
				fmt.Fprintf(opts.stdout, "Removed %d checkpoint(s)\n", removed)
				return nil
			})
		},
	}
	prune.Flags().IntVar(&keep, "keep", 3, "number of most recent checkpoints to keep besides the best")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List checkpoints",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withCheckpoints(opts, func(_ *config.Config, svc checkpoint.Service, _ *zap.Logger) error {
					return listCheckpoints(opts, svc)
				})
			},
		},
		&cobra.Command{
			Use:   "restore <checkpoint-id>",
			Short: "Replace the workspace with a checkpoint",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCheckpoints(opts, func(cfg *config.Config, svc checkpoint.Service, _ *zap.Logger) error {
					ws, err := workspace.Open(cfg.Workspace)
					if err != nil {
						return fmt.Errorf("opening workspace: %w", err)
					}
					if err := svc.Restore(cmd.Context(), args[0], ws); err != nil {
						return fmt.Errorf("failed to restore checkpoint: %w", err)
					}
					cp, err := svc.Get(args[0])
					if err != nil {
						return err
					}
					if opts.jsonOutput {
						return outputJSON(opts.stdout, cp)
					}
					fmt.Fprintf(opts.stdout, "Restored %s (iteration %d, PV %.3f) into %s\n",
						cp.ID, cp.Iteration, cp.PV, cfg.Workspace)
					return nil
				})
			},
		},
		prune,
	)
	return cmd
}

// withCheckpoints opens the store of the configured workspace for fn.
func withCheckpoints(opts *options, fn func(*config.Config, checkpoint.Service, *zap.Logger) error) error {
	cfg, err := loadConfig(opts, nil)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	svc, err := openCheckpoints(cfg, logger.Zap())
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}
	defer svc.Close()
	return fn(cfg, svc, logger.Zap())
}

func listCheckpoints(opts *options, svc checkpoint.Service) error {
	checkpoints := svc.List()
	if opts.jsonOutput {
		return outputJSON(opts.stdout, checkpoints)
	}
	if len(checkpoints) == 0 {
		fmt.Fprintln(opts.stdout, "No checkpoints found")
		return nil
	}

	bestID := ""
	if best, ok := svc.Best(); ok {
		bestID = best.ID
	}

	w := tabwriter.NewWriter(opts.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tITERATION\tPV\tFILES\tCOMMIT\tCREATED\tBEST")
	for _, cp := range checkpoints {
		mark := ""
		if cp.ID == bestID {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%.3f\t%d\t%s\t%s\t%s\n",
			cp.ID,
			cp.Iteration,
			cp.PV,
			cp.Files,
			truncate(cp.Commit, 8),
			cp.CreatedAt.Format("2006-01-02 15:04"),
			mark,
		)
	}
	return w.Flush()
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
