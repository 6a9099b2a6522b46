// Cogpid drives an LLM refinement loop with a PID controller.
//
// Usage:
//
//	# Refine the current directory until PV reaches target_pv
//	cogpid run --goal "Add a REST API for todo items"
//
//	# Inspect and manage checkpoints of the last run
//	cogpid checkpoints list
//	cogpid checkpoints restore iter-0003
//
//	# Print the iteration log
//	cogpid history
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	workspace  string
	jsonOutput bool

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "cogpid",
		Short: "Closed-loop code refinement driven by a PID controller",
		Long: `cogpid iteratively plans, generates and reviews changes to a workspace.
Each iteration is measured as a process value (PV) in [0,1]; a PID
controller turns the error against the target into generation parameters,
checkpoints keep the best state, and guards stop the run on convergence,
budget, stagnation or iteration limits.

Configuration is read from cogpid.yaml (or --config) and COGPID_*
environment variables, e.g. COGPID_LLM__API_KEY.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./cogpid.yaml if present)")
	root.PersistentFlags().StringVarP(&opts.workspace, "workspace", "w", "", "workspace directory (overrides config)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newCheckpointsCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	return root
}
