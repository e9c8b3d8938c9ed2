// Package cli: stop.go implements the "ws-launcher stop" command.
//
// stop asks for confirmation, then sends SIGTERM to every recorded worker
// that is still running, escalating to SIGKILL after the grace period, and
// finally drops the stopped workers from the launcher state.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ws-launcher/internal/launcher"
	"github.com/shinji-kodama/ws-launcher/internal/model"
	"github.com/shinji-kodama/ws-launcher/internal/prompt"
)

// stopFlags holds the command-specific flags for stop.
type stopFlags struct {
	// force skips the confirmation prompt, for scripts and CI.
	force bool

	// grace is how long a worker may take to exit after SIGTERM.
	grace time.Duration
}

// NewStopCommand creates the "stop" cobra command.
func NewStopCommand() *cobra.Command {
	flags := &stopFlags{}

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop all recorded workers",
		Long: `Stop the workers recorded by previous launches.

Workers are stopped in reverse start order. Each gets SIGTERM and, if it
is still running after the grace period, SIGKILL. A recorded PID that now
belongs to an unrelated process is left alone.

Examples:
  ws-launcher stop
  ws-launcher stop --force --grace 10s`,

		// stop always acts on every recorded worker.
		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd.Context(), cmd, flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Skip the confirmation prompt")
	cmd.Flags().DurationVar(&flags.grace, "grace", 5*time.Second, "Time to wait after SIGTERM before sending SIGKILL")

	return cmd
}

// runStop is the main logic function for the stop command.
// It loads the recorded workers, confirms with the operator, stops the
// running ones and removes every stopped worker from the state file.
func runStop(ctx context.Context, cmd *cobra.Command, flags *stopFlags) error {
	// Step 1: Locate the state file of this base directory.
	baseDir, err := resolveBaseDir()
	if err != nil {
		return err
	}

	store := launcher.NewStateStore(baseDir)
	records, err := loadRecords(store)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return model.NewCLIError(model.ExitNotFound, fmt.Sprintf("no workers recorded in %s", store.Path()))
	}

	// Step 2: Ask before signalling anything. Records whose workers have
	// all exited are cleaned up without a question.
	running := countRunning(records)
	if running > 0 && !flags.force {
		// Prompts go to stderr under --json so stdout stays parseable.
		p := prompt.New(cmd.InOrStdin(), progressWriter(cmd))
		if err := confirmStop(p, running); err != nil {
			return err
		}
	}

	// Step 3: Stop the workers. Stop never returns early, so results
	// cover every record even when some of them failed.
	VerboseLog("stopping workers", "count", running, "grace", flags.grace)
	results, stopErr := launcher.Stop(ctx, records, flags.grace)

	// Step 4: Forget what is gone. Workers that could not be stopped stay
	// recorded so a second "stop" can retry them.
	var stopped []string
	for _, res := range results {
		VerboseLog("stop result", "worker", res.Name, "pid", res.PID, "action", res.Action)
		if res.Stopped() {
			stopped = append(stopped, res.Name)
		}
	}
	if err := store.Forget(stopped...); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "workers stopped but state was not updated", err)
	}

	// Step 5: Output the result, then report any failure.
	printStopResult(cmd.OutOrStdout(), results)
	if stopErr != nil {
		return model.WrapCLIError(model.ExitGeneralError, "some workers could not be stopped", stopErr)
	}
	return nil
}

// confirmStop asks the operator to confirm. Declining maps to
// ExitUserCancelled; unreadable input maps to ExitInvalidInput.
func confirmStop(p *prompt.Prompter, running int) error {
	_, err := p.Confirm(fmt.Sprintf("stopping %d running worker(s)", running))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, prompt.ErrNotConfirmed):
		return model.NewCLIError(model.ExitUserCancelled, "operation cancelled by user")
	default:
		return model.WrapCLIError(model.ExitInvalidInput, "failed to read confirmation", err)
	}
}

// printStopResult outputs the stop result in text or JSON format.
func printStopResult(w io.Writer, results []launcher.StopResult) {
	if IsJSONOutput() {
		_ = printJSON(w, map[string]any{"action": "stopped", "workers": results})
		return
	}

	// One line per worker in the order they were stopped, for example:
	//   ws-sender      pid 4104     terminated
	for _, res := range results {
		fmt.Fprintf(w, "%-14s pid %-8d %s\n", res.Name, res.PID, res.Action)
	}
}
