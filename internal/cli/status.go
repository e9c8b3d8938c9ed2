// Package cli: status.go implements the "ws-launcher status" command,
// which lists recorded workers and whether they are still running.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ws-launcher/internal/launcher"
	"github.com/shinji-kodama/ws-launcher/internal/model"
)

// statusFlags holds the command-specific flags for status.
type statusFlags struct {
	// filter limits the output to one status ("running" or "exited").
	// Empty shows all workers.
	filter string
}

// NewStatusCommand creates the "status" cobra command.
func NewStatusCommand() *cobra.Command {
	flags := &statusFlags{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded workers and whether they are running",
		Long: `Show the workers started by previous launches from the base directory.

A worker counts as running only while its recorded process still exists
and was started by ws-launcher.

Examples:
  ws-launcher status
  ws-launcher status --filter exited
  ws-launcher status --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.filter, "filter", "", "Only show workers with this status (running, exited)")

	return cmd
}

// runStatus is the main logic function for the status command.
func runStatus(cmd *cobra.Command, flags *statusFlags) error {
	// Step 1: Validate the filter before touching the state file, so a
	// typo fails the same way whether or not anything is recorded.
	var filter model.ProcessStatus
	if flags.filter != "" {
		parsed, err := model.ParseProcessStatus(flags.filter)
		if err != nil {
			return model.WrapCLIError(model.ExitInvalidInput, "invalid --filter value", err)
		}
		filter = parsed
	}

	// Step 2: Load the records and derive each worker's current status.
	// The state file lives in the base directory, so "status" run with a
	// different --dir sees a different set of workers.
	baseDir, err := resolveBaseDir()
	if err != nil {
		return err
	}

	store := launcher.NewStateStore(baseDir)
	records, err := loadRecords(store)
	if err != nil {
		return err
	}

	// Step 3: Apply the filter and print.
	printStatus(cmd.OutOrStdout(), store.Path(), filterRecords(records, filter))
	return nil
}

// loadRecords reads the state file and fills in each record's status.
func loadRecords(store *launcher.StateStore) ([]model.ProcessRecord, error) {
	// A missing file loads as an empty state, not an error.
	state, err := store.Load()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "cannot read launcher state", err)
	}
	for i := range state.Workers {
		// Status is never persisted; it is only meaningful at query time.
		state.Workers[i].Status = launcher.Status(state.Workers[i])
	}
	VerboseLog("loaded state", "path", store.Path(), "workers", len(state.Workers))
	return state.Workers, nil
}

// filterRecords returns the records with the given status, or all of
// them when status is empty.
func filterRecords(records []model.ProcessRecord, status model.ProcessStatus) []model.ProcessRecord {
	if status == "" {
		return records
	}
	// Launch order is kept.
	var filtered []model.ProcessRecord
	for _, rec := range records {
		if rec.Status == status {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// printStatus outputs the records in text or JSON format.
func printStatus(w io.Writer, statePath string, records []model.ProcessRecord) {
	if IsJSONOutput() {
		// Emit [] rather than null so consumers can iterate unconditionally.
		if records == nil {
			records = []model.ProcessRecord{}
		}
		_ = printJSON(w, map[string]any{"stateFile": statePath, "workers": records})
		return
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No workers recorded.")
		return
	}
	fmt.Fprintln(w, formatRecords(records))

	// Summary line, for example "3 of 4 worker(s) running".
	running := countRunning(records)
	fmt.Fprintf(w, "\n%d of %d worker(s) running\n", running, len(records))
}

// countRunning returns how many records are currently running.
func countRunning(records []model.ProcessRecord) int {
	n := 0
	for _, rec := range records {
		if rec.Status == model.StatusRunning {
			n++
		}
	}
	return n
}
