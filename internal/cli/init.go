// Package cli: init.go implements the "ws-launcher init" command, which
// writes a launch config file from interactive answers.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ws-launcher/internal/config"
	"github.com/shinji-kodama/ws-launcher/internal/model"
	"github.com/shinji-kodama/ws-launcher/internal/port"
	"github.com/shinji-kodama/ws-launcher/internal/prompt"
)

// Bounds offered at the interactive prompts.
const (
	// minWorkerPort keeps workers off privileged ports.
	minWorkerPort = 1024
	maxWorkerPort = 65535

	// maxInstanceID is the largest id offered for -i.
	maxInstanceID = 1023
)

// initFlags holds the command-specific flags for init.
type initFlags struct {
	// output is the config file to write. Empty means the resolved config
	// path, or ws-launcher.yaml in the base directory.
	output string

	// yes skips the final confirmation.
	yes bool
}

// NewInitCommand creates the "init" cobra command.
func NewInitCommand() *cobra.Command {
	flags := &initFlags{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a launch config file interactively",
		Long: `Ask for the bus URL, the worker ports and the instance id, then write
a launch config file. Answering Y (or just Enter) keeps the value shown.

An existing config file is used as the starting point, so init can also be
used to edit one.

Examples:
  ws-launcher init
  ws-launcher init --output ./staging.yaml
  ws-launcher init --yes < answers.txt`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Config file to write (default: the resolved config path, or "+config.DefaultFileName+" in the base directory)")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Write without asking for confirmation")

	return cmd
}

// runInit is the main logic function for the init command.
// It asks the prompts in a fixed order, validates the answers as a whole
// and writes the resulting plan atomically.
func runInit(cmd *cobra.Command, flags *initFlags) error {
	// Step 1: Decide where the config goes and what it starts from.
	baseDir, err := resolveBaseDir()
	if err != nil {
		return err
	}

	path := initOutputPath(flags.output, baseDir)
	plan, err := initialPlan(path)
	if err != nil {
		return err
	}

	// Step 2: Ask. Questions go to stderr under --json; the first unusable
	// answer aborts without writing anything.
	p := prompt.New(cmd.InOrStdin(), progressWriter(cmd))
	if err := askPlan(p, plan, port.NewScanner()); err != nil {
		return err
	}
	if err := plan.Validate(); err != nil {
		return model.WrapCLIError(model.ExitInvalidInput, "invalid answers", err)
	}

	// Step 3: Confirm, unless --yes was given.
	if !flags.yes {
		if _, err := p.Confirm("writing " + path); err != nil {
			return promptError(err)
		}
	}

	// Step 4: Write. config.Write replaces an existing file atomically.
	if err := config.Write(path, plan); err != nil {
		return err
	}
	VerboseLog("config written", "path", path)

	// Step 5: Output the result.
	printInitResult(cmd.OutOrStdout(), path, plan)
	return nil
}

// initOutputPath picks the file init writes to.
func initOutputPath(output, baseDir string) string {
	if output != "" {
		return output
	}
	// Editing in place: the file launch would read is the one to update.
	if path := config.Resolve(configFlag, baseDir); path != "" {
		return path
	}
	return filepath.Join(baseDir, config.DefaultFileName)
}

// initialPlan loads path when it exists so that its values become the
// suggested defaults.
func initialPlan(path string) (*model.LaunchPlan, error) {
	// No file yet: start from the built-in plan.
	if _, err := os.Stat(path); err != nil {
		return model.DefaultPlan(), nil
	}
	VerboseLog("editing existing config", "path", path)
	return config.Load(path)
}

// askPlan walks the operator through the bus URL, one port per listening
// worker and the shared instance id, updating plan in place.
func askPlan(p *prompt.Prompter, plan *model.LaunchPlan, scanner *port.Scanner) error {
	// The bus URL is shared by all workers and asked once.
	busURL, err := p.String("bus url", true, plan.BusURL)
	if err != nil {
		return promptError(err)
	}
	plan.BusURL = busURL

	// Only workers that listen get a port question. In the default plan
	// that is ws-connector alone.
	for i := range plan.Workers {
		w := &plan.Workers[i]
		if w.Port == 0 {
			continue
		}
		value, err := p.Number(w.Name+" port", true, suggestPort(scanner, w.Port), minWorkerPort, maxWorkerPort)
		if err != nil {
			return promptError(err)
		}
		w.Port = value
	}

	// All workers of one deployment share an instance id; the first
	// worker's value is offered as the default.
	id, err := p.Number("instance id", true, plan.Workers[0].ID, 0, maxInstanceID)
	if err != nil {
		return promptError(err)
	}
	for i := range plan.Workers {
		plan.Workers[i].ID = id
	}
	return nil
}

// suggestPort returns current when it is free, otherwise the next free
// port above it. When nothing is free the current value is kept and the
// launch preflight reports the conflict later.
func suggestPort(scanner *port.Scanner, current int) int {
	if current < minWorkerPort || scanner.IsPortAvailable(current, "tcp") {
		return current
	}
	// Search upwards so the suggestion stays close to the usual port.
	free, err := scanner.FindAvailablePort(current+1, maxWorkerPort, "tcp")
	if err != nil {
		VerboseLog("no free port to suggest", "port", current, "error", err)
		return current
	}
	VerboseLog("suggesting free port", "busy", current, "suggested", free)
	return free
}

// promptError maps prompt failures to exit codes.
func promptError(err error) error {
	// Declining the final question is a cancellation, not bad input.
	if errors.Is(err, prompt.ErrNotConfirmed) {
		return model.NewCLIError(model.ExitUserCancelled, "operation cancelled by user")
	}
	return model.WrapCLIError(model.ExitInvalidInput, "invalid answer", err)
}

// printInitResult outputs the init result in text or JSON format.
func printInitResult(w io.Writer, path string, plan *model.LaunchPlan) {
	if IsJSONOutput() {
		_ = printJSON(w, map[string]any{"path": path, "plan": plan})
		return
	}
	fmt.Fprintf(w, "Wrote %s\n", path)
	for i := range plan.Workers {
		fmt.Fprintf(w, "  %s\n", plan.Workers[i].CommandLine(plan.BusURL))
	}
}
