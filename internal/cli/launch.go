// Package cli: launch.go implements the "ws-launcher launch" command.
//
// For each worker of the plan, in order, launch runs the build command in
// the worker directory and then starts the built binary detached from the
// terminal with its output discarded. A failing build stops the sequence;
// workers started before it keep running.
package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ws-launcher/internal/hostinfo"
	"github.com/shinji-kodama/ws-launcher/internal/launcher"
	"github.com/shinji-kodama/ws-launcher/internal/model"
	"github.com/shinji-kodama/ws-launcher/internal/runner"
)

// launchFlags holds the command-specific flags for launch.
type launchFlags struct {
	// dryRun prints the resolved steps and exits without side effects.
	dryRun bool

	// wait gates each start on the previous worker being ready.
	wait        bool
	waitTimeout time.Duration

	// logDir keeps worker output in <logDir>/<worker>.log.
	logDir string

	// checkPorts enables the port preflight. It defaults to true.
	checkPorts bool
}

// NewLaunchCommand creates the "launch" cobra command.
func NewLaunchCommand() *cobra.Command {
	flags := &launchFlags{}

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Build and start all workers",
		Long: `Build and start the workers of the launch plan, one after another.

Without a config file the plan is ws-connector, ws-online, ws-cache and
ws-sender, all connected to nats://127.0.0.1:12008. Each worker is built
with "go build" inside its directory and started from there in the
background with its output discarded.

Examples:
  ws-launcher launch
  ws-launcher launch --dir /srv/ws --wait
  ws-launcher launch --config prod.yaml --log-dir /var/log/ws
  ws-launcher launch --dry-run --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd.Context(), cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the resolved plan without building or starting anything")
	cmd.Flags().BoolVar(&flags.wait, "wait", false, "Wait for each worker to become ready before starting the next")
	cmd.Flags().DurationVar(&flags.waitTimeout, "wait-timeout", launcher.DefaultWaitTimeout, "Maximum time to wait for each worker with --wait")
	cmd.Flags().StringVar(&flags.logDir, "log-dir", "", "Write worker output to <dir>/<worker>.log instead of discarding it")
	cmd.Flags().BoolVar(&flags.checkPorts, "check-ports", true, "Fail before building when a worker port is already in use")

	return cmd
}

// runLaunch is the main logic function for the launch command.
// It resolves where the workers live and which plan to run, then hands
// the plan to the launcher and reports which workers were started.
func runLaunch(ctx context.Context, cmd *cobra.Command, flags *launchFlags) error {
	// Step 1: Resolve the base directory. Worker directories in the plan
	// are relative to it, independent of where ws-launcher was invoked.
	baseDir, err := resolveBaseDir()
	if err != nil {
		return err
	}

	// Step 2: Load the plan: the config file if one is found, otherwise
	// the built-in four-worker plan.
	plan, configPath, err := loadPlan(baseDir)
	if err != nil {
		return err
	}

	// Step 3: Print the context banner. Under --json this goes to stderr
	// so stdout carries only the result document.
	progress := progressWriter(cmd)
	fmt.Fprintf(progress, "Base directory: %s\n", baseDir)
	if configPath != "" {
		fmt.Fprintf(progress, "Config: %s\n", configPath)
	}
	// The LAN IP is informational: operators use it to point clients at
	// the connector. Failing to find one is not an error.
	if ip, err := hostinfo.LANIP(); err == nil {
		fmt.Fprintf(progress, "LAN IP: %s\n", ip)
	} else {
		VerboseLog("LAN IP lookup failed", "error", err)
	}

	steps := launcher.Steps(baseDir, plan)
	if flags.dryRun {
		return printDryRun(cmd.OutOrStdout(), steps)
	}

	// Step 4: Make --log-dir absolute. Workers run with their own
	// directory as cwd, so a relative path would resolve per worker.
	logDir := flags.logDir
	if logDir != "" {
		if logDir, err = filepath.Abs(logDir); err != nil {
			return model.WrapCLIError(model.ExitInvalidInput, "invalid --log-dir", err)
		}
	}

	// Step 5: Wire the runner and launcher. Build banners and compiler
	// output share the progress stream; compiler errors go to stderr.
	r := runner.New(Logger())
	r.Banner = progress
	r.Stdout = progress
	r.Stderr = cmd.ErrOrStderr()

	l := launcher.New(r, launcher.NewStateStore(baseDir), Logger(), progress, launcher.Options{
		CheckPorts:  flags.checkPorts,
		LogDir:      logDir,
		Wait:        flags.wait,
		WaitTimeout: flags.waitTimeout,
	})

	// Step 6: Launch. On failure the workers started so far are still
	// listed, because they keep running.
	result, launchErr := l.Launch(ctx, baseDir, plan)
	if result != nil && (launchErr == nil || len(result.Started) > 0) {
		printLaunchResult(cmd.OutOrStdout(), result, launchErr == nil)
	}
	return launchErr
}

// printDryRun lists the commands launch would run.
func printDryRun(w io.Writer, steps []launcher.Step) error {
	if IsJSONOutput() {
		return printJSON(w, map[string]any{"dryRun": true, "steps": steps})
	}
	// One block per worker, shaped like the commands an operator would
	// type by hand:
	//   1. ws-connector
	//      cd /srv/ws/ws-connector
	//      go build
	//      ./ws-connector -s nats://127.0.0.1:12008 -p 12220 -i 0 -d 1 -fe 1 -wf 1
	for i, s := range steps {
		fmt.Fprintf(w, "%d. %s\n", i+1, s.Worker)
		fmt.Fprintf(w, "   cd %s\n", s.Dir)
		fmt.Fprintf(w, "   %s\n", s.Build)
		fmt.Fprintf(w, "   ./%s %s\n", s.Worker, strings.Join(s.Args, " "))
	}
	return nil
}

// printLaunchResult outputs the launch result in text or JSON format.
func printLaunchResult(w io.Writer, result *launcher.Result, complete bool) {
	if IsJSONOutput() {
		_ = printJSON(w, map[string]any{
			"baseDir":  result.BaseDir,
			"complete": complete,
			"started":  result.Started,
		})
		return
	}

	// An incomplete launch still lists what it started, since those
	// workers keep running.
	if complete {
		fmt.Fprintf(w, "\nStarted %d worker(s)\n", len(result.Started))
	} else {
		fmt.Fprintf(w, "\nLaunch incomplete: %d worker(s) left running (use \"ws-launcher stop\" to stop them)\n",
			len(result.Started))
	}
	fmt.Fprintln(w, formatRecords(result.Started))
}

// formatRecords renders records as an aligned table:
//
//	WORKER         PID      STATUS   DIR
//	ws-connector   4101     running  /srv/ws/ws-connector
//
// Records without a status are fresh from Launch and therefore running.
func formatRecords(records []model.ProcessRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %-8s %-8s %s", "WORKER", "PID", "STATUS", "DIR")
	for _, rec := range records {
		status := rec.Status
		if status == "" {
			status = model.StatusRunning
		}
		fmt.Fprintf(&b, "\n%-14s %-8d %-8s %s", rec.Name, rec.PID, status, rec.Dir)
	}
	return b.String()
}
