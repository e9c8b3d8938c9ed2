// Package cli implements the cobra-based CLI commands for ws-launcher.
//
// Each subcommand (launch, status, stop, init, bus, info) is defined in its
// own file within this package. This file defines the root command, the
// global flags and the single place where errors become exit codes.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ws-launcher/internal/config"
	"github.com/shinji-kodama/ws-launcher/internal/hostinfo"
	"github.com/shinji-kodama/ws-launcher/internal/logging"
	"github.com/shinji-kodama/ws-launcher/internal/model"
)

// Global flag variables shared across all subcommands.
var (
	// jsonOutput switches command results to indented JSON on stdout.
	jsonOutput bool

	// verbose enables debug-level diagnostics on stderr.
	verbose bool

	// baseDirFlag overrides the directory worker sources are resolved against.
	baseDirFlag string

	// configFlag names a launch config file.
	configFlag string
)

// logger receives diagnostics. It is replaced in PersistentPreRun once the
// --verbose flag is known.
var logger = logging.Discard()

// Version, Commit and Date are set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ws-launcher",
		Short: "Build and start the websocket worker processes",
		Long: `ws-launcher builds the websocket service workers (ws-connector, ws-online,
ws-cache and ws-sender) and starts them as detached background processes
pointed at a shared NATS message bus.

Started workers are recorded so that "status" and "stop" can find them
later. "bus up" runs the NATS server in Docker when none is available.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(os.Stderr, verbose)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&baseDirFlag, "dir", "C", "",
		"Directory containing the worker sources (default: directory of the ws-launcher binary, or $"+hostinfo.EnvBaseDir+")")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"Launch config file (.yaml or .json; default: $"+config.EnvConfigPath+" or "+config.DefaultFileName+" in the base directory)")

	rootCmd.AddCommand(NewLaunchCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewStopCommand())
	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewBusCommand())
	rootCmd.AddCommand(NewInfoCommand())

	return rootCmd
}

// Execute runs the root command and exits with the code carried by a
// returned *model.CLIError, or 1 for any other error. SIGINT and SIGTERM
// cancel the command context, which aborts a running build.
func Execute(rootCmd *cobra.Command) {
	// Workers run in their own sessions, so a Ctrl-C here reaches only the
	// launcher and its build commands, never the started workers.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	// Restore default signal handling; a second Ctrl-C while printing the
	// error kills the process outright.
	stop()

	if err == nil {
		return
	}

	// errors.As finds a CLIError even when a caller wrapped it again.
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(os.Stderr, cliErr.Message, cliErr.Err)
		os.Exit(int(cliErr.Code))
	}

	// Flag parsing errors and anything else cobra returns.
	printError(os.Stderr, err.Error(), nil)
	os.Exit(int(model.ExitGeneralError))
}

// printError writes an error as "Error: ..." text or, with --json, as an
// {"error": {...}} object. stdout stays reserved for results.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]any{
			"message": message,
		}
		if underlying != nil {
			errObj["detail"] = underlying.Error()
		}
		data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// VerboseLog emits a debug diagnostic. It is only visible with --verbose.
func VerboseLog(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// Logger returns the diagnostics logger of the running command.
func Logger() *slog.Logger {
	return logger
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// progressWriter is where human-oriented progress goes: stdout normally,
// stderr when stdout carries JSON.
func progressWriter(cmd *cobra.Command) io.Writer {
	if jsonOutput {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// resolveBaseDir wraps hostinfo.BaseDir with the CLI error mapping.
func resolveBaseDir() (string, error) {
	dir, err := hostinfo.BaseDir(baseDirFlag)
	if err != nil {
		return "", model.WrapCLIError(model.ExitInvalidInput, "cannot determine base directory", err)
	}
	VerboseLog("resolved base directory", "dir", dir)
	return dir, nil
}

// loadPlan returns the launch plan from the resolved config file, or the
// built-in default plan when there is none. The second result is the
// config path used, empty for the default plan.
func loadPlan(baseDir string) (*model.LaunchPlan, string, error) {
	// --config, then $WS_LAUNCHER_CONFIG, then ws-launcher.yaml in baseDir.
	path := config.Resolve(configFlag, baseDir)
	if path == "" {
		VerboseLog("no config file, using default plan")
		return model.DefaultPlan(), "", nil
	}
	VerboseLog("loading config", "path", path)
	plan, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return plan, path, nil
}
