package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// waitDelay is how long a cancelled command's output pipes stay open for
// processes it spawned. Without it a build tool's surviving children would
// keep Wait blocked after the shell itself was killed.
const waitDelay = 2 * time.Second

// CommandError reports a shell command that could not be run or exited
// with a non-zero status.
type CommandError struct {
	// Command is the shell command line as given to Call.
	Command string

	// Dir is the directory the command ran in.
	Dir string

	// ExitCode is the command's exit status, or -1 if it never started or
	// was killed by a signal.
	ExitCode int

	// Err is the underlying exec error.
	Err error
}

// Error satisfies the error interface.
func (e *CommandError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command %q in %s exited with status %d", e.Command, e.Dir, e.ExitCode)
	}
	return fmt.Sprintf("command %q in %s failed: %v", e.Command, e.Dir, e.Err)
}

// Unwrap returns the underlying exec error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Runner executes shell command lines synchronously and prints a
// "Start:" / "Finish:" banner around each of them.
//
// The directory is always passed per call and applied to the child only,
// so the runner never changes the working directory of the current
// process.
type Runner struct {
	// Shell is the interpreter used for command lines. It is resolved
	// through PATH and invoked as "<Shell> -c <command>".
	Shell string

	// Banner receives the Start/Finish/Error lines.
	Banner io.Writer

	// Stdout and Stderr receive the child's output.
	Stdout io.Writer
	Stderr io.Writer

	logger *slog.Logger
}

// New returns a Runner that uses "sh", prints banners to stdout and passes
// child output through to the terminal.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		Shell:  "sh",
		Banner: os.Stdout,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		logger: logger,
	}
}

// Call runs command in dir and fails fast: a non-zero exit prints an
// "Error:" banner and returns a *CommandError. The caller decides whether
// to stop.
func (r *Runner) Call(ctx context.Context, dir, command string) error {
	fmt.Fprintf(r.Banner, "\nStart: %s\n", command)

	err := r.exec(ctx, dir, command)
	if err != nil {
		fmt.Fprintf(r.Banner, "Error: %s\n", command)
		return err
	}

	fmt.Fprintf(r.Banner, "Finish: %s\n", command)
	return nil
}

// Run runs command in dir and ignores its outcome. The exit status is
// returned for logging only; -1 means the command could not be started.
func (r *Runner) Run(ctx context.Context, dir, command string) int {
	fmt.Fprintf(r.Banner, "\nStart: %s\n", command)

	status := 0
	if err := r.exec(ctx, dir, command); err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			status = cmdErr.ExitCode
		} else {
			status = -1
		}
		r.logger.Debug("command status ignored", "command", command, "status", status)
	}

	fmt.Fprintf(r.Banner, "Finish: %s\n", command)
	return status
}

// exec runs command through the shell in dir and converts failures into
// a *CommandError.
func (r *Runner) exec(ctx context.Context, dir, command string) error {
	// "sh -c ''" would succeed silently; a blank build command is a
	// configuration mistake.
	if strings.TrimSpace(command) == "" {
		return &CommandError{Command: command, Dir: dir, ExitCode: -1, Err: errors.New("empty command")}
	}

	// Step 1: Prepare the child. CommandContext kills the shell when ctx is
	// cancelled (Ctrl-C in the launcher). cmd.Dir applies to the child only.
	// #nosec G204 -- command lines come from the launch plan, not from the network
	cmd := exec.CommandContext(ctx, r.Shell, "-c", command)
	cmd.Dir = dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	cmd.WaitDelay = waitDelay

	started := time.Now()
	r.logger.Debug("running command", "command", command, "dir", dir)

	// Step 2: Run to completion. A missing directory fails here as a chdir
	// error before the shell starts.
	err := cmd.Run()
	r.logger.Debug("command finished", "command", command, "duration", time.Since(started), "error", err)
	if err == nil {
		return nil
	}

	// Step 3: Extract the exit status. Anything that is not an ExitError
	// (start failure, chdir failure) or a signal death keeps -1, since
	// ExitCode reports -1 for signalled processes too.
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &CommandError{Command: command, Dir: dir, ExitCode: exitCode, Err: err}
}
