// Package launcher builds the worker binaries and starts them as detached
// background processes.
//
// Workers are handled one at a time in plan order. Each worker's build
// command runs in the worker directory; only when it succeeds is the
// freshly built binary started. The first failing build ends the launch,
// so later workers are neither built nor started. Workers that were
// already started keep running and stay recorded in the state file, where
// "status" and "stop" find them.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shinji-kodama/ws-launcher/internal/model"
	"github.com/shinji-kodama/ws-launcher/internal/port"
	"github.com/shinji-kodama/ws-launcher/internal/runner"
)

// Defaults for Options.
const (
	// DefaultWaitTimeout bounds the readiness wait of a single worker.
	DefaultWaitTimeout = 15 * time.Second

	// DefaultSettleTime is how long a worker without a port has to survive
	// to be considered up. Workers that fail on a bad bus URL or a missing
	// resource usually exit well within a second.
	DefaultSettleTime = time.Second
)

// Options tune a launch. The zero value reproduces the classic behaviour:
// no preflight, no log files, no readiness wait.
type Options struct {
	// CheckPorts verifies before any build that every worker port is free.
	CheckPorts bool

	// LogDir, when set, receives one <worker>.log file per worker instead
	// of discarding worker output.
	LogDir string

	// Wait makes Launch wait after each start until the worker is ready:
	// alive and, if it has a port, accepting connections on it.
	Wait bool

	// WaitTimeout bounds each readiness wait.
	WaitTimeout time.Duration

	// SettleTime is how long a worker without a port must stay alive to
	// count as ready.
	SettleTime time.Duration
}

// Step is one resolved entry of a launch plan.
type Step struct {
	// Worker is the worker name, e.g. "ws-cache".
	Worker string `json:"worker"`

	// Dir is the absolute worker directory. The build runs there and the
	// worker is started there.
	Dir string `json:"dir"`

	// Build is the shell command that produces Binary.
	Build string `json:"build"`

	// Binary is Dir/Worker, the file "go build" writes.
	Binary string `json:"binary"`

	// Args is the worker argument vector without the binary.
	Args []string `json:"args"`

	// Port is the listening port, or zero for workers without one.
	Port int `json:"port,omitempty"`
}

// Result lists the workers started by Launch. It is returned even when
// Launch fails part-way.
type Result struct {
	// BaseDir is the directory the plan was resolved against.
	BaseDir string `json:"baseDir"`

	// Started lists the started workers in start order.
	Started []model.ProcessRecord `json:"started"`
}

// Launcher runs launch plans.
type Launcher struct {
	// runner executes the build commands.
	runner *runner.Runner

	// scanner backs the port preflight.
	scanner *port.Scanner

	// store receives a record after every start.
	store *StateStore

	logger *slog.Logger

	// out receives the "Started ..." progress lines. Build banners and
	// build output go through runner instead.
	out  io.Writer
	opts Options
}

// New returns a Launcher. Progress lines are written to out; build
// banners are written by r.
func New(r *runner.Runner, store *StateStore, logger *slog.Logger, out io.Writer, opts Options) *Launcher {
	// Zero values mean "use the default" so callers only set what the
	// operator asked for.
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.SettleTime <= 0 {
		opts.SettleTime = DefaultSettleTime
	}
	return &Launcher{
		runner:  r,
		scanner: port.NewScanner(),
		store:   store,
		logger:  logger,
		out:     out,
		opts:    opts,
	}
}

// Steps resolves plan against baseDir without touching anything.
func Steps(baseDir string, plan *model.LaunchPlan) []Step {
	steps := make([]Step, 0, len(plan.Workers))
	for i := range plan.Workers {
		w := &plan.Workers[i]
		dir := workerDir(baseDir, w)
		// The binary name follows the worker name; Validate checks that
		// "go build" agrees.
		steps = append(steps, Step{
			Worker: w.Name,
			Dir:    dir,
			Build:  plan.BuildCommand,
			Binary: filepath.Join(dir, w.Name),
			Args:   w.Args(plan.BusURL),
			Port:   w.Port,
		})
	}
	return steps
}

// workerDir resolves a worker directory against baseDir. Absolute
// directories from a config file are kept as they are.
func workerDir(baseDir string, w *model.WorkerSpec) string {
	dir := w.SourceDir()
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(baseDir, dir)
}

// Launch builds and starts every worker of plan in order.
//
// The returned Result always lists the workers that were started, also
// when an error is returned, so the caller can report what is left
// running.
func (l *Launcher) Launch(ctx context.Context, baseDir string, plan *model.LaunchPlan) (*Result, error) {
	result := &Result{BaseDir: baseDir}

	// Step 1: Reject a broken plan before anything runs.
	if err := plan.Validate(); err != nil {
		return result, model.WrapCLIError(model.ExitInvalidInput, "invalid launch plan", err)
	}

	steps := Steps(baseDir, plan)
	l.warnAlreadyRunning(plan)

	// Step 2: Port preflight. A worker that cannot bind its port would
	// start and exit at once, after its predecessors were already started.
	if l.opts.CheckPorts {
		bindings := make([]port.Binding, 0, len(steps))
		for _, s := range steps {
			bindings = append(bindings, port.Binding{Owner: s.Worker, Port: s.Port})
		}
		if err := l.scanner.CheckBindings(bindings); err != nil {
			return result, model.WrapCLIError(model.ExitPortConflict, "port preflight failed", err)
		}
	}

	// Step 3: Build and start each worker strictly in order.
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return result, interrupted(err)
		}

		// The build runs with the worker directory as its cwd. A non-zero
		// exit ends the whole launch: later workers are not even built.
		if err := l.runner.Call(ctx, step.Dir, step.Build); err != nil {
			// CommandContext kills the build when the operator presses
			// Ctrl-C, which surfaces as a build error. Report it as what
			// it is.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, interrupted(ctxErr)
			}
			return result, model.WrapCLIError(model.ExitBuildFailed,
				fmt.Sprintf("build of %s failed", step.Worker), err)
		}

		proc, err := l.start(step)
		if err != nil {
			return result, model.WrapCLIError(model.ExitLaunchFailed,
				fmt.Sprintf("failed to start %s", step.Worker), err)
		}
		result.Started = append(result.Started, proc.Record)
		fmt.Fprintf(l.out, "Started %s (pid %d)\n", step.Worker, proc.Record.PID)

		// Persist after every start so that a later failure still leaves
		// this worker stoppable. The worker is already running, so a state
		// write failure is only worth a warning.
		if err := l.store.Record(proc.Record); err != nil {
			l.logger.Warn("worker not recorded in state file", "worker", step.Worker, "pid", proc.Record.PID, "error", err)
		}

		if l.opts.Wait {
			if err := l.waitReady(ctx, proc, step.Port); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return result, interrupted(ctxErr)
				}
				return result, model.WrapCLIError(model.ExitLaunchFailed,
					fmt.Sprintf("%s did not become ready", step.Worker), err)
			}
			l.logger.Info("worker ready", "worker", step.Worker, "pid", proc.Record.PID)
		}
	}

	return result, nil
}

// interrupted wraps a context error as an operator cancellation.
func interrupted(err error) error {
	return model.WrapCLIError(model.ExitUserCancelled, "launch interrupted", err)
}

// start launches the binary of step with its output routed per Options.
func (l *Launcher) start(step Step) (*Process, error) {
	// Empty logPath sends the output to the null device.
	logPath := ""
	if l.opts.LogDir != "" {
		logPath = filepath.Join(l.opts.LogDir, step.Worker+".log")
	}

	l.logger.Debug("starting worker", "worker", step.Worker, "binary", step.Binary, "args", step.Args, "log", logPath)
	return startDetached(step.Worker, step.Dir, step.Binary, step.Args, logPath)
}

// warnAlreadyRunning logs workers of this plan that a previous launch
// recorded and that are still alive. Launching proceeds regardless.
func (l *Launcher) warnAlreadyRunning(plan *model.LaunchPlan) {
	// A broken state file must not block a launch; Record rewrites it.
	state, err := l.store.Load()
	if err != nil {
		l.logger.Warn("ignoring unreadable state file", "path", l.store.Path(), "error", err)
		return
	}
	for _, rec := range state.Workers {
		// Workers from another plan sharing the base directory are not
		// this launch's concern.
		if plan.Worker(rec.Name) == nil {
			continue
		}
		if Status(rec) == model.StatusRunning {
			l.logger.Warn("worker from a previous launch is still running", "worker", rec.Name, "pid", rec.PID)
		}
	}
}

// waitReady blocks until proc is ready, it exits, or the wait times out.
func (l *Launcher) waitReady(ctx context.Context, proc *Process, workerPort int) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.opts.WaitTimeout)
	defer cancel()

	// Workers without a port give no signal of readiness; surviving the
	// settle time is the best available evidence.
	if workerPort == 0 {
		settle := time.NewTimer(l.opts.SettleTime)
		defer settle.Stop()

		select {
		case <-proc.Done():
			return exitedError(proc)
		case <-settle.C:
			return nil
		case <-waitCtx.Done():
			return fmt.Errorf("%w: %w", port.ErrNotReady, waitCtx.Err())
		}
	}

	// Workers with a port are ready once it accepts TCP connections. The
	// probe also watches for an early exit so a crash is not mistaken for
	// a slow start.
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(workerPort))
	return port.Poll(waitCtx, port.DefaultProbeInterval, func(ctx context.Context) (bool, error) {
		if exited, _ := proc.Exited(); exited {
			return false, exitedError(proc)
		}
		return port.IsReachable(ctx, addr, port.DefaultProbeInterval), nil
	})
}

// exitedError reports an exited process together with its wait status.
// Only call it once proc is done.
func exitedError(proc *Process) error {
	if _, err := proc.Exited(); err != nil {
		return fmt.Errorf("%w: %w", ErrProcessExited, err)
	}
	return ErrProcessExited
}

// StopResult describes what Stop did to one recorded worker.
type StopResult struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`

	// Action is one of the Action constants below.
	Action string `json:"action"`
}

// Stopped reports whether the worker is known to be gone afterwards.
func (r StopResult) Stopped() bool {
	return r.Action != ActionFailed
}

// Stop actions.
const (
	// ActionTerminated means the worker exited within the grace period.
	ActionTerminated = "terminated"

	// ActionKilled means SIGKILL was needed.
	ActionKilled = "killed"

	// ActionNotRunning means the worker was already gone, or its PID now
	// belongs to a process this launcher did not start.
	ActionNotRunning = "not running"

	// ActionFailed means a signal could not be delivered; the worker may
	// still be running.
	ActionFailed = "failed"
)

// Stop ends the recorded workers in reverse start order. Each worker's
// process group gets SIGTERM and, if still alive after grace, SIGKILL.
//
// Records whose PID no longer belongs to the worker (see Status) are
// reported as not running and never signalled. Every record gets a
// result; failures are joined into the returned error.
func Stop(ctx context.Context, records []model.ProcessRecord, grace time.Duration) ([]StopResult, error) {
	results := make([]StopResult, 0, len(records))
	var errs []error

	// Reverse start order.
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		res := StopResult{Name: rec.Name, PID: rec.PID, Action: ActionNotRunning}

		if Status(rec) == model.StatusRunning {
			action, err := stopOne(ctx, rec.PID, grace)
			if err != nil {
				errs = append(errs, fmt.Errorf("stopping %s (pid %d): %w", rec.Name, rec.PID, err))
				action = ActionFailed
			}
			res.Action = action
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// stopOne sends SIGTERM, waits up to grace for the process to disappear
// and then sends SIGKILL.
func stopOne(ctx context.Context, pid int, grace time.Duration) (string, error) {
	// SIGTERM gives the worker a chance to close its bus subscriptions.
	if err := terminate(pid); err != nil {
		return "", err
	}

	// Poll for the PID to disappear. The worker is not our child once a
	// previous launcher exited, so Wait is not available.

	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	err := port.Poll(graceCtx, 50*time.Millisecond, func(context.Context) (bool, error) {
		return !isAlive(pid), nil
	})
	if err == nil {
		return ActionTerminated, nil
	}
	// The parent context ending means the operator gave up; do not
	// escalate behind their back.
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if err := kill(pid); err != nil {
		return "", err
	}
	return ActionKilled, nil
}
