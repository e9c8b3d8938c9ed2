package launcher

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shinji-kodama/ws-launcher/internal/model"
)

// InstanceEnv is the environment variable that carries a worker's instance
// token. Workers never read it; it only marks the process as ours.
const InstanceEnv = "WS_LAUNCHER_INSTANCE"

// procRoot is where per-process environments are looked up. Systems
// without procfs cannot verify ownership and fall back to liveness only.
const procRoot = "/proc"

// ErrProcessExited is reported when a started worker is found dead.
var ErrProcessExited = errors.New("process exited")

// Process is the handle of a worker started by this launcher invocation.
// Waiting happens in the background so an early exit is observable and
// the child does not linger as a zombie while the launcher is still
// running.
type Process struct {
	// Record is what gets persisted to the state file.
	Record model.ProcessRecord

	cmd  *exec.Cmd
	done chan struct{}

	// err is the result of cmd.Wait. It is written once by the reaper
	// goroutine before done is closed, so reading it after <-done is safe.
	err error
}

// Exited reports whether the process has terminated, and with what error.
// It never blocks.
func (p *Process) Exited() (bool, error) {
	select {
	case <-p.done:
		return true, p.err
	default:
		return false, nil
	}
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// startDetached starts binary with args in dir, in its own session so it
// survives the launcher and ignores the launcher's terminal signals.
// stdout and stderr go to logPath, or to the null device when logPath is
// empty. stdin is always the null device.
//
// The child inherits the launcher's environment plus InstanceEnv set to a
// fresh token, which is stored in the returned record.
func startDetached(name, dir, binary string, args []string, logPath string) (*Process, error) {
	// Step 1: Open the output sink. Workers write their own log files with
	// -wf, so by default everything they print is thrown away.
	sink := os.DevNull
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		sink = logPath
	}
	output, err := os.OpenFile(sink, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening output for %s: %w", name, err)
	}
	// The child holds its own descriptor after Start.
	defer func() { _ = output.Close() }()

	// Step 2: Build the command. cmd.Dir changes the directory of the child
	// only; the launcher itself stays where it was invoked.
	instance := uuid.NewString()

	// #nosec G204 -- binary and args come from the launch plan
	cmd := exec.Command(binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), InstanceEnv+"="+instance)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = detachedAttr()

	// Step 3: Start without waiting. Start returns as soon as the process
	// exists, so a missing or non-executable binary is reported here.
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", binary, err)
	}

	proc := &Process{
		Record: model.ProcessRecord{
			Name:      name,
			PID:       cmd.Process.Pid,
			Instance:  instance,
			Dir:       dir,
			Args:      append([]string{binary}, args...),
			LogPath:   logPath,
			StartedAt: time.Now().UTC(),
		},
		cmd:  cmd,
		done: make(chan struct{}),
	}

	// Step 4: Reap in the background. Once the launcher exits the worker is
	// re-parented to init, which reaps it from then on.
	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()
	return proc, nil
}

// Status reports whether the recorded worker is still running. A PID that
// answers signals but no longer carries the record's instance token
// belongs to some other process and is reported as exited.
func Status(rec model.ProcessRecord) model.ProcessStatus {
	if isAlive(rec.PID) && ownedBy(rec) {
		return model.StatusRunning
	}
	return model.StatusExited
}

// ownedBy reports whether the process behind rec.PID was started with
// rec.Instance in its environment. The environment of a process is fixed
// at exec time and survives a worker that re-execs itself, unlike its
// command line.
//
// Without procfs nothing can be checked and the PID is trusted.
func ownedBy(rec model.ProcessRecord) bool {
	if rec.Instance == "" {
		// Records without a token predate ownership checks or were not
		// written by startDetached.
		return false
	}

	environ, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(rec.PID), "environ"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !procfsAvailable() {
			return true
		}
		// EACCES means the PID belongs to another user, ENOENT that it
		// vanished since the liveness check. Neither is our worker.
		return false
	}
	return hasEnvEntry(environ, InstanceEnv+"="+rec.Instance)
}

// hasEnvEntry reports whether a NUL-separated environment block contains
// entry exactly. A zombie has an empty block and never matches.
func hasEnvEntry(environ []byte, entry string) bool {
	for _, kv := range bytes.Split(environ, []byte{0}) {
		if string(kv) == entry {
			return true
		}
	}
	return false
}

// procfsAvailable reports whether per-process environments can be read on
// this system at all.
func procfsAvailable() bool {
	_, err := os.Stat(filepath.Join(procRoot, "self", "environ"))
	return err == nil
}
