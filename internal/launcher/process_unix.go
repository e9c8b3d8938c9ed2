//go:build unix

package launcher

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// detachedAttr puts the child in a new session. Setsid detaches it from the
// launcher's controlling terminal, so a Ctrl-C in the operator's shell does
// not reach the workers, and makes it the leader of its own process group,
// so signalling -pid reaches the worker and anything it spawned.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// isAlive probes pid with signal 0, which performs the permission and
// existence checks without delivering anything. EPERM means the process
// exists but belongs to someone else, which still counts as alive; Status
// decides separately whether it is ours.
func isAlive(pid int) bool {
	// kill(0, 0) and kill(-1, 0) address groups, never a single worker.
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// terminate asks the worker's process group to exit.
func terminate(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

// kill forcibly ends the worker's process group.
func kill(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

// signalGroup signals the process group led by pid, falling back to the
// single process when no such group exists. A process that is already
// gone is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	// A negative PID addresses the whole group. Workers started with Setsid
	// lead a group whose ID equals their PID.
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// No such group: the record predates Setsid or the worker moved
		// itself into another group. Signal the process alone.
		err = unix.Kill(pid, sig)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
