//go:build !unix

package launcher

import (
	"os"
	"syscall"
)

// detachedAttr returns nil: there is no session concept to detach from,
// and the worker already outlives the launcher.
func detachedAttr() *syscall.SysProcAttr {
	return nil
}

// isAlive reports whether pid can be opened. os.FindProcess only fails
// for unknown PIDs on these platforms.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}

// terminate has no graceful variant without signals.
func terminate(pid int) error {
	return kill(pid)
}

// kill ends the single process; child processes are not tracked here.
func kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		// Already gone.
		return nil
	}
	return proc.Kill()
}
