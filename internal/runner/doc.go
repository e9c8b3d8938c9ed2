// Package runner executes operator-visible shell commands such as worker
// builds.
//
// Commands run through "sh -c" so that build commands from a config file
// may use pipes or environment assignments. Every command is announced
// with a "Start:" line and closed with "Finish:" (or "Error:" when Call
// sees a non-zero exit). Two flavours exist:
//
//   - Call fails fast and returns a *CommandError.
//   - Run ignores the exit status.
package runner
