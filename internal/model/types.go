// Package model defines the domain types for the ws-launcher CLI.
//
// The types describe what gets launched (WorkerSpec, LaunchPlan) and what
// was launched (ProcessRecord). Launch plans are built from defaults or a
// config file at runtime; process records are persisted in the launcher
// state file so that later invocations can inspect and stop workers.
package model

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultBusURL is the messaging endpoint every worker connects to when no
// config file overrides it.
const DefaultBusURL = "nats://127.0.0.1:12008"

// DefaultBuildCommand is executed inside each worker directory before the
// worker is started. "go build" emits a binary named after the directory.
const DefaultBuildCommand = "go build"

// DefaultConnectorPort is the listening port passed to ws-connector.
const DefaultConnectorPort = 12220

// ProcessStatus is the observed state of a recorded worker process.
type ProcessStatus string

const (
	// StatusRunning means the recorded PID is alive and still belongs to
	// the worker that was started.
	StatusRunning ProcessStatus = "running"

	// StatusExited means the recorded PID is gone or now belongs to some
	// other process.
	StatusExited ProcessStatus = "exited"
)

// String satisfies fmt.Stringer.
func (s ProcessStatus) String() string {
	return string(s)
}

// IsValid reports whether s is one of the known statuses.
func (s ProcessStatus) IsValid() bool {
	switch s {
	case StatusRunning, StatusExited:
		return true
	default:
		return false
	}
}

// ParseProcessStatus converts a string to a ProcessStatus.
// Matching is case-insensitive, so "--filter Running" works.
func ParseProcessStatus(s string) (ProcessStatus, error) {
	status := ProcessStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid process status: %q (valid: running, exited)", s)
	}
	return status, nil
}

// WorkerSpec describes one worker binary: where its sources live and the
// flags it is started with. The flag fields map one-to-one onto the
// command-line switches the workers understand.
type WorkerSpec struct {
	// Name is the binary name. With DefaultBuildCommand it must equal the
	// last element of Dir, since "go build" names its output after the
	// package directory; LaunchPlan.Validate enforces that. A custom build
	// command is responsible for producing Dir/Name itself.
	Name string `json:"name" yaml:"name"`

	// Dir is the worker source directory, relative to the base directory
	// unless absolute. Empty means Name.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// ID is the worker instance identity (-i).
	ID int `json:"id" yaml:"id"`

	// Debug enables worker debug output (-d 1).
	Debug bool `json:"debug" yaml:"debug"`

	// FastExit makes the worker exit immediately on shutdown (-fe 1).
	FastExit bool `json:"fast_exit" yaml:"fast_exit"`

	// WriteLogFile makes the worker write its own log file (-wf 1).
	WriteLogFile bool `json:"write_log_file" yaml:"write_log_file"`

	// Port is the listening port (-p). Zero omits the flag.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// ExtraArgs are appended verbatim after the generated flags.
	ExtraArgs []string `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
}

// SourceDir returns the worker directory, defaulting to Name.
func (w *WorkerSpec) SourceDir() string {
	if w.Dir == "" {
		return w.Name
	}
	return w.Dir
}

// Args builds the worker argument vector in the order the workers have
// always been started with: -s, -p, -i, -d, -fe, -wf, then ExtraArgs.
func (w *WorkerSpec) Args(busURL string) []string {
	// Every worker takes the bus URL; only ws-connector listens on a port.
	args := []string{"-s", busURL}
	if w.Port != 0 {
		args = append(args, "-p", strconv.Itoa(w.Port))
	}
	args = append(args, "-i", strconv.Itoa(w.ID))
	// The workers declare these switches as integer flags, so each one
	// takes an explicit "1".
	if w.Debug {
		args = append(args, "-d", "1")
	}
	if w.FastExit {
		args = append(args, "-fe", "1")
	}
	if w.WriteLogFile {
		args = append(args, "-wf", "1")
	}
	return append(args, w.ExtraArgs...)
}

// CommandLine renders the worker invocation the way an operator would type
// it from inside the worker directory.
func (w *WorkerSpec) CommandLine(busURL string) string {
	return "./" + w.Name + " " + strings.Join(w.Args(busURL), " ")
}

// Validate checks the fields that can be checked without touching disk.
func (w *WorkerSpec) Validate() error {
	if err := ValidateName(w.Name); err != nil {
		return err
	}
	if w.ID < 0 {
		return fmt.Errorf("worker %s: id %d must not be negative", w.Name, w.ID)
	}
	// Zero means "no -p flag", so only set ports are range-checked.
	if w.Port != 0 && (w.Port < 1 || w.Port > 65535) {
		return fmt.Errorf("worker %s: port %d out of range (1-65535)", w.Name, w.Port)
	}
	return nil
}

// nameRegex accepts names such as "ws-connector" or "ws_cache2".
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateName checks that a worker name is usable as a binary name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("worker name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid worker name %q: must start with an alphanumeric character and contain only alphanumerics, '.', '_' or '-'", name)
	}
	return nil
}

// LaunchPlan is the ordered list of workers to build and start, together
// with the settings they share.
type LaunchPlan struct {
	// BusURL is the messaging endpoint passed to every worker via -s.
	BusURL string `json:"bus_url" yaml:"bus_url"`

	// BuildCommand is the shell command run in each worker directory.
	BuildCommand string `json:"build_command" yaml:"build_command"`

	// Workers are processed strictly in order.
	Workers []WorkerSpec `json:"workers" yaml:"workers"`
}

// DefaultPlan returns the four-worker plan: connector, online, cache and
// sender, all pointed at DefaultBusURL with identity 0 and debug enabled.
// ws-online is the only worker started without fast exit.
func DefaultPlan() *LaunchPlan {
	return &LaunchPlan{
		BusURL:       DefaultBusURL,
		BuildCommand: DefaultBuildCommand,
		Workers: []WorkerSpec{
			{Name: "ws-connector", Port: DefaultConnectorPort, Debug: true, FastExit: true, WriteLogFile: true},
			{Name: "ws-online", Debug: true, WriteLogFile: true},
			{Name: "ws-cache", Debug: true, FastExit: true, WriteLogFile: true},
			{Name: "ws-sender", Debug: true, FastExit: true, WriteLogFile: true},
		},
	}
}

// Validate checks the plan and every worker in it. Worker names must be
// unique because the state file is keyed by name.
func (p *LaunchPlan) Validate() error {
	if p.BusURL == "" {
		return fmt.Errorf("launch plan: bus_url must not be empty")
	}
	if strings.TrimSpace(p.BuildCommand) == "" {
		return fmt.Errorf("launch plan: build_command must not be empty")
	}
	if len(p.Workers) == 0 {
		return fmt.Errorf("launch plan: at least one worker is required")
	}
	seen := make(map[string]bool, len(p.Workers))
	for i := range p.Workers {
		if err := p.Workers[i].Validate(); err != nil {
			return fmt.Errorf("launch plan: %w", err)
		}
		if err := p.checkBinaryName(&p.Workers[i]); err != nil {
			return fmt.Errorf("launch plan: %w", err)
		}
		if seen[p.Workers[i].Name] {
			return fmt.Errorf("launch plan: worker %q listed twice", p.Workers[i].Name)
		}
		seen[p.Workers[i].Name] = true
	}
	return nil
}

// checkBinaryName rejects a worker whose directory would make "go build"
// emit a binary under a different name than the one that gets started.
func (p *LaunchPlan) checkBinaryName(w *WorkerSpec) error {
	if strings.TrimSpace(p.BuildCommand) != DefaultBuildCommand || w.Dir == "" {
		return nil
	}
	if base := filepath.Base(filepath.Clean(w.Dir)); base != w.Name {
		return fmt.Errorf("worker %s: dir %q builds a binary named %q; rename the directory or set build_command", w.Name, w.Dir, base)
	}
	return nil
}

// Worker returns the spec with the given name, or nil.
func (p *LaunchPlan) Worker(name string) *WorkerSpec {
	for i := range p.Workers {
		if p.Workers[i].Name == name {
			return &p.Workers[i]
		}
	}
	return nil
}

// ProcessRecord is the handle kept for every worker the launcher started.
// Records are written to the state file right after each start.
type ProcessRecord struct {
	// Name is the worker name from the plan.
	Name string `json:"name" cbor:"name"`

	// PID is the process ID; the worker also leads its own process group.
	PID int `json:"pid" cbor:"pid"`

	// Instance is a random token placed in the worker's environment at
	// start. A live PID only counts as this worker while its environment
	// still carries the token, which guards against PID reuse after a
	// reboot or wrap-around.
	Instance string `json:"instance" cbor:"instance"`

	// Dir is the absolute working directory the worker was started in.
	Dir string `json:"dir" cbor:"dir"`

	// Args is the full argument vector, binary first.
	Args []string `json:"args" cbor:"args"`

	// LogPath is where stdout/stderr went; empty means discarded.
	LogPath string `json:"logPath,omitempty" cbor:"log_path,omitempty"`

	// StartedAt is when the process was started.
	StartedAt time.Time `json:"startedAt" cbor:"started_at"`

	// Status is filled in at query time and never persisted.
	Status ProcessStatus `json:"status,omitempty" cbor:"-"`
}

// String returns "name (pid N)".
func (r *ProcessRecord) String() string {
	return fmt.Sprintf("%s (pid %d)", r.Name, r.PID)
}

// ExitCode defines the process exit codes of the CLI.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitInvalidInput indicates the operator supplied an unusable value,
	// either at an interactive prompt or through flags and config.
	ExitInvalidInput ExitCode = 2

	// ExitBuildFailed indicates a worker build command exited non-zero.
	// Workers after the failing one are neither built nor started.
	ExitBuildFailed ExitCode = 3

	// ExitLaunchFailed indicates a built worker binary could not be started.
	ExitLaunchFailed ExitCode = 4

	// ExitPortConflict indicates a worker port is already bound on the host.
	ExitPortConflict ExitCode = 5

	// ExitBusUnavailable indicates the Docker daemon or the message bus
	// container could not be reached.
	ExitBusUnavailable ExitCode = 6

	// ExitNotFound indicates there is nothing recorded to act on.
	ExitNotFound ExitCode = 7

	// ExitUserCancelled indicates the operator declined a confirmation.
	ExitUserCancelled ExitCode = 8
)

// CLIError is an error that carries the exit code the CLI should
// terminate with. Every fatal path returns one of these to the single
// top-level handler in cli.Execute.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error returns the message, followed by the underlying error if present.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
