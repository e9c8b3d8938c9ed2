package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProcessStatus_String verifies the string form used in CLI output.
func TestProcessStatus_String(t *testing.T) {
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "exited", StatusExited.String())
}

// TestParseProcessStatus verifies string-to-status conversion,
// including case normalization and error cases.
func TestParseProcessStatus(t *testing.T) {
	tests := []struct {
		input    string
		expected ProcessStatus
		hasError bool
	}{
		{"running", StatusRunning, false},
		{"exited", StatusExited, false},
		{"RUNNING", StatusRunning, false},
		{"stopped", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseProcessStatus(tt.input)
			if tt.hasError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

// TestDefaultPlan_Args pins the exact argument vectors of the four default
// workers. Operators and the workers' own scripts depend on these.
func TestDefaultPlan_Args(t *testing.T) {
	plan := DefaultPlan()
	require.NoError(t, plan.Validate())

	expected := map[string]string{
		"ws-connector": "-s nats://127.0.0.1:12008 -p 12220 -i 0 -d 1 -fe 1 -wf 1",
		"ws-online":    "-s nats://127.0.0.1:12008 -i 0 -d 1 -wf 1",
		"ws-cache":     "-s nats://127.0.0.1:12008 -i 0 -d 1 -fe 1 -wf 1",
		"ws-sender":    "-s nats://127.0.0.1:12008 -i 0 -d 1 -fe 1 -wf 1",
	}

	order := make([]string, 0, len(plan.Workers))
	for _, w := range plan.Workers {
		order = append(order, w.Name)
		assert.Equal(t, expected[w.Name], strings.Join(w.Args(plan.BusURL), " "), "args for %s", w.Name)
		assert.Equal(t, w.Name, w.SourceDir())
	}
	assert.Equal(t, []string{"ws-connector", "ws-online", "ws-cache", "ws-sender"}, order)
	assert.Equal(t, "go build", plan.BuildCommand)
}

// TestWorkerSpec_Args covers optional flags and extra arguments.
func TestWorkerSpec_Args(t *testing.T) {
	w := WorkerSpec{Name: "ws-cache", ID: 3, ExtraArgs: []string{"-m", "600"}}
	assert.Equal(t, []string{"-s", "nats://bus:4222", "-i", "3", "-m", "600"}, w.Args("nats://bus:4222"))
	assert.Equal(t, "./ws-cache -s nats://bus:4222 -i 3 -m 600", w.CommandLine("nats://bus:4222"))
}

// TestWorkerSpec_SourceDir verifies that Dir overrides the name-derived default.
func TestWorkerSpec_SourceDir(t *testing.T) {
	w := WorkerSpec{Name: "ws-sender", Dir: "services/ws-sender"}
	assert.Equal(t, "services/ws-sender", w.SourceDir())
}

// TestValidateName checks worker name rules.
func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"ws-connector", false},
		{"ws_cache2", false},
		{"a", false},
		{"", true},
		{"-leading", true},
		{"has space", true},
		{"../escape", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestLaunchPlan_Validate covers the plan-level checks.
func TestLaunchPlan_Validate(t *testing.T) {
	t.Run("empty bus url", func(t *testing.T) {
		p := DefaultPlan()
		p.BusURL = ""
		assert.ErrorContains(t, p.Validate(), "bus_url")
	})

	t.Run("blank build command", func(t *testing.T) {
		p := DefaultPlan()
		p.BuildCommand = "  "
		assert.ErrorContains(t, p.Validate(), "build_command")
	})

	t.Run("no workers", func(t *testing.T) {
		p := DefaultPlan()
		p.Workers = nil
		assert.Error(t, p.Validate())
	})

	t.Run("duplicate worker", func(t *testing.T) {
		p := DefaultPlan()
		p.Workers = append(p.Workers, WorkerSpec{Name: "ws-cache"})
		assert.ErrorContains(t, p.Validate(), "listed twice")
	})

	t.Run("port out of range", func(t *testing.T) {
		p := DefaultPlan()
		p.Workers[0].Port = 70000
		assert.ErrorContains(t, p.Validate(), "out of range")
	})

	t.Run("negative id", func(t *testing.T) {
		p := DefaultPlan()
		p.Workers[1].ID = -1
		assert.Error(t, p.Validate())
	})

	t.Run("dir does not match name under go build", func(t *testing.T) {
		p := DefaultPlan()
		p.Workers[0].Dir = "src/connector"
		assert.ErrorContains(t, p.Validate(), `builds a binary named "connector"`)
	})

	t.Run("dir matching name under go build", func(t *testing.T) {
		p := DefaultPlan()
		p.Workers[0].Dir = "/srv/ws/ws-connector/"
		assert.NoError(t, p.Validate())
	})

	t.Run("custom build command may rename", func(t *testing.T) {
		p := DefaultPlan()
		p.BuildCommand = "go build -o ws-connector ./cmd"
		p.Workers[0].Dir = "src/connector"
		assert.NoError(t, p.Validate())
	})
}

// TestLaunchPlan_Worker verifies lookup by name.
func TestLaunchPlan_Worker(t *testing.T) {
	p := DefaultPlan()
	require.NotNil(t, p.Worker("ws-online"))
	assert.Equal(t, 0, p.Worker("ws-online").Port)
	assert.Nil(t, p.Worker("ws-missing"))
}

// TestCLIError verifies the custom error type used for exit code mapping.
func TestCLIError(t *testing.T) {
	t.Run("simple error", func(t *testing.T) {
		err := NewCLIError(ExitNotFound, "no workers recorded")
		assert.Equal(t, ExitNotFound, err.Code)
		assert.Equal(t, "no workers recorded", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("wrapped error", func(t *testing.T) {
		inner := errors.New("exit status 1")
		err := WrapCLIError(ExitBuildFailed, "build of ws-connector failed", inner)
		assert.Equal(t, ExitBuildFailed, err.Code)
		assert.Contains(t, err.Error(), "exit status 1")
		assert.Equal(t, inner, err.Unwrap())
	})

	t.Run("errors.As through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("launch: %w", NewCLIError(ExitPortConflict, "port 12220 in use"))
		var cliErr *CLIError
		require.True(t, errors.As(err, &cliErr))
		assert.Equal(t, ExitPortConflict, cliErr.Code)
	})
}
