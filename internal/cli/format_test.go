// Package cli: format_test.go covers the pure output helpers shared by the
// commands. None of these tests start processes or talk to Docker.
package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/ws-launcher/internal/bus"
	"github.com/shinji-kodama/ws-launcher/internal/launcher"
	"github.com/shinji-kodama/ws-launcher/internal/model"
	"github.com/shinji-kodama/ws-launcher/internal/prompt"
)

// withJSONOutput sets the --json global for the duration of a test.
func withJSONOutput(t *testing.T, on bool) {
	t.Helper()
	prev := jsonOutput
	jsonOutput = on
	t.Cleanup(func() { jsonOutput = prev })
}

func TestFormatRecords(t *testing.T) {
	records := []model.ProcessRecord{
		{Name: "ws-connector", PID: 4101, Dir: "/srv/ws/ws-connector", Status: model.StatusRunning},
		{Name: "ws-online", PID: 4102, Dir: "/srv/ws/ws-online", Status: model.StatusExited},
		{Name: "ws-cache", PID: 4103, Dir: "/srv/ws/ws-cache"},
	}

	lines := strings.Split(formatRecords(records), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"WORKER", "PID", "STATUS", "DIR"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"ws-connector", "4101", "running", "/srv/ws/ws-connector"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"ws-online", "4102", "exited", "/srv/ws/ws-online"}, strings.Fields(lines[2]))
	// Freshly started records carry no status yet.
	assert.Equal(t, []string{"ws-cache", "4103", "running", "/srv/ws/ws-cache"}, strings.Fields(lines[3]))
}

func TestFormatRecords_Empty(t *testing.T) {
	assert.Equal(t, []string{"WORKER", "PID", "STATUS", "DIR"}, strings.Fields(formatRecords(nil)))
}

func TestFilterRecords(t *testing.T) {
	records := []model.ProcessRecord{
		{Name: "ws-connector", Status: model.StatusRunning},
		{Name: "ws-online", Status: model.StatusExited},
		{Name: "ws-cache", Status: model.StatusRunning},
	}

	assert.Equal(t, records, filterRecords(records, ""))

	running := filterRecords(records, model.StatusRunning)
	require.Len(t, running, 2)
	assert.Equal(t, "ws-cache", running[1].Name)

	assert.Nil(t, filterRecords(records[:1], model.StatusExited))
}

func TestPrintDryRun_Text(t *testing.T) {
	withJSONOutput(t, false)
	var buf bytes.Buffer

	steps := launcher.Steps("/srv/ws", model.DefaultPlan())
	require.NoError(t, printDryRun(&buf, steps))

	out := buf.String()
	assert.Contains(t, out, "1. ws-connector\n   cd /srv/ws/ws-connector\n   go build\n")
	assert.Contains(t, out, "   ./ws-connector -s nats://127.0.0.1:12008 -p 12220 -i 0 -d 1 -fe 1 -wf 1\n")
	assert.Contains(t, out, "   ./ws-online -s nats://127.0.0.1:12008 -i 0 -d 1 -wf 1\n")
	assert.Contains(t, out, "4. ws-sender\n")
}

func TestPrintDryRun_JSON(t *testing.T) {
	withJSONOutput(t, true)
	var buf bytes.Buffer

	require.NoError(t, printDryRun(&buf, launcher.Steps("/srv/ws", model.DefaultPlan())))

	var got struct {
		DryRun bool            `json:"dryRun"`
		Steps  []launcher.Step `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.True(t, got.DryRun)
	require.Len(t, got.Steps, 4)
	assert.Equal(t, "ws-cache", got.Steps[2].Worker)
	assert.Equal(t, 12220, got.Steps[0].Port)
}

func TestPrintLaunchResult_Incomplete(t *testing.T) {
	withJSONOutput(t, false)
	var buf bytes.Buffer

	printLaunchResult(&buf, &launcher.Result{
		BaseDir: "/srv/ws",
		Started: []model.ProcessRecord{{Name: "ws-connector", PID: 10, Dir: "/srv/ws/ws-connector"}},
	}, false)

	assert.Contains(t, buf.String(), "Launch incomplete: 1 worker(s) left running")
	assert.Contains(t, buf.String(), "ws-connector")
}

func TestPrintError(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		withJSONOutput(t, false)
		var buf bytes.Buffer
		printError(&buf, "build of ws-cache failed", errors.New("exit status 1"))
		assert.Equal(t, "Error: build of ws-cache failed: exit status 1\n", buf.String())
	})

	t.Run("text without detail", func(t *testing.T) {
		withJSONOutput(t, false)
		var buf bytes.Buffer
		printError(&buf, "no workers recorded", nil)
		assert.Equal(t, "Error: no workers recorded\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		withJSONOutput(t, true)
		var buf bytes.Buffer
		printError(&buf, "build of ws-cache failed", errors.New("exit status 1"))

		var got map[string]map[string]string
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "build of ws-cache failed", got["error"]["message"])
		assert.Equal(t, "exit status 1", got["error"]["detail"])
	})
}

func TestCountRunning(t *testing.T) {
	records := []model.ProcessRecord{
		{Name: "a", Status: model.StatusRunning},
		{Name: "b", Status: model.StatusExited},
		{Name: "c", Status: model.StatusRunning},
	}
	assert.Equal(t, 2, countRunning(records))
	assert.Equal(t, 0, countRunning(nil))
}

func TestPromptError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.ExitCode
	}{
		{name: "declined", err: prompt.ErrNotConfirmed, want: model.ExitUserCancelled},
		{name: "out of range", err: prompt.ErrOutOfRange, want: model.ExitInvalidInput},
		{name: "no input", err: prompt.ErrNoInput, want: model.ExitInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cliErr *model.CLIError
			require.ErrorAs(t, promptError(tt.err), &cliErr)
			assert.Equal(t, tt.want, cliErr.Code)
		})
	}
}

func TestPrintStopResult(t *testing.T) {
	withJSONOutput(t, false)
	var buf bytes.Buffer
	printStopResult(&buf, []launcher.StopResult{
		{Name: "ws-sender", PID: 44, Action: launcher.ActionTerminated},
		{Name: "ws-cache", PID: 43, Action: launcher.ActionNotRunning},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"ws-sender", "pid", "44", "terminated"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"ws-cache", "pid", "43", "not", "running"}, strings.Fields(lines[1]))
}

func TestPrintBusInfo(t *testing.T) {
	withJSONOutput(t, false)
	var buf bytes.Buffer
	printBusInfo(&buf, "started", &bus.Info{
		ID:        "0123456789abcdef0123",
		Name:      "ws-launcher-bus",
		Image:     "nats:2.10-alpine",
		State:     "running",
		HostPort:  12008,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})

	out := buf.String()
	assert.Contains(t, out, "Bus container ws-launcher-bus: started\n")
	assert.Contains(t, out, "ID:    0123456789ab\n")
	assert.Contains(t, out, "Port:  12008\n")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestPrintHostReport(t *testing.T) {
	withJSONOutput(t, false)
	var buf bytes.Buffer
	printHostReport(&buf, hostReport{
		BaseDir:   "/srv/ws",
		StateFile: "/srv/ws/.ws-launcher/workers.cbor",
		BusURL:    "nats://127.0.0.1:12008",
		Workers:   4,
	})

	out := buf.String()
	assert.Contains(t, out, "Config:         (built-in defaults)\n")
	assert.Contains(t, out, "LAN IP:         (none)\n")
	assert.Contains(t, out, "Workers:        4\n")
}
