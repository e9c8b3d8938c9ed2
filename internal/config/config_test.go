package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/ws-launcher/internal/model"
)

// writeFile is a test helper that writes content under a temp directory
// and returns the file path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestLoad_YAML verifies a full YAML plan is decoded in order.
func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "plan.yaml", `
bus_url: nats://10.0.0.2:4222
build_command: go build -trimpath
workers:
  - name: ws-connector
    port: 13220
    id: 2
    debug: true
    fast_exit: true
    write_log_file: true
  - name: ws-cache
    dir: services/ws-cache
    extra_args: ["-m", "600"]
`)

	plan, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://10.0.0.2:4222", plan.BusURL)
	assert.Equal(t, "go build -trimpath", plan.BuildCommand)
	require.Len(t, plan.Workers, 2)
	assert.Equal(t, []string{"-s", "nats://10.0.0.2:4222", "-p", "13220", "-i", "2", "-d", "1", "-fe", "1", "-wf", "1"},
		plan.Workers[0].Args(plan.BusURL))
	assert.Equal(t, "services/ws-cache", plan.Workers[1].SourceDir())
	assert.Equal(t, []string{"-s", "nats://10.0.0.2:4222", "-i", "0", "-m", "600"}, plan.Workers[1].Args(plan.BusURL))
}

// TestLoad_JSONC verifies comments and trailing commas are accepted.
func TestLoad_JSONC(t *testing.T) {
	path := writeFile(t, "plan.jsonc", `{
  // shared bus
  "bus_url": "nats://bus:4222",
  "workers": [
    {"name": "ws-sender", "id": 1, "write_log_file": true, /* keep logs */},
  ],
}`)

	plan, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://bus:4222", plan.BusURL)
	assert.Equal(t, model.DefaultBuildCommand, plan.BuildCommand)
	require.Len(t, plan.Workers, 1)
	assert.Equal(t, "./ws-sender -s nats://bus:4222 -i 1 -wf 1", plan.Workers[0].CommandLine(plan.BusURL))
}

// TestLoad_DefaultsFillGaps verifies that a partial file inherits the
// default workers.
func TestLoad_DefaultsFillGaps(t *testing.T) {
	path := writeFile(t, "plan.yml", "bus_url: nats://192.168.1.9:12008\n")

	plan, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://192.168.1.9:12008", plan.BusURL)
	assert.Equal(t, model.DefaultPlan().Workers, plan.Workers)
}

// TestLoad_EmptyFile verifies that an empty file yields the default plan.
func TestLoad_EmptyFile(t *testing.T) {
	for _, name := range []string{"empty.yaml", "empty.json"} {
		t.Run(name, func(t *testing.T) {
			plan, err := Load(writeFile(t, name, ""))
			require.NoError(t, err)
			assert.Equal(t, model.DefaultPlan(), plan)
		})
	}
}

// TestLoad_ExpandsEnvironment verifies ${VAR} substitution.
func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("WS_BUS_HOST", "bus.internal")
	t.Setenv("WS_SRC", "/srv/ws")
	path := writeFile(t, "plan.yaml", `
bus_url: nats://${WS_BUS_HOST}:4222
workers:
  - name: ws-online
    dir: ${WS_SRC}/ws-online
    extra_args: ["-a", "${WS_ONLINE_AGE}"]
`)
	t.Setenv("WS_ONLINE_AGE", "45")

	plan, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://bus.internal:4222", plan.BusURL)
	assert.Equal(t, "/srv/ws/ws-online", plan.Workers[0].Dir)
	assert.Equal(t, []string{"-a", "45"}, plan.Workers[0].ExtraArgs)
}

// TestLoad_Errors covers the failure modes and their exit codes.
func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		contains string
	}{
		{"unknown extension", "plan.toml", "", "unsupported config file extension"},
		{"unknown yaml field", "plan.yaml", "bus: x\n", "field bus not found"},
		{"unknown json field", "plan.json", `{"bus":"x"}`, "unknown field"},
		{"invalid worker", "plan.yaml", "workers:\n  - name: \"bad name\"\n", "invalid worker name"},
		{"bad port", "plan.yaml", "workers:\n  - name: ws-connector\n    port: 99999\n", "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)

			var cliErr *model.CLIError
			require.True(t, errors.As(err, &cliErr))
			assert.Equal(t, model.ExitInvalidInput, cliErr.Code)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "config file not found")
	})
}

// TestWrite_RoundTripsThroughLoad verifies that a written file loads back
// to the same plan in both formats.
func TestWrite_RoundTripsThroughLoad(t *testing.T) {
	plan := model.DefaultPlan()
	plan.BusURL = "nats://10.1.1.1:12008"
	plan.Workers[0].Port = 14000

	for _, name := range []string{"out.yaml", "out.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Write(path, plan))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, plan, loaded)

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temporary file must not be left behind")
		})
	}
}

// TestWrite_RejectsInvalidPlan verifies nothing is written for a bad plan.
func TestWrite_RejectsInvalidPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	err := Write(path, &model.LaunchPlan{})
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

// TestResolve checks the lookup order.
func TestResolve(t *testing.T) {
	base := t.TempDir()
	t.Setenv(EnvConfigPath, "")

	assert.Equal(t, "", Resolve("", base))

	require.NoError(t, os.WriteFile(filepath.Join(base, DefaultFileName), nil, 0o644))
	assert.Equal(t, filepath.Join(base, DefaultFileName), Resolve("", base))

	t.Setenv(EnvConfigPath, "/etc/ws/plan.yaml")
	assert.Equal(t, "/etc/ws/plan.yaml", Resolve("", base))
	assert.Equal(t, "explicit.json", Resolve("explicit.json", base))
}
