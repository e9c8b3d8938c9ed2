package bus

import (
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSpecFromURL covers accepted and rejected bus URLs.
func TestSpecFromURL(t *testing.T) {
	tests := []struct {
		url      string
		hostPort int
		wantErr  bool
	}{
		{"nats://127.0.0.1:12008", 12008, false},
		{"nats://localhost:4223", 4223, false},
		{"nats://0.0.0.0", 4222, false},
		{"nats://[::1]:5000", 5000, false},
		{"nats://10.0.0.5:4222", 0, true},
		{"tls://127.0.0.1:4222", 0, true},
		{"nats://127.0.0.1:99999", 0, true},
		{"://bad", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			spec, err := SpecFromURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hostPort, spec.HostPort)
			assert.Equal(t, DefaultName, spec.Name)
			assert.Equal(t, DefaultImage, spec.Image)
			assert.Equal(t, DefaultContainerPort, spec.ContainerPort)
		})
	}
}

// TestSpec_RunArgs verifies the docker run command line.
func TestSpec_RunArgs(t *testing.T) {
	spec, err := SpecFromURL("nats://127.0.0.1:12008")
	require.NoError(t, err)

	args := spec.RunArgs(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []string{"run", "-d", "--name", "ws-launcher-bus"}, args[:4])
	assert.Contains(t, args, "ws-launcher.role=bus")
	assert.Equal(t, []string{"-p", "12008:4222", "nats:2.10-alpine"}, args[len(args)-3:])
	assert.Equal(t, "127.0.0.1:12008", spec.Address())
}

// TestSummaryToInfo verifies the mapping from a Docker listing entry.
func TestSummaryToInfo(t *testing.T) {
	createdAt := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	summary := container.Summary{
		ID:     "3f2a9c",
		Names:  []string{"/ws-launcher-bus"},
		Image:  DefaultImage,
		State:  "running",
		Labels: BuildLabels(Spec{HostPort: 12008}, createdAt),
	}

	info := summaryToInfo(summary)
	assert.Equal(t, "ws-launcher-bus", info.Name)
	assert.Equal(t, 12008, info.HostPort)
	assert.True(t, createdAt.Equal(info.CreatedAt))
	assert.True(t, info.Running())

	summary.State = "exited"
	summary.Labels = nil
	info = summaryToInfo(summary)
	assert.False(t, info.Running())
	assert.Zero(t, info.HostPort)
}
