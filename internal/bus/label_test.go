package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildLabels_RoundTrip verifies that ParseLabels reads back what
// BuildLabels writes.
func TestBuildLabels_RoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	labels := BuildLabels(Spec{HostPort: 12008}, createdAt)

	assert.Equal(t, ManagedByValue, labels[LabelManagedBy])
	assert.Equal(t, RoleBus, labels[LabelRole])
	assert.Equal(t, "12008", labels[LabelHostPort])
	assert.Equal(t, "2026-10-18T09:30:00Z", labels[LabelCreatedAt])

	hostPort, parsedAt, err := ParseLabels(labels)
	require.NoError(t, err)
	assert.Equal(t, 12008, hostPort)
	assert.True(t, createdAt.Equal(parsedAt))
}

// TestBuildLabels_UsesUTC verifies that local times are normalized.
func TestBuildLabels_UsesUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	labels := BuildLabels(Spec{HostPort: 1}, time.Date(2026, 10, 18, 18, 30, 0, 0, tokyo))
	assert.Equal(t, "2026-10-18T09:30:00Z", labels[LabelCreatedAt])
}

// TestLabelArgs verifies the docker run flag rendering order.
func TestLabelArgs(t *testing.T) {
	labels := BuildLabels(Spec{HostPort: 4222}, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, []string{
		"--label", "ws-launcher.managed-by=ws-launcher",
		"--label", "ws-launcher.role=bus",
		"--label", "ws-launcher.host-port=4222",
		"--label", "ws-launcher.created-at=2026-01-02T03:04:05Z",
	}, LabelArgs(labels))
}

// TestParseLabels_Errors covers foreign containers and malformed values.
func TestParseLabels_Errors(t *testing.T) {
	t.Run("foreign container", func(t *testing.T) {
		_, _, err := ParseLabels(map[string]string{"com.docker.compose.service": "nats"})
		assert.ErrorContains(t, err, "not a launcher-managed bus")
	})

	t.Run("malformed values reported together", func(t *testing.T) {
		_, _, err := ParseLabels(map[string]string{
			LabelManagedBy: ManagedByValue,
			LabelRole:      RoleBus,
			LabelHostPort:  "not-a-port",
			LabelCreatedAt: "yesterday",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), LabelHostPort)
		assert.Contains(t, err.Error(), LabelCreatedAt)
	})
}
