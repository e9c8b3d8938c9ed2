package bus

import (
	"fmt"
	"strconv"
	"time"
)

// Label keys put on the bus container. They are the only record of the
// container's purpose and configuration.
const (
	// LabelPrefix namespaces all launcher labels.
	LabelPrefix = "ws-launcher."

	// LabelManagedBy marks containers created by the launcher.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRole tells what the container provides to the workers.
	LabelRole = LabelPrefix + "role"

	// LabelHostPort is the host port the bus client port is published on.
	LabelHostPort = LabelPrefix + "host-port"

	// LabelCreatedAt is the RFC3339 creation time.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the value of LabelManagedBy.
const ManagedByValue = "ws-launcher"

// RoleBus is the value of LabelRole for the message bus.
const RoleBus = "bus"

// BuildLabels returns the labels for a bus container created from spec.
func BuildLabels(spec Spec, createdAt time.Time) map[string]string {
	// Times are stored in UTC so labels compare equal across hosts.
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRole:      RoleBus,
		LabelHostPort:  strconv.Itoa(spec.HostPort),
		LabelCreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
}

// LabelArgs renders labels as "docker run" flags in a stable order.
func LabelArgs(labels map[string]string) []string {
	// Map iteration order is random; a fixed key order keeps the command
	// line reproducible in logs and tests.
	keys := []string{LabelManagedBy, LabelRole, LabelHostPort, LabelCreatedAt}
	args := make([]string, 0, len(labels)*2)
	for _, k := range keys {
		if v, ok := labels[k]; ok {
			args = append(args, "--label", k+"="+v)
		}
	}
	return args
}

// ParseLabels extracts the host port and creation time from the labels of
// a bus container. Missing or malformed labels are reported together.
func ParseLabels(labels map[string]string) (hostPort int, createdAt time.Time, err error) {
	// Identity labels first: without them the remaining labels mean nothing.
	if labels[LabelManagedBy] != ManagedByValue || labels[LabelRole] != RoleBus {
		return 0, time.Time{}, fmt.Errorf("container is not a launcher-managed bus")
	}

	// Collect every problem so one error names all damaged labels.
	var problems []string
	hostPort, convErr := strconv.Atoi(labels[LabelHostPort])
	if convErr != nil {
		problems = append(problems, fmt.Sprintf("%s=%q", LabelHostPort, labels[LabelHostPort]))
	}
	createdAt, parseErr := time.Parse(time.RFC3339, labels[LabelCreatedAt])
	if parseErr != nil {
		problems = append(problems, fmt.Sprintf("%s=%q", LabelCreatedAt, labels[LabelCreatedAt]))
	}
	if len(problems) > 0 {
		return 0, time.Time{}, fmt.Errorf("invalid bus labels: %v", problems)
	}
	return hostPort, createdAt, nil
}
