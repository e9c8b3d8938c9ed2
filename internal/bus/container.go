package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"

	"github.com/shinji-kodama/ws-launcher/internal/model"
)

// Defaults for Spec.
const (
	// DefaultName is the container name used by "bus up".
	DefaultName = "ws-launcher-bus"

	// DefaultImage is the official NATS server image.
	DefaultImage = "nats:2.10-alpine"

	// DefaultContainerPort is the NATS client port inside the container.
	DefaultContainerPort = 4222
)

// ErrNotFound is returned when no managed bus container exists.
var ErrNotFound = errors.New("bus container not found")

// Spec describes the bus container to run.
type Spec struct {
	// Name is the container name.
	Name string

	// Image is the NATS server image reference.
	Image string

	// HostPort is the port published on the host; workers dial it through
	// the bus URL.
	HostPort int

	// ContainerPort is the NATS client port inside the container.
	ContainerPort int
}

// SpecFromURL derives a Spec from the workers' bus URL, publishing the
// bus on the URL's port. The URL host must be local, since the container
// runs on this machine.
func SpecFromURL(busURL string) (Spec, error) {
	// Step 1: Parse and check the scheme. Only NATS can be provided by the
	// bus container.
	u, err := url.Parse(busURL)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid bus url %q: %w", busURL, err)
	}
	if u.Scheme != "nats" {
		return Spec{}, fmt.Errorf("bus url %q: scheme must be nats", busURL)
	}
	// Step 2: The container runs on this machine, so a URL pointing at
	// another host could never reach it. 0.0.0.0 is accepted since workers
	// dialling it reach the local host.
	host := u.Hostname()
	if host != "localhost" {
		if ip := net.ParseIP(host); ip == nil || !(ip.IsLoopback() || ip.IsUnspecified()) {
			return Spec{}, fmt.Errorf("bus url %q does not point at this host", busURL)
		}
	}
	// Step 3: Publish on the URL's port, defaulting like NATS clients do.
	p := u.Port()
	if p == "" {
		p = strconv.Itoa(DefaultContainerPort)
	}
	hostPort, err := strconv.Atoi(p)
	if err != nil || hostPort < 1 || hostPort > 65535 {
		return Spec{}, fmt.Errorf("bus url %q: invalid port %q", busURL, p)
	}
	return Spec{
		Name:          DefaultName,
		Image:         DefaultImage,
		HostPort:      hostPort,
		ContainerPort: DefaultContainerPort,
	}, nil
}

// Address returns the host address workers dial.
func (s Spec) Address() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.HostPort))
}

// RunArgs returns the "docker run" arguments that create the container.
// The labels are what Find later uses to recognise it.
func (s Spec) RunArgs(createdAt time.Time) []string {
	// -d detaches; the container keeps running after the CLI exits.
	args := []string{"run", "-d", "--name", s.Name}
	args = append(args, LabelArgs(BuildLabels(s, createdAt))...)
	args = append(args, "-p", fmt.Sprintf("%d:%d", s.HostPort, s.ContainerPort))
	return append(args, s.Image)
}

// Info is the observed state of the bus container. HostPort and CreatedAt
// come from the labels and stay zero for containers with damaged labels.
type Info struct {
	// ID is the full container ID; text output shortens it to 12 chars.
	ID string `json:"id"`

	// Name is the container name without Docker's leading "/".
	Name string `json:"name"`

	Image string `json:"image"`

	// State is Docker's state string: "created", "running", "exited", ...
	State string `json:"state"`

	// HostPort is the published NATS port from the port label.
	HostPort int `json:"hostPort"`

	// CreatedAt is when "bus up" created the container, from its label.
	CreatedAt time.Time `json:"createdAt"`
}

// Running reports whether the container is running.
func (i *Info) Running() bool {
	return i.State == "running"
}

// Find returns the managed bus container, including a stopped one.
func Find(ctx context.Context, cli *Client) (*Info, error) {
	// Filter server-side by both labels so unrelated NATS containers on the
	// same daemon are never touched.
	filterArgs := filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
		filters.Arg("label", LabelRole+"="+RoleBus),
	)

	// All includes stopped containers, so "bus up" can restart one instead
	// of failing on a name clash with "docker run".
	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitBusUnavailable, "failed to list Docker containers", err)
	}
	if len(containers) == 0 {
		return nil, ErrNotFound
	}
	// There is normally at most one; the fixed container name prevents a
	// second one from being created by "bus up".
	return summaryToInfo(containers[0]), nil
}

// summaryToInfo maps a container listing entry to Info. Docker reports
// names with a leading "/".
func summaryToInfo(c container.Summary) *Info {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}
	info := &Info{
		ID:    c.ID,
		Name:  name,
		Image: c.Image,
		State: string(c.State),
	}
	// Label damage is not fatal: the container can still be stopped and
	// removed by ID.
	if hostPort, createdAt, err := ParseLabels(c.Labels); err == nil {
		info.HostPort = hostPort
		info.CreatedAt = createdAt
	}
	return info
}

// Up makes sure the bus container is running: an existing container is
// started if needed, otherwise a new one is created with "docker run".
// The returned bool reports whether anything changed.
func Up(ctx context.Context, cli *Client, spec Spec) (*Info, bool, error) {
	existing, err := Find(ctx, cli)
	switch {
	case err == nil && existing.Running():
		// Nothing to do.
		return existing, false, nil
	case err == nil:
		// Stopped container from an earlier "bus up" or "bus down --keep".
		if err := cli.Inner().ContainerStart(ctx, existing.ID, container.StartOptions{}); err != nil {
			return nil, false, model.WrapCLIError(model.ExitBusUnavailable,
				fmt.Sprintf("failed to start container %q", existing.Name), err)
		}
	case errors.Is(err, ErrNotFound):
		// First run on this host.
		if err := runContainer(ctx, spec); err != nil {
			return nil, false, err
		}
	default:
		return nil, false, err
	}

	// Re-read so the caller sees the state Docker reports, not the one we
	// asked for.
	info, err := Find(ctx, cli)
	if err != nil {
		return nil, true, err
	}
	return info, true, nil
}

// runContainer creates the container through the docker CLI, which pulls
// the image when it is missing.
func runContainer(ctx context.Context, spec Spec) error {
	// #nosec G204 -- arguments are built from Spec
	cmd := exec.CommandContext(ctx, "docker", spec.RunArgs(time.Now())...)
	// docker prints the reason ("pull access denied", "port is already
	// allocated") on stderr; it becomes part of the error message.
	output, err := cmd.CombinedOutput()
	if err != nil {
		return model.WrapCLIError(model.ExitBusUnavailable,
			fmt.Sprintf("docker run failed for container %q: %s", spec.Name, strings.TrimSpace(string(output))),
			err)
	}
	return nil
}

// Down stops the bus container and, unless keep is set, removes it.
func Down(ctx context.Context, cli *Client, keep bool) (*Info, error) {
	// ErrNotFound passes through so the command can map it to exit 7.
	info, err := Find(ctx, cli)
	if err != nil {
		return nil, err
	}

	// StopOptions{} uses the daemon's default timeout before SIGKILL.
	if info.Running() {
		if err := cli.Inner().ContainerStop(ctx, info.ID, container.StopOptions{}); err != nil {
			return nil, model.WrapCLIError(model.ExitBusUnavailable,
				fmt.Sprintf("failed to stop container %q", info.Name), err)
		}
		info.State = "exited"
	}
	if keep {
		return info, nil
	}

	// Force also removes a container that restarted in the meantime.
	if err := cli.Inner().ContainerRemove(ctx, info.ID, container.RemoveOptions{Force: true}); err != nil {
		return nil, model.WrapCLIError(model.ExitBusUnavailable,
			fmt.Sprintf("failed to remove container %q", info.Name), err)
	}
	info.State = "removed"
	return info, nil
}
