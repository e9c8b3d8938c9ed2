// Package cli: bus.go implements the "ws-launcher bus" command group,
// which manages a NATS server container for development hosts that have
// no bus running.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ws-launcher/internal/bus"
	"github.com/shinji-kodama/ws-launcher/internal/model"
	"github.com/shinji-kodama/ws-launcher/internal/port"
)

// busUpFlags holds the command-specific flags for bus up.
type busUpFlags struct {
	// name and image only apply when a new container is created.
	name  string
	image string

	// wait blocks until the bus accepts TCP connections, up to timeout.
	wait    bool
	timeout time.Duration
}

// NewBusCommand creates the "bus" cobra command and its subcommands.
func NewBusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bus",
		Short: "Manage the NATS bus container",
		Long: `Run, stop and inspect a NATS server container published on the port of
the configured bus URL. The bus URL must point at this host.`,
		Args: cobra.NoArgs,
	}

	cmd.AddCommand(newBusUpCommand())
	cmd.AddCommand(newBusDownCommand())
	cmd.AddCommand(newBusStatusCommand())

	return cmd
}

// newBusUpCommand creates "bus up". It is idempotent: a running bus is
// reported as "already running" and left untouched.
func newBusUpCommand() *cobra.Command {
	flags := &busUpFlags{}

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the bus container, creating it if needed",
		Long: `Start the bus container. An existing stopped container is restarted;
otherwise a new one is created with "docker run".

Examples:
  ws-launcher bus up
  ws-launcher bus up --wait
  ws-launcher bus up --image nats:2.10`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runBusUp(cmd.Context(), cmd, flags)
		},
	}

	// Defaults match what "docker run" would be given by hand for a
	// development bus.
	cmd.Flags().StringVar(&flags.name, "name", bus.DefaultName, "Container name")
	cmd.Flags().StringVar(&flags.image, "image", bus.DefaultImage, "NATS server image")
	cmd.Flags().BoolVar(&flags.wait, "wait", false, "Wait until the bus accepts connections")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "Maximum time to wait with --wait")

	return cmd
}

// runBusUp is the main logic function for the bus up command.
func runBusUp(ctx context.Context, cmd *cobra.Command, flags *busUpFlags) error {
	// Step 1: Derive the container from the configured bus URL, so the
	// published port is the one the workers are told to dial.
	spec, err := busSpec()
	if err != nil {
		return err
	}
	// Flags override only what the URL cannot express.
	spec.Name = flags.name
	spec.Image = flags.image

	// Step 2: Connect to Docker daemon.
	cli, err := connectDocker(ctx)
	if err != nil {
		return err // connectDocker already returns CLIError with ExitBusUnavailable
	}
	defer func() { _ = cli.Close() }()

	VerboseLog("Connected to Docker daemon")

	// Step 3: Start the existing container or create a new one.
	info, changed, err := bus.Up(ctx, cli, spec)
	if err != nil {
		return err
	}
	VerboseLog("bus container up", "id", info.ID, "changed", changed)

	// Step 4: Optionally wait for NATS to accept connections. A running
	// container is not yet a listening server.
	if flags.wait {
		fmt.Fprintf(progressWriter(cmd), "Waiting for %s...\n", spec.Address())
		waitCtx, cancel := context.WithTimeout(ctx, flags.timeout)
		defer cancel()
		if err := port.WaitReachable(waitCtx, spec.Address(), port.DefaultProbeInterval); err != nil {
			return model.WrapCLIError(model.ExitBusUnavailable, "bus container did not become reachable", err)
		}
	}

	// Step 5: Output the result. "changed" is false when the container was
	// running before this command.
	action := "already running"
	if changed {
		action = "started"
	}
	printBusInfo(cmd.OutOrStdout(), action, info)
	return nil
}

// newBusDownCommand creates "bus down". Running workers are not checked;
// they lose their connection and retry on their own.
func newBusDownCommand() *cobra.Command {
	// keep stops the container but leaves it for a later "bus up".
	var keep bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the bus container",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Step 1: Connect to Docker daemon.
			cli, err := connectDocker(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = cli.Close() }()

			// Step 2: Stop, and remove unless --keep. The container is found
			// by its labels, so a renamed container is still matched.
			info, err := bus.Down(ctx, cli, keep)
			if err != nil {
				return busNotFound(err)
			}

			// Step 3: Output the result.
			action := "removed"
			if keep {
				action = "stopped"
			}
			printBusInfo(cmd.OutOrStdout(), action, info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keep, "keep", false, "Stop the container without removing it")

	return cmd
}

// newBusStatusCommand creates "bus status", which reports the Docker
// state of the bus container ("running", "exited", ...).
func newBusStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the bus container state",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Step 1: Connect to Docker daemon.
			cli, err := connectDocker(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = cli.Close() }()

			// Step 2: Look the container up by label, stopped ones included.
			info, err := bus.Find(ctx, cli)
			if err != nil {
				return busNotFound(err)
			}
			// Step 3: The Docker state doubles as the action column.
			printBusInfo(cmd.OutOrStdout(), info.State, info)
			return nil
		},
	}
}

// busSpec derives the container spec from the configured bus URL.
func busSpec() (bus.Spec, error) {
	// The bus URL comes from the same plan launch would use, so "bus up"
	// and "launch" agree on the address.
	baseDir, err := resolveBaseDir()
	if err != nil {
		return bus.Spec{}, err
	}
	plan, _, err := loadPlan(baseDir)
	if err != nil {
		return bus.Spec{}, err
	}
	// A remote or non-NATS URL cannot be served by a local container.
	spec, err := bus.SpecFromURL(plan.BusURL)
	if err != nil {
		return bus.Spec{}, model.WrapCLIError(model.ExitInvalidInput, "cannot run a bus for this url", err)
	}
	return spec, nil
}

// connectDocker opens a Docker client and checks the daemon answers. The
// client is closed again when the ping fails, so callers only close on
// success.
func connectDocker(ctx context.Context) (*bus.Client, error) {
	cli, err := bus.NewClient()
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return cli, nil
}

// busNotFound maps bus.ErrNotFound to ExitNotFound.
func busNotFound(err error) error {
	if errors.Is(err, bus.ErrNotFound) {
		return model.WrapCLIError(model.ExitNotFound, "no bus container (run \"ws-launcher bus up\")", err)
	}
	return err
}

// printBusInfo outputs the container state in text or JSON format.
func printBusInfo(w io.Writer, action string, info *bus.Info) {
	if IsJSONOutput() {
		_ = printJSON(w, map[string]any{"action": action, "container": info})
		return
	}
	// Text output, for example:
	//   Bus container ws-launcher-bus: started
	//     ID:    3f2a9c1b7d4e
	//     Image: nats:2.10-alpine
	//     Port:  12008
	fmt.Fprintf(w, "Bus container %s: %s\n", info.Name, action)
	fmt.Fprintf(w, "  ID:    %s\n", shortID(info.ID))
	fmt.Fprintf(w, "  Image: %s\n", info.Image)
	// Zero when the container's labels could not be parsed.
	if info.HostPort != 0 {
		fmt.Fprintf(w, "  Port:  %d\n", info.HostPort)
	}
}

// shortID truncates a container ID the way docker ps does.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
