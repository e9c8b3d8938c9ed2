package port

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// Scanner checks whether ports are free on the host by asking the OS to
// bind them. A successful bind is closed immediately.
type Scanner struct{}

// NewScanner creates a new Scanner instance.
func NewScanner() *Scanner {
	return &Scanner{}
}

// IsPortAvailable reports whether port can currently be bound on all
// interfaces. Workers listen on 0.0.0.0, so binding ":port" checks the same
// address space they will use. Unknown protocols are reported as unavailable.
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	// No host part: bind the wildcard address of both IP families.
	addr := fmt.Sprintf(":%d", port)

	switch protocol {
	case "tcp":
		// Listen fails with EADDRINUSE while anything holds the port,
		// including a worker left over from an earlier launch.
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = listener.Close() }()
		return true

	case "udp":
		// UDP has no listeners; ListenPacket binds the socket directly.
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = conn.Close() }()
		return true

	default:
		return false
	}
}

// FindAvailablePort returns the first free port in [startPort, endPort].
// The search is sequential so repeated calls on an idle host agree.
func (s *Scanner) FindAvailablePort(startPort, endPort int, protocol string) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if s.IsPortAvailable(port, protocol) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available %s port found in range %d-%d", protocol, startPort, endPort)
}

// Binding is a TCP port some component intends to listen on.
type Binding struct {
	// Owner names the component in error messages, e.g. "ws-connector".
	Owner string

	// Port is the TCP port. Zero means the owner does not listen.
	Port int
}

// ConflictError lists the bindings whose ports are already taken.
type ConflictError struct {
	Conflicts []Binding
}

// Error satisfies the error interface.
func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, b := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s wants port %d", b.Owner, b.Port))
	}
	return "port already in use: " + strings.Join(parts, ", ")
}

// CheckBindings verifies every binding's TCP port is free and returns a
// *ConflictError naming all that are not, sorted by port.
func (s *Scanner) CheckBindings(bindings []Binding) error {
	// Check every binding rather than stopping at the first conflict, so
	// the operator can free all ports in one go.
	var conflicts []Binding
	for _, b := range bindings {
		if b.Port == 0 {
			continue
		}
		if !s.IsPortAvailable(b.Port, "tcp") {
			conflicts = append(conflicts, b)
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Port < conflicts[j].Port })
	return &ConflictError{Conflicts: conflicts}
}
