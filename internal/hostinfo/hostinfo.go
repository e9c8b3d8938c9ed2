// Package hostinfo answers two questions about the machine the launcher
// runs on: which directory the worker sources live under, and which LAN
// address the host is reachable at.
package hostinfo

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// EnvBaseDir overrides the base directory when no --dir flag is given.
const EnvBaseDir = "WS_LAUNCHER_DIR"

// ErrNoLANAddress is returned when no interface carries a usable IPv4 address.
var ErrNoLANAddress = errors.New("no non-loopback IPv4 address found")

// BaseDir returns the absolute directory that worker directories are
// resolved against. The result does not depend on the directory the
// launcher was invoked from:
//
//  1. override, when non-empty;
//  2. $WS_LAUNCHER_DIR, when set;
//  3. the directory of the running executable, symlinks resolved;
//  4. the current directory, when the executable is a throwaway
//     "go run" build in the Go build cache.
func BaseDir(override string) (string, error) {
	if override == "" {
		override = os.Getenv(EnvBaseDir)
	}
	return resolveBaseDir(override, os.Executable, os.Getwd)
}

// resolveBaseDir takes os.Executable and os.Getwd as parameters so tests
// can pretend to run from anywhere.
func resolveBaseDir(override string, executable, getwd func() (string, error)) (string, error) {
	// Step 1: An explicit directory must exist; a typo should not silently
	// fall through to the executable's directory.
	if override != "" {
		dir, err := filepath.Abs(override)
		if err != nil {
			return "", fmt.Errorf("failed to resolve base directory %q: %w", override, err)
		}
		info, err := os.Stat(dir)
		if err != nil {
			return "", fmt.Errorf("base directory %q: %w", dir, err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("base directory %q is not a directory", dir)
		}
		return dir, nil
	}

	// Step 2: Next to the executable, following a symlink in $PATH back to
	// the real install location.
	exe, err := executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Dir(exe)

	// Step 3: "go run" binaries live in a temporary directory that holds
	// no worker sources.
	if isGoBuildCache(dir) {
		wd, err := getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		return wd, nil
	}
	return dir, nil
}

// isGoBuildCache reports whether dir is one of the temporary directories
// "go run" and "go test" link their binaries into.
func isGoBuildCache(dir string) bool {
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if strings.HasPrefix(part, "go-build") {
			return true
		}
	}
	return false
}

// LANIP returns the first IPv4 address of an interface that is up and is
// neither loopback nor link-local.
func LANIP() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list network interfaces: %w", err)
	}

	// Interfaces come back in kernel index order, which usually puts the
	// primary NIC before bridges and VPN tunnels.
	var addrs []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		// One unreadable interface should not hide the others.
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		addrs = append(addrs, ifaceAddrs...)
	}
	return firstLANIP(addrs)
}

// firstLANIP picks the first usable IPv4 address from addrs.
func firstLANIP(addrs []net.Addr) (string, error) {
	for _, addr := range addrs {
		// Interface addresses are *net.IPNet on Linux and macOS; *net.IPAddr
		// shows up on some other platforms.
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		// To4 is nil for IPv6 addresses, which workers cannot be given.
		ip = ip.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			continue
		}
		return ip.String(), nil
	}
	return "", ErrNoLANAddress
}
