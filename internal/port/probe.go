package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// DefaultProbeInterval paces readiness probes.
const DefaultProbeInterval = 250 * time.Millisecond

// ErrNotReady is returned by Poll when the context ends before the probe
// reports success.
var ErrNotReady = errors.New("not ready")

// ProbeFunc reports whether the awaited condition holds. A non-nil error
// aborts polling immediately.
type ProbeFunc func(ctx context.Context) (bool, error)

// IsReachable reports whether a TCP connection to addr can be opened
// within timeout.
func IsReachable(ctx context.Context, addr string, timeout time.Duration) bool {
	// The timeout caps a single attempt; ctx still cancels it early.
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Poll calls probe until it reports true, it fails, or ctx ends. Calls are
// spaced by a token bucket refilled every interval, so a probe that returns
// quickly does not spin.
func Poll(ctx context.Context, interval time.Duration, probe ProbeFunc) error {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	// A burst of one lets the first probe run at once; every later probe
	// waits for the next token.
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		// Wait also fails early when the next token would arrive after
		// the ctx deadline, instead of sleeping into it.
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		ok, err := probe(ctx)
		// Probe errors are returned unwrapped so callers can match them.
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// WaitReachable blocks until addr accepts TCP connections or ctx ends.
func WaitReachable(ctx context.Context, addr string, interval time.Duration) error {
	err := Poll(ctx, interval, func(ctx context.Context) (bool, error) {
		return IsReachable(ctx, addr, interval), nil
	})
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", addr, err)
	}
	return nil
}
