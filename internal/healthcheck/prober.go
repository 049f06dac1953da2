package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/angeloszaimis/tcp-router/internal/backend"
)

// ErrProbeResources is returned when a probe could not even create a socket.
// It is the only probe failure that stops the monitor.
var ErrProbeResources = errors.New("health probe: out of socket resources")

// Prober reports whether a backend accepts TCP connections. A nil error means
// reachable.
type Prober interface {
	Probe(ctx context.Context, addr backend.Address) error
}

// TCPProber connects to the backend and closes the connection immediately.
// No payload is exchanged.
type TCPProber struct {
	Timeout time.Duration
}

func NewTCPProber(timeout time.Duration) *TCPProber {
	return &TCPProber{Timeout: timeout}
}

func (p *TCPProber) Probe(ctx context.Context, addr backend.Address) error {
	dialer := net.Dialer{Timeout: p.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		if isResourceExhausted(err) {
			return fmt.Errorf("%w: %s: %w", ErrProbeResources, addr, err)
		}
		return err
	}

	_ = conn.Close()
	return nil
}

func isResourceExhausted(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS)
}
