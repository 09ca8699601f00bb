// File: transport/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listening socket setup over the raw syscall layer.

package transport

import (
	"fmt"
	"net"

	"github.com/gundemirbas/async-nostd/api"
	"github.com/gundemirbas/async-nostd/internal/sys"
)

// DefaultBacklog is the listen(2) backlog.
const DefaultBacklog = 128

// Listener wraps a listening TCP descriptor. The descriptor stays in
// blocking mode: the acceptor thread is the only accept caller and blocks
// by design.
type Listener struct {
	fd   int
	addr [4]byte
	port int
}

// Listen binds a listening socket to ip (dotted quad) and port. Port zero
// asks the kernel for an ephemeral port; Port reports the one assigned.
func Listen(ip string, port, backlog int) (*Listener, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return nil, fmt.Errorf("%w: %q", api.ErrInvalidAddress, ip)
	}
	var addr [4]byte
	copy(addr[:], parsed.To4())

	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	fd := sys.Socket()
	if fd < 0 {
		return nil, fmt.Errorf("socket: %w", api.Errno(-fd))
	}
	if rc := sys.SetReuseAddr(fd); rc < 0 {
		sys.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", api.Errno(-rc))
	}
	if rc := sys.Bind4(fd, addr, port); rc < 0 {
		sys.Close(fd)
		return nil, fmt.Errorf("bind %s:%d: %w", ip, port, api.Errno(-rc))
	}
	if rc := sys.Listen(fd, backlog); rc < 0 {
		sys.Close(fd)
		return nil, fmt.Errorf("listen on %s:%d: %w", ip, port, api.Errno(-rc))
	}
	boundAddr, boundPort, rc := sys.Getsockname4(fd)
	if rc < 0 {
		sys.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", api.Errno(-rc))
	}
	return &Listener{fd: fd, addr: boundAddr, port: boundPort}, nil
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Port returns the bound port, after kernel assignment for port zero.
func (l *Listener) Port() int { return l.port }

// Addr returns the bound address as host:port.
func (l *Listener) Addr() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", l.addr[0], l.addr[1], l.addr[2], l.addr[3], l.port)
}

// Close closes the listening descriptor. A thread already blocked in
// accept on it is not woken by the close.
func (l *Listener) Close() {
	sys.Close(l.fd)
}
