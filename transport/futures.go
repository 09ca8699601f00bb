// File: transport/futures.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Network futures: adapters from non-blocking socket syscalls to the
// waker protocol. The polling contract is the same across all of them —
// attempt the syscall; a non-negative result is the ready value; the
// would-block errno parks a waker with the registry and returns pending;
// any other negative result completes with that errno.

package transport

import (
	"github.com/gundemirbas/async-nostd/api"
	"github.com/gundemirbas/async-nostd/internal/ioreg"
	"github.com/gundemirbas/async-nostd/internal/sys"
)

// RecvFuture resolves to the next chunk of bytes read from fd, zero bytes
// meaning the peer shut the stream down.
type RecvFuture struct {
	reg   *ioreg.Registry
	fd    int
	buf   []byte
	n     int
	errno int
}

// NewRecvFuture builds a receive future reading into buf.
func NewRecvFuture(reg *ioreg.Registry, fd int, buf []byte) *RecvFuture {
	return &RecvFuture{reg: reg, fd: fd, buf: buf}
}

// Poll attempts a non-blocking read.
func (f *RecvFuture) Poll(cx *api.Context) api.Status {
	n := sys.Recvfrom(f.fd, f.buf)
	if n >= 0 {
		f.n = n
		return api.Ready
	}
	if n == sys.EAGAIN {
		f.reg.Park(f.fd, ioreg.Readable, cx.Waker())
		return api.Pending
	}
	f.errno = n
	return api.Ready
}

// Result returns the received byte count, valid after Ready.
func (f *RecvFuture) Result() (int, error) {
	if f.errno < 0 {
		return 0, api.Errno(-f.errno)
	}
	return f.n, nil
}

// Bytes returns the filled portion of the buffer, valid after Ready.
func (f *RecvFuture) Bytes() []byte { return f.buf[:f.n] }

// SendFuture resolves once the whole payload has been written to fd,
// carrying partial writes across polls.
type SendFuture struct {
	reg   *ioreg.Registry
	fd    int
	data  []byte
	off   int
	errno int
}

// NewSendFuture builds a send future for data. The future keeps the slice;
// callers must not mutate it until the future completes.
func NewSendFuture(reg *ioreg.Registry, fd int, data []byte) *SendFuture {
	return &SendFuture{reg: reg, fd: fd, data: data}
}

// Poll writes as much as the socket accepts.
func (f *SendFuture) Poll(cx *api.Context) api.Status {
	for f.off < len(f.data) {
		n := sys.Sendto(f.fd, f.data[f.off:])
		if n > 0 {
			f.off += n
			continue
		}
		if n == sys.EAGAIN {
			f.reg.Park(f.fd, ioreg.Writable, cx.Waker())
			return api.Pending
		}
		if n == 0 {
			// A zero-byte send makes no progress; treat as would-block
			// rather than spin.
			f.reg.Park(f.fd, ioreg.Writable, cx.Waker())
			return api.Pending
		}
		f.errno = n
		return api.Ready
	}
	return api.Ready
}

// Result returns the byte count written, valid after Ready.
func (f *SendFuture) Result() (int, error) {
	if f.errno < 0 {
		return f.off, api.Errno(-f.errno)
	}
	return f.off, nil
}

// ConnectFuture resolves when a non-blocking connect to addr:port settles.
type ConnectFuture struct {
	reg     *ioreg.Registry
	fd      int
	addr    [4]byte
	port    int
	started bool
	errno   int
}

// NewConnectFuture builds a connect future for an already non-blocking fd.
func NewConnectFuture(reg *ioreg.Registry, fd int, addr [4]byte, port int) *ConnectFuture {
	return &ConnectFuture{reg: reg, fd: fd, addr: addr, port: port}
}

// Poll attempts or re-checks the connect.
func (f *ConnectFuture) Poll(cx *api.Context) api.Status {
	rc := sys.Connect4(f.fd, f.addr, f.port)
	switch {
	case rc == 0, f.started && rc == sys.EISCONN:
		return api.Ready
	case rc == sys.EINPROGRESS, rc == sys.EALREADY, rc == sys.EAGAIN:
		f.started = true
		f.reg.Park(f.fd, ioreg.Writable, cx.Waker())
		return api.Pending
	default:
		f.errno = rc
		return api.Ready
	}
}

// Result reports whether the connect succeeded, valid after Ready.
func (f *ConnectFuture) Result() error {
	if f.errno < 0 {
		return api.Errno(-f.errno)
	}
	return nil
}

// AcceptFuture resolves to a descriptor accepted from a non-blocking
// listening fd. The serving path never uses this — the acceptor thread
// owns blocking accept — but clients and tests accepting on their own
// sockets do.
type AcceptFuture struct {
	reg   *ioreg.Registry
	fd    int
	nfd   int
	errno int
}

// NewAcceptFuture builds an accept future over a non-blocking listener.
func NewAcceptFuture(reg *ioreg.Registry, fd int) *AcceptFuture {
	return &AcceptFuture{reg: reg, fd: fd}
}

// Poll attempts a non-blocking accept.
func (f *AcceptFuture) Poll(cx *api.Context) api.Status {
	nfd := sys.Accept4(f.fd)
	if nfd >= 0 {
		f.nfd = nfd
		return api.Ready
	}
	if nfd == sys.EAGAIN {
		f.reg.Park(f.fd, ioreg.Readable, cx.Waker())
		return api.Pending
	}
	f.errno = nfd
	return api.Ready
}

// Result returns the accepted descriptor, valid after Ready.
func (f *AcceptFuture) Result() (int, error) {
	if f.errno < 0 {
		return -1, api.Errno(-f.errno)
	}
	return f.nfd, nil
}
