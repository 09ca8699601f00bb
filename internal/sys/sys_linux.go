// File: internal/sys/sys_linux.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thin typed wrappers over the raw Linux syscalls the runtime uses.
// This package is the only place that talks to the kernel directly; every
// other package sees plain signatures with a uniform error convention:
// a negative return value is the negated errno.

package sys

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// EAGAIN is the negated would-block errno. It is load-bearing everywhere:
// network futures compare against it to decide between parking and failing.
const EAGAIN = -int(unix.EAGAIN)

// EINTR is the negated interrupted-syscall errno.
const EINTR = -int(unix.EINTR)

// EINPROGRESS is returned by connect on a non-blocking socket.
const EINPROGRESS = -int(unix.EINPROGRESS)

// ECONNABORTED is returned by accept when the connection died while
// queued; transient by definition.
const ECONNABORTED = -int(unix.ECONNABORTED)

// EALREADY and EISCONN are the connect-progress results on a non-blocking
// socket that is, respectively, still connecting and already connected.
const (
	EALREADY = -int(unix.EALREADY)
	EISCONN  = -int(unix.EISCONN)
)

// Poll interest and result bits, in the Linux mapping.
const (
	POLLIN   = int16(unix.POLLIN)
	POLLOUT  = int16(unix.POLLOUT)
	POLLERR  = int16(unix.POLLERR)
	POLLHUP  = int16(unix.POLLHUP)
	POLLNVAL = int16(unix.POLLNVAL)
)

// PollFd mirrors unix.PollFd so callers outside this package never import
// golang.org/x/sys directly.
type PollFd = unix.PollFd

// negErrno converts an x/sys error into the negated-errno convention.
func negErrno(err error) int {
	if e, ok := err.(unix.Errno); ok {
		return -int(e)
	}
	return -int(unix.EIO)
}

// Write writes p to fd. Returns the byte count or a negated errno.
func Write(fd int, p []byte) int {
	n, err := unix.Write(fd, p)
	if err != nil {
		return negErrno(err)
	}
	return n
}

// Read reads into p from fd. Returns the byte count or a negated errno.
func Read(fd int, p []byte) int {
	n, err := unix.Read(fd, p)
	if err != nil {
		return negErrno(err)
	}
	return n
}

// Close closes fd. Returns 0 or a negated errno.
func Close(fd int) int {
	if err := unix.Close(fd); err != nil {
		return negErrno(err)
	}
	return 0
}

// Exit terminates the process immediately with the given code.
func Exit(code int) {
	unix.Exit(code)
}

// Fatalf writes a short diagnostic to standard error and exits non-zero.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	unix.Exit(1)
}

// MmapAnon maps size bytes of zeroed anonymous memory, readable and
// writable. The mapping is never unmapped; callers own it for the life of
// the process.
func MmapAnon(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return b, nil
}

// Socket creates a blocking IPv4 TCP socket. Returns the fd or a negated errno.
func Socket() int {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return negErrno(err)
	}
	return fd
}

// SetReuseAddr sets SO_REUSEADDR on fd.
func SetReuseAddr(fd int) int {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return negErrno(err)
	}
	return 0
}

// Bind4 binds fd to the given IPv4 address and host-order port.
func Bind4(fd int, addr [4]byte, port int) int {
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		return negErrno(err)
	}
	return 0
}

// Listen marks fd as a listening socket with the given backlog.
func Listen(fd, backlog int) int {
	if err := unix.Listen(fd, backlog); err != nil {
		return negErrno(err)
	}
	return 0
}

// Accept4 accepts a connection on fd. Returns the accepted fd or a negated
// errno. The accepted descriptor inherits blocking mode; callers that want
// non-blocking I/O must call SetNonblock on it.
func Accept4(fd int) int {
	nfd, _, err := unix.Accept4(fd, 0)
	if err != nil {
		return negErrno(err)
	}
	return nfd
}

// Connect4 starts a connection from fd to the given IPv4 address and port.
// On a non-blocking socket the usual in-progress result is surfaced as
// EINPROGRESS.
func Connect4(fd int, addr [4]byte, port int) int {
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Connect(fd, sa); err != nil {
		return negErrno(err)
	}
	return 0
}

// Recvfrom reads from a connected socket into p. Returns the byte count
// (zero means peer shutdown) or a negated errno.
func Recvfrom(fd int, p []byte) int {
	n, _, err := unix.Recvfrom(fd, p, 0)
	if err != nil {
		return negErrno(err)
	}
	return n
}

// Sendto writes p to a connected socket. Returns the byte count or a
// negated errno. Short writes are possible on non-blocking sockets, so
// callers track an offset and retry.
func Sendto(fd int, p []byte) int {
	n, err := unix.SendmsgN(fd, p, nil, nil, 0)
	if err != nil {
		return negErrno(err)
	}
	return n
}

// SetNonblock switches fd into non-blocking mode via fcntl(F_SETFL).
func SetNonblock(fd int) int {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return negErrno(err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return negErrno(err)
	}
	return 0
}

// SetBlocking clears O_NONBLOCK on fd.
func SetBlocking(fd int) int {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return negErrno(err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^unix.O_NONBLOCK); err != nil {
		return negErrno(err)
	}
	return 0
}

// Getsockname4 returns the bound IPv4 address and port of fd. The port is
// how listeners bound to port zero learn their kernel-assigned port.
func Getsockname4(fd int) (addr [4]byte, port int, errno int) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return addr, 0, negErrno(err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return addr, 0, -int(unix.EAFNOSUPPORT)
	}
	return in4.Addr, in4.Port, 0
}

// Ppoll blocks until one of fds is ready. A nil timeout blocks
// indefinitely. Returns the ready count or a negated errno; EINTR is
// surfaced to the caller, which treats it as a zero-ready wakeup.
func Ppoll(fds []PollFd) int {
	n, err := unix.Ppoll(fds, nil, nil)
	if err != nil {
		return negErrno(err)
	}
	return n
}

// Eventfd creates a non-blocking eventfd counter. Returns the fd or a
// negated errno. Non-blocking matters: several workers may race to drain
// the counter after one ppoll batch.
func Eventfd() int {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		return negErrno(err)
	}
	return fd
}

// OpenTrunc opens path write-only, creating or truncating it.
func OpenTrunc(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}
	return fd, nil
}
