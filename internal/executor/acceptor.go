// File: internal/executor/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dedicated acceptor thread. Blocking accept lives here, on its own OS
// thread, so no worker ever blocks on the listening socket and accept is
// never interleaved with ppoll on the same descriptor — multiple workers
// contesting one listening fd under readiness polling is race-prone, a
// single accepting thread is not.

package executor

import (
	"github.com/gundemirbas/async-nostd/internal/sys"
)

// AcceptFunc receives each accepted descriptor, already switched to
// non-blocking mode. It runs on the acceptor thread and is expected to
// register a task for the connection and wake it; anything slow belongs in
// that task, not here.
type AcceptFunc func(fd int)

// StartAcceptor spawns the acceptor thread over a listening, blocking
// descriptor. The loop ends when accept reports a fatal error. Closing the
// listening descriptor does not wake a thread already blocked in accept:
// the thread stays blocked until another connection arrives, and its next
// accept on the closed descriptor then fails and ends the loop.
func StartAcceptor(listenFd int, onAccept AcceptFunc) {
	sys.SpawnThread(func() {
		acceptLoop(listenFd, onAccept)
	})
}

func acceptLoop(listenFd int, onAccept AcceptFunc) {
	for {
		nfd := sys.Accept4(listenFd)
		if nfd >= 0 {
			if sys.SetNonblock(nfd) < 0 {
				sys.Close(nfd)
				continue
			}
			onAccept(nfd)
			continue
		}
		switch nfd {
		case sys.EINTR, sys.EAGAIN, sys.ECONNABORTED:
			continue
		default:
			// Listening socket closed or broken; the thread is done.
			return
		}
	}
}
