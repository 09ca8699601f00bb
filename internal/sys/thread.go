// File: internal/sys/thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sys

import "runtime"

// SpawnThread runs fn on a dedicated OS thread. The thread stays locked for
// fn's whole lifetime, which keeps blocking syscalls (accept, ppoll) from
// stalling other runtime work scheduled on the same thread.
//
// Worker and acceptor threads are both spawned through here so the spawning
// discipline lives next to the rest of the kernel interface.
func SpawnThread(fn func()) {
	go func() {
		runtime.LockOSThread()
		fn()
	}()
}
