// Package sys contains the runtime's entire kernel interface: typed
// syscall wrappers with negated-errno returns, and the thread spawning
// helper used by the worker pool and the acceptor.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package sys
