// File: internal/logging/log.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Append-only log sink over a raw descriptor. Lines are ASCII,
// newline-terminated, tagged with a bracketed subsystem marker. Writes are
// serialised only by the kernel's per-descriptor write semantics.

package logging

import (
	"fmt"
	"sync/atomic"

	"github.com/gundemirbas/async-nostd/internal/sys"
)

// DefaultPath is where the runtime logs unless configured otherwise.
const DefaultPath = "/tmp/async-nostd.log"

// Log appends tagged lines to a descriptor held in an atomic integer.
// A nil *Log is a valid no-op sink.
type Log struct {
	fd atomic.Int32
}

// Open truncates path and returns a sink appending to it.
func Open(path string) (*Log, error) {
	fd, err := sys.OpenTrunc(path)
	if err != nil {
		return nil, err
	}
	l := &Log{}
	l.fd.Store(int32(fd))
	return l, nil
}

// NewWithFd wraps an already-open descriptor.
func NewWithFd(fd int) *Log {
	l := &Log{}
	l.fd.Store(int32(fd))
	return l
}

// Logf appends one formatted line. Safe on a nil receiver.
func (l *Log) Logf(format string, args ...any) {
	if l == nil {
		return
	}
	fd := l.fd.Load()
	if fd < 0 {
		return
	}
	line := fmt.Appendf(nil, format+"\n", args...)
	sys.Write(int(fd), line)
}

// Close detaches the sink and closes the descriptor. Later Logf calls are
// dropped.
func (l *Log) Close() {
	if l == nil {
		return
	}
	fd := l.fd.Swap(-1)
	if fd >= 0 {
		sys.Close(int(fd))
	}
}
