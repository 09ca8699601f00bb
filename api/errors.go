// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error values shared across the runtime packages.

package api

import "fmt"

// Common errors used across the runtime.
var (
	ErrSlotsExhausted = fmt.Errorf("task slots exhausted")
	ErrArenaExhausted = fmt.Errorf("arena exhausted")
	ErrInvalidAddress = fmt.Errorf("invalid listen address")
)

// Errno carries a raw negated-errno result from the syscall layer. Futures
// that complete with a kernel error surface it through this type so callers
// can branch on the underlying errno without importing the syscall layer.
type Errno int

func (e Errno) Error() string {
	return fmt.Sprintf("syscall failed: errno %d", int(e))
}

// Code returns the positive errno value.
func (e Errno) Code() int { return int(e) }
