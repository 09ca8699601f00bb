// File: server/config.go
// Package server is the facade wiring the runtime together: listener,
// acceptor thread, scheduler, I/O registry, worker pool, and the
// HTTP/WebSocket echo handler served per connection.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"net"
	"os"
	"strconv"

	units "github.com/docker/go-units"

	"github.com/gundemirbas/async-nostd/internal/arena"
	"github.com/gundemirbas/async-nostd/internal/logging"
	"github.com/gundemirbas/async-nostd/internal/sched"
	"github.com/gundemirbas/async-nostd/transport"
)

// HeapSizeEnv optionally overrides the arena mapping size; values use
// human-readable units ("16MiB", "64m").
const HeapSizeEnv = "ASYNC_NOSTD_HEAP"

// Config holds all server-side configuration parameters.
type Config struct {
	Workers  int    // worker-pool size
	IP       string // dotted-quad listen address
	Port     int    // listen port; zero asks the kernel
	Backlog  int    // listen(2) backlog
	MaxSlots int    // task-slot table capacity
	HeapSize int    // arena mapping size in bytes
	LogPath  string // log file path; empty disables logging
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:  16,
		IP:       "0.0.0.0",
		Port:     8000,
		Backlog:  transport.DefaultBacklog,
		MaxSlots: sched.DefaultSlots,
		HeapSize: arena.DefaultHeapSize,
		LogPath:  logging.DefaultPath,
	}
}

// ParseArgs fills a Config from positional arguments: workers, listen ip,
// listen port, in that order. A missing or malformed argument falls back
// to its default; a numerically out-of-range one is an error, because the
// caller plainly meant something and we cannot honour it.
func ParseArgs(args []string) (*Config, error) {
	cfg := DefaultConfig()
	if err := readHeapEnv(cfg); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		n, err := strconv.ParseUint(args[0], 10, 32)
		switch {
		case err == nil && n > 0:
			cfg.Workers = int(n)
		case isRange(err):
			return nil, fmt.Errorf("worker count %q out of range", args[0])
		}
	}
	if len(args) > 1 {
		if ip := net.ParseIP(args[1]); ip != nil && ip.To4() != nil {
			cfg.IP = args[1]
		}
	}
	if len(args) > 2 {
		p, err := strconv.ParseUint(args[2], 10, 64)
		switch {
		case err == nil && p <= 65535:
			cfg.Port = int(p)
		case err == nil, isRange(err):
			return nil, fmt.Errorf("port %q out of range", args[2])
		}
	}
	return cfg, nil
}

func readHeapEnv(cfg *Config) error {
	v := os.Getenv(HeapSizeEnv)
	if v == "" {
		return nil
	}
	n, err := units.RAMInBytes(v)
	if err != nil {
		return fmt.Errorf("parse %s=%q: %w", HeapSizeEnv, v, err)
	}
	if n <= 0 || n > 1<<40 {
		return fmt.Errorf("%s=%q out of range", HeapSizeEnv, v)
	}
	cfg.HeapSize = int(n)
	return nil
}

func isRange(err error) bool {
	if ne, ok := err.(*strconv.NumError); ok {
		return ne.Err == strconv.ErrRange
	}
	return false
}
