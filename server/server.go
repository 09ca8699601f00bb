// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"sync/atomic"

	"github.com/gundemirbas/async-nostd/api"
	"github.com/gundemirbas/async-nostd/internal/arena"
	"github.com/gundemirbas/async-nostd/internal/executor"
	"github.com/gundemirbas/async-nostd/internal/ioreg"
	"github.com/gundemirbas/async-nostd/internal/logging"
	"github.com/gundemirbas/async-nostd/internal/sched"
	"github.com/gundemirbas/async-nostd/internal/sys"
	"github.com/gundemirbas/async-nostd/pool"
	"github.com/gundemirbas/async-nostd/transport"
)

// Server owns every runtime component for one listening endpoint.
type Server struct {
	cfg          *Config
	log          *logging.Log
	listener     *transport.Listener
	exec         *executor.Executor
	bufs         *pool.BytePool
	exitWhenIdle bool
	dropped      atomic.Int64
}

// Option customizes server construction.
type Option func(*Server)

// WithExitWhenIdle makes Run return once every task has completed instead
// of parking for the next connection. Tests use it to wait a server out.
func WithExitWhenIdle() Option {
	return func(s *Server) { s.exitWhenIdle = true }
}

// New builds the full runtime stack: log sink, arena-backed scheduler,
// I/O registry with its eventfd, worker executor, and the listening
// socket. Nothing runs until Run.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{cfg: cfg, bufs: pool.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.LogPath != "" {
		l, err := logging.Open(cfg.LogPath)
		if err != nil {
			return nil, err
		}
		s.log = l
	}

	heap := arena.Default()
	if cfg.HeapSize != arena.DefaultHeapSize {
		var err error
		heap, err = arena.New(cfg.HeapSize)
		if err != nil {
			return nil, err
		}
	}

	reg, err := ioreg.New(s.log.Logf)
	if err != nil {
		return nil, err
	}
	schd := sched.New(cfg.MaxSlots, heap, nil)

	execOpts := []executor.Option{executor.WithWorkers(cfg.Workers)}
	if s.exitWhenIdle {
		execOpts = append(execOpts, executor.WithExitWhenIdle())
	}
	s.exec = executor.New(schd, reg, execOpts...)

	ln, err := transport.Listen(cfg.IP, cfg.Port, cfg.Backlog)
	if err != nil {
		return nil, err
	}
	s.listener = ln
	return s, nil
}

// Run starts the acceptor thread and the worker pool, turning the calling
// thread into worker zero. It blocks until the executor returns.
func (s *Server) Run() {
	executor.StartAcceptor(s.listener.Fd(), s.onAccept)
	s.exec.Run()
}

// Stop closes the listening socket and tells every worker to return after
// its current drain. An acceptor thread blocked in accept is not woken by
// the close; it stays blocked until another connection arrives.
func (s *Server) Stop() {
	s.listener.Close()
	s.exec.Stop()
	s.log.Close()
}

// Port returns the bound listen port.
func (s *Server) Port() int { return s.listener.Port() }

// Addr returns the bound listen address as host:port.
func (s *Server) Addr() string { return s.listener.Addr() }

// LiveTasks returns the number of occupied task slots.
func (s *Server) LiveTasks() int { return s.exec.Scheduler().LiveCount() }

// Dropped returns how many accepted connections were shed because the
// slot table was full.
func (s *Server) Dropped() int64 { return s.dropped.Load() }

// onAccept runs on the acceptor thread for every accepted descriptor,
// which arrives already non-blocking.
func (s *Server) onAccept(fd int) {
	s.log.Logf("[ACCEPT] fd=%d", fd)
	schd := s.exec.Scheduler()
	h := schd.Register(newConnTask(s, fd))
	if h == api.InvalidHandle {
		// Slot table saturated: shed the connection.
		s.dropped.Add(1)
		s.log.Logf("[DROP] fd=%d: %v (%d live)", fd, api.ErrSlotsExhausted, schd.LiveCount())
		sys.Close(fd)
		return
	}
	schd.Wake(h)
}
