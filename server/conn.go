// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection task. One connTask future carries a connection through
// its whole life: read the HTTP request, route it, answer it, and for
// upgraded connections run the WebSocket echo loop. Every blocking edge
// delegates to a network future, so the task parks instead of blocking.

package server

import (
	"net/http"

	"github.com/gundemirbas/async-nostd/api"
	"github.com/gundemirbas/async-nostd/internal/ioreg"
	"github.com/gundemirbas/async-nostd/internal/sys"
	"github.com/gundemirbas/async-nostd/protocol"
	"github.com/gundemirbas/async-nostd/transport"
)

type connState uint8

const (
	stRequest   connState = iota // reading the HTTP request
	stRespond                    // writing a plain HTTP response, then close
	stHandshake                  // writing the 101, then the echo loop
	stWSRead                     // waiting for WebSocket bytes
	stWSWrite                    // flushing queued echo frames
)

type connTask struct {
	srv   *Server
	reg   *ioreg.Registry
	fd    int
	state connState

	recv *transport.RecvFuture
	send *transport.SendFuture
	rbuf []byte // pooled buffer the active recv reads into

	acc    []byte // accumulated, not-yet-framed WebSocket bytes
	fragOp byte   // opcode of the in-progress fragmented message
	frag   []byte // its accumulated payload
	outq   []byte // serialized frames waiting for stWSWrite
}

func newConnTask(s *Server, fd int) *connTask {
	return &connTask{srv: s, reg: s.exec.Registry(), fd: fd}
}

// Poll drives the connection state machine until it parks or finishes.
func (c *connTask) Poll(cx *api.Context) api.Status {
	for {
		switch c.state {
		case stRequest:
			st := c.pollRequest(cx)
			if st != continueStates {
				return st
			}
		case stRespond:
			if c.send.Poll(cx) == api.Pending {
				return api.Pending
			}
			return c.close()
		case stHandshake:
			if c.send.Poll(cx) == api.Pending {
				return api.Pending
			}
			if _, err := c.send.Result(); err != nil {
				return c.close()
			}
			c.srv.log.Logf("[WS] fd=%d handshake complete", c.fd)
			c.send = nil
			c.state = stWSRead
		case stWSRead:
			st := c.pollWSRead(cx)
			if st != continueStates {
				return st
			}
		case stWSWrite:
			if c.send.Poll(cx) == api.Pending {
				return api.Pending
			}
			if _, err := c.send.Result(); err != nil {
				return c.close()
			}
			c.send = nil
			c.outq = nil
			c.state = stWSRead
		}
	}
}

// continueStates is an internal pseudo-status: the state advanced, keep
// driving the machine inside the same poll.
const continueStates = api.Status(0xFF)

func (c *connTask) pollRequest(cx *api.Context) api.Status {
	if c.recv == nil {
		c.rbuf = c.srv.bufs.GetBuffer()
		c.recv = transport.NewRecvFuture(c.reg, c.fd, c.rbuf)
	}
	if c.recv.Poll(cx) == api.Pending {
		return api.Pending
	}
	n, err := c.recv.Result()
	raw := c.recv.Bytes()
	c.recv = nil
	if err != nil || n == 0 {
		c.releaseRecvBuf()
		return c.close()
	}

	req, perr := protocol.ParseRequest(raw)
	c.releaseRecvBuf()
	if perr != nil {
		c.respond("400 Bad Request", "text/plain", []byte("Bad Request\n"))
		return continueStates
	}

	route := req.URL.Path
	c.srv.log.Logf("[HTTP] fd=%d route=%s", c.fd, route)

	switch {
	case (route == "/ws" || route == "/term") && protocol.IsUpgrade(req):
		c.startHandshake(req)
	case route == "/":
		c.respond("200 OK", "text/html; charset=utf-8", indexHTML)
	default:
		c.respond("404 Not Found", "text/plain", []byte("Not Found\n"))
	}
	return continueStates
}

func (c *connTask) startHandshake(req *http.Request) {
	resp, err := protocol.HandshakeResponse(req)
	if err != nil {
		c.respond("400 Bad Request", "text/plain", []byte("Bad Request\n"))
		return
	}
	c.send = transport.NewSendFuture(c.reg, c.fd, resp)
	c.state = stHandshake
}

func (c *connTask) respond(status, contentType string, body []byte) {
	c.send = transport.NewSendFuture(c.reg, c.fd, protocol.Response(status, contentType, body))
	c.state = stRespond
}

func (c *connTask) pollWSRead(cx *api.Context) api.Status {
	if c.recv == nil {
		c.rbuf = c.srv.bufs.GetBuffer()
		c.recv = transport.NewRecvFuture(c.reg, c.fd, c.rbuf)
	}
	if c.recv.Poll(cx) == api.Pending {
		return api.Pending
	}
	n, err := c.recv.Result()
	chunk := c.recv.Bytes()
	c.recv = nil
	if err != nil || n == 0 {
		c.releaseRecvBuf()
		return c.close()
	}
	c.acc = append(c.acc, chunk...)
	c.releaseRecvBuf()

	for {
		fr, consumed, ferr := protocol.DecodeFrame(c.acc)
		if ferr != nil {
			return c.close()
		}
		if fr == nil {
			break
		}
		c.acc = c.acc[consumed:]
		if done := c.handleFrame(fr); done {
			return c.close()
		}
	}
	if len(c.acc) == 0 {
		c.acc = nil
	}

	if len(c.outq) > 0 {
		c.send = transport.NewSendFuture(c.reg, c.fd, c.outq)
		c.state = stWSWrite
	}
	return continueStates
}

// handleFrame applies one decoded frame to the echo state. Returns true
// when the connection is finished.
func (c *connTask) handleFrame(fr *protocol.Frame) bool {
	switch fr.Opcode {
	case protocol.OpContinuation:
		if c.fragOp == 0 {
			return false // continuation with no message in progress
		}
		c.frag = append(c.frag, fr.Payload...)
		if fr.Final {
			c.enqueue(c.fragOp, c.frag)
			c.fragOp = 0
			c.frag = nil
		}
	case protocol.OpText, protocol.OpBinary:
		if fr.Final {
			c.enqueue(fr.Opcode, fr.Payload)
		} else {
			c.fragOp = fr.Opcode
			c.frag = append([]byte(nil), fr.Payload...)
		}
	case protocol.OpClose:
		return true
	case protocol.OpPing:
		c.enqueue(protocol.OpPong, fr.Payload)
	}
	return false
}

func (c *connTask) enqueue(opcode byte, payload []byte) {
	enc, err := protocol.EncodeFrame(opcode, payload)
	if err != nil {
		return
	}
	c.outq = append(c.outq, enc...)
}

func (c *connTask) releaseRecvBuf() {
	if c.rbuf != nil {
		c.srv.bufs.PutBuffer(c.rbuf)
		c.rbuf = nil
	}
}

// close finishes the task: the descriptor is closed and any waker still
// parked for it is dropped so a reused fd number cannot inherit it.
func (c *connTask) close() api.Status {
	c.reg.Unpark(c.fd)
	sys.Close(c.fd)
	return api.Ready
}
