/*
Copyright 2023 ICS-FORTH.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// controlsocket.go is a minimal newline-delimited-JSON framing over a unix
// socket for the control surface. spec.md §1 scopes "control-endpoint
// transport (local socket or message bus): request parsing and reply
// framing" out entirely; this is the thinnest possible concrete transport
// so cmd/initd is a runnable program, not a specified component — any
// framing choice here is incidental, not part of the core.
package main

import (
	"bufio"
	"encoding/json"
	"net"
	"os"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/carv-ics-forth/initd/internal/control"
)

// ControlListener accepts connections on a unix socket and dispatches each
// decoded line to control.Server, serializing every call onto reqCh so the
// main loop (not this accept goroutine) is what actually mutates the
// engine (spec.md §5, "single-threaded").
type ControlListener struct {
	log  logr.Logger
	path string
	ln   net.Listener
	reqs chan pendingRequest
}

type pendingRequest struct {
	req   control.Request
	reply chan control.Reply
}

// ListenControlSocket binds path (removing any stale socket file first)
// and returns a listener whose incoming requests are available from Next.
func ListenControlSocket(log logr.Logger, path string) (*ControlListener, error) {
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on control socket %q", path)
	}

	cl := &ControlListener{log: log, path: path, ln: ln, reqs: make(chan pendingRequest, 64)}

	go cl.accept()

	return cl, nil
}

func (c *ControlListener) accept() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}

		go c.serve(conn)
	}
}

func (c *ControlListener) serve(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req control.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(control.Reply{Err: &control.Error{Tag: "InvalidArgument", Message: err.Error()}})
			continue
		}

		replyCh := make(chan control.Reply, 1)
		c.reqs <- pendingRequest{req: req, reply: replyCh}

		if reply, ok := <-replyCh; ok {
			_ = enc.Encode(reply)
		}
	}
}

// Requests exposes the channel the main loop drains: one pendingRequest
// per decoded line, oldest first.
func (c *ControlListener) Requests() <-chan pendingRequest { return c.reqs }

// Close stops accepting and removes the socket file.
func (c *ControlListener) Close() error {
	err := c.ln.Close()
	_ = os.Remove(c.path)

	return err
}

// dispatch runs one pendingRequest against server (called from the main
// loop, spec.md §5) and forwards its MethodReply back to the connection
// goroutine once it's ready — immediately for wait=false, or after a
// subsequent Poll resolves the deferred WaitingMethodReply link.
func dispatch(server *control.Server, p pendingRequest) {
	replyCh, err := server.Handle(p.req)
	if err != nil {
		p.reply <- control.Reply{Err: &control.Error{Tag: "InvalidArgument", Message: err.Error()}}
		close(p.reply)

		return
	}

	go func() {
		reply := <-replyCh
		p.reply <- reply
		close(p.reply)
	}()
}
