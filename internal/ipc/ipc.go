// Package ipc is the local control socket: a client sends one command and
// reads one response per connection.
package ipc

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

const DefaultSocketPath = "/tmp/hark.sock"

const (
	CmdAbort  = "abort"
	CmdStatus = "status"
)

type ControlMessage struct {
	Cmd string `json:"cmd"`
}

type Status struct {
	Session string `json:"session,omitempty"`
	UseCase string `json:"use_case,omitempty"`
	Stage   string `json:"stage"`
	Turns   int    `json:"turns"`
	Uptime  string `json:"uptime"`
}

type Response struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Status *Status `json:"status,omitempty"`
}

type Handler func(ControlMessage) Response

type Server struct {
	ln      net.Listener
	path    string
	handler Handler
	logger  *log.Logger
	wg      sync.WaitGroup
}

// Listen binds the socket at path, replacing a stale one, and serves in the
// background until Close.
func Listen(path string, handler Handler, logger *log.Logger) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}

	s := &Server{
		ln:      ln,
		path:    path,
		handler: handler,
		logger:  logger.With("component", "ipc", "socket", path),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var msg ControlMessage
	if err := sonic.ConfigDefault.NewDecoder(conn).Decode(&msg); err != nil {
		s.logger.Debug("bad control message", "err", err)
		return
	}
	s.logger.Debug("control command", "cmd", msg.Cmd)

	resp := s.handler(msg)
	if err := sonic.ConfigDefault.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("write response", "err", err)
	}
}

func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	os.Remove(s.path)
	return err
}

// Send delivers cmd to the server at path and waits for its response.
func Send(ctx context.Context, path, cmd string) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := sonic.ConfigDefault.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", cmd, err)
	}
	var resp Response
	if err := sonic.ConfigDefault.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
