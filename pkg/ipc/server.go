package ipc

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	protoerrors "github.com/ryoha000/proctail/pkg/errors"
)

// Handlers is implemented by the service orchestrator; each method
// handles one RequestType.
type Handlers interface {
	AddWatchTarget(pid uint32, tag string) error
	RemoveWatchTarget(tag string) (removed int)
	GetWatchTargets() []WatchTarget
	GetRecordedEvents(tag string) (*Response, error)
	ClearEvents(tag string)
	GetStatus() Status
	Shutdown()
}

// Config carries the IPC server's tunables, all sourced from the daemon
// configuration.
type Config struct {
	PipeName                 string
	MaxConcurrentConnections int
	ResponseTimeout          time.Duration
	BufferSize               int
}

// Server accepts connections on a Listener (a real named pipe on Windows,
// a loopback TCP listener in tests and off Windows) and dispatches framed
// JSON requests to Handlers.
type Server struct {
	cfg      Config
	handlers Handlers
	listener net.Listener

	mu    sync.Mutex
	conns *list.List // of *connHandle, oldest first

	wg       sync.WaitGroup
	stopping chan struct{}
}

type connHandle struct {
	conn net.Conn
	elem *list.Element
}

// New constructs a Server bound to an already-open listener. Opening the
// platform-specific listener (pipe_windows.go / pipe_stub.go) is kept
// separate so tests can supply a plain net.Listener.
func New(listener net.Listener, handlers Handlers, cfg Config) *Server {
	if cfg.MaxConcurrentConnections <= 0 {
		cfg.MaxConcurrentConnections = 20
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 60 * time.Second
	}
	return &Server{
		cfg:      cfg,
		handlers: handlers,
		listener: listener,
		conns:    list.New(),
		stopping: make(chan struct{}),
	}
}

// Serve runs the accept loop until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopping:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		s.admit(conn)
	}
}

func (s *Server) admit(conn net.Conn) {
	s.mu.Lock()
	if s.conns.Len() >= s.cfg.MaxConcurrentConnections {
		oldest := s.conns.Front()
		if oldest != nil {
			evicted := oldest.Value.(*connHandle)
			log.Warn("ipc: evicting oldest connection, concurrent connection cap reached")
			_ = evicted.conn.Close()
			s.conns.Remove(oldest)
		}
	}
	handle := &connHandle{conn: conn}
	handle.elem = s.conns.PushBack(handle)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serveConn(handle)
}

func (s *Server) serveConn(h *connHandle) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.conns.Remove(h.elem)
		s.mu.Unlock()
		_ = h.conn.Close()
	}()

	for {
		raw, err := readFrame(h.conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				if protoerrors.Is(err, protoerrors.KindIPCFraming) {
					log.WithError(err).Debug("ipc: closing connection on framing error")
				} else {
					log.WithError(err).Debug("ipc: closing connection on read error")
				}
			}
			return
		}

		resp := s.dispatch(raw)
		body, err := json.Marshal(resp)
		if err != nil {
			log.WithError(err).Error("ipc: failed to encode response")
			return
		}

		_ = h.conn.SetWriteDeadline(timeNow().Add(s.cfg.ResponseTimeout))
		if err := writeFrame(h.conn, body); err != nil {
			log.WithError(err).Debug("ipc: closing connection on write error")
			return
		}
	}
}

func (s *Server) dispatch(raw []byte) *Response {
	requestType, err := Validate(raw)
	if err != nil {
		return &Response{Success: false, ErrorMessage: err.Error()}
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return &Response{Success: false, ErrorMessage: err.Error()}
	}

	switch requestType {
	case AddWatchTarget:
		if err := s.handlers.AddWatchTarget(req.ProcessId, req.TagName); err != nil {
			return &Response{Success: false, ErrorMessage: err.Error()}
		}
		return &Response{Success: true}

	case RemoveWatchTarget:
		s.handlers.RemoveWatchTarget(req.TagName)
		return &Response{Success: true}

	case GetWatchTargets:
		return &Response{Success: true, Targets: s.handlers.GetWatchTargets()}

	case GetRecordedEvents:
		resp, err := s.handlers.GetRecordedEvents(req.TagName)
		if err != nil {
			return &Response{Success: false, ErrorMessage: err.Error()}
		}
		resp.Success = true
		return resp

	case ClearEvents:
		s.handlers.ClearEvents(req.TagName)
		return &Response{Success: true}

	case GetStatus:
		status := s.handlers.GetStatus()
		return &Response{Success: true, Status: &status}

	case Shutdown:
		// respond first; Handlers.Shutdown runs on a separate goroutine
		// after a short delay, so this response can reach the client.
		go func() {
			time.Sleep(50 * time.Millisecond)
			s.handlers.Shutdown()
		}()
		return &Response{Success: true}

	default:
		err := protoerrors.Newf(protoerrors.KindIPCHandler, "unknown RequestType %q", requestType)
		return &Response{Success: false, ErrorMessage: err.Error()}
	}
}

// Close stops the accept loop and drains in-flight connection handlers,
// giving them up to 3 seconds before forcing their sockets closed.
func (s *Server) Close() error {
	close(s.stopping)
	err := s.listener.Close()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(3 * time.Second):
		log.Warn("ipc: client task drain timed out, forcing remaining connections closed")
		s.mu.Lock()
		for e := s.conns.Front(); e != nil; e = e.Next() {
			_ = e.Value.(*connHandle).conn.Close()
		}
		s.mu.Unlock()
	}
	return err
}

// ActiveConnections reports the number of connections currently admitted,
// for GetStatus.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns.Len()
}

// Addr returns the listener's bound address, chiefly useful in tests that
// run against the loopback TCP stand-in rather than a real named pipe.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

var timeNow = time.Now
