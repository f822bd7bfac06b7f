package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxFrameBytes bounds one request line. Well beyond any legitimate request.
const maxFrameBytes = 1 << 20

// Handler dispatches one request to a response. Implementations must be safe
// for concurrent calls; connection fan-out happens above them.
type Handler interface {
	Handle(req Request) Response
}

// Server accepts unix-socket connections and frames requests to a Handler.
// The shutdown method is recognized here: the handler's response is written
// first, then the listener and every other connection are closed before the
// shutdown callback fires, so the caller always sees {ok:true} and no
// connection gets an answer after the ack.
type Server struct {
	handler Handler
	path    string

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup

	// OnShutdownRequest is invoked once after a shutdown response has been
	// written. The daemon uses it to begin its graceful stop.
	OnShutdownRequest func()
	shutdownOnce      sync.Once
}

// NewServer binds the socket path, unlinking any stale file first.
func NewServer(path string, handler Handler) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", path, err)
	}
	return &Server{
		handler:  handler,
		path:     path,
		listener: ln,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Serve runs the accept loop until Close. Always returns nil after a clean
// close.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			log.Error().Err(err).Msg("ipc accept failed")
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Close stops accepting, closes every live connection and removes the socket
// file. Idempotent.
func (s *Server) Close() error {
	s.drain(nil)
	s.wg.Wait()
	_ = os.Remove(s.path)
	return nil
}

// drain stops the accept loop and closes every connection except skip. It
// does not wait for connection goroutines, so it is safe to call from one.
func (s *Server) drain(skip net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		if c != skip {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	_ = ln.Close()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	connID := uuid.NewString()
	logger := log.With().Str("conn", connID).Logger()
	logger.Debug().Msg("ipc connection opened")

	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		logger.Debug().Msg("ipc connection closed")
	}()

	var writeMu sync.Mutex
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil || req.ID == "" {
			// No id to answer on; the frame is dropped silently.
			logger.Debug().Msg("dropping malformed ipc frame")
			continue
		}

		resp := s.handler.Handle(req)
		resp.ID = req.ID

		writeMu.Lock()
		err := writeFrame(conn, resp)
		writeMu.Unlock()
		if err != nil {
			logger.Debug().Err(err).Msg("ipc write failed")
			return
		}

		if req.Method == MethodShutdown {
			s.shutdownOnce.Do(func() {
				// Ack is on the wire; stop all other traffic before anything
				// else can be answered.
				s.drain(conn)
				if s.OnShutdownRequest != nil {
					// Run off the connection goroutine so teardown can wait
					// for connections without deadlocking on this one.
					go s.OnShutdownRequest()
				}
			})
			return
		}
	}
}

func writeFrame(conn net.Conn, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}
