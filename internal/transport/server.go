package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/chordhash/chordhash/internal/telemetry"
)

// HandlerFunc decodes a request's payload, runs the handler, and returns a
// response payload or an error. Errors are rendered into the response's
// ERRORS field; the error's message is used verbatim.
type HandlerFunc func(payload json.RawMessage) (any, error)

const numWorkers = 3

// Server listens for framed JSON requests and dispatches them by command
// name onto a small fixed worker pool, each worker running one handler
// end-to-end.
type Server struct {
	addr      string
	handlers  map[string]HandlerFunc
	log       *telemetry.Logger
	authToken string

	mu       sync.RWMutex
	listener net.Listener
	work     chan net.Conn
	wg       sync.WaitGroup
	closed   chan struct{}
}

// NewServer builds a Server bound to addr; Handle must be called for every
// command before Serve starts accepting connections.
func NewServer(addr string, log *telemetry.Logger) *Server {
	if log == nil {
		log = telemetry.L()
	}
	return &Server{
		addr:     addr,
		handlers: make(map[string]HandlerFunc),
		log:      log,
		work:     make(chan net.Conn, numWorkers*4),
		closed:   make(chan struct{}),
	}
}

// Handle registers the handler for command.
func (s *Server) Handle(command string, h HandlerFunc) {
	s.handlers[command] = h
}

// SetAuthToken configures the shared secret every request must carry. An
// empty token (the default) disables the check, accepting all requests.
func (s *Server) SetAuthToken(token string) {
	s.authToken = token
}

// Serve opens the listener and blocks, accepting connections until Stop is
// called.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for i := 0; i < numWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				s.log.Logger.Error().Err(err).Msg("transport: accept failed")
				continue
			}
		}
		select {
		case s.work <- conn:
		case <-s.closed:
			conn.Close()
			return nil
		}
	}
}

// Stop closes the listener and waits for in-flight requests to finish.
// Calling it again after the first call returns immediately.
func (s *Server) Stop() {
	select {
	case <-s.closed:
		return
	default:
	}
	close(s.closed)
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln != nil {
		ln.Close()
	}
	close(s.work)
	s.wg.Wait()
}

func (s *Server) worker() {
	defer s.wg.Done()
	for conn := range s.work {
		s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reqBytes, err := readFrame(conn)
	if err != nil {
		return
	}

	var req Request
	if err := json.Unmarshal(reqBytes, &req); err != nil {
		s.writeError(conn, fmt.Sprintf("malformed request: %v", err))
		return
	}

	if s.authToken != "" && req.AuthToken != s.authToken {
		s.writeError(conn, "unauthenticated: missing or invalid auth token")
		return
	}

	handler, ok := s.handlers[req.Command]
	if !ok {
		s.writeError(conn, fmt.Sprintf("unknown command %q", req.Command))
		return
	}

	result, err := handler(req.Payload)
	if err != nil {
		s.writeError(conn, err.Error())
		return
	}

	payload, err := EncodePayload(result)
	if err != nil {
		s.writeError(conn, fmt.Sprintf("encode response: %v", err))
		return
	}

	s.writeResponse(conn, Response{Success: true, Payload: payload})
}

func (s *Server) writeError(conn net.Conn, msg string) {
	s.writeResponse(conn, Response{Success: false, Errors: msg})
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = writeFrame(conn, data)
}
