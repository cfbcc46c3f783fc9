// Package relay carries hook payloads from short-lived hook processes to the
// coordinator over a per-run unix socket. One connection carries one JSON
// document, terminated by the client closing its write side. The server
// closes the connection after the handler returns.
package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artpi/jackpoint/internal/hook"
	"github.com/artpi/jackpoint/internal/metrics"
)

// EnvAddr is the variable through which the wrapped program's hooks find
// the relay.
const EnvAddr = "JACKPOINT_RELAY"

const maxPayloadBytes = 4 << 20

// Handler receives every well-formed payload. It runs on the connection's
// goroutine.
type Handler func(p hook.Payload)

type Server struct {
	dir     string
	handler Handler
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	path     string
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a relay whose socket will live in dir, or in the system
// temp directory when dir is empty.
func NewServer(dir string, handler Handler, m *metrics.Metrics, log zerolog.Logger) *Server {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Server{
		dir:     dir,
		handler: handler,
		metrics: m,
		log:     log.With().Str("component", "relay").Logger(),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds a fresh socket and returns its address.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return "", fmt.Errorf("relay already running on %s", s.path)
	}

	path := filepath.Join(s.dir, "jackpoint-"+uuid.NewString()+".sock")
	listener, err := net.Listen("unix", path)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to restrict relay socket: %w", err)
	}

	s.listener = listener
	s.path = path
	s.wg.Add(1)
	go s.acceptLoop(listener)

	s.log.Debug().Str("addr", path).Msg("Relay listening")
	return path, nil
}

// Addr is the socket path while running, "" otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Stop closes the socket and removes it. Safe to call when never started
// and more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	listener, path := s.listener, s.path
	s.listener, s.path = nil, ""
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if listener == nil {
		return
	}
	listener.Close()
	s.wg.Wait()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Debug().Err(err).Msg("Failed to remove relay socket")
	}
	s.log.Debug().Msg("Relay stopped")
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("Relay accept failed")
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	data, err := io.ReadAll(io.LimitReader(conn, maxPayloadBytes+1))
	if err != nil {
		s.metrics.RelayPayload("read_error")
		s.log.Debug().Err(err).Msg("Relay read failed")
		return
	}
	if len(data) > maxPayloadBytes {
		s.metrics.RelayPayload("malformed")
		s.log.Warn().Int("bytes", len(data)).Msg("Relay payload too large, dropped")
		return
	}

	payload, err := hook.Parse(data)
	if err != nil {
		s.metrics.RelayPayload("malformed")
		s.log.Warn().Err(err).Msg("Malformed relay payload, dropped")
		return
	}
	s.metrics.RelayPayload("accepted")
	if s.handler != nil {
		s.handler(payload)
	}
}
