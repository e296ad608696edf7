// Package netio implements the TCP wire transport: Server, which accepts
// client connections and broadcasts each second's record to all of them,
// and Client, the reconnecting live-acquisition loop that feeds a local
// LogStore.
//
// Grounded on original_source/get_data.c's server/server_thread (accept
// loop, per-client send loop) and display.c's get_live_data_thread
// (connect/recv loop, gap-fill and time-error handling on reconnect), and
// on the teacher's server.go (net.Listen/Accept loop structure,
// SO_REUSEADDR handling).
package netio

import (
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

// Server accepts client connections on ListenAddr and broadcasts every
// record it is handed via Emit to each connected client, implementing
// fuse.Sink.
type Server struct {
	logger *log.Logger

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closed  bool
	listener net.Listener
}

// NewServer binds addr and returns a Server ready to Serve connections.
func NewServer(addr string, logger *log.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netio: listen %s: %w", addr, err)
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		if f, err := tl.File(); err == nil {
			syscall.SetsockoptInt(int(f.Fd()), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			f.Close()
		}
	}
	return &Server{
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
		listener: ln,
	}, nil
}

// Serve accepts connections until the listener is closed, registering each
// one for broadcast. It returns when Close is called.
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
			return fmt.Errorf("netio: accept: %w", err)
		}
		s.addConn(conn)
		if s.logger != nil {
			s.logger.Info("netio: client connected", "remote", conn.RemoteAddr())
		}
	}
}

func (s *Server) addConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) dropConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Emit sends p1/p2 to every connected client, dropping any connection that
// errors on write, per spec.md §4.6's per-second broadcast.
func (s *Server) Emit(p1 wire.Part1, p2 wire.Part2) {
	s.mu.Lock()
	targets := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, conn := range targets {
		if err := p1.EncodeTo(conn); err != nil {
			if s.logger != nil {
				s.logger.Warn("netio: send part1 failed, dropping client", "remote", conn.RemoteAddr(), "err", err)
			}
			s.dropConn(conn)
			continue
		}
		if err := p2.EncodeTo(conn); err != nil {
			if s.logger != nil {
				s.logger.Warn("netio: send part2 failed, dropping client", "remote", conn.RemoteAddr(), "err", err)
			}
			s.dropConn(conn)
		}
	}
}

// Close stops accepting new connections and closes all existing ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return s.listener.Close()
}
