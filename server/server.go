package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatalk/protocol"
	"chatalk/store"
)

type Config struct {
	Port          int
	IdleTimeout   time.Duration
	LockoutWindow time.Duration
	AckWait       time.Duration
	WriteTimeout  time.Duration
}

// Server accepts connections and runs one session goroutine per client.
// One session's failure never affects the others or the accept loop.
type Server struct {
	config     *Config
	registry   *Registry
	dispatcher *Dispatcher
	log        *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func New(gw store.Gateway, config *Config, log *slog.Logger) *Server {
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 900 * time.Second
	}
	if config.LockoutWindow == 0 {
		config.LockoutWindow = 120 * time.Second
	}
	if config.AckWait == 0 {
		config.AckWait = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	registry := NewRegistry()
	return &Server{
		config:     config,
		registry:   registry,
		dispatcher: NewDispatcher(gw, registry, log, config.LockoutWindow),
		log:        log,
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("chatalk server started", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// Addr returns the listen address once Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConnection runs the session read loop: one line in, one response
// out, strictly in order. No pipelining.
func (s *Server) handleConnection(conn net.Conn) {
	sess := newSession(conn, s.config.WriteTimeout)
	s.log.Info("client connected", "remote", sess.remoteAddr())

	go s.superviseIdle(sess)
	defer s.teardown(sess)

	for {
		line, err := sess.reader.ReadString('\n')

		// A forced logout shortens the read deadline; whatever the read
		// returned was the client's acknowledgement (or its absence).
		if sess.expired.Load() {
			return
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("read failed", "remote", sess.remoteAddr(), "err", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		sess.touch()
		if s.dispatcher.Dispatch(sess, protocol.Parse(line)) == actCloseAfterAck {
			s.awaitAck(sess)
			return
		}
	}
}

// awaitAck reads the client's acknowledgement line after a logout sequence,
// bounded so a silent client cannot hold the connection open.
func (s *Server) awaitAck(sess *Session) {
	sess.conn.SetReadDeadline(time.Now().Add(s.config.AckWait))
	sess.reader.ReadString('\n')
}

// teardown releases a session's transport and presence entry exactly once,
// whichever path got here first.
func (s *Server) teardown(sess *Session) {
	sess.closeOnce.Do(func() {
		close(sess.done)

		if username := sess.user(); username != "" {
			s.registry.Unregister(username)
			s.dispatcher.markOffline(username)
			sess.setUser("")
			s.log.Info("client disconnected", "user", username, "remote", sess.remoteAddr())
		} else {
			s.log.Info("client disconnected", "remote", sess.remoteAddr())
		}

		sess.conn.Close()
	})
}

// Shutdown stops accepting and tears down every live session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	for _, sess := range s.registry.Sessions() {
		s.teardown(sess)
	}
}

// Stats reports the live session count and online usernames.
func (s *Server) Stats() string {
	online := s.registry.Online()
	return "connections=" + strconv.Itoa(len(online)) + ",users=" + strings.Join(online, ";")
}
