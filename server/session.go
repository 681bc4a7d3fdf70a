package server

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Session is the server-side state for one live client connection. The
// identity slot stays empty until a login succeeds. All reads happen on the
// connection's own goroutine; writes are serialized so a live push from
// another session cannot interleave with a response.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu      sync.Mutex
	writeTimeout time.Duration

	mu           sync.Mutex
	username     string
	lastActivity time.Time

	// Login throttling, touched only by the connection's own goroutine.
	failedLogins int
	lockoutUntil time.Time

	activity  chan struct{}
	done      chan struct{}
	expired   atomic.Bool
	closeOnce sync.Once
}

func newSession(conn net.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writeTimeout: writeTimeout,
		lastActivity: time.Now(),
		activity:     make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

func (s *Session) user() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) setUser(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

func (s *Session) authenticated() bool {
	return s.user() != ""
}

// touch stamps the last activity time and nudges the inactivity supervisor.
// Called for every processed line, accepted or rejected.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	select {
	case s.activity <- struct{}{}:
	default:
	}
}

// send writes the given lines as one bounded write. A slow or dead peer
// runs into the write deadline instead of stalling the caller.
func (s *Session) send(lines ...string) error {
	payload := strings.Join(lines, "\n") + "\n"

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	_, err := s.conn.Write([]byte(payload))
	return err
}

func (s *Session) remoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
