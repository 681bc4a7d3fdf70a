package server

import (
	"errors"
	"sort"
	"sync"
)

var errAlreadyOnline = errors.New("username already registered")

// Registry is the process-wide map from authenticated username to live
// session. It is the source of truth for who is online right now and for
// message delivery targets.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register binds a username to a session. It fails if the username is
// already bound, which makes the already-online check atomic with the
// insertion: two simultaneous logins for the same name cannot both win.
func (r *Registry) Register(username string, sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[username]; ok {
		return errAlreadyOnline
	}
	r.sessions[username] = sess
	return nil
}

func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, username)
}

func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[username]
	return sess, ok
}

// Online returns the registered usernames, sorted.
func (r *Registry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sessions returns a snapshot of the live sessions keyed by username.
func (r *Registry) Sessions() map[string]*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]*Session, len(r.sessions))
	for name, sess := range r.sessions {
		snapshot[name] = sess
	}
	return snapshot
}
