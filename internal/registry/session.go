// Package registry holds the broker's two authoritative collections: live
// sessions keyed by nickname, and live channels keyed by name. Both types
// are plain, unsynchronized maps — callers (the broker) serialize all
// access to either registry under one exclusive lock, matching §5's
// requirement that mutation of the two registries share a single
// discipline rather than each guarding itself independently.
package registry

import (
	"net"
	"sort"

	"chatbroker/internal/protocol"
)

// Session is one connected client's authoritative state.
type Session struct {
	ID          string // correlation id for logging, stable for the connection's lifetime
	Nick        string
	Conn        net.Conn
	Out         chan protocol.Message // outbound queue, drained by the connection's writer goroutine
	Channels    map[string]struct{}   // channel names this session is a member of
	PendingPing *string               // payload of the most recently sent, unanswered ping
}

func newSession(id string, conn net.Conn, nick string, sendBuf int) *Session {
	return &Session{
		ID:       id,
		Nick:     nick,
		Conn:     conn,
		Out:      make(chan protocol.Message, sendBuf),
		Channels: make(map[string]struct{}),
	}
}

// SessionRegistry is the set of live sessions, keyed by nickname, plus the
// reverse lookup from connection to session.
type SessionRegistry struct {
	byNick map[string]*Session
	byConn map[net.Conn]*Session
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byNick: make(map[string]*Session),
		byConn: make(map[net.Conn]*Session),
	}
}

// Taken reports whether nick is already held, reserved, or syntactically
// invalid. Satisfies
// nickname.Checker.
func (r *SessionRegistry) Taken(nick string) bool {
	if !protocol.ValidNick(nick) {
		return true
	}
	_, ok := r.byNick[nick]
	return ok
}

// Insert allocates and registers a new session for conn under nick. The
// caller is responsible for having confirmed nick's availability (e.g. via
// Taken) and for id being unique.
func (r *SessionRegistry) Insert(id string, conn net.Conn, nick string, sendBuf int) *Session {
	s := newSession(id, conn, nick, sendBuf)
	r.byNick[nick] = s
	r.byConn[conn] = s
	return s
}

// Rename moves a session from its old nickname key to new. Returns false
// without mutating anything if new is unavailable.
func (r *SessionRegistry) Rename(s *Session, new string) bool {
	if r.Taken(new) {
		return false
	}
	delete(r.byNick, s.Nick)
	s.Nick = new
	r.byNick[new] = s
	return true
}

// LookupByName returns the session holding nick, if any.
func (r *SessionRegistry) LookupByName(nick string) (*Session, bool) {
	s, ok := r.byNick[nick]
	return s, ok
}

// LookupByConn returns the session owning conn, if any.
func (r *SessionRegistry) LookupByConn(conn net.Conn) (*Session, bool) {
	s, ok := r.byConn[conn]
	return s, ok
}

// Remove deletes s from the registry. It does not touch channel membership
// or close the connection; callers evict through the broker, which also
// handles channel fan-out and the transport close.
func (r *SessionRegistry) Remove(s *Session) {
	delete(r.byNick, s.Nick)
	delete(r.byConn, s.Conn)
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	return len(r.byNick)
}

// All returns every live session. The order is unspecified.
func (r *SessionRegistry) All() []*Session {
	out := make([]*Session, 0, len(r.byNick))
	for _, s := range r.byNick {
		out = append(out, s)
	}
	return out
}

// Nicks returns the nickname of every live session, sorted.
func (r *SessionRegistry) Nicks() []string {
	out := make([]string, 0, len(r.byNick))
	for n := range r.byNick {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
