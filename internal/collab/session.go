package collab

import (
	"strings"
	"sync"
)

// SessionState is the lifecycle position of one connection.
type SessionState int

const (
	StateConnected SessionState = iota
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Identity is the verified caller behind a connection. A zero Identity means
// the session trusts the ids carried by join.
type Identity struct {
	UserID    string
	UserName  string
	UserColor string
}

// Session is the server side of one client connection. Its state is guarded
// by the owning Hub's mutex.
type Session struct {
	id       string
	hub      *Hub
	identity Identity
	outbox   chan []byte
	done     chan struct{}
	doneOnce sync.Once

	state     SessionState
	projectID string
	userID    string
}

func (s *Session) ID() string {
	return s.id
}

// Outbox yields frames queued for this connection.
func (s *Session) Outbox() <-chan []byte {
	return s.outbox
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver enqueues frame without blocking.
func (s *Session) Deliver(frame []byte) bool {
	select {
	case s.outbox <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) State() SessionState {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.state
}

// Binding returns the project and user the session joined as.
func (s *Session) Binding() (projectID, userID string) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.projectID, s.userID
}

// Handle applies one decoded client event.
func (s *Session) Handle(event Inbound) {
	s.hub.handle(s, event)
}

// Close runs the implicit leave for a dropped transport. Safe to call more
// than once.
func (s *Session) Close(reason string) {
	s.hub.close(s, reason)
}

// addresses reports whether a presence payload targets the bound project and
// user. Empty ids default to the binding.
func (s *Session) addresses(projectID, userID string) bool {
	projectID = strings.TrimSpace(projectID)
	userID = strings.TrimSpace(userID)
	if projectID != "" && projectID != s.projectID {
		return false
	}
	if userID != "" && userID != s.userID {
		return false
	}
	return true
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}
