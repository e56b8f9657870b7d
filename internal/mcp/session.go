// Package mcp implements the server side of the MCP wire protocol: one
// streaming session per connected agent and a JSON-RPC dispatcher that
// answers handshake, tool-listing, and tool-call requests over it.
package mcp

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTransportClosed reports a write to a session whose consumer is gone.
// Callers must deregister the session instead of retrying.
var ErrTransportClosed = errors.New("session transport closed")

// SessionState tracks the protocol handshake progress of a session.
type SessionState int32

const (
	StateConnected SessionState = iota
	StateInitialized
	StateReady
)

// Event is one named server-push frame destined for a session's stream.
type Event struct {
	Name string
	Data string
}

// Session is one live streaming connection to an agent client.
type Session struct {
	id     string
	events chan Event
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	state SessionState
}

const sessionBuffer = 32

func newSession(id string) *Session {
	return &Session{
		id:     id,
		events: make(chan Event, sessionBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier issued at connect time.
func (s *Session) ID() string { return s.id }

// Events is the stream the transport handler drains.
func (s *Session) Events() <-chan Event { return s.events }

// Done closes when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the handshake state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state > s.state {
		s.state = state
	}
}

// Send queues an event for the consumer without blocking. A closed session
// or a consumer that stopped draining yields ErrTransportClosed.
func (s *Session) Send(name, data string) error {
	select {
	case <-s.done:
		return ErrTransportClosed
	default:
	}
	select {
	case s.events <- Event{Name: name, Data: data}:
		return nil
	case <-s.done:
		return ErrTransportClosed
	default:
		return ErrTransportClosed
	}
}

func (s *Session) close() {
	s.once.Do(func() { close(s.done) })
}

// SessionManager owns the live sessions. In single-consumer mode, the
// default for a single agent client, opening a new session discards all
// previous ones, so the most recent connection is always the authoritative
// route for frames that carry no explicit session id.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	latestID string
	single   bool
	logger   *zap.Logger
}

// NewSessionManager creates an empty manager. single enables the
// supersession behavior described above.
func NewSessionManager(single bool, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		single:   single,
		logger:   logger,
	}
}

// Open creates a new OPEN session and returns it. Identifiers derive from
// the connect timestamp in milliseconds, bumped on collision.
func (m *SessionManager) Open() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.single {
		for id, s := range m.sessions {
			s.close()
			delete(m.sessions, id)
		}
	}

	ms := time.Now().UnixMilli()
	id := strconv.FormatInt(ms, 10)
	for _, taken := m.sessions[id]; taken; _, taken = m.sessions[id] {
		ms++
		id = strconv.FormatInt(ms, 10)
	}

	s := newSession(id)
	m.sessions[id] = s
	m.latestID = id
	m.logger.Info("session opened", zap.String("session", id))
	return s
}

// Get returns the session with the given id.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Latest returns the most recently opened live session.
func (m *SessionManager) Latest() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[m.latestID]
	return s, ok
}

// Close moves a session to CLOSED and deregisters it. Completion, timeout,
// and transport errors all funnel through here.
func (m *SessionManager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.close()
	delete(m.sessions, id)
	if m.latestID == id {
		m.latestID = ""
	}
	m.logger.Info("session closed", zap.String("session", id))
}

// CloseAll closes and deregisters every session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.close()
		delete(m.sessions, id)
	}
	m.latestID = ""
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
