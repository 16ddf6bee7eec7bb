// Package handler provides request handling for the salesdb protocol.
//
// This package contains session management and the per-opcode dispatch
// that decodes a frame, calls the storage engine and encodes the result.
//
// There is no session resumption. A session lives as long as its
// connection; after a reconnect the client must log in again.
package handler

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/salesdb/internal/logging"
	"github.com/xtxerr/salesdb/internal/wire"
)

var log = logging.Component("session")

// =============================================================================
// Session
// =============================================================================

// Session is the per-connection state: the login and the context every
// request on the connection runs under.
//
// Session is safe for concurrent use.
type Session struct {
	// Immutable fields (no lock needed)
	ID        string
	Remote    string
	RemoteIP  string
	CreatedAt time.Time

	conn *wire.Conn

	// Login state - protected by mu
	mu   sync.RWMutex
	user string

	// ctx is cancelled when the connection goes away, releasing blocked waits.
	ctx    context.Context
	cancel context.CancelFunc

	inflight sync.WaitGroup
	requests atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	onClose   func(*Session)
}

// NewSession creates a session for an accepted connection. The session
// context keeps the values of parent but is cancelled only by Close, so a
// server shutdown reaches requests through the closed connection.
func NewSession(parent context.Context, remote string, conn *wire.Conn) *Session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s := &Session{
		ID:        uuid.NewString(),
		Remote:    remote,
		RemoteIP:  extractIP(remote),
		CreatedAt: time.Now(),
		conn:      conn,
		cancel:    cancel,
	}
	s.ctx = logging.ContextWithSessionID(ctx, s.ID)
	return s
}

// Context returns the session context. It is done once the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// =============================================================================
// Login State
// =============================================================================

// SetUser marks the session as logged in.
func (s *Session) SetUser(user string) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// User returns the logged-in user, or "".
func (s *Session) User() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// IsAuthenticated returns true after a successful LOGIN.
func (s *Session) IsAuthenticated() bool {
	return s.User() != ""
}

// =============================================================================
// Send Operations
// =============================================================================

// Send writes a response frame. Concurrent handlers may call it at once;
// the transport serializes them.
func (s *Session) Send(f *wire.Frame) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	return s.conn.Send(f)
}

// Receive reads the next request frame. Only the connection loop calls it.
func (s *Session) Receive() (*wire.Frame, error) {
	return s.conn.Receive()
}

// Go runs fn as a tracked in-flight request.
func (s *Session) Go(fn func()) {
	s.inflight.Add(1)
	s.requests.Add(1)
	go func() {
		defer s.inflight.Done()
		fn()
	}()
}

// Wait blocks until every in-flight request has returned.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Requests returns how many requests the session has received.
func (s *Session) Requests() int64 {
	return s.requests.Load()
}

// =============================================================================
// Close
// =============================================================================

// Close cancels the session context and closes the connection.
// This is idempotent - calling it multiple times has no additional effect.
func (s *Session) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		closeErr = s.conn.Close()

		if s.onClose != nil {
			s.onClose(s)
		}
		log.Debug("session closed", "session_id", s.ID, "requests", s.requests.Load())
	})

	return closeErr
}

// IsClosed returns true if the session is closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// =============================================================================
// Session Manager
// =============================================================================

// SessionManager tracks live sessions so shutdown can close them.
//
// SessionManager is safe for concurrent use.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// CreateSession creates and registers a session. The session removes
// itself when closed.
func (sm *SessionManager) CreateSession(ctx context.Context, remote string, conn *wire.Conn) *Session {
	s := NewSession(ctx, remote, conn)
	s.onClose = sm.remove

	sm.mu.Lock()
	sm.sessions[s.ID] = s
	sm.mu.Unlock()

	return s
}

func (sm *SessionManager) remove(s *Session) {
	sm.mu.Lock()
	delete(sm.sessions, s.ID)
	sm.mu.Unlock()
}

// Get returns a session by ID.
func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll closes every live session.
func (sm *SessionManager) CloseAll() {
	sm.mu.RLock()
	all := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		all = append(all, s)
	}
	sm.mu.RUnlock()

	for _, s := range all {
		s.Close()
	}
	if len(all) > 0 {
		log.Info("closed sessions", "count", len(all))
	}
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
