// ABOUTME: Token-based session registry over the object store
// ABOUTME: Each session owns an authenticated db.Manager on the shared backend
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/openpanel-ng/corestore/db"
)

// Session pairs an opaque token with an authenticated store handle.
type Session struct {
	Token    string
	Manager  *db.Manager
	LastUsed time.Time
}

// Registry hands out sessions and resolves tokens back to their manager.
// All methods are safe for concurrent use; the underlying store serializes
// access on its own.
type Registry struct {
	store *db.Store
	log   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry over the given store.
func NewRegistry(store *db.Store, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		store:    store,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Open authenticates the user and returns the token of a fresh session.
func (r *Registry) Open(username, password string) (string, error) {
	m := db.NewManager(r.store)
	if err := m.Login(username, password); err != nil {
		return "", err
	}
	return r.admit(m), nil
}

// OpenTrusted creates a session for the user without a password check. The
// caller vouches for the identity, typically after external authentication.
func (r *Registry) OpenTrusted(username string) (string, error) {
	m := db.NewManager(r.store)
	if err := m.UserLogin(username); err != nil {
		return "", err
	}
	return r.admit(m), nil
}

// OpenGod creates an unrestricted session.
func (r *Registry) OpenGod() string {
	m := db.NewManager(r.store)
	m.EnableGodMode()
	return r.admit(m)
}

func (r *Registry) admit(m *db.Manager) string {
	token := ulid.MustNew(ulid.Now(), rand.Reader).String()
	r.mu.Lock()
	r.sessions[token] = &Session{Token: token, Manager: m, LastUsed: time.Now()}
	r.mu.Unlock()
	r.log.Debug("session opened", zap.String("token", token))
	return token
}

// Resume returns the manager behind a token and refreshes its idle clock.
// Unknown tokens return a login failure.
func (r *Registry) Resume(token string) (*db.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		return nil, db.ErrLoginFailed.New("no such session")
	}
	s.LastUsed = time.Now()
	return s.Manager, nil
}

// Close logs the session out and forgets its token. Closing an unknown
// token is a no-op.
func (r *Registry) Close(token string) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if ok {
		delete(r.sessions, token)
	}
	r.mu.Unlock()
	if ok {
		s.Manager.Logout()
		r.log.Debug("session closed", zap.String("token", token))
	}
}

// Sweep drops every session idle for longer than maxIdle and reports how
// many were removed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	r.mu.Lock()
	var stale []*Session
	for token, s := range r.sessions {
		if s.LastUsed.Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, token)
		}
	}
	r.mu.Unlock()
	for _, s := range stale {
		s.Manager.Logout()
	}
	if len(stale) > 0 {
		r.log.Debug("swept idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
