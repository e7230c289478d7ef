// ABOUTME: Per-session manager view over the shared store
// ABOUTME: Carries acting identity, god mode and last-error bookkeeping
package db

import (
	"fmt"

	"go.uber.org/zap"
)

// Manager is a per-session view over a Store: it carries the acting user
// identity and god flag, and records the last error for callers that want a
// message/code pair next to the error itself. A Manager is per-call state for
// one session; it is not safe for concurrent use, but any number of Managers
// may share one Store.
type Manager struct {
	store   *Store
	log     *zap.Logger
	compare DigestFunc

	userID int64
	god    bool

	lastMsg  string
	lastKind Kind
}

// NewManager returns an unauthenticated manager over store.
func NewManager(store *Store) *Manager {
	return &Manager{
		store:   store,
		log:     store.log,
		compare: CompareBcrypt,
		userID:  -1,
	}
}

// SetDigestFunc replaces the password comparison used by Login.
func (m *Manager) SetDigestFunc(fn DigestFunc) {
	m.compare = fn
}

// LastError returns the message and kind recorded by the most recent failing
// call.
func (m *Manager) LastError() (string, Kind) {
	return m.lastMsg, m.lastKind
}

// EnableGodMode elevates the manager: all permission and quota checks are
// bypassed and the acting identity becomes the root id.
func (m *Manager) EnableGodMode() {
	m.userID = 0
	m.god = true
}

// God reports whether god mode is enabled.
func (m *Manager) God() bool { return m.god }

// Logout drops the acting identity.
func (m *Manager) Logout() {
	m.userID = -1
	m.god = false
}

// Credentials is the opaque acting-identity state a session layer saves and
// restores around a request.
type Credentials struct {
	UserID int64
	God    bool
}

// Credentials returns the current acting identity.
func (m *Manager) Credentials() Credentials {
	return Credentials{UserID: m.userID, God: m.god}
}

// SetCredentials restores a previously saved acting identity.
func (m *Manager) SetCredentials(c Credentials) {
	m.userID = c.UserID
	m.god = c.God
}

// fail records and returns a new error of the given kind.
func (m *Manager) fail(k Kind, format string, args ...any) error {
	m.lastMsg = fmt.Sprintf(format, args...)
	m.lastKind = k
	return classFor(k).New("%s", m.lastMsg)
}

// record bookkeeps an already-classed error (typically from the executor).
func (m *Manager) record(err error) error {
	if err == nil {
		return nil
	}
	m.lastMsg = err.Error()
	m.lastKind = KindOf(err)
	return err
}

// userIsGone reports whether the acting user's own object vanished while the
// session was live. God mode never expires this way.
func (m *Manager) userIsGone() error {
	if m.god {
		return nil
	}
	if m.userID < 0 {
		return m.fail(KindLoginFailed, "not authenticated")
	}
	res, err := m.store.run(
		"SELECT /* userIsGone */ id FROM objects WHERE id=? AND deleted=0", m.userID)
	if err != nil {
		return m.record(err)
	}
	if res.Empty() {
		return m.fail(KindLoginFailed, "your User object was changed, please log out")
	}
	return nil
}
