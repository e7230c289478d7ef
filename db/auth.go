// ABOUTME: Authentication entry points for the session layer
// ABOUTME: Password login, pre-validated login and the default bcrypt digest
package db

import (
	"golang.org/x/crypto/bcrypt"
)

// UserClassName is the distinguished class whose instances carry login
// identity and anchor the power mirror.
const UserClassName = "User"

// DigestFunc compares a stored password digest against a supplied cleartext
// password. The store never interprets digests itself.
type DigestFunc func(stored, supplied string) bool

// CompareBcrypt is the default digest comparison.
func CompareBcrypt(stored, supplied string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
}

// HashBcrypt produces a digest suitable for storing in a User object's
// password field.
func HashBcrypt(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Login authenticates username against the stored password digest and binds
// the acting identity on success.
func (m *Manager) Login(username, password string) error {
	m.userID = -1

	row, err := m.lookupUser(username)
	if err != nil {
		return err
	}

	content, err := deserialize(row["content"])
	if err != nil {
		return m.record(ErrBackend.Wrap(err))
	}
	if !m.compare(content.String("password"), password) {
		return m.fail(KindLoginFailed, "username not found or invalid password")
	}

	m.userID = row.Int("id")
	return nil
}

// UserLogin binds an externally verified identity without a password check.
func (m *Manager) UserLogin(username string) error {
	m.userID = -1

	row, err := m.lookupUser(username)
	if err != nil {
		return err
	}

	m.userID = row.Int("id")
	return nil
}

func (m *Manager) lookupUser(username string) (Row, error) {
	classID, err := m.findClassID(m.store, UserClassName)
	if err != nil {
		return nil, m.record(err)
	}
	if classID == 0 {
		return nil, m.fail(KindLoginFailed, "no User class registered")
	}

	res, err := m.store.run(
		"SELECT /* lookupUser */ id, content FROM objects WHERE metaid=? AND class=? AND deleted=0",
		username, classID)
	if err != nil {
		return nil, m.record(err)
	}
	if res.Empty() {
		return nil, m.fail(KindLoginFailed, "username not found or invalid password")
	}
	return res.First(), nil
}
