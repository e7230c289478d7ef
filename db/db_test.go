// ABOUTME: Shared test fixtures for the store
// ABOUTME: In-memory stores, god handles and a small class hierarchy
package db

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openpanel-ng/corestore/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newGod(t *testing.T, store *Store) *Manager {
	t.Helper()
	m := NewManager(store)
	m.EnableGodMode()
	return m
}

// registerTestClasses installs the hierarchy most tests run against:
// User accounts, Domain at the root, Mailbox and Subdomain below it, and a
// free-standing Widget without uniqueness constraints.
func registerTestClasses(t *testing.T, m *Manager) {
	t.Helper()
	for _, def := range []*models.ClassDefinition{
		{
			UUID: "c0000001-0000-4000-8000-000000000001", Name: "User", Version: 1,
			UniqueIn: models.UniqueInClass,
			Fields: map[string]models.FieldDef{
				"name":     {},
				"password": {Type: "password"},
			},
		},
		{
			UUID: "c0000001-0000-4000-8000-000000000002", Name: "Domain", Version: 1,
			UniqueIn: models.UniqueInClass,
			Fields: map[string]models.FieldDef{
				"description": {},
			},
		},
		{
			UUID: "c0000001-0000-4000-8000-000000000003", Name: "Mailbox", Version: 1,
			UniqueIn: models.UniqueInParent,
			Requires: "Domain", ParentRealm: models.RealmEmailSuffix,
			Fields: map[string]models.FieldDef{
				"password": {Type: "password"},
				"quota":    {},
			},
		},
		{
			UUID: "c0000001-0000-4000-8000-000000000004", Name: "Subdomain", Version: 1,
			UniqueIn: models.UniqueInParent,
			Requires: "Domain", ParentRealm: models.RealmDomainSuffix,
			Fields:   map[string]models.FieldDef{},
		},
		{
			UUID: "c0000001-0000-4000-8000-000000000005", Name: "Widget", Version: 1,
			Fields: map[string]models.FieldDef{
				"color": {},
			},
		},
	} {
		require.NoError(t, m.RegisterClass(def), "register %s", def.Name)
	}
}

// createUser makes a User object as god and returns its uuid.
func createUser(t *testing.T, god *Manager, name string) string {
	t.Helper()
	u, err := god.CreateObject("", models.Document{"name": name}, UserClassName, name, false, false)
	require.NoError(t, err)
	return u
}

// loginAs returns a manager acting as the named user. Test users have no
// password digest, so the identity is bound directly.
func loginAs(t *testing.T, store *Store, name string) *Manager {
	t.Helper()
	m := NewManager(store)
	require.NoError(t, m.UserLogin(name))
	return m
}

func TestSchemaBootstrap(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)

	// The class of classes describes itself.
	name, err := god.ClassNameFromUUID(models.ClassClassUUID)
	require.NoError(t, err)
	require.Equal(t, "Class", name)

	// Reopening the same schema is idempotent.
	require.NoError(t, InitSchema(store.conn))
}
