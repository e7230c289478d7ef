// ABOUTME: Tests for object lifecycle operations
// ABOUTME: Creation rules, uniqueness, parent constraints, delete semantics, lookups
package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpanel-ng/corestore/models"
)

func TestCreateAndFetchObject(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	domainUUID, err := god.CreateObject("", models.Document{"description": "test domain"},
		"Domain", "acme.com", false, false)
	require.NoError(t, err)
	require.NotEmpty(t, domainUUID)

	view, err := god.FetchObject(domainUUID, false)
	require.NoError(t, err)
	require.Equal(t, "Domain", view.Class)

	entry := view.Leaf()
	require.Equal(t, "test domain", entry.String("description"))
	require.Equal(t, "acme.com", entry.String("metaid"))
	require.Equal(t, "acme.com", entry.String("id"))
	require.Equal(t, domainUUID, entry.String("uuid"))
}

func TestCreateUnknownClassAndMember(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	_, err := god.CreateObject("", nil, "Gadget", "g1", false, false)
	require.Equal(t, KindNotFound, KindOf(err))

	_, err = god.CreateObject("", models.Document{"nosuchfield": "x"}, "Domain", "d1.com", false, false)
	require.Equal(t, KindInvalidArgument, KindOf(err))

	// Reserved identity fields are stripped, not rejected.
	u, err := god.CreateObject("", models.Document{"uuid": "ignored", "description": "ok"},
		"Domain", "d2.com", false, false)
	require.NoError(t, err)
	view, err := god.FetchObject(u, false)
	require.NoError(t, err)
	require.Equal(t, u, view.Leaf().String("uuid"))
}

func TestMetaIDUniquenessAndReuseAfterDelete(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	first, err := god.CreateObject("", nil, "Domain", "acme.com", false, false)
	require.NoError(t, err)

	_, err = god.CreateObject("", nil, "Domain", "acme.com", false, false)
	require.Equal(t, KindAlreadyExists, KindOf(err))

	require.NoError(t, god.DeleteObject(first, false, false))

	// The deleted row stays behind but no longer blocks the id.
	second, err := god.CreateObject("", nil, "Domain", "acme.com", false, false)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestUniqueClassSharesContext(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	// Alpha and Beta borrow Domain's uniqueness context.
	require.NoError(t, god.RegisterClass(&models.ClassDefinition{
		UUID: "c0000005-0000-4000-8000-000000000001", Name: "Alpha", Version: 1,
		UniqueIn: models.UniqueInClass, UniqueClass: "Domain",
		Fields: map[string]models.FieldDef{},
	}))
	require.NoError(t, god.RegisterClass(&models.ClassDefinition{
		UUID: "c0000005-0000-4000-8000-000000000002", Name: "Beta", Version: 1,
		UniqueIn: models.UniqueInClass, UniqueClass: "Domain",
		Fields: map[string]models.FieldDef{},
	}))

	_, err := god.CreateObject("", nil, "Alpha", "shared", false, false)
	require.NoError(t, err)

	// The same id collides across classes sharing the context, including
	// the context class itself.
	_, err = god.CreateObject("", nil, "Beta", "shared", false, false)
	require.Equal(t, KindAlreadyExists, KindOf(err))
	_, err = god.CreateObject("", nil, "Domain", "shared", false, false)
	require.Equal(t, KindAlreadyExists, KindOf(err))

	_, err = god.CreateObject("", nil, "Beta", "elsewhere", false, false)
	require.NoError(t, err)
}

func TestRequiresAndParentRealm(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	domainUUID, err := god.CreateObject("", nil, "Domain", "acme.com", false, false)
	require.NoError(t, err)

	// A Mailbox needs a Domain parent.
	_, err = god.CreateObject("", nil, "Mailbox", "bob@acme.com", false, false)
	require.Equal(t, KindInvalidArgument, KindOf(err))

	// The mailbox id must fit into the parent domain.
	_, err = god.CreateObject(domainUUID, nil, "Mailbox", "bob@other.com", false, false)
	require.Equal(t, KindInvalidArgument, KindOf(err))

	_, err = god.CreateObject(domainUUID, nil, "Mailbox", "bob@acme.com", false, false)
	require.NoError(t, err)

	// Subdomains use the dot boundary instead.
	_, err = god.CreateObject(domainUUID, nil, "Subdomain", "mail.acme.com", false, false)
	require.NoError(t, err)
	_, err = god.CreateObject(domainUUID, nil, "Subdomain", "notacme.com", false, false)
	require.Equal(t, KindInvalidArgument, KindOf(err))

	// A class without requires refuses a parent.
	_, err = god.CreateObject(domainUUID, nil, "Widget", "w1", false, false)
	require.Equal(t, KindInvalidArgument, KindOf(err))
}

func TestCheckDomainSuffix(t *testing.T) {
	cases := []struct {
		child, parent string
		sep           byte
		want          bool
	}{
		{"mail.acme.com", "acme.com", '.', true},
		{"acme.com", "acme.com", '.', true},
		{"ACME.com", "acme.com", '.', true},
		{"notacme.com", "acme.com", '.', false},
		{"acme.com", "mail.acme.com", '.', false},
		{"bob@acme.com", "acme.com", '@', true},
		{"bob.acme.com", "acme.com", '@', false},
		{"", "acme.com", '.', false},
	}
	for _, c := range cases {
		if got := checkDomainSuffix(c.child, c.parent, c.sep); got != c.want {
			t.Errorf("checkDomainSuffix(%q, %q, %q) = %v, want %v",
				c.child, c.parent, string(c.sep), got, c.want)
		}
	}
}

func TestPermissionCheckModeCreatesNothing(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	marker, err := god.CreateObject("", nil, "Domain", "dry.com", true, false)
	require.NoError(t, err)
	require.Equal(t, CreateAllowed, marker)

	_, err = god.FindObject("", "Domain", "", "dry.com")
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestUpdateObjectReplacesContent(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	u, err := god.CreateObject("", models.Document{"description": "before", "color": ""},
		"Widget", "w1", false, false)
	require.Equal(t, KindInvalidArgument, KindOf(err))

	u, err = god.CreateObject("", models.Document{"color": "red"}, "Widget", "w1", false, false)
	require.NoError(t, err)

	// Update replaces the full member set, it does not merge.
	require.NoError(t, god.UpdateObject(models.Document{}, u, false, false, false))
	view, err := god.FetchObject(u, false)
	require.NoError(t, err)
	_, present := view.Leaf()["color"]
	require.False(t, present)
}

func TestDeleteSemantics(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	aliceUUID := createUser(t, god, "alice")
	alice := loginAs(t, store, "alice")

	widgetUUID, err := alice.CreateObject("", models.Document{"color": "blue"}, "Widget", "w1", false, false)
	require.NoError(t, err)

	// A user still owning objects cannot be deleted.
	err = god.DeleteObject(aliceUUID, false, false)
	require.Equal(t, KindInvalidArgument, KindOf(err))

	// And nobody deletes themselves.
	err = alice.DeleteObject(aliceUUID, false, false)
	require.Equal(t, KindInvalidArgument, KindOf(err))

	require.NoError(t, alice.DeleteObject(widgetUUID, false, false))
	deleteable, err := god.IsDeleteable(aliceUUID)
	require.NoError(t, err)
	require.True(t, deleteable)
	require.NoError(t, god.DeleteObject(aliceUUID, false, false))

	// Deleting an already-gone object succeeds.
	require.NoError(t, god.DeleteObject(widgetUUID, false, false))

	// Deleted objects can no longer be fetched.
	_, err = god.FetchObject(widgetUUID, false)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestFindObjectPredicates(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	domainUUID, err := god.CreateObject("", nil, "Domain", "acme.com", false, false)
	require.NoError(t, err)
	boxUUID, err := god.CreateObject(domainUUID, nil, "Mailbox", "bob@acme.com", false, false)
	require.NoError(t, err)

	_, err = god.FindObject("", "", "", "")
	require.Equal(t, KindInvalidArgument, KindOf(err))

	found, err := god.FindObject("", "Mailbox", "", "bob@acme.com")
	require.NoError(t, err)
	require.Equal(t, boxUUID, found)

	found, err = god.FindObject(domainUUID, "", "", "bob@acme.com")
	require.NoError(t, err)
	require.Equal(t, boxUUID, found)

	parent, err := god.FindParent(boxUUID)
	require.NoError(t, err)
	require.Equal(t, domainUUID, parent)
}

func TestListObjectTreeLeafFirst(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	domainUUID, err := god.CreateObject("", nil, "Domain", "acme.com", false, false)
	require.NoError(t, err)
	subUUID, err := god.CreateObject(domainUUID, nil, "Subdomain", "mail.acme.com", false, false)
	require.NoError(t, err)
	boxUUID, err := god.CreateObject(domainUUID, nil, "Mailbox", "bob@acme.com", false, false)
	require.NoError(t, err)

	uuids, err := god.ListObjectTree(domainUUID)
	require.NoError(t, err)
	require.Len(t, uuids, 3)
	require.Equal(t, domainUUID, uuids[len(uuids)-1], "root must come last")
	require.Contains(t, uuids[:2], subUUID)
	require.Contains(t, uuids[:2], boxUUID)

	// Deleting in listed order leaves no dangling references.
	for _, u := range uuids {
		require.NoError(t, god.DeleteObject(u, false, false))
	}
}

func TestChown(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	createUser(t, god, "alice")
	bobUUID := createUser(t, god, "bob")
	alice := loginAs(t, store, "alice")

	widgetUUID, err := alice.CreateObject("", nil, "Widget", "w1", false, false)
	require.NoError(t, err)

	domainUUID, err := alice.CreateObject("", nil, "Domain", "acme.com", false, false)
	require.NoError(t, err)
	childUUID, err := alice.CreateObject(domainUUID, nil, "Mailbox", "a@acme.com", false, false)
	require.NoError(t, err)

	// Parented objects and parents of others must be chowned higher up.
	err = god.Chown(childUUID, bobUUID)
	require.Equal(t, KindInvalidArgument, KindOf(err))
	err = god.Chown(domainUUID, bobUUID)
	require.Equal(t, KindInvalidArgument, KindOf(err))

	require.NoError(t, god.Chown(widgetUUID, bobUUID))

	bob := loginAs(t, store, "bob")
	ok, err := bob.HasPower(widgetUUID)
	require.NoError(t, err)
	require.True(t, ok)
}
