// ABOUTME: Tests for the flattened fetch and grouped listing paths
// ABOUTME: Requires-chain walking, reference resolution, redaction and paging
package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpanel-ng/corestore/models"
)

func TestFetchWalksRequiresChain(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	domainUUID, err := god.CreateObject("", models.Document{"description": "root"},
		"Domain", "acme.com", false, false)
	require.NoError(t, err)
	boxUUID, err := god.CreateObject(domainUUID, models.Document{"quota": "1G"},
		"Mailbox", "bob@acme.com", false, false)
	require.NoError(t, err)

	view, err := god.FetchObject(boxUUID, false)
	require.NoError(t, err)

	// The object's own class comes first, ancestors follow.
	require.Equal(t, "Mailbox", view.Class)
	require.Len(t, view.Classes, 2)

	box := view.Leaf()
	require.Equal(t, "bob@acme.com", box.String("metaid"))
	require.Equal(t, domainUUID, box.String("parentid"))

	domain, ok := view.Classes["Domain"].(models.Document)
	require.True(t, ok)
	require.Equal(t, "root", domain.String("description"))
}

func TestFetchRedactsPasswords(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	domainUUID, err := god.CreateObject("", nil, "Domain", "acme.com", false, false)
	require.NoError(t, err)
	boxUUID, err := god.CreateObject(domainUUID, models.Document{"password": "hunter2"},
		"Mailbox", "bob@acme.com", false, false)
	require.NoError(t, err)

	createUser(t, god, "alice")
	alice := loginAs(t, store, "alice")

	// Regular fetches blank out password fields.
	view, err := alice.FetchObject(boxUUID, false)
	require.NoError(t, err)
	require.Equal(t, "", view.Leaf().String("password"))

	// God and module fetches see the stored digest.
	view, err = god.FetchObject(boxUUID, false)
	require.NoError(t, err)
	require.Equal(t, "hunter2", view.Leaf().String("password"))
	view, err = alice.FetchObject(boxUUID, true)
	require.NoError(t, err)
	require.Equal(t, "hunter2", view.Leaf().String("password"))
}

func TestFetchResolvesReferences(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	require.NoError(t, god.RegisterClass(&models.ClassDefinition{
		UUID: "c0000003-0000-4000-8000-000000000001", Name: "Alias", Version: 1,
		UniqueIn: models.UniqueInClass,
		Fields: map[string]models.FieldDef{
			"target": {Type: "ref", RefClass: "Domain", RefLabel: "description", Nick: "targetname"},
		},
	}))

	_, err := god.CreateObject("", models.Document{"description": "the target"},
		"Domain", "acme.com", false, false)
	require.NoError(t, err)

	// References may be given by metaid and are canonicalized to the uuid.
	aliasUUID, err := god.CreateObject("", models.Document{"target": "acme.com"},
		"Alias", "a1", false, false)
	require.NoError(t, err)

	view, err := god.FetchObject(aliasUUID, true)
	require.NoError(t, err)
	require.Equal(t, "the target", view.Leaf().String("targetname"))

	// A dangling reference fails creation outright.
	_, err = god.CreateObject("", models.Document{"target": "gone.com"},
		"Alias", "a2", false, false)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestWorldReadableBypassesPowerGate(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	require.NoError(t, god.RegisterClass(&models.ClassDefinition{
		UUID: "c0000006-0000-4000-8000-000000000001", Name: "Notice", Version: 1,
		UniqueIn: models.UniqueInClass, WorldReadable: true,
		Fields: map[string]models.FieldDef{
			"text": {},
		},
	}))

	createUser(t, god, "alice")
	alice := loginAs(t, store, "alice")
	_, err := alice.CreateObject("", models.Document{"name": "bob"},
		UserClassName, "bob", false, false)
	require.NoError(t, err)
	bob := loginAs(t, store, "bob")

	noticeUUID, err := alice.CreateObject("", models.Document{"text": "maintenance at noon"},
		"Notice", "motd", false, false)
	require.NoError(t, err)
	widgetUUID, err := alice.CreateObject("", nil, "Widget", "private", false, false)
	require.NoError(t, err)

	// bob has no power over alice, but the class is world readable.
	view, err := bob.FetchObject(noticeUUID, false)
	require.NoError(t, err)
	require.Equal(t, "maintenance at noon", view.Leaf().String("text"))

	found, err := bob.FindObject("", "Notice", "", "motd")
	require.NoError(t, err)
	require.Equal(t, noticeUUID, found)

	// An ordinary class stays gated.
	_, err = bob.FetchObject(widgetUUID, false)
	require.Equal(t, KindPermissionDenied, KindOf(err))
	_, err = bob.FindObject("", "Widget", "", "private")
	require.Equal(t, KindPermissionDenied, KindOf(err))
}

func TestFetchMergesChildListings(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)

	require.NoError(t, god.RegisterClass(&models.ClassDefinition{
		UUID: "c0000004-0000-4000-8000-000000000001", Name: "Folder", Version: 1,
		UniqueIn: models.UniqueInClass, AllChildren: true,
		Fields: map[string]models.FieldDef{
			"label": {},
		},
	}))
	require.NoError(t, god.RegisterClass(&models.ClassDefinition{
		UUID: "c0000004-0000-4000-8000-000000000002", Name: "Item", Version: 1,
		UniqueIn: models.UniqueInParent, Requires: "Folder",
		Fields: map[string]models.FieldDef{
			"body": {},
		},
	}))
	require.NoError(t, god.RegisterClass(&models.ClassDefinition{
		UUID: "c0000004-0000-4000-8000-000000000003", Name: "Note", Version: 1,
		UniqueIn: models.UniqueInParent, Requires: "Folder",
		Fields: map[string]models.FieldDef{
			"text": {},
		},
	}))

	folderUUID, err := god.CreateObject("", models.Document{"label": "inbox"},
		"Folder", "inbox", false, false)
	require.NoError(t, err)
	for _, id := range []string{"i1", "i2"} {
		_, err := god.CreateObject(folderUUID, nil, "Item", id, false, false)
		require.NoError(t, err)
	}
	_, err = god.CreateObject(folderUUID, nil, "Note", "n1", false, false)
	require.NoError(t, err)

	// allchildren folds every child class's listing into the entry.
	view, err := god.FetchObject(folderUUID, false)
	require.NoError(t, err)
	folder := view.Leaf()
	items, ok := folder["Item"].(models.Document)
	require.True(t, ok)
	require.Len(t, items, 2)
	require.Contains(t, items, "i1")
	notes, ok := folder["Note"].(models.Document)
	require.True(t, ok)
	require.Contains(t, notes, "n1")

	// childrendep folds in only the named class.
	require.NoError(t, god.RegisterClass(&models.ClassDefinition{
		UUID: "c0000004-0000-4000-8000-000000000004", Name: "Binder", Version: 1,
		UniqueIn: models.UniqueInClass, ChildrenDep: "Sheet",
		Fields: map[string]models.FieldDef{},
	}))
	require.NoError(t, god.RegisterClass(&models.ClassDefinition{
		UUID: "c0000004-0000-4000-8000-000000000005", Name: "Sheet", Version: 1,
		UniqueIn: models.UniqueInParent, Requires: "Binder",
		Fields: map[string]models.FieldDef{},
	}))
	require.NoError(t, god.RegisterClass(&models.ClassDefinition{
		UUID: "c0000004-0000-4000-8000-000000000006", Name: "Memo", Version: 1,
		UniqueIn: models.UniqueInParent, Requires: "Binder",
		Fields: map[string]models.FieldDef{},
	}))

	binderUUID, err := god.CreateObject("", nil, "Binder", "b1", false, false)
	require.NoError(t, err)
	_, err = god.CreateObject(binderUUID, nil, "Sheet", "s1", false, false)
	require.NoError(t, err)
	_, err = god.CreateObject(binderUUID, nil, "Memo", "m1", false, false)
	require.NoError(t, err)

	view, err = god.FetchObject(binderUUID, false)
	require.NoError(t, err)
	binder := view.Leaf()
	sheets, ok := binder["Sheet"].(models.Document)
	require.True(t, ok)
	require.Contains(t, sheets, "s1")
	_, present := binder["Memo"]
	require.False(t, present, "only the declared dependent class is merged")
}

func TestListObjectsGroupsAndPages(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	domainUUID, err := god.CreateObject("", nil, "Domain", "acme.com", false, false)
	require.NoError(t, err)
	for _, id := range []string{"a@acme.com", "b@acme.com", "c@acme.com"} {
		_, err := god.CreateObject(domainUUID, nil, "Mailbox", id, false, false)
		require.NoError(t, err)
	}

	listing, err := god.ListObjects(ListQuery{ParentUUID: domainUUID})
	require.NoError(t, err)
	group, ok := listing["Mailbox"].(models.Document)
	require.True(t, ok)
	require.Len(t, group, 3)
	require.Contains(t, group, "a@acme.com")

	// Paging is ordered by metaid.
	listing, err = god.ListObjects(ListQuery{ParentUUID: domainUUID, Count: 2, Offset: 1})
	require.NoError(t, err)
	group = listing["Mailbox"].(models.Document)
	require.Len(t, group, 2)
	require.Contains(t, group, "b@acme.com")
	require.Contains(t, group, "c@acme.com")
}

func TestListObjectsHonorsPermissions(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	createUser(t, god, "alice")
	alice := loginAs(t, store, "alice")
	_, err := alice.CreateObject("", models.Document{"name": "bob"},
		UserClassName, "bob", false, false)
	require.NoError(t, err)
	bob := loginAs(t, store, "bob")

	_, err = alice.CreateObject("", nil, "Widget", "alices", false, false)
	require.NoError(t, err)
	_, err = bob.CreateObject("", nil, "Widget", "bobs", false, false)
	require.NoError(t, err)

	// bob sees only his own widget; alice dominates bob and sees both.
	listing, err := bob.ListObjects(ListQuery{Classes: []string{"Widget"}})
	require.NoError(t, err)
	group, _ := listing["Widget"].(models.Document)
	require.Len(t, group, 1)
	require.Contains(t, group, "bobs")

	listing, err = alice.ListObjects(ListQuery{Classes: []string{"Widget"}})
	require.NoError(t, err)
	group, _ = listing["Widget"].(models.Document)
	require.Len(t, group, 2)
}

func TestApplyFieldWhiteList(t *testing.T) {
	store := newTestStore(t)
	god := newGod(t, store)
	registerTestClasses(t, god)

	_, err := god.CreateObject("", models.Document{"color": "red"}, "Widget", "w1", false, false)
	require.NoError(t, err)

	listing, err := god.ListObjects(ListQuery{Classes: []string{"Widget"}})
	require.NoError(t, err)
	require.NoError(t, god.ApplyFieldWhiteList(listing, []string{"nothing"}))

	entry := listing["Widget"].(models.Document)["w1"].(models.Document)
	_, present := entry["color"]
	require.False(t, present, "non-whitelisted field must be stripped")
	require.Equal(t, "w1", entry.String("metaid"), "identity keys survive")
}
