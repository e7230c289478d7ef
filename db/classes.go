// ABOUTME: Class registry and metadata cache
// ABOUTME: Cached class lookups plus module-driven class registration
package db

import (
	"encoding/json"

	"github.com/openpanel-ng/corestore/models"
)

// findClassID resolves a class name to its local id; 0 means not registered.
// Cached like the reverse lookup; RegisterClass refreshes the entry when an
// upgrade replaces the local id.
func (m *Manager) findClassID(x runner, name string) (int64, error) {
	if id, ok := m.store.cachedClassID(name); ok {
		return id, nil
	}

	res, err := x.run(
		"SELECT /* findClassID */ id FROM objects WHERE class=? AND metaid=? AND deleted=0",
		models.ClassOfClasses, name)
	if err != nil {
		return 0, err
	}
	if res.Empty() {
		return 0, nil
	}

	id := res.First().Int("id")
	m.store.cacheClassID(name, id)
	return id, nil
}

// classNameForID resolves a local class id to the canonical class name.
// Cached: class identity is read on every operation.
func (m *Manager) classNameForID(x runner, classID int64) (string, error) {
	if name, ok := m.store.cachedClassName(classID); ok {
		return name, nil
	}

	res, err := x.run(
		"SELECT /* classNameForID */ metaid FROM objects WHERE class=? AND id=?",
		models.ClassOfClasses, classID)
	if err != nil {
		return "", err
	}
	if res.Empty() {
		return "", ErrNotFound.New("class id %d not registered", classID)
	}

	name := res.First()["metaid"]
	m.store.cacheClassName(classID, name)
	return name, nil
}

// classDef returns the decoded class definition for a local class id.
// Cached; populated lazily from the class object's content.
func (m *Manager) classDef(x runner, classID int64) (*models.ClassDefinition, error) {
	if def, ok := m.store.cachedClassDef(classID); ok {
		return def, nil
	}

	res, err := x.run(
		"SELECT /* classDef */ content FROM objects WHERE id=?", classID)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, ErrNotFound.New("class id %d not found", classID)
	}

	def, err := models.ParseClassDefinition([]byte(res.First()["content"]))
	if err != nil {
		return nil, ErrSchema.New("class %d has a malformed definition: %v", classID, err)
	}

	m.store.cacheClassDef(classID, def)
	return def, nil
}

// ClassNameFromUUID finds the class name given the uuid of a class or of an
// instance of it.
func (m *Manager) ClassNameFromUUID(uuid string) (string, error) {
	res, err := m.store.run(
		"SELECT /* ClassNameFromUUID */ class, metaid FROM objects WHERE uuid=? ORDER BY deleted LIMIT 1", uuid)
	if err != nil {
		return "", m.record(err)
	}
	if res.Empty() {
		return "", m.fail(KindNotFound, "object %s not found", uuid)
	}

	row := res.First()
	if row.Int("class") == models.ClassOfClasses {
		return row["metaid"], nil
	}
	name, err := m.classNameForID(m.store, row.Int("class"))
	if err != nil {
		return "", m.record(err)
	}
	return name, nil
}

// RegisterClass registers (or upgrades) a class definition. Re-registering
// the same uuid at the same or an older version is a no-op; an existing name
// under a different uuid is rejected. A genuinely new version inserts a fresh
// class object and bulk-reparents existing instances onto the new local id.
func (m *Manager) RegisterClass(def *models.ClassDefinition) error {
	if def.UUID == "" {
		return m.fail(KindInvalidArgument, "class needs a uuid")
	}
	if def.Version <= 0 {
		return m.fail(KindInvalidArgument, "class needs a version")
	}
	if def.Name == "" {
		return m.fail(KindInvalidArgument, "class needs a name")
	}
	if def.Indexing == "manual" && def.UniqueIn == models.UniqueNowhere {
		return m.fail(KindInvalidArgument, "manual indexing needs a uniqueness context")
	}

	content, err := json.Marshal(def)
	if err != nil {
		return m.record(ErrSchema.Wrap(err))
	}

	res, err := m.store.run(
		"SELECT /* RegisterClass */ id, uuid, content FROM objects WHERE class=? AND metaid=? AND deleted=0",
		models.ClassOfClasses, def.Name)
	if err != nil {
		return m.record(err)
	}

	var oldID int64
	if !res.Empty() {
		row := res.First()
		if row["uuid"] != def.UUID {
			return m.fail(KindInvalidArgument,
				"uuid mismatch for class %s: registered %s, offered %s",
				def.Name, row["uuid"], def.UUID)
		}

		old, err := models.ParseClassDefinition([]byte(row["content"]))
		if err != nil {
			return m.record(ErrSchema.New("registered class %s is malformed: %v", def.Name, err))
		}
		if old.Version > def.Version {
			return m.fail(KindInvalidArgument,
				"class %s: trying to update version %d to older version %d",
				def.Name, old.Version, def.Version)
		}
		if old.Version == def.Version {
			return nil
		}
		oldID = row.Int("id")
	}

	err = m.store.transact(func(x runner) error {
		if oldID != 0 {
			if _, err := x.run(
				"UPDATE /* RegisterClass */ objects SET deleted=1 WHERE id=?", oldID); err != nil {
				return err
			}
		}

		ins, err := x.run(
			"INSERT /* RegisterClass */ INTO objects (uuid, class, metaid, parent, owner, uniquecontext, content) VALUES (?, ?, ?, 0, 0, ?, ?)",
			def.UUID, models.ClassOfClasses, def.Name, models.ClassOfClasses, string(content))
		if err != nil {
			return err
		}

		if oldID != 0 {
			if _, err := x.run(
				"UPDATE /* RegisterClass */ objects SET class=? WHERE class=?",
				ins.InsertID, oldID); err != nil {
				return err
			}
		}

		m.store.dropClassCaches(oldID)
		m.store.cacheClassName(ins.InsertID, def.Name)
		m.store.cacheClassDef(ins.InsertID, def)
		m.store.cacheClassID(def.Name, ins.InsertID)
		return nil
	})
	return m.record(err)
}
