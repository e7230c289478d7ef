// ABOUTME: Database schema definitions and bootstrap
// ABOUTME: Creates the five store tables and the root Class class row
package db

import (
	"database/sql"
	"encoding/json"

	"github.com/openpanel-ng/corestore/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL,
	class INTEGER NOT NULL,
	metaid TEXT,
	parent INTEGER NOT NULL DEFAULT 0,
	owner INTEGER NOT NULL DEFAULT 0,
	uniquecontext INTEGER,
	content TEXT,
	deleted INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_objects_uuid ON objects(uuid) WHERE deleted=0;
CREATE INDEX IF NOT EXISTS idx_objects_uuid_all ON objects(uuid);
CREATE INDEX IF NOT EXISTS idx_objects_class ON objects(class);
CREATE INDEX IF NOT EXISTS idx_objects_parent ON objects(parent);
CREATE INDEX IF NOT EXISTS idx_objects_owner ON objects(owner);
CREATE UNIQUE INDEX IF NOT EXISTS idx_objects_uniqueness
	ON objects(uniquecontext, metaid)
	WHERE deleted=0 AND metaid IS NOT NULL AND uniquecontext IS NOT NULL;

CREATE TABLE IF NOT EXISTS powermirror (
	userid INTEGER NOT NULL,
	powerid INTEGER NOT NULL,
	PRIMARY KEY (userid, powerid)
);

CREATE INDEX IF NOT EXISTS idx_powermirror_powerid ON powermirror(powerid);

CREATE TABLE IF NOT EXISTS classquota (
	userid INTEGER NOT NULL,
	classid INTEGER NOT NULL,
	quota INTEGER NOT NULL,
	PRIMARY KEY (userid, classid)
);

CREATE TABLE IF NOT EXISTS specialquota (
	userid INTEGER NOT NULL,
	tag TEXT NOT NULL,
	quota INTEGER NOT NULL,
	warning INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (userid, tag)
);

CREATE TABLE IF NOT EXISTS specialquotausage (
	userid INTEGER NOT NULL,
	tag TEXT NOT NULL,
	usage INTEGER NOT NULL,
	PRIMARY KEY (userid, tag)
);
`

// InitSchema creates the store tables and seeds the class-of-classes row.
// Idempotent; safe to run on every open.
func InitSchema(conn *sql.DB) error {
	if _, err := conn.Exec(schema); err != nil {
		return err
	}

	// The root "Class" class is an object of itself: exactly one row has
	// class == 1, and that row is id 1.
	root := models.ClassDefinition{
		UUID:     models.ClassClassUUID,
		Name:     "Class",
		Version:  1,
		UniqueIn: models.UniqueInClass,
	}
	content, err := json.Marshal(&root)
	if err != nil {
		return err
	}

	_, err = conn.Exec(`
		INSERT INTO objects (id, uuid, class, metaid, parent, owner, uniquecontext, content)
		SELECT 1, ?, 1, 'Class', 0, 0, 1, ?
		WHERE NOT EXISTS (SELECT 1 FROM objects WHERE id = 1)`,
		models.ClassClassUUID, string(content))
	return err
}
