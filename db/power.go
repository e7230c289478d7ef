// ABOUTME: Permission engine over the power mirror table
// ABOUTME: Materialized ownership closure giving O(1) has-power checks
package db

// hasPower reports whether user uid may act on object oid: true when they are
// the same object, when uid is the direct owner, or when the mirror holds a
// row mapping the object's owner to uid. The closure is materialized at user
// creation time, never recomputed by traversal here.
func (m *Manager) hasPower(x runner, oid, uid int64) (bool, error) {
	if oid == uid {
		return true, nil
	}

	res, err := x.run("SELECT /* hasPower */ owner FROM objects WHERE id=?", oid)
	if err != nil {
		return false, err
	}
	if res.Empty() {
		return false, nil
	}

	owner := res.First().Int("owner")
	if owner == uid {
		return true, nil
	}

	res, err = x.run(
		"SELECT /* hasPower */ userid FROM powermirror WHERE userid=? AND powerid=?",
		owner, uid)
	if err != nil {
		return false, err
	}
	return !res.Empty(), nil
}

// HasPower is the public form of the permission check, by uuid.
func (m *Manager) HasPower(objectUUID string) (bool, error) {
	localID, err := m.findLocalID(m.store, objectUUID)
	if err != nil {
		return false, m.record(err)
	}
	if localID == 0 {
		return false, m.fail(KindNotFound, "object %s not found", objectUUID)
	}
	ok, err := m.hasPower(m.store, localID, m.userID)
	if err != nil {
		return false, m.record(err)
	}
	return ok, nil
}

// setPowerMirror populates the closure for a freshly created User object:
// the new user inherits every power already dominating its creator, plus a
// self-domination row. This is the sole place the mirror is mutated.
func (m *Manager) setPowerMirror(x runner, newUserID int64) error {
	if _, err := x.run(
		"REPLACE /* setPowerMirror */ INTO powermirror (userid, powerid) VALUES (?, ?)",
		newUserID, m.userID); err != nil {
		return err
	}

	if _, err := x.run(
		"REPLACE /* setPowerMirror */ INTO powermirror (userid, powerid) VALUES (?, ?)",
		newUserID, newUserID); err != nil {
		return err
	}

	_, err := x.run(
		"REPLACE /* setPowerMirror */ INTO powermirror (userid, powerid) SELECT ?, powerid FROM powermirror WHERE userid=?",
		newUserID, m.userID)
	return err
}
