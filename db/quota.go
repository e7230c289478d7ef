// ABOUTME: Quota engine for per-class object counts and tag-keyed quotas
// ABOUTME: Limits resolve recursively up the ownership chain, most restrictive wins
package db

// Unlimited is the quota value meaning "no limit".
const Unlimited = -1

// GetUserQuota resolves the effective object-count limit for a class, walking
// from the target user (the acting user when userUUID is empty) upward
// through successive owners. No row means unlimited; a smaller explicit limit
// always overrides a larger one or unlimited. Usage counts objects of the
// class transitively owned by the target.
func (m *Manager) GetUserQuota(ofClass, userUUID string) (limit, usage int, err error) {
	lookupID := m.userID
	if userUUID != "" {
		lookupID, err = m.findLocalID(m.store, userUUID)
		if err != nil {
			return 0, 0, m.record(err)
		}
		if lookupID == 0 {
			return 0, 0, m.fail(KindNotFound, "user not found")
		}
	}

	if lookupID != m.userID && !m.god {
		ok, err := m.hasPower(m.store, lookupID, m.userID)
		if err != nil {
			return 0, 0, m.record(err)
		}
		if !ok {
			return 0, 0, m.fail(KindPermissionDenied, "permission denied")
		}
	}
	targetID := lookupID

	classID, err := m.findClassID(m.store, ofClass)
	if err != nil {
		return 0, 0, m.record(err)
	}
	if classID == 0 {
		return 0, 0, m.fail(KindNotFound, "class %s not found", ofClass)
	}

	quota := Unlimited
	for {
		res, err := m.store.run(
			"SELECT /* GetUserQuota */ quota FROM classquota WHERE userid=? AND classid=?",
			lookupID, classID)
		if err != nil {
			return 0, 0, m.record(err)
		}
		thisQuota := Unlimited
		if !res.Empty() {
			thisQuota = int(res.First().Int("quota"))
		}
		// a smaller limit overrides a bigger limit; unlimited never
		// overrides anything
		if thisQuota != Unlimited && (quota == Unlimited || thisQuota < quota) {
			quota = thisQuota
		}

		res, err = m.store.run(
			"SELECT /* GetUserQuota */ owner FROM objects WHERE id=? AND deleted=0", lookupID)
		if err != nil {
			return 0, 0, m.record(err)
		}
		if res.Empty() {
			break
		}
		next := res.First().Int("owner")
		if next == 0 || next == lookupID {
			break
		}
		lookupID = next
	}

	res, err := m.store.run(
		"SELECT /* GetUserQuota */ COUNT(DISTINCT(o.id)) n FROM objects o, powermirror p WHERE o.class=? AND o.deleted=0 AND o.owner=p.userid AND p.powerid=?",
		classID, targetID)
	if err != nil {
		return 0, 0, m.record(err)
	}
	return quota, int(res.First().Int("n")), nil
}

// SetUserQuota sets (or replaces) the object-count quota of a user for a
// class. A user cannot set their own quota.
func (m *Manager) SetUserQuota(ofClass string, count int, userUUID string) error {
	uid, err := m.findLocalID(m.store, userUUID)
	if err != nil {
		return m.record(err)
	}
	if uid == 0 {
		return m.fail(KindNotFound, "user not found")
	}

	if !m.god {
		ok, err := m.hasPower(m.store, uid, m.userID)
		if err != nil {
			return m.record(err)
		}
		if !ok || uid == m.userID {
			return m.fail(KindPermissionDenied, "permission denied")
		}
	}

	classID, err := m.findClassID(m.store, ofClass)
	if err != nil {
		return m.record(err)
	}
	if classID == 0 {
		return m.fail(KindNotFound, "class %s not found", ofClass)
	}

	_, err = m.store.run(
		"REPLACE /* SetUserQuota */ INTO classquota (userid, classid, quota) VALUES (?, ?, ?)",
		uid, classID, count)
	return m.record(err)
}

// GetSpecialQuota returns the non-object quota for a tag/user; absence means
// unlimited. An empty uuid means the acting user.
func (m *Manager) GetSpecialQuota(tag, userUUID string) (int, error) {
	return m.specialQuotaColumn("quota", tag, userUUID)
}

// GetSpecialQuotaWarning returns the warning level for a tag/user.
func (m *Manager) GetSpecialQuotaWarning(tag, userUUID string) (int, error) {
	return m.specialQuotaColumn("warning", tag, userUUID)
}

func (m *Manager) specialQuotaColumn(column, tag, userUUID string) (int, error) {
	uid := m.userID
	if userUUID != "" {
		var err error
		uid, err = m.findLocalID(m.store, userUUID)
		if err != nil {
			return 0, m.record(err)
		}
		if uid == 0 {
			return 0, m.fail(KindNotFound, "user not found")
		}
	}

	if !m.god && uid != m.userID {
		ok, err := m.hasPower(m.store, uid, m.userID)
		if err != nil {
			return 0, m.record(err)
		}
		if !ok {
			return 0, m.fail(KindPermissionDenied, "permission denied")
		}
	}

	res, err := m.store.run(
		"SELECT /* specialQuota */ "+column+" FROM specialquota WHERE tag=? AND userid=?",
		tag, uid)
	if err != nil {
		return 0, m.record(err)
	}
	if res.Empty() {
		return Unlimited, nil
	}
	return int(res.First().Int(column)), nil
}

// GetSpecialQuotaUsage returns the recursively accumulated usage for a
// tag/user, the sum over every user the target dominates. An empty uuid means
// the acting user.
func (m *Manager) GetSpecialQuotaUsage(tag, userUUID string) (int, error) {
	uid := m.userID
	if userUUID != "" {
		var err error
		uid, err = m.findLocalID(m.store, userUUID)
		if err != nil {
			return 0, m.record(err)
		}
		if uid == 0 {
			return 0, m.fail(KindNotFound, "user not found")
		}
	}

	if uid != m.userID && !m.god {
		ok, err := m.hasPower(m.store, uid, m.userID)
		if err != nil {
			return 0, m.record(err)
		}
		if !ok {
			return 0, m.fail(KindPermissionDenied, "permission denied")
		}
	}

	res, err := m.store.run(
		"SELECT /* GetSpecialQuotaUsage */ COALESCE(SUM(squ.usage), 0) n FROM specialquotausage squ LEFT JOIN powermirror p ON squ.userid=p.userid WHERE p.powerid=? AND squ.tag=?",
		uid, tag)
	if err != nil {
		return 0, m.record(err)
	}
	return int(res.First().Int("n")), nil
}

// SetSpecialQuota assigns a tag-keyed quota to a user after validating, at
// every ancestor level, that the sum of quotas already assigned to siblings
// plus the new quota fits the ancestor's own allotment. On success it returns
// the remaining physical allowance per traversed user, keyed by metaid; side
// information for external enforcement, not stored.
func (m *Manager) SetSpecialQuota(tag, userUUID string, quota, warning int) (map[string]int, error) {
	uid, err := m.findLocalID(m.store, userUUID)
	if err != nil {
		return nil, m.record(err)
	}
	if uid == 0 {
		return nil, m.fail(KindNotFound, "user not found")
	}

	if !m.god {
		ok, err := m.hasPower(m.store, uid, m.userID)
		if err != nil {
			return nil, m.record(err)
		}
		if !ok {
			return nil, m.fail(KindPermissionDenied, "permission denied")
		}
	}

	if warning > quota {
		return nil, m.fail(KindInvalidArgument, "warning level can't be higher than quota level")
	}

	phys := make(map[string]int)
	key, err := m.metaIDFor(m.store, uid)
	if err != nil {
		return nil, m.record(err)
	}
	phys[key] = quota

	lookupID := uid
	for {
		res, err := m.store.run(
			"SELECT /* SetSpecialQuota */ owner FROM objects WHERE id=?", lookupID)
		if err != nil {
			return nil, m.record(err)
		}
		if res.Empty() {
			break
		}
		next := res.First().Int("owner")
		if next == lookupID {
			break
		}
		lookupID = next

		res, err = m.store.run(
			"SELECT /* SetSpecialQuota */ COALESCE(SUM(sq.quota), 0) n FROM specialquota sq JOIN powermirror p ON sq.userid=p.userid WHERE p.powerid=? AND sq.tag=? AND sq.userid!=? AND sq.userid!=?",
			lookupID, tag, lookupID, uid)
		if err != nil {
			return nil, m.record(err)
		}
		subAssigned := int(res.First().Int("n"))

		res, err = m.store.run(
			"SELECT /* SetSpecialQuota */ quota FROM specialquota WHERE userid=? AND tag=?",
			lookupID, tag)
		if err != nil {
			return nil, m.record(err)
		}
		// absence means unlimited at this level
		if !res.Empty() {
			ownQuota := int(res.First().Int("quota"))
			if subAssigned+quota > ownQuota {
				return nil, m.fail(KindQuotaExceeded, "assigned quota too large for allowance")
			}
			key, err := m.metaIDFor(m.store, lookupID)
			if err != nil {
				return nil, m.record(err)
			}
			phys[key] = ownQuota - subAssigned - quota
		}
	}

	_, err = m.store.run(
		"REPLACE /* SetSpecialQuota */ INTO specialquota (userid, tag, quota, warning) VALUES (?, ?, ?, ?)",
		uid, tag, quota, warning)
	if err != nil {
		return nil, m.record(err)
	}
	return phys, nil
}

// SetSpecialQuotaUsage records non-recursive usage for a tag/user. Usage is
// maintained by the system, so this requires god mode.
func (m *Manager) SetSpecialQuotaUsage(tag, userUUID string, amount int) error {
	if !m.god {
		return m.fail(KindPermissionDenied, "usage is set automatically")
	}

	uid, err := m.findLocalID(m.store, userUUID)
	if err != nil {
		return m.record(err)
	}
	if uid == 0 {
		return m.fail(KindNotFound, "user not found")
	}

	_, err = m.store.run(
		"REPLACE /* SetSpecialQuotaUsage */ INTO specialquotausage (userid, tag, usage) VALUES (?, ?, ?)",
		uid, tag, amount)
	return m.record(err)
}

// ListSpecialQuota lists the tags currently in use.
func (m *Manager) ListSpecialQuota() ([]string, error) {
	res, err := m.store.run(
		"SELECT /* ListSpecialQuota */ DISTINCT tag FROM specialquota UNION SELECT DISTINCT tag FROM specialquotausage")
	if err != nil {
		return nil, m.record(err)
	}
	tags := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		tags = append(tags, row["tag"])
	}
	return tags, nil
}
