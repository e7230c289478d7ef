// ABOUTME: Object lifecycle operations over the generic objects table
// ABOUTME: Create, update, logical delete, predicate lookup and field validation
package db

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openpanel-ng/corestore/models"
)

// findLocalID resolves a uuid to its local row id. Absence is reported as the
// 0 sentinel, not an error: "does this exist" is the common case.
func (m *Manager) findLocalID(x runner, objectUUID string) (int64, error) {
	if objectUUID == "" {
		return 0, nil
	}
	res, err := x.run(
		"SELECT /* findLocalID */ id FROM objects WHERE uuid=? AND deleted=0", objectUUID)
	if err != nil {
		return 0, err
	}
	if res.Empty() {
		return 0, nil
	}
	return res.First().Int("id"), nil
}

// metaIDFor returns the metaid of a local object id.
func (m *Manager) metaIDFor(x runner, id int64) (string, error) {
	res, err := x.run("SELECT /* metaIDFor */ metaid FROM objects WHERE id=?", id)
	if err != nil {
		return "", err
	}
	if res.Empty() {
		return "", ErrNotFound.New("object id %d not found", id)
	}
	return res.First()["metaid"], nil
}

// uniqueContext resolves the uniqueness context for a new object of the given
// class under parentID. The second return is false when the class declares no
// context at all.
func (m *Manager) uniqueContext(x runner, def *models.ClassDefinition, classID, parentID int64) (int64, bool, error) {
	switch def.UniqueIn {
	case models.UniqueNowhere:
		return 0, false, nil
	case models.UniqueInParent:
		return parentID, true, nil
	case models.UniqueInClass:
		if def.UniqueClass != "" {
			id, err := m.findClassID(x, def.UniqueClass)
			if err != nil {
				return 0, false, err
			}
			if id == 0 {
				return 0, false, ErrSchema.New("uniqueclass %q of class %q is not registered",
					def.UniqueClass, def.Name)
			}
			return id, true, nil
		}
		return classID, true, nil
	}
	// unreachable after ParseClassDefinition, which rejects unknown values
	return 0, false, ErrSchema.New("uniquein attribute of class %q defective", def.Name)
}

// liveMetaIDTaken fails with AlreadyExists when a live object already claims
// (uc, metaID). Deleted rows do not block metaid reuse.
func (m *Manager) liveMetaIDTaken(x runner, uc int64, metaID string) error {
	if metaID == "" {
		return nil
	}
	res, err := x.run(
		"SELECT /* liveMetaIDTaken */ id FROM objects WHERE uniquecontext=? AND metaid=? AND deleted=0",
		uc, metaID)
	if err != nil {
		return err
	}
	if !res.Empty() {
		return ErrAlreadyExists.New("an object with this id already exists")
	}
	return nil
}

// checkFieldList validates a member document against the class schema.
// Reserved identity fields are stripped with a warning; ref-typed fields are
// resolved from a uuid or metaid into a canonical uuid. Returns a sanitized
// copy, leaving the caller's document untouched.
func (m *Manager) checkFieldList(x runner, members models.Document, classID int64) (models.Document, error) {
	def, err := m.classDef(x, classID)
	if err != nil {
		return nil, err
	}

	out := make(models.Document, len(members))
	for name, v := range members {
		fd, ok := def.Field(name)
		if !ok {
			if isReservedField(name) {
				m.log.Warn("member not found in class definition, stripped",
					zap.String("member", name), zap.String("class", def.Name))
				continue
			}
			if name == "version" {
				continue
			}
			return nil, ErrInvalidArgument.New("member %q not found in class definition", name)
		}

		if fd.Type == "ref" {
			ref, _ := v.(string)
			id, err := m.findLocalID(x, ref)
			if err != nil {
				return nil, err
			}
			if id != 0 {
				out[name] = ref
				continue
			}
			resolved, err := m.resolveRefByMetaID(x, fd.RefClass, ref)
			if err != nil {
				return nil, err
			}
			if resolved == "" {
				return nil, ErrNotFound.New("reference %s (%s) not found", ref, name)
			}
			out[name] = resolved
			continue
		}

		out[name] = v
	}
	return out, nil
}

func isReservedField(name string) bool {
	for _, r := range models.ReservedFields {
		if name == r {
			return true
		}
	}
	return false
}

// resolveRefByMetaID looks a reference up by metaid within the referenced
// class, returning its uuid or "".
func (m *Manager) resolveRefByMetaID(x runner, refClass, metaID string) (string, error) {
	if refClass == "" || metaID == "" {
		return "", nil
	}
	classID, err := m.findClassID(x, refClass)
	if err != nil || classID == 0 {
		return "", err
	}
	res, err := x.run(
		"SELECT /* resolveRefByMetaID */ uuid FROM objects WHERE class=? AND metaid=? AND deleted=0",
		classID, metaID)
	if err != nil {
		return "", err
	}
	if res.Empty() {
		return "", nil
	}
	return res.First()["uuid"], nil
}

// checkDomainSuffix reports whether child fits under parent: equal
// (case-insensitive), or child ends in parent with sep immediately before the
// inherited suffix.
func checkDomainSuffix(child, parent string, sep byte) bool {
	if strings.EqualFold(child, parent) {
		return true
	}
	if len(child) <= len(parent) {
		return false
	}
	if !strings.EqualFold(child[len(child)-len(parent):], parent) {
		return false
	}
	return child[len(child)-len(parent)-1] == sep
}

// CreateResult markers returned by CreateObject in permission-check mode.
const CreateAllowed = "allowed"

// CreateObject creates an instance of className under parentUUID, returning
// the new object's uuid. With permCheck set nothing is mutated; the call
// reports CreateAllowed when the create would have succeeded. The immediate
// flag is accepted for call-shape compatibility; completion is synchronous.
func (m *Manager) CreateObject(parentUUID string, members models.Document, className, metaID string, permCheck, immediate bool) (string, error) {
	_ = immediate

	if metaID == prototypeMetaID && !m.god {
		return "", m.fail(KindPermissionDenied, "prototypes can only be created by modules")
	}

	if err := m.userIsGone(); err != nil {
		return "", err
	}

	classID, err := m.findClassID(m.store, className)
	if err != nil {
		return "", m.record(err)
	}
	if classID == 0 {
		return "", m.fail(KindNotFound, "class %s not found", className)
	}

	def, err := m.classDef(m.store, classID)
	if err != nil {
		return "", m.record(err)
	}

	members, err = m.checkFieldList(m.store, members, classID)
	if err != nil {
		return "", m.record(err)
	}

	var parentID int64
	ownerID := int64(-1)
	parentClass := ""
	if parentUUID != "" {
		res, err := m.store.run(
			"SELECT /* CreateObject parent */ id, owner, class FROM objects WHERE uuid=? AND deleted=0",
			parentUUID)
		if err != nil {
			return "", m.record(err)
		}
		if res.Empty() {
			return "", m.fail(KindNotFound, "parent object %s not found", parentUUID)
		}
		parentID = res.First().Int("id")
		ownerID = res.First().Int("owner")
		parentClass, err = m.classNameForID(m.store, res.First().Int("class"))
		if err != nil {
			return "", m.record(err)
		}
	}
	if ownerID == -1 {
		ownerID = m.userID
	}

	if !m.god && parentID != 0 {
		ok, err := m.hasPower(m.store, parentID, m.userID)
		if err != nil {
			return "", m.record(err)
		}
		if !ok {
			return "", m.fail(KindPermissionDenied, "access denied to parent object")
		}
	}

	if !m.god {
		limit, usage, err := m.GetUserQuota(className, "")
		if err != nil {
			return "", err
		}
		if limit != -1 && usage >= limit {
			return "", m.fail(KindQuotaExceeded, "over quota (%d/%d)", usage, limit)
		}
	}

	if def.Singleton != "" && metaID != def.Singleton {
		return "", m.fail(KindInvalidArgument,
			"attempt to set metaid %q for singleton requiring %q", metaID, def.Singleton)
	}

	if def.Requires != "" {
		if parentClass != def.Requires {
			return "", m.fail(KindInvalidArgument,
				"class %s requires a parent of class %s but found %q (%s)",
				className, def.Requires, parentClass, parentUUID)
		}
		if def.ParentRealm != models.RealmNone {
			pmeta, err := m.metaIDFor(m.store, parentID)
			if err != nil {
				return "", m.record(err)
			}
			if !checkDomainSuffix(metaID, pmeta, def.ParentRealm.Separator()) {
				return "", m.fail(KindInvalidArgument,
					"your chosen id %q does not fit into the domain %q", metaID, pmeta)
			}
		}
	} else if parentID != 0 {
		return "", m.fail(KindInvalidArgument, "parent given when none required")
	}

	ucValue, hasUC, err := m.uniqueContext(m.store, def, classID, parentID)
	if err != nil {
		return "", m.record(err)
	}
	if hasUC {
		if err := m.liveMetaIDTaken(m.store, ucValue, metaID); err != nil {
			return "", m.record(err)
		}
	}

	if permCheck {
		return CreateAllowed, nil
	}

	// Templated classes create by cloning their prototype subtree instead.
	if token := def.PrototypeToken(); token != "" {
		if def.MagicDelimiter != "$" {
			return "", m.fail(KindInvalidArgument, "delimiters other than $ are unsupported")
		}
		if def.Prototype != "prototype" {
			return "", m.fail(KindInvalidArgument, "prototype tokens other than \"prototype\" are unsupported")
		}

		res, err := m.store.run(
			"SELECT /* CreateObject prototype */ id FROM objects WHERE metaid=? AND class=? AND uniquecontext=? AND deleted=0",
			token, classID, classID)
		if err != nil {
			return "", m.record(err)
		}
		if len(res.Rows) == 1 {
			protoID := res.First().Int("id")
			repl := map[string]string{token: metaID}
			var rootUUID string
			err := m.store.transact(func(x runner) error {
				var err error
				rootUUID, err = m.copyPrototype(x, protoID, parentID, ownerID, repl, true, members)
				return err
			})
			if err != nil {
				return "", m.record(err)
			}
			return rootUUID, nil
		}
	}

	newUUID := uuid.NewString()
	content, err := serialize(members)
	if err != nil {
		return "", m.record(ErrBackend.Wrap(err))
	}

	err = m.store.transact(func(x runner) error {
		ins, err := x.run(
			"INSERT /* CreateObject */ INTO objects (uuid, class, metaid, parent, owner, uniquecontext, content) VALUES (?, ?, ?, ?, ?, ?, ?)",
			newUUID, classID, nullable(metaID), parentID, ownerID, nullableInt(ucValue, hasUC), content)
		if err != nil {
			return err
		}

		// New users join the ownership closure inside the same transaction.
		if className == UserClassName {
			if err := m.setPowerMirror(x, ins.InsertID); err != nil {
				return err
			}
			if m.userID == 0 {
				// bootstrap: the very first users dominate the root id
				if _, err := x.run(
					"REPLACE /* CreateObject */ INTO powermirror (userid, powerid) VALUES (0, ?)",
					ins.InsertID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", m.record(err)
	}

	m.log.Debug("object created",
		zap.String("uuid", newUUID), zap.String("class", className), zap.String("metaid", metaID))
	return newUUID, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int64, ok bool) any {
	if !ok {
		return nil
	}
	return n
}

// UpdateObject replaces ALL member fields of the object identified by uuid.
// With deleted set this is a logical delete-by-replace: content is cleared
// and the row kept for history. Deleting an already-gone uuid succeeds.
func (m *Manager) UpdateObject(members models.Document, objectUUID string, immediate, deleted, asGod bool) error {
	_ = immediate

	localID, err := m.findLocalID(m.store, objectUUID)
	if err != nil {
		return m.record(err)
	}
	if localID == 0 {
		// already gone; deleting twice is not an error
		return nil
	}

	if !m.god && !asGod {
		ok, err := m.hasPower(m.store, localID, m.userID)
		if err != nil {
			return m.record(err)
		}
		if !ok {
			return m.fail(KindPermissionDenied, "access to object denied")
		}
	}

	if deleted {
		if localID == m.userID {
			return m.fail(KindInvalidArgument, "cannot delete yourself")
		}
		res, err := m.store.run(
			"SELECT /* UpdateObject owner check */ COUNT(id) n FROM objects WHERE owner=? AND deleted=0",
			localID)
		if err != nil {
			return m.record(err)
		}
		if res.First().Int("n") > 0 {
			return m.fail(KindInvalidArgument,
				"this user still owns other objects, please delete these first")
		}
	}

	res, err := m.store.run(
		"SELECT /* UpdateObject */ id, class, metaid FROM objects WHERE id=?", localID)
	if err != nil {
		return m.record(err)
	}
	if res.Empty() {
		return m.fail(KindNotFound, "object %s not found", objectUUID)
	}
	row := res.First()

	if deleted && !m.god && row["metaid"] == prototypeMetaID {
		return m.fail(KindPermissionDenied, "prototypes cannot be deleted")
	}

	var content string
	if deleted {
		content = ""
	} else {
		members, err = m.checkFieldList(m.store, members, row.Int("class"))
		if err != nil {
			return m.record(err)
		}
		content, err = serialize(members)
		if err != nil {
			return m.record(ErrBackend.Wrap(err))
		}
	}

	deletedFlag := 0
	if deleted {
		deletedFlag = 1
	}
	_, err = m.store.run(
		"UPDATE /* UpdateObject */ objects SET content=?, deleted=? WHERE id=?",
		content, deletedFlag, localID)
	return m.record(err)
}

// DeleteObject marks the object deleted; see UpdateObject.
func (m *Manager) DeleteObject(objectUUID string, immediate, asGod bool) error {
	m.log.Debug("delete object", zap.String("uuid", objectUUID))
	return m.UpdateObject(nil, objectUUID, immediate, true, asGod)
}

// IsDeleteable reports whether the object could be deleted right now: it must
// exist, not be the caller's own identity, and not own any live object.
func (m *Manager) IsDeleteable(objectUUID string) (bool, error) {
	localID, err := m.findLocalID(m.store, objectUUID)
	if err != nil {
		return false, m.record(err)
	}
	if localID == 0 || localID == m.userID {
		return false, nil
	}
	res, err := m.store.run(
		"SELECT /* IsDeleteable */ COUNT(id) n FROM objects WHERE owner=? AND deleted=0", localID)
	if err != nil {
		return false, m.record(err)
	}
	return res.First().Int("n") == 0, nil
}

// FindObject locates an object by any combination of parent, class, uuid and
// metaid predicates, returning its uuid. At least one of uuid, metaid or
// parent must be given.
func (m *Manager) FindObject(parentUUID, ofClass, withUUID, withMetaID string) (string, error) {
	if withUUID == "" && withMetaID == "" && parentUUID == "" {
		return "", m.fail(KindInvalidArgument, "not enough predicates passed")
	}

	var classID int64
	var err error
	if ofClass != "" {
		classID, err = m.findClassID(m.store, ofClass)
		if err != nil {
			return "", m.record(err)
		}
		if classID == 0 {
			return "", m.fail(KindNotFound, "class %s not found", ofClass)
		}
	}

	conds := []string{"deleted=0"}
	args := []any{}
	if classID != 0 {
		conds = append(conds, "class=?")
		args = append(args, classID)
	}
	if withUUID != "" {
		conds = append(conds, "uuid=?")
		args = append(args, withUUID)
	}
	if withMetaID != "" {
		conds = append(conds, "metaid=?")
		args = append(args, withMetaID)
	}
	if parentUUID != "" {
		parentID, err := m.findLocalID(m.store, parentUUID)
		if err != nil {
			return "", m.record(err)
		}
		conds = append(conds, "parent=?")
		args = append(args, parentID)
	}

	res, err := m.store.run(
		"SELECT /* FindObject */ id, uuid, class FROM objects WHERE "+strings.Join(conds, " AND ")+" LIMIT 1",
		args...)
	if err != nil {
		return "", m.record(err)
	}
	if res.Empty() {
		return "", m.fail(KindNotFound, "object not found")
	}
	row := res.First()

	if !m.god && row.Int("id") != m.userID {
		ok, err := m.hasPower(m.store, row.Int("id"), m.userID)
		if err != nil {
			return "", m.record(err)
		}
		if !ok {
			def, err := m.classDef(m.store, row.Int("class"))
			if err != nil {
				return "", m.record(err)
			}
			if !def.WorldReadable {
				return "", m.fail(KindPermissionDenied, "object found but access denied")
			}
		}
	}
	return row["uuid"], nil
}

// FindParent returns the uuid of the object's parent.
func (m *Manager) FindParent(objectUUID string) (string, error) {
	res, err := m.store.run(
		"SELECT /* FindParent */ parent FROM objects WHERE uuid=? AND deleted=0", objectUUID)
	if err != nil {
		return "", m.record(err)
	}
	if res.Empty() {
		return "", m.fail(KindNotFound, "object %s not found", objectUUID)
	}
	parentID := res.First().Int("parent")

	if !m.god {
		ok, err := m.hasPower(m.store, parentID, m.userID)
		if err != nil {
			return "", m.record(err)
		}
		if !ok {
			return "", m.fail(KindPermissionDenied, "permission denied")
		}
	}

	res, err = m.store.run("SELECT /* FindParent */ uuid FROM objects WHERE id=?", parentID)
	if err != nil {
		return "", m.record(err)
	}
	if res.Empty() {
		return "", m.fail(KindNotFound, "parent object not found")
	}
	return res.First()["uuid"], nil
}

// ListObjectTree lists the uuids of a whole subtree, leaf-first, following
// both parent and owner edges. The root uuid comes last, so deleting in
// listed order never leaves dangling references.
func (m *Manager) ListObjectTree(objectUUID string) ([]string, error) {
	localID, err := m.findLocalID(m.store, objectUUID)
	if err != nil {
		return nil, m.record(err)
	}
	if localID == 0 {
		return nil, m.fail(KindNotFound, "object %s not found", objectUUID)
	}

	if !m.god {
		ok, err := m.hasPower(m.store, localID, m.userID)
		if err != nil {
			return nil, m.record(err)
		}
		if !ok {
			return nil, m.fail(KindPermissionDenied, "permission denied")
		}
	}

	var into []string
	if err := m.listObjectTree(&into, localID); err != nil {
		return nil, err
	}
	return append(into, objectUUID), nil
}

func (m *Manager) listObjectTree(into *[]string, localID int64) error {
	if localID == 0 {
		return m.fail(KindInvalidArgument, "cowardly refusing to recurse from an empty parent id")
	}
	res, err := m.store.run(
		"SELECT /* listObjectTree */ id, uuid FROM objects WHERE (parent=? OR owner=?) AND id!=? AND deleted=0",
		localID, localID, localID)
	if err != nil {
		return m.record(err)
	}
	for _, row := range res.Rows {
		if err := m.listObjectTree(into, row.Int("id")); err != nil {
			return err
		}
		*into = append(*into, row["uuid"])
	}
	return nil
}

// Chown transfers ownership of a root object to another user. Objects with a
// parent, or with children of their own, must be chowned higher up.
func (m *Manager) Chown(objectUUID, userUUID string) error {
	objID, err := m.findLocalID(m.store, objectUUID)
	if err != nil {
		return m.record(err)
	}
	newOwner, err := m.findLocalID(m.store, userUUID)
	if err != nil {
		return m.record(err)
	}
	if objID == 0 || newOwner == 0 {
		return m.fail(KindNotFound, "object or user not found")
	}

	if !m.god {
		okObj, err := m.hasPower(m.store, objID, m.userID)
		if err != nil {
			return m.record(err)
		}
		okUser, err := m.hasPower(m.store, newOwner, m.userID)
		if err != nil {
			return m.record(err)
		}
		if !okObj || !okUser {
			return m.fail(KindPermissionDenied, "permission denied")
		}
	}

	res, err := m.store.run("SELECT /* Chown */ parent FROM objects WHERE id=?", objID)
	if err != nil {
		return m.record(err)
	}
	if len(res.Rows) != 1 {
		return m.fail(KindNotFound, "object disappeared")
	}
	if res.First().Int("parent") != 0 {
		return m.fail(KindInvalidArgument, "object has a parent, please chown higher up")
	}

	res, err = m.store.run(
		"SELECT /* Chown */ COUNT(id) n FROM objects WHERE parent=? AND deleted=0", objID)
	if err != nil {
		return m.record(err)
	}
	if res.First().Int("n") > 0 {
		return m.fail(KindInvalidArgument,
			"object is parent of other objects, please chown before creating objects under another")
	}

	_, err = m.store.run("UPDATE /* Chown */ objects SET owner=? WHERE id=?", newOwner, objID)
	return m.record(err)
}
