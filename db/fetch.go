// ABOUTME: Read paths of the object store
// ABOUTME: Flattened fetch along the requires chain and grouped listings
package db

import (
	"strings"

	"github.com/openpanel-ng/corestore/models"
)

// ObjectView is the flattened result of a fetch: one key per class along the
// requires chain, assembled walking upward from the target object. Class
// names the target's own class, which is always the first-populated key.
type ObjectView struct {
	Class   string
	Classes models.Document
}

// Leaf returns the entry for the target object's own class.
func (v *ObjectView) Leaf() models.Document {
	entry, _ := v.Classes[v.Class].(models.Document)
	return entry
}

// FetchObject fetches a single object as a flattened document: the object's
// own class first, then one key per ancestor class while the current class
// declares a requires attribute. Module fetches resolve references and filter
// privateformodule fields of foreign classes; ordinary fetches redact
// passwords unless god mode is enabled.
func (m *Manager) FetchObject(objectUUID string, forModule bool) (*ObjectView, error) {
	localID, err := m.findLocalID(m.store, objectUUID)
	if err != nil {
		return nil, m.record(err)
	}
	if localID == 0 {
		return nil, m.fail(KindNotFound, "object %s not found", objectUUID)
	}

	if !m.god && !forModule {
		ok, err := m.hasPower(m.store, localID, m.userID)
		if err != nil {
			return nil, m.record(err)
		}
		if !ok {
			leafRes, err := m.store.run(
				"SELECT /* FetchObject */ class FROM objects WHERE id=?", localID)
			if err != nil {
				return nil, m.record(err)
			}
			def, err := m.classDef(m.store, leafRes.First().Int("class"))
			if err != nil {
				return nil, m.record(err)
			}
			if !def.WorldReadable {
				return nil, m.fail(KindPermissionDenied, "permission denied for object %s", objectUUID)
			}
		}
	}

	view := &ObjectView{Classes: models.Document{}}
	module := ""
	reqClass := ""

	for {
		res, err := m.store.run(
			"SELECT /* FetchObject */ o.class class, o.parent parent, o.content content, o.metaid metaid, o.uuid uuid, o.deleted deleted, o2.uuid parentuuid, o3.uuid owneruuid FROM objects o LEFT JOIN objects o2 ON o.parent=o2.id LEFT JOIN objects o3 ON o.owner=o3.id WHERE o.id=?",
			localID)
		if err != nil {
			return nil, m.record(err)
		}
		if res.Empty() {
			return nil, m.fail(KindNotFound,
				"object (local id %d) not found while recursing upwards", localID)
		}
		row := res.First()

		className, err := m.classNameForID(m.store, row.Int("class"))
		if err != nil {
			return nil, m.record(err)
		}
		if reqClass != "" && reqClass != className {
			return nil, m.fail(KindNotFound, "found parent is not of required class")
		}

		def, err := m.classDef(m.store, row.Int("class"))
		if err != nil {
			return nil, m.record(err)
		}

		content, err := deserialize(row["content"])
		if err != nil {
			return nil, m.record(ErrBackend.Wrap(err))
		}

		var entry models.Document
		if forModule {
			if err := m.deref(m.store, content, def); err != nil {
				return nil, m.record(err)
			}
			if module != "" && def.Module != module {
				entry = filterPrivate(content, def)
			} else {
				entry = content
			}
		} else if m.god {
			entry = content
		} else {
			entry = hidePasswords(content, def)
		}

		annotate(entry, row)
		if view.Class == "" {
			view.Class = className
		}
		view.Classes[className] = entry
		if module == "" {
			module = def.Module
		}

		if err := m.mergeChildren(entry, def, row["uuid"], forModule); err != nil {
			return nil, err
		}

		if def.Requires == "" || row.Int("parent") == 0 {
			break
		}
		reqClass = def.Requires
		localID = row.Int("parent")
	}

	return view, nil
}

// ListQuery selects and pages a listing.
type ListQuery struct {
	ParentUUID string
	Classes    []string
	ForModule  bool
	Count      int // <= 0 means all
	Offset     int
}

// ListObjects lists objects the caller dominates, grouped by class name and
// then by id (metaid when present, uuid otherwise), ordered and paginated by
// metaid. Module listings skip the permission join. Classes declaring
// allchildren or childrendep recursively merge their children's listing into
// each entry.
func (m *Manager) ListObjects(q ListQuery) (models.Document, error) {
	conds := []string{"o.deleted=0"}
	args := []any{}

	if q.ParentUUID != "" {
		parentID, err := m.findLocalID(m.store, q.ParentUUID)
		if err != nil {
			return nil, m.record(err)
		}
		if parentID == 0 {
			return nil, m.fail(KindNotFound, "parent object %s not found", q.ParentUUID)
		}
		conds = append(conds, "o.parent=?")
		args = append(args, parentID)
	} else if len(q.Classes) == 0 {
		conds = append(conds, "o.parent=0")
	}

	if len(q.Classes) > 0 {
		marks := make([]string, 0, len(q.Classes))
		for _, name := range q.Classes {
			classID, err := m.findClassID(m.store, name)
			if err != nil {
				return nil, m.record(err)
			}
			if classID == 0 {
				return nil, m.fail(KindNotFound, "class %s not found", name)
			}
			marks = append(marks, "?")
			args = append(args, classID)
		}
		conds = append(conds, "o.class IN ("+strings.Join(marks, ",")+")")
	}

	query := "SELECT DISTINCT /* ListObjects */ o.id id, o.class class, o.content content, o.metaid metaid, o.uuid uuid, o2.uuid parentuuid, o3.uuid owneruuid FROM "
	if m.god || q.ForModule {
		query += "objects o LEFT JOIN objects o2 ON o.parent=o2.id LEFT JOIN objects o3 ON o.owner=o3.id WHERE "
	} else {
		// only rows the caller dominates survive the mirror join
		query += "powermirror p, objects o LEFT JOIN objects o2 ON o.parent=o2.id LEFT JOIN objects o3 ON o.owner=o3.id WHERE (o.owner=p.userid OR o.id=p.powerid) AND p.powerid=? AND "
		args = append([]any{m.userID}, args...)
	}
	query += strings.Join(conds, " AND ")

	count := q.Count
	if count <= 0 {
		count = -1
	}
	query += " ORDER BY o.metaid LIMIT ?, ?"
	args = append(args, q.Offset, count)

	res, err := m.store.run(query, args...)
	if err != nil {
		return nil, m.record(err)
	}

	into := models.Document{}
	for _, row := range res.Rows {
		className, err := m.classNameForID(m.store, row.Int("class"))
		if err != nil {
			return nil, m.record(err)
		}
		def, err := m.classDef(m.store, row.Int("class"))
		if err != nil {
			return nil, m.record(err)
		}

		content, err := deserialize(row["content"])
		if err != nil {
			return nil, m.record(ErrBackend.Wrap(err))
		}

		var entry models.Document
		switch {
		case q.ForModule:
			if err := m.deref(m.store, content, def); err != nil {
				return nil, m.record(err)
			}
			entry = content
		case m.god:
			entry = content
		default:
			entry = hidePasswords(content, def)
		}

		annotate(entry, row)

		group, ok := into[className].(models.Document)
		if !ok {
			group = models.Document{}
			into[className] = group
		}
		group[entry.String("id")] = entry

		if err := m.mergeChildren(entry, def, row["uuid"], q.ForModule); err != nil {
			return nil, err
		}
	}

	return into, nil
}

// mergeChildren folds the child listing of an allchildren/childrendep class
// into the given entry, one key per child class.
func (m *Manager) mergeChildren(entry models.Document, def *models.ClassDefinition, parentUUID string, forModule bool) error {
	if def.AllChildren {
		merged, err := m.ListObjects(ListQuery{ParentUUID: parentUUID, ForModule: forModule})
		if err != nil {
			return err
		}
		for k, v := range merged {
			entry[k] = v
		}
	}
	if def.ChildrenDep != "" {
		merged, err := m.ListObjects(ListQuery{
			ParentUUID: parentUUID,
			Classes:    []string{def.ChildrenDep},
			ForModule:  forModule,
		})
		if err != nil {
			return err
		}
		for k, v := range merged {
			entry[k] = v
		}
	}
	return nil
}

// annotate attaches the identity columns to a content entry. The display id
// is the metaid when set, the uuid otherwise.
func annotate(entry models.Document, row Row) {
	entry["uuid"] = row["uuid"]
	if row["parentuuid"] != "" {
		entry["parentid"] = row["parentuuid"]
	}
	if row["owneruuid"] != "" {
		entry["ownerid"] = row["owneruuid"]
	}
	if row["metaid"] != "" {
		entry["id"] = row["metaid"]
		entry["metaid"] = row["metaid"]
	} else {
		entry["id"] = row["uuid"]
	}
	if row.Int("deleted") != 0 {
		entry["deleted"] = true
	}
}

// hidePasswords replaces password-typed fields with an empty string.
func hidePasswords(content models.Document, def *models.ClassDefinition) models.Document {
	out := content.Clone()
	for name, fd := range def.Fields {
		if fd.Type == "password" {
			if _, ok := out[name]; ok {
				out[name] = ""
			}
		}
	}
	return out
}

// filterPrivate drops privateformodule fields from a foreign class's content.
func filterPrivate(content models.Document, def *models.ClassDefinition) models.Document {
	out := make(models.Document, len(content))
	for name, v := range content {
		if fd, ok := def.Field(name); ok && fd.PrivateForModule {
			continue
		}
		out[name] = v
	}
	return out
}

// deref resolves ref-typed fields in place for module consumption: the
// referenced object's reflabel field lands under the declaring field's nick.
// Plain fields with a nick are mirrored under it as well; the raw reference
// stays, the module may want to know about it.
func (m *Manager) deref(x runner, members models.Document, def *models.ClassDefinition) error {
	for name, v := range members {
		fd, ok := def.Field(name)
		if !ok {
			continue
		}

		if fd.Type != "ref" {
			if fd.Nick != "" {
				members[fd.Nick] = v
			}
			continue
		}

		ref, _ := v.(string)
		res, err := x.run(
			"SELECT /* deref */ metaid, uuid, content FROM objects WHERE uuid=? AND deleted=0", ref)
		if err != nil {
			return err
		}
		if res.Empty() {
			return ErrNotFound.New("referenced object %s not found", ref)
		}
		row := res.First()

		fields, err := deserialize(row["content"])
		if err != nil {
			return ErrBackend.Wrap(err)
		}
		if row["metaid"] != "" {
			fields["id"] = row["metaid"]
			fields["metaid"] = row["metaid"]
		} else {
			fields["id"] = row["uuid"]
		}

		if fd.Nick != "" && fd.RefLabel != "" {
			members[fd.Nick] = fields[fd.RefLabel]
		}
	}
	return nil
}

// ApplyFieldWhiteList strips every schema field not named in the whitelist
// from each entry of a grouped listing. An empty whitelist means no
// filtering.
func (m *Manager) ApplyFieldWhiteList(objs models.Document, whitelist []string) error {
	if len(whitelist) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(whitelist))
	for _, name := range whitelist {
		allowed[name] = true
	}

	for className, v := range objs {
		group, ok := v.(models.Document)
		if !ok {
			continue
		}
		classID, err := m.findClassID(m.store, className)
		if err != nil {
			return m.record(err)
		}
		if classID == 0 {
			continue
		}
		def, err := m.classDef(m.store, classID)
		if err != nil {
			return m.record(err)
		}

		for _, e := range group {
			entry, ok := e.(models.Document)
			if !ok {
				continue
			}
			for field := range def.Fields {
				if !allowed[field] {
					delete(entry, field)
				}
			}
		}
	}
	return nil
}
