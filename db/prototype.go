// ABOUTME: Prototype-based cloning of templated object subtrees
// ABOUTME: Copies a $prototype$ tree with token substitution in metaid and content
package db

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openpanel-ng/corestore/models"
)

// prototypeMetaID is the metaid a prototype subtree root carries.
const prototypeMetaID = "$prototype$"

// substituteTokens replaces every token of repl inside s. Token substitution
// only, not full templating.
func substituteTokens(s string, repl map[string]string) string {
	for token, with := range repl {
		s = strings.ReplaceAll(s, token, with)
	}
	return s
}

// copyPrototype clones the subtree rooted at fromID as a child of parentID,
// substituting repl tokens in the metaid and in every string content field.
// Fields present in overriding win over substitution, substitution wins over
// a literal copy; descendants recurse with an empty override set. Runs inside
// the caller's transaction, so a failing step leaves no partial tree.
func (m *Manager) copyPrototype(x runner, fromID, parentID, ownerID int64, repl map[string]string, root bool, overriding models.Document) (string, error) {
	m.log.Debug("copy prototype",
		zap.Int64("from", fromID), zap.Int64("parent", parentID))

	res, err := x.run(
		"SELECT /* copyPrototype */ class, content, metaid FROM objects WHERE id=?", fromID)
	if err != nil {
		return "", err
	}
	if len(res.Rows) != 1 {
		return "", ErrBackend.New("object %d disappeared on the path of recursion, prototyping failed", fromID)
	}
	in := res.First()

	classID := in.Int("class")
	newMetaID := substituteTokens(in["metaid"], repl)

	def, err := m.classDef(x, classID)
	if err != nil {
		return "", err
	}

	ucValue, hasUC, err := m.uniqueContext(x, def, classID, parentID)
	if err != nil {
		return "", err
	}
	if hasUC {
		if err := m.liveMetaIDTaken(x, ucValue, newMetaID); err != nil {
			return "", err
		}
	}

	inContent, err := deserialize(in["content"])
	if err != nil {
		return "", ErrBackend.Wrap(err)
	}
	outContent := make(models.Document, len(inContent))
	for name, v := range inContent {
		if ov := overriding.String(name); ov != "" {
			outContent[name] = ov
			continue
		}
		if s, ok := v.(string); ok {
			outContent[name] = substituteTokens(s, repl)
			continue
		}
		outContent[name] = v
	}

	content, err := serialize(outContent)
	if err != nil {
		return "", ErrBackend.Wrap(err)
	}

	newUUID := uuid.NewString()
	ins, err := x.run(
		"INSERT /* copyPrototype */ INTO objects (uuid, class, metaid, parent, owner, uniquecontext, content) VALUES (?, ?, ?, ?, ?, ?, ?)",
		newUUID, classID, nullable(newMetaID), parentID, ownerID, nullableInt(ucValue, hasUC), content)
	if err != nil {
		return "", err
	}

	children, err := x.run(
		"SELECT /* copyPrototype */ id FROM objects WHERE parent=? AND deleted=0", fromID)
	if err != nil {
		return "", err
	}
	for _, child := range children.Rows {
		if _, err := m.copyPrototype(x, child.Int("id"), ins.InsertID, ownerID, repl, false, nil); err != nil {
			return "", err
		}
	}

	return newUUID, nil
}
