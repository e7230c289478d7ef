// ABOUTME: Data models for the object store
// ABOUTME: Defines Object rows, content documents and typed class definitions
package models

import (
	"encoding/json"
	"fmt"
)

// ClassOfClasses is the local id of the root "Class" class. Every class
// definition is stored as an object of this class.
const ClassOfClasses = 1

// ClassClassUUID is the stable uuid of the root "Class" class.
const ClassClassUUID = "8a2a7c4e-0000-4000-8000-636c61737321"

// Reserved identity fields that callers may echo back in a member document.
// They are stripped during field validation rather than rejected.
var ReservedFields = []string{"id", "uuid", "metaid", "parentid", "ownerid"}

// Document is the loosely-typed content payload of an object. Its shape is
// defined by the owning class, not by this package.
type Document map[string]any

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String returns the string form of a field, or "" when absent or non-string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Object is the sole row type of the store: class definitions and instances
// share it. Local ids never leave the process; uuids are the external
// identity.
type Object struct {
	ID            int64    `json:"-"`
	UUID          string   `json:"uuid"`
	Class         int64    `json:"-"`
	MetaID        string   `json:"metaid,omitempty"`
	Parent        int64    `json:"-"`
	Owner         int64    `json:"-"`
	UniqueContext int64    `json:"-"`
	Content       Document `json:"content,omitempty"`
	Deleted       bool     `json:"deleted,omitempty"`
}

// UniqueScope says within which context an object's metaid must be unique.
type UniqueScope int

const (
	UniqueNowhere UniqueScope = iota // class declares no uniqueness context
	UniqueInParent
	UniqueInClass
)

func (u *UniqueScope) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "":
		*u = UniqueNowhere
	case "parent":
		*u = UniqueInParent
	case "class":
		*u = UniqueInClass
	default:
		return fmt.Errorf("unknown uniquein value %q", s)
	}
	return nil
}

func (u UniqueScope) MarshalJSON() ([]byte, error) {
	switch u {
	case UniqueInParent:
		return json.Marshal("parent")
	case UniqueInClass:
		return json.Marshal("class")
	default:
		return json.Marshal("")
	}
}

// ParentRealm constrains a child metaid to be a suffix of its parent metaid.
type ParentRealm int

const (
	RealmNone ParentRealm = iota
	RealmDomainSuffix
	RealmEmailSuffix
)

// Separator is the boundary character enforced between the child's own label
// and the inherited parent suffix.
func (p ParentRealm) Separator() byte {
	if p == RealmEmailSuffix {
		return '@'
	}
	return '.'
}

func (p *ParentRealm) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "":
		*p = RealmNone
	case "domainsuffix":
		*p = RealmDomainSuffix
	case "emailsuffix":
		*p = RealmEmailSuffix
	default:
		return fmt.Errorf("unknown parentrealm value %q", s)
	}
	return nil
}

func (p ParentRealm) MarshalJSON() ([]byte, error) {
	switch p {
	case RealmDomainSuffix:
		return json.Marshal("domainsuffix")
	case RealmEmailSuffix:
		return json.Marshal("emailsuffix")
	default:
		return json.Marshal("")
	}
}

// FieldDef describes one allowed member field of a class.
type FieldDef struct {
	Type             string `json:"type,omitempty"` // "", "password", "ref", ...
	RefClass         string `json:"refclass,omitempty"`
	RefLabel         string `json:"reflabel,omitempty"`
	Nick             string `json:"nick,omitempty"`
	PrivateForModule bool   `json:"privateformodule,omitempty"`
	Description      string `json:"description,omitempty"`
}

// ClassDefinition is the schema document of a class, decoded once at
// registration. Only the attributes the store itself interprets are typed;
// everything a module defines for its own use stays in Fields.
type ClassDefinition struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Version int    `json:"version"`
	Module  string `json:"modulename,omitempty"`

	UniqueIn       UniqueScope `json:"uniquein,omitempty"`
	UniqueClass    string      `json:"uniqueclass,omitempty"`
	Requires       string      `json:"requires,omitempty"`
	ParentRealm    ParentRealm `json:"parentrealm,omitempty"`
	Singleton      string      `json:"singleton,omitempty"`
	MagicDelimiter string      `json:"magicdelimiter,omitempty"`
	Prototype      string      `json:"prototype,omitempty"`
	AllChildren    bool        `json:"allchildren,omitempty"`
	ChildrenDep    string      `json:"childrendep,omitempty"`
	WorldReadable  bool        `json:"worldreadable,omitempty"`
	Indexing       string      `json:"indexing,omitempty"`

	Fields map[string]FieldDef `json:"fields,omitempty"`
}

// ParseClassDefinition decodes a class document. Malformed structural
// attributes (unknown uniquein/parentrealm values) fail here, at registration
// time, rather than deep inside object creation.
func ParseClassDefinition(raw []byte) (*ClassDefinition, error) {
	var def ClassDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Field looks up a field definition by name.
func (c *ClassDefinition) Field(name string) (FieldDef, bool) {
	f, ok := c.Fields[name]
	return f, ok
}

// PrototypeToken is the templated metaid a prototype subtree root carries,
// e.g. "$prototype$".
func (c *ClassDefinition) PrototypeToken() string {
	if c.MagicDelimiter == "" || c.Prototype == "" {
		return ""
	}
	return c.MagicDelimiter + c.Prototype + c.MagicDelimiter
}
