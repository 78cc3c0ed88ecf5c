// Package schema describes every entity the admin client edits: its REST resource,
// form fields, payload rules and the messages shown around it.
package schema

import (
	"fmt"
	"strings"

	"sandia/internal/apiclient"
)

// Kind is the input kind of a form field.
type Kind string

const (
	KindText      Kind = "text"
	KindNumber    Kind = "number"
	KindDate      Kind = "date"     // YYYY-MM-DD
	KindTime      Kind = "time"     // HH:MM
	KindDateTime  Kind = "datetime" // YYYY-MM-DDTHH:MM
	KindReference Kind = "reference"
	KindChoice    Kind = "choice"
	KindPassword  Kind = "password"
)

// Field maps one API field onto a form input.
type Field struct {
	Name    string
	Label   string
	Kind    Kind
	Default any

	Required         bool
	RequiredOnCreate bool
	RequiredMessage  string

	// WriteOnly fields are never loaded into a draft and are omitted from the
	// payload when left blank.
	WriteOnly bool
	// NullIfEmpty sends JSON null instead of "" for a blank value.
	NullIfEmpty bool

	// Ref names the entity a KindReference field points at.
	Ref string
	// Exclusive references may be linked by at most one record of this entity,
	// so the selector only offers targets that are not consumed yet.
	Exclusive bool
	// LockedOnEdit fields cannot change once the record exists.
	LockedOnEdit bool

	Options []string
}

// Lookup resolves a related record by entity name and identifier value.
type Lookup func(entity string, id any) (apiclient.Record, bool)

// Entity is one row of the catalog.
type Entity struct {
	Name     string
	Resource string
	Label    string
	Plural   string

	Fields []Field
	// Fixed values are added to every create and update payload.
	Fixed map[string]any
	// Derived payload keys copy the value of another payload key.
	Derived map[string]string

	// ErrorFields are checked first, in order, when the backend rejects a save.
	ErrorFields []string
	// DeleteBlocked is shown when a delete fails on dependent records. Empty means
	// the generic delete failure text is used.
	DeleteBlocked string

	Created func(draft, echoed apiclient.Record) string
	Updated func(id int64, draft apiclient.Record) string
	Option  func(r apiclient.Record) string
	Summary func(r apiclient.Record, lookup Lookup) (primary, secondary string)
}

// Field returns the named field.
func (e *Entity) Field(name string) (*Field, bool) {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// Defaults returns a fresh draft with every field at its default value.
func (e *Entity) Defaults() apiclient.Record {
	out := make(apiclient.Record, len(e.Fields))
	for _, f := range e.Fields {
		if f.Default != nil {
			out[f.Name] = f.Default
		} else {
			out[f.Name] = ""
		}
	}
	return out
}

// References returns the distinct entity names referenced by the form, in field order.
func (e *Entity) References() []string {
	var refs []string
	seen := map[string]bool{}
	for _, f := range e.Fields {
		if f.Kind != KindReference || f.Ref == "" || seen[f.Ref] {
			continue
		}
		seen[f.Ref] = true
		refs = append(refs, f.Ref)
	}
	return refs
}

// Deleted is the confirmation shown after a successful delete.
func (e *Entity) Deleted(id int64) string {
	return fmt.Sprintf("%s ID %d deleted successfully.", capitalize(e.Label), id)
}

// OptionLabel renders r for a selector.
func (e *Entity) OptionLabel(r apiclient.Record) string {
	if e.Option != nil {
		return e.Option(r)
	}
	return "#" + r.Text("id")
}

// Describe renders r as a list line.
func (e *Entity) Describe(r apiclient.Record, lookup Lookup) (string, string) {
	if e.Summary != nil {
		return e.Summary(r, lookup)
	}
	return e.OptionLabel(r), ""
}

// IsEmpty reports whether a draft value counts as blank for required checks.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
