/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"reflect"
	"strings"
)

// DiscriminatorKey is the stored element holding a polymorphic document's variant tag.
const DiscriminatorKey = "_t"

// IndexSpec declares a secondary index on a document field path.
type IndexSpec struct {
	Field  string
	Unique bool
}

// Name is the index name used when the index is created physically.
func (i IndexSpec) Name() string {
	name := strings.ReplaceAll(i.Field, ".", "_") + "_1"
	if i.Unique {
		name += "_unique"
	}
	return name
}

// ClassMap overrides the default structural mapping of an entity type.
type ClassMap struct {
	// IDField is the Go field holding the document id.
	IDField string
	// IDGenerator fills IDField on insert when it is zero.
	IDGenerator IDGenerator
	// ElementNames maps Go field names to stored element names.
	ElementNames map[string]string
}

func (c ClassMap) clone() *ClassMap {
	out := c
	if c.ElementNames != nil {
		out.ElementNames = make(map[string]string, len(c.ElementNames))
		for k, v := range c.ElementNames {
			out.ElementNames[k] = v
		}
	}
	return &out
}

// DatabaseRule names the database of a mapping: either a fixed name or a
// template containing {tenant}.
type DatabaseRule struct {
	Name      string
	PerTenant bool
}

func (d DatabaseRule) String() string {
	return d.Name
}

// TenantContext is a tenant together with the database it resolves to.
type TenantContext struct {
	ID       string
	Database string
}

// Location is the physical place an entity type is stored at.
type Location struct {
	Database   string
	Collection string
	Mapping    *EntityMapping
	Tenant     TenantContext
}

// EntityMapping is the structural contract of one entity type. It is
// immutable once the registry is built.
type EntityMapping struct {
	Type          reflect.Type
	Base          reflect.Type
	Database      DatabaseRule
	Collection    string
	Discriminator string

	indexes  []IndexSpec
	classMap *ClassMap
	subtypes []reflect.Type
}

// TypeName is the readable name of the mapped type.
func (m *EntityMapping) TypeName() string {
	return typeName(m.Type)
}

// Indexes returns the indexes declared for the mapping's collection by this type.
func (m *EntityMapping) Indexes() []IndexSpec {
	return append([]IndexSpec(nil), m.indexes...)
}

// ClassMap returns the custom structural mapping, if one was declared.
func (m *EntityMapping) ClassMap() (ClassMap, bool) {
	if m.classMap == nil {
		return ClassMap{}, false
	}
	return *m.classMap.clone(), true
}

// Subtypes returns the declared variants of a polymorphic base.
func (m *EntityMapping) Subtypes() []reflect.Type {
	return append([]reflect.Type(nil), m.subtypes...)
}

// IsPolymorphic reports whether documents of this mapping carry a discriminator.
func (m *EntityMapping) IsPolymorphic() bool {
	return m.Discriminator != "" || len(m.subtypes) > 0
}

// IsSubtype reports whether the mapping is a variant of another type.
func (m *EntityMapping) IsSubtype() bool {
	return m.Base != m.Type
}

// IsConcrete reports whether documents can be decoded into the mapped type itself.
func (m *EntityMapping) IsConcrete() bool {
	return m.Type.Kind() == reflect.Struct
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// normalize strips pointers so that T and *T share one mapping.
func normalize(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Unregistered returns a mapping of t stored in collection that belongs to no
// registry, for bookkeeping collections kept next to mapped ones.
func Unregistered(t reflect.Type, collection string) *EntityMapping {
	t = normalize(t)
	return &EntityMapping{Type: t, Base: t, Collection: collection}
}
