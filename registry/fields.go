/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/suparena/entityrepo/errors"
)

// FieldNamer returns the element name an encoder gives a struct field, or ""
// when the encoder skips it.
type FieldNamer func(f reflect.StructField) string

// BSONFieldName follows the bson encoder: the `bson` tag name, else the
// lowercased field name.
func BSONFieldName(f reflect.StructField) string {
	return tagName(f, "bson", strings.ToLower(f.Name))
}

// DynamoFieldName follows the attributevalue encoder: the `dynamodbav` tag
// name, else the field name.
func DynamoFieldName(f reflect.StructField) string {
	return tagName(f, "dynamodbav", f.Name)
}

func tagName(f reflect.StructField, key, fallback string) string {
	if !f.IsExported() {
		return ""
	}
	tag, ok := f.Tag.Lookup(key)
	if !ok {
		return fallback
	}
	name, _, _ := strings.Cut(tag, ",")
	switch name {
	case "-":
		return ""
	case "":
		return fallback
	}
	return name
}

// IDField returns the Go field holding the document id: the class map's
// IDField, else a field tagged `bson:"_id"`, else a field named ID or Id.
func (m *EntityMapping) IDField() (reflect.StructField, bool) {
	if !m.IsConcrete() {
		return reflect.StructField{}, false
	}
	if m.classMap != nil && m.classMap.IDField != "" {
		return m.Type.FieldByName(m.classMap.IDField)
	}
	for i := 0; i < m.Type.NumField(); i++ {
		f := m.Type.Field(i)
		if BSONFieldName(f) == "_id" {
			return f, true
		}
	}
	for _, name := range []string{"ID", "Id"} {
		if f, ok := m.Type.FieldByName(name); ok && f.IsExported() {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// IDGenerator returns the generator of the mapping's id field.
func (m *EntityMapping) IDGenerator() IDGenerator {
	if m.classMap != nil && m.classMap.IDGenerator != nil {
		return m.classMap.IDGenerator
	}
	f, ok := m.IDField()
	if !ok {
		return NoIDGenerator
	}
	return DefaultIDGenerator(f.Type)
}

// IDElement is the encoded element name of the id field under namer.
func (m *EntityMapping) IDElement(namer FieldNamer) (string, bool) {
	f, ok := m.IDField()
	if !ok {
		return "", false
	}
	name := namer(f)
	return name, name != ""
}

// StoredNames maps encoded element names to stored element names for every
// field the class map renames. The id field is not included.
func (m *EntityMapping) StoredNames(namer FieldNamer) map[string]string {
	out := map[string]string{}
	if m.classMap == nil || !m.IsConcrete() {
		return out
	}
	for goName, stored := range m.classMap.ElementNames {
		f, ok := m.Type.FieldByName(goName)
		if !ok {
			continue
		}
		if encoded := namer(f); encoded != "" && encoded != stored {
			out[encoded] = stored
		}
	}
	return out
}

// ID reads the id field of entity, which may be a struct or a pointer to one.
func (m *EntityMapping) ID(entity any) (any, error) {
	v, err := m.structValue(entity)
	if err != nil {
		return nil, err
	}
	f, ok := m.IDField()
	if !ok {
		return nil, errors.NewValidationError("id", fmt.Sprintf("%s has no id field", m.TypeName()))
	}
	return v.FieldByIndex(f.Index).Interface(), nil
}

// EnsureID fills a zero id field of entity with the mapping's generator and
// returns the id. entity must be a pointer.
func (m *EntityMapping) EnsureID(entity any) (any, error) {
	v, err := m.structValue(entity)
	if err != nil {
		return nil, err
	}
	f, ok := m.IDField()
	if !ok {
		return nil, errors.NewValidationError("id", fmt.Sprintf("%s has no id field", m.TypeName()))
	}
	field := v.FieldByIndex(f.Index)
	if !field.IsZero() {
		return field.Interface(), nil
	}
	if !field.CanSet() {
		return nil, errors.NewValidationError("id", fmt.Sprintf("%s must be passed by pointer to generate its id", m.TypeName()))
	}

	gen := m.IDGenerator()
	id, err := gen.GenerateID(f.Type)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, errors.NewValidationError(f.Name, fmt.Sprintf("%s id is required (generator %s)", m.TypeName(), gen.Name()))
	}

	idv := reflect.ValueOf(id)
	switch {
	case idv.Type().AssignableTo(f.Type):
		field.Set(idv)
	case idv.Type().ConvertibleTo(f.Type):
		field.Set(idv.Convert(f.Type))
	default:
		return nil, errors.NewValidationError(f.Name, fmt.Sprintf("generator %s produces %s, field is %s", gen.Name(), idv.Type(), f.Type))
	}
	return field.Interface(), nil
}

func (m *EntityMapping) structValue(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, errors.NewValidationError("entity", "nil entity")
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}, errors.NewValidationError("entity", "nil entity")
	}
	if v.Type() != m.Type {
		return reflect.Value{}, errors.NewValidationError("entity", fmt.Sprintf("got %s, mapping is for %s", v.Type(), m.TypeName()))
	}
	return v, nil
}

// IDString renders an id for keys and messages.
func IDString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case interface{ Hex() string }:
		return v.Hex()
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(id)
}
