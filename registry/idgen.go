/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"fmt"
	"reflect"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDGenerator produces document ids for a given id field type.
type IDGenerator interface {
	Name() string
	// GenerateID returns a new id assignable or convertible to fieldType.
	GenerateID(fieldType reflect.Type) (any, error)
}

var (
	objectIDType       = reflect.TypeOf(primitive.ObjectID{})
	strfmtObjectIDType = reflect.TypeOf(strfmt.ObjectId{})
	uuidType           = reflect.TypeOf(uuid.UUID{})
	strfmtUUIDType     = reflect.TypeOf(strfmt.UUID(""))
	ulidType           = reflect.TypeOf(strfmt.ULID{})
)

type objectIDGenerator struct{}

// ObjectIDGenerator generates BSON ObjectIDs.
var ObjectIDGenerator IDGenerator = objectIDGenerator{}

func (objectIDGenerator) Name() string { return "objectid" }

func (objectIDGenerator) GenerateID(ft reflect.Type) (any, error) {
	oid := primitive.NewObjectID()
	switch {
	case ft == strfmtObjectIDType:
		return strfmt.ObjectId(oid), nil
	case ft.Kind() == reflect.String:
		return oid.Hex(), nil
	}
	return oid, nil
}

type stringObjectIDGenerator struct{}

// StringObjectIDGenerator generates hex encoded ObjectIDs for string id fields.
var StringObjectIDGenerator IDGenerator = stringObjectIDGenerator{}

func (stringObjectIDGenerator) Name() string { return "string-objectid" }

func (stringObjectIDGenerator) GenerateID(reflect.Type) (any, error) {
	return primitive.NewObjectID().Hex(), nil
}

type uuidGenerator struct{}

// UUIDGenerator generates random (version 4) UUIDs.
var UUIDGenerator IDGenerator = uuidGenerator{}

func (uuidGenerator) Name() string { return "uuid" }

func (uuidGenerator) GenerateID(ft reflect.Type) (any, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate uuid: %w", err)
	}
	switch {
	case ft == uuidType:
		return id, nil
	case ft == strfmtUUIDType:
		return strfmt.UUID(id.String()), nil
	}
	return id.String(), nil
}

type ulidGenerator struct{}

// ULIDGenerator generates lexically sortable ULIDs.
var ULIDGenerator IDGenerator = ulidGenerator{}

func (ulidGenerator) Name() string { return "ulid" }

func (ulidGenerator) GenerateID(ft reflect.Type) (any, error) {
	id, err := strfmt.NewULID()
	if err != nil {
		return nil, fmt.Errorf("generate ulid: %w", err)
	}
	if ft == ulidType {
		return id, nil
	}
	return id.String(), nil
}

type noIDGenerator struct{}

// NoIDGenerator leaves id generation to the caller.
var NoIDGenerator IDGenerator = noIDGenerator{}

func (noIDGenerator) Name() string { return "none" }

func (noIDGenerator) GenerateID(reflect.Type) (any, error) {
	return nil, nil
}

// DefaultIDGenerator picks a generator from the id field type.
func DefaultIDGenerator(fieldType reflect.Type) IDGenerator {
	switch {
	case fieldType == nil:
		return NoIDGenerator
	case fieldType == objectIDType, fieldType == strfmtObjectIDType:
		return ObjectIDGenerator
	case fieldType == uuidType, fieldType == strfmtUUIDType:
		return UUIDGenerator
	case fieldType == ulidType:
		return ULIDGenerator
	case fieldType.Kind() == reflect.String:
		return StringObjectIDGenerator
	}
	return NoIDGenerator
}
