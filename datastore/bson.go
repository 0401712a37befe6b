/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/suparena/entityrepo/registry"
)

// IDElement is the stored name of the id element in BSON documents.
const IDElement = "_id"

// EncodeBSON encodes entity the way m stores it: renamed elements, the id
// element as "_id" and the discriminator, when m has one, first.
func EncodeBSON(m *registry.EntityMapping, entity any) (bson.D, error) {
	raw, err := bson.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.TypeName(), err)
	}
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.TypeName(), err)
	}

	renames := m.StoredNames(registry.BSONFieldName)
	if el, ok := m.IDElement(registry.BSONFieldName); ok && el != IDElement {
		renames[el] = IDElement
	}

	out := make(bson.D, 0, len(doc)+1)
	if m.Discriminator != "" {
		out = append(out, bson.E{Key: registry.DiscriminatorKey, Value: m.Discriminator})
	}
	for _, e := range doc {
		if e.Key == registry.DiscriminatorKey {
			continue
		}
		if stored, ok := renames[e.Key]; ok {
			e.Key = stored
		}
		out = append(out, e)
	}
	return out, nil
}

// DecodeBSON reverses EncodeBSON into dst.
func DecodeBSON(m *registry.EntityMapping, raw bson.Raw, dst any) error {
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode %s: %w", m.TypeName(), err)
	}

	encoded := map[string]string{}
	for enc, stored := range m.StoredNames(registry.BSONFieldName) {
		encoded[stored] = enc
	}
	if el, ok := m.IDElement(registry.BSONFieldName); ok && el != IDElement {
		encoded[IDElement] = el
	}

	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		if e.Key == registry.DiscriminatorKey {
			continue
		}
		if name, ok := encoded[e.Key]; ok {
			e.Key = name
		}
		out = append(out, e)
	}

	b, err := bson.Marshal(out)
	if err != nil {
		return fmt.Errorf("decode %s: %w", m.TypeName(), err)
	}
	if err := bson.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode %s: %w", m.TypeName(), err)
	}
	return nil
}

// BSONDocument is a Document held as raw BSON.
type BSONDocument struct {
	Raw bson.Raw
}

func (d BSONDocument) Discriminator() string {
	tag, _ := d.Raw.Lookup(registry.DiscriminatorKey).StringValueOK()
	return tag
}

func (d BSONDocument) Decode(m *registry.EntityMapping, dst any) error {
	return DecodeBSON(m, d.Raw, dst)
}
