/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
)

type item = map[string]types.AttributeValue

// encodeItem marshals entity with its renamed attributes, the rendered id
// under KeyAttribute and the discriminator, and returns the key too.
func encodeItem(m *registry.EntityMapping, entity any) (item, string, error) {
	id, err := m.ID(entity)
	if err != nil {
		return nil, "", err
	}
	key := registry.IDString(id)
	if key == "" {
		return nil, "", errors.NewValidationError("id", fmt.Sprintf("%s has an empty id", m.TypeName()))
	}

	av, err := attributevalue.MarshalMap(entity)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal entity: %w", err)
	}
	for encoded, stored := range m.StoredNames(registry.DynamoFieldName) {
		if v, ok := av[encoded]; ok {
			delete(av, encoded)
			av[stored] = v
		}
	}
	av[KeyAttribute] = &types.AttributeValueMemberS{Value: key}
	if m.Discriminator != "" {
		av[registry.DiscriminatorKey] = &types.AttributeValueMemberS{Value: m.Discriminator}
	} else {
		delete(av, registry.DiscriminatorKey)
	}
	return av, key, nil
}

func keyOf(key string) item {
	return item{KeyAttribute: &types.AttributeValueMemberS{Value: key}}
}

// Document is a stored DynamoDB item.
type Document struct {
	Item item
}

var _ datastore.Document = Document{}

func (d Document) Discriminator() string {
	if s, ok := d.Item[registry.DiscriminatorKey].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// Decode drops the key and discriminator attributes, restores renamed
// attributes and unmarshals the rest into dst.
func (d Document) Decode(m *registry.EntityMapping, dst any) error {
	av := make(item, len(d.Item))
	for k, v := range d.Item {
		av[k] = v
	}
	delete(av, KeyAttribute)
	delete(av, registry.DiscriminatorKey)
	for encoded, stored := range m.StoredNames(registry.DynamoFieldName) {
		if v, ok := av[stored]; ok {
			delete(av, stored)
			av[encoded] = v
		}
	}
	if err := attributevalue.UnmarshalMap(av, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", m.TypeName(), err)
	}
	return nil
}

// attributeName translates a filter or sort field to its attribute.
func attributeName(field string) string {
	if field == datastore.IDElement {
		return KeyAttribute
	}
	return field
}

// lookup follows a dotted path through nested maps.
func lookup(it item, path string) (types.AttributeValue, bool) {
	parts := strings.Split(attributeName(path), ".")
	cur := it
	for i, part := range parts {
		v, ok := cur[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		cur = m.Value
	}
	return nil, false
}

// compareValues orders two attribute values of the same kind. ok is false
// when they are not comparable.
func compareValues(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, err1 := strconv.ParseFloat(av.Value, 64)
		y, err2 := strconv.ParseFloat(bv.Value, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, false
		}
		switch {
		case av.Value == bv.Value:
			return 0, true
		case !av.Value:
			return -1, true
		}
		return 1, true
	case *types.AttributeValueMemberNULL:
		if _, ok := b.(*types.AttributeValueMemberNULL); ok {
			return 0, true
		}
	}
	return 0, false
}
