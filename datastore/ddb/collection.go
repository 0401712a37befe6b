/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/txn"
)

type collection struct {
	d       *Driver
	table   string
	mapping *registry.EntityMapping
}

// txFor ensures the table exists and returns the DynamoDB transaction
// carried by ctx, or nil.
func (c *collection) txFor(ctx context.Context) (*tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.d.ensureTable(ctx, c.table); err != nil {
		return nil, err
	}
	current, ok := txn.From(ctx)
	if !ok {
		return nil, nil
	}
	t, ok := current.(*tx)
	if !ok || t.d != c.d {
		return nil, errors.NewValidationError("transaction", "transaction belongs to another driver")
	}
	return t, nil
}

// get reads one item, seeing the writes buffered by t when t is not nil.
func (c *collection) get(ctx context.Context, t *tx, key string) (item, error) {
	if t != nil {
		if o, ok := t.pending(itemKey{table: c.table, key: key}); ok {
			if o.kind == opDelete {
				return nil, nil
			}
			return o.item, nil
		}
	}
	out, err := c.d.client.GetItem(ctx, &sdk.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem error: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func (c *collection) Insert(ctx context.Context, entity any) error {
	av, key, err := encodeItem(c.mapping, entity)
	if err != nil {
		return err
	}
	t, err := c.txFor(ctx)
	if err != nil {
		return err
	}

	if t != nil {
		return within(t, func() error {
			existing, err := c.get(ctx, t, key)
			if err != nil {
				return err
			}
			if existing != nil {
				return errors.NewAlreadyExistsError(c.mapping.TypeName(), key)
			}
			t.record(itemKey{table: c.table, key: key}, op{kind: opInsert, item: av, typeName: c.mapping.TypeName()})
			return nil
		})
	}

	_, err = c.d.client.PutItem(ctx, &sdk.PutItemInput{
		TableName:                aws.String(c.table),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": KeyAttribute},
	})
	if isConditionFailure(err) {
		return errors.NewAlreadyExistsError(c.mapping.TypeName(), key)
	}
	if err != nil {
		return fmt.Errorf("PutItem failed: %w", err)
	}
	return nil
}

func (c *collection) Replace(ctx context.Context, entity any) error {
	av, key, err := encodeItem(c.mapping, entity)
	if err != nil {
		return err
	}
	return c.overwrite(ctx, key, av)
}

func (c *collection) Delete(ctx context.Context, id any) error {
	key := registry.IDString(id)
	if key == "" {
		return errors.NewValidationError("id", "empty id")
	}
	return c.overwrite(ctx, key, nil)
}

// overwrite replaces or, with av nil, deletes an existing item.
func (c *collection) overwrite(ctx context.Context, key string, av item) error {
	t, err := c.txFor(ctx)
	if err != nil {
		return err
	}

	if t != nil {
		return within(t, func() error {
			existing, err := c.get(ctx, t, key)
			if err != nil {
				return err
			}
			if existing == nil {
				return errors.NewNotFoundError(c.mapping.TypeName(), key)
			}
			next := op{kind: opReplace, item: av, typeName: c.mapping.TypeName()}
			if av == nil {
				next.kind = opDelete
			}
			t.record(itemKey{table: c.table, key: key}, next)
			return nil
		})
	}

	names := map[string]string{"#pk": KeyAttribute}
	if av == nil {
		_, err = c.d.client.DeleteItem(ctx, &sdk.DeleteItemInput{
			TableName:                aws.String(c.table),
			Key:                      keyOf(key),
			ConditionExpression:      aws.String("attribute_exists(#pk)"),
			ExpressionAttributeNames: names,
		})
	} else {
		_, err = c.d.client.PutItem(ctx, &sdk.PutItemInput{
			TableName:                aws.String(c.table),
			Item:                     av,
			ConditionExpression:      aws.String("attribute_exists(#pk)"),
			ExpressionAttributeNames: names,
		})
	}
	if isConditionFailure(err) {
		return errors.NewNotFoundError(c.mapping.TypeName(), key)
	}
	if err != nil {
		return fmt.Errorf("failed to write item in DynamoDB: %w", err)
	}
	return nil
}

func (c *collection) FindByID(ctx context.Context, id any) (datastore.Document, error) {
	key := registry.IDString(id)
	if key == "" {
		return nil, errors.NewValidationError("id", "empty id")
	}
	t, err := c.txFor(ctx)
	if err != nil {
		return nil, err
	}

	var found item
	if t != nil {
		err = within(t, func() error {
			found, err = c.get(ctx, t, key)
			return err
		})
	} else {
		found, err = c.get(ctx, nil, key)
	}
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errors.NewNotFoundError(c.mapping.TypeName(), key)
	}
	return Document{Item: found}, nil
}

func (c *collection) Find(ctx context.Context, filter storagemodels.Filter, opts storagemodels.FindOptions) ([]datastore.Document, error) {
	items, err := c.matching(ctx, filter)
	if err != nil {
		return nil, err
	}
	items = order(items, opts)
	out := make([]datastore.Document, 0, len(items))
	for _, it := range items {
		out = append(out, Document{Item: it})
	}
	return out, nil
}

// Count uses a COUNT Scan or Query outside transactions.
func (c *collection) Count(ctx context.Context, filter storagemodels.Filter) (int64, error) {
	conds, err := compile(filter)
	if err != nil {
		return 0, err
	}
	t, err := c.txFor(ctx)
	if err != nil {
		return 0, err
	}
	if t != nil {
		items, err := c.matching(ctx, filter)
		return int64(len(items)), err
	}

	var total int64
	err = c.d.streamPages(ctx, c.d.plan(c.table, conds, true), func(pg page) error {
		total += int64(pg.count)
		return nil
	})
	return total, err
}

func (c *collection) matching(ctx context.Context, filter storagemodels.Filter) ([]item, error) {
	conds, err := compile(filter)
	if err != nil {
		return nil, err
	}
	t, err := c.txFor(ctx)
	if err != nil {
		return nil, err
	}

	var out []item
	err = c.d.streamPages(ctx, c.d.plan(c.table, conds, false), func(pg page) error {
		for _, it := range pg.items {
			if !matches(it, conds) {
				continue
			}
			if t != nil {
				if t.has(itemKey{table: c.table, key: itemKeyString(it)}) {
					continue
				}
			}
			out = append(out, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return out, nil
	}

	err = within(t, func() error {
		for _, k := range t.order {
			o := t.ops[k]
			if k.table != c.table || o.kind == opDelete || !matches(o.item, conds) {
				continue
			}
			out = append(out, o.item)
		}
		return nil
	})
	return out, err
}

func itemKeyString(it item) string {
	if s, ok := it[KeyAttribute].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func isConditionFailure(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	return err != nil && stderrors.As(err, &cfe)
}
