/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mongodb

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
)

type collection struct {
	coll    *mongo.Collection
	mapping *registry.EntityMapping
}

func (c *collection) encode(entity any) (bson.D, any, error) {
	doc, err := datastore.EncodeBSON(c.mapping, entity)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range doc {
		if e.Key == datastore.IDElement {
			return doc, e.Value, nil
		}
	}
	return nil, nil, errors.NewValidationError("id", fmt.Sprintf("%s document has no id", c.mapping.TypeName()))
}

func (c *collection) Insert(ctx context.Context, entity any) error {
	doc, id, err := c.encode(entity)
	if err != nil {
		return err
	}
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.NewAlreadyExistsError(c.mapping.TypeName(), registry.IDString(id))
		}
		return fmt.Errorf("insert %s: %w", c.mapping.TypeName(), err)
	}
	return nil
}

func (c *collection) Replace(ctx context.Context, entity any) error {
	doc, id, err := c.encode(entity)
	if err != nil {
		return err
	}
	res, err := c.coll.ReplaceOne(ctx, bson.D{{Key: datastore.IDElement, Value: id}}, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.NewAlreadyExistsError(c.mapping.TypeName(), registry.IDString(id))
		}
		return fmt.Errorf("replace %s: %w", c.mapping.TypeName(), err)
	}
	if res.MatchedCount == 0 {
		return errors.NewNotFoundError(c.mapping.TypeName(), registry.IDString(id))
	}
	return nil
}

func (c *collection) Delete(ctx context.Context, id any) error {
	res, err := c.coll.DeleteOne(ctx, bson.D{{Key: datastore.IDElement, Value: id}})
	if err != nil {
		return fmt.Errorf("delete %s: %w", c.mapping.TypeName(), err)
	}
	if res.DeletedCount == 0 {
		return errors.NewNotFoundError(c.mapping.TypeName(), registry.IDString(id))
	}
	return nil
}

func (c *collection) FindByID(ctx context.Context, id any) (datastore.Document, error) {
	raw, err := c.coll.FindOne(ctx, bson.D{{Key: datastore.IDElement, Value: id}}).Raw()
	if err != nil {
		if stderrors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.NewNotFoundError(c.mapping.TypeName(), registry.IDString(id))
		}
		return nil, fmt.Errorf("find %s: %w", c.mapping.TypeName(), err)
	}
	return datastore.BSONDocument{Raw: raw}, nil
}

func (c *collection) Find(ctx context.Context, filter storagemodels.Filter, opts storagemodels.FindOptions) ([]datastore.Document, error) {
	query, err := toBSON(filter)
	if err != nil {
		return nil, err
	}
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		sort := make(bson.D, 0, len(opts.Sort))
		for _, s := range opts.Sort {
			dir := 1
			if s.Descending {
				dir = -1
			}
			sort = append(sort, bson.E{Key: s.Field, Value: dir})
		}
		findOpts.SetSort(sort)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}

	cursor, err := c.coll.Find(ctx, query, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.mapping.TypeName(), err)
	}
	defer cursor.Close(ctx)

	var docs []datastore.Document
	for cursor.Next(ctx) {
		raw := make(bson.Raw, len(cursor.Current))
		copy(raw, cursor.Current)
		docs = append(docs, datastore.BSONDocument{Raw: raw})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("find %s: %w", c.mapping.TypeName(), err)
	}
	return docs, nil
}

func (c *collection) Count(ctx context.Context, filter storagemodels.Filter) (int64, error) {
	query, err := toBSON(filter)
	if err != nil {
		return 0, err
	}
	n, err := c.coll.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.mapping.TypeName(), err)
	}
	return n, nil
}

var operators = map[storagemodels.Op]string{
	storagemodels.OpEq:  "$eq",
	storagemodels.OpNe:  "$ne",
	storagemodels.OpGt:  "$gt",
	storagemodels.OpGte: "$gte",
	storagemodels.OpLt:  "$lt",
	storagemodels.OpLte: "$lte",
	storagemodels.OpIn:  "$in",
}

// toBSON translates filter into a query document.
func toBSON(filter storagemodels.Filter) (bson.D, error) {
	if err := filter.Validate(); err != nil {
		return nil, errors.NewValidationError("filter", err.Error())
	}
	clauses := make(bson.A, 0, len(filter))
	for _, c := range filter {
		value := c.Value
		if c.Op == storagemodels.OpIn {
			value = bson.A(c.Value.([]any))
		}
		clauses = append(clauses, bson.D{{Key: c.Field, Value: bson.D{{Key: operators[c.Op], Value: value}}}})
	}
	switch len(clauses) {
	case 0:
		return bson.D{}, nil
	case 1:
		return clauses[0].(bson.D), nil
	}
	return bson.D{{Key: "$and", Value: clauses}}, nil
}
