/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"context"
	"reflect"
	"time"

	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/txn"
)

// TrashCollection is the collection, in each database, holding trashed entities.
const TrashCollection = "DeletedObjects"

// DeletedObject is a trashed entity together with where it came from.
type DeletedObject struct {
	ID               string    `bson:"_id" dynamodbav:"id"`
	TypeName         string    `bson:"typeName" dynamodbav:"typeName"`
	SourceCollection string    `bson:"sourceCollection" dynamodbav:"sourceCollection"`
	ObjectID         string    `bson:"objectId" dynamodbav:"objectId"`
	Discriminator    string    `bson:"discriminator,omitempty" dynamodbav:"discriminator,omitempty"`
	Tenant           string    `bson:"tenant,omitempty" dynamodbav:"tenant,omitempty"`
	Reason           string    `bson:"reason,omitempty" dynamodbav:"reason,omitempty"`
	DeletedAt        time.Time `bson:"deletedAt" dynamodbav:"deletedAt"`
	Content          any       `bson:"content" dynamodbav:"content"`
}

var trashMapping = registry.Unregistered(reflect.TypeFor[DeletedObject](), TrashCollection)

// trashLocation is the trash collection of the repository's database.
func (r *Repository[T]) trashLocation() registry.Location {
	return registry.Location{
		Database:   r.loc.Database,
		Collection: TrashCollection,
		Mapping:    trashMapping,
		Tenant:     r.loc.Tenant,
	}
}

// Trash moves the entity with id into the database's DeletedObjects
// collection. Removal and the trash record are written in one transaction;
// when ctx or the repository already carries one, Trash joins it.
func (r *Repository[T]) Trash(ctx context.Context, id any, reason string) error {
	if _, ok := txn.From(ctx); ok || r.tx != nil {
		return r.trash(r.bind(ctx), id, reason)
	}
	return r.client.WithTransaction(ctx, func(ctx context.Context, tx txn.Tx) error {
		return r.trash(tx.Bind(ctx), id, reason)
	})
}

func (r *Repository[T]) trash(ctx context.Context, id any, reason string) error {
	doc, err := r.fetch(ctx, id)
	if err != nil {
		return err
	}
	entity, err := r.decode(doc)
	if err != nil {
		return err
	}

	typeName := r.loc.Mapping.TypeName()
	if t, err := r.client.registry.TypeForDiscriminator(r.loc.Mapping.Base, doc.Discriminator()); err == nil && doc.Discriminator() != "" {
		typeName = t.String()
	}
	record := &DeletedObject{
		TypeName:         typeName,
		SourceCollection: r.loc.Collection,
		ObjectID:         registry.IDString(id),
		Discriminator:    doc.Discriminator(),
		Tenant:           r.loc.Tenant.ID,
		Reason:           reason,
		DeletedAt:        time.Now().UTC(),
		Content:          entity,
	}
	if _, err := trashMapping.EnsureID(record); err != nil {
		return err
	}

	trash, err := r.collection(r.trashLocation())
	if err != nil {
		return err
	}
	if err := trash.Insert(ctx, record); err != nil {
		return err
	}
	source, err := r.collection(r.loc)
	if err != nil {
		return err
	}
	if err := source.Delete(ctx, id); err != nil {
		return err
	}
	r.client.logger.InfoContext(ctx, "entity trashed",
		"type", typeName, "database", r.loc.Database, "collection", r.loc.Collection,
		"id", record.ObjectID, "reason", reason)
	return nil
}

// Trashed lists the trash records of entities trashed from the repository's
// collection, oldest first.
func (r *Repository[T]) Trashed(ctx context.Context) ([]DeletedObject, error) {
	trash, err := r.collection(r.trashLocation())
	if err != nil {
		return nil, err
	}
	docs, err := trash.Find(r.bind(ctx),
		storagemodels.Eq("sourceCollection", r.loc.Collection),
		storagemodels.FindOptions{Sort: []storagemodels.SortField{{Field: "deletedAt"}}})
	if err != nil {
		return nil, err
	}
	out := make([]DeletedObject, 0, len(docs))
	for _, doc := range docs {
		var d DeletedObject
		if err := doc.Decode(trashMapping, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
