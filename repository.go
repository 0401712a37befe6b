/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"context"
	"fmt"
	"reflect"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/txn"
)

// Repository stores the entities of T for one tenant.
//
// T may be a mapped struct, a declared variant of a family, or the interface
// or struct at the base of a family. A base repository reads every member of
// the family and decodes each document to its stored variant; a variant
// repository sees only documents carrying its discriminator.
//
// Operations join the transaction carried by their context. A repository
// returned by In joins its bound transaction instead.
type Repository[T any] struct {
	client *Client
	loc    registry.Location
	tx     txn.Tx
}

// Location is where the repository's documents are stored.
func (r *Repository[T]) Location() registry.Location { return r.loc }

func (r *Repository[T]) Client() *Client { return r.client }

// In returns a copy of the repository bound to tx, for work running in an
// explicit session.
func (r *Repository[T]) In(tx txn.Tx) *Repository[T] {
	cp := *r
	cp.tx = tx
	return &cp
}

// WithTransaction runs work in a transaction of the repository's client.
func (r *Repository[T]) WithTransaction(ctx context.Context, work func(ctx context.Context, tx txn.Tx) error, opts ...TxOption) error {
	return r.client.WithTransaction(ctx, work, opts...)
}

func (r *Repository[T]) bind(ctx context.Context) context.Context {
	if r.tx != nil {
		return r.tx.Bind(ctx)
	}
	return ctx
}

func (r *Repository[T]) collection(loc registry.Location) (datastore.Collection, error) {
	return r.client.driver.Collection(loc)
}

// locate resolves the mapping of the runtime value of entity and checks it
// belongs to the repository's collection.
func (r *Repository[T]) locate(entity any) (registry.Location, error) {
	if r.loc.Mapping.IsConcrete() && !r.loc.Mapping.IsPolymorphic() {
		return r.loc, nil
	}
	loc, err := r.client.registry.ResolveValue(entity, r.loc.Tenant.ID)
	if err != nil {
		return registry.Location{}, err
	}
	m := loc.Mapping
	if m.Base != r.loc.Mapping.Base || (r.loc.Mapping.IsSubtype() && m != r.loc.Mapping) {
		return registry.Location{}, errors.NewValidationError("entity",
			fmt.Sprintf("%s cannot be stored in the repository of %s", m.TypeName(), r.loc.Mapping.TypeName()))
	}
	return loc, nil
}

// pointerTo returns a pointer to the entity held by *entity, copying values
// held in an interface so their id can be set.
func pointerTo[T any](entity *T) (ptr any, writeBack func(), err error) {
	if entity == nil {
		return nil, nil, errors.NewValidationError("entity", "nil entity")
	}
	v := reflect.ValueOf(entity).Elem()
	if v.Kind() != reflect.Interface {
		return entity, func() {}, nil
	}
	if v.IsNil() {
		return nil, nil, errors.NewValidationError("entity", "nil entity")
	}
	inner := v.Elem()
	if inner.Kind() == reflect.Pointer {
		return inner.Interface(), func() {}, nil
	}
	p := reflect.New(inner.Type())
	p.Elem().Set(inner)
	return p.Interface(), func() { v.Set(p.Elem()) }, nil
}

// Insert stores a new entity. A zero id is filled by the mapping's id
// generator and written back to entity.
func (r *Repository[T]) Insert(ctx context.Context, entity *T) error {
	ptr, writeBack, err := pointerTo(entity)
	if err != nil {
		return err
	}
	loc, err := r.locate(ptr)
	if err != nil {
		return err
	}
	id, err := loc.Mapping.EnsureID(ptr)
	if err != nil {
		return err
	}
	writeBack()

	coll, err := r.collection(loc)
	if err != nil {
		return err
	}
	if err := coll.Insert(r.bind(ctx), ptr); err != nil {
		return err
	}
	r.client.logger.DebugContext(ctx, "entity inserted",
		"type", loc.Mapping.TypeName(), "database", loc.Database, "collection", loc.Collection, "id", registry.IDString(id))
	return nil
}

// Replace overwrites the stored entity with the same id.
func (r *Repository[T]) Replace(ctx context.Context, entity T) error {
	value := any(entity)
	if value == nil {
		return errors.NewValidationError("entity", "nil entity")
	}
	loc, err := r.locate(value)
	if err != nil {
		return err
	}
	if r.loc.Mapping.IsSubtype() {
		id, err := loc.Mapping.ID(value)
		if err != nil {
			return err
		}
		if _, err := r.fetch(ctx, id); err != nil {
			return err
		}
	}
	coll, err := r.collection(loc)
	if err != nil {
		return err
	}
	return coll.Replace(r.bind(ctx), value)
}

// Delete removes the entity with id.
func (r *Repository[T]) Delete(ctx context.Context, id any) error {
	if r.loc.Mapping.IsSubtype() {
		if _, err := r.fetch(ctx, id); err != nil {
			return err
		}
	}
	coll, err := r.collection(r.loc)
	if err != nil {
		return err
	}
	return coll.Delete(r.bind(ctx), id)
}

// Get returns the entity with id.
func (r *Repository[T]) Get(ctx context.Context, id any) (T, error) {
	var zero T
	doc, err := r.fetch(ctx, id)
	if err != nil {
		return zero, err
	}
	return r.decode(doc)
}

// fetch reads the document with id, treating documents of another variant
// as missing in a variant repository.
func (r *Repository[T]) fetch(ctx context.Context, id any) (datastore.Document, error) {
	coll, err := r.collection(r.loc)
	if err != nil {
		return nil, err
	}
	doc, err := coll.FindByID(r.bind(ctx), id)
	if err != nil {
		return nil, err
	}
	if r.loc.Mapping.IsSubtype() && doc.Discriminator() != r.loc.Mapping.Discriminator {
		return nil, errors.NewNotFoundError(r.loc.Mapping.TypeName(), registry.IDString(id))
	}
	return doc, nil
}

// decode turns doc into a T, instantiating the variant its discriminator names.
func (r *Repository[T]) decode(doc datastore.Document) (T, error) {
	var out T
	m := r.loc.Mapping
	tag := doc.Discriminator()

	base := m.Type
	if m.IsPolymorphic() && tag != "" {
		base = m.Base
	} else {
		tag = ""
	}
	inst, err := r.client.registry.NewInstance(base, tag)
	if err != nil {
		return out, err
	}
	vm, err := r.client.registry.Mapping(inst.Type().Elem())
	if err != nil {
		return out, err
	}
	if err := doc.Decode(vm, inst.Interface()); err != nil {
		return out, err
	}
	if err := registry.Assign(reflect.ValueOf(&out).Elem(), inst); err != nil {
		return out, err
	}
	return out, nil
}

// scope restricts filter to the repository's variant.
func (r *Repository[T]) scope(filter storagemodels.Filter) storagemodels.Filter {
	m := r.loc.Mapping
	if !m.IsSubtype() || m.Discriminator == "" {
		return filter
	}
	return append(append(storagemodels.Filter(nil), filter...),
		storagemodels.Condition{Field: registry.DiscriminatorKey, Op: storagemodels.OpEq, Value: m.Discriminator})
}

// Find returns the entities matching filter. Field names are stored element
// names; "_id" addresses the id.
func (r *Repository[T]) Find(ctx context.Context, filter storagemodels.Filter, opts storagemodels.FindOptions) ([]T, error) {
	coll, err := r.collection(r.loc)
	if err != nil {
		return nil, err
	}
	docs, err := coll.Find(r.bind(ctx), r.scope(filter), opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := r.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Count returns the number of entities matching filter.
func (r *Repository[T]) Count(ctx context.Context, filter storagemodels.Filter) (int64, error) {
	coll, err := r.collection(r.loc)
	if err != nil {
		return 0, err
	}
	return coll.Count(r.bind(ctx), r.scope(filter))
}
