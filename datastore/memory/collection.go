/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package memory

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/txn"
)

type collection struct {
	d       *Driver
	ns      string
	mapping *registry.EntityMapping
}

// txFor returns the memory transaction carried by ctx, or nil.
func (c *collection) txFor(ctx context.Context) (*tx, error) {
	if err := ctx.Err(); err != nil {
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

// within runs fn with the transaction locked, or reports errFinished.
func within(t *tx, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return errFinished
	}
	return fn()
}

func (c *collection) encode(entity any) (bson.Raw, string, error) {
	doc, err := datastore.EncodeBSON(c.mapping, entity)
	if err != nil {
		return nil, "", err
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, "", err
	}
	key, err := rawKey(raw)
	if err != nil {
		return nil, "", err
	}
	return raw, key, nil
}

func (c *collection) Insert(ctx context.Context, entity any) error {
	raw, key, err := c.encode(entity)
	if err != nil {
		return err
	}
	t, err := c.txFor(ctx)
	if err != nil {
		return err
	}
	k := docKey{ns: c.ns, key: key}

	if t != nil {
		return within(t, func() error {
			if _, exists := t.get(k); exists {
				return errors.NewAlreadyExistsError(c.mapping.TypeName(), key)
			}
			t.put(k, raw)
			return nil
		})
	}

	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if existing, _ := c.d.current(c.ns, key); existing != nil {
		return errors.NewAlreadyExistsError(c.mapping.TypeName(), key)
	}
	return c.d.apply([]write{{ns: c.ns, key: key, raw: raw}})
}

func (c *collection) Replace(ctx context.Context, entity any) error {
	raw, key, err := c.encode(entity)
	if err != nil {
		return err
	}
	return c.overwrite(ctx, key, raw)
}

func (c *collection) Delete(ctx context.Context, id any) error {
	key, err := idKey(id)
	if err != nil {
		return err
	}
	return c.overwrite(ctx, key, nil)
}

// overwrite replaces or, with raw nil, deletes an existing document.
func (c *collection) overwrite(ctx context.Context, key string, raw bson.Raw) error {
	t, err := c.txFor(ctx)
	if err != nil {
		return err
	}
	k := docKey{ns: c.ns, key: key}

	if t != nil {
		return within(t, func() error {
			if _, exists := t.get(k); !exists {
				return errors.NewNotFoundError(c.mapping.TypeName(), key)
			}
			t.put(k, raw)
			return nil
		})
	}

	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if existing, _ := c.d.current(c.ns, key); existing == nil {
		return errors.NewNotFoundError(c.mapping.TypeName(), key)
	}
	return c.d.apply([]write{{ns: c.ns, key: key, raw: raw}})
}

func (c *collection) FindByID(ctx context.Context, id any) (datastore.Document, error) {
	key, err := idKey(id)
	if err != nil {
		return nil, err
	}
	t, err := c.txFor(ctx)
	if err != nil {
		return nil, err
	}

	var raw bson.Raw
	if t != nil {
		err = within(t, func() error {
			raw, _ = t.get(docKey{ns: c.ns, key: key})
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		c.d.mu.Lock()
		raw, _ = c.d.current(c.ns, key)
		c.d.mu.Unlock()
	}

	if raw == nil {
		return nil, errors.NewNotFoundError(c.mapping.TypeName(), key)
	}
	return datastore.BSONDocument{Raw: raw}, nil
}

func (c *collection) Find(ctx context.Context, filter storagemodels.Filter, opts storagemodels.FindOptions) ([]datastore.Document, error) {
	docs, err := c.matching(ctx, filter)
	if err != nil {
		return nil, err
	}
	docs = order(docs, opts)
	out := make([]datastore.Document, 0, len(docs))
	for _, s := range docs {
		out = append(out, datastore.BSONDocument{Raw: s.raw})
	}
	return out, nil
}

func (c *collection) Count(ctx context.Context, filter storagemodels.Filter) (int64, error) {
	docs, err := c.matching(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (c *collection) matching(ctx context.Context, filter storagemodels.Filter) ([]snapshot, error) {
	conds, err := compile(filter)
	if err != nil {
		return nil, err
	}
	t, err := c.txFor(ctx)
	if err != nil {
		return nil, err
	}

	var all []snapshot
	if t != nil {
		err = within(t, func() error {
			all = t.scan(c.ns)
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		c.d.mu.Lock()
		all = c.d.scan(c.ns)
		c.d.mu.Unlock()
	}

	out := all[:0]
	for _, s := range all {
		if matches(s.raw, conds) {
			out = append(out, s)
		}
	}
	return out, nil
}
