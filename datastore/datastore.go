/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"context"

	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/txn"
)

// Driver is a document database backend.
type Driver interface {
	registry.Indexer

	// Name identifies the backend in logs and configuration.
	Name() string

	// Collection opens the collection at loc. Operations on it join the
	// transaction carried by their context, if any.
	Collection(loc registry.Location) (Collection, error)

	// Transactors begins transactions for every supported enlistment style.
	Transactors() map[txn.Style]txn.Transactor

	// IsTransient reports whether a failed transaction may be retried from
	// scratch.
	IsTransient(err error) bool

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Collection stores the documents of one mapping at one location. Entities
// passed in must already carry their id.
type Collection interface {
	// Insert stores a new document; an existing id fails with errors.AlreadyExistsError.
	Insert(ctx context.Context, entity any) error

	// Replace overwrites the document with the entity's id; a missing
	// document fails with errors.NotFoundError.
	Replace(ctx context.Context, entity any) error

	// Delete removes the document with id; a missing document fails with
	// errors.NotFoundError.
	Delete(ctx context.Context, id any) error

	FindByID(ctx context.Context, id any) (Document, error)
	Find(ctx context.Context, filter storagemodels.Filter, opts storagemodels.FindOptions) ([]Document, error)
	Count(ctx context.Context, filter storagemodels.Filter) (int64, error)
}

// Document is a stored document not yet decoded.
type Document interface {
	// Discriminator is the stored variant tag, or "" for documents without one.
	Discriminator() string

	// Decode fills dst, a pointer to the mapped type of m.
	Decode(m *registry.EntityMapping, dst any) error
}
