/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package memory provides an in-process datastore.Driver with optimistic
// transactions, for tests and local runs.
package memory

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
)

// ErrWriteConflict is returned by Commit when a document the transaction
// read or wrote was changed by someone else since.
var ErrWriteConflict = stderrors.New("memory: write conflict")

// Driver is an in-memory datastore.Driver. The zero value is not usable;
// construct with New.
type Driver struct {
	mu          sync.Mutex
	namespaces  map[string]*namespace
	clock       uint64
	failCommits []error
	logger      *slog.Logger
}

type namespace struct {
	docs    map[string]*entry
	indexes map[string]registry.IndexSpec
}

type entry struct {
	raw     bson.Raw
	version uint64
	seq     uint64
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New returns an empty Driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		namespaces: map[string]*namespace{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ datastore.Driver = (*Driver)(nil)

func (d *Driver) Name() string { return "memory" }

func (d *Driver) Ping(context.Context) error { return nil }

func (d *Driver) Close(context.Context) error { return nil }

// IsTransient reports write conflicts as transient.
func (d *Driver) IsTransient(err error) bool {
	return stderrors.Is(err, ErrWriteConflict)
}

// FailCommits makes the next len(errs) commits fail with the given errors in
// order. A nil entry fails with ErrWriteConflict.
func (d *Driver) FailCommits(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, err := range errs {
		if err == nil {
			err = ErrWriteConflict
		}
		d.failCommits = append(d.failCommits, err)
	}
}

// Len returns the number of committed documents in database.collection.
func (d *Driver) Len(database, collection string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.namespaces[nsName(database, collection)]
	if !ok {
		return 0
	}
	return len(ns.docs)
}

// Indexes lists the index names declared on database.collection.
func (d *Driver) Indexes(database, collection string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.namespaces[nsName(database, collection)]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(ns.indexes))
	for name := range ns.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func nsName(database, collection string) string {
	return database + "." + collection
}

// namespace returns the namespace, creating it. d.mu must be held.
func (d *Driver) namespace(name string) *namespace {
	ns, ok := d.namespaces[name]
	if !ok {
		ns = &namespace{docs: map[string]*entry{}, indexes: map[string]registry.IndexSpec{}}
		d.namespaces[name] = ns
	}
	return ns
}

// EnsureIndex declares an index. Declaring a unique index over documents
// that already collide fails.
func (d *Driver) EnsureIndex(_ context.Context, database, collection string, spec registry.IndexSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ns := d.namespace(nsName(database, collection))
	if spec.Unique {
		seen := map[string]string{}
		for key, e := range ns.docs {
			v, ok := lookup(e.raw, spec.Field)
			if !ok {
				continue
			}
			if other, dup := seen[v.String()]; dup {
				return fmt.Errorf("unique index %s on %s: %w", spec.Name(), collection,
					errors.NewAlreadyExistsError(collection, other+", "+key))
			}
			seen[v.String()] = key
		}
	}
	ns.indexes[spec.Name()] = spec
	d.logger.Debug("memory index declared", "namespace", nsName(database, collection), "index", spec.Name())
	return nil
}

// Collection opens the collection at loc.
func (d *Driver) Collection(loc registry.Location) (datastore.Collection, error) {
	if loc.Mapping == nil {
		return nil, errors.NewValidationError("location", "location has no mapping")
	}
	return &collection{d: d, ns: nsName(loc.Database, loc.Collection), mapping: loc.Mapping}, nil
}

// write is one pending change: raw nil deletes the document.
type write struct {
	ns  string
	key string
	raw bson.Raw
}

// apply commits writes after checking unique indexes. d.mu must be held.
func (d *Driver) apply(writes []write) error {
	if err := d.checkUnique(writes); err != nil {
		return err
	}
	d.clock++
	for _, w := range writes {
		ns := d.namespace(w.ns)
		if w.raw == nil {
			delete(ns.docs, w.key)
			continue
		}
		seq := d.clock
		if prev, ok := ns.docs[w.key]; ok {
			seq = prev.seq
		}
		ns.docs[w.key] = &entry{raw: w.raw, version: d.clock, seq: seq}
	}
	return nil
}

// checkUnique verifies that the state after writes satisfies every unique
// index. d.mu must be held.
func (d *Driver) checkUnique(writes []write) error {
	pending := map[string]map[string]bson.Raw{}
	for _, w := range writes {
		if pending[w.ns] == nil {
			pending[w.ns] = map[string]bson.Raw{}
		}
		pending[w.ns][w.key] = w.raw
	}

	for name, changed := range pending {
		ns := d.namespace(name)
		for _, spec := range ns.indexes {
			if !spec.Unique {
				continue
			}
			owners := map[string]string{}
			check := func(key string, raw bson.Raw) error {
				v, ok := lookup(raw, spec.Field)
				if !ok {
					return nil
				}
				if other, dup := owners[v.String()]; dup && other != key {
					return errors.NewAlreadyExistsError(name, fmt.Sprintf("%s=%s", spec.Field, v.String()))
				}
				owners[v.String()] = key
				return nil
			}
			for key, e := range ns.docs {
				if _, overwritten := changed[key]; overwritten {
					continue
				}
				if err := check(key, e.raw); err != nil {
					return err
				}
			}
			for key, raw := range changed {
				if raw == nil {
					continue
				}
				if err := check(key, raw); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// snapshot is a committed document as seen by a reader.
type snapshot struct {
	key     string
	raw     bson.Raw
	version uint64
	seq     uint64
}

// scan returns the committed documents of ns in insertion order. d.mu must be held.
func (d *Driver) scan(name string) []snapshot {
	ns, ok := d.namespaces[name]
	if !ok {
		return nil
	}
	out := make([]snapshot, 0, len(ns.docs))
	for key, e := range ns.docs {
		out = append(out, snapshot{key: key, raw: e.raw, version: e.version, seq: e.seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// current returns the committed document and its version, 0 when absent.
// d.mu must be held.
func (d *Driver) current(name, key string) (bson.Raw, uint64) {
	ns, ok := d.namespaces[name]
	if !ok {
		return nil, 0
	}
	e, ok := ns.docs[key]
	if !ok {
		return nil, 0
	}
	return e.raw, e.version
}
