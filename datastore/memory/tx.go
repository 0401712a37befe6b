/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package memory

import (
	"context"
	stderrors "errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/suparena/entityrepo/txn"
)

var errFinished = stderrors.New("memory: transaction already finished")

type docKey struct {
	ns  string
	key string
}

// tx buffers writes and records the version of every document it reads.
// Commit fails with ErrWriteConflict when any of them changed meanwhile.
type tx struct {
	d     *Driver
	style txn.Style
	base  context.Context

	mu       sync.Mutex
	reads    map[docKey]uint64
	writes   map[docKey]bson.Raw
	order    []docKey
	finished bool
}

// Transactors begins optimistic transactions for both styles.
func (d *Driver) Transactors() map[txn.Style]txn.Transactor {
	begin := func(style txn.Style) txn.Transactor {
		return txn.TransactorFunc(func(ctx context.Context) (txn.Tx, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return &tx{
				d:      d,
				style:  style,
				base:   ctx,
				reads:  map[docKey]uint64{},
				writes: map[docKey]bson.Raw{},
			}, nil
		})
	}
	return map[txn.Style]txn.Transactor{
		txn.AmbientScope:    begin(txn.AmbientScope),
		txn.ExplicitSession: begin(txn.ExplicitSession),
	}
}

func (t *tx) Style() txn.Style { return t.style }

func (t *tx) Context() context.Context {
	if t.style == txn.AmbientScope {
		return t.Bind(t.base)
	}
	return t.base
}

func (t *tx) Bind(ctx context.Context) context.Context {
	return txn.WithTx(ctx, t)
}

func (t *tx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return errFinished
	}

	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	if len(t.d.failCommits) > 0 {
		err := t.d.failCommits[0]
		t.d.failCommits = t.d.failCommits[1:]
		return err
	}

	for k, seen := range t.reads {
		if _, version := t.d.current(k.ns, k.key); version != seen {
			t.d.logger.DebugContext(ctx, "memory write conflict", "namespace", k.ns, "key", k.key)
			return ErrWriteConflict
		}
	}

	writes := make([]write, 0, len(t.order))
	for _, k := range t.order {
		writes = append(writes, write{ns: k.ns, key: k.key, raw: t.writes[k]})
	}
	if err := t.d.apply(writes); err != nil {
		return err
	}
	t.finished = true
	return nil
}

func (t *tx) Abort(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = true
	t.reads = nil
	t.writes = nil
	t.order = nil
	return nil
}

// get returns the document as the transaction sees it. t.mu must be held.
func (t *tx) get(k docKey) (bson.Raw, bool) {
	if raw, ok := t.writes[k]; ok {
		return raw, raw != nil
	}
	t.d.mu.Lock()
	raw, version := t.d.current(k.ns, k.key)
	t.d.mu.Unlock()
	if _, ok := t.reads[k]; !ok {
		t.reads[k] = version
	}
	return raw, raw != nil
}

// put buffers a write; raw nil deletes. t.mu must be held.
func (t *tx) put(k docKey, raw bson.Raw) {
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = raw
}

// scan returns the documents of ns as the transaction sees them. t.mu must be held.
func (t *tx) scan(ns string) []snapshot {
	t.d.mu.Lock()
	committed := t.d.scan(ns)
	t.d.mu.Unlock()

	out := make([]snapshot, 0, len(committed))
	seen := map[string]bool{}
	for _, s := range committed {
		k := docKey{ns: ns, key: s.key}
		seen[s.key] = true
		if _, ok := t.reads[k]; !ok {
			t.reads[k] = s.version
		}
		if raw, ok := t.writes[k]; ok {
			if raw == nil {
				continue
			}
			s.raw = raw
		}
		out = append(out, s)
	}
	for _, k := range t.order {
		if k.ns != ns || seen[k.key] || t.writes[k] == nil {
			continue
		}
		out = append(out, snapshot{key: k.key, raw: t.writes[k]})
	}
	return out
}
