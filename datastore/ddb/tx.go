/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/txn"
)

// MaxTransactionWrites is the number of distinct items one TransactWriteItems
// call accepts.
const MaxTransactionWrites = 100

var errFinished = stderrors.New("ddb: transaction already finished")

type opKind int

const (
	opInsert opKind = iota
	opReplace
	opDelete
)

type itemKey struct {
	table string
	key   string
}

// op is the net pending change to one item.
type op struct {
	kind     opKind
	item     item
	typeName string
}

// tx buffers writes and submits them with one TransactWriteItems call.
// Reads see the buffered writes; committed state is read strongly consistent.
type tx struct {
	d     *Driver
	style txn.Style
	base  context.Context

	mu       sync.Mutex
	ops      map[itemKey]op
	order    []itemKey
	finished bool
}

// Transactors begins buffered transactions for both styles.
func (d *Driver) Transactors() map[txn.Style]txn.Transactor {
	begin := func(style txn.Style) txn.Transactor {
		return txn.TransactorFunc(func(ctx context.Context) (txn.Tx, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return &tx{d: d, style: style, base: ctx, ops: map[itemKey]op{}}, nil
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

// pending returns the buffered change to k. t.mu must be held.
func (t *tx) pending(k itemKey) (op, bool) {
	o, ok := t.ops[k]
	return o, ok
}

// has reports whether k has a buffered change.
func (t *tx) has(k itemKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ops[k]
	return ok
}

// record merges a new change into the buffer. t.mu must be held.
func (t *tx) record(k itemKey, next op) {
	prev, ok := t.ops[k]
	if !ok {
		t.order = append(t.order, k)
		t.ops[k] = next
		return
	}
	switch {
	case prev.kind == opInsert && next.kind == opDelete:
		delete(t.ops, k)
		for i, o := range t.order {
			if o == k {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
		return
	case prev.kind == opInsert:
		next.kind = opInsert
	case prev.kind == opDelete && next.kind == opInsert:
		next.kind = opReplace
	}
	t.ops[k] = next
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
	if len(t.order) == 0 {
		t.finished = true
		return nil
	}
	if len(t.order) > MaxTransactionWrites {
		return errors.NewValidationError("transaction",
			fmt.Sprintf("%d writes exceed the DynamoDB limit of %d", len(t.order), MaxTransactionWrites))
	}

	items := make([]types.TransactWriteItem, 0, len(t.order))
	for _, k := range t.order {
		items = append(items, transactItem(k, t.ops[k]))
	}
	_, err := t.d.client.TransactWriteItems(ctx, &sdk.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return t.commitError(ctx, err)
	}
	t.finished = true
	return nil
}

// commitError turns failed conditions into the error the matching
// non-transactional call would return.
func (t *tx) commitError(ctx context.Context, err error) error {
	var canceled *types.TransactionCanceledException
	if !stderrors.As(err, &canceled) || IsTransient(err) {
		return err
	}
	for i, reason := range canceled.CancellationReasons {
		if aws.ToString(reason.Code) != reasonConditionalCheck || i >= len(t.order) {
			continue
		}
		k := t.order[i]
		o := t.ops[k]
		t.d.logger.DebugContext(ctx, "DynamoDB transaction condition failed", "table", k.table, "key", k.key)
		if o.kind == opInsert {
			return errors.NewAlreadyExistsError(o.typeName, k.key)
		}
		return errors.NewNotFoundError(o.typeName, k.key)
	}
	return err
}

func transactItem(k itemKey, o op) types.TransactWriteItem {
	names := map[string]string{"#pk": KeyAttribute}
	switch o.kind {
	case opDelete:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                aws.String(k.table),
			Key:                      keyOf(k.key),
			ConditionExpression:      aws.String("attribute_exists(#pk)"),
			ExpressionAttributeNames: names,
		}}
	case opInsert:
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                aws.String(k.table),
			Item:                     o.item,
			ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
			ExpressionAttributeNames: names,
		}}
	default:
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                aws.String(k.table),
			Item:                     o.item,
			ConditionExpression:      aws.String("attribute_exists(#pk)"),
			ExpressionAttributeNames: names,
		}}
	}
}

func (t *tx) Abort(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = true
	t.ops = nil
	t.order = nil
	return nil
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
