/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mongodb

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/suparena/entityrepo/txn"
)

// commitAttempts bounds how often a commit with an unknown result is resent.
const commitAttempts = 3

// tx is one multi-document transaction on its own session.
type tx struct {
	sess       mongo.Session
	style      txn.Style
	base       context.Context
	commitSent bool
}

// Transactors begins session transactions for both styles. Ambient
// transactions hand work a session context; explicit ones hand it the plain
// context and enlist operations through Bind.
func (d *Driver) Transactors() map[txn.Style]txn.Transactor {
	begin := func(style txn.Style) txn.Transactor {
		return txn.TransactorFunc(func(ctx context.Context) (txn.Tx, error) {
			sess, err := d.client.StartSession()
			if err != nil {
				return nil, fmt.Errorf("start session: %w", err)
			}
			if err := sess.StartTransaction(d.txnOpts); err != nil {
				sess.EndSession(ctx)
				return nil, fmt.Errorf("start transaction: %w", err)
			}
			return &tx{sess: sess, style: style, base: ctx}, nil
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
	return txn.WithTx(mongo.NewSessionContext(ctx, t.sess), t)
}

func (t *tx) Commit(ctx context.Context) error {
	t.commitSent = true
	if err := commitWithRetry(ctx, t.sess.CommitTransaction); err != nil {
		return err
	}
	t.sess.EndSession(ctx)
	return nil
}

// commitWithRetry resends a commit the server answered with
// UnknownTransactionCommitResult. The server applies a resent commit once.
func commitWithRetry(ctx context.Context, commit func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < commitAttempts; attempt++ {
		if err = commit(ctx); err == nil || !unknownCommitResult(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func unknownCommitResult(err error) bool {
	var labeled mongo.LabeledError
	return stderrors.As(err, &labeled) && labeled.HasErrorLabel(labelUnknownCommitResult)
}

// Abort rolls back and ends the session. Once a commit was sent only the
// session is ended, which releases the transaction on the server.
func (t *tx) Abort(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	if t.commitSent {
		return nil
	}
	return t.sess.AbortTransaction(ctx)
}
