/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package txn

import (
	"context"
	"fmt"
)

// Style selects how a transaction is enlisted with the driver.
type Style int

const (
	// AmbientScope hands work a context that already carries the transaction;
	// every repository call made with that context joins it.
	AmbientScope Style = iota
	// ExplicitSession hands work a plain context; repository calls join the
	// transaction only when bound to it with Tx.Bind or Repository.In.
	ExplicitSession
)

func (s Style) String() string {
	switch s {
	case AmbientScope:
		return "ambient"
	case ExplicitSession:
		return "explicit"
	default:
		return fmt.Sprintf("style(%d)", int(s))
	}
}

// ParseStyle maps a configuration value onto a Style.
func ParseStyle(s string) (Style, error) {
	switch s {
	case "", "ambient", "scope", "transactionscope":
		return AmbientScope, nil
	case "explicit", "session", "clientsession":
		return ExplicitSession, nil
	default:
		return 0, fmt.Errorf("unknown transaction style %q", s)
	}
}

// Tx is one driver transaction.
type Tx interface {
	// Style reports the enlistment style the transaction was begun with.
	Style() Style
	// Context returns the context handed to work for this attempt.
	Context() context.Context
	// Bind returns ctx enlisted in this transaction.
	Bind(ctx context.Context) context.Context
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Transactor begins transactions. Drivers provide one per Style.
type Transactor interface {
	Begin(ctx context.Context) (Tx, error)
}

// TransactorFunc adapts a function to Transactor.
type TransactorFunc func(ctx context.Context) (Tx, error)

func (f TransactorFunc) Begin(ctx context.Context) (Tx, error) {
	return f(ctx)
}

// Classifier reports whether err is transient, i.e. safe to retry from scratch.
type Classifier func(err error) bool

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a transaction in context for downstream driver usage.
func WithTx(ctx context.Context, tx Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a transaction from context if present.
func From(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey).(Tx)
	return tx, ok
}
