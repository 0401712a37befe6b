/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mongodb

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/txn"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", stderrors.New("boom"), false},
		{"transient label", mongo.CommandError{Code: 251, Labels: []string{labelTransientTransaction}}, true},
		{"unknown commit result", mongo.CommandError{Labels: []string{labelUnknownCommitResult}}, true},
		{"write conflict", mongo.CommandError{Code: codeWriteConflict, Name: "WriteConflict"}, true},
		{"wrapped write conflict", fmt.Errorf("commit transaction: %w", mongo.CommandError{Code: codeWriteConflict}), true},
		{"network", mongo.CommandError{Labels: []string{"NetworkError"}}, true},
		{"duplicate key", mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}, false},
		{"validation", mongo.CommandError{Code: 121, Name: "DocumentValidationFailure"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestToBSON(t *testing.T) {
	q, err := toBSON(nil)
	require.NoError(t, err)
	assert.Equal(t, bson.D{}, q)

	q, err = toBSON(storagemodels.Eq("name", "a"))
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "name", Value: bson.D{{Key: "$eq", Value: "a"}}}}, q)

	q, err = toBSON(storagemodels.Where("size", storagemodels.OpGt, 3).And("tag", storagemodels.OpIn, []any{"x", "y"}))
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "size", Value: bson.D{{Key: "$gt", Value: 3}}}},
		bson.D{{Key: "tag", Value: bson.D{{Key: "$in", Value: bson.A{"x", "y"}}}}},
	}}}, q)

	_, err = toBSON(storagemodels.Filter{{Field: "", Op: storagemodels.OpEq}})
	assert.True(t, errors.IsValidationError(err))
}

func TestTxContextCarriesTx(t *testing.T) {
	ctx := context.Background()
	for _, style := range []txn.Style{txn.AmbientScope, txn.ExplicitSession} {
		t.Run(style.String(), func(t *testing.T) {
			tr := &tx{style: style, base: ctx}

			bound, ok := txn.From(tr.Bind(ctx))
			require.True(t, ok)
			assert.Same(t, tr, bound)

			_, ok = txn.From(tr.Context())
			assert.Equal(t, style == txn.AmbientScope, ok)
		})
	}
}

func TestCommitWithRetry(t *testing.T) {
	ctx := context.Background()
	unknown := mongo.CommandError{Labels: []string{labelUnknownCommitResult}}

	t.Run("ResendsUnknownResult", func(t *testing.T) {
		calls := 0
		err := commitWithRetry(ctx, func(context.Context) error {
			calls++
			if calls == 1 {
				return unknown
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("GivesUp", func(t *testing.T) {
		calls := 0
		err := commitWithRetry(ctx, func(context.Context) error {
			calls++
			return unknown
		})
		assert.Equal(t, unknown, err)
		assert.Equal(t, commitAttempts, calls)
	})

	t.Run("OtherErrorsReturnAtOnce", func(t *testing.T) {
		calls := 0
		conflict := mongo.CommandError{Code: codeWriteConflict, Labels: []string{labelTransientTransaction}}
		err := commitWithRetry(ctx, func(context.Context) error {
			calls++
			return conflict
		})
		assert.Equal(t, conflict, err)
		assert.Equal(t, 1, calls)
	})
}
