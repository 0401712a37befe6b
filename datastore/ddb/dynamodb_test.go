/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/txn"
)

type Player struct {
	ID     string `dynamodbav:"id"`
	Name   string `dynamodbav:"name"`
	Club   string `dynamodbav:"club"`
	Rating int    `dynamodbav:"rating"`
}

type Match interface{ Kind() string }

type Singles struct {
	ID      string
	Players []string
}

func (Singles) Kind() string { return "singles" }

type Labeled struct {
	Key   string
	Label string
}

func newTestDriver(t *testing.T) (*Driver, *fakeAPI, *registry.Registry) {
	t.Helper()
	api := newFakeAPI()
	d := New(api, WithTablePrefix("test-"), WithPageSize(2))

	b := registry.NewBuilder()
	require.NoError(t, b.DatabasePerTenant("{tenant}_League", func(s *registry.Scope) {
		registry.Map[Player](s, "Players", registry.WithIndex("club", false))
		registry.MapWithSubtypes[Match](s, "Matches", []registry.Variant{registry.Subtype[Singles]("singles")})
		registry.Map[Labeled](s, "", registry.WithClassMap(registry.ClassMap{
			IDField:      "Key",
			ElementNames: map[string]string{"Label": "lbl"},
		}))
	}))
	reg, err := b.Build(context.Background(), nil)
	require.NoError(t, err)
	return d, api, reg
}

func openCollection[T any](t *testing.T, d *Driver, reg *registry.Registry) (datastore.Collection, registry.Location) {
	t.Helper()
	loc, err := registry.Resolve[T](reg, "acme")
	require.NoError(t, err)
	c, err := d.Collection(loc)
	require.NoError(t, err)
	return c, loc
}

func TestDriver_CRUD(t *testing.T) {
	ctx := context.Background()
	d, api, reg := newTestDriver(t)
	players, loc := openCollection[Player](t, d, reg)

	p := Player{ID: "p1", Name: "Ann", Club: "Oakville", Rating: 1800}
	require.NoError(t, players.Insert(ctx, p))
	assert.Equal(t, 1, api.count("CreateTable"))
	assert.Equal(t, 1, api.size("test-acme_League.Players"))

	err := players.Insert(ctx, p)
	assert.True(t, errors.IsAlreadyExists(err))

	doc, err := players.FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, doc.Discriminator())
	var got Player
	require.NoError(t, doc.Decode(loc.Mapping, &got))
	assert.Equal(t, p, got)

	p.Rating = 1850
	require.NoError(t, players.Replace(ctx, p))
	err = players.Replace(ctx, Player{ID: "missing"})
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, players.Delete(ctx, "p1"))
	_, err = players.FindByID(ctx, "p1")
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(players.Delete(ctx, "p1")))
}

func TestDriver_FindPagesAndOrders(t *testing.T) {
	ctx := context.Background()
	d, api, reg := newTestDriver(t)
	players, loc := openCollection[Player](t, d, reg)

	for i, rating := range []int{1500, 1900, 1700, 1600, 2000} {
		require.NoError(t, players.Insert(ctx, Player{ID: fmt.Sprintf("p%d", i), Rating: rating}))
	}

	docs, err := players.Find(ctx, nil, storagemodels.FindOptions{
		Sort:  []storagemodels.SortField{{Field: "rating", Descending: true}},
		Skip:  1,
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	var first Player
	require.NoError(t, docs[0].Decode(loc.Mapping, &first))
	assert.Equal(t, 1900, first.Rating)
	assert.Equal(t, 3, api.count("Scan"), "five items in pages of two")

	n, err := players.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	docs, err = players.Find(ctx, storagemodels.Where("rating", storagemodels.OpGt, 1600), storagemodels.FindOptions{
		Sort: []storagemodels.SortField{{Field: "_id"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	require.NoError(t, docs[0].Decode(loc.Mapping, &first))
	assert.Equal(t, "p1", first.ID)
}

func TestDriver_IndexedFindUsesQuery(t *testing.T) {
	ctx := context.Background()
	d, api, reg := newTestDriver(t)
	require.NoError(t, d.EnsureIndex(ctx, "acme_League", "Players", registry.IndexSpec{Field: "club"}))
	assert.Equal(t, 1, api.count("UpdateTable"))

	gsi, ok := d.GetGSIConfig("test-acme_League.Players", "club")
	require.True(t, ok)
	assert.Equal(t, "GSI_club_1", gsi.IndexName)

	require.NoError(t, d.EnsureIndex(ctx, "acme_League", "Players", registry.IndexSpec{Field: "club"}))
	assert.Equal(t, 1, api.count("UpdateTable"), "existing index is not recreated")

	players, _ := openCollection[Player](t, d, reg)
	require.NoError(t, players.Insert(ctx, Player{ID: "a", Club: "Oakville"}))
	require.NoError(t, players.Insert(ctx, Player{ID: "b", Club: "Burlington"}))

	docs, err := players.Find(ctx, storagemodels.Eq("club", "Oakville"), storagemodels.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 1, api.count("Query"))
	assert.Zero(t, api.count("Scan"))
}

func TestDriver_EnsureIndexLimits(t *testing.T) {
	d, _, _ := newTestDriver(t)
	err := d.EnsureIndex(context.Background(), "db", "c", registry.IndexSpec{Field: "email", Unique: true})
	assert.True(t, errors.IsValidationError(err))
	err = d.EnsureIndex(context.Background(), "db", "c", registry.IndexSpec{Field: "owner.name"})
	assert.True(t, errors.IsValidationError(err))
}

func TestDriver_PolymorphicAndRenamed(t *testing.T) {
	ctx := context.Background()
	d, api, reg := newTestDriver(t)

	matches, _ := openCollection[Singles](t, d, reg)
	require.NoError(t, matches.Insert(ctx, Singles{ID: "m1", Players: []string{"a", "b"}}))
	doc, err := matches.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "singles", doc.Discriminator())

	labeled, loc := openCollection[Labeled](t, d, reg)
	require.NoError(t, labeled.Insert(ctx, Labeled{Key: "k1", Label: "hello"}))
	stored := api.tables["test-acme_League.Labeled"]["k1"]
	assert.Contains(t, stored, "lbl")
	assert.NotContains(t, stored, "Label")

	doc, err = labeled.FindByID(ctx, "k1")
	require.NoError(t, err)
	var got Labeled
	require.NoError(t, doc.Decode(loc.Mapping, &got))
	assert.Equal(t, Labeled{Key: "k1", Label: "hello"}, got)
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("CommitWritesOnce", func(t *testing.T) {
		d, api, reg := newTestDriver(t)
		players, _ := openCollection[Player](t, d, reg)
		require.NoError(t, players.Insert(ctx, Player{ID: "old"}))

		tx, err := d.Transactors()[txn.AmbientScope].Begin(ctx)
		require.NoError(t, err)
		tctx := tx.Context()
		require.NoError(t, players.Insert(tctx, Player{ID: "new", Club: "Oakville"}))
		require.NoError(t, players.Delete(tctx, "old"))

		_, err = players.FindByID(tctx, "old")
		assert.True(t, errors.IsNotFound(err), "transaction sees its own delete")
		_, err = players.FindByID(ctx, "old")
		assert.NoError(t, err, "others still see the committed item")

		docs, err := players.Find(tctx, storagemodels.Eq("club", "Oakville"), storagemodels.FindOptions{})
		require.NoError(t, err)
		assert.Len(t, docs, 1)

		require.NoError(t, tx.Commit(ctx))
		assert.Equal(t, 1, api.count("TransactWriteItems"))
		_, err = players.FindByID(ctx, "new")
		assert.NoError(t, err)
		assert.ErrorIs(t, tx.Commit(ctx), errFinished)
	})

	t.Run("InsertThenDeleteCancels", func(t *testing.T) {
		d, api, reg := newTestDriver(t)
		players, _ := openCollection[Player](t, d, reg)

		tx, err := d.Transactors()[txn.ExplicitSession].Begin(ctx)
		require.NoError(t, err)
		bound := tx.Bind(ctx)
		require.NoError(t, players.Insert(bound, Player{ID: "tmp"}))
		require.NoError(t, players.Delete(bound, "tmp"))
		require.NoError(t, tx.Commit(ctx))
		assert.Zero(t, api.count("TransactWriteItems"))
	})

	t.Run("AbortDiscards", func(t *testing.T) {
		d, api, reg := newTestDriver(t)
		players, _ := openCollection[Player](t, d, reg)

		tx, err := d.Transactors()[txn.AmbientScope].Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, players.Insert(tx.Context(), Player{ID: "x"}))
		require.NoError(t, tx.Abort(ctx))
		assert.Zero(t, api.size("test-acme_League.Players"))
		assert.ErrorIs(t, players.Insert(tx.Context(), Player{ID: "y"}), errFinished)
	})

	t.Run("ConditionFailureMapsToAlreadyExists", func(t *testing.T) {
		d, _, reg := newTestDriver(t)
		players, _ := openCollection[Player](t, d, reg)

		tx, err := d.Transactors()[txn.AmbientScope].Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, players.Insert(tx.Context(), Player{ID: "race"}))
		require.NoError(t, players.Insert(ctx, Player{ID: "race"}))

		err = tx.Commit(ctx)
		assert.True(t, errors.IsAlreadyExists(err))
		assert.False(t, d.IsTransient(err))
	})

	t.Run("RunnerRetriesConflicts", func(t *testing.T) {
		d, api, reg := newTestDriver(t)
		players, _ := openCollection[Player](t, d, reg)
		conflict := &types.TransactionCanceledException{
			Message:             aws.String("conflict"),
			CancellationReasons: []types.CancellationReason{{Code: aws.String(reasonTransactionConflict)}},
		}

		runner := txn.New(d.Transactors(), d.IsTransient)
		attempts := 0
		err := txn.RunInTransaction(ctx, runner, txn.AmbientScope, 3, func(ctx context.Context, _ txn.Tx) error {
			attempts++
			if attempts == 1 {
				api.failWith("TransactWriteItems", conflict)
			}
			return players.Insert(ctx, Player{ID: fmt.Sprintf("r%d", attempts)})
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, 1, api.size("test-acme_League.Players"))
	})

	t.Run("TooManyWrites", func(t *testing.T) {
		d, _, reg := newTestDriver(t)
		players, _ := openCollection[Player](t, d, reg)

		tx, err := d.Transactors()[txn.AmbientScope].Begin(ctx)
		require.NoError(t, err)
		for i := 0; i <= MaxTransactionWrites; i++ {
			require.NoError(t, players.Insert(tx.Context(), Player{ID: fmt.Sprintf("p%03d", i)}))
		}
		assert.True(t, errors.IsValidationError(tx.Commit(ctx)))
	})
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conflict reason", &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{{Code: aws.String("None")}, {Code: aws.String(reasonTransactionConflict)}},
		}, true},
		{"condition reason", &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{{Code: aws.String(reasonConditionalCheck)}},
		}, false},
		{"conflict exception", &types.TransactionConflictException{}, true},
		{"in progress", fmt.Errorf("commit: %w", &types.TransactionInProgressException{}), true},
		{"throughput", fmt.Errorf("scan: %w", &types.ProvisionedThroughputExceededException{}), true},
		{"condition", &types.ConditionalCheckFailedException{}, false},
		{"plain", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestExpression(t *testing.T) {
	conds, err := compile(storagemodels.Eq("_id", "k1").
		And("owner.name", storagemodels.OpNe, "bob").
		And("rating", storagemodels.OpIn, []any{1, 2}).
		And("deleted", storagemodels.OpEq, nil))
	require.NoError(t, err)

	e := newExpression()
	expr := e.condition(conds)
	require.NotNil(t, expr)
	assert.Equal(t,
		"#f0 = :v1 AND (attribute_not_exists(#f2.#f3) OR #f2.#f3 <> :v4) AND #f5 IN (:v6, :v7) AND (attribute_not_exists(#f8) OR attribute_type(#f8, :v9))",
		*expr)
	assert.Equal(t, KeyAttribute, e.names["#f0"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "k1"}, e.values[":v1"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "2"}, e.values[":v7"])

	assert.Nil(t, newExpression().condition(nil))

	_, err = compile(storagemodels.Where("x", "like", 1))
	assert.True(t, errors.IsValidationError(err))
}

func TestMatches(t *testing.T) {
	it := item{
		KeyAttribute: &types.AttributeValueMemberS{Value: "k"},
		"rating":     &types.AttributeValueMemberN{Value: "1500"},
		"owner": &types.AttributeValueMemberM{Value: item{
			"name": &types.AttributeValueMemberS{Value: "ann"},
		}},
	}
	tests := []struct {
		name   string
		filter storagemodels.Filter
		want   bool
	}{
		{"empty", nil, true},
		{"id", storagemodels.Eq("_id", "k"), true},
		{"nested", storagemodels.Eq("owner.name", "ann"), true},
		{"gt", storagemodels.Where("rating", storagemodels.OpGt, 1400), true},
		{"lte fails", storagemodels.Where("rating", storagemodels.OpLte, 1000), false},
		{"in", storagemodels.Where("rating", storagemodels.OpIn, []any{1500}), true},
		{"missing equals null", storagemodels.Eq("deleted", nil), true},
		{"missing ne", storagemodels.Where("deleted", storagemodels.OpNe, 1), true},
		{"type mismatch", storagemodels.Eq("rating", "1500"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conds, err := compile(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, matches(it, conds))
		})
	}
}
