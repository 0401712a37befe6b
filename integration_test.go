//go:build integration

/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/suparena/entityrepo"
	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore/testmodels"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/storagemodels"
	"github.com/suparena/entityrepo/txn"
)

// openMongo starts a single node replica set and opens a client on it with
// the test models declared.
func openMongo(t *testing.T, style string) *entityrepo.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7", tcmongo.WithReplicaSet("rs0"))
	if err != nil {
		t.Fatalf("failed to start mongodb container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get mongodb connection string: %v", err)
	}

	s := config.Default()
	s.Backend = config.BackendMongoDB
	s.MongoURI = uri
	s.Transactions.Style = style

	c, err := entityrepo.Open(ctx, s, nil, testmodels.Declare)
	if err != nil {
		t.Fatalf("failed to open client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestIntegration_MongoRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	c := openMongo(t, "ambient")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	require.NoError(t, c.ProvisionTenant(ctx, "acme"))

	files := entityrepo.MustFor[testmodels.File](c, "acme")
	myFiles := entityrepo.MustFor[testmodels.MyFile](c, "acme")

	t.Run("PolymorphicRoundTrip", func(t *testing.T) {
		var f testmodels.File = testmodels.MyFile{Name: "a.txt", Path: "/tmp"}
		require.NoError(t, files.Insert(ctx, &f))
		var g testmodels.File = &testmodels.CustomMapped{Name: "b.txt"}
		require.NoError(t, files.Insert(ctx, &g))

		all, err := files.Find(ctx, nil, storagemodels.FindOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		mine, err := myFiles.Find(ctx, storagemodels.Eq("path", "/tmp"), storagemodels.FindOptions{})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "a.txt", mine[0].Name)
	})

	t.Run("TransactionRollsBack", func(t *testing.T) {
		groups := entityrepo.MustFor[testmodels.FileGroup](c, "acme")
		err := c.WithTransaction(ctx, func(ctx context.Context, _ txn.Tx) error {
			if err := groups.Insert(ctx, &testmodels.FileGroup{Name: "doomed"}); err != nil {
				return err
			}
			return errors.NewValidationError("name", "rejected")
		})
		assert.True(t, errors.IsNonTransient(err))

		n, err := groups.Count(ctx, storagemodels.Eq("name", "doomed"))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Trash", func(t *testing.T) {
		var f testmodels.File = testmodels.MyFile{Name: "trash-me"}
		require.NoError(t, files.Insert(ctx, &f))
		id := f.(testmodels.MyFile).ID

		require.NoError(t, files.Trash(ctx, id, "integration"))
		_, err := files.Get(ctx, id)
		assert.True(t, errors.IsNotFound(err))

		trashed, err := files.Trashed(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, trashed)
		assert.Equal(t, id.Hex(), trashed[len(trashed)-1].ObjectID)
	})

	t.Run("TrashJoinsEnclosingTransaction", func(t *testing.T) {
		var f testmodels.File = testmodels.MyFile{Name: "keep-me"}
		require.NoError(t, files.Insert(ctx, &f))
		id := f.(testmodels.MyFile).ID
		before, err := files.Trashed(ctx)
		require.NoError(t, err)
		boom := stderrors.New("changed my mind")

		err = c.WithTransaction(ctx, func(ctx context.Context, _ txn.Tx) error {
			if err := files.Trash(ctx, id, "maybe"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = files.Get(ctx, id)
		assert.NoError(t, err, "the aborted transaction keeps the entity")
		after, err := files.Trashed(ctx)
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})
}

func TestIntegration_MongoExplicitSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	c := openMongo(t, "explicit")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	systems := entityrepo.MustFor[testmodels.RatingSystem](c, "")
	err := c.WithTransaction(ctx, func(ctx context.Context, tx txn.Tx) error {
		return systems.In(tx).Insert(ctx, &testmodels.RatingSystem{Name: "Elo"})
	})
	require.NoError(t, err)

	found, err := systems.Find(ctx, storagemodels.Eq("name", "Elo"), storagemodels.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	err = systems.Insert(ctx, &testmodels.RatingSystem{Name: "Elo"})
	assert.Error(t, err, "the unique name index rejects duplicates")
}
