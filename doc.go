/*
Package entityrepo provides transactional, multi-tenant repositories over
document database drivers.

Entity types are mapped once, at startup, to a database and a collection. A
database is either fixed or derived per tenant from a template such as
"{tenant}_Db". Polymorphic families share one collection and are told apart
by a discriminator element.

The library follows a declare → build → use workflow:
  - Declare: map entity types, subtypes, indexes and class maps on a registry.Builder
  - Build: freeze the registry and create the declared indexes
  - Use: obtain a Repository[T] per tenant and run work in transactions

Key Features:
  - Type-safe repositories using Go generics
  - MongoDB, DynamoDB and in-memory drivers behind one datastore.Driver contract
  - Transactions retried from scratch on transient failures, with ambient
    (context-carried) or explicit-session enlistment
  - Discriminator-aware reads of polymorphic families
  - Trash: deletion that keeps the removed entity in a DeletedObjects collection
  - Streaming reads with progress tracking
  - Semantic error types for better error handling

Basic Usage:

	settings, _ := config.Load("entityrepo.yaml")
	client, err := entityrepo.Open(ctx, settings, nil, func(b *registry.Builder) error {
	    return b.DatabasePerTenant("{tenant}_League", func(s *registry.Scope) {
	        registry.Map[Player](s, "Players", registry.WithIndex("club", false))
	    })
	})

	players, _ := entityrepo.For[Player](client, "acme")
	err = client.WithTransaction(ctx, func(ctx context.Context, tx txn.Tx) error {
	    return players.Insert(ctx, &Player{Name: "Ada"})
	})

In the explicit-session style the context handed to work carries no
transaction; bind repositories to it with In:

	err = client.WithTransaction(ctx, func(ctx context.Context, tx txn.Tx) error {
	    return players.In(tx).Insert(ctx, &Player{Name: "Ada"})
	}, entityrepo.WithStyle(txn.ExplicitSession))
*/
package entityrepo
