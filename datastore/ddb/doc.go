/*
Package ddb provides a DynamoDB implementation of the datastore.Driver interface.

The Driver supports:
  - One table per database and collection, created on first use
  - Non-unique secondary indexes as Global Secondary Indexes (GSI)
  - Buffered transactions submitted with TransactWriteItems
  - Paged Scan and Query with retry on throttling
  - Discriminator attributes for polymorphic storage

Key Layout:
Every table is keyed by a single string partition key, PK, holding the
rendered document id. Filters and sorts on "_id" address PK. Polymorphic
documents carry their variant tag in the "_t" attribute.

	drv, err := ddb.Connect(ctx, ddb.ClientConfig{Region: "us-east-1"},
	    ddb.WithTablePrefix("dev-"),
	)

Transactions:
Writes made inside a transaction are buffered and submitted together on
commit, with conditions that make a concurrent insert or delete fail the whole
transaction. Reads inside a transaction see its buffered writes. A transaction
holds at most MaxTransactionWrites items.

Limits:
Unique indexes and indexes on nested attributes cannot be expressed and fail
EnsureIndex with a validation error. Indexed attributes must hold strings.
*/
package ddb
