/*
Package datastore defines the contract between the repository facade and the
document database backends.

A Driver opens a Collection per resolved registry.Location and begins
transactions for each txn.Style:

	type Driver interface {
	    registry.Indexer
	    Name() string
	    Collection(loc registry.Location) (Collection, error)
	    Transactors() map[txn.Style]txn.Transactor
	    IsTransient(err error) bool
	    Ping(ctx context.Context) error
	    Close(ctx context.Context) error
	}

Collection operations join the transaction carried by their context. With
txn.AmbientScope the context handed to the unit of work is already enlisted;
with txn.ExplicitSession an operation joins only through Tx.Bind.

Implementations:
  - mongodb: MongoDB sessions and multi-document transactions
  - ddb: DynamoDB, one table per collection, TransactWriteItems transactions
  - memory: in-process store with optimistic transactions, for tests

EncodeBSON and DecodeBSON apply a mapping's element renames, id element and
discriminator, and are shared by the BSON based drivers.
*/
package datastore
