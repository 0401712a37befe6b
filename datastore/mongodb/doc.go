/*
Package mongodb implements datastore.Driver on the official MongoDB Go driver.

	d, err := mongodb.Connect(ctx, "mongodb://localhost:27017/?replicaSet=rs0")
	if err != nil {
	    return err
	}
	defer d.Close(ctx)

Each transaction runs on its own session with snapshot reads and majority
writes. With txn.AmbientScope the unit of work receives a session context,
so every collection call made with it joins the transaction. With
txn.ExplicitSession the unit of work receives the plain context and enlists
calls through Tx.Bind.

IsTransient treats the TransientTransactionError and
UnknownTransactionCommitResult labels, write conflicts and network errors as
retryable.
*/
package mongodb
