/*
Package txn runs units of work inside driver transactions with bounded retry.

The Runner only knows the {begin, commit, abort} capability of a driver,
expressed as one Transactor per enlistment Style, and a Classifier that tells
transient failures (write conflicts, transient commit or network errors) from
fatal ones.

	runner := txn.New(driver.Transactors(), driver.IsTransient,
	    txn.WithLogger(logger), txn.WithBackoff(10*time.Millisecond, time.Second))

	order, err := txn.Run(ctx, runner, txn.AmbientScope, 3,
	    func(ctx context.Context, tx txn.Tx) (*Order, error) {
	        // every repository call made with ctx joins the transaction
	        return placeOrder(ctx)
	    })

With ExplicitSession the context handed to work is not enlisted; calls join
the transaction through tx.Bind(ctx) or Repository.In(tx).

Retries re-run work from the start, strictly one attempt after the other. A
failed attempt's writes are rolled back by the driver, side effects outside
the transaction are not.
*/
package txn
