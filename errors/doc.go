/*
Package errors provides semantic error types for the entityrepo library.

The package defines the failure taxonomy of the repository layer as sentinels
that can be checked with the standard errors.Is() function or the provided
helper functions, plus typed errors carrying context.

Lock and registry errors are configuration errors, meant to fail fast at startup:

	ErrTimeout          // lock acquisition exceeded its bound
	ErrUnmappedType     // resolution requested for a type never registered
	ErrRegistryFrozen   // build-phase call after Build
	ErrRegistryNotReady // query-phase call before Build
	ErrAlreadyBuilt     // Build invoked twice
	ErrTenantRequired   // per-tenant database resolved without a tenant
	ErrTenantMismatch   // fixed database resolved with a tenant

Transaction errors are surfaced by the orchestrator once retrying is over:

	ErrRetriesExhausted // every attempt failed transiently (RetriesExhaustedError)
	ErrNonTransient     // attempt failed with a fatal error (NonTransientError)

Usage:

	err := txn.RunInTransaction(ctx, runner, txn.AmbientScope, 3, work)
	if errors.IsRetriesExhausted(err) {
	    var ree *errors.RetriesExhaustedError
	    stderrors.As(err, &ree)
	    log.Printf("gave up after %d attempts: %v", ree.Attempts, ree.LastErr)
	}

Both transaction error types unwrap to their cause, so errors.Is(err, ErrNotFound)
still matches a not-found failure that aborted a transaction.
*/
package errors
