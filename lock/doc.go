/*
Package lock provides CriticalSection, a single-permit exclusive section used to
serialize registry builds and other one-time setup work.

Three acquisition modes are offered:

	h, err := cs.Lock(ctx, 5*time.Second)  // blocks, fails with errors.ErrTimeout
	h := cs.TryLock()                      // never blocks
	h := cs.TryLockWithin(ctx, time.Second) // bounded wait, NotAcquired on expiry

Every acquisition yields a *Handle. Callers check h.Acquired() before entering
the section and always defer h.Release(); releasing a NotAcquired handle, or
releasing twice, never touches the permit.
*/
package lock
