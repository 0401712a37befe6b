/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package lock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/suparena/entityrepo/errors"
)

// CriticalSection is a single-permit exclusive section.
// The zero value is not usable; construct with New.
type CriticalSection struct {
	sem *semaphore.Weighted
}

// New returns a CriticalSection with its permit free.
func New() *CriticalSection {
	return &CriticalSection{sem: semaphore.NewWeighted(1)}
}

// Handle is the result of an acquisition attempt. A handle either holds the
// permit (Acquired reports true) or is a NotAcquired handle. Release is safe
// on both kinds and returns the permit at most once.
type Handle struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

var notAcquired = &Handle{}

// Acquired reports whether the handle was created holding the permit.
func (h *Handle) Acquired() bool {
	return h != nil && h.sem != nil
}

// Held reports whether the permit is still held through this handle.
func (h *Handle) Held() bool {
	return h != nil && h.held.Load()
}

// Release returns the permit if this handle holds it. Calling it again,
// concurrently or not, or on a NotAcquired handle, does nothing.
func (h *Handle) Release() {
	if h == nil || h.sem == nil {
		return
	}
	if h.held.CompareAndSwap(true, false) {
		h.sem.Release(1)
	}
}

func (c *CriticalSection) acquired() *Handle {
	h := &Handle{sem: c.sem}
	h.held.Store(true)
	return h
}

// Lock waits up to timeout for the permit. When the timeout elapses it fails
// with an errors.TimeoutError; if ctx ends first, the context error is returned.
func (c *CriticalSection) Lock(ctx context.Context, timeout time.Duration) (*Handle, error) {
	if c.sem.TryAcquire(1) {
		return c.acquired(), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("lock: %w", ctxErr)
		}
		return nil, errors.NewTimeoutError("lock", timeout)
	}
	return c.acquired(), nil
}

// TryLock takes the permit only if it is free right now.
func (c *CriticalSection) TryLock() *Handle {
	if c.sem.TryAcquire(1) {
		return c.acquired()
	}
	return notAcquired
}

// TryLockWithin waits up to timeout for the permit and returns a NotAcquired
// handle instead of failing when it does not get it.
func (c *CriticalSection) TryLockWithin(ctx context.Context, timeout time.Duration) *Handle {
	h, err := c.Lock(ctx, timeout)
	if err != nil {
		return notAcquired
	}
	return h
}

// WithLock runs fn while holding the permit. The permit is released on every
// exit path, including a panic in fn.
func (c *CriticalSection) WithLock(ctx context.Context, timeout time.Duration, fn func() error) error {
	h, err := c.Lock(ctx, timeout)
	if err != nil {
		return err
	}
	defer h.Release()

	return fn()
}
