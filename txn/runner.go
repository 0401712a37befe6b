/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package txn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/metrics"
)

// Runner executes units of work inside transactions and retries them on
// transient failure. A Runner holds no per-call state and is safe for
// concurrent use.
type Runner struct {
	transactors map[Style]Transactor
	transient   Classifier
	logger      *slog.Logger
	metrics     *metrics.Metrics
	newBackoff  func() backoff.BackOff
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for attempt tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records attempts and failures in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithBackoff waits between attempts with exponential, jittered delays
// starting at initial and capped at max. The number of attempts is still
// bounded only by maxRetries.
func WithBackoff(initial, max time.Duration) Option {
	return func(r *Runner) {
		if initial <= 0 {
			return
		}
		r.newBackoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = max
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		}
	}
}

// New returns a Runner that begins transactions through transactors and
// classifies failures with transient.
func New(transactors map[Style]Transactor, transient Classifier, opts ...Option) *Runner {
	r := &Runner{
		transactors: make(map[Style]Transactor, len(transactors)),
		transient:   transient,
		logger:      slog.Default(),
		newBackoff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
	for style, t := range transactors {
		if t != nil {
			r.transactors[style] = t
		}
	}
	if r.transient == nil {
		r.transient = func(error) bool { return false }
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// attempt is the per-call bookkeeping of one Run invocation.
type attempt struct {
	number  int
	style   Style
	lastErr error
}

// Run begins a transaction with the given style, calls work exactly once per
// attempt and commits. When work or the commit fails with a transient error
// the transaction is aborted and the whole attempt, work included, is run
// again, at most maxRetries more times. Any other error aborts the
// transaction and is returned at once as an errors.NonTransientError. When
// every attempt failed transiently the last failure is returned as an
// errors.RetriesExhaustedError.
//
// work must be safe to call more than once. Writes made through the
// transaction are rolled back with a failed attempt; anything else work does
// (calls to other systems, counters, logging) happens again on every retry.
func Run[R any](ctx context.Context, r *Runner, style Style, maxRetries int, work func(ctx context.Context, tx Tx) (R, error)) (R, error) {
	var zero R

	if maxRetries < 0 {
		return zero, errors.NewValidationError("maxRetries", "must not be negative")
	}
	transactor, ok := r.transactors[style]
	if !ok {
		return zero, errors.NewValidationError("style", fmt.Sprintf("no transactor for %s transactions", style))
	}

	start := time.Now()
	defer r.metrics.ObserveTransaction(style.String(), start)

	delays := r.newBackoff()
	state := attempt{style: style}

	for {
		state.number++

		result, err := runOnce(ctx, r.logger, transactor, work)
		if err == nil {
			r.metrics.ObserveAttempt(style.String(), metrics.OutcomeCommitted)
			if state.number > 1 {
				r.logger.DebugContext(ctx, "transaction committed after retry",
					"style", style.String(), "attempt", state.number)
			}
			return result, nil
		}
		state.lastErr = err

		if !r.transient(err) {
			r.metrics.ObserveAttempt(style.String(), metrics.OutcomeFatal)
			r.metrics.ObserveFailure(style.String(), metrics.OutcomeFatal)
			return zero, &errors.NonTransientError{Err: err, Attempts: state.number}
		}
		r.metrics.ObserveAttempt(style.String(), metrics.OutcomeTransient)

		if state.number > maxRetries {
			break
		}

		r.logger.DebugContext(ctx, "transient transaction failure, retrying",
			"style", style.String(), "attempt", state.number, "error", err)

		if err := wait(ctx, delays); err != nil {
			r.metrics.ObserveFailure(style.String(), metrics.OutcomeFatal)
			return zero, &errors.NonTransientError{Err: err, Attempts: state.number}
		}
	}

	r.logger.WarnContext(ctx, "transaction retries exhausted",
		"style", style.String(), "attempts", state.number, "error", state.lastErr)
	r.metrics.ObserveFailure(style.String(), "exhausted")

	return zero, &errors.RetriesExhaustedError{LastErr: state.lastErr, Attempts: state.number}
}

// RunInTransaction is Run for work that produces no value.
func RunInTransaction(ctx context.Context, r *Runner, style Style, maxRetries int, work func(ctx context.Context, tx Tx) error) error {
	_, err := Run(ctx, r, style, maxRetries, func(ctx context.Context, tx Tx) (struct{}, error) {
		return struct{}{}, work(ctx, tx)
	})
	return err
}

// runOnce runs a single attempt. The transaction is aborted before runOnce
// returns an error, so the next attempt never overlaps this one.
func runOnce[R any](ctx context.Context, logger *slog.Logger, transactor Transactor, work func(ctx context.Context, tx Tx) (R, error)) (result R, err error) {
	tx, err := transactor.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		p := recover()
		// Abort must run even when ctx is already cancelled.
		if abortErr := tx.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			logger.WarnContext(ctx, "abort transaction failed", "error", abortErr, "cause", err)
		}
		if p != nil {
			panic(p)
		}
	}()

	result, err = work(tx.Context(), tx)
	if err != nil {
		return result, err
	}

	if err = tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return result, nil
}

// wait sleeps for the next backoff delay unless ctx ends first.
func wait(ctx context.Context, delays backoff.BackOff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := delays.NextBackOff()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
