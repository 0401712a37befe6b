/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"context"
	"log/slog"
	"time"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/metrics"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/txn"
)

// DefaultMaxRetries is the number of retries a transaction gets when neither
// the client nor the call sets one.
const DefaultMaxRetries = 3

// Client ties a driver to a frozen registry and the transaction runner. It is
// safe for concurrent use.
type Client struct {
	driver   datastore.Driver
	registry *registry.Registry
	runner   *txn.Runner
	logger   *slog.Logger

	style      txn.Style
	maxRetries int
	repos      *repositories
}

type clientOptions struct {
	logger         *slog.Logger
	metrics        *metrics.Metrics
	style          txn.Style
	maxRetries     int
	backoffInitial time.Duration
	backoffMax     time.Duration
}

// Option configures a Client.
type Option func(*clientOptions)

// WithLogger sets the logger of the client and its runner.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records transaction attempts and outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithDefaultStyle sets the style of transactions started without WithStyle.
func WithDefaultStyle(style txn.Style) Option {
	return func(o *clientOptions) { o.style = style }
}

// WithMaxRetries sets the retries of transactions started without WithRetries.
func WithMaxRetries(n int) Option {
	return func(o *clientOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithRetryBackoff waits between transaction attempts, starting at initial
// and growing up to max.
func WithRetryBackoff(initial, max time.Duration) Option {
	return func(o *clientOptions) {
		o.backoffInitial = initial
		o.backoffMax = max
	}
}

// NewClient returns a client storing the mappings of reg through driver.
func NewClient(driver datastore.Driver, reg *registry.Registry, opts ...Option) (*Client, error) {
	if driver == nil {
		return nil, errors.NewValidationError("driver", "driver is required")
	}
	if reg == nil {
		return nil, errors.ErrRegistryNotReady
	}

	o := clientOptions{
		logger:     slog.Default(),
		style:      txn.AmbientScope,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&o)
	}

	runnerOpts := []txn.Option{txn.WithLogger(o.logger), txn.WithMetrics(o.metrics)}
	if o.backoffInitial > 0 {
		runnerOpts = append(runnerOpts, txn.WithBackoff(o.backoffInitial, o.backoffMax))
	}

	return &Client{
		driver:     driver,
		registry:   reg,
		runner:     txn.New(driver.Transactors(), driver.IsTransient, runnerOpts...),
		logger:     o.logger.With("driver", driver.Name()),
		style:      o.style,
		maxRetries: o.maxRetries,
		repos:      newRepositories(),
	}, nil
}

func (c *Client) Driver() datastore.Driver { return c.driver }

func (c *Client) Registry() *registry.Registry { return c.registry }

func (c *Client) Runner() *txn.Runner { return c.runner }

func (c *Client) Ping(ctx context.Context) error { return c.driver.Ping(ctx) }

// Close closes the driver. Repositories of the client must not be used
// afterwards.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// ProvisionTenant creates the indexes of the per-tenant databases of tenant.
func (c *Client) ProvisionTenant(ctx context.Context, tenant string) error {
	return c.registry.ProvisionTenant(ctx, c.driver, tenant)
}

// TxOption overrides the client defaults for one transaction.
type TxOption func(*txSettings)

type txSettings struct {
	style      txn.Style
	maxRetries int
}

// WithStyle selects the enlistment style of the transaction.
func WithStyle(style txn.Style) TxOption {
	return func(s *txSettings) { s.style = style }
}

// WithRetries sets how many times a transiently failed transaction is retried.
func WithRetries(n int) TxOption {
	return func(s *txSettings) { s.maxRetries = n }
}

func (c *Client) txSettings(opts []TxOption) txSettings {
	s := txSettings{style: c.style, maxRetries: c.maxRetries}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithTransaction runs work in a transaction, retrying it from scratch on
// transient failures. See txn.Run for the retry contract.
func (c *Client) WithTransaction(ctx context.Context, work func(ctx context.Context, tx txn.Tx) error, opts ...TxOption) error {
	s := c.txSettings(opts)
	return txn.RunInTransaction(ctx, c.runner, s.style, s.maxRetries, work)
}

// Transact is WithTransaction for work that produces a result.
func Transact[R any](ctx context.Context, c *Client, work func(ctx context.Context, tx txn.Tx) (R, error), opts ...TxOption) (R, error) {
	s := c.txSettings(opts)
	return txn.Run(ctx, c.runner, s.style, s.maxRetries, work)
}
