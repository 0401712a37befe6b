/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"context"
	"fmt"
	"strings"

	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/datastore/ddb"
	"github.com/suparena/entityrepo/datastore/memory"
	"github.com/suparena/entityrepo/datastore/mongodb"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/metrics"
	"github.com/suparena/entityrepo/registry"
)

// OpenDriver connects the backend selected by s.
func OpenDriver(ctx context.Context, s config.Settings) (datastore.Driver, error) {
	logger := s.Logger()
	switch strings.ToLower(s.Backend) {
	case config.BackendMemory:
		return memory.New(memory.WithLogger(logger)), nil
	case config.BackendMongoDB:
		d, err := mongodb.Connect(ctx, s.MongoURI, mongodb.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.BackendDynamoDB:
		d, err := ddb.Connect(ctx, ddb.ClientConfig{
			Region:    s.AWS.Region,
			AccessKey: s.AWS.AccessKey,
			SecretKey: s.AWS.SecretKey,
			Endpoint:  s.AWS.Endpoint,
		}, ddb.WithLogger(logger), ddb.WithTablePrefix(s.AWS.TablePrefix))
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, errors.NewValidationError("backend", fmt.Sprintf("unknown backend %q", s.Backend))
}

// Open connects the configured backend, builds a registry from the mappings
// declare adds, creating their indexes, and returns a client over both. m may
// be nil.
func Open(ctx context.Context, s config.Settings, m *metrics.Metrics, declare func(*registry.Builder) error) (*Client, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	style, err := s.Style()
	if err != nil {
		return nil, err
	}
	logger := s.Logger()

	driver, err := OpenDriver(ctx, s)
	if err != nil {
		return nil, err
	}

	b := registry.NewBuilder(
		registry.WithLogger(logger),
		registry.WithMetrics(m),
		registry.WithLockTimeout(s.LockTimeout),
	)
	if declare != nil {
		if err := declare(b); err != nil {
			_ = driver.Close(ctx)
			return nil, fmt.Errorf("declare mappings: %w", err)
		}
	}
	reg, err := b.Build(ctx, driver)
	if err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("build registry: %w", err)
	}

	return NewClient(driver, reg,
		WithLogger(logger),
		WithMetrics(m),
		WithDefaultStyle(style),
		WithMaxRetries(s.Transactions.MaxRetries),
		WithRetryBackoff(s.Transactions.BackoffInitial, s.Transactions.BackoffMax),
	)
}
