/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mongodb

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
)

// Error labels and codes the server attaches to retryable transaction failures.
const (
	labelTransientTransaction   = "TransientTransactionError"
	labelUnknownCommitResult    = "UnknownTransactionCommitResult"
	codeWriteConflict           = 112
	codeNoSuchTransaction       = 251
	codeExceededTimeLimit       = 262
	codeLockTimeout             = 24
	codeInterruptedAtShutdown   = 11600
	codeInterruptedDueToReplChg = 11602
)

// Driver stores documents in MongoDB. Transactions need a replica set or a
// sharded cluster.
type Driver struct {
	client  *mongo.Client
	txnOpts *options.TransactionOptions
	logger  *slog.Logger
	owned   bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTransactionOptions replaces the default snapshot read concern and
// majority write concern of transactions.
func WithTransactionOptions(opts *options.TransactionOptions) Option {
	return func(d *Driver) {
		if opts != nil {
			d.txnOpts = opts
		}
	}
}

// New wraps an already connected client. Close leaves the client connected.
func New(client *mongo.Client, opts ...Option) *Driver {
	d := &Driver{
		client: client,
		txnOpts: options.Transaction().
			SetReadConcern(readconcern.Snapshot()).
			SetWriteConcern(writeconcern.Majority()),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect dials uri, verifies the connection and returns a Driver that
// disconnects on Close.
func Connect(ctx context.Context, uri string, opts ...Option) (*Driver, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	d := New(client, opts...)
	d.owned = true

	if err := d.Ping(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	d.logger.InfoContext(ctx, "MongoDB client initialized")
	return d, nil
}

var _ datastore.Driver = (*Driver)(nil)

func (d *Driver) Name() string { return "mongodb" }

// Client returns the underlying client.
func (d *Driver) Client() *mongo.Client { return d.client }

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	if !d.owned {
		return nil
	}
	return d.client.Disconnect(ctx)
}

// IsTransient reports failures the server marks retryable, write conflicts
// and network errors.
func (d *Driver) IsTransient(err error) bool {
	return IsTransient(err)
}

// IsTransient is the classifier behind Driver.IsTransient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var labeled mongo.LabeledError
	if stderrors.As(err, &labeled) &&
		(labeled.HasErrorLabel(labelTransientTransaction) || labeled.HasErrorLabel(labelUnknownCommitResult)) {
		return true
	}
	var server mongo.ServerError
	if stderrors.As(err, &server) {
		for _, code := range []int{
			codeWriteConflict, codeNoSuchTransaction, codeExceededTimeLimit,
			codeLockTimeout, codeInterruptedAtShutdown, codeInterruptedDueToReplChg,
		} {
			if server.HasErrorCode(code) {
				return true
			}
		}
	}
	return mongo.IsNetworkError(err)
}

// EnsureIndex creates an ascending index named spec.Name().
func (d *Driver) EnsureIndex(ctx context.Context, database, collection string, spec registry.IndexSpec) error {
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: spec.Field, Value: 1}},
		Options: options.Index().SetName(spec.Name()).SetUnique(spec.Unique),
	}
	if _, err := d.client.Database(database).Collection(collection).Indexes().CreateOne(ctx, model); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("create index %s: %w", spec.Name(), errors.NewAlreadyExistsError(collection, spec.Field))
		}
		return fmt.Errorf("create index %s: %w", spec.Name(), err)
	}
	return nil
}

// Collection opens the collection at loc.
func (d *Driver) Collection(loc registry.Location) (datastore.Collection, error) {
	if loc.Mapping == nil {
		return nil, errors.NewValidationError("location", "location has no mapping")
	}
	return &collection{
		coll:    d.client.Database(loc.Database).Collection(loc.Collection),
		mapping: loc.Mapping,
	}, nil
}
