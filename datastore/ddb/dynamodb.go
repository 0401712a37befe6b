/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
)

// KeyAttribute is the partition key of every table; it holds the rendered
// document id. Filters on "_id" are translated to it.
const KeyAttribute = "PK"

// Cancellation reason codes DynamoDB reports for transactions that may succeed
// when retried.
const (
	reasonTransactionConflict   = "TransactionConflict"
	reasonThrottling            = "ThrottlingError"
	reasonProvisionedThroughput = "ProvisionedThroughputExceeded"
	reasonConditionalCheck      = "ConditionalCheckFailed"
)

const tableWaitTimeout = 2 * time.Minute

// ClientConfig holds what NewDynamoDBClient needs. Empty keys fall back to
// the default AWS credential chain.
type ClientConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string
}

// NewDynamoDBClient initializes a DynamoDB client using AWS credentials.
func NewDynamoDBClient(ctx context.Context, cc ClientConfig) (*sdk.Client, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cc.Region)}
	if cc.AccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cc.AccessKey, cc.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := sdk.NewFromConfig(cfg, func(o *sdk.Options) {
		if cc.Endpoint != "" {
			o.BaseEndpoint = aws.String(cc.Endpoint)
		}
	})
	return client, nil
}

// API is the part of the DynamoDB client the driver uses.
type API interface {
	sdk.DescribeTableAPIClient
	CreateTable(ctx context.Context, in *sdk.CreateTableInput, optFns ...func(*sdk.Options)) (*sdk.CreateTableOutput, error)
	UpdateTable(ctx context.Context, in *sdk.UpdateTableInput, optFns ...func(*sdk.Options)) (*sdk.UpdateTableOutput, error)
	ListTables(ctx context.Context, in *sdk.ListTablesInput, optFns ...func(*sdk.Options)) (*sdk.ListTablesOutput, error)
	GetItem(ctx context.Context, in *sdk.GetItemInput, optFns ...func(*sdk.Options)) (*sdk.GetItemOutput, error)
	PutItem(ctx context.Context, in *sdk.PutItemInput, optFns ...func(*sdk.Options)) (*sdk.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *sdk.DeleteItemInput, optFns ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error)
	Scan(ctx context.Context, in *sdk.ScanInput, optFns ...func(*sdk.Options)) (*sdk.ScanOutput, error)
	Query(ctx context.Context, in *sdk.QueryInput, optFns ...func(*sdk.Options)) (*sdk.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *sdk.TransactWriteItemsInput, optFns ...func(*sdk.Options)) (*sdk.TransactWriteItemsOutput, error)
}

// Driver stores documents in DynamoDB, one table per database and
// collection. Tables and indexes are created on demand.
type Driver struct {
	client      API
	tablePrefix string
	pageSize    int32
	logger      *slog.Logger

	tables     sync.Map // table name -> struct{}
	tableLocks sync.Map // table name -> *sync.Mutex
	gsiMu      sync.RWMutex
	gsis       map[string]map[string]GSIConfig // table -> attribute -> index
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

// WithTablePrefix prefixes every table name.
func WithTablePrefix(prefix string) Option {
	return func(d *Driver) {
		d.tablePrefix = prefix
	}
}

// WithPageSize sets how many items a Scan or Query page returns.
func WithPageSize(size int32) Option {
	return func(d *Driver) {
		if size > 0 {
			d.pageSize = size
		}
	}
}

// New wraps a DynamoDB client.
func New(client API, opts ...Option) *Driver {
	d := &Driver{
		client:   client,
		pageSize: 100,
		logger:   slog.Default(),
		gsis:     map[string]map[string]GSIConfig{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect builds a client from cc and verifies it can reach the service.
func Connect(ctx context.Context, cc ClientConfig, opts ...Option) (*Driver, error) {
	client, err := NewDynamoDBClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB client: %w", err)
	}
	d := New(client, opts...)
	if err := d.Ping(ctx); err != nil {
		return nil, err
	}
	d.logger.InfoContext(ctx, "DynamoDB client initialized", "region", cc.Region, "tablePrefix", d.tablePrefix)
	return d, nil
}

var _ datastore.Driver = (*Driver)(nil)

func (d *Driver) Name() string { return "dynamodb" }

func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.client.ListTables(ctx, &sdk.ListTablesInput{Limit: aws.Int32(1)}); err != nil {
		return fmt.Errorf("failed to reach DynamoDB: %w", err)
	}
	return nil
}

func (d *Driver) Close(context.Context) error { return nil }

// TableName is the table backing database.collection.
func (d *Driver) TableName(database, collection string) string {
	return d.tablePrefix + database + "." + collection
}

// Collection opens the collection at loc. The table is created on first use.
func (d *Driver) Collection(loc registry.Location) (datastore.Collection, error) {
	if loc.Mapping == nil {
		return nil, errors.NewValidationError("location", "location has no mapping")
	}
	return &collection{
		d:       d,
		table:   d.TableName(loc.Database, loc.Collection),
		mapping: loc.Mapping,
	}, nil
}

// IsTransient reports transaction conflicts, throttling and errors the SDK
// marks retryable.
func (d *Driver) IsTransient(err error) bool {
	return IsTransient(err)
}

// IsTransient is the classifier behind Driver.IsTransient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var canceled *types.TransactionCanceledException
	if stderrors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case reasonTransactionConflict, reasonThrottling, reasonProvisionedThroughput:
				return true
			}
		}
		return false
	}
	var conflict *types.TransactionConflictException
	if stderrors.As(err, &conflict) {
		return true
	}
	var inProgress *types.TransactionInProgressException
	if stderrors.As(err, &inProgress) {
		return true
	}
	return isRetryableError(err)
}

// isRetryableError determines if a DynamoDB error is retryable
func isRetryableError(err error) bool {
	var throughput *types.ProvisionedThroughputExceededException
	var limit *types.RequestLimitExceeded
	var internal *types.InternalServerError
	switch {
	case stderrors.As(err, &throughput), stderrors.As(err, &limit), stderrors.As(err, &internal):
		return true
	}

	var retryable interface{ IsRetryable() bool }
	if stderrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}

// ensureTable creates table with a string partition key unless it exists,
// and waits for it to become active.
func (d *Driver) ensureTable(ctx context.Context, table string) error {
	if _, ok := d.tables.Load(table); ok {
		return nil
	}
	unlock := d.lockTable(table)
	defer unlock()
	if _, ok := d.tables.Load(table); ok {
		return nil
	}

	_, err := d.client.DescribeTable(ctx, &sdk.DescribeTableInput{TableName: aws.String(table)})
	var missing *types.ResourceNotFoundException
	switch {
	case err == nil:
		d.tables.Store(table, struct{}{})
		return nil
	case !stderrors.As(err, &missing):
		return fmt.Errorf("describe table %s: %w", table, err)
	}

	_, err = d.client.CreateTable(ctx, &sdk.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(KeyAttribute), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(KeyAttribute), KeyType: types.KeyTypeHash},
		},
	})
	var inUse *types.ResourceInUseException
	if err != nil && !stderrors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	waiter := sdk.NewTableExistsWaiter(d.client)
	if err := waiter.Wait(ctx, &sdk.DescribeTableInput{TableName: aws.String(table)}, tableWaitTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", table, err)
	}
	d.tables.Store(table, struct{}{})
	d.logger.InfoContext(ctx, "DynamoDB table created", "table", table)
	return nil
}

// lockTable serializes schema changes of one table; DynamoDB rejects
// concurrent updates to the same table.
func (d *Driver) lockTable(table string) func() {
	m, _ := d.tableLocks.LoadOrStore(table, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
