/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
)

// GSIConfig holds the configuration for GSI key mappings
type GSIConfig struct {
	// IndexName is the actual GSI name in DynamoDB (e.g., "GSI_email_1")
	IndexName string
	// PartitionKeyName is the attribute the GSI is partitioned on
	PartitionKeyName string
}

// GSIConfigFor returns the GSI an index declaration maps to. Only
// non-unique indexes on top-level attributes can be expressed as a GSI.
func GSIConfigFor(spec registry.IndexSpec) (GSIConfig, error) {
	if spec.Unique {
		return GSIConfig{}, errors.NewValidationError(spec.Field, "DynamoDB cannot enforce unique secondary indexes")
	}
	if spec.Field == "" || strings.Contains(spec.Field, ".") {
		return GSIConfig{}, errors.NewValidationError(spec.Field, "DynamoDB indexes must name a top-level attribute")
	}
	return GSIConfig{
		IndexName:        "GSI_" + spec.Name(),
		PartitionKeyName: spec.Field,
	}, nil
}

// GetGSIConfig returns the GSI partitioned on attribute of table, if one was
// ensured by this driver.
func (d *Driver) GetGSIConfig(table, attribute string) (GSIConfig, bool) {
	d.gsiMu.RLock()
	defer d.gsiMu.RUnlock()
	cfg, ok := d.gsis[table][attribute]
	return cfg, ok
}

func (d *Driver) rememberGSI(table string, cfg GSIConfig) {
	d.gsiMu.Lock()
	defer d.gsiMu.Unlock()
	if d.gsis[table] == nil {
		d.gsis[table] = map[string]GSIConfig{}
	}
	d.gsis[table][cfg.PartitionKeyName] = cfg
}

// EnsureIndex creates the table of database.collection if needed and a
// string-keyed GSI over spec.Field, then waits until the index is active.
func (d *Driver) EnsureIndex(ctx context.Context, database, collection string, spec registry.IndexSpec) error {
	cfg, err := GSIConfigFor(spec)
	if err != nil {
		return err
	}
	table := d.TableName(database, collection)
	if err := d.ensureTable(ctx, table); err != nil {
		return err
	}

	unlock := d.lockTable(table)
	defer unlock()

	status, err := d.indexStatus(ctx, table, cfg.IndexName)
	if err != nil {
		return err
	}
	if status == "" {
		_, err = d.client.UpdateTable(ctx, &sdk.UpdateTableInput{
			TableName: aws.String(table),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(cfg.PartitionKeyName), AttributeType: types.ScalarAttributeTypeS},
			},
			GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
				Create: &types.CreateGlobalSecondaryIndexAction{
					IndexName: aws.String(cfg.IndexName),
					KeySchema: []types.KeySchemaElement{
						{AttributeName: aws.String(cfg.PartitionKeyName), KeyType: types.KeyTypeHash},
					},
					Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
				},
			}},
		})
		if err != nil {
			return fmt.Errorf("create index %s on %s: %w", cfg.IndexName, table, err)
		}
		d.logger.InfoContext(ctx, "DynamoDB index creating", "table", table, "index", cfg.IndexName)
	}

	if status != types.IndexStatusActive {
		if err := d.waitForIndex(ctx, table, cfg.IndexName); err != nil {
			return err
		}
	}
	d.rememberGSI(table, cfg)
	return nil
}

// indexStatus returns the status of index on table, "" when it does not exist.
func (d *Driver) indexStatus(ctx context.Context, table, index string) (types.IndexStatus, error) {
	out, err := d.client.DescribeTable(ctx, &sdk.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return "", fmt.Errorf("describe table %s: %w", table, err)
	}
	if out.Table == nil {
		return "", nil
	}
	for _, gsi := range out.Table.GlobalSecondaryIndexes {
		if aws.ToString(gsi.IndexName) == index {
			return gsi.IndexStatus, nil
		}
	}
	return "", nil
}

func (d *Driver) waitForIndex(ctx context.Context, table, index string) error {
	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = 500 * time.Millisecond
	delays.MaxInterval = 10 * time.Second
	delays.MaxElapsedTime = tableWaitTimeout

	return backoff.Retry(func() error {
		status, err := d.indexStatus(ctx, table, index)
		if err != nil {
			if isRetryableError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if status != types.IndexStatusActive {
			return fmt.Errorf("index %s on %s is %s", index, table, status)
		}
		return nil
	}, backoff.WithContext(delays, ctx))
}
