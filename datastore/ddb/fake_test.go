/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeAPI keeps tables in memory. Scan and Query ignore filter expressions;
// Query returns the items whose GSI attribute equals the key condition value.
type fakeAPI struct {
	mu       sync.Mutex
	tables   map[string]map[string]item
	gsis     map[string][]types.GlobalSecondaryIndexDescription
	failNext map[string][]error
	calls    map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		tables:   map[string]map[string]item{},
		gsis:     map[string][]types.GlobalSecondaryIndexDescription{},
		calls:    map[string]int{},
		failNext: map[string][]error{},
	}
}

func (f *fakeAPI) record(op string) error {
	f.calls[op]++
	if errs := f.failNext[op]; len(errs) > 0 {
		f.failNext[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, in *sdk.DescribeTableInput, _ ...func(*sdk.Options)) (*sdk.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DescribeTable"]++
	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	return &sdk.DescribeTableOutput{Table: &types.TableDescription{
		TableName:              in.TableName,
		TableStatus:            types.TableStatusActive,
		GlobalSecondaryIndexes: f.gsis[name],
	}}, nil
}

func (f *fakeAPI) CreateTable(_ context.Context, in *sdk.CreateTableInput, _ ...func(*sdk.Options)) (*sdk.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateTable"); err != nil {
		return nil, err
	}
	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	f.tables[name] = map[string]item{}
	return &sdk.CreateTableOutput{}, nil
}

func (f *fakeAPI) UpdateTable(_ context.Context, in *sdk.UpdateTableInput, _ ...func(*sdk.Options)) (*sdk.UpdateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateTable"); err != nil {
		return nil, err
	}
	name := aws.ToString(in.TableName)
	for _, u := range in.GlobalSecondaryIndexUpdates {
		if u.Create == nil {
			continue
		}
		f.gsis[name] = append(f.gsis[name], types.GlobalSecondaryIndexDescription{
			IndexName:   u.Create.IndexName,
			KeySchema:   u.Create.KeySchema,
			IndexStatus: types.IndexStatusActive,
		})
	}
	return &sdk.UpdateTableOutput{}, nil
}

func (f *fakeAPI) ListTables(context.Context, *sdk.ListTablesInput, ...func(*sdk.Options)) (*sdk.ListTablesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListTables"); err != nil {
		return nil, err
	}
	return &sdk.ListTablesOutput{}, nil
}

func (f *fakeAPI) GetItem(_ context.Context, in *sdk.GetItemInput, _ ...func(*sdk.Options)) (*sdk.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetItem"); err != nil {
		return nil, err
	}
	return &sdk.GetItemOutput{Item: f.tables[aws.ToString(in.TableName)][itemKeyString(in.Key)]}, nil
}

// check evaluates the two key conditions the driver writes.
func (f *fakeAPI) check(table, key string, condition *string) bool {
	_, exists := f.tables[table][key]
	switch aws.ToString(condition) {
	case "attribute_not_exists(#pk)":
		return !exists
	case "attribute_exists(#pk)":
		return exists
	}
	return true
}

func (f *fakeAPI) PutItem(_ context.Context, in *sdk.PutItemInput, _ ...func(*sdk.Options)) (*sdk.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PutItem"); err != nil {
		return nil, err
	}
	table, key := aws.ToString(in.TableName), itemKeyString(in.Item)
	if !f.check(table, key, in.ConditionExpression) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	f.tables[table][key] = in.Item
	return &sdk.PutItemOutput{}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *sdk.DeleteItemInput, _ ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteItem"); err != nil {
		return nil, err
	}
	table, key := aws.ToString(in.TableName), itemKeyString(in.Key)
	if !f.check(table, key, in.ConditionExpression) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	delete(f.tables[table], key)
	return &sdk.DeleteItemOutput{}, nil
}

// pageOf returns items sorted by key, starting after startKey.
func pageOf(items []item, startKey item, limit *int32) ([]item, item) {
	sort.Slice(items, func(i, j int) bool { return itemKeyString(items[i]) < itemKeyString(items[j]) })
	if startKey != nil {
		after := itemKeyString(startKey)
		i := sort.Search(len(items), func(i int) bool { return itemKeyString(items[i]) > after })
		items = items[i:]
	}
	if limit != nil && int(*limit) < len(items) {
		items = items[:*limit]
		return items, keyOf(itemKeyString(items[len(items)-1]))
	}
	return items, nil
}

func (f *fakeAPI) Scan(_ context.Context, in *sdk.ScanInput, _ ...func(*sdk.Options)) (*sdk.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Scan"); err != nil {
		return nil, err
	}
	var all []item
	for _, it := range f.tables[aws.ToString(in.TableName)] {
		all = append(all, it)
	}
	items, last := pageOf(all, in.ExclusiveStartKey, in.Limit)
	out := &sdk.ScanOutput{Count: int32(len(items)), LastEvaluatedKey: last}
	if in.Select != types.SelectCount {
		out.Items = items
	}
	return out, nil
}

func (f *fakeAPI) Query(_ context.Context, in *sdk.QueryInput, _ ...func(*sdk.Options)) (*sdk.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Query"); err != nil {
		return nil, err
	}
	// Key condition is "#fN = :vM".
	lhs, rhs, _ := strings.Cut(aws.ToString(in.KeyConditionExpression), " = ")
	attr, want := in.ExpressionAttributeNames[lhs], in.ExpressionAttributeValues[rhs]

	var all []item
	for _, it := range f.tables[aws.ToString(in.TableName)] {
		if got, ok := it[attr]; ok && equal(got, want) {
			all = append(all, it)
		}
	}
	items, last := pageOf(all, in.ExclusiveStartKey, in.Limit)
	out := &sdk.QueryOutput{Count: int32(len(items)), LastEvaluatedKey: last}
	if in.Select != types.SelectCount {
		out.Items = items
	}
	return out, nil
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *sdk.TransactWriteItemsInput, _ ...func(*sdk.Options)) (*sdk.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i].Code = aws.String("None")
		var ok bool
		switch {
		case ti.Put != nil:
			ok = f.check(aws.ToString(ti.Put.TableName), itemKeyString(ti.Put.Item), ti.Put.ConditionExpression)
		case ti.Delete != nil:
			ok = f.check(aws.ToString(ti.Delete.TableName), itemKeyString(ti.Delete.Key), ti.Delete.ConditionExpression)
		}
		if !ok {
			reasons[i].Code = aws.String(reasonConditionalCheck)
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.tables[aws.ToString(ti.Put.TableName)][itemKeyString(ti.Put.Item)] = ti.Put.Item
		case ti.Delete != nil:
			delete(f.tables[aws.ToString(ti.Delete.TableName)], itemKeyString(ti.Delete.Key))
		}
	}
	return &sdk.TransactWriteItemsOutput{}, nil
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// failWith makes the next calls of op fail with errs in order.
func (f *fakeAPI) failWith(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = append(f.failNext[op], errs...)
}

func (f *fakeAPI) size(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}
