/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
	"github.com/suparena/entityrepo/storagemodels"
)

var comparators = map[storagemodels.Op]string{
	storagemodels.OpEq:  "=",
	storagemodels.OpNe:  "<>",
	storagemodels.OpGt:  ">",
	storagemodels.OpGte: ">=",
	storagemodels.OpLt:  "<",
	storagemodels.OpLte: "<=",
}

type condition struct {
	field string
	op    storagemodels.Op
	want  types.AttributeValue
	set   []types.AttributeValue
}

// compile validates filter and marshals its values the way items are marshaled.
func compile(filter storagemodels.Filter) ([]condition, error) {
	if err := filter.Validate(); err != nil {
		return nil, errors.NewValidationError("filter", err.Error())
	}
	out := make([]condition, 0, len(filter))
	for _, c := range filter {
		cond := condition{field: attributeName(c.Field), op: c.Op}
		if c.Op == storagemodels.OpIn {
			for _, v := range c.Value.([]any) {
				av, err := marshalValue(c.Field, v)
				if err != nil {
					return nil, err
				}
				cond.set = append(cond.set, av)
			}
		} else {
			av, err := marshalValue(c.Field, c.Value)
			if err != nil {
				return nil, err
			}
			cond.want = av
		}
		out = append(out, cond)
	}
	return out, nil
}

func marshalValue(field string, v any) (types.AttributeValue, error) {
	if field == datastore.IDElement {
		return &types.AttributeValueMemberS{Value: registry.IDString(v)}, nil
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return nil, errors.NewValidationError("filter", fmt.Sprintf("unsupported value %T: %v", v, err))
	}
	return av, nil
}

// expression accumulates placeholders for one request.
type expression struct {
	names  map[string]string
	values map[string]types.AttributeValue
	next   int
}

func newExpression() *expression {
	return &expression{names: map[string]string{}, values: map[string]types.AttributeValue{}}
}

// path renders a dotted attribute path with name placeholders.
func (e *expression) path(field string) string {
	parts := strings.Split(field, ".")
	for i, part := range parts {
		placeholder := fmt.Sprintf("#f%d", e.next)
		e.next++
		e.names[placeholder] = part
		parts[i] = placeholder
	}
	return strings.Join(parts, ".")
}

func (e *expression) value(av types.AttributeValue) string {
	placeholder := fmt.Sprintf(":v%d", e.next)
	e.next++
	e.values[placeholder] = av
	return placeholder
}

// clause renders one condition. Equality with null and inequality also
// match a missing attribute.
func (e *expression) clause(c condition) string {
	p := e.path(c.field)
	if c.op == storagemodels.OpIn {
		if len(c.set) == 0 {
			return fmt.Sprintf("(attribute_exists(%s) AND attribute_not_exists(%s))", p, p)
		}
		placeholders := make([]string, len(c.set))
		for i, av := range c.set {
			placeholders[i] = e.value(av)
		}
		return fmt.Sprintf("%s IN (%s)", p, strings.Join(placeholders, ", "))
	}
	if _, null := c.want.(*types.AttributeValueMemberNULL); null && c.op == storagemodels.OpEq {
		return fmt.Sprintf("(attribute_not_exists(%s) OR attribute_type(%s, %s))",
			p, p, e.value(&types.AttributeValueMemberS{Value: "NULL"}))
	}
	if c.op == storagemodels.OpNe {
		return fmt.Sprintf("(attribute_not_exists(%s) OR %s <> %s)", p, p, e.value(c.want))
	}
	return fmt.Sprintf("%s %s %s", p, comparators[c.op], e.value(c.want))
}

// condition renders conds joined with AND, or nil when there are none.
func (e *expression) condition(conds []condition) *string {
	if len(conds) == 0 {
		return nil
	}
	clauses := make([]string, len(conds))
	for i, c := range conds {
		clauses[i] = e.clause(c)
	}
	return aws.String(strings.Join(clauses, " AND "))
}

func (e *expression) attributeNames() map[string]string {
	if len(e.names) == 0 {
		return nil
	}
	return e.names
}

func (e *expression) attributeValues() map[string]types.AttributeValue {
	if len(e.values) == 0 {
		return nil
	}
	return e.values
}

// plan is a Scan, or a Query when an equality condition hits a known GSI.
type plan struct {
	scan  *sdk.ScanInput
	query *sdk.QueryInput
}

func (d *Driver) plan(table string, conds []condition, selectCount bool) plan {
	for i, c := range conds {
		if c.op != storagemodels.OpEq {
			continue
		}
		if _, ok := c.want.(*types.AttributeValueMemberS); !ok {
			continue
		}
		gsi, ok := d.GetGSIConfig(table, c.field)
		if !ok {
			continue
		}
		rest := make([]condition, 0, len(conds)-1)
		rest = append(rest, conds[:i]...)
		rest = append(rest, conds[i+1:]...)

		e := newExpression()
		keyCond := fmt.Sprintf("%s = %s", e.path(c.field), e.value(c.want))
		in := &sdk.QueryInput{
			TableName:              aws.String(table),
			IndexName:              aws.String(gsi.IndexName),
			KeyConditionExpression: aws.String(keyCond),
			FilterExpression:       e.condition(rest),
			Limit:                  aws.Int32(d.pageSize),
		}
		in.ExpressionAttributeNames = e.attributeNames()
		in.ExpressionAttributeValues = e.attributeValues()
		if selectCount {
			in.Select = types.SelectCount
		}
		return plan{query: in}
	}

	e := newExpression()
	in := &sdk.ScanInput{
		TableName:        aws.String(table),
		FilterExpression: e.condition(conds),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(d.pageSize),
	}
	in.ExpressionAttributeNames = e.attributeNames()
	in.ExpressionAttributeValues = e.attributeValues()
	if selectCount {
		in.Select = types.SelectCount
	}
	return plan{scan: in}
}

// matches evaluates conds against an item held locally.
func matches(it item, conds []condition) bool {
	for _, c := range conds {
		got, ok := lookup(it, c.field)
		switch c.op {
		case storagemodels.OpEq:
			if _, null := c.want.(*types.AttributeValueMemberNULL); null && !ok {
				continue
			}
			if !ok || !equal(got, c.want) {
				return false
			}
		case storagemodels.OpNe:
			if ok && equal(got, c.want) {
				return false
			}
		case storagemodels.OpIn:
			found := false
			for _, want := range c.set {
				if ok && equal(got, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if !ok {
				return false
			}
			n, comparable := compareValues(got, c.want)
			if !comparable {
				return false
			}
			switch c.op {
			case storagemodels.OpGt:
				ok = n > 0
			case storagemodels.OpGte:
				ok = n >= 0
			case storagemodels.OpLt:
				ok = n < 0
			case storagemodels.OpLte:
				ok = n <= 0
			}
			if !ok {
				return false
			}
		}
	}
	return true
}

func equal(a, b types.AttributeValue) bool {
	if n, ok := compareValues(a, b); ok {
		return n == 0
	}
	return false
}

// order sorts, skips and limits items. Missing or incomparable values sort first.
func order(items []item, opts storagemodels.FindOptions) []item {
	if len(opts.Sort) > 0 {
		sort.SliceStable(items, func(i, j int) bool {
			for _, s := range opts.Sort {
				a, aok := lookup(items[i], s.Field)
				b, bok := lookup(items[j], s.Field)
				var n int
				switch {
				case !aok && !bok:
					n = 0
				case !aok:
					n = -1
				case !bok:
					n = 1
				default:
					n, _ = compareValues(a, b)
				}
				if n == 0 {
					continue
				}
				if s.Descending {
					return n > 0
				}
				return n < 0
			}
			return false
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(items)) {
			return nil
		}
		items = items[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(items)) {
		items = items[:opts.Limit]
	}
	return items
}
